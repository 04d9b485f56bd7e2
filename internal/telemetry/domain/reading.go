package telemetry

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicate is returned when a reading with the same client id and
// timestamp already exists. Duplicates are dropped, not updated.
var ErrDuplicate = errors.New("telemetry: duplicate reading")

// Reading is one immutable sample from a field device. Register
// pointers are nil when the payload omitted the register.
type Reading struct {
	ID       string
	DeviceID string
	ClientID string
	// Timestamp is the device-reported sample time (Utime), UTC.
	Timestamp time.Time

	DifferentialPressure *float64 // T10
	StaticPressure       *float64 // T11
	Temperature          *float64 // T12
	FlowRate             *float64 // T13
	Volume               *float64 // T14
	Battery              *float64 // T15
	MaxStaticPressure    *float64 // T16
	MinStaticPressure    *float64 // T17

	// Extras holds analytics registers outside the fixed map.
	Extras map[string]float64

	CreatedAt time.Time
}

// Validate checks reading invariants.
func (r Reading) Validate() error {
	if r.ID == "" {
		return errors.New("reading: empty id")
	}
	if r.ClientID == "" {
		return errors.New("reading: empty client id")
	}
	if r.Timestamp.IsZero() {
		return errors.New("reading: zero timestamp")
	}
	return nil
}

// Parameters flattens the reading into register code to value pairs
// for alarm evaluation. Extras are included.
func (r Reading) Parameters() map[string]float64 {
	params := make(map[string]float64, 8+len(r.Extras))
	for code, field := range map[string]*float64{
		RegisterDifferentialPressure: r.DifferentialPressure,
		RegisterStaticPressure:       r.StaticPressure,
		RegisterTemperature:          r.Temperature,
		RegisterFlowRate:             r.FlowRate,
		RegisterVolume:               r.Volume,
		RegisterBattery:              r.Battery,
		RegisterMaxStaticPressure:    r.MaxStaticPressure,
		RegisterMinStaticPressure:    r.MinStaticPressure,
	} {
		if field != nil {
			params[code] = *field
		}
	}
	for code, value := range r.Extras {
		params[code] = value
	}
	return params
}

// SetRegister assigns a register value by code. Unknown codes land in
// Extras so new firmware registers survive ingest unmodified.
func (r *Reading) SetRegister(code string, value float64) {
	switch code {
	case RegisterDifferentialPressure:
		r.DifferentialPressure = &value
	case RegisterStaticPressure:
		r.StaticPressure = &value
	case RegisterTemperature:
		r.Temperature = &value
	case RegisterFlowRate:
		r.FlowRate = &value
	case RegisterVolume:
		r.Volume = &value
	case RegisterBattery:
		r.Battery = &value
	case RegisterMaxStaticPressure:
		r.MaxStaticPressure = &value
	case RegisterMinStaticPressure:
		r.MinStaticPressure = &value
	default:
		if r.Extras == nil {
			r.Extras = make(map[string]float64)
		}
		r.Extras[code] = value
	}
}

// Repository persists readings.
type Repository interface {
	// Insert stores a reading. ErrDuplicate when a reading with the
	// same client id and timestamp already exists.
	Insert(ctx context.Context, reading *Reading) error
	Latest(ctx context.Context, deviceID string) (*Reading, error)
	ListRecent(ctx context.Context, deviceID string, limit int) ([]Reading, error)
	ListRange(ctx context.Context, deviceID string, from, to time.Time) ([]Reading, error)
}
