package alarms

import (
	"context"
	"errors"
	"time"

	thresholds "gasgrid-cloud/internal/thresholds/domain"
)

// Alarm is one threshold breach raised for a device parameter. It
// stays open until acknowledged; severity changes open a new alarm
// instead of mutating this one.
type Alarm struct {
	ID           string              `json:"id"`
	DeviceID     string              `json:"device_id"`
	ClientID     string              `json:"client_id"`
	Parameter    string              `json:"parameter"`
	Severity     thresholds.Severity `json:"severity"`
	Value        float64             `json:"value"`
	LastValue    float64             `json:"last_value"`
	BandMin      float64             `json:"band_min"`
	BandMax      float64             `json:"band_max"`
	Acknowledged bool                `json:"acknowledged"`
	AckedBy      string              `json:"acked_by,omitempty"`
	AckedAt      time.Time           `json:"acked_at,omitempty"`
	TriggeredAt  time.Time           `json:"triggered_at"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// Validate checks alarm invariants.
func (a Alarm) Validate() error {
	if a.ID == "" {
		return errors.New("alarm: empty id")
	}
	if a.DeviceID == "" {
		return errors.New("alarm: empty device id")
	}
	if a.Parameter == "" {
		return errors.New("alarm: empty parameter")
	}
	if !a.Severity.Valid() {
		return errors.New("alarm: invalid severity")
	}
	return nil
}

// Filter narrows alarm listings and bulk deletes. Zero values mean
// no constraint.
type Filter struct {
	DeviceID     string
	Parameter    string
	Severity     thresholds.Severity
	Acknowledged *bool
	From         time.Time
	To           time.Time
	Limit        int
}

// Stats summarizes the current alarm population.
type Stats struct {
	Total          int                         `json:"total"`
	Unacknowledged int                         `json:"unacknowledged"`
	BySeverity     map[thresholds.Severity]int `json:"by_severity"`
}

// Repository manages alarm persistence.
type Repository interface {
	Create(ctx context.Context, alarm *Alarm) error
	GetByID(ctx context.Context, id string) (*Alarm, error)
	// FindOpenByDeviceParameter returns the newest unacknowledged
	// alarm for the pair, nil when none is open.
	FindOpenByDeviceParameter(ctx context.Context, deviceID, parameter string) (*Alarm, error)
	UpdateLastValue(ctx context.Context, id string, value float64, updatedAt time.Time) error
	MarkAcknowledged(ctx context.Context, id, ackedBy string, ackedAt time.Time) error
	Delete(ctx context.Context, id string) error
	DeleteByFilter(ctx context.Context, filter Filter) (int64, error)
	DeleteAcknowledgedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	List(ctx context.Context, filter Filter) ([]Alarm, error)
	Stats(ctx context.Context) (Stats, error)
}
