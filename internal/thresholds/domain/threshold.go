package thresholds

import (
	"context"
	"errors"
	"time"
)

// Severity classifies a threshold band.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Valid returns true when the severity is supported.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	default:
		return false
	}
}

// Rank orders severities for escalation comparisons. Higher is worse.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Band is a half-open value range [Min, Max).
type Band struct {
	Severity Severity
	Min      float64
	Max      float64
	// Unbounded drops the upper bound check; only the high band
	// supports it.
	Unbounded bool
}

// Contains reports whether value falls inside the band.
func (b Band) Contains(value float64) bool {
	if value < b.Min {
		return false
	}
	if b.Unbounded {
		return true
	}
	return value < b.Max
}

// Threshold holds the three alarm bands for one parameter. DeviceID
// empty means the threshold applies fleet-wide; a device-scoped row
// overrides the global one.
type Threshold struct {
	ID        string
	DeviceID  string
	Parameter string
	LowMin    float64
	LowMax    float64
	MediumMin float64
	MediumMax float64
	HighMin   float64
	HighMax   float64
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks threshold invariants.
func (t Threshold) Validate() error {
	if t.ID == "" {
		return errors.New("threshold: empty id")
	}
	if t.Parameter == "" {
		return errors.New("threshold: empty parameter")
	}
	if t.LowMin > t.LowMax {
		return errors.New("threshold: low band inverted")
	}
	if t.MediumMin > t.MediumMax {
		return errors.New("threshold: medium band inverted")
	}
	if t.HighMin > t.HighMax {
		return errors.New("threshold: high band inverted")
	}
	return nil
}

// Bands returns the bands ordered by evaluation precedence, high
// first. Overlapping bands resolve to the most severe match.
func (t Threshold) Bands(highUnbounded bool) []Band {
	return []Band{
		{Severity: SeverityHigh, Min: t.HighMin, Max: t.HighMax, Unbounded: highUnbounded},
		{Severity: SeverityMedium, Min: t.MediumMin, Max: t.MediumMax},
		{Severity: SeverityLow, Min: t.LowMin, Max: t.LowMax},
	}
}

// Repository manages threshold persistence.
type Repository interface {
	// GetEffective resolves the threshold for a device and parameter:
	// a device-scoped row wins over the global row. ErrNotConfigured
	// when neither exists or the match is disabled.
	GetEffective(ctx context.Context, deviceID, parameter string) (*Threshold, error)
	Get(ctx context.Context, id string) (*Threshold, error)
	List(ctx context.Context, deviceID string) ([]Threshold, error)
	Save(ctx context.Context, threshold *Threshold) error
	Delete(ctx context.Context, id string) error
}
