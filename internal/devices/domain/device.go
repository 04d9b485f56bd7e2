package devices

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a device does not exist.
var ErrNotFound = errors.New("devices: not found")

// Device represents a field station (SMS/EVC/FC unit).
type Device struct {
	ID         string
	ClientID   string
	Name       string
	DeviceType string
	Location   string
	Latitude   float64
	Longitude  float64
	Active     bool
	LastSeen   time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Validate checks device invariants.
func (d Device) Validate() error {
	if d.ID == "" {
		return errors.New("device: empty id")
	}
	if d.ClientID == "" {
		return errors.New("device: empty client id")
	}
	return nil
}

// TouchResult describes the outcome of a last-seen update.
type TouchResult struct {
	// Advanced is true when the stored last-seen moved forward.
	Advanced bool
	// Recovered is true when the device flipped from inactive to active.
	Recovered bool
}

// Repository manages device persistence.
type Repository interface {
	Get(ctx context.Context, id string) (*Device, error)
	GetByClientID(ctx context.Context, clientID string) (*Device, error)
	List(ctx context.Context) ([]Device, error)
	Save(ctx context.Context, device *Device) error
	Delete(ctx context.Context, id string) error
	// TouchLastSeen advances last-seen for a client and reactivates the
	// device. The update is conditional: a timestamp at or before the
	// stored value leaves last-seen untouched (out-of-order guard).
	TouchLastSeen(ctx context.Context, clientID string, at time.Time) (TouchResult, error)
	// ListActiveSilentSince returns active devices whose last-seen is
	// older than the cutoff.
	ListActiveSilentSince(ctx context.Context, cutoff time.Time) ([]Device, error)
	MarkInactive(ctx context.Context, id string, at time.Time) error
}
