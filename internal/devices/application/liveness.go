package application

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	devices "gasgrid-cloud/internal/devices/domain"
	"gasgrid-cloud/internal/observability/metrics"
)

const (
	// StatusOffline is emitted when the sweep silences a device.
	StatusOffline = "device_offline"
	// StatusOnline is emitted when a reading revives a device.
	StatusOnline = "device_online"
)

// StatusEvent describes a device liveness transition.
type StatusEvent struct {
	Type     string         `json:"type"`
	Device   devices.Device `json:"device"`
	LastSeen time.Time      `json:"last_seen"`
	At       time.Time      `json:"at"`
}

// StatusNotifier receives liveness transitions. Delivery is
// fire-and-forget; failures never roll back the state change.
type StatusNotifier interface {
	NotifyDeviceStatus(ctx context.Context, event StatusEvent)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// LivenessTracker marks devices offline after a period of silence.
type LivenessTracker struct {
	repo     devices.Repository
	notifier StatusNotifier
	clock    Clock
	logger   zerolog.Logger
	interval time.Duration
	timeout  time.Duration
}

// TrackerOption configures the tracker.
type TrackerOption func(*LivenessTracker)

// WithSweepInterval overrides the sweep interval.
func WithSweepInterval(interval time.Duration) TrackerOption {
	return func(t *LivenessTracker) {
		if interval > 0 {
			t.interval = interval
		}
	}
}

// WithSilenceTimeout overrides the silence timeout.
func WithSilenceTimeout(timeout time.Duration) TrackerOption {
	return func(t *LivenessTracker) {
		if timeout > 0 {
			t.timeout = timeout
		}
	}
}

// WithNotifier assigns a status notifier.
func WithNotifier(notifier StatusNotifier) TrackerOption {
	return func(t *LivenessTracker) {
		t.notifier = notifier
	}
}

// WithClock overrides the clock.
func WithClock(clock Clock) TrackerOption {
	return func(t *LivenessTracker) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// NewLivenessTracker constructs a tracker.
func NewLivenessTracker(repo devices.Repository, logger zerolog.Logger, opts ...TrackerOption) (*LivenessTracker, error) {
	if repo == nil {
		return nil, errors.New("liveness: nil repository")
	}
	tracker := &LivenessTracker{
		repo:     repo,
		clock:    systemClock{},
		logger:   logger,
		interval: time.Minute,
		timeout:  time.Minute,
	}
	for _, opt := range opts {
		opt(tracker)
	}
	return tracker, nil
}

// Run sweeps on a fixed interval until the context is cancelled. Sweep
// errors are logged and retried on the next tick; a missed sweep only
// delays offline detection by one interval.
func (t *LivenessTracker) Run(ctx context.Context) {
	if t == nil {
		return
	}
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.SweepOnce(ctx); err != nil {
				t.logger.Error().Err(err).Msg("liveness sweep failed")
			}
		}
	}
}

// SweepOnce marks devices silent past the timeout as offline. Each
// transition is an independent unit of work; cancellation mid-sweep
// leaves remaining devices to the next cycle.
func (t *LivenessTracker) SweepOnce(ctx context.Context) error {
	if t == nil || t.repo == nil {
		return errors.New("liveness: nil tracker")
	}
	started := time.Now()
	defer func() { metrics.ObserveSweep(time.Since(started)) }()

	now := t.clock.Now().UTC()
	cutoff := now.Add(-t.timeout)

	silent, err := t.repo.ListActiveSilentSince(ctx, cutoff)
	if err != nil {
		return err
	}

	for _, device := range silent {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := t.repo.MarkInactive(ctx, device.ID, now); err != nil {
			t.logger.Error().Err(err).Str("client_id", device.ClientID).Msg("mark offline failed")
			continue
		}
		metrics.IncLivenessTransition("offline")
		t.logger.Warn().
			Str("client_id", device.ClientID).
			Time("last_seen", device.LastSeen).
			Msg("device marked offline")
		device.Active = false
		t.notify(ctx, StatusEvent{Type: StatusOffline, Device: device, LastSeen: device.LastSeen, At: now})
	}
	return nil
}

// NotifyRecovered emits the online transition for a device revived by
// an accepted reading.
func (t *LivenessTracker) NotifyRecovered(ctx context.Context, device devices.Device, at time.Time) {
	if t == nil {
		return
	}
	metrics.IncLivenessTransition("online")
	t.logger.Info().Str("client_id", device.ClientID).Msg("device back online")
	t.notify(ctx, StatusEvent{Type: StatusOnline, Device: device, LastSeen: at, At: t.clock.Now().UTC()})
}

func (t *LivenessTracker) notify(ctx context.Context, event StatusEvent) {
	if t.notifier == nil {
		return
	}
	t.notifier.NotifyDeviceStatus(ctx, event)
}
