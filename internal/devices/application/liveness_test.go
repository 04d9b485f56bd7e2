package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	devices "gasgrid-cloud/internal/devices/domain"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

type sweepRepo struct {
	silent     []devices.Device
	listErr    error
	inactive   []string
	markErr    map[string]error
	listCutoff time.Time
}

func (r *sweepRepo) Get(context.Context, string) (*devices.Device, error) { return nil, nil }
func (r *sweepRepo) GetByClientID(context.Context, string) (*devices.Device, error) {
	return nil, nil
}
func (r *sweepRepo) List(context.Context) ([]devices.Device, error) { return nil, nil }
func (r *sweepRepo) Save(context.Context, *devices.Device) error    { return nil }
func (r *sweepRepo) Delete(context.Context, string) error           { return nil }
func (r *sweepRepo) TouchLastSeen(context.Context, string, time.Time) (devices.TouchResult, error) {
	return devices.TouchResult{}, nil
}

func (r *sweepRepo) ListActiveSilentSince(_ context.Context, cutoff time.Time) ([]devices.Device, error) {
	r.listCutoff = cutoff
	return r.silent, r.listErr
}

func (r *sweepRepo) MarkInactive(_ context.Context, id string, _ time.Time) error {
	if err := r.markErr[id]; err != nil {
		return err
	}
	r.inactive = append(r.inactive, id)
	return nil
}

type recordingNotifier struct {
	events []StatusEvent
}

func (n *recordingNotifier) NotifyDeviceStatus(_ context.Context, event StatusEvent) {
	n.events = append(n.events, event)
}

func TestSweepOnceMarksSilentDevicesOffline(t *testing.T) {
	now := time.Date(2026, 8, 3, 15, 0, 0, 0, time.UTC)
	repo := &sweepRepo{silent: []devices.Device{
		{ID: "dev-1", ClientID: "SMS-001", Active: true, LastSeen: now.Add(-5 * time.Minute)},
		{ID: "dev-2", ClientID: "SMS-002", Active: true, LastSeen: now.Add(-3 * time.Minute)},
	}}
	notifier := &recordingNotifier{}
	tracker, err := NewLivenessTracker(repo, zerolog.Nop(),
		WithSilenceTimeout(time.Minute),
		WithNotifier(notifier),
		WithClock(&fakeClock{now: now}),
	)
	if err != nil {
		t.Fatalf("NewLivenessTracker: %v", err)
	}

	if err := tracker.SweepOnce(context.Background()); err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if want := now.Add(-time.Minute); !repo.listCutoff.Equal(want) {
		t.Fatalf("cutoff = %v, want %v", repo.listCutoff, want)
	}
	if len(repo.inactive) != 2 {
		t.Fatalf("marked inactive = %v", repo.inactive)
	}
	if len(notifier.events) != 2 {
		t.Fatalf("events = %d", len(notifier.events))
	}
	for _, event := range notifier.events {
		if event.Type != StatusOffline {
			t.Fatalf("event type = %q", event.Type)
		}
		if event.Device.Active {
			t.Fatal("offline event should carry inactive device")
		}
	}
}

func TestSweepOnceContinuesPastMarkFailure(t *testing.T) {
	now := time.Date(2026, 8, 3, 15, 0, 0, 0, time.UTC)
	repo := &sweepRepo{
		silent: []devices.Device{
			{ID: "dev-1", ClientID: "SMS-001", Active: true},
			{ID: "dev-2", ClientID: "SMS-002", Active: true},
		},
		markErr: map[string]error{"dev-1": errors.New("db down")},
	}
	notifier := &recordingNotifier{}
	tracker, err := NewLivenessTracker(repo, zerolog.Nop(),
		WithNotifier(notifier),
		WithClock(&fakeClock{now: now}),
	)
	if err != nil {
		t.Fatalf("NewLivenessTracker: %v", err)
	}

	if err := tracker.SweepOnce(context.Background()); err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if len(repo.inactive) != 1 || repo.inactive[0] != "dev-2" {
		t.Fatalf("marked inactive = %v", repo.inactive)
	}
	if len(notifier.events) != 1 {
		t.Fatalf("events = %d, failed mark must not notify", len(notifier.events))
	}
}

func TestSweepOnceStopsOnCancelledContext(t *testing.T) {
	now := time.Date(2026, 8, 3, 15, 0, 0, 0, time.UTC)
	repo := &sweepRepo{silent: []devices.Device{
		{ID: "dev-1", ClientID: "SMS-001", Active: true},
	}}
	tracker, err := NewLivenessTracker(repo, zerolog.Nop(), WithClock(&fakeClock{now: now}))
	if err != nil {
		t.Fatalf("NewLivenessTracker: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tracker.SweepOnce(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(repo.inactive) != 0 {
		t.Fatal("cancelled sweep must not transition devices")
	}
}

func TestNotifyRecoveredEmitsOnlineEvent(t *testing.T) {
	now := time.Date(2026, 8, 3, 15, 0, 0, 0, time.UTC)
	notifier := &recordingNotifier{}
	tracker, err := NewLivenessTracker(&sweepRepo{}, zerolog.Nop(),
		WithNotifier(notifier),
		WithClock(&fakeClock{now: now}),
	)
	if err != nil {
		t.Fatalf("NewLivenessTracker: %v", err)
	}

	device := devices.Device{ID: "dev-1", ClientID: "SMS-001", Active: true}
	seen := now.Add(-time.Second)
	tracker.NotifyRecovered(context.Background(), device, seen)

	if len(notifier.events) != 1 {
		t.Fatalf("events = %d", len(notifier.events))
	}
	event := notifier.events[0]
	if event.Type != StatusOnline {
		t.Fatalf("type = %q", event.Type)
	}
	if !event.LastSeen.Equal(seen) {
		t.Fatalf("last seen = %v", event.LastSeen)
	}
}

func TestNewLivenessTrackerDefaults(t *testing.T) {
	tracker, err := NewLivenessTracker(&sweepRepo{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewLivenessTracker: %v", err)
	}
	if tracker.interval != time.Minute || tracker.timeout != time.Minute {
		t.Fatalf("defaults = %v/%v", tracker.interval, tracker.timeout)
	}
	if _, err := NewLivenessTracker(nil, zerolog.Nop()); err == nil {
		t.Fatal("expected error for nil repository")
	}
}
