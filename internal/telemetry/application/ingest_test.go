package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	devices "gasgrid-cloud/internal/devices/domain"
	"gasgrid-cloud/internal/telemetry/application/events"
	telemetry "gasgrid-cloud/internal/telemetry/domain"
)

type stubDeviceRepo struct {
	byClientID map[string]*devices.Device
	saved      []*devices.Device
	touch      devices.TouchResult
	touchErr   error
	touched    []time.Time
}

func (s *stubDeviceRepo) Get(_ context.Context, id string) (*devices.Device, error) {
	for _, d := range s.byClientID {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, nil
}

func (s *stubDeviceRepo) GetByClientID(_ context.Context, clientID string) (*devices.Device, error) {
	return s.byClientID[clientID], nil
}

func (s *stubDeviceRepo) List(context.Context) ([]devices.Device, error) { return nil, nil }

func (s *stubDeviceRepo) Save(_ context.Context, device *devices.Device) error {
	if s.byClientID == nil {
		s.byClientID = map[string]*devices.Device{}
	}
	s.byClientID[device.ClientID] = device
	s.saved = append(s.saved, device)
	return nil
}

func (s *stubDeviceRepo) Delete(context.Context, string) error { return nil }

func (s *stubDeviceRepo) TouchLastSeen(_ context.Context, _ string, at time.Time) (devices.TouchResult, error) {
	s.touched = append(s.touched, at)
	return s.touch, s.touchErr
}

func (s *stubDeviceRepo) ListActiveSilentSince(context.Context, time.Time) ([]devices.Device, error) {
	return nil, nil
}

func (s *stubDeviceRepo) MarkInactive(context.Context, string, time.Time) error { return nil }

type stubReadingRepo struct {
	inserted []*telemetry.Reading
	err      error
}

func (s *stubReadingRepo) Insert(_ context.Context, reading *telemetry.Reading) error {
	if s.err != nil {
		return s.err
	}
	s.inserted = append(s.inserted, reading)
	return nil
}

func (s *stubReadingRepo) Latest(context.Context, string) (*telemetry.Reading, error) {
	return nil, nil
}

func (s *stubReadingRepo) ListRecent(context.Context, string, int) ([]telemetry.Reading, error) {
	return nil, nil
}

func (s *stubReadingRepo) ListRange(context.Context, string, time.Time, time.Time) ([]telemetry.Reading, error) {
	return nil, nil
}

type stubPublisher struct {
	events []any
	err    error
}

func (s *stubPublisher) Publish(_ context.Context, event any) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

type stubRecovery struct {
	notified []devices.Device
}

func (s *stubRecovery) NotifyRecovered(_ context.Context, device devices.Device, _ time.Time) {
	s.notified = append(s.notified, device)
}

func newTestIngestor(t *testing.T, deviceRepo *stubDeviceRepo, readingRepo *stubReadingRepo, bus *stubPublisher, opts ...IngestorOption) *Ingestor {
	t.Helper()
	ingestor, err := NewIngestor(deviceRepo, readingRepo, bus, zerolog.Nop(), opts...)
	if err != nil {
		t.Fatalf("NewIngestor: %v", err)
	}
	return ingestor
}

func TestIngestAutoRegistersDevice(t *testing.T) {
	deviceRepo := &stubDeviceRepo{}
	readingRepo := &stubReadingRepo{}
	bus := &stubPublisher{}
	ingestor := newTestIngestor(t, deviceRepo, readingRepo, bus)

	at := time.Date(2026, 8, 3, 14, 0, 0, 0, time.UTC)
	if err := ingestor.Ingest(context.Background(), "SMS-009", at, map[string]float64{"T12": 60}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(deviceRepo.saved) != 1 {
		t.Fatalf("saved devices = %d", len(deviceRepo.saved))
	}
	if deviceRepo.saved[0].ClientID != "SMS-009" {
		t.Fatalf("client id = %q", deviceRepo.saved[0].ClientID)
	}
	if len(readingRepo.inserted) != 1 {
		t.Fatalf("readings = %d", len(readingRepo.inserted))
	}
}

func TestIngestReusesKnownDevice(t *testing.T) {
	known := &devices.Device{ID: "dev-1", ClientID: "SMS-001", Active: true}
	deviceRepo := &stubDeviceRepo{byClientID: map[string]*devices.Device{"SMS-001": known}}
	readingRepo := &stubReadingRepo{}
	bus := &stubPublisher{}
	ingestor := newTestIngestor(t, deviceRepo, readingRepo, bus)

	at := time.Date(2026, 8, 3, 14, 0, 0, 0, time.UTC)
	if err := ingestor.Ingest(context.Background(), "SMS-001", at, map[string]float64{"T12": 60}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(deviceRepo.saved) != 0 {
		t.Fatal("known device should not be re-saved")
	}
	if readingRepo.inserted[0].DeviceID != "dev-1" {
		t.Fatalf("device id = %q", readingRepo.inserted[0].DeviceID)
	}
}

func TestIngestDropsDuplicateSilently(t *testing.T) {
	known := &devices.Device{ID: "dev-1", ClientID: "SMS-001", Active: true}
	deviceRepo := &stubDeviceRepo{byClientID: map[string]*devices.Device{"SMS-001": known}}
	readingRepo := &stubReadingRepo{err: telemetry.ErrDuplicate}
	bus := &stubPublisher{}
	ingestor := newTestIngestor(t, deviceRepo, readingRepo, bus)

	at := time.Date(2026, 8, 3, 14, 0, 0, 0, time.UTC)
	if err := ingestor.Ingest(context.Background(), "SMS-001", at, map[string]float64{"T12": 60}); err != nil {
		t.Fatalf("duplicate must not surface: %v", err)
	}
	if len(bus.events) != 0 {
		t.Fatal("duplicate reading must not publish an event")
	}
}

func TestIngestNotifiesRecovery(t *testing.T) {
	known := &devices.Device{ID: "dev-1", ClientID: "SMS-001", Active: false}
	deviceRepo := &stubDeviceRepo{
		byClientID: map[string]*devices.Device{"SMS-001": known},
		touch:      devices.TouchResult{Advanced: true, Recovered: true},
	}
	readingRepo := &stubReadingRepo{}
	bus := &stubPublisher{}
	recovery := &stubRecovery{}
	ingestor := newTestIngestor(t, deviceRepo, readingRepo, bus, WithRecoveryNotifier(recovery))

	at := time.Date(2026, 8, 3, 14, 0, 0, 0, time.UTC)
	if err := ingestor.Ingest(context.Background(), "SMS-001", at, map[string]float64{"T12": 60}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(recovery.notified) != 1 {
		t.Fatalf("recovery notifications = %d", len(recovery.notified))
	}
	if !recovery.notified[0].Active {
		t.Fatal("recovered device should be reported active")
	}
}

func TestIngestPublishesReadingReceived(t *testing.T) {
	known := &devices.Device{ID: "dev-1", ClientID: "SMS-001", Active: true}
	deviceRepo := &stubDeviceRepo{byClientID: map[string]*devices.Device{"SMS-001": known}}
	readingRepo := &stubReadingRepo{}
	bus := &stubPublisher{}
	ingestor := newTestIngestor(t, deviceRepo, readingRepo, bus)

	at := time.Date(2026, 8, 3, 14, 0, 0, 0, time.UTC)
	values := map[string]float64{"T12": 71.5, "T11": 3.2, "T99": 5}
	if err := ingestor.Ingest(context.Background(), "SMS-001", at, values); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(bus.events) != 1 {
		t.Fatalf("events = %d", len(bus.events))
	}
	event, ok := bus.events[0].(events.ReadingReceived)
	if !ok {
		t.Fatalf("event type %T", bus.events[0])
	}
	if event.DeviceID != "dev-1" || event.ClientID != "SMS-001" {
		t.Fatalf("event ids: %+v", event)
	}
	if event.Parameters["T12"] != 71.5 || event.Parameters["T99"] != 5 {
		t.Fatalf("parameters: %v", event.Parameters)
	}
}

func TestIngestPublishFailureDoesNotFailIngest(t *testing.T) {
	known := &devices.Device{ID: "dev-1", ClientID: "SMS-001", Active: true}
	deviceRepo := &stubDeviceRepo{byClientID: map[string]*devices.Device{"SMS-001": known}}
	readingRepo := &stubReadingRepo{}
	bus := &stubPublisher{err: errors.New("outbox down")}
	ingestor := newTestIngestor(t, deviceRepo, readingRepo, bus)

	at := time.Date(2026, 8, 3, 14, 0, 0, 0, time.UTC)
	if err := ingestor.Ingest(context.Background(), "SMS-001", at, map[string]float64{"T12": 60}); err != nil {
		t.Fatalf("publish failure must not fail ingest: %v", err)
	}
	if len(readingRepo.inserted) != 1 {
		t.Fatal("reading must still be stored")
	}
}

func TestIngestRejectsEmptyInput(t *testing.T) {
	ingestor := newTestIngestor(t, &stubDeviceRepo{}, &stubReadingRepo{}, &stubPublisher{})
	at := time.Date(2026, 8, 3, 14, 0, 0, 0, time.UTC)

	if err := ingestor.Ingest(context.Background(), "", at, map[string]float64{"T12": 1}); err == nil {
		t.Fatal("expected error for empty client id")
	}
	if err := ingestor.Ingest(context.Background(), "SMS-001", time.Time{}, map[string]float64{"T12": 1}); err == nil {
		t.Fatal("expected error for zero timestamp")
	}
	if err := ingestor.Ingest(context.Background(), "SMS-001", at, nil); err == nil {
		t.Fatal("expected error for empty values")
	}
}
