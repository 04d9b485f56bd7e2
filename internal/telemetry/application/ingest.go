package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	devapp "gasgrid-cloud/internal/devices/application"
	devices "gasgrid-cloud/internal/devices/domain"
	"gasgrid-cloud/internal/observability/metrics"
	"gasgrid-cloud/internal/telemetry/application/events"
	telemetry "gasgrid-cloud/internal/telemetry/domain"
)

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// RecoveryNotifier announces a device coming back online.
type RecoveryNotifier interface {
	NotifyRecovered(ctx context.Context, device devices.Device, at time.Time)
}

// Ingestor accepts decoded readings from the transport layer and runs
// the accept pipeline: find-or-create device, advance last-seen,
// persist, publish.
type Ingestor struct {
	devices  devices.Repository
	readings telemetry.Repository
	bus      EventPublisher
	recovery RecoveryNotifier
	logger   zerolog.Logger
	clock    devapp.Clock
}

// IngestorOption configures the ingestor.
type IngestorOption func(*Ingestor)

// WithRecoveryNotifier wires the online-transition notifier.
func WithRecoveryNotifier(notifier RecoveryNotifier) IngestorOption {
	return func(i *Ingestor) {
		i.recovery = notifier
	}
}

// WithClock overrides the clock.
func WithClock(clock devapp.Clock) IngestorOption {
	return func(i *Ingestor) {
		if clock != nil {
			i.clock = clock
		}
	}
}

type ingestClock struct{}

func (ingestClock) Now() time.Time { return time.Now().UTC() }

// NewIngestor constructs an ingestor.
func NewIngestor(
	deviceRepo devices.Repository,
	readingRepo telemetry.Repository,
	bus EventPublisher,
	logger zerolog.Logger,
	opts ...IngestorOption,
) (*Ingestor, error) {
	if deviceRepo == nil {
		return nil, errors.New("ingest: nil device repository")
	}
	if readingRepo == nil {
		return nil, errors.New("ingest: nil reading repository")
	}
	ingestor := &Ingestor{
		devices:  deviceRepo,
		readings: readingRepo,
		bus:      bus,
		logger:   logger,
		clock:    ingestClock{},
	}
	for _, opt := range opts {
		opt(ingestor)
	}
	return ingestor, nil
}

// Ingest accepts one decoded reading. Duplicates are dropped silently;
// every other failure is returned to the transport for logging.
func (i *Ingestor) Ingest(ctx context.Context, clientID string, at time.Time, values map[string]float64) error {
	started := i.clock.Now()

	err := i.ingest(ctx, clientID, at, values)
	switch {
	case err == nil:
		metrics.ObserveIngest("success", i.clock.Now().Sub(started))
	case errors.Is(err, telemetry.ErrDuplicate):
		metrics.IncDuplicateReading()
		metrics.ObserveIngest("duplicate", i.clock.Now().Sub(started))
		i.logger.Debug().Str("client_id", clientID).Time("ts", at).Msg("duplicate reading dropped")
		return nil
	default:
		metrics.ObserveIngest("error", i.clock.Now().Sub(started))
	}
	return err
}

func (i *Ingestor) ingest(ctx context.Context, clientID string, at time.Time, values map[string]float64) error {
	if clientID == "" {
		return errors.New("ingest: empty client id")
	}
	if at.IsZero() {
		return errors.New("ingest: zero timestamp")
	}
	if len(values) == 0 {
		return errors.New("ingest: no values")
	}
	at = at.UTC()

	device, err := i.findOrCreateDevice(ctx, clientID)
	if err != nil {
		return err
	}

	touch, err := i.devices.TouchLastSeen(ctx, clientID, at)
	if err != nil {
		return err
	}
	if touch.Recovered && i.recovery != nil {
		device.Active = true
		i.recovery.NotifyRecovered(ctx, *device, at)
	}

	reading := &telemetry.Reading{
		ID:        uuid.NewString(),
		DeviceID:  device.ID,
		ClientID:  clientID,
		Timestamp: at,
	}
	for code, value := range values {
		reading.SetRegister(code, value)
	}
	if err := i.readings.Insert(ctx, reading); err != nil {
		return err
	}
	metrics.IncReadingInserted()

	if i.bus != nil {
		event := events.ReadingReceived{
			DeviceID:   device.ID,
			ClientID:   clientID,
			ReadingID:  reading.ID,
			Timestamp:  at,
			Parameters: reading.Parameters(),
			OccurredAt: i.clock.Now(),
		}
		if err := i.bus.Publish(ctx, event); err != nil {
			// The reading is already durable; evaluation catches up on
			// the next sample rather than failing the ingest.
			i.logger.Error().Err(err).Str("client_id", clientID).Msg("publish reading event failed")
		}
	}
	return nil
}

func (i *Ingestor) findOrCreateDevice(ctx context.Context, clientID string) (*devices.Device, error) {
	device, err := i.devices.GetByClientID(ctx, clientID)
	if err != nil && !errors.Is(err, devices.ErrNotFound) {
		return nil, err
	}
	if device != nil {
		return device, nil
	}

	device = &devices.Device{
		ID:       uuid.NewString(),
		ClientID: clientID,
		Name:     clientID,
		Active:   true,
	}
	if err := i.devices.Save(ctx, device); err != nil {
		return nil, err
	}
	i.logger.Info().Str("client_id", clientID).Msg("device auto-registered")

	// Concurrent first readings race on the upsert; re-read so the id
	// matches the winning row.
	stored, err := i.devices.GetByClientID(ctx, clientID)
	if err != nil || stored == nil {
		return device, nil
	}
	return stored, nil
}
