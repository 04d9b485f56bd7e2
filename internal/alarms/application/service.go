package application

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"time"

	"github.com/rs/zerolog"

	alarms "gasgrid-cloud/internal/alarms/domain"
	"gasgrid-cloud/internal/observability/metrics"
	telemetryevents "gasgrid-cloud/internal/telemetry/application/events"
	thresholds "gasgrid-cloud/internal/thresholds/domain"
)

// AlarmNotifier publishes alarm lifecycle events.
type AlarmNotifier interface {
	Notify(ctx context.Context, event AlarmEvent)
}

// AlarmEvent represents a lifecycle update.
type AlarmEvent struct {
	Type  string       `json:"type"`
	Alarm alarms.Alarm `json:"alarm"`
}

// Lifecycle event types carried on AlarmEvent.
const (
	EventTriggered    = "triggered"
	EventEscalated    = "escalated"
	EventDeescalated  = "deescalated"
	EventAcknowledged = "acknowledged"
)

// BandProvider resolves the effective threshold for a device
// parameter.
type BandProvider interface {
	GetEffective(ctx context.Context, deviceID, parameter string) (*thresholds.Threshold, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Service evaluates readings against thresholds and owns alarm state
// transitions.
type Service struct {
	alarms        alarms.Repository
	bands         BandProvider
	notifier      AlarmNotifier
	clock         Clock
	logger        zerolog.Logger
	highUnbounded bool
}

// ServiceOption customizes the alarm service.
type ServiceOption func(*Service)

// WithNotifier assigns a notifier.
func WithNotifier(notifier AlarmNotifier) ServiceOption {
	return func(s *Service) {
		s.notifier = notifier
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithBoundedHighBand enforces the configured upper bound on the high
// band. By default the high band is open-ended above its minimum.
func WithBoundedHighBand() ServiceOption {
	return func(s *Service) {
		s.highUnbounded = false
	}
}

// NewService constructs an alarm service.
func NewService(alarmsRepo alarms.Repository, bands BandProvider, logger zerolog.Logger, opts ...ServiceOption) (*Service, error) {
	if alarmsRepo == nil {
		return nil, errors.New("alarms: nil repository")
	}
	if bands == nil {
		return nil, errors.New("alarms: nil band provider")
	}
	service := &Service{
		alarms:        alarmsRepo,
		bands:         bands,
		clock:         systemClock{},
		logger:        logger,
		highUnbounded: true,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// HandleReadingReceived evaluates an accepted reading. Parameters
// without a configured threshold are skipped; a value outside every
// band leaves any open alarm as-is, clearing is manual.
func (s *Service) HandleReadingReceived(ctx context.Context, evt telemetryevents.ReadingReceived) error {
	if s == nil {
		return errors.New("alarms: nil service")
	}
	if evt.DeviceID == "" {
		return errors.New("alarms: reading missing device id")
	}
	if len(evt.Parameters) == 0 {
		return nil
	}

	at := evt.Timestamp
	if at.IsZero() {
		at = s.clock.Now().UTC()
	}

	for parameter, value := range evt.Parameters {
		threshold, err := s.bands.GetEffective(ctx, evt.DeviceID, parameter)
		if err != nil {
			if errors.Is(err, thresholds.ErrNotConfigured) {
				continue
			}
			return err
		}
		breach, ok := Evaluate(*threshold, parameter, value, s.highUnbounded)
		if !ok {
			continue
		}
		if err := s.handleBreach(ctx, evt, breach, at); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) handleBreach(ctx context.Context, evt telemetryevents.ReadingReceived, breach Breach, at time.Time) error {
	open, err := s.alarms.FindOpenByDeviceParameter(ctx, evt.DeviceID, breach.Parameter)
	if err != nil {
		return err
	}

	if open != nil {
		if open.Severity == breach.Severity {
			// Same severity while open: suppress, keep the stored
			// alarm current.
			if err := s.alarms.UpdateLastValue(ctx, open.ID, breach.Value, at); err != nil {
				return err
			}
			metrics.IncAlarmEvent("suppressed")
			return nil
		}
		eventType := EventEscalated
		if breach.Severity.Rank() < open.Severity.Rank() {
			eventType = EventDeescalated
		}
		return s.createAlarm(ctx, evt, breach, at, eventType)
	}

	return s.createAlarm(ctx, evt, breach, at, EventTriggered)
}

func (s *Service) createAlarm(ctx context.Context, evt telemetryevents.ReadingReceived, breach Breach, at time.Time, eventType string) error {
	now := s.clock.Now().UTC()
	alarm := &alarms.Alarm{
		ID:          buildAlarmID(evt.DeviceID, breach.Parameter, string(breach.Severity), at),
		DeviceID:    evt.DeviceID,
		ClientID:    evt.ClientID,
		Parameter:   breach.Parameter,
		Severity:    breach.Severity,
		Value:       breach.Value,
		LastValue:   breach.Value,
		BandMin:     breach.Band.Min,
		BandMax:     breach.Band.Max,
		TriggeredAt: at.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.alarms.Create(ctx, alarm); err != nil {
		return err
	}
	s.logger.Warn().
		Str("client_id", alarm.ClientID).
		Str("parameter", alarm.Parameter).
		Str("severity", string(alarm.Severity)).
		Float64("value", alarm.Value).
		Str("event", eventType).
		Msg("alarm raised")
	s.notify(ctx, eventType, *alarm)
	return nil
}

// Acknowledge marks an alarm acknowledged by a user.
func (s *Service) Acknowledge(ctx context.Context, id, ackedBy string) (*alarms.Alarm, error) {
	if s == nil {
		return nil, errors.New("alarms: nil service")
	}
	if id == "" {
		return nil, errors.New("alarms: alarm id required")
	}
	alarm, err := s.alarms.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if alarm == nil {
		return nil, alarms.ErrNotFound
	}
	if alarm.Acknowledged {
		return alarm, nil
	}
	ackedAt := s.clock.Now().UTC()
	if err := s.alarms.MarkAcknowledged(ctx, alarm.ID, ackedBy, ackedAt); err != nil {
		return nil, err
	}
	alarm.Acknowledged = true
	alarm.AckedBy = ackedBy
	alarm.AckedAt = ackedAt
	alarm.UpdatedAt = ackedAt
	s.notify(ctx, EventAcknowledged, *alarm)
	return alarm, nil
}

// Delete removes one alarm.
func (s *Service) Delete(ctx context.Context, id string) error {
	if s == nil {
		return errors.New("alarms: nil service")
	}
	if id == "" {
		return errors.New("alarms: alarm id required")
	}
	return s.alarms.Delete(ctx, id)
}

// DeleteAll bulk-removes alarms matching the filter and returns the
// number removed.
func (s *Service) DeleteAll(ctx context.Context, filter alarms.Filter) (int64, error) {
	if s == nil {
		return 0, errors.New("alarms: nil service")
	}
	return s.alarms.DeleteByFilter(ctx, filter)
}

// List returns alarms matching the filter, newest first.
func (s *Service) List(ctx context.Context, filter alarms.Filter) ([]alarms.Alarm, error) {
	if s == nil {
		return nil, errors.New("alarms: nil service")
	}
	if filter.Severity != "" && !filter.Severity.Valid() {
		return nil, errors.New("alarms: invalid severity filter")
	}
	return s.alarms.List(ctx, filter)
}

// Stats summarizes the alarm population.
func (s *Service) Stats(ctx context.Context) (alarms.Stats, error) {
	if s == nil {
		return alarms.Stats{}, errors.New("alarms: nil service")
	}
	return s.alarms.Stats(ctx)
}

func (s *Service) notify(ctx context.Context, eventType string, alarm alarms.Alarm) {
	metrics.IncAlarmEvent(eventType)
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, AlarmEvent{Type: eventType, Alarm: alarm})
}

func buildAlarmID(deviceID, parameter, severity string, at time.Time) string {
	sum := sha1.Sum([]byte(deviceID + "|" + parameter + "|" + severity + "|" + at.UTC().Format(time.RFC3339Nano)))
	return "alarm-" + hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
