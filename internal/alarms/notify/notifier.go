package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	alarmapp "gasgrid-cloud/internal/alarms/application"
	alarms "gasgrid-cloud/internal/alarms/domain"
	"gasgrid-cloud/internal/observability/metrics"
	telemetry "gasgrid-cloud/internal/telemetry/domain"
	thresholds "gasgrid-cloud/internal/thresholds/domain"
)

// AlarmReader loads alarm records for escalation checks.
type AlarmReader interface {
	GetByID(ctx context.Context, id string) (*alarms.Alarm, error)
}

// Clock provides time for scheduling.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier renders alarm events and sends them through a channel,
// with cooldown/dedupe suppression and an unacknowledged-alarm
// reminder for high severity.
type Notifier struct {
	alarms         AlarmReader
	channel        Channel
	template       *Template
	escalation     time.Duration
	clock          Clock
	mu             sync.Mutex
	timers         map[string]*time.Timer
	sent           map[string]sendRecord
	cooldown       time.Duration
	dedupeWindow   time.Duration
	requestTimeout time.Duration
}

// Option configures the notifier.
type Option func(*Notifier)

// WithEscalation re-sends a high severity alarm that is still
// unacknowledged after the delay.
func WithEscalation(after time.Duration) Option {
	return func(n *Notifier) {
		if after > 0 {
			n.escalation = after
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithRequestTimeout overrides the default timeout for escalation checks.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(n *Notifier) {
		if timeout > 0 {
			n.requestTimeout = timeout
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same alarm and event.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// NewNotifier constructs an alarm notifier.
func NewNotifier(alarmReader AlarmReader, channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if alarmReader == nil {
		return nil, errors.New("alarm notifier: nil alarm reader")
	}
	if channel == nil {
		return nil, errors.New("alarm notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		alarms:         alarmReader,
		channel:        channel,
		template:       template,
		clock:          systemClock{},
		timers:         make(map[string]*time.Timer),
		sent:           make(map[string]sendRecord),
		requestTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify implements alarmapp.AlarmNotifier.
func (n *Notifier) Notify(ctx context.Context, event alarmapp.AlarmEvent) {
	if n == nil || n.channel == nil {
		return
	}
	n.dispatch(ctx, event.Type, event.Alarm)

	switch event.Type {
	case alarmapp.EventTriggered, alarmapp.EventEscalated:
		n.scheduleReminder(event.Alarm)
	case alarmapp.EventAcknowledged:
		n.cancelReminder(event.Alarm.ID)
	}
}

// Close stops all pending reminder timers.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.mu.Lock()
	timers := n.timers
	n.timers = make(map[string]*time.Timer)
	n.mu.Unlock()
	for _, timer := range timers {
		if timer != nil {
			timer.Stop()
		}
	}
}

func (n *Notifier) dispatch(ctx context.Context, eventType string, alarm alarms.Alarm) {
	content, err := n.template.Render(buildTemplateData(eventType, alarm))
	if err != nil {
		return
	}
	if !n.shouldSend(alarm.ID, eventType, content) {
		return
	}
	if err := n.channel.Send(ctx, content); err != nil {
		metrics.IncNotifyDelivery("webhook", "error")
		return
	}
	metrics.IncNotifyDelivery("webhook", "success")
	n.markSent(alarm.ID, eventType, content)
}

func (n *Notifier) scheduleReminder(alarm alarms.Alarm) {
	if n == nil || n.escalation <= 0 || alarm.ID == "" {
		return
	}
	if alarm.Severity != thresholds.SeverityHigh {
		return
	}
	n.mu.Lock()
	if existing, ok := n.timers[alarm.ID]; ok && existing != nil {
		existing.Stop()
	}
	timer := time.AfterFunc(n.escalation, func() {
		n.runReminder(alarm.ID)
	})
	n.timers[alarm.ID] = timer
	n.mu.Unlock()
}

func (n *Notifier) cancelReminder(alarmID string) {
	if n == nil || alarmID == "" {
		return
	}
	n.mu.Lock()
	timer := n.timers[alarmID]
	delete(n.timers, alarmID)
	n.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

func (n *Notifier) runReminder(alarmID string) {
	if n == nil || alarmID == "" {
		return
	}
	n.mu.Lock()
	delete(n.timers, alarmID)
	n.mu.Unlock()

	ctx := context.Background()
	if n.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.requestTimeout)
		defer cancel()
	}

	alarm, err := n.alarms.GetByID(ctx, alarmID)
	if err != nil || alarm == nil {
		return
	}
	if alarm.Acknowledged {
		return
	}
	if alarm.Severity != thresholds.SeverityHigh {
		return
	}
	n.dispatch(ctx, "reminder", *alarm)
}

func buildTemplateData(eventType string, alarm alarms.Alarm) TemplateData {
	device := alarm.ClientID
	if device == "" {
		device = alarm.DeviceID
	}
	triggeredAt := alarm.TriggeredAt
	if triggeredAt.IsZero() {
		triggeredAt = alarm.CreatedAt
	}
	return TemplateData{
		Device:       device,
		DeviceID:     alarm.DeviceID,
		Parameter:    telemetry.RegisterLabel(alarm.Parameter),
		ParameterID:  alarm.Parameter,
		TriggerValue: formatFloat(alarm.Value),
		Band:         formatFloat(alarm.BandMin) + " - " + formatFloat(alarm.BandMax),
		TriggeredAt:  triggeredAt.UTC().Format(time.RFC3339),
		Severity:     string(alarm.Severity),
		Suggestion:   suggestionFor(alarm.Severity),
		Event:        eventType,
		EventLabel:   eventLabel(eventType),
	}
}

func eventLabel(event string) string {
	switch event {
	case alarmapp.EventTriggered:
		return "Triggered"
	case alarmapp.EventEscalated:
		return "Escalated"
	case alarmapp.EventDeescalated:
		return "De-escalated"
	case alarmapp.EventAcknowledged:
		return "Acknowledged"
	case "reminder":
		return "Still Unacknowledged"
	default:
		return event
	}
}

func suggestionFor(severity thresholds.Severity) string {
	switch severity {
	case thresholds.SeverityHigh:
		return "Investigate immediately and mitigate risk."
	case thresholds.SeverityMedium:
		return "Verify the condition and take action if needed."
	default:
		return "Monitor the alarm condition."
	}
}

func formatFloat(value float64) string {
	return fmt.Sprintf("%.2f", value)
}

func (n *Notifier) shouldSend(alarmID, eventType, content string) bool {
	if n == nil {
		return false
	}
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	key := notificationKey(alarmID, eventType)
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	record, ok := n.sent[key]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(alarmID, eventType, content string) {
	if n == nil {
		return
	}
	key := notificationKey(alarmID, eventType)
	now := n.clock.Now().UTC()
	n.mu.Lock()
	n.sent[key] = sendRecord{
		at:   now,
		hash: hashContent(content),
	}
	n.pruneSentLocked(now)
	n.mu.Unlock()
}

// pruneSentLocked discards records past the suppression horizon so the
// map does not grow with every alarm the process ever notified.
func (n *Notifier) pruneSentLocked(now time.Time) {
	retention := n.cooldown
	if n.dedupeWindow > retention {
		retention = n.dedupeWindow
	}
	if retention <= 0 {
		return
	}
	for key, record := range n.sent {
		if now.Sub(record.at) >= retention {
			delete(n.sent, key)
		}
	}
}

func notificationKey(alarmID, eventType string) string {
	return alarmID + "|" + eventType
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
