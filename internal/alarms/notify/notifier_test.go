package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	alarmapp "gasgrid-cloud/internal/alarms/application"
	alarms "gasgrid-cloud/internal/alarms/domain"
	thresholds "gasgrid-cloud/internal/thresholds/domain"
)

type stubChannel struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *stubChannel) Send(_ context.Context, content string) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	s.sent = append(s.sent, content)
	s.mu.Unlock()
	return nil
}

func (s *stubChannel) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type stubAlarmReader struct {
	mu    sync.Mutex
	alarm *alarms.Alarm
}

func (s *stubAlarmReader) GetByID(context.Context, string) (*alarms.Alarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alarm, nil
}

func (s *stubAlarmReader) set(alarm *alarms.Alarm) {
	s.mu.Lock()
	s.alarm = alarm
	s.mu.Unlock()
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func highAlarm(id string) alarms.Alarm {
	return alarms.Alarm{
		ID:          id,
		DeviceID:    "dev-1",
		ClientID:    "SMS-001",
		Parameter:   "T12",
		Severity:    thresholds.SeverityHigh,
		Value:       82.4,
		BandMin:     70,
		BandMax:     90,
		TriggeredAt: time.Date(2026, 8, 3, 16, 0, 0, 0, time.UTC),
	}
}

func TestNotifierSendsRenderedContent(t *testing.T) {
	channel := &stubChannel{}
	notifier, err := NewNotifier(&stubAlarmReader{}, channel, nil)
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}

	notifier.Notify(context.Background(), alarmapp.AlarmEvent{Type: alarmapp.EventTriggered, Alarm: highAlarm("a-1")})

	if channel.count() != 1 {
		t.Fatalf("sent = %d", channel.count())
	}
	content := channel.sent[0]
	for _, want := range []string{"Triggered", "SMS-001", "temperature", "82.40", "high"} {
		if !strings.Contains(content, want) {
			t.Fatalf("content missing %q:\n%s", want, content)
		}
	}
}

func TestNotifierCooldownSuppressesRepeat(t *testing.T) {
	channel := &stubChannel{}
	clock := &stepClock{now: time.Date(2026, 8, 3, 16, 0, 0, 0, time.UTC)}
	notifier, err := NewNotifier(&stubAlarmReader{}, channel, nil,
		WithCooldown(time.Minute),
		WithClock(clock),
	)
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}

	event := alarmapp.AlarmEvent{Type: alarmapp.EventTriggered, Alarm: highAlarm("a-1")}
	notifier.Notify(context.Background(), event)
	notifier.Notify(context.Background(), event)
	if channel.count() != 1 {
		t.Fatalf("sent = %d, cooldown must suppress", channel.count())
	}

	clock.advance(2 * time.Minute)
	notifier.Notify(context.Background(), event)
	if channel.count() != 2 {
		t.Fatalf("sent = %d, cooldown expired", channel.count())
	}
}

func TestNotifierDedupeWindowSuppressesIdenticalContent(t *testing.T) {
	channel := &stubChannel{}
	clock := &stepClock{now: time.Date(2026, 8, 3, 16, 0, 0, 0, time.UTC)}
	notifier, err := NewNotifier(&stubAlarmReader{}, channel, nil,
		WithDedupeWindow(time.Hour),
		WithClock(clock),
	)
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}

	event := alarmapp.AlarmEvent{Type: alarmapp.EventTriggered, Alarm: highAlarm("a-1")}
	notifier.Notify(context.Background(), event)
	clock.advance(time.Minute)
	notifier.Notify(context.Background(), event)
	if channel.count() != 1 {
		t.Fatalf("sent = %d, identical content inside window", channel.count())
	}

	changed := event
	changed.Alarm.Value = 85
	notifier.Notify(context.Background(), changed)
	if channel.count() != 2 {
		t.Fatalf("sent = %d, changed content must pass", channel.count())
	}
}

func TestNotifierDiscardsExpiredSendRecords(t *testing.T) {
	channel := &stubChannel{}
	clock := &stepClock{now: time.Date(2026, 8, 3, 16, 0, 0, 0, time.UTC)}
	notifier, err := NewNotifier(&stubAlarmReader{}, channel, nil,
		WithCooldown(time.Minute),
		WithClock(clock),
	)
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}

	notifier.Notify(context.Background(), alarmapp.AlarmEvent{Type: alarmapp.EventTriggered, Alarm: highAlarm("a-1")})
	clock.advance(2 * time.Minute)
	notifier.Notify(context.Background(), alarmapp.AlarmEvent{Type: alarmapp.EventTriggered, Alarm: highAlarm("a-2")})

	notifier.mu.Lock()
	_, stale := notifier.sent[notificationKey("a-1", alarmapp.EventTriggered)]
	size := len(notifier.sent)
	notifier.mu.Unlock()
	if stale {
		t.Fatal("record past the suppression horizon kept")
	}
	if size != 1 {
		t.Fatalf("sent records = %d, want 1", size)
	}
}

func TestNotifierRemindsUnacknowledgedHighAlarm(t *testing.T) {
	channel := &stubChannel{}
	alarm := highAlarm("a-1")
	reader := &stubAlarmReader{}
	reader.set(&alarm)
	notifier, err := NewNotifier(reader, channel, nil, WithEscalation(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}
	defer notifier.Close()

	notifier.Notify(context.Background(), alarmapp.AlarmEvent{Type: alarmapp.EventTriggered, Alarm: alarm})

	deadline := time.Now().Add(2 * time.Second)
	for channel.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("sent = %d, reminder never fired", channel.count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNotifierAckCancelsReminder(t *testing.T) {
	channel := &stubChannel{}
	alarm := highAlarm("a-1")
	reader := &stubAlarmReader{}
	reader.set(&alarm)
	notifier, err := NewNotifier(reader, channel, nil, WithEscalation(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}
	defer notifier.Close()

	notifier.Notify(context.Background(), alarmapp.AlarmEvent{Type: alarmapp.EventTriggered, Alarm: alarm})
	acked := alarm
	acked.Acknowledged = true
	reader.set(&acked)
	notifier.Notify(context.Background(), alarmapp.AlarmEvent{Type: alarmapp.EventAcknowledged, Alarm: acked})

	time.Sleep(150 * time.Millisecond)
	// triggered + acknowledged only, no reminder
	if channel.count() != 2 {
		t.Fatalf("sent = %d", channel.count())
	}
}

func TestNotifierNoReminderForMediumSeverity(t *testing.T) {
	channel := &stubChannel{}
	alarm := highAlarm("a-1")
	alarm.Severity = thresholds.SeverityMedium
	reader := &stubAlarmReader{}
	reader.set(&alarm)
	notifier, err := NewNotifier(reader, channel, nil, WithEscalation(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}
	defer notifier.Close()

	notifier.Notify(context.Background(), alarmapp.AlarmEvent{Type: alarmapp.EventTriggered, Alarm: alarm})
	time.Sleep(100 * time.Millisecond)
	if channel.count() != 1 {
		t.Fatalf("sent = %d", channel.count())
	}
}

func TestWebhookChannelPostsJSON(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)
		got = string(buf)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	if err != nil {
		t.Fatalf("NewWebhookChannel: %v", err)
	}
	if err := channel.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.Contains(got, `"content":"hello"`) {
		t.Fatalf("body = %s", got)
	}
}

func TestWebhookChannelRejectsNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	if err != nil {
		t.Fatalf("NewWebhookChannel: %v", err)
	}
	if err := channel.Send(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}
