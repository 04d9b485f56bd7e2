package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	alarms "gasgrid-cloud/internal/alarms/domain"
	"gasgrid-cloud/internal/cache"
	devices "gasgrid-cloud/internal/devices/domain"
	telemetry "gasgrid-cloud/internal/telemetry/domain"
	thresholds "gasgrid-cloud/internal/thresholds/domain"
)

type stubDeviceRepo struct {
	fleet []devices.Device
	calls int
}

func (s *stubDeviceRepo) Get(context.Context, string) (*devices.Device, error) { return nil, nil }

func (s *stubDeviceRepo) GetByClientID(_ context.Context, clientID string) (*devices.Device, error) {
	for i := range s.fleet {
		if s.fleet[i].ClientID == clientID {
			return &s.fleet[i], nil
		}
	}
	return nil, nil
}

func (s *stubDeviceRepo) List(context.Context) ([]devices.Device, error) {
	s.calls++
	return s.fleet, nil
}

func (s *stubDeviceRepo) Save(context.Context, *devices.Device) error { return nil }
func (s *stubDeviceRepo) Delete(context.Context, string) error        { return nil }

func (s *stubDeviceRepo) TouchLastSeen(context.Context, string, time.Time) (devices.TouchResult, error) {
	return devices.TouchResult{}, nil
}

func (s *stubDeviceRepo) ListActiveSilentSince(context.Context, time.Time) ([]devices.Device, error) {
	return nil, nil
}

func (s *stubDeviceRepo) MarkInactive(context.Context, string, time.Time) error { return nil }

type stubReadingRepo struct {
	readings []telemetry.Reading
}

func (s *stubReadingRepo) Insert(context.Context, *telemetry.Reading) error { return nil }

func (s *stubReadingRepo) Latest(_ context.Context, deviceID string) (*telemetry.Reading, error) {
	for i := len(s.readings) - 1; i >= 0; i-- {
		if s.readings[i].DeviceID == deviceID {
			return &s.readings[i], nil
		}
	}
	return nil, nil
}

func (s *stubReadingRepo) ListRecent(_ context.Context, deviceID string, limit int) ([]telemetry.Reading, error) {
	var out []telemetry.Reading
	for _, r := range s.readings {
		if r.DeviceID == deviceID {
			out = append(out, r)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *stubReadingRepo) ListRange(_ context.Context, deviceID string, from, to time.Time) ([]telemetry.Reading, error) {
	var out []telemetry.Reading
	for _, r := range s.readings {
		if r.DeviceID != deviceID {
			continue
		}
		if r.Timestamp.Before(from) || !r.Timestamp.Before(to) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

type stubAlarmRepo struct {
	stats alarms.Stats
	open  []alarms.Alarm
}

func (s *stubAlarmRepo) Create(context.Context, *alarms.Alarm) error { return nil }

func (s *stubAlarmRepo) GetByID(context.Context, string) (*alarms.Alarm, error) { return nil, nil }

func (s *stubAlarmRepo) FindOpenByDeviceParameter(context.Context, string, string) (*alarms.Alarm, error) {
	return nil, nil
}

func (s *stubAlarmRepo) UpdateLastValue(context.Context, string, float64, time.Time) error {
	return nil
}

func (s *stubAlarmRepo) MarkAcknowledged(context.Context, string, string, time.Time) error {
	return nil
}

func (s *stubAlarmRepo) Delete(context.Context, string) error { return nil }

func (s *stubAlarmRepo) DeleteByFilter(context.Context, alarms.Filter) (int64, error) {
	return 0, nil
}

func (s *stubAlarmRepo) DeleteAcknowledgedBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (s *stubAlarmRepo) List(_ context.Context, filter alarms.Filter) ([]alarms.Alarm, error) {
	var out []alarms.Alarm
	for _, a := range s.open {
		if filter.DeviceID != "" && a.DeviceID != filter.DeviceID {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *stubAlarmRepo) Stats(context.Context) (alarms.Stats, error) { return s.stats, nil }

type memoryKV struct {
	mu      sync.Mutex
	entries map[string]string
}

func newMemoryKV() *memoryKV {
	return &memoryKV{entries: map[string]string{}}
}

func (m *memoryKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.entries[key]
	if !ok {
		return "", cache.ErrMiss
	}
	return val, nil
}

func (m *memoryKV) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	return nil
}

func (m *memoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func sampleTime(minute int) time.Time {
	return time.Date(2026, 8, 3, 14, minute, 0, 0, time.UTC)
}

func sampleFleet() []devices.Device {
	return []devices.Device{
		{ID: "d-1", ClientID: "SMS-001", Active: true},
		{ID: "d-2", ClientID: "SMS-002", Active: true},
		{ID: "d-3", ClientID: "EVC-003", Active: false},
	}
}

func tempReading(deviceID string, at time.Time, temp float64) telemetry.Reading {
	return telemetry.Reading{
		ID:          deviceID + at.Format("150405"),
		DeviceID:    deviceID,
		ClientID:    "SMS-001",
		Timestamp:   at,
		Temperature: &temp,
	}
}

func newDashboard(t *testing.T, deviceRepo devices.Repository, readingRepo telemetry.Repository, alarmRepo alarms.Repository) *Dashboard {
	t.Helper()
	dashboard, err := NewDashboard(deviceRepo, readingRepo, alarmRepo, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewDashboard: %v", err)
	}
	return dashboard
}

func TestOverviewCountsFleetAndAlarms(t *testing.T) {
	stats := alarms.Stats{
		Total:          4,
		Unacknowledged: 2,
		BySeverity:     map[thresholds.Severity]int{thresholds.SeverityHigh: 2},
	}
	dashboard := newDashboard(t,
		&stubDeviceRepo{fleet: sampleFleet()},
		&stubReadingRepo{},
		&stubAlarmRepo{stats: stats},
	)

	overview, err := dashboard.Overview(context.Background())
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if overview.Devices != 3 || overview.Online != 2 || overview.Offline != 1 {
		t.Fatalf("overview = %+v", overview)
	}
	if overview.Alarms.Unacknowledged != 2 {
		t.Fatalf("alarm stats = %+v", overview.Alarms)
	}
}

func TestDeviceDetailJoinsReadingsAndAlarms(t *testing.T) {
	readings := &stubReadingRepo{readings: []telemetry.Reading{
		tempReading("d-1", sampleTime(0), 41),
		tempReading("d-1", sampleTime(5), 43),
	}}
	alarmRepo := &stubAlarmRepo{open: []alarms.Alarm{
		{ID: "a-1", DeviceID: "d-1", Parameter: "T12", Severity: thresholds.SeverityHigh, Value: 80},
	}}
	dashboard := newDashboard(t, &stubDeviceRepo{fleet: sampleFleet()}, readings, alarmRepo)

	detail, err := dashboard.DeviceDetail(context.Background(), "SMS-001", 10)
	if err != nil {
		t.Fatalf("DeviceDetail: %v", err)
	}
	if detail.Latest == nil || detail.Latest.Temperature == nil || *detail.Latest.Temperature != 43 {
		t.Fatalf("latest = %+v", detail.Latest)
	}
	if len(detail.Recent) != 2 {
		t.Fatalf("recent = %d readings", len(detail.Recent))
	}
	if len(detail.OpenAlarms) != 1 || detail.OpenAlarms[0].ID != "a-1" {
		t.Fatalf("open alarms = %+v", detail.OpenAlarms)
	}
}

func TestDeviceDetailUnknownClient(t *testing.T) {
	dashboard := newDashboard(t, &stubDeviceRepo{}, &stubReadingRepo{}, &stubAlarmRepo{})
	if _, err := dashboard.DeviceDetail(context.Background(), "nope", 10); err != devices.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSeriesComputesSummary(t *testing.T) {
	readings := &stubReadingRepo{readings: []telemetry.Reading{
		tempReading("d-1", sampleTime(0), 40),
		tempReading("d-1", sampleTime(5), 50),
		tempReading("d-1", sampleTime(10), 60),
	}}
	dashboard := newDashboard(t, &stubDeviceRepo{fleet: sampleFleet()}, readings, &stubAlarmRepo{})

	series, err := dashboard.Series(context.Background(), "SMS-001", "T12", sampleTime(0), sampleTime(11))
	if err != nil {
		t.Fatalf("Series: %v", err)
	}
	if series.Count != 3 {
		t.Fatalf("count = %d", series.Count)
	}
	if series.Min != 40 || series.Max != 60 || series.Average != 50 {
		t.Fatalf("summary = min %v max %v avg %v", series.Min, series.Max, series.Average)
	}
}

func TestSeriesSkipsReadingsWithoutParameter(t *testing.T) {
	flow := 12.5
	readings := &stubReadingRepo{readings: []telemetry.Reading{
		tempReading("d-1", sampleTime(0), 40),
		{ID: "r-flow", DeviceID: "d-1", ClientID: "SMS-001", Timestamp: sampleTime(5), FlowRate: &flow},
	}}
	dashboard := newDashboard(t, &stubDeviceRepo{fleet: sampleFleet()}, readings, &stubAlarmRepo{})

	series, err := dashboard.Series(context.Background(), "SMS-001", "T12", sampleTime(0), sampleTime(10))
	if err != nil {
		t.Fatalf("Series: %v", err)
	}
	if series.Count != 1 {
		t.Fatalf("count = %d, want 1", series.Count)
	}
}

func TestSeriesEmptyWindowHasZeroSummary(t *testing.T) {
	dashboard := newDashboard(t, &stubDeviceRepo{fleet: sampleFleet()}, &stubReadingRepo{}, &stubAlarmRepo{})

	series, err := dashboard.Series(context.Background(), "SMS-001", "T12", sampleTime(0), sampleTime(10))
	if err != nil {
		t.Fatalf("Series: %v", err)
	}
	if series.Count != 0 || series.Min != 0 || series.Max != 0 || series.Average != 0 {
		t.Fatalf("series = %+v", series)
	}
}

func TestCachedOverviewHitsCacheOnSecondCall(t *testing.T) {
	deviceRepo := &stubDeviceRepo{fleet: sampleFleet()}
	dashboard := newDashboard(t, deviceRepo, &stubReadingRepo{}, &stubAlarmRepo{})
	cached, err := NewCachedDashboard(dashboard, newMemoryKV(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewCachedDashboard: %v", err)
	}

	first, err := cached.Overview(context.Background())
	if err != nil {
		t.Fatalf("first Overview: %v", err)
	}
	second, err := cached.Overview(context.Background())
	if err != nil {
		t.Fatalf("second Overview: %v", err)
	}
	if deviceRepo.calls != 1 {
		t.Fatalf("device repo called %d times, want 1", deviceRepo.calls)
	}
	if first.Devices != second.Devices || first.Online != second.Online {
		t.Fatalf("cached overview differs: %+v vs %+v", first, second)
	}
}
