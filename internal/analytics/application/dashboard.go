package application

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog"

	alarms "gasgrid-cloud/internal/alarms/domain"
	devices "gasgrid-cloud/internal/devices/domain"
	telemetry "gasgrid-cloud/internal/telemetry/domain"
)

// Overview is the fleet summary shown on the dashboard landing page.
type Overview struct {
	Devices     int          `json:"devices"`
	Online      int          `json:"online"`
	Offline     int          `json:"offline"`
	Alarms      alarms.Stats `json:"alarms"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// DeviceDetail combines a device with its freshest telemetry and open
// alarms.
type DeviceDetail struct {
	Device     devices.Device      `json:"device"`
	Latest     *telemetry.Reading  `json:"latest,omitempty"`
	Recent     []telemetry.Reading `json:"recent"`
	OpenAlarms []alarms.Alarm      `json:"open_alarms"`
}

// SeriesPoint is one sample of one parameter.
type SeriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Series is a parameter history for charting, with summary stats over
// the window.
type Series struct {
	DeviceID  string        `json:"device_id"`
	Parameter string        `json:"parameter"`
	From      time.Time     `json:"from"`
	To        time.Time     `json:"to"`
	Points    []SeriesPoint `json:"points"`
	Count     int           `json:"count"`
	Min       float64       `json:"min"`
	Max       float64       `json:"max"`
	Average   float64       `json:"average"`
}

// Dashboard serves read-side queries over devices, readings and alarms.
type Dashboard struct {
	devices  devices.Repository
	readings telemetry.Repository
	alarms   alarms.Repository
	logger   zerolog.Logger
}

// NewDashboard constructs the read side.
func NewDashboard(deviceRepo devices.Repository, readingRepo telemetry.Repository, alarmRepo alarms.Repository, logger zerolog.Logger) (*Dashboard, error) {
	if deviceRepo == nil {
		return nil, errors.New("dashboard: nil device repository")
	}
	if readingRepo == nil {
		return nil, errors.New("dashboard: nil reading repository")
	}
	if alarmRepo == nil {
		return nil, errors.New("dashboard: nil alarm repository")
	}
	return &Dashboard{
		devices:  deviceRepo,
		readings: readingRepo,
		alarms:   alarmRepo,
		logger:   logger,
	}, nil
}

// Overview builds the fleet summary.
func (d *Dashboard) Overview(ctx context.Context) (*Overview, error) {
	if d == nil {
		return nil, errors.New("dashboard: nil service")
	}
	fleet, err := d.devices.List(ctx)
	if err != nil {
		return nil, err
	}
	online := 0
	for _, device := range fleet {
		if device.Active {
			online++
		}
	}
	stats, err := d.alarms.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &Overview{
		Devices:     len(fleet),
		Online:      online,
		Offline:     len(fleet) - online,
		Alarms:      stats,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// DeviceDetail loads one device's dashboard card by client id.
func (d *Dashboard) DeviceDetail(ctx context.Context, clientID string, recentLimit int) (*DeviceDetail, error) {
	if d == nil {
		return nil, errors.New("dashboard: nil service")
	}
	device, err := d.devices.GetByClientID(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, devices.ErrNotFound
	}
	latest, err := d.readings.Latest(ctx, device.ID)
	if err != nil {
		return nil, err
	}
	recent, err := d.readings.ListRecent(ctx, device.ID, recentLimit)
	if err != nil {
		return nil, err
	}
	open, err := d.alarms.List(ctx, alarms.Filter{
		DeviceID:     device.ID,
		Acknowledged: boolPtr(false),
	})
	if err != nil {
		return nil, err
	}
	if recent == nil {
		recent = []telemetry.Reading{}
	}
	if open == nil {
		open = []alarms.Alarm{}
	}
	return &DeviceDetail{
		Device:     *device,
		Latest:     latest,
		Recent:     recent,
		OpenAlarms: open,
	}, nil
}

// Series extracts one parameter's history over [from, to) for a device.
func (d *Dashboard) Series(ctx context.Context, clientID, parameter string, from, to time.Time) (*Series, error) {
	if d == nil {
		return nil, errors.New("dashboard: nil service")
	}
	if parameter == "" {
		return nil, errors.New("dashboard: empty parameter")
	}
	if !to.After(from) {
		return nil, errors.New("dashboard: empty time window")
	}
	device, err := d.devices.GetByClientID(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, devices.ErrNotFound
	}
	readings, err := d.readings.ListRange(ctx, device.ID, from, to)
	if err != nil {
		return nil, err
	}

	series := &Series{
		DeviceID:  device.ID,
		Parameter: parameter,
		From:      from.UTC(),
		To:        to.UTC(),
		Points:    []SeriesPoint{},
		Min:       math.Inf(1),
		Max:       math.Inf(-1),
	}
	sum := 0.0
	for _, reading := range readings {
		value, ok := reading.Parameters()[parameter]
		if !ok {
			continue
		}
		series.Points = append(series.Points, SeriesPoint{
			Timestamp: reading.Timestamp,
			Value:     value,
		})
		sum += value
		series.Min = math.Min(series.Min, value)
		series.Max = math.Max(series.Max, value)
	}
	series.Count = len(series.Points)
	if series.Count == 0 {
		series.Min = 0
		series.Max = 0
		return series, nil
	}
	series.Average = sum / float64(series.Count)
	return series, nil
}

func boolPtr(v bool) *bool { return &v }
