package application

import (
	"context"
	"errors"
	"time"

	alarms "gasgrid-cloud/internal/alarms/domain"
	devices "gasgrid-cloud/internal/devices/domain"
	telemetry "gasgrid-cloud/internal/telemetry/domain"
)

// Report is the material for one device report over a time window.
type Report struct {
	Device      devices.Device
	From        time.Time
	To          time.Time
	Readings    []telemetry.Reading
	Alarms      []alarms.Alarm
	GeneratedAt time.Time
}

// Service assembles device reports.
type Service struct {
	devices  devices.Repository
	readings telemetry.Repository
	alarms   alarms.Repository
}

// NewService constructs a report service.
func NewService(deviceRepo devices.Repository, readingRepo telemetry.Repository, alarmRepo alarms.Repository) (*Service, error) {
	if deviceRepo == nil {
		return nil, errors.New("reports: nil device repository")
	}
	if readingRepo == nil {
		return nil, errors.New("reports: nil reading repository")
	}
	if alarmRepo == nil {
		return nil, errors.New("reports: nil alarm repository")
	}
	return &Service{devices: deviceRepo, readings: readingRepo, alarms: alarmRepo}, nil
}

// Build gathers readings and alarms for a device over [from, to).
func (s *Service) Build(ctx context.Context, clientID string, from, to time.Time) (*Report, error) {
	if s == nil {
		return nil, errors.New("reports: nil service")
	}
	if !to.After(from) {
		return nil, errors.New("reports: empty time window")
	}
	device, err := s.devices.GetByClientID(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, devices.ErrNotFound
	}
	readings, err := s.readings.ListRange(ctx, device.ID, from, to)
	if err != nil {
		return nil, err
	}
	alarmList, err := s.alarms.List(ctx, alarms.Filter{
		DeviceID: device.ID,
		From:     from,
		To:       to,
	})
	if err != nil {
		return nil, err
	}
	return &Report{
		Device:      *device,
		From:        from.UTC(),
		To:          to.UTC(),
		Readings:    readings,
		Alarms:      alarmList,
		GeneratedAt: time.Now().UTC(),
	}, nil
}
