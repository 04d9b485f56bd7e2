package interfaces

import (
	"context"
	"errors"

	alarmapp "gasgrid-cloud/internal/alarms/application"
	telemetryevents "gasgrid-cloud/internal/telemetry/application/events"
)

// ReadingReceivedConsumer adapts reading events into the alarm service.
type ReadingReceivedConsumer struct {
	app *alarmapp.Service
}

// NewReadingReceivedConsumer constructs a consumer.
func NewReadingReceivedConsumer(app *alarmapp.Service) (*ReadingReceivedConsumer, error) {
	if app == nil {
		return nil, errors.New("alarms consumer: nil service")
	}
	return &ReadingReceivedConsumer{app: app}, nil
}

// Consume handles a reading received event.
func (c *ReadingReceivedConsumer) Consume(ctx context.Context, event telemetryevents.ReadingReceived) error {
	return c.app.HandleReadingReceived(ctx, event)
}
