package thresholds

import "errors"

var (
	// ErrNotFound is returned when a threshold row does not exist.
	ErrNotFound = errors.New("thresholds: not found")
	// ErrNotConfigured is returned when no enabled threshold covers a
	// device/parameter pair. Readings for such parameters are stored
	// without alarm evaluation.
	ErrNotConfigured = errors.New("thresholds: not configured")
)
