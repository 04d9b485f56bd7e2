package application

import (
	thresholds "gasgrid-cloud/internal/thresholds/domain"
)

// Breach is one parameter value landing inside an alarm band.
type Breach struct {
	Parameter string
	Value     float64
	Severity  thresholds.Severity
	Band      thresholds.Band
}

// Evaluate checks a value against the threshold's bands in severity
// order, high first, and returns the first match. Overlapping bands
// resolve to the most severe one. highUnbounded drops the upper bound
// of the high band so extreme excursions still alarm.
func Evaluate(threshold thresholds.Threshold, parameter string, value float64, highUnbounded bool) (Breach, bool) {
	for _, band := range threshold.Bands(highUnbounded) {
		if band.Contains(value) {
			return Breach{
				Parameter: parameter,
				Value:     value,
				Severity:  band.Severity,
				Band:      band,
			}, true
		}
	}
	return Breach{}, false
}
