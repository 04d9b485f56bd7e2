package telemetry

// Register codes used by the field units (SMS/EVC/FC firmware map).
const (
	RegisterDifferentialPressure = "T10"
	RegisterStaticPressure       = "T11"
	RegisterTemperature          = "T12"
	RegisterFlowRate             = "T13"
	RegisterVolume               = "T14"
	RegisterBattery              = "T15"
	RegisterMaxStaticPressure    = "T16"
	RegisterMinStaticPressure    = "T17"
)

// RegisterLabel maps a register code to its human name. Unknown codes
// return the code itself.
func RegisterLabel(code string) string {
	switch code {
	case RegisterDifferentialPressure:
		return "differential_pressure"
	case RegisterStaticPressure:
		return "static_pressure"
	case RegisterTemperature:
		return "temperature"
	case RegisterFlowRate:
		return "flow_rate"
	case RegisterVolume:
		return "volume"
	case RegisterBattery:
		return "battery"
	case RegisterMaxStaticPressure:
		return "max_static_pressure"
	case RegisterMinStaticPressure:
		return "min_static_pressure"
	default:
		return code
	}
}
