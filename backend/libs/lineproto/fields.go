// Package lineproto implements the ASCII key=value line protocol spoken by the
// pack controller: telemetry lines flow up from the device and parameter
// command lines flow down to it.
package lineproto

import "strconv"

// LineTerminator ends every line in both directions. Readers also accept CRLF.
const LineTerminator = "\n"

// Inbound telemetry keys.
const (
	KeyVoltage       = "V"
	KeyCurrent       = "I"
	KeyTemperature   = "T"
	KeyStateOfCharge = "SOC"
	KeyCellPrefix    = "C"
)

// Field identifies which telemetry value an Update targets.
type Field uint8

const (
	FieldUnknown Field = iota
	FieldVoltage
	FieldCurrent
	FieldTemperature
	FieldStateOfCharge
	FieldCell
)

func (f Field) String() string {
	switch f {
	case FieldVoltage:
		return "voltage"
	case FieldCurrent:
		return "current"
	case FieldTemperature:
		return "temperature"
	case FieldStateOfCharge:
		return "soc"
	case FieldCell:
		return "cell"
	default:
		return "unknown"
	}
}

// Update is a single parsed field assignment. Cell is the zero-based cell
// index and is only meaningful for FieldCell.
type Update struct {
	Field Field
	Cell  int
	Value float64
}

// FormatValue renders a number the way the protocol expects: plain decimal,
// no exponent, shortest text that parses back to the same float64.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
