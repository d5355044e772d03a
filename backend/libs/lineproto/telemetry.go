package lineproto

import (
	"strconv"
	"strings"
)

// Reading is a full telemetry frame as the device would send it.
type Reading struct {
	Voltage       float64
	Current       float64
	Temperature   float64
	StateOfCharge float64
	Cells         []float64
}

// EncodeTelemetry renders r as an inbound telemetry line, terminator included.
func EncodeTelemetry(r Reading) string {
	var b strings.Builder
	writePair(&b, KeyVoltage, r.Voltage)
	b.WriteByte(',')
	writePair(&b, KeyCurrent, r.Current)
	b.WriteByte(',')
	writePair(&b, KeyTemperature, r.Temperature)
	b.WriteByte(',')
	writePair(&b, KeyStateOfCharge, r.StateOfCharge)
	for i, v := range r.Cells {
		b.WriteByte(',')
		writePair(&b, KeyCellPrefix+strconv.Itoa(i+1), v)
	}
	b.WriteString(LineTerminator)
	return b.String()
}

func writePair(b *strings.Builder, key string, v float64) {
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(FormatValue(v))
}
