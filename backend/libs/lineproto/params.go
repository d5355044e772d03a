package lineproto

import (
	"errors"
	"fmt"
	"strings"
)

// ParamKey names a protection threshold on the wire.
type ParamKey string

const (
	ParamUnderVoltage ParamKey = "UV"
	ParamOverVoltage  ParamKey = "OV"
	ParamUnderCurrent ParamKey = "UC"
	ParamOverCurrent  ParamKey = "OC"
)

// ParamKeys lists the thresholds in command order.
var ParamKeys = []ParamKey{ParamUnderVoltage, ParamOverVoltage, ParamUnderCurrent, ParamOverCurrent}

var (
	ErrUnknownParameter  = errors.New("lineproto: unknown parameter")
	ErrIncompleteCommand = errors.New("lineproto: incomplete parameter command")
)

var paramAliases = map[string]ParamKey{
	"uv":            ParamUnderVoltage,
	"under_voltage": ParamUnderVoltage,
	"ov":            ParamOverVoltage,
	"over_voltage":  ParamOverVoltage,
	"uc":            ParamUnderCurrent,
	"under_current": ParamUnderCurrent,
	"oc":            ParamOverCurrent,
	"over_current":  ParamOverCurrent,
}

// ParseParamKey accepts the wire names (UV, OV, UC, OC) and the long
// snake_case names, case-insensitively.
func ParseParamKey(s string) (ParamKey, error) {
	key, ok := paramAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownParameter, s)
	}
	return key, nil
}

// Parameters is the set of protection thresholds pushed to the device.
// Voltages are per cell, currents are pack level.
type Parameters struct {
	UnderVoltage float64 `json:"under_voltage"`
	OverVoltage  float64 `json:"over_voltage"`
	UnderCurrent float64 `json:"under_current"`
	OverCurrent  float64 `json:"over_current"`
}

// Get returns the value stored under key.
func (p Parameters) Get(key ParamKey) float64 {
	switch key {
	case ParamUnderVoltage:
		return p.UnderVoltage
	case ParamOverVoltage:
		return p.OverVoltage
	case ParamUnderCurrent:
		return p.UnderCurrent
	case ParamOverCurrent:
		return p.OverCurrent
	}
	return 0
}

// With returns a copy of p with key set to value.
func (p Parameters) With(key ParamKey, value float64) (Parameters, error) {
	switch key {
	case ParamUnderVoltage:
		p.UnderVoltage = value
	case ParamOverVoltage:
		p.OverVoltage = value
	case ParamUnderCurrent:
		p.UnderCurrent = value
	case ParamOverCurrent:
		p.OverCurrent = value
	default:
		return p, fmt.Errorf("%w: %q", ErrUnknownParameter, string(key))
	}
	return p, nil
}

// EncodeParameters renders the command line sent to the device, terminator
// included: UV=<uv>,OV=<ov>,UC=<uc>,OC=<oc>\n
func EncodeParameters(p Parameters) string {
	var b strings.Builder
	for i, key := range ParamKeys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(string(key))
		b.WriteByte('=')
		b.WriteString(FormatValue(p.Get(key)))
	}
	b.WriteString(LineTerminator)
	return b.String()
}

// ParseParameters decodes a command line produced by EncodeParameters. All
// four thresholds must be present and numeric; unknown keys are ignored.
func ParseParameters(line string) (Parameters, error) {
	line = strings.TrimRight(line, "\r\n")

	var (
		p    Parameters
		seen = make(map[ParamKey]bool, len(ParamKeys))
	)
	for _, token := range strings.Split(line, ",") {
		rawKey, rawValue, ok := strings.Cut(token, "=")
		if !ok {
			continue
		}
		key := ParamKey(strings.TrimSpace(rawKey))
		value, ok := parseValue(rawValue)
		if !ok {
			continue
		}
		next, err := p.With(key, value)
		if err != nil {
			continue
		}
		p = next
		seen[key] = true
	}

	for _, key := range ParamKeys {
		if !seen[key] {
			return Parameters{}, fmt.Errorf("%w: missing %s", ErrIncompleteCommand, key)
		}
	}
	return p, nil
}
