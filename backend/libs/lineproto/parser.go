package lineproto

import (
	"math"
	"strconv"
	"strings"
)

// Result is the outcome of parsing one line. Dropped counts tokens that were
// recognised as malformed (missing '=', bad number, cell index out of range).
// Unknown keys are ignored without being counted.
type Result struct {
	Updates []Update
	Dropped int
}

// Parser turns telemetry lines into field updates for a pack of a fixed
// number of cells. It holds no mutable state and is safe for concurrent use.
type Parser struct {
	cells int
}

// NewParser returns a parser for a pack with the given number of cells.
func NewParser(cells int) *Parser {
	if cells < 0 {
		cells = 0
	}
	return &Parser{cells: cells}
}

// Cells returns the configured cell count.
func (p *Parser) Cells() int {
	return p.cells
}

// Parse decodes a single line (without its terminator). It never fails: each
// malformed token is skipped and the rest of the line still counts. Updates
// keep line order, so a repeated key resolves to its last occurrence once
// applied.
func (p *Parser) Parse(line string) Result {
	line = strings.TrimRight(line, "\r\n")
	var res Result
	if strings.TrimSpace(line) == "" {
		return res
	}

	for _, token := range strings.Split(line, ",") {
		if strings.TrimSpace(token) == "" {
			continue
		}

		key, raw, ok := strings.Cut(token, "=")
		if !ok {
			res.Dropped++
			continue
		}
		key = strings.TrimSpace(key)

		field, cell := classify(key)
		if field == FieldUnknown {
			continue
		}
		if field == FieldCell && (cell < 0 || cell >= p.cells) {
			res.Dropped++
			continue
		}

		value, ok := parseValue(raw)
		if !ok {
			res.Dropped++
			continue
		}

		res.Updates = append(res.Updates, Update{Field: field, Cell: cell, Value: value})
	}
	return res
}

// classify maps a key onto the closed set of known fields. Cell keys return
// their zero-based index, or -1 when the digits cannot name any cell.
func classify(key string) (Field, int) {
	switch key {
	case KeyVoltage:
		return FieldVoltage, 0
	case KeyCurrent:
		return FieldCurrent, 0
	case KeyTemperature:
		return FieldTemperature, 0
	case KeyStateOfCharge:
		return FieldStateOfCharge, 0
	}

	digits, ok := strings.CutPrefix(key, KeyCellPrefix)
	if !ok || digits == "" || !allDigits(digits) {
		return FieldUnknown, 0
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return FieldCell, -1
	}
	return FieldCell, n - 1
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// parseValue accepts anything strconv.ParseFloat does except NaN and the
// infinities, which cannot be represented in the JSON snapshots.
func parseValue(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
