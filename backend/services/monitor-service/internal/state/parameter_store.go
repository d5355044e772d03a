package state

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"packmon/backend/libs/lineproto"
)

var (
	// ErrInvalidValue is returned when an operator value is not a finite number.
	ErrInvalidValue = errors.New("state: invalid parameter value")
	// ErrThresholdOrder is returned by ValidateOrdering.
	ErrThresholdOrder = errors.New("state: threshold ordering violated")
)

// ParameterStore holds the operator's protection thresholds.
type ParameterStore struct {
	mu     sync.RWMutex
	params lineproto.Parameters
}

// NewParameterStore returns a store seeded with initial.
func NewParameterStore(initial lineproto.Parameters) *ParameterStore {
	return &ParameterStore{params: initial}
}

// Set updates a single threshold.
func (s *ParameterStore) Set(key lineproto.ParamKey, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidValue, value)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.params.With(key, value)
	if err != nil {
		return err
	}
	s.params = next
	return nil
}

// SetText applies an operator edit given as text. On any error the previous
// value is left in place.
func (s *ParameterStore) SetText(key, raw string) (lineproto.ParamKey, float64, error) {
	pk, err := lineproto.ParseParamKey(key)
	if err != nil {
		return "", 0, err
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return pk, 0, fmt.Errorf("%w: %q", ErrInvalidValue, raw)
	}
	if err := s.Set(pk, value); err != nil {
		return pk, 0, err
	}
	return pk, value, nil
}

// Snapshot returns the current thresholds.
func (s *ParameterStore) Snapshot() lineproto.Parameters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// ValidateOrdering checks under < over for both voltage and current. The
// device accepts any values, so callers only use this when configured to.
func ValidateOrdering(p lineproto.Parameters) error {
	if p.UnderVoltage >= p.OverVoltage {
		return fmt.Errorf("%w: under_voltage %s must be below over_voltage %s",
			ErrThresholdOrder, lineproto.FormatValue(p.UnderVoltage), lineproto.FormatValue(p.OverVoltage))
	}
	if p.UnderCurrent >= p.OverCurrent {
		return fmt.Errorf("%w: under_current %s must be below over_current %s",
			ErrThresholdOrder, lineproto.FormatValue(p.UnderCurrent), lineproto.FormatValue(p.OverCurrent))
	}
	return nil
}
