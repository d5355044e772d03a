package state

import (
	"sync"
	"sync/atomic"
	"time"

	"packmon/backend/libs/lineproto"
)

// Telemetry is a point-in-time copy of the latest pack readings. Current is
// passed through with the sign the firmware uses.
type Telemetry struct {
	PackVoltage     float64   `json:"pack_voltage"`
	PackCurrent     float64   `json:"pack_current"`
	PackTemperature float64   `json:"pack_temperature"`
	StateOfCharge   float64   `json:"state_of_charge"`
	CellVoltages    []float64 `json:"cell_voltages"`
	// Sequence changes whenever the snapshot changes; zero means no data yet.
	Sequence  uint64    `json:"sequence"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CellStats summarises the spread between cells.
type CellStats struct {
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Spread   float64 `json:"spread"`
	MinIndex int     `json:"min_index"`
	MaxIndex int     `json:"max_index"`
}

// CellStats computes min/max cell voltages. Indexes are zero-based.
func (t Telemetry) CellStats() CellStats {
	if len(t.CellVoltages) == 0 {
		return CellStats{}
	}
	st := CellStats{Min: t.CellVoltages[0], Max: t.CellVoltages[0]}
	for i, v := range t.CellVoltages[1:] {
		if v < st.Min {
			st.Min, st.MinIndex = v, i+1
		}
		if v > st.Max {
			st.Max, st.MaxIndex = v, i+1
		}
	}
	st.Spread = st.Max - st.Min
	return st
}

// PackPower returns V*I in watts, signed like the current.
func (t Telemetry) PackPower() float64 {
	return t.PackVoltage * t.PackCurrent
}

func (t Telemetry) clone() Telemetry {
	out := t
	out.CellVoltages = append([]float64(nil), t.CellVoltages...)
	return out
}

func (t *Telemetry) apply(u lineproto.Update) {
	switch u.Field {
	case lineproto.FieldVoltage:
		t.PackVoltage = u.Value
	case lineproto.FieldCurrent:
		t.PackCurrent = u.Value
	case lineproto.FieldTemperature:
		t.PackTemperature = u.Value
	case lineproto.FieldStateOfCharge:
		t.StateOfCharge = u.Value
	case lineproto.FieldCell:
		if u.Cell >= 0 && u.Cell < len(t.CellVoltages) {
			t.CellVoltages[u.Cell] = u.Value
		}
	}
}

// TelemetryStore holds the latest telemetry for a pack with a fixed cell
// count. Published snapshots are immutable; writers build a new one and swap
// it in, so readers never wait on a writer and never see half a line.
type TelemetryStore struct {
	mu      sync.Mutex
	current atomic.Pointer[Telemetry]
	cells   int
	now     func() time.Time
}

// NewTelemetryStore returns a zeroed store for cells cells.
func NewTelemetryStore(cells int) *TelemetryStore {
	if cells < 0 {
		cells = 0
	}
	s := &TelemetryStore{cells: cells, now: time.Now}
	s.current.Store(&Telemetry{CellVoltages: make([]float64, cells)})
	return s
}

// Cells returns the pack's cell count.
func (s *TelemetryStore) Cells() int {
	return s.cells
}

// Apply merges one line's updates and publishes them together. Cell updates
// outside the pack are skipped. It reports whether a new snapshot was published.
func (s *TelemetryStore) Apply(updates []lineproto.Update) bool {
	if len(updates) == 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Load().clone()
	for _, u := range updates {
		next.apply(u)
	}
	next.Sequence++
	next.UpdatedAt = s.now().UTC()
	s.current.Store(&next)
	return true
}

// Reset drops all readings, keeping the sequence moving so pollers notice.
func (s *TelemetryStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.current.Load().Sequence
	s.current.Store(&Telemetry{
		CellVoltages: make([]float64, s.cells),
		Sequence:     seq + 1,
		UpdatedAt:    s.now().UTC(),
	})
}

// Read returns a copy of the current snapshot.
func (s *TelemetryStore) Read() Telemetry {
	return s.current.Load().clone()
}
