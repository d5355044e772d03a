package simulator

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"packmon/backend/libs/lineproto"
)

const (
	capacityAh     = 100.0
	ambientCelsius = 25.0
	cellEmpty      = 3.0
	cellFull       = 4.15
	cellResistance = 0.002
	currentSwing   = 20.0
	currentPeriod  = 60 * time.Second
)

// Pack is a simple electrical model of a battery pack. Positive current is
// discharge.
type Pack struct {
	mu          sync.Mutex
	offsets     []float64
	cells       []float64
	current     float64
	temperature float64
	soc         float64
	elapsed     time.Duration
	params      lineproto.Parameters
	configured  bool
	tripped     bool
}

// NewPack returns a pack with cells cells at 80% charge. seed fixes the
// per-cell imbalance.
func NewPack(cells int, seed int64) *Pack {
	if cells < 1 {
		cells = 1
	}
	rng := rand.New(rand.NewSource(seed))
	p := &Pack{
		offsets:     make([]float64, cells),
		cells:       make([]float64, cells),
		temperature: ambientCelsius,
		soc:         80,
	}
	for i := range p.offsets {
		p.offsets[i] = (rng.Float64() - 0.5) * 0.02
	}
	p.updateCells()
	return p
}

// Cells returns the number of cells.
func (p *Pack) Cells() int {
	return len(p.cells)
}

// Step advances the model by dt and returns the new reading.
func (p *Pack) Step(dt time.Duration) lineproto.Reading {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.elapsed += dt
	phase := 2 * math.Pi * p.elapsed.Seconds() / currentPeriod.Seconds()
	p.current = currentSwing * math.Sin(phase)
	if p.tripped {
		p.current = 0
	}

	hours := dt.Hours()
	p.soc = clamp(p.soc-p.current*hours/capacityAh*100, 0, 100)
	p.temperature += (0.02*math.Abs(p.current) - 0.05*(p.temperature-ambientCelsius)) * dt.Seconds() / 10
	p.updateCells()

	if p.configured && !p.tripped && p.violates() {
		p.tripped = true
	}
	return p.reading()
}

func (p *Pack) updateCells() {
	base := cellEmpty + (cellFull-cellEmpty)*p.soc/100
	for i := range p.cells {
		p.cells[i] = round(base+p.offsets[i]-cellResistance*p.current, 3)
	}
}

func (p *Pack) violates() bool {
	for _, v := range p.cells {
		if v < p.params.UnderVoltage || v > p.params.OverVoltage {
			return true
		}
	}
	return p.current < p.params.UnderCurrent || p.current > p.params.OverCurrent
}

func (p *Pack) reading() lineproto.Reading {
	var total float64
	for _, v := range p.cells {
		total += v
	}
	return lineproto.Reading{
		Voltage:       round(total, 2),
		Current:       round(p.current, 2),
		Temperature:   round(p.temperature, 1),
		StateOfCharge: round(p.soc, 1),
		Cells:         append([]float64(nil), p.cells...),
	}
}

// ApplyParameters installs new protection thresholds and clears a trip.
func (p *Pack) ApplyParameters(params lineproto.Parameters) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.params = params
	p.configured = true
	p.tripped = false
}

// Parameters returns the installed thresholds.
func (p *Pack) Parameters() lineproto.Parameters {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.params
}

// Tripped reports whether protection has cut the current.
func (p *Pack) Tripped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tripped
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
