package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// TurnPhaseStats summarizes recent latency samples for one turn phase.
type TurnPhaseStats struct {
	Phase   string  `json:"phase"`
	Samples int     `json:"samples"`
	LastMS  float64 `json:"last_ms"`
	AvgMS   float64 `json:"avg_ms"`
	P50MS   float64 `json:"p50_ms"`
	P95MS   float64 `json:"p95_ms"`
}

// TurnPhaseSnapshot is the rolling-window view served by the perf endpoint.
type TurnPhaseSnapshot struct {
	GeneratedAt time.Time        `json:"generated_at"`
	WindowSize  int              `json:"window_size"`
	Phases      []TurnPhaseStats `json:"phases"`
}

type turnPhaseWindow struct {
	mu         sync.RWMutex
	maxSamples int
	phases     map[string]*phaseBuffer
}

type phaseBuffer struct {
	values []float64
	next   int
	filled bool
	last   float64
}

func newTurnPhaseWindow(maxSamples int) *turnPhaseWindow {
	if maxSamples <= 0 {
		maxSamples = 256
	}
	return &turnPhaseWindow{
		maxSamples: maxSamples,
		phases:     make(map[string]*phaseBuffer),
	}
}

func (w *turnPhaseWindow) Observe(phase string, ms float64) {
	if phase == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	buf, ok := w.phases[phase]
	if !ok {
		buf = &phaseBuffer{values: make([]float64, w.maxSamples)}
		w.phases[phase] = buf
	}
	buf.values[buf.next] = ms
	buf.last = ms
	buf.next++
	if buf.next >= len(buf.values) {
		buf.next = 0
		buf.filled = true
	}
}

func (w *turnPhaseWindow) Snapshot() TurnPhaseSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	keys := make([]string, 0, len(w.phases))
	for phase := range w.phases {
		keys = append(keys, phase)
	}
	sort.Strings(keys)

	phases := make([]TurnPhaseStats, 0, len(keys))
	for _, phase := range keys {
		buf := w.phases[phase]
		n := buf.next
		if buf.filled {
			n = len(buf.values)
		}
		if n <= 0 {
			continue
		}
		samples := make([]float64, n)
		copy(samples, buf.values[:n])
		sort.Float64s(samples)

		sum := 0.0
		for _, v := range samples {
			sum += v
		}

		phases = append(phases, TurnPhaseStats{
			Phase:   phase,
			Samples: n,
			LastMS:  round2(buf.last),
			AvgMS:   round2(sum / float64(n)),
			P50MS:   round2(quantile(samples, 0.50)),
			P95MS:   round2(quantile(samples, 0.95)),
		})
	}

	return TurnPhaseSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.maxSamples,
		Phases:      phases,
	}
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
