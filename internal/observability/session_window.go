package observability

import (
	"maps"
	"slices"
	"sync"
	"time"
)

// Timing stages recorded for each voice session.
const (
	StageConnect    = "connect"
	StageFirstAudio = "first_audio"
	StageStop       = "stop"
)

var stageOrder = []string{StageConnect, StageFirstAudio, StageStop}

// stageBudgets are the p95 latencies a healthy deployment stays under.
var stageBudgets = map[string]time.Duration{
	StageConnect:    1500 * time.Millisecond,
	StageFirstAudio: 1400 * time.Millisecond,
	StageStop:       600 * time.Millisecond,
}

// SessionTiming holds the stage latencies measured for one session.
type SessionTiming struct {
	SessionID string             `json:"session_id"`
	StagesMS  map[string]float64 `json:"stages_ms"`
}

// StageSummary aggregates one stage across the retained sessions.
type StageSummary struct {
	Stage      string  `json:"stage"`
	Samples    int     `json:"samples"`
	P50MS      float64 `json:"p50_ms"`
	P95MS      float64 `json:"p95_ms"`
	MaxMS      float64 `json:"max_ms"`
	BudgetMS   float64 `json:"budget_ms"`
	OverBudget int     `json:"over_budget"`
}

// LatencyReport is the JSON view of the session window. Sessions are newest first.
type LatencyReport struct {
	GeneratedAt    time.Time         `json:"generated_at"`
	Sessions       []SessionTiming   `json:"sessions"`
	Stages         []StageSummary    `json:"stages"`
	Drops          map[string]uint64 `json:"drops"`
	UpstreamErrors map[string]uint64 `json:"upstream_errors"`
}

// sessionWindow keeps stage timings for the most recent sessions plus
// process-lifetime counters of dropped frames and upstream errors.
type sessionWindow struct {
	mu       sync.Mutex
	capacity int
	order    []string
	timings  map[string]map[string]float64
	drops    map[string]uint64
	upstream map[string]uint64
}

func newSessionWindow(capacity int) *sessionWindow {
	if capacity <= 0 {
		capacity = 128
	}
	return &sessionWindow{
		capacity: capacity,
		timings:  make(map[string]map[string]float64),
		drops:    make(map[string]uint64),
		upstream: make(map[string]uint64),
	}
}

func (w *sessionWindow) record(sessionID, stage string, d time.Duration) {
	if sessionID == "" || d < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	stages, ok := w.timings[sessionID]
	if !ok {
		if len(w.order) >= w.capacity {
			delete(w.timings, w.order[0])
			w.order = append(w.order[:0], w.order[1:]...)
		}
		stages = make(map[string]float64, len(stageOrder))
		w.timings[sessionID] = stages
		w.order = append(w.order, sessionID)
	}
	stages[stage] = durationMS(d)
}

func (w *sessionWindow) countDrop(reason string) {
	w.mu.Lock()
	w.drops[reason]++
	w.mu.Unlock()
}

func (w *sessionWindow) countUpstreamError(op string) {
	w.mu.Lock()
	w.upstream[op]++
	w.mu.Unlock()
}

func (w *sessionWindow) report() LatencyReport {
	w.mu.Lock()
	defer w.mu.Unlock()

	rep := LatencyReport{
		GeneratedAt:    time.Now().UTC(),
		Sessions:       make([]SessionTiming, 0, len(w.order)),
		Stages:         []StageSummary{},
		Drops:          maps.Clone(w.drops),
		UpstreamErrors: maps.Clone(w.upstream),
	}
	samples := make(map[string][]float64, len(stageOrder))
	for i := len(w.order) - 1; i >= 0; i-- {
		id := w.order[i]
		stages := w.timings[id]
		rep.Sessions = append(rep.Sessions, SessionTiming{SessionID: id, StagesMS: maps.Clone(stages)})
		for stage, ms := range stages {
			samples[stage] = append(samples[stage], ms)
		}
	}

	for _, stage := range stageOrder {
		vals := samples[stage]
		if len(vals) == 0 {
			continue
		}
		slices.Sort(vals)
		budget := durationMS(stageBudgets[stage])
		over := 0
		for _, v := range vals {
			if v > budget {
				over++
			}
		}
		rep.Stages = append(rep.Stages, StageSummary{
			Stage:      stage,
			Samples:    len(vals),
			P50MS:      nearestRank(vals, 50),
			P95MS:      nearestRank(vals, 95),
			MaxMS:      vals[len(vals)-1],
			BudgetMS:   budget,
			OverBudget: over,
		})
	}
	return rep
}

// nearestRank returns the p-th percentile of sorted, which must be non-empty.
func nearestRank(sorted []float64, p int) float64 {
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
