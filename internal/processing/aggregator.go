package processing

import (
	"sync"

	"depth-overlay-go/internal/types"
)

type ReadingStats struct {
	Count  uint64
	Errors uint64
	Last   float64
	Min    float64
	Max    float64
	sum    float64
}

// Aggregator keeps running distance statistics per sample point label.
type Aggregator struct {
	mu         sync.Mutex
	labels     []string
	frameCount uint64
	lastSeq    uint64
	data       map[string]*ReadingStats
}

func NewAggregator(points []types.SamplePoint) *Aggregator {
	labels := make([]string, 0, len(points))
	for _, p := range points {
		labels = append(labels, p.Label)
	}
	return &Aggregator{
		labels: labels,
		data:   make(map[string]*ReadingStats, len(labels)),
	}
}

func (a *Aggregator) AddFrame(seq uint64, readings []Reading) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, r := range readings {
		st, ok := a.data[r.Label]
		if !ok {
			st = &ReadingStats{}
			a.data[r.Label] = st
		}
		if r.Err != nil {
			st.Errors++
			continue
		}
		if st.Count == 0 || r.Meters < st.Min {
			st.Min = r.Meters
		}
		if st.Count == 0 || r.Meters > st.Max {
			st.Max = r.Meters
		}
		st.Last = r.Meters
		st.sum += r.Meters
		st.Count++
	}
	a.frameCount++
	a.lastSeq = seq
}

func (a *Aggregator) FrameCount() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frameCount
}

func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.frameCount = 0
	a.lastSeq = 0
	a.data = make(map[string]*ReadingStats, len(a.labels))
}

// SnapshotCopy returns the statistics in sample point order.
func (a *Aggregator) SnapshotCopy() types.UISnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	readings := make([]types.ReadingSnapshot, 0, len(a.labels))
	for _, label := range a.labels {
		snap := types.ReadingSnapshot{Label: label}
		if st, ok := a.data[label]; ok {
			snap.Count = st.Count
			snap.Errors = st.Errors
			snap.Last = st.Last
			snap.Min = st.Min
			snap.Max = st.Max
			if st.Count > 0 {
				snap.Mean = st.sum / float64(st.Count)
			}
		}
		readings = append(readings, snap)
	}
	return types.UISnapshot{
		Type:     "snapshot",
		Seq:      a.lastSeq,
		Readings: readings,
	}
}
