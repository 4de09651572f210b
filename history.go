package linekit

import (
	"sync"
	"time"
)

const defaultHistoryCapacity = 360

// Sample is one periodic system health reading.
type Sample struct {
	Time     time.Time `json:"time"`
	CPUTempC float64   `json:"cpu_temp_c"`
	Load1    float64   `json:"load_1m"`
}

// SampleHistory is a bounded ring of samples. When full, the oldest sample
// gives way to the newest.
type SampleHistory struct {
	mu    sync.Mutex
	buf   []Sample
	start int
	count int
}

func NewSampleHistory(capacity int) *SampleHistory {
	if capacity <= 0 {
		capacity = defaultHistoryCapacity
	}

	return &SampleHistory{buf: make([]Sample, capacity)}
}

func (h *SampleHistory) Append(sample Sample) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count < len(h.buf) {
		h.buf[(h.start+h.count)%len(h.buf)] = sample
		h.count++
		return
	}
	h.buf[h.start] = sample
	h.start = (h.start + 1) % len(h.buf)
}

// Snapshot returns the retained samples, oldest first.
func (h *SampleHistory) Snapshot() []Sample {
	h.mu.Lock()
	defer h.mu.Unlock()

	snapshot := make([]Sample, h.count)
	for i := 0; i < h.count; i++ {
		snapshot[i] = h.buf[(h.start+i)%len(h.buf)]
	}

	return snapshot
}

func (h *SampleHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.count
}
