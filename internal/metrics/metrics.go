package metrics

import "sync"

// Event names. Counters are created lazily on first Inc, so adding a name
// here is enough to have it show up in the /metrics output once incremented.
const (
	SignalsRelayed       = "signals_relayed"
	SignalsDroppedNoPeer = "signals_dropped_no_peer"

	FramesForwarded       = "frames_forwarded"
	FramesDroppedOversize = "frames_dropped_oversize"

	DetectionsComputed  = "detections_computed"
	DetectionsBroadcast = "detections_broadcast"
	DetectRequestFailed = "detect_request_failed"

	ModelLoads        = "model_loads"
	ModelLoadFailures = "model_load_failures"

	DropReasonRateLimited = "rate_limited"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// It is deliberately not a full metrics backend; the Prometheus handler in
// this package exposes the counters in text exposition format for scraping.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
