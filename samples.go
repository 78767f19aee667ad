package rushit

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Sample is one per-interval metrics snapshot taken during the
// measurement window.
type Sample struct {
	Elapsed  time.Duration
	Snapshot MetricsSnapshot
}

// SampleRecorder accumulates samples from the reporter tick. Only the
// reporter writes; readers come after the run.
type SampleRecorder struct {
	mu      sync.Mutex
	samples []Sample
}

// NewSampleRecorder creates an empty recorder.
func NewSampleRecorder() *SampleRecorder {
	return &SampleRecorder{}
}

// Record appends one sample.
func (r *SampleRecorder) Record(elapsed time.Duration, snap MetricsSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, Sample{Elapsed: elapsed, Snapshot: snap})
}

// Samples returns a copy of everything recorded so far.
func (r *SampleRecorder) Samples() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sample, len(r.samples))
	copy(out, r.samples)
	return out
}

// WriteCSV writes every sample to path, one row per interval.
func (r *SampleRecorder) WriteCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return WrapError("write_samples", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"elapsed_s", "send_ops", "recv_ops", "send_bytes", "recv_bytes",
		"transactions", "avg_latency_ns", "p50_ns", "p99_ns", "error_rate",
	}
	if err := w.Write(header); err != nil {
		return WrapError("write_samples", err)
	}
	for _, s := range r.Samples() {
		row := []string{
			strconv.FormatFloat(s.Elapsed.Seconds(), 'f', 3, 64),
			strconv.FormatUint(s.Snapshot.SendOps, 10),
			strconv.FormatUint(s.Snapshot.RecvOps, 10),
			strconv.FormatUint(s.Snapshot.SendBytes, 10),
			strconv.FormatUint(s.Snapshot.RecvBytes, 10),
			strconv.FormatUint(s.Snapshot.Transactions, 10),
			strconv.FormatUint(s.Snapshot.AvgLatencyNs, 10),
			strconv.FormatUint(s.Snapshot.LatencyP50Ns, 10),
			strconv.FormatUint(s.Snapshot.LatencyP99Ns, 10),
			strconv.FormatFloat(s.Snapshot.ErrorRate, 'f', 2, 64),
		}
		if err := w.Write(row); err != nil {
			return WrapError("write_samples", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return WrapError("write_samples", err)
	}
	return nil
}

// FormatPercentiles renders the configured latency percentiles from the
// final metrics, lowest first.
func FormatPercentiles(m *Metrics, percentiles []float64) string {
	if len(percentiles) == 0 {
		return ""
	}
	ps := make([]float64, len(percentiles))
	copy(ps, percentiles)
	sort.Float64s(ps)

	out := ""
	for i, p := range ps {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("p%g=%dns", p, m.Percentile(p))
	}
	return out
}
