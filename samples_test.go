package rushit

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSampleRecorderWriteCSV(t *testing.T) {
	m := NewMetrics()
	m.RecordSend(128, true)
	m.RecordTransaction(2_000)

	r := NewSampleRecorder()
	r.Record(500*time.Millisecond, m.Snapshot())
	m.RecordSend(128, true)
	r.Record(time.Second, m.Snapshot())

	path := filepath.Join(t.TempDir(), "samples.csv")
	if err := r.WriteCSV(path); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 { // header + 2 samples
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if rows[0][0] != "elapsed_s" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][0] != "0.500" {
		t.Errorf("first sample elapsed = %q, want 0.500", rows[1][0])
	}
	if rows[2][1] != "2" {
		t.Errorf("second sample send_ops = %q, want 2", rows[2][1])
	}
}

func TestFormatPercentiles(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < 10; i++ {
		m.RecordTransaction(500)
	}

	out := FormatPercentiles(m, []float64{99, 50})
	if out == "" {
		t.Fatal("empty percentile report")
	}
	// Sorted lowest first.
	if !strings.HasPrefix(out, "p50=") {
		t.Errorf("report %q should start with p50", out)
	}
	if !strings.Contains(out, "p99=") {
		t.Errorf("report %q missing p99", out)
	}
}

func TestFormatPercentilesEmpty(t *testing.T) {
	m := NewMetrics()
	if out := FormatPercentiles(m, nil); out != "" {
		t.Errorf("report for no percentiles = %q, want empty", out)
	}
}
