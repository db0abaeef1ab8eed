package observability

import (
	"strings"
	"testing"
)

func TestRenderPrometheus(t *testing.T) {
	r := NewRegistry()
	r.IncCounter("jobs_submitted_total", map[string]string{"store_backend": "memory"}, 3)
	r.SetGauge("jobs_inflight", map[string]string{"store_backend": "memory"}, 2)

	out := r.RenderPrometheus()
	if !strings.Contains(out, `jobs_submitted_total{store_backend="memory"} 3`) {
		t.Fatalf("missing submit counter in output: %s", out)
	}
	if !strings.Contains(out, `jobs_inflight{store_backend="memory"} 2`) {
		t.Fatalf("missing inflight gauge in output: %s", out)
	}
}

func TestSnapshotSorted(t *testing.T) {
	r := NewRegistry()
	r.IncCounter("stage_retries_total", map[string]string{"stage": "transcription"}, 1)
	r.IncCounter("stage_failures_total", map[string]string{"stage": "extraction"}, 1)

	s := r.Snapshot()
	if len(s.Counters) != 2 {
		t.Fatalf("expected 2 counters, got %d", len(s.Counters))
	}
	if s.Counters[0].Name > s.Counters[1].Name {
		t.Fatalf("counters not sorted: %v", s.Counters)
	}
}
