package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu       sync.Mutex
	counters map[string]float64
	samples  map[string][]float64
	flushes  int
}

func newRecorder() *recorder {
	return &recorder{counters: map[string]float64{}, samples: map[string][]float64{}}
}

func key(name string, l Labels) string {
	return name + "{" + l["step"] + l["status"] + "}"
}

func (r *recorder) IncCounter(name string, delta float64, l Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[key(name, l)] += delta
}

func (r *recorder) ObserveHistogram(name string, v float64, l Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples[key(name, l)] = append(r.samples[key(name, l)], v)
}

func (r *recorder) Flush() error {
	r.flushes++
	return nil
}

// TestDefaultIsNop verifies helpers are safe before any backend is installed.
func TestDefaultIsNop(t *testing.T) {
	SetBackend(nil)
	IncCounter(StepTotal, 1, nil)
	ObserveHistogram(StepDurationSeconds, 1, nil)
	if err := Flush(); err != nil {
		t.Fatalf("Flush()=%v, want nil", err)
	}
}

func TestRecordStep(t *testing.T) {
	r := newRecorder()
	SetBackend(r)
	t.Cleanup(func() { SetBackend(nil) })

	RecordStep("parse", nil, 2*time.Second)
	RecordStep("parse", errors.New("x"), time.Second)

	if got := r.counters[StepTotal+"{parseok}"]; got != 1 {
		t.Fatalf("ok counter=%v, want 1", got)
	}
	if got := r.counters[StepTotal+"{parseerror}"]; got != 1 {
		t.Fatalf("error counter=%v, want 1", got)
	}
	if got := r.samples[StepDurationSeconds+"{parseok}"]; len(got) != 1 || got[0] != 2 {
		t.Fatalf("duration samples=%v, want [2]", got)
	}

	if err := Flush(); err != nil || r.flushes != 1 {
		t.Fatalf("Flush()=%v flushes=%d, want nil and 1", err, r.flushes)
	}
}

func TestRecordHTTP(t *testing.T) {
	r := newRecorder()
	SetBackend(r)
	t.Cleanup(func() { SetBackend(nil) })

	RecordHTTP(200, time.Millisecond, 10)
	RecordHTTP(404, time.Millisecond, -1)
	RecordHTTP(0, time.Millisecond, -1)

	if got := r.counters[HTTPRequestsTotal+"{200}"]; got != 1 {
		t.Fatalf("200 requests=%v, want 1", got)
	}
	if got := r.counters[HTTPErrorsTotal+"{200}"]; got != 0 {
		t.Fatalf("200 errors=%v, want 0", got)
	}
	if got := r.counters[HTTPErrorsTotal+"{404}"]; got != 1 {
		t.Fatalf("404 errors=%v, want 1", got)
	}
	if got := r.counters[HTTPErrorsTotal+"{error}"]; got != 1 {
		t.Fatalf("transport errors=%v, want 1", got)
	}
	if got := len(r.samples[HTTPDownloadBytes+"{404}"]); got != 0 {
		t.Fatalf("download samples for 404=%d, want 0", got)
	}
}
