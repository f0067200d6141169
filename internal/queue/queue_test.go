package queue

import (
	"path/filepath"
	"testing"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(nil)
	q.Enqueue(NewJob("j1", "/tmp/j1", "true", PriorityMedium))
	q.Enqueue(NewJob("j2", "/tmp/j2", "true", PriorityMedium))
	q.Enqueue(NewJob("j3", "/tmp/j3", "true", PriorityMedium))

	for _, want := range []string{"j1", "j2", "j3"} {
		j := q.Dequeue()
		if j == nil || j.Name != want {
			t.Fatalf("dequeue = %+v, want %s", j, want)
		}
	}
	if q.Dequeue() != nil {
		t.Fatal("empty queue should dequeue nil")
	}
}

func TestQueuePriorityOrdering(t *testing.T) {
	q := NewQueue(nil)
	q.Enqueue(NewJob("low", "/tmp/a", "true", PriorityLow))
	q.Enqueue(NewJob("high", "/tmp/b", "true", PriorityHigh))
	q.Enqueue(NewJob("med", "/tmp/c", "true", PriorityMedium))
	q.Enqueue(NewJob("high2", "/tmp/d", "true", PriorityHigh))

	var got []string
	for j := q.Dequeue(); j != nil; j = q.Dequeue() {
		got = append(got, j.Name)
	}
	want := []string{"high", "high2", "med", "low"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestQueueRemove(t *testing.T) {
	q := NewQueue(nil)
	q.Enqueue(NewJob("j1", "/tmp/j1", "true", PriorityMedium))
	j2 := NewJob("j2", "/tmp/j2", "true", PriorityMedium)
	q.Enqueue(j2)
	q.Enqueue(NewJob("j3", "/tmp/j3", "true", PriorityMedium))

	removed, err := q.Remove("j2")
	if err != nil || removed.ID != j2.ID {
		t.Fatalf("remove = %+v, %v", removed, err)
	}
	if _, err := q.Remove("j2"); err == nil {
		t.Fatal("removing a removed job should fail")
	}

	for _, want := range []string{"j1", "j3"} {
		if j := q.Dequeue(); j.Name != want {
			t.Fatalf("after remove, got %s want %s", j.Name, want)
		}
	}
}

func TestQueueRequeueGoesFirst(t *testing.T) {
	q := NewQueue(nil)
	q.Enqueue(NewJob("high", "/tmp/a", "true", PriorityHigh))
	retry := NewJob("retry", "/tmp/b", "true", PriorityLow)
	q.Requeue(retry)

	if j := q.Peek(); j.Name != "retry" {
		t.Fatalf("head = %s, requeued job must keep its turn", j.Name)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.yaml")
	s := NewStoreAt(path)

	// Missing file reads as empty.
	jobs, err := s.Load()
	if err != nil || len(jobs) != 0 {
		t.Fatalf("load missing = %v, %v", jobs, err)
	}

	in := []*Job{
		NewJob("train", "/data/train", "python train.py", PriorityHigh),
		NewJob("eval", "/data/eval", "python eval.py", PriorityLow),
	}
	in[1].Status = StatusFailed
	if err := s.Save(in); err != nil {
		t.Fatalf("save: %v", err)
	}

	out, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("loaded %d jobs", len(out))
	}
	if out[0].Name != "train" || out[0].Priority != PriorityHigh || out[0].Command != "python train.py" {
		t.Errorf("first job = %+v", out[0])
	}
	if out[1].Status != StatusFailed {
		t.Errorf("status not persisted: %+v", out[1])
	}
}

func TestParsePriority(t *testing.T) {
	for s, want := range map[string]Priority{"low": PriorityLow, "MED": PriorityMedium, "High": PriorityHigh, "": PriorityLow} {
		got, err := ParsePriority(s)
		if err != nil || got != want {
			t.Errorf("ParsePriority(%q) = %v, %v", s, got, err)
		}
	}
	if _, err := ParsePriority("urgent"); err == nil {
		t.Error("unknown priority should error")
	}
}

func TestTerminalStatuses(t *testing.T) {
	cases := []struct {
		status   string
		terminal bool
	}{
		{StatusWaiting, false},
		{StatusUploading, false},
		{StatusRunning, false},
		{"remote: running", false}, // mirrored sharer report, still in flight
		{StatusDone, true},
		{StatusFailed, true},
	}
	for _, c := range cases {
		j := &Job{Status: c.status}
		if j.Terminal() != c.terminal {
			t.Errorf("Terminal(%q) = %v, want %v", c.status, j.Terminal(), c.terminal)
		}
	}
}
