package recurring

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/taskpulse/taskpulse/internal/models"
)

type mockRunner struct {
	mu   sync.Mutex
	runs []time.Time
}

func newMockRunner() *mockRunner {
	return &mockRunner{}
}

func (m *mockRunner) Run(_ context.Context, now time.Time) (Result, error) {
	m.mu.Lock()
	m.runs = append(m.runs, now)
	m.mu.Unlock()
	return Result{Date: now.Format(dateLayout), Created: 1}, nil
}

func (m *mockRunner) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

func (m *mockRunner) first() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[0]
}

type mockMarker struct {
	run *models.JobRun
}

func (m *mockMarker) GetJobRun(context.Context, string) (*models.JobRun, error) {
	return m.run, nil
}

// waitRun waits until the scheduler has recorded n runs.
func waitRun(t *testing.T, sch *Scheduler, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sch.GetStats()["runs"] == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %d runs", n)
}

func TestNextRun(t *testing.T) {
	cases := []struct {
		now  string
		want string
	}{
		{"2024-03-05T10:00:00Z", "2024-03-06T00:00:00Z"},
		{"2024-03-05T00:00:00Z", "2024-03-06T00:00:00Z"},
		{"2024-03-04T23:59:59Z", "2024-03-05T00:00:00Z"},
		{"2024-12-31T12:00:00Z", "2025-01-01T00:00:00Z"},
	}
	for _, tc := range cases {
		got := NextRun(at(tc.now), 0, 0, time.UTC)
		if !got.Equal(at(tc.want)) {
			t.Errorf("NextRun(%s) = %v, want %s", tc.now, got, tc.want)
		}
	}

	got := NextRun(at("2024-03-05T10:00:00Z"), 14, 30, time.UTC)
	if !got.Equal(at("2024-03-05T14:30:00Z")) {
		t.Errorf("Expected same-day run, got %v", got)
	}
}

func TestSchedulerCatchesUpMissedRun(t *testing.T) {
	r := newMockRunner()
	sch := NewScheduler(r, &mockMarker{run: &models.JobRun{LastRunDate: "2024-03-04"}}, SchedulerConfig{Location: time.UTC})
	sch.now = func() time.Time { return at("2024-03-05T10:00:00Z") }

	sch.Start()
	defer sch.Stop()

	waitRun(t, sch, 1)
	if got := r.first(); !got.Equal(at("2024-03-05T10:00:00Z")) {
		t.Errorf("Run should use the scheduler clock, got %v", got)
	}
}

func TestSchedulerSkipsCatchUpWhenAlreadyRan(t *testing.T) {
	r := newMockRunner()
	sch := NewScheduler(r, &mockMarker{run: &models.JobRun{LastRunDate: "2024-03-05"}}, SchedulerConfig{Location: time.UTC})
	sch.now = func() time.Time { return at("2024-03-05T10:00:00Z") }

	sch.Start()
	time.Sleep(50 * time.Millisecond)
	sch.Stop()

	if n := r.count(); n != 0 {
		t.Errorf("Expected no run, got %d", n)
	}
}

func TestSchedulerTrigger(t *testing.T) {
	r := newMockRunner()
	sch := NewScheduler(r, &mockMarker{}, SchedulerConfig{Hour: 23, Minute: 59, Location: time.UTC})
	sch.now = func() time.Time { return at("2024-03-05T10:00:00Z") }

	sch.Start()
	defer sch.Stop()

	if !sch.Trigger() {
		t.Fatal("Expected trigger to be queued")
	}
	waitRun(t, sch, 1)

	stats := sch.GetStats()
	if stats["last_created"] != 1 {
		t.Errorf("Expected last_created 1, got %v", stats["last_created"])
	}
	next, _ := stats["next_run"].(time.Time)
	if !next.Equal(at("2024-03-05T23:59:00Z")) {
		t.Errorf("Unexpected next_run %v", next)
	}
}

func TestSchedulerStopIsPrompt(t *testing.T) {
	sch := NewScheduler(newMockRunner(), &mockMarker{}, SchedulerConfig{Hour: 3, Location: time.UTC})
	sch.Start()

	done := make(chan struct{})
	go func() {
		sch.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
