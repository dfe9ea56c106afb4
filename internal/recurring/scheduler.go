package recurring

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/taskpulse/taskpulse/internal/models"
)

// Runner is the part of Generator the scheduler drives.
type Runner interface {
	Run(ctx context.Context, now time.Time) (Result, error)
}

// MarkerReader reads the persisted run marker.
type MarkerReader interface {
	GetJobRun(ctx context.Context, job string) (*models.JobRun, error)
}

// SchedulerConfig sets the daily run time.
type SchedulerConfig struct {
	Hour     int
	Minute   int
	Location *time.Location
}

// Scheduler runs the generator once a day at a fixed wall-clock time.
type Scheduler struct {
	runner Runner
	marker MarkerReader
	config SchedulerConfig
	now    func() time.Time

	trigger chan struct{}

	mu         sync.Mutex
	runs       int
	lastRun    time.Time
	lastResult *Result
	lastErr    error
	nextRun    time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler. marker is read at start to decide whether
// today's run was missed while the process was down.
func NewScheduler(r Runner, marker MarkerReader, cfg SchedulerConfig) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		runner:  r,
		marker:  marker,
		config:  cfg,
		now:     time.Now,
		trigger: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins the scheduler loop.
func (sch *Scheduler) Start() {
	sch.wg.Add(1)
	go sch.loop()
	log.Printf("Recurring scheduler started (daily at %02d:%02d %s)",
		sch.config.Hour, sch.config.Minute, sch.config.Location)
}

// Stop cancels any pending wait and waits for an in-flight run to finish.
func (sch *Scheduler) Stop() {
	sch.cancel()
	sch.wg.Wait()
	log.Println("Recurring scheduler stopped")
}

// Trigger requests an immediate run. It reports false when one is already queued.
func (sch *Scheduler) Trigger() bool {
	select {
	case sch.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

func (sch *Scheduler) loop() {
	defer sch.wg.Done()

	if sch.missedToday() {
		log.Println("Recurring: catching up on today's missed run")
		sch.runOnce()
	}

	for {
		now := sch.now()
		next := NextRun(now, sch.config.Hour, sch.config.Minute, sch.config.Location)
		sch.mu.Lock()
		sch.nextRun = next
		sch.mu.Unlock()

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-sch.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			sch.runOnce()
		case <-sch.trigger:
			timer.Stop()
			sch.runOnce()
		}
	}
}

// missedToday reports whether today's scheduled time has passed without a
// recorded run.
func (sch *Scheduler) missedToday() bool {
	now := sch.now().In(sch.config.Location)
	y, m, d := now.Date()
	scheduled := time.Date(y, m, d, sch.config.Hour, sch.config.Minute, 0, 0, sch.config.Location)
	if now.Before(scheduled) {
		return false
	}
	run, err := sch.marker.GetJobRun(sch.ctx, JobName)
	if err != nil {
		log.Printf("Recurring: reading run marker: %v", err)
		return false
	}
	return run == nil || run.LastRunDate < now.Format(dateLayout)
}

func (sch *Scheduler) runOnce() {
	res, err := sch.runner.Run(sch.ctx, sch.now())
	if errors.Is(err, ErrRunInProgress) {
		log.Println("Recurring: run already in progress, skipping")
		return
	}
	if err != nil {
		log.Printf("Recurring: run failed: %v", err)
	}

	sch.mu.Lock()
	defer sch.mu.Unlock()
	sch.runs++
	sch.lastRun = sch.now()
	sch.lastErr = err
	if err == nil {
		sch.lastResult = &res
	}
}

// GetStats returns current scheduler statistics.
func (sch *Scheduler) GetStats() map[string]interface{} {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	stats := map[string]interface{}{
		"runs":     sch.runs,
		"next_run": sch.nextRun,
	}
	if !sch.lastRun.IsZero() {
		stats["last_run"] = sch.lastRun
	}
	if sch.lastResult != nil {
		stats["last_created"] = sch.lastResult.Created
		stats["last_failed"] = sch.lastResult.Failed
	}
	if sch.lastErr != nil {
		stats["last_error"] = sch.lastErr.Error()
	}
	return stats
}

// NextRun returns the first hour:minute in loc strictly after now.
func NextRun(now time.Time, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	y, m, d := local.Date()
	next := time.Date(y, m, d, hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(y, m, d+1, hour, minute, 0, 0, loc)
	}
	return next
}
