// Package recurring materializes daily instances of recurring task templates.
package recurring

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/taskpulse/taskpulse/internal/models"
	"github.com/taskpulse/taskpulse/internal/realtime"
	"github.com/taskpulse/taskpulse/internal/store"
)

// JobName keys the persisted run marker.
const JobName = "recurring-tasks"

const dateLayout = "2006-01-02"

// ErrRunInProgress is returned by Run while another run is still going.
var ErrRunInProgress = errors.New("recurring run already in progress")

// GenerationError is a per-template failure. It is logged and the run continues.
type GenerationError struct {
	TemplateID string
	Err        error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("template %s: %v", e.TemplateID, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Store is the persistence the generator needs.
type Store interface {
	ListRecurringTemplates(ctx context.Context) ([]models.Task, error)
	CreateRecurringInstance(ctx context.Context, templateID, occurrenceDate string, t *models.Task) (bool, error)
	CreateNotification(ctx context.Context, n *models.Notification) error
	GetJobRun(ctx context.Context, job string) (*models.JobRun, error)
	SaveJobRun(ctx context.Context, run models.JobRun) error
	GetPreferences(ctx context.Context, userID string) (*models.Preferences, error)
}

// Options tunes occurrence rules.
type Options struct {
	// Location defines "today" and the wall-clock time copied from templates.
	Location *time.Location
	// ClampMonthEnd fires monthly templates dated the 29th-31st on the last day of
	// shorter months. Off, such templates skip those months.
	ClampMonthEnd bool
}

// Result summarizes one run.
type Result struct {
	Date    string        `json:"date"`
	Scanned int           `json:"scanned"`
	NotDue  int           `json:"notDue"`
	Created int           `json:"created"`
	Skipped int           `json:"skipped"`
	Failed  int           `json:"failed"`
	Tasks   []models.Task `json:"tasks"`
}

// Generator creates today's instances. At most one run executes at a time.
type Generator struct {
	store   Store
	pub     realtime.Publisher
	opts    Options
	running sync.Mutex
}

// NewGenerator creates a generator. A nil publisher discards events.
func NewGenerator(s Store, pub realtime.Publisher, opts Options) *Generator {
	if pub == nil {
		pub = realtime.Discard
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Generator{store: s, pub: pub, opts: opts}
}

// Location returns the generator's time zone.
func (g *Generator) Location() *time.Location { return g.opts.Location }

// Run generates the instances due on now's calendar date. A (template, date) pair is
// only ever materialized once, so repeated runs on the same day create nothing new.
func (g *Generator) Run(ctx context.Context, now time.Time) (Result, error) {
	if !g.running.TryLock() {
		return Result{}, ErrRunInProgress
	}
	defer g.running.Unlock()

	today := now.In(g.opts.Location)
	res := Result{Date: today.Format(dateLayout), Tasks: []models.Task{}}

	templates, err := g.store.ListRecurringTemplates(ctx)
	if err != nil {
		return res, fmt.Errorf("list recurring templates: %w", err)
	}

	for i := range templates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		tmpl := &templates[i]
		res.Scanned++

		due, fire, err := g.occurrence(tmpl, today)
		if err != nil {
			res.Failed++
			log.Printf("Recurring: %v", &GenerationError{TemplateID: tmpl.ID, Err: err})
			continue
		}
		if !fire {
			res.NotDue++
			continue
		}

		inst := instanceOf(tmpl, due)
		created, err := g.store.CreateRecurringInstance(ctx, tmpl.ID, res.Date, inst)
		if err != nil && !created {
			res.Failed++
			log.Printf("Recurring: %v", &GenerationError{TemplateID: tmpl.ID, Err: err})
			continue
		}
		if err != nil {
			// The occurrence is committed and will never be retried, so it is still published.
			log.Printf("Recurring: instance %s of %s stored with error: %v", inst.ID, tmpl.ID, err)
		}
		if !created {
			res.Skipped++
			continue
		}
		res.Created++
		res.Tasks = append(res.Tasks, *inst)
		g.publish(ctx, inst)
	}

	log.Printf("Recurring run %s: scanned %d, created %d, skipped %d, failed %d",
		res.Date, res.Scanned, res.Created, res.Skipped, res.Failed)

	marker := models.JobRun{
		Job:         JobName,
		LastRunDate: res.Date,
		Scanned:     res.Scanned,
		Created:     res.Created,
		Failed:      res.Failed,
		FinishedAt:  time.Now().UTC(),
	}
	if err := g.store.SaveJobRun(ctx, marker); err != nil {
		log.Printf("Recurring: failed to save run marker: %v", err)
	}
	return res, nil
}

// occurrence decides whether tmpl fires on today and returns the instance due date:
// today's date at the template's wall-clock time.
func (g *Generator) occurrence(tmpl *models.Task, today time.Time) (time.Time, bool, error) {
	if tmpl.DueDate.IsZero() {
		return time.Time{}, false, fmt.Errorf("missing due date")
	}
	base := tmpl.DueDate.In(g.opts.Location)

	var fire bool
	switch tmpl.RecurringPattern {
	case models.RecurDaily:
		fire = true
	case models.RecurWeekly:
		fire = base.Weekday() == today.Weekday()
	case models.RecurMonthly:
		fire = base.Day() == today.Day()
		if !fire && g.opts.ClampMonthEnd {
			last := lastDayOfMonth(today)
			fire = today.Day() == last && base.Day() > last
		}
	case models.RecurNone:
		return time.Time{}, false, fmt.Errorf("recurring task has no pattern")
	default:
		return time.Time{}, false, fmt.Errorf("unknown recurring pattern %q", tmpl.RecurringPattern)
	}
	if !fire {
		return time.Time{}, false, nil
	}

	y, m, d := today.Date()
	due := time.Date(y, m, d, base.Hour(), base.Minute(), base.Second(), base.Nanosecond(), g.opts.Location)
	return due, true, nil
}

func instanceOf(tmpl *models.Task, due time.Time) *models.Task {
	return &models.Task{
		Title:       tmpl.Title,
		Description: tmpl.Description,
		Status:      models.TaskStatusTodo,
		Priority:    tmpl.Priority,
		DueDate:     due,
		AssignedTo:  tmpl.AssignedTo,
		CreatedBy:   tmpl.CreatedBy,
	}
}

// publish pushes the new instance. Delivery problems never fail the run.
func (g *Generator) publish(ctx context.Context, inst *models.Task) {
	g.pub.BroadcastTaskUpdate(inst)
	if inst.AssignedTo == "" {
		return
	}

	n := &models.Notification{
		User:        inst.AssignedTo,
		Title:       "Recurring Task Created",
		Message:     "A recurring task has been created: " + inst.Title,
		Type:        models.NotificationTaskAssigned,
		RelatedTask: inst.ID,
	}
	prefs := store.PreferencesFor(ctx, g.store, inst.AssignedTo)
	if prefs.WantsInApp(n.Type) {
		if err := g.store.CreateNotification(ctx, n); err != nil {
			log.Printf("Recurring: failed to store notification for task %s: %v", inst.ID, err)
		} else if prefs.WantsPush() {
			g.pub.SendNotification(n)
		}
	}
	g.pub.SendTaskAssignment(inst.AssignedTo, inst)
}

func lastDayOfMonth(t time.Time) int {
	y, m, _ := t.Date()
	return time.Date(y, m+1, 0, 0, 0, 0, 0, t.Location()).Day()
}
