package runner

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"cadence/internal/eventbus"
	logx "cadence/pkg/logx"
	"cadence/pkg/schedule"
)

// CronEntry is a snapshot of one cron-mode job.
type CronEntry struct {
	ID      string
	Name    string
	Tags    []string
	Rule    string
	Prev    time.Time
	NextRun time.Time
}

type cronJob struct {
	id    string
	name  string
	spec  schedule.Spec
	fn    func(context.Context) error
	entry cron.EntryID
}

// CronRunner runs jobs on robfig/cron instead of the poll loop. Each job
// fires on its own goroutine; a job still running when it is due again
// is skipped.
type CronRunner struct {
	c     *cron.Cron
	loc   *time.Location
	clock clockwork.Clock
	rec   *recorder
	log   logx.Logger
	bus   eventbus.Bus

	mu   sync.Mutex
	jobs map[string]*cronJob
	ctx  context.Context
}

// NewCron returns a stopped cron runner. Rules without a location use loc.
func NewCron(loc *time.Location, opts ...Option) *CronRunner {
	s := newSettings(opts)
	if loc == nil {
		loc = time.Local
	}
	cl := cronLogger{log: s.log}
	return &CronRunner{
		c: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.SkipIfStillRunning(cl)),
		),
		loc:   loc,
		clock: s.clock,
		rec:   newRecorder(s),
		log:   s.log,
		bus:   s.bus,
		jobs:  map[string]*cronJob{},
		ctx:   context.Background(),
	}
}

// Add registers fn under spec. The name is used in logs and history.
func (r *CronRunner) Add(name string, spec schedule.Spec, fn func(context.Context) error) (string, error) {
	if fn == nil {
		return "", fmt.Errorf("job %s: nil function", name)
	}
	if spec.Location == nil {
		spec.Location = r.loc
	}
	sched, err := schedule.CronSchedule(spec)
	if err != nil {
		return "", err
	}
	j := &cronJob{id: uuid.NewString(), name: name, spec: spec, fn: fn}

	r.mu.Lock()
	defer r.mu.Unlock()
	j.entry = r.c.Schedule(sched, cron.FuncJob(func() { r.run(j) }))
	r.jobs[j.id] = j
	r.log.Debug("job scheduled", logx.String("job", name), logx.String("id", j.id), logx.String("rule", spec.String()))
	publish(r.bus, schedule.Event{Type: schedule.EventScheduled, At: r.clock.Now(), JobID: j.id, Job: name, Tags: slices.Clone(spec.Tags)})
	return j.id, nil
}

// Clear removes jobs carrying any of tags, or every job when none is given.
func (r *CronRunner) Clear(tags ...string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, j := range r.jobs {
		if len(tags) > 0 && !slices.ContainsFunc(tags, func(t string) bool { return slices.Contains(j.spec.Tags, t) }) {
			continue
		}
		r.c.Remove(j.entry)
		delete(r.jobs, id)
		r.rec.forget(id)
		n++
		publish(r.bus, schedule.Event{Type: schedule.EventRemoved, At: r.clock.Now(), JobID: id, Job: j.name, Tags: slices.Clone(j.spec.Tags)})
	}
	return n
}

func (r *CronRunner) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Entries lists the registered jobs ordered by next run.
func (r *CronRunner) Entries() []CronEntry {
	r.mu.Lock()
	out := make([]CronEntry, 0, len(r.jobs))
	for _, j := range r.jobs {
		e := r.c.Entry(j.entry)
		out = append(out, CronEntry{
			ID:      j.id,
			Name:    j.name,
			Tags:    slices.Clone(j.spec.Tags),
			Rule:    j.spec.String(),
			Prev:    e.Prev,
			NextRun: e.Next,
		})
	}
	r.mu.Unlock()
	sort.Slice(out, func(a, b int) bool {
		if out[a].NextRun.Equal(out[b].NextRun) {
			return out[a].Name < out[b].Name
		}
		return out[a].NextRun.Before(out[b].NextRun)
	})
	return out
}

// Start begins firing jobs. Job functions receive ctx.
func (r *CronRunner) Start(ctx context.Context) {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()
	r.c.Start()
	r.log.Info("cron runner started", logx.Int("jobs", r.Len()), logx.String("tz", r.loc.String()))
}

// Stop stops firing and waits for running jobs until ctx ends.
func (r *CronRunner) Stop(ctx context.Context) error {
	done := r.c.Stop().Done()
	select {
	case <-done:
		r.log.Info("cron runner stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *CronRunner) run(j *cronJob) {
	r.mu.Lock()
	ctx := r.ctx
	_, registered := r.jobs[j.id]
	r.mu.Unlock()
	if !registered {
		return
	}

	started := r.clock.Now()
	err := r.call(ctx, j)
	e := r.c.Entry(j.entry)
	o := schedule.Outcome{
		JobID:    j.id,
		Job:      j.name,
		Tags:     slices.Clone(j.spec.Tags),
		Due:      e.Prev,
		Started:  started,
		Duration: r.clock.Since(started),
		Err:      err,
		NextRun:  e.Next,
	}
	ev := schedule.Event{Type: schedule.EventRan, At: started, JobID: j.id, Job: j.name, Tags: o.Tags, NextRun: o.NextRun}
	if err != nil {
		ev.Type, ev.Err = schedule.EventFailed, err
	}
	publish(r.bus, ev)
	r.rec.record(ctx, o)
}

func (r *CronRunner) call(ctx context.Context, j *cronJob) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &schedule.JobExecutionError{JobID: j.id, Job: j.name, Panic: p, Stack: string(debug.Stack())}
		}
	}()
	if err := j.fn(ctx); err != nil {
		return &schedule.JobExecutionError{JobID: j.id, Job: j.name, Err: err}
	}
	return nil
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	fields := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		fields = append(fields, logx.Any(k, kv[i+1]))
	}
	return fields
}
