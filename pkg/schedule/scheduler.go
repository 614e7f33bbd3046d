package schedule

import (
	"container/heap"
	"context"
	"errors"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	logx "cadence/pkg/logx"
)

// Scheduler is a registry of jobs ordered by next run.
//
// It owns no goroutines and no locks: registration, removal and polling
// must all happen on one scheduling loop.
type Scheduler struct {
	queue jobQueue
	seq   uint64
	// inflight holds the jobs popped by the current poll.
	inflight []*Job

	log      logx.Logger
	loc      *time.Location
	zones    ZoneResolver
	clock    clockwork.Clock
	policy   ErrorPolicy
	observer func(Event)
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		zones: DefaultZones,
		clock: clockwork.NewRealClock(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

// Every starts a rule bound to this scheduler.
func (s *Scheduler) Every(n int) Builder {
	b := Every(n)
	b.sched = s
	b.zones = s.zones
	b.spec.Location = s.loc
	return b
}

// On is shorthand for Every(1).Weeks().On(tokens...).
func (s *Scheduler) On(tokens ...string) Builder {
	return s.Every(1).Weeks().On(tokens...)
}

// Location is the default location applied to new rules (nil = local instant's).
func (s *Scheduler) Location() *time.Location { return s.loc }

func (s *Scheduler) add(spec Spec, name string, fn any, args []any) (*Job, error) {
	t, err := newTask(fn, args)
	if err != nil {
		return nil, err
	}
	if name != "" {
		t.name = name
	}
	now := s.clock.Now()
	next, err := NextRun(now, spec, time.Time{})
	if err != nil {
		return nil, err
	}
	s.seq++
	j := &Job{
		id:      uuid.NewString(),
		spec:    spec,
		task:    t,
		seq:     s.seq,
		index:   -1,
		nextRun: next,
	}
	heap.Push(&s.queue, j)
	s.log.Debug("job scheduled",
		logx.String("job", j.Name()),
		logx.String("id", j.id),
		logx.String("rule", spec.String()),
		logx.Time("next", next),
	)
	s.emit(Event{Type: EventScheduled, At: now, JobID: j.id, Job: j.Name(), Tags: j.Tags(), NextRun: next})
	return j, nil
}

// RunPending runs every job that is due at the scheduler clock's now.
func (s *Scheduler) RunPending(ctx context.Context) ([]Outcome, error) {
	return s.RunPendingAt(ctx, s.clock.Now())
}

// RunPendingAt runs every job whose next run is at or before now, one
// after the other in next-run order. A failing job does not stop the
// others; its error is reported in its Outcome. The returned error joins
// reschedule failures, a context cancellation that interrupted the poll
// and, under RaiseErrors, the execution errors.
//
// Missed runs are not replayed: a job that was due several times since
// the previous poll runs once.
func (s *Scheduler) RunPendingAt(ctx context.Context, now time.Time) ([]Outcome, error) {
	var due []*Job
	for j := s.queue.peek(); j != nil && !j.nextRun.After(now); j = s.queue.peek() {
		due = append(due, heap.Pop(&s.queue).(*Job))
	}
	return s.runJobs(ctx, now, due)
}

// RunAll runs every job once regardless of its next run and reschedules it.
func (s *Scheduler) RunAll(ctx context.Context) ([]Outcome, error) {
	return s.RunAllAt(ctx, s.clock.Now())
}

func (s *Scheduler) RunAllAt(ctx context.Context, now time.Time) ([]Outcome, error) {
	all := make([]*Job, 0, len(s.queue))
	for s.queue.Len() > 0 {
		all = append(all, heap.Pop(&s.queue).(*Job))
	}
	return s.runJobs(ctx, now, all)
}

func (s *Scheduler) runJobs(ctx context.Context, now time.Time, jobs []*Job) ([]Outcome, error) {
	for _, j := range jobs {
		j.inflight = true
	}
	s.inflight = jobs
	defer func() {
		for _, j := range jobs {
			j.inflight = false
		}
		s.inflight = nil
	}()

	outcomes := make([]Outcome, 0, len(jobs))
	var errs []error
	for i, j := range jobs {
		if err := ctx.Err(); err != nil {
			// Not started: keep them due for the next poll.
			for _, rest := range jobs[i:] {
				if !rest.removed {
					heap.Push(&s.queue, rest)
				}
			}
			errs = append(errs, err)
			break
		}
		// Cancelled or cleared by a job that ran earlier in this poll.
		if j.removed {
			continue
		}
		o := s.runJob(ctx, now, j)
		if o.Err != nil && s.policy == RaiseErrors {
			errs = append(errs, o.Err)
		}
		if o.RescheduleErr != nil {
			errs = append(errs, o.RescheduleErr)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, errors.Join(errs...)
}

func (s *Scheduler) runJob(ctx context.Context, now time.Time, j *Job) Outcome {
	started := s.clock.Now()
	err := j.run(ctx)
	o := Outcome{
		JobID:    j.id,
		Job:      j.Name(),
		Tags:     j.Tags(),
		Due:      j.nextRun,
		Started:  started,
		Duration: s.clock.Since(started),
		Err:      err,
	}

	ev := Event{Type: EventRan, At: now, JobID: j.id, Job: j.Name(), Tags: o.Tags}
	if err != nil {
		ev.Type, ev.Err = EventFailed, err
		s.log.Debug("job failed", logx.String("job", j.Name()), logx.String("id", j.id), logx.Err(err))
	} else {
		s.log.Debug("job ran", logx.String("job", j.Name()), logx.String("id", j.id), logx.Duration("took", o.Duration))
	}

	j.lastRun = now
	if j.removed {
		// The job cancelled or cleared itself; its removal event is out.
		s.emit(ev)
		return o
	}
	next, nerr := NextRun(now, j.spec, now)
	if nerr != nil {
		j.removed = true
		o.RescheduleErr = &ScheduleError{JobID: j.id, Err: nerr}
		s.log.Warn("job dropped: cannot reschedule", logx.String("job", j.Name()), logx.String("id", j.id), logx.Err(nerr))
		s.emit(ev)
		s.emit(Event{Type: EventRemoved, At: now, JobID: j.id, Job: j.Name(), Tags: o.Tags, Err: o.RescheduleErr})
		return o
	}
	j.nextRun = next
	heap.Push(&s.queue, j)
	o.NextRun = next
	ev.NextRun = next
	s.emit(ev)
	return o
}

// IdleSeconds returns how long until the earliest next run, clamped at
// zero for overdue jobs. ok is false when no job is registered.
func (s *Scheduler) IdleSeconds(now time.Time) (d time.Duration, ok bool) {
	j := s.queue.peek()
	if j == nil {
		return 0, false
	}
	if d = j.nextRun.Sub(now); d < 0 {
		d = 0
	}
	return d, true
}

// NextRun returns the earliest next run across all jobs.
func (s *Scheduler) NextRun() (time.Time, bool) {
	j := s.queue.peek()
	if j == nil {
		return time.Time{}, false
	}
	return j.nextRun, true
}

// Cancel removes one job. It reports false when the job is not registered here.
// A job may cancel itself or another job due in the same poll; the latter
// then does not run.
func (s *Scheduler) Cancel(j *Job) bool {
	if j == nil || j.removed {
		return false
	}
	switch {
	case j.index >= 0 && j.index < len(s.queue) && s.queue[j.index] == j:
		heap.Remove(&s.queue, j.index)
	case j.inflight && slices.Contains(s.inflight, j):
	default:
		return false
	}
	s.removed(j)
	return true
}

// Clear removes all jobs carrying any of tags, or every job when no tag is given.
// It returns the number of removed jobs.
func (s *Scheduler) Clear(tags ...string) int {
	kept := s.queue[:0]
	var gone []*Job
	for _, j := range s.queue {
		if len(tags) == 0 || hasAnyTag(j, tags) {
			gone = append(gone, j)
			continue
		}
		kept = append(kept, j)
	}
	for i := len(kept); i < len(s.queue); i++ {
		s.queue[i] = nil
	}
	s.queue = kept
	for i, j := range s.queue {
		j.index = i
	}
	heap.Init(&s.queue)
	for _, j := range s.inflight {
		if !j.removed && j.index < 0 && (len(tags) == 0 || hasAnyTag(j, tags)) {
			gone = append(gone, j)
		}
	}
	for _, j := range gone {
		j.index = -1
		s.removed(j)
	}
	return len(gone)
}

func hasAnyTag(j *Job, tags []string) bool {
	for _, t := range tags {
		if j.HasTag(t) {
			return true
		}
	}
	return false
}

func (s *Scheduler) removed(j *Job) {
	j.removed = true
	s.log.Debug("job removed", logx.String("job", j.Name()), logx.String("id", j.id))
	s.emit(Event{Type: EventRemoved, At: s.clock.Now(), JobID: j.id, Job: j.Name(), Tags: j.Tags()})
}

// Jobs returns the registered jobs in next-run order, including those a
// running poll holds.
func (s *Scheduler) Jobs() []*Job {
	out := append([]*Job(nil), s.queue...)
	for _, j := range s.inflight {
		if j.Scheduled() && j.index < 0 {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return jobQueue(out).Less(a, b) })
	return out
}

func (s *Scheduler) Len() int {
	n := len(s.queue)
	for _, j := range s.inflight {
		if j.Scheduled() && j.index < 0 {
			n++
		}
	}
	return n
}

func (s *Scheduler) emit(e Event) {
	if s.observer != nil {
		s.observer(e)
	}
}
