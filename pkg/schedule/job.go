package schedule

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"
)

// Job is the handle returned by Do. Its rule never changes; only the
// scheduler updates LastRun and NextRun.
type Job struct {
	id   string
	spec Spec
	task task
	seq  uint64

	// index is the position in the scheduler heap, -1 when not queued.
	index int
	// inflight is set while a poll holds the job outside the heap.
	inflight bool
	// removed is final: a cancelled or dropped job is never queued again.
	removed bool

	lastRun time.Time
	nextRun time.Time
}

func (j *Job) ID() string   { return j.id }
func (j *Job) Name() string { return j.task.name }
func (j *Job) Spec() Spec   { return j.spec }

// Tags returns a copy of the job's tags.
func (j *Job) Tags() []string { return append([]string(nil), j.spec.Tags...) }

func (j *Job) HasTag(tag string) bool {
	for _, t := range j.spec.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// LastRun is the poll instant of the previous execution, zero if none.
func (j *Job) LastRun() time.Time { return j.lastRun }

func (j *Job) NextRun() time.Time { return j.nextRun }

// Scheduled reports whether the job is still registered.
func (j *Job) Scheduled() bool { return !j.removed && (j.index >= 0 || j.inflight) }

func (j *Job) String() string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(j.spec.String()[:1]))
	b.WriteString(j.spec.String()[1:])
	b.WriteString(" do ")
	b.WriteString(j.task.describe())
	last := "[never]"
	if !j.lastRun.IsZero() {
		last = j.lastRun.Format(time.DateTime)
	}
	fmt.Fprintf(&b, " (last run: %s, next run: %s)", last, j.nextRun.Format(time.DateTime))
	return b.String()
}

// run executes the callable, converting errors and panics into a
// *JobExecutionError.
func (j *Job) run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &JobExecutionError{JobID: j.id, Job: j.task.name, Panic: r, Stack: string(debug.Stack())}
		}
	}()
	if cerr := j.task.call(ctx); cerr != nil {
		return &JobExecutionError{JobID: j.id, Job: j.task.name, Err: cerr}
	}
	return nil
}
