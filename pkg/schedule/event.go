package schedule

import "time"

type EventType string

const (
	EventScheduled EventType = "job.scheduled"
	EventRan       EventType = "job.ran"
	EventFailed    EventType = "job.failed"
	EventRemoved   EventType = "job.removed"
)

// Event describes a job lifecycle change.
type Event struct {
	Type    EventType
	At      time.Time
	JobID   string
	Job     string
	Tags    []string
	NextRun time.Time
	Err     error
}

// Outcome is the result of one job execution inside a poll.
type Outcome struct {
	JobID string
	Job   string
	Tags  []string

	// Due is the next-run instant that made the job eligible.
	Due      time.Time
	Started  time.Time
	Duration time.Duration

	// Err is a *JobExecutionError when the callable failed.
	Err error

	// NextRun is zero when the job could not be rescheduled; RescheduleErr
	// then holds the *ScheduleError and the job has been removed.
	NextRun       time.Time
	RescheduleErr error
}

func (o Outcome) OK() bool { return o.Err == nil }
