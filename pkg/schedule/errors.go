package schedule

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks invalid or conflicting builder calls.
	ErrConfiguration = errors.New("schedule: invalid configuration")
	// ErrValueParse marks a malformed time, date, weekday, window or zone string.
	ErrValueParse = errors.New("schedule: cannot parse value")
	// ErrUnsatisfiable is returned when no next run can be found within the lookahead.
	ErrUnsatisfiable = errors.New("schedule: unsatisfiable schedule")
)

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func parseErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValueParse, fmt.Sprintf(format, args...))
}

func unsatisfiablef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnsatisfiable, fmt.Sprintf(format, args...))
}

// JobExecutionError reports a job whose callable returned an error or panicked
// during a poll. It is carried in Outcome.Err and never aborts the poll.
type JobExecutionError struct {
	JobID string
	Job   string
	Err   error
	Panic any
	Stack string
}

func (e *JobExecutionError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("job %s (%s) panicked: %v", e.Job, e.JobID, e.Panic)
	}
	return fmt.Sprintf("job %s (%s) failed: %v", e.Job, e.JobID, e.Err)
}

func (e *JobExecutionError) Unwrap() error { return e.Err }

// ScheduleError reports a job that could not be rescheduled after it ran.
// The job is removed from the scheduler.
type ScheduleError struct {
	JobID string
	Err   error
}

func (e *ScheduleError) Error() string {
	return fmt.Sprintf("job %s: reschedule: %v", e.JobID, e.Err)
}

func (e *ScheduleError) Unwrap() error { return e.Err }

// ErrorPolicy decides whether RunPending returns job execution errors.
type ErrorPolicy int

const (
	// ReportErrors keeps execution failures in the returned outcomes only.
	ReportErrors ErrorPolicy = iota
	// RaiseErrors additionally returns the joined execution errors once the poll completes.
	RaiseErrors
)
