// Package schedule is an in-process, poll-driven periodic job scheduler.
//
// Jobs are declared with a fluent rule builder and registered on an
// explicit Scheduler:
//
//	s := schedule.New()
//	job, err := s.Every(2).Weeks().On("tuesday").At("10:30").Do(report, "weekly")
//
// The caller drives the scheduler by calling RunPending in its own loop and
// may use IdleSeconds to pick a sleep duration. Nothing in this package
// starts goroutines; a Scheduler is not safe for concurrent use.
//
// Next-run computation is a pure function (NextRun) and can be used on its
// own, e.g. to preview a rule.
package schedule
