package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"cadence/internal/config"
	"cadence/internal/observability/status"
	"cadence/internal/task/action"
	"cadence/internal/task/runner"
	logx "cadence/pkg/logx"
	"cadence/pkg/schedule"
)

// jobHost is where config jobs live: the poll loop or the cron runner.
type jobHost interface {
	add(ctx context.Context, j config.JobConfig) error
	// clear removes every job registered for the named config entries.
	clear(ctx context.Context, names ...string) (int, error)
	count(ctx context.Context) int
	list(ctx context.Context) ([]status.JobInfo, error)
}

func jobTags(names []string) []string {
	tags := make([]string, 0, len(names))
	for _, n := range names {
		tags = append(tags, config.JobTag(n))
	}
	return tags
}

// pollHost registers directly on the scheduler until the runner loop
// starts, then through Runner.Do.
type pollHost struct {
	sched   *schedule.Scheduler
	runner  *runner.Runner
	log     logx.Logger
	running atomic.Bool
}

func (h *pollHost) apply(ctx context.Context, fn func(*schedule.Scheduler) error) error {
	if !h.running.Load() {
		return fn(h.sched)
	}
	return h.runner.Do(ctx, fn)
}

func (h *pollHost) add(ctx context.Context, j config.JobConfig) error {
	fn, err := action.Build(j, h.log)
	if err != nil {
		return err
	}
	return h.apply(ctx, func(s *schedule.Scheduler) error {
		b, err := j.Rule(s.Every)
		if err != nil {
			return fmt.Errorf("job %s: %w", j.Name, err)
		}
		job, err := b.Do(fn)
		if err != nil {
			return fmt.Errorf("job %s: %w", j.Name, err)
		}
		h.log.Info("job registered", logx.String("job", j.Name), logx.String("rule", job.Spec().String()), logx.Time("next", job.NextRun()))
		return nil
	})
}

func (h *pollHost) clear(ctx context.Context, names ...string) (int, error) {
	var n int
	err := h.apply(ctx, func(s *schedule.Scheduler) error {
		n = s.Clear(jobTags(names)...)
		return nil
	})
	return n, err
}

func (h *pollHost) count(ctx context.Context) int {
	var n int
	_ = h.apply(ctx, func(s *schedule.Scheduler) error {
		n = s.Len()
		return nil
	})
	return n
}

func (h *pollHost) list(ctx context.Context) ([]status.JobInfo, error) {
	var out []status.JobInfo
	err := h.apply(ctx, func(s *schedule.Scheduler) error {
		for _, j := range s.Jobs() {
			out = append(out, jobInfo(j.ID(), j.Name(), j.Spec().String(), j.Tags(), j.LastRun(), j.NextRun()))
		}
		return nil
	})
	return out, err
}

func jobInfo(id, name, rule string, tags []string, last, next time.Time) status.JobInfo {
	info := status.JobInfo{ID: id, Name: name, Rule: rule, Tags: tags, NextRun: next}
	if !last.IsZero() {
		info.LastRun = &last
	}
	return info
}

type cronHost struct {
	cron *runner.CronRunner
	log  logx.Logger
}

func (h *cronHost) add(_ context.Context, j config.JobConfig) error {
	b, err := j.Rule(schedule.Every)
	if err != nil {
		return fmt.Errorf("job %s: %w", j.Name, err)
	}
	spec, err := b.Build()
	if err != nil {
		return fmt.Errorf("job %s: %w", j.Name, err)
	}
	fn, err := action.Build(j, h.log)
	if err != nil {
		return err
	}
	if _, err := h.cron.Add(j.Name, spec, fn); err != nil {
		return fmt.Errorf("job %s: %w", j.Name, err)
	}
	h.log.Info("job registered", logx.String("job", j.Name), logx.String("rule", spec.String()))
	return nil
}

func (h *cronHost) clear(_ context.Context, names ...string) (int, error) {
	return h.cron.Clear(jobTags(names)...), nil
}

func (h *cronHost) count(context.Context) int { return h.cron.Len() }

func (h *cronHost) list(context.Context) ([]status.JobInfo, error) {
	entries := h.cron.Entries()
	out := make([]status.JobInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, jobInfo(e.ID, e.Name, e.Rule, e.Tags, e.Prev, e.NextRun))
	}
	return out, nil
}

// registerJobs adds every enabled job and joins the failures.
func registerJobs(ctx context.Context, host jobHost, jobs []config.JobConfig) error {
	var errs []error
	for _, j := range jobs {
		if j.Disabled {
			continue
		}
		if err := host.add(ctx, j); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// reloadJobs removes the removed and changed jobs and registers the added
// and changed ones from newCfg.
func reloadJobs(ctx context.Context, host jobHost, newCfg *config.Config, diff config.JobDiff) error {
	gone := append(append([]string(nil), diff.Removed...), diff.Changed...)
	if len(gone) > 0 {
		if _, err := host.clear(ctx, gone...); err != nil {
			return err
		}
	}
	want := make(map[string]bool, len(diff.Added)+len(diff.Changed))
	for _, n := range diff.Added {
		want[n] = true
	}
	for _, n := range diff.Changed {
		want[n] = true
	}
	var jobs []config.JobConfig
	for _, j := range newCfg.Jobs {
		if want[j.Name] {
			jobs = append(jobs, j)
		}
	}
	return registerJobs(ctx, host, jobs)
}
