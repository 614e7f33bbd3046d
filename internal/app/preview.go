package app

import (
	"fmt"
	"time"

	"cadence/internal/config"
	"cadence/pkg/schedule"
)

// JobPreview is one enabled job with its upcoming runs.
type JobPreview struct {
	Name string
	Rule string
	Next []time.Time
}

// Preview computes the next n runs of every enabled job as seen from now,
// without registering anything.
func Preview(cfg *config.Config, now time.Time, n int) ([]JobPreview, error) {
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	sched := schedule.New(schedule.WithLocation(loc))

	var out []JobPreview
	for _, j := range cfg.Jobs {
		if j.Disabled {
			continue
		}
		b, err := j.Rule(sched.Every)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", j.Name, err)
		}
		spec, err := b.Build()
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", j.Name, err)
		}
		p := JobPreview{Name: j.Name, Rule: spec.String()}
		at, last := now, time.Time{}
		for i := 0; i < n; i++ {
			next, err := schedule.NextRun(at, spec, last)
			if err != nil {
				return nil, fmt.Errorf("job %s: %w", j.Name, err)
			}
			p.Next = append(p.Next, next)
			at, last = next, next
		}
		out = append(out, p)
	}
	return out, nil
}
