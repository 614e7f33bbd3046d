package runner

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/jonboulle/clockwork"

	logx "cadence/pkg/logx"
	"cadence/pkg/schedule"
)

var (
	ErrStarted = errors.New("runner already started")
	ErrStopped = errors.New("runner stopped")
)

type Config struct {
	MinPoll time.Duration
	MaxPoll time.Duration
	// StopOnError ends Run with the poll error instead of logging it.
	StopOnError bool
	// Watchdog pings the systemd watchdog when WATCHDOG_USEC is set.
	Watchdog bool
}

func (c Config) withDefaults() Config {
	if c.MinPoll <= 0 {
		c.MinPoll = 100 * time.Millisecond
	}
	if c.MaxPoll <= 0 {
		c.MaxPoll = time.Minute
	}
	if c.MaxPoll < c.MinPoll {
		c.MaxPoll = c.MinPoll
	}
	return c
}

type command struct {
	fn   func(*schedule.Scheduler) error
	done chan error
}

// Runner owns a Scheduler and polls it from a single goroutine. Anything
// else that touches the Scheduler after Run started must go through Do.
type Runner struct {
	cfg   Config
	sched *schedule.Scheduler
	clock clockwork.Clock
	rec   *recorder
	log   logx.Logger

	notify   func(state string) (bool, error)
	watchdog func() (time.Duration, error)

	cmds    chan command
	started atomic.Bool
	stopped chan struct{}
	polls   atomic.Uint64
}

// New returns a runner for sched. The scheduler should use the same clock
// as the runner (WithClock).
func New(sched *schedule.Scheduler, cfg Config, opts ...Option) *Runner {
	s := newSettings(opts)
	return &Runner{
		cfg:      cfg.withDefaults(),
		sched:    sched,
		clock:    s.clock,
		rec:      newRecorder(s),
		log:      s.log,
		notify:   s.notify,
		watchdog: s.watchdog,
		cmds:     make(chan command),
		stopped:  make(chan struct{}),
	}
}

// Polls counts completed poll iterations.
func (r *Runner) Polls() uint64 { return r.polls.Load() }

// Do runs fn on the scheduling loop and returns its error. It blocks until
// the loop picks the command up, ctx ends or the runner stops.
func (r *Runner) Do(ctx context.Context, fn func(*schedule.Scheduler) error) error {
	c := command{fn: fn, done: make(chan error, 1)}
	select {
	case r.cmds <- c:
	case <-r.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-c.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run polls until ctx ends. Each iteration runs the due jobs, records the
// outcomes and sleeps until the next run, clamped to [MinPoll, MaxPoll].
// A Runner can be run once.
func (r *Runner) Run(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrStarted
	}
	defer close(r.stopped)

	r.sdNotify(daemon.SdNotifyReady)
	defer r.sdNotify(daemon.SdNotifyStopping)

	var watchdog <-chan time.Time
	if r.cfg.Watchdog {
		iv, err := r.watchdog()
		switch {
		case err != nil:
			r.log.Warn("watchdog check failed", logx.Err(err))
		case iv > 0:
			t := r.clock.NewTicker(iv / 2)
			defer t.Stop()
			watchdog = t.Chan()
			r.log.Debug("watchdog enabled", logx.Duration("interval", iv))
		}
	}

	r.log.Info("runner started",
		logx.Int("jobs", r.sched.Len()),
		logx.Duration("min_poll", r.cfg.MinPoll),
		logx.Duration("max_poll", r.cfg.MaxPoll),
	)
	for {
		if err := r.poll(ctx); err != nil {
			return err
		}
		timer := r.clock.NewTimer(r.sleepFor())
		select {
		case <-ctx.Done():
			timer.Stop()
			r.log.Info("runner stopped")
			return nil
		case c := <-r.cmds:
			timer.Stop()
			err := c.fn(r.sched)
			r.pruneLimits()
			c.done <- err
		case <-watchdog:
			timer.Stop()
			r.sdNotify(daemon.SdNotifyWatchdog)
		case <-timer.Chan():
		}
	}
}

func (r *Runner) poll(ctx context.Context) error {
	defer r.polls.Add(1)
	outcomes, err := r.sched.RunPending(ctx)
	for _, o := range outcomes {
		r.rec.record(ctx, o)
	}
	r.pruneLimits()
	if err == nil || ctx.Err() != nil {
		return nil
	}
	if r.cfg.StopOnError {
		r.log.Error("stopping on job error", logx.Err(err))
		return err
	}
	return nil
}

// pruneLimits forgets failure-log state of jobs that left the registry.
func (r *Runner) pruneLimits() {
	if r.rec.tracked() == 0 {
		return
	}
	live := make(map[string]bool, r.sched.Len())
	for _, j := range r.sched.Jobs() {
		live[j.ID()] = true
	}
	r.rec.retain(func(id string) bool { return live[id] })
}

func (r *Runner) sleepFor() time.Duration {
	idle, ok := r.sched.IdleSeconds(r.clock.Now())
	if !ok {
		return r.cfg.MaxPoll
	}
	return min(max(idle, r.cfg.MinPoll), r.cfg.MaxPoll)
}

func (r *Runner) sdNotify(state string) {
	if r.notify == nil {
		return
	}
	if _, err := r.notify(state); err != nil {
		r.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
	}
}
