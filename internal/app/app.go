// Package app wires config, logging, storage, alerts and the job runner
// into the cadence daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"cadence/internal/alert"
	"cadence/internal/config"
	"cadence/internal/eventbus"
	"cadence/internal/observability/metrics"
	"cadence/internal/observability/status"
	"cadence/internal/runtime/supervisor"
	"cadence/internal/storage"
	"cadence/internal/task/runner"
	logx "cadence/pkg/logx"
	"cadence/pkg/schedule"
)

type options struct {
	clock      clockwork.Clock
	sender     alert.Sender
	runnerOpts []runner.Option
}

type Option func(*options)

// WithClock drives the scheduler and poll loop from c.
func WithClock(c clockwork.Clock) Option { return func(o *options) { o.clock = c } }

// WithAlertSender replaces the Telegram sender.
func WithAlertSender(s alert.Sender) Option { return func(o *options) { o.sender = s } }

// WithRunnerOptions appends options for the poll or cron runner.
func WithRunnerOptions(opts ...runner.Option) Option {
	return func(o *options) { o.runnerOpts = append(o.runnerOpts, opts...) }
}

type App struct {
	cfgm *config.Manager

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	store   storage.Store
	alerts  *alert.Service
	clock   clockwork.Clock
	metrics *metrics.Metrics
	status  *status.Service

	// Poll mode.
	sched  *schedule.Scheduler
	runner *runner.Runner
	poll   *pollHost
	// Cron mode.
	cron *runner.CronRunner

	host jobHost
	sup  *supervisor.Supervisor
}

// New loads the config file, opens the configured sinks and registers the
// enabled jobs. Nothing runs until Start.
func New(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}

	logSvc, base := logx.New(mapLogConfig(cfg))
	log := base.With(logx.String("comp", "app"))
	cfgm.SetLogger(base.With(logx.String("comp", "config")))

	a := &App{
		cfgm:  cfgm,
		log:   log,
		logs:  logSvc,
		bus:   eventbus.New(),
		clock: o.clock,
	}
	if err := a.build(ctx, cfg, base, o); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config, base logx.Logger, o options) error {
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	if enabled {
		st, err := storage.Open(sc, base.With(logx.String("comp", "storage")))
		if err != nil {
			return err
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	acfg, err := mapAlertConfig(cfg)
	if err != nil {
		return err
	}
	sender := o.sender
	if sender == nil && acfg.Enabled {
		if sender, err = alert.NewTelegram(acfg, ""); err != nil {
			return fmt.Errorf("alerts.telegram: %w", err)
		}
	}
	a.alerts = alert.New(acfg, sender, base.With(logx.String("comp", "alert")))

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	rcfg, err := mapRunnerConfig(cfg)
	if err != nil {
		return err
	}
	gauges := metrics.Gauges{
		Jobs: func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return float64(a.host.count(ctx))
		},
		EventsDropped: func() float64 { return float64(a.bus.Dropped()) },
	}
	if !cfg.Scheduler.CronMode() {
		gauges.Polls = func() float64 { return float64(a.runner.Polls()) }
	}
	a.metrics = metrics.New(gauges)

	ropts := []runner.Option{
		runner.WithClock(a.clock),
		runner.WithBus(a.bus),
		runner.WithAlerts(a.alerts),
		runner.WithObserver(a.metrics),
		runner.WithLogger(base.With(logx.String("comp", "runner"))),
	}
	if a.store != nil {
		ropts = append(ropts, runner.WithStore(a.store))
	}
	ropts = append(ropts, o.runnerOpts...)
	jobsLog := base.With(logx.String("comp", "jobs"))

	if cfg.Scheduler.CronMode() {
		a.cron = runner.NewCron(loc, ropts...)
		a.host = &cronHost{cron: a.cron, log: jobsLog}
	} else {
		policy := schedule.ReportErrors
		if cfg.Scheduler.RaiseErrors {
			policy = schedule.RaiseErrors
		}
		a.sched = schedule.New(
			schedule.WithClock(a.clock),
			schedule.WithLocation(loc),
			schedule.WithErrorPolicy(policy),
			schedule.WithLogger(base.With(logx.String("comp", "scheduler"))),
			schedule.WithObserver(runner.EventPublisher(a.bus)),
		)
		a.runner = runner.New(a.sched, rcfg, ropts...)
		a.poll = &pollHost{sched: a.sched, runner: a.runner, log: jobsLog}
		a.host = a.poll
	}
	if err := registerJobs(ctx, a.host, cfg.Jobs); err != nil {
		return err
	}

	hcfg, err := mapHTTPConfig(cfg)
	if err != nil {
		return err
	}
	src := status.Sources{Jobs: a.host.list, Metrics: a.metrics.Handler()}
	if a.store != nil {
		src.Runs = a.store.RecentRuns
	}
	a.status = status.New(hcfg, src, base.With(logx.String("comp", "status")))
	return nil
}

// Done is closed when the app stops on its own, e.g. after a job error
// with scheduler.raise_errors set.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		return nil
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start launches the runner, the alert worker and the config watcher.
func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	sctx := a.sup.Context()

	// Queued alerts are drained by Stop, not dropped on cancel.
	a.alerts.Start(context.WithoutCancel(ctx))

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// The job host must be owned by its runner before the reload loop and
	// the status server can reach it.
	jobs := a.host.count(ctx)
	mode := "cron"
	if a.runner != nil {
		mode = "poll"
		a.poll.running.Store(true)
		a.sup.Go("runner", a.runner.Run)
	} else {
		a.cron.Start(sctx)
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.WithRestartBackoff(time.Second, time.Minute))

	// The status server is optional; a bind failure never stops the daemon.
	if err := a.status.Start(sctx); err != nil {
		a.log.Error("status server not started", logx.Err(err))
	}

	a.log.Info("app started", logx.String("mode", mode), logx.Int("jobs", jobs))
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: only the latest config matters.
			for drained := false; !drained; {
				select {
				case newer, ok := <-sub:
					if !ok {
						return
					}
					newCfg = newer
				default:
					drained = true
				}
			}
			a.applyConfig(ctx, last, newCfg)
			last = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, diff := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLogConfig(newCfg))
		case "http":
			if hcfg, err := mapHTTPConfig(newCfg); err != nil {
				a.log.Error("http config rejected", logx.Err(err))
			} else if err := a.status.Reconfigure(ctx, hcfg); err != nil {
				a.log.Error("status server reconfigure failed", logx.Err(err))
			}
		case "scheduler", "storage", "alerts":
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}

	if !diff.Empty() {
		if err := reloadJobs(ctx, a.host, newCfg, diff); err != nil {
			a.log.Error("job reload failed", logx.Err(err))
		}
		for _, name := range diff.Removed {
			a.metrics.Forget(name)
		}
		a.log.Info("jobs reloaded",
			logx.Strings("added", diff.Added),
			logx.Strings("removed", diff.Removed),
			logx.Strings("changed", diff.Changed),
		)
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReload, Time: a.clock.Now(), Data: diff})
	a.log.Info("config reloaded", fields...)
}

// Stop shuts every component down, each step bounded so one slow
// component cannot stall the rest.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")
	if a.sup != nil {
		a.sup.Cancel()
	}

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		if took := time.Since(start); took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	}

	if a.cron != nil {
		step("cron", 5*time.Second, a.cron.Stop)
	}
	if a.status != nil {
		step("status", 2*time.Second, func(c context.Context) error { a.status.Stop(c); return nil })
	}
	if a.sup != nil {
		step("supervisor", 5*time.Second, a.sup.Wait)
	}
	step("alerts", 2*time.Second, func(c context.Context) error { a.alerts.Stop(c); return nil })
	a.log.Info("stopped")
	return a.close()
}

func (a *App) close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}
