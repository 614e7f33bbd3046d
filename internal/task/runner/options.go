// Package runner drives job execution: the poll loop around a
// schedule.Scheduler, or detached cron entries in cron mode. Both record
// every run to storage, the event bus and failure alerts.
package runner

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/jonboulle/clockwork"

	"cadence/internal/alert"
	"cadence/internal/eventbus"
	"cadence/internal/storage"
	logx "cadence/pkg/logx"
	"cadence/pkg/schedule"
)

// Alerter receives failure notifications. *alert.Service implements it.
type Alerter interface {
	Notify(a alert.Alert) error
}

// RunObserver sees every outcome, e.g. to export metrics.
type RunObserver interface {
	ObserveRun(o schedule.Outcome)
}

type settings struct {
	clock  clockwork.Clock
	store  storage.Store
	bus    eventbus.Bus
	alerts Alerter
	obs    RunObserver
	log    logx.Logger

	// failureLogEvery spaces repeated failure logs of one job.
	failureLogEvery time.Duration

	notify   func(state string) (bool, error)
	watchdog func() (time.Duration, error)
}

type Option func(*settings)

func WithClock(c clockwork.Clock) Option { return func(s *settings) { s.clock = c } }
func WithStore(st storage.Store) Option { return func(s *settings) { s.store = st } }
func WithBus(b eventbus.Bus) Option { return func(s *settings) { s.bus = b } }
func WithAlerts(a Alerter) Option { return func(s *settings) { s.alerts = a } }
func WithLogger(log logx.Logger) Option { return func(s *settings) { s.log = log } }
func WithObserver(o RunObserver) Option { return func(s *settings) { s.obs = o } }

// WithFailureLogEvery sets the minimum spacing of warn-level failure logs
// per job; suppressed failures are logged at debug level.
func WithFailureLogEvery(d time.Duration) Option {
	return func(s *settings) { s.failureLogEvery = d }
}

// WithNotifier replaces the sd_notify hooks, mainly for tests.
func WithNotifier(notify func(state string) (bool, error), watchdog func() (time.Duration, error)) Option {
	return func(s *settings) {
		s.notify = notify
		s.watchdog = watchdog
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		failureLogEvery: time.Minute,
		notify:          func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		watchdog:        func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
	}
	for _, o := range opts {
		o(&s)
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}
