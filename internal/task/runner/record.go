package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"cadence/internal/alert"
	"cadence/internal/eventbus"
	"cadence/internal/storage"
	logx "cadence/pkg/logx"
	"cadence/pkg/schedule"
)

const storeTimeout = 2 * time.Second

// recorder fans one run outcome out to history, logs and alerts.
type recorder struct {
	store  storage.Store
	bus    eventbus.Bus
	alerts Alerter
	obs    RunObserver
	log    logx.Logger
	every  time.Duration

	mu     sync.Mutex
	limits map[string]*rate.Limiter
}

func newRecorder(s settings) *recorder {
	return &recorder{
		store:  s.store,
		bus:    s.bus,
		alerts: s.alerts,
		obs:    s.obs,
		log:    s.log,
		every:  s.failureLogEvery,
		limits: map[string]*rate.Limiter{},
	}
}

// EventPublisher returns a scheduler observer that forwards lifecycle
// events to bus.
func EventPublisher(bus eventbus.Bus) func(schedule.Event) {
	return func(e schedule.Event) { publish(bus, e) }
}

func publish(bus eventbus.Bus, e schedule.Event) {
	if bus == nil {
		return
	}
	bus.Publish(eventbus.Event{Type: string(e.Type), Time: e.At, Data: e})
}

func (r *recorder) record(ctx context.Context, o schedule.Outcome) {
	r.persist(ctx, o)
	if r.obs != nil {
		r.obs.ObserveRun(o)
	}

	log := r.log.With(logx.String("job", o.Job), logx.String("id", o.JobID))
	switch {
	case o.Err != nil:
		fields := []logx.Field{logx.Duration("took", o.Duration), logx.Err(o.Err)}
		if !o.NextRun.IsZero() {
			fields = append(fields, logx.Time("next", o.NextRun))
		}
		if r.allowFailureLog(o.JobID) {
			log.Warn("job failed", fields...)
		} else {
			log.Debug("job failed", fields...)
		}
		r.notify(alert.Alert{Job: o.Job, JobID: o.JobID, At: o.Started, Err: o.Err.Error(), NextRun: o.NextRun})
	default:
		log.Debug("job ran", logx.Duration("took", o.Duration), logx.Time("next", o.NextRun))
	}

	if o.RescheduleErr != nil {
		log.Error("job removed from schedule", logx.Err(o.RescheduleErr))
		r.notify(alert.Alert{Job: o.Job, JobID: o.JobID, At: o.Started, Err: o.RescheduleErr.Error(), Removed: true})
		r.forget(o.JobID)
	}
}

func (r *recorder) persist(ctx context.Context, o schedule.Outcome) {
	if r.store == nil {
		return
	}
	rec := storage.RunRecord{
		JobID:    o.JobID,
		Job:      o.Job,
		Tags:     o.Tags,
		Due:      o.Due,
		Started:  o.Started,
		Duration: o.Duration,
		OK:       o.OK(),
		NextRun:  o.NextRun,
	}
	if o.Err != nil {
		rec.Error = o.Err.Error()
	}
	// History is written even while shutting down.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	if err := r.store.AppendRun(sctx, rec); err != nil {
		r.log.Warn("run history write failed", logx.String("job", o.Job), logx.Err(err))
	}
}

func (r *recorder) notify(a alert.Alert) {
	if r.alerts == nil {
		return
	}
	err := r.alerts.Notify(a)
	switch {
	case err == nil, errors.Is(err, alert.ErrDisabled), errors.Is(err, alert.ErrStopped):
	default:
		r.log.Warn("alert dropped", logx.String("job", a.Job), logx.Err(err))
	}
}

func (r *recorder) allowFailureLog(jobID string) bool {
	if r.every <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limits[jobID]
	if !ok {
		l = rate.NewLimiter(rate.Every(r.every), 1)
		r.limits[jobID] = l
	}
	return l.Allow()
}

func (r *recorder) forget(jobID string) {
	r.mu.Lock()
	delete(r.limits, jobID)
	r.mu.Unlock()
}

// retain drops the limiters of jobs for which live reports false.
func (r *recorder) retain(live func(jobID string) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.limits {
		if !live(id) {
			delete(r.limits, id)
		}
	}
}

func (r *recorder) tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limits)
}
