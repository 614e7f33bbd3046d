package runner

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"cadence/internal/alert"
	"cadence/internal/eventbus"
	"cadence/internal/storage"
	"cadence/pkg/schedule"
)

var start = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type memStore struct {
	mu   sync.Mutex
	runs []storage.RunRecord
}

func (m *memStore) AppendRun(_ context.Context, r storage.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
	return nil
}

func (m *memStore) RecentRuns(context.Context, string, int) ([]storage.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := slices.Clone(m.runs)
	slices.Reverse(out)
	return out, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) snapshot() []storage.RunRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.runs)
}

type memAlerts struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (m *memAlerts) Notify(a alert.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, a)
	return nil
}

func (m *memAlerts) snapshot() []alert.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.alerts)
}

type sdStates struct {
	mu     sync.Mutex
	states []string
	pinged chan struct{}
}

func (s *sdStates) notify(state string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
	if state == "WATCHDOG=1" {
		select {
		case s.pinged <- struct{}{}:
		default:
		}
	}
	return true, nil
}

func (s *sdStates) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.states)
}

type harness struct {
	clock  *clockwork.FakeClock
	sched  *schedule.Scheduler
	runner *Runner
	store  *memStore
	alerts *memAlerts
	sd     *sdStates
	bus    eventbus.Bus
}

func newHarness(t *testing.T, cfg Config, watchdog time.Duration) *harness {
	t.Helper()
	h := &harness{
		clock:  clockwork.NewFakeClockAt(start),
		store:  &memStore{},
		alerts: &memAlerts{},
		sd:     &sdStates{pinged: make(chan struct{}, 1)},
		bus:    eventbus.New(),
	}
	h.sched = schedule.New(schedule.WithClock(h.clock), schedule.WithObserver(EventPublisher(h.bus)))
	h.runner = New(h.sched, cfg,
		WithClock(h.clock),
		WithStore(h.store),
		WithAlerts(h.alerts),
		WithBus(h.bus),
		WithNotifier(h.sd.notify, func() (time.Duration, error) { return watchdog, nil }),
	)
	return h
}

// start runs the loop in the background and returns a stop function that
// cancels it and returns Run's error.
func (h *harness) start(t *testing.T) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.runner.Run(ctx) }()
	return func() error {
		cancel()
		select {
		case err := <-errCh:
			return err
		case <-time.After(5 * time.Second):
			t.Fatalf("runner did not stop")
			return nil
		}
	}
}

// waitSleeping blocks until the loop waits on n clock waiters.
func (h *harness) waitSleeping(t *testing.T, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.clock.BlockUntilContext(ctx, n); err != nil {
		t.Fatalf("loop never went to sleep: %v", err)
	}
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for job run")
	}
}

func TestRunnerRunsDueJobs(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{MinPoll: 100 * time.Millisecond, MaxPoll: time.Minute}, 0)
	ran := make(chan struct{}, 4)
	if _, err := h.sched.Every(1).Minute().Named("tick").Do(func() { ran <- struct{}{} }); err != nil {
		t.Fatalf("Do error: %v", err)
	}
	stop := h.start(t)

	for i := 0; i < 2; i++ {
		h.waitSleeping(t, 1)
		h.clock.Advance(time.Minute)
		waitFor(t, ran)
	}
	// The second record is written after the job returned.
	h.waitSleeping(t, 1)
	if err := stop(); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	runs := h.store.snapshot()
	if len(runs) != 2 {
		t.Fatalf("recorded %d runs, want 2", len(runs))
	}
	if r := runs[0]; r.Job != "tick" || !r.OK || !r.Due.Equal(start.Add(time.Minute)) || !r.NextRun.Equal(start.Add(2*time.Minute)) {
		t.Fatalf("first record = %+v", r)
	}
	if got := h.sd.snapshot(); !slices.Equal(got, []string{"READY=1", "STOPPING=1"}) {
		t.Fatalf("sd_notify states = %v", got)
	}
	if len(h.alerts.snapshot()) != 0 {
		t.Fatalf("unexpected alerts for successful runs")
	}
}

func TestRunnerSleepClamp(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{MinPoll: time.Second, MaxPoll: 10 * time.Second}, 0)
	if got := h.runner.sleepFor(); got != 10*time.Second {
		t.Fatalf("empty registry sleep = %s, want max poll", got)
	}
	if _, err := h.sched.Every(1).Hour().Do(func() {}); err != nil {
		t.Fatalf("Do error: %v", err)
	}
	if got := h.runner.sleepFor(); got != 10*time.Second {
		t.Fatalf("sleep = %s, want clamp to 10s", got)
	}
	if _, err := h.sched.Every(1).Second().Do(func() {}); err != nil {
		t.Fatalf("Do error: %v", err)
	}
	h.clock.Advance(900 * time.Millisecond)
	if got := h.runner.sleepFor(); got != time.Second {
		t.Fatalf("sleep = %s, want clamp to min poll", got)
	}
	h.clock.Advance(5 * time.Second)
	if got := h.runner.sleepFor(); got != time.Second {
		t.Fatalf("overdue sleep = %s, want min poll", got)
	}
}

func TestRunnerFailuresAlertAndRecord(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{MaxPoll: time.Minute}, 0)
	ran := make(chan struct{}, 4)
	failed, unsub := h.bus.Subscribe(8, eventbus.JobFailed)
	defer unsub()
	if _, err := h.sched.Every(1).Minute().Named("flaky").Do(func() error {
		ran <- struct{}{}
		return errors.New("disk full")
	}); err != nil {
		t.Fatalf("Do error: %v", err)
	}
	stop := h.start(t)
	h.waitSleeping(t, 1)
	h.clock.Advance(time.Minute)
	waitFor(t, ran)
	h.waitSleeping(t, 1)
	if err := stop(); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	runs := h.store.snapshot()
	if len(runs) != 1 || runs[0].OK || runs[0].Error == "" {
		t.Fatalf("runs = %+v, want one failed record", runs)
	}
	alerts := h.alerts.snapshot()
	if len(alerts) != 1 || alerts[0].Job != "flaky" || alerts[0].Removed {
		t.Fatalf("alerts = %+v", alerts)
	}
	select {
	case e := <-failed:
		if e.Type != eventbus.JobFailed {
			t.Fatalf("event type = %s", e.Type)
		}
	default:
		t.Fatalf("no job.failed event published")
	}
}

func TestRunnerStopOnError(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{MaxPoll: time.Minute, StopOnError: true}, 0)
	h.sched = schedule.New(schedule.WithClock(h.clock), schedule.WithErrorPolicy(schedule.RaiseErrors))
	h.runner = New(h.sched, Config{MaxPoll: time.Minute, StopOnError: true},
		WithClock(h.clock), WithStore(h.store), WithNotifier(h.sd.notify, nil))
	if _, err := h.sched.Every(1).Minute().Do(func() error { return errors.New("boom") }); err != nil {
		t.Fatalf("Do error: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- h.runner.Run(context.Background()) }()
	h.waitSleeping(t, 1)
	h.clock.Advance(time.Minute)
	select {
	case err := <-errCh:
		var execErr *schedule.JobExecutionError
		if !errors.As(err, &execErr) {
			t.Fatalf("Run error = %v, want *JobExecutionError", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("runner kept running after a failed job")
	}
	if len(h.store.snapshot()) != 1 {
		t.Fatalf("failed run not recorded before stopping")
	}
}

func TestRecorderRemovedJob(t *testing.T) {
	t.Parallel()
	store, alerts := &memStore{}, &memAlerts{}
	rec := newRecorder(newSettings([]Option{WithStore(store), WithAlerts(alerts)}))
	rec.record(context.Background(), schedule.Outcome{
		JobID:         "id-1",
		Job:           "closing",
		Started:       start,
		Due:           start,
		Err:           &schedule.JobExecutionError{JobID: "id-1", Job: "closing", Err: errors.New("boom")},
		RescheduleErr: &schedule.ScheduleError{JobID: "id-1", Err: schedule.ErrUnsatisfiable},
	})

	got := alerts.snapshot()
	if len(got) != 2 || got[0].Removed || !got[1].Removed {
		t.Fatalf("alerts = %+v, want a failure then a removal", got)
	}
	runs := store.snapshot()
	if len(runs) != 1 || runs[0].OK || !runs[0].NextRun.IsZero() {
		t.Fatalf("runs = %+v", runs)
	}
}

func TestRecorderThrottlesFailureLogs(t *testing.T) {
	t.Parallel()
	rec := newRecorder(newSettings([]Option{WithFailureLogEvery(time.Hour)}))
	if !rec.allowFailureLog("a") {
		t.Fatalf("first failure log suppressed")
	}
	if rec.allowFailureLog("a") {
		t.Fatalf("second failure log inside the interval allowed")
	}
	if !rec.allowFailureLog("b") {
		t.Fatalf("throttle leaked across jobs")
	}
	rec.forget("a")
	if !rec.allowFailureLog("a") {
		t.Fatalf("forgotten job still throttled")
	}
	unthrottled := newRecorder(newSettings([]Option{WithFailureLogEvery(0)}))
	for i := 0; i < 3; i++ {
		if !unthrottled.allowFailureLog("a") {
			t.Fatalf("zero interval must not throttle")
		}
	}
}

func TestRunnerPrunesRemovedJobLimits(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{MaxPoll: time.Minute}, 0)
	a, err := h.sched.Every(10).Minutes().Tag("job:a").Do(func() {})
	if err != nil {
		t.Fatalf("register a: %v", err)
	}
	b, err := h.sched.Every(10).Minutes().Tag("job:b").Do(func() {})
	if err != nil {
		t.Fatalf("register b: %v", err)
	}
	h.runner.rec.allowFailureLog(a.ID())
	h.runner.rec.allowFailureLog(b.ID())
	h.runner.rec.allowFailureLog("gone")

	h.runner.pruneLimits()
	if got := h.runner.rec.tracked(); got != 2 {
		t.Fatalf("tracked after prune = %d, want 2", got)
	}

	h.sched.Cancel(a)
	h.runner.pruneLimits()
	if got := h.runner.rec.tracked(); got != 1 {
		t.Fatalf("tracked after cancel = %d, want 1", got)
	}
	if h.runner.rec.allowFailureLog(b.ID()) {
		t.Fatalf("surviving job lost its throttle")
	}

	stop := h.start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.runner.Do(ctx, func(s *schedule.Scheduler) error { s.Clear(); return nil }); err != nil {
		t.Fatalf("Do clear error: %v", err)
	}
	if err := stop(); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if got := h.runner.rec.tracked(); got != 0 {
		t.Fatalf("tracked after clear = %d, want 0", got)
	}
}

func TestRunnerDo(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{MaxPoll: time.Minute}, 0)
	stop := h.start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := h.runner.Do(ctx, func(s *schedule.Scheduler) error {
		_, err := s.Every(10).Minutes().Tag("job:a").Do(func() {})
		return err
	})
	if err != nil {
		t.Fatalf("Do register error: %v", err)
	}
	var n int
	if err := h.runner.Do(ctx, func(s *schedule.Scheduler) error { n = s.Len(); return nil }); err != nil {
		t.Fatalf("Do len error: %v", err)
	}
	if n != 1 {
		t.Fatalf("Len = %d, want 1", n)
	}
	wantErr := errors.New("rejected")
	if err := h.runner.Do(ctx, func(*schedule.Scheduler) error { return wantErr }); !errors.Is(err, wantErr) {
		t.Fatalf("Do error = %v, want %v", err, wantErr)
	}
	if err := stop(); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if err := h.runner.Do(ctx, func(*schedule.Scheduler) error { return nil }); !errors.Is(err, ErrStopped) {
		t.Fatalf("Do after stop = %v, want ErrStopped", err)
	}
	if err := h.runner.Run(ctx); !errors.Is(err, ErrStarted) {
		t.Fatalf("second Run = %v, want ErrStarted", err)
	}
}

func TestRunnerWatchdog(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{MaxPoll: time.Hour, Watchdog: true}, 10*time.Second)
	stop := h.start(t)
	// Poll timer plus watchdog ticker.
	h.waitSleeping(t, 2)
	h.clock.Advance(5 * time.Second)
	select {
	case <-h.sd.pinged:
	case <-time.After(5 * time.Second):
		t.Fatalf("no watchdog ping, states = %v", h.sd.snapshot())
	}
	if err := stop(); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if got := h.sd.snapshot(); got[0] != "READY=1" || got[len(got)-1] != "STOPPING=1" {
		t.Fatalf("sd_notify states = %v", got)
	}
}

type memObserver struct {
	mu   sync.Mutex
	jobs []string
}

func (m *memObserver) ObserveRun(o schedule.Outcome) {
	m.mu.Lock()
	m.jobs = append(m.jobs, o.Job)
	m.mu.Unlock()
}

func TestRecorderObserver(t *testing.T) {
	t.Parallel()
	obs := &memObserver{}
	rec := newRecorder(newSettings([]Option{WithObserver(obs)}))
	rec.record(context.Background(), schedule.Outcome{JobID: "id-1", Job: "a", Started: start, Due: start})
	rec.record(context.Background(), schedule.Outcome{JobID: "id-2", Job: "b", Started: start, Due: start, Err: errors.New("x")})
	if !slices.Equal(obs.jobs, []string{"a", "b"}) {
		t.Fatalf("observed %v, want [a b]", obs.jobs)
	}
}
