package alert

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	rtsup "cadence/internal/runtime/supervisor"
	logx "cadence/pkg/logx"
)

// Service queues alerts and sends them from one rate-limited worker.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	sender  Sender
	cfg     Config
	limiter *rate.Limiter

	queue     chan Alert
	accepting bool
	sup       *rtsup.Supervisor

	dedup map[string]time.Time
	now   func() time.Time
}

func New(cfg Config, sender Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		log:     log,
		sender:  sender,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		dedup:   map[string]time.Time{},
		now:     time.Now,
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled && s.sender != nil
}

// Start launches the send worker. It is a no-op when disabled or running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil || !s.cfg.Enabled || s.sender == nil {
		return
	}
	s.queue = make(chan Alert, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	q := s.queue
	s.sup.GoRestart("alert.worker", func(c context.Context) error {
		s.workerLoop(c, q)
		return nil
	})
}

// Stop closes intake and drains queued alerts until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.queue == nil {
		s.mu.Unlock()
		return
	}
	q, sup := s.queue, s.sup
	s.accepting = false
	s.queue = nil
	s.sup = nil
	close(q)
	s.mu.Unlock()

	if err := sup.Wait(ctx); err != nil {
		sup.Cancel()
		s.log.Warn("alert queue not drained", logx.Int("left", len(q)), logx.Err(err))
	}
}

// Notify enqueues a without blocking.
func (s *Service) Notify(a Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.sender == nil {
		return ErrDisabled
	}
	if !s.accepting {
		return ErrStopped
	}
	if s.suppressedLocked(a) {
		s.log.Debug("alert suppressed", logx.String("job", a.Job))
		return nil
	}
	select {
	case s.queue <- a:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) suppressedLocked(a Alert) bool {
	if s.cfg.DedupWindow <= 0 {
		return false
	}
	now := s.now()
	for k, until := range s.dedup {
		if now.After(until) {
			delete(s.dedup, k)
		}
	}
	k := a.key()
	if until, ok := s.dedup[k]; ok && now.Before(until) {
		return true
	}
	s.dedup[k] = now.Add(s.cfg.DedupWindow)
	return false
}

func (s *Service) workerLoop(ctx context.Context, q <-chan Alert) {
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-q:
			if !ok {
				return
			}
			s.send(ctx, a)
		}
	}
}

func (s *Service) send(ctx context.Context, a Alert) {
	text := a.Text()
	backoff := s.cfg.RetryBase
	for attempt := 0; ; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		sctx, cancel := context.WithTimeout(ctx, 20*time.Second)
		err := s.sender.Send(sctx, text)
		cancel()
		if err == nil {
			return
		}
		if attempt >= s.cfg.RetryMax || errors.Is(err, context.Canceled) {
			s.log.Warn("alert send failed", logx.String("job", a.Job), logx.Int("attempts", attempt+1), logx.Err(err))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}
