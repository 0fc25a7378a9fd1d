// Package scheduler runs periodic lifecycle jobs. Today that is the expire
// sweep, which unpublishes broadcasts whose expiry has passed.
package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"pulsewire/internal/eventbus"
	logx "pulsewire/pkg/logx"
)

const (
	DefaultSpec    = "@every 5m"
	defaultTimeout = 30 * time.Second

	// EventExpired is published after a sweep that unpublished at least one broadcast.
	EventExpired = "lifecycle.expired"
)

type Config struct {
	Enabled  bool
	Spec     string
	Timezone string
	// Timeout bounds one sweep.
	Timeout time.Duration
}

// Expirer is the storage side of the sweep.
type Expirer interface {
	ExpireBroadcasts(ctx context.Context, now time.Time) (int64, error)
}

type ExpiredEvent struct {
	Count int64
	At    time.Time
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	store Expirer
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time

	c      *cron.Cron
	runCtx context.Context
}

func New(cfg Config, store Expirer, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg,
		store: store,
		bus:   bus,
		log:   log.With(logx.String("comp", "scheduler")),
		now:   time.Now,
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Start registers the sweep and starts cron. It is a no-op when disabled or
// already running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.c != nil {
		return nil
	}
	s.runCtx = ctx
	return s.startLocked()
}

func (s *Service) startLocked() error {
	spec, err := NormalizeSpec(orDefault(s.cfg.Spec, DefaultSpec))
	if err != nil {
		return err
	}
	loc := s.loadLocationLocked()
	c := cron.New(
		cron.WithParser(specParser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{s.log}), cron.SkipIfStillRunning(cronLogger{s.log})),
	)
	runCtx := s.runCtx
	timeout := s.cfg.Timeout
	if _, err := c.AddFunc(spec, func() { s.sweep(runCtx, timeout) }); err != nil {
		return err
	}
	c.Start()
	s.c = c
	s.log.Info("service started", logx.String("spec", spec), logx.String("tz", loc.String()))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
		s.log.Info("service stopped")
	case <-ctx.Done():
		s.log.Warn("stop timed out; sweep still running")
	}
}

// Apply swaps the config and restarts cron when the schedule, timezone or
// enabled flag changed.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	running := s.c != nil
	changed := old.Enabled != cfg.Enabled ||
		strings.TrimSpace(old.Spec) != strings.TrimSpace(cfg.Spec) ||
		strings.TrimSpace(old.Timezone) != strings.TrimSpace(cfg.Timezone)
	if !changed || s.runCtx == nil {
		s.mu.Unlock()
		return nil
	}
	var c *cron.Cron
	if running {
		c, s.c = s.c, nil
	}
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !cfg.Enabled || s.c != nil {
		if running {
			s.log.Info("service disabled")
		}
		return nil
	}
	return s.startLocked()
}

// SweepNow runs one expire pass synchronously.
func (s *Service) SweepNow(ctx context.Context) (int64, error) {
	if s.store == nil {
		return 0, errors.New("scheduler: no store")
	}
	now := s.now()
	n, err := s.store.ExpireBroadcasts(ctx, now)
	if err != nil {
		return 0, err
	}
	if n > 0 && s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventExpired, Time: now, Data: ExpiredEvent{Count: n, At: now}})
	}
	return n, nil
}

func (s *Service) sweep(ctx context.Context, timeout time.Duration) {
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	n, err := s.SweepNow(ctx)
	if err != nil {
		s.log.Error("expire sweep failed", logx.Err(err))
		return
	}
	if n > 0 {
		s.log.Info("broadcasts expired", logx.Int64("count", n), logx.Duration("took", time.Since(start)))
		return
	}
	s.log.Debug("expire sweep done", logx.Duration("took", time.Since(start)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// cronLogger adapts logx to cron.Logger for the job wrappers.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
