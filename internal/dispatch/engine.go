package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"pulsewire/internal/domain"
	"pulsewire/internal/eventbus"
	"pulsewire/internal/render"
	"pulsewire/internal/transport"
	logx "pulsewire/pkg/logx"
)

// Engine fans one broadcast out to its recipients through a bounded worker
// pool. Every recipient is attempted exactly once per call; failures are
// recorded, never raised.
type Engine struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	sender transport.Sender
	store  ContextStore
	bus    eventbus.Bus
	log    logx.Logger

	now   func() time.Time
	newID func() string
}

func NewEngine(cfg Config, sender transport.Sender, store ContextStore, bus eventbus.Bus, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{
		sender: sender,
		store:  store,
		bus:    bus,
		log:    log.With(logx.String("comp", "dispatch")),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	e.Apply(cfg)
	return e
}

// Apply swaps pool size, pacing, TTLs and the outbound address. Dispatches
// already running keep the settings they started with.
func (e *Engine) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	e.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (e *Engine) snapshot() (Config, *rate.Limiter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg, e.limiter
}

// outcome is one recipient's slot in the result; workers write only their own slot.
type outcome struct {
	sent bool
	err  string
}

// Dispatch sends template to each recipient and returns the aggregate.
// The only error returns are precondition failures, reported before any send.
func (e *Engine) Dispatch(ctx context.Context, b domain.Broadcast, recips []domain.Employee, template string) (domain.DispatchResult, error) {
	start := e.now()
	if err := b.Sendable(start); err != nil {
		return domain.DispatchResult{}, err
	}
	if len(recips) == 0 {
		return domain.DispatchResult{}, fmt.Errorf("%w: broadcast %s", domain.ErrNoEligibleRecipients, b.ID)
	}

	cfg, lim := e.snapshot()
	from := cfg.From
	if !cfg.Channel.IsAddressed(from) {
		if addr, err := cfg.Channel.Address(from); err == nil {
			from = addr
		}
	}

	log := e.log.With(logx.String("broadcast", b.ID), logx.String("kind", string(b.Kind())))
	log.Info("dispatch started", logx.Int("recipients", len(recips)), logx.Int("workers", cfg.Workers))

	results := make([]outcome, len(recips))
	idx := make(chan int)

	workers := cfg.Workers
	if workers > len(recips) {
		workers = len(recips)
	}
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := range idx {
				results[i] = e.sendOneSafe(ctx, log, cfg, lim, b, from, recips[i], template, w)
			}
		}(w)
	}
	for i := range recips {
		idx <- i
	}
	close(idx)
	wg.Wait()

	res := domain.DispatchResult{Errors: []string{}}
	for _, o := range results {
		if o.sent {
			res.Sent++
			continue
		}
		res.Failed++
		res.Errors = append(res.Errors, o.err)
	}
	res.TotalEligible = res.Sent + res.Failed

	if res.Sent > 0 {
		if err := e.store.MarkBroadcastSent(ctx, b.ID, e.now()); err != nil {
			log.Error("mark broadcast sent failed", logx.Err(err))
		}
	}

	took := e.now().Sub(start)
	fields := []logx.Field{
		logx.Int("sent", res.Sent),
		logx.Int("failed", res.Failed),
		logx.Duration("took", took),
	}
	if res.Failed > 0 {
		log.Warn("dispatch finished with failures", fields...)
	} else {
		log.Info("dispatch finished", fields...)
	}
	e.publish(EventFinished, FinishedEvent{BroadcastID: b.ID, OrganizationID: b.OrganizationID, Result: res, Took: took})
	return res, nil
}

func (e *Engine) sendOneSafe(ctx context.Context, log logx.Logger, cfg Config, lim *rate.Limiter, b domain.Broadcast, from string, emp domain.Employee, template string, worker int) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in dispatch worker", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			out = outcome{err: failure(emp, fmt.Errorf("internal error: %v", r))}
		}
	}()
	return e.sendOne(ctx, log, cfg, lim, b, from, emp, template)
}

func (e *Engine) sendOne(ctx context.Context, log logx.Logger, cfg Config, lim *rate.Limiter, b domain.Broadcast, from string, emp domain.Employee, template string) outcome {
	fail := func(err error) outcome {
		msg := failure(emp, err)
		log.Warn("send failed", logx.String("employee", emp.ID), logx.Err(err))
		e.publish(EventFailed, FailedEvent{BroadcastID: b.ID, EmployeeID: emp.ID, Err: err.Error()})
		return outcome{err: msg}
	}

	to, err := cfg.Channel.Address(emp.Phone)
	if err != nil {
		return fail(err)
	}
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return fail(err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	receipt, err := e.sender.Send(callCtx, from, to, render.Personalize(template, emp.Name))
	cancel()
	if err != nil {
		return fail(err)
	}

	sentAt := e.now()
	mc := domain.MessageContext{
		ID:                e.newID(),
		OrganizationID:    b.OrganizationID,
		EmployeeID:        emp.ID,
		Type:              b.Kind(),
		ReferenceID:       b.ID,
		ProviderMessageID: receipt.MessageID,
		SentAt:            sentAt,
		ExpiresAt:         expiry(cfg, b, sentAt),
	}
	if err := e.store.CreateMessageContext(ctx, mc); err != nil {
		// The gateway already accepted the message, so it still counts as sent.
		log.Error("persist message context failed", logx.String("employee", emp.ID), logx.String("message_id", receipt.MessageID), logx.Err(err))
	}
	log.Debug("sent", logx.String("employee", emp.ID), logx.String("message_id", receipt.MessageID))
	e.publish(EventSent, SentEvent{BroadcastID: b.ID, EmployeeID: emp.ID, MessageID: receipt.MessageID})
	return outcome{sent: true}
}

func (e *Engine) publish(typ string, data any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Time: e.now(), Data: data})
}

// expiry returns when a reply to a message sent at sentAt stops being accepted.
func expiry(cfg Config, b domain.Broadcast, sentAt time.Time) time.Time {
	switch b.Kind() {
	case domain.KindPoll:
		if b.ExpiresAt != nil {
			return *b.ExpiresAt
		}
		return sentAt.Add(cfg.PollTTL)
	case domain.KindAnnouncement:
		return sentAt.Add(cfg.AnnouncementTTL)
	default:
		return sentAt.Add(cfg.CheckInTTL)
	}
}

func failure(emp domain.Employee, err error) string {
	name := strings.TrimSpace(emp.Name)
	if name == "" {
		name = emp.ID
	}
	return fmt.Sprintf("Failed to send to %s: %s", name, err.Error())
}
