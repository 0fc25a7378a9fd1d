package dispatch

import (
	"context"
	"fmt"

	"pulsewire/internal/domain"
	"pulsewire/internal/recipients"
	"pulsewire/internal/render"
	logx "pulsewire/pkg/logx"
)

// Service runs a complete dispatch for a stored broadcast: load, check,
// resolve, render, send.
type Service struct {
	store    Store
	resolver *recipients.Resolver
	engine   *Engine
	log      logx.Logger
}

func NewService(store Store, engine *Engine, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		store:    store,
		resolver: recipients.New(store),
		engine:   engine,
		log:      log.With(logx.String("comp", "dispatch")),
	}
}

// Trigger dispatches broadcastID of orgID. Fatal errors are domain.ErrNotFound,
// domain.ErrBroadcastNotSendable, domain.ErrNoEligibleRecipients and
// domain.ErrNoValidContacts (all wrapped).
func (s *Service) Trigger(ctx context.Context, orgID, broadcastID string) (domain.DispatchResult, error) {
	b, err := s.store.GetBroadcast(ctx, orgID, broadcastID)
	if err != nil {
		return domain.DispatchResult{}, err
	}
	if err := b.Sendable(s.engine.now()); err != nil {
		return domain.DispatchResult{}, err
	}

	res, err := s.resolver.Resolve(ctx, orgID, b.Targeting)
	if err != nil {
		return domain.DispatchResult{}, err
	}
	if res.MissingContact > 0 {
		s.log.Info("recipients without phone skipped",
			logx.String("broadcast", b.ID), logx.Int("skipped", res.MissingContact))
	}

	tmpl, err := render.Render(b)
	if err != nil {
		return domain.DispatchResult{}, fmt.Errorf("render broadcast %s: %w", b.ID, err)
	}
	return s.engine.Dispatch(ctx, b, res.Recipients, tmpl)
}
