// Package router correlates inbound replies with the outbound message they
// answer and stores them as structured responses.
//
// A reply is matched to the sender's most recent message context that is
// neither responded nor expired. Interpretation failures leave the context
// open so the sender can correct the reply before it expires.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pulsewire/internal/domain"
	"pulsewire/internal/eventbus"
	"pulsewire/internal/storage"
	"pulsewire/internal/transport"
	logx "pulsewire/pkg/logx"
)

// Event types published on the bus.
const (
	EventCompleted = "route.completed"
	EventRejected  = "route.rejected"
)

type CompletedEvent struct {
	BroadcastID string
	EmployeeID  string
	ContextID   string
	Kind        domain.Kind
}

type RejectedEvent struct {
	Sender      string
	BroadcastID string
	Reason      string
}

// Store is the persistence the router reads and writes.
type Store interface {
	FindEmployeesByPhone(ctx context.Context, phone string) ([]domain.Employee, error)
	ActiveMessageContext(ctx context.Context, employeeIDs []string, now time.Time) (domain.MessageContext, error)
	GetBroadcastByID(ctx context.Context, id string) (domain.Broadcast, error)
	CompleteMessageContext(ctx context.Context, contextID string, r domain.Response) error
}

// Outcome describes a routed reply. Ack is set on success, Hint on an
// interpretation failure.
type Outcome struct {
	EmployeeID   string
	EmployeeName string
	ContextID    string
	BroadcastID  string
	Kind         domain.Kind
	Response     domain.Response

	Ack  string
	Hint string
}

type Router struct {
	store   Store
	channel transport.Channel
	bus     eventbus.Bus
	log     logx.Logger

	now   func() time.Time
	newID func() string
}

func New(store Store, channel transport.Channel, bus eventbus.Bus, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if channel == "" {
		channel = transport.ChannelWhatsApp
	}
	return &Router{
		store:   store,
		channel: channel,
		bus:     bus,
		log:     log.With(logx.String("comp", "router")),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Route interprets body from senderAddress and records it against the active
// context. Errors wrap domain.ErrUnknownSender, domain.ErrNoActiveContext or
// domain.ErrInterpretationFailed; anything else is a storage failure.
func (r *Router) Route(ctx context.Context, senderAddress, body, providerMessageID string) (Outcome, error) {
	out, err := r.route(ctx, senderAddress, body, providerMessageID)
	if err != nil {
		r.publish(EventRejected, RejectedEvent{Sender: senderAddress, BroadcastID: out.BroadcastID, Reason: err.Error()})
		return out, err
	}
	r.publish(EventCompleted, CompletedEvent{
		BroadcastID: out.BroadcastID,
		EmployeeID:  out.EmployeeID,
		ContextID:   out.ContextID,
		Kind:        out.Kind,
	})
	return out, nil
}

func (r *Router) route(ctx context.Context, senderAddress, body, providerMessageID string) (Outcome, error) {
	phone := r.channel.Phone(senderAddress)
	if phone == "" {
		return Outcome{}, fmt.Errorf("%w: %q", domain.ErrUnknownSender, senderAddress)
	}
	emps, err := r.store.FindEmployeesByPhone(ctx, phone)
	if err != nil {
		return Outcome{}, err
	}
	if len(emps) == 0 {
		return Outcome{}, fmt.Errorf("%w: %s", domain.ErrUnknownSender, phone)
	}

	ids := make([]string, 0, len(emps))
	for _, e := range emps {
		ids = append(ids, e.ID)
	}
	now := r.now()
	mc, err := r.store.ActiveMessageContext(ctx, ids, now)
	if errors.Is(err, storage.ErrNotFound) {
		return Outcome{}, fmt.Errorf("%w: %s", domain.ErrNoActiveContext, phone)
	}
	if err != nil {
		return Outcome{}, err
	}

	emp := emps[0]
	for _, e := range emps {
		if e.ID == mc.EmployeeID {
			emp = e
			break
		}
	}
	out := Outcome{
		EmployeeID:   emp.ID,
		EmployeeName: emp.DisplayName(),
		ContextID:    mc.ID,
		BroadcastID:  mc.ReferenceID,
		Kind:         mc.Type,
	}

	b, err := r.store.GetBroadcastByID(ctx, mc.ReferenceID)
	if err != nil {
		return out, fmt.Errorf("load broadcast of context %s: %w", mc.ID, err)
	}

	var resp domain.Response
	switch mc.Type {
	case domain.KindCheckIn:
		resp, err = interpretCheckIn(body)
	case domain.KindPoll:
		p, ok := b.Content.(domain.Poll)
		if !ok {
			return out, fmt.Errorf("context %s references %s broadcast %s, not a poll", mc.ID, b.Kind(), b.ID)
		}
		resp, err = interpretPoll(p, body)
	case domain.KindAnnouncement:
		resp = domain.Response{Read: true, Text: body}
	default:
		return out, fmt.Errorf("context %s has unknown message type %q", mc.ID, mc.Type)
	}
	if err != nil {
		out.Hint = hint(mc.Type, b.Content)
		r.log.Debug("reply not understood", logx.String("context", mc.ID), logx.Err(err))
		return out, err
	}

	resp.ID = r.newID()
	resp.OrganizationID = mc.OrganizationID
	resp.BroadcastID = mc.ReferenceID
	resp.EmployeeID = mc.EmployeeID
	resp.ContextID = mc.ID
	resp.Kind = mc.Type
	resp.ProviderMessageID = providerMessageID
	resp.SubmittedAt = now

	if err := r.store.CompleteMessageContext(ctx, mc.ID, resp); err != nil {
		if errors.Is(err, storage.ErrAlreadyResponded) {
			return out, fmt.Errorf("%w: context %s was claimed concurrently", domain.ErrNoActiveContext, mc.ID)
		}
		return out, err
	}

	out.Response = resp
	out.Ack = ack(mc.Type, b.Content, out.EmployeeName)
	r.log.Info("reply recorded",
		logx.String("context", mc.ID),
		logx.String("broadcast", mc.ReferenceID),
		logx.String("employee", mc.EmployeeID),
		logx.String("kind", string(mc.Type)),
	)
	return out, nil
}

func (r *Router) publish(typ string, data any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Type: typ, Time: r.now(), Data: data})
}
