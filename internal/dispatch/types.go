package dispatch

import (
	"context"
	"time"

	"pulsewire/internal/domain"
	"pulsewire/internal/recipients"
	"pulsewire/internal/transport"
)

const (
	defaultWorkers         = 4
	defaultRatePerSec      = 10
	defaultSendTimeout     = 15 * time.Second
	defaultCheckInTTL      = 24 * time.Hour
	defaultAnnouncementTTL = 24 * time.Hour
	defaultPollTTL         = 7 * 24 * time.Hour
)

type Config struct {
	Workers     int
	RatePerSec  int
	SendTimeout time.Duration

	CheckInTTL      time.Duration
	AnnouncementTTL time.Duration
	// PollTTL applies only when the poll has no expiry of its own.
	PollTTL time.Duration

	Channel transport.Channel
	// From is the outbound broadcast address, bare or channel-prefixed.
	From string
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = defaultRatePerSec
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	if c.CheckInTTL <= 0 {
		c.CheckInTTL = defaultCheckInTTL
	}
	if c.AnnouncementTTL <= 0 {
		c.AnnouncementTTL = defaultAnnouncementTTL
	}
	if c.PollTTL <= 0 {
		c.PollTTL = defaultPollTTL
	}
	if c.Channel == "" {
		c.Channel = transport.ChannelWhatsApp
	}
	return c
}

// ContextStore is what the engine writes after sends.
type ContextStore interface {
	CreateMessageContext(ctx context.Context, mc domain.MessageContext) error
	MarkBroadcastSent(ctx context.Context, id string, at time.Time) error
}

// Store is the full persistence surface of a triggered dispatch.
type Store interface {
	recipients.EmployeeSource
	ContextStore
	GetBroadcast(ctx context.Context, orgID, id string) (domain.Broadcast, error)
}

// Event types published on the bus.
const (
	EventSent     = "dispatch.sent"
	EventFailed   = "dispatch.failed"
	EventFinished = "dispatch.finished"
)

type SentEvent struct {
	BroadcastID string
	EmployeeID  string
	MessageID   string
}

type FailedEvent struct {
	BroadcastID string
	EmployeeID  string
	Err         string
}

type FinishedEvent struct {
	BroadcastID    string
	OrganizationID string
	Result         domain.DispatchResult
	Took           time.Duration
}
