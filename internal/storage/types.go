package storage

import (
	"context"
	"errors"
	"time"

	"pulsewire/internal/domain"
)

var (
	ErrDisabled = errors.New("storage disabled")
	// ErrNotFound is domain.ErrNotFound so callers can match either.
	ErrNotFound = domain.ErrNotFound
	// ErrAlreadyResponded means a context was consumed (or expired) between
	// lookup and completion.
	ErrAlreadyResponded = errors.New("message context already responded")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (":memory:" for an ephemeral store)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// AuditEntry records one pipeline outcome (a finished dispatch, a routed reply).
// Keep it compact and schema-stable.
type AuditEntry struct {
	At        time.Time
	Component string
	Action    string
	Target    string
	OK        int
	Fail      int
	Error     string
	TookMS    int64
	MetaJSON  string
}

// Store is the persistence API used by the dispatch and routing pipeline.
type Store interface {
	PutEmployee(ctx context.Context, e domain.Employee) error
	ListActiveEmployees(ctx context.Context, orgID string) ([]domain.Employee, error)
	// FindEmployeesByPhone matches on the normalized phone, active employees only.
	FindEmployeesByPhone(ctx context.Context, phone string) ([]domain.Employee, error)

	PutBroadcast(ctx context.Context, b domain.Broadcast) error
	GetBroadcast(ctx context.Context, orgID, id string) (domain.Broadcast, error)
	GetBroadcastByID(ctx context.Context, id string) (domain.Broadcast, error)
	SetBroadcastActive(ctx context.Context, id string, active bool) error
	MarkBroadcastSent(ctx context.Context, id string, at time.Time) error
	// ExpireBroadcasts unpublishes active broadcasts whose expiry is at or before now.
	ExpireBroadcasts(ctx context.Context, now time.Time) (int64, error)

	CreateMessageContext(ctx context.Context, mc domain.MessageContext) error
	// ActiveMessageContext returns the latest unresponded, unexpired context of
	// any of the given employees, ordered by sent_at descending.
	ActiveMessageContext(ctx context.Context, employeeIDs []string, now time.Time) (domain.MessageContext, error)
	ListMessageContexts(ctx context.Context, referenceID string) ([]domain.MessageContext, error)
	// CompleteMessageContext stores r and flips the context to responded in one
	// transaction. It fails with ErrAlreadyResponded when the context is no
	// longer active at r.SubmittedAt.
	CompleteMessageContext(ctx context.Context, contextID string, r domain.Response) error
	ListResponses(ctx context.Context, broadcastID string) ([]domain.Response, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}
