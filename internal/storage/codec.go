package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"pulsewire/internal/domain"
)

// Times are stored as unix milliseconds.

func toMS(t time.Time) int64 { return t.UnixMilli() }

func fromMS(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMS(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMS(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMS(v.Int64)
	return &t
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func fromNullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encodeContent(c domain.Content) (domain.Kind, string, error) {
	if c == nil {
		return "", "", fmt.Errorf("broadcast content is required")
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", "", fmt.Errorf("encode %s content: %w", c.Kind(), err)
	}
	return c.Kind(), string(b), nil
}

func decodeContent(kind domain.Kind, raw string) (domain.Content, error) {
	var (
		c   domain.Content
		err error
	)
	switch kind {
	case domain.KindCheckIn:
		var v domain.CheckIn
		err = json.Unmarshal([]byte(raw), &v)
		c = v
	case domain.KindPoll:
		var v domain.Poll
		err = json.Unmarshal([]byte(raw), &v)
		c = v
	case domain.KindAnnouncement:
		var v domain.Announcement
		err = json.Unmarshal([]byte(raw), &v)
		c = v
	default:
		return nil, fmt.Errorf("unknown broadcast kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s content: %w", kind, err)
	}
	return c, nil
}

type employeeRow struct {
	ID             string `db:"id"`
	OrganizationID string `db:"organization_id"`
	Name           string `db:"name"`
	Department     string `db:"department"`
	Phone          string `db:"phone"`
	Active         bool   `db:"active"`
}

func (r employeeRow) toDomain() domain.Employee {
	return domain.Employee{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		Name:           r.Name,
		Department:     r.Department,
		Phone:          r.Phone,
		Active:         r.Active,
	}
}

type broadcastRow struct {
	ID             string        `db:"id"`
	OrganizationID string        `db:"organization_id"`
	Kind           string        `db:"kind"`
	Targeting      string        `db:"targeting"`
	Content        string        `db:"content"`
	Active         bool          `db:"active"`
	SendViaChannel bool          `db:"send_via_channel"`
	SentViaChannel bool          `db:"sent_via_channel"`
	SentAt         sql.NullInt64 `db:"sent_at"`
	ExpiresAt      sql.NullInt64 `db:"expires_at"`
	CreatedAt      int64         `db:"created_at"`
}

func (r broadcastRow) toDomain() (domain.Broadcast, error) {
	var t domain.Targeting
	if err := json.Unmarshal([]byte(r.Targeting), &t); err != nil {
		return domain.Broadcast{}, fmt.Errorf("decode targeting of broadcast %s: %w", r.ID, err)
	}
	c, err := decodeContent(domain.Kind(r.Kind), r.Content)
	if err != nil {
		return domain.Broadcast{}, fmt.Errorf("broadcast %s: %w", r.ID, err)
	}
	return domain.Broadcast{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		Targeting:      t,
		Active:         r.Active,
		ExpiresAt:      fromNullMS(r.ExpiresAt),
		SendViaChannel: r.SendViaChannel,
		SentViaChannel: r.SentViaChannel,
		SentAt:         fromNullMS(r.SentAt),
		CreatedAt:      fromMS(r.CreatedAt),
		Content:        c,
	}, nil
}

type contextRow struct {
	ID                string `db:"id"`
	OrganizationID    string `db:"organization_id"`
	EmployeeID        string `db:"employee_id"`
	MessageType       string `db:"message_type"`
	ReferenceID       string `db:"reference_id"`
	ProviderMessageID string `db:"provider_message_id"`
	SentAt            int64  `db:"sent_at"`
	ExpiresAt         int64  `db:"expires_at"`
	Responded         bool   `db:"is_responded"`
}

func (r contextRow) toDomain() domain.MessageContext {
	return domain.MessageContext{
		ID:                r.ID,
		OrganizationID:    r.OrganizationID,
		EmployeeID:        r.EmployeeID,
		Type:              domain.Kind(r.MessageType),
		ReferenceID:       r.ReferenceID,
		ProviderMessageID: r.ProviderMessageID,
		SentAt:            fromMS(r.SentAt),
		ExpiresAt:         fromMS(r.ExpiresAt),
		Responded:         r.Responded,
	}
}

type responseRow struct {
	ID                string        `db:"id"`
	OrganizationID    string        `db:"organization_id"`
	BroadcastID       string        `db:"broadcast_id"`
	EmployeeID        string        `db:"employee_id"`
	ContextID         string        `db:"context_id"`
	Kind              string        `db:"kind"`
	OptionIndex       sql.NullInt64 `db:"option_index"`
	Choice            string        `db:"choice"`
	Rating            sql.NullInt64 `db:"rating"`
	Mood              sql.NullInt64 `db:"mood"`
	Text              string        `db:"text"`
	Read              bool          `db:"is_read"`
	ProviderMessageID string        `db:"provider_message_id"`
	SubmittedAt       int64         `db:"submitted_at"`
}

func (r responseRow) toDomain() domain.Response {
	return domain.Response{
		ID:                r.ID,
		OrganizationID:    r.OrganizationID,
		BroadcastID:       r.BroadcastID,
		EmployeeID:        r.EmployeeID,
		ContextID:         r.ContextID,
		Kind:              domain.Kind(r.Kind),
		OptionIndex:       fromNullInt(r.OptionIndex),
		Choice:            r.Choice,
		Rating:            fromNullInt(r.Rating),
		Mood:              fromNullInt(r.Mood),
		Text:              r.Text,
		Read:              r.Read,
		ProviderMessageID: r.ProviderMessageID,
		SubmittedAt:       fromMS(r.SubmittedAt),
	}
}
