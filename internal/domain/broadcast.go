package domain

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies a broadcast variant. It doubles as the message type of a
// MessageContext.
type Kind string

const (
	KindCheckIn      Kind = "checkin"
	KindPoll         Kind = "poll"
	KindAnnouncement Kind = "announcement"
)

func (k Kind) Valid() bool {
	switch k {
	case KindCheckIn, KindPoll, KindAnnouncement:
		return true
	default:
		return false
	}
}

type TargetMode string

const (
	TargetAll        TargetMode = "all"
	TargetDepartment TargetMode = "department"
	TargetSpecific   TargetMode = "specific"
)

// Targeting selects who inside the owning organization receives a broadcast.
// Departments is only read for TargetDepartment, EmployeeIDs only for TargetSpecific.
type Targeting struct {
	Mode        TargetMode `json:"mode"`
	Departments []string   `json:"departments,omitempty"`
	EmployeeIDs []string   `json:"employee_ids,omitempty"`
}

// Content is the kind-specific part of a broadcast.
// Implemented by CheckIn, Poll and Announcement only.
type Content interface {
	Kind() Kind
	sealed()
}

// Broadcast is a check-in, poll or announcement owned by one organization.
type Broadcast struct {
	ID             string
	OrganizationID string
	Targeting      Targeting

	// Active is the published flag. Expiry and unpublish both clear it.
	Active    bool
	ExpiresAt *time.Time

	// SendViaChannel is the HR-side opt-in for messaging delivery.
	SendViaChannel bool
	// SentViaChannel/SentAt are stamped after a dispatch with at least one success.
	SentViaChannel bool
	SentAt         *time.Time

	CreatedAt time.Time
	Content   Content
}

// Kind returns the content kind, or "" when no content is attached.
func (b Broadcast) Kind() Kind {
	if b.Content == nil {
		return ""
	}
	return b.Content.Kind()
}

// Expired reports whether the broadcast expiry lies at or before now.
func (b Broadcast) Expired(now time.Time) bool {
	return b.ExpiresAt != nil && !now.Before(*b.ExpiresAt)
}

// Sendable checks the dispatch preconditions. The returned error wraps
// ErrBroadcastNotSendable and names the violated condition.
func (b Broadcast) Sendable(now time.Time) error {
	switch {
	case b.Content == nil:
		return fmt.Errorf("%w: broadcast %s has no content", ErrBroadcastNotSendable, b.ID)
	case !b.Active:
		return fmt.Errorf("%w: broadcast %s is not published", ErrBroadcastNotSendable, b.ID)
	case !b.SendViaChannel:
		return fmt.Errorf("%w: broadcast %s is not enabled for messaging delivery", ErrBroadcastNotSendable, b.ID)
	case b.Expired(now):
		return fmt.Errorf("%w: broadcast %s expired at %s", ErrBroadcastNotSendable, b.ID, b.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return nil
}

type CheckIn struct {
	// Message is the pre-composed body, already containing any {name} token.
	Message string `json:"message"`
}

func (CheckIn) Kind() Kind { return KindCheckIn }
func (CheckIn) sealed()    {}

type PollType string

const (
	PollMultipleChoice PollType = "multiple_choice"
	PollYesNo          PollType = "yes_no"
	PollRating         PollType = "rating"
	PollOpenText       PollType = "open_text"
)

// DefaultRatingScale applies when a rating poll leaves RatingScale at zero.
const DefaultRatingScale = 10

type Poll struct {
	Title       string   `json:"title"`
	Question    string   `json:"question"`
	Type        PollType `json:"type"`
	Options     []string `json:"options,omitempty"`
	RatingScale int      `json:"rating_scale,omitempty"`
}

func (Poll) Kind() Kind { return KindPoll }
func (Poll) sealed()    {}

// Scale returns the effective upper bound of a rating poll.
func (p Poll) Scale() int {
	if p.RatingScale <= 0 {
		return DefaultRatingScale
	}
	return p.RatingScale
}

type AnnouncementCategory string

const (
	CategoryGeneral     AnnouncementCategory = "general"
	CategoryUrgent      AnnouncementCategory = "urgent"
	CategoryCelebration AnnouncementCategory = "celebration"
	CategoryPolicy      AnnouncementCategory = "policy"
	CategoryEvent       AnnouncementCategory = "event"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

type Announcement struct {
	Title    string               `json:"title"`
	Content  string               `json:"content"`
	Category AnnouncementCategory `json:"category,omitempty"`
	Priority Priority             `json:"priority,omitempty"`
}

func (Announcement) Kind() Kind { return KindAnnouncement }
func (Announcement) sealed()    {}

// Employee is a broadcast recipient. Dispatch never mutates employees.
type Employee struct {
	ID             string
	OrganizationID string
	Name           string
	Department     string
	Phone          string
	Active         bool
}

// HasContact reports whether the employee has a usable contact address.
func (e Employee) HasContact() bool {
	return strings.TrimSpace(e.Phone) != ""
}

// DisplayName is the name used for personalization and acknowledgments.
func (e Employee) DisplayName() string {
	if n := strings.TrimSpace(e.Name); n != "" {
		return n
	}
	return "there"
}
