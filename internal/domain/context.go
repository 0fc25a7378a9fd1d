package domain

import "time"

// MessageContext links one successful outbound send to the reply it expects.
//
// Only the dispatch path creates contexts and only the response router flips
// Responded. A context is active while !Responded && now < ExpiresAt; among
// several active contexts of one recipient the latest SentAt wins.
type MessageContext struct {
	ID                string
	OrganizationID    string
	EmployeeID        string
	Type              Kind
	ReferenceID       string
	ProviderMessageID string
	SentAt            time.Time
	ExpiresAt         time.Time
	Responded         bool
}

// ActiveAt reports whether the context can still be matched by a reply.
func (c MessageContext) ActiveAt(now time.Time) bool {
	return !c.Responded && now.Before(c.ExpiresAt)
}

// Response is one structured reply. Exactly one field group is populated,
// depending on Kind and, for polls, the poll type.
type Response struct {
	ID             string
	OrganizationID string
	BroadcastID    string
	EmployeeID     string
	ContextID      string
	Kind           Kind

	// Poll answers.
	OptionIndex *int   // multiple choice, 1-based
	Choice      string // multiple choice option text or "yes"/"no"
	Rating      *int

	// Check-in answers.
	Mood *int

	// Free text: check-in feedback, open-text poll answer.
	Text string

	// Read marks an announcement acknowledgment.
	Read bool

	ProviderMessageID string
	SubmittedAt       time.Time
}

// DispatchResult is the synchronous outcome of one dispatch call.
type DispatchResult struct {
	Sent          int      `json:"sent"`
	Failed        int      `json:"failed"`
	TotalEligible int      `json:"totalEligible"`
	Errors        []string `json:"errors"`
}
