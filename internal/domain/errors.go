package domain

import "errors"

var (
	// Resolver: fatal for the dispatch call.
	ErrNoEligibleRecipients = errors.New("no eligible recipients")
	ErrNoValidContacts      = errors.New("no recipients with a valid contact address")

	// Dispatch precondition: fatal for the dispatch call.
	ErrBroadcastNotSendable = errors.New("broadcast not sendable")

	// Webhook: discarded, logged only.
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	ErrMalformedEvent   = errors.New("malformed webhook event")

	// Router: discarded or retryable by the sender re-texting.
	ErrUnknownSender        = errors.New("unknown sender")
	ErrNoActiveContext      = errors.New("no active message context")
	ErrInterpretationFailed = errors.New("reply interpretation failed")

	ErrNotFound = errors.New("not found")
)
