package transport

import "context"

// Receipt is what the gateway hands back for an accepted message.
type Receipt struct {
	MessageID string
	Status    string
}

// Sender delivers one text message through the messaging gateway.
//
// Implementations perform exactly one attempt; retry policy, if any, belongs
// to the gateway provider.
type Sender interface {
	Send(ctx context.Context, from, to, body string) (Receipt, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, from, to, body string) (Receipt, error)

func (f SenderFunc) Send(ctx context.Context, from, to, body string) (Receipt, error) {
	return f(ctx, from, to, body)
}

// Inbound is one reply delivered by the gateway webhook.
type Inbound struct {
	From              string
	To                string
	Body              string
	ProviderMessageID string
	AccountID         string
	ProfileName       string
	// Params holds every form field as received, including unknown ones.
	Params map[string]string
}
