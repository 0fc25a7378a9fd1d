package transport

import (
	"fmt"
	"strings"
)

// Channel is the messaging transport used on the gateway.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
)

// ParseChannel maps a config value to a Channel. Empty means WhatsApp.
func ParseChannel(s string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "whatsapp":
		return ChannelWhatsApp, nil
	case "sms":
		return ChannelSMS, nil
	default:
		return "", fmt.Errorf("unknown channel %q", s)
	}
}

func (c Channel) scheme() string {
	if c == ChannelWhatsApp {
		return "whatsapp:"
	}
	return ""
}

// NormalizePhone keeps digits and '+' and guarantees exactly one leading '+'.
// It returns "" when no digits remain.
func NormalizePhone(raw string) string {
	var b strings.Builder
	b.Grow(len(raw) + 1)
	b.WriteByte('+')
	digits := 0
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			digits++
		}
	}
	if digits == 0 {
		return ""
	}
	return b.String()
}

// Address turns a stored phone number into the channel-addressed form,
// e.g. "+254 700-000-001" on WhatsApp becomes "whatsapp:+254700000001".
func (c Channel) Address(phone string) (string, error) {
	p := NormalizePhone(phone)
	if p == "" {
		return "", fmt.Errorf("phone %q has no digits", phone)
	}
	return c.scheme() + p, nil
}

// IsAddressed reports whether addr carries this channel's inbound form.
func (c Channel) IsAddressed(addr string) bool {
	addr = strings.TrimSpace(addr)
	if s := c.scheme(); s != "" {
		return strings.HasPrefix(strings.ToLower(addr), s) && len(addr) > len(s)
	}
	return strings.HasPrefix(addr, "+") && len(addr) > 1
}

// Phone strips the channel scheme and normalizes what remains.
func (c Channel) Phone(addr string) string {
	addr = strings.TrimSpace(addr)
	if s := c.scheme(); s != "" && strings.HasPrefix(strings.ToLower(addr), s) {
		addr = addr[len(s):]
	}
	return NormalizePhone(addr)
}
