// Package render turns broadcasts into message templates.
//
// Templates carry the literal token {name}. Render never substitutes it, so
// one template serves every recipient of a broadcast; Personalize does the
// per-recipient substitution at send time.
package render

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"pulsewire/internal/domain"
)

// NameToken is replaced by the recipient's display name.
const NameToken = "{name}"

var ErrNoContent = errors.New("broadcast has no content")

// Render builds the message template for b.
func Render(b domain.Broadcast) (string, error) {
	switch c := b.Content.(type) {
	case domain.CheckIn:
		if strings.TrimSpace(c.Message) == "" {
			return "", fmt.Errorf("check-in %s: empty message", b.ID)
		}
		return c.Message, nil
	case domain.Poll:
		return renderPoll(c)
	case domain.Announcement:
		return renderAnnouncement(c), nil
	case nil:
		return "", ErrNoContent
	default:
		return "", fmt.Errorf("unsupported content %T", c)
	}
}

// Personalize substitutes every {name} token. An empty name becomes "there".
func Personalize(template, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "there"
	}
	return strings.ReplaceAll(template, NameToken, name)
}

func renderPoll(p domain.Poll) (string, error) {
	var sb strings.Builder
	sb.WriteString("📊 *" + strings.TrimSpace(p.Title) + "*\n\n")
	sb.WriteString("Hi " + NameToken + "! " + strings.TrimSpace(p.Question) + "\n\n")

	switch p.Type {
	case domain.PollMultipleChoice:
		if len(p.Options) == 0 {
			return "", errors.New("multiple choice poll has no options")
		}
		for i, opt := range p.Options {
			sb.WriteString(strconv.Itoa(i+1) + ". " + strings.TrimSpace(opt) + "\n")
		}
		sb.WriteString("\nReply with the number of your choice.")
	case domain.PollYesNo:
		sb.WriteString("1. Yes\n2. No\n\nReply with 1 or 2.")
	case domain.PollRating:
		sb.WriteString(fmt.Sprintf("Reply with a number from 1 to %d.", p.Scale()))
	case domain.PollOpenText:
		sb.WriteString("Reply with your answer in your own words.")
	default:
		return "", fmt.Errorf("unknown poll type %q", p.Type)
	}

	sb.WriteString("\n\nThank you for your feedback! 🙏")
	return sb.String(), nil
}

func categoryEmoji(c domain.AnnouncementCategory) string {
	switch c {
	case domain.CategoryUrgent:
		return "🚨"
	case domain.CategoryCelebration:
		return "🎉"
	case domain.CategoryPolicy:
		return "📋"
	case domain.CategoryEvent:
		return "📅"
	default:
		return "📢"
	}
}

func priorityBanner(p domain.Priority) string {
	switch p {
	case domain.PriorityUrgent:
		return "*URGENT*"
	case domain.PriorityHigh:
		return "*IMPORTANT*"
	default:
		return ""
	}
}

func renderAnnouncement(a domain.Announcement) string {
	var sb strings.Builder
	if banner := priorityBanner(a.Priority); banner != "" {
		sb.WriteString(banner + "\n")
	}
	sb.WriteString(categoryEmoji(a.Category) + " *" + strings.TrimSpace(a.Title) + "*\n\n")
	sb.WriteString("Hi " + NameToken + ",\n\n")
	sb.WriteString(strings.TrimSpace(a.Content))
	return sb.String()
}
