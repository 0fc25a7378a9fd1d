package router

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"pulsewire/internal/domain"
)

const (
	minMood = 1
	maxMood = 10
)

var (
	yesWords = map[string]bool{"yes": true, "y": true, "1": true, "true": true, "yeah": true, "yep": true, "ok": true}
	noWords  = map[string]bool{"no": true, "n": true, "2": true, "false": true, "nope": true}
)

func failf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrInterpretationFailed, fmt.Sprintf(format, args...))
}

// trimReply drops surrounding whitespace and trailing sentence punctuation.
func trimReply(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), ".!?,;: ")
}

// leadingInt parses s as a plain integer. ok is false for anything else.
func leadingInt(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}

// interpretCheckIn reads an optional leading mood score followed by free text.
func interpretCheckIn(body string) (domain.Response, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return domain.Response{}, failf("empty check-in reply")
	}
	var r domain.Response
	first, rest := body, ""
	if i := strings.IndexFunc(body, unicode.IsSpace); i >= 0 {
		first, rest = body[:i], body[i:]
	}
	if n, ok := leadingInt(trimReply(first)); ok {
		if n < minMood || n > maxMood {
			return domain.Response{}, failf("mood score %d outside %d..%d", n, minMood, maxMood)
		}
		r.Mood = &n
		body = strings.TrimSpace(rest)
	}
	r.Text = body
	return r, nil
}

func interpretPoll(p domain.Poll, body string) (domain.Response, error) {
	ans := trimReply(body)
	if ans == "" {
		return domain.Response{}, failf("empty poll reply")
	}

	switch p.Type {
	case domain.PollMultipleChoice:
		if n, ok := leadingInt(ans); ok {
			if n < 1 || n > len(p.Options) {
				return domain.Response{}, failf("option %d outside 1..%d", n, len(p.Options))
			}
			return domain.Response{OptionIndex: &n, Choice: p.Options[n-1]}, nil
		}
		for i, opt := range p.Options {
			if strings.EqualFold(strings.TrimSpace(opt), ans) {
				n := i + 1
				return domain.Response{OptionIndex: &n, Choice: opt}, nil
			}
		}
		return domain.Response{}, failf("%q matches no option", ans)

	case domain.PollYesNo:
		w := strings.ToLower(ans)
		switch {
		case yesWords[w]:
			n := 1
			return domain.Response{OptionIndex: &n, Choice: "yes"}, nil
		case noWords[w]:
			n := 2
			return domain.Response{OptionIndex: &n, Choice: "no"}, nil
		}
		return domain.Response{}, failf("%q is neither yes nor no", ans)

	case domain.PollRating:
		n, ok := leadingInt(ans)
		if !ok {
			return domain.Response{}, failf("%q is not a number", ans)
		}
		if n < 1 || n > p.Scale() {
			return domain.Response{}, failf("rating %d outside 1..%d", n, p.Scale())
		}
		return domain.Response{Rating: &n}, nil

	case domain.PollOpenText:
		return domain.Response{Text: strings.TrimSpace(body)}, nil
	}
	return domain.Response{}, failf("unknown poll type %q", p.Type)
}

// hint is the corrective message sent after a reply could not be interpreted.
func hint(kind domain.Kind, c domain.Content) string {
	switch kind {
	case domain.KindCheckIn:
		return fmt.Sprintf("Sorry, we couldn't read that. Tell us how you're feeling, optionally starting with a score from %d to %d.", minMood, maxMood)
	case domain.KindPoll:
		p, _ := c.(domain.Poll)
		switch p.Type {
		case domain.PollMultipleChoice:
			return fmt.Sprintf("Sorry, we couldn't read that. Please reply with a number from 1 to %d.", len(p.Options))
		case domain.PollYesNo:
			return "Sorry, we couldn't read that. Please reply with 1 (Yes) or 2 (No)."
		case domain.PollRating:
			return fmt.Sprintf("Sorry, we couldn't read that. Please reply with a number from 1 to %d.", p.Scale())
		}
		return "Sorry, we couldn't read that. Please reply with your answer."
	}
	return ""
}

// ack is the thank-you text for a recorded reply.
func ack(kind domain.Kind, c domain.Content, name string) string {
	switch kind {
	case domain.KindCheckIn:
		return fmt.Sprintf("Thanks %s! Your check-in has been recorded. 💚", name)
	case domain.KindPoll:
		if p, ok := c.(domain.Poll); ok && strings.TrimSpace(p.Title) != "" {
			return fmt.Sprintf("Thanks %s! Your response to \"%s\" has been recorded.", name, strings.TrimSpace(p.Title))
		}
		return fmt.Sprintf("Thanks %s! Your response has been recorded.", name)
	case domain.KindAnnouncement:
		if a, ok := c.(domain.Announcement); ok && strings.TrimSpace(a.Title) != "" {
			return fmt.Sprintf("Thanks %s, we've noted that you read \"%s\".", name, strings.TrimSpace(a.Title))
		}
		return fmt.Sprintf("Thanks %s, we've noted that you read the announcement.", name)
	}
	return fmt.Sprintf("Thanks %s!", name)
}
