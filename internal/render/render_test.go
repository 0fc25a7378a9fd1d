package render

import (
	"errors"
	"strings"
	"testing"

	"pulsewire/internal/domain"
)

func TestRenderPoll(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		poll domain.Poll
		want []string
	}{
		{
			name: "multiple choice",
			poll: domain.Poll{Title: "Lunch", Question: "Pick one", Type: domain.PollMultipleChoice, Options: []string{"Rice", "Ugali"}},
			want: []string{"📊 *Lunch*", "Hi {name}! Pick one", "1. Rice\n2. Ugali", "Reply with the number of your choice."},
		},
		{
			name: "yes no",
			poll: domain.Poll{Title: "Remote", Question: "Work from home?", Type: domain.PollYesNo},
			want: []string{"1. Yes\n2. No"},
		},
		{
			name: "rating with scale",
			poll: domain.Poll{Title: "Food", Question: "Rate it", Type: domain.PollRating, RatingScale: 5},
			want: []string{"Reply with a number from 1 to 5."},
		},
		{
			name: "rating default scale",
			poll: domain.Poll{Title: "Food", Question: "Rate it", Type: domain.PollRating},
			want: []string{"Reply with a number from 1 to 10."},
		},
		{
			name: "open text",
			poll: domain.Poll{Title: "Ideas", Question: "What should we change?", Type: domain.PollOpenText},
			want: []string{"in your own words"},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Render(domain.Broadcast{ID: "p", Content: tc.poll})
			if err != nil {
				t.Fatalf("render: %v", err)
			}
			for _, w := range tc.want {
				if !strings.Contains(got, w) {
					t.Fatalf("render missing %q:\n%s", w, got)
				}
			}
			if !strings.HasSuffix(got, "Thank you for your feedback! 🙏") {
				t.Fatalf("missing courtesy line:\n%s", got)
			}
		})
	}
}

func TestRenderPollRejectsEmptyOptions(t *testing.T) {
	t.Parallel()
	_, err := Render(domain.Broadcast{Content: domain.Poll{Type: domain.PollMultipleChoice}})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestRenderAnnouncement(t *testing.T) {
	t.Parallel()

	got, err := Render(domain.Broadcast{Content: domain.Announcement{
		Title: "Office closed", Content: "Power works on Friday.",
		Category: domain.CategoryUrgent, Priority: domain.PriorityUrgent,
	}})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "*URGENT*\n🚨 *Office closed*\n\nHi {name},\n\nPower works on Friday."
	if got != want {
		t.Fatalf("render =\n%q\nwant\n%q", got, want)
	}

	got, _ = Render(domain.Broadcast{Content: domain.Announcement{Title: "Hi", Content: "x", Category: "misc", Priority: domain.PriorityLow}})
	if !strings.HasPrefix(got, "📢 *Hi*") {
		t.Fatalf("unknown category should fall back to general: %q", got)
	}
}

func TestRenderCheckInPassthrough(t *testing.T) {
	t.Parallel()
	msg := "Hi {name}, how are you feeling today? Reply 1-10."
	got, err := Render(domain.Broadcast{Content: domain.CheckIn{Message: msg}})
	if err != nil || got != msg {
		t.Fatalf("render = %q, %v", got, err)
	}
	if _, err := Render(domain.Broadcast{}); !errors.Is(err, ErrNoContent) {
		t.Fatalf("nil content err = %v", err)
	}
}

func TestPersonalize(t *testing.T) {
	t.Parallel()
	if got := Personalize("Hi {name}! Bye {name}.", "Alice"); got != "Hi Alice! Bye Alice." {
		t.Fatalf("got %q", got)
	}
	if got := Personalize("Hi {name}!", "  "); got != "Hi there!" {
		t.Fatalf("got %q", got)
	}
}
