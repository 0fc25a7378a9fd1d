package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestBroadcastSendable(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	ok := Broadcast{ID: "b1", Active: true, SendViaChannel: true, Content: CheckIn{Message: "Hi {name}"}, ExpiresAt: &future}
	tests := []struct {
		name   string
		mutate func(*Broadcast)
		reason string
	}{
		{"sendable", func(*Broadcast) {}, ""},
		{"no content", func(b *Broadcast) { b.Content = nil }, "no content"},
		{"unpublished", func(b *Broadcast) { b.Active = false }, "not published"},
		{"channel opt-out", func(b *Broadcast) { b.SendViaChannel = false }, "not enabled"},
		{"expired", func(b *Broadcast) { b.ExpiresAt = &past }, "expired"},
		{"expires exactly now", func(b *Broadcast) { b.ExpiresAt = &now }, "expired"},
		{"no expiry", func(b *Broadcast) { b.ExpiresAt = nil }, ""},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			b := ok
			tc.mutate(&b)
			err := b.Sendable(now)
			if tc.reason == "" {
				if err != nil {
					t.Fatalf("Sendable: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrBroadcastNotSendable) || !strings.Contains(err.Error(), tc.reason) {
				t.Fatalf("err = %v, want %q", err, tc.reason)
			}
		})
	}
}

func TestContentKinds(t *testing.T) {
	t.Parallel()
	if (Broadcast{}).Kind() != "" {
		t.Fatal("empty broadcast has no kind")
	}
	for _, c := range []struct {
		content Content
		kind    Kind
	}{
		{CheckIn{}, KindCheckIn},
		{Poll{}, KindPoll},
		{Announcement{}, KindAnnouncement},
	} {
		if got := (Broadcast{Content: c.content}).Kind(); got != c.kind || !got.Valid() {
			t.Fatalf("kind = %q, want %q", got, c.kind)
		}
	}
	if Kind("survey").Valid() {
		t.Fatal("unknown kind reported valid")
	}
	if (Poll{}).Scale() != DefaultRatingScale || (Poll{RatingScale: 5}).Scale() != 5 {
		t.Fatal("rating scale default")
	}
}

func TestMessageContextActiveAt(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	mc := MessageContext{ExpiresAt: now.Add(time.Second)}
	if !mc.ActiveAt(now) {
		t.Fatal("unexpired context should be active")
	}
	if mc.ActiveAt(now.Add(time.Second)) {
		t.Fatal("context is inactive at its expiry instant")
	}
	mc.Responded = true
	if mc.ActiveAt(now) {
		t.Fatal("responded context is inactive")
	}
	if (Employee{Name: "  "}).DisplayName() != "there" || (Employee{Phone: " "}).HasContact() {
		t.Fatal("employee helpers")
	}
}
