package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"pulsewire/internal/domain"
	logx "pulsewire/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := OpenSQLite(":memory:", logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedPoll(t *testing.T, st Store, expires *time.Time) domain.Broadcast {
	t.Helper()
	ctx := context.Background()
	for _, e := range []domain.Employee{
		{ID: "e1", OrganizationID: "org", Name: "Alice", Department: "Ops", Phone: "+254 700 000 001", Active: true},
		{ID: "e2", OrganizationID: "org", Name: "Bob", Department: "Eng", Phone: "+254700000002", Active: true},
		{ID: "e3", OrganizationID: "org", Name: "Carol", Phone: "+254700000003", Active: false},
	} {
		if err := st.PutEmployee(ctx, e); err != nil {
			t.Fatalf("put employee: %v", err)
		}
	}
	b := domain.Broadcast{
		ID:             "poll_1",
		OrganizationID: "org",
		Targeting:      domain.Targeting{Mode: domain.TargetAll},
		Active:         true,
		SendViaChannel: true,
		ExpiresAt:      expires,
		Content: domain.Poll{
			Title:       "Lunch",
			Question:    "Rate the food",
			Type:        domain.PollRating,
			RatingScale: 5,
		},
	}
	if err := st.PutBroadcast(ctx, b); err != nil {
		t.Fatalf("put broadcast: %v", err)
	}
	return b
}

func TestBroadcastRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	exp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	seedPoll(t, st, &exp)

	got, err := st.GetBroadcast(ctx, "org", "poll_1")
	if err != nil {
		t.Fatalf("get broadcast: %v", err)
	}
	p, ok := got.Content.(domain.Poll)
	if !ok {
		t.Fatalf("content type = %T, want domain.Poll", got.Content)
	}
	if p.Type != domain.PollRating || p.Scale() != 5 {
		t.Fatalf("poll = %+v", p)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(exp) {
		t.Fatalf("expires_at = %v, want %v", got.ExpiresAt, exp)
	}
	if got.SentViaChannel || got.SentAt != nil {
		t.Fatalf("new broadcast should not be marked sent: %+v", got)
	}

	if _, err := st.GetBroadcast(ctx, "other-org", "poll_1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("cross-org get err = %v, want ErrNotFound", err)
	}

	at := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	if err := st.MarkBroadcastSent(ctx, "poll_1", at); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	got, err = st.GetBroadcastByID(ctx, "poll_1")
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if !got.SentViaChannel || got.SentAt == nil || !got.SentAt.Equal(at) {
		t.Fatalf("after mark sent: %+v", got)
	}
	if err := st.MarkBroadcastSent(ctx, "missing", at); !errors.Is(err, ErrNotFound) {
		t.Fatalf("mark missing err = %v, want ErrNotFound", err)
	}
}

func TestEmployeesByOrgAndPhone(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	seedPoll(t, st, nil)

	list, err := st.ListActiveEmployees(ctx, "org")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Name != "Alice" || list[1].Name != "Bob" {
		t.Fatalf("active employees = %+v", list)
	}

	found, err := st.FindEmployeesByPhone(ctx, "whatsapp:+254700000001")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(found) != 1 || found[0].ID != "e1" {
		t.Fatalf("found = %+v, want e1", found)
	}

	// Inactive employees are never matched.
	found, err = st.FindEmployeesByPhone(ctx, "+254700000003")
	if err != nil {
		t.Fatalf("find inactive: %v", err)
	}
	if len(found) != 0 {
		t.Fatalf("inactive employee matched: %+v", found)
	}
}

func TestActiveMessageContextPicksLatestUnexpired(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	seedPoll(t, st, nil)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, mc := range []domain.MessageContext{
		{ID: "old", EmployeeID: "e1", SentAt: now.Add(-3 * time.Hour), ExpiresAt: now.Add(time.Hour)},
		{ID: "new", EmployeeID: "e1", SentAt: now.Add(-1 * time.Hour), ExpiresAt: now.Add(time.Hour)},
		{ID: "expired", EmployeeID: "e1", SentAt: now.Add(-time.Minute), ExpiresAt: now},
		{ID: "done", EmployeeID: "e1", SentAt: now.Add(-30 * time.Minute), ExpiresAt: now.Add(time.Hour), Responded: true},
		{ID: "bob", EmployeeID: "e2", SentAt: now, ExpiresAt: now.Add(time.Hour)},
	} {
		mc.OrganizationID = "org"
		mc.Type = domain.KindPoll
		mc.ReferenceID = "poll_1"
		if err := st.CreateMessageContext(ctx, mc); err != nil {
			t.Fatalf("create %s: %v", mc.ID, err)
		}
	}

	got, err := st.ActiveMessageContext(ctx, []string{"e1"}, now)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if got.ID != "new" {
		t.Fatalf("active context = %s, want new", got.ID)
	}

	if _, err := st.ActiveMessageContext(ctx, []string{"e1"}, now.Add(2*time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("after expiry err = %v, want ErrNotFound", err)
	}

	all, err := st.ListMessageContexts(ctx, "poll_1")
	if err != nil {
		t.Fatalf("list contexts: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("contexts = %d, want 5", len(all))
	}
}

func TestCompleteMessageContextIsSingleUse(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	seedPoll(t, st, nil)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mc := domain.MessageContext{
		ID: "ctx1", OrganizationID: "org", EmployeeID: "e1", Type: domain.KindPoll,
		ReferenceID: "poll_1", SentAt: now.Add(-time.Hour), ExpiresAt: now.Add(time.Hour),
	}
	if err := st.CreateMessageContext(ctx, mc); err != nil {
		t.Fatalf("create: %v", err)
	}

	rating := 4
	resp := domain.Response{
		ID: "r1", OrganizationID: "org", BroadcastID: "poll_1", EmployeeID: "e1",
		Kind: domain.KindPoll, Rating: &rating, SubmittedAt: now,
	}
	if err := st.CompleteMessageContext(ctx, "ctx1", resp); err != nil {
		t.Fatalf("complete: %v", err)
	}

	resp.ID = "r2"
	if err := st.CompleteMessageContext(ctx, "ctx1", resp); !errors.Is(err, ErrAlreadyResponded) {
		t.Fatalf("second complete err = %v, want ErrAlreadyResponded", err)
	}

	rs, err := st.ListResponses(ctx, "poll_1")
	if err != nil {
		t.Fatalf("list responses: %v", err)
	}
	if len(rs) != 1 || rs[0].Rating == nil || *rs[0].Rating != 4 || rs[0].ContextID != "ctx1" {
		t.Fatalf("responses = %+v", rs)
	}
	if rs[0].Mood != nil || rs[0].OptionIndex != nil {
		t.Fatalf("unset fields should stay nil: %+v", rs[0])
	}

	if _, err := st.ActiveMessageContext(ctx, []string{"e1"}, now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("responded context still active: %v", err)
	}
}

func TestCompleteExpiredContextFails(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	seedPoll(t, st, nil)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mc := domain.MessageContext{
		ID: "ctx1", OrganizationID: "org", EmployeeID: "e1", Type: domain.KindPoll,
		ReferenceID: "poll_1", SentAt: now.Add(-time.Hour), ExpiresAt: now,
	}
	if err := st.CreateMessageContext(ctx, mc); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := st.CompleteMessageContext(ctx, "ctx1", domain.Response{
		ID: "r1", OrganizationID: "org", BroadcastID: "poll_1", EmployeeID: "e1",
		Kind: domain.KindPoll, SubmittedAt: now,
	})
	if !errors.Is(err, ErrAlreadyResponded) {
		t.Fatalf("err = %v, want ErrAlreadyResponded", err)
	}
}

func TestExpireBroadcasts(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	exp := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	seedPoll(t, st, &exp)

	n, err := st.ExpireBroadcasts(ctx, exp.Add(-time.Second))
	if err != nil || n != 0 {
		t.Fatalf("early sweep = %d, %v", n, err)
	}
	n, err = st.ExpireBroadcasts(ctx, exp)
	if err != nil || n != 1 {
		t.Fatalf("sweep = %d, %v; want 1", n, err)
	}
	b, err := st.GetBroadcastByID(ctx, "poll_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if b.Active {
		t.Fatal("expired broadcast still active")
	}
}

func TestAppendAudit(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	if err := st.AppendAudit(context.Background(), AuditEntry{
		Component: "dispatch", Action: "finished", Target: "poll_1", OK: 1, Fail: 1,
	}); err != nil {
		t.Fatalf("append audit: %v", err)
	}
}

func TestUpSection(t *testing.T) {
	t.Parallel()
	in := "-- +migrate Up\nCREATE TABLE a(x);\n-- +migrate Down\nDROP TABLE a;\n"
	if got := upSection(in); got != "\nCREATE TABLE a(x);\n" {
		t.Fatalf("upSection = %q", got)
	}
}
