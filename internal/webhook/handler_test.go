package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"pulsewire/internal/domain"
	"pulsewire/internal/router"
	"pulsewire/internal/transport"
	logx "pulsewire/pkg/logx"
)

const target = "https://hooks.example.com/v1/webhooks/inbound"

type fakeRouter struct {
	mu    sync.Mutex
	calls []string
	out   router.Outcome
	err   error
}

func (f *fakeRouter) Route(_ context.Context, from, body, sid string) (router.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, from+"|"+body+"|"+sid)
	return f.out, f.err
}

type recordingSender struct {
	mu   sync.Mutex
	sent []string
}

func (s *recordingSender) Send(_ context.Context, from, to, body string) (transport.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, from+">"+to+":"+body)
	return transport.Receipt{MessageID: "SMack"}, nil
}

func inboundForm() url.Values {
	return url.Values{
		"From":       {"whatsapp:+254700000001"},
		"To":         {"whatsapp:+254711000000"},
		"Body":       {"4"},
		"MessageSid": {"SM1"},
		"AccountSid": {"AC1"},
	}
}

func post(h http.Handler, form url.Values, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if sig != "" {
		req.Header.Set(SignatureHeader, sig)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func assertEnvelope(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d", rec.Code, status)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/xml" {
		t.Fatalf("content-type = %q", ct)
	}
	if rec.Body.String() != emptyEnvelope {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func newHandler(cfg Config, r Router, s transport.Sender) *Handler {
	if cfg.ReplyFrom == "" {
		cfg.ReplyFrom = "+254711000000"
	}
	return New(cfg, r, s, logx.Nop())
}

func waitReplies(t *testing.T, h *Handler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.Wait(ctx)
}

func TestComputeSignatureReference(t *testing.T) {
	t.Parallel()
	params := url.Values{
		"CallSid": {"CA1234567890ABCDE"},
		"Caller":  {"+12349013030"},
		"Digits":  {"1234"},
		"From":    {"+12349013030"},
		"To":      {"+18005551212"},
	}
	const u = "https://mycompany.com/myapp.php?foo=1&bar=2"
	if got := ComputeSignature("12345", u, params); got != "0/KCTR6DLpKmkAf8muzZqo1nDgQ=" {
		t.Fatalf("signature = %q", got)
	}

	params.Set("Digits", "1235")
	if ValidSignature("12345", u, params, "0/KCTR6DLpKmkAf8muzZqo1nDgQ=") {
		t.Fatal("changing a parameter value must change the signature")
	}
}

func TestWebhookValidSignatureRoutesAndAcks(t *testing.T) {
	t.Parallel()
	rt := &fakeRouter{out: router.Outcome{Ack: "Thanks Amina!"}}
	snd := &recordingSender{}
	h := newHandler(Config{AuthToken: "s3cret"}, rt, snd)

	rec := post(h, inboundForm(), "LXKigdXTdkYtKiraIGt+WExoXz8=")
	assertEnvelope(t, rec, http.StatusOK)
	waitReplies(t, h)

	if len(rt.calls) != 1 || rt.calls[0] != "whatsapp:+254700000001|4|SM1" {
		t.Fatalf("router calls = %q", rt.calls)
	}
	if len(snd.sent) != 1 || snd.sent[0] != "whatsapp:+254711000000>whatsapp:+254700000001:Thanks Amina!" {
		t.Fatalf("sent = %q", snd.sent)
	}
}

func TestWebhookBadSignature(t *testing.T) {
	t.Parallel()
	rt := &fakeRouter{}
	h := newHandler(Config{AuthToken: "s3cret"}, rt, &recordingSender{})

	form := inboundForm()
	form.Set("Body", "5")
	rec := post(h, form, "LXKigdXTdkYtKiraIGt+WExoXz8=")
	assertEnvelope(t, rec, http.StatusForbidden)
	if len(rt.calls) != 0 {
		t.Fatal("router called for a forged request")
	}
}

func TestWebhookPublicURLOverride(t *testing.T) {
	t.Parallel()
	rt := &fakeRouter{}
	h := newHandler(Config{AuthToken: "s3cret", PublicURL: "https://public.example.org/"}, rt, nil)

	sig := ComputeSignature("s3cret", "https://public.example.org/v1/webhooks/inbound", inboundForm())
	assertEnvelope(t, post(h, inboundForm(), sig), http.StatusOK)
	if len(rt.calls) != 1 {
		t.Fatalf("router calls = %d, want 1", len(rt.calls))
	}
}

func TestWebhookUnverifiedStillProcessed(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name   string
		secret string
		sig    string
	}{
		{"no secret", "", "whatever"},
		{"no signature", "s3cret", ""},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rt := &fakeRouter{}
			h := newHandler(Config{AuthToken: tc.secret}, rt, nil)
			assertEnvelope(t, post(h, inboundForm(), tc.sig), http.StatusOK)
			if len(rt.calls) != 1 {
				t.Fatalf("router calls = %d, want 1", len(rt.calls))
			}
		})
	}
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	t.Parallel()
	h := newHandler(Config{}, &fakeRouter{}, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, http.NoBody))
	assertEnvelope(t, rec, http.StatusMethodNotAllowed)
}

func TestWebhookMalformedEventsIgnored(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(url.Values)
	}{
		{"missing from", func(v url.Values) { v.Del("From") }},
		{"blank body", func(v url.Values) { v.Set("Body", "  ") }},
		{"unprefixed sender", func(v url.Values) { v.Set("From", "+254700000001") }},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rt := &fakeRouter{}
			h := newHandler(Config{}, rt, nil)
			form := inboundForm()
			tc.mutate(form)
			assertEnvelope(t, post(h, form, ""), http.StatusOK)
			if len(rt.calls) != 0 {
				t.Fatal("router called for malformed event")
			}
		})
	}
}

func TestWebhookUnknownFieldsAccepted(t *testing.T) {
	t.Parallel()
	rt := &fakeRouter{}
	h := newHandler(Config{}, rt, nil)
	form := inboundForm()
	form.Set("WaId", "254700000001")
	form.Set("NumMedia", "0")
	form.Set("SomethingNew", "x")
	assertEnvelope(t, post(h, form, ""), http.StatusOK)
	if len(rt.calls) != 1 {
		t.Fatalf("router calls = %d", len(rt.calls))
	}
}

func TestWebhookRouterErrorsSwallowed(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		err       error
		hints     bool
		wantSends int
	}{
		{"interpretation with hints", fmt.Errorf("%w: rating 9", domain.ErrInterpretationFailed), true, 1},
		{"interpretation without hints", fmt.Errorf("%w: rating 9", domain.ErrInterpretationFailed), false, 0},
		{"no active context", domain.ErrNoActiveContext, true, 0},
		{"storage failure", errors.New("database is locked"), true, 0},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rt := &fakeRouter{err: tc.err, out: router.Outcome{Hint: "Please reply with a number from 1 to 5."}}
			snd := &recordingSender{}
			h := newHandler(Config{ReplyHints: tc.hints}, rt, snd)
			assertEnvelope(t, post(h, inboundForm(), ""), http.StatusOK)
			waitReplies(t, h)
			if len(snd.sent) != tc.wantSends {
				t.Fatalf("sends = %q, want %d", snd.sent, tc.wantSends)
			}
		})
	}
}

func TestRequestURLForwardedHeaders(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodPost, "http://10.0.0.5:8080/v1/webhooks/inbound?x=1", http.NoBody)
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "hooks.example.com, proxy.local")
	if got := requestURL(req, ""); got != "https://hooks.example.com/v1/webhooks/inbound?x=1" {
		t.Fatalf("url = %q", got)
	}
}
