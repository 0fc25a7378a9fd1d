package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pulsewire/internal/domain"
	"pulsewire/internal/render"
	logx "pulsewire/pkg/logx"
)

type fakeDispatcher struct {
	res  domain.DispatchResult
	err  error
	org  string
	bcst string
}

func (f *fakeDispatcher) Trigger(_ context.Context, orgID, broadcastID string) (domain.DispatchResult, error) {
	f.org, f.bcst = orgID, broadcastID
	return f.res, f.err
}

func do(t *testing.T, h http.Handler, method, path, body, token string) (*httptest.ResponseRecorder, dispatchResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out dispatchResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %q: %v", rec.Body.String(), err)
		}
	}
	return rec, out
}

func TestDispatchSuccessShape(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{res: domain.DispatchResult{
		Sent: 1, Failed: 1, TotalEligible: 2,
		Errors: []string{"Failed to send to Brian: invalid number"},
	}}
	s := New(Config{}, Deps{Dispatcher: d}, logx.Nop())

	rec, out := do(t, s.handler(Config{}), http.MethodPost, dispatchPath,
		`{"broadcast_id":"poll_1","organization_id":"org_1"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if d.org != "org_1" || d.bcst != "poll_1" {
		t.Fatalf("trigger args = %q %q", d.org, d.bcst)
	}
	if !out.Success || out.TotalSent != 1 || out.TotalFailed != 1 || out.TotalEmployees != 2 || len(out.Errors) != 1 {
		t.Fatalf("response = %+v", out)
	}
	for _, key := range []string{`"totalSent"`, `"totalFailed"`, `"totalEmployees"`, `"errors"`} {
		if !strings.Contains(rec.Body.String(), key) {
			t.Fatalf("body missing %s: %s", key, rec.Body.String())
		}
	}
}

func TestDispatchAllFailedIsNotSuccess(t *testing.T) {
	t.Parallel()
	d := &fakeDispatcher{res: domain.DispatchResult{Failed: 2, TotalEligible: 2, Errors: []string{"a", "b"}}}
	s := New(Config{}, Deps{Dispatcher: d}, logx.Nop())
	rec, out := do(t, s.handler(Config{}), http.MethodPost, dispatchPath, `{"broadcast_id":"b","organization_id":"o"}`, "")
	if rec.Code != http.StatusOK || out.Success || out.TotalFailed != 2 {
		t.Fatalf("status=%d response=%+v", rec.Code, out)
	}
}

func TestDispatchErrorMapping(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", fmt.Errorf("broadcast b: %w", domain.ErrNotFound), http.StatusNotFound},
		{"not sendable", fmt.Errorf("%w: inactive", domain.ErrBroadcastNotSendable), http.StatusConflict},
		{"no eligible", domain.ErrNoEligibleRecipients, http.StatusUnprocessableEntity},
		{"no contacts", domain.ErrNoValidContacts, http.StatusUnprocessableEntity},
		{"no content", fmt.Errorf("render: %w", render.ErrNoContent), http.StatusUnprocessableEntity},
		{"storage", fmt.Errorf("database is locked"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := New(Config{}, Deps{Dispatcher: &fakeDispatcher{err: tc.err}}, logx.Nop())
			rec, out := do(t, s.handler(Config{}), http.MethodPost, dispatchPath, `{"broadcast_id":"b","organization_id":"o"}`, "")
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			if out.Success || out.Error == "" {
				t.Fatalf("response = %+v", out)
			}
		})
	}
}

func TestDispatchBadRequests(t *testing.T) {
	t.Parallel()
	s := New(Config{}, Deps{Dispatcher: &fakeDispatcher{}}, logx.Nop())
	h := s.handler(Config{})
	for _, body := range []string{`not json`, `{"broadcast_id":"b"}`, `{"broadcast_id":"b","organization_id":"o","extra":1}`} {
		if rec, _ := do(t, h, http.MethodPost, dispatchPath, body, ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("body %s: status = %d", body, rec.Code)
		}
	}
	if rec, _ := do(t, h, http.MethodGet, dispatchPath, "", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d", rec.Code)
	}
}

func TestDispatchRequiresToken(t *testing.T) {
	t.Parallel()
	cfg := Config{APIToken: "tkn"}
	s := New(cfg, Deps{Dispatcher: &fakeDispatcher{res: domain.DispatchResult{Sent: 1}}}, logx.Nop())
	h := s.handler(cfg)
	body := `{"broadcast_id":"b","organization_id":"o"}`

	if rec, _ := do(t, h, http.MethodPost, dispatchPath, body, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d", rec.Code)
	}
	if rec, _ := do(t, h, http.MethodPost, dispatchPath, body, "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d", rec.Code)
	}
	if rec, _ := do(t, h, http.MethodPost, dispatchPath, body, "tkn"); rec.Code != http.StatusOK {
		t.Fatalf("good token status = %d", rec.Code)
	}
	// Health stays open.
	if rec, _ := do(t, h, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestWebhookMountedAtConfiguredPath(t *testing.T) {
	t.Parallel()
	hit := 0
	wh := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { hit++; w.WriteHeader(http.StatusOK) })
	cfg := Config{APIToken: "tkn", WebhookPath: "hooks/in"}
	s := New(cfg, Deps{Webhook: wh}, logx.Nop())
	h := s.handler(cfg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/hooks/in", strings.NewReader("From=x")))
	if rec.Code != http.StatusOK || hit != 1 {
		t.Fatalf("status = %d hits = %d", rec.Code, hit)
	}
}

func TestStartServeStop(t *testing.T) {
	t.Parallel()
	s := New(Config{Addr: "127.0.0.1:0"}, Deps{Health: func() any { return map[string]string{"status": "ok"} }}, logx.Nop())
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	addr := s.Addr()
	if addr == "" {
		t.Fatal("addr empty after start")
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/healthz?verbose=1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(b), `"status":"ok"`) {
		t.Fatalf("healthz = %d %s", resp.StatusCode, b)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	s.Stop(stopCtx)
	if s.Addr() != "" {
		t.Fatal("addr should be empty after stop")
	}
}

func TestNeedsRestart(t *testing.T) {
	t.Parallel()
	base := Config{Addr: "127.0.0.1:8080"}
	if needsRestart(base, Config{Addr: " 127.0.0.1:8080 ", WebhookPath: defaultWebhookPath}) {
		t.Fatal("equivalent configs should not restart")
	}
	if !needsRestart(base, Config{Addr: "127.0.0.1:8080", APIToken: "x"}) {
		t.Fatal("token change should restart")
	}
	if !isLoopbackAddr("localhost:1") || isLoopbackAddr(":8080") || isLoopbackAddr("10.0.0.1:80") {
		t.Fatal("isLoopbackAddr misclassified")
	}
}
