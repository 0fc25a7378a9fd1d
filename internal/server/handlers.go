package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	hpprof "net/http/pprof"
	"strings"

	"pulsewire/internal/domain"
	"pulsewire/internal/render"
	logx "pulsewire/pkg/logx"
)

const maxDispatchBody = 16 << 10

// Dispatcher triggers a stored broadcast.
type Dispatcher interface {
	Trigger(ctx context.Context, orgID, broadcastID string) (domain.DispatchResult, error)
}

type dispatchRequest struct {
	BroadcastID    string `json:"broadcast_id"`
	OrganizationID string `json:"organization_id"`
}

type dispatchResponse struct {
	Success        bool     `json:"success"`
	TotalSent      int      `json:"totalSent"`
	TotalFailed    int      `json:"totalFailed"`
	TotalEmployees int      `json:"totalEmployees"`
	Errors         []string `json:"errors"`
	Error          string   `json:"error,omitempty"`
}

// handler builds the mux for one listener generation.
func (s *Service) handler(cfg Config) http.Handler {
	mux := http.NewServeMux()
	auth := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(cfg.APIToken, h) }

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc(dispatchPath, auth(s.handleDispatch))
	if s.deps.Webhook != nil {
		mux.Handle(normalizePath(cfg.WebhookPath, defaultWebhookPath), s.deps.Webhook)
	}
	if cfg.Pprof {
		base := strings.TrimSuffix(pprofPrefix, "/")
		mux.HandleFunc(pprofPrefix, auth(hpprof.Index))
		mux.HandleFunc(base+"/cmdline", auth(hpprof.Cmdline))
		mux.HandleFunc(base+"/profile", auth(hpprof.Profile))
		mux.HandleFunc(base+"/symbol", auth(hpprof.Symbol))
		mux.HandleFunc(base+"/trace", auth(hpprof.Trace))
	}
	return mux
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil || r.URL.Query().Get("verbose") == "" {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Health())
}

func (s *Service) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, failure("method not allowed"))
		return
	}
	if s.deps.Dispatcher == nil {
		writeJSON(w, http.StatusServiceUnavailable, failure("dispatch unavailable"))
		return
	}

	var req dispatchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDispatchBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, failure("invalid request body: "+err.Error()))
		return
	}
	req.BroadcastID = strings.TrimSpace(req.BroadcastID)
	req.OrganizationID = strings.TrimSpace(req.OrganizationID)
	if req.BroadcastID == "" || req.OrganizationID == "" {
		writeJSON(w, http.StatusBadRequest, failure("broadcast_id and organization_id are required"))
		return
	}

	log := s.log.With(logx.String("broadcast", req.BroadcastID), logx.String("org", req.OrganizationID))
	res, err := s.deps.Dispatcher.Trigger(r.Context(), req.OrganizationID, req.BroadcastID)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			log.Error("dispatch failed", logx.Err(err))
		} else {
			log.Info("dispatch rejected", logx.Int("status", status), logx.Err(err))
		}
		writeJSON(w, status, failure(err.Error()))
		return
	}

	errs := res.Errors
	if errs == nil {
		errs = []string{}
	}
	writeJSON(w, http.StatusOK, dispatchResponse{
		Success:        res.Sent > 0,
		TotalSent:      res.Sent,
		TotalFailed:    res.Failed,
		TotalEmployees: res.TotalEligible,
		Errors:         errs,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrBroadcastNotSendable):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNoEligibleRecipients),
		errors.Is(err, domain.ErrNoValidContacts),
		errors.Is(err, render.ErrNoContent):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func failure(msg string) dispatchResponse {
	return dispatchResponse{Errors: []string{}, Error: msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// withAuth accepts "Authorization: Bearer <token>". An empty token disables the check.
func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			h(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeJSON(w, http.StatusUnauthorized, failure("unauthorized"))
	}
}
