// Package webhook receives inbound replies from the messaging gateway.
//
// The gateway expects a well-formed empty envelope on every call, whatever
// happened to the event; only the status code varies (200 accepted or
// ignored, 403 bad signature, 405 wrong method). Routing failures are logged
// and never reported back to the gateway.
package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"pulsewire/internal/domain"
	"pulsewire/internal/router"
	"pulsewire/internal/transport"
	logx "pulsewire/pkg/logx"
)

const (
	emptyEnvelope  = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`
	maxBodyBytes   = 64 << 10
	defaultTimeout = 15 * time.Second
)

type Config struct {
	// AuthToken is the shared secret signatures are computed with.
	AuthToken string
	// PublicURL is the externally visible base URL (scheme://host) used when
	// recomputing signatures behind a proxy.
	PublicURL string
	// ReplyHints sends a corrective message when a reply cannot be interpreted.
	ReplyHints bool
	ReplyFrom  string
	Channel    transport.Channel
	// ReplyTimeout bounds each acknowledgment send.
	ReplyTimeout time.Duration
}

// Router is the reply correlation step.
type Router interface {
	Route(ctx context.Context, senderAddress, body, providerMessageID string) (router.Outcome, error)
}

type Handler struct {
	mu  sync.RWMutex
	cfg Config

	router Router
	sender transport.Sender
	log    logx.Logger

	replies sync.WaitGroup
}

var _ http.Handler = (*Handler)(nil)

func New(cfg Config, r Router, sender transport.Sender, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &Handler{router: r, sender: sender, log: log.With(logx.String("comp", "webhook"))}
	h.Apply(cfg)
	return h
}

func (h *Handler) Apply(cfg Config) {
	if cfg.Channel == "" {
		cfg.Channel = transport.ChannelWhatsApp
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = defaultTimeout
	}
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
}

func (h *Handler) config() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// Wait blocks until pending acknowledgment sends finish or ctx is done.
func (h *Handler) Wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		h.replies.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeEnvelope(w, http.StatusMethodNotAllowed)
		return
	}
	cfg := h.config()

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.log.Warn("inbound event discarded", logx.Err(errors.Join(domain.ErrMalformedEvent, err)))
		writeEnvelope(w, http.StatusOK)
		return
	}
	form := r.PostForm

	sig := r.Header.Get(SignatureHeader)
	switch {
	case cfg.AuthToken != "" && sig != "":
		fullURL := requestURL(r, cfg.PublicURL)
		if !ValidSignature(cfg.AuthToken, fullURL, form, sig) {
			h.log.Warn("inbound event rejected", logx.Err(domain.ErrSignatureInvalid), logx.String("url", fullURL))
			writeEnvelope(w, http.StatusForbidden)
			return
		}
	default:
		h.log.Warn("inbound event not verified",
			logx.Bool("secret_configured", cfg.AuthToken != ""),
			logx.Bool("signature_present", sig != ""))
	}

	in := transport.Inbound{
		From:              strings.TrimSpace(form.Get("From")),
		To:                form.Get("To"),
		Body:              form.Get("Body"),
		ProviderMessageID: form.Get("MessageSid"),
		AccountID:         form.Get("AccountSid"),
		ProfileName:       form.Get("ProfileName"),
		Params:            make(map[string]string, len(form)),
	}
	for k := range form {
		in.Params[k] = form.Get(k)
	}

	if in.From == "" || strings.TrimSpace(in.Body) == "" || !cfg.Channel.IsAddressed(in.From) {
		h.log.Info("inbound event ignored", logx.Err(domain.ErrMalformedEvent),
			logx.String("from", in.From), logx.Bool("has_body", strings.TrimSpace(in.Body) != ""))
		writeEnvelope(w, http.StatusOK)
		return
	}

	h.handle(r.Context(), cfg, in)
	writeEnvelope(w, http.StatusOK)
}

func (h *Handler) handle(ctx context.Context, cfg Config, in transport.Inbound) {
	log := h.log.With(logx.String("message_sid", in.ProviderMessageID))
	out, err := h.router.Route(ctx, in.From, in.Body, in.ProviderMessageID)
	switch {
	case err == nil:
		h.reply(ctx, cfg, in.From, out.Ack)
	case errors.Is(err, domain.ErrInterpretationFailed):
		log.Info("reply not interpreted", logx.String("context", out.ContextID), logx.Err(err))
		if cfg.ReplyHints && out.Hint != "" {
			h.reply(ctx, cfg, in.From, out.Hint)
		}
	case errors.Is(err, domain.ErrUnknownSender), errors.Is(err, domain.ErrNoActiveContext):
		log.Info("reply discarded", logx.Err(err))
	default:
		log.Error("routing reply failed", logx.Err(err))
	}
}

// reply sends text back to the sender in the background so the gateway gets
// its acknowledgment without waiting on a second provider round trip.
func (h *Handler) reply(ctx context.Context, cfg Config, to, text string) {
	if h.sender == nil || strings.TrimSpace(text) == "" {
		return
	}
	from := cfg.ReplyFrom
	if !cfg.Channel.IsAddressed(from) {
		if addr, err := cfg.Channel.Address(from); err == nil {
			from = addr
		}
	}

	h.replies.Add(1)
	go func() {
		defer h.replies.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ReplyTimeout)
		defer cancel()
		if _, err := h.sender.Send(sendCtx, from, to, text); err != nil {
			h.log.Warn("acknowledgment send failed", logx.String("to", to), logx.Err(err))
		}
	}()
}

// requestURL is the URL the gateway signed: the configured public base plus
// the request URI, or the request's own URL honouring forwarding headers.
func requestURL(r *http.Request, publicURL string) string {
	if base := strings.TrimRight(strings.TrimSpace(publicURL), "/"); base != "" {
		return base + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = strings.TrimSpace(strings.Split(p, ",")[0])
	}
	host := r.Host
	if fh := r.Header.Get("X-Forwarded-Host"); fh != "" {
		host = strings.TrimSpace(strings.Split(fh, ",")[0])
	}
	return scheme + "://" + host + r.URL.RequestURI()
}

func writeEnvelope(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, emptyEnvelope)
}
