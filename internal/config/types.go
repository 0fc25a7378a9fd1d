package config

// Config is the process configuration. It is read from an optional JSON or
// YAML file and then overlaid with PULSEWIRE_* environment variables.
//
// All durations are Go duration strings (e.g. "500ms", "15s", "24h").
// Zero values mean "use the default" unless documented otherwise.
type Config struct {
	Server    ServerConfig    `json:"server" envPrefix:"SERVER_"`
	Logging   LoggingConfig   `json:"logging" envPrefix:"LOG_"`
	Gateway   GatewayConfig   `json:"gateway" envPrefix:"GATEWAY_"`
	Dispatch  DispatchConfig  `json:"dispatch" envPrefix:"DISPATCH_"`
	Webhook   WebhookConfig   `json:"webhook" envPrefix:"WEBHOOK_"`
	Storage   StorageConfig   `json:"storage" envPrefix:"STORAGE_"`
	Scheduler SchedulerConfig `json:"scheduler" envPrefix:"SCHEDULER_"`
}

// ServerConfig controls the HTTP listener.
//
// Security note: when APIToken is empty the dispatch endpoint is open to
// anything that can reach Addr. Bind to localhost or set a token.
type ServerConfig struct {
	Addr     string `json:"addr,omitempty" env:"ADDR"` // default: "127.0.0.1:8080"
	APIToken string `json:"api_token,omitempty" env:"API_TOKEN"`
	// Pprof mounts net/http/pprof under /debug/pprof/ behind APIToken.
	Pprof bool `json:"pprof,omitempty" env:"PPROF"`

	ReadTimeout     string `json:"read_timeout,omitempty" env:"READ_TIMEOUT"`
	WriteTimeout    string `json:"write_timeout,omitempty" env:"WRITE_TIMEOUT"`
	IdleTimeout     string `json:"idle_timeout,omitempty" env:"IDLE_TIMEOUT"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty" env:"SHUTDOWN_TIMEOUT"`
}

type LoggingConfig struct {
	Level   string       `json:"level" env:"LEVEL"`
	Console bool         `json:"console" env:"CONSOLE"`
	File    LoggingFile  `json:"file" envPrefix:"FILE_"`
	Alert   LoggingAlert `json:"alert" envPrefix:"ALERT_"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled" env:"ENABLED"`
	Path    string `json:"path" env:"PATH"`
}

// LoggingAlert forwards log lines at or above MinLevel to an operator phone.
// From defaults to gateway.broadcast_from.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled" env:"ENABLED"`
	From       string `json:"from,omitempty" env:"FROM"`
	To         string `json:"to" env:"TO"`
	MinLevel   string `json:"min_level" env:"MIN_LEVEL"`
	RatePerSec int    `json:"rate_per_sec" env:"RATE_PER_SEC"`
}

// GatewayConfig holds messaging provider credentials and sending addresses.
// Keep AccountSID and AuthToken in the environment rather than the file.
type GatewayConfig struct {
	BaseURL    string `json:"base_url,omitempty" env:"BASE_URL"`
	AccountSID string `json:"account_sid,omitempty" env:"ACCOUNT_SID"`
	AuthToken  string `json:"auth_token,omitempty" env:"AUTH_TOKEN"`
	// Channel is "whatsapp" (default) or "sms".
	Channel string `json:"channel,omitempty" env:"CHANNEL"`

	// BroadcastFrom sends dispatches; ReplyFrom sends acknowledgments.
	// ReplyFrom defaults to BroadcastFrom.
	BroadcastFrom string `json:"broadcast_from" env:"BROADCAST_FROM"`
	ReplyFrom     string `json:"reply_from,omitempty" env:"REPLY_FROM"`

	Timeout string `json:"timeout,omitempty" env:"TIMEOUT"`
}

// DispatchConfig controls fan-out.
//
// Defaults:
//   - workers: 4
//   - rate_per_sec: 10
//   - send_timeout: "15s"
//   - checkin_ttl / announcement_ttl: "24h"
//   - poll_ttl: "168h" (only for polls without their own expiry)
type DispatchConfig struct {
	Workers         int    `json:"workers,omitempty" env:"WORKERS"`
	RatePerSec      int    `json:"rate_per_sec,omitempty" env:"RATE_PER_SEC"`
	SendTimeout     string `json:"send_timeout,omitempty" env:"SEND_TIMEOUT"`
	CheckInTTL      string `json:"checkin_ttl,omitempty" env:"CHECKIN_TTL"`
	AnnouncementTTL string `json:"announcement_ttl,omitempty" env:"ANNOUNCEMENT_TTL"`
	PollTTL         string `json:"poll_ttl,omitempty" env:"POLL_TTL"`
}

// WebhookConfig controls the inbound endpoint.
//
// ReplyHints is a pointer so an omitted key can default to true.
type WebhookConfig struct {
	Path         string `json:"path,omitempty" env:"PATH"` // default: "/v1/webhooks/inbound"
	PublicURL    string `json:"public_url,omitempty" env:"PUBLIC_URL"`
	ReplyHints   *bool  `json:"reply_hints,omitempty" env:"REPLY_HINTS"`
	ReplyTimeout string `json:"reply_timeout,omitempty" env:"REPLY_TIMEOUT"`
}

// StorageConfig controls persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/pulsewire.db" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty" env:"DRIVER"`
	Path        string `json:"path,omitempty" env:"PATH"`
	BusyTimeout string `json:"busy_timeout,omitempty" env:"BUSY_TIMEOUT"`
}

// SchedulerConfig controls periodic lifecycle jobs.
type SchedulerConfig struct {
	Enabled *bool `json:"enabled,omitempty" env:"ENABLED"`
	// ExpireSpec is a cron spec, descriptor or plain interval ("10m") for the expire sweep.
	ExpireSpec string `json:"expire_spec,omitempty" env:"EXPIRE_SPEC"`
	Timezone   string `json:"timezone,omitempty" env:"TIMEZONE"`
}

const (
	DefaultServerAddr   = "127.0.0.1:8080"
	DefaultWebhookPath  = "/v1/webhooks/inbound"
	DefaultStoragePath  = "./data/pulsewire.db"
	DefaultExpireSpec   = "@every 5m"
	DefaultLoggingLevel = "info"
)

// ReplyHintsEnabled reports the effective webhook.reply_hints value.
func (w WebhookConfig) ReplyHintsEnabled() bool {
	return w.ReplyHints == nil || *w.ReplyHints
}

// IsEnabled reports the effective scheduler.enabled value.
func (s SchedulerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// EffectiveReplyFrom falls back to BroadcastFrom.
func (g GatewayConfig) EffectiveReplyFrom() string {
	if g.ReplyFrom != "" {
		return g.ReplyFrom
	}
	return g.BroadcastFrom
}
