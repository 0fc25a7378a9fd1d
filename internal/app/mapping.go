package app

import (
	"fmt"
	"strings"
	"time"

	"pulsewire/internal/config"
	"pulsewire/internal/dispatch"
	"pulsewire/internal/scheduler"
	"pulsewire/internal/server"
	"pulsewire/internal/storage"
	"pulsewire/internal/transport"
	"pulsewire/internal/transport/gateway"
	"pulsewire/internal/webhook"
	logx "pulsewire/pkg/logx"
)

// runtimeConfig is cfg mapped onto every component. Mapping fails as a whole
// so a bad reload never half-applies.
type runtimeConfig struct {
	channel   transport.Channel
	log       logx.Config
	storage   storage.Config
	gateway   gateway.Config
	dispatch  dispatch.Config
	webhook   webhook.Config
	server    server.Config
	scheduler scheduler.Config

	shutdownTimeout time.Duration
}

func mapConfig(cfg *config.Config) (runtimeConfig, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	var rc runtimeConfig

	ch, err := transport.ParseChannel(cfg.Gateway.Channel)
	if err != nil {
		return rc, fmt.Errorf("gateway.channel: %w", err)
	}
	rc.channel = ch
	rc.log = mapLogConfig(cfg, ch)

	if rc.storage, err = mapStorageConfig(cfg); err != nil {
		return rc, err
	}

	gwTimeout, err := config.ParseDurationField("gateway.timeout", cfg.Gateway.Timeout)
	if err != nil {
		return rc, err
	}
	rc.gateway = gateway.Config{
		BaseURL:    cfg.Gateway.BaseURL,
		AccountSID: strings.TrimSpace(cfg.Gateway.AccountSID),
		AuthToken:  strings.TrimSpace(cfg.Gateway.AuthToken),
		Timeout:    gwTimeout,
	}

	d := cfg.Dispatch
	rc.dispatch = dispatch.Config{
		Workers:    d.Workers,
		RatePerSec: d.RatePerSec,
		Channel:    ch,
		From:       strings.TrimSpace(cfg.Gateway.BroadcastFrom),
	}
	for _, f := range []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"dispatch.send_timeout", d.SendTimeout, &rc.dispatch.SendTimeout},
		{"dispatch.checkin_ttl", d.CheckInTTL, &rc.dispatch.CheckInTTL},
		{"dispatch.announcement_ttl", d.AnnouncementTTL, &rc.dispatch.AnnouncementTTL},
		{"dispatch.poll_ttl", d.PollTTL, &rc.dispatch.PollTTL},
	} {
		if *f.dst, err = config.ParseDurationField(f.path, f.raw); err != nil {
			return rc, err
		}
	}

	replyTimeout, err := config.ParseDurationField("webhook.reply_timeout", cfg.Webhook.ReplyTimeout)
	if err != nil {
		return rc, err
	}
	rc.webhook = webhook.Config{
		AuthToken:    strings.TrimSpace(cfg.Gateway.AuthToken),
		PublicURL:    cfg.Webhook.PublicURL,
		ReplyHints:   cfg.Webhook.ReplyHintsEnabled(),
		ReplyFrom:    strings.TrimSpace(cfg.Gateway.EffectiveReplyFrom()),
		Channel:      ch,
		ReplyTimeout: replyTimeout,
	}

	s := cfg.Server
	rc.server = server.Config{
		Addr:        orDefault(s.Addr, config.DefaultServerAddr),
		APIToken:    strings.TrimSpace(s.APIToken),
		WebhookPath: orDefault(cfg.Webhook.Path, config.DefaultWebhookPath),
		Pprof:       s.Pprof,
	}
	for _, f := range []struct {
		path string
		raw  string
		dst  *time.Duration
		def  time.Duration
	}{
		{"server.read_timeout", s.ReadTimeout, &rc.server.ReadTimeout, 15 * time.Second},
		{"server.write_timeout", s.WriteTimeout, &rc.server.WriteTimeout, 60 * time.Second},
		{"server.idle_timeout", s.IdleTimeout, &rc.server.IdleTimeout, 60 * time.Second},
		{"server.shutdown_timeout", s.ShutdownTimeout, &rc.shutdownTimeout, 10 * time.Second},
	} {
		if *f.dst, err = config.ParseDurationOrDefault(f.path, f.raw, f.def); err != nil {
			return rc, err
		}
	}

	rc.scheduler = scheduler.Config{
		Enabled:  cfg.Scheduler.IsEnabled(),
		Spec:     orDefault(cfg.Scheduler.ExpireSpec, config.DefaultExpireSpec),
		Timezone: strings.TrimSpace(cfg.Scheduler.Timezone),
	}
	if _, err := scheduler.NormalizeSpec(rc.scheduler.Spec); err != nil {
		return rc, fmt.Errorf("scheduler.expire_spec: %w", err)
	}
	return rc, nil
}

// mapLogConfig addresses the alert endpoints on the gateway channel. The
// alert sender defaults to the broadcast number.
func mapLogConfig(cfg *config.Config, ch transport.Channel) logx.Config {
	l := cfg.Logging
	from := strings.TrimSpace(l.Alert.From)
	if from == "" {
		from = strings.TrimSpace(cfg.Gateway.BroadcastFrom)
	}
	return logx.Config{
		Level:   orDefault(l.Level, config.DefaultLoggingLevel),
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Alert: logx.AlertConfig{
			Enabled:    l.Alert.Enabled,
			From:       address(ch, from),
			To:         address(ch, l.Alert.To),
			MinLevel:   l.Alert.MinLevel,
			RatePerSec: l.Alert.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		driver = "sqlite"
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        orDefault(sc.Path, config.DefaultStoragePath),
		BusyTimeout: busy,
	}, nil
}

// address returns phone in channel form; already-addressed or empty values
// pass through unchanged.
func address(ch transport.Channel, phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" || ch.IsAddressed(phone) {
		return phone
	}
	if a, err := ch.Address(phone); err == nil {
		return a
	}
	return phone
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}
