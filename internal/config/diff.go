package config

import (
	"strings"

	logx "pulsewire/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured fields for logging. Secrets (auth token, api token) are only
// ever reported as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 24)

	// Server (never log token)
	o, n := oldCfg.Server, newCfg.Server
	if strings.TrimSpace(o.Addr) != strings.TrimSpace(n.Addr) ||
		o.ReadTimeout != n.ReadTimeout || o.WriteTimeout != n.WriteTimeout ||
		o.IdleTimeout != n.IdleTimeout || o.ShutdownTimeout != n.ShutdownTimeout ||
		o.APIToken != n.APIToken || o.Pprof != n.Pprof {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.addr", strings.TrimSpace(n.Addr)),
			logx.Bool("server.api_token_set", strings.TrimSpace(n.APIToken) != ""),
			logx.Bool("server.pprof", n.Pprof),
		)
	}

	// Logging
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alert_enabled", newCfg.Logging.Alert.Enabled),
		)
	}

	// Gateway (never log credentials)
	if oldCfg.Gateway != newCfg.Gateway {
		g := newCfg.Gateway
		changed = append(changed, "gateway")
		attrs = append(attrs,
			logx.String("gateway.base_url", strings.TrimSpace(g.BaseURL)),
			logx.String("gateway.channel", strings.TrimSpace(g.Channel)),
			logx.String("gateway.broadcast_from", strings.TrimSpace(g.BroadcastFrom)),
			logx.String("gateway.reply_from", strings.TrimSpace(g.EffectiveReplyFrom())),
			logx.Bool("gateway.credentials_set", g.AccountSID != "" && g.AuthToken != ""),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		d := newCfg.Dispatch
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.Int("dispatch.workers", d.Workers),
			logx.Int("dispatch.rate_per_sec", d.RatePerSec),
			logx.String("dispatch.send_timeout", strings.TrimSpace(d.SendTimeout)),
		)
	}

	ow, nw := oldCfg.Webhook, newCfg.Webhook
	if ow.Path != nw.Path || ow.PublicURL != nw.PublicURL || ow.ReplyTimeout != nw.ReplyTimeout ||
		ow.ReplyHintsEnabled() != nw.ReplyHintsEnabled() {
		changed = append(changed, "webhook")
		attrs = append(attrs,
			logx.String("webhook.public_url", strings.TrimSpace(nw.PublicURL)),
			logx.Bool("webhook.reply_hints", nw.ReplyHintsEnabled()),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.String("storage.path", strings.TrimSpace(newCfg.Storage.Path)),
		)
	}

	osch, ns := oldCfg.Scheduler, newCfg.Scheduler
	if osch.IsEnabled() != ns.IsEnabled() || osch.ExpireSpec != ns.ExpireSpec || osch.Timezone != ns.Timezone {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", ns.IsEnabled()),
			logx.String("scheduler.expire_spec", strings.TrimSpace(ns.ExpireSpec)),
			logx.String("scheduler.timezone", strings.TrimSpace(ns.Timezone)),
		)
	}

	return changed, attrs
}
