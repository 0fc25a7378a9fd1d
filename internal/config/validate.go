package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"pulsewire/internal/scheduler"
	"pulsewire/internal/transport"
)

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		check(err)
	}

	dur("server.read_timeout", cfg.Server.ReadTimeout)
	dur("server.write_timeout", cfg.Server.WriteTimeout)
	dur("server.idle_timeout", cfg.Server.IdleTimeout)
	dur("server.shutdown_timeout", cfg.Server.ShutdownTimeout)
	dur("gateway.timeout", cfg.Gateway.Timeout)
	dur("dispatch.send_timeout", cfg.Dispatch.SendTimeout)
	dur("dispatch.checkin_ttl", cfg.Dispatch.CheckInTTL)
	dur("dispatch.announcement_ttl", cfg.Dispatch.AnnouncementTTL)
	dur("dispatch.poll_ttl", cfg.Dispatch.PollTTL)
	dur("webhook.reply_timeout", cfg.Webhook.ReplyTimeout)
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)

	if _, err := transport.ParseChannel(cfg.Gateway.Channel); err != nil {
		check(fmt.Errorf("gateway.channel: %w", err))
	}
	if cfg.Dispatch.Workers < 0 {
		check(errors.New("dispatch.workers must be >= 0"))
	}
	if cfg.Dispatch.RatePerSec < 0 {
		check(errors.New("dispatch.rate_per_sec must be >= 0"))
	}
	if p := strings.TrimSpace(cfg.Webhook.Path); p != "" && !strings.HasPrefix(p, "/") {
		check(fmt.Errorf("webhook.path %q must start with /", p))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3":
	case "none":
		check(errors.New("storage.driver none is not supported: dispatch and routing need a store"))
	default:
		check(fmt.Errorf("storage.driver %q is unknown", cfg.Storage.Driver))
	}

	if a := cfg.Logging.Alert; a.Enabled && strings.TrimSpace(a.To) == "" {
		check(errors.New("logging.alert.to is required when alerts are enabled"))
	}

	if spec := strings.TrimSpace(cfg.Scheduler.ExpireSpec); spec != "" {
		if _, err := scheduler.NormalizeSpec(spec); err != nil {
			check(fmt.Errorf("scheduler.expire_spec: %w", err))
		}
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			check(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}

	return errors.Join(errs...)
}
