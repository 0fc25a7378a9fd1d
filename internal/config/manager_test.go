package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestParseYAMLWithEnvOverlay(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "pulsewire.yaml", `
server:
  addr: "0.0.0.0:9000"
gateway:
  channel: whatsapp
  broadcast_from: "+254711000000"
  account_sid: "from-file"
dispatch:
  workers: 8
webhook:
  public_url: "https://hooks.example.com"
`)
	m := NewConfigManager(p)
	m.environ = map[string]string{
		"PULSEWIRE_GATEWAY_ACCOUNT_SID":   "AC-env",
		"PULSEWIRE_GATEWAY_AUTH_TOKEN":    "tok",
		"PULSEWIRE_WEBHOOK_REPLY_HINTS":   "false",
		"PULSEWIRE_DISPATCH_RATE_PER_SEC": "3",
	}
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:9000" || cfg.Dispatch.Workers != 8 {
		t.Fatalf("file values lost: %+v", cfg)
	}
	if cfg.Gateway.AccountSID != "AC-env" || cfg.Gateway.AuthToken != "tok" || cfg.Dispatch.RatePerSec != 3 {
		t.Fatalf("env overlay not applied: %+v", cfg.Gateway)
	}
	if cfg.Webhook.ReplyHintsEnabled() {
		t.Fatal("reply hints should be disabled by env")
	}
	if cfg.Gateway.EffectiveReplyFrom() != "+254711000000" {
		t.Fatalf("reply_from fallback = %q", cfg.Gateway.EffectiveReplyFrom())
	}
	if m.Get() != cfg {
		t.Fatal("Load must commit the parsed config")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "pulsewire.json", `{"gateway": {"token": "x"}}`)
	m := NewConfigManager(p)
	m.environ = map[string]string{}
	if _, err := m.Parse(); err == nil || !strings.Contains(err.Error(), "unknown field") {
		t.Fatalf("err = %v, want unknown field", err)
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "pulsewire.json", `{} {}`)
	m := NewConfigManager(p)
	m.environ = map[string]string{}
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestParseWithoutFile(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("")
	m.environ = map[string]string{"PULSEWIRE_STORAGE_PATH": "/tmp/x.db"}
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Storage.Path != "/tmp/x.db" {
		t.Fatalf("storage.path = %q", cfg.Storage.Path)
	}
	if !cfg.Webhook.ReplyHintsEnabled() || !cfg.Scheduler.IsEnabled() {
		t.Fatal("pointer flags should default to true")
	}

	// Watch without a file just waits for cancellation.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := m.Watch(ctx); err != nil {
		t.Fatalf("watch: %v", err)
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "pulsewire.json", `{"dispatch": {"workers": 2}}`)
	m := NewConfigManager(p)
	m.environ = map[string]string{}
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	m.SetValidator(func(_ context.Context, cfg *Config) error { return Validate(cfg) })
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(p, []byte(`{"dispatch": {"workers": 6}}`), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	select {
	case cfg := <-ch:
		if cfg.Dispatch.Workers != 6 {
			t.Fatalf("workers = %d, want 6", cfg.Dispatch.Workers)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("config change not published")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	if err := Validate(&Config{}); err != nil {
		t.Fatalf("zero config should be valid: %v", err)
	}

	bad := &Config{
		Gateway:   GatewayConfig{Channel: "telegram", Timeout: "soon"},
		Dispatch:  DispatchConfig{Workers: -1},
		Storage:   StorageConfig{Driver: "postgres"},
		Scheduler: SchedulerConfig{ExpireSpec: "every now and then"},
		Logging:   LoggingConfig{Alert: LoggingAlert{Enabled: true}},
		Webhook:   WebhookConfig{Path: "hooks"},
	}
	err := Validate(bad)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{
		"gateway.channel", "gateway.timeout", "dispatch.workers", "storage.driver",
		"scheduler.expire_spec", "logging.alert.to", "webhook.path",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in %v", want, err)
		}
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Gateway: GatewayConfig{AuthToken: "old-secret"}}
	newCfg := &Config{Gateway: GatewayConfig{AuthToken: "new-secret"}, Dispatch: DispatchConfig{Workers: 3}}

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "gateway,dispatch" {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("expected log fields")
	}
}
