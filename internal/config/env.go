package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every environment variable name,
// e.g. PULSEWIRE_GATEWAY_AUTH_TOKEN.
const EnvPrefix = "PULSEWIRE_"

// ApplyEnv overlays environment variables onto cfg. Only variables that are
// set override; everything else keeps its file value.
func ApplyEnv(cfg *Config) error {
	return applyEnv(cfg, nil)
}

// applyEnv reads from environ instead of the process environment when it is non-nil.
func applyEnv(cfg *Config, environ map[string]string) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
