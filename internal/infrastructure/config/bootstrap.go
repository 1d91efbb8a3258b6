package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// AppName is the canonical application name.
const AppName = "claude-gateway"

// HomeDir returns the gateway's configuration home: ~/.claude-gateway
func HomeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+AppName)
}

// Bootstrap ensures the ~/.claude-gateway directory and its default
// config.yaml exist. Called once at startup; safe to call repeatedly since
// it never overwrites an existing config.yaml.
func Bootstrap(logger *zap.Logger) error {
	root := HomeDir()

	if err := os.MkdirAll(filepath.Join(root, "logs"), 0755); err != nil {
		return fmt.Errorf("create dir %s: %w", root, err)
	}

	configPath := filepath.Join(root, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		logger.Debug("gateway home directory OK", zap.String("home", root))
		return nil
	}

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0644); err != nil {
		logger.Warn("failed to write default config", zap.String("path", configPath), zap.Error(err))
		return nil
	}
	logger.Info("gateway bootstrap complete", zap.String("home", root))
	return nil
}

const defaultConfig = `# Claude Code gateway configuration.
# Auto-generated on first launch — feel free to edit.

gateway:
  host: 0.0.0.0
  port: 18789
  mode: release                 # debug | release

cla:
  binary_path: claude           # path to the CLA binary on $PATH or absolute
  stdin_prompt_threshold: 131072  # bytes; prompts larger than this are piped via stdin
  max_stdout_bytes: 10485760
  max_stderr_bytes: 1048576

pool:
  max_concurrent: 8
  queue_timeout: 30s
  shutdown_timeout: 10s

session:
  max_age: 24h
  ttl: 30m
  sweep_interval: 5m

rate_limit:
  ip_limit: 60
  ip_window: 1m
  session_limit: 30
  session_window: 1m
  max_concurrent_per_key: 4

proxy:
  enabled: true
  base_url: ""                  # empty uses the upstream SDK default
  api_key: ""                   # server-held key for the passthrough backend
  allow_client_key: true        # let clients supply their own upstream key

auth:
  api_keys: []                  # non-empty enables Bearer-key authentication

log:
  level: info                   # debug | info | warn | error
  format: json                  # json | console
`
