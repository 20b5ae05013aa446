package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
)

// CurrentSchemaVersion is the current config schema version.
const CurrentSchemaVersion = 1

// Environment variable names for config overrides.
// Priority: Environment > Config File > Default
const (
	EnvPort              = "VRCWATCH_PORT"
	EnvLanEnabled        = "VRCWATCH_LAN_ENABLED"
	EnvLogDir            = "VRCWATCH_LOG_DIR"
	EnvPollMs            = "VRCWATCH_POLL_MS"
	EnvEnrichDelaySec    = "VRCWATCH_ENRICH_DELAY_SEC"
	EnvOverlayWSURL      = "VRCWATCH_OVERLAY_WS_URL"
	EnvOverlayUDPAddr    = "VRCWATCH_OVERLAY_UDP_ADDR"
	EnvNotifyOnLowTrust  = "VRCWATCH_NOTIFY_ON_LOW_TRUST"
	EnvNotifyOnFlagged   = "VRCWATCH_NOTIFY_ON_FLAGGED"
	EnvSnapshotEvents    = "VRCWATCH_SNAPSHOT_EVENTS"
	EnvRetentionDays     = "VRCWATCH_RETENTION_DAYS"
)

// Config holds non-sensitive application configuration.
type Config struct {
	SchemaVersion    int    `json:"schema_version"`
	Port             int    `json:"port"`
	LanEnabled       bool   `json:"lan_enabled"`
	LogDir           string `json:"log_dir"`
	PollMs           int    `json:"poll_ms"`
	EnrichDelaySec   int    `json:"enrich_delay_sec"`
	OverlayWSURL     string `json:"overlay_ws_url"`
	OverlayUDPAddr   string `json:"overlay_udp_addr"`
	NotifyOnLowTrust bool   `json:"notify_on_low_trust"`
	NotifyOnFlagged  bool   `json:"notify_on_flagged"`
	SnapshotEvents   int    `json:"snapshot_events"`
	RetentionDays    int    `json:"retention_days"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SchemaVersion:    CurrentSchemaVersion,
		Port:             8080,
		LanEnabled:       false,
		LogDir:           "", // auto-detect
		PollMs:           1000,
		EnrichDelaySec:   2,
		OverlayWSURL:     "", // package default
		OverlayUDPAddr:   "", // package default
		NotifyOnLowTrust: true,
		NotifyOnFlagged:  true,
		SnapshotEvents:   50,
		RetentionDays:    0, // keep forever
	}
}

// LoadConfig reads config from disk. If the file doesn't exist or is corrupt,
// it returns DefaultConfig with a warning logged (non-fatal).
func LoadConfig() (Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return DefaultConfig(), err
	}

	return LoadConfigFrom(path)
}

// LoadConfigFrom reads config from the specified path.
func LoadConfigFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// File doesn't exist, use defaults (not an error)
			return cfg, nil
		}
		log.Printf("Warning: failed to read config file: %v, using defaults", err)
		return cfg, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&cfg); err != nil {
		log.Printf("Warning: config file is corrupt: %v, using defaults", err)
		return DefaultConfig(), nil
	}

	if cfg.SchemaVersion != CurrentSchemaVersion {
		log.Printf("Warning: config schema version mismatch (got %d, expected %d), using defaults",
			cfg.SchemaVersion, CurrentSchemaVersion)
		return DefaultConfig(), nil
	}

	return normalizeConfig(cfg), nil
}

// normalizeConfig validates and normalizes config values.
func normalizeConfig(cfg Config) Config {
	defaults := DefaultConfig()

	cfg.SchemaVersion = CurrentSchemaVersion

	if cfg.Port <= 0 || cfg.Port > 65535 {
		cfg.Port = defaults.Port
	}
	if cfg.PollMs < 100 {
		cfg.PollMs = defaults.PollMs
	}
	if cfg.EnrichDelaySec <= 0 {
		cfg.EnrichDelaySec = defaults.EnrichDelaySec
	}
	if cfg.SnapshotEvents <= 0 {
		cfg.SnapshotEvents = defaults.SnapshotEvents
	}
	if cfg.RetentionDays < 0 {
		cfg.RetentionDays = defaults.RetentionDays
	}

	return cfg
}

// SaveConfig writes config to disk atomically.
func SaveConfig(cfg Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	return SaveConfigTo(cfg, path)
}

// SaveConfigTo writes config to the specified path atomically.
func SaveConfigTo(cfg Config, path string) error {
	cfg.SchemaVersion = CurrentSchemaVersion

	return writeJSONAtomic(path, cfg)
}

// ApplyEnvOverrides applies environment variable overrides to the config.
// Environment variables take highest priority over config file values.
func ApplyEnvOverrides(cfg Config) Config {
	if v := os.Getenv(EnvPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port <= 65535 {
			cfg.Port = port
		}
	}

	if v := os.Getenv(EnvLanEnabled); v != "" {
		cfg.LanEnabled = parseBool(v)
	}

	if v := os.Getenv(EnvLogDir); v != "" {
		cfg.LogDir = v
	}

	if v := os.Getenv(EnvPollMs); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 100 {
			cfg.PollMs = ms
		}
	}

	if v := os.Getenv(EnvEnrichDelaySec); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			cfg.EnrichDelaySec = sec
		}
	}

	if v := os.Getenv(EnvOverlayWSURL); v != "" {
		cfg.OverlayWSURL = v
	}

	if v := os.Getenv(EnvOverlayUDPAddr); v != "" {
		cfg.OverlayUDPAddr = v
	}

	if v := os.Getenv(EnvNotifyOnLowTrust); v != "" {
		cfg.NotifyOnLowTrust = parseBool(v)
	}

	if v := os.Getenv(EnvNotifyOnFlagged); v != "" {
		cfg.NotifyOnFlagged = parseBool(v)
	}

	if v := os.Getenv(EnvSnapshotEvents); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SnapshotEvents = n
		}
	}

	if v := os.Getenv(EnvRetentionDays); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.RetentionDays = n
		}
	}

	return cfg
}

// parseBool parses a boolean from various string representations.
// Accepts: "true", "1", "yes", "on" (case-insensitive) as true.
// All other values are treated as false.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}
