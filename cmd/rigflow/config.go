package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rendis/rigflow/internal/adapters"
	"github.com/rendis/rigflow/internal/scheduler"
)

// Config holds all rigflow configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath         string               `json:"db_path"`
	LogLevel       string               `json:"log_level"`
	LogFormat      string               `json:"log_format"`
	FormulaEngine  string               `json:"formula_engine"`
	PollIntervalMs int                  `json:"poll_interval_ms"`
	AutoConfirm    bool                 `json:"auto_confirm"`
	Sheets         []string             `json:"sheets"`
	PLCTags        map[string]any       `json:"plc_tags"`
	PLCJitter      float64              `json:"plc_jitter"`
	Breaker        BreakerSettings      `json:"breaker"`
	Schedules      []scheduler.Schedule `json:"schedules"`
}

// BreakerSettings configures the per-module PLC circuit breaker.
type BreakerSettings struct {
	FailureThreshold int `json:"failure_threshold"`
	CooldownMs       int `json:"cooldown_ms"`
}

func (b BreakerSettings) config() adapters.BreakerConfig {
	return adapters.BreakerConfig{
		FailureThreshold: b.FailureThreshold,
		Cooldown:         time.Duration(b.CooldownMs) * time.Millisecond,
	}
}

func defaultConfig(dir string) Config {
	def := adapters.DefaultBreakerConfig()
	return Config{
		DBPath:         filepath.Join(dir, "rigflow.db"),
		LogLevel:       "info",
		LogFormat:      "text",
		FormulaEngine:  "expr",
		PollIntervalMs: 100,
		Sheets:         []string{"Report"},
		Breaker: BreakerSettings{
			FailureThreshold: def.FailureThreshold,
			CooldownMs:       int(def.Cooldown / time.Millisecond),
		},
	}
}

// rigflowDir is $RIGFLOW_HOME, or ~/.rigflow.
func rigflowDir() string {
	if v := os.Getenv("RIGFLOW_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".rigflow"
	}
	return filepath.Join(home, ".rigflow")
}

func settingsPath() string {
	return filepath.Join(rigflowDir(), "settings.json")
}

func loadConfig() (Config, error) {
	return loadConfigFrom(rigflowDir(), os.Getenv)
}

func loadConfigFrom(dir string, getenv func(string) string) (Config, error) {
	cfg := defaultConfig(dir)

	// Layer 2: settings.json (ignored if missing).
	path := filepath.Join(dir, "settings.json")
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	// Layer 3: env vars override.
	if v := getenv("RIGFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := getenv("RIGFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("RIGFLOW_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := getenv("RIGFLOW_FORMULA_ENGINE"); v != "" {
		cfg.FormulaEngine = v
	}
	if v := getenv("RIGFLOW_POLL_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PollIntervalMs = n
		}
	}
	if v := getenv("RIGFLOW_AUTO_CONFIRM"); v != "" {
		cfg.AutoConfirm = v == "true" || v == "1"
	}
	if v := getenv("RIGFLOW_SHEETS"); v != "" {
		cfg.Sheets = splitList(v)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is empty")
	}
	if c.PollIntervalMs <= 0 {
		return fmt.Errorf("poll_interval_ms must be positive, got %d", c.PollIntervalMs)
	}
	for i, s := range c.Schedules {
		if s.WorkflowID == "" {
			return fmt.Errorf("schedules[%d]: workflow_id is empty", i)
		}
		if _, err := scheduler.NextRun(s.Cron, time.Now()); err != nil {
			return fmt.Errorf("schedules[%d]: %w", i, err)
		}
	}
	return nil
}

func (c Config) pollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	LogLevelChanged  bool
	SchedulesChanged bool
	RestartNeeded    []string // fields that only apply after a restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if !strings.EqualFold(old.LogLevel, new.LogLevel) {
		d.LogLevelChanged = true
	}
	if !reflect.DeepEqual(old.Schedules, new.Schedules) {
		d.SchedulesChanged = true
	}
	if old.DBPath != new.DBPath {
		d.RestartNeeded = append(d.RestartNeeded, "db_path")
	}
	if old.LogFormat != new.LogFormat {
		d.RestartNeeded = append(d.RestartNeeded, "log_format")
	}
	if old.FormulaEngine != new.FormulaEngine {
		d.RestartNeeded = append(d.RestartNeeded, "formula_engine")
	}
	if old.PollIntervalMs != new.PollIntervalMs {
		d.RestartNeeded = append(d.RestartNeeded, "poll_interval_ms")
	}
	if old.AutoConfirm != new.AutoConfirm {
		d.RestartNeeded = append(d.RestartNeeded, "auto_confirm")
	}
	if !reflect.DeepEqual(old.Sheets, new.Sheets) {
		d.RestartNeeded = append(d.RestartNeeded, "sheets")
	}
	if !reflect.DeepEqual(old.PLCTags, new.PLCTags) || old.PLCJitter != new.PLCJitter {
		d.RestartNeeded = append(d.RestartNeeded, "plc")
	}
	if old.Breaker != new.Breaker {
		d.RestartNeeded = append(d.RestartNeeded, "breaker")
	}
	return d
}
