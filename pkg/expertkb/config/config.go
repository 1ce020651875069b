// Package config loads engine settings and knowledge seed files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/cognicore/expertkb/pkg/expertkb/internalerr"
	"github.com/cognicore/expertkb/pkg/expertkb/match"
)

// Environment variables that override file settings.
const (
	EnvMaxIterations   = "EXPERTKB_MAX_ITERATIONS"
	EnvMatchMode       = "EXPERTKB_MATCH_MODE"
	EnvHistoryLimit    = "EXPERTKB_HISTORY_LIMIT"
	EnvExplainMaxDepth = "EXPERTKB_EXPLAIN_MAX_DEPTH"
	EnvArchivePath     = "EXPERTKB_DB"
	EnvLogLevel        = "EXPERTKB_LOG_LEVEL"
)

// Config holds every tunable of the system
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Match   MatchConfig   `yaml:"match"`
	Explain ExplainConfig `yaml:"explain"`
	Chat    ChatConfig    `yaml:"chat"`
	Archive ArchiveConfig `yaml:"archive"`
	Log     LogConfig     `yaml:"log"`
}

type EngineConfig struct {
	MaxIterations int `yaml:"max_iterations"`
	HistoryLimit  int `yaml:"history_limit"`
}

type MatchConfig struct {
	Mode string `yaml:"mode"` // permissive or strict
}

type ExplainConfig struct {
	MaxDepth int `yaml:"max_depth"`
}

type ChatConfig struct {
	HistoryLimit int `yaml:"history_limit"` // 0 keeps every message
}

type ArchiveConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Engine:  EngineConfig{MaxIterations: 100, HistoryLimit: 100},
		Match:   MatchConfig{Mode: "permissive"},
		Explain: ExplainConfig{MaxDepth: 32},
		Chat:    ChatConfig{HistoryLimit: 500},
		Archive: ArchiveConfig{Path: "expertkb.db"},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads a YAML file over the defaults. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %s: %v", internalerr.ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

// LoadEnvFiles loads .env style files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides settings from EXPERTKB_* environment variables.
func (c *Config) ApplyEnv() error {
	if err := envInt(EnvMaxIterations, &c.Engine.MaxIterations); err != nil {
		return err
	}
	if err := envInt(EnvHistoryLimit, &c.Engine.HistoryLimit); err != nil {
		return err
	}
	if err := envInt(EnvExplainMaxDepth, &c.Explain.MaxDepth); err != nil {
		return err
	}
	if v, ok := lookupEnv(EnvMatchMode); ok {
		c.Match.Mode = v
	}
	if v, ok := lookupEnv(EnvArchivePath); ok {
		c.Archive.Path = v
	}
	if v, ok := lookupEnv(EnvLogLevel); ok {
		c.Log.Level = v
	}
	return nil
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func envInt(key string, dst *int) error {
	v, ok := lookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%w: %s=%q is not an integer", internalerr.ErrInvalidConfig, key, v)
	}
	*dst = n
	return nil
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	var problems []string
	if c.Engine.MaxIterations < 1 {
		problems = append(problems, "engine.max_iterations must be at least 1")
	}
	if c.Engine.HistoryLimit < 1 {
		problems = append(problems, "engine.history_limit must be at least 1")
	}
	if c.Explain.MaxDepth < 1 {
		problems = append(problems, "explain.max_depth must be at least 1")
	}
	if c.Chat.HistoryLimit < 0 {
		problems = append(problems, "chat.history_limit must not be negative")
	}
	if _, err := c.MatchMode(); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := c.LogLevel(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", internalerr.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// MatchMode parses the configured match mode.
func (c Config) MatchMode() (match.Mode, error) {
	return match.ParseMode(c.Match.Mode)
}

// LogLevel parses the configured log level.
func (c Config) LogLevel() (zapcore.Level, error) {
	if c.Log.Level == "" {
		return zapcore.InfoLevel, nil
	}
	lvl, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("log.level: %v", err)
	}
	return lvl, nil
}
