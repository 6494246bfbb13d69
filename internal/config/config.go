// Package config loads layered TOML configuration: built-in defaults, then
// the user file, then the project file, then environment variables, then
// explicit flag overrides. Later layers win.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces the environment overrides.
const EnvPrefix = "DELIBERATE"

// Config is the full materialized configuration.
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Arbiter    ArbiterConfig    `mapstructure:"arbiter"`
	Gate       GateConfig       `mapstructure:"gate"`
	Patterns   PatternsConfig   `mapstructure:"patterns"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Blocking   BlockingConfig   `mapstructure:"blocking"`
	Hooks      HooksConfig      `mapstructure:"hooks"`
}

type GeneralConfig struct {
	LogLevel          string `mapstructure:"log_level"`
	SessionHistoryDir string `mapstructure:"session_history_dir"`
	WorkflowDetection bool   `mapstructure:"workflow_detection"`
}

type ClassifierConfig struct {
	// Mode selects the transport: auto tries the server then falls back
	// to the subprocess; http and subprocess force one; off disables the
	// semantic layer entirely.
	Mode            string  `mapstructure:"mode"`
	URL             string  `mapstructure:"url"`
	ScriptPath      string  `mapstructure:"script_path"`
	Python          string  `mapstructure:"python"`
	ModelSize       string  `mapstructure:"model_size"`
	TimeoutSecs     int     `mapstructure:"timeout_seconds"`
	SimilarityHigh  float64 `mapstructure:"similarity_high"`
	SimilarityLow   float64 `mapstructure:"similarity_low"`
	CoverageFloor   float64 `mapstructure:"coverage_floor"`
	ConfidenceFloor float64 `mapstructure:"confidence_floor"`
}

type ArbiterConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BaseURL     string `mapstructure:"base_url"`
	Model       string `mapstructure:"model"`
	APIKey      string `mapstructure:"api_key"`
	TimeoutSecs int    `mapstructure:"timeout_seconds"`
}

type GateConfig struct {
	TimeoutSecs     int  `mapstructure:"timeout_seconds"`
	MinResponseMS   int  `mapstructure:"min_response_ms"`
	BypassDetection bool `mapstructure:"bypass_detection"`
}

type PatternsConfig struct {
	SkipAdd      []string `mapstructure:"skip_add"`
	SkipRemove   []string `mapstructure:"skip_remove"`
	Dangerous    []string `mapstructure:"dangerous"`
	Catastrophic []string `mapstructure:"catastrophic"`
}

type AuditConfig struct {
	LogPath         string `mapstructure:"log_path"`
	ReviewQueuePath string `mapstructure:"review_queue_path"`
	DatabasePath    string `mapstructure:"database_path"`
	TrainingPath    string `mapstructure:"training_path"`
}

type BlockingConfig struct {
	Enabled             bool    `mapstructure:"enabled"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
}

type HooksConfig struct {
	SettingsPath string `mapstructure:"settings_path"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:          "info",
			SessionHistoryDir: "~/.deliberate/sessions",
			WorkflowDetection: true,
		},
		Classifier: ClassifierConfig{
			Mode:            "auto",
			URL:             "http://localhost:8765/classify/command",
			Python:          "python3",
			ModelSize:       "small",
			TimeoutSecs:     5,
			SimilarityHigh:  0.84,
			SimilarityLow:   0.75,
			CoverageFloor:   0.70,
			ConfidenceFloor: 0.60,
		},
		Arbiter: ArbiterConfig{
			Model:       "gpt-4o-mini",
			TimeoutSecs: 15,
		},
		Gate: GateConfig{
			TimeoutSecs:     30,
			MinResponseMS:   250,
			BypassDetection: true,
		},
		Audit: AuditConfig{
			LogPath:         "~/.deliberate/uncertain.jsonl",
			ReviewQueuePath: "~/.deliberate/pending-review.jsonl",
			DatabasePath:    "~/.deliberate/review.db",
			TrainingPath:    "~/.deliberate/training.jsonl",
		},
		Blocking: BlockingConfig{
			Enabled:             true,
			ConfidenceThreshold: 0.85,
		},
		Hooks: HooksConfig{
			SettingsPath: "~/.claude/settings.json",
		},
	}
}

func setDefaults(v *viper.Viper) {
	def := DefaultConfig()
	v.SetDefault("general.log_level", def.General.LogLevel)
	v.SetDefault("general.session_history_dir", def.General.SessionHistoryDir)
	v.SetDefault("general.workflow_detection", def.General.WorkflowDetection)

	v.SetDefault("classifier.mode", def.Classifier.Mode)
	v.SetDefault("classifier.url", def.Classifier.URL)
	v.SetDefault("classifier.script_path", def.Classifier.ScriptPath)
	v.SetDefault("classifier.python", def.Classifier.Python)
	v.SetDefault("classifier.model_size", def.Classifier.ModelSize)
	v.SetDefault("classifier.timeout_seconds", def.Classifier.TimeoutSecs)
	v.SetDefault("classifier.similarity_high", def.Classifier.SimilarityHigh)
	v.SetDefault("classifier.similarity_low", def.Classifier.SimilarityLow)
	v.SetDefault("classifier.coverage_floor", def.Classifier.CoverageFloor)
	v.SetDefault("classifier.confidence_floor", def.Classifier.ConfidenceFloor)

	v.SetDefault("arbiter.enabled", def.Arbiter.Enabled)
	v.SetDefault("arbiter.base_url", def.Arbiter.BaseURL)
	v.SetDefault("arbiter.model", def.Arbiter.Model)
	v.SetDefault("arbiter.api_key", def.Arbiter.APIKey)
	v.SetDefault("arbiter.timeout_seconds", def.Arbiter.TimeoutSecs)

	v.SetDefault("gate.timeout_seconds", def.Gate.TimeoutSecs)
	v.SetDefault("gate.min_response_ms", def.Gate.MinResponseMS)
	v.SetDefault("gate.bypass_detection", def.Gate.BypassDetection)

	v.SetDefault("patterns.skip_add", []string{})
	v.SetDefault("patterns.skip_remove", []string{})
	v.SetDefault("patterns.dangerous", []string{})
	v.SetDefault("patterns.catastrophic", []string{})

	v.SetDefault("audit.log_path", def.Audit.LogPath)
	v.SetDefault("audit.review_queue_path", def.Audit.ReviewQueuePath)
	v.SetDefault("audit.database_path", def.Audit.DatabasePath)
	v.SetDefault("audit.training_path", def.Audit.TrainingPath)

	v.SetDefault("blocking.enabled", def.Blocking.Enabled)
	v.SetDefault("blocking.confidence_threshold", def.Blocking.ConfidenceThreshold)

	v.SetDefault("hooks.settings_path", def.Hooks.SettingsPath)
}

// envBindings maps config keys to their dedicated environment variables.
var envBindings = map[string]string{
	"general.log_level":           "DELIBERATE_LOG_LEVEL",
	"general.session_history_dir": "DELIBERATE_HISTORY_DIR",
	"classifier.mode":             "DELIBERATE_CLASSIFIER_MODE",
	"classifier.url":              "DELIBERATE_CLASSIFIER_URL",
	"classifier.script_path":      "DELIBERATE_CLASSIFIER_SCRIPT",
	"classifier.model_size":       "DELIBERATE_MODEL_SIZE",
	"arbiter.enabled":             "DELIBERATE_ARBITER_ENABLED",
	"arbiter.base_url":            "DELIBERATE_ARBITER_BASE_URL",
	"arbiter.model":               "DELIBERATE_ARBITER_MODEL",
	"arbiter.api_key":             "DELIBERATE_ARBITER_API_KEY",
	"gate.timeout_seconds":        "DELIBERATE_GATE_TIMEOUT",
	"gate.min_response_ms":        "DELIBERATE_MIN_RESPONSE_MS",
	"gate.bypass_detection":       "DELIBERATE_BYPASS_DETECTION",
	"blocking.enabled":            "DELIBERATE_BLOCKING",
	"audit.database_path":         "DELIBERATE_REVIEW_DB",
}

// LoadOptions controls where Load looks for files and which overrides win
// last.
type LoadOptions struct {
	// ProjectDir anchors the project config; empty means the current
	// working directory.
	ProjectDir string
	// ConfigPathOverride replaces the project config path outright.
	ConfigPathOverride string
	// FlagOverrides are applied after every other layer.
	FlagOverrides map[string]any
}

// Load materializes the configuration with full precedence:
// defaults < user file < project file < environment < flags.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v)

	userPath, projectPath := ConfigPaths(opts.ProjectDir, opts.ConfigPathOverride)
	if err := mergeConfigFile(v, userPath); err != nil {
		return nil, err
	}
	if err := mergeConfigFile(v, projectPath); err != nil {
		return nil, err
	}

	for key, env := range envBindings {
		if val, ok := os.LookupEnv(env); ok {
			parsed, err := ParseValue(key, val)
			if err != nil {
				return nil, fmt.Errorf("invalid value for %s: %w", env, err)
			}
			v.Set(key, parsed)
		}
	}

	for key, val := range opts.FlagOverrides {
		v.Set(key, val)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigPaths returns the user and project config file paths.
func ConfigPaths(projectDir, override string) (userPath, projectPath string) {
	home, err := os.UserHomeDir()
	if err == nil {
		userPath = filepath.Join(home, ".deliberate", "config.toml")
	}
	return userPath, projectConfigPath(projectDir, override)
}

func projectConfigPath(projectDir, override string) string {
	if override != "" {
		return override
	}
	return filepath.Join(projectDir, ".deliberate", "config.toml")
}

// mergeConfigFile merges one TOML file into v. A missing file is a no-op;
// an unreadable or malformed one is an error.
func mergeConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat config %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", path)
	}

	if err := v.MergeConfig(f); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate checks cross-field constraints. All violations are reported at
// once.
func Validate(cfg *Config) error {
	var problems []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("general.log_level: unknown level %q", cfg.General.LogLevel))
	}

	switch cfg.Classifier.Mode {
	case "auto", "http", "subprocess", "off":
	default:
		problems = append(problems, fmt.Sprintf("classifier.mode: unknown mode %q", cfg.Classifier.Mode))
	}
	switch cfg.Classifier.ModelSize {
	case "small", "base", "large":
	default:
		problems = append(problems, fmt.Sprintf("classifier.model_size: unknown size %q", cfg.Classifier.ModelSize))
	}
	if cfg.Classifier.TimeoutSecs <= 0 {
		problems = append(problems, "classifier.timeout_seconds: must be positive")
	}
	for name, f := range map[string]float64{
		"classifier.similarity_high":  cfg.Classifier.SimilarityHigh,
		"classifier.similarity_low":   cfg.Classifier.SimilarityLow,
		"classifier.coverage_floor":   cfg.Classifier.CoverageFloor,
		"classifier.confidence_floor": cfg.Classifier.ConfidenceFloor,
	} {
		if f < 0 || f > 1 {
			problems = append(problems, fmt.Sprintf("%s: must be in [0,1]", name))
		}
	}
	if cfg.Classifier.SimilarityLow > cfg.Classifier.SimilarityHigh {
		problems = append(problems, "classifier.similarity_low: must not exceed similarity_high")
	}

	if cfg.Arbiter.TimeoutSecs <= 0 {
		problems = append(problems, "arbiter.timeout_seconds: must be positive")
	}

	if cfg.Gate.TimeoutSecs <= 0 {
		problems = append(problems, "gate.timeout_seconds: must be positive")
	}
	if cfg.Gate.MinResponseMS < 0 {
		problems = append(problems, "gate.min_response_ms: must not be negative")
	}

	if cfg.Blocking.ConfidenceThreshold < 0 || cfg.Blocking.ConfidenceThreshold > 1 {
		problems = append(problems, "blocking.confidence_threshold: must be in [0,1]")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}

type valueKind int

const (
	kindString valueKind = iota
	kindInt
	kindFloat
	kindBool
	kindStringSlice
)

// keyKinds drives ParseValue. Every settable key appears here.
var keyKinds = map[string]valueKind{
	"general.log_level":           kindString,
	"general.session_history_dir": kindString,
	"general.workflow_detection":  kindBool,

	"classifier.mode":             kindString,
	"classifier.url":              kindString,
	"classifier.script_path":      kindString,
	"classifier.python":           kindString,
	"classifier.model_size":       kindString,
	"classifier.timeout_seconds":  kindInt,
	"classifier.similarity_high":  kindFloat,
	"classifier.similarity_low":   kindFloat,
	"classifier.coverage_floor":   kindFloat,
	"classifier.confidence_floor": kindFloat,

	"arbiter.enabled":         kindBool,
	"arbiter.base_url":        kindString,
	"arbiter.model":           kindString,
	"arbiter.api_key":         kindString,
	"arbiter.timeout_seconds": kindInt,

	"gate.timeout_seconds":  kindInt,
	"gate.min_response_ms":  kindInt,
	"gate.bypass_detection": kindBool,

	"patterns.skip_add":     kindStringSlice,
	"patterns.skip_remove":  kindStringSlice,
	"patterns.dangerous":    kindStringSlice,
	"patterns.catastrophic": kindStringSlice,

	"audit.log_path":          kindString,
	"audit.review_queue_path": kindString,
	"audit.database_path":     kindString,
	"audit.training_path":     kindString,

	"blocking.enabled":              kindBool,
	"blocking.confidence_threshold": kindFloat,

	"hooks.settings_path": kindString,
}

// ParseValue converts a string to the typed value for a known key.
func ParseValue(key, raw string) (any, error) {
	kind, ok := keyKinds[key]
	if !ok {
		return nil, fmt.Errorf("unsupported config key %q", key)
	}
	return parseValueByKind(raw, kind)
}

func parseValueByKind(raw string, kind valueKind) (any, error) {
	switch kind {
	case kindString:
		return raw, nil
	case kindInt:
		return strconv.Atoi(raw)
	case kindFloat:
		return strconv.ParseFloat(raw, 64)
	case kindBool:
		return strconv.ParseBool(raw)
	case kindStringSlice:
		parts := strings.Split(raw, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value kind %d", kind)
	}
}

// GetValue reads a dotted key from a materialized Config. Sections resolve
// to their struct values.
func GetValue(cfg *Config, key string) (any, bool) {
	if key == "" {
		return nil, false
	}
	parts := strings.Split(key, ".")
	val := reflect.ValueOf(*cfg)
	typ := val.Type()

	for _, part := range parts {
		if val.Kind() != reflect.Struct {
			return nil, false
		}
		found := false
		for i := 0; i < typ.NumField(); i++ {
			if typ.Field(i).Tag.Get("mapstructure") == part {
				val = val.Field(i)
				typ = val.Type()
				found = true
				break
			}
		}
		if !found {
			return nil, false
		}
	}
	return val.Interface(), true
}

// WriteValue sets one dotted key in a TOML file, creating the file and its
// parents as needed and preserving everything else in it.
func WriteValue(path, key string, value any) error {
	if path == "" {
		return errors.New("config path is required")
	}
	if _, ok := keyKinds[key]; !ok {
		return fmt.Errorf("unsupported config key %q", key)
	}

	tree := map[string]any{}
	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, &tree); err != nil {
			return fmt.Errorf("decode config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	parts := strings.Split(key, ".")
	node := tree
	for _, part := range parts[:len(parts)-1] {
		child, ok := node[part]
		if !ok {
			next := map[string]any{}
			node[part] = next
			node = next
			continue
		}
		table, ok := child.(map[string]any)
		if !ok {
			return fmt.Errorf("config key %s: %s is not a table", key, part)
		}
		node = table
	}
	node[parts[len(parts)-1]] = value

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(tree); err != nil {
		return fmt.Errorf("encode config %s: %w", path, err)
	}
	return nil
}

// ExpandHome resolves a leading ~ in configured paths.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return path
}
