package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "draftforge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Model.URL, "DRAFTFORGE_MODEL_URL")
	setString(&cfg.Model.APIKey, "DRAFTFORGE_MODEL_API_KEY")
	setString(&cfg.Model.Name, "DRAFTFORGE_MODEL_NAME")
	setInt(&cfg.Model.MaxTokens, "DRAFTFORGE_MODEL_MAX_TOKENS")
	setFloat64(&cfg.Model.Temperature, "DRAFTFORGE_MODEL_TEMPERATURE")
	setDuration(&cfg.Model.Timeout, "DRAFTFORGE_MODEL_TIMEOUT")
	setInt(&cfg.Model.MaxRetries, "DRAFTFORGE_MODEL_MAX_RETRIES")
	setDuration(&cfg.Model.RetryDelay, "DRAFTFORGE_MODEL_RETRY_DELAY")

	setDuration(&cfg.Registry.DefaultTimeout, "DRAFTFORGE_TOOL_TIMEOUT")
	setInt(&cfg.Registry.DefaultRetries, "DRAFTFORGE_TOOL_RETRIES")
	setDuration(&cfg.Registry.MaxBackoff, "DRAFTFORGE_TOOL_MAX_BACKOFF")

	setInt(&cfg.Planner.HistoryTurns, "DRAFTFORGE_PLANNER_HISTORY_TURNS")
	setFloat64(&cfg.Planner.ClarifyThreshold, "DRAFTFORGE_PLANNER_CLARIFY_THRESHOLD")
	setFloat64(&cfg.Planner.ReplanThreshold, "DRAFTFORGE_PLANNER_REPLAN_THRESHOLD")
	setInt(&cfg.Planner.MaxParallelTools, "DRAFTFORGE_PLANNER_MAX_PARALLEL_TOOLS")

	setDuration(&cfg.Clarifier.BaseTimeout, "DRAFTFORGE_CLARIFIER_BASE_TIMEOUT")
	setInt(&cfg.Clarifier.ManyQuestions, "DRAFTFORGE_CLARIFIER_MANY_QUESTIONS")
	setFloat64(&cfg.Clarifier.TimeoutBoost, "DRAFTFORGE_CLARIFIER_TIMEOUT_BOOST")

	setFloat64(&cfg.Drafter.CompletenessFloor, "DRAFTFORGE_DRAFTER_COMPLETENESS_FLOOR")
	setInt(&cfg.Engine.MaxCycles, "DRAFTFORGE_ENGINE_MAX_CYCLES")
	setInt64(&cfg.Cache.MaxSizeMB, "DRAFTFORGE_CACHE_SIZE_MB")
	setString(&cfg.NATS.URL, "NATS_URL")

	setString(&cfg.MCP.Transport, "DRAFTFORGE_MCP_TRANSPORT")
	setString(&cfg.MCP.Command, "DRAFTFORGE_MCP_COMMAND")
	setString(&cfg.MCP.URL, "DRAFTFORGE_MCP_URL")

	setString(&cfg.Logging.Level, "DRAFTFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "DRAFTFORGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "DRAFTFORGE_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "DRAFTFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "DRAFTFORGE_BREAKER_TIMEOUT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Model.URL == "" {
		return errors.New("model.url is required")
	}
	if cfg.Model.Name == "" {
		return errors.New("model.name is required")
	}
	if cfg.Registry.DefaultTimeout <= 0 {
		return errors.New("registry.default_timeout must be > 0")
	}
	if cfg.Registry.DefaultRetries < 0 {
		return errors.New("registry.default_retries must be >= 0")
	}
	if cfg.Planner.ClarifyThreshold < 0 || cfg.Planner.ClarifyThreshold > 1 {
		return errors.New("planner.clarify_threshold must be in [0,1]")
	}
	if cfg.Planner.ReplanThreshold < 0 || cfg.Planner.ReplanThreshold > 1 {
		return errors.New("planner.replan_threshold must be in [0,1]")
	}
	if cfg.Engine.MaxCycles < 1 {
		return errors.New("engine.max_cycles must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
