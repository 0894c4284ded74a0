package scanner

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines scanner timing.
type Config struct {
	OnSceneInterval  time.Duration `yaml:"-"`
	RepeatedInterval time.Duration `yaml:"-"`
	PassTimeout      time.Duration `yaml:"-"`

	OnSceneIntervalSeconds  int      `yaml:"on_scene_interval_seconds"`
	RepeatedIntervalSeconds int      `yaml:"repeated_interval_seconds"`
	PassTimeoutSeconds      int      `yaml:"pass_timeout_seconds"`
	ShiftBoundaries         []string `yaml:"shift_boundaries"`
	TransportLookbackHours  int      `yaml:"transport_lookback_hours"`
}

// LoadConfig loads scanner config from yaml or env.
func LoadConfig() (Config, error) {
	cfg := Config{
		OnSceneIntervalSeconds:  getenvIntDefault("SCANNER_ON_SCENE_INTERVAL_SECONDS", 60),
		RepeatedIntervalSeconds: getenvIntDefault("SCANNER_REPEATED_INTERVAL_SECONDS", 300),
		PassTimeoutSeconds:      getenvIntDefault("SCANNER_PASS_TIMEOUT_SECONDS", 30),
		TransportLookbackHours:  getenvIntDefault("SCANNER_TRANSPORT_LOOKBACK_HOURS", 12),
	}

	if path := os.Getenv("SCANNER_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if len(cfg.ShiftBoundaries) == 0 {
		cfg.ShiftBoundaries = splitCSV(getenvDefault("SCANNER_SHIFT_BOUNDARIES", "07:00,19:00"))
	}
	if cfg.OnSceneIntervalSeconds <= 0 {
		cfg.OnSceneIntervalSeconds = 60
	}
	if cfg.RepeatedIntervalSeconds <= 0 {
		cfg.RepeatedIntervalSeconds = 300
	}
	if cfg.PassTimeoutSeconds <= 0 {
		cfg.PassTimeoutSeconds = 30
	}
	if cfg.TransportLookbackHours <= 0 {
		cfg.TransportLookbackHours = 12
	}

	cfg.OnSceneInterval = time.Duration(cfg.OnSceneIntervalSeconds) * time.Second
	cfg.RepeatedInterval = time.Duration(cfg.RepeatedIntervalSeconds) * time.Second
	cfg.PassTimeout = time.Duration(cfg.PassTimeoutSeconds) * time.Second
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	var result []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
