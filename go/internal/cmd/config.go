package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the application configuration file. Connection settings
// (database, NATS, secrets) come from the environment; board geometry and
// behavior come from here.
type Config struct {
	Board struct {
		Width  int `yaml:"width"`
		Height int `yaml:"height"`
	} `yaml:"board"`
	CooldownSeconds int `yaml:"cooldown_seconds"`
	Relay           struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"relay"`
}

func defaultConfig() *Config {
	var config Config
	config.Board.Width = 200
	config.Board.Height = 100
	config.CooldownSeconds = 30
	return &config
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return defaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
