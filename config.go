package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"swipeclock/indicator"
	"swipeclock/mqtt"
	"swipeclock/reader"
	"swipeclock/store"
)

// Config is the main configuration structure for swipeclock.
type Config struct {
	// MQTT connection settings
	MQTT mqtt.Config `yaml:"mqtt"`

	// Card reader configuration
	Reader reader.Config `yaml:"reader"`

	// Indicator configuration
	Indicator indicator.Config `yaml:"indicator"`

	// Attendance database
	Store store.Config `yaml:"store"`

	// General settings
	ClientID      string `yaml:"client_id"`
	Timezone      string `yaml:"timezone"`       // IANA zone calendar days are counted in
	FeedbackSecs  int    `yaml:"feedback_secs"`  // how long a swipe result stays on the indicator
	ControlSecret string `yaml:"control_secret"` // base64 HMAC key for remote card management
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client_id missing in config file")
	}
	if cfg.FeedbackSecs <= 0 {
		cfg.FeedbackSecs = 3
	}
	if _, err := cfg.Location(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Location returns the configured time zone. An empty timezone or "Local"
// means the host's zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
