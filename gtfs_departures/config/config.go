// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

// Package config loads the YAML configuration of the departures server.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DefaultListen          = ":8080"
	DefaultDirectory       = "data"
	DefaultPollInterval    = 30 * time.Second
	DefaultDownloadTimeout = 120 * time.Second
	DefaultFeedTimeout     = 10 * time.Second
	DefaultDepartures      = 10
)

var sourceNameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

type Config struct {
	Server  Server   `yaml:"server"`
	Storage Storage  `yaml:"storage"`
	Sources []Source `yaml:"sources" validate:"required,min=1,unique=Name,dive"`
}

type Server struct {
	Listen string `yaml:"listen" validate:"required,hostname_port"`
}

type Storage struct {
	Directory string `yaml:"directory" validate:"required"`
}

// Source is a single GTFS data source with its own database.
type Source struct {
	Name        string `yaml:"name" validate:"required,source_name"`
	StaticURL   string `yaml:"static_url" validate:"required"`
	RealtimeURL string `yaml:"realtime_url" validate:"omitempty,url"`

	// APIKeyEnv names the environment variable (or $NAME_FILE) with the key
	// sent in APIKeyHeader to both the static and realtime URLs.
	APIKeyEnv    string `yaml:"api_key_env"`
	APIKeyHeader string `yaml:"api_key_header"`

	Stops []string `yaml:"stops" validate:"dive,required"`

	PollInterval       time.Duration `yaml:"poll_interval" validate:"gte=0"`
	DownloadTimeout    time.Duration `yaml:"download_timeout" validate:"gte=0"`
	FeedTimeout        time.Duration `yaml:"feed_timeout" validate:"gte=0"`
	MinRequestInterval time.Duration `yaml:"min_request_interval" validate:"gte=0"`
	// BackoffBase is the wait after the first failed poll, defaults to PollInterval.
	BackoffBase        time.Duration `yaml:"backoff_base" validate:"gte=0"`
	Departures         int           `yaml:"departures" validate:"gte=0"`
}

// DatabasePath returns where the source's SQLite database lives.
func (s *Source) DatabasePath(directory string) string {
	return filepath.Join(directory, "gtfs_"+s.Name+".db")
}

func (c *Config) Source(name string) (*Source, bool) {
	for i := range c.Sources {
		if c.Sources[i].Name == name {
			return &c.Sources[i], true
		}
	}
	return nil, false
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Storage.Directory == "" {
		c.Storage.Directory = DefaultDirectory
	}
	for i := range c.Sources {
		s := &c.Sources[i]
		if s.PollInterval == 0 {
			s.PollInterval = DefaultPollInterval
		}
		if s.DownloadTimeout == 0 {
			s.DownloadTimeout = DefaultDownloadTimeout
		}
		if s.FeedTimeout == 0 {
			s.FeedTimeout = DefaultFeedTimeout
		}
		if s.Departures == 0 {
			s.Departures = DefaultDepartures
		}
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterValidation("source_name", func(fl validator.FieldLevel) bool {
		return sourceNameRegex.MatchString(fl.Field().String())
	})
	return v
}

// Parse decodes, fills defaults and validates a YAML configuration.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var c Config
	d := yaml.NewDecoder(bytes.NewReader(data))
	d.KnownFields(true)
	if err := d.Decode(&c); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	c.applyDefaults()
	if err := newValidator().Struct(&c); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &c, nil
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}
