// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config defines the SDK configuration surface.
//
// A Config is created once by the host application and handed to the
// SDK entry point. All fields have production defaults; only AccountID
// and ApplicationID are required.
//
// Thread Safety:
//
//	Config is read-only after construction. Do not mutate a Config
//	that has been passed to the SDK.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/appcues/appcues-sdk-go/pkg/logging"
)

const (
	// DefaultAPIHost is the production activity/qualify endpoint host.
	DefaultAPIHost = "https://api.appcues.net"

	// DefaultSettingsHost is the production content/settings host.
	DefaultSettingsHost = "https://fast.appcues.com"

	// DefaultSessionTimeout is how long a session survives without
	// activity before a new session_started is required.
	DefaultSessionTimeout = 1800 * time.Second

	// DefaultActivityStorageMaxSize caps the activity retry backlog.
	DefaultActivityStorageMaxSize = 25

	// MaxActivityStorageSize is the hard upper bound on the retry cap.
	MaxActivityStorageSize = 25

	// MaxConfigFileSize is the maximum allowed YAML config file size.
	// Prevents memory issues from pathological files.
	MaxConfigFileSize = 1024 * 1024
)

// Config holds all SDK configuration.
//
// The zero value is not usable; construct with New and apply options,
// or load from YAML with LoadFile for tooling.
type Config struct {
	// AccountID is the Appcues account the SDK reports to. Required.
	AccountID string `validate:"required"`

	// ApplicationID identifies the host application within the account.
	// Required.
	ApplicationID string `validate:"required"`

	// APIHost is the base URL for activity and qualify endpoints.
	// Default: DefaultAPIHost.
	APIHost string `validate:"omitempty,url"`

	// SettingsHost is the base URL for content/settings endpoints.
	// Default: DefaultSettingsHost.
	SettingsHost string `validate:"omitempty,url"`

	// SocketURL, when set, routes activity over the persistent socket
	// channel instead of HTTP. Empty disables the socket transport.
	SocketURL string `validate:"omitempty,url"`

	// SessionTimeout is the inactivity window after which a session
	// expires. Default: DefaultSessionTimeout.
	SessionTimeout time.Duration `validate:"gte=0"`

	// ActivityStorageMaxSize caps how many failed activities are kept
	// for retry. Older items beyond the cap are dropped from storage.
	// Range 0-25. Default: DefaultActivityStorageMaxSize.
	ActivityStorageMaxSize int `validate:"gte=0,lte=25"`

	// ActivityStorageMaxAge, when non-zero, drops retry candidates
	// older than this age. Zero means no age cutoff.
	ActivityStorageMaxAge time.Duration `validate:"gte=0"`

	// EnableStepRecoveryObserver arms the scroll-settle retry path for
	// recoverable step presentation errors on the modal context.
	EnableStepRecoveryObserver bool

	// EnableStepTransitionAnalytics attaches an observer to the modal
	// context that emits an internal appcues:step_transition event for
	// each step lifecycle phase, a diagnostic stream for hosts tuning
	// step timing.
	EnableStepTransitionAnalytics bool

	// StorageDir is the directory for the durable activity store.
	// Empty selects "~/.appcues/<application_id>".
	StorageDir string

	// InMemoryStorage keeps the activity store in memory only.
	// Activity does not survive process termination; intended for
	// tests and previews.
	InMemoryStorage bool

	// DebuggerAddr, when set, serves the local debugger event stream
	// on this address (e.g. "127.0.0.1:9907"). Empty disables it.
	DebuggerAddr string

	// Logger is the SDK logger. Nil selects logging.Default().
	Logger *logging.Logger
}

// Option mutates a Config during construction.
type Option func(*Config)

// WithAPIHost overrides the activity/qualify endpoint host.
func WithAPIHost(host string) Option {
	return func(c *Config) { c.APIHost = host }
}

// WithSettingsHost overrides the content/preview endpoint host.
func WithSettingsHost(host string) Option {
	return func(c *Config) { c.SettingsHost = host }
}

// WithSocketURL enables the socket transport.
func WithSocketURL(url string) Option {
	return func(c *Config) { c.SocketURL = url }
}

// WithSessionTimeout overrides the session inactivity window.
func WithSessionTimeout(d time.Duration) Option {
	return func(c *Config) { c.SessionTimeout = d }
}

// WithActivityStorageMaxSize overrides the retry backlog cap.
func WithActivityStorageMaxSize(n int) Option {
	return func(c *Config) { c.ActivityStorageMaxSize = n }
}

// WithActivityStorageMaxAge sets the retry age cutoff.
func WithActivityStorageMaxAge(d time.Duration) Option {
	return func(c *Config) { c.ActivityStorageMaxAge = d }
}

// WithStepRecovery toggles the scroll-settle retry observer.
func WithStepRecovery(enabled bool) Option {
	return func(c *Config) { c.EnableStepRecoveryObserver = enabled }
}

// WithStepTransitionAnalytics toggles the step transition event
// stream on the modal context.
func WithStepTransitionAnalytics(enabled bool) Option {
	return func(c *Config) { c.EnableStepTransitionAnalytics = enabled }
}

// WithLogger supplies the SDK logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// WithInMemoryStorage keeps activity storage in memory only.
func WithInMemoryStorage() Option {
	return func(c *Config) { c.InMemoryStorage = true }
}

// New builds a Config for the given account and application with
// defaults applied, then runs the options in order.
func New(accountID, applicationID string, opts ...Option) *Config {
	c := &Config{
		AccountID:                  accountID,
		ApplicationID:              applicationID,
		APIHost:                    DefaultAPIHost,
		SettingsHost:               DefaultSettingsHost,
		SessionTimeout:             DefaultSessionTimeout,
		ActivityStorageMaxSize:     DefaultActivityStorageMaxSize,
		EnableStepRecoveryObserver: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Validate checks the configuration for structural problems.
//
// Outputs:
//
//	error - Non-nil when a field is missing or out of range.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoggerOrDefault returns the configured logger, or logging.Default()
// when none was supplied.
func (c *Config) LoggerOrDefault() *logging.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logging.Default()
}

// fileConfig is the YAML shape of a config file. Durations are plain
// integer seconds; yaml.v3 has no native time.Duration decoding.
type fileConfig struct {
	AccountID                     string `yaml:"account_id"`
	ApplicationID                 string `yaml:"application_id"`
	APIHost                       string `yaml:"api_host"`
	SettingsHost                  string `yaml:"settings_host"`
	SocketURL                     string `yaml:"socket_url"`
	SessionTimeoutSeconds         int    `yaml:"session_timeout_seconds"`
	ActivityStorageMaxSize        int    `yaml:"activity_storage_max_size"`
	ActivityStorageMaxAgeSeconds  int    `yaml:"activity_storage_max_age_seconds"`
	EnableStepRecoveryObserver    *bool  `yaml:"enable_step_recovery_observer"`
	EnableStepTransitionAnalytics bool   `yaml:"enable_step_transition_analytics"`
	StorageDir                    string `yaml:"storage_dir"`
	InMemoryStorage               bool   `yaml:"in_memory_storage"`
	DebuggerAddr                  string `yaml:"debugger_addr"`
}

// LoadFile reads a YAML config file, applies defaults for unset
// fields, and validates the result. Used by tooling; host apps
// normally construct Config in code.
func LoadFile(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > MaxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, MaxConfigFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	c := New(fc.AccountID, fc.ApplicationID)
	if fc.APIHost != "" {
		c.APIHost = fc.APIHost
	}
	if fc.SettingsHost != "" {
		c.SettingsHost = fc.SettingsHost
	}
	c.SocketURL = fc.SocketURL
	if fc.SessionTimeoutSeconds > 0 {
		c.SessionTimeout = time.Duration(fc.SessionTimeoutSeconds) * time.Second
	}
	if fc.ActivityStorageMaxSize > 0 {
		c.ActivityStorageMaxSize = fc.ActivityStorageMaxSize
	}
	if fc.ActivityStorageMaxAgeSeconds > 0 {
		c.ActivityStorageMaxAge = time.Duration(fc.ActivityStorageMaxAgeSeconds) * time.Second
	}
	if fc.EnableStepRecoveryObserver != nil {
		c.EnableStepRecoveryObserver = *fc.EnableStepRecoveryObserver
	}
	c.EnableStepTransitionAnalytics = fc.EnableStepTransitionAnalytics
	c.StorageDir = fc.StorageDir
	c.InMemoryStorage = fc.InMemoryStorage
	c.DebuggerAddr = fc.DebuggerAddr

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
