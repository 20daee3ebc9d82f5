// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	c := New("acct-1", "app-1")

	assert.Equal(t, DefaultAPIHost, c.APIHost)
	assert.Equal(t, DefaultSessionTimeout, c.SessionTimeout)
	assert.Equal(t, DefaultActivityStorageMaxSize, c.ActivityStorageMaxSize)
	assert.True(t, c.EnableStepRecoveryObserver)
	require.NoError(t, c.Validate())
}

func TestNew_Options(t *testing.T) {
	c := New("acct-1", "app-1",
		WithAPIHost("https://api.example.com"),
		WithSettingsHost("https://content.example.com"),
		WithSessionTimeout(10*time.Second),
		WithActivityStorageMaxSize(5),
		WithActivityStorageMaxAge(time.Minute),
		WithStepRecovery(false),
		WithStepTransitionAnalytics(true),
		WithInMemoryStorage(),
	)

	assert.Equal(t, "https://api.example.com", c.APIHost)
	assert.Equal(t, "https://content.example.com", c.SettingsHost)
	assert.Equal(t, 10*time.Second, c.SessionTimeout)
	assert.Equal(t, 5, c.ActivityStorageMaxSize)
	assert.Equal(t, time.Minute, c.ActivityStorageMaxAge)
	assert.False(t, c.EnableStepRecoveryObserver)
	assert.True(t, c.EnableStepTransitionAnalytics)
	assert.True(t, c.InMemoryStorage)
	require.NoError(t, c.Validate())
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing account", func(c *Config) { c.AccountID = "" }},
		{"missing application", func(c *Config) { c.ApplicationID = "" }},
		{"storage cap too large", func(c *Config) { c.ActivityStorageMaxSize = 26 }},
		{"negative storage cap", func(c *Config) { c.ActivityStorageMaxSize = -1 }},
		{"bad api host", func(c *Config) { c.APIHost = "not a url" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New("acct-1", "app-1")
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "appcues.yaml")
	content := []byte(`
account_id: "12345"
application_id: "abcde"
session_timeout_seconds: 60
activity_storage_max_size: 10
`)
	require.NoError(t, os.WriteFile(path, content, 0600))

	c, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "12345", c.AccountID)
	assert.Equal(t, "abcde", c.ApplicationID)
	assert.Equal(t, 60*time.Second, c.SessionTimeout)
	assert.Equal(t, 10, c.ActivityStorageMaxSize)
	// Unset fields pick up defaults
	assert.Equal(t, DefaultAPIHost, c.APIHost)
}

func TestLoadFile_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "appcues.yaml")
	require.NoError(t, os.WriteFile(path, []byte("account_id: \"12345\"\n"), 0600))

	_, err := LoadFile(path)
	assert.Error(t, err, "missing application_id must fail validation")
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
