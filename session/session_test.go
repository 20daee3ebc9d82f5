// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appcues/appcues-sdk-go/datastore"
)

func TestMonitor_StartRequiresIdentifiedUser(t *testing.T) {
	store := datastore.New()
	m := NewMonitor(store, 30*time.Minute)

	assert.False(t, m.Start())
	assert.Empty(t, m.SessionID())

	store.SetUser("user-1", "")
	require.True(t, m.Start())
	assert.NotEmpty(t, m.SessionID())
}

func TestMonitor_StartReplacesSession(t *testing.T) {
	store := datastore.New()
	store.SetUser("user-1", "")
	m := NewMonitor(store, 30*time.Minute)

	require.True(t, m.Start())
	first := m.SessionID()
	require.True(t, m.Start())
	assert.NotEqual(t, first, m.SessionID())
}

func TestMonitor_Expiry(t *testing.T) {
	store := datastore.New()
	store.SetUser("user-1", "")
	m := NewMonitor(store, 30*time.Minute)

	now := time.Now()
	m.now = func() time.Time { return now }

	assert.True(t, m.IsExpired(), "no session counts as expired")
	require.True(t, m.Start())
	assert.False(t, m.IsExpired())

	now = now.Add(31 * time.Minute)
	assert.True(t, m.IsExpired())

	// Activity within the window keeps the session alive.
	require.True(t, m.Start())
	now = now.Add(20 * time.Minute)
	m.UpdateLastActivity()
	now = now.Add(20 * time.Minute)
	assert.False(t, m.IsExpired())
}

func TestMonitor_UpdateLastActivityWithoutSession(t *testing.T) {
	m := NewMonitor(datastore.New(), 30*time.Minute)
	m.UpdateLastActivity()
	assert.Empty(t, m.SessionID())
}

type recordingFlusher struct{ calls int }

func (f *recordingFlusher) Flush() { f.calls++ }

func TestMonitor_ResetFlushesThenClears(t *testing.T) {
	store := datastore.New()
	store.SetUser("user-1", "")
	m := NewMonitor(store, 30*time.Minute)

	f := &recordingFlusher{}
	m.SetFlusher(f)

	require.True(t, m.Start())
	m.Reset()

	assert.Equal(t, 1, f.calls)
	assert.Empty(t, m.SessionID())
	assert.True(t, m.IsExpired())
}
