// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package session tracks the SDK session: a uuid minted when an
// identified user becomes active, expiring after a configured idle
// timeout.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/appcues/appcues-sdk-go/datastore"
)

// Flusher force-delivers buffered analytics. The tracker implements
// it; Reset drains the buffer before the session id goes away so the
// pending events still attribute to this session.
type Flusher interface {
	Flush()
}

// Monitor owns the session lifecycle.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Monitor struct {
	store   datastore.DataStoring
	timeout time.Duration
	now     func() time.Time

	mu           sync.Mutex
	sessionID    string
	lastActivity time.Time
	flusher      Flusher
}

// NewMonitor builds a Monitor over the identity store with the given
// idle timeout.
func NewMonitor(store datastore.DataStoring, timeout time.Duration) *Monitor {
	return &Monitor{
		store:   store,
		timeout: timeout,
		now:     time.Now,
	}
}

// SetFlusher wires the tracker's forced flush into Reset. Set once
// during SDK assembly; the indirection breaks the construction cycle
// between session and analytics.
func (m *Monitor) SetFlusher(f Flusher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flusher = f
}

// Start begins a new session, returning false when no user is
// identified. An existing session is replaced.
func (m *Monitor) Start() bool {
	if m.store.UserID() == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionID = uuid.NewString()
	m.lastActivity = m.now()
	return true
}

// SessionID returns the current session id, empty when none exists.
func (m *Monitor) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// IsExpired reports whether the session has idled past the timeout.
// A missing session counts as expired.
func (m *Monitor) IsExpired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessionID == "" {
		return true
	}
	return m.now().Sub(m.lastActivity) > m.timeout
}

// UpdateLastActivity pushes the idle deadline out. No-op without a
// session.
func (m *Monitor) UpdateLastActivity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessionID == "" {
		return
	}
	m.lastActivity = m.now()
}

// Reset force-flushes buffered analytics, then clears the session.
// Called on user sign-out and app-background.
func (m *Monitor) Reset() {
	m.mu.Lock()
	f := m.flusher
	m.mu.Unlock()
	if f != nil {
		f.Flush()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionID = ""
	m.lastActivity = time.Time{}
}
