// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datastore holds the SDK's identity state: the current user,
// their signature for identity-verified accounts, and the group.
package datastore

import (
	"sync"

	"github.com/google/uuid"
)

// anonymousPrefix marks generated user ids so the backend can tell
// them apart from host-assigned ones.
const anonymousPrefix = "anon:"

// DataStoring is the identity contract consumed by the analytics and
// content-loading layers.
type DataStoring interface {
	// UserID returns the current user id, empty when nobody has been
	// identified yet.
	UserID() string

	// UserSignature returns the bearer credential for the current
	// user, empty when identity verification is off.
	UserSignature() string

	// GroupID returns the current group, nil when none is set.
	GroupID() *string

	// IsAnonymous reports whether the current user id is generated.
	IsAnonymous() bool
}

// DataStore is the in-memory DataStoring implementation.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type DataStore struct {
	mu            sync.Mutex
	userID        string
	userSignature string
	groupID       *string
	anonymous     bool
}

// New returns an empty, unidentified DataStore.
func New() *DataStore {
	return &DataStore{}
}

// UserID implements DataStoring.
func (d *DataStore) UserID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.userID
}

// UserSignature implements DataStoring.
func (d *DataStore) UserSignature() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.userSignature
}

// GroupID implements DataStoring.
func (d *DataStore) GroupID() *string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.groupID
}

// IsAnonymous implements DataStoring.
func (d *DataStore) IsAnonymous() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.anonymous
}

// SetUser identifies the user, replacing any anonymous identity. An
// empty signature clears the previous one.
func (d *DataStore) SetUser(userID, userSignature string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.userID = userID
	d.userSignature = userSignature
	d.anonymous = false
}

// SetAnonymous identifies a generated anonymous user and returns the
// minted id. Repeated calls keep the existing anonymous identity.
func (d *DataStore) SetAnonymous() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.anonymous && d.userID != "" {
		return d.userID
	}
	d.userID = anonymousPrefix + uuid.NewString()
	d.userSignature = ""
	d.anonymous = true
	return d.userID
}

// SetGroup sets or clears the current group.
func (d *DataStore) SetGroup(groupID *string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.groupID = groupID
}

// Clear drops the identified user, signature, and group, returning
// the store to the unidentified state.
func (d *DataStore) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.userID = ""
	d.userSignature = ""
	d.groupID = nil
	d.anonymous = false
}
