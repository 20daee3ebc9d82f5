// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package activity defines the wire and storage unit for analytics
// delivery.
//
// An Activity aggregates one or more events plus optional profile and
// group updates for a single user, account, and session. Activities
// are persisted before transmission and removed once delivered (or
// defeated as non-retriable), giving the pipeline at-least-once
// semantics keyed by RequestID.
package activity

import (
	"time"

	"github.com/google/uuid"
)

// Event is a single analytics event inside an Activity.
type Event struct {
	// Name is the event name, e.g. "appcues:v2:step_seen" for
	// internal events or a host-chosen name for custom events.
	Name string `json:"name"`

	// Timestamp is when the event was recorded.
	Timestamp time.Time `json:"timestamp"`

	// Attributes carries event properties.
	Attributes map[string]any `json:"attributes,omitempty"`

	// Context carries ambient device/app context captured with the event.
	Context map[string]any `json:"context,omitempty"`
}

// Activity is the unit of analytics transmission and storage.
//
// Invariant: merging only ever appends events. Profile and group
// updates are never merged across activities; the dispatch policy
// upstream forces a flush boundary around identity changes so that
// activity is never attributed to the wrong user or group.
type Activity struct {
	// RequestID is generated once at creation and used for
	// idempotency, in-flight tracking, and storage keying.
	RequestID uuid.UUID `json:"requestId"`

	// Events in chronological order.
	Events []Event `json:"events,omitempty"`

	// ProfileUpdate carries user property changes, when present.
	ProfileUpdate map[string]any `json:"profileUpdate,omitempty"`

	// GroupUpdate carries group property changes, when present.
	GroupUpdate map[string]any `json:"groupUpdate,omitempty"`

	// UserID identifies the end user this activity belongs to.
	UserID string `json:"userId"`

	// AccountID is the Appcues account.
	AccountID string `json:"accountId"`

	// GroupID is the user's group, when one is set. A nil GroupID
	// means "no group"; an empty string clears the group server-side.
	GroupID *string `json:"groupId,omitempty"`

	// SessionID ties the activity to an SDK session.
	SessionID string `json:"sessionId,omitempty"`

	// UserSignature authorizes the request for identity-verified
	// accounts. Sent as a bearer token, never in the body.
	UserSignature string `json:"-"`

	// Created is when this activity was constructed. Drives retry
	// ordering and age cutoff; not part of the wire body.
	Created time.Time `json:"-"`
}

// New constructs an empty Activity for the given identity with a
// fresh RequestID.
func New(accountID, userID, sessionID, userSignature string) *Activity {
	return &Activity{
		RequestID:     uuid.New(),
		AccountID:     accountID,
		UserID:        userID,
		SessionID:     sessionID,
		UserSignature: userSignature,
		Created:       time.Now(),
	}
}

// Append absorbs another activity's events into this one.
//
// Only events move; profile and group updates stay with their
// original activity by design (see the type invariant). The receiver
// keeps its own identity fields and RequestID.
func (a *Activity) Append(other *Activity) {
	if other == nil {
		return
	}
	a.Events = append(a.Events, other.Events...)
}

// Merge collapses a chronologically ordered batch into a single
// Activity. The first element absorbs all later elements' events and
// is returned; a single-element batch returns that element unchanged.
// Returns nil for an empty batch.
func Merge(batch []*Activity) *Activity {
	if len(batch) == 0 {
		return nil
	}
	first := batch[0]
	for _, other := range batch[1:] {
		first.Append(other)
	}
	return first
}
