// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package analytics implements the tracking pipeline: updates are
// decorated and published to subscribers, batched and merged by the
// tracker, and handed to an activity processor for delivery.
package analytics

import (
	"time"
)

// UpdateKind discriminates tracking update variants.
type UpdateKind string

const (
	// KindEvent is a named analytics event.
	KindEvent UpdateKind = "event"

	// KindScreen is a screen view.
	KindScreen UpdateKind = "screen"

	// KindProfile is a user property update (identify).
	KindProfile UpdateKind = "profile"

	// KindGroup is a group membership/property update.
	KindGroup UpdateKind = "group"
)

// UpdateType is the tagged variant of a tracking update. Only the
// fields for the active Kind are meaningful.
type UpdateType struct {
	Kind UpdateKind

	// EventName is set for KindEvent.
	EventName string

	// ScreenTitle is set for KindScreen.
	ScreenTitle string

	// Interactive marks user-initiated events/profile updates, which
	// flush eagerly; background updates batch instead.
	Interactive bool

	// GroupID is set for KindGroup; nil clears the group.
	GroupID *string
}

// PolicyKind discriminates dispatch policies.
type PolicyKind string

const (
	// PolicyQueue buffers the update for a delayed batch flush.
	PolicyQueue PolicyKind = "queue"

	// PolicyQueueThenFlush buffers the update and flushes the whole
	// batch immediately.
	PolicyQueueThenFlush PolicyKind = "queueThenFlush"

	// PolicyFlushThenSend flushes any existing batch first, then
	// sends this update alone. Identity updates use this so activity
	// never crosses an identity boundary.
	PolicyFlushThenSend PolicyKind = "flushThenSend"
)

// Policy is the dispatch decision derived from an update's type.
type Policy struct {
	Kind PolicyKind

	// WaitForBatch asks the caller to hold briefly before invoking
	// the flush-then-send path, giving a companion group() call the
	// chance to ride the same boundary.
	WaitForBatch bool
}

// TrackingUpdate is one desired analytics emission. Immutable after
// construction except for Properties and Context, which decorators
// mutate before the update reaches subscribers.
type TrackingUpdate struct {
	Type       UpdateType
	Properties map[string]any
	Context    map[string]any
	Timestamp  time.Time

	// IsInternal marks SDK-generated events (appcues:* lifecycle)
	// as opposed to host-app calls.
	IsInternal bool
}

// NewEvent builds an event update.
func NewEvent(name string, interactive bool, properties map[string]any) TrackingUpdate {
	return TrackingUpdate{
		Type:       UpdateType{Kind: KindEvent, EventName: name, Interactive: interactive},
		Properties: properties,
		Timestamp:  time.Now(),
	}
}

// NewInternalEvent builds an SDK-generated event update.
func NewInternalEvent(name string, interactive bool, properties map[string]any) TrackingUpdate {
	u := NewEvent(name, interactive, properties)
	u.IsInternal = true
	return u
}

// NewScreen builds a screen-view update.
func NewScreen(title string, properties map[string]any) TrackingUpdate {
	return TrackingUpdate{
		Type:       UpdateType{Kind: KindScreen, ScreenTitle: title},
		Properties: properties,
		Timestamp:  time.Now(),
	}
}

// NewProfile builds a user property update.
func NewProfile(interactive bool, properties map[string]any) TrackingUpdate {
	return TrackingUpdate{
		Type:       UpdateType{Kind: KindProfile, Interactive: interactive},
		Properties: properties,
		Timestamp:  time.Now(),
	}
}

// NewGroup builds a group update. A nil groupID clears the group.
func NewGroup(groupID *string, properties map[string]any) TrackingUpdate {
	return TrackingUpdate{
		Type:       UpdateType{Kind: KindGroup, GroupID: groupID},
		Properties: properties,
		Timestamp:  time.Now(),
	}
}

// Policy derives the dispatch policy purely from the update type.
//
// Interactive events and screen views flush the batch they join;
// passive events and profile refreshes batch quietly. Interactive
// profile updates hold briefly for a companion group call, group
// updates send straight through; both force a flush boundary first
// so events never attribute across an identity change.
func (u TrackingUpdate) Policy() Policy {
	switch u.Type.Kind {
	case KindEvent:
		if u.Type.Interactive {
			return Policy{Kind: PolicyQueueThenFlush}
		}
		return Policy{Kind: PolicyQueue}
	case KindScreen:
		return Policy{Kind: PolicyQueueThenFlush}
	case KindProfile:
		if u.Type.Interactive {
			return Policy{Kind: PolicyFlushThenSend, WaitForBatch: true}
		}
		return Policy{Kind: PolicyQueue}
	case KindGroup:
		return Policy{Kind: PolicyFlushThenSend}
	default:
		return Policy{Kind: PolicyQueue}
	}
}

// EventName returns the wire event name for event and screen
// updates. Screen views travel as the internal screen_view event
// with the title as a property.
func (u TrackingUpdate) EventName() string {
	switch u.Type.Kind {
	case KindEvent:
		return u.Type.EventName
	case KindScreen:
		return ScreenViewEvent
	default:
		return ""
	}
}

// Internal SDK event names.
const (
	// SessionStartedEvent opens every session.
	SessionStartedEvent = "appcues:session_started"

	// ScreenViewEvent carries screen updates on the wire.
	ScreenViewEvent = "appcues:screen_view"

	// ScreenTitleProperty holds the screen title on a screen_view.
	ScreenTitleProperty = "screenTitle"
)
