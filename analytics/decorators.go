// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analytics

import (
	"runtime"
	"sync"
	"time"

	"github.com/appcues/appcues-sdk-go/datastore"
)

// SDK identification reported with every update.
const (
	SDKName    = "appcues-go"
	SDKVersion = "1.0.0"
)

// AutoPropertyDecorator injects the standard auto-properties: SDK and
// platform metadata, identity state, update timing, and the most
// recent screen title for event correlation. Profile updates receive
// the properties inline (they become the user profile); events carry
// them under the _identity group.
type AutoPropertyDecorator struct {
	store datastore.DataStoring

	mu             sync.Mutex
	lastScreenName string
	sessionStart   time.Time
}

// NewAutoPropertyDecorator builds the decorator over the identity
// store.
func NewAutoPropertyDecorator(store datastore.DataStoring) *AutoPropertyDecorator {
	return &AutoPropertyDecorator{store: store, sessionStart: time.Now()}
}

// Decorate implements Decorator.
func (d *AutoPropertyDecorator) Decorate(u *TrackingUpdate) {
	d.mu.Lock()
	if u.Type.Kind == KindScreen {
		d.lastScreenName = u.Type.ScreenTitle
	}
	lastScreen := d.lastScreenName
	d.mu.Unlock()

	auto := map[string]any{
		"_sdkName":      SDKName,
		"_sdkVersion":   SDKVersion,
		"_os":           runtime.GOOS,
		"_isAnonymous":  d.store.IsAnonymous(),
		"_updatedAt":    u.Timestamp,
		"_sessionStart": d.sessionStart,
	}
	if lastScreen != "" {
		auto["_lastScreenTitle"] = lastScreen
	}

	switch u.Type.Kind {
	case KindProfile:
		if u.Properties == nil {
			u.Properties = make(map[string]any)
		}
		for k, v := range auto {
			if _, exists := u.Properties[k]; !exists {
				u.Properties[k] = v
			}
		}
	default:
		if u.Properties == nil {
			u.Properties = make(map[string]any)
		}
		if _, exists := u.Properties["_identity"]; !exists {
			u.Properties["_identity"] = auto
		}
	}

	if u.Type.Kind == KindScreen && u.Type.ScreenTitle != "" {
		if _, exists := u.Properties[ScreenTitleProperty]; !exists {
			u.Properties[ScreenTitleProperty] = u.Type.ScreenTitle
		}
	}
}

// ContextDecorator stamps application identity into every update's
// context map.
type ContextDecorator struct {
	applicationID string
}

// NewContextDecorator builds the decorator for one application id.
func NewContextDecorator(applicationID string) *ContextDecorator {
	return &ContextDecorator{applicationID: applicationID}
}

// Decorate implements Decorator.
func (d *ContextDecorator) Decorate(u *TrackingUpdate) {
	if u.Context == nil {
		u.Context = make(map[string]any)
	}
	if _, exists := u.Context["app_id"]; !exists {
		u.Context["app_id"] = d.applicationID
	}
	if _, exists := u.Context["sdk_name"]; !exists {
		u.Context["sdk_name"] = SDKName
	}
}
