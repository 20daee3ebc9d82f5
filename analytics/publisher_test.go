// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analytics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appcues/appcues-sdk-go/datastore"
	"github.com/appcues/appcues-sdk-go/session"
)

type recordingSubscriber struct {
	mu       sync.Mutex
	updates  []TrackingUpdate
	released bool
}

func (s *recordingSubscriber) TrackUpdate(u TrackingUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
}

func (s *recordingSubscriber) Released() bool { return s.released }

func (s *recordingSubscriber) all() []TrackingUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TrackingUpdate, len(s.updates))
	copy(out, s.updates)
	return out
}

func newTestPublisher(t *testing.T, identified bool) (*Publisher, *datastore.DataStore) {
	t.Helper()
	store := datastore.New()
	if identified {
		store.SetUser("user-1", "")
	}
	sess := session.NewMonitor(store, 30*time.Minute)
	return NewPublisher(sess, nil), store
}

func TestPublish_SessionBootstrapOrder(t *testing.T) {
	p, _ := newTestPublisher(t, true)
	sub := &recordingSubscriber{}
	p.RegisterSubscriber(sub)

	u := NewEvent("custom_event", true, nil)
	p.Publish(&u)

	got := sub.all()
	require.Len(t, got, 2)
	assert.Equal(t, SessionStartedEvent, got[0].EventName())
	assert.True(t, got[0].IsInternal)
	assert.Equal(t, "custom_event", got[1].EventName())
}

func TestPublish_NoUserDropsUpdate(t *testing.T) {
	p, _ := newTestPublisher(t, false)
	sub := &recordingSubscriber{}
	p.RegisterSubscriber(sub)

	u := NewEvent("custom_event", true, nil)
	p.Publish(&u)

	assert.Empty(t, sub.all())
}

func TestPublish_ExistingSessionSkipsBootstrap(t *testing.T) {
	p, _ := newTestPublisher(t, true)
	sub := &recordingSubscriber{}
	p.RegisterSubscriber(sub)

	first := NewEvent("one", true, nil)
	second := NewEvent("two", true, nil)
	p.Publish(&first)
	p.Publish(&second)

	got := sub.all()
	require.Len(t, got, 3, "session_started emits exactly once")
	assert.Equal(t, SessionStartedEvent, got[0].EventName())
}

type renameDecorator struct{ name string }

func (d renameDecorator) Decorate(u *TrackingUpdate) {
	if u.Properties == nil {
		u.Properties = make(map[string]any)
	}
	u.Properties["via"] = append(asSlice(u.Properties["via"]), d.name)
}

func asSlice(v any) []string {
	if s, ok := v.([]string); ok {
		return s
	}
	return nil
}

func TestPublish_DecoratorsApplyInRegistrationOrder(t *testing.T) {
	p, _ := newTestPublisher(t, true)
	sub := &recordingSubscriber{}
	p.RegisterSubscriber(sub)
	p.RegisterDecorator(renameDecorator{name: "first"})
	p.RegisterDecorator(renameDecorator{name: "second"})

	u := NewEvent("custom_event", true, nil)
	p.Publish(&u)

	got := sub.all()
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, []string{"first", "second"}, last.Properties["via"])
}

type panickingSubscriber struct{}

func (panickingSubscriber) TrackUpdate(TrackingUpdate) { panic("bad subscriber") }

func TestPublish_SubscriberPanicIsRecovered(t *testing.T) {
	p, _ := newTestPublisher(t, true)
	p.RegisterSubscriber(panickingSubscriber{})
	sub := &recordingSubscriber{}
	p.RegisterSubscriber(sub)

	u := NewEvent("custom_event", true, nil)
	require.NotPanics(t, func() { p.Publish(&u) })
	assert.NotEmpty(t, sub.all(), "healthy subscribers still receive the update")
}

func TestUnregisterSubscriber(t *testing.T) {
	p, _ := newTestPublisher(t, true)
	sub := &recordingSubscriber{}
	token := p.RegisterSubscriber(sub)

	require.True(t, p.UnregisterSubscriber(token))
	assert.False(t, p.UnregisterSubscriber(token))

	u := NewEvent("custom_event", true, nil)
	p.Publish(&u)
	assert.Empty(t, sub.all())
}

func TestCleanup_SweepsReleasedSubscribers(t *testing.T) {
	p, _ := newTestPublisher(t, true)
	live := &recordingSubscriber{}
	dead := &recordingSubscriber{released: true}
	p.RegisterSubscriber(live)
	p.RegisterSubscriber(dead)

	p.Cleanup()

	u := NewEvent("custom_event", true, nil)
	p.Publish(&u)
	assert.NotEmpty(t, live.all())
	assert.Empty(t, dead.all())
}

func TestLog_RoutesToDebugOnly(t *testing.T) {
	p, _ := newTestPublisher(t, true)
	sub := &recordingSubscriber{}
	p.RegisterSubscriber(sub)
	p.RegisterDecorator(renameDecorator{name: "first"})

	u := NewEvent("preview_event", true, nil)
	p.Log(&u)

	assert.Empty(t, sub.all(), "logged updates never reach subscribers")
	assert.Equal(t, []string{"first"}, u.Properties["via"], "logged updates still decorate")
}

func TestAutoPropertyDecorator(t *testing.T) {
	store := datastore.New()
	store.SetUser("user-1", "")
	d := NewAutoPropertyDecorator(store)

	screen := NewScreen("Checkout", nil)
	d.Decorate(&screen)
	assert.Equal(t, "Checkout", screen.Properties[ScreenTitleProperty])

	event := NewEvent("custom_event", true, nil)
	d.Decorate(&event)
	identity, ok := event.Properties["_identity"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, SDKName, identity["_sdkName"])
	assert.Equal(t, false, identity["_isAnonymous"])
	assert.Equal(t, "Checkout", identity["_lastScreenTitle"], "events remember the last screen")

	profile := NewProfile(true, map[string]any{"plan": "pro"})
	d.Decorate(&profile)
	assert.Equal(t, "pro", profile.Properties["plan"])
	assert.Equal(t, SDKVersion, profile.Properties["_sdkVersion"], "profile updates inline the auto-properties")
}

func TestContextDecorator(t *testing.T) {
	d := NewContextDecorator("app-abc")

	u := NewEvent("custom_event", true, nil)
	d.Decorate(&u)
	assert.Equal(t, "app-abc", u.Context["app_id"])

	// Existing values are never overwritten.
	u2 := NewEvent("custom_event", true, nil)
	u2.Context = map[string]any{"app_id": "preset"}
	d.Decorate(&u2)
	assert.Equal(t, "preset", u2.Context["app_id"])
}
