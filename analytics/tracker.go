// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/appcues/appcues-sdk-go/activity"
	"github.com/appcues/appcues-sdk-go/activity/processor"
	"github.com/appcues/appcues-sdk-go/api"
	"github.com/appcues/appcues-sdk-go/datastore"
	"github.com/appcues/appcues-sdk-go/session"
)

// defaultFlushInterval is how long queued updates wait for company
// before the buffer flushes on its own.
const defaultFlushInterval = 10 * time.Second

// QualificationHandler receives successful qualification results.
// The SDK facade implements it; the indirection keeps this package
// from depending on presentation.
type QualificationHandler interface {
	HandleQualification(ctx context.Context, resp *api.QualifyResponse)
}

// Tracker batches tracking updates into activities by policy and
// hands them to the activity processor.
//
// # Thread Safety
//
// The buffer and timer are guarded by one mutex. At most one delayed
// flush timer exists at a time; every forced flush cancels it.
type Tracker struct {
	accountID string
	store     datastore.DataStoring
	session   *session.Monitor
	proc      processor.ActivityProcessing
	log       *slog.Logger

	flushInterval time.Duration
	marker        ActivityMarker

	mu      sync.Mutex
	buffer  []*activity.Activity
	timer   *time.Timer
	handler QualificationHandler
}

// ActivityMarker receives the request id of every activity handed to
// the processor. The SDK metrics collector implements it.
type ActivityMarker interface {
	Tracked(requestID uuid.UUID)
}

// TrackerOption customizes a Tracker.
type TrackerOption func(*Tracker)

// WithFlushInterval overrides the delayed flush interval.
func WithFlushInterval(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.flushInterval = d }
}

// WithActivityMarker wires pipeline timing marks.
func WithActivityMarker(m ActivityMarker) TrackerOption {
	return func(t *Tracker) { t.marker = m }
}

// NewTracker builds a Tracker delivering through proc.
func NewTracker(accountID string, store datastore.DataStoring, sess *session.Monitor, proc processor.ActivityProcessing, log *slog.Logger, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		accountID:     accountID,
		store:         store,
		session:       sess,
		proc:          proc,
		log:           log,
		flushInterval: defaultFlushInterval,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = slog.Default()
	}
	return t
}

// SetHandler wires the qualification result consumer. Set during SDK
// assembly, before any tracking happens.
func (t *Tracker) SetHandler(h QualificationHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// TrackUpdate implements Subscriber: the tracker subscribes to the
// publisher's decorated stream.
func (t *Tracker) TrackUpdate(u TrackingUpdate) {
	t.Track(context.Background(), u)
}

// Track dispatches one update according to its policy.
func (t *Tracker) Track(ctx context.Context, u TrackingUpdate) {
	a := t.makeActivity(u)

	t.mu.Lock()
	defer t.mu.Unlock()

	switch u.Policy().Kind {
	case PolicyQueue:
		t.buffer = append(t.buffer, a)
		if t.timer == nil {
			t.timer = time.AfterFunc(t.flushInterval, t.timerFlush)
		}
	case PolicyQueueThenFlush:
		t.cancelTimerLocked()
		t.buffer = append(t.buffer, a)
		t.flushLocked(ctx)
	case PolicyFlushThenSend:
		t.cancelTimerLocked()
		t.flushLocked(ctx)
		t.send(ctx, a)
	}
}

// Flush force-delivers the buffered batch. Implements
// session.Flusher for the reset path.
func (t *Tracker) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelTimerLocked()
	t.flushLocked(context.Background())
}

// timerFlush fires on the delayed flush deadline.
func (t *Tracker) timerFlush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timer = nil
	t.flushLocked(context.Background())
}

func (t *Tracker) cancelTimerLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// flushLocked merges the buffer into one activity and sends it.
// Caller holds t.mu.
func (t *Tracker) flushLocked(ctx context.Context) {
	if len(t.buffer) == 0 {
		return
	}
	merged := activity.Merge(t.buffer)
	t.buffer = nil
	t.send(ctx, merged)
}

// send hands one activity to the processor. Qualification results go
// to the handler; failures are logged only, durability lives in the
// processor.
func (t *Tracker) send(ctx context.Context, a *activity.Activity) {
	handler := t.handler
	if t.marker != nil {
		t.marker.Tracked(a.RequestID)
	}
	t.proc.Process(ctx, a, func(resp *api.QualifyResponse, err error) {
		if err != nil {
			t.log.Info("activity delivery failed",
				"request_id", a.RequestID,
				"error", err.Error())
			return
		}
		if resp != nil && handler != nil {
			handler.HandleQualification(ctx, resp)
		}
	})
}

// makeActivity converts one update into its wire activity.
func (t *Tracker) makeActivity(u TrackingUpdate) *activity.Activity {
	a := activity.New(t.accountID, t.store.UserID(), t.session.SessionID(), t.store.UserSignature())
	a.GroupID = t.store.GroupID()
	a.Created = u.Timestamp

	switch u.Type.Kind {
	case KindEvent, KindScreen:
		a.Events = append(a.Events, activity.Event{
			Name:       u.EventName(),
			Timestamp:  u.Timestamp,
			Attributes: u.Properties,
			Context:    u.Context,
		})
	case KindProfile:
		a.ProfileUpdate = u.Properties
	case KindGroup:
		a.GroupID = u.Type.GroupID
		a.GroupUpdate = u.Properties
	}
	return a
}
