// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analytics

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/appcues/appcues-sdk-go/session"
)

// Subscriber receives decorated tracking updates. The tracker and the
// debugger are both subscribers.
type Subscriber interface {
	TrackUpdate(u TrackingUpdate)
}

// Releasable lets a subscriber signal that it is no longer active.
// Cleanup sweeps released subscribers out of the registry, which
// replaces weak references with an explicit lifecycle.
type Releasable interface {
	Released() bool
}

// Decorator mutates an update's properties/context before fan-out.
// Decorators run in registration order; returning without changes is
// fine.
type Decorator interface {
	Decorate(u *TrackingUpdate)
}

// Publisher is the analytics entry point: it guards the session
// boundary, decorates updates, and fans them out to subscribers.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Fan-out happens outside
// the registry lock with panic recovery per subscriber, so one
// misbehaving subscriber neither blocks registration nor starves the
// rest.
type Publisher struct {
	session *session.Monitor
	log     *slog.Logger

	mu          sync.RWMutex
	subscribers map[string]Subscriber
	decorators  []registeredDecorator
}

type registeredDecorator struct {
	id string
	d  Decorator
}

// NewPublisher builds a Publisher over the session monitor.
func NewPublisher(sess *session.Monitor, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{
		session:     sess,
		log:         log,
		subscribers: make(map[string]Subscriber),
	}
}

// RegisterSubscriber adds a subscriber and returns its registration
// token.
func (p *Publisher) RegisterSubscriber(s Subscriber) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := uuid.NewString()
	p.subscribers[id] = s
	return id
}

// UnregisterSubscriber removes a subscriber by token.
func (p *Publisher) UnregisterSubscriber(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.subscribers[id]; !ok {
		return false
	}
	delete(p.subscribers, id)
	return true
}

// RegisterDecorator appends a decorator to the chain and returns its
// registration token. Order of registration is order of application.
func (p *Publisher) RegisterDecorator(d Decorator) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := uuid.NewString()
	p.decorators = append(p.decorators, registeredDecorator{id: id, d: d})
	return id
}

// UnregisterDecorator removes a decorator by token.
func (p *Publisher) UnregisterDecorator(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, rd := range p.decorators {
		if rd.id == id {
			p.decorators = append(p.decorators[:i], p.decorators[i+1:]...)
			return true
		}
	}
	return false
}

// Cleanup sweeps subscribers that report themselves released.
func (p *Publisher) Cleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, s := range p.subscribers {
		if r, ok := s.(Releasable); ok && r.Released() {
			delete(p.subscribers, id)
		}
	}
}

// Publish decorates the update and fans it out to subscribers,
// guarding the session boundary first: with no startable session the
// update is dropped, and a freshly started session emits the internal
// session_started event before the requested update.
func (p *Publisher) Publish(u *TrackingUpdate) {
	if p.session.SessionID() == "" || p.session.IsExpired() {
		if !p.session.Start() {
			p.log.Debug("dropping analytics update, no session can start",
				"kind", u.Type.Kind)
			return
		}
		started := NewInternalEvent(SessionStartedEvent, true, nil)
		p.dispatch(&started)
	} else {
		p.session.UpdateLastActivity()
	}

	p.dispatch(u)
}

// Log decorates the update and routes it to the debug log instead of
// subscribers. Used when a caller must suppress real analytics, e.g.
// for unpublished preview flows.
func (p *Publisher) Log(u *TrackingUpdate) {
	p.decorate(u)
	p.log.Debug("analytics update suppressed",
		"kind", u.Type.Kind,
		"event", u.EventName(),
		"properties", u.Properties)
}

func (p *Publisher) dispatch(u *TrackingUpdate) {
	p.decorate(u)

	p.mu.RLock()
	subs := make([]Subscriber, 0, len(p.subscribers))
	for _, s := range p.subscribers {
		subs = append(subs, s)
	}
	p.mu.RUnlock()

	for _, s := range subs {
		p.safeInvoke(s, *u)
	}
}

func (p *Publisher) decorate(u *TrackingUpdate) {
	p.mu.RLock()
	decorators := make([]registeredDecorator, len(p.decorators))
	copy(decorators, p.decorators)
	p.mu.RUnlock()

	for _, rd := range decorators {
		rd.d.Decorate(u)
	}
}

// safeInvoke delivers one update with panic recovery so a failing
// subscriber cannot take down the pipeline or starve its peers.
func (p *Publisher) safeInvoke(s Subscriber, u TrackingUpdate) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("analytics subscriber panicked",
				"kind", u.Type.Kind,
				"event", u.EventName(),
				"panic", r)
		}
	}()
	s.TrackUpdate(u)
}
