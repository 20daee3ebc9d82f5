// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package renderer

import (
	"context"
	"sync"

	"github.com/appcues/appcues-sdk-go/statemachine"
)

// ScrollRelay fans host scroll-settle notifications to whichever
// recovery observer is currently waiting. At most one handler is
// registered at a time; setting a new one replaces the old.
//
// The host calls ScrollSettled after its scroll view comes to rest,
// typically from the platform shim's scroll instrumentation.
type ScrollRelay struct {
	mu      sync.Mutex
	handler func()
}

func NewScrollRelay() *ScrollRelay {
	return &ScrollRelay{}
}

// ScrollSettled notifies the waiting handler, if any.
func (r *ScrollRelay) ScrollSettled() {
	r.mu.Lock()
	handler := r.handler
	r.mu.Unlock()

	if handler != nil {
		handler()
	}
}

func (r *ScrollRelay) setHandler(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = fn
}

func (r *ScrollRelay) clearHandler() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = nil
}

// stepRecoveryObserver retries a recoverably-failed step once the
// host reports scroll settle, on the theory that the missing anchor
// view scrolled into existence.
type stepRecoveryObserver struct {
	relay   *ScrollRelay
	machine *statemachine.Machine
}

func newStepRecoveryObserver(relay *ScrollRelay, m *statemachine.Machine) *stepRecoveryObserver {
	return &stepRecoveryObserver{relay: relay, machine: m}
}

func (o *stepRecoveryObserver) EvaluateIfSatisfied(result statemachine.Result) bool {
	if result.Failed() {
		if result.Err.Kind == statemachine.ErrorKindStep && result.Err.Recoverable {
			o.relay.setHandler(o.onScrollSettled)
		}
		return false
	}

	// A dismissed or superseded experience must stop retrying.
	if result.State.Kind == statemachine.StateIdling {
		o.relay.clearHandler()
	}
	return false
}

// onScrollSettled detaches before retrying so a second settle event
// arriving mid-retry cannot start a concurrent attempt.
func (o *stepRecoveryObserver) onScrollSettled() {
	o.relay.clearHandler()
	_ = o.machine.Handle(context.Background(), statemachine.Retry())
}
