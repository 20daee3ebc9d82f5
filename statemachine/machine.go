// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package statemachine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/appcues/appcues-sdk-go/experience"
)

// PageObserving is implemented by presenters that report user-driven
// page changes (swipes) back to the machine.
type PageObserving interface {
	OnPageChange(fn func(item int))
}

// Machine drives the presentation lifecycle for one render context.
//
// # Thread Safety
//
// All methods are safe for concurrent use. One mutex serializes
// transitions; continuation effects run on the unlocked internal
// path so a single Handle call can cascade through several states
// atomically.
type Machine struct {
	renderContext experience.RenderContext
	traits        TraitComposing
	actions       ActionRegistry
	log           *slog.Logger

	// sleep is injectable so trait retry delays are testable.
	sleep func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	state     State
	observers []Observer

	// pkg and presentedGroup track the on-screen container so
	// consecutive steps in one group page instead of re-presenting.
	pkg                  *ExperiencePackage
	presentedGroup       uuid.UUID
	pageObserverAttached bool
}

// NewMachine creates an idling machine for the given render context.
func NewMachine(rc experience.RenderContext, traits TraitComposing, actions ActionRegistry, log *slog.Logger) *Machine {
	if log == nil {
		log = slog.Default()
	}
	return &Machine{
		renderContext: rc,
		traits:        traits,
		actions:       actions,
		log:           log.With("render_context", rc.String()),
		sleep:         sleepFor,
		state:         Idling(),
	}
}

// RenderContext returns the context this machine owns.
func (m *Machine) RenderContext() experience.RenderContext {
	return m.renderContext
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// AddObserver subscribes an observer to transition results. It stays
// subscribed until it reports itself satisfied or the machine resets
// its observer list at an experience boundary.
func (m *Machine) AddObserver(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// Handle applies one action, running the transition's side effects
// and any continuations they feed back before returning. The error
// is the first failure reached anywhere in the cascade; the machine
// has already routed it to observers.
func (m *Machine) Handle(ctx context.Context, action Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.handleLocked(ctx, action)
	var reported *reportedError
	if errors.As(err, &reported) {
		return reported.err
	}
	return err
}

// handleLocked is the unlocked transition path continuation effects
// re-enter. Callers hold m.mu.
func (m *Machine) handleLocked(ctx context.Context, action Action) error {
	tr, err := transition(m.state, action)
	if err != nil {
		return err
	}

	if tr.To != nil {
		m.state = *tr.To
		m.log.Debug("state transition",
			"action", string(action.Kind),
			"state", m.state.String())
		if m.state.Kind == StateIdling {
			m.clearContainer()
		}
		m.notifyLocked(Result{State: m.state})
	}

	var effectErr error
	if tr.SideEffect != nil {
		effectErr = tr.SideEffect.Execute(ctx, m)
	}

	if tr.ResetObservers {
		m.observers = nil
	}

	if effectErr != nil {
		var reported *reportedError
		if errors.As(effectErr, &reported) {
			return effectErr
		}
		var expErr *ExperienceError
		if errors.As(effectErr, &expErr) {
			return m.handleLocked(ctx, ReportError(expErr, nil))
		}
		return effectErr
	}
	return nil
}

// notifyLocked delivers a result to every observer, dropping the
// satisfied ones.
func (m *Machine) notifyLocked(result Result) {
	if len(m.observers) == 0 {
		return
	}
	kept := m.observers[:0]
	for _, o := range m.observers {
		if !m.safeEvaluate(o, result) {
			kept = append(kept, o)
		}
	}
	m.observers = kept
}

// safeEvaluate isolates observer panics; a panicking observer is
// treated as satisfied and removed.
func (m *Machine) safeEvaluate(o Observer, result Result) (satisfied bool) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("observer panicked",
				"render_context", m.renderContext.String(),
				"panic", fmt.Sprintf("%v", r))
			satisfied = true
		}
	}()
	return o.EvaluateIfSatisfied(result)
}

// attachPageObserver registers the swipe callback on a presenter
// that supports paging. Page changes dispatch asynchronously so a
// presenter firing the callback from inside Navigate cannot
// deadlock the machine.
func (m *Machine) attachPageObserver(pkg *ExperiencePackage) {
	po, ok := pkg.Presenter.(PageObserving)
	if !ok {
		return
	}
	group := pkg.GroupID
	po.OnPageChange(func(item int) {
		go m.handlePageChange(group, item)
	})
	m.pageObserverAttached = true
}

// handlePageChange turns a user swipe into a startStep dispatch when
// it lands on a different item of the presented group.
func (m *Machine) handlePageChange(group uuid.UUID, item int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Kind != StateRenderingStep || m.presentedGroup != group {
		return
	}
	if item == m.state.StepIndex.Item {
		return
	}
	target := experience.StepIndex{Group: m.state.StepIndex.Group, Item: item}
	if !m.state.Data.Experience.Valid(target) {
		return
	}
	ref := experience.RefIndex(m.state.Data.Experience.FlatIndex(target))
	if err := m.handleLocked(context.Background(), StartStep(ref)); err != nil {
		m.log.Warn("page change dispatch failed",
			"item", item,
			"error", err.Error())
	}
}

func (m *Machine) clearContainer() {
	m.pkg = nil
	m.presentedGroup = uuid.Nil
	m.pageObserverAttached = false
}

func sleepFor(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
