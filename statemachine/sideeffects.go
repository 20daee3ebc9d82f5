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

	"github.com/appcues/appcues-sdk-go/experience"
)

// SideEffect is work attached to a transition. Effects run after the
// state swap with the machine lock held and may feed further actions
// back through the unlocked handle path.
type SideEffect interface {
	Execute(ctx context.Context, m *Machine) error
}

// reportedError marks an error that already went through the
// reportError path, so outer layers propagate it instead of
// reporting it again.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// continuationEffect feeds a follow-up action into the machine.
type continuationEffect struct {
	action Action
}

func (e *continuationEffect) Execute(ctx context.Context, m *Machine) error {
	return m.handleLocked(ctx, e.action)
}

// errorEffect delivers a failure to observers and surfaces it to the
// caller that drove the transition.
type errorEffect struct {
	err *ExperienceError
}

func (e *errorEffect) Execute(ctx context.Context, m *Machine) error {
	m.notifyLocked(Result{Err: e.err})
	return &reportedError{err: e.err}
}

// presentContainerEffect composes and presents the container for one
// step. Failures become step errors; recoverable ones arm a retry of
// this same effect for the recovery observer.
type presentContainerEffect struct {
	index experience.StepIndex
}

func (e *presentContainerEffect) Execute(ctx context.Context, m *Machine) error {
	data := m.state.Data
	group := data.Experience.Steps[e.index.Group]

	// Same-group navigation keeps the presented container; the page
	// has already moved, so only the render confirmation remains.
	if m.pkg != nil && m.presentedGroup == group.ID {
		m.pkg.StepIndex = e.index
		return m.handleLocked(ctx, RenderStep())
	}

	pkg, err := m.traits.Package(ctx, data, e.index)
	if err != nil {
		return e.escalate(ctx, m, err)
	}

	// The page observer attaches once per container. Recovery
	// retries hit this path again for the same container and must
	// not double-register.
	if !m.pageObserverAttached {
		m.attachPageObserver(pkg)
	}

	for {
		err = pkg.Presenter.Present(ctx)
		if err == nil {
			break
		}
		var traitErr *TraitError
		if errors.As(err, &traitErr) && traitErr.RetryDelay > 0 {
			if sleepErr := m.sleep(ctx, traitErr.RetryDelay); sleepErr != nil {
				return e.escalate(ctx, m, err)
			}
			continue
		}
		return e.escalate(ctx, m, err)
	}

	m.pkg = pkg
	m.presentedGroup = pkg.GroupID
	return m.handleLocked(ctx, RenderStep())
}

// escalate converts a composition/presentation failure into a step
// error, arming a retry when the failure is recoverable.
func (e *presentContainerEffect) escalate(ctx context.Context, m *Machine, cause error) error {
	recoverable := false
	var traitErr *TraitError
	if errors.As(cause, &traitErr) {
		recoverable = traitErr.Recoverable
	}

	stepErr := StepError(m.state.Data, e.index, cause.Error(), recoverable)
	var retry SideEffect
	if recoverable {
		retry = &presentContainerEffect{index: e.index}
	}
	return m.handleLocked(ctx, ReportError(stepErr, retry))
}

// navigateEffect moves between steps from renderingStep: paging
// within the presented container when the target shares its group,
// otherwise dismissing so the next group can present fresh.
type navigateEffect struct {
	ref experience.StepReference
}

func (e *navigateEffect) Execute(ctx context.Context, m *Machine) error {
	data := m.state.Data
	target, ok := e.ref.Resolve(data.Experience, m.state.StepIndex)
	if !ok {
		return &reportedError{err: NoSuchStep(data, e.ref)}
	}

	if m.pkg != nil && target.Group == m.state.StepIndex.Group {
		if err := m.pkg.Presenter.Navigate(ctx, target.Item); err != nil {
			stepErr := StepError(data, target, err.Error(), false)
			return m.handleLocked(ctx, ReportError(stepErr, nil))
		}
	} else if m.pkg != nil {
		if err := m.pkg.Presenter.Dismiss(ctx, false); err != nil {
			m.log.Warn("failed to dismiss container before next group",
				"experience_id", data.Experience.ID,
				"error", err.Error())
		}
		m.clearContainer()
	}

	return m.handleLocked(ctx, StartStep(e.ref))
}

// dismissEffect tears the presented container down and completes the
// lifecycle with a reset.
type dismissEffect struct {
	markComplete bool
}

func (e *dismissEffect) Execute(ctx context.Context, m *Machine) error {
	if m.pkg != nil {
		if err := m.pkg.Presenter.Dismiss(ctx, e.markComplete); err != nil {
			// Teardown continues regardless; a stuck container must
			// not wedge the machine outside idling.
			m.log.Warn("failed to dismiss container",
				"experience_id", m.state.Data.Experience.ID,
				"error", err.Error())
		}
		m.clearContainer()
	}
	return m.handleLocked(ctx, Reset())
}

// processActionsEffect runs post-experience completion actions.
type processActionsEffect struct {
	data *experience.Data
}

func (e *processActionsEffect) Execute(ctx context.Context, m *Machine) error {
	if m.actions == nil || e.data == nil {
		return nil
	}
	if actions := e.data.Experience.CompletionActions; len(actions) > 0 {
		m.actions.ProcessActions(ctx, e.data, actions)
	}
	return nil
}
