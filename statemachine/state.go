// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package statemachine drives the experience presentation lifecycle.
//
// Each render context owns exactly one Machine holding one State.
// Transitions are a pure lookup over (state, action); actions with no
// entry are rejected with InvalidTransitionError and leave the state
// untouched. Side effects run after the state swap and may feed
// further actions back into the machine.
package statemachine

import (
	"fmt"

	"github.com/appcues/appcues-sdk-go/experience"
)

// StateKind names the lifecycle phases.
type StateKind string

const (
	// StateIdling is the rest state: nothing showing.
	StateIdling StateKind = "idling"

	// StateBeginningExperience holds while the first step spins up.
	StateBeginningExperience StateKind = "beginningExperience"

	// StateBeginningStep holds while a step's container is composed
	// and presented.
	StateBeginningStep StateKind = "beginningStep"

	// StateRenderingStep is a step on screen.
	StateRenderingStep StateKind = "renderingStep"

	// StateEndingStep holds while a step is leaving the screen.
	StateEndingStep StateKind = "endingStep"

	// StateEndingExperience holds while the whole experience is torn
	// down.
	StateEndingExperience StateKind = "endingExperience"

	// StateFailing parks a recoverable failure: it remembers the
	// state to return to and the side effect that retries it.
	StateFailing StateKind = "failing"
)

// State is the machine's tagged current phase. Only the fields
// relevant to the Kind are set.
type State struct {
	Kind StateKind

	// Data is the active experience for every non-idling state.
	Data *experience.Data

	// StepIndex addresses the current step from beginningStep
	// onward.
	StepIndex experience.StepIndex

	// IsFirst marks the first step of the experience.
	IsFirst bool

	// MarkComplete distinguishes completion from dismissal in the
	// ending states.
	MarkComplete bool

	// Target is the state a failing machine retries toward.
	Target *State

	// RetryEffect re-runs the failed side effect on retry.
	RetryEffect SideEffect
}

// Idling returns the rest state.
func Idling() State {
	return State{Kind: StateIdling}
}

// String renders the state for logs and errors.
func (s State) String() string {
	switch s.Kind {
	case StateIdling:
		return string(s.Kind)
	case StateFailing:
		if s.Target != nil {
			return fmt.Sprintf("failing(toward %s)", s.Target.Kind)
		}
		return string(s.Kind)
	case StateBeginningExperience:
		return fmt.Sprintf("%s(%s)", s.Kind, s.Data.Experience.ID)
	default:
		return fmt.Sprintf("%s(%s, group %d item %d)", s.Kind, s.Data.Experience.ID, s.StepIndex.Group, s.StepIndex.Item)
	}
}

// ActionKind names the machine inputs.
type ActionKind string

const (
	// ActionStartExperience begins a new experience.
	ActionStartExperience ActionKind = "startExperience"

	// ActionStartStep moves to a referenced step.
	ActionStartStep ActionKind = "startStep"

	// ActionRenderStep confirms the presented step is on screen.
	ActionRenderStep ActionKind = "renderStep"

	// ActionEndExperience begins teardown.
	ActionEndExperience ActionKind = "endExperience"

	// ActionReset returns the machine to idling after teardown.
	ActionReset ActionKind = "reset"

	// ActionReportError records a failure.
	ActionReportError ActionKind = "reportError"

	// ActionRetry re-attempts out of the failing state.
	ActionRetry ActionKind = "retry"
)

// Action is one machine input. Only the fields relevant to the Kind
// are set.
type Action struct {
	Kind ActionKind

	// Data is the experience to start.
	Data *experience.Data

	// StepRef addresses the target step for startStep.
	StepRef experience.StepReference

	// MarkComplete asks teardown to run completion actions.
	MarkComplete bool

	// Err is the failure for reportError.
	Err *ExperienceError

	// RetryEffect, when present on reportError, parks the machine in
	// failing instead of idling.
	RetryEffect SideEffect
}

// StartExperience builds the action starting data.
func StartExperience(data *experience.Data) Action {
	return Action{Kind: ActionStartExperience, Data: data}
}

// StartStep builds the action moving to ref.
func StartStep(ref experience.StepReference) Action {
	return Action{Kind: ActionStartStep, StepRef: ref}
}

// RenderStep confirms presentation.
func RenderStep() Action {
	return Action{Kind: ActionRenderStep}
}

// EndExperience begins teardown; markComplete runs completion
// actions.
func EndExperience(markComplete bool) Action {
	return Action{Kind: ActionEndExperience, MarkComplete: markComplete}
}

// Reset returns the machine to idling.
func Reset() Action {
	return Action{Kind: ActionReset}
}

// ReportError records a failure, parking in failing when retryEffect
// is non-nil.
func ReportError(err *ExperienceError, retryEffect SideEffect) Action {
	return Action{Kind: ActionReportError, Err: err, RetryEffect: retryEffect}
}

// Retry re-attempts out of failing.
func Retry() Action {
	return Action{Kind: ActionRetry}
}
