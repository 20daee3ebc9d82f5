// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package statemachine

import (
	"fmt"

	"github.com/appcues/appcues-sdk-go/experience"
)

// ErrorKind scopes an ExperienceError.
type ErrorKind string

const (
	// ErrorKindExperience is an experience-level failure: the whole
	// flow cannot start or continue.
	ErrorKindExperience ErrorKind = "experience"

	// ErrorKindStep is a failure presenting one step.
	ErrorKindStep ErrorKind = "step"
)

// ExperienceError is a failure surfaced through the state machine:
// reported to observers, translated into analytics, and returned to
// the caller that drove the transition.
type ExperienceError struct {
	Kind ErrorKind

	// Data is the experience the failure belongs to, when known.
	Data *experience.Data

	// StepIndex is set for step-scoped failures.
	StepIndex *experience.StepIndex

	// Message describes the failure.
	Message string

	// Recoverable marks step errors the recovery observer may retry
	// (e.g. the target view is not on screen yet).
	Recoverable bool
}

func (e *ExperienceError) Error() string {
	if e.Kind == ErrorKindStep && e.StepIndex != nil {
		return fmt.Sprintf("step error at group %d item %d: %s", e.StepIndex.Group, e.StepIndex.Item, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

// ExperienceAlreadyActive reports an attempt to start an experience
// while another one holds this machine.
func ExperienceAlreadyActive(data *experience.Data) *ExperienceError {
	return &ExperienceError{
		Kind:    ErrorKindExperience,
		Data:    data,
		Message: "experience already active",
	}
}

// NoStepsInExperience reports a decoded experience with nothing to
// show.
func NoStepsInExperience(data *experience.Data) *ExperienceError {
	return &ExperienceError{
		Kind:    ErrorKindExperience,
		Data:    data,
		Message: "experience has no steps",
	}
}

// NoSuchStep reports a step reference that resolves nowhere.
func NoSuchStep(data *experience.Data, ref experience.StepReference) *ExperienceError {
	return &ExperienceError{
		Kind:    ErrorKindExperience,
		Data:    data,
		Message: fmt.Sprintf("no step matching reference %v", ref),
	}
}

// StepError reports a failure presenting the step at index.
func StepError(data *experience.Data, index experience.StepIndex, message string, recoverable bool) *ExperienceError {
	idx := index
	return &ExperienceError{
		Kind:        ErrorKindStep,
		Data:        data,
		StepIndex:   &idx,
		Message:     message,
		Recoverable: recoverable,
	}
}

// InvalidTransitionError rejects an action the current state has no
// entry for. The machine state is unchanged.
type InvalidTransitionError struct {
	From   StateKind
	Action ActionKind
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s does not accept %s", e.From, e.Action)
}
