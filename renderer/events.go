// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package renderer

import (
	"github.com/google/uuid"

	"github.com/appcues/appcues-sdk-go/analytics"
	"github.com/appcues/appcues-sdk-go/experience"
	"github.com/appcues/appcues-sdk-go/statemachine"
)

// Lifecycle event names emitted for experience rendering.
const (
	ExperienceStartedEvent   = "appcues:v2:experience_started"
	ExperienceCompletedEvent = "appcues:v2:experience_completed"
	ExperienceDismissedEvent = "appcues:v2:experience_dismissed"
	ExperienceErrorEvent     = "appcues:v2:experience_error"
	StepSeenEvent            = "appcues:v2:step_seen"
	StepCompletedEvent       = "appcues:v2:step_completed"
	StepErrorEvent           = "appcues:v2:step_error"
	StepRecoveredEvent       = "appcues:v2:step_recovered"
	ExperimentEnteredEvent   = "appcues:experiment_entered"
	StepTransitionEvent      = "appcues:step_transition"
)

// analyticsObserver translates machine transitions into lifecycle
// analytics. Unpublished experiences (builder previews) log locally
// instead of tracking.
//
// It owns Data.RecoverableErrorID: the id minted for a recoverable
// step error is replayed on the step_recovered event so the two can
// be correlated server-side.
type analyticsObserver struct {
	pub *analytics.Publisher
}

func (o *analyticsObserver) EvaluateIfSatisfied(result statemachine.Result) bool {
	if result.Failed() {
		o.trackError(result.Err)
		return false
	}

	st := result.State
	switch st.Kind {
	case statemachine.StateBeginningExperience:
		o.track(st.Data, ExperienceStartedEvent, experienceProperties(st.Data))

	case statemachine.StateRenderingStep:
		if errID := st.Data.RecoverableErrorID; errID != nil {
			props := stepProperties(st.Data, st.StepIndex)
			props["errorId"] = errID.String()
			o.track(st.Data, StepRecoveredEvent, props)
			st.Data.RecoverableErrorID = nil
		}
		o.track(st.Data, StepSeenEvent, stepProperties(st.Data, st.StepIndex))

	case statemachine.StateEndingStep:
		if st.MarkComplete {
			o.track(st.Data, StepCompletedEvent, stepProperties(st.Data, st.StepIndex))
		}

	case statemachine.StateEndingExperience:
		name := ExperienceDismissedEvent
		props := experienceProperties(st.Data)
		if st.MarkComplete {
			name = ExperienceCompletedEvent
		} else {
			props["stepId"] = stepID(st.Data, st.StepIndex)
			props["stepIndex"] = st.StepIndex.String()
		}
		o.track(st.Data, name, props)
	}
	return false
}

func (o *analyticsObserver) trackError(expErr *statemachine.ExperienceError) {
	data := expErr.Data
	if data == nil {
		return
	}

	if expErr.Kind == statemachine.ErrorKindStep && expErr.StepIndex != nil {
		// A recoverable error retried repeatedly tracks once; the
		// stored id marks it as already reported.
		if data.RecoverableErrorID != nil {
			return
		}
		errID := uuid.New()
		props := stepProperties(data, *expErr.StepIndex)
		props["message"] = expErr.Message
		props["errorId"] = errID.String()
		o.track(data, StepErrorEvent, props)
		if expErr.Recoverable {
			data.RecoverableErrorID = &errID
		}
		return
	}

	props := experienceProperties(data)
	props["message"] = expErr.Message
	props["errorId"] = uuid.NewString()
	o.track(data, ExperienceErrorEvent, props)
}

func (o *analyticsObserver) track(data *experience.Data, name string, props map[string]any) {
	u := analytics.NewInternalEvent(name, false, props)
	if data.Published {
		o.pub.Publish(&u)
	} else {
		o.pub.Log(&u)
	}
}

// stepTransitionObserver emits an internal step_transition event for
// each step lifecycle phase the machine passes through. It is a
// diagnostic stream, kept separate from analyticsObserver so the core
// lifecycle events stay unconditional.
type stepTransitionObserver struct {
	pub *analytics.Publisher
}

func (o *stepTransitionObserver) EvaluateIfSatisfied(result statemachine.Result) bool {
	if result.Failed() {
		return false
	}

	st := result.State
	switch st.Kind {
	case statemachine.StateBeginningStep, statemachine.StateRenderingStep, statemachine.StateEndingStep:
		props := stepProperties(st.Data, st.StepIndex)
		props["state"] = string(st.Kind)
		u := analytics.NewInternalEvent(StepTransitionEvent, false, props)
		if st.Data.Published {
			o.pub.Publish(&u)
		} else {
			o.pub.Log(&u)
		}
	}
	return false
}

func experienceProperties(d *experience.Data) map[string]any {
	props := map[string]any{
		"experienceId":         d.Experience.ID.String(),
		"experienceName":       d.Experience.Name,
		"experienceType":       d.Experience.Type,
		"experienceInstanceId": d.InstanceID.String(),
		"trigger":              string(d.Trigger.Kind),
	}
	if d.Trigger.QualificationReason != "" {
		props["qualificationReason"] = d.Trigger.QualificationReason
	}
	if d.Trigger.FromExperienceID != uuid.Nil {
		props["fromExperienceId"] = d.Trigger.FromExperienceID.String()
	}
	if d.RenderContext.Kind == experience.ContextEmbed {
		props["frameId"] = d.RenderContext.FrameID
	}
	if d.Experiment != nil {
		props["experimentId"] = d.Experiment.ExperimentID.String()
	}
	return props
}

func stepProperties(d *experience.Data, index experience.StepIndex) map[string]any {
	props := experienceProperties(d)
	props["stepId"] = stepID(d, index)
	props["stepIndex"] = index.String()
	return props
}

func stepID(d *experience.Data, index experience.StepIndex) string {
	if step, ok := d.Experience.Step(index); ok {
		return step.ID.String()
	}
	return ""
}

func experimentProperties(x *experience.Experiment) map[string]any {
	props := map[string]any{
		"experimentId":           x.ExperimentID.String(),
		"experimentGroup":        x.Group,
		"experimentExperienceId": x.ExperienceID.String(),
	}
	if x.GoalID != "" {
		props["experimentGoalId"] = x.GoalID
	}
	if x.ContentType != "" {
		props["experimentContentType"] = x.ContentType
	}
	return props
}
