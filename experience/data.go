// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package experience

import "github.com/google/uuid"

// ContextKind discriminates render contexts.
type ContextKind string

const (
	// ContextModal is the single modal overlay context.
	ContextModal ContextKind = "modal"

	// ContextEmbed is a named embed frame registered by the host.
	ContextEmbed ContextKind = "embed"
)

// RenderContext identifies where an experience renders. It is a
// comparable value type and is used as a map key throughout the
// renderer.
type RenderContext struct {
	Kind    ContextKind
	FrameID string
}

// Modal returns the singleton modal render context.
func Modal() RenderContext {
	return RenderContext{Kind: ContextModal}
}

// Embed returns the render context for a named frame.
func Embed(frameID string) RenderContext {
	return RenderContext{Kind: ContextEmbed, FrameID: frameID}
}

// String returns "modal" or "embed(frameID)".
func (rc RenderContext) String() string {
	if rc.Kind == ContextEmbed {
		return "embed(" + rc.FrameID + ")"
	}
	return string(ContextModal)
}

// ContextFor maps an experience's declared context name to a
// RenderContext: empty or "modal" selects the modal context, anything
// else names an embed frame.
func ContextFor(e *Experience) RenderContext {
	if e.RenderContextName == "" || e.RenderContextName == string(ContextModal) {
		return Modal()
	}
	return Embed(e.RenderContextName)
}

// TriggerKind discriminates how an experience came to be shown.
type TriggerKind string

const (
	// TriggerQualification is server-side qualification from tracked
	// activity.
	TriggerQualification TriggerKind = "qualification"

	// TriggerShowCall is an explicit host call to show by id.
	TriggerShowCall TriggerKind = "show_call"

	// TriggerDeepLink is an appcues deep link.
	TriggerDeepLink TriggerKind = "deep_link"

	// TriggerPreview is an unpublished builder preview.
	TriggerPreview TriggerKind = "preview"

	// TriggerPushNotification is a push-opened launch.
	TriggerPushNotification TriggerKind = "push_notification"

	// TriggerExperienceCompletion chains from another experience's
	// completion action.
	TriggerExperienceCompletion TriggerKind = "experience_completion"
)

// Trigger records the provenance of a shown experience.
type Trigger struct {
	Kind TriggerKind

	// QualificationReason is set for qualification triggers
	// ("screen_view", "event_trigger", "forced", ...).
	QualificationReason string

	// FromExperienceID is set for completion-chained triggers.
	FromExperienceID uuid.UUID
}

// Priority arbitrates between a showing experience and a newly
// qualified one.
type Priority string

const (
	// PriorityLow never interrupts a showing experience. Passive
	// screen-view qualifications use this.
	PriorityLow Priority = "low"

	// PriorityNormal force-dismisses a showing experience first.
	PriorityNormal Priority = "normal"
)

// Data is the runtime-decorated form of a parsed experience: the
// model plus everything the renderer and state machine need to manage
// one concrete display attempt.
type Data struct {
	// Experience is the underlying content model.
	Experience *Experience

	// InstanceID is unique per qualification/show attempt within the
	// process. Two qualifications of the same experience get distinct
	// instance ids.
	InstanceID uuid.UUID

	// RenderContext is where this instance renders.
	RenderContext RenderContext

	// Trigger is why this instance exists.
	Trigger Trigger

	// Experiment gates execution when present.
	Experiment *Experiment

	// Priority arbitrates against an already-showing experience.
	Priority Priority

	// RecoverableErrorID correlates a recoverable step error with its
	// later recovery event. Owned by the analytics state observer;
	// nobody else mutates it.
	RecoverableErrorID *uuid.UUID

	// Published distinguishes real content from builder previews.
	// Unpublished instances never emit real analytics.
	Published bool
}

// NewData decorates an experience for one display attempt.
func NewData(e *Experience, trigger Trigger, priority Priority, published bool) *Data {
	return &Data{
		Experience:    e,
		InstanceID:    uuid.New(),
		RenderContext: ContextFor(e),
		Trigger:       trigger,
		Priority:      priority,
		Published:     published,
	}
}
