// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package statemachine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/appcues/appcues-sdk-go/experience"
)

// ContainerPresenting is the host-side handle for one presented step
// group container.
type ContainerPresenting interface {
	// Present puts the container on screen.
	Present(ctx context.Context) error

	// Navigate pages to a sibling item within the same container.
	Navigate(ctx context.Context, item int) error

	// Dismiss removes the container. markComplete distinguishes a
	// completed experience from a dismissed one for exit animations.
	Dismiss(ctx context.Context, markComplete bool) error
}

// ExperiencePackage is a trait-composed, presentable step.
type ExperiencePackage struct {
	// StepIndex is the step this package presents.
	StepIndex experience.StepIndex

	// GroupID identifies the container; consecutive steps in one
	// group reuse the presented container and page between items.
	GroupID uuid.UUID

	// Presenter drives the container on the host side.
	Presenter ContainerPresenting
}

// TraitComposing produces renderable packages. The host's trait
// composer implements it; composition is the boundary where opaque
// trait payloads become UI.
type TraitComposing interface {
	Package(ctx context.Context, data *experience.Data, index experience.StepIndex) (*ExperiencePackage, error)
}

// ActionRegistry executes experience actions: post-completion
// navigation, chained flows, host callbacks.
type ActionRegistry interface {
	ProcessActions(ctx context.Context, data *experience.Data, actions []experience.Action)
}

// TraitError is a failure inside trait composition or presentation.
// Recoverable errors arm the step recovery path; a non-zero
// RetryDelay asks for one in-place sleep-and-retry before the error
// escalates.
type TraitError struct {
	Description string
	Recoverable bool
	RetryDelay  time.Duration
}

func (e *TraitError) Error() string {
	return fmt.Sprintf("trait error: %s", e.Description)
}
