// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package experience defines the experience content model.
//
// An Experience is the parsed server-delivered description of an
// in-app flow: an ordered list of step groups, each containing one or
// more child steps that render together in a single container. The
// visual interpretation of traits and step content is a collaborator
// concern; this package treats both as opaque payloads.
package experience

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Trait is an opaque behavior/appearance modifier attached to an
// experience, group, or step. Composition happens in the host's trait
// composer; the SDK only routes these through.
type Trait struct {
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config,omitempty"`
}

// Action is an opaque triggerable behavior (e.g. on step completion).
type Action struct {
	On     string          `json:"on"`
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config,omitempty"`
}

// StepChild is a single renderable step.
type StepChild struct {
	ID      uuid.UUID       `json:"id"`
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
	Traits  []Trait         `json:"traits,omitempty"`
	Actions map[string][]Action `json:"actions,omitempty"`
}

// StepGroup is a set of child steps presented in one container.
//
// The wire format allows a bare step where a group is expected; a
// lone step decodes as a group containing itself as its only child.
// This replaces the upstream model's dynamic field dispatch with an
// explicit union: a StepGroup always has Children, and accessors on
// the group answer for either shape.
type StepGroup struct {
	ID      uuid.UUID           `json:"id"`
	Type    string              `json:"type"`
	Children []StepChild        `json:"children"`
	Traits  []Trait             `json:"traits,omitempty"`
	Actions map[string][]Action `json:"actions,omitempty"`
}

// UnmarshalJSON decodes either a true group (has "children") or a
// bare step, wrapping the latter in an implicit single-child group.
func (g *StepGroup) UnmarshalJSON(data []byte) error {
	var probe struct {
		Children json.RawMessage `json:"children"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}

	type alias StepGroup
	if probe.Children != nil {
		var a alias
		if err := json.Unmarshal(data, &a); err != nil {
			return err
		}
		*g = StepGroup(a)
		return nil
	}

	var child StepChild
	if err := json.Unmarshal(data, &child); err != nil {
		return err
	}
	*g = StepGroup{
		ID:       child.ID,
		Type:     child.Type,
		Children: []StepChild{child},
		Traits:   child.Traits,
		Actions:  child.Actions,
	}
	return nil
}

// Experience is the parsed content model for one in-app flow.
type Experience struct {
	ID          uuid.UUID   `json:"id"`
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	PublishedAt *time.Time  `json:"publishedAt,omitempty"`
	Traits      []Trait     `json:"traits,omitempty"`
	Steps       []StepGroup `json:"steps"`

	// CompletionActions run after the experience completes, not when
	// it is dismissed early.
	CompletionActions []Action `json:"completionActions,omitempty"`

	// RenderContextName selects where the experience renders:
	// empty or "modal" for the modal context, otherwise the frame id
	// of a named embed.
	RenderContextName string `json:"context,omitempty"`
}

// StepIndex addresses one child step within an experience.
type StepIndex struct {
	Group int `json:"group"`
	Item  int `json:"item"`
}

// String renders the index as "group,item", the form analytics
// events carry.
func (i StepIndex) String() string {
	return fmt.Sprintf("%d,%d", i.Group, i.Item)
}

// Valid reports whether the index addresses an existing step.
func (e *Experience) Valid(index StepIndex) bool {
	if index.Group < 0 || index.Group >= len(e.Steps) {
		return false
	}
	return index.Item >= 0 && index.Item < len(e.Steps[index.Group].Children)
}

// Step returns the child step at the given index.
func (e *Experience) Step(index StepIndex) (StepChild, bool) {
	if !e.Valid(index) {
		return StepChild{}, false
	}
	return e.Steps[index.Group].Children[index.Item], true
}

// StepCount returns the total number of child steps across groups.
func (e *Experience) StepCount() int {
	n := 0
	for _, g := range e.Steps {
		n += len(g.Children)
	}
	return n
}

// FlatIndex converts a StepIndex to a position in the flattened step
// list, or -1 when the index is invalid.
func (e *Experience) FlatIndex(index StepIndex) int {
	if !e.Valid(index) {
		return -1
	}
	n := 0
	for g := 0; g < index.Group; g++ {
		n += len(e.Steps[g].Children)
	}
	return n + index.Item
}

// StepIndexAt converts a flattened step position back to a StepIndex.
func (e *Experience) StepIndexAt(flat int) (StepIndex, bool) {
	if flat < 0 {
		return StepIndex{}, false
	}
	for g, group := range e.Steps {
		if flat < len(group.Children) {
			return StepIndex{Group: g, Item: flat}, true
		}
		flat -= len(group.Children)
	}
	return StepIndex{}, false
}

// FirstIndex returns the index of the first step, or false for an
// experience with no steps.
func (e *Experience) FirstIndex() (StepIndex, bool) {
	return e.StepIndexAt(0)
}

// IsLast reports whether the index addresses the final step.
func (e *Experience) IsLast(index StepIndex) bool {
	return e.FlatIndex(index) == e.StepCount()-1
}

// FailedExperience is the lenient-decode skeleton for a malformed
// experience payload. It preserves identifying fields so analytics
// can still report which experience failed to parse.
type FailedExperience struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Type        string     `json:"type"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`

	// ErrorMessage describes the decode failure.
	ErrorMessage string `json:"-"`
}

// Skeleton extracts the identifying fields from a raw payload on a
// best-effort basis; fields that fail to parse stay zero.
func Skeleton(raw json.RawMessage, decodeErr error) FailedExperience {
	var f FailedExperience
	_ = json.Unmarshal(raw, &f)
	if decodeErr != nil {
		f.ErrorMessage = decodeErr.Error()
	}
	return f
}

// Experiment gates whether a qualified experience actually executes.
type Experiment struct {
	ExperimentID uuid.UUID `json:"experimentId"`
	ExperienceID uuid.UUID `json:"experienceId"`
	Group        string    `json:"group"`
	GoalID       string    `json:"goalId,omitempty"`
	ContentType  string    `json:"contentType,omitempty"`
}

// ShouldExecute reports whether the experience should render. The
// control group is tracked but never shown.
func (x *Experiment) ShouldExecute() bool {
	return x.Group != "control"
}
