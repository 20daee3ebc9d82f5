// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package experience

import "github.com/google/uuid"

// StepRefKind discriminates the ways a step can be referenced.
type StepRefKind string

const (
	// RefKindIndex addresses a step by flattened position.
	RefKindIndex StepRefKind = "index"

	// RefKindOffset addresses a step relative to the current one.
	RefKindOffset StepRefKind = "offset"

	// RefKindStepID addresses a step by its id.
	RefKindStepID StepRefKind = "stepID"
)

// StepReference identifies a target step by index, relative offset,
// or step id.
type StepReference struct {
	Kind   StepRefKind
	Index  int
	Offset int
	StepID uuid.UUID
}

// RefIndex references a step by flattened position.
func RefIndex(i int) StepReference {
	return StepReference{Kind: RefKindIndex, Index: i}
}

// RefOffset references a step relative to the current one. Offset 1
// is "next step", -1 is "previous step".
func RefOffset(n int) StepReference {
	return StepReference{Kind: RefKindOffset, Offset: n}
}

// RefStepID references a step by id.
func RefStepID(id uuid.UUID) StepReference {
	return StepReference{Kind: RefKindStepID, StepID: id}
}

// Resolve maps the reference to a concrete StepIndex within the
// experience, relative to the current index for offset references.
// The second result is false when the reference does not address an
// existing step.
func (r StepReference) Resolve(e *Experience, current StepIndex) (StepIndex, bool) {
	switch r.Kind {
	case RefKindIndex:
		return e.StepIndexAt(r.Index)
	case RefKindOffset:
		flat := e.FlatIndex(current)
		if flat < 0 {
			return StepIndex{}, false
		}
		return e.StepIndexAt(flat + r.Offset)
	case RefKindStepID:
		flat := 0
		for g, group := range e.Steps {
			// A group id resolves to its first child.
			if group.ID == r.StepID && len(group.Children) > 0 {
				return StepIndex{Group: g, Item: 0}, true
			}
			for i, child := range group.Children {
				if child.ID == r.StepID {
					return StepIndex{Group: g, Item: i}, true
				}
			}
			flat += len(group.Children)
		}
		return StepIndex{}, false
	default:
		return StepIndex{}, false
	}
}

// IsImplicitCompletion reports whether an unresolvable reference is
// the special "one past the last step" case: a forward offset of
// exactly 1 from the final step means "complete the experience", not
// an error.
func (r StepReference) IsImplicitCompletion(e *Experience, current StepIndex) bool {
	return r.Kind == RefKindOffset && r.Offset == 1 && e.IsLast(current)
}
