// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package statemachine

import "github.com/appcues/appcues-sdk-go/experience"

// Transition is one table entry: the state to move to (nil = stay,
// but still run the side effect), an optional side effect, and
// whether the observer list resets.
type Transition struct {
	To             *State
	SideEffect     SideEffect
	ResetObservers bool
}

// transition is the pure lookup over (state, action). It touches no
// machine state and performs no IO; actions without an entry get an
// InvalidTransitionError.
func transition(current State, action Action) (Transition, error) {
	switch action.Kind {
	case ActionStartExperience:
		return transitionStartExperience(current, action)
	case ActionStartStep:
		return transitionStartStep(current, action)
	case ActionRenderStep:
		if current.Kind == StateBeginningStep {
			to := current
			to.Kind = StateRenderingStep
			return Transition{To: &to}, nil
		}
	case ActionEndExperience:
		return transitionEndExperience(current, action)
	case ActionReset:
		if current.Kind == StateEndingExperience {
			tr := Transition{To: &State{Kind: StateIdling}, ResetObservers: true}
			if current.MarkComplete {
				tr.SideEffect = &processActionsEffect{data: current.Data}
			}
			return tr, nil
		}
	case ActionReportError:
		// Valid from any state.
		if action.RetryEffect != nil {
			target := current
			return Transition{
				To: &State{
					Kind:        StateFailing,
					Data:        current.Data,
					Target:      &target,
					RetryEffect: action.RetryEffect,
				},
				SideEffect: &errorEffect{err: action.Err},
			}, nil
		}
		return Transition{
			To:             &State{Kind: StateIdling},
			SideEffect:     &errorEffect{err: action.Err},
			ResetObservers: true,
		}, nil
	case ActionRetry:
		if current.Kind == StateFailing && current.Target != nil {
			return Transition{To: current.Target, SideEffect: current.RetryEffect}, nil
		}
	}
	return Transition{}, &InvalidTransitionError{From: current.Kind, Action: action.Kind}
}

func transitionStartExperience(current State, action Action) (Transition, error) {
	switch current.Kind {
	case StateIdling:
		if action.Data == nil || action.Data.Experience.StepCount() == 0 {
			// Stay idling; the error still reaches observers and the
			// caller.
			return Transition{SideEffect: &errorEffect{err: NoStepsInExperience(action.Data)}}, nil
		}
		to := State{Kind: StateBeginningExperience, Data: action.Data}
		return Transition{
			To:         &to,
			SideEffect: &continuationEffect{action: StartStep(experience.RefIndex(0))},
		}, nil
	case StateFailing:
		// Observers deliberately survive this boundary so the
		// analytics observer spans the failed and retried attempts.
		return Transition{
			To:         &State{Kind: StateIdling},
			SideEffect: &continuationEffect{action: action},
		}, nil
	default:
		return Transition{SideEffect: &errorEffect{err: ExperienceAlreadyActive(action.Data)}}, nil
	}
}

func transitionStartStep(current State, action Action) (Transition, error) {
	switch current.Kind {
	case StateBeginningExperience:
		e := current.Data.Experience
		target, ok := action.StepRef.Resolve(e, experience.StepIndex{})
		if !ok {
			return Transition{SideEffect: &errorEffect{err: NoSuchStep(current.Data, action.StepRef)}}, nil
		}
		to := State{Kind: StateBeginningStep, Data: current.Data, StepIndex: target, IsFirst: true}
		return Transition{
			To:         &to,
			SideEffect: &presentContainerEffect{index: target},
		}, nil

	case StateRenderingStep:
		e := current.Data.Experience
		if target, ok := action.StepRef.Resolve(e, current.StepIndex); ok {
			to := current
			to.Kind = StateEndingStep
			to.MarkComplete = e.FlatIndex(target) > e.FlatIndex(current.StepIndex)
			return Transition{
				To:         &to,
				SideEffect: &navigateEffect{ref: action.StepRef},
			}, nil
		}
		if action.StepRef.IsImplicitCompletion(e, current.StepIndex) {
			// One past the last step means "finish", not "fail".
			to := current
			to.Kind = StateEndingStep
			to.MarkComplete = true
			return Transition{
				To:         &to,
				SideEffect: &continuationEffect{action: EndExperience(true)},
			}, nil
		}
		return Transition{SideEffect: &errorEffect{err: NoSuchStep(current.Data, action.StepRef)}}, nil

	case StateEndingStep:
		e := current.Data.Experience
		target, ok := action.StepRef.Resolve(e, current.StepIndex)
		if !ok {
			return Transition{SideEffect: &errorEffect{err: NoSuchStep(current.Data, action.StepRef)}}, nil
		}
		to := State{Kind: StateBeginningStep, Data: current.Data, StepIndex: target}
		return Transition{
			To:         &to,
			SideEffect: &presentContainerEffect{index: target},
		}, nil

	default:
		return Transition{}, &InvalidTransitionError{From: current.Kind, Action: action.Kind}
	}
}

func transitionEndExperience(current State, action Action) (Transition, error) {
	switch current.Kind {
	case StateRenderingStep:
		to := current
		to.Kind = StateEndingStep
		to.MarkComplete = action.MarkComplete
		return Transition{
			To:         &to,
			SideEffect: &continuationEffect{action: EndExperience(action.MarkComplete)},
		}, nil
	case StateEndingStep:
		to := current
		to.Kind = StateEndingExperience
		to.MarkComplete = action.MarkComplete
		return Transition{
			To:         &to,
			SideEffect: &dismissEffect{markComplete: action.MarkComplete},
		}, nil
	case StateFailing:
		return Transition{To: &State{Kind: StateIdling}, ResetObservers: true}, nil
	default:
		return Transition{}, &InvalidTransitionError{From: current.Kind, Action: action.Kind}
	}
}
