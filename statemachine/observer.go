// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package statemachine

// Result is one observer notification: a successful transition
// carries the new state, a failure carries the error.
type Result struct {
	State State
	Err   *ExperienceError
}

// Failed reports whether the result is a failure.
func (r Result) Failed() bool { return r.Err != nil }

// Observer watches machine transitions. EvaluateIfSatisfied returns
// true once the observer is done, which removes it from the machine;
// returning false keeps it subscribed.
//
// # Thread Safety
//
// Observers are invoked with the machine lock held and must not call
// back into the machine synchronously.
type Observer interface {
	EvaluateIfSatisfied(result Result) bool
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(result Result) bool

func (f ObserverFunc) EvaluateIfSatisfied(result Result) bool { return f(result) }
