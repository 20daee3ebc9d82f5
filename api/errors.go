// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package api

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput indicates a nil or malformed argument.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoContent indicates the server returned an empty body where
	// content was required.
	ErrNoContent = errors.New("no content in response")
)

// StatusError is a non-2xx HTTP response. The status code lets the
// retry classifier distinguish server faults from client errors.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Retriable reports whether the response indicates a transient server
// condition worth retrying.
func (e *StatusError) Retriable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}
