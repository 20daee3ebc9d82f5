// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package processor

import (
	"context"
	"errors"
	"net"
	"syscall"

	"github.com/appcues/appcues-sdk-go/api"
)

// RetryClassifier decides whether a delivery error is transient. A
// retriable failure leaves the activity in the store for a future
// batch; anything else is terminal and the activity is deleted.
type RetryClassifier func(err error) bool

// DefaultRetryClassifier retries only client-side connectivity
// failures: refused/reset/unreachable connections, DNS trouble,
// timeouts, and cancelled or expired contexts. Server responses of
// any status are terminal so a poisoned activity cannot retry
// forever.
func DefaultRetryClassifier(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// RetryServerFaults extends the default set with retriable server
// responses (5xx and 429). Opt-in via WithRetryClassifier for hosts
// that prefer durability over bounded retry.
func RetryServerFaults(err error) bool {
	if DefaultRetryClassifier(err) {
		return true
	}
	var statusErr *api.StatusError
	return errors.As(err, &statusErr) && statusErr.Retriable()
}
