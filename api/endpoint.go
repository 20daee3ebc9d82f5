// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package api implements the HTTP transport for activity delivery,
// qualification, and experience content loading.
package api

import (
	"fmt"
	"net/url"

	"github.com/google/uuid"
)

// Endpoint builds request URLs for one account against a configured
// API host. The zero value is not usable; construct with NewEndpoint.
type Endpoint struct {
	host      string
	accountID string
}

// NewEndpoint returns an Endpoint rooted at host (scheme included,
// no trailing slash required) for the given account.
func NewEndpoint(host, accountID string) Endpoint {
	return Endpoint{host: host, accountID: accountID}
}

// Activity is the fire-and-forget activity ingestion URL for a user.
func (e Endpoint) Activity(userID string) string {
	return fmt.Sprintf("%s/v1/accounts/%s/users/%s/activity",
		e.host, e.accountID, url.PathEscape(userID))
}

// Qualify is the qualification URL for a user.
func (e Endpoint) Qualify(userID string) string {
	return fmt.Sprintf("%s/v1/accounts/%s/users/%s/qualify",
		e.host, e.accountID, url.PathEscape(userID))
}

// Content is the published experience content URL.
func (e Endpoint) Content(userID string, experienceID uuid.UUID) string {
	return fmt.Sprintf("%s/v1/accounts/%s/users/%s/experience_content/%s",
		e.host, e.accountID, url.PathEscape(userID), experienceID)
}

// Preview is the unpublished experience preview URL. Preview content
// is user-independent but still scoped to the account.
func (e Endpoint) Preview(experienceID uuid.UUID) string {
	return fmt.Sprintf("%s/v1/accounts/%s/experience_preview/%s",
		e.host, e.accountID, experienceID)
}
