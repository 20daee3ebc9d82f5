// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/appcues/appcues-sdk-go/activity"
	"github.com/appcues/appcues-sdk-go/experience"
)

const defaultRequestTimeout = 10 * time.Second

// Client posts activity and qualification requests and fetches
// experience content over HTTPS.
//
// # Thread Safety
//
// Client is safe for concurrent use; it carries no mutable state
// beyond the underlying http.Client.
type Client struct {
	httpClient *http.Client
	endpoint   Endpoint
	settings   Endpoint
	log        *slog.Logger
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying http.Client. Tests use this
// to point at an httptest server with a short timeout.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithSettingsHost routes content and preview fetches through the
// CDN-backed settings host. Activity and qualify keep using the API
// host. An empty host leaves the API host in place.
func WithSettingsHost(host string) ClientOption {
	return func(c *Client) {
		if host != "" {
			c.settings = NewEndpoint(host, c.endpoint.accountID)
		}
	}
}

// NewClient builds a Client for one account against the given host.
func NewClient(host, accountID string, log *slog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		endpoint:   NewEndpoint(host, accountID),
		settings:   NewEndpoint(host, accountID),
		log:        log,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c
}

// Endpoint exposes the client's URL builder.
func (c *Client) Endpoint() Endpoint { return c.endpoint }

// PostActivity delivers an activity to the fire-and-forget ingestion
// endpoint. The response body is discarded; only the status matters.
func (c *Client) PostActivity(ctx context.Context, a *activity.Activity) error {
	if a == nil {
		return fmt.Errorf("%w: nil activity", ErrInvalidInput)
	}
	_, err := c.post(ctx, c.endpoint.Activity(a.UserID), a)
	return err
}

// PostQualify delivers an activity to the qualify endpoint and
// decodes the qualification result. The activity's requestID rides
// in the body for idempotency and reply correlation.
func (c *Client) PostQualify(ctx context.Context, a *activity.Activity) (*QualifyResponse, error) {
	if a == nil {
		return nil, fmt.Errorf("%w: nil activity", ErrInvalidInput)
	}
	body, err := c.post(ctx, c.endpoint.Qualify(a.UserID), a)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, ErrNoContent
	}
	resp, err := DecodeQualifyResponse(body)
	if err != nil {
		return nil, fmt.Errorf("decode qualify response: %w", err)
	}
	resp.RequestID = a.RequestID
	return resp, nil
}

// GetContent fetches a published experience by id from the settings
// host.
func (c *Client) GetContent(ctx context.Context, userID, userSignature string, experienceID uuid.UUID) (*experience.Experience, error) {
	return c.getExperience(ctx, c.settings.Content(userID, experienceID), userSignature)
}

// GetPreview fetches an unpublished preview experience by id from the
// settings host.
func (c *Client) GetPreview(ctx context.Context, userSignature string, experienceID uuid.UUID) (*experience.Experience, error) {
	return c.getExperience(ctx, c.settings.Preview(experienceID), userSignature)
}

func (c *Client) getExperience(ctx context.Context, url, userSignature string) (*experience.Experience, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	authorize(req, userSignature)

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var e experience.Experience
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("decode experience: %w", err)
	}
	return &e, nil
}

func (c *Client) post(ctx context.Context, url string, a *activity.Activity) ([]byte, error) {
	bodyBytes, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal activity: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	authorize(req, a.UserSignature)

	c.log.Debug("posting activity",
		"url", url,
		"request_id", a.RequestID,
		"events", len(a.Events))

	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// authorize attaches bearer authorization derived from the user
// signature, when identity verification is enabled for the account.
func authorize(req *http.Request, userSignature string) {
	if userSignature != "" {
		req.Header.Set("Authorization", "Bearer "+userSignature)
	}
}
