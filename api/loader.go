// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package api

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/appcues/appcues-sdk-go/experience"
)

// Identity supplies the current user credentials for content loads.
// The data store implements this; the indirection keeps the loader
// from capturing a stale user after identity changes.
type Identity interface {
	UserID() string
	UserSignature() string
}

// ContentLoader fetches experiences by id, deduplicating concurrent
// loads of the same experience so a deep link and a completion chain
// racing for the same flow produce a single request.
type ContentLoader struct {
	client   *Client
	identity Identity
	group    singleflight.Group
}

// NewContentLoader builds a loader over the given client and
// identity source.
func NewContentLoader(client *Client, identity Identity) *ContentLoader {
	return &ContentLoader{client: client, identity: identity}
}

// Load fetches a published experience by id.
func (l *ContentLoader) Load(ctx context.Context, experienceID uuid.UUID) (*experience.Experience, error) {
	v, err, _ := l.group.Do("content/"+experienceID.String(), func() (any, error) {
		return l.client.GetContent(ctx, l.identity.UserID(), l.identity.UserSignature(), experienceID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*experience.Experience), nil
}

// LoadPreview fetches an unpublished preview experience by id.
func (l *ContentLoader) LoadPreview(ctx context.Context, experienceID uuid.UUID) (*experience.Experience, error) {
	v, err, _ := l.group.Do("preview/"+experienceID.String(), func() (any, error) {
		return l.client.GetPreview(ctx, l.identity.UserSignature(), experienceID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*experience.Experience), nil
}
