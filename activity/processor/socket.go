// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package processor

import (
	"context"
	"log/slog"

	"github.com/appcues/appcues-sdk-go/activity"
	"github.com/appcues/appcues-sdk-go/api"
	"github.com/appcues/appcues-sdk-go/socket"
)

// activityEvent is the channel event carrying an activity for
// qualification.
const activityEvent = "message"

// SocketProcessor delivers the current activity over the persistent
// socket and never retries: an activity that cannot be sent right now
// is simply reported as failed. Durable delivery stays on the HTTP
// processor.
type SocketProcessor struct {
	client *socket.Client
	log    *slog.Logger
}

// NewSocket builds a socket processor over a connected (or
// connectable) channel client.
func NewSocket(client *socket.Client, log *slog.Logger) *SocketProcessor {
	if log == nil {
		log = slog.Default()
	}
	return &SocketProcessor{client: client, log: log}
}

// Process sends the activity as a channel event and decodes the
// ref-matched reply as a qualification result. Fails fast with
// socket.ErrNotConnected when the channel is down; nothing is
// persisted.
func (p *SocketProcessor) Process(ctx context.Context, a *activity.Activity, completion Completion) {
	if completion == nil {
		completion = func(*api.QualifyResponse, error) {}
	}
	if !p.client.IsConnected() {
		go completion(nil, socket.ErrNotConnected)
		return
	}

	go func() {
		reply, err := p.client.SendEvent(ctx, activityEvent, a)
		if err != nil {
			p.log.Info("socket delivery failed", "request_id", a.RequestID, "error", err.Error())
			completion(nil, err)
			return
		}
		resp, err := api.DecodeSocketQualifyResponse(reply)
		if err != nil {
			completion(nil, err)
			return
		}
		resp.RequestID = a.RequestID
		completion(resp, nil)
	}()
}
