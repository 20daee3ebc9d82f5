// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package processor implements at-least-once activity delivery.
//
// The HTTP processor persists every activity before transmission and
// folds previously failed activities into each new send as a retry
// batch, so analytics survive process death and flaky connectivity.
// The socket processor trades durability for latency: it sends only
// the current activity over the persistent channel and fails fast
// when disconnected. Both satisfy ActivityProcessing so the tracker
// never knows which transport it is on.
package processor

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/appcues/appcues-sdk-go/activity"
	"github.com/appcues/appcues-sdk-go/activity/storage"
	"github.com/appcues/appcues-sdk-go/api"
)

// Completion receives the outcome of a Process call. Exactly one of
// resp/err is meaningful; resp is the qualification result for the
// triggering activity.
type Completion func(resp *api.QualifyResponse, err error)

// ActivityProcessing is the delivery contract shared by the HTTP and
// socket processors.
type ActivityProcessing interface {
	// Process delivers one activity asynchronously and reports the
	// qualification outcome through completion. Completion runs on a
	// background goroutine.
	Process(ctx context.Context, a *activity.Activity, completion Completion)
}

// Config bounds the retry batch.
type Config struct {
	// StorageMaxSize caps how many stored activities join a retry
	// batch; older excess is deleted.
	StorageMaxSize int

	// StorageMaxAge, when non-zero, deletes stored activities older
	// than this instead of retrying them.
	StorageMaxAge time.Duration
}

// HTTPProcessor delivers activities over the HTTP API with durable
// batch retry.
//
// # Thread Safety
//
// The in-flight set and batch computation serialize under one mutex;
// transmission happens outside it. In-flight marking is synchronous
// with Process so two racing calls can never both pick up the same
// stored activity; removal is asynchronous after each send.
type HTTPProcessor struct {
	client     *api.Client
	store      storage.Storing
	cfg        Config
	classifier RetryClassifier
	log        *slog.Logger

	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}
}

// HTTPOption customizes an HTTPProcessor.
type HTTPOption func(*HTTPProcessor)

// WithRetryClassifier replaces the retriable-error classifier.
func WithRetryClassifier(c RetryClassifier) HTTPOption {
	return func(p *HTTPProcessor) { p.classifier = c }
}

// NewHTTP builds an HTTP processor over the given client and store.
func NewHTTP(client *api.Client, store storage.Storing, cfg Config, log *slog.Logger, opts ...HTTPOption) *HTTPProcessor {
	p := &HTTPProcessor{
		client:     client,
		store:      store,
		cfg:        cfg,
		classifier: DefaultRetryClassifier,
		log:        log,
		inFlight:   make(map[uuid.UUID]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	return p
}

// Process persists the activity, folds in stored-but-not-in-flight
// activities as a retry batch, and transmits the batch oldest-first
// with the triggering activity last. The triggering activity goes to
// the qualify endpoint and its result feeds completion; retry items
// go to the fire-and-forget activity endpoint.
func (p *HTTPProcessor) Process(ctx context.Context, a *activity.Activity, completion Completion) {
	if completion == nil {
		completion = func(*api.QualifyResponse, error) {}
	}

	p.mu.Lock()
	p.inFlight[a.RequestID] = struct{}{}

	if err := p.store.Save(ctx, a); err != nil {
		delete(p.inFlight, a.RequestID)
		p.mu.Unlock()
		p.log.Error("failed to persist activity", "request_id", a.RequestID, "error", err.Error())
		go completion(nil, err)
		return
	}

	batch := p.retryBatchLocked(ctx, a)
	batch = append(batch, a)
	for _, item := range batch {
		p.inFlight[item.RequestID] = struct{}{}
	}
	p.mu.Unlock()

	go p.send(ctx, batch, a.RequestID, completion)
}

// retryBatchLocked selects stored activities eligible for retry:
// everything not in flight, oldest first, capped to StorageMaxSize
// most recent and optionally to StorageMaxAge. Excess and expired
// items are deleted from the store. Caller holds p.mu.
func (p *HTTPProcessor) retryBatchLocked(ctx context.Context, current *activity.Activity) []*activity.Activity {
	stored, err := p.store.Read(ctx)
	if err != nil {
		p.log.Warn("failed to read stored activities, skipping retry batch", "error", err.Error())
		return nil
	}

	var candidates []*activity.Activity
	for _, item := range stored {
		if item.RequestID == current.RequestID {
			continue
		}
		if _, busy := p.inFlight[item.RequestID]; busy {
			continue
		}
		candidates = append(candidates, item)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Created.Before(candidates[j].Created)
	})

	if excess := len(candidates) - p.cfg.StorageMaxSize; excess > 0 {
		for _, old := range candidates[:excess] {
			p.log.Debug("dropping stored activity beyond size cap", "request_id", old.RequestID)
			if err := p.store.Remove(ctx, old.RequestID); err != nil {
				p.log.Warn("failed to delete capped activity", "request_id", old.RequestID, "error", err.Error())
			}
		}
		candidates = candidates[excess:]
	}

	if p.cfg.StorageMaxAge > 0 {
		cutoff := time.Now().Add(-p.cfg.StorageMaxAge)
		kept := candidates[:0]
		for _, item := range candidates {
			if item.Created.Before(cutoff) {
				p.log.Debug("dropping stored activity beyond age cap", "request_id", item.RequestID)
				if err := p.store.Remove(ctx, item.RequestID); err != nil {
					p.log.Warn("failed to delete expired activity", "request_id", item.RequestID, "error", err.Error())
				}
				continue
			}
			kept = append(kept, item)
		}
		candidates = kept
	}

	return candidates
}

// send drains the batch front-first. The triggering activity is the
// final element; reaching it switches to the qualify endpoint and
// ends the batch with the completion call.
func (p *HTTPProcessor) send(ctx context.Context, batch []*activity.Activity, currentID uuid.UUID, completion Completion) {
	for _, item := range batch {
		if item.RequestID == currentID {
			resp, err := p.client.PostQualify(ctx, item)
			p.finish(ctx, item, err)
			completion(resp, err)
			return
		}

		err := p.client.PostActivity(ctx, item)
		if err != nil {
			p.log.Info("retry delivery failed", "request_id", item.RequestID, "error", err.Error())
		}
		p.finish(ctx, item, err)
	}
}

// finish applies per-item post-processing: successful or terminally
// failed items leave the store; every item leaves the in-flight set
// so a later cycle can retry it.
func (p *HTTPProcessor) finish(ctx context.Context, item *activity.Activity, sendErr error) {
	if sendErr == nil || !p.classifier(sendErr) {
		if err := p.store.Remove(ctx, item.RequestID); err != nil {
			p.log.Warn("failed to remove delivered activity", "request_id", item.RequestID, "error", err.Error())
		}
	}

	p.mu.Lock()
	delete(p.inFlight, item.RequestID)
	p.mu.Unlock()
}

// InFlightCount reports the current in-flight set size.
func (p *HTTPProcessor) InFlightCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inFlight)
}
