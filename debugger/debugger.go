// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package debugger is a headless diagnostic tap on the analytics
// stream: a bounded ring buffer of recent decorated updates, plus an
// optional local HTTP server for inspecting them during development.
//
// It registers as a normal analytics subscriber and has no effect on
// delivery.
package debugger

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/appcues/appcues-sdk-go/analytics"
	"github.com/appcues/appcues-sdk-go/metrics"
)

const defaultCapacity = 200

// Entry is one captured analytics update.
type Entry struct {
	Timestamp  time.Time      `json:"timestamp"`
	Kind       string         `json:"kind"`
	Name       string         `json:"name,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Internal   bool           `json:"internal"`
}

// Debugger buffers the most recent analytics updates.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Debugger struct {
	log       *slog.Logger
	startedAt time.Time

	// collector, when set, exposes the SDK metrics registry on the
	// inspection server.
	collector *metrics.Collector

	mu  sync.Mutex
	buf *ringBuffer[Entry]
}

// Option configures a Debugger.
type Option func(*Debugger)

// WithMetrics mounts the collector's registry at /v1/metrics.
func WithMetrics(c *metrics.Collector) Option {
	return func(d *Debugger) { d.collector = c }
}

// New builds a debugger retaining the last capacity updates.
func New(capacity int, log *slog.Logger, opts ...Option) *Debugger {
	if log == nil {
		log = slog.Default()
	}
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	d := &Debugger{
		log:       log,
		startedAt: time.Now(),
		buf:       newRingBuffer[Entry](capacity),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// TrackUpdate implements analytics.Subscriber.
func (d *Debugger) TrackUpdate(u analytics.TrackingUpdate) {
	entry := Entry{
		Timestamp:  u.Timestamp,
		Kind:       string(u.Type.Kind),
		Name:       u.EventName(),
		Properties: u.Properties,
		Internal:   u.IsInternal,
	}
	d.mu.Lock()
	d.buf.push(entry)
	d.mu.Unlock()
}

// Recent returns the buffered entries oldest-first.
func (d *Debugger) Recent() []Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buf.snapshot()
}

// Router builds the inspection routes: GET /v1/events for the recent
// buffer and GET /v1/status for liveness and buffer occupancy.
func (d *Debugger) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/v1/events", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"events": d.Recent()})
	})
	router.GET("/v1/status", func(c *gin.Context) {
		d.mu.Lock()
		buffered := d.buf.len()
		capacity := d.buf.capacity()
		d.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"uptime":   time.Since(d.startedAt).String(),
			"buffered": buffered,
			"capacity": capacity,
		})
	})
	if d.collector != nil {
		handler := promhttp.HandlerFor(d.collector.Registry(), promhttp.HandlerOpts{})
		router.GET("/v1/metrics", gin.WrapH(handler))
	}
	return router
}

// Serve runs the inspection server until the listener fails. Meant
// for local development only; never expose this beyond localhost.
func (d *Debugger) Serve(addr string) error {
	d.log.Info("debugger server listening", "addr", addr)
	return d.Router().Run(addr)
}
