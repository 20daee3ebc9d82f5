// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package metrics tracks per-request timing through the delivery
// pipeline: tracked (activity created), qualified (response
// received), rendered (experience on screen).
//
// The collector is an owned, injected component with an owned
// prometheus registry, never a process-wide global. It is created
// with the SDK instance and torn down with it.
package metrics

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

type requestMarks struct {
	trackedAt   time.Time
	qualifiedAt time.Time
}

// Collector records pipeline timing marks keyed by activity request
// id.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Collector struct {
	registry *prometheus.Registry

	trackedTotal   prometheus.Counter
	qualifiedTotal prometheus.Counter
	renderedTotal  prometheus.Counter
	qualifyLatency prometheus.Histogram
	renderLatency  prometheus.Histogram

	// now is injectable for latency tests.
	now func() time.Time

	mu    sync.Mutex
	marks map[uuid.UUID]*requestMarks
}

// NewCollector builds a collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		trackedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "appcues",
			Subsystem: "sdk",
			Name:      "activities_tracked_total",
			Help:      "Activities created by the analytics tracker.",
		}),
		qualifiedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "appcues",
			Subsystem: "sdk",
			Name:      "activities_qualified_total",
			Help:      "Qualify responses received.",
		}),
		renderedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "appcues",
			Subsystem: "sdk",
			Name:      "experiences_rendered_total",
			Help:      "Experiences that reached the rendering state.",
		}),
		qualifyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "appcues",
			Subsystem: "sdk",
			Name:      "qualify_latency_seconds",
			Help:      "Time from tracking an activity to its qualify response.",
			Buckets:   prometheus.DefBuckets,
		}),
		renderLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "appcues",
			Subsystem: "sdk",
			Name:      "render_latency_seconds",
			Help:      "Time from qualify response to first rendered step.",
			Buckets:   prometheus.DefBuckets,
		}),
		now:   time.Now,
		marks: make(map[uuid.UUID]*requestMarks),
	}
	c.registry.MustRegister(
		c.trackedTotal,
		c.qualifiedTotal,
		c.renderedTotal,
		c.qualifyLatency,
		c.renderLatency,
	)
	return c
}

// Registry exposes the owned registry so the host (or the debugger
// server) can mount it.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Tracked marks an activity as created.
func (c *Collector) Tracked(requestID uuid.UUID) {
	c.trackedTotal.Inc()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.marks[requestID] = &requestMarks{trackedAt: c.now()}
}

// Qualified marks the qualify response for a tracked request and
// observes the qualify latency.
func (c *Collector) Qualified(requestID uuid.UUID) {
	c.qualifiedTotal.Inc()
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.marks[requestID]
	if !ok {
		return
	}
	m.qualifiedAt = c.now()
	c.qualifyLatency.Observe(m.qualifiedAt.Sub(m.trackedAt).Seconds())
}

// Rendered marks the first rendered step for a request, observes the
// render latency, and retires the entry.
func (c *Collector) Rendered(requestID uuid.UUID) {
	c.renderedTotal.Inc()
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.marks[requestID]
	if ok && !m.qualifiedAt.IsZero() {
		c.renderLatency.Observe(c.now().Sub(m.qualifiedAt).Seconds())
	}
	delete(c.marks, requestID)
}

// Remove retires a request without observing anything, e.g. when the
// qualify response carried no renderable content.
func (c *Collector) Remove(requestID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.marks, requestID)
}

// RemoveAll drops every pending mark. Used on session reset.
func (c *Collector) RemoveAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.marks = make(map[uuid.UUID]*requestMarks)
}

// Pending reports how many requests have unretired marks.
func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.marks)
}
