// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package metrics

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_PipelineMarks(t *testing.T) {
	c := NewCollector()
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	id := uuid.New()
	c.Tracked(id)
	clock = clock.Add(200 * time.Millisecond)
	c.Qualified(id)
	clock = clock.Add(50 * time.Millisecond)
	c.Rendered(id)

	assert.Equal(t, float64(1), testutil.ToFloat64(c.trackedTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.qualifiedTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.renderedTotal))
	assert.Equal(t, 0, c.Pending(), "rendered requests are retired")
}

func TestCollector_QualifiedWithoutTrackedIsHarmless(t *testing.T) {
	c := NewCollector()

	c.Qualified(uuid.New())
	c.Rendered(uuid.New())

	assert.Equal(t, 0, c.Pending())
}

func TestCollector_RemoveAndRemoveAll(t *testing.T) {
	c := NewCollector()
	a, b := uuid.New(), uuid.New()
	c.Tracked(a)
	c.Tracked(b)
	require.Equal(t, 2, c.Pending())

	c.Remove(a)
	assert.Equal(t, 1, c.Pending())

	c.RemoveAll()
	assert.Equal(t, 0, c.Pending())
}

func TestCollector_OwnedRegistry(t *testing.T) {
	a := NewCollector()
	b := NewCollector()

	// Two collectors register the same metric names without
	// colliding because each owns its registry.
	families, err := a.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
	assert.NotSame(t, a.Registry(), b.Registry())
}
