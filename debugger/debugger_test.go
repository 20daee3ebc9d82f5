// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package debugger

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appcues/appcues-sdk-go/analytics"
	"github.com/appcues/appcues-sdk-go/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestDebugger_RetainsMostRecentUpdates(t *testing.T) {
	d := New(3, nil)

	for i := 0; i < 5; i++ {
		u := analytics.NewEvent(fmt.Sprintf("event-%d", i), false, nil)
		d.TrackUpdate(u)
	}

	recent := d.Recent()
	require.Len(t, recent, 3)
	assert.Equal(t, "event-2", recent[0].Name)
	assert.Equal(t, "event-3", recent[1].Name)
	assert.Equal(t, "event-4", recent[2].Name)
}

func TestDebugger_CapturesUpdateShape(t *testing.T) {
	d := New(10, nil)

	u := analytics.NewInternalEvent("appcues:session_started", false, map[string]any{"k": "v"})
	d.TrackUpdate(u)
	d.TrackUpdate(analytics.NewScreen("Home", nil))

	recent := d.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, "event", recent[0].Kind)
	assert.True(t, recent[0].Internal)
	assert.Equal(t, "v", recent[0].Properties["k"])
	assert.Equal(t, "screen", recent[1].Kind)
	assert.Equal(t, analytics.ScreenViewEvent, recent[1].Name)
}

func TestDebugger_EventsEndpoint(t *testing.T) {
	d := New(10, nil)
	d.TrackUpdate(analytics.NewEvent("custom", true, nil))
	srv := httptest.NewServer(d.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Events []Entry `json:"events"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Events, 1)
	assert.Equal(t, "custom", body.Events[0].Name)
}

func TestDebugger_StatusEndpoint(t *testing.T) {
	d := New(5, nil)
	d.TrackUpdate(analytics.NewEvent("custom", true, nil))
	srv := httptest.NewServer(d.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["buffered"])
	assert.Equal(t, float64(5), body["capacity"])
}

func TestDebugger_MetricsEndpoint(t *testing.T) {
	collector := metrics.NewCollector()
	d := New(5, nil, WithMetrics(collector))
	srv := httptest.NewServer(d.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
