// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package appcues

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appcues/appcues-sdk-go/api"
	"github.com/appcues/appcues-sdk-go/config"
	"github.com/appcues/appcues-sdk-go/experience"
	"github.com/appcues/appcues-sdk-go/statemachine"
)

type recordingPresenter struct {
	mu         sync.Mutex
	presents   int
	dismissals []bool
}

func (p *recordingPresenter) Present(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.presents++
	return nil
}

func (p *recordingPresenter) Navigate(ctx context.Context, item int) error { return nil }

func (p *recordingPresenter) Dismiss(ctx context.Context, markComplete bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dismissals = append(p.dismissals, markComplete)
	return nil
}

func (p *recordingPresenter) presented() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.presents
}

func (p *recordingPresenter) dismissed() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.dismissals...)
}

type singlePresenterComposer struct {
	presenter *recordingPresenter
}

func (c *singlePresenterComposer) Package(ctx context.Context, data *experience.Data, index experience.StepIndex) (*statemachine.ExperiencePackage, error) {
	return &statemachine.ExperiencePackage{
		StepIndex: index,
		GroupID:   data.Experience.Steps[index.Group].ID,
		Presenter: c.presenter,
	}, nil
}

type noopRegistry struct{}

func (noopRegistry) ProcessActions(ctx context.Context, data *experience.Data, actions []experience.Action) {
}

// apiFixture serves the activity, qualify, and content endpoints the
// SDK reaches during a test.
type apiFixture struct {
	server      *httptest.Server
	experiences map[uuid.UUID]*experience.Experience
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{experiences: map[uuid.UUID]*experience.Experience{}}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/activity"):
			fmt.Fprint(w, `{}`)
		case strings.HasSuffix(r.URL.Path, "/qualify"):
			fmt.Fprint(w, `{"experiences":[],"performedQualification":true}`)
		case strings.Contains(r.URL.Path, "/experience_content/"), strings.Contains(r.URL.Path, "/experience_preview/"):
			parts := strings.Split(r.URL.Path, "/")
			id, err := uuid.Parse(parts[len(parts)-1])
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			e, ok := f.experiences[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(e)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *apiFixture) serve(e *experience.Experience) {
	f.experiences[e.ID] = e
}

func modalExperience(name string) *experience.Experience {
	return &experience.Experience{
		ID:   uuid.New(),
		Name: name,
		Type: "mobile",
		Steps: []experience.StepGroup{
			{
				ID:   uuid.New(),
				Type: "group",
				Children: []experience.StepChild{
					{ID: uuid.New(), Type: "modal"},
				},
			},
		},
	}
}

func newTestSDK(t *testing.T, f *apiFixture) (*SDK, *recordingPresenter) {
	t.Helper()
	cfg := config.New("12345", "test-app",
		config.WithAPIHost(f.server.URL),
		config.WithSettingsHost(f.server.URL),
		config.WithInMemoryStorage())
	presenter := &recordingPresenter{}
	sdk, err := New(cfg, &singlePresenterComposer{presenter: presenter}, noopRegistry{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sdk.Close() })
	return sdk, presenter
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.New("", "test-app", config.WithInMemoryStorage())
	_, err := New(cfg, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestSDK_ShowPresentsLoadedExperience(t *testing.T) {
	f := newAPIFixture(t)
	e := modalExperience("Welcome Tour")
	f.serve(e)
	sdk, presenter := newTestSDK(t, f)
	ctx := context.Background()

	sdk.Identify(ctx, "user-1", nil)
	require.NoError(t, sdk.Show(ctx, e.ID))
	assert.Equal(t, 1, presenter.presented())
}

func TestSDK_ShowUnknownExperienceFails(t *testing.T) {
	f := newAPIFixture(t)
	sdk, presenter := newTestSDK(t, f)
	ctx := context.Background()

	sdk.Identify(ctx, "user-1", nil)
	err := sdk.Show(ctx, uuid.New())
	require.Error(t, err)
	assert.Equal(t, 0, presenter.presented())
}

func TestSDK_ShowPreviewPresentsUnpublished(t *testing.T) {
	f := newAPIFixture(t)
	e := modalExperience("Draft Tour")
	f.serve(e)
	sdk, presenter := newTestSDK(t, f)
	ctx := context.Background()

	sdk.Identify(ctx, "user-1", nil)
	require.NoError(t, sdk.ShowPreview(ctx, e.ID))
	assert.Equal(t, 1, presenter.presented())
}

func TestSDK_IdentifyNewUserDismissesExperiences(t *testing.T) {
	f := newAPIFixture(t)
	e := modalExperience("Welcome Tour")
	f.serve(e)
	sdk, presenter := newTestSDK(t, f)
	ctx := context.Background()

	sdk.Identify(ctx, "user-1", nil)
	require.NoError(t, sdk.Show(ctx, e.ID))

	sdk.Identify(ctx, "user-2", nil)
	assert.Equal(t, []bool{false}, presenter.dismissed())
}

func TestSDK_IdentifySameUserKeepsExperiences(t *testing.T) {
	f := newAPIFixture(t)
	e := modalExperience("Welcome Tour")
	f.serve(e)
	sdk, presenter := newTestSDK(t, f)
	ctx := context.Background()

	sdk.Identify(ctx, "user-1", nil)
	require.NoError(t, sdk.Show(ctx, e.ID))

	sdk.Identify(ctx, "user-1", map[string]any{"plan": "pro"})
	assert.Empty(t, presenter.dismissed())
}

func TestSDK_IdentifyEmptyUserIgnored(t *testing.T) {
	f := newAPIFixture(t)
	sdk, _ := newTestSDK(t, f)

	sdk.Identify(context.Background(), "", nil)
	assert.Equal(t, 0, sdk.Metrics().Pending(), "no activity tracked for an ignored identify")
}

func TestSDK_TrackedActivityMarksMetrics(t *testing.T) {
	f := newAPIFixture(t)
	sdk, _ := newTestSDK(t, f)
	ctx := context.Background()

	sdk.Identify(ctx, "user-1", nil)
	sdk.Screen(ctx, "Home", nil)
	sdk.Track(ctx, "button_tapped", map[string]any{"id": "cta"})

	// Every tracked activity qualified against the empty fixture
	// response, so nothing stays pending.
	assert.Equal(t, 0, sdk.Metrics().Pending())
}

func TestSDK_HandleQualificationRemovesEmptyResults(t *testing.T) {
	f := newAPIFixture(t)
	sdk, _ := newTestSDK(t, f)
	ctx := context.Background()
	sdk.Identify(ctx, "user-1", nil)

	id := uuid.New()
	sdk.Metrics().Tracked(id)
	sdk.HandleQualification(ctx, &api.QualifyResponse{RequestID: id})
	assert.Equal(t, 0, sdk.Metrics().Pending())
}

func TestSDK_HandleQualificationRendersExperiences(t *testing.T) {
	f := newAPIFixture(t)
	sdk, presenter := newTestSDK(t, f)
	ctx := context.Background()
	sdk.Identify(ctx, "user-1", nil)

	id := uuid.New()
	sdk.Metrics().Tracked(id)
	sdk.HandleQualification(ctx, &api.QualifyResponse{
		RequestID:           id,
		Experiences:         []*experience.Experience{modalExperience("Qualified Tour")},
		QualificationReason: "screen_view",
	})
	assert.Equal(t, 1, presenter.presented())
	assert.Equal(t, 0, sdk.Metrics().Pending())
}

func TestSDK_GroupPublishesUpdate(t *testing.T) {
	f := newAPIFixture(t)
	sdk, _ := newTestSDK(t, f)
	ctx := context.Background()

	sdk.Identify(ctx, "user-1", nil)
	groupID := "group-9"
	sdk.Group(ctx, &groupID, map[string]any{"tier": "enterprise"})
	sdk.Group(ctx, nil, nil)
	assert.Equal(t, 0, sdk.Metrics().Pending())
}

func TestSDK_AnonymousIdentifies(t *testing.T) {
	f := newAPIFixture(t)
	sdk, _ := newTestSDK(t, f)

	sdk.Anonymous(context.Background())
	assert.Equal(t, 0, sdk.Metrics().Pending())
}

func TestSDK_ResetDismissesAndClears(t *testing.T) {
	f := newAPIFixture(t)
	e := modalExperience("Welcome Tour")
	f.serve(e)
	sdk, presenter := newTestSDK(t, f)
	ctx := context.Background()

	sdk.Identify(ctx, "user-1", nil)
	require.NoError(t, sdk.Show(ctx, e.ID))

	sdk.Reset(ctx)
	assert.Equal(t, []bool{false}, presenter.dismissed())
	assert.Equal(t, 0, sdk.Metrics().Pending())
}

func TestSDK_DismissEndsModalExperience(t *testing.T) {
	f := newAPIFixture(t)
	e := modalExperience("Welcome Tour")
	f.serve(e)
	sdk, presenter := newTestSDK(t, f)
	ctx := context.Background()

	sdk.Identify(ctx, "user-1", nil)
	require.NoError(t, sdk.Show(ctx, e.ID))
	require.NoError(t, sdk.Dismiss(ctx))
	assert.Equal(t, []bool{false}, presenter.dismissed())
}
