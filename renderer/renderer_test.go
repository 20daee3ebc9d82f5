// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package renderer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appcues/appcues-sdk-go/analytics"
	"github.com/appcues/appcues-sdk-go/api"
	"github.com/appcues/appcues-sdk-go/datastore"
	"github.com/appcues/appcues-sdk-go/experience"
	"github.com/appcues/appcues-sdk-go/session"
	"github.com/appcues/appcues-sdk-go/statemachine"
)

// stubPresenter succeeds unless scripted otherwise.
type stubPresenter struct {
	mu          sync.Mutex
	presents    int
	dismissals  []bool
	presentErrs []error
}

func (p *stubPresenter) Present(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.presents++
	if len(p.presentErrs) > 0 {
		err := p.presentErrs[0]
		p.presentErrs = p.presentErrs[1:]
		return err
	}
	return nil
}

func (p *stubPresenter) Navigate(ctx context.Context, item int) error { return nil }

func (p *stubPresenter) Dismiss(ctx context.Context, markComplete bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dismissals = append(p.dismissals, markComplete)
	return nil
}

// stubComposer hands out one presenter per experience and can be
// scripted to fail composition for specific experience ids.
type stubComposer struct {
	mu         sync.Mutex
	presenters map[uuid.UUID]*stubPresenter
	failFor    map[uuid.UUID]error
}

func newStubComposer() *stubComposer {
	return &stubComposer{
		presenters: make(map[uuid.UUID]*stubPresenter),
		failFor:    make(map[uuid.UUID]error),
	}
}

func (c *stubComposer) Package(ctx context.Context, data *experience.Data, index experience.StepIndex) (*statemachine.ExperiencePackage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failFor[data.Experience.ID]; err != nil {
		return nil, err
	}
	p, ok := c.presenters[data.Experience.ID]
	if !ok {
		p = &stubPresenter{}
		c.presenters[data.Experience.ID] = p
	}
	return &statemachine.ExperiencePackage{
		StepIndex: index,
		GroupID:   data.Experience.Steps[index.Group].ID,
		Presenter: p,
	}, nil
}

func (c *stubComposer) presenterFor(e *experience.Experience) *stubPresenter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.presenters[e.ID]
}

type stubRegistry struct{}

func (stubRegistry) ProcessActions(ctx context.Context, data *experience.Data, actions []experience.Action) {
}

// eventRecorder subscribes to the publisher and captures event names.
type eventRecorder struct {
	mu      sync.Mutex
	updates []analytics.TrackingUpdate
}

func (r *eventRecorder) TrackUpdate(u analytics.TrackingUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *eventRecorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, u := range r.updates {
		out = append(out, u.Type.EventName)
	}
	return out
}

type frameOwner struct {
	mu       sync.Mutex
	released bool
}

func (o *frameOwner) Released() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.released
}

func (o *frameOwner) Release() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.released = true
}

func testExperience(rc experience.RenderContext, steps int) *experience.Experience {
	e := &experience.Experience{ID: uuid.New(), Name: "flow", Type: "mobile"}
	if rc.Kind == experience.ContextEmbed {
		e.RenderContextName = rc.FrameID
	}
	g := experience.StepGroup{ID: uuid.New(), Type: "group"}
	for i := 0; i < steps; i++ {
		g.Children = append(g.Children, experience.StepChild{ID: uuid.New(), Type: "modal"})
	}
	e.Steps = []experience.StepGroup{g}
	return e
}

func qualifiedData(e *experience.Experience, priority experience.Priority) *experience.Data {
	trigger := experience.Trigger{Kind: experience.TriggerQualification, QualificationReason: "screen_view"}
	return experience.NewData(e, trigger, priority, true)
}

func newTestRenderer(t *testing.T, cfg Config) (*ExperienceRenderer, *stubComposer, *eventRecorder) {
	t.Helper()
	store := datastore.New()
	store.SetUser("user-1", "")
	sess := session.NewMonitor(store, 30*time.Minute)
	pub := analytics.NewPublisher(sess, nil)
	rec := &eventRecorder{}
	pub.RegisterSubscriber(rec)

	composer := newStubComposer()
	r := NewRenderer(composer, stubRegistry{}, pub, cfg, nil)
	return r, composer, rec
}

func TestRenderer_ShowModalExperience(t *testing.T) {
	r, composer, rec := newTestRenderer(t, Config{})
	e := testExperience(experience.Modal(), 1)

	require.NoError(t, r.Show(context.Background(), qualifiedData(e, experience.PriorityNormal)))

	m, ok := r.Directory().Machine(experience.Modal())
	require.True(t, ok)
	assert.Equal(t, statemachine.StateRenderingStep, m.State().Kind)
	assert.Equal(t, 1, composer.presenterFor(e).presents)
	assert.Contains(t, rec.names(), ExperienceStartedEvent)
	assert.Contains(t, rec.names(), StepSeenEvent)
}

func TestRenderer_ShowSameInstanceIsIdempotent(t *testing.T) {
	r, composer, _ := newTestRenderer(t, Config{})
	data := qualifiedData(testExperience(experience.Modal(), 1), experience.PriorityNormal)

	require.NoError(t, r.Show(context.Background(), data))
	require.NoError(t, r.Show(context.Background(), data))

	assert.Equal(t, 1, composer.presenterFor(data.Experience).presents)
}

func TestRenderer_ExperimentControlGroupAborts(t *testing.T) {
	r, composer, rec := newTestRenderer(t, Config{})
	e := testExperience(experience.Modal(), 1)
	data := qualifiedData(e, experience.PriorityNormal)
	data.Experiment = &experience.Experiment{
		ExperimentID: uuid.New(),
		ExperienceID: e.ID,
		Group:        "control",
	}

	err := r.Show(context.Background(), data)

	require.ErrorIs(t, err, ErrExperimentControl)
	assert.Nil(t, composer.presenterFor(e), "control group content never composes")
	assert.Contains(t, rec.names(), ExperimentEnteredEvent)
}

func TestRenderer_NormalPriorityInterrupts(t *testing.T) {
	r, composer, _ := newTestRenderer(t, Config{})
	first := testExperience(experience.Modal(), 1)
	require.NoError(t, r.Show(context.Background(), qualifiedData(first, experience.PriorityNormal)))

	second := testExperience(experience.Modal(), 1)
	require.NoError(t, r.Show(context.Background(), qualifiedData(second, experience.PriorityNormal)))

	assert.Equal(t, []bool{false}, composer.presenterFor(first).dismissals)
	assert.Equal(t, 1, composer.presenterFor(second).presents)
}

func TestRenderer_LowPriorityNeverInterrupts(t *testing.T) {
	r, composer, _ := newTestRenderer(t, Config{})
	first := testExperience(experience.Modal(), 1)
	require.NoError(t, r.Show(context.Background(), qualifiedData(first, experience.PriorityNormal)))

	second := testExperience(experience.Modal(), 1)
	err := r.Show(context.Background(), qualifiedData(second, experience.PriorityLow))

	var expErr *statemachine.ExperienceError
	require.ErrorAs(t, err, &expErr)
	assert.Empty(t, composer.presenterFor(first).dismissals)
	assert.Nil(t, composer.presenterFor(second))
}

func TestRenderer_ProcessAndShowIsolatesContextFailures(t *testing.T) {
	r, composer, _ := newTestRenderer(t, Config{})
	broken := testExperience(experience.Embed("frame1"), 1)
	healthy := testExperience(experience.Embed("frame2"), 1)
	composer.failFor[broken.ID] = assert.AnError

	require.NoError(t, r.StartContext(context.Background(), &frameOwner{}, experience.Embed("frame1")))
	require.NoError(t, r.StartContext(context.Background(), &frameOwner{}, experience.Embed("frame2")))

	err := r.ProcessAndShow(context.Background(), []*experience.Data{
		qualifiedData(broken, experience.PriorityLow),
		qualifiedData(healthy, experience.PriorityLow),
	})

	require.Error(t, err, "the broken frame's error surfaces")
	var expErr *statemachine.ExperienceError
	assert.ErrorAs(t, err, &expErr)
	assert.Equal(t, 1, composer.presenterFor(healthy).presents,
		"one broken frame must not block the other")
}

func TestRenderer_CandidateRecursionWithinContext(t *testing.T) {
	r, composer, _ := newTestRenderer(t, Config{})
	broken := testExperience(experience.Modal(), 1)
	fallback := testExperience(experience.Modal(), 1)
	composer.failFor[broken.ID] = assert.AnError

	err := r.ProcessAndShow(context.Background(), []*experience.Data{
		qualifiedData(broken, experience.PriorityNormal),
		qualifiedData(fallback, experience.PriorityNormal),
	})

	require.NoError(t, err, "a later candidate satisfying the context clears the error")
	assert.Equal(t, 1, composer.presenterFor(fallback).presents)
}

func TestRenderer_StartContextShowsCachedContent(t *testing.T) {
	r, composer, _ := newTestRenderer(t, Config{})
	embedded := testExperience(experience.Embed("frame1"), 1)

	// Qualification arrives before the frame registers; the content
	// waits in the cache.
	err := r.ProcessAndShow(context.Background(), []*experience.Data{
		qualifiedData(embedded, experience.PriorityLow),
	})
	require.ErrorIs(t, err, ErrNoMachine)
	assert.Nil(t, composer.presenterFor(embedded))

	require.NoError(t, r.StartContext(context.Background(), &frameOwner{}, experience.Embed("frame1")))

	assert.Equal(t, 1, composer.presenterFor(embedded).presents)
}

func TestRenderer_ScreenViewBoundaryClearsCache(t *testing.T) {
	r, composer, _ := newTestRenderer(t, Config{})
	stale := testExperience(experience.Embed("frame1"), 1)
	_ = r.ProcessAndShow(context.Background(), []*experience.Data{
		qualifiedData(stale, experience.PriorityLow),
	})

	// The next screen qualifies nothing for frame1.
	r.HandleQualification(context.Background(), &api.QualifyResponse{QualificationReason: "screen_view"})

	require.NoError(t, r.StartContext(context.Background(), &frameOwner{}, experience.Embed("frame1")))
	assert.Nil(t, composer.presenterFor(stale), "stale qualification must not render after navigation")
}

func TestRenderer_PendingPreviewOverridesCache(t *testing.T) {
	r, composer, _ := newTestRenderer(t, Config{})
	qualified := testExperience(experience.Embed("frame1"), 1)
	preview := testExperience(experience.Embed("frame1"), 1)
	_ = r.ProcessAndShow(context.Background(), []*experience.Data{
		qualifiedData(qualified, experience.PriorityLow),
	})
	previewData := experience.NewData(preview, experience.Trigger{Kind: experience.TriggerPreview}, experience.PriorityNormal, false)
	require.NoError(t, r.ShowPreview(context.Background(), previewData))

	require.NoError(t, r.StartContext(context.Background(), &frameOwner{}, experience.Embed("frame1")))

	assert.Equal(t, 1, composer.presenterFor(preview).presents)
	assert.Nil(t, composer.presenterFor(qualified))
}

func TestRenderer_LifecycleEventOrder(t *testing.T) {
	r, _, rec := newTestRenderer(t, Config{})
	e := testExperience(experience.Modal(), 1)
	require.NoError(t, r.Show(context.Background(), qualifiedData(e, experience.PriorityNormal)))

	m, _ := r.Directory().Machine(experience.Modal())
	require.NoError(t, m.Handle(context.Background(), statemachine.StartStep(experience.RefOffset(1))))

	names := rec.names()
	require.NotEmpty(t, names)
	assert.Equal(t, analytics.SessionStartedEvent, names[0])
	wantOrder := []string{
		ExperienceStartedEvent,
		StepSeenEvent,
		StepCompletedEvent,
		ExperienceCompletedEvent,
	}
	assert.Subset(t, names, wantOrder)
	assert.Equal(t, wantOrder, filterNames(names, wantOrder))
}

func filterNames(names, keep []string) []string {
	allowed := make(map[string]bool, len(keep))
	for _, n := range keep {
		allowed[n] = true
	}
	var out []string
	for _, n := range names {
		if allowed[n] {
			out = append(out, n)
		}
	}
	return out
}

func TestRenderer_UnpublishedExperienceLogsOnly(t *testing.T) {
	r, _, rec := newTestRenderer(t, Config{})
	e := testExperience(experience.Modal(), 1)
	data := experience.NewData(e, experience.Trigger{Kind: experience.TriggerPreview}, experience.PriorityNormal, false)

	require.NoError(t, r.Show(context.Background(), data))

	assert.NotContains(t, rec.names(), ExperienceStartedEvent,
		"builder previews never reach analytics subscribers")
}

func TestRenderer_StepRecoveryRetriesOnScrollSettle(t *testing.T) {
	r, composer, rec := newTestRenderer(t, Config{EnableStepRecovery: true})
	e := testExperience(experience.Modal(), 1)
	composer.presenters[e.ID] = &stubPresenter{
		presentErrs: []error{&statemachine.TraitError{Description: "anchor off screen", Recoverable: true}},
	}

	err := r.Show(context.Background(), qualifiedData(e, experience.PriorityNormal))
	var expErr *statemachine.ExperienceError
	require.ErrorAs(t, err, &expErr)
	assert.True(t, expErr.Recoverable)

	m, _ := r.Directory().Machine(experience.Modal())
	require.Equal(t, statemachine.StateFailing, m.State().Kind)

	r.ScrollRelay().ScrollSettled()

	assert.Equal(t, statemachine.StateRenderingStep, m.State().Kind)
	assert.Equal(t, 2, composer.presenterFor(e).presents)
	names := rec.names()
	assert.Contains(t, names, StepErrorEvent)
	assert.Contains(t, names, StepRecoveredEvent)
}

func TestRenderer_RecoveryDetachesOnIdle(t *testing.T) {
	r, composer, _ := newTestRenderer(t, Config{EnableStepRecovery: true})
	e := testExperience(experience.Modal(), 1)
	composer.presenters[e.ID] = &stubPresenter{
		presentErrs: []error{&statemachine.TraitError{Description: "anchor off screen", Recoverable: true}},
	}
	require.Error(t, r.Show(context.Background(), qualifiedData(e, experience.PriorityNormal)))

	require.NoError(t, r.Dismiss(context.Background(), experience.Modal(), false))
	r.ScrollRelay().ScrollSettled()

	m, _ := r.Directory().Machine(experience.Modal())
	assert.Equal(t, statemachine.StateIdling, m.State().Kind)
	assert.Equal(t, 1, composer.presenterFor(e).presents, "no retry after dismissal")
}

func TestDirectory_OneContextPerOwner(t *testing.T) {
	d := NewDirectory()
	owner := &frameOwner{}
	m1 := statemachine.NewMachine(experience.Embed("frame1"), nil, nil, nil)
	m2 := statemachine.NewMachine(experience.Embed("frame2"), nil, nil, nil)

	d.Set(experience.Embed("frame1"), owner, m1)
	d.Set(experience.Embed("frame2"), owner, m2)

	_, ok := d.Machine(experience.Embed("frame1"))
	assert.False(t, ok, "an owner moving to a new context loses the old one")
	got, ok := d.Machine(experience.Embed("frame2"))
	require.True(t, ok)
	assert.Same(t, m2, got)
}

func TestDirectory_CleanupPurgesReleasedOwners(t *testing.T) {
	d := NewDirectory()
	owner := &frameOwner{}
	d.Set(experience.Embed("frame1"), owner, statemachine.NewMachine(experience.Embed("frame1"), nil, nil, nil))

	owner.Release()
	_, ok := d.Machine(experience.Embed("frame1"))
	assert.False(t, ok, "released owners answer for nothing")

	d.Cleanup()
	assert.Empty(t, d.Contexts())
}

func TestRenderer_StepTransitionEventsWhenEnabled(t *testing.T) {
	r, _, rec := newTestRenderer(t, Config{EnableStepTransitionAnalytics: true})
	e := testExperience(experience.Modal(), 2)

	require.NoError(t, r.Show(context.Background(), qualifiedData(e, experience.PriorityNormal)))
	m, ok := r.Directory().Machine(experience.Modal())
	require.True(t, ok)
	require.NoError(t, m.Handle(context.Background(), statemachine.StartStep(experience.RefOffset(1))))

	var states []string
	rec.mu.Lock()
	for _, u := range rec.updates {
		if u.Type.EventName == StepTransitionEvent {
			states = append(states, u.Properties["state"].(string))
		}
	}
	rec.mu.Unlock()

	assert.Equal(t, []string{
		"beginningStep", "renderingStep",
		"endingStep", "beginningStep", "renderingStep",
	}, states, "every step lifecycle phase is reported in order")
}

func TestRenderer_StepTransitionEventsOffByDefault(t *testing.T) {
	r, _, rec := newTestRenderer(t, Config{})
	e := testExperience(experience.Modal(), 2)

	require.NoError(t, r.Show(context.Background(), qualifiedData(e, experience.PriorityNormal)))

	assert.NotContains(t, rec.names(), StepTransitionEvent)
	assert.Contains(t, rec.names(), StepSeenEvent, "core lifecycle events are unconditional")
}
