// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package renderer orchestrates experience presentation across
// render contexts: one state machine per context, qualified-content
// caching, preview overrides, and the lifecycle analytics that
// follow an experience from start to completion.
package renderer

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/appcues/appcues-sdk-go/analytics"
	"github.com/appcues/appcues-sdk-go/api"
	"github.com/appcues/appcues-sdk-go/experience"
	"github.com/appcues/appcues-sdk-go/statemachine"
)

var (
	// ErrNoMachine means no live machine exists for the target
	// render context; nothing can show there until the host
	// registers the context.
	ErrNoMachine = errors.New("renderer: no state machine for render context")

	// ErrExperimentControl aborts a show for a control-group
	// experiment after the entry event is tracked.
	ErrExperimentControl = errors.New("renderer: experience held back by experiment control group")
)

// Config carries the renderer knobs the host can set.
type Config struct {
	// EnableStepRecovery attaches the scroll-settle retry observer
	// to the modal machine.
	EnableStepRecovery bool

	// EnableStepTransitionAnalytics attaches the step transition
	// event stream to the modal machine.
	EnableStepTransitionAnalytics bool
}

// permanentOwner holds the modal context for the lifetime of the
// renderer.
type permanentOwner struct{}

func (permanentOwner) Released() bool { return false }

// ExperienceRenderer implements the show pipeline over the machine
// directory.
//
// # Thread Safety
//
// The cache and preview maps are guarded by one mutex; machines
// serialize their own transitions.
type ExperienceRenderer struct {
	directory *Directory
	traits    statemachine.TraitComposing
	actions   statemachine.ActionRegistry
	pub       *analytics.Publisher
	relay     *ScrollRelay
	cfg       Config
	log       *slog.Logger

	mu sync.Mutex

	// cache holds potentially renderable qualified experiences per
	// embed context, waiting for the frame to register. The modal
	// context is never cached: modal content either shows
	// immediately or not at all.
	cache map[experience.RenderContext][]*experience.Data

	// pendingPreview overrides qualified content per context.
	pendingPreview map[experience.RenderContext]*experience.Data
}

// NewRenderer builds a renderer with the modal machine installed.
func NewRenderer(traits statemachine.TraitComposing, actions statemachine.ActionRegistry, pub *analytics.Publisher, cfg Config, log *slog.Logger) *ExperienceRenderer {
	if log == nil {
		log = slog.Default()
	}
	r := &ExperienceRenderer{
		directory:      NewDirectory(),
		traits:         traits,
		actions:        actions,
		pub:            pub,
		relay:          NewScrollRelay(),
		cfg:            cfg,
		log:            log,
		cache:          make(map[experience.RenderContext][]*experience.Data),
		pendingPreview: make(map[experience.RenderContext]*experience.Data),
	}
	modal := experience.Modal()
	r.directory.Set(modal, permanentOwner{}, statemachine.NewMachine(modal, traits, actions, log))
	return r
}

// ScrollRelay exposes the relay the host shim feeds scroll-settle
// notifications into.
func (r *ExperienceRenderer) ScrollRelay() *ScrollRelay {
	return r.relay
}

// Directory exposes the machine directory for introspection.
func (r *ExperienceRenderer) Directory() *Directory {
	return r.directory
}

// HandleQualification turns a qualify response into show attempts.
// A screen_view qualification is a navigation boundary: stale cached
// results for every context are invalidated first.
func (r *ExperienceRenderer) HandleQualification(ctx context.Context, resp *api.QualifyResponse) error {
	priority := experience.PriorityNormal
	if resp.QualificationReason == "screen_view" {
		priority = experience.PriorityLow
		r.mu.Lock()
		r.cache = make(map[experience.RenderContext][]*experience.Data)
		r.mu.Unlock()
	}

	items := make([]*experience.Data, 0, len(resp.Experiences))
	for _, e := range resp.Experiences {
		trigger := experience.Trigger{
			Kind:                experience.TriggerQualification,
			QualificationReason: resp.QualificationReason,
		}
		data := experience.NewData(e, trigger, priority, true)
		data.Experiment = resp.ExperimentFor(e)
		items = append(items, data)
	}

	if err := r.ProcessAndShow(ctx, items); err != nil {
		r.log.Debug("qualification produced no rendered experience",
			"reason", resp.QualificationReason,
			"error", err.Error())
		return err
	}
	return nil
}

// ProcessAndShow groups experiences by render context, merges them
// into the cache, and attempts the first candidate per context. Every
// context gets its attempt; the first error encountered is returned
// after all contexts have been tried, so one broken frame cannot
// block the others.
func (r *ExperienceRenderer) ProcessAndShow(ctx context.Context, items []*experience.Data) error {
	grouped := make(map[experience.RenderContext][]*experience.Data)
	var order []experience.RenderContext
	for _, data := range items {
		rc := data.RenderContext
		if _, seen := grouped[rc]; !seen {
			order = append(order, rc)
		}
		grouped[rc] = append(grouped[rc], data)
	}

	r.mu.Lock()
	for rc, candidates := range grouped {
		if rc.Kind != experience.ContextModal {
			r.cache[rc] = candidates
		}
	}
	r.mu.Unlock()

	var firstErr error
	for _, rc := range order {
		if err := r.show(ctx, rc, grouped[rc]); err != nil {
			r.log.Debug("failed to show experience",
				"render_context", rc.String(),
				"error", err.Error())
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Show presents a single experience in its own render context.
func (r *ExperienceRenderer) Show(ctx context.Context, data *experience.Data) error {
	return r.show(ctx, data.RenderContext, []*experience.Data{data})
}

// ShowPreview presents a builder preview, overriding any qualified
// content for the context. Previews for contexts that are not
// registered yet park until StartContext installs the frame.
func (r *ExperienceRenderer) ShowPreview(ctx context.Context, data *experience.Data) error {
	if _, ok := r.directory.Machine(data.RenderContext); !ok {
		r.mu.Lock()
		r.pendingPreview[data.RenderContext] = data
		r.mu.Unlock()
		return nil
	}
	return r.show(ctx, data.RenderContext, []*experience.Data{data})
}

// StartContext registers a host surface as the owner of a render
// context. Any previous owner of the context and any previous
// context of the owner are displaced, a fresh machine is installed,
// and a pending preview or cached qualified experience shows
// immediately when one exists.
func (r *ExperienceRenderer) StartContext(ctx context.Context, owner Owner, rc experience.RenderContext) error {
	r.directory.Set(rc, owner, statemachine.NewMachine(rc, r.traits, r.actions, r.log))

	r.mu.Lock()
	preview := r.pendingPreview[rc]
	delete(r.pendingPreview, rc)
	cached := r.cache[rc]
	r.mu.Unlock()

	if preview != nil {
		return r.show(ctx, rc, []*experience.Data{preview})
	}
	if len(cached) > 0 {
		return r.show(ctx, rc, cached)
	}
	return nil
}

// ReleaseContext drops a context's machine, dismissing anything it
// is showing.
func (r *ExperienceRenderer) ReleaseContext(ctx context.Context, rc experience.RenderContext) {
	if m, ok := r.directory.Machine(rc); ok {
		if m.State().Kind != statemachine.StateIdling {
			_ = m.Handle(ctx, statemachine.EndExperience(false))
		}
	}
	r.directory.Remove(rc)
}

// Dismiss ends whatever the context is showing.
func (r *ExperienceRenderer) Dismiss(ctx context.Context, rc experience.RenderContext, markComplete bool) error {
	m, ok := r.directory.Machine(rc)
	if !ok {
		return ErrNoMachine
	}
	return m.Handle(ctx, statemachine.EndExperience(markComplete))
}

// ResetAll dismisses every context and drops cached content. Used on
// identity reset.
func (r *ExperienceRenderer) ResetAll(ctx context.Context) {
	for _, rc := range r.directory.Contexts() {
		if m, ok := r.directory.Machine(rc); ok && m.State().Kind != statemachine.StateIdling {
			_ = m.Handle(ctx, statemachine.EndExperience(false))
		}
	}
	r.mu.Lock()
	r.cache = make(map[experience.RenderContext][]*experience.Data)
	r.pendingPreview = make(map[experience.RenderContext]*experience.Data)
	r.mu.Unlock()
	r.directory.Cleanup()
}

// show attempts candidates for one context in order. A failed
// candidate falls through to the next; ErrNoMachine and the
// experiment control short-circuit abort the whole list.
func (r *ExperienceRenderer) show(ctx context.Context, rc experience.RenderContext, candidates []*experience.Data) error {
	if len(candidates) == 0 {
		return nil
	}

	m, ok := r.directory.Machine(rc)
	if !ok {
		return ErrNoMachine
	}

	data := candidates[0]
	st := m.State()

	// Re-qualification of the instance already on screen is a no-op.
	if st.Kind != statemachine.StateIdling && st.Data != nil && st.Data.InstanceID == data.InstanceID {
		return nil
	}

	if x := data.Experiment; x != nil {
		r.trackExperiment(data, x)
		if !x.ShouldExecute() {
			return ErrExperimentControl
		}
	}

	// Normal priority interrupts a showing experience; low priority
	// lets startExperience fail and the next candidate try instead.
	if st.Kind != statemachine.StateIdling && data.Priority == experience.PriorityNormal {
		if err := m.Handle(ctx, statemachine.EndExperience(false)); err != nil {
			r.log.Debug("failed to interrupt showing experience",
				"render_context", rc.String(),
				"error", err.Error())
		}
	}

	r.attachObservers(m, rc)

	if err := m.Handle(ctx, statemachine.StartExperience(data)); err != nil {
		if len(candidates) > 1 {
			return r.show(ctx, rc, candidates[1:])
		}
		return err
	}
	return nil
}

// attachObservers adds the lifecycle observers before the experience
// starts, and only to an idling machine: a machine parked in failing
// kept its observers through the carve-out and must not get
// duplicates.
func (r *ExperienceRenderer) attachObservers(m *statemachine.Machine, rc experience.RenderContext) {
	if m.State().Kind != statemachine.StateIdling {
		return
	}
	m.AddObserver(&analyticsObserver{pub: r.pub})
	if r.cfg.EnableStepRecovery && rc == experience.Modal() {
		m.AddObserver(newStepRecoveryObserver(r.relay, m))
	}
	if r.cfg.EnableStepTransitionAnalytics && rc == experience.Modal() {
		m.AddObserver(&stepTransitionObserver{pub: r.pub})
	}
}

func (r *ExperienceRenderer) trackExperiment(data *experience.Data, x *experience.Experiment) {
	u := analytics.NewInternalEvent(ExperimentEnteredEvent, false, experimentProperties(x))
	if data.Published {
		r.pub.Publish(&u)
	} else {
		r.pub.Log(&u)
	}
}
