// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package appcues assembles the SDK: identity, analytics delivery,
// qualification, and experience rendering behind one entry point.
//
// # Basic Usage
//
//	cfg := config.New("12345", "my-app")
//	sdk, err := appcues.New(cfg, traits, actions)
//	if err != nil { ... }
//	defer sdk.Close()
//
//	sdk.Identify(ctx, "user-1", nil)
//	sdk.Screen(ctx, "Home", nil)
package appcues

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/appcues/appcues-sdk-go/activity/processor"
	"github.com/appcues/appcues-sdk-go/activity/storage"
	"github.com/appcues/appcues-sdk-go/analytics"
	"github.com/appcues/appcues-sdk-go/api"
	"github.com/appcues/appcues-sdk-go/config"
	"github.com/appcues/appcues-sdk-go/datastore"
	"github.com/appcues/appcues-sdk-go/debugger"
	"github.com/appcues/appcues-sdk-go/experience"
	"github.com/appcues/appcues-sdk-go/metrics"
	"github.com/appcues/appcues-sdk-go/renderer"
	"github.com/appcues/appcues-sdk-go/session"
	"github.com/appcues/appcues-sdk-go/socket"
	"github.com/appcues/appcues-sdk-go/statemachine"
)

// UserSignatureProperty carries the bearer signature for identified
// users through Identify properties.
const UserSignatureProperty = "appcues:user_id_signature"

// SDK is the assembled Appcues instance. Create one per account and
// application; it is safe for concurrent use.
type SDK struct {
	cfg       *config.Config
	log       *slog.Logger
	store     *datastore.DataStore
	session   *session.Monitor
	storage   *storage.Store
	client    *api.Client
	loader    *api.ContentLoader
	socket    *socket.Client
	tracker   *analytics.Tracker
	publisher *analytics.Publisher
	renderer  *renderer.ExperienceRenderer
	collector *metrics.Collector
	debugger  *debugger.Debugger
}

// New wires an SDK from the config and the host's presentation
// collaborators.
func New(cfg *config.Config, traits statemachine.TraitComposing, actions statemachine.ActionRegistry) (*SDK, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := cfg.LoggerOrDefault().Slog()

	store, err := openStorage(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("open activity storage: %w", err)
	}

	s := &SDK{
		cfg:       cfg,
		log:       log,
		store:     datastore.New(),
		storage:   store,
		collector: metrics.NewCollector(),
	}
	s.session = session.NewMonitor(s.store, cfg.SessionTimeout)
	s.client = api.NewClient(cfg.APIHost, cfg.AccountID, log,
		api.WithSettingsHost(cfg.SettingsHost))
	s.loader = api.NewContentLoader(s.client, s.store)

	proc := s.buildProcessor(log)
	s.tracker = analytics.NewTracker(cfg.AccountID, s.store, s.session, proc, log,
		analytics.WithActivityMarker(s.collector))
	s.session.SetFlusher(s.tracker)

	s.publisher = analytics.NewPublisher(s.session, log)
	s.publisher.RegisterDecorator(analytics.NewAutoPropertyDecorator(s.store))
	s.publisher.RegisterDecorator(analytics.NewContextDecorator(cfg.ApplicationID))
	s.publisher.RegisterSubscriber(s.tracker)

	s.renderer = renderer.NewRenderer(traits, actions, s.publisher,
		renderer.Config{
			EnableStepRecovery:            cfg.EnableStepRecoveryObserver,
			EnableStepTransitionAnalytics: cfg.EnableStepTransitionAnalytics,
		}, log)
	s.tracker.SetHandler(s)

	if cfg.DebuggerAddr != "" {
		s.debugger = debugger.New(0, log, debugger.WithMetrics(s.collector))
		s.publisher.RegisterSubscriber(s.debugger)
		go func() {
			if err := s.debugger.Serve(cfg.DebuggerAddr); err != nil {
				log.Warn("debugger server stopped", "error", err.Error())
			}
		}()
	}
	return s, nil
}

func openStorage(cfg *config.Config, log *slog.Logger) (*storage.Store, error) {
	if cfg.InMemoryStorage {
		return storage.Open(storage.InMemoryConfig())
	}
	dir := cfg.StorageDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve storage dir: %w", err)
		}
		dir = filepath.Join(home, ".appcues", cfg.ApplicationID)
	}
	sc := storage.DefaultConfig(dir)
	sc.Logger = log
	return storage.Open(sc)
}

// buildProcessor selects the activity transport: the socket channel
// when configured, HTTP with durable retry otherwise.
func (s *SDK) buildProcessor(log *slog.Logger) processor.ActivityProcessing {
	if s.cfg.SocketURL != "" {
		s.socket = socket.New(s.cfg.SocketURL, log)
		return processor.NewSocket(s.socket, log)
	}
	return processor.NewHTTP(s.client, s.storage, processor.Config{
		StorageMaxSize: s.cfg.ActivityStorageMaxSize,
		StorageMaxAge:  s.cfg.ActivityStorageMaxAge,
	}, log)
}

// HandleQualification implements analytics.QualificationHandler,
// adding the metrics marks around the renderer's show pipeline.
func (s *SDK) HandleQualification(ctx context.Context, resp *api.QualifyResponse) {
	s.collector.Qualified(resp.RequestID)
	err := s.renderer.HandleQualification(ctx, resp)
	if err == nil && len(resp.Experiences) > 0 {
		s.collector.Rendered(resp.RequestID)
		return
	}
	s.collector.Remove(resp.RequestID)
}

// Identify sets the active user and sends a profile update. A
// signature for signed requests rides in properties under
// UserSignatureProperty. Changing to a different user resets the
// session and dismisses everything on screen.
func (s *SDK) Identify(ctx context.Context, userID string, properties map[string]any) {
	if userID == "" {
		s.log.Error("ignoring Identify with empty userID")
		return
	}

	signature := ""
	if properties != nil {
		if sig, ok := properties[UserSignatureProperty].(string); ok {
			signature = sig
			delete(properties, UserSignatureProperty)
		}
	}

	if prev := s.store.UserID(); prev != "" && prev != userID {
		s.resetState(ctx)
	}
	s.store.SetUser(userID, signature)

	u := analytics.NewProfile(true, properties)
	s.publisher.Publish(&u)

	if s.socket != nil && !s.socket.IsConnected() {
		if err := s.socket.Connect(ctx, s.cfg.AccountID, userID); err != nil {
			s.log.Warn("socket connect failed", "error", err.Error())
		}
	}
}

// Anonymous identifies a generated anonymous user.
func (s *SDK) Anonymous(ctx context.Context) {
	s.Identify(ctx, s.store.SetAnonymous(), nil)
}

// Group sets or clears the active group. A nil groupID leaves the
// group; properties only apply when a group is set.
func (s *SDK) Group(ctx context.Context, groupID *string, properties map[string]any) {
	s.store.SetGroup(groupID)
	if groupID == nil || *groupID == "" {
		properties = nil
	}
	u := analytics.NewGroup(groupID, properties)
	s.publisher.Publish(&u)
}

// Track sends a custom event.
func (s *SDK) Track(ctx context.Context, name string, properties map[string]any) {
	u := analytics.NewEvent(name, true, properties)
	s.publisher.Publish(&u)
}

// Screen tracks a screen view, the qualification boundary that
// refreshes targeted content.
func (s *SDK) Screen(ctx context.Context, title string, properties map[string]any) {
	u := analytics.NewScreen(title, properties)
	s.publisher.Publish(&u)
}

// Show loads a published experience by id and presents it.
func (s *SDK) Show(ctx context.Context, experienceID uuid.UUID) error {
	e, err := s.loader.Load(ctx, experienceID)
	if err != nil {
		return fmt.Errorf("load experience %s: %w", experienceID, err)
	}
	data := experience.NewData(e, experience.Trigger{Kind: experience.TriggerShowCall}, experience.PriorityNormal, true)
	return s.renderer.Show(ctx, data)
}

// ShowPreview loads an unpublished preview by id and presents it.
// Preview analytics never leave the device.
func (s *SDK) ShowPreview(ctx context.Context, experienceID uuid.UUID) error {
	e, err := s.loader.LoadPreview(ctx, experienceID)
	if err != nil {
		return fmt.Errorf("load preview %s: %w", experienceID, err)
	}
	data := experience.NewData(e, experience.Trigger{Kind: experience.TriggerPreview}, experience.PriorityNormal, false)
	return s.renderer.ShowPreview(ctx, data)
}

// RegisterFrame attaches a host embed frame as the owner of a named
// render context. Cached qualified content for the frame shows
// immediately.
func (s *SDK) RegisterFrame(ctx context.Context, owner renderer.Owner, frameID string) error {
	return s.renderer.StartContext(ctx, owner, experience.Embed(frameID))
}

// Dismiss ends whatever the modal context is showing.
func (s *SDK) Dismiss(ctx context.Context) error {
	return s.renderer.Dismiss(ctx, experience.Modal(), false)
}

// ScrollSettled reports that the host's scroll views came to rest.
// The step recovery observer uses it to retry recoverable failures.
func (s *SDK) ScrollSettled() {
	s.renderer.ScrollRelay().ScrollSettled()
}

// Reset clears the active user: flushes pending analytics, ends the
// session, dismisses every experience, and forgets identity.
func (s *SDK) Reset(ctx context.Context) {
	s.resetState(ctx)
	s.store.Clear()
}

func (s *SDK) resetState(ctx context.Context) {
	s.session.Reset()
	s.renderer.ResetAll(ctx)
	s.publisher.Cleanup()
	s.collector.RemoveAll()
}

// Debugger returns the diagnostic tap when config enabled it.
func (s *SDK) Debugger() *debugger.Debugger {
	return s.debugger
}

// Metrics returns the owned metrics collector.
func (s *SDK) Metrics() *metrics.Collector {
	return s.collector
}

// Renderer exposes the renderer for hosts that drive presentation
// directly.
func (s *SDK) Renderer() *renderer.ExperienceRenderer {
	return s.renderer
}

// Version reports the SDK version tracked in analytics properties.
func (s *SDK) Version() string {
	return analytics.SDKVersion
}

// Close releases the durable store and the socket connection.
func (s *SDK) Close() error {
	if s.socket != nil {
		s.socket.Close()
	}
	return s.storage.Close()
}
