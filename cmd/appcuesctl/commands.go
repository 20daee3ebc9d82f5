// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	appcues "github.com/appcues/appcues-sdk-go"
	"github.com/appcues/appcues-sdk-go/config"
)

var (
	configPath string
	userID     string
	properties string

	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "appcuesctl",
		Short: "A cli to exercise the Appcues mobile SDK from the terminal",
		Long: `appcuesctl drives the SDK pipeline end to end: identity,
analytics delivery, qualification, and console-rendered experiences.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			var err error
			cfg, err = config.LoadFile(configPath)
			if err != nil {
				log.Fatalf("Error loading config %s: %v", configPath, err)
			}
		},
	}

	identifyCmd = &cobra.Command{
		Use:   "identify [user-id]",
		Short: "Identify a user and flush the resulting profile update",
		Args:  cobra.ExactArgs(1),
		Run:   runIdentify,
	}

	trackCmd = &cobra.Command{
		Use:   "track [event-name]",
		Short: "Track a custom event for the configured user",
		Args:  cobra.ExactArgs(1),
		Run:   runTrack,
	}

	screenCmd = &cobra.Command{
		Use:   "screen [title]",
		Short: "Track a screen view, the qualification boundary",
		Args:  cobra.ExactArgs(1),
		Run:   runScreen,
	}

	showCmd = &cobra.Command{
		Use:   "show [experience-id]",
		Short: "Load an experience by id and render it to the console",
		Args:  cobra.ExactArgs(1),
		Run:   runShow,
	}

	previewCmd = &cobra.Command{
		Use:   "preview [experience-id]",
		Short: "Load an unpublished preview and render it to the console",
		Args:  cobra.ExactArgs(1),
		Run:   runPreview,
	}

	debugCmd = &cobra.Command{
		Use:   "debug",
		Short: "Identify, then serve the debugger endpoints until interrupted",
		Run:   runDebug,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "appcues.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "", "User id to identify before the command runs")
	rootCmd.PersistentFlags().StringVar(&properties, "properties", "", "JSON object of properties to attach")

	rootCmd.AddCommand(identifyCmd, trackCmd, screenCmd, showCmd, previewCmd, debugCmd)
}

// newSDK builds an SDK wired to the console renderer.
func newSDK() *appcues.SDK {
	composer := newConsoleComposer(os.Stdout)
	sdk, err := appcues.New(cfg, composer, composer)
	if err != nil {
		log.Fatalf("Error initializing SDK: %v", err)
	}
	return sdk
}

func parsedProperties() map[string]any {
	if properties == "" {
		return nil
	}
	var props map[string]any
	if err := json.Unmarshal([]byte(properties), &props); err != nil {
		log.Fatalf("Error parsing --properties: %v", err)
	}
	return props
}

// identifyOrAnonymous establishes identity before the command's main
// action; activity requires a user.
func identifyOrAnonymous(ctx context.Context, sdk *appcues.SDK) {
	if userID != "" {
		sdk.Identify(ctx, userID, nil)
		return
	}
	sdk.Anonymous(ctx)
}

func runIdentify(cmd *cobra.Command, args []string) {
	sdk := newSDK()
	defer sdk.Close()

	sdk.Identify(cmd.Context(), args[0], parsedProperties())
	log.Printf("Identified %s", args[0])
}

func runTrack(cmd *cobra.Command, args []string) {
	sdk := newSDK()
	defer sdk.Close()

	ctx := cmd.Context()
	identifyOrAnonymous(ctx, sdk)
	sdk.Track(ctx, args[0], parsedProperties())
	log.Printf("Tracked %s", args[0])
}

func runScreen(cmd *cobra.Command, args []string) {
	sdk := newSDK()
	defer sdk.Close()

	ctx := cmd.Context()
	identifyOrAnonymous(ctx, sdk)
	sdk.Screen(ctx, args[0], parsedProperties())
	log.Printf("Screen %s", args[0])
}

func runShow(cmd *cobra.Command, args []string) {
	sdk := newSDK()
	defer sdk.Close()

	id, err := uuid.Parse(args[0])
	if err != nil {
		log.Fatalf("Invalid experience id %s: %v", args[0], err)
	}

	ctx := cmd.Context()
	identifyOrAnonymous(ctx, sdk)
	if err := sdk.Show(ctx, id); err != nil {
		log.Fatalf("Error showing experience: %v", err)
	}
}

func runPreview(cmd *cobra.Command, args []string) {
	sdk := newSDK()
	defer sdk.Close()

	id, err := uuid.Parse(args[0])
	if err != nil {
		log.Fatalf("Invalid experience id %s: %v", args[0], err)
	}

	ctx := cmd.Context()
	identifyOrAnonymous(ctx, sdk)
	if err := sdk.ShowPreview(ctx, id); err != nil {
		log.Fatalf("Error showing preview: %v", err)
	}
}

func runDebug(cmd *cobra.Command, args []string) {
	if cfg.DebuggerAddr == "" {
		cfg.DebuggerAddr = "127.0.0.1:8711"
	}

	sdk := newSDK()
	defer sdk.Close()

	ctx := cmd.Context()
	identifyOrAnonymous(ctx, sdk)
	log.Printf("Debugger serving on %s, ctrl-c to stop", cfg.DebuggerAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}
