// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/appcues/appcues-sdk-go/experience"
	"github.com/appcues/appcues-sdk-go/statemachine"
)

// consoleComposer renders experience steps as console output. It
// stands in for the host app's trait composer and action registry so
// the CLI can drive the full pipeline without a UI.
type consoleComposer struct {
	out io.Writer
}

func newConsoleComposer(out io.Writer) *consoleComposer {
	return &consoleComposer{out: out}
}

func (c *consoleComposer) Package(ctx context.Context, data *experience.Data, index experience.StepIndex) (*statemachine.ExperiencePackage, error) {
	group := data.Experience.Steps[index.Group]
	return &statemachine.ExperiencePackage{
		StepIndex: index,
		GroupID:   group.ID,
		Presenter: &consolePresenter{
			out:   c.out,
			name:  data.Experience.Name,
			group: group,
			item:  index.Item,
		},
	}, nil
}

func (c *consoleComposer) ProcessActions(ctx context.Context, data *experience.Data, actions []experience.Action) {
	for _, a := range actions {
		fmt.Fprintf(c.out, "[action] %s on %s\n", a.Type, a.On)
	}
}

type consolePresenter struct {
	out   io.Writer
	name  string
	group experience.StepGroup
	item  int
}

func (p *consolePresenter) Present(ctx context.Context) error {
	fmt.Fprintf(p.out, "=== %s ===\n", p.name)
	return p.render(p.item)
}

func (p *consolePresenter) Navigate(ctx context.Context, item int) error {
	return p.render(item)
}

func (p *consolePresenter) Dismiss(ctx context.Context, markComplete bool) error {
	if markComplete {
		fmt.Fprintf(p.out, "=== %s completed ===\n", p.name)
	} else {
		fmt.Fprintf(p.out, "=== %s dismissed ===\n", p.name)
	}
	return nil
}

func (p *consolePresenter) render(item int) error {
	if item < 0 || item >= len(p.group.Children) {
		return fmt.Errorf("no step at item %d", item)
	}
	step := p.group.Children[item]
	fmt.Fprintf(p.out, "[step %d/%d] %s %s\n", item+1, len(p.group.Children), step.Type, step.ID)
	if len(step.Content) > 0 {
		fmt.Fprintf(p.out, "%s\n", step.Content)
	}
	return nil
}
