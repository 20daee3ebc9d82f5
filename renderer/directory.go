// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package renderer

import (
	"sync"

	"github.com/appcues/appcues-sdk-go/experience"
	"github.com/appcues/appcues-sdk-go/statemachine"
)

// Owner ties a host surface (an embed frame view, or the renderer's
// own modal slot) to a render context. The host releases the owner
// when the surface goes away; released owners are purged on the next
// Cleanup pass instead of relying on garbage collection.
type Owner interface {
	Released() bool
}

type ownedMachine struct {
	owner   Owner
	machine *statemachine.Machine
}

// Directory maps render contexts to owned state machines.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Directory struct {
	mu      sync.Mutex
	entries map[experience.RenderContext]ownedMachine
}

func NewDirectory() *Directory {
	return &Directory{entries: make(map[experience.RenderContext]ownedMachine)}
}

// Set installs owner's machine for a context. An owner holds at most
// one context: any context the owner previously held is purged first,
// and any previous owner of this context loses it.
func (d *Directory) Set(rc experience.RenderContext, owner Owner, m *statemachine.Machine) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for other, entry := range d.entries {
		if entry.owner == owner && other != rc {
			delete(d.entries, other)
		}
	}
	d.entries[rc] = ownedMachine{owner: owner, machine: m}
}

// Machine returns the live machine for a context. Entries whose
// owner has been released do not count.
func (d *Directory) Machine(rc experience.RenderContext) (*statemachine.Machine, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.entries[rc]
	if !ok || entry.owner.Released() {
		return nil, false
	}
	return entry.machine, true
}

// Remove drops the entry for a context.
func (d *Directory) Remove(rc experience.RenderContext) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, rc)
}

// Cleanup purges entries whose owner has been released.
func (d *Directory) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for rc, entry := range d.entries {
		if entry.owner.Released() {
			delete(d.entries, rc)
		}
	}
}

// Contexts lists the contexts with a live machine.
func (d *Directory) Contexts() []experience.RenderContext {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]experience.RenderContext, 0, len(d.entries))
	for rc, entry := range d.entries {
		if !entry.owner.Released() {
			out = append(out, rc)
		}
	}
	return out
}
