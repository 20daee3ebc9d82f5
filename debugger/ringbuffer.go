// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package debugger

// ringBuffer is a fixed-size circular buffer.
//
// # Description
//
// O(1) push with bounded memory; when full, the oldest item is
// overwritten. Keeps the last N analytics entries for inspection.
//
// # Thread Safety
//
// NOT safe for concurrent use; the Debugger synchronizes access.
type ringBuffer[T any] struct {
	data  []T
	head  int // Next write position
	count int // Current number of elements
}

func newRingBuffer[T any](capacity int) *ringBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &ringBuffer[T]{data: make([]T, capacity)}
}

// push adds an item, overwriting the oldest when full.
func (r *ringBuffer[T]) push(item T) {
	r.data[r.head] = item
	r.head = (r.head + 1) % len(r.data)
	if r.count < len(r.data) {
		r.count++
	}
}

// snapshot returns the buffered items oldest-first.
func (r *ringBuffer[T]) snapshot() []T {
	out := make([]T, 0, r.count)
	start := (r.head - r.count + len(r.data)) % len(r.data)
	for i := 0; i < r.count; i++ {
		out = append(out, r.data[(start+i)%len(r.data)])
	}
	return out
}

func (r *ringBuffer[T]) len() int { return r.count }

func (r *ringBuffer[T]) capacity() int { return len(r.data) }
