// Copyright (C) 2025 Appcues (support@appcues.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package storage provides the durable activity store.
//
// Tracking payloads are persisted to an embedded BadgerDB before
// transmission and removed once delivered or defeated as
// non-retriable. Storage must survive process termination: an
// activity written here is retried on a later launch if the process
// dies mid-send.
//
// The store makes no ordering or dedup guarantees. Callers sort by
// Created and exclude in-flight request IDs themselves.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/appcues/appcues-sdk-go/activity"
)

// keyPrefix namespaces activity records inside the database.
var keyPrefix = []byte("activity/")

// ErrClosed is returned for operations on a closed store.
var ErrClosed = errors.New("activity store is closed")

// Storing is the durable activity store contract.
//
// Implementations must be safe for concurrent Save/Read/Remove from
// multiple processor instances.
type Storing interface {
	// Save persists an activity keyed by its RequestID. Overwrites
	// any existing record with the same id.
	Save(ctx context.Context, a *activity.Activity) error

	// Remove deletes the record for the given request id. Removing a
	// missing id is not an error.
	Remove(ctx context.Context, requestID uuid.UUID) error

	// Read returns all stored activities in unspecified order.
	Read(ctx context.Context) ([]*activity.Activity, error)

	// Close releases the underlying database.
	Close() error
}

// Config holds configuration for the badger-backed store.
type Config struct {
	// Path is the directory for database files. Required unless
	// InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing and preview builds.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	// Default true for production, false for testing.
	SyncWrites bool

	// GCInterval is how often to run value log garbage collection.
	// Zero disables GC.
	GCInterval time.Duration

	// Logger receives store diagnostics. Nil disables badger's
	// internal logging.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults: synchronous writes and a
// 5-minute GC interval.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
		GCInterval: 5 * time.Minute,
	}
}

// InMemoryConfig returns a configuration for tests: in-memory, no
// sync, no GC.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// record is the storage envelope. Wire-invisible fields of Activity
// (Created, UserSignature) must survive a process restart, so they
// are carried explicitly alongside the wire body.
type record struct {
	Body      json.RawMessage `json:"body"`
	Created   time.Time       `json:"created"`
	Signature string          `json:"signature,omitempty"`
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is the badger-backed implementation of Storing.
//
// Thread Safety: safe for concurrent use; badger transactions provide
// isolation and the stop channel is closed exactly once via Close.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
	stopGC chan struct{}
	doneGC chan struct{}
}

// Open creates and opens the store with the given configuration.
//
// Creates the directory if it doesn't exist. The caller must Close()
// the returned store.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open activity store: %w", err)
	}

	s := &Store{
		db:     db,
		logger: cfg.Logger,
		stopGC: make(chan struct{}),
		doneGC: make(chan struct{}),
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		go s.runGC(cfg.GCInterval)
	} else {
		close(s.doneGC)
	}

	return s, nil
}

// Save implements Storing.
func (s *Store) Save(ctx context.Context, a *activity.Activity) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode activity %s: %w", a.RequestID, err)
	}
	value, err := json.Marshal(record{
		Body:      body,
		Created:   a.Created,
		Signature: a.UserSignature,
	})
	if err != nil {
		return fmt.Errorf("encode record %s: %w", a.RequestID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(a.RequestID), value)
	})
	if err != nil {
		return fmt.Errorf("save activity %s: %w", a.RequestID, err)
	}
	return nil
}

// Remove implements Storing.
func (s *Store) Remove(ctx context.Context, requestID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(requestID))
	})
	if err != nil {
		return fmt.Errorf("remove activity %s: %w", requestID, err)
	}
	return nil
}

// Read implements Storing.
//
// Undecodable records are skipped and deleted on a best-effort basis;
// a corrupt entry must not wedge the whole retry pipeline.
func (s *Store) Read(ctx context.Context) ([]*activity.Activity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result []*activity.Activity
	var corrupt [][]byte

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			PrefetchValues: true,
			Prefix:         keyPrefix,
		})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var rec record
				if err := json.Unmarshal(val, &rec); err != nil {
					corrupt = append(corrupt, item.KeyCopy(nil))
					return nil
				}
				var a activity.Activity
				if err := json.Unmarshal(rec.Body, &a); err != nil {
					corrupt = append(corrupt, item.KeyCopy(nil))
					return nil
				}
				a.Created = rec.Created
				a.UserSignature = rec.Signature
				result = append(result, &a)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read activities: %w", err)
	}

	if len(corrupt) > 0 {
		if s.logger != nil {
			s.logger.Warn("dropping undecodable activity records", "count", len(corrupt))
		}
		_ = s.db.Update(func(txn *badger.Txn) error {
			for _, k := range corrupt {
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
			return nil
		})
	}

	return result, nil
}

// Close stops garbage collection and closes the database.
func (s *Store) Close() error {
	select {
	case <-s.stopGC:
		// already closed
	default:
		close(s.stopGC)
	}
	<-s.doneGC
	return s.db.Close()
}

func (s *Store) runGC(interval time.Duration) {
	defer close(s.doneGC)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// nil means GC rewrote a log file; ErrNoRewrite means
			// nothing to collect.
			err := s.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				if s.logger != nil {
					s.logger.Warn("activity store GC error", "error", err.Error())
				}
			}
		}
	}
}

func key(requestID uuid.UUID) []byte {
	return append(append([]byte{}, keyPrefix...), requestID.String()...)
}
