// Invigilo - Assessment Session Proctoring Engine
// Copyright 2026 Invigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/invigilo/invigilo

package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/invigilo/invigilo/internal/logging"
	"github.com/invigilo/invigilo/internal/proctor"
)

// ErrBadgerSinkClosed indicates the sink has been closed.
var ErrBadgerSinkClosed = errors.New("badger sink is closed")

// BadgerSink persists violations and security events in an embedded BadgerDB
// audit store. Violations are keyed by session and a per-session sequence
// number so a prefix scan returns them in acceptance order; events are keyed
// by session and event ID.
//
// Key layout:
//
//	violation/<session_id>/<seq>  -> Violation JSON
//	event/<session_id>/<event_id> -> SecurityEvent JSON
type BadgerSink struct {
	db *badger.DB

	mu     sync.Mutex
	seq    map[string]uint64
	closed bool

	ttl time.Duration
}

// BadgerConfig configures the audit store.
type BadgerConfig struct {
	// Dir is the on-disk location. Empty with InMemory false is invalid.
	Dir string `json:"dir"`

	// InMemory runs BadgerDB without persistence. Used in tests.
	InMemory bool `json:"in_memory"`

	// TTL bounds record retention. Zero keeps records forever.
	TTL time.Duration `json:"ttl"`
}

// NewBadgerSink opens the audit store. The sink owns the database handle and
// closes it in Close.
func NewBadgerSink(cfg BadgerConfig) (*BadgerSink, error) {
	opts := badger.DefaultOptions(cfg.Dir).
		WithInMemory(cfg.InMemory).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}

	return &BadgerSink{
		db:  db,
		seq: make(map[string]uint64),
		ttl: cfg.TTL,
	}, nil
}

// Name implements proctor.EventSink.
func (s *BadgerSink) Name() string { return "badger" }

// RecordViolation implements proctor.EventSink.
func (s *BadgerSink) RecordViolation(ctx context.Context, sessionID string, v proctor.Violation) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrBadgerSinkClosed
	}
	s.seq[sessionID]++
	seq := s.seq[sessionID]
	s.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal violation: %w", err)
	}

	key := violationKey(sessionID, seq)
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key, data)
		if s.ttl > 0 {
			e = e.WithTTL(s.ttl)
		}
		return txn.SetEntry(e)
	})
}

// RecordEvent implements proctor.EventSink.
func (s *BadgerSink) RecordEvent(ctx context.Context, ev *proctor.SecurityEvent) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrBadgerSinkClosed
	}
	s.mu.Unlock()

	data, err := ev.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	key := eventKey(ev.SessionID, ev.ID)
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key, data)
		if s.ttl > 0 {
			e = e.WithTTL(s.ttl)
		}
		return txn.SetEntry(e)
	})
}

// Violations returns a session's stored violations in acceptance order.
func (s *BadgerSink) Violations(ctx context.Context, sessionID string) ([]proctor.Violation, error) {
	var out []proctor.Violation
	prefix := []byte("violation/" + sessionID + "/")

	err := s.view(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var v proctor.Violation
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &v)
			})
			if err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	return out, err
}

// Events returns a session's stored security events. Sessions normally emit
// exactly one, but the store does not enforce that.
func (s *BadgerSink) Events(ctx context.Context, sessionID string) ([]proctor.SecurityEvent, error) {
	var out []proctor.SecurityEvent
	prefix := []byte("event/" + sessionID + "/")

	err := s.view(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var ev proctor.SecurityEvent
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			})
			if err != nil {
				return err
			}
			out = append(out, ev)
		}
		return nil
	})
	return out, err
}

// RunValueLogGC runs one value-log garbage collection cycle. Called
// periodically by the maintenance service; badger.ErrNoRewrite means there
// was nothing to collect and is not an error.
func (s *BadgerSink) RunValueLogGC() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrBadgerSinkClosed
	}
	s.mu.Unlock()

	err := s.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	if err != nil {
		logging.Warn().Err(err).Msg("audit store value log GC failed")
	}
	return err
}

// Close flushes and closes the store.
func (s *BadgerSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *BadgerSink) view(fn func(txn *badger.Txn) error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrBadgerSinkClosed
	}
	s.mu.Unlock()
	return s.db.View(fn)
}

// violationKey builds a prefix-scannable key. The sequence is zero-padded so
// lexical iteration order matches acceptance order.
func violationKey(sessionID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("violation/%s/%012d", sessionID, seq))
}

func eventKey(sessionID, eventID string) []byte {
	return []byte("event/" + sessionID + "/" + eventID)
}
