// Package memqueue provides an in-memory implementation of queue.Store.
//
// Intended for tests and local development; not durable across process
// restarts.
package memqueue

import (
	"context"
	"sync"

	"github.com/actiquest-dev/membria/queue"
)

// Store implements queue.Store in memory. All operations are thread-safe
// via a single mutex; Reserve performs its claim-and-mutate under the same
// lock so no two callers can observe the same pending signal.
type Store struct {
	mu           sync.Mutex
	signals      map[string]queue.Signal
	extractCache map[string]string // fingerprint -> decision id
}

// Compile-time check that Store implements queue.Store.
var _ queue.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		signals:      make(map[string]queue.Signal),
		extractCache: make(map[string]string),
	}
}

// Ping always succeeds for the in-memory store.
func (s *Store) Ping(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// Enqueue persists a new pending signal.
func (s *Store) Enqueue(_ context.Context, sig queue.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sig.Status == "" {
		sig.Status = queue.StatusPending
	}
	s.signals[sig.ID] = sig
	return nil
}

// Reserve claims up to n eligible signals, moving them to extracting.
func (s *Store) Reserve(_ context.Context, n int) ([]queue.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []queue.Signal
	for id, sig := range s.signals {
		if len(claimed) >= n {
			break
		}
		if sig.Status != queue.StatusPending && sig.Status != queue.StatusFailed {
			continue
		}
		sig.Status = queue.StatusExtracting
		s.signals[id] = sig
		claimed = append(claimed, sig)
	}
	return claimed, nil
}

// MarkExtracted transitions id to extracted and records its fingerprint.
func (s *Store) MarkExtracted(_ context.Context, id, fingerprint, decisionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[id]
	if !ok {
		return queue.ErrNotFound
	}
	sig.Status = queue.StatusExtracted
	s.signals[id] = sig
	s.extractCache[fingerprint] = decisionID
	return nil
}

// MarkFailed transitions id to failed or dead with the given retry time.
func (s *Store) MarkFailed(_ context.Context, id string, nextRetryAt int64, dead bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[id]
	if !ok {
		return queue.ErrNotFound
	}
	sig.Attempts++
	sig.NextRetryAt = nextRetryAt
	if dead {
		sig.Status = queue.StatusDead
	} else {
		sig.Status = queue.StatusFailed
	}
	s.signals[id] = sig
	return nil
}

// Revert transitions id back to pending.
func (s *Store) Revert(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[id]
	if !ok {
		return queue.ErrNotFound
	}
	sig.Status = queue.StatusPending
	s.signals[id] = sig
	return nil
}

// Repair reverts every signal stuck in extracting back to pending.
func (s *Store) Repair(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sig := range s.signals {
		if sig.Status == queue.StatusExtracting {
			sig.Status = queue.StatusPending
			s.signals[id] = sig
		}
	}
	return nil
}

// Depth reports current queue occupancy by status.
func (s *Store) Depth(_ context.Context) (queue.Depth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var d queue.Depth
	for _, sig := range s.signals {
		switch sig.Status {
		case queue.StatusPending:
			d.Pending++
		case queue.StatusExtracting:
			d.Extracting++
		case queue.StatusFailed:
			d.Failed++
		case queue.StatusDead:
			d.Dead++
		}
	}
	return d, nil
}

// CacheLookup returns the decision ID previously extracted for
// fingerprint, if any.
func (s *Store) CacheLookup(_ context.Context, fingerprint string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.extractCache[fingerprint]
	return id, ok, nil
}
