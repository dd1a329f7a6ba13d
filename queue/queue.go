// Package queue defines the durable signal queue and extraction cache
// (spec §3 "Signal/Extraction Queues", §6 persistent state (b) and (c)).
// These stores are the single source of truth for pending L2->L3 work;
// the reasoning graph is never consulted to decide what remains to be
// extracted, only to repair a corrupted queue on operator request (spec
// §3 "Ownership").
package queue

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a signal ID is unknown to the store.
var ErrNotFound = errors.New("queue: signal not found")

// ErrReservationConflict is returned by Reserve/CAS-style transitions when
// a row was already claimed by another reservation (spec §5: "if CAS
// fails, the row is already being handled").
var ErrReservationConflict = errors.New("queue: reservation conflict")

// Status is a signal's position in the L2->L3 lifecycle.
type Status string

// Signal lifecycle states (spec §4.3, §7).
const (
	StatusPending    Status = "pending"
	StatusExtracting Status = "extracting"
	StatusExtracted  Status = "extracted"
	StatusFailed     Status = "failed"
	StatusDead       Status = "dead"
)

// Signal is a durable row in the signal queue, matching the column list
// in spec §6 persistent state (b).
type Signal struct {
	ID             string
	SourcePrompt   string
	SourceResponse string
	Patterns       []string
	Module         string
	Status         Status
	Attempts       int
	NextRetryAt    int64
	CreatedAt      int64
}

// Depth summarizes queue occupancy for the health check (spec §4.11).
type Depth struct {
	Pending    int
	Extracting int
	Failed     int
	Dead       int
}

// Store is the signal queue plus extraction cache persistence layer.
// Implementations must support per-row compare-and-set status transitions
// (spec §5: "per-row compare-and-set on status transitions
// (pending->extracting->extracted/failed)").
type Store interface {
	// Enqueue persists a new pending signal.
	Enqueue(ctx context.Context, s Signal) error

	// Reserve atomically claims up to n signals that are pending or whose
	// NextRetryAt has elapsed, transitioning them to extracting, and
	// returns the claimed rows. A signal claimed by a concurrent Reserve
	// call is never returned twice.
	Reserve(ctx context.Context, n int) ([]Signal, error)

	// MarkExtracted transitions id from extracting to extracted and
	// records its fingerprint in the extraction cache pointing at
	// decisionID. Returns ErrNotFound if id is unknown.
	MarkExtracted(ctx context.Context, id, fingerprint, decisionID string) error

	// MarkFailed transitions id from extracting back to failed (or dead,
	// if dead is true), recording the next retry time.
	MarkFailed(ctx context.Context, id string, nextRetryAt int64, dead bool) error

	// Revert transitions id from extracting back to pending, used on
	// cancellation (spec §5: "outstanding external LLM requests are
	// cancelled; their signals revert from extracting to pending").
	Revert(ctx context.Context, id string) error

	// Repair reverts every signal stuck in extracting back to pending.
	// Used after an ungraceful crash, where no in-flight cancellation
	// ran (spec §3 "Ownership": "rebuilt from the graph only on explicit
	// repair" — here, rebuilt from the queue's own crash-consistent
	// state, not the graph, since the queue is its own source of truth).
	Repair(ctx context.Context) error

	// Depth reports current queue occupancy by status.
	Depth(ctx context.Context) (Depth, error)

	// CacheLookup returns the decision ID previously extracted for
	// fingerprint, if any.
	CacheLookup(ctx context.Context, fingerprint string) (decisionID string, found bool, err error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}
