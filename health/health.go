// Package health reports the daemon's operational status: graph
// reachability, queue depth, dead-signal count, and extraction staleness
// (spec §4.11, §7).
package health

import (
	"context"
	"time"

	"github.com/actiquest-dev/membria/graph"
	"github.com/actiquest-dev/membria/queue"
)

// Snapshot is a point-in-time health report.
type Snapshot struct {
	GraphReachable    bool
	QueueDepth        queue.Depth
	DeadSignals       int
	LastExtractionAge time.Duration
	L3Enabled         bool
}

// Clock returns the current time; overridable in tests.
type Clock func() time.Time

// Checker computes Snapshots from the graph store and signal queue.
type Checker struct {
	graph     graph.Store
	queue     queue.Store
	l3Enabled bool
	now       Clock

	lastExtraction time.Time
}

// Options configures a Checker.
type Options struct {
	Graph     graph.Store
	Queue     queue.Store
	L3Enabled bool
	Now       Clock
}

// New builds a Checker. now defaults to time.Now.
func New(opts Options) *Checker {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Checker{graph: opts.Graph, queue: opts.Queue, l3Enabled: opts.L3Enabled, now: now}
}

// NoteExtraction records that a Batch Extractor run just completed,
// resetting LastExtractionAge's reference point.
func (c *Checker) NoteExtraction() {
	c.lastExtraction = c.now()
}

// Check queries the graph store and signal queue for a fresh Snapshot.
func (c *Checker) Check(ctx context.Context) (Snapshot, error) {
	reachable := c.graph.Ping(ctx) == nil

	depth, err := c.queue.Depth(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	var age time.Duration
	if !c.lastExtraction.IsZero() {
		age = c.now().Sub(c.lastExtraction)
	}

	return Snapshot{
		GraphReachable:    reachable,
		QueueDepth:        depth,
		DeadSignals:       depth.Dead,
		LastExtractionAge: age,
		L3Enabled:         c.l3Enabled,
	}, nil
}
