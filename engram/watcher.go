package engram

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/actiquest-dev/membria/telemetry"
)

// dropRecord mirrors the on-disk JSON shape of a dropped commit record
// (spec §6 "Commit ingestion"): sha, branch, message, author, timestamp,
// files, lines_added, lines_removed. session_id is accepted but optional
// so the drop path can still carry session linking when the caller has
// one available.
type dropRecord struct {
	SHA             string   `json:"sha"`
	Branch          string   `json:"branch"`
	Message         string   `json:"message"`
	Author          string   `json:"author"`
	Timestamp       int64    `json:"timestamp"`
	Files           []string `json:"files"`
	LinesAdded      int      `json:"lines_added"`
	LinesRemoved    int      `json:"lines_removed"`
	SessionID       string   `json:"session_id"`
	SessionDuration int64    `json:"session_duration"`
	AgentType       string   `json:"agent_type"`
	AgentModel      string   `json:"agent_model"`
}

// DropWatcher watches a directory for dropped commit-record JSON files and
// feeds each one through the same Capturer entry point used by the
// synchronous tool call, so both ingestion paths share one code path
// (spec §6 EXPANSION).
type DropWatcher struct {
	dir      string
	capturer *Capturer
	watcher  *fsnotify.Watcher
	log      telemetry.Logger
}

// NewDropWatcher creates a watcher over dir. The directory must already
// exist; NewDropWatcher does not create it.
func NewDropWatcher(dir string, capturer *Capturer, logger telemetry.Logger) (*DropWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("engram: create drop watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("engram: watch drop directory %q: %w", dir, err)
	}
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &DropWatcher{dir: dir, capturer: capturer, watcher: w, log: logger}, nil
}

// Run processes drop events until ctx is canceled. A file already present
// in the directory at startup is picked up too, since the daemon may have
// been restarted between the file landing and its being read.
func (w *DropWatcher) Run(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("engram: read drop directory %q: %w", w.dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		w.ingest(ctx, filepath.Join(w.dir, e.Name()))
	}

	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			return ctx.Err()
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !strings.HasSuffix(ev.Name, ".json") {
				continue
			}
			w.ingest(ctx, ev.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn(ctx, "engram: drop watcher error", "error", err)
		}
	}
}

// ingest reads, parses, and captures a single dropped commit-record file,
// then removes it so it is not reprocessed on the next restart. Every
// failure is logged and skipped rather than propagated: a malformed or
// unreadable drop file must not stop the watcher.
func (w *DropWatcher) ingest(ctx context.Context, path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		w.log.Warn(ctx, "engram: read drop file failed", "path", path, "error", err)
		return
	}

	var rec dropRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		w.log.Warn(ctx, "engram: parse drop file failed", "path", path, "error", err)
		return
	}

	ev := CommitEvent{
		SHA:             rec.SHA,
		Branch:          rec.Branch,
		Message:         rec.Message,
		Author:          rec.Author,
		Timestamp:       rec.Timestamp,
		Files:           rec.Files,
		LinesAdded:      rec.LinesAdded,
		LinesRemoved:    rec.LinesRemoved,
		SessionID:       rec.SessionID,
		SessionDuration: rec.SessionDuration,
		AgentType:       rec.AgentType,
		AgentModel:      rec.AgentModel,
	}
	if _, err := w.capturer.Capture(ctx, ev); err != nil {
		w.log.Warn(ctx, "engram: capture from drop file failed", "path", path, "error", err)
		return
	}

	if err := os.Remove(path); err != nil {
		w.log.Warn(ctx, "engram: remove drop file failed", "path", path, "error", err)
	}
}
