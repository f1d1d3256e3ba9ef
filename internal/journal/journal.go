// Package journal persists pending completions: the deferred commands and
// target timer owed to a player who disconnected mid-run. The in-memory map
// is the source of truth; the backing file is rewritten wholesale on an
// asynchronous flush after every mutation, so a crash between flushes loses
// at most the most recent mutation.
package journal

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ztimer/internal/async"
	"github.com/ztimer/internal/domain"
)

type fileEntry struct {
	TimerID  string   `yaml:"timer_id"`
	Commands []string `yaml:"commands,omitempty"`
}

type fileLayout struct {
	Players map[string]fileEntry `yaml:"players"`
}

// Journal is the durable pending-completion map, keyed by player id.
// At most one entry exists per player.
type Journal struct {
	mu      sync.Mutex
	entries map[uuid.UUID]domain.PendingCompletion
	seq     uint64

	path     string
	fileMu   sync.Mutex
	lastSeq  uint64
	dispatch async.Dispatcher
	logger   *slog.Logger
}

// New creates a journal backed by the given file and loads any persisted
// entries. A missing or unreadable file yields an empty journal, never an
// error: journal recovery must not block the rest of the system.
func New(path string, dispatch async.Dispatcher, logger *slog.Logger) *Journal {
	j := &Journal{
		entries:  make(map[uuid.UUID]domain.PendingCompletion),
		path:     path,
		dispatch: dispatch,
		logger:   logger,
	}
	j.load()
	return j
}

func (j *Journal) load() {
	data, err := os.ReadFile(j.path)
	if err != nil {
		if !os.IsNotExist(err) {
			j.logger.Error("failed to read journal file, starting empty", "path", j.path, "error", err)
		}
		return
	}

	var layout fileLayout
	if err := yaml.Unmarshal(data, &layout); err != nil {
		j.logger.Error("failed to parse journal file, starting empty", "path", j.path, "error", err)
		return
	}

	for key, entry := range layout.Players {
		playerID, err := uuid.Parse(key)
		if err != nil {
			j.logger.Warn("skipping journal entry with malformed player id", "key", key)
			continue
		}
		if entry.TimerID == "" {
			continue
		}
		j.entries[playerID] = domain.PendingCompletion{
			TimerID:  entry.TimerID,
			Commands: entry.Commands,
		}
	}

	if len(j.entries) > 0 {
		j.logger.Info("loaded pending completions", "count", len(j.entries))
	}
}

// Set records a pending completion for a player, overwriting any existing
// entry. An empty timer id is equivalent to Clear. Commands are sanitized:
// surrounding whitespace trimmed, blank entries dropped.
func (j *Journal) Set(playerID uuid.UUID, timerID string, commands []string) {
	j.mu.Lock()
	if timerID == "" {
		delete(j.entries, playerID)
	} else {
		j.entries[playerID] = domain.PendingCompletion{
			TimerID:  timerID,
			Commands: sanitizeCommands(commands),
		}
	}
	j.mu.Unlock()

	j.flushAsync()
}

// Clear removes a player's entry if present. Idempotent.
func (j *Journal) Clear(playerID uuid.UUID) {
	j.mu.Lock()
	_, existed := j.entries[playerID]
	delete(j.entries, playerID)
	j.mu.Unlock()

	if existed {
		j.flushAsync()
	}
}

// Consume atomically reads and removes a player's entry. The second return
// is false when no entry exists.
func (j *Journal) Consume(playerID uuid.UUID) (domain.PendingCompletion, bool) {
	j.mu.Lock()
	pc, ok := j.entries[playerID]
	delete(j.entries, playerID)
	j.mu.Unlock()

	if ok {
		j.flushAsync()
	}
	return pc, ok
}

// Has reports whether a player currently owes a pending completion.
func (j *Journal) Has(playerID uuid.UUID) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.entries[playerID]
	return ok
}

// flushAsync snapshots the current state and rewrites the backing file off
// the caller's goroutine. The whole file is rewritten each time; the
// persisted set is expected to stay small. Each snapshot carries a sequence
// number taken under mu, so write can drop a snapshot whose dispatched task
// ran after a newer one already landed.
func (j *Journal) flushAsync() {
	j.mu.Lock()
	j.seq++
	seq := j.seq
	layout := fileLayout{Players: make(map[string]fileEntry, len(j.entries))}
	for playerID, pc := range j.entries {
		layout.Players[playerID.String()] = fileEntry{
			TimerID:  pc.TimerID,
			Commands: pc.Commands,
		}
	}
	j.mu.Unlock()

	j.dispatch.Dispatch(func() {
		if err := j.write(seq, layout); err != nil {
			j.logger.Error("failed to write journal file", "path", j.path, "error", err)
		}
	})
}

// write serializes flushes so two snapshots never interleave on disk, and
// skips any snapshot older than the last one written.
func (j *Journal) write(seq uint64, layout fileLayout) error {
	j.fileMu.Lock()
	defer j.fileMu.Unlock()

	if seq <= j.lastSeq {
		return nil
	}

	data, err := yaml.Marshal(layout)
	if err != nil {
		return fmt.Errorf("marshaling journal: %w", err)
	}
	if err := os.WriteFile(j.path, data, 0o644); err != nil {
		return fmt.Errorf("writing journal: %w", err)
	}
	j.lastSeq = seq
	return nil
}

func sanitizeCommands(commands []string) []string {
	if len(commands) == 0 {
		return nil
	}
	cleaned := make([]string, 0, len(commands))
	for _, cmd := range commands {
		trimmed := strings.TrimSpace(cmd)
		if trimmed == "" {
			continue
		}
		cleaned = append(cleaned, trimmed)
	}
	if len(cleaned) == 0 {
		return nil
	}
	return cleaned
}
