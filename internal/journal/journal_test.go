package journal

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ztimer/internal/async"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestJournal(t *testing.T) (*Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pending.yml")
	return New(path, async.Sync{}, discardLogger()), path
}

func TestSetAndConsume(t *testing.T) {
	j, _ := newTestJournal(t)
	player := uuid.New()

	j.Set(player, "cave-1", []string{"say %player% returned"})
	assert.True(t, j.Has(player))

	pc, ok := j.Consume(player)
	require.True(t, ok)
	assert.Equal(t, "cave-1", pc.TimerID)
	assert.Equal(t, []string{"say %player% returned"}, pc.Commands)

	// Consume is destructive: a second read finds nothing.
	_, ok = j.Consume(player)
	assert.False(t, ok)
	assert.False(t, j.Has(player))
}

func TestSetOverwrites(t *testing.T) {
	j, _ := newTestJournal(t)
	player := uuid.New()

	j.Set(player, "cave-1", nil)
	j.Set(player, "cave-2", []string{"cmd"})

	pc, ok := j.Consume(player)
	require.True(t, ok)
	assert.Equal(t, "cave-2", pc.TimerID)
}

func TestSetEmptyTimerIDClears(t *testing.T) {
	j, _ := newTestJournal(t)
	player := uuid.New()

	j.Set(player, "cave-1", nil)
	j.Set(player, "", nil)
	assert.False(t, j.Has(player))
}

func TestClearIdempotent(t *testing.T) {
	j, _ := newTestJournal(t)
	player := uuid.New()

	j.Clear(player) // nothing there yet
	j.Set(player, "cave-1", nil)
	j.Clear(player)
	j.Clear(player)
	assert.False(t, j.Has(player))
}

func TestCommandsSanitized(t *testing.T) {
	j, _ := newTestJournal(t)
	player := uuid.New()

	j.Set(player, "cave-1", []string{"  spawn %player%  ", "", "   ", "give %player% key"})

	pc, ok := j.Consume(player)
	require.True(t, ok)
	assert.Equal(t, []string{"spawn %player%", "give %player% key"}, pc.Commands)
}

func TestSurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.yml")
	player := uuid.New()

	j := New(path, async.Sync{}, discardLogger())
	j.Set(player, "cave-1", []string{"say wb"})

	// A new journal over the same file sees the entry: restart survival.
	reloaded := New(path, async.Sync{}, discardLogger())
	pc, ok := reloaded.Consume(player)
	require.True(t, ok)
	assert.Equal(t, "cave-1", pc.TimerID)
	assert.Equal(t, []string{"say wb"}, pc.Commands)

	// The consume was flushed too; a third load finds nothing.
	assert.False(t, New(path, async.Sync{}, discardLogger()).Has(player))
}

func TestMissingFileIsEmpty(t *testing.T) {
	j := New(filepath.Join(t.TempDir(), "absent.yml"), async.Sync{}, discardLogger())
	assert.False(t, j.Has(uuid.New()))
}

func TestCorruptFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.yml")
	require.NoError(t, os.WriteFile(path, []byte("{{{not yaml"), 0o644))

	j := New(path, async.Sync{}, discardLogger())
	assert.False(t, j.Has(uuid.New()))

	// The journal still accepts writes after a failed load.
	player := uuid.New()
	j.Set(player, "cave-1", nil)
	assert.True(t, j.Has(player))
}

// queueDispatcher collects dispatched tasks so a test can run them later,
// in any order.
type queueDispatcher struct {
	tasks []func()
}

func (d *queueDispatcher) Dispatch(fn func()) {
	d.tasks = append(d.tasks, fn)
}

func (d *queueDispatcher) runReversed() {
	for i := len(d.tasks) - 1; i >= 0; i-- {
		d.tasks[i]()
	}
	d.tasks = nil
}

func TestStaleFlushNeverWinsOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.yml")
	player := uuid.New()
	dispatch := &queueDispatcher{}

	j := New(path, dispatch, discardLogger())
	j.Set(player, "cave-1", []string{"say wb"})
	_, ok := j.Consume(player)
	require.True(t, ok)

	// The Set flush runs after the Consume flush. The file must still end
	// up reflecting the consume, or a restart would replay the completion
	// a second time.
	dispatch.runReversed()

	reloaded := New(path, async.Sync{}, discardLogger())
	_, ok = reloaded.Consume(player)
	assert.False(t, ok)
}

func TestMalformedEntriesSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.yml")
	player := uuid.New()
	body := "players:\n" +
		"  not-a-uuid:\n    timer_id: cave-1\n" +
		"  " + player.String() + ":\n    timer_id: cave-2\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	j := New(path, async.Sync{}, discardLogger())

	// Only the well-formed entry loads; the malformed key is skipped
	// without failing the whole file.
	pc, ok := j.Consume(player)
	require.True(t, ok)
	assert.Equal(t, "cave-2", pc.TimerID)
}
