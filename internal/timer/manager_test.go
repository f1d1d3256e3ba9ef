package timer

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ztimer/internal/async"
	"github.com/ztimer/internal/config"
	"github.com/ztimer/internal/domain"
	"github.com/ztimer/internal/journal"
)

type bestRecord struct {
	playerName string
	bestMillis int64
}

// fakeStore is an in-memory Store that records writes unconditionally, the
// same contract the real backends implement.
type fakeStore struct {
	mu   sync.Mutex
	best map[string]bestRecord // player id | timer id
}

func newFakeStore() *fakeStore {
	return &fakeStore{best: make(map[string]bestRecord)}
}

func (s *fakeStore) Init(context.Context) error { return nil }
func (s *fakeStore) Close()                     {}

func (s *fakeStore) GetBestTime(_ context.Context, playerID uuid.UUID, timerID string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.best[cacheKey(playerID, timerID)]
	return rec.bestMillis, ok, nil
}

func (s *fakeStore) UpdateBestTime(_ context.Context, playerID uuid.UUID, playerName, timerID string, bestMillis int64, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.best[cacheKey(playerID, timerID)] = bestRecord{playerName: playerName, bestMillis: bestMillis}
	return nil
}

func (s *fakeStore) ResetBestTime(_ context.Context, playerID uuid.UUID, timerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.best, cacheKey(playerID, timerID))
	return nil
}

func (s *fakeStore) ResetTimer(_ context.Context, timerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.best {
		if _, tid, ok := splitKey(key); ok && tid == timerID {
			delete(s.best, key)
		}
	}
	return nil
}

func (s *fakeStore) TopN(_ context.Context, timerID string, n int) ([]domain.LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []domain.LeaderboardEntry
	for key, rec := range s.best {
		id, tid, ok := splitKey(key)
		if !ok || tid != timerID {
			continue
		}
		entries = append(entries, domain.LeaderboardEntry{
			PlayerID:   id,
			PlayerName: rec.playerName,
			BestMillis: rec.bestMillis,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].BestMillis < entries[j].BestMillis })
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}

func (s *fakeStore) UpdatePlayerName(_ context.Context, playerID uuid.UUID, playerName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, rec := range s.best {
		if id, _, ok := splitKey(key); ok && id == playerID {
			rec.playerName = playerName
			s.best[key] = rec
		}
	}
	return nil
}

func splitKey(key string) (uuid.UUID, string, bool) {
	if len(key) < 37 {
		return uuid.Nil, "", false
	}
	id, err := uuid.Parse(key[:36])
	if err != nil {
		return uuid.Nil, "", false
	}
	return id, key[37:], true
}

// fakeEffects records the side effects the engine requests.
type fakeEffects struct {
	mu       sync.Mutex
	exits    []string // timer ids
	commands []string
}

func (e *fakeEffects) MoveToExit(_ domain.Actor, timerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exits = append(e.exits, timerID)
}

func (e *fakeEffects) RunCommand(command string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands = append(e.commands, command)
}

type testRig struct {
	manager *Manager
	store   *fakeStore
	effects *fakeEffects
	clock   *time.Time
}

func (r *testRig) advance(d time.Duration) {
	*r.clock = r.clock.Add(d)
}

func newTestRig(t *testing.T, cfg *config.Config) *testRig {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	cfg.Reconnect.CommandDelay = 0

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := newFakeStore()
	fx := &fakeEffects{}
	j := journal.New(filepath.Join(t.TempDir(), "pending.yml"), async.Sync{}, logger)

	m := NewManager(st, j, cfg, fx, async.Sync{}, logger)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	return &testRig{manager: m, store: st, effects: fx, clock: &now}
}

func actor(name string) domain.Actor {
	return domain.Actor{ID: uuid.New(), Name: name}
}

func TestStopReturnsElapsed(t *testing.T) {
	rig := newTestRig(t, nil)
	p := actor("Steve")

	require.NoError(t, rig.manager.Start(p, "cave-1"))
	rig.advance(65 * time.Second)

	elapsed, err := rig.manager.Stop(p, "cave-1")
	require.NoError(t, err)
	assert.Equal(t, int64(65000), elapsed)
}

func TestStopWhileIdle(t *testing.T) {
	rig := newTestRig(t, nil)

	_, err := rig.manager.Stop(actor("Steve"), "cave-1")
	assert.ErrorIs(t, err, domain.ErrNotRunning)
}

func TestStartPreemptsRunningTimer(t *testing.T) {
	rig := newTestRig(t, nil)
	p := actor("Steve")

	require.NoError(t, rig.manager.Start(p, "cave-1"))
	rig.advance(10 * time.Second)
	require.NoError(t, rig.manager.Start(p, "cave-2"))

	// The first run is discarded with no record.
	_, err := rig.manager.Stop(p, "cave-1")
	assert.ErrorIs(t, err, domain.ErrNotRunning)
	_, ok, err := rig.store.GetBestTime(context.Background(), p.ID, "cave-1")
	require.NoError(t, err)
	assert.False(t, ok)

	rig.advance(5 * time.Second)
	elapsed, err := rig.manager.Stop(p, "cave-2")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), elapsed)
}

func TestStopKeepsStrictBest(t *testing.T) {
	rig := newTestRig(t, nil)
	p := actor("Steve")

	run := func(d time.Duration) {
		require.NoError(t, rig.manager.Start(p, "cave-1"))
		rig.advance(d)
		_, err := rig.manager.Stop(p, "cave-1")
		require.NoError(t, err)
	}

	run(5 * time.Second)
	millis, ok, err := rig.store.GetBestTime(context.Background(), p.ID, "cave-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(5000), millis)

	// A slower run must not overwrite the record.
	run(7 * time.Second)
	millis, _, _ = rig.store.GetBestTime(context.Background(), p.ID, "cave-1")
	assert.Equal(t, int64(5000), millis)

	// An equal run is not an improvement either.
	run(5 * time.Second)
	millis, _, _ = rig.store.GetBestTime(context.Background(), p.ID, "cave-1")
	assert.Equal(t, int64(5000), millis)

	run(3 * time.Second)
	millis, _, _ = rig.store.GetBestTime(context.Background(), p.ID, "cave-1")
	assert.Equal(t, int64(3000), millis)
}

func TestCancelMovesToExitWithoutRecord(t *testing.T) {
	rig := newTestRig(t, nil)
	p := actor("Steve")

	require.NoError(t, rig.manager.Start(p, "cave-1"))
	rig.advance(4 * time.Second)
	require.NoError(t, rig.manager.Cancel(p, "cave-1"))

	assert.Equal(t, []string{"cave-1"}, rig.effects.exits)
	_, ok, err := rig.store.GetBestTime(context.Background(), p.ID, "cave-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, rig.manager.IsActive(p.ID, "cave-1"))
}

func TestCancelWrongTimer(t *testing.T) {
	rig := newTestRig(t, nil)
	p := actor("Steve")

	require.NoError(t, rig.manager.Start(p, "cave-1"))
	assert.ErrorIs(t, rig.manager.Cancel(p, "cave-2"), domain.ErrNotRunning)
	assert.True(t, rig.manager.IsActive(p.ID, "cave-1"))
}

func TestResetClearsRunAndRecord(t *testing.T) {
	rig := newTestRig(t, nil)
	p := actor("Steve")

	require.NoError(t, rig.manager.Start(p, "cave-1"))
	rig.advance(5 * time.Second)
	_, err := rig.manager.Stop(p, "cave-1")
	require.NoError(t, err)

	require.NoError(t, rig.manager.Start(p, "cave-1"))
	require.NoError(t, rig.manager.Reset(p, "cave-1"))

	assert.False(t, rig.manager.IsActive(p.ID, "cave-1"))
	_, ok := rig.manager.BestTime(p.ID, "cave-1")
	assert.False(t, ok)
	_, ok, err = rig.store.GetBestTime(context.Background(), p.ID, "cave-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResetGlobalIsolation(t *testing.T) {
	rig := newTestRig(t, nil)
	p1, p2 := actor("Steve"), actor("Alex")

	for _, p := range []domain.Actor{p1, p2} {
		require.NoError(t, rig.manager.Start(p, "cave-1"))
		rig.advance(5 * time.Second)
		_, err := rig.manager.Stop(p, "cave-1")
		require.NoError(t, err)
	}
	require.NoError(t, rig.manager.Start(p1, "cave-2"))
	rig.advance(3 * time.Second)
	_, err := rig.manager.Stop(p1, "cave-2")
	require.NoError(t, err)

	// A run in flight survives the global reset untouched.
	require.NoError(t, rig.manager.Start(p2, "cave-1"))
	require.NoError(t, rig.manager.ResetGlobal("cave-1"))

	assert.True(t, rig.manager.IsActive(p2.ID, "cave-1"))
	_, ok := rig.manager.BestTime(p1.ID, "cave-1")
	assert.False(t, ok)
	_, ok = rig.manager.BestTime(p2.ID, "cave-1")
	assert.False(t, ok)

	millis, ok := rig.manager.BestTime(p1.ID, "cave-2")
	require.True(t, ok)
	assert.Equal(t, int64(3000), millis)
}

func TestDisconnectRunsLogoutAndJournalsRelog(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Timers = map[string]config.TimerConfig{
		"cave-1": {
			RelogCommands:  []string{"give %player% torch", "say %player_uuid% returned"},
			LogoutCommands: []string{"say %player% left mid-run"},
		},
	}
	rig := newTestRig(t, cfg)
	p := actor("Steve")

	require.NoError(t, rig.manager.Start(p, "cave-1"))
	rig.manager.HandleDisconnect(p)

	assert.Equal(t, []string{"say Steve left mid-run"}, rig.effects.commands)
	assert.False(t, rig.manager.IsActive(p.ID, "cave-1"))

	rig.manager.HandleReconnect(p)
	assert.Equal(t, []string{"cave-1"}, rig.effects.exits)
	assert.Equal(t, []string{
		"say Steve left mid-run",
		"give Steve torch",
		"say " + p.ID.String() + " returned",
	}, rig.effects.commands)
}

func TestReconnectReplayIsExactlyOnce(t *testing.T) {
	rig := newTestRig(t, nil)
	p := actor("Steve")

	require.NoError(t, rig.manager.Start(p, "cave-1"))
	rig.manager.HandleDisconnect(p)

	rig.manager.HandleReconnect(p)
	require.Len(t, rig.effects.exits, 1)

	rig.manager.HandleReconnect(p)
	assert.Len(t, rig.effects.exits, 1)
}

func TestReconnectWithoutNameKeepsStoredName(t *testing.T) {
	rig := newTestRig(t, nil)
	p := actor("Steve")

	require.NoError(t, rig.store.UpdateBestTime(context.Background(), p.ID, p.Name, "cave-1", 5000, time.Now()))

	// A connect event can arrive without a display name; the stored one
	// must survive it.
	rig.manager.HandleReconnect(domain.Actor{ID: p.ID})
	entries, err := rig.store.TopN(context.Background(), "cave-1", 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Steve", entries[0].PlayerName)

	rig.manager.HandleReconnect(domain.Actor{ID: p.ID, Name: "Steve2"})
	entries, err = rig.store.TopN(context.Background(), "cave-1", 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Steve2", entries[0].PlayerName)
}

func TestDisconnectWhileIdleIsNoop(t *testing.T) {
	rig := newTestRig(t, nil)
	p := actor("Steve")

	rig.manager.HandleDisconnect(p)
	rig.manager.HandleReconnect(p)

	assert.Empty(t, rig.effects.exits)
	assert.Empty(t, rig.effects.commands)
}

func TestLeaderboardTracksStore(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Leaderboard.DefaultTopN = 2
	rig := newTestRig(t, cfg)

	times := map[string]time.Duration{"Alex": 7 * time.Second, "Steve": 5 * time.Second, "Kai": 9 * time.Second}
	for name, d := range times {
		p := actor(name)
		require.NoError(t, rig.manager.Start(p, "cave-1"))
		rig.advance(d)
		_, err := rig.manager.Stop(p, "cave-1")
		require.NoError(t, err)
	}

	entries := rig.manager.Leaderboard("cave-1")
	require.Len(t, entries, 2)
	assert.Equal(t, "Steve", entries[0].PlayerName)
	assert.Equal(t, int64(5000), entries[0].BestMillis)
	assert.Equal(t, "Alex", entries[1].PlayerName)
}

func TestBestTimePopulatesCacheFromStore(t *testing.T) {
	rig := newTestRig(t, nil)
	p := actor("Steve")

	require.NoError(t, rig.store.UpdateBestTime(context.Background(), p.ID, p.Name, "cave-1", 42000, time.Now()))

	millis, ok := rig.manager.BestTime(p.ID, "cave-1")
	require.True(t, ok)
	assert.Equal(t, int64(42000), millis)
}

func TestFormatBestOrDefault(t *testing.T) {
	rig := newTestRig(t, nil)
	p := actor("Steve")

	assert.Equal(t, "-", rig.manager.FormatBestOrDefault(p.ID, "cave-1"))

	require.NoError(t, rig.manager.Start(p, "cave-1"))
	rig.advance(65 * time.Second)
	_, err := rig.manager.Stop(p, "cave-1")
	require.NoError(t, err)

	assert.Equal(t, "1:05", rig.manager.FormatBestOrDefault(p.ID, "cave-1"))
}

func TestCurrentElapsed(t *testing.T) {
	rig := newTestRig(t, nil)
	p := actor("Steve")

	_, ok := rig.manager.CurrentElapsed(p.ID, "cave-1")
	assert.False(t, ok)

	require.NoError(t, rig.manager.Start(p, "cave-1"))
	rig.advance(1500 * time.Millisecond)
	elapsed, ok := rig.manager.CurrentElapsed(p.ID, "cave-1")
	require.True(t, ok)
	assert.Equal(t, int64(1500), elapsed)
}

func TestIsAnyActive(t *testing.T) {
	rig := newTestRig(t, nil)
	p := actor("Steve")

	assert.False(t, rig.manager.IsAnyActive("cave-1"))
	require.NoError(t, rig.manager.Start(p, "cave-1"))
	assert.True(t, rig.manager.IsAnyActive("cave-1"))
	assert.False(t, rig.manager.IsAnyActive("cave-2"))
}

func TestTimerIDNormalizedOnEntry(t *testing.T) {
	rig := newTestRig(t, nil)
	p := actor("Steve")

	require.NoError(t, rig.manager.Start(p, "Cave-1!"))
	assert.True(t, rig.manager.IsActive(p.ID, "cave-1"))

	err := rig.manager.Start(p, "***")
	assert.ErrorIs(t, err, domain.ErrInvalidTimerID)
}
