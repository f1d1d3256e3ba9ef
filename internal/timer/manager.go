// Package timer holds the in-memory authority for running timers and keeps
// the best-time and leaderboard caches coherent with durable storage.
package timer

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ztimer/internal/async"
	"github.com/ztimer/internal/config"
	"github.com/ztimer/internal/domain"
	"github.com/ztimer/internal/format"
	"github.com/ztimer/internal/journal"
	"github.com/ztimer/internal/store"
)

// Effects is the narrow surface the engine asks of the surrounding system:
// moving a player to a timer's configured exit and running a console
// command. Both are resolved entirely outside this core.
type Effects interface {
	MoveToExit(actor domain.Actor, timerID string)
	RunCommand(command string)
}

// Broadcaster pushes leaderboard refreshes to subscribed clients.
type Broadcaster interface {
	BroadcastLeaderboardUpdate(timerID string, entries []domain.LeaderboardEntry)
}

// Manager is the timer engine. It owns the per-player active-timer map and
// the two caches for its process lifetime; durable writes happen on
// dispatched background tasks and never block the command path.
type Manager struct {
	store    store.Store
	journal  *journal.Journal
	cfg      *config.Config
	effects  Effects
	dispatch async.Dispatcher
	logger   *slog.Logger
	hub      Broadcaster

	now func() time.Time

	// player id -> domain.ActiveTimer
	active syncMap[uuid.UUID, domain.ActiveTimer]
	// player id | timer id -> best millis
	bestTimes syncMap[string, int64]
	// timer id -> ordered leaderboard entries
	leaderboards syncMap[string, []domain.LeaderboardEntry]
}

// NewManager creates a new timer engine
func NewManager(
	st store.Store,
	j *journal.Journal,
	cfg *config.Config,
	effects Effects,
	dispatch async.Dispatcher,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		store:    st,
		journal:  j,
		cfg:      cfg,
		effects:  effects,
		dispatch: dispatch,
		logger:   logger,
		now:      time.Now,
	}
}

// SetHub attaches the broadcaster notified after leaderboard refreshes.
func (m *Manager) SetHub(hub Broadcaster) {
	m.hub = hub
}

func cacheKey(playerID uuid.UUID, timerID string) string {
	return playerID.String() + "|" + timerID
}

// Start begins a timer for a player. Any previously running timer for that
// player is discarded with no record, whatever it was timing.
func (m *Manager) Start(actor domain.Actor, rawTimerID string) error {
	timerID, err := domain.NormalizeTimerID(rawTimerID)
	if err != nil {
		return err
	}

	m.active.Store(actor.ID, domain.ActiveTimer{TimerID: timerID, StartedAt: m.now()})

	if m.cfg.Debug.Enabled && m.cfg.Debug.LogStartStop {
		m.logger.Info("timer started", "timer_id", timerID, "player", actor.Name)
	}
	return nil
}

// Stop ends a player's run of the given timer and returns the elapsed
// milliseconds. It only succeeds from Running(timerID): stopping while idle
// or while running a different timer reports ErrNotRunning. The best-time
// write, cache update and leaderboard refresh happen on a background task;
// the returned elapsed time never waits for the store.
func (m *Manager) Stop(actor domain.Actor, rawTimerID string) (int64, error) {
	timerID, err := domain.NormalizeTimerID(rawTimerID)
	if err != nil {
		return 0, err
	}

	active, ok := m.active.Load(actor.ID)
	if !ok || active.TimerID != timerID {
		return 0, domain.ErrNotRunning
	}
	if !m.active.CompareAndDelete(actor.ID, active) {
		// Lost a race with a concurrent transition for the same player.
		return 0, domain.ErrNotRunning
	}

	now := m.now()
	elapsed := active.Elapsed(now)

	m.dispatch.Dispatch(func() {
		m.persistIfImproved(actor, timerID, elapsed, now)
	})

	if m.cfg.Debug.Enabled && m.cfg.Debug.LogStartStop {
		m.logger.Info("timer stopped", "timer_id", timerID, "player", actor.Name, "elapsed_ms", elapsed)
	}
	return elapsed, nil
}

// persistIfImproved writes a best-time record only when the new duration is
// strictly smaller than the stored one (or none exists). The comparison runs
// here rather than in the store so the cache and the write stay coherent.
func (m *Manager) persistIfImproved(actor domain.Actor, timerID string, elapsed int64, at time.Time) {
	ctx := context.Background()
	key := cacheKey(actor.ID, timerID)

	current, known := m.bestTimes.Load(key)
	if !known {
		stored, ok, err := m.store.GetBestTime(ctx, actor.ID, timerID)
		if err != nil {
			m.logDBError("reading best time", actor, timerID, err)
			return
		}
		current, known = stored, ok
	}

	if known && elapsed >= current {
		return
	}

	if err := m.store.UpdateBestTime(ctx, actor.ID, actor.Name, timerID, elapsed, at); err != nil {
		m.logDBError("updating best time", actor, timerID, err)
		return
	}
	m.bestTimes.Store(key, elapsed)
	m.refreshLeaderboard(ctx, timerID)
}

// Reset clears a player's run and stored best time for a timer. The state
// transition is reported as success immediately; the store delete and cache
// refresh follow asynchronously.
func (m *Manager) Reset(actor domain.Actor, rawTimerID string) error {
	timerID, err := domain.NormalizeTimerID(rawTimerID)
	if err != nil {
		return err
	}

	if active, ok := m.active.Load(actor.ID); ok && active.TimerID == timerID {
		m.active.CompareAndDelete(actor.ID, active)
	}

	m.dispatch.Dispatch(func() {
		ctx := context.Background()
		if err := m.store.ResetBestTime(ctx, actor.ID, timerID); err != nil {
			m.logDBError("resetting best time", actor, timerID, err)
			return
		}
		m.bestTimes.Delete(cacheKey(actor.ID, timerID))
		m.refreshLeaderboard(ctx, timerID)
	})

	return nil
}

// Cancel abandons a player's run of the given timer with no record written
// and moves them to the timer's exit. Only valid from Running(timerID).
func (m *Manager) Cancel(actor domain.Actor, rawTimerID string) error {
	timerID, err := domain.NormalizeTimerID(rawTimerID)
	if err != nil {
		return err
	}

	active, ok := m.active.Load(actor.ID)
	if !ok || active.TimerID != timerID {
		return domain.ErrNotRunning
	}
	m.active.CompareAndDelete(actor.ID, active)

	m.effects.MoveToExit(actor, timerID)

	if m.cfg.Debug.Enabled && m.cfg.Debug.LogStartStop {
		m.logger.Info("timer canceled", "timer_id", timerID, "player", actor.Name)
	}
	return nil
}

// ResetGlobal deletes every stored best time for a timer and refreshes its
// caches. In-flight runs of the timer are not interrupted. A stop landing
// concurrently with this delete is last-write-wins; whichever background
// task completes last determines the stored state.
func (m *Manager) ResetGlobal(rawTimerID string) error {
	timerID, err := domain.NormalizeTimerID(rawTimerID)
	if err != nil {
		return err
	}

	m.dispatch.Dispatch(func() {
		ctx := context.Background()
		if err := m.store.ResetTimer(ctx, timerID); err != nil {
			m.logger.Error("failed to reset timer globally", "timer_id", timerID, "error", err)
			return
		}

		suffix := "|" + timerID
		m.bestTimes.Range(func(key string, _ int64) bool {
			if strings.HasSuffix(key, suffix) {
				m.bestTimes.Delete(key)
			}
			return true
		})
		m.refreshLeaderboard(ctx, timerID)
	})

	return nil
}

// HandleDisconnect discards the player's running timer, runs any
// logout-tagged commands now, and journals the relog commands plus the
// timer id for replay on reconnect. A disconnect forfeits the attempt:
// this is the one place progress is silently lost.
func (m *Manager) HandleDisconnect(actor domain.Actor) {
	active, ok := m.active.LoadAndDelete(actor.ID)
	if !ok {
		return
	}

	for _, cmd := range m.cfg.LogoutCommandsForTimer(active.TimerID) {
		m.runCommand(actor, cmd)
	}

	relog := m.cfg.RelogCommandsForTimer(active.TimerID)
	m.journal.Set(actor.ID, active.TimerID, relog)

	if m.cfg.Debug.Enabled && m.cfg.Debug.LogStartStop {
		m.logger.Info("player disconnected mid-timer, completion journaled",
			"timer_id", active.TimerID, "player", actor.Name)
	}
}

// HandleReconnect refreshes the player's stored display name and replays
// any pending completion: move to the timer's exit, then run the deferred
// commands after a short delay so the session is fully established.
func (m *Manager) HandleReconnect(actor domain.Actor) {
	// A connect without a name must not blank the stored one.
	if actor.Name != "" {
		m.dispatch.Dispatch(func() {
			if err := m.store.UpdatePlayerName(context.Background(), actor.ID, actor.Name); err != nil {
				m.logDBError("updating player name", actor, "", err)
			}
		})
	}

	pc, ok := m.journal.Consume(actor.ID)
	if !ok {
		return
	}

	m.effects.MoveToExit(actor, pc.TimerID)

	commands := pc.Commands
	delay := m.cfg.Reconnect.CommandDelay
	m.dispatch.Dispatch(func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		for _, cmd := range commands {
			m.runCommand(actor, cmd)
		}
	})
}

func (m *Manager) runCommand(actor domain.Actor, command string) {
	command = strings.TrimSpace(command)
	if command == "" {
		return
	}
	replacer := strings.NewReplacer(
		"%player%", actor.Name,
		"%player_uuid%", actor.ID.String(),
	)
	m.effects.RunCommand(replacer.Replace(command))
}

// IsActive reports whether the player is currently running the given timer.
func (m *Manager) IsActive(playerID uuid.UUID, rawTimerID string) bool {
	timerID, err := domain.NormalizeTimerID(rawTimerID)
	if err != nil {
		return false
	}
	active, ok := m.active.Load(playerID)
	return ok && active.TimerID == timerID
}

// IsAnyActive reports whether any player is currently running the timer.
func (m *Manager) IsAnyActive(rawTimerID string) bool {
	timerID, err := domain.NormalizeTimerID(rawTimerID)
	if err != nil {
		return false
	}
	found := false
	m.active.Range(func(_ uuid.UUID, active domain.ActiveTimer) bool {
		if active.TimerID == timerID {
			found = true
			return false
		}
		return true
	})
	return found
}

// CurrentElapsed returns the player's elapsed milliseconds on a running
// timer. ok is false when that timer is not running for them.
func (m *Manager) CurrentElapsed(playerID uuid.UUID, rawTimerID string) (int64, bool) {
	timerID, err := domain.NormalizeTimerID(rawTimerID)
	if err != nil {
		return 0, false
	}
	active, ok := m.active.Load(playerID)
	if !ok || active.TimerID != timerID {
		return 0, false
	}
	return active.Elapsed(m.now()), true
}

// BestTime returns the player's best recorded time for a timer, reading the
// cache first and falling back to the store on a miss. Store failures are
// logged and reported as absent.
func (m *Manager) BestTime(playerID uuid.UUID, rawTimerID string) (int64, bool) {
	timerID, err := domain.NormalizeTimerID(rawTimerID)
	if err != nil {
		return 0, false
	}
	key := cacheKey(playerID, timerID)
	if millis, ok := m.bestTimes.Load(key); ok {
		return millis, true
	}

	millis, ok, err := m.store.GetBestTime(context.Background(), playerID, timerID)
	if err != nil {
		if m.cfg.Debug.Enabled && m.cfg.Debug.LogDBErrors {
			m.logger.Error("failed to read best time", "timer_id", timerID, "player_id", playerID, "error", err)
		}
		return 0, false
	}
	if ok {
		m.bestTimes.Store(key, millis)
	}
	return millis, ok
}

// FormatBestOrDefault renders the player's best time under the configured
// pattern, or the configured placeholder string when none exists.
func (m *Manager) FormatBestOrDefault(playerID uuid.UUID, rawTimerID string) string {
	millis, ok := m.BestTime(playerID, rawTimerID)
	if !ok {
		return m.cfg.Format.TimeDefault
	}
	return format.Millis(millis, m.cfg.Format.TimePattern)
}

// FormatMillis renders an elapsed duration under the configured pattern.
func (m *Manager) FormatMillis(millis int64) string {
	return format.Millis(millis, m.cfg.Format.TimePattern)
}

// Leaderboard returns the ranked top-N entries for a timer, reading the
// cache first and populating it from the store on a miss. An invalid id or
// a store failure yields an empty board.
func (m *Manager) Leaderboard(rawTimerID string) []domain.LeaderboardEntry {
	timerID, err := domain.NormalizeTimerID(rawTimerID)
	if err != nil {
		return nil
	}
	if entries, ok := m.leaderboards.Load(timerID); ok {
		return entries
	}

	ctx := context.Background()
	entries, err := m.store.TopN(ctx, timerID, m.cfg.TopNForTimer(timerID))
	if err != nil {
		if m.cfg.Debug.Enabled && m.cfg.Debug.LogDBErrors {
			m.logger.Error("failed to load leaderboard", "timer_id", timerID, "error", err)
		}
		return nil
	}
	m.leaderboards.Store(timerID, entries)
	return entries
}

// refreshLeaderboard eagerly repopulates a timer's leaderboard cache from
// the store and notifies the broadcaster. Called after every mutation that
// can change ranking.
func (m *Manager) refreshLeaderboard(ctx context.Context, timerID string) {
	entries, err := m.store.TopN(ctx, timerID, m.cfg.TopNForTimer(timerID))
	if err != nil {
		if m.cfg.Debug.Enabled && m.cfg.Debug.LogDBErrors {
			m.logger.Error("failed to refresh leaderboard", "timer_id", timerID, "error", err)
		}
		return
	}
	m.leaderboards.Store(timerID, entries)

	if m.hub != nil {
		m.hub.BroadcastLeaderboardUpdate(timerID, entries)
	}
}

func (m *Manager) logDBError(op string, actor domain.Actor, timerID string, err error) {
	if m.cfg.Debug.Enabled && m.cfg.Debug.LogDBErrors {
		m.logger.Error("store operation failed",
			"op", op, "player", actor.Name, "timer_id", timerID, "error", err)
	}
}
