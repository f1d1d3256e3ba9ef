package websocket

import (
	"time"

	"github.com/ztimer/internal/domain"
)

// Effect message types. These go to every connected client: the game-side
// bridge watches for them and enacts the teleport or command locally.
const (
	MessageTypeMoveToExit = "move_to_exit"
	MessageTypeRunCommand = "run_command"
)

// MoveToExitEffect asks the bridge to place a player at a timer's exit.
type MoveToExitEffect struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
	TimerID    string `json:"timer_id"`
}

// RunCommandEffect asks the bridge to execute a console command. Player
// tokens are already substituted.
type RunCommandEffect struct {
	Command string `json:"command"`
}

// EffectSink publishes engine side effects over the hub.
type EffectSink struct {
	hub *Hub
}

// NewEffectSink creates an EffectSink bound to the hub.
func NewEffectSink(hub *Hub) *EffectSink {
	return &EffectSink{hub: hub}
}

// MoveToExit broadcasts an exit-teleport request for the player.
func (s *EffectSink) MoveToExit(actor domain.Actor, timerID string) {
	s.hub.enqueue(&Message{
		Type: MessageTypeMoveToExit,
		Data: MoveToExitEffect{
			PlayerID:   actor.ID.String(),
			PlayerName: actor.Name,
			TimerID:    timerID,
		},
		Timestamp: time.Now(),
	})
}

// RunCommand broadcasts a console command for the bridge to run.
func (s *EffectSink) RunCommand(command string) {
	s.hub.enqueue(&Message{
		Type:      MessageTypeRunCommand,
		Data:      RunCommandEffect{Command: command},
		Timestamp: time.Now(),
	})
}
