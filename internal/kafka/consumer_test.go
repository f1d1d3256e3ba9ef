package kafka

import (
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/ztimer/internal/domain"
)

type recordingHandler struct {
	calls []string
}

func (h *recordingHandler) Start(_ domain.Actor, timerID string) error {
	h.calls = append(h.calls, "start:"+timerID)
	return nil
}

func (h *recordingHandler) Stop(_ domain.Actor, timerID string) (int64, error) {
	h.calls = append(h.calls, "stop:"+timerID)
	return 0, domain.ErrNotRunning
}

func (h *recordingHandler) Cancel(_ domain.Actor, timerID string) error {
	h.calls = append(h.calls, "cancel:"+timerID)
	return nil
}

func (h *recordingHandler) Reset(_ domain.Actor, timerID string) error {
	h.calls = append(h.calls, "reset:"+timerID)
	return nil
}

func (h *recordingHandler) HandleDisconnect(domain.Actor) {
	h.calls = append(h.calls, "disconnect")
}

func (h *recordingHandler) HandleReconnect(domain.Actor) {
	h.calls = append(h.calls, "connect")
}

func newTestConsumer(handler EventHandler) *Consumer {
	return &Consumer{
		handler: handler,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestApplyEventRouting(t *testing.T) {
	handler := &recordingHandler{}
	c := newTestConsumer(handler)
	playerID := uuid.New()

	events := []domain.TimerEvent{
		{PlayerID: playerID, EventType: domain.EventConnect, PlayerName: "Steve"},
		{PlayerID: playerID, EventType: domain.EventStart, TimerID: "cave-1"},
		{PlayerID: playerID, EventType: domain.EventStop, TimerID: "cave-1"},
		{PlayerID: playerID, EventType: domain.EventCancel, TimerID: "cave-1"},
		{PlayerID: playerID, EventType: domain.EventReset, TimerID: "cave-1"},
		{PlayerID: playerID, EventType: domain.EventDisconnect},
	}
	for _, event := range events {
		c.applyEvent(event)
	}

	assert.Equal(t, []string{
		"connect",
		"start:cave-1",
		"stop:cave-1",
		"cancel:cave-1",
		"reset:cave-1",
		"disconnect",
	}, handler.calls)
}

func TestApplyEventSkipsInvalid(t *testing.T) {
	handler := &recordingHandler{}
	c := newTestConsumer(handler)

	// Missing player id and unknown types never reach the engine.
	c.applyEvent(domain.TimerEvent{EventType: domain.EventStart, TimerID: "cave-1"})
	c.applyEvent(domain.TimerEvent{PlayerID: uuid.New(), EventType: "explode"})

	assert.Empty(t, handler.calls)
}

// A stop that the engine rejects still advances; the consumer only logs it.
func TestApplyEventRejectedStop(t *testing.T) {
	handler := &recordingHandler{}
	c := newTestConsumer(handler)

	c.applyEvent(domain.TimerEvent{PlayerID: uuid.New(), EventType: domain.EventStop, TimerID: "cave-1"})
	assert.Equal(t, []string{"stop:cave-1"}, handler.calls)
}
