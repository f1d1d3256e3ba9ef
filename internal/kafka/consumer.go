package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/ztimer/internal/config"
	"github.com/ztimer/internal/domain"
)

// EventHandler applies timer lifecycle events. Satisfied by the timer
// engine.
type EventHandler interface {
	Start(actor domain.Actor, timerID string) error
	Stop(actor domain.Actor, timerID string) (int64, error)
	Cancel(actor domain.Actor, timerID string) error
	Reset(actor domain.Actor, timerID string) error
	HandleDisconnect(actor domain.Actor)
	HandleReconnect(actor domain.Actor)
}

// Consumer consumes timer events from Kafka and drives the engine with
// them. Events are applied one at a time in partition order: a player's
// start must be observed before their stop, so batching is not an option
// here.
type Consumer struct {
	config        *config.KafkaConfig
	handler       EventHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler EventHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			// Check if context was cancelled
			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	// Wait until consumer is ready
	<-c.ready
	c.logger.Info("Kafka consumer ready")

	// Handle errors in separate goroutine
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil

		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			var event domain.TimerEvent
			if err := json.Unmarshal(message.Value, &event); err != nil {
				h.consumer.logger.Warn("failed to unmarshal event",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				session.MarkMessage(message, "")
				continue
			}

			h.consumer.applyEvent(event)
			session.MarkMessage(message, "")
		}
	}
}

// applyEvent routes one event to the engine. Rejected events are logged
// and skipped; the offset advances either way.
func (c *Consumer) applyEvent(event domain.TimerEvent) {
	if event.PlayerID == uuid.Nil {
		c.logger.Warn("event without player id", "event_type", event.EventType)
		return
	}

	actor := domain.Actor{ID: event.PlayerID, Name: event.PlayerName}

	var err error
	switch event.EventType {
	case domain.EventStart:
		err = c.handler.Start(actor, event.TimerID)
	case domain.EventStop:
		_, err = c.handler.Stop(actor, event.TimerID)
	case domain.EventCancel:
		err = c.handler.Cancel(actor, event.TimerID)
	case domain.EventReset:
		err = c.handler.Reset(actor, event.TimerID)
	case domain.EventConnect:
		c.handler.HandleReconnect(actor)
	case domain.EventDisconnect:
		c.handler.HandleDisconnect(actor)
	default:
		c.logger.Warn("unknown event type", "event_type", event.EventType)
		return
	}

	if err != nil {
		c.logger.Warn("event rejected",
			"event_type", event.EventType,
			"timer_id", event.TimerID,
			"player", event.PlayerName,
			"error", err,
		)
	}
}
