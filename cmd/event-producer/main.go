package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/ztimer/internal/domain"
)

var namePrefixes = []string{
	"Phoenix", "Shadow", "Thunder", "Storm", "Blaze", "Ninja", "Dragon", "Wolf", "Hawk", "Viper",
	"Ghost", "Titan", "Frost", "Cyber", "Nova", "Raven", "Omega", "Alpha", "Delta", "Sigma",
}

// simPlayer is a simulated player session. Each one walks through
// connect / start / stop-or-cancel / disconnect so the consumer sees a
// realistic mix of transitions.
type simPlayer struct {
	id      uuid.UUID
	name    string
	online  bool
	running bool
}

func newPlayers(n int) []*simPlayer {
	players := make([]*simPlayer, n)
	for i := range players {
		prefix := namePrefixes[i%len(namePrefixes)]
		players[i] = &simPlayer{
			id:   uuid.New(),
			name: fmt.Sprintf("%s%d", prefix, i/len(namePrefixes)+1),
		}
	}
	return players
}

func main() {
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "timer-events", "Kafka topic")
	timerID := flag.String("timer", "cave-1", "Timer ID to simulate runs on")
	totalPlayers := flag.Int("players", 100, "Number of simulated players")
	eventsPerSecond := flag.Int("rate", 50, "Events per second")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	flag.Parse()

	brokerList := strings.Split(*brokers, ",")

	fmt.Println("Timer event producer")
	fmt.Printf("  Brokers:     %s\n", *brokers)
	fmt.Printf("  Topic:       %s\n", *topic)
	fmt.Printf("  Timer:       %s\n", *timerID)
	fmt.Printf("  Players:     %d\n", *totalPlayers)
	fmt.Printf("  Events/sec:  %d\n", *eventsPerSecond)
	fmt.Println()

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}
	defer producer.Close()

	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})

	// Keyed by player id so all of a player's transitions land on one
	// partition in order.
	sendEvent := func(event domain.TimerEvent) {
		data, err := json.Marshal(event)
		if err != nil {
			log.Printf("Failed to marshal event: %v", err)
			return
		}

		msg := &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(event.PlayerID.String()),
			Value: sarama.ByteEncoder(data),
		}

		select {
		case producer.Input() <- msg:
		case <-done:
		}
	}

	players := newPlayers(*totalPlayers)

	// nextEvent advances one random player's session by a single step and
	// returns the transition taken.
	nextEvent := func() domain.TimerEvent {
		p := players[rand.Intn(len(players))]
		event := domain.TimerEvent{
			PlayerID:   p.id,
			PlayerName: p.name,
			Timestamp:  time.Now(),
		}

		switch {
		case !p.online:
			p.online = true
			event.EventType = domain.EventConnect

		case !p.running:
			// Mostly start a run; occasionally just leave.
			if rand.Intn(100) < 80 {
				p.running = true
				event.EventType = domain.EventStart
				event.TimerID = *timerID
			} else {
				p.online = false
				event.EventType = domain.EventDisconnect
			}

		default:
			event.TimerID = *timerID
			switch roll := rand.Intn(100); {
			case roll < 70:
				p.running = false
				event.EventType = domain.EventStop
			case roll < 85:
				p.running = false
				event.EventType = domain.EventCancel
			default:
				// Drop the connection mid-run.
				p.running = false
				p.online = false
				event.EventType = domain.EventDisconnect
				event.TimerID = ""
			}
		}
		return event
	}

	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	interval := time.Second / time.Duration(*eventsPerSecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var endTime time.Time
	if *duration > 0 {
		endTime = time.Now().Add(*duration)
	}

	var eventCount int64

	shutdown := func() {
		close(done)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("\nCompleted. Sent: %d, Errors: %d\n",
			atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	for {
		select {
		case <-sigChan:
			fmt.Println("\nShutting down...")
			shutdown()
			return

		case <-ticker.C:
			if *duration > 0 && time.Now().After(endTime) {
				fmt.Println("\nDuration reached, shutting down...")
				shutdown()
				return
			}

			sendEvent(nextEvent())
			atomic.AddInt64(&eventCount, 1)

		case <-statsTicker.C:
			fmt.Printf("[%s] Events: %d | Sent: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				atomic.LoadInt64(&eventCount),
				atomic.LoadInt64(&successCount),
				atomic.LoadInt64(&errorCount),
			)
		}
	}
}
