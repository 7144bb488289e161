package events

import (
	"context"
	"encoding/json"
	"fleetprobe/config"
	"fleetprobe/internal/database"
	"fleetprobe/internal/logger"
	"sync"
	"time"

	"github.com/valkey-io/valkey-go"
)

// Topic names on the fan-out surface. Per-client topics are
// TopicClientPrefix + slug.
const (
	TopicAllClients    = "clients:all"
	TopicClientPrefix  = "clients:"
	TopicClientPattern = "clients:*"
)

func ClientTopic(slug string) string {
	return TopicClientPrefix + slug
}

// Event is the JSON envelope published to observers. Data carries the
// minimal delta, never raw internal state.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Channel   string         `json:"channel,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventBus publishes events over the valkey events database and lets one
// process-local consumer (the websocket manager) pattern-subscribe to them.
// With no cache client wired the bus is a silent no-op.
type EventBus struct {
	cache  database.CacheClient
	log    logger.Logger
	cancel context.CancelFunc
	mu     sync.Mutex
	done   chan struct{}
}

func New(cache database.CacheClient, config config.Config) *EventBus {
	return &EventBus{
		cache: cache,
		log:   logger.New("events"),
	}
}

func (b *EventBus) Publish(topic string, event Event) error {
	log := b.log.Function("Publish")

	if b.cache == nil {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return log.Err("failed to marshal event", err, "topic", topic)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := b.cache.Do(ctx, b.cache.B().Publish().Channel(topic).Message(string(payload)).Build()).Error(); err != nil {
		return log.Err("failed to publish event", err, "topic", topic)
	}

	return nil
}

// Subscribe pattern-subscribes to topics matching pattern and invokes handler
// for every event until the bus is closed. Runs on its own goroutine; events
// that fail to decode are logged and skipped.
func (b *EventBus) Subscribe(pattern string, handler func(topic string, event Event)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cancel != nil {
		return b.log.ErrMsg("event bus already has a subscriber")
	}

	if b.cache == nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})

	log := b.log.Function("Subscribe")

	go func() {
		defer close(b.done)

		err := b.cache.Receive(ctx, b.cache.B().Psubscribe().Pattern(pattern).Build(), func(msg valkey.PubSubMessage) {
			var event Event
			if err := json.Unmarshal([]byte(msg.Message), &event); err != nil {
				log.Er("failed to decode event", err, "topic", msg.Channel)
				return
			}
			handler(msg.Channel, event)
		})
		if err != nil && ctx.Err() == nil {
			log.Er("subscription terminated", err, "pattern", pattern)
		}
	}()

	log.Info("subscribed to event pattern", "pattern", pattern)
	return nil
}

func (b *EventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cancel != nil {
		b.cancel()
		<-b.done
		b.cancel = nil
	}

	return nil
}
