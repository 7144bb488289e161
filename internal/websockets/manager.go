package websockets

import (
	"fleetprobe/config"
	"fleetprobe/internal/database"
	"fleetprobe/internal/events"
	"fleetprobe/internal/logger"
	"sync"

	"github.com/gofiber/websocket/v2"
)

// clientMessage is what a UI observer sends over /ws.
type clientMessage struct {
	Type  string `json:"type"` // "subscribe" or "unsubscribe"
	Topic string `json:"topic"`
}

// serverMessage is what the manager pushes to observers.
type serverMessage struct {
	Type  string        `json:"type"`
	Topic string        `json:"topic,omitempty"`
	Event *events.Event `json:"event,omitempty"`
	Error string        `json:"error,omitempty"`
}

type observer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	topics  map[string]bool
}

// Manager bridges the event bus to UI websocket observers. Each observer
// subscribes to fan-out topics ("clients:all" or "clients:<slug>") and
// receives the JSON deltas published there. A write failure drops the
// observer; it never blocks the dispatch path for other observers.
type Manager struct {
	eventBus *events.EventBus
	log      logger.Logger

	mu        sync.Mutex
	observers map[*websocket.Conn]*observer
}

func New(db database.DB, eventBus *events.EventBus, cfg config.Config) (*Manager, error) {
	m := &Manager{
		eventBus:  eventBus,
		log:       logger.New("websockets"),
		observers: make(map[*websocket.Conn]*observer),
	}

	if err := eventBus.Subscribe(events.TopicClientPattern, m.dispatch); err != nil {
		return nil, err
	}

	return m, nil
}

// HandleWebSocket owns one observer connection for its lifetime. Runs on
// the fiber websocket handler goroutine.
func (m *Manager) HandleWebSocket(conn *websocket.Conn) {
	log := m.log.Function("HandleWebSocket")

	o := &observer{conn: conn, topics: make(map[string]bool)}

	m.mu.Lock()
	m.observers[conn] = o
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.observers, conn)
		m.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		var message clientMessage
		if err := conn.ReadJSON(&message); err != nil {
			return
		}

		switch message.Type {
		case "subscribe":
			if message.Topic == "" {
				m.send(o, serverMessage{Type: "error", Error: "topic is required"})
				continue
			}
			m.mu.Lock()
			o.topics[message.Topic] = true
			m.mu.Unlock()
			m.send(o, serverMessage{Type: "subscribed", Topic: message.Topic})
		case "unsubscribe":
			m.mu.Lock()
			delete(o.topics, message.Topic)
			m.mu.Unlock()
			m.send(o, serverMessage{Type: "unsubscribed", Topic: message.Topic})
		default:
			log.Warn("unknown observer message type", "type", message.Type)
			m.send(o, serverMessage{Type: "error", Error: "unknown message type"})
		}
	}
}

// dispatch fans one bus event out to every observer subscribed to its topic.
func (m *Manager) dispatch(topic string, event events.Event) {
	m.mu.Lock()
	var targets []*observer
	for _, o := range m.observers {
		if o.topics[topic] {
			targets = append(targets, o)
		}
	}
	m.mu.Unlock()

	for _, o := range targets {
		m.send(o, serverMessage{Type: "event", Topic: topic, Event: &event})
	}
}

func (m *Manager) send(o *observer, message serverMessage) {
	o.writeMu.Lock()
	err := o.conn.WriteJSON(message)
	o.writeMu.Unlock()

	if err != nil {
		m.log.Function("send").Warn("dropping observer after write failure", "error", err)
		m.mu.Lock()
		delete(m.observers, o.conn)
		m.mu.Unlock()
		_ = o.conn.Close()
	}
}
