package command

import (
	"context"
	"encoding/json"
	"errors"
	"fleetprobe/internal/logger"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
)

// ErrTimeout is returned by Send when no reply arrives within the per-call
// bound. The channel itself stays healthy.
var ErrTimeout = errors.New("command timed out")

// ErrChannelClosed fails a Send when the underlying socket is gone. All
// outstanding sends receive it at once; reconnection is the bridge's job.
var ErrChannelClosed = errors.New("command channel closed")

// ErrRemote wraps an error reply from the client itself.
var ErrRemote = errors.New("command rejected by client")

// EventHandler receives unsolicited frames. Called from the reader
// goroutine, one event at a time, so per-client event order is preserved.
type EventHandler func(kind EventKind, payload json.RawMessage)

// Options configures a dialed channel.
type Options struct {
	// Timeout bounds each Send waiting for its reply. Zero means 10s.
	Timeout time.Duration
	// OnEvent handles unsolicited frames. Nil drops them.
	OnEvent EventHandler
	// OnClose fires once when the channel dies, with the transport error
	// (nil on a local Close).
	OnClose func(err error)
}

type reply struct {
	result json.RawMessage
	err    error
}

// Channel turns a test client's event socket into a call/response API.
// Multiple Sends may be outstanding at once; replies are matched by
// correlation id, not arrival order.
type Channel struct {
	conn    *websocket.Conn
	timeout time.Duration
	onEvent EventHandler
	onClose func(err error)
	log     logger.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan reply
	closed  bool

	done chan struct{}
}

// Dial opens the command socket at url and starts the reader loop.
func Dial(url string, opts Options) (*Channel, error) {
	log := logger.New("command").With("url", url)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, log.Function("Dial").Err("failed to dial command socket", err)
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	c := &Channel{
		conn:    conn,
		timeout: timeout,
		onEvent: opts.OnEvent,
		onClose: opts.OnClose,
		log:     log,
		pending: make(map[string]chan reply),
		done:    make(chan struct{}),
	}

	go c.readLoop()

	return c, nil
}

// Send issues a command and blocks until the correlated reply, the context,
// or the channel timeout. A late reply after timeout is discarded without
// touching other pending calls.
func (c *Channel) Send(ctx context.Context, cmd string, args map[string]any) (json.RawMessage, error) {
	log := c.log.Function("Send")

	id := uuid.New().String()
	ch := make(chan reply, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrChannelClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	frame := Frame{ID: id, Command: cmd, Args: args}

	c.writeMu.Lock()
	err := c.conn.WriteJSON(frame)
	c.writeMu.Unlock()
	if err != nil {
		c.fail(err)
		return nil, ErrChannelClosed
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.result, r.err
	case <-timer.C:
		log.Warn("command timed out", "command", cmd, "correlationID", id)
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrChannelClosed
	}
}

// Closed reports whether the channel is no longer usable.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close tears the channel down. Idempotent; outstanding sends fail with
// ErrChannelClosed.
func (c *Channel) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *Channel) readLoop() {
	log := c.log.Function("readLoop")

	for {
		var frame Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			c.fail(err)
			return
		}

		switch {
		case frame.ID != "":
			c.resolve(frame)
		case frame.Event != "":
			if c.onEvent != nil {
				c.onEvent(frame.Event, frame.Payload)
			}
		default:
			log.Warn("dropped unrecognized frame")
		}
	}
}

func (c *Channel) resolve(frame Frame) {
	c.mu.Lock()
	ch, ok := c.pending[frame.ID]
	if ok {
		// Resolve exactly once; the entry is removed so a duplicate reply
		// for the same id is treated as unknown and dropped.
		delete(c.pending, frame.ID)
	}
	c.mu.Unlock()

	if !ok {
		// Caller already timed out, or the id was never ours.
		c.log.Function("resolve").Warn("discarded reply with unknown correlation id", "correlationID", frame.ID)
		return
	}

	r := reply{result: frame.Result}
	if frame.Error != "" {
		r.err = errors.Join(ErrRemote, errors.New(frame.Error))
	}

	// Buffered channel: never blocks the reader even if the caller is gone.
	ch <- r
}

func (c *Channel) fail(err error) {
	c.shutdown(err)
}

func (c *Channel) shutdown(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]chan reply)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- reply{err: ErrChannelClosed}
	}

	close(c.done)
	_ = c.conn.Close()

	if err != nil {
		c.log.Function("shutdown").Warn("command channel lost", "error", err)
	}

	if c.onClose != nil {
		c.onClose(err)
	}
}
