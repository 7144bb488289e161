package bridge

import (
	"context"
	"errors"
	"fleetprobe/config"
	"fleetprobe/internal/command"
	"fleetprobe/internal/events"
	"fleetprobe/internal/ingest"
	"fleetprobe/internal/logger"
	"fleetprobe/internal/repositories"
	"fmt"
	"sync"
	"time"

	. "fleetprobe/internal/models"

	"github.com/avast/retry-go"
)

// ErrNoChannel is returned when a caller asks for the channel of a client
// the bridge is not currently connected to.
var ErrNoChannel = errors.New("no open command channel for client")

// DialFunc opens a command channel; injectable for tests.
type DialFunc func(url string, opts command.Options) (*command.Channel, error)

type pair struct {
	client  *TestClient
	channel *command.Channel
}

// Bridge reconciles the set of open command channels against the set of
// running test clients, owns the channel registry, and is the only
// component that writes client connectivity state.
type Bridge struct {
	config      config.Config
	clientRepo  repositories.TestClientRepository
	messageRepo repositories.MessageRepository
	eventBus    *events.EventBus
	dial        DialFunc
	log         logger.Logger

	mu     sync.Mutex
	active map[string]*pair
	closed bool
}

func New(
	clientRepo repositories.TestClientRepository,
	messageRepo repositories.MessageRepository,
	eventBus *events.EventBus,
	cfg config.Config,
) *Bridge {
	return &Bridge{
		config:      cfg,
		clientRepo:  clientRepo,
		messageRepo: messageRepo,
		eventBus:    eventBus,
		dial:        command.Dial,
		log:         logger.New("bridge"),
		active:      make(map[string]*pair),
	}
}

// SetDialer replaces the channel dialer. Test hook.
func (b *Bridge) SetDialer(dial DialFunc) {
	b.dial = dial
}

// Run is the bridge's supervised loop: reconcile immediately, then on every
// poll tick until ctx is cancelled. Blocking; the composition root starts it
// on its own goroutine and cancels it for shutdown.
func (b *Bridge) Run(ctx context.Context) {
	log := b.log.Function("Run")
	log.Info("fleet bridge started", "pollInterval", b.config.BridgePollInterval)

	b.Reconcile(ctx)

	ticker := time.NewTicker(b.config.BridgePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.Close()
			log.Info("fleet bridge stopped")
			return
		case <-ticker.C:
			b.Reconcile(ctx)
		}
	}
}

// Reconcile diffs the running fleet against the open channels: opens a
// channel+ingestor pair for every newly running client, tears down the pair
// of every client that left the running set. Clients parked in the error
// state by an earlier connect failure are re-attempted every cycle until
// they recover or an operator stops them. One client failing never stops
// the sweep.
func (b *Bridge) Reconcile(ctx context.Context) {
	log := b.log.Function("Reconcile")

	running, err := b.clientRepo.GetByStatus(ctx, ClientStatusRunning)
	if err != nil {
		log.Er("failed to list running clients", err)
		return
	}

	errored, err := b.clientRepo.GetByStatus(ctx, ClientStatusError)
	if err != nil {
		log.Er("failed to list errored clients", err)
		return
	}

	wanted := make(map[string]*TestClient, len(running)+len(errored))
	for _, client := range append(running, errored...) {
		wanted[client.ID] = client
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	var toClose []*pair
	for id, p := range b.active {
		if _, ok := wanted[id]; !ok {
			toClose = append(toClose, p)
			delete(b.active, id)
		}
	}
	var toOpen []*TestClient
	for id, client := range wanted {
		if _, ok := b.active[id]; !ok {
			toOpen = append(toOpen, client)
		}
	}
	b.mu.Unlock()

	for _, p := range toClose {
		log.Info("tearing down channel for departed client", "slug", p.client.Slug)
		_ = p.channel.Close()
	}

	for _, client := range toOpen {
		if err := b.connect(ctx, client); err != nil {
			log.Er("failed to connect client after retries", err, "slug", client.Slug)
			if repoErr := b.clientRepo.SetError(ctx, client.ID, err.Error()); repoErr != nil {
				log.Er("failed to mark client errored", repoErr, "slug", client.Slug)
			}
		}
	}
}

// Channel returns the live command channel for a client. Callers hold the
// registry handle only through this lookup; there is no global registry.
func (b *Bridge) Channel(clientID string) (*command.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.active[clientID]
	if !ok || p.channel.Closed() {
		return nil, ErrNoChannel
	}
	return p.channel, nil
}

// Sender resolves a client's live channel as the narrow Sender interface.
func (b *Bridge) Sender(clientID string) (command.Sender, error) {
	channel, err := b.Channel(clientID)
	if err != nil {
		return nil, err
	}
	return channel, nil
}

// Connected reports whether the bridge holds an open channel for clientID.
func (b *Bridge) Connected(clientID string) bool {
	_, err := b.Channel(clientID)
	return err == nil
}

// Close tears down every open pair. Graceful: no ledger writes.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	pairs := b.active
	b.active = make(map[string]*pair)
	b.mu.Unlock()

	for _, p := range pairs {
		_ = p.channel.Close()
	}
}

func (b *Bridge) channelURL(client *TestClient) string {
	return fmt.Sprintf("ws://127.0.0.1:%d/cmd", client.Port)
}

// connect opens the channel with bounded exponential backoff and registers
// the pair on success.
func (b *Bridge) connect(ctx context.Context, client *TestClient) error {
	log := b.log.Function("connect")

	ingestor := ingest.New(client, b.messageRepo, b.clientRepo, b.eventBus)

	var channel *command.Channel
	err := retry.Do(
		func() error {
			if ctx.Err() != nil {
				return retry.Unrecoverable(ctx.Err())
			}
			var dialErr error
			channel, dialErr = b.dial(b.channelURL(client), command.Options{
				Timeout: b.config.CommandTimeout,
				OnEvent: ingestor.Handle,
				OnClose: func(err error) { b.channelLost(client, err) },
			})
			return dialErr
		},
		retry.Attempts(uint(b.config.ConnectRetries)),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = channel.Close()
		return nil
	}
	b.active[client.ID] = &pair{client: client, channel: channel}
	b.mu.Unlock()

	if client.Status == ClientStatusError {
		// A reachable command socket supersedes the stale error state.
		if err := b.clientRepo.UpdateStatus(ctx, client.ID, ClientStatusRunning, nil); err != nil {
			log.Er("failed to clear client error state", err, "slug", client.Slug)
		} else {
			client.Status = ClientStatusRunning
		}
	}

	log.Info("opened command channel", "slug", client.Slug, "port", client.Port)
	return nil
}

// channelLost handles a dropped connection: the pair leaves the registry and
// a bounded reconnect runs off the reader goroutine. Exhausted retries mark
// the client errored; the next poll cycle re-attempts it.
func (b *Bridge) channelLost(client *TestClient, err error) {
	if err == nil {
		// Local close, nothing to recover.
		return
	}

	log := b.log.Function("channelLost")
	log.Warn("command channel dropped", "slug", client.Slug, "error", err)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	delete(b.active, client.ID)
	b.mu.Unlock()

	go func() {
		ctx := context.Background()
		if connectErr := b.connect(ctx, client); connectErr != nil {
			log.Er("reconnect failed", connectErr, "slug", client.Slug)
			if repoErr := b.clientRepo.SetError(ctx, client.ID, connectErr.Error()); repoErr != nil {
				log.Er("failed to mark client errored", repoErr, "slug", client.Slug)
			}
		}
	}()
}
