package bridge

import (
	"context"
	"errors"
	"fleetprobe/config"
	"fleetprobe/internal/command"
	"fleetprobe/internal/database"
	"fleetprobe/internal/events"
	"fleetprobe/internal/repositories"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberws "github.com/gofiber/websocket/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	. "fleetprobe/internal/models"
)

type bridgeFixture struct {
	bridge     *Bridge
	clientRepo repositories.TestClientRepository
	fakeURL    string

	mu       sync.Mutex
	dialedTo []string
}

// newBridgeFixture wires a bridge against an in-memory fleet and one fake
// command socket that every dial lands on, whatever url was asked for.
func newBridgeFixture(t *testing.T) *bridgeFixture {
	t.Helper()

	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, gormDB.AutoMigrate(&TestClient{}, &Message{}))

	db := database.DB{SQL: gormDB}
	clientRepo := repositories.NewTestClient(db)
	messageRepo := repositories.NewMessage(db)
	bus := events.New(nil, config.Config{})

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/cmd", fiberws.New(func(conn *fiberws.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })

	cfg := config.Config{
		BridgePollInterval: 50 * time.Millisecond,
		ConnectRetries:     1,
		CommandTimeout:     time.Second,
	}

	f := &bridgeFixture{
		bridge:     New(clientRepo, messageRepo, bus, cfg),
		clientRepo: clientRepo,
		fakeURL:    fmt.Sprintf("ws://%s/cmd", ln.Addr().String()),
	}

	f.bridge.SetDialer(func(url string, opts command.Options) (*command.Channel, error) {
		f.mu.Lock()
		f.dialedTo = append(f.dialedTo, url)
		f.mu.Unlock()
		return command.Dial(f.fakeURL, opts)
	})
	t.Cleanup(f.bridge.Close)

	return f
}

func (f *bridgeFixture) addClient(t *testing.T, slug string, port int, status ClientStatus) *TestClient {
	t.Helper()
	client := &TestClient{
		Slug:         slug,
		DisplayName:  slug,
		Port:         port,
		Status:       status,
		PasswordHash: "x",
	}
	require.NoError(t, f.clientRepo.Create(context.Background(), client))
	return client
}

func (f *bridgeFixture) dialed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dialedTo...)
}

func TestBridge_ReconcileOpensChannelsForRunningClients(t *testing.T) {
	f := newBridgeFixture(t)
	ctx := context.Background()

	alpha := f.addClient(t, "probe-alpha", 3031, ClientStatusRunning)
	f.addClient(t, "probe-bravo", 3032, ClientStatusStopped)

	f.bridge.Reconcile(ctx)

	assert.True(t, f.bridge.Connected(alpha.ID))
	require.Len(t, f.dialed(), 1)
	assert.Equal(t, "ws://127.0.0.1:3031/cmd", f.dialed()[0])
}

func TestBridge_ReconcileIsStable(t *testing.T) {
	f := newBridgeFixture(t)
	ctx := context.Background()

	alpha := f.addClient(t, "probe-alpha", 3031, ClientStatusRunning)

	f.bridge.Reconcile(ctx)
	f.bridge.Reconcile(ctx)
	f.bridge.Reconcile(ctx)

	// An already connected client is not re-dialed.
	assert.True(t, f.bridge.Connected(alpha.ID))
	assert.Len(t, f.dialed(), 1)
}

func TestBridge_ReconcileTearsDownDepartedClients(t *testing.T) {
	f := newBridgeFixture(t)
	ctx := context.Background()

	alpha := f.addClient(t, "probe-alpha", 3031, ClientStatusRunning)
	f.bridge.Reconcile(ctx)
	require.True(t, f.bridge.Connected(alpha.ID))

	channel, err := f.bridge.Channel(alpha.ID)
	require.NoError(t, err)

	require.NoError(t, f.clientRepo.UpdateStatus(ctx, alpha.ID, ClientStatusStopped, nil))
	f.bridge.Reconcile(ctx)

	assert.False(t, f.bridge.Connected(alpha.ID))
	assert.True(t, channel.Closed())
}

func TestBridge_DialFailureMarksClientErrored(t *testing.T) {
	f := newBridgeFixture(t)
	ctx := context.Background()

	f.bridge.SetDialer(func(url string, opts command.Options) (*command.Channel, error) {
		return nil, errors.New("connection refused")
	})

	alpha := f.addClient(t, "probe-alpha", 3031, ClientStatusRunning)
	f.bridge.Reconcile(ctx)

	assert.False(t, f.bridge.Connected(alpha.ID))

	loaded, err := f.clientRepo.GetByID(ctx, alpha.ID)
	require.NoError(t, err)
	assert.Equal(t, ClientStatusError, loaded.Status)
	require.NotNil(t, loaded.ErrorMessage)
	assert.Contains(t, *loaded.ErrorMessage, "connection refused")
}

func TestBridge_ErroredClientIsReattemptedNextCycle(t *testing.T) {
	f := newBridgeFixture(t)
	ctx := context.Background()

	var failing atomic.Bool
	failing.Store(true)
	f.bridge.SetDialer(func(url string, opts command.Options) (*command.Channel, error) {
		if failing.Load() {
			return nil, errors.New("connection refused")
		}
		return command.Dial(f.fakeURL, opts)
	})

	alpha := f.addClient(t, "probe-alpha", 3031, ClientStatusRunning)
	f.bridge.Reconcile(ctx)

	errored, err := f.clientRepo.GetByID(ctx, alpha.ID)
	require.NoError(t, err)
	require.Equal(t, ClientStatusError, errored.Status)

	// The client comes back; the next poll cycle picks it up again and
	// clears the error state.
	failing.Store(false)
	f.bridge.Reconcile(ctx)

	assert.True(t, f.bridge.Connected(alpha.ID))
	recovered, err := f.clientRepo.GetByID(ctx, alpha.ID)
	require.NoError(t, err)
	assert.Equal(t, ClientStatusRunning, recovered.Status)
	assert.Nil(t, recovered.ErrorMessage)
}

func TestBridge_ChannelForUnknownClient(t *testing.T) {
	f := newBridgeFixture(t)

	_, err := f.bridge.Channel("no-such-client")
	assert.ErrorIs(t, err, ErrNoChannel)

	_, err = f.bridge.Sender("no-such-client")
	assert.ErrorIs(t, err, ErrNoChannel)
}

func TestBridge_CloseTearsDownEverything(t *testing.T) {
	f := newBridgeFixture(t)
	ctx := context.Background()

	alpha := f.addClient(t, "probe-alpha", 3031, ClientStatusRunning)
	bravo := f.addClient(t, "probe-bravo", 3032, ClientStatusRunning)
	f.bridge.Reconcile(ctx)
	require.True(t, f.bridge.Connected(alpha.ID))
	require.True(t, f.bridge.Connected(bravo.ID))

	f.bridge.Close()

	assert.False(t, f.bridge.Connected(alpha.ID))
	assert.False(t, f.bridge.Connected(bravo.ID))

	// A closed bridge ignores further reconciles.
	f.bridge.Reconcile(ctx)
	assert.False(t, f.bridge.Connected(alpha.ID))
}

func TestBridge_RunStopsOnContextCancel(t *testing.T) {
	f := newBridgeFixture(t)

	alpha := f.addClient(t, "probe-alpha", 3031, ClientStatusRunning)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.bridge.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return f.bridge.Connected(alpha.ID)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop")
	}
	assert.False(t, f.bridge.Connected(alpha.ID))
}
