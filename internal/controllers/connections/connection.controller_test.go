package connectionController

import (
	"context"
	"encoding/json"
	"errors"
	"fleetprobe/internal/command"
	"fleetprobe/internal/database"
	"fleetprobe/internal/repositories"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	. "fleetprobe/internal/models"
)

// scriptedSender records every command against a shared log so tests can
// assert the handshake order across both sides of the pair.
type scriptedSender struct {
	name   string
	calls  *[]string
	failOn string
}

func (s *scriptedSender) Send(ctx context.Context, cmd string, args map[string]any) (json.RawMessage, error) {
	*s.calls = append(*s.calls, s.name+":"+cmd)
	if cmd == s.failOn {
		return nil, errors.New(cmd + " rejected")
	}
	return json.RawMessage(`{"ok":true}`), nil
}

type fakeRegistry struct {
	senders map[string]command.Sender
}

func (r *fakeRegistry) Sender(clientID string) (command.Sender, error) {
	sender, ok := r.senders[clientID]
	if !ok {
		return nil, errors.New("no open channel for client")
	}
	return sender, nil
}

type connectionFixture struct {
	controller *ConnectionController
	connRepo   repositories.ConnectionRepository
	gormDB     *gorm.DB
	registry   *fakeRegistry
	calls      []string
	alpha      *TestClient
	bravo      *TestClient
}

func newConnectionFixture(t *testing.T) *connectionFixture {
	t.Helper()

	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, gormDB.AutoMigrate(&TestClient{}, &Connection{}))

	db := database.DB{SQL: gormDB}
	clientRepo := repositories.NewTestClient(db)
	connRepo := repositories.NewConnection(db)

	ctx := context.Background()
	alpha := &TestClient{Slug: "probe-alpha", DisplayName: "Alpha", Port: 3031, Status: ClientStatusRunning, PasswordHash: "x"}
	bravo := &TestClient{Slug: "probe-bravo", DisplayName: "Bravo", Port: 3032, Status: ClientStatusRunning, PasswordHash: "x"}
	require.NoError(t, clientRepo.Create(ctx, alpha))
	require.NoError(t, clientRepo.Create(ctx, bravo))

	f := &connectionFixture{
		connRepo: connRepo,
		gormDB:   gormDB,
		registry: &fakeRegistry{senders: map[string]command.Sender{}},
		alpha:    alpha,
		bravo:    bravo,
	}
	f.registry.senders[alpha.ID] = &scriptedSender{name: "alpha", calls: &f.calls}
	f.registry.senders[bravo.ID] = &scriptedSender{name: "bravo", calls: &f.calls}
	f.controller = New(connRepo, clientRepo, f.registry)
	return f
}

func (f *connectionFixture) sender(client *TestClient) *scriptedSender {
	return f.registry.senders[client.ID].(*scriptedSender)
}

func TestConnectionController_Create(t *testing.T) {
	f := newConnectionFixture(t)
	ctx := context.Background()

	conn, err := f.controller.Create(ctx, &CreateConnectionRequest{
		ClientAID: f.alpha.ID,
		ClientBID: f.bravo.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, ConnectionStatusConnected, conn.Status)

	// Contact names default to the peer slugs.
	assert.Equal(t, "probe-bravo", conn.ContactNameOnA)
	assert.Equal(t, "probe-alpha", conn.ContactNameOnB)

	// The accepting side is armed before the initiator reaches out.
	assert.Equal(t, []string{
		"bravo:" + command.CommandSetAutoAccept,
		"alpha:" + command.CommandAddContact,
	}, f.calls)

	loaded, err := f.connRepo.GetByID(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, ConnectionStatusConnected, loaded.Status)
}

func TestConnectionController_Create_RejectsSelfPair(t *testing.T) {
	f := newConnectionFixture(t)
	ctx := context.Background()

	_, err := f.controller.Create(ctx, &CreateConnectionRequest{
		ClientAID: f.alpha.ID,
		ClientBID: f.alpha.ID,
	})
	assert.Error(t, err)
	assert.Empty(t, f.calls)
}

func TestConnectionController_Create_MissingChannelLeavesPending(t *testing.T) {
	f := newConnectionFixture(t)
	delete(f.registry.senders, f.bravo.ID)
	ctx := context.Background()

	conn, err := f.controller.Create(ctx, &CreateConnectionRequest{
		ClientAID: f.alpha.ID,
		ClientBID: f.bravo.ID,
	})
	require.Error(t, err)

	// The row is returned alongside the error so callers can report the
	// partial result.
	require.NotNil(t, conn)
	assert.Equal(t, ConnectionStatusPending, conn.Status)

	loaded, err := f.connRepo.GetByID(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, ConnectionStatusPending, loaded.Status)
}

func TestConnectionController_Create_FailedHandshakeResetsToPending(t *testing.T) {
	for _, tc := range []struct {
		name   string
		arm    func(f *connectionFixture)
		issued []string
	}{
		{
			name: "auto-accept rejected",
			arm: func(f *connectionFixture) {
				f.sender(f.bravo).failOn = command.CommandSetAutoAccept
			},
			issued: []string{"bravo:" + command.CommandSetAutoAccept},
		},
		{
			name: "contact request rejected",
			arm: func(f *connectionFixture) {
				f.sender(f.alpha).failOn = command.CommandAddContact
			},
			issued: []string{
				"bravo:" + command.CommandSetAutoAccept,
				"alpha:" + command.CommandAddContact,
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newConnectionFixture(t)
			tc.arm(f)
			ctx := context.Background()

			conn, err := f.controller.Create(ctx, &CreateConnectionRequest{
				ClientAID: f.alpha.ID,
				ClientBID: f.bravo.ID,
			})
			require.Error(t, err)
			require.NotNil(t, conn)
			assert.Equal(t, tc.issued, f.calls)

			// The half-finished handshake rolls back to pending so the
			// pair can be retried.
			assert.Equal(t, ConnectionStatusPending, conn.Status)
			loaded, err := f.connRepo.GetByID(ctx, conn.ID)
			require.NoError(t, err)
			assert.Equal(t, ConnectionStatusPending, loaded.Status)
		})
	}
}

func TestConnectionController_Delete_MarksDisconnected(t *testing.T) {
	f := newConnectionFixture(t)
	ctx := context.Background()

	conn, err := f.controller.Create(ctx, &CreateConnectionRequest{
		ClientAID: f.alpha.ID,
		ClientBID: f.bravo.ID,
	})
	require.NoError(t, err)

	require.NoError(t, f.controller.Delete(ctx, conn.ID))

	_, err = f.connRepo.GetByID(ctx, conn.ID)
	assert.Error(t, err)

	// The soft-deleted row keeps the terminal state for history.
	var row Connection
	require.NoError(t, f.gormDB.Unscoped().First(&row, "id = ?", conn.ID).Error)
	assert.Equal(t, ConnectionStatusDisconnected, row.Status)
	assert.True(t, row.DeletedAt.Valid)
}
