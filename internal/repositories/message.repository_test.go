package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "fleetprobe/internal/models"
)

func seedMessage(t *testing.T, repo MessageRepository, trackingID string, status DeliveryStatus) *Message {
	t.Helper()

	msg := &Message{
		TrackingID:     trackingID,
		SenderID:       "sender-1",
		Content:        "hello",
		DeliveryStatus: status,
	}
	require.NoError(t, repo.Create(context.Background(), msg))
	return msg
}

func TestMessageRepository_CreateDefaultsToPending(t *testing.T) {
	repo := NewMessage(testDB(t))
	ctx := context.Background()

	msg := &Message{
		TrackingID: "trk-1",
		SenderID:   "sender-1",
		Content:    "hello",
	}
	require.NoError(t, repo.Create(ctx, msg))

	loaded, err := repo.GetByTrackingID(ctx, "trk-1")
	require.NoError(t, err)
	assert.Equal(t, DeliveryStatusPending, loaded.DeliveryStatus)
	assert.NotEmpty(t, loaded.ID)
}

func TestMessageRepository_GetByTrackingID_NotFound(t *testing.T) {
	repo := NewMessage(testDB(t))

	_, err := repo.GetByTrackingID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestMessageRepository_Transition_Forward(t *testing.T) {
	repo := NewMessage(testDB(t))
	ctx := context.Background()
	seedMessage(t, repo, "trk-1", DeliveryStatusPending)

	sentAt := time.Now().UTC()
	updated, err := repo.Transition(ctx, "trk-1", DeliveryStatusSent, func(current *Message) map[string]any {
		assert.Equal(t, DeliveryStatusPending, current.DeliveryStatus)
		return map[string]any{"sent_at": sentAt}
	})
	require.NoError(t, err)
	assert.Equal(t, DeliveryStatusSent, updated.DeliveryStatus)
	require.NotNil(t, updated.SentAt)

	latency := int64(42)
	updated, err = repo.Transition(ctx, "trk-1", DeliveryStatusDelivered, func(current *Message) map[string]any {
		return map[string]any{"total_latency_ms": latency}
	})
	require.NoError(t, err)
	assert.Equal(t, DeliveryStatusDelivered, updated.DeliveryStatus)
	require.NotNil(t, updated.TotalLatencyMs)
	assert.Equal(t, latency, *updated.TotalLatencyMs)
}

func TestMessageRepository_Transition_BackwardRejected(t *testing.T) {
	repo := NewMessage(testDB(t))
	ctx := context.Background()
	seedMessage(t, repo, "trk-1", DeliveryStatusSent)

	_, err := repo.Transition(ctx, "trk-1", DeliveryStatusPending, nil)
	assert.ErrorIs(t, err, ErrStaleTransition)

	// Row unchanged
	loaded, err := repo.GetByTrackingID(ctx, "trk-1")
	require.NoError(t, err)
	assert.Equal(t, DeliveryStatusSent, loaded.DeliveryStatus)
}

func TestMessageRepository_Transition_TerminalIsImmutable(t *testing.T) {
	repo := NewMessage(testDB(t))
	ctx := context.Background()
	seedMessage(t, repo, "trk-del", DeliveryStatusDelivered)
	seedMessage(t, repo, "trk-fail", DeliveryStatusFailed)

	_, err := repo.Transition(ctx, "trk-del", DeliveryStatusFailed, nil)
	assert.ErrorIs(t, err, ErrStaleTransition)

	_, err = repo.Transition(ctx, "trk-fail", DeliveryStatusDelivered, nil)
	assert.ErrorIs(t, err, ErrStaleTransition)
}

func TestMessageRepository_Transition_MissingMessage(t *testing.T) {
	repo := NewMessage(testDB(t))

	_, err := repo.Transition(context.Background(), "missing", DeliveryStatusSent, nil)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestMessageRepository_Stamp(t *testing.T) {
	repo := NewMessage(testDB(t))
	ctx := context.Background()
	seedMessage(t, repo, "trk-1", DeliveryStatusSent)

	ackAt := time.Now().UTC()
	latency := int64(17)
	updated, err := repo.Stamp(ctx, "trk-1", map[string]any{
		"server_ack_at":     ackAt,
		"server_latency_ms": latency,
	})
	require.NoError(t, err)
	assert.Equal(t, DeliveryStatusSent, updated.DeliveryStatus)
	require.NotNil(t, updated.ServerLatencyMs)
	assert.Equal(t, latency, *updated.ServerLatencyMs)
}

func TestMessageRepository_Stamp_TerminalRejected(t *testing.T) {
	repo := NewMessage(testDB(t))
	ctx := context.Background()
	seedMessage(t, repo, "trk-1", DeliveryStatusDelivered)

	_, err := repo.Stamp(ctx, "trk-1", map[string]any{"server_latency_ms": int64(1)})
	assert.ErrorIs(t, err, ErrStaleTransition)
}

func TestMessageRepository_CampaignStats(t *testing.T) {
	db := testDB(t)
	repo := NewMessage(db)
	ctx := context.Background()
	campaignID := "camp-1"

	mk := func(trk string, status DeliveryStatus, totalMs *int64) {
		msg := &Message{
			TrackingID:     trk,
			SenderID:       "sender-1",
			Content:        "x",
			DeliveryStatus: status,
			TotalLatencyMs: totalMs,
			CampaignID:     &campaignID,
		}
		require.NoError(t, repo.Create(ctx, msg))
	}

	ms := func(v int64) *int64 { return &v }

	mk("t1", DeliveryStatusDelivered, ms(10))
	mk("t2", DeliveryStatusDelivered, ms(30))
	mk("t3", DeliveryStatusFailed, nil)
	mk("t4", DeliveryStatusSent, nil)

	// A message from another campaign must not leak into the stats.
	other := &Message{TrackingID: "t5", SenderID: "sender-1", Content: "x", DeliveryStatus: DeliveryStatusDelivered}
	require.NoError(t, repo.Create(ctx, other))

	stats, err := repo.CampaignStats(ctx, campaignID)
	require.NoError(t, err)

	assert.Equal(t, int64(4), stats.Sent)
	assert.Equal(t, int64(2), stats.Delivered)
	assert.Equal(t, int64(1), stats.Failed)
	require.NotNil(t, stats.MinMs)
	require.NotNil(t, stats.AvgMs)
	require.NotNil(t, stats.MaxMs)
	assert.Equal(t, int64(10), *stats.MinMs)
	assert.Equal(t, int64(20), *stats.AvgMs)
	assert.Equal(t, int64(30), *stats.MaxMs)
}

func TestMessageRepository_CampaignStats_Empty(t *testing.T) {
	repo := NewMessage(testDB(t))

	stats, err := repo.CampaignStats(context.Background(), "nothing")
	require.NoError(t, err)

	assert.Zero(t, stats.Sent)
	assert.Zero(t, stats.Delivered)
	assert.Zero(t, stats.Failed)
	assert.Nil(t, stats.MinMs)
	assert.Nil(t, stats.AvgMs)
	assert.Nil(t, stats.MaxMs)
}
