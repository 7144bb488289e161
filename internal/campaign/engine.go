package campaign

import (
	"context"
	"errors"
	"fleetprobe/config"
	"fleetprobe/internal/command"
	"fleetprobe/internal/logger"
	"fleetprobe/internal/repositories"
	"math/rand"
	"strings"
	"sync"
	"time"

	. "fleetprobe/internal/models"

	"github.com/google/uuid"
)

// ErrNoRecipients is returned when the chosen recipient mode resolves to an
// empty target set.
var ErrNoRecipients = errors.New("campaign has no valid recipients")

// ErrRunNotActive is returned by Cancel for runs that already terminated.
var ErrRunNotActive = errors.New("campaign run is not active")

// ChannelSource hands the engine a live channel per client; backed by the
// fleet bridge's registry.
type ChannelSource func(clientID string) (command.Sender, error)

// Engine drives bounded stress-test runs. One goroutine per running
// campaign; cancellation is per-run and never blocks other clients.
type Engine struct {
	campaignRepo   repositories.CampaignRepository
	messageRepo    repositories.MessageRepository
	clientRepo     repositories.TestClientRepository
	connectionRepo repositories.ConnectionRepository
	channels       ChannelSource
	config         config.Config
	log            logger.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

func NewEngine(
	campaignRepo repositories.CampaignRepository,
	messageRepo repositories.MessageRepository,
	clientRepo repositories.TestClientRepository,
	connectionRepo repositories.ConnectionRepository,
	channels ChannelSource,
	cfg config.Config,
) *Engine {
	return &Engine{
		campaignRepo:   campaignRepo,
		messageRepo:    messageRepo,
		clientRepo:     clientRepo,
		connectionRepo: connectionRepo,
		channels:       channels,
		config:         cfg,
		log:            logger.New("campaign"),
	}
}

// Start validates the request, persists the run, and launches its worker.
// Returned runs are already in the running state.
func (e *Engine) Start(ctx context.Context, request *CreateCampaignRequest) (*CampaignRun, error) {
	log := e.log.Function("Start")

	sender, err := e.clientRepo.GetByID(ctx, request.SenderID)
	if err != nil {
		return nil, err
	}
	if sender.Status != ClientStatusRunning {
		return nil, log.Error("campaign sender is not running", "slug", sender.Slug, "status", sender.Status)
	}

	recipients, err := e.resolveRecipients(ctx, request)
	if err != nil {
		return nil, err
	}

	interval := request.IntervalMs
	if interval <= 0 {
		interval = int(e.config.CampaignInterval.Milliseconds())
	}
	payloadSize := request.PayloadSize
	if payloadSize <= 0 {
		payloadSize = e.config.CampaignPayloadSize
	}
	if request.MessageCount <= 0 {
		return nil, log.Error("campaign message count must be positive", "messageCount", request.MessageCount)
	}

	run := &CampaignRun{
		SenderID:      request.SenderID,
		RecipientMode: request.RecipientMode,
		RecipientIDs:  strings.Join(request.RecipientIDs, ","),
		MessageCount:  request.MessageCount,
		IntervalMs:    interval,
		PayloadSize:   payloadSize,
		Status:        CampaignStatusPending,
	}
	if err := e.campaignRepo.Create(ctx, run); err != nil {
		return nil, err
	}

	run.Status = CampaignStatusRunning
	if err := e.campaignRepo.UpdateStatus(ctx, run.ID, CampaignStatusRunning); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	if e.active == nil {
		e.active = make(map[string]context.CancelFunc)
	}
	e.active[run.ID] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run(runCtx, run, sender, recipients)

	log.Info("campaign started", "runID", run.ID, "sender", sender.Slug,
		"mode", run.RecipientMode, "messageCount", run.MessageCount)
	return run, nil
}

// Cancel stops a running campaign immediately. Already-sent messages keep
// progressing through their own status machine.
func (e *Engine) Cancel(runID string) error {
	e.mu.Lock()
	cancel, ok := e.active[runID]
	e.mu.Unlock()

	if !ok {
		return ErrRunNotActive
	}

	cancel()
	return nil
}

// Progress derives the live view from the ledger so counters cannot drift
// from the messages themselves.
func (e *Engine) Progress(ctx context.Context, runID string) (*CampaignProgress, error) {
	run, err := e.campaignRepo.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}

	stats, err := e.messageRepo.CampaignStats(ctx, runID)
	if err != nil {
		return nil, err
	}

	expected := int64(run.MessageCount)
	if run.RecipientMode == RecipientModeAll {
		if peers, peersErr := e.connectionRepo.GetPeersOf(ctx, run.SenderID); peersErr == nil && len(peers) > 0 {
			expected = int64(run.MessageCount * len(peers))
		}
	}

	percent := 0.0
	if expected > 0 {
		percent = 100 * float64(stats.Sent) / float64(expected)
		if percent > 100 {
			percent = 100
		}
	}

	return &CampaignProgress{
		RunID:     runID,
		Status:    run.Status,
		Sent:      stats.Sent,
		Delivered: stats.Delivered,
		Failed:    stats.Failed,
		Total:     int(expected),
		Percent:   percent,
	}, nil
}

// Close cancels every active run and waits for their workers.
func (e *Engine) Close() {
	e.mu.Lock()
	for _, cancel := range e.active {
		cancel()
	}
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Engine) resolveRecipients(ctx context.Context, request *CreateCampaignRequest) ([]*TestClient, error) {
	log := e.log.Function("resolveRecipients")

	peers, err := e.connectionRepo.GetPeersOf(ctx, request.SenderID)
	if err != nil {
		return nil, err
	}

	switch request.RecipientMode {
	case RecipientModeAll, RecipientModeRandom, RecipientModeRoundRobin:
		if len(peers) == 0 {
			return nil, ErrNoRecipients
		}
		return peers, nil
	case RecipientModeSelected:
		if len(request.RecipientIDs) == 0 {
			return nil, ErrNoRecipients
		}
		byID := make(map[string]*TestClient, len(peers))
		for _, peer := range peers {
			byID[peer.ID] = peer
		}
		var selected []*TestClient
		for _, id := range request.RecipientIDs {
			peer, ok := byID[id]
			if !ok {
				return nil, log.Error("selected recipient is not a connected peer", "recipientID", id)
			}
			selected = append(selected, peer)
		}
		return selected, nil
	default:
		return nil, log.Error("unknown recipient mode", "mode", request.RecipientMode)
	}
}

// run is the campaign worker: message_count iterations, each picking
// targets per the recipient mode, sending through the sender's command
// channel, recording the attempt, then an interruptible interval wait.
func (e *Engine) run(ctx context.Context, run *CampaignRun, sender *TestClient, recipients []*TestClient) {
	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		delete(e.active, run.ID)
		e.mu.Unlock()
	}()

	log := e.log.Function("run").With("runID", run.ID, "sender", sender.Slug)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	interval := time.Duration(run.IntervalMs) * time.Millisecond
	rrIndex := 0

	final := CampaignStatusCompleted

loop:
	for i := 0; i < run.MessageCount; i++ {
		if ctx.Err() != nil {
			final = CampaignStatusCancelled
			break
		}

		var targets []*TestClient
		switch run.RecipientMode {
		case RecipientModeAll:
			targets = recipients
		case RecipientModeRandom:
			targets = []*TestClient{recipients[rng.Intn(len(recipients))]}
		default: // round_robin and selected cycle in stable order
			targets = []*TestClient{recipients[rrIndex%len(recipients)]}
			rrIndex++
		}

		for _, target := range targets {
			if err := e.sendOne(ctx, run, sender, target); err != nil {
				if errors.Is(err, command.ErrChannelClosed) {
					log.Er("sender channel lost, aborting campaign", err)
					final = CampaignStatusFailed
					break loop
				}
				// Per-message failures (timeouts, rejections) are recorded
				// on the message and the run continues.
				log.Warn("campaign send failed", "target", target.Slug, "error", err)
			}
		}

		if i < run.MessageCount-1 {
			select {
			case <-ctx.Done():
				final = CampaignStatusCancelled
				break loop
			case <-time.After(interval):
			}
		}
	}

	if ctx.Err() != nil && final == CampaignStatusCompleted {
		final = CampaignStatusCancelled
	}

	e.finalize(run, final)
}

func (e *Engine) sendOne(ctx context.Context, run *CampaignRun, sender, target *TestClient) error {
	trackingID := uuid.New().String()

	message := &Message{
		TrackingID:     trackingID,
		SenderID:       sender.ID,
		RecipientID:    &target.ID,
		Content:        buildPayload(run.PayloadSize),
		DeliveryStatus: DeliveryStatusPending,
		CampaignID:     &run.ID,
	}
	if err := e.messageRepo.Create(ctx, message); err != nil {
		return err
	}

	channel, err := e.channels(sender.ID)
	if err != nil {
		e.markSendFailed(trackingID, err)
		return command.ErrChannelClosed
	}

	_, err = channel.Send(ctx, command.CommandSendMessage, map[string]any{
		"to":          target.Slug,
		"body":        message.Content,
		"tracking_id": trackingID,
	})
	if err != nil {
		e.markSendFailed(trackingID, err)
		return err
	}

	return nil
}

func (e *Engine) markSendFailed(trackingID string, sendErr error) {
	log := e.log.Function("markSendFailed")

	_, err := e.messageRepo.Transition(context.Background(), trackingID, DeliveryStatusFailed, func(current *Message) map[string]any {
		return map[string]any{"failure_reason": sendErr.Error()}
	})
	if err != nil && !errors.Is(err, repositories.ErrStaleTransition) {
		log.Er("failed to record send failure", err, "trackingID", trackingID)
	}
}

// finalize computes the run's aggregates from its own messages and writes
// the terminal state.
func (e *Engine) finalize(run *CampaignRun, final CampaignStatus) {
	log := e.log.Function("finalize").With("runID", run.ID)
	ctx := context.Background()

	stats, err := e.messageRepo.CampaignStats(ctx, run.ID)
	if err != nil {
		log.Er("failed to aggregate campaign stats", err)
		stats = &repositories.CampaignStats{}
	}

	now := time.Now()
	run.Status = final
	run.CompletedAt = &now
	run.MinLatencyMs = stats.MinMs
	run.AvgLatencyMs = stats.AvgMs
	run.MaxLatencyMs = stats.MaxMs
	if stats.Sent > 0 {
		rate := float64(stats.Delivered) / float64(stats.Sent)
		run.SuccessRate = &rate
	}

	if err := e.campaignRepo.Update(ctx, run); err != nil {
		log.Er("failed to finalize campaign run", err)
		return
	}

	log.Info("campaign finished", "status", final,
		"sent", stats.Sent, "delivered", stats.Delivered, "failed", stats.Failed)
}

func buildPayload(size int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789 "
	if size <= 0 {
		size = 1
	}
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = alphabet[i%len(alphabet)]
	}
	return string(payload)
}
