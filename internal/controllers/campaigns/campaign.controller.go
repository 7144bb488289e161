package campaignController

import (
	"context"
	"fleetprobe/internal/campaign"
	"fleetprobe/internal/logger"
	"fleetprobe/internal/repositories"

	. "fleetprobe/internal/models"
)

type CampaignController struct {
	engine       *campaign.Engine
	campaignRepo repositories.CampaignRepository
	log          logger.Logger
}

func New(engine *campaign.Engine, campaignRepo repositories.CampaignRepository) *CampaignController {
	return &CampaignController{
		engine:       engine,
		campaignRepo: campaignRepo,
		log:          logger.New("CampaignController"),
	}
}

func (c *CampaignController) Start(ctx context.Context, request *CreateCampaignRequest) (*CampaignRun, error) {
	return c.engine.Start(ctx, request)
}

func (c *CampaignController) Cancel(ctx context.Context, id string) error {
	return c.engine.Cancel(id)
}

// Get returns the run together with its ledger-derived live progress.
func (c *CampaignController) Get(ctx context.Context, id string) (*CampaignRun, *CampaignProgress, error) {
	run, err := c.campaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	progress, err := c.engine.Progress(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	return run, progress, nil
}

func (c *CampaignController) GetAll(ctx context.Context) ([]*CampaignRun, error) {
	return c.campaignRepo.GetAll(ctx)
}
