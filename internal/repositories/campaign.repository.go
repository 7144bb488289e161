package repositories

import (
	"context"
	"fleetprobe/internal/database"
	"fleetprobe/internal/logger"
	"fleetprobe/internal/services"

	. "fleetprobe/internal/models"

	"gorm.io/gorm"
)

type CampaignRepository interface {
	GetByID(ctx context.Context, id string) (*CampaignRun, error)
	GetAll(ctx context.Context) ([]*CampaignRun, error)
	GetActive(ctx context.Context) ([]*CampaignRun, error)
	Create(ctx context.Context, run *CampaignRun) error
	Update(ctx context.Context, run *CampaignRun) error
	UpdateStatus(ctx context.Context, id string, status CampaignStatus) error
}

type campaignRepository struct {
	db  database.DB
	log logger.Logger
}

func NewCampaign(db database.DB) CampaignRepository {
	return &campaignRepository{
		db:  db,
		log: logger.New("campaignRepository"),
	}
}

func (r *campaignRepository) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := services.GetTransaction(ctx); ok {
		return tx
	}
	return r.db.SQLWithContext(ctx)
}

func (r *campaignRepository) GetByID(ctx context.Context, id string) (*CampaignRun, error) {
	log := r.log.Function("GetByID")

	var run CampaignRun
	if err := r.getDB(ctx).First(&run, "id = ?", id).Error; err != nil {
		return nil, log.Err("failed to get campaign run by id", err, "id", id)
	}

	return &run, nil
}

func (r *campaignRepository) GetAll(ctx context.Context) ([]*CampaignRun, error) {
	log := r.log.Function("GetAll")

	var runs []*CampaignRun
	if err := r.getDB(ctx).Order("created_at DESC").Find(&runs).Error; err != nil {
		return nil, log.Err("failed to get all campaign runs", err)
	}

	return runs, nil
}

func (r *campaignRepository) GetActive(ctx context.Context) ([]*CampaignRun, error) {
	log := r.log.Function("GetActive")

	var runs []*CampaignRun
	statuses := []CampaignStatus{CampaignStatusPending, CampaignStatusRunning}
	if err := r.getDB(ctx).Where("status IN ?", statuses).Find(&runs).Error; err != nil {
		return nil, log.Err("failed to get active campaign runs", err)
	}

	return runs, nil
}

func (r *campaignRepository) Create(ctx context.Context, run *CampaignRun) error {
	log := r.log.Function("Create")

	if run.Status == "" {
		run.Status = CampaignStatusPending
	}

	if err := r.getDB(ctx).Create(run).Error; err != nil {
		return log.Err("failed to create campaign run", err, "senderID", run.SenderID)
	}

	return nil
}

func (r *campaignRepository) Update(ctx context.Context, run *CampaignRun) error {
	log := r.log.Function("Update")

	if err := r.getDB(ctx).Save(run).Error; err != nil {
		return log.Err("failed to update campaign run", err, "id", run.ID)
	}

	return nil
}

func (r *campaignRepository) UpdateStatus(ctx context.Context, id string, status CampaignStatus) error {
	log := r.log.Function("UpdateStatus")

	if err := r.getDB(ctx).Model(&CampaignRun{}).Where("id = ?", id).Update("status", status).Error; err != nil {
		return log.Err("failed to update campaign status", err, "id", id, "status", status)
	}

	return nil
}
