package catalog

import (
	"context"

	"gorm.io/gorm"

	"github.com/mkessler/streamgate/app/models"
)

// Resolver answers which plans cover a media asset. The catalog itself
// (browse, search, pricing) lives outside this service; the grant issuer
// only needs coverage lookups.
type Resolver interface {
	PlansCoveringAsset(ctx context.Context, assetID uint) ([]uint, error)
	GetAsset(ctx context.Context, assetID uint) (*models.MediaAsset, error)
	GetAssetByUUID(ctx context.Context, uuid string) (*models.MediaAsset, error)
}

type gormResolver struct {
	db *gorm.DB
}

// NewResolver creates a catalog resolver backed by GORM.
func NewResolver(db *gorm.DB) Resolver {
	return &gormResolver{db: db}
}

func (r *gormResolver) PlansCoveringAsset(ctx context.Context, assetID uint) ([]uint, error) {
	_ = ctx
	var planIDs []uint
	err := r.db.Model(&models.PlanAsset{}).
		Joins("JOIN plans ON plans.id = plan_assets.plan_id AND plans.is_active = ?", true).
		Where("plan_assets.asset_id = ?", assetID).
		Pluck("plan_assets.plan_id", &planIDs).Error
	return planIDs, err
}

func (r *gormResolver) GetAsset(ctx context.Context, assetID uint) (*models.MediaAsset, error) {
	_ = ctx
	var asset models.MediaAsset
	if err := r.db.First(&asset, assetID).Error; err != nil {
		return nil, err
	}
	return &asset, nil
}

func (r *gormResolver) GetAssetByUUID(ctx context.Context, uuid string) (*models.MediaAsset, error) {
	_ = ctx
	var asset models.MediaAsset
	if err := r.db.Where("uuid = ?", uuid).First(&asset).Error; err != nil {
		return nil, err
	}
	return &asset, nil
}
