package models

import "time"

// MediaAsset is a stored video object. ObjectKey points into the object
// store bucket; the application itself is never on the byte-stream path.
type MediaAsset struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UUID      string    `gorm:"type:varchar(36);uniqueIndex" json:"uuid"`
	Title     string    `gorm:"type:varchar(255);not null" json:"title"`
	ObjectKey string    `gorm:"type:varchar(512);not null" json:"object_key"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Plan is a purchasable subscription plan.
type Plan struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(100);not null;uniqueIndex" json:"name"`
	IsActive  bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PlanAsset maps which plans cover which assets (the catalog collaborator's
// backing table).
type PlanAsset struct {
	ID      uint `gorm:"primaryKey" json:"id"`
	PlanID  uint `gorm:"not null;index:ux_plan_assets_plan_asset,unique,priority:1" json:"plan_id"`
	AssetID uint `gorm:"not null;index:ux_plan_assets_plan_asset,unique,priority:2;index" json:"asset_id"`
}
