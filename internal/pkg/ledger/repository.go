package ledger

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mkessler/streamgate/app/models"
)

// Repository provides DB operations used by the ledger service.
type Repository interface {
	CreateEventIfNotExists(event *models.PaymentEvent) (bool, *models.PaymentEvent, error)
	MarkProcessed(id uint, processingError string) error
	Park(id uint, processingError string) error
	ListUnprocessed(olderThan time.Time, limit int) ([]models.PaymentEvent, error)
	ListParked(limit int) ([]models.PaymentEvent, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a ledger repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateEventIfNotExists(event *models.PaymentEvent) (bool, *models.PaymentEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.PaymentEvent
	if err := r.db.Where("external_id = ?", event.ExternalID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.PaymentEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) Park(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
		"parked":           true,
	}
	return r.db.Model(&models.PaymentEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) ListUnprocessed(olderThan time.Time, limit int) ([]models.PaymentEvent, error) {
	var events []models.PaymentEvent
	err := r.db.
		Where("processed_at IS NULL AND parked = ? AND created_at < ?", false, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *gormRepository) ListParked(limit int) ([]models.PaymentEvent, error) {
	var events []models.PaymentEvent
	err := r.db.
		Where("parked = ?", true).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
