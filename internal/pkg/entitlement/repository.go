package entitlement

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mkessler/streamgate/app/models"
)

// StateUpdate is the full new state persisted by one atomic transition write.
type StateUpdate struct {
	Status           string
	CurrentPeriodEnd *time.Time
	GraceDeadline    *time.Time
	EventID          string
	EventAt          time.Time
}

// Repository provides DB operations used by the reconciliation engine and
// (read-only) by the access grant issuer.
type Repository interface {
	GetOrCreate(userID, planID uint) (*models.Entitlement, error)
	Get(userID, planID uint) (*models.Entitlement, error)
	ListByUser(userID uint) ([]models.Entitlement, error)
	// ApplyTransition persists the update in one UPDATE guarded by a
	// last_event_at compare-and-set. Returns false when a newer event won
	// the race, which callers treat as stale.
	ApplyTransition(id uint, up StateUpdate) (bool, error)
	// ListGraceLapsed returns past_due rows whose grace deadline has passed.
	ListGraceLapsed(now time.Time) ([]models.Entitlement, error)
	// ExpireIfPastDue flips one row to expired, guarded by re-checking the
	// status and deadline in the UPDATE. Returns false when Apply moved the
	// row in the meantime; already-expired rows never match.
	ExpireIfPastDue(id uint, now time.Time) (bool, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates an entitlement repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetOrCreate(userID, planID uint) (*models.Entitlement, error) {
	ent := &models.Entitlement{UserID: userID, PlanID: planID}
	if err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "plan_id"}},
		DoNothing: true,
	}).Create(ent).Error; err != nil {
		return nil, err
	}

	// Re-read so concurrent creators all see the same row.
	return r.Get(userID, planID)
}

func (r *gormRepository) Get(userID, planID uint) (*models.Entitlement, error) {
	var ent models.Entitlement
	if err := r.db.Where("user_id = ? AND plan_id = ?", userID, planID).First(&ent).Error; err != nil {
		return nil, err
	}
	return &ent, nil
}

func (r *gormRepository) ListByUser(userID uint) ([]models.Entitlement, error) {
	var ents []models.Entitlement
	err := r.db.Where("user_id = ?", userID).Find(&ents).Error
	return ents, err
}

func (r *gormRepository) ApplyTransition(id uint, up StateUpdate) (bool, error) {
	eventAt := up.EventAt.UTC()
	res := r.db.Model(&models.Entitlement{}).
		Where("id = ? AND (last_event_at IS NULL OR last_event_at < ?)", id, eventAt).
		Updates(map[string]interface{}{
			"status":             up.Status,
			"current_period_end": up.CurrentPeriodEnd,
			"grace_deadline":     up.GraceDeadline,
			"last_event_id":      up.EventID,
			"last_event_at":      eventAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *gormRepository) ListGraceLapsed(now time.Time) ([]models.Entitlement, error) {
	var ents []models.Entitlement
	err := r.db.
		Where("status = ? AND grace_deadline IS NOT NULL AND grace_deadline <= ?", models.EntitlementStatusPastDue, now.UTC()).
		Find(&ents).Error
	return ents, err
}

func (r *gormRepository) ExpireIfPastDue(id uint, now time.Time) (bool, error) {
	res := r.db.Model(&models.Entitlement{}).
		Where("id = ? AND status = ? AND grace_deadline IS NOT NULL AND grace_deadline <= ?",
			id, models.EntitlementStatusPastDue, now.UTC()).
		Update("status", models.EntitlementStatusExpired)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
