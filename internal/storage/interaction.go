package storage

import (
	"context"
	"time"

	"github.com/debocaemboca/wabot/internal/domain"
	"github.com/debocaemboca/wabot/pkg/common"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// InteractionRepository handles database operations for the interaction audit log
type InteractionRepository interface {
	// Create inserts a new audit row, assigning id and timestamp when unset
	Create(ctx context.Context, log *domain.InteractionLog) error

	// ListByContact returns the rows of one contact, newest first
	ListByContact(ctx context.Context, contactID string, limit int) ([]*domain.InteractionLog, error)

	// DeleteBefore removes rows created before the cutoff and reports how many
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// GormInteractionRepository is the GORM implementation of InteractionRepository
type GormInteractionRepository struct {
	db *gorm.DB
}

// NewGormInteractionRepository creates a new GORM-based repository
func NewGormInteractionRepository(db *gorm.DB) *GormInteractionRepository {
	return &GormInteractionRepository{db: db}
}

func (r *GormInteractionRepository) Create(ctx context.Context, log *domain.InteractionLog) error {
	if log.ID == 0 {
		log.ID = common.UUIDint64()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	return errors.Wrap(r.db.WithContext(ctx).Create(log).Error, "create interaction log")
}

func (r *GormInteractionRepository) ListByContact(ctx context.Context, contactID string, limit int) ([]*domain.InteractionLog, error) {
	var logs []*domain.InteractionLog
	q := r.db.WithContext(ctx).Where("contact_id = ?", contactID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&logs).Error; err != nil {
		return nil, errors.Wrap(err, "list interaction logs")
	}
	return logs, nil
}

func (r *GormInteractionRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&domain.InteractionLog{})
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "delete interaction logs")
	}
	return res.RowsAffected, nil
}
