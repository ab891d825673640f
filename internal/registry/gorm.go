package registry

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"webchat-push-bot/internal/model"
)

// gormRegistry implements Registry on top of a relational database.
type gormRegistry struct {
	db *gorm.DB
}

// NewGorm creates a GORM-backed registry. The subscriptions table must already be migrated.
func NewGorm(db *gorm.DB) Registry {
	return &gormRegistry{db: db}
}

// Upsert inserts the subscription or overwrites every delivery field of the existing row.
func (r *gormRegistry) Upsert(ctx context.Context, userID string, sub model.Subscription) error {
	sub.UserID = userID
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"endpoint", "p256dh", "auth", "updated_at"}),
	}).Create(&sub).Error
	if err != nil {
		return fmt.Errorf("failed to upsert subscription for user %s: %w", userID, err)
	}
	return nil
}

func (r *gormRegistry) Lookup(ctx context.Context, userID string) (model.Subscription, bool, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Take(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Subscription{}, false, nil
	}
	if err != nil {
		return model.Subscription{}, false, fmt.Errorf("failed to look up subscription for user %s: %w", userID, err)
	}
	return sub, true, nil
}

func (r *gormRegistry) Forget(ctx context.Context, userID, endpoint string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND endpoint = ?", userID, endpoint).
		Delete(&model.Subscription{})
	if res.Error != nil {
		return false, fmt.Errorf("failed to delete subscription for user %s: %w", userID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *gormRegistry) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
