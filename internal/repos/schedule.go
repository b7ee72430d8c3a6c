package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/storychain-backend/internal/logger"
	"github.com/yungbote/storychain-backend/internal/types"
)

type ScheduleRepo interface {
	Upsert(ctx context.Context, tx *gorm.DB, schedule *types.AutostartSchedule) error
	GetByChain(ctx context.Context, tx *gorm.DB, chainID uuid.UUID) (*types.AutostartSchedule, error)
	ListEnabled(ctx context.Context, tx *gorm.DB) ([]*types.AutostartSchedule, error)
}

type scheduleRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewScheduleRepo(db *gorm.DB, baseLog *logger.Logger) ScheduleRepo {
	return &scheduleRepo{
		db:  db,
		log: baseLog.With("repo", "ScheduleRepo"),
	}
}

func (r *scheduleRepo) Upsert(ctx context.Context, tx *gorm.DB, schedule *types.AutostartSchedule) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "chain_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"enabled", "start_hour", "start_minute", "timezone", "prompt_template", "window_minutes", "required_count", "updated_at",
			}),
		}).
		Create(schedule).Error
}

func (r *scheduleRepo) GetByChain(ctx context.Context, tx *gorm.DB, chainID uuid.UUID) (*types.AutostartSchedule, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if chainID == uuid.Nil {
		return nil, nil
	}
	var schedule types.AutostartSchedule
	err := transaction.WithContext(ctx).
		Where("chain_id = ?", chainID).
		Limit(1).
		Find(&schedule).Error
	if err != nil {
		return nil, err
	}
	if schedule.ID == uuid.Nil {
		return nil, nil
	}
	return &schedule, nil
}

func (r *scheduleRepo) ListEnabled(ctx context.Context, tx *gorm.DB) ([]*types.AutostartSchedule, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.AutostartSchedule
	err := transaction.WithContext(ctx).
		Where("enabled = ?", true).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
