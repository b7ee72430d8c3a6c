package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/storychain-backend/internal/logger"
	"github.com/yungbote/storychain-backend/internal/types"
)

type ChapterRepo interface {
	// Upsert writes the chapter keyed on mission_id, so re-applying a job
	// result never produces a second chapter for the same mission.
	Upsert(ctx context.Context, tx *gorm.DB, chapter *types.Chapter) error
	GetByMission(ctx context.Context, tx *gorm.DB, missionID uuid.UUID) (*types.Chapter, error)
	ListByChain(ctx context.Context, tx *gorm.DB, chainID uuid.UUID, limit int) ([]*types.Chapter, error)
}

type chapterRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChapterRepo(db *gorm.DB, baseLog *logger.Logger) ChapterRepo {
	return &chapterRepo{
		db:  db,
		log: baseLog.With("repo", "ChapterRepo"),
	}
}

func (r *chapterRepo) Upsert(ctx context.Context, tx *gorm.DB, chapter *types.Chapter) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	chapter.UpdatedAt = time.Now()
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "mission_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"media_url", "duration_sec", "palette", "generated_at", "updated_at",
			}),
		}).
		Create(chapter).Error
}

func (r *chapterRepo) GetByMission(ctx context.Context, tx *gorm.DB, missionID uuid.UUID) (*types.Chapter, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if missionID == uuid.Nil {
		return nil, nil
	}
	var chapter types.Chapter
	err := transaction.WithContext(ctx).
		Where("mission_id = ?", missionID).
		Limit(1).
		Find(&chapter).Error
	if err != nil {
		return nil, err
	}
	if chapter.ID == uuid.Nil {
		return nil, nil
	}
	return &chapter, nil
}

func (r *chapterRepo) ListByChain(ctx context.Context, tx *gorm.DB, chainID uuid.UUID, limit int) ([]*types.Chapter, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Chapter
	if chainID == uuid.Nil {
		return out, nil
	}
	if limit <= 0 {
		limit = 50
	}
	err := transaction.WithContext(ctx).
		Where("chain_id = ?", chainID).
		Order("generated_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
