package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/storychain-backend/internal/logger"
	"github.com/yungbote/storychain-backend/internal/types"
)

type GenerationJobRepo interface {
	Create(ctx context.Context, tx *gorm.DB, job *types.GenerationJob) error
	GetLatestByMission(ctx context.Context, tx *gorm.DB, missionID uuid.UUID) (*types.GenerationJob, error)
	// ListPendingSince returns PENDING jobs created after cutoff. Jobs older
	// than the cutoff are excluded from polling, not deleted.
	ListPendingSince(ctx context.Context, tx *gorm.DB, cutoff time.Time) ([]*types.GenerationJob, error)
	// Resolve moves the job out of PENDING as a single guarded UPDATE.
	// Returns false when the job was already resolved, which makes repeated
	// polls no-ops: the caller must skip all side effects on false.
	Resolve(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string, output []byte, errMsg string, now time.Time) (bool, error)
}

type generationJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGenerationJobRepo(db *gorm.DB, baseLog *logger.Logger) GenerationJobRepo {
	return &generationJobRepo{
		db:  db,
		log: baseLog.With("repo", "GenerationJobRepo"),
	}
}

func (r *generationJobRepo) Create(ctx context.Context, tx *gorm.DB, job *types.GenerationJob) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Create(job).Error
}

func (r *generationJobRepo) GetLatestByMission(ctx context.Context, tx *gorm.DB, missionID uuid.UUID) (*types.GenerationJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if missionID == uuid.Nil {
		return nil, nil
	}
	var job types.GenerationJob
	err := transaction.WithContext(ctx).
		Where("mission_id = ?", missionID).
		Order("created_at DESC").
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *generationJobRepo) ListPendingSince(ctx context.Context, tx *gorm.DB, cutoff time.Time) ([]*types.GenerationJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.GenerationJob
	err := transaction.WithContext(ctx).
		Where("status = ? AND created_at > ?", types.JobStatusPending, cutoff).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *generationJobRepo) Resolve(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string, output []byte, errMsg string, now time.Time) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	updates := map[string]interface{}{
		"status":      status,
		"error":       errMsg,
		"resolved_at": now,
		"updated_at":  now,
	}
	if len(output) > 0 {
		updates["output"] = datatypes.JSON(output)
	}
	res := transaction.WithContext(ctx).
		Model(&types.GenerationJob{}).
		Where("id = ? AND status = ?", id, types.JobStatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
