package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/storychain-backend/internal/logger"
	"github.com/yungbote/storychain-backend/internal/types"
)

type MissionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, mission *types.Mission) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Mission, error)
	// Transition moves the mission from any state in fromStates to toState
	// as a single guarded UPDATE, stamping stampColumn with now when it is
	// non-empty. Returns false when the guard matched no row, meaning a
	// concurrent caller won or the precondition no longer holds.
	Transition(ctx context.Context, tx *gorm.DB, id uuid.UUID, fromStates []string, toState string, stampColumn string, now time.Time) (bool, error)
	// IncrementReceived bumps the submission counter atomically and returns
	// the fresh count, so the caller's threshold check reads a count at
	// least as fresh as its own increment.
	IncrementReceived(ctx context.Context, tx *gorm.DB, id uuid.UUID) (int, error)
	// ListExpiredOpen returns LOBBY/CAPTURE missions whose capture window
	// ended before now.
	ListExpiredOpen(ctx context.Context, tx *gorm.DB, now time.Time) ([]*types.Mission, error)
	// ListRecapByChainsSince returns RECAP missions of the given chains
	// whose recap became ready after since. Input to the bridge scan.
	ListRecapByChainsSince(ctx context.Context, tx *gorm.DB, chainIDs []uuid.UUID, since time.Time) ([]*types.Mission, error)
}

type missionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMissionRepo(db *gorm.DB, baseLog *logger.Logger) MissionRepo {
	return &missionRepo{
		db:  db,
		log: baseLog.With("repo", "MissionRepo"),
	}
}

func (r *missionRepo) Create(ctx context.Context, tx *gorm.DB, mission *types.Mission) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Create(mission).Error
}

func (r *missionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Mission, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var mission types.Mission
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&mission).Error
	if err != nil {
		return nil, err
	}
	if mission.ID == uuid.Nil {
		return nil, nil
	}
	return &mission, nil
}

func (r *missionRepo) Transition(ctx context.Context, tx *gorm.DB, id uuid.UUID, fromStates []string, toState string, stampColumn string, now time.Time) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || len(fromStates) == 0 || toState == "" {
		return false, nil
	}
	updates := map[string]interface{}{
		"state":      toState,
		"updated_at": now,
	}
	if stampColumn != "" {
		updates[stampColumn] = now
	}
	res := transaction.WithContext(ctx).
		Model(&types.Mission{}).
		Where("id = ? AND state IN ?", id, fromStates).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *missionRepo) IncrementReceived(ctx context.Context, tx *gorm.DB, id uuid.UUID) (int, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return 0, nil
	}
	var count int
	err := transaction.WithContext(ctx).
		Raw(`UPDATE mission SET received_count = received_count + 1, updated_at = ? WHERE id = ? RETURNING received_count`, time.Now(), id).
		Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *missionRepo) ListExpiredOpen(ctx context.Context, tx *gorm.DB, now time.Time) ([]*types.Mission, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Mission
	err := transaction.WithContext(ctx).
		Where("state IN ? AND ends_at < ?", []string{types.MissionStateLobby, types.MissionStateCapture}, now).
		Order("ends_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *missionRepo) ListRecapByChainsSince(ctx context.Context, tx *gorm.DB, chainIDs []uuid.UUID, since time.Time) ([]*types.Mission, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Mission
	if len(chainIDs) == 0 {
		return out, nil
	}
	err := transaction.WithContext(ctx).
		Where("chain_id IN ? AND state = ? AND recap_ready_at > ?", chainIDs, types.MissionStateRecap, since).
		Order("recap_ready_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
