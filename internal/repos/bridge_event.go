package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/storychain-backend/internal/logger"
	"github.com/yungbote/storychain-backend/internal/types"
)

type BridgeEventRepo interface {
	Create(ctx context.Context, tx *gorm.DB, event *types.BridgeEvent) error
	// ExistsForPairSince is the authoritative dedup check for the bridge
	// window. The pair is normalized before lookup.
	ExistsForPairSince(ctx context.Context, tx *gorm.DB, a, b uuid.UUID, since time.Time) (bool, error)
	ListByChain(ctx context.Context, tx *gorm.DB, chainID uuid.UUID, limit int) ([]*types.BridgeEvent, error)
}

type bridgeEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBridgeEventRepo(db *gorm.DB, baseLog *logger.Logger) BridgeEventRepo {
	return &bridgeEventRepo{
		db:  db,
		log: baseLog.With("repo", "BridgeEventRepo"),
	}
}

func normalizePair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() > b.String() {
		return b, a
	}
	return a, b
}

func (r *bridgeEventRepo) Create(ctx context.Context, tx *gorm.DB, event *types.BridgeEvent) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	event.ChainA, event.ChainB = normalizePair(event.ChainA, event.ChainB)
	return transaction.WithContext(ctx).Create(event).Error
}

func (r *bridgeEventRepo) ExistsForPairSince(ctx context.Context, tx *gorm.DB, a, b uuid.UUID, since time.Time) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	a, b = normalizePair(a, b)
	var count int64
	err := transaction.WithContext(ctx).
		Model(&types.BridgeEvent{}).
		Where("chain_a = ? AND chain_b = ? AND created_at > ?", a, b, since).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *bridgeEventRepo) ListByChain(ctx context.Context, tx *gorm.DB, chainID uuid.UUID, limit int) ([]*types.BridgeEvent, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.BridgeEvent
	if chainID == uuid.Nil {
		return out, nil
	}
	if limit <= 0 {
		limit = 50
	}
	err := transaction.WithContext(ctx).
		Where("chain_a = ? OR chain_b = ?", chainID, chainID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
