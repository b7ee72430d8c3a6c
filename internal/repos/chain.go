package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/storychain-backend/internal/logger"
	"github.com/yungbote/storychain-backend/internal/types"
)

type ChainRepo interface {
	Create(ctx context.Context, tx *gorm.DB, chain *types.Chain) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Chain, error)
	// SetActiveMission points the chain at missionID only when no mission
	// is currently active. Returns false when another mission holds the
	// pointer; this is the scheduler's idempotency guard of record.
	SetActiveMission(ctx context.Context, tx *gorm.DB, chainID, missionID uuid.UUID) (bool, error)
	// ClearActiveMission resets the pointer only if it still references
	// missionID.
	ClearActiveMission(ctx context.Context, tx *gorm.DB, chainID, missionID uuid.UUID) error
	ListWithoutActiveMission(ctx context.Context, tx *gorm.DB, chainIDs []uuid.UUID) ([]*types.Chain, error)

	AddMember(ctx context.Context, tx *gorm.DB, member *types.ChainMember) error
	GetMember(ctx context.Context, tx *gorm.DB, chainID, userID uuid.UUID) (*types.ChainMember, error)
	ListMemberUserIDs(ctx context.Context, tx *gorm.DB, chainID uuid.UUID) ([]uuid.UUID, error)
	ListAdminUserIDs(ctx context.Context, tx *gorm.DB, chainID uuid.UUID) ([]uuid.UUID, error)

	CreateLink(ctx context.Context, tx *gorm.DB, link *types.ChainLink) error
	ListLinkedChainIDs(ctx context.Context, tx *gorm.DB, chainID uuid.UUID) ([]uuid.UUID, error)
}

type chainRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChainRepo(db *gorm.DB, baseLog *logger.Logger) ChainRepo {
	return &chainRepo{
		db:  db,
		log: baseLog.With("repo", "ChainRepo"),
	}
}

func (r *chainRepo) Create(ctx context.Context, tx *gorm.DB, chain *types.Chain) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).Create(chain).Error
}

func (r *chainRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Chain, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var chain types.Chain
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&chain).Error
	if err != nil {
		return nil, err
	}
	if chain.ID == uuid.Nil {
		return nil, nil
	}
	return &chain, nil
}

func (r *chainRepo) SetActiveMission(ctx context.Context, tx *gorm.DB, chainID, missionID uuid.UUID) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Model(&types.Chain{}).
		Where("id = ? AND active_mission_id IS NULL", chainID).
		Update("active_mission_id", missionID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *chainRepo) ClearActiveMission(ctx context.Context, tx *gorm.DB, chainID, missionID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Chain{}).
		Where("id = ? AND active_mission_id = ?", chainID, missionID).
		Update("active_mission_id", nil).Error
}

func (r *chainRepo) ListWithoutActiveMission(ctx context.Context, tx *gorm.DB, chainIDs []uuid.UUID) ([]*types.Chain, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Chain
	if len(chainIDs) == 0 {
		return out, nil
	}
	err := transaction.WithContext(ctx).
		Where("id IN ? AND active_mission_id IS NULL", chainIDs).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chainRepo) AddMember(ctx context.Context, tx *gorm.DB, member *types.ChainMember) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chain_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).
		Create(member).Error
}

func (r *chainRepo) GetMember(ctx context.Context, tx *gorm.DB, chainID, userID uuid.UUID) (*types.ChainMember, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if chainID == uuid.Nil || userID == uuid.Nil {
		return nil, nil
	}
	var member types.ChainMember
	err := transaction.WithContext(ctx).
		Where("chain_id = ? AND user_id = ?", chainID, userID).
		Limit(1).
		Find(&member).Error
	if err != nil {
		return nil, err
	}
	if member.ID == uuid.Nil {
		return nil, nil
	}
	return &member, nil
}

func (r *chainRepo) ListMemberUserIDs(ctx context.Context, tx *gorm.DB, chainID uuid.UUID) ([]uuid.UUID, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []uuid.UUID
	err := transaction.WithContext(ctx).
		Model(&types.ChainMember{}).
		Where("chain_id = ?", chainID).
		Pluck("user_id", &out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chainRepo) ListAdminUserIDs(ctx context.Context, tx *gorm.DB, chainID uuid.UUID) ([]uuid.UUID, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []uuid.UUID
	err := transaction.WithContext(ctx).
		Model(&types.ChainMember{}).
		Where("chain_id = ? AND role = ?", chainID, types.ChainRoleAdmin).
		Pluck("user_id", &out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chainRepo) CreateLink(ctx context.Context, tx *gorm.DB, link *types.ChainLink) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if link.ChainA.String() > link.ChainB.String() {
		link.ChainA, link.ChainB = link.ChainB, link.ChainA
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chain_a"}, {Name: "chain_b"}},
			DoNothing: true,
		}).
		Create(link).Error
}

func (r *chainRepo) ListLinkedChainIDs(ctx context.Context, tx *gorm.DB, chainID uuid.UUID) ([]uuid.UUID, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var links []*types.ChainLink
	err := transaction.WithContext(ctx).
		Where("chain_a = ? OR chain_b = ?", chainID, chainID).
		Find(&links).Error
	if err != nil {
		return nil, err
	}
	out := make([]uuid.UUID, 0, len(links))
	for _, l := range links {
		if l.ChainA == chainID {
			out = append(out, l.ChainB)
		} else {
			out = append(out, l.ChainA)
		}
	}
	return out, nil
}
