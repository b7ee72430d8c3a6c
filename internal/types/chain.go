package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	ChainRoleAdmin  = "admin"
	ChainRoleMember = "member"
)

// Chain is a fixed set of participants sharing a stream of missions.
// ActiveMissionID is the idempotency guard for mission creation: a chain
// can run at most one non-archived mission at a time.
type Chain struct {
	ID              uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name            string     `gorm:"not null;column:name" json:"name"`
	CreatedBy       uuid.UUID  `gorm:"type:uuid;not null;index" json:"created_by"`
	ActiveMissionID *uuid.UUID `gorm:"type:uuid;column:active_mission_id" json:"active_mission_id,omitempty"`
	CreatedAt       time.Time  `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (Chain) TableName() string { return "chain" }

type ChainMember struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ChainID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_chain_member_pair;index" json:"chain_id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_chain_member_pair;index" json:"user_id"`
	Role      string    `gorm:"not null;default:'member';column:role" json:"role"`
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (ChainMember) TableName() string { return "chain_member" }

// ChainLink connects two chains into each other's bridge neighborhood.
// Pairs are stored normalized (ChainA < ChainB by string order).
type ChainLink struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ChainA    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_chain_link_pair;index" json:"chain_a"`
	ChainB    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_chain_link_pair;index" json:"chain_b"`
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (ChainLink) TableName() string { return "chain_link" }
