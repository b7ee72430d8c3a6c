package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Chapter is the fused artifact produced from a mission's entries.
// At most one per mission.
type Chapter struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	MissionID   uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex" json:"mission_id"`
	ChainID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"chain_id"`
	MediaURL    string         `gorm:"not null;column:media_url" json:"media_url"`
	DurationSec int            `gorm:"column:duration_sec" json:"duration_sec"`
	Palette     datatypes.JSON `gorm:"type:jsonb;column:palette" json:"palette"`
	GeneratedAt time.Time      `gorm:"not null;column:generated_at" json:"generated_at"`
	CreatedAt   time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Chapter) TableName() string { return "chapter" }
