package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	AnalysisStatusPending = "pending"
	AnalysisStatusDone    = "done"
	AnalysisStatusFailed  = "failed"
)

// Entry is one participant's submission. At most one per (user, mission):
// resubmission overwrites in place and resets analysis to pending.
type Entry struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	MissionID      uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_entry_mission_user;index" json:"mission_id"`
	UserID         uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_entry_mission_user;index" json:"user_id"`
	MediaKey       string         `gorm:"not null;column:media_key" json:"media_key"`
	Lat            *float64       `gorm:"column:lat" json:"lat,omitempty"`
	Lng            *float64       `gorm:"column:lng" json:"lng,omitempty"`
	Tags           datatypes.JSON `gorm:"type:jsonb;column:tags" json:"tags"`
	Palette        datatypes.JSON `gorm:"type:jsonb;column:palette" json:"palette"`
	DominantHue    *float64       `gorm:"column:dominant_hue" json:"dominant_hue,omitempty"`
	AnalysisStatus string         `gorm:"not null;default:'pending';column:analysis_status" json:"analysis_status"`
	CreatedAt      time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Entry) TableName() string { return "entry" }
