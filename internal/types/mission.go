package types

import (
	"time"

	"github.com/google/uuid"
)

// Mission states. LOBBY and CAPTURE both accept entries; the split marks
// whether capture has begun. ARCHIVED is terminal.
const (
	MissionStateLobby    = "LOBBY"
	MissionStateCapture  = "CAPTURE"
	MissionStateFusing   = "FUSING"
	MissionStateRecap    = "RECAP"
	MissionStateArchived = "ARCHIVED"
)

const (
	LockTriggerThreshold = "threshold"
	LockTriggerTimer     = "timer"
	LockTriggerAdmin     = "admin"
)

// Mission is one timed round of the group activity. State is the control
// field; the nullable timestamps are history and obey
// starts_at <= locked_at <= recap_ready_at <= archived_at whenever set.
type Mission struct {
	ID            uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ChainID       uuid.UUID  `gorm:"type:uuid;not null;index" json:"chain_id"`
	Prompt        string     `gorm:"not null;column:prompt" json:"prompt"`
	State         string     `gorm:"not null;index;column:state" json:"state"`
	RequiredCount int        `gorm:"not null;column:required_count" json:"required_count"`
	ReceivedCount int        `gorm:"not null;default:0;column:received_count" json:"received_count"`
	StartsAt      time.Time  `gorm:"not null;column:starts_at" json:"starts_at"`
	EndsAt        time.Time  `gorm:"not null;column:ends_at" json:"ends_at"`
	LockedAt      *time.Time `gorm:"column:locked_at" json:"locked_at,omitempty"`
	RecapReadyAt  *time.Time `gorm:"column:recap_ready_at" json:"recap_ready_at,omitempty"`
	ArchivedAt    *time.Time `gorm:"column:archived_at" json:"archived_at,omitempty"`
	CreatedBy     uuid.UUID  `gorm:"type:uuid;not null" json:"created_by"`
	CreatedAt     time.Time  `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (Mission) TableName() string { return "mission" }

// Lockable reports whether m can still move to FUSING.
func (m *Mission) Lockable() bool {
	return m.State == MissionStateLobby || m.State == MissionStateCapture
}

// WindowExpired recomputes the capture timer from stored timestamps so a
// restarted process loses no scheduling state.
func (m *Mission) WindowExpired(now time.Time) bool {
	return now.After(m.EndsAt)
}
