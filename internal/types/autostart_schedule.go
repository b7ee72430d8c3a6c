package types

import (
	"time"

	"github.com/google/uuid"
)

// AutostartSchedule is per-chain configuration for unattended mission
// creation. Owned by the configuration surface; the scheduler only reads it.
type AutostartSchedule struct {
	ID             uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ChainID        uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"chain_id"`
	Enabled        bool      `gorm:"not null;default:false;column:enabled" json:"enabled"`
	StartHour      int       `gorm:"not null;column:start_hour" json:"start_hour"`
	StartMinute    int       `gorm:"not null;column:start_minute" json:"start_minute"`
	Timezone       string    `gorm:"not null;default:'UTC';column:timezone" json:"timezone"`
	PromptTemplate string    `gorm:"column:prompt_template" json:"prompt_template"`
	WindowMinutes  int       `gorm:"not null;column:window_minutes" json:"window_minutes"`
	RequiredCount  int       `gorm:"not null;default:3;column:required_count" json:"required_count"`
	CreatedAt      time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt      time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (AutostartSchedule) TableName() string { return "autostart_schedule" }
