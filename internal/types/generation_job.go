package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobStatusPending   = "PENDING"
	JobStatusSucceeded = "SUCCEEDED"
	JobStatusFailed    = "FAILED"
)

// GenerationJob tracks one external fusion operation. Handle is the
// opaque operation id returned by the generation service and doubles as
// the idempotency key for polling. A job resolves PENDING -> SUCCEEDED or
// PENDING -> FAILED exactly once; polls after resolution are no-ops.
type GenerationJob struct {
	ID         uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Handle     string         `gorm:"uniqueIndex;not null;column:handle" json:"handle"`
	MissionID  uuid.UUID      `gorm:"type:uuid;not null;index" json:"mission_id"`
	ChainID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"chain_id"`
	Inputs     datatypes.JSON `gorm:"type:jsonb;column:inputs" json:"inputs"`
	Status     string         `gorm:"not null;index;column:status" json:"status"`
	Output     datatypes.JSON `gorm:"type:jsonb;column:output" json:"output,omitempty"`
	Error      string         `gorm:"column:error" json:"error,omitempty"`
	CreatedAt  time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	ResolvedAt *time.Time     `gorm:"column:resolved_at" json:"resolved_at,omitempty"`
}

func (GenerationJob) TableName() string { return "generation_job" }

// JobInputs is the request payload recorded on the job row.
type JobInputs struct {
	Prompt      string   `json:"prompt"`
	MediaURLs   []string `json:"media_urls"`
	AspectRatio string   `json:"aspect_ratio"`
	DurationSec int      `json:"duration_sec"`
}

// JobOutput is the resolved result payload.
type JobOutput struct {
	MediaURL    string `json:"media_url"`
	DurationSec int    `json:"duration_sec"`
	Watermarked bool   `json:"watermarked"`
}
