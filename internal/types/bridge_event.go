package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// BridgeEvent records a detected similarity between two chains' completed
// missions. Append-only; pairs are stored normalized (ChainA < ChainB by
// string order) so the dedup window check is a single lookup.
type BridgeEvent struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ChainA    uuid.UUID      `gorm:"type:uuid;not null;index:idx_bridge_pair" json:"chain_a"`
	ChainB    uuid.UUID      `gorm:"type:uuid;not null;index:idx_bridge_pair" json:"chain_b"`
	Evidence  datatypes.JSON `gorm:"type:jsonb;column:evidence" json:"evidence"`
	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
}

func (BridgeEvent) TableName() string { return "bridge_event" }

// BridgeEvidence is the shared-attribute payload stored on the event.
type BridgeEvidence struct {
	SharedTags []string `json:"shared_tags,omitempty"`
	HueA       *float64 `json:"hue_a,omitempty"`
	HueB       *float64 `json:"hue_b,omitempty"`
	HueDelta   *float64 `json:"hue_delta,omitempty"`
}
