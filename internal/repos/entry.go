package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/storychain-backend/internal/logger"
	"github.com/yungbote/storychain-backend/internal/types"
)

type EntryRepo interface {
	// Upsert writes the entry as ONE statement guarded on the mission
	// still accepting submissions, overwriting a previous submission by
	// the same user and resetting analysis to pending. accepted=false
	// means the mission left LOBBY/CAPTURE, so a submission racing a
	// concurrent lock is rejected by the write itself; inserted reports
	// insert-vs-overwrite from the same write.
	Upsert(ctx context.Context, tx *gorm.DB, entry *types.Entry) (inserted bool, accepted bool, err error)
	GetByMissionUser(ctx context.Context, tx *gorm.DB, missionID, userID uuid.UUID) (*types.Entry, error)
	ListByMission(ctx context.Context, tx *gorm.DB, missionID uuid.UUID) ([]*types.Entry, error)
	UpdateAnalysis(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
}

type entryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEntryRepo(db *gorm.DB, baseLog *logger.Logger) EntryRepo {
	return &entryRepo{
		db:  db,
		log: baseLog.With("repo", "EntryRepo"),
	}
}

func (r *entryRepo) Upsert(ctx context.Context, tx *gorm.DB, entry *types.Entry) (bool, bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	now := time.Now()
	entry.AnalysisStatus = types.AnalysisStatusPending
	entry.CreatedAt = now
	entry.UpdatedAt = now
	// the mission-state guard and the write are one statement, so a lock
	// landing between a caller's read and this write still rejects the
	// entry; (xmax = 0) reports insert-vs-overwrite from the write itself
	// instead of a racy prior read
	var row struct {
		ID       uuid.UUID
		Inserted bool
	}
	err := transaction.WithContext(ctx).Raw(`
		INSERT INTO entry (id, mission_id, user_id, media_key, lat, lng, analysis_status, created_at, updated_at)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM mission WHERE id = ? AND state IN ?)
		ON CONFLICT (mission_id, user_id) DO UPDATE SET
			media_key = EXCLUDED.media_key,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			tags = NULL,
			palette = NULL,
			dominant_hue = NULL,
			analysis_status = EXCLUDED.analysis_status,
			updated_at = EXCLUDED.updated_at
		RETURNING id, (xmax = 0) AS inserted`,
		entry.ID, entry.MissionID, entry.UserID, entry.MediaKey, entry.Lat, entry.Lng,
		entry.AnalysisStatus, now, now,
		entry.MissionID, []string{types.MissionStateLobby, types.MissionStateCapture},
	).Scan(&row).Error
	if err != nil {
		return false, false, err
	}
	if row.ID == uuid.Nil {
		return false, false, nil
	}
	entry.ID = row.ID
	return row.Inserted, true, nil
}

func (r *entryRepo) GetByMissionUser(ctx context.Context, tx *gorm.DB, missionID, userID uuid.UUID) (*types.Entry, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if missionID == uuid.Nil || userID == uuid.Nil {
		return nil, nil
	}
	var entry types.Entry
	err := transaction.WithContext(ctx).
		Where("mission_id = ? AND user_id = ?", missionID, userID).
		Limit(1).
		Find(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == uuid.Nil {
		return nil, nil
	}
	return &entry, nil
}

func (r *entryRepo) ListByMission(ctx context.Context, tx *gorm.DB, missionID uuid.UUID) ([]*types.Entry, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Entry
	if missionID == uuid.Nil {
		return out, nil
	}
	err := transaction.WithContext(ctx).
		Where("mission_id = ?", missionID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *entryRepo) UpdateAnalysis(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.Entry{}).
		Where("id = ?", id).
		Updates(updates).Error
}
