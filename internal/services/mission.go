package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/storychain-backend/internal/apierr"
	"github.com/yungbote/storychain-backend/internal/logger"
	"github.com/yungbote/storychain-backend/internal/repos"
	"github.com/yungbote/storychain-backend/internal/retryx"
	"github.com/yungbote/storychain-backend/internal/types"
)

const (
	minWindowMinutes = 5
	maxWindowMinutes = 120
)

type CreateMissionInput struct {
	ChainID       uuid.UUID
	Prompt        string
	WindowMinutes int
	RequiredCount int
}

type SubmitEntryInput struct {
	MissionID uuid.UUID
	MediaKey  string
	Lat       *float64
	Lng       *float64
}

type MissionService interface {
	CreateMission(ctx context.Context, callerID uuid.UUID, in CreateMissionInput) (*types.Mission, error)
	// CreateScheduled is the scheduler's entry point; it skips the admin
	// capability check but keeps the active-mission guard.
	CreateScheduled(ctx context.Context, schedule *types.AutostartSchedule, now time.Time) (*types.Mission, error)
	GetMission(ctx context.Context, callerID, missionID uuid.UUID) (*types.Mission, error)
	JoinMission(ctx context.Context, callerID, missionID uuid.UUID) (*types.Mission, error)
	SubmitEntry(ctx context.Context, callerID uuid.UUID, in SubmitEntryInput) (*types.Entry, error)
	// LockMission moves the mission to FUSING and submits the generation
	// job. Exactly one of several concurrent callers wins; the rest get a
	// conflict.
	LockMission(ctx context.Context, callerID, missionID uuid.UUID, trigger string) (*types.Mission, error)
	ArchiveMission(ctx context.Context, callerID, missionID uuid.UUID) (*types.Mission, error)
	GetChapter(ctx context.Context, callerID, missionID uuid.UUID) (*types.Chapter, error)

	// JobResolver side: invoked by the job tracker exactly once per
	// resolution.
	HandleJobSucceeded(ctx context.Context, job *types.GenerationJob, output types.JobOutput) error
	HandleJobFailed(ctx context.Context, job *types.GenerationJob) error
}

type missionService struct {
	db          *gorm.DB
	log         *logger.Logger
	missionRepo repos.MissionRepo
	entryRepo   repos.EntryRepo
	chainRepo   repos.ChainRepo
	chapterRepo repos.ChapterRepo
	jobRepo     repos.GenerationJobRepo
	jobTracker  JobTrackerService
	notifier    NotifierService
	bridge      BridgeService
	vision      VisionProviderService
	bucket      BucketService
}

func NewMissionService(
	db *gorm.DB,
	log *logger.Logger,
	missionRepo repos.MissionRepo,
	entryRepo repos.EntryRepo,
	chainRepo repos.ChainRepo,
	chapterRepo repos.ChapterRepo,
	jobRepo repos.GenerationJobRepo,
	jobTracker JobTrackerService,
	notifier NotifierService,
	bridge BridgeService,
	vision VisionProviderService,
	bucket BucketService,
) MissionService {
	return &missionService{
		db:          db,
		log:         log.With("service", "MissionService"),
		missionRepo: missionRepo,
		entryRepo:   entryRepo,
		chainRepo:   chainRepo,
		chapterRepo: chapterRepo,
		jobRepo:     jobRepo,
		jobTracker:  jobTracker,
		notifier:    notifier,
		bridge:      bridge,
		vision:      vision,
		bucket:      bucket,
	}
}

func (s *missionService) CreateMission(ctx context.Context, callerID uuid.UUID, in CreateMissionInput) (*types.Mission, error) {
	if err := validateMissionInput(in.Prompt, in.WindowMinutes, in.RequiredCount); err != nil {
		return nil, err
	}
	member, err := s.chainRepo.GetMember(ctx, nil, in.ChainID, callerID)
	if err != nil {
		return nil, err
	}
	if member == nil || member.Role != types.ChainRoleAdmin {
		return nil, apierr.Forbidden("chain admin capability required")
	}
	now := time.Now()
	return s.createMission(ctx, in.ChainID, callerID, in.Prompt, in.WindowMinutes, in.RequiredCount, now)
}

func (s *missionService) CreateScheduled(ctx context.Context, schedule *types.AutostartSchedule, now time.Time) (*types.Mission, error) {
	prompt := schedule.PromptTemplate
	if prompt == "" {
		prompt = "Today's story"
	}
	windowMinutes := schedule.WindowMinutes
	if windowMinutes < minWindowMinutes || windowMinutes > maxWindowMinutes {
		return nil, apierr.Validation("schedule window must be %d-%d minutes, got %d", minWindowMinutes, maxWindowMinutes, windowMinutes)
	}
	required := schedule.RequiredCount
	if required < 1 {
		required = 1
	}
	chain, err := s.chainRepo.GetByID(ctx, nil, schedule.ChainID)
	if err != nil {
		return nil, err
	}
	if chain == nil {
		return nil, apierr.NotFound("chain %s not found", schedule.ChainID)
	}
	return s.createMission(ctx, schedule.ChainID, chain.CreatedBy, prompt, windowMinutes, required, now)
}

// createMission claims the chain's active-mission pointer before writing
// the row, so two concurrent creators cannot both start a mission.
func (s *missionService) createMission(ctx context.Context, chainID, createdBy uuid.UUID, prompt string, windowMinutes, requiredCount int, now time.Time) (*types.Mission, error) {
	missionID := uuid.New()
	claimed, err := s.chainRepo.SetActiveMission(ctx, nil, chainID, missionID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, apierr.Conflict("chain %s already has an active mission", chainID)
	}
	mission := &types.Mission{
		ID:            missionID,
		ChainID:       chainID,
		Prompt:        prompt,
		State:         types.MissionStateLobby,
		RequiredCount: requiredCount,
		StartsAt:      now,
		EndsAt:        now.Add(time.Duration(windowMinutes) * time.Minute),
		CreatedBy:     createdBy,
	}
	if err := s.missionRepo.Create(ctx, nil, mission); err != nil {
		_ = s.chainRepo.ClearActiveMission(ctx, nil, chainID, missionID)
		return nil, err
	}
	s.log.Info("Mission created", "mission_id", mission.ID, "chain_id", chainID)
	s.notifyChain(ctx, chainID, "New mission", mission.Prompt)
	return mission, nil
}

func (s *missionService) GetMission(ctx context.Context, callerID, missionID uuid.UUID) (*types.Mission, error) {
	mission, err := s.loadMission(ctx, missionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireMember(ctx, mission.ChainID, callerID); err != nil {
		return nil, err
	}
	return mission, nil
}

func (s *missionService) JoinMission(ctx context.Context, callerID, missionID uuid.UUID) (*types.Mission, error) {
	mission, err := s.loadMission(ctx, missionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireMember(ctx, mission.ChainID, callerID); err != nil {
		return nil, err
	}
	if !mission.Lockable() {
		return nil, apierr.Conflict("mission %s is no longer open", missionID)
	}
	// first join begins capture; losing the race to another joiner is fine
	ok, err := s.missionRepo.Transition(ctx, nil, missionID, []string{types.MissionStateLobby}, types.MissionStateCapture, "", time.Now())
	if err != nil {
		return nil, err
	}
	if ok {
		mission.State = types.MissionStateCapture
	}
	return mission, nil
}

func (s *missionService) SubmitEntry(ctx context.Context, callerID uuid.UUID, in SubmitEntryInput) (*types.Entry, error) {
	if in.MediaKey == "" {
		return nil, apierr.Validation("media_key is required")
	}
	mission, err := s.loadMission(ctx, in.MissionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireMember(ctx, mission.ChainID, callerID); err != nil {
		return nil, err
	}
	now := time.Now()
	if !mission.Lockable() {
		return nil, apierr.Conflict("mission %s is locked, entries are closed", mission.ID)
	}
	if mission.WindowExpired(now) {
		return nil, apierr.Conflict("capture window for mission %s has ended", mission.ID)
	}
	if mission.State == types.MissionStateLobby {
		_, err := s.missionRepo.Transition(ctx, nil, mission.ID, []string{types.MissionStateLobby}, types.MissionStateCapture, "", now)
		if err != nil {
			return nil, err
		}
	}

	entry := &types.Entry{
		MissionID: mission.ID,
		UserID:    callerID,
		MediaKey:  in.MediaKey,
		Lat:       in.Lat,
		Lng:       in.Lng,
	}
	inserted, accepted, err := s.entryRepo.Upsert(ctx, nil, entry)
	if err != nil {
		return nil, err
	}
	if !accepted {
		// a concurrent lock won between the state check above and the
		// guarded write
		return nil, apierr.Conflict("mission %s is locked, entries are closed", mission.ID)
	}

	s.analyzeEntry(ctx, entry)

	if inserted {
		count, err := s.missionRepo.IncrementReceived(ctx, nil, mission.ID)
		if err != nil {
			return nil, err
		}
		// the submission that reaches the threshold requests the lock
		// itself instead of waiting for a timer pass
		if count >= mission.RequiredCount {
			if _, lockErr := s.LockMission(ctx, callerID, mission.ID, types.LockTriggerThreshold); lockErr != nil {
				if !apierr.IsCode(lockErr, apierr.CodeConflict) {
					s.log.Error("Threshold lock failed", "mission_id", mission.ID, "error", lockErr)
				}
			}
		}
	}
	return entry, nil
}

// analyzeEntry runs the vision collaborator best-effort; a failed
// analysis leaves the entry pending and the mission flow untouched.
func (s *missionService) analyzeEntry(ctx context.Context, entry *types.Entry) {
	if s.vision == nil || s.bucket == nil {
		return
	}
	analysis := retryx.Safe[*ImageAnalysis](s.log, "entry analysis", nil, func() (*ImageAnalysis, error) {
		return s.vision.AnnotateImageGCS(ctx, s.bucket.GCSURI(entry.MediaKey))
	})
	if analysis == nil {
		_ = s.entryRepo.UpdateAnalysis(ctx, nil, entry.ID, map[string]interface{}{
			"analysis_status": types.AnalysisStatusFailed,
		})
		return
	}
	rawTags, _ := json.Marshal(analysis.Tags)
	rawPalette, _ := json.Marshal(analysis.Palette)
	updates := map[string]interface{}{
		"tags":            datatypes.JSON(rawTags),
		"palette":         datatypes.JSON(rawPalette),
		"analysis_status": types.AnalysisStatusDone,
	}
	if analysis.DominantHue != nil {
		updates["dominant_hue"] = *analysis.DominantHue
	}
	if err := s.entryRepo.UpdateAnalysis(ctx, nil, entry.ID, updates); err != nil {
		s.log.Warn("Failed to store entry analysis", "entry_id", entry.ID, "error", err)
		return
	}
	entry.Tags = datatypes.JSON(rawTags)
	entry.Palette = datatypes.JSON(rawPalette)
	entry.DominantHue = analysis.DominantHue
	entry.AnalysisStatus = types.AnalysisStatusDone
}

func (s *missionService) LockMission(ctx context.Context, callerID, missionID uuid.UUID, trigger string) (*types.Mission, error) {
	mission, err := s.loadMission(ctx, missionID)
	if err != nil {
		return nil, err
	}
	if trigger == types.LockTriggerAdmin {
		if err := s.requireAdmin(ctx, mission.ChainID, callerID); err != nil {
			return nil, err
		}
		// a FUSING mission whose job failed may be re-locked by an admin,
		// which submits a fresh job without a second state change
		if mission.State == types.MissionStateFusing {
			return s.retryFusion(ctx, mission)
		}
	}

	now := time.Now()
	locked, err := s.missionRepo.Transition(ctx, nil, missionID,
		[]string{types.MissionStateLobby, types.MissionStateCapture},
		types.MissionStateFusing, "locked_at", now)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, apierr.Conflict("mission %s is not lockable", missionID)
	}
	mission.State = types.MissionStateFusing
	mission.LockedAt = &now
	s.log.Info("Mission locked", "mission_id", missionID, "trigger", trigger)

	if err := s.startFusion(ctx, mission); err != nil {
		// mission stays FUSING; admins can re-trigger via lock
		s.log.Error("Fusion submit failed after lock", "mission_id", missionID, "error", err)
		s.notifyAdmins(ctx, mission.ChainID, "Fusion could not start", "The mission is locked but generation failed to start. Re-trigger the lock to retry.")
	}
	return mission, nil
}

func (s *missionService) retryFusion(ctx context.Context, mission *types.Mission) (*types.Mission, error) {
	latest, err := s.jobRepo.GetLatestByMission(ctx, nil, mission.ID)
	if err != nil {
		return nil, err
	}
	if latest != nil && latest.Status != types.JobStatusFailed {
		return nil, apierr.Conflict("mission %s already has an unresolved generation job", mission.ID)
	}
	if err := s.startFusion(ctx, mission); err != nil {
		return nil, apierr.Unavailable("generation service rejected the fusion request: %v", err)
	}
	return mission, nil
}

func (s *missionService) startFusion(ctx context.Context, mission *types.Mission) error {
	entries, err := s.entryRepo.ListByMission(ctx, nil, mission.ID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("mission %s has no entries to fuse", mission.ID)
	}
	prompt := BuildFusionPrompt(mission, entries)
	mediaURLs := make([]string, 0, len(entries))
	for _, e := range entries {
		mediaURLs = append(mediaURLs, s.mediaURL(ctx, e.MediaKey))
	}
	_, err = s.jobTracker.SubmitFusion(ctx, mission, prompt, mediaURLs)
	return err
}

func (s *missionService) ArchiveMission(ctx context.Context, callerID, missionID uuid.UUID) (*types.Mission, error) {
	mission, err := s.loadMission(ctx, missionID)
	if err != nil {
		return nil, err
	}
	if err := s.requireAdmin(ctx, mission.ChainID, callerID); err != nil {
		return nil, err
	}
	now := time.Now()
	archived, err := s.missionRepo.Transition(ctx, nil, missionID,
		[]string{types.MissionStateLobby, types.MissionStateCapture, types.MissionStateFusing, types.MissionStateRecap},
		types.MissionStateArchived, "archived_at", now)
	if err != nil {
		return nil, err
	}
	if !archived {
		return nil, apierr.Conflict("mission %s is already archived", missionID)
	}
	if err := s.chainRepo.ClearActiveMission(ctx, nil, mission.ChainID, missionID); err != nil {
		return nil, err
	}
	mission.State = types.MissionStateArchived
	mission.ArchivedAt = &now
	s.log.Info("Mission archived", "mission_id", missionID)
	return mission, nil
}

func (s *missionService) GetChapter(ctx context.Context, callerID, missionID uuid.UUID) (*types.Chapter, error) {
	mission, err := s.loadMission(ctx, missionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireMember(ctx, mission.ChainID, callerID); err != nil {
		return nil, err
	}
	chapter, err := s.chapterRepo.GetByMission(ctx, nil, missionID)
	if err != nil {
		return nil, err
	}
	if chapter == nil {
		return nil, apierr.NotFound("mission %s has no chapter yet", missionID)
	}
	return chapter, nil
}

func (s *missionService) HandleJobSucceeded(ctx context.Context, job *types.GenerationJob, output types.JobOutput) error {
	now := time.Now()
	chapter := &types.Chapter{
		MissionID:   job.MissionID,
		ChainID:     job.ChainID,
		MediaURL:    output.MediaURL,
		DurationSec: output.DurationSec,
		GeneratedAt: now,
	}
	chapter.Palette = s.aggregatePaletteFor(ctx, job.MissionID)
	if err := s.chapterRepo.Upsert(ctx, nil, chapter); err != nil {
		return fmt.Errorf("upsert chapter: %w", err)
	}
	ok, err := s.missionRepo.Transition(ctx, nil, job.MissionID,
		[]string{types.MissionStateFusing}, types.MissionStateRecap, "recap_ready_at", now)
	if err != nil {
		return err
	}
	if !ok {
		// archived mid-fusion by an admin; keep the chapter, skip fan-out
		s.log.Warn("Mission left FUSING before recap transition", "mission_id", job.MissionID)
		return nil
	}
	s.log.Info("Mission recap ready", "mission_id", job.MissionID)
	s.notifyChain(ctx, job.ChainID, "Recap ready", "Your chapter has been generated.")

	mission, err := s.missionRepo.GetByID(ctx, nil, job.MissionID)
	if err != nil || mission == nil {
		s.log.Warn("Bridge evaluation skipped, mission not loadable", "mission_id", job.MissionID, "error", err)
		return nil
	}
	if s.bridge != nil {
		if _, err := s.bridge.EvaluateMission(ctx, mission); err != nil {
			s.log.Error("Bridge evaluation failed", "mission_id", mission.ID, "error", err)
		}
	}
	return nil
}

func (s *missionService) HandleJobFailed(ctx context.Context, job *types.GenerationJob) error {
	// no automatic resubmit: the mission stays FUSING and a chain admin
	// decides whether to re-trigger the lock
	s.log.Warn("Generation job failed", "job_id", job.ID, "mission_id", job.MissionID, "error", job.Error)
	s.notifyAdmins(ctx, job.ChainID, "Fusion failed", "Chapter generation failed. Re-trigger the lock to retry.")
	return nil
}

func (s *missionService) aggregatePaletteFor(ctx context.Context, missionID uuid.UUID) datatypes.JSON {
	entries, err := s.entryRepo.ListByMission(ctx, nil, missionID)
	if err != nil {
		return nil
	}
	palette := aggregatePalette(entries, 6)
	if len(palette) == 0 {
		return nil
	}
	raw, _ := json.Marshal(palette)
	return datatypes.JSON(raw)
}

func (s *missionService) loadMission(ctx context.Context, missionID uuid.UUID) (*types.Mission, error) {
	mission, err := s.missionRepo.GetByID(ctx, nil, missionID)
	if err != nil {
		return nil, err
	}
	if mission == nil {
		return nil, apierr.NotFound("mission %s not found", missionID)
	}
	return mission, nil
}

func (s *missionService) requireMember(ctx context.Context, chainID, userID uuid.UUID) (*types.ChainMember, error) {
	member, err := s.chainRepo.GetMember(ctx, nil, chainID, userID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, apierr.Forbidden("caller is not a member of chain %s", chainID)
	}
	return member, nil
}

func (s *missionService) requireAdmin(ctx context.Context, chainID, userID uuid.UUID) error {
	member, err := s.requireMember(ctx, chainID, userID)
	if err != nil {
		return err
	}
	if member.Role != types.ChainRoleAdmin {
		return apierr.Forbidden("chain admin capability required")
	}
	return nil
}

func (s *missionService) notifyChain(ctx context.Context, chainID uuid.UUID, title, body string) {
	if s.notifier == nil {
		return
	}
	memberIDs, err := s.chainRepo.ListMemberUserIDs(ctx, nil, chainID)
	if err != nil {
		s.log.Warn("Could not list chain members for notification", "chain_id", chainID, "error", err)
		return
	}
	s.notifier.Notify(ctx, memberIDs, title, body)
}

func (s *missionService) notifyAdmins(ctx context.Context, chainID uuid.UUID, title, body string) {
	if s.notifier == nil {
		return
	}
	adminIDs, err := s.chainRepo.ListAdminUserIDs(ctx, nil, chainID)
	if err != nil {
		s.log.Warn("Could not list chain admins for notification", "chain_id", chainID, "error", err)
		return
	}
	s.notifier.Notify(ctx, adminIDs, title, body)
}

func (s *missionService) mediaURL(ctx context.Context, key string) string {
	if s.bucket == nil {
		return key
	}
	return retryx.Safe(s.log, "sign media URL", s.bucket.GetPublicURL(key), func() (string, error) {
		return s.bucket.SignRead(ctx, key)
	})
}

func validateMissionInput(prompt string, windowMinutes, requiredCount int) error {
	if prompt == "" {
		return apierr.Validation("prompt must not be empty")
	}
	if windowMinutes < minWindowMinutes || windowMinutes > maxWindowMinutes {
		return apierr.Validation("capture window must be %d-%d minutes, got %d", minWindowMinutes, maxWindowMinutes, windowMinutes)
	}
	if requiredCount < 1 {
		return apierr.Validation("required submission count must be at least 1")
	}
	return nil
}
