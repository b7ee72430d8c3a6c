package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/storychain-backend/internal/apierr"
	"github.com/yungbote/storychain-backend/internal/logger"
	"github.com/yungbote/storychain-backend/internal/repos"
	"github.com/yungbote/storychain-backend/internal/retryx"
	"github.com/yungbote/storychain-backend/internal/types"
)

type ScheduleInput struct {
	Enabled        bool
	StartHour      int
	StartMinute    int
	Timezone       string
	PromptTemplate string
	WindowMinutes  int
	RequiredCount  int
}

// ChapterView is a chapter with its media URL already signed for the caller.
type ChapterView struct {
	*types.Chapter
	SignedMediaURL string `json:"signed_media_url"`
}

type ChainService interface {
	CreateChain(ctx context.Context, callerID uuid.UUID, name string) (*types.Chain, error)
	GetChain(ctx context.Context, callerID, chainID uuid.UUID) (*types.Chain, error)
	JoinChain(ctx context.Context, callerID, chainID uuid.UUID) error
	ListMembers(ctx context.Context, callerID, chainID uuid.UUID) ([]*types.User, error)
	LinkChains(ctx context.Context, callerID, chainID, otherID uuid.UUID) error
	ListChapters(ctx context.Context, callerID, chainID uuid.UUID, limit int) ([]*ChapterView, error)
	UpsertSchedule(ctx context.Context, callerID, chainID uuid.UUID, in ScheduleInput) (*types.AutostartSchedule, error)
}

type chainService struct {
	db          *gorm.DB
	log         *logger.Logger
	chainRepo   repos.ChainRepo
	chapterRepo repos.ChapterRepo
	schedRepo   repos.ScheduleRepo
	userRepo    repos.UserRepo
	bucket      BucketService
}

func NewChainService(
	db *gorm.DB,
	log *logger.Logger,
	chainRepo repos.ChainRepo,
	chapterRepo repos.ChapterRepo,
	schedRepo repos.ScheduleRepo,
	userRepo repos.UserRepo,
	bucket BucketService,
) ChainService {
	return &chainService{
		db:          db,
		log:         log.With("service", "ChainService"),
		chainRepo:   chainRepo,
		chapterRepo: chapterRepo,
		schedRepo:   schedRepo,
		userRepo:    userRepo,
		bucket:      bucket,
	}
}

func (s *chainService) CreateChain(ctx context.Context, callerID uuid.UUID, name string) (*types.Chain, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apierr.Validation("chain name is required")
	}
	chain := &types.Chain{
		Name:      name,
		CreatedBy: callerID,
	}
	if err := s.chainRepo.Create(ctx, nil, chain); err != nil {
		return nil, err
	}
	member := &types.ChainMember{
		ChainID: chain.ID,
		UserID:  callerID,
		Role:    types.ChainRoleAdmin,
	}
	if err := s.chainRepo.AddMember(ctx, nil, member); err != nil {
		return nil, err
	}
	s.log.Info("Chain created", "chain_id", chain.ID)
	return chain, nil
}

func (s *chainService) GetChain(ctx context.Context, callerID, chainID uuid.UUID) (*types.Chain, error) {
	chain, err := s.loadChain(ctx, chainID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, chainID, callerID); err != nil {
		return nil, err
	}
	return chain, nil
}

func (s *chainService) JoinChain(ctx context.Context, callerID, chainID uuid.UUID) error {
	if _, err := s.loadChain(ctx, chainID); err != nil {
		return err
	}
	member := &types.ChainMember{
		ChainID: chainID,
		UserID:  callerID,
		Role:    types.ChainRoleMember,
	}
	// rejoining is a no-op, the membership row is conflict-ignored
	return s.chainRepo.AddMember(ctx, nil, member)
}

func (s *chainService) ListMembers(ctx context.Context, callerID, chainID uuid.UUID) ([]*types.User, error) {
	if err := s.requireMember(ctx, chainID, callerID); err != nil {
		return nil, err
	}
	ids, err := s.chainRepo.ListMemberUserIDs(ctx, nil, chainID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*types.User{}, nil
	}
	return s.userRepo.GetByIDs(ctx, nil, ids)
}

func (s *chainService) LinkChains(ctx context.Context, callerID, chainID, otherID uuid.UUID) error {
	if chainID == otherID {
		return apierr.Validation("a chain cannot be linked to itself")
	}
	if err := s.requireAdmin(ctx, chainID, callerID); err != nil {
		return err
	}
	if _, err := s.loadChain(ctx, otherID); err != nil {
		return err
	}
	link := &types.ChainLink{ChainA: chainID, ChainB: otherID}
	if err := s.chainRepo.CreateLink(ctx, nil, link); err != nil {
		return err
	}
	s.log.Info("Chains linked", "chain_a", chainID, "chain_b", otherID)
	return nil
}

func (s *chainService) ListChapters(ctx context.Context, callerID, chainID uuid.UUID, limit int) ([]*ChapterView, error) {
	if err := s.requireMember(ctx, chainID, callerID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 30
	}
	chapters, err := s.chapterRepo.ListByChain(ctx, nil, chainID, limit)
	if err != nil {
		return nil, err
	}
	views := make([]*ChapterView, 0, len(chapters))
	for _, ch := range chapters {
		views = append(views, &ChapterView{
			Chapter:        ch,
			SignedMediaURL: s.signMediaURL(ctx, ch.MediaURL),
		})
	}
	return views, nil
}

// signMediaURL signs bucket-relative keys; absolute URLs pass through.
func (s *chainService) signMediaURL(ctx context.Context, mediaURL string) string {
	if s.bucket == nil || strings.HasPrefix(mediaURL, "http") {
		return mediaURL
	}
	return retryx.Safe(s.log, "sign chapter URL", s.bucket.GetPublicURL(mediaURL), func() (string, error) {
		return s.bucket.SignRead(ctx, mediaURL)
	})
}

func (s *chainService) UpsertSchedule(ctx context.Context, callerID, chainID uuid.UUID, in ScheduleInput) (*types.AutostartSchedule, error) {
	if err := s.requireAdmin(ctx, chainID, callerID); err != nil {
		return nil, err
	}
	if in.StartHour < 0 || in.StartHour > 23 || in.StartMinute < 0 || in.StartMinute > 59 {
		return nil, apierr.Validation("start time must be a valid HH:MM")
	}
	tz := in.Timezone
	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, apierr.Validation("unknown timezone %q", tz)
	}
	if in.WindowMinutes < minWindowMinutes || in.WindowMinutes > maxWindowMinutes {
		return nil, apierr.Validation("capture window must be %d-%d minutes, got %d", minWindowMinutes, maxWindowMinutes, in.WindowMinutes)
	}
	if in.RequiredCount < 1 {
		return nil, apierr.Validation("required submission count must be at least 1")
	}
	schedule := &types.AutostartSchedule{
		ChainID:        chainID,
		Enabled:        in.Enabled,
		StartHour:      in.StartHour,
		StartMinute:    in.StartMinute,
		Timezone:       tz,
		PromptTemplate: strings.TrimSpace(in.PromptTemplate),
		WindowMinutes:  in.WindowMinutes,
		RequiredCount:  in.RequiredCount,
	}
	if err := s.schedRepo.Upsert(ctx, nil, schedule); err != nil {
		return nil, err
	}
	s.log.Info("Autostart schedule saved", "chain_id", chainID, "enabled", in.Enabled)
	return schedule, nil
}

func (s *chainService) loadChain(ctx context.Context, chainID uuid.UUID) (*types.Chain, error) {
	chain, err := s.chainRepo.GetByID(ctx, nil, chainID)
	if err != nil {
		return nil, err
	}
	if chain == nil {
		return nil, apierr.NotFound("chain %s not found", chainID)
	}
	return chain, nil
}

func (s *chainService) requireMember(ctx context.Context, chainID, userID uuid.UUID) error {
	member, err := s.chainRepo.GetMember(ctx, nil, chainID, userID)
	if err != nil {
		return err
	}
	if member == nil {
		return apierr.Forbidden("caller is not a member of chain %s", chainID)
	}
	return nil
}

func (s *chainService) requireAdmin(ctx context.Context, chainID, userID uuid.UUID) error {
	member, err := s.chainRepo.GetMember(ctx, nil, chainID, userID)
	if err != nil {
		return err
	}
	if member == nil || member.Role != types.ChainRoleAdmin {
		return apierr.Forbidden("chain admin capability required")
	}
	return nil
}
