package services

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	redisclient "github.com/yungbote/storychain-backend/internal/clients/redis"
	"github.com/yungbote/storychain-backend/internal/logger"
	"github.com/yungbote/storychain-backend/internal/repos"
	"github.com/yungbote/storychain-backend/internal/types"
)

const (
	bridgeWindow      = 24 * time.Hour
	bridgeMinTags     = 2
	bridgeMaxHueDelta = 30.0
	bridgeLockTTL     = 24 * time.Hour
)

type BridgeService interface {
	// EvaluateMission compares a freshly completed mission against recent
	// completions in directly linked chains and records one event per
	// matching pair. Returns the number of events created.
	EvaluateMission(ctx context.Context, mission *types.Mission) (int, error)
}

type bridgeService struct {
	db          *gorm.DB
	log         *logger.Logger
	missionRepo repos.MissionRepo
	entryRepo   repos.EntryRepo
	chainRepo   repos.ChainRepo
	eventRepo   repos.BridgeEventRepo
	notifier    NotifierService
	locker      redisclient.Locker
}

func NewBridgeService(
	db *gorm.DB,
	log *logger.Logger,
	missionRepo repos.MissionRepo,
	entryRepo repos.EntryRepo,
	chainRepo repos.ChainRepo,
	eventRepo repos.BridgeEventRepo,
	notifier NotifierService,
	locker redisclient.Locker,
) BridgeService {
	return &bridgeService{
		db:          db,
		log:         log.With("service", "BridgeService"),
		missionRepo: missionRepo,
		entryRepo:   entryRepo,
		chainRepo:   chainRepo,
		eventRepo:   eventRepo,
		notifier:    notifier,
		locker:      locker,
	}
}

// missionSignature is the comparable footprint of a completed mission.
type missionSignature struct {
	tags map[string]struct{}
	hue  *float64
}

func (s *bridgeService) EvaluateMission(ctx context.Context, mission *types.Mission) (int, error) {
	linked, err := s.chainRepo.ListLinkedChainIDs(ctx, nil, mission.ChainID)
	if err != nil {
		return 0, err
	}
	if len(linked) == 0 {
		return 0, nil
	}
	ownSig, err := s.signature(ctx, mission.ID)
	if err != nil {
		return 0, err
	}
	if len(ownSig.tags) == 0 && ownSig.hue == nil {
		return 0, nil
	}
	now := time.Now()
	candidates, err := s.missionRepo.ListRecapByChainsSince(ctx, nil, linked, now.Add(-bridgeWindow))
	if err != nil {
		return 0, err
	}

	created := 0
	seenPairs := map[string]struct{}{}
	for _, other := range candidates {
		if other.ChainID == mission.ChainID {
			continue
		}
		pairKey := pairLockKey(mission.ChainID, other.ChainID)
		if _, seen := seenPairs[pairKey]; seen {
			continue
		}
		otherSig, err := s.signature(ctx, other.ID)
		if err != nil {
			s.log.Warn("Could not build signature for candidate", "mission_id", other.ID, "error", err)
			continue
		}
		evidence, matched := match(ownSig, otherSig)
		if !matched {
			continue
		}
		// one event per pair: a run-local set, a redis window lock, and
		// the persisted events as the authoritative check
		seenPairs[pairKey] = struct{}{}
		lockKey := "bridge:" + pairKey
		if s.locker != nil {
			acquired, err := s.locker.AcquireOnce(ctx, lockKey, bridgeLockTTL)
			if err == nil && !acquired {
				continue
			}
		}
		exists, err := s.eventRepo.ExistsForPairSince(ctx, nil, mission.ChainID, other.ChainID, now.Add(-bridgeWindow))
		if err != nil {
			s.log.Warn("Pair dedup lookup failed", "pair", pairKey, "error", err)
			s.releaseLock(ctx, lockKey)
			continue
		}
		if exists {
			continue
		}
		rawEvidence, _ := json.Marshal(evidence)
		event := &types.BridgeEvent{
			ChainA:   mission.ChainID,
			ChainB:   other.ChainID,
			Evidence: datatypes.JSON(rawEvidence),
		}
		if err := s.eventRepo.Create(ctx, nil, event); err != nil {
			s.log.Error("Could not record bridge event", "pair", pairKey, "error", err)
			// nothing was recorded, so give the window lock back for a
			// later evaluation to retry
			s.releaseLock(ctx, lockKey)
			continue
		}
		created++
		s.log.Info("Bridge event recorded", "chain_a", event.ChainA, "chain_b", event.ChainB, "shared_tags", len(evidence.SharedTags))
		s.notifyPair(ctx, mission.ChainID, other.ChainID)
	}
	return created, nil
}

func (s *bridgeService) releaseLock(ctx context.Context, key string) {
	if s.locker == nil {
		return
	}
	_ = s.locker.Release(ctx, key)
}

func (s *bridgeService) signature(ctx context.Context, missionID uuid.UUID) (*missionSignature, error) {
	entries, err := s.entryRepo.ListByMission(ctx, nil, missionID)
	if err != nil {
		return nil, err
	}
	sig := &missionSignature{tags: map[string]struct{}{}}
	var sinSum, cosSum float64
	hueCount := 0
	for _, e := range entries {
		for _, tag := range decodeStrings(e.Tags) {
			sig.tags[tag] = struct{}{}
		}
		if e.DominantHue != nil {
			rad := *e.DominantHue * math.Pi / 180
			sinSum += math.Sin(rad)
			cosSum += math.Cos(rad)
			hueCount++
		}
	}
	if hueCount > 0 {
		// circular mean keeps reds near 0 and 360 from averaging to cyan
		mean := math.Atan2(sinSum, cosSum) * 180 / math.Pi
		if mean < 0 {
			mean += 360
		}
		sig.hue = &mean
	}
	return sig, nil
}

func match(a, b *missionSignature) (*types.BridgeEvidence, bool) {
	shared := make([]string, 0)
	for tag := range a.tags {
		if _, ok := b.tags[tag]; ok {
			shared = append(shared, tag)
		}
	}
	sort.Strings(shared)
	evidence := &types.BridgeEvidence{}
	if len(shared) >= bridgeMinTags {
		evidence.SharedTags = shared
		if a.hue != nil && b.hue != nil {
			delta := hueDistance(*a.hue, *b.hue)
			evidence.HueA, evidence.HueB, evidence.HueDelta = a.hue, b.hue, &delta
		}
		return evidence, true
	}
	if a.hue != nil && b.hue != nil {
		delta := hueDistance(*a.hue, *b.hue)
		if delta < bridgeMaxHueDelta {
			evidence.HueA, evidence.HueB, evidence.HueDelta = a.hue, b.hue, &delta
			if len(shared) > 0 {
				evidence.SharedTags = shared
			}
			return evidence, true
		}
	}
	return nil, false
}

// hueDistance is the shorter arc between two hues on the color wheel.
func hueDistance(a, b float64) float64 {
	d := math.Abs(a - b)
	if d > 180 {
		d = 360 - d
	}
	return d
}

func pairLockKey(a, b uuid.UUID) string {
	if b.String() < a.String() {
		a, b = b, a
	}
	return a.String() + ":" + b.String()
}

func (s *bridgeService) notifyPair(ctx context.Context, chainA, chainB uuid.UUID) {
	if s.notifier == nil {
		return
	}
	ids := make([]uuid.UUID, 0)
	for _, chainID := range []uuid.UUID{chainA, chainB} {
		memberIDs, err := s.chainRepo.ListMemberUserIDs(ctx, nil, chainID)
		if err != nil {
			s.log.Warn("Could not list members for bridge notification", "chain_id", chainID, "error", err)
			continue
		}
		ids = append(ids, memberIDs...)
	}
	s.notifier.Notify(ctx, ids, "Bridge discovered", "A linked chain captured a story a lot like yours today.")
}
