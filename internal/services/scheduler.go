package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/storychain-backend/internal/apierr"
	redisclient "github.com/yungbote/storychain-backend/internal/clients/redis"
	"github.com/yungbote/storychain-backend/internal/logger"
	"github.com/yungbote/storychain-backend/internal/repos"
	"github.com/yungbote/storychain-backend/internal/types"
)

const (
	// autostartTolerance bounds how far from the configured local time a
	// sweep may still start the mission. Sweeps run more often than this.
	autostartTolerance = 5 * time.Minute
	autostartLockTTL   = 10 * time.Minute
)

type SweepStats struct {
	Checked int `json:"checked"`
	Started int `json:"started"`
	Locked  int `json:"locked"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

type SchedulerService interface {
	// RunAutoStart starts missions for due schedules, then locks missions
	// whose capture window has expired. Per-chain failures are counted,
	// never fatal to the sweep.
	RunAutoStart(ctx context.Context, now time.Time) (*SweepStats, error)
}

type schedulerService struct {
	db           *gorm.DB
	log          *logger.Logger
	scheduleRepo repos.ScheduleRepo
	chainRepo    repos.ChainRepo
	missionRepo  repos.MissionRepo
	missions     MissionService
	locker       redisclient.Locker
}

func NewSchedulerService(
	db *gorm.DB,
	log *logger.Logger,
	scheduleRepo repos.ScheduleRepo,
	chainRepo repos.ChainRepo,
	missionRepo repos.MissionRepo,
	missions MissionService,
	locker redisclient.Locker,
) SchedulerService {
	return &schedulerService{
		db:           db,
		log:          log.With("service", "SchedulerService"),
		scheduleRepo: scheduleRepo,
		chainRepo:    chainRepo,
		missionRepo:  missionRepo,
		missions:     missions,
		locker:       locker,
	}
}

func (s *schedulerService) RunAutoStart(ctx context.Context, now time.Time) (*SweepStats, error) {
	stats := &SweepStats{}
	schedules, err := s.scheduleRepo.ListEnabled(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list enabled schedules: %w", err)
	}
	chainIDs := make([]uuid.UUID, 0, len(schedules))
	for _, schedule := range schedules {
		chainIDs = append(chainIDs, schedule.ChainID)
	}
	idle, err := s.chainRepo.ListWithoutActiveMission(ctx, nil, chainIDs)
	if err != nil {
		return nil, fmt.Errorf("list idle chains: %w", err)
	}
	idleByID := make(map[uuid.UUID]struct{}, len(idle))
	for _, chain := range idle {
		idleByID[chain.ID] = struct{}{}
	}
	for _, schedule := range schedules {
		stats.Checked++
		if _, ok := idleByID[schedule.ChainID]; !ok {
			stats.Skipped++
			continue
		}
		started, err := s.runOne(ctx, schedule, now)
		if err != nil {
			stats.Errors++
			s.log.Error("Autostart failed for chain", "chain_id", schedule.ChainID, "error", err)
			continue
		}
		if started {
			stats.Started++
		} else {
			stats.Skipped++
		}
	}
	s.lockExpired(ctx, now, stats)
	s.log.Info("Autostart sweep complete",
		"checked", stats.Checked, "started", stats.Started,
		"locked", stats.Locked, "skipped", stats.Skipped, "errors", stats.Errors)
	return stats, nil
}

func (s *schedulerService) runOne(ctx context.Context, schedule *types.AutostartSchedule, now time.Time) (bool, error) {
	due, err := scheduleDue(schedule, now)
	if err != nil {
		return false, err
	}
	if !due {
		return false, nil
	}
	// the redis lock only narrows the window; the chain's active-mission
	// pointer is what actually prevents a double start
	key := "autostart:" + schedule.ChainID.String()
	if s.locker != nil {
		acquired, err := s.locker.AcquireOnce(ctx, key, autostartLockTTL)
		if err != nil {
			s.log.Warn("Autostart lock unavailable, relying on pointer guard", "chain_id", schedule.ChainID, "error", err)
		} else if !acquired {
			return false, nil
		}
	}
	mission, err := s.missions.CreateScheduled(ctx, schedule, now)
	if err != nil {
		if s.locker != nil {
			// free the advisory lock so the next sweep can retry before
			// the TTL runs out
			_ = s.locker.Release(ctx, key)
		}
		return false, err
	}
	s.log.Info("Autostarted mission", "mission_id", mission.ID, "chain_id", schedule.ChainID)
	return true, nil
}

func (s *schedulerService) lockExpired(ctx context.Context, now time.Time, stats *SweepStats) {
	expired, err := s.missionRepo.ListExpiredOpen(ctx, nil, now)
	if err != nil {
		stats.Errors++
		s.log.Error("Could not list expired missions", "error", err)
		return
	}
	for _, mission := range expired {
		if _, err := s.missions.LockMission(ctx, mission.CreatedBy, mission.ID, types.LockTriggerTimer); err != nil {
			// a threshold or admin lock may have won in the meantime
			if apierr.IsCode(err, apierr.CodeConflict) {
				stats.Skipped++
				continue
			}
			stats.Errors++
			s.log.Error("Timer lock failed", "mission_id", mission.ID, "error", err)
			continue
		}
		stats.Locked++
	}
}

// scheduleDue reports whether now falls within the tolerance window of the
// schedule's configured local start time.
func scheduleDue(schedule *types.AutostartSchedule, now time.Time) (bool, error) {
	loc, err := time.LoadLocation(schedule.Timezone)
	if err != nil {
		return false, fmt.Errorf("invalid timezone %q: %w", schedule.Timezone, err)
	}
	local := now.In(loc)
	target := time.Date(local.Year(), local.Month(), local.Day(), schedule.StartHour, schedule.StartMinute, 0, 0, loc)
	diff := local.Sub(target)
	if diff < 0 {
		diff = -diff
	}
	return diff <= autostartTolerance, nil
}
