package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/storychain-backend/internal/types"
)

type schedulerFixture struct {
	*missionFixture
	schedules *fakeScheduleRepo
	locker    *fakeLocker
	scheduler SchedulerService
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()
	log := testLogger(t)
	fx := &schedulerFixture{
		missionFixture: newMissionFixture(t),
		schedules:      newFakeScheduleRepo(),
		locker:         newFakeLocker(),
	}
	fx.scheduler = NewSchedulerService(nil, log, fx.schedules, fx.chains, fx.missions, fx.svc, fx.locker)
	return fx
}

func (fx *schedulerFixture) seedSchedule(t *testing.T, chainID uuid.UUID, hour, minute int) {
	t.Helper()
	err := fx.schedules.Upsert(context.Background(), nil, &types.AutostartSchedule{
		ChainID:        chainID,
		Enabled:        true,
		StartHour:      hour,
		StartMinute:    minute,
		Timezone:       "UTC",
		PromptTemplate: "Today's walk",
		WindowMinutes:  45,
		RequiredCount:  2,
	})
	if err != nil {
		t.Fatalf("seed schedule: %v", err)
	}
}

func TestAutoStartWithinTolerance(t *testing.T) {
	fx := newSchedulerFixture(t)
	ctx := context.Background()
	admin := uuid.New()
	chainID := fx.seedChain(t, admin)
	fx.seedSchedule(t, chainID, 9, 0)

	// 09:02 is inside the five minute tolerance of a 09:00 schedule
	now := time.Date(2026, 3, 10, 9, 2, 0, 0, time.UTC)
	stats, err := fx.scheduler.RunAutoStart(ctx, now)
	if err != nil {
		t.Fatalf("RunAutoStart: %v", err)
	}
	if stats.Started != 1 {
		t.Fatalf("started: want=1 got=%d", stats.Started)
	}
	chain, _ := fx.chains.GetByID(ctx, nil, chainID)
	if chain.ActiveMissionID == nil {
		t.Fatalf("chain pointer not set by autostart")
	}
	mission, _ := fx.missions.GetByID(ctx, nil, *chain.ActiveMissionID)
	if mission.Prompt != "Today's walk" {
		t.Fatalf("prompt: want=%q got=%q", "Today's walk", mission.Prompt)
	}
	if mission.RequiredCount != 2 {
		t.Fatalf("required count: want=2 got=%d", mission.RequiredCount)
	}
	if !mission.EndsAt.Equal(now.Add(45 * time.Minute)) {
		t.Fatalf("window: want=%s got=%s", now.Add(45*time.Minute), mission.EndsAt)
	}
}

func TestAutoStartOutsideToleranceSkips(t *testing.T) {
	fx := newSchedulerFixture(t)
	ctx := context.Background()
	admin := uuid.New()
	chainID := fx.seedChain(t, admin)
	fx.seedSchedule(t, chainID, 9, 0)

	now := time.Date(2026, 3, 10, 9, 10, 0, 0, time.UTC)
	stats, err := fx.scheduler.RunAutoStart(ctx, now)
	if err != nil {
		t.Fatalf("RunAutoStart: %v", err)
	}
	if stats.Started != 0 || stats.Skipped != 1 {
		t.Fatalf("stats: want started=0 skipped=1 got started=%d skipped=%d", stats.Started, stats.Skipped)
	}
}

func TestAutoStartSkipsChainWithActiveMission(t *testing.T) {
	fx := newSchedulerFixture(t)
	ctx := context.Background()
	admin := uuid.New()
	chainID := fx.seedChain(t, admin)
	fx.seedSchedule(t, chainID, 9, 0)

	if _, err := fx.svc.CreateMission(ctx, admin, CreateMissionInput{
		ChainID: chainID, Prompt: "manual", WindowMinutes: 60, RequiredCount: 3,
	}); err != nil {
		t.Fatalf("seed manual mission: %v", err)
	}

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	stats, err := fx.scheduler.RunAutoStart(ctx, now)
	if err != nil {
		t.Fatalf("RunAutoStart: %v", err)
	}
	if stats.Started != 0 {
		t.Fatalf("started: want=0 got=%d", stats.Started)
	}
}

func TestAutoStartRepeatSweepDoesNotDoubleStart(t *testing.T) {
	fx := newSchedulerFixture(t)
	ctx := context.Background()
	admin := uuid.New()
	chainID := fx.seedChain(t, admin)
	fx.seedSchedule(t, chainID, 9, 0)

	now := time.Date(2026, 3, 10, 9, 1, 0, 0, time.UTC)
	if _, err := fx.scheduler.RunAutoStart(ctx, now); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	stats, err := fx.scheduler.RunAutoStart(ctx, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if stats.Started != 0 {
		t.Fatalf("second sweep started: want=0 got=%d", stats.Started)
	}
	count := 0
	fx.missions.mu.Lock()
	for _, m := range fx.missions.missions {
		if m.ChainID == chainID {
			count++
		}
	}
	fx.missions.mu.Unlock()
	if count != 1 {
		t.Fatalf("missions on chain: want=1 got=%d", count)
	}
}

func TestAutoStartIsolatesPerChainFailures(t *testing.T) {
	fx := newSchedulerFixture(t)
	ctx := context.Background()
	adminA := uuid.New()
	adminB := uuid.New()
	chainA := fx.seedChain(t, adminA)
	chainB := fx.seedChain(t, adminB)
	fx.seedSchedule(t, chainA, 9, 0)
	fx.seedSchedule(t, chainB, 9, 0)

	// break one schedule; the other chain must still start
	fx.schedules.mu.Lock()
	fx.schedules.schedules[chainA].Timezone = "Not/AZone"
	fx.schedules.mu.Unlock()

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	stats, err := fx.scheduler.RunAutoStart(ctx, now)
	if err != nil {
		t.Fatalf("RunAutoStart: %v", err)
	}
	if stats.Errors != 1 {
		t.Fatalf("errors: want=1 got=%d", stats.Errors)
	}
	if stats.Started != 1 {
		t.Fatalf("started: want=1 got=%d", stats.Started)
	}
	chain, _ := fx.chains.GetByID(ctx, nil, chainB)
	if chain.ActiveMissionID == nil {
		t.Fatalf("healthy chain was not started")
	}
}

func TestTimerPassLocksExpiredMissions(t *testing.T) {
	fx := newSchedulerFixture(t)
	ctx := context.Background()
	admin := uuid.New()
	chainID := fx.seedChain(t, admin)

	mission, _ := fx.svc.CreateMission(ctx, admin, CreateMissionInput{
		ChainID: chainID, Prompt: "p", WindowMinutes: 30, RequiredCount: 5,
	})
	if _, err := fx.svc.SubmitEntry(ctx, admin, SubmitEntryInput{MissionID: mission.ID, MediaKey: "a"}); err != nil {
		t.Fatalf("seed entry: %v", err)
	}
	fx.missions.mu.Lock()
	stored := fx.missions.missions[mission.ID]
	stored.StartsAt = time.Now().Add(-2 * time.Hour)
	stored.EndsAt = time.Now().Add(-time.Hour)
	fx.missions.mu.Unlock()

	stats, err := fx.scheduler.RunAutoStart(ctx, time.Now())
	if err != nil {
		t.Fatalf("RunAutoStart: %v", err)
	}
	if stats.Locked != 1 {
		t.Fatalf("locked: want=1 got=%d", stats.Locked)
	}
	got, _ := fx.missions.GetByID(ctx, nil, mission.ID)
	if got.State != types.MissionStateFusing {
		t.Fatalf("state: want=%s got=%s", types.MissionStateFusing, got.State)
	}
}

func TestScheduleDueHonorsTimezone(t *testing.T) {
	schedule := &types.AutostartSchedule{StartHour: 9, StartMinute: 0, Timezone: "America/New_York"}

	// 13:02 UTC is 09:02 in New York during DST
	due, err := scheduleDue(schedule, time.Date(2026, 6, 10, 13, 2, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("scheduleDue: %v", err)
	}
	if !due {
		t.Fatalf("09:02 local: want due")
	}
	due, err = scheduleDue(schedule, time.Date(2026, 6, 10, 9, 2, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("scheduleDue: %v", err)
	}
	if due {
		t.Fatalf("05:02 local: want not due")
	}
}
