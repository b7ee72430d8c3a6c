package services

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/storychain-backend/internal/apierr"
	"github.com/yungbote/storychain-backend/internal/types"
)

func newChainFixture(t *testing.T) (ChainService, *fakeChainRepo, *fakeChapterRepo, *fakeScheduleRepo) {
	t.Helper()
	chains := newFakeChainRepo()
	chapters := newFakeChapterRepo()
	schedules := newFakeScheduleRepo()
	svc := NewChainService(nil, testLogger(t), chains, chapters, schedules, newFakeUserRepo(), fakeBucket{})
	return svc, chains, chapters, schedules
}

func TestCreateChainMakesCreatorAdmin(t *testing.T) {
	svc, chains, _, _ := newChainFixture(t)
	ctx := context.Background()
	creator := uuid.New()

	chain, err := svc.CreateChain(ctx, creator, "  evening crew  ")
	if err != nil {
		t.Fatalf("CreateChain: %v", err)
	}
	if chain.Name != "evening crew" {
		t.Fatalf("name: want=%q got=%q", "evening crew", chain.Name)
	}
	member, _ := chains.GetMember(ctx, nil, chain.ID, creator)
	if member == nil || member.Role != types.ChainRoleAdmin {
		t.Fatalf("creator membership: %+v", member)
	}

	if _, err := svc.CreateChain(ctx, creator, "   "); !apierr.IsCode(err, apierr.CodeValidation) {
		t.Fatalf("blank name: want validation got=%v", err)
	}
}

func TestJoinChainIsIdempotent(t *testing.T) {
	svc, chains, _, _ := newChainFixture(t)
	ctx := context.Background()
	creator := uuid.New()
	joiner := uuid.New()

	chain, _ := svc.CreateChain(ctx, creator, "crew")
	if err := svc.JoinChain(ctx, joiner, chain.ID); err != nil {
		t.Fatalf("first join: %v", err)
	}
	if err := svc.JoinChain(ctx, joiner, chain.ID); err != nil {
		t.Fatalf("second join: %v", err)
	}
	member, _ := chains.GetMember(ctx, nil, chain.ID, joiner)
	if member == nil || member.Role != types.ChainRoleMember {
		t.Fatalf("joiner membership: %+v", member)
	}

	if err := svc.JoinChain(ctx, joiner, uuid.New()); !apierr.IsCode(err, apierr.CodeNotFound) {
		t.Fatalf("join unknown chain: want not_found got=%v", err)
	}
}

func TestListMembersRequiresMembership(t *testing.T) {
	chains := newFakeChainRepo()
	users := newFakeUserRepo()
	svc := NewChainService(nil, testLogger(t), chains, newFakeChapterRepo(), newFakeScheduleRepo(), users, fakeBucket{})
	ctx := context.Background()

	creator := &types.User{Email: "ana@example.com", DisplayName: "Ana"}
	joiner := &types.User{Email: "bo@example.com", DisplayName: "Bo"}
	_ = users.Create(ctx, nil, creator)
	_ = users.Create(ctx, nil, joiner)

	chain, _ := svc.CreateChain(ctx, creator.ID, "crew")
	if err := svc.JoinChain(ctx, joiner.ID, chain.ID); err != nil {
		t.Fatalf("join: %v", err)
	}

	members, err := svc.ListMembers(ctx, creator.ID, chain.ID)
	if err != nil {
		t.Fatalf("ListMembers: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("members: want=2 got=%d", len(members))
	}

	outsider := uuid.New()
	if _, err := svc.ListMembers(ctx, outsider, chain.ID); !apierr.IsCode(err, apierr.CodeForbidden) {
		t.Fatalf("outsider: want forbidden got=%v", err)
	}
}

func TestLinkChainsValidation(t *testing.T) {
	svc, chains, _, _ := newChainFixture(t)
	ctx := context.Background()
	creator := uuid.New()

	a, _ := svc.CreateChain(ctx, creator, "a")
	b, _ := svc.CreateChain(ctx, creator, "b")

	if err := svc.LinkChains(ctx, creator, a.ID, a.ID); !apierr.IsCode(err, apierr.CodeValidation) {
		t.Fatalf("self link: want validation got=%v", err)
	}
	outsider := uuid.New()
	if err := svc.LinkChains(ctx, outsider, a.ID, b.ID); !apierr.IsCode(err, apierr.CodeForbidden) {
		t.Fatalf("outsider link: want forbidden got=%v", err)
	}
	if err := svc.LinkChains(ctx, creator, a.ID, b.ID); err != nil {
		t.Fatalf("link: %v", err)
	}
	linked, _ := chains.ListLinkedChainIDs(ctx, nil, a.ID)
	if len(linked) != 1 || linked[0] != b.ID {
		t.Fatalf("linked ids: want=[%s] got=%v", b.ID, linked)
	}
}

func TestListChaptersSignsRelativeKeys(t *testing.T) {
	svc, _, chapters, _ := newChainFixture(t)
	ctx := context.Background()
	creator := uuid.New()

	chain, _ := svc.CreateChain(ctx, creator, "crew")
	if err := chapters.Upsert(ctx, nil, &types.Chapter{
		MissionID: uuid.New(), ChainID: chain.ID, MediaURL: "chapters/c1.mp4",
	}); err != nil {
		t.Fatalf("seed chapter: %v", err)
	}
	if err := chapters.Upsert(ctx, nil, &types.Chapter{
		MissionID: uuid.New(), ChainID: chain.ID, MediaURL: "https://cdn.example/c2.mp4",
	}); err != nil {
		t.Fatalf("seed chapter: %v", err)
	}

	views, err := svc.ListChapters(ctx, creator, chain.ID, 0)
	if err != nil {
		t.Fatalf("ListChapters: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("chapters: want=2 got=%d", len(views))
	}
	for _, v := range views {
		if v.MediaURL == "chapters/c1.mp4" && v.SignedMediaURL != "https://signed.example/get/chapters/c1.mp4" {
			t.Fatalf("relative key not signed: %s", v.SignedMediaURL)
		}
		if v.MediaURL == "https://cdn.example/c2.mp4" && v.SignedMediaURL != v.MediaURL {
			t.Fatalf("absolute URL rewritten: %s", v.SignedMediaURL)
		}
	}

	outsider := uuid.New()
	if _, err := svc.ListChapters(ctx, outsider, chain.ID, 0); !apierr.IsCode(err, apierr.CodeForbidden) {
		t.Fatalf("outsider list: want forbidden got=%v", err)
	}
}

func TestUpsertScheduleValidation(t *testing.T) {
	svc, _, _, schedules := newChainFixture(t)
	ctx := context.Background()
	creator := uuid.New()
	chain, _ := svc.CreateChain(ctx, creator, "crew")

	good := ScheduleInput{
		Enabled: true, StartHour: 9, StartMinute: 0, Timezone: "America/New_York",
		PromptTemplate: "Morning walk", WindowMinutes: 45, RequiredCount: 2,
	}

	cases := []struct {
		name   string
		mutate func(*ScheduleInput)
	}{
		{"hour out of range", func(in *ScheduleInput) { in.StartHour = 24 }},
		{"minute out of range", func(in *ScheduleInput) { in.StartMinute = 60 }},
		{"bad timezone", func(in *ScheduleInput) { in.Timezone = "Not/AZone" }},
		{"window too short", func(in *ScheduleInput) { in.WindowMinutes = 1 }},
		{"zero required", func(in *ScheduleInput) { in.RequiredCount = 0 }},
	}
	for _, tc := range cases {
		in := good
		tc.mutate(&in)
		if _, err := svc.UpsertSchedule(ctx, creator, chain.ID, in); !apierr.IsCode(err, apierr.CodeValidation) {
			t.Fatalf("%s: want validation got=%v", tc.name, err)
		}
	}

	saved, err := svc.UpsertSchedule(ctx, creator, chain.ID, good)
	if err != nil {
		t.Fatalf("UpsertSchedule: %v", err)
	}
	if !saved.Enabled || saved.Timezone != "America/New_York" {
		t.Fatalf("saved schedule: %+v", saved)
	}
	stored, _ := schedules.GetByChain(ctx, nil, chain.ID)
	if stored == nil {
		t.Fatalf("schedule not persisted")
	}
}
