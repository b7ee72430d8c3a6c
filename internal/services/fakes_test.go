package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/storychain-backend/internal/clients/fusion"
	"github.com/yungbote/storychain-backend/internal/logger"
	"github.com/yungbote/storychain-backend/internal/types"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	return log
}

// ---- mission repo ----

type fakeMissionRepo struct {
	mu       sync.Mutex
	missions map[uuid.UUID]*types.Mission
}

func newFakeMissionRepo() *fakeMissionRepo {
	return &fakeMissionRepo{missions: map[uuid.UUID]*types.Mission{}}
}

func (f *fakeMissionRepo) Create(ctx context.Context, tx *gorm.DB, mission *types.Mission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if mission.ID == uuid.Nil {
		mission.ID = uuid.New()
	}
	stored := *mission
	f.missions[mission.ID] = &stored
	return nil
}

func (f *fakeMissionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Mission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.missions[id]
	if !ok {
		return nil, nil
	}
	out := *m
	return &out, nil
}

func (f *fakeMissionRepo) Transition(ctx context.Context, tx *gorm.DB, id uuid.UUID, fromStates []string, toState string, stampColumn string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.missions[id]
	if !ok {
		return false, nil
	}
	matched := false
	for _, s := range fromStates {
		if m.State == s {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	m.State = toState
	stamp := now
	switch stampColumn {
	case "locked_at":
		m.LockedAt = &stamp
	case "recap_ready_at":
		m.RecapReadyAt = &stamp
	case "archived_at":
		m.ArchivedAt = &stamp
	}
	return true, nil
}

func (f *fakeMissionRepo) IncrementReceived(ctx context.Context, tx *gorm.DB, id uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.missions[id]
	if !ok {
		return 0, fmt.Errorf("mission %s not found", id)
	}
	m.ReceivedCount++
	return m.ReceivedCount, nil
}

func (f *fakeMissionRepo) ListExpiredOpen(ctx context.Context, tx *gorm.DB, now time.Time) ([]*types.Mission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Mission
	for _, m := range f.missions {
		if m.Lockable() && m.WindowExpired(now) {
			c := *m
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakeMissionRepo) ListRecapByChainsSince(ctx context.Context, tx *gorm.DB, chainIDs []uuid.UUID, since time.Time) ([]*types.Mission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inSet := map[uuid.UUID]struct{}{}
	for _, id := range chainIDs {
		inSet[id] = struct{}{}
	}
	var out []*types.Mission
	for _, m := range f.missions {
		if m.State != types.MissionStateRecap || m.RecapReadyAt == nil {
			continue
		}
		if _, ok := inSet[m.ChainID]; !ok {
			continue
		}
		if m.RecapReadyAt.Before(since) {
			continue
		}
		c := *m
		out = append(out, &c)
	}
	return out, nil
}

// ---- chain repo ----

type fakeChainRepo struct {
	mu      sync.Mutex
	chains  map[uuid.UUID]*types.Chain
	members map[string]*types.ChainMember
	links   [][2]uuid.UUID
}

func newFakeChainRepo() *fakeChainRepo {
	return &fakeChainRepo{
		chains:  map[uuid.UUID]*types.Chain{},
		members: map[string]*types.ChainMember{},
	}
}

func memberKey(chainID, userID uuid.UUID) string {
	return chainID.String() + "|" + userID.String()
}

func (f *fakeChainRepo) Create(ctx context.Context, tx *gorm.DB, chain *types.Chain) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if chain.ID == uuid.Nil {
		chain.ID = uuid.New()
	}
	stored := *chain
	f.chains[chain.ID] = &stored
	return nil
}

func (f *fakeChainRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Chain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chains[id]
	if !ok {
		return nil, nil
	}
	out := *c
	if c.ActiveMissionID != nil {
		mid := *c.ActiveMissionID
		out.ActiveMissionID = &mid
	}
	return &out, nil
}

func (f *fakeChainRepo) SetActiveMission(ctx context.Context, tx *gorm.DB, chainID, missionID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chains[chainID]
	if !ok {
		return false, fmt.Errorf("chain %s not found", chainID)
	}
	if c.ActiveMissionID != nil {
		return false, nil
	}
	mid := missionID
	c.ActiveMissionID = &mid
	return true, nil
}

func (f *fakeChainRepo) ClearActiveMission(ctx context.Context, tx *gorm.DB, chainID, missionID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chains[chainID]
	if !ok {
		return nil
	}
	if c.ActiveMissionID != nil && *c.ActiveMissionID == missionID {
		c.ActiveMissionID = nil
	}
	return nil
}

func (f *fakeChainRepo) ListWithoutActiveMission(ctx context.Context, tx *gorm.DB, chainIDs []uuid.UUID) ([]*types.Chain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Chain
	for _, id := range chainIDs {
		if c, ok := f.chains[id]; ok && c.ActiveMissionID == nil {
			cc := *c
			out = append(out, &cc)
		}
	}
	return out, nil
}

func (f *fakeChainRepo) AddMember(ctx context.Context, tx *gorm.DB, member *types.ChainMember) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := memberKey(member.ChainID, member.UserID)
	if _, ok := f.members[key]; ok {
		return nil
	}
	if member.ID == uuid.Nil {
		member.ID = uuid.New()
	}
	stored := *member
	f.members[key] = &stored
	return nil
}

func (f *fakeChainRepo) GetMember(ctx context.Context, tx *gorm.DB, chainID, userID uuid.UUID) (*types.ChainMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[memberKey(chainID, userID)]
	if !ok {
		return nil, nil
	}
	out := *m
	return &out, nil
}

func (f *fakeChainRepo) ListMemberUserIDs(ctx context.Context, tx *gorm.DB, chainID uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []uuid.UUID
	for _, m := range f.members {
		if m.ChainID == chainID {
			out = append(out, m.UserID)
		}
	}
	return out, nil
}

func (f *fakeChainRepo) ListAdminUserIDs(ctx context.Context, tx *gorm.DB, chainID uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []uuid.UUID
	for _, m := range f.members {
		if m.ChainID == chainID && m.Role == types.ChainRoleAdmin {
			out = append(out, m.UserID)
		}
	}
	return out, nil
}

func (f *fakeChainRepo) CreateLink(ctx context.Context, tx *gorm.DB, link *types.ChainLink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, b := link.ChainA, link.ChainB
	if b.String() < a.String() {
		a, b = b, a
	}
	for _, l := range f.links {
		if l[0] == a && l[1] == b {
			return nil
		}
	}
	f.links = append(f.links, [2]uuid.UUID{a, b})
	return nil
}

func (f *fakeChainRepo) ListLinkedChainIDs(ctx context.Context, tx *gorm.DB, chainID uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []uuid.UUID
	for _, l := range f.links {
		if l[0] == chainID {
			out = append(out, l[1])
		} else if l[1] == chainID {
			out = append(out, l[0])
		}
	}
	return out, nil
}

// ---- entry repo ----

type fakeEntryRepo struct {
	mu      sync.Mutex
	entries map[string]*types.Entry

	// when set, Upsert enforces the real repo's mission-state guard
	missions *fakeMissionRepo
}

func newFakeEntryRepo() *fakeEntryRepo {
	return &fakeEntryRepo{entries: map[string]*types.Entry{}}
}

func (f *fakeEntryRepo) Upsert(ctx context.Context, tx *gorm.DB, entry *types.Entry) (bool, bool, error) {
	if f.missions != nil {
		mission, err := f.missions.GetByID(ctx, tx, entry.MissionID)
		if err != nil {
			return false, false, err
		}
		if mission == nil || !mission.Lockable() {
			return false, false, nil
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := entry.MissionID.String() + "|" + entry.UserID.String()
	existing, ok := f.entries[key]
	if ok {
		entry.ID = existing.ID
	} else if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.AnalysisStatus = types.AnalysisStatusPending
	stored := *entry
	f.entries[key] = &stored
	return !ok, true, nil
}

func (f *fakeEntryRepo) GetByMissionUser(ctx context.Context, tx *gorm.DB, missionID, userID uuid.UUID) (*types.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[missionID.String()+"|"+userID.String()]
	if !ok {
		return nil, nil
	}
	out := *e
	return &out, nil
}

func (f *fakeEntryRepo) ListByMission(ctx context.Context, tx *gorm.DB, missionID uuid.UUID) ([]*types.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Entry
	for _, e := range f.entries {
		if e.MissionID == missionID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakeEntryRepo) UpdateAnalysis(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.ID != id {
			continue
		}
		if v, ok := updates["analysis_status"].(string); ok {
			e.AnalysisStatus = v
		}
		if v, ok := updates["dominant_hue"].(float64); ok {
			e.DominantHue = &v
		}
		return nil
	}
	return fmt.Errorf("entry %s not found", id)
}

// ---- generation job repo ----

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*types.GenerationJob
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: map[uuid.UUID]*types.GenerationJob{}}
}

func (f *fakeJobRepo) Create(ctx context.Context, tx *gorm.DB, job *types.GenerationJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	stored := *job
	f.jobs[job.ID] = &stored
	return nil
}

func (f *fakeJobRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.GenerationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, nil
	}
	out := *j
	return &out, nil
}

func (f *fakeJobRepo) GetLatestByMission(ctx context.Context, tx *gorm.DB, missionID uuid.UUID) (*types.GenerationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *types.GenerationJob
	for _, j := range f.jobs {
		if j.MissionID != missionID {
			continue
		}
		if latest == nil || j.CreatedAt.After(latest.CreatedAt) {
			latest = j
		}
	}
	if latest == nil {
		return nil, nil
	}
	out := *latest
	return &out, nil
}

func (f *fakeJobRepo) ListPendingSince(ctx context.Context, tx *gorm.DB, cutoff time.Time) ([]*types.GenerationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.GenerationJob
	for _, j := range f.jobs {
		if j.Status == types.JobStatusPending && j.CreatedAt.After(cutoff) {
			c := *j
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakeJobRepo) Resolve(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string, output []byte, errMsg string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok || j.Status != types.JobStatusPending {
		return false, nil
	}
	j.Status = status
	j.Output = output
	j.Error = errMsg
	stamp := now
	j.ResolvedAt = &stamp
	return true, nil
}

// ---- chapter repo ----

type fakeChapterRepo struct {
	mu       sync.Mutex
	chapters map[uuid.UUID]*types.Chapter
}

func newFakeChapterRepo() *fakeChapterRepo {
	return &fakeChapterRepo{chapters: map[uuid.UUID]*types.Chapter{}}
}

func (f *fakeChapterRepo) Upsert(ctx context.Context, tx *gorm.DB, chapter *types.Chapter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.chapters[chapter.MissionID]; ok {
		chapter.ID = existing.ID
	} else if chapter.ID == uuid.Nil {
		chapter.ID = uuid.New()
	}
	stored := *chapter
	f.chapters[chapter.MissionID] = &stored
	return nil
}

func (f *fakeChapterRepo) GetByMission(ctx context.Context, tx *gorm.DB, missionID uuid.UUID) (*types.Chapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.chapters[missionID]
	if !ok {
		return nil, nil
	}
	out := *ch
	return &out, nil
}

func (f *fakeChapterRepo) ListByChain(ctx context.Context, tx *gorm.DB, chainID uuid.UUID, limit int) ([]*types.Chapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Chapter
	for _, ch := range f.chapters {
		if ch.ChainID == chainID {
			c := *ch
			out = append(out, &c)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeChapterRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chapters)
}

// ---- bridge event repo ----

type fakeBridgeEventRepo struct {
	mu     sync.Mutex
	events []*types.BridgeEvent
}

func newFakeBridgeEventRepo() *fakeBridgeEventRepo {
	return &fakeBridgeEventRepo{}
}

func (f *fakeBridgeEventRepo) Create(ctx context.Context, tx *gorm.DB, event *types.BridgeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	stored := *event
	f.events = append(f.events, &stored)
	return nil
}

func (f *fakeBridgeEventRepo) ExistsForPairSince(ctx context.Context, tx *gorm.DB, a, b uuid.UUID, since time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b.String() < a.String() {
		a, b = b, a
	}
	for _, e := range f.events {
		ea, eb := e.ChainA, e.ChainB
		if eb.String() < ea.String() {
			ea, eb = eb, ea
		}
		if ea == a && eb == b && e.CreatedAt.After(since) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeBridgeEventRepo) ListByChain(ctx context.Context, tx *gorm.DB, chainID uuid.UUID, limit int) ([]*types.BridgeEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.BridgeEvent
	for _, e := range f.events {
		if e.ChainA == chainID || e.ChainB == chainID {
			c := *e
			out = append(out, &c)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeBridgeEventRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

// ---- schedule repo ----

type fakeScheduleRepo struct {
	mu        sync.Mutex
	schedules map[uuid.UUID]*types.AutostartSchedule
}

func newFakeScheduleRepo() *fakeScheduleRepo {
	return &fakeScheduleRepo{schedules: map[uuid.UUID]*types.AutostartSchedule{}}
}

func (f *fakeScheduleRepo) Upsert(ctx context.Context, tx *gorm.DB, schedule *types.AutostartSchedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.schedules[schedule.ChainID]; ok {
		schedule.ID = existing.ID
	} else if schedule.ID == uuid.Nil {
		schedule.ID = uuid.New()
	}
	stored := *schedule
	f.schedules[schedule.ChainID] = &stored
	return nil
}

func (f *fakeScheduleRepo) GetByChain(ctx context.Context, tx *gorm.DB, chainID uuid.UUID) (*types.AutostartSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[chainID]
	if !ok {
		return nil, nil
	}
	out := *s
	return &out, nil
}

func (f *fakeScheduleRepo) ListEnabled(ctx context.Context, tx *gorm.DB) ([]*types.AutostartSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.AutostartSchedule
	for _, s := range f.schedules {
		if s.Enabled {
			c := *s
			out = append(out, &c)
		}
	}
	return out, nil
}

// ---- user repo ----

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*types.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[uuid.UUID]*types.User{}}
}

func (f *fakeUserRepo) Create(ctx context.Context, tx *gorm.DB, user *types.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	stored := *user
	f.users[user.ID] = &stored
	return nil
}

func (f *fakeUserRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	out := *u
	return &out, nil
}

func (f *fakeUserRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.User
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			c := *u
			out = append(out, &c)
		}
	}
	return out, nil
}

func (f *fakeUserRepo) GetByEmail(ctx context.Context, tx *gorm.DB, email string) (*types.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, nil
}

func (f *fakeUserRepo) UpdatePushToken(ctx context.Context, tx *gorm.DB, id uuid.UUID, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return fmt.Errorf("user %s not found", id)
	}
	u.PushToken = token
	return nil
}

// ---- fusion client ----

type fakeFusionClient struct {
	mu        sync.Mutex
	submits   int
	submitErr error
	results   map[string]*fusion.PollResult
	pollErr   map[string]error
}

func newFakeFusionClient() *fakeFusionClient {
	return &fakeFusionClient{
		results: map[string]*fusion.PollResult{},
		pollErr: map[string]error{},
	}
}

func (f *fakeFusionClient) Submit(ctx context.Context, req fusion.SubmitRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submits++
	return fmt.Sprintf("op-%d", f.submits), nil
}

func (f *fakeFusionClient) Poll(ctx context.Context, handle string) (*fusion.PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.pollErr[handle]; ok {
		return nil, err
	}
	if res, ok := f.results[handle]; ok {
		out := *res
		return &out, nil
	}
	return &fusion.PollResult{Done: false}, nil
}

func (f *fakeFusionClient) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

func (f *fakeFusionClient) setResult(handle string, res *fusion.PollResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[handle] = res
}

// ---- notifier ----

type notifyCall struct {
	UserIDs []uuid.UUID
	Title   string
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

func (f *fakeNotifier) Notify(ctx context.Context, userIDs []uuid.UUID, title, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, notifyCall{UserIDs: userIDs, Title: title})
}

func (f *fakeNotifier) titles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Title)
	}
	return out
}

// ---- locker ----

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]struct{}{}}
}

func (f *fakeLocker) AcquireOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.held[key]; ok {
		return false, nil
	}
	f.held[key] = struct{}{}
	return true, nil
}

func (f *fakeLocker) Release(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, key)
	return nil
}

func (f *fakeLocker) Close() error { return nil }

// ---- bucket ----

type fakeBucket struct{}

func (fakeBucket) SignUpload(ctx context.Context, key, contentType string) (string, error) {
	return "https://signed.example/put/" + key, nil
}

func (fakeBucket) SignRead(ctx context.Context, key string) (string, error) {
	return "https://signed.example/get/" + key, nil
}

func (fakeBucket) GetPublicURL(key string) string {
	return "https://public.example/" + key
}

func (fakeBucket) GCSURI(key string) string {
	return "gs://test-bucket/" + key
}

// ---- bridge stub ----

type stubBridge struct {
	mu    sync.Mutex
	calls int
}

func (s *stubBridge) EvaluateMission(ctx context.Context, mission *types.Mission) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return 0, nil
}

func (s *stubBridge) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
