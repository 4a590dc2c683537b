package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"battle-session/internal/api"
	"battle-session/internal/config"
	"battle-session/internal/domain"
	"battle-session/internal/repository"
	"battle-session/internal/store"

	"github.com/rs/zerolog"
)

const testOverrideID = "overlord"

type fakeActionStore struct {
	mu      sync.Mutex
	byID    map[string]*domain.Action
	byNonce map[string]string
}

func newFakeActionStore() *fakeActionStore {
	return &fakeActionStore{
		byID:    make(map[string]*domain.Action),
		byNonce: make(map[string]string),
	}
}

func nonceKey(sessionID, nonce string) string {
	return sessionID + "/" + nonce
}

func (f *fakeActionStore) Insert(_ context.Context, act *domain.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := nonceKey(act.SessionID, act.Nonce)
	if _, ok := f.byNonce[key]; ok {
		return domain.ErrDuplicateNonce
	}
	cp := *act
	f.byID[act.ID] = &cp
	f.byNonce[key] = act.ID
	return nil
}

func (f *fakeActionStore) GetByNonce(_ context.Context, sessionID, nonce string) (*domain.Action, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byNonce[nonceKey(sessionID, nonce)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *f.byID[id]
	return &cp, nil
}

func (f *fakeActionStore) MarkResolved(_ context.Context, id string, result domain.ActionResult, resolvedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	act, ok := f.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	if act.Resolved {
		return nil
	}
	now := time.Now()
	act.Resolved = true
	act.ResolvedBy = resolvedBy
	act.ResolvedAt = &now
	act.Result = &result
	return nil
}

func (f *fakeActionStore) ListBySession(_ context.Context, sessionID string, limit int) ([]domain.Action, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Action
	for _, act := range f.byID {
		if act.SessionID == sessionID && len(out) < limit {
			out = append(out, *act)
		}
	}
	return out, nil
}

func (f *fakeActionStore) get(id string) *domain.Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	if act, ok := f.byID[id]; ok {
		cp := *act
		return &cp
	}
	return nil
}

type fakeSummaryStore struct {
	mu        sync.Mutex
	summaries map[string]*domain.SessionSummary
	saves     int
}

func newFakeSummaryStore() *fakeSummaryStore {
	return &fakeSummaryStore{summaries: make(map[string]*domain.SessionSummary)}
}

func (f *fakeSummaryStore) Save(_ context.Context, sum *domain.SessionSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if _, ok := f.summaries[sum.SessionID]; ok {
		return nil
	}
	f.summaries[sum.SessionID] = sum
	return nil
}

func (f *fakeSummaryStore) Get(_ context.Context, sessionID string) (*domain.SessionSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sum, ok := f.summaries[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return sum, nil
}

type testEnv struct {
	store     *store.Memory
	sessions  *repository.SessionRepository
	actions   *fakeActionStore
	summaries *fakeSummaryStore
	stats     *StatsAggregator
	svc       *SessionService
	pipeline  *ActionPipeline
	presence  *PresenceTracker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := zerolog.Nop()
	cfg := &config.Config{Difficulty: "normal", MaxWaves: 5, HostOverrideID: testOverrideID}
	mem := store.NewMemory()
	sessions := repository.NewSessionRepository(mem, log)
	actions := newFakeActionStore()
	summaries := newFakeSummaryStore()
	stats := NewStatsAggregator(summaries, log)
	artwork := api.NewArtworkClient(cfg, log)

	svc := NewSessionService(sessions, actions, stats, artwork, cfg, log)
	svc.settleDelay = 5 * time.Millisecond

	return &testEnv{
		store:     mem,
		sessions:  sessions,
		actions:   actions,
		summaries: summaries,
		stats:     stats,
		svc:       svc,
		pipeline:  NewActionPipeline(sessions, actions, stats, svc, cfg, log),
		presence:  NewPresenceTracker(sessions, log),
	}
}

func (e *testEnv) join(t *testing.T, sessionID, participantID string, participation, pp int) *domain.Session {
	t.Helper()
	sess, err := e.svc.Join(context.Background(), sessionID, JoinRequest{
		ParticipantID: participantID,
		DisplayName:   participantID,
		Level:         1,
		MaxHealth:     100,
		MaxShield:     20,
		PP:            pp,
		Participation: participation,
	})
	if err != nil {
		t.Fatalf("join %s: %v", participantID, err)
	}
	return sess
}

func (e *testEnv) submit(t *testing.T, req SubmitRequest) (*domain.Action, error) {
	t.Helper()
	return e.pipeline.Submit(context.Background(), req)
}

func (e *testEnv) session(t *testing.T, id string) *domain.Session {
	t.Helper()
	sess, err := e.sessions.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get session %s: %v", id, err)
	}
	return sess
}

// mutate applies a direct state edit, standing in for effects that other
// tests exercise through the pipeline.
func (e *testEnv) mutate(t *testing.T, id string, fn func(*domain.Session)) {
	t.Helper()
	_, err := e.sessions.Update(context.Background(), id, func(cur *domain.Session) (*domain.Session, error) {
		if cur == nil {
			return nil, domain.ErrNotFound
		}
		fn(cur)
		return cur, nil
	})
	if err != nil {
		t.Fatalf("mutate session %s: %v", id, err)
	}
}

func attackReq(sessionID, actorID, targetID, nonce string) SubmitRequest {
	return SubmitRequest{
		SessionID: sessionID,
		Type:      domain.ActionAttack,
		ActorID:   actorID,
		TargetID:  targetID,
		Payload:   domain.ActionPayload{Damage: 10},
		Nonce:     nonce,
	}
}

func uniqueNonce(i int) string {
	return fmt.Sprintf("nonce-%d-%d", i, time.Now().UnixNano())
}
