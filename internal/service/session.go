package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"battle-session/internal/api"
	"battle-session/internal/battle"
	"battle-session/internal/config"
	"battle-session/internal/constants"
	"battle-session/internal/domain"
	"battle-session/internal/repository"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// SessionService owns the session lifecycle: lobby through waves to a
// terminal status, plus the host-gated administrative operations.
type SessionService struct {
	sessions    *repository.SessionRepository
	actions     ActionStore
	stats       *StatsAggregator
	artwork     *api.ArtworkClient
	cfg         *config.Config
	logger      zerolog.Logger
	settleDelay time.Duration
}

func NewSessionService(
	sessions *repository.SessionRepository,
	actions ActionStore,
	stats *StatsAggregator,
	artwork *api.ArtworkClient,
	cfg *config.Config,
	logger zerolog.Logger,
) *SessionService {
	return &SessionService{
		sessions:    sessions,
		actions:     actions,
		stats:       stats,
		artwork:     artwork,
		cfg:         cfg,
		logger:      logger,
		settleDelay: constants.WaveSettleDelay,
	}
}

// canAdminister is the authorization policy for ending sessions and
// adjustment actions: the host role on the participant record, or the
// configured global override identity. Never identity-string matching.
func canAdminister(sess *domain.Session, actorID, overrideID string) bool {
	if overrideID != "" && actorID == overrideID {
		return true
	}
	if p, ok := sess.Participant(actorID); ok {
		return p.Role == domain.RoleHost
	}
	return false
}

type JoinRequest struct {
	ClassID       string                        `json:"class_id"`
	ParticipantID string                        `json:"participant_id"`
	DisplayName   string                        `json:"display_name"`
	AvatarURL     string                        `json:"avatar_url"`
	Level         int                           `json:"level"`
	MaxHealth     int                           `json:"max_health"`
	MaxShield     int                           `json:"max_shield"`
	PP            int                           `json:"pp"`
	Participation int                           `json:"participation"`
	Modifiers     []float64                     `json:"modifiers"`
	Skills        map[string]*domain.SkillState `json:"skills"`
}

func (r *JoinRequest) normalize() {
	if r.Level < 1 {
		r.Level = 1
	}
	if r.MaxHealth <= 0 {
		r.MaxHealth = 100
	}
	if r.MaxShield < 0 {
		r.MaxShield = 0
	}
	if r.PP < 0 {
		r.PP = 0
	}
	if r.Participation < 0 {
		r.Participation = 0
	}
}

// Join creates the session document on first join and adds the participant,
// idempotently: re-joining an already-present participant changes nothing.
// The first joiner becomes the host and wave 1 is seeded immediately.
func (s *SessionService) Join(ctx context.Context, sessionID string, req JoinRequest) (*domain.Session, error) {
	if req.ParticipantID == "" {
		return nil, domain.Validationf("participant_id is required")
	}
	req.normalize()

	difficulty := domain.ParseDifficulty(s.cfg.Difficulty)

	// Only a first join needs a roster, and artwork lookups are real
	// outbound calls, so probe before generating. A race with another
	// first join just wastes one roster; the update below stays the
	// authority on who creates.
	var firstWave []domain.Enemy
	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		firstWave = battle.Generate(1, difficulty)
		s.artwork.Decorate(ctx, firstWave)
	}

	created := false
	sess, err := s.sessions.Update(ctx, sessionID, func(cur *domain.Session) (*domain.Session, error) {
		if cur == nil {
			created = true
			return s.newSession(sessionID, difficulty, firstWave, req), nil
		}
		if cur.Status == domain.StatusEnded {
			return nil, domain.ErrSessionEnded
		}
		if _, ok := cur.Participant(req.ParticipantID); ok {
			return nil, nil
		}

		p := newParticipant(req, domain.RolePlayer)
		cur.Participants[p.ID] = p
		SeedStats(cur, p)
		appendLog(cur, fmt.Sprintf("%s joined the battle", p.DisplayName))
		return cur, nil
	})
	if err != nil {
		return nil, err
	}

	if created {
		s.logger.Info().
			Str("session_id", sessionID).
			Str("host_id", req.ParticipantID).
			Str("difficulty", string(difficulty)).
			Msg("session created")
	}
	return sess, nil
}

func (s *SessionService) newSession(id string, difficulty domain.Difficulty, firstWave []domain.Enemy, req JoinRequest) *domain.Session {
	host := newParticipant(req, domain.RoleHost)
	now := time.Now()

	sess := &domain.Session{
		ID:           id,
		ClassID:      req.ClassID,
		Status:       domain.StatusActive,
		Difficulty:   difficulty,
		Wave:         1,
		MaxWaves:     s.cfg.MaxWaves,
		HostID:       host.ID,
		Participants: map[string]*domain.Participant{host.ID: host},
		Enemies:      make(map[string]*domain.Enemy, len(firstWave)),
		Stats:        make(map[string]*domain.ParticipantStats),
		StartedAt:    now,
	}
	for i := range firstWave {
		e := firstWave[i]
		sess.Enemies[e.ID] = &e
	}
	SeedStats(sess, host)
	appendLog(sess, fmt.Sprintf("%s opened the session, wave 1 begins", host.DisplayName))
	return sess
}

func newParticipant(req JoinRequest, role domain.Role) *domain.Participant {
	return &domain.Participant{
		ID:            req.ParticipantID,
		DisplayName:   req.DisplayName,
		AvatarURL:     req.AvatarURL,
		Role:          role,
		Level:         req.Level,
		Health:        req.MaxHealth,
		MaxHealth:     req.MaxHealth,
		Shield:        req.MaxShield,
		MaxShield:     req.MaxShield,
		PP:            req.PP,
		Participation: req.Participation,
		Modifiers:     req.Modifiers,
		Skills:        req.Skills,
		JoinedAt:      time.Now(),
	}
}

// Leave removes a participant from the active roster. Already-resolved
// actions are untouched; their audit records stay.
func (s *SessionService) Leave(ctx context.Context, sessionID, participantID string) error {
	_, err := s.sessions.Update(ctx, sessionID, func(cur *domain.Session) (*domain.Session, error) {
		if cur == nil {
			return nil, domain.ErrNotFound
		}
		p, ok := cur.Participant(participantID)
		if !ok {
			return nil, nil
		}
		delete(cur.Participants, participantID)
		appendLog(cur, fmt.Sprintf("%s left the battle", p.DisplayName))
		return cur, nil
	})
	return err
}

func (s *SessionService) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	return s.sessions.Get(ctx, sessionID)
}

// EndSession is terminal and irreversible. Only an authorized actor may end
// a session; ending one that is already ended reports false.
func (s *SessionService) EndSession(ctx context.Context, sessionID, requestorID string) (bool, error) {
	// Authorization is checked against the same snapshot the write commits
	// on, so a host demoted or removed mid-flight cannot slip through.
	ended := false
	sess, err := s.sessions.Update(ctx, sessionID, func(cur *domain.Session) (*domain.Session, error) {
		ended = false
		if cur == nil {
			return nil, domain.ErrNotFound
		}
		if !canAdminister(cur, requestorID, s.cfg.HostOverrideID) {
			return nil, domain.ErrUnauthorized
		}
		if cur.Status == domain.StatusEnded {
			return nil, nil
		}
		now := time.Now()
		ended = true
		cur.Status = domain.StatusEnded
		cur.EndedAt = &now
		appendLog(cur, "the session was ended by the host")
		return cur, nil
	})
	if err != nil {
		return false, err
	}
	if !ended {
		return false, nil
	}

	if _, err := s.stats.Finalize(ctx, sess); err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to finalize summary")
		return true, err
	}

	s.logger.Info().Str("session_id", sessionID).Str("requestor_id", requestorID).Msg("session ended")
	return true, nil
}

// GrantParticipation funds a participant's move economy. Host-gated and
// recorded as a SYSTEM action so the audit trail stays complete.
func (s *SessionService) GrantParticipation(ctx context.Context, sessionID, participantID string, amount int, requestorID string) error {
	if amount <= 0 {
		return domain.Validationf("participation grant must be positive")
	}
	return s.adminAdjust(ctx, sessionID, participantID, requestorID,
		domain.ActionPayload{Participation: amount},
		func(p *domain.Participant) string {
			p.Participation += amount
			return fmt.Sprintf("%s was granted %d participation", p.DisplayName, amount)
		})
}

// AdjustPP applies a host-authorized PP delta, clamped at zero.
func (s *SessionService) AdjustPP(ctx context.Context, sessionID, participantID string, delta int, requestorID string) error {
	if delta == 0 {
		return domain.Validationf("pp delta must be non-zero")
	}
	return s.adminAdjust(ctx, sessionID, participantID, requestorID,
		domain.ActionPayload{PPDelta: delta},
		func(p *domain.Participant) string {
			p.PP += delta
			if p.PP < 0 {
				p.PP = 0
			}
			return fmt.Sprintf("%s had their PP adjusted by %+d", p.DisplayName, delta)
		})
}

func (s *SessionService) adminAdjust(ctx context.Context, sessionID, participantID, requestorID string, payload domain.ActionPayload, mutate func(*domain.Participant) string) error {
	id, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("failed to generate action id: %w", err)
	}
	nonce, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	act := &domain.Action{
		ID:        id,
		SessionID: sessionID,
		Type:      domain.ActionSystem,
		ActorID:   requestorID,
		TargetID:  participantID,
		Payload:   payload,
		Nonce:     nonce,
		CreatedAt: time.Now(),
	}
	if err := s.actions.Insert(ctx, act); err != nil {
		return err
	}

	_, err = s.sessions.Update(ctx, sessionID, func(cur *domain.Session) (*domain.Session, error) {
		if cur == nil {
			return nil, domain.ErrNotFound
		}
		if cur.Status.Terminal() {
			return nil, domain.ErrSessionEnded
		}
		if !canAdminister(cur, requestorID, s.cfg.HostOverrideID) {
			return nil, domain.ErrUnauthorized
		}
		p, ok := cur.Participant(participantID)
		if !ok {
			return nil, domain.Validationf("participant %s is not in this session", participantID)
		}

		appendLog(cur, mutate(p))
		res := domain.ActionResult{Success: true}
		s.stats.Accumulate(cur, act, &res)
		return cur, nil
	})

	result := domain.ActionResult{Success: err == nil}
	if err != nil {
		result.Reason = err.Error()
	}
	if markErr := s.actions.MarkResolved(ctx, act.ID, result, requestorID); markErr != nil {
		s.logger.Warn().Err(markErr).Str("action_id", act.ID).Msg("failed to mark admin action resolved")
	}
	return err
}

// ScheduleAdvance evaluates wipe/advance conditions off the request path.
// Safe to call after every resolution: each transition re-checks state
// inside the transactional update, so duplicate evaluations are no-ops.
func (s *SessionService) ScheduleAdvance(sessionID string) {
	g := new(errgroup.Group)
	g.Go(func() error {
		return s.evaluate(context.Background(), sessionID)
	})
	go func() {
		if err := g.Wait(); err != nil {
			s.logger.Error().Err(err).Str("session_id", sessionID).Msg("session transition failed")
		}
	}()
}

func (s *SessionService) evaluate(ctx context.Context, sessionID string) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status != domain.StatusActive {
		return nil
	}

	switch {
	case sess.AllEliminated():
		return s.finish(ctx, sessionID, domain.StatusDefeated, "the party was defeated")
	case sess.WaveCleared():
		if sess.Wave >= sess.MaxWaves {
			return s.finish(ctx, sessionID, domain.StatusVictory, "the final wave falls, victory!")
		}
		return s.advanceWave(ctx, sessionID, sess.Wave)
	}
	return nil
}

// advanceWave moves active → wave_transition, waits out the settle delay so
// clients can finish rendering the previous resolution, then persists the
// next roster and flips back to active.
func (s *SessionService) advanceWave(ctx context.Context, sessionID string, clearedWave int) error {
	_, err := s.sessions.Update(ctx, sessionID, func(cur *domain.Session) (*domain.Session, error) {
		if cur == nil {
			return nil, domain.ErrNotFound
		}
		if cur.Status != domain.StatusActive || cur.Wave != clearedWave || !cur.WaveCleared() {
			return nil, nil
		}
		cur.Status = domain.StatusWaveTransition
		appendLog(cur, fmt.Sprintf("wave %d cleared", clearedWave))
		return cur, nil
	})
	if err != nil {
		return err
	}

	time.Sleep(s.settleDelay)

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	next := clearedWave + 1
	roster := battle.Generate(next, sess.Difficulty)
	s.artwork.Decorate(ctx, roster)

	updated, err := s.sessions.Update(ctx, sessionID, func(cur *domain.Session) (*domain.Session, error) {
		if cur == nil {
			return nil, domain.ErrNotFound
		}
		if cur.Status != domain.StatusWaveTransition || cur.Wave != clearedWave {
			return nil, nil
		}
		cur.Wave = next
		cur.Status = domain.StatusActive
		for i := range roster {
			e := roster[i]
			cur.Enemies[e.ID] = &e
		}
		appendLog(cur, fmt.Sprintf("wave %d begins", next))
		return cur, nil
	})
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("session_id", sessionID).
		Int("wave", updated.Wave).
		Int("enemies", len(roster)).
		Msg("wave advanced")
	return nil
}

// finish lands on victory or defeated, freezes the summary, then closes the
// session automatically once the summary is persisted.
func (s *SessionService) finish(ctx context.Context, sessionID string, terminal domain.Status, logLine string) error {
	sess, err := s.sessions.Update(ctx, sessionID, func(cur *domain.Session) (*domain.Session, error) {
		if cur == nil {
			return nil, domain.ErrNotFound
		}
		if cur.Status != domain.StatusActive {
			return nil, nil
		}
		now := time.Now()
		cur.Status = terminal
		cur.EndedAt = &now
		appendLog(cur, logLine)
		return cur, nil
	})
	if err != nil {
		return err
	}
	if sess.Status != terminal {
		return nil
	}

	if _, err := s.stats.Finalize(ctx, sess); err != nil {
		return err
	}

	_, err = s.sessions.Update(ctx, sessionID, func(cur *domain.Session) (*domain.Session, error) {
		if cur == nil {
			return nil, domain.ErrNotFound
		}
		if cur.Status != terminal {
			return nil, nil
		}
		cur.Status = domain.StatusEnded
		return cur, nil
	})
	return err
}

// Watch bridges store subscriptions into typed events for transports.
func (s *SessionService) Watch(sessionID string, fn func(domain.Event)) (stop func()) {
	stopSession := s.sessions.Watch(sessionID, func(sess *domain.Session) {
		eventType := domain.EventSessionUpdated
		if sess.Status.Terminal() {
			eventType = domain.EventSessionEnded
		}
		fn(domain.Event{Type: eventType, SessionID: sessionID, Session: sess})
	})
	stopPresence := s.sessions.WatchPresence(sessionID, func(m map[string]domain.PresenceRecord) {
		fn(domain.Event{Type: domain.EventPresenceUpdated, SessionID: sessionID, Presence: m})
	})
	return func() {
		stopSession()
		stopPresence()
	}
}

func (s *SessionService) Summary(ctx context.Context, sessionID string) (*domain.SessionSummary, error) {
	return s.stats.Summary(ctx, sessionID)
}

// appendLog keeps the battle log bounded; old lines roll off the front.
func appendLog(sess *domain.Session, line string) {
	sess.BattleLog = append(sess.BattleLog, line)
	if over := len(sess.BattleLog) - constants.BattleLogLimit; over > 0 {
		sess.BattleLog = sess.BattleLog[over:]
	}
}
