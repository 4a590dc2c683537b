package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"battle-session/internal/battle"
	"battle-session/internal/config"
	"battle-session/internal/constants"
	"battle-session/internal/domain"
	"battle-session/internal/repository"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// ActionStore is the audit trail the pipeline records intents in. The
// sqlite repository implements it; tests substitute a fake.
type ActionStore interface {
	Insert(ctx context.Context, act *domain.Action) error
	GetByNonce(ctx context.Context, sessionID, nonce string) (*domain.Action, error)
	MarkResolved(ctx context.Context, id string, result domain.ActionResult, resolvedBy string) error
	ListBySession(ctx context.Context, sessionID string, limit int) ([]domain.Action, error)
}

const pipelineResolver = "pipeline"

// ActionPipeline validates and resolves submitted intents: dedup by nonce,
// gate checks, then a single transactional read-modify-write that applies
// the effect, consumes a move, logs the hit and folds stats — all or
// nothing.
type ActionPipeline struct {
	sessions  *repository.SessionRepository
	actions   ActionStore
	stats     *StatsAggregator
	lifecycle *SessionService
	cfg       *config.Config
	logger    zerolog.Logger
}

func NewActionPipeline(
	sessions *repository.SessionRepository,
	actions ActionStore,
	stats *StatsAggregator,
	lifecycle *SessionService,
	cfg *config.Config,
	logger zerolog.Logger,
) *ActionPipeline {
	return &ActionPipeline{
		sessions:  sessions,
		actions:   actions,
		stats:     stats,
		lifecycle: lifecycle,
		cfg:       cfg,
		logger:    logger,
	}
}

type SubmitRequest struct {
	SessionID string               `json:"session_id"`
	Type      domain.ActionType    `json:"type"`
	ActorID   string               `json:"actor_id"`
	TargetID  string               `json:"target_id"`
	SkillID   string               `json:"skill_id"`
	Payload   domain.ActionPayload `json:"payload"`
	Nonce     string               `json:"nonce"`
}

// Submit runs an intent through submitted → validating → resolved. A nonce
// that was already resolved returns the original record with
// ErrDuplicateNonce: already applied, nothing mutated twice. An unresolved
// duplicate (a retry after a transient failure) resumes resolution of the
// original record instead.
func (p *ActionPipeline) Submit(ctx context.Context, req SubmitRequest) (*domain.Action, error) {
	if !req.Type.Valid() {
		return nil, domain.Validationf("unknown action type %q", req.Type)
	}
	if req.ActorID == "" {
		return nil, domain.Validationf("actor_id is required")
	}
	if req.Nonce == "" {
		return nil, domain.Validationf("nonce is required")
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate action id: %w", err)
	}
	act := &domain.Action{
		ID:        id,
		SessionID: req.SessionID,
		Type:      req.Type,
		ActorID:   req.ActorID,
		TargetID:  req.TargetID,
		SkillID:   req.SkillID,
		Payload:   req.Payload,
		Nonce:     req.Nonce,
		CreatedAt: time.Now(),
	}

	if err := p.actions.Insert(ctx, act); err != nil {
		if !errors.Is(err, domain.ErrDuplicateNonce) {
			return nil, err
		}
		existing, lookupErr := p.actions.GetByNonce(ctx, req.SessionID, req.Nonce)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if existing.Resolved {
			p.logger.Debug().
				Str("session_id", req.SessionID).
				Str("nonce", req.Nonce).
				Msg("duplicate nonce, treating as already applied")
			return existing, domain.ErrDuplicateNonce
		}
		act = existing
	}

	return p.resolve(ctx, act)
}

func (p *ActionPipeline) resolve(ctx context.Context, act *domain.Action) (*domain.Action, error) {
	var result domain.ActionResult

	_, err := p.sessions.Update(ctx, act.SessionID, func(sess *domain.Session) (*domain.Session, error) {
		if sess == nil {
			return nil, domain.ErrNotFound
		}
		res, err := p.apply(sess, act, time.Now())
		if err != nil {
			return nil, err
		}
		result = res
		p.stats.Accumulate(sess, act, &result)
		return sess, nil
	})

	switch {
	case err == nil:
		p.markResolved(ctx, act, result)
		p.lifecycle.ScheduleAdvance(act.SessionID)
		return act, nil

	case domain.IsValidation(err):
		// Rejections resolve too: the audit record keeps the reason, the
		// state keeps its hands clean.
		var ve *domain.ValidationError
		errors.As(err, &ve)
		p.markResolved(ctx, act, domain.ActionResult{Success: false, Reason: ve.Reason})
		return act, err

	case errors.Is(err, domain.ErrSessionEnded):
		p.markResolved(ctx, act, domain.ActionResult{Success: false, Reason: domain.ErrSessionEnded.Error()})
		return act, err

	case errors.Is(err, domain.ErrConflict):
		// Out of retries. The action stays unresolved; the same nonce can
		// be resubmitted safely.
		p.logger.Warn().
			Str("session_id", act.SessionID).
			Str("action_id", act.ID).
			Msg("action resolution exhausted transaction retries")
		return act, err

	default:
		return nil, err
	}
}

// History returns the newest audit records for a session.
func (p *ActionPipeline) History(ctx context.Context, sessionID string) ([]domain.Action, error) {
	return p.actions.ListBySession(ctx, sessionID, constants.ActionListLimit)
}

func (p *ActionPipeline) markResolved(ctx context.Context, act *domain.Action, result domain.ActionResult) {
	now := time.Now()
	act.Resolved = true
	act.ResolvedBy = pipelineResolver
	act.ResolvedAt = &now
	act.Result = &result
	if err := p.actions.MarkResolved(ctx, act.ID, result, pipelineResolver); err != nil {
		p.logger.Error().Err(err).Str("action_id", act.ID).Msg("failed to persist action result")
	}
}

// apply validates the intent against the current state and, when valid,
// mutates the session in place. Any ValidationError leaves the session
// untouched: the surrounding update skips the write on error.
func (p *ActionPipeline) apply(sess *domain.Session, act *domain.Action, now time.Time) (domain.ActionResult, error) {
	var zero domain.ActionResult

	// Terminal statuses are final for every action type, SYSTEM included:
	// nothing mutates a session after its summary froze.
	if sess.Status.Terminal() {
		return zero, domain.ErrSessionEnded
	}

	if act.Type == domain.ActionSystem {
		return p.applySystem(sess, act)
	}

	if sess.Status != domain.StatusActive {
		return zero, domain.Validationf("session is not accepting actions (%s)", sess.Status)
	}
	actor, ok := sess.Participant(act.ActorID)
	if !ok {
		return zero, domain.Validationf("actor %s is not in this session", act.ActorID)
	}
	if actor.Eliminated {
		return zero, domain.Validationf("%s has been eliminated", actor.DisplayName)
	}
	if actor.MovesEarned() <= 0 {
		return zero, domain.Validationf("no moves remaining, earn participation first")
	}
	if act.Payload.PPCost > actor.PP {
		return zero, domain.Validationf("insufficient pp: need %d, have %d", act.Payload.PPCost, actor.PP)
	}

	var skill *domain.SkillState
	if act.Type == domain.ActionSkill {
		if act.SkillID == "" {
			return zero, domain.Validationf("skill actions require a skill_id")
		}
		skill, ok = actor.Skills[act.SkillID]
		if !ok {
			return zero, domain.Validationf("skill %s is not unlocked", act.SkillID)
		}
		// The cooldown gate and the move-economy gate are independent:
		// passing one never waives the other.
		if skill.OnCooldown(now) {
			return zero, domain.Validationf("skill %s is on cooldown", act.SkillID)
		}
	}

	var result domain.ActionResult
	var err error
	switch act.Type {
	case domain.ActionAttack:
		result, err = p.applyAttack(sess, actor, act)
	case domain.ActionSkill:
		result, err = p.applySkill(sess, actor, act, skill, now)
	case domain.ActionItem:
		result, err = p.applyItem(sess, actor, act)
	case domain.ActionVault:
		result, err = p.applyVault(sess, actor, act)
	default:
		err = domain.Validationf("unsupported action type %q", act.Type)
	}
	if err != nil {
		return zero, err
	}

	actor.PP -= act.Payload.PPCost
	result.PPSpent = act.Payload.PPCost
	actor.MovesUsed++
	result.Success = true
	return result, nil
}

func (p *ActionPipeline) applyAttack(sess *domain.Session, actor *domain.Participant, act *domain.Action) (domain.ActionResult, error) {
	var zero domain.ActionResult

	enemy, ok := sess.Enemy(act.TargetID)
	if !ok {
		return zero, domain.Validationf("unknown target %s", act.TargetID)
	}
	if enemy.Defeated() {
		return zero, domain.Validationf("%s is already defeated", enemy.Name)
	}

	roll := p.rollDamage(actor, act.Payload, 1)
	shieldDmg, healthDmg := battle.AbsorbShield(roll, enemy.Shield)
	// Overkill is not reported: the recorded delta always equals the
	// applied delta so health deltas sum exactly.
	healthDmg = min(healthDmg, enemy.Health)
	enemy.Shield -= shieldDmg
	enemy.Health -= healthDmg

	result := domain.ActionResult{
		Damage:         healthDmg,
		ShieldDamage:   shieldDmg,
		TargetDefeated: enemy.Defeated(),
	}
	line := fmt.Sprintf("%s hits %s for %d", actor.DisplayName, enemy.Name, roll)
	if result.TargetDefeated {
		line += fmt.Sprintf(", %s goes down", enemy.Name)
	}
	appendLog(sess, line)
	return result, nil
}

func (p *ActionPipeline) applySkill(sess *domain.Session, actor *domain.Participant, act *domain.Action, skill *domain.SkillState, now time.Time) (domain.ActionResult, error) {
	var result domain.ActionResult
	payload := act.Payload

	switch {
	case payload.Damage > 0:
		if enemy, ok := sess.Enemy(act.TargetID); ok {
			if enemy.Defeated() {
				return result, domain.Validationf("%s is already defeated", enemy.Name)
			}
			roll := p.rollSkillDamage(actor, skill, payload)
			shieldDmg, healthDmg := battle.AbsorbShield(roll, enemy.Shield)
			healthDmg = min(healthDmg, enemy.Health)
			enemy.Shield -= shieldDmg
			enemy.Health -= healthDmg
			result.Damage = healthDmg
			result.ShieldDamage = shieldDmg
			result.TargetDefeated = enemy.Defeated()
			appendLog(sess, fmt.Sprintf("%s casts %s on %s for %d", actor.DisplayName, act.SkillID, enemy.Name, roll))
		} else if target, ok := sess.Participant(act.TargetID); ok {
			res, err := p.strikeParticipant(sess, actor, target, p.rollSkillDamage(actor, skill, payload), 0, act.SkillID)
			if err != nil {
				return result, err
			}
			result = res
		} else {
			return result, domain.Validationf("unknown target %s", act.TargetID)
		}

	case payload.Heal > 0:
		target := actor
		if act.TargetID != "" {
			t, ok := sess.Participant(act.TargetID)
			if !ok {
				return result, domain.Validationf("unknown target %s", act.TargetID)
			}
			target = t
		}
		if target.Eliminated {
			return result, domain.Validationf("%s is eliminated and cannot be healed", target.DisplayName)
		}
		r := battle.HealRange(payload.Heal, skill.Level, skill.Mastery)
		healed := min(battle.Roll(r, actor.Level, skill.Level, skill.Mastery), target.MaxHealth-target.Health)
		target.Health += healed
		result.Healing = healed
		appendLog(sess, fmt.Sprintf("%s heals %s for %d", actor.DisplayName, target.DisplayName, healed))

	case payload.ShieldDelta > 0:
		target := actor
		if act.TargetID != "" {
			t, ok := sess.Participant(act.TargetID)
			if !ok {
				return result, domain.Validationf("unknown target %s", act.TargetID)
			}
			target = t
		}
		r := battle.ShieldBoostRange(payload.ShieldDelta, skill.Level, skill.Mastery)
		gained := min(battle.Roll(r, actor.Level, skill.Level, skill.Mastery), target.MaxShield-target.Shield)
		target.Shield += gained
		result.ShieldGain = gained
		appendLog(sess, fmt.Sprintf("%s shields %s for %d", actor.DisplayName, target.DisplayName, gained))

	default:
		return result, domain.Validationf("skill payload has no effect")
	}

	skill.CooldownUntil = now.Add(time.Duration(skill.CooldownSec) * time.Second)
	return result, nil
}

func (p *ActionPipeline) applyItem(sess *domain.Session, actor *domain.Participant, act *domain.Action) (domain.ActionResult, error) {
	var result domain.ActionResult
	payload := act.Payload

	target := actor
	if act.TargetID != "" && act.TargetID != actor.ID {
		t, ok := sess.Participant(act.TargetID)
		if !ok {
			return result, domain.Validationf("unknown target %s", act.TargetID)
		}
		target = t
	}

	applied := false
	if payload.Heal > 0 && !target.Eliminated {
		healed := min(payload.Heal, target.MaxHealth-target.Health)
		target.Health += healed
		result.Healing = healed
		applied = true
	}
	if payload.ShieldDelta > 0 {
		gained := min(payload.ShieldDelta, target.MaxShield-target.Shield)
		target.Shield += gained
		result.ShieldGain = gained
		applied = true
	}
	if !applied {
		return result, domain.Validationf("item payload has no effect")
	}

	appendLog(sess, fmt.Sprintf("%s uses an item on %s", actor.DisplayName, target.DisplayName))
	return result, nil
}

// applyVault is the PvP strike: raid another participant's vault, shield
// first, stealing PP only when damage gets through.
func (p *ActionPipeline) applyVault(sess *domain.Session, actor *domain.Participant, act *domain.Action) (domain.ActionResult, error) {
	var zero domain.ActionResult

	if act.TargetID == actor.ID {
		return zero, domain.Validationf("cannot raid your own vault")
	}
	target, ok := sess.Participant(act.TargetID)
	if !ok {
		return zero, domain.Validationf("unknown target %s", act.TargetID)
	}
	if target.Eliminated {
		return zero, domain.Validationf("%s has already been eliminated", target.DisplayName)
	}

	return p.strikeParticipant(sess, actor, target, p.rollDamage(actor, act.Payload, 1), act.Payload.PPSteal, "")
}

func (p *ActionPipeline) strikeParticipant(sess *domain.Session, actor, target *domain.Participant, roll, ppSteal int, skillID string) (domain.ActionResult, error) {
	if target.Eliminated {
		return domain.ActionResult{}, domain.Validationf("%s has already been eliminated", target.DisplayName)
	}

	shieldDmg, healthDmg := battle.AbsorbShield(roll, target.Shield)
	healthDmg = min(healthDmg, target.Health)
	target.Shield -= shieldDmg
	target.Health -= healthDmg

	stolen := battle.StealPP(healthDmg, target.PP, ppSteal)
	target.PP -= stolen
	actor.PP += stolen

	result := domain.ActionResult{
		Damage:       healthDmg,
		ShieldDamage: shieldDmg,
		PPStolen:     stolen,
	}

	line := fmt.Sprintf("%s strikes %s for %d", actor.DisplayName, target.DisplayName, roll)
	if skillID != "" {
		line = fmt.Sprintf("%s casts %s on %s for %d", actor.DisplayName, skillID, target.DisplayName, roll)
	}
	if stolen > 0 {
		line += fmt.Sprintf(", stealing %d PP", stolen)
	}
	if target.Health == 0 {
		target.Eliminated = true
		target.EliminatedBy = actor.ID
		result.TargetDefeated = true
		line += fmt.Sprintf(", %s is eliminated", target.DisplayName)
	}
	appendLog(sess, line)
	return result, nil
}

func (p *ActionPipeline) applySystem(sess *domain.Session, act *domain.Action) (domain.ActionResult, error) {
	var zero domain.ActionResult

	if !canAdminister(sess, act.ActorID, p.cfg.HostOverrideID) {
		return zero, domain.Validationf("host authorization required")
	}
	target, ok := sess.Participant(act.TargetID)
	if !ok {
		return zero, domain.Validationf("participant %s is not in this session", act.TargetID)
	}

	applied := false
	if act.Payload.Participation > 0 {
		target.Participation += act.Payload.Participation
		appendLog(sess, fmt.Sprintf("%s was granted %d participation", target.DisplayName, act.Payload.Participation))
		applied = true
	}
	if act.Payload.PPDelta != 0 {
		target.PP = max(0, target.PP+act.Payload.PPDelta)
		appendLog(sess, fmt.Sprintf("%s had their PP adjusted by %+d", target.DisplayName, act.Payload.PPDelta))
		applied = true
	}
	if !applied {
		return zero, domain.Validationf("system action carries no adjustment")
	}
	return domain.ActionResult{Success: true}, nil
}

func (p *ActionPipeline) rollDamage(actor *domain.Participant, payload domain.ActionPayload, mastery int) int {
	base := payload.Damage
	if base <= 0 {
		base = 10
	}
	moveLevel := payload.MoveLevel
	if moveLevel < 1 {
		moveLevel = 1
	}
	r := battle.DamageRange(base, actor.Level, mastery)
	r = battle.ApplyModifiers(r, actor.Modifiers...)
	return battle.Roll(r, actor.Level, moveLevel, mastery)
}

func (p *ActionPipeline) rollSkillDamage(actor *domain.Participant, skill *domain.SkillState, payload domain.ActionPayload) int {
	r := battle.DamageRange(payload.Damage, actor.Level, skill.Mastery)
	r = battle.ApplyModifiers(r, actor.Modifiers...)
	return battle.Roll(r, actor.Level, skill.Level, skill.Mastery)
}
