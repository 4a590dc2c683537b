package service

import (
	"context"
	"sort"
	"time"

	"battle-session/internal/domain"

	"github.com/rs/zerolog"
)

// SummaryStore persists the final report. Write-once semantics live in the
// implementation; the aggregator never recomputes a stored summary.
type SummaryStore interface {
	Save(ctx context.Context, sum *domain.SessionSummary) error
	Get(ctx context.Context, sessionID string) (*domain.SessionSummary, error)
}

// StatsAggregator folds every resolved action into the per-participant
// running totals kept inside the session document, so stats commit in the
// same transaction as the effect they describe.
type StatsAggregator struct {
	summaries SummaryStore
	logger    zerolog.Logger
}

func NewStatsAggregator(summaries SummaryStore, logger zerolog.Logger) *StatsAggregator {
	return &StatsAggregator{summaries: summaries, logger: logger}
}

// SeedStats creates the running-total entry for a participant who just
// joined, capturing their starting PP.
func SeedStats(sess *domain.Session, p *domain.Participant) {
	if sess.Stats == nil {
		sess.Stats = make(map[string]*domain.ParticipantStats)
	}
	if _, ok := sess.Stats[p.ID]; ok {
		return
	}
	sess.Stats[p.ID] = &domain.ParticipantStats{
		ParticipantID: p.ID,
		DisplayName:   p.DisplayName,
		StartingPP:    p.PP,
		EndingPP:      p.PP,
	}
}

func statsFor(sess *domain.Session, id string) *domain.ParticipantStats {
	if p, ok := sess.Participant(id); ok {
		SeedStats(sess, p)
	}
	return sess.Stats[id]
}

// Accumulate applies one resolved action's delta to the stats map. Callers
// invoke it inside the same transactional update that mutated the state, so
// a conflict retry replays both together and nothing double-counts.
func (a *StatsAggregator) Accumulate(sess *domain.Session, act *domain.Action, res *domain.ActionResult) {
	if !res.Success {
		return
	}

	actor := statsFor(sess, act.ActorID)
	if actor != nil {
		actor.DamageDealt += res.Damage + res.ShieldDamage
		actor.HealingGiven += res.Healing
		actor.PPSpent += res.PPSpent
		if res.TargetDefeated {
			actor.Eliminations++
		}
		if act.Type == domain.ActionSkill && act.SkillID != "" {
			if actor.Skills == nil {
				actor.Skills = make(map[string]*domain.SkillUsage)
			}
			usage := actor.Skills[act.SkillID]
			if usage == nil {
				usage = &domain.SkillUsage{}
				actor.Skills[act.SkillID] = usage
			}
			usage.Uses++
			usage.Damage += res.Damage + res.ShieldDamage
			usage.Healing += res.Healing
		}
	}

	if target := statsFor(sess, act.TargetID); target != nil && act.TargetID != act.ActorID {
		target.DamageTaken += res.Damage + res.ShieldDamage
		target.HealingReceived += res.Healing
		if res.TargetDefeated {
			target.EliminatedBy = act.ActorID
		}
	}

	if act.Type == domain.ActionSystem {
		if target := statsFor(sess, act.TargetID); target != nil {
			target.ParticipationEarned += act.Payload.Participation
		}
	}

	// Snapshot-derived fields refreshed from the live participant records.
	for id, st := range sess.Stats {
		if p, ok := sess.Participant(id); ok {
			st.EndingPP = p.PP
			st.MovesUsed = p.MovesUsed
		}
	}
}

// Finalize freezes the stats map into a SessionSummary, computes badges by
// max reduction and persists the result exactly once.
func (a *StatsAggregator) Finalize(ctx context.Context, sess *domain.Session) (*domain.SessionSummary, error) {
	endedAt := time.Now()
	if sess.EndedAt != nil {
		endedAt = *sess.EndedAt
	}

	participants := make(map[string]*domain.ParticipantStats, len(sess.Stats))
	for id, st := range sess.Stats {
		cp := *st
		cp.Badges = nil
		participants[id] = &cp
	}
	assignBadges(participants)

	sum := &domain.SessionSummary{
		SessionID:    sess.ID,
		ClassID:      sess.ClassID,
		Status:       sess.Status,
		Difficulty:   sess.Difficulty,
		Wave:         sess.Wave,
		MaxWaves:     sess.MaxWaves,
		StartedAt:    sess.StartedAt,
		EndedAt:      endedAt,
		DurationMS:   endedAt.Sub(sess.StartedAt).Milliseconds(),
		Participants: participants,
		CreatedAt:    time.Now(),
	}

	if err := a.summaries.Save(ctx, sum); err != nil {
		return nil, err
	}

	a.logger.Info().
		Str("session_id", sess.ID).
		Int("participants", len(participants)).
		Int64("duration_ms", sum.DurationMS).
		Msg("session summary persisted")
	return sum, nil
}

func (a *StatsAggregator) Summary(ctx context.Context, sessionID string) (*domain.SessionSummary, error) {
	return a.summaries.Get(ctx, sessionID)
}

func assignBadges(stats map[string]*domain.ParticipantStats) {
	award(stats, domain.BadgeMostEliminations, func(s *domain.ParticipantStats) int { return s.Eliminations })
	award(stats, domain.BadgeMostParticipation, func(s *domain.ParticipantStats) int { return s.ParticipationEarned })
	award(stats, domain.BadgeMostNetPP, func(s *domain.ParticipantStats) int { return s.NetPP() })
}

// award gives badge to the participant with the highest positive metric.
// Ties break on participant id so reruns stay deterministic.
func award(stats map[string]*domain.ParticipantStats, badge string, metric func(*domain.ParticipantStats) int) {
	ids := make([]string, 0, len(stats))
	for id := range stats {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	best := ""
	bestVal := 0
	for _, id := range ids {
		if v := metric(stats[id]); v > bestVal {
			best, bestVal = id, v
		}
	}
	if best != "" {
		stats[best].Badges = append(stats[best].Badges, badge)
	}
}
