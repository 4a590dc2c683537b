package service

import (
	"context"
	"testing"
	"time"

	"battle-session/internal/domain"

	"github.com/rs/zerolog"
)

func TestAccumulateFoldsActorAndTarget(t *testing.T) {
	agg := NewStatsAggregator(newFakeSummaryStore(), zerolog.Nop())

	sess := &domain.Session{
		ID: "s1",
		Participants: map[string]*domain.Participant{
			"alice": {ID: "alice", DisplayName: "alice", PP: 30},
			"bob":   {ID: "bob", DisplayName: "bob", PP: 10},
		},
		Stats: map[string]*domain.ParticipantStats{},
	}
	SeedStats(sess, sess.Participants["alice"])
	SeedStats(sess, sess.Participants["bob"])

	act := &domain.Action{
		Type:    domain.ActionVault,
		ActorID: "alice", TargetID: "bob",
	}
	res := &domain.ActionResult{
		Success: true,
		Damage:  12, ShieldDamage: 5,
		PPStolen: 4, PPSpent: 2,
		TargetDefeated: true,
	}
	// Mirror what the pipeline did to the live records before folding.
	sess.Participants["alice"].PP += 4 - 2
	sess.Participants["alice"].MovesUsed = 1
	sess.Participants["bob"].PP -= 4
	agg.Accumulate(sess, act, res)

	alice := sess.Stats["alice"]
	if alice.DamageDealt != 17 {
		t.Errorf("DamageDealt = %d, want 17", alice.DamageDealt)
	}
	if alice.Eliminations != 1 {
		t.Errorf("Eliminations = %d, want 1", alice.Eliminations)
	}
	if alice.PPSpent != 2 {
		t.Errorf("PPSpent = %d, want 2", alice.PPSpent)
	}
	if alice.EndingPP != 32 || alice.NetPP() != 2 {
		t.Errorf("EndingPP = %d NetPP = %d, want 32 and 2", alice.EndingPP, alice.NetPP())
	}
	if alice.MovesUsed != 1 {
		t.Errorf("MovesUsed = %d, want 1", alice.MovesUsed)
	}

	bob := sess.Stats["bob"]
	if bob.DamageTaken != 17 {
		t.Errorf("DamageTaken = %d, want 17", bob.DamageTaken)
	}
	if bob.EliminatedBy != "alice" {
		t.Errorf("EliminatedBy = %q, want alice", bob.EliminatedBy)
	}
	if bob.NetPP() != -4 {
		t.Errorf("bob NetPP = %d, want -4", bob.NetPP())
	}
}

func TestAccumulateIgnoresFailures(t *testing.T) {
	agg := NewStatsAggregator(newFakeSummaryStore(), zerolog.Nop())

	sess := &domain.Session{
		ID: "s1",
		Participants: map[string]*domain.Participant{
			"alice": {ID: "alice", DisplayName: "alice"},
		},
		Stats: map[string]*domain.ParticipantStats{},
	}
	SeedStats(sess, sess.Participants["alice"])

	agg.Accumulate(sess,
		&domain.Action{Type: domain.ActionAttack, ActorID: "alice"},
		&domain.ActionResult{Success: false, Damage: 99})

	if sess.Stats["alice"].DamageDealt != 0 {
		t.Errorf("rejected action must not count, got %d", sess.Stats["alice"].DamageDealt)
	}
}

func TestFinalizeAwardsBadges(t *testing.T) {
	store := newFakeSummaryStore()
	agg := NewStatsAggregator(store, zerolog.Nop())

	started := time.Now().Add(-10 * time.Minute)
	ended := time.Now()
	sess := &domain.Session{
		ID:         "s1",
		Status:     domain.StatusVictory,
		Difficulty: domain.DifficultyNormal,
		Wave:       5,
		MaxWaves:   5,
		StartedAt:  started,
		EndedAt:    &ended,
		Stats: map[string]*domain.ParticipantStats{
			"alice": {ParticipantID: "alice", Eliminations: 2, StartingPP: 100, EndingPP: 400},
			"bob":   {ParticipantID: "bob", Eliminations: 0, StartingPP: 100, EndingPP: 150, ParticipationEarned: 7},
		},
	}

	sum, err := agg.Finalize(context.Background(), sess)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	hasBadge := func(id, badge string) bool {
		for _, b := range sum.Participants[id].Badges {
			if b == badge {
				return true
			}
		}
		return false
	}
	if !hasBadge("alice", domain.BadgeMostEliminations) {
		t.Error("alice should take most_eliminations")
	}
	if !hasBadge("alice", domain.BadgeMostNetPP) {
		t.Error("alice should take most_net_pp on +300 over +50")
	}
	if !hasBadge("bob", domain.BadgeMostParticipation) {
		t.Error("bob should take most_participation")
	}
	if hasBadge("bob", domain.BadgeMostEliminations) {
		t.Error("zero eliminations earns no badge")
	}

	if sum.DurationMS < 9*60*1000 {
		t.Errorf("DurationMS = %d, want about ten minutes", sum.DurationMS)
	}

	// The live stats map keeps no badges; they exist only in the summary.
	if len(sess.Stats["alice"].Badges) != 0 {
		t.Error("finalize must not write badges back into the session")
	}
}

func TestFinalizeSkipsBadgesWhenNobodyScores(t *testing.T) {
	agg := NewStatsAggregator(newFakeSummaryStore(), zerolog.Nop())

	sess := &domain.Session{
		ID:        "s1",
		Status:    domain.StatusDefeated,
		StartedAt: time.Now(),
		Stats: map[string]*domain.ParticipantStats{
			"alice": {ParticipantID: "alice", StartingPP: 50, EndingPP: 50},
		},
	}
	sum, err := agg.Finalize(context.Background(), sess)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if got := len(sum.Participants["alice"].Badges); got != 0 {
		t.Errorf("badges = %d, want none with all-zero metrics", got)
	}
}

func TestBadgeTiesBreakDeterministically(t *testing.T) {
	stats := map[string]*domain.ParticipantStats{
		"zed":   {ParticipantID: "zed", Eliminations: 3},
		"alice": {ParticipantID: "alice", Eliminations: 3},
	}
	assignBadges(stats)

	if len(stats["alice"].Badges) != 1 {
		t.Error("tie should resolve to the lexicographically first id")
	}
	if len(stats["zed"].Badges) != 0 {
		t.Error("only one participant may hold a badge")
	}
}

func TestSummaryIsWriteOnce(t *testing.T) {
	store := newFakeSummaryStore()
	agg := NewStatsAggregator(store, zerolog.Nop())

	sess := &domain.Session{
		ID:        "s1",
		Status:    domain.StatusVictory,
		StartedAt: time.Now(),
		Stats: map[string]*domain.ParticipantStats{
			"alice": {ParticipantID: "alice", Eliminations: 1},
		},
	}
	if _, err := agg.Finalize(context.Background(), sess); err != nil {
		t.Fatalf("first finalize: %v", err)
	}

	sess.Stats["alice"].Eliminations = 99
	if _, err := agg.Finalize(context.Background(), sess); err != nil {
		t.Fatalf("second finalize: %v", err)
	}

	sum, err := agg.Summary(context.Background(), "s1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Participants["alice"].Eliminations != 1 {
		t.Errorf("stored summary mutated: Eliminations = %d, want 1", sum.Participants["alice"].Eliminations)
	}
}
