package domain

import (
	"time"
)

type Status string

const (
	StatusLobby          Status = "lobby"
	StatusActive         Status = "active"
	StatusWaveTransition Status = "wave_transition"
	StatusVictory        Status = "victory"
	StatusDefeated       Status = "defeated"
	StatusEnded          Status = "ended"
)

// Terminal reports whether no further combat can happen in this status.
func (s Status) Terminal() bool {
	return s == StatusVictory || s == StatusDefeated || s == StatusEnded
}

type Role string

const (
	RolePlayer Role = "player"
	RoleHost   Role = "host"
)

type Difficulty string

const (
	DifficultyEasy      Difficulty = "easy"
	DifficultyNormal    Difficulty = "normal"
	DifficultyHard      Difficulty = "hard"
	DifficultyNightmare Difficulty = "nightmare"
)

func ParseDifficulty(s string) Difficulty {
	switch Difficulty(s) {
	case DifficultyEasy, DifficultyNormal, DifficultyHard, DifficultyNightmare:
		return Difficulty(s)
	}
	return DifficultyNormal
}

type EnemyKind string

const (
	EnemyTrash EnemyKind = "trash"
	EnemyElite EnemyKind = "elite"
	EnemyBoss  EnemyKind = "boss"
)

type ActionType string

const (
	ActionAttack ActionType = "ATTACK"
	ActionSkill  ActionType = "SKILL"
	ActionItem   ActionType = "ITEM"
	ActionVault  ActionType = "VAULT"
	ActionSystem ActionType = "SYSTEM"
)

func (t ActionType) Valid() bool {
	switch t {
	case ActionAttack, ActionSkill, ActionItem, ActionVault, ActionSystem:
		return true
	}
	return false
}

// HostPrivileged reports whether the type requires host authorization
// instead of the move-economy gate.
func (t ActionType) HostPrivileged() bool {
	return t == ActionSystem
}

// Session is the single authoritative document for one battle. All writers
// go through the store's transactional update; nothing mutates it in place
// outside that path.
type Session struct {
	ID           string                       `json:"id"`
	ClassID      string                       `json:"class_id"`
	Status       Status                       `json:"status"`
	Difficulty   Difficulty                   `json:"difficulty"`
	Wave         int                          `json:"wave"`
	MaxWaves     int                          `json:"max_waves"`
	HostID       string                       `json:"host_id"`
	Participants map[string]*Participant      `json:"participants"`
	Enemies      map[string]*Enemy            `json:"enemies"`
	Stats        map[string]*ParticipantStats `json:"stats"`
	BattleLog    []string                     `json:"battle_log"`
	StartedAt    time.Time                    `json:"started_at"`
	EndedAt      *time.Time                   `json:"ended_at,omitempty"`
	UpdatedAt    time.Time                    `json:"updated_at"`
}

func (s *Session) Participant(id string) (*Participant, bool) {
	p, ok := s.Participants[id]
	return p, ok
}

func (s *Session) Enemy(id string) (*Enemy, bool) {
	e, ok := s.Enemies[id]
	return e, ok
}

// WaveCleared reports whether every enemy belonging to the current wave is
// down. Defeated enemies stay in the map so late subscribers can still
// resolve references.
func (s *Session) WaveCleared() bool {
	seen := false
	for _, e := range s.Enemies {
		if e.WaveNumber != s.Wave {
			continue
		}
		seen = true
		if !e.Defeated() {
			return false
		}
	}
	return seen
}

// AllEliminated reports whether every participant is out of the fight.
func (s *Session) AllEliminated() bool {
	if len(s.Participants) == 0 {
		return false
	}
	for _, p := range s.Participants {
		if !p.Eliminated && p.Health > 0 {
			return false
		}
	}
	return true
}

type Participant struct {
	ID            string                 `json:"id"`
	DisplayName   string                 `json:"display_name"`
	AvatarURL     string                 `json:"avatar_url,omitempty"`
	Role          Role                   `json:"role"`
	Level         int                    `json:"level"`
	Health        int                    `json:"health"`
	MaxHealth     int                    `json:"max_health"`
	Shield        int                    `json:"shield"`
	MaxShield     int                    `json:"max_shield"`
	PP            int                    `json:"pp"`
	Participation int                    `json:"participation"`
	MovesUsed     int                    `json:"moves_used"`
	Eliminated    bool                   `json:"eliminated"`
	EliminatedBy  string                 `json:"eliminated_by,omitempty"`
	Modifiers     []float64              `json:"modifiers,omitempty"`
	Skills        map[string]*SkillState `json:"skills,omitempty"`
	JoinedAt      time.Time              `json:"joined_at"`
}

// MovesEarned is the participation economy balance: one move per
// participation point, one consumed per resolved action. Never negative.
func (p *Participant) MovesEarned() int {
	n := p.Participation - p.MovesUsed
	if n < 0 {
		return 0
	}
	return n
}

type SkillState struct {
	Level         int       `json:"level"`
	Mastery       int       `json:"mastery"`
	CooldownSec   int       `json:"cooldown_sec"`
	CooldownUntil time.Time `json:"cooldown_until"`
}

func (s *SkillState) OnCooldown(now time.Time) bool {
	return now.Before(s.CooldownUntil)
}

type Enemy struct {
	ID         string    `json:"id"`
	Kind       EnemyKind `json:"kind"`
	Name       string    `json:"name"`
	Health     int       `json:"health"`
	MaxHealth  int       `json:"max_health"`
	Shield     int       `json:"shield"`
	MaxShield  int       `json:"max_shield"`
	Level      int       `json:"level"`
	BaseDamage int       `json:"base_damage"`
	WaveNumber int       `json:"wave_number"`
	ImageURL   string    `json:"image_url,omitempty"`
}

func (e *Enemy) Defeated() bool {
	return e.Health <= 0
}

// ActionPayload is opaque to the transport; only these fields are
// interpreted during resolution.
type ActionPayload struct {
	Damage        int `json:"damage,omitempty"`
	Heal          int `json:"heal,omitempty"`
	ShieldDelta   int `json:"shield_delta,omitempty"`
	PPCost        int `json:"pp_cost,omitempty"`
	PPSteal       int `json:"pp_steal,omitempty"`
	PPDelta       int `json:"pp_delta,omitempty"`
	Participation int `json:"participation,omitempty"`
	MoveLevel     int `json:"move_level,omitempty"`
}

// Action is an intent plus, once resolved, an immutable audit record.
type Action struct {
	ID         string        `json:"id"`
	SessionID  string        `json:"session_id"`
	Type       ActionType    `json:"type"`
	ActorID    string        `json:"actor_id"`
	TargetID   string        `json:"target_id,omitempty"`
	SkillID    string        `json:"skill_id,omitempty"`
	Payload    ActionPayload `json:"payload"`
	Nonce      string        `json:"nonce"`
	CreatedAt  time.Time     `json:"created_at"`
	Resolved   bool          `json:"resolved"`
	ResolvedBy string        `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
	Result     *ActionResult `json:"result,omitempty"`
}

type ActionResult struct {
	Success        bool   `json:"success"`
	Reason         string `json:"reason,omitempty"`
	Damage         int    `json:"damage,omitempty"`
	ShieldDamage   int    `json:"shield_damage,omitempty"`
	Healing        int    `json:"healing,omitempty"`
	ShieldGain     int    `json:"shield_gain,omitempty"`
	PPStolen       int    `json:"pp_stolen,omitempty"`
	PPSpent        int    `json:"pp_spent,omitempty"`
	TargetDefeated bool   `json:"target_defeated,omitempty"`
}

type PresenceRecord struct {
	ParticipantID string    `json:"participant_id"`
	Connected     bool      `json:"connected"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	JoinedAt      time.Time `json:"joined_at"`
}

type ParticipantStats struct {
	ParticipantID       string                 `json:"participant_id"`
	DisplayName         string                 `json:"display_name"`
	StartingPP          int                    `json:"starting_pp"`
	EndingPP            int                    `json:"ending_pp"`
	PPSpent             int                    `json:"pp_spent"`
	ParticipationEarned int                    `json:"participation_earned"`
	MovesUsed           int                    `json:"moves_used"`
	Eliminations        int                    `json:"eliminations"`
	EliminatedBy        string                 `json:"eliminated_by,omitempty"`
	DamageDealt         int                    `json:"damage_dealt"`
	DamageTaken         int                    `json:"damage_taken"`
	HealingGiven        int                    `json:"healing_given"`
	HealingReceived     int                    `json:"healing_received"`
	Skills              map[string]*SkillUsage `json:"skills,omitempty"`
	Badges              []string               `json:"badges,omitempty"`
}

func (s *ParticipantStats) NetPP() int {
	return s.EndingPP - s.StartingPP
}

type SkillUsage struct {
	Uses    int `json:"uses"`
	Damage  int `json:"damage"`
	Healing int `json:"healing"`
}

const (
	BadgeMostEliminations  = "most_eliminations"
	BadgeMostParticipation = "most_participation"
	BadgeMostNetPP         = "most_net_pp"
)

// SessionSummary is the frozen end-of-session report, persisted exactly once.
type SessionSummary struct {
	SessionID    string                       `json:"session_id"`
	ClassID      string                       `json:"class_id"`
	Status       Status                       `json:"status"`
	Difficulty   Difficulty                   `json:"difficulty"`
	Wave         int                          `json:"wave"`
	MaxWaves     int                          `json:"max_waves"`
	StartedAt    time.Time                    `json:"started_at"`
	EndedAt      time.Time                    `json:"ended_at"`
	DurationMS   int64                        `json:"duration_ms"`
	Participants map[string]*ParticipantStats `json:"participants"`
	CreatedAt    time.Time                    `json:"created_at"`
}
