package battle

import (
	"fmt"
	"math"

	"battle-session/internal/domain"
)

// FinalWave is the last tabled wave; clearing it wins the session when
// max-waves matches the table.
const FinalWave = 5

// Multiplier returns the stat scale for a difficulty tier.
func Multiplier(d domain.Difficulty) float64 {
	switch d {
	case domain.DifficultyEasy:
		return 0.8
	case domain.DifficultyHard:
		return 1.5
	case domain.DifficultyNightmare:
		return 2.0
	default:
		return 1.0
	}
}

type composition struct {
	trash, elite, boss int
}

// Tabled rosters for waves 1..FinalWave. Indices past the table fall back
// to generic scaling in fallbackComposition.
var waveTable = [FinalWave + 1]composition{
	1: {trash: 3},
	2: {trash: 4},
	3: {trash: 3, elite: 1},
	4: {trash: 2, elite: 2},
	5: {trash: 1, elite: 1, boss: 1},
}

func fallbackComposition(waveIndex int) composition {
	return composition{
		trash: waveIndex - 1,
		elite: 1 + (waveIndex-FinalWave)/2,
		boss:  1,
	}
}

func compositionFor(waveIndex int, d domain.Difficulty) composition {
	var c composition
	if waveIndex <= FinalWave {
		c = waveTable[waveIndex]
	} else {
		c = fallbackComposition(waveIndex)
	}
	switch d {
	case domain.DifficultyEasy:
		if c.trash > 1 {
			c.trash--
		}
	case domain.DifficultyNightmare:
		c.trash++
	}
	return c
}

type baseStats struct {
	health, shield, damage int
	levelBonus             int
}

var kindStats = map[domain.EnemyKind]baseStats{
	domain.EnemyTrash: {health: 60, shield: 0, damage: 8, levelBonus: 0},
	domain.EnemyElite: {health: 150, shield: 40, damage: 15, levelBonus: 1},
	domain.EnemyBoss:  {health: 400, shield: 100, damage: 25, levelBonus: 2},
}

var enemyNames = map[domain.EnemyKind][]string{
	domain.EnemyTrash: {"Ink Sprite", "Chalk Gremlin", "Paper Wisp", "Dust Imp", "Eraser Fiend"},
	domain.EnemyElite: {"Grammar Golem", "Quiz Wraith", "Deadline Stalker", "Red Pen Reaper"},
	domain.EnemyBoss:  {"The Proctor", "Final Examiner", "Archivist Prime"},
}

// Generate builds the enemy roster for a wave. Pure: identical arguments
// always yield enemies with identical stats. Spawn positions are a client
// concern and intentionally absent.
func Generate(waveIndex int, d domain.Difficulty) []domain.Enemy {
	if waveIndex < 1 {
		waveIndex = 1
	}

	// Stats grow with the wave on top of the difficulty multiplier.
	m := Multiplier(d) * (1 + 0.25*float64(waveIndex-1))
	comp := compositionFor(waveIndex, d)

	var enemies []domain.Enemy
	spawn := func(kind domain.EnemyKind, count int) {
		base := kindStats[kind]
		names := enemyNames[kind]
		for i := 0; i < count; i++ {
			health := int(math.Round(float64(base.health) * m))
			shield := int(math.Round(float64(base.shield) * m))
			damage := int(math.Round(float64(base.damage) * m))
			enemies = append(enemies, domain.Enemy{
				ID:         fmt.Sprintf("w%d-%s-%d", waveIndex, kind, i+1),
				Kind:       kind,
				Name:       names[(waveIndex+i)%len(names)],
				Health:     health,
				MaxHealth:  health,
				Shield:     shield,
				MaxShield:  shield,
				Level:      waveIndex + base.levelBonus,
				BaseDamage: damage,
				WaveNumber: waveIndex,
			})
		}
	}

	spawn(domain.EnemyTrash, comp.trash)
	spawn(domain.EnemyElite, comp.elite)
	spawn(domain.EnemyBoss, comp.boss)
	return enemies
}
