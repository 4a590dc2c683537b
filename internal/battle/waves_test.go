package battle

import (
	"reflect"
	"testing"

	"battle-session/internal/domain"
)

func TestGenerateDeterministic(t *testing.T) {
	for wave := 1; wave <= 8; wave++ {
		a := Generate(wave, domain.DifficultyHard)
		b := Generate(wave, domain.DifficultyHard)
		if !reflect.DeepEqual(a, b) {
			t.Fatalf("wave %d not deterministic", wave)
		}
	}
}

func TestGenerateTableCounts(t *testing.T) {
	cases := []struct {
		wave int
		want int
	}{
		{1, 3},
		{2, 4},
		{3, 4},
		{4, 4},
		{5, 3},
	}
	for _, tc := range cases {
		got := Generate(tc.wave, domain.DifficultyNormal)
		if len(got) != tc.want {
			t.Fatalf("wave %d: got %d enemies, want %d", tc.wave, len(got), tc.want)
		}
	}
}

func TestGenerateFinalWaveHasBoss(t *testing.T) {
	enemies := Generate(FinalWave, domain.DifficultyNormal)
	found := false
	for _, e := range enemies {
		if e.Kind == domain.EnemyBoss {
			found = true
		}
	}
	if !found {
		t.Fatal("final wave roster has no boss")
	}
}

func TestGenerateDifficultyScaling(t *testing.T) {
	easy := Generate(1, domain.DifficultyEasy)
	nightmare := Generate(1, domain.DifficultyNightmare)
	if easy[0].Health >= nightmare[0].Health {
		t.Fatalf("easy trash health %d should be below nightmare %d", easy[0].Health, nightmare[0].Health)
	}
	if easy[0].BaseDamage >= nightmare[0].BaseDamage {
		t.Fatalf("easy trash damage %d should be below nightmare %d", easy[0].BaseDamage, nightmare[0].BaseDamage)
	}
}

func TestGenerateFallbackGrowsMonotonically(t *testing.T) {
	prevCount := len(Generate(FinalWave, domain.DifficultyNormal))
	prevHealth := maxHealth(Generate(FinalWave, domain.DifficultyNormal))
	for wave := FinalWave + 1; wave <= FinalWave + 4; wave++ {
		enemies := Generate(wave, domain.DifficultyNormal)
		if len(enemies) < prevCount {
			t.Fatalf("wave %d count %d shrank below %d", wave, len(enemies), prevCount)
		}
		if h := maxHealth(enemies); h <= prevHealth {
			t.Fatalf("wave %d max health %d did not grow past %d", wave, h, prevHealth)
		} else {
			prevHealth = h
		}
		prevCount = len(enemies)
	}
}

func TestGenerateStampsWaveNumber(t *testing.T) {
	for _, e := range Generate(3, domain.DifficultyNormal) {
		if e.WaveNumber != 3 {
			t.Fatalf("enemy %s stamped with wave %d", e.ID, e.WaveNumber)
		}
		if e.Health != e.MaxHealth || e.Shield != e.MaxShield {
			t.Fatalf("enemy %s should spawn at full health and shield", e.ID)
		}
	}
}

func maxHealth(enemies []domain.Enemy) int {
	m := 0
	for _, e := range enemies {
		if e.MaxHealth > m {
			m = e.MaxHealth
		}
	}
	return m
}
