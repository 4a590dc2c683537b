// Package battle holds the pure combat math: ranges, rolls, shield
// absorption and wave rosters. Nothing here touches the store or a clock.
package battle

import (
	"math"
	"math/rand"
)

const (
	damageSpreadLow  = 0.85
	damageSpreadHigh = 1.15
	healSpreadLow    = 0.90
	healSpreadHigh   = 1.10
	shieldSpreadLow  = 0.95
	shieldSpreadHigh = 1.05

	levelStep   = 0.10
	masteryStep = 0.05
)

// Range is an inclusive integer effect range.
type Range struct {
	Min     int `json:"min"`
	Max     int `json:"max"`
	Average int `json:"average"`
}

func scaled(base, level, mastery int) float64 {
	if base < 0 {
		base = 0
	}
	lf := 1 + levelStep*float64(max(level, 1)-1)
	mf := 1 + masteryStep*float64(max(mastery, 1)-1)
	return float64(base) * lf * mf
}

func spread(v, low, high float64) Range {
	mn := int(math.Floor(v * low))
	mx := int(math.Ceil(v * high))
	return Range{Min: mn, Max: mx, Average: (mn + mx) / 2}
}

// DamageRange computes the damage band for a move with the given base
// value, used by an actor at level with the given mastery.
func DamageRange(base, level, mastery int) Range {
	return spread(scaled(base, level, mastery), damageSpreadLow, damageSpreadHigh)
}

func HealRange(base, level, mastery int) Range {
	return spread(scaled(base, level, mastery), healSpreadLow, healSpreadHigh)
}

func ShieldBoostRange(base, level, mastery int) Range {
	return spread(scaled(base, level, mastery), shieldSpreadLow, shieldSpreadHigh)
}

// ApplyModifiers post-multiplies an already-computed range by equipment
// multipliers (artifacts, elemental rings), flooring to integers.
// Non-positive multipliers are ignored.
func ApplyModifiers(r Range, multipliers ...float64) Range {
	f := 1.0
	for _, m := range multipliers {
		if m > 0 {
			f *= m
		}
	}
	mn := int(math.Floor(float64(r.Min) * f))
	mx := int(math.Floor(float64(r.Max) * f))
	if mx < mn {
		mx = mn
	}
	return Range{Min: mn, Max: mx, Average: (mn + mx) / 2}
}

// Roll samples an integer in [r.Min, r.Max], skewed upward when the actor
// outlevels the move and by mastery above one.
func Roll(r Range, actorLevel, moveLevel, mastery int) int {
	span := r.Max - r.Min
	if span <= 0 {
		return r.Min
	}

	bias := 1.0 + 0.15*float64(actorLevel-moveLevel) + masteryStep*float64(max(mastery, 1)-1)
	if bias < 0.25 {
		bias = 0.25
	}

	u := math.Pow(rand.Float64(), 1.0/bias)
	v := r.Min + int(u*float64(span+1))
	if v > r.Max {
		v = r.Max
	}
	return v
}

// AbsorbShield splits raw damage into the part soaked by the shield and the
// part that reaches health.
func AbsorbShield(raw, shield int) (shieldDamage, healthDamage int) {
	if raw < 0 {
		raw = 0
	}
	if shield < 0 {
		shield = 0
	}
	shieldDamage = min(raw, shield)
	return shieldDamage, raw - shieldDamage
}

// StealPP caps a PP steal at the defender's balance. Stealing only triggers
// when damage actually got through the shield.
func StealPP(healthDamage, defenderPP, want int) int {
	if healthDamage <= 0 || want <= 0 || defenderPP <= 0 {
		return 0
	}
	return min(want, defenderPP)
}
