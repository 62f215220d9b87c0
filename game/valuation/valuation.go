// Package valuation holds the pure credit and boost formulas shared by
// recycling and merging.
package valuation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Excalium-OG/DeckForge/config"
	"github.com/Excalium-OG/DeckForge/game/gameerr"
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// Table prices cards by rarity and merge level.
type Table struct {
	recycleBase map[string]decimal.Decimal
	mergeBase   map[string]decimal.Decimal
	scaling     decimal.Decimal
	names       []string
}

// New builds a Table from the economy config. Rarity names are matched
// case-insensitively.
func New(cfg config.EconomyConfig) *Table {
	values := cfg.BaseValues
	if len(values) == 0 {
		values = config.DefaultBaseValues
	}
	scaling := cfg.ScalingFactor
	if scaling <= 0 {
		scaling = 1.25
	}
	t := &Table{
		recycleBase: make(map[string]decimal.Decimal, len(values)),
		mergeBase:   make(map[string]decimal.Decimal, len(values)),
		scaling:     decimal.NewFromFloat(scaling),
	}
	for name, v := range values {
		key := strings.ToLower(name)
		t.recycleBase[key] = decimal.NewFromFloat(v)
		t.mergeBase[key] = decimal.NewFromFloat(v)
		t.names = append(t.names, key)
	}
	sort.Strings(t.names)
	return t
}

// Rarities returns the known rarity keys in lower case.
func (t *Table) Rarities() []string {
	return append([]string(nil), t.names...)
}

// RecycleValue returns V0(rarity) · scaling^level, rounded to cents.
func (t *Table) RecycleValue(rarity string, level int) (decimal.Decimal, error) {
	base, ok := t.recycleBase[strings.ToLower(rarity)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", gameerr.ErrUnknownRarity, rarity)
	}
	return Round2(base.Mul(t.curve(level))), nil
}

// MergeCost returns C0(rarity) · scaling^level, rounded to cents. It follows
// the same curve as RecycleValue so recycling a merged card returns what was
// paid to build it.
func (t *Table) MergeCost(rarity string, level int) (decimal.Decimal, error) {
	base, ok := t.mergeBase[strings.ToLower(rarity)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", gameerr.ErrUnknownRarity, rarity)
	}
	return Round2(base.Mul(t.curve(level))), nil
}

// curve is scaling^level computed by repeated multiplication so the result
// stays exact.
func (t *Table) curve(level int) decimal.Decimal {
	r := one
	for i := 0; i < level; i++ {
		r = r.Mul(t.scaling)
	}
	return r
}

// PerkBoost is the percentage granted at level L: P0 · d^(L-1).
// Levels below 1 grant nothing.
func PerkBoost(p0, d decimal.Decimal, level int) decimal.Decimal {
	if level < 1 {
		return decimal.Zero
	}
	r := p0
	for i := 1; i < level; i++ {
		r = r.Mul(d)
	}
	return r
}

// CumulativePerkBoost sums PerkBoost over levels 1..L.
func CumulativePerkBoost(p0, d decimal.Decimal, level int) decimal.Decimal {
	sum := decimal.Zero
	step := p0
	for l := 1; l <= level; l++ {
		sum = sum.Add(step)
		step = step.Mul(d)
	}
	return sum
}

// EffectiveValue applies a cumulative percentage to an unboosted base.
func EffectiveValue(base, cumulativePercent decimal.Decimal) decimal.Decimal {
	return Round2(base.Mul(one.Add(cumulativePercent.Div(hundred))))
}

// RequiredBaseCards is the number of level-0 cards consumed to reach level.
func RequiredBaseCards(level int) int64 {
	if level <= 0 {
		return 1
	}
	return int64(1) << uint(level)
}

// Round2 rounds to two decimal places, halves away from zero.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
