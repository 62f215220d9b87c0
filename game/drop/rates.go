// Package drop opens card packs: weighted rarity draws over a deck's drop
// rates, then a uniform pick among the deck's cards of that rarity.
package drop

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/Excalium-OG/DeckForge/game/gameerr"
	"github.com/shopspring/decimal"
)

var (
	hundred   = decimal.NewFromInt(100)
	tolerance = decimal.RequireFromString("0.01")
)

// Rates maps a lower-case rarity to its percentage chance.
type Rates map[string]decimal.Decimal

// NewRates lower-cases rarity names. Later duplicates differing only in
// case overwrite earlier ones.
func NewRates(in map[string]decimal.Decimal) Rates {
	out := make(Rates, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}

// RatesFromFloats converts configured float percentages.
func RatesFromFloats(in map[string]float64) Rates {
	out := make(Rates, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = decimal.NewFromFloat(v)
	}
	return out
}

// Total sums every percentage.
func (r Rates) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, v := range r {
		sum = sum.Add(v)
	}
	return sum
}

// Validate checks that every rarity in rarities has a rate, each rate lies
// in [0, 100], no unknown rarity is named and the total is 100 within 0.01.
// An empty rarities list skips the coverage checks.
func Validate(r Rates, rarities []string) error {
	if len(r) == 0 {
		return fmt.Errorf("%w: no rates", gameerr.ErrInvalidDropRates)
	}
	if len(rarities) > 0 {
		known := make(map[string]bool, len(rarities))
		for _, name := range rarities {
			key := strings.ToLower(name)
			known[key] = true
			if _, ok := r[key]; !ok {
				return fmt.Errorf("%w: missing rarity %s", gameerr.ErrInvalidDropRates, name)
			}
		}
		for key := range r {
			if !known[key] {
				return fmt.Errorf("%w: unknown rarity %s", gameerr.ErrInvalidDropRates, key)
			}
		}
	}
	for _, key := range r.keys() {
		v := r[key]
		if v.IsNegative() || v.GreaterThan(hundred) {
			return fmt.Errorf("%w: %s is %s%%, must be within 0-100", gameerr.ErrInvalidDropRates, key, v)
		}
	}
	if total := r.Total(); total.Sub(hundred).Abs().GreaterThan(tolerance) {
		return fmt.Errorf("%w: total is %s%%, must equal 100%%", gameerr.ErrInvalidDropRates, total)
	}
	return nil
}

// Normalize scales the rates to sum to exactly 100. A zero total yields
// nil.
func (r Rates) Normalize() Rates {
	total := r.Total()
	if !total.IsPositive() {
		return nil
	}
	out := make(Rates, len(r))
	for k, v := range r {
		out[k] = v.Mul(hundred).Div(total)
	}
	return out
}

func (r Rates) keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// pick draws a rarity with probability proportional to its rate. Keys are
// visited in sorted order so a seeded source is reproducible.
func (r Rates) pick(rng *rand.Rand) (string, bool) {
	keys := r.keys()
	total := 0.0
	weights := make([]float64, len(keys))
	for i, k := range keys {
		w := r[k].InexactFloat64()
		if w < 0 {
			w = 0
		}
		weights[i] = w
		total += w
	}
	if total <= 0 {
		return "", false
	}
	x := rng.Float64() * total
	for i, w := range weights {
		if x < w {
			return keys[i], true
		}
		x -= w
	}
	// rounding left x at the upper edge; take the last weighted key
	for i := len(keys) - 1; i >= 0; i-- {
		if weights[i] > 0 {
			return keys[i], true
		}
	}
	return "", false
}

// ---- Pack types ----

// PackType names a kind of card pack.
type PackType string

const (
	PackNormal      PackType = "Normal Pack"
	PackBooster     PackType = "Booster Pack"
	PackBoosterPlus PackType = "Booster Pack+"
)

// PackTypes lists every pack type.
var PackTypes = []PackType{PackNormal, PackBooster, PackBoosterPlus}

var packAliases = map[string]PackType{
	"normal":         PackNormal,
	"normal pack":    PackNormal,
	"booster":        PackBooster,
	"booster pack":   PackBooster,
	"booster+":       PackBoosterPlus,
	"booster +":      PackBoosterPlus,
	"booster pack+":  PackBoosterPlus,
	"booster pack +": PackBoosterPlus,
}

// ParsePackType accepts a pack name or short alias in any case. An empty
// name means a normal pack.
func ParsePackType(s string) (PackType, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "" {
		return PackNormal, nil
	}
	if p, ok := packAliases[key]; ok {
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", gameerr.ErrInvalidPackType, s)
}

// Multiplier is the factor applied to boosted rarities.
func (p PackType) Multiplier() decimal.Decimal {
	switch p {
	case PackBooster:
		return decimal.NewFromInt(2)
	case PackBoosterPlus:
		return decimal.NewFromInt(3)
	}
	return decimal.NewFromInt(1)
}

// ForPack multiplies the boosted rarities by the pack's factor and
// renormalizes to 100.
func (r Rates) ForPack(p PackType, boosted []string) Rates {
	up := make(map[string]bool, len(boosted))
	for _, b := range boosted {
		up[strings.ToLower(b)] = true
	}
	m := p.Multiplier()
	out := make(Rates, len(r))
	for k, v := range r {
		if up[k] {
			v = v.Mul(m)
		}
		out[k] = v
	}
	return out.Normalize()
}
