package merge

import (
	"context"
	"errors"
	"testing"

	"github.com/Excalium-OG/DeckForge/config"
	"github.com/Excalium-OG/DeckForge/game/catalog"
	"github.com/Excalium-OG/DeckForge/game/gameerr"
	"github.com/Excalium-OG/DeckForge/game/ledger"
	"github.com/Excalium-OG/DeckForge/game/valuation"
	"github.com/Excalium-OG/DeckForge/model"
	"github.com/Excalium-OG/DeckForge/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func nop() *zap.Logger { return zap.NewNop() }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	db     *gorm.DB
	engine *Engine
	ledger *ledger.Ledger
	alice  *model.Player
	bob    *model.Player
	deck   *model.Deck
	rocket *model.Card
}

func setup(t *testing.T, charge bool) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	deck := testutil.SeedDeck(t, db, "Rockets", []string{"Payload Boost", "Thrust"},
		testutil.PerkSeed{Name: "Payload Boost", Base: 18.5, Diminishing: 0.85},
		testutil.PerkSeed{Name: "Thrust", Base: 10, Diminishing: 0.85},
	)
	rocket := testutil.SeedCard(t, db, deck, "Falcon 9", "Epic", 3, map[string]string{
		"Payload Boost": "7020", "Thrust": "7607",
	})
	cfg := config.Default().Economy
	cfg.ChargeMergeCost = charge
	l := ledger.New(db, nop())
	return &fixture{
		db:     db,
		ledger: l,
		engine: NewEngine(l, catalog.NewStore(db, nop()), valuation.New(cfg), cfg, nil, nop()),
		alice:  testutil.SeedPlayer(t, db, "alice", 1000),
		bob:    testutil.SeedPlayer(t, db, "bob", 1000),
		deck:   deck,
		rocket: rocket,
	}
}

func (f *fixture) merge(pair []model.UserCard, perk string) (*Result, error) {
	return f.engine.Merge(context.Background(), Request{
		PlayerID: pair[0].UserID, InstanceA: pair[0].InstanceID, InstanceB: pair[1].InstanceID, Perk: perk,
	})
}

func (f *fixture) live(t *testing.T, owner int64) int64 {
	t.Helper()
	n, err := f.ledger.Count(context.Background(), owner, ledger.Filter{})
	require.NoError(t, err)
	return n
}

func TestFirstMergeWithPerk(t *testing.T) {
	f := setup(t, true)
	pair := testutil.SeedInstances(t, f.db, f.alice.ID, f.rocket, 0, "", 2)

	res, err := f.merge(pair, "payload boost")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Level)
	assert.Equal(t, "Payload Boost", res.Instance.Perk(), "canonical spelling is stored")
	assert.True(t, res.PerkBoost.Equal(dec("18.5")))
	assert.True(t, res.CumulativeBoost.Equal(dec("18.5")))
	require.Len(t, res.Boosts, 1)
	assert.Equal(t, "Payload Boost", res.Boosts[0].FieldName)
	assert.True(t, res.Boosts[0].BaseValue.Equal(dec("7020")))
	assert.True(t, res.Boosts[0].EffectiveValue.Equal(dec("8318.70")), res.Boosts[0].EffectiveValue.String())

	// Epic level 0 costs 250, next merge at level 1 costs 312.50
	assert.True(t, res.Cost.Equal(dec("250")))
	require.NotNil(t, res.NextCost)
	assert.True(t, res.NextCost.Equal(dec("312.5")))
	assert.False(t, res.MaxLevel)

	bal, err := f.ledger.Balance(context.Background(), f.alice.ID)
	require.NoError(t, err)
	assert.True(t, bal.Equal(dec("750")), bal.String())

	stored, err := f.ledger.Boosts(context.Background(), res.Instance.InstanceID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].EffectiveValue.Equal(dec("8318.7")))
}

func TestMergeConservation(t *testing.T) {
	f := setup(t, false)
	seeded := testutil.SeedInstances(t, f.db, f.alice.ID, f.rocket, 0, "", 4)
	before := f.live(t, f.alice.ID)

	r1, err := f.merge(seeded[0:2], "Thrust")
	require.NoError(t, err)
	assert.Equal(t, before-1, f.live(t, f.alice.ID), "2 consumed, 1 produced")
	for _, id := range r1.Consumed {
		uc, err := f.ledger.Get(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, uc.Retired())
	}

	r2, err := f.merge(seeded[2:4], "Thrust")
	require.NoError(t, err)

	// second-level merge carries the perk without it being supplied
	r3, err := f.merge([]model.UserCard{*r1.Instance, *r2.Instance}, "")
	require.NoError(t, err)
	assert.Equal(t, 2, r3.Level)
	assert.Equal(t, "Thrust", r3.Instance.Perk())
	assert.True(t, r3.CumulativeBoost.Equal(dec("18.5")), r3.CumulativeBoost.String()) // 10 + 8.5
	require.Len(t, r3.Boosts, 1)
	assert.True(t, r3.Boosts[0].EffectiveValue.Equal(dec("9014.30")), r3.Boosts[0].EffectiveValue.String()) // 7607 · 1.185

	// lineage records replaced
	old, err := f.ledger.Boosts(context.Background(), r1.Instance.InstanceID)
	require.NoError(t, err)
	assert.Empty(t, old)
}

func TestMaxLevel(t *testing.T) {
	f := setup(t, false)
	pair := testutil.SeedInstances(t, f.db, f.alice.ID, f.rocket, 2, "Thrust", 2)

	res, err := f.merge(pair, "")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Level)
	assert.True(t, res.MaxLevel)
	assert.Nil(t, res.NextCost)

	top := testutil.SeedInstances(t, f.db, f.alice.ID, f.rocket, 3, "Thrust", 2)
	_, err = f.merge(top, "")
	assert.True(t, errors.Is(err, gameerr.ErrMaxLevelReached))
}

func TestEligibilityFailures(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	other := testutil.SeedCard(t, f.db, f.deck, "Atlas V", "Rare", 10, nil)

	l0 := testutil.SeedInstances(t, f.db, f.alice.ID, f.rocket, 0, "", 2)
	l1 := testutil.SeedInstances(t, f.db, f.alice.ID, f.rocket, 1, "Payload Boost", 1)
	l1b := testutil.SeedInstances(t, f.db, f.alice.ID, f.rocket, 1, "Thrust", 1)
	atlas := testutil.SeedInstances(t, f.db, f.alice.ID, other, 0, "", 1)
	bobs := testutil.SeedInstances(t, f.db, f.bob.ID, f.rocket, 0, "", 1)

	cases := []struct {
		name string
		a, b string
		perk string
		want error
	}{
		{"same instance", l0[0].InstanceID, l0[0].InstanceID, "Thrust", gameerr.ErrInvalidQuantity},
		{"missing", l0[0].InstanceID, "nope", "Thrust", gameerr.ErrInstanceNotFound},
		{"not owner", l0[0].InstanceID, bobs[0].InstanceID, "Thrust", gameerr.ErrNotOwner},
		{"different card", l0[0].InstanceID, atlas[0].InstanceID, "Thrust", gameerr.ErrCardMismatch},
		{"level mismatch", l0[0].InstanceID, l1[0].InstanceID, "Thrust", gameerr.ErrMergeLevelMismatch},
		{"perk mismatch", l1[0].InstanceID, l1b[0].InstanceID, "", gameerr.ErrPerkMismatch},
		{"perk required", l0[0].InstanceID, l0[1].InstanceID, "", gameerr.ErrPerkRequired},
		{"unknown perk", l0[0].InstanceID, l0[1].InstanceID, "Armor", gameerr.ErrUnknownPerk},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.Merge(ctx, Request{PlayerID: f.alice.ID, InstanceA: tc.a, InstanceB: tc.b, Perk: tc.perk})
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
			assert.True(t, IsUserError(err))
		})
	}
	assert.Equal(t, int64(5), f.live(t, f.alice.ID), "failed merges leave the ledger untouched")
}

func TestPerkLockedCannotChange(t *testing.T) {
	f := setup(t, false)
	pair := testutil.SeedInstances(t, f.db, f.alice.ID, f.rocket, 1, "Payload Boost", 2)

	_, err := f.merge(pair, "Thrust")
	assert.True(t, errors.Is(err, gameerr.ErrPerkMismatch))

	res, err := f.merge(pair, "PAYLOAD BOOST")
	require.NoError(t, err)
	assert.Equal(t, "Payload Boost", res.Instance.Perk())
}

func TestNotMergeableAndRetired(t *testing.T) {
	f := setup(t, false)
	promo := testutil.SeedCard(t, f.db, f.deck, "Promo", "Common", 10, nil)
	require.NoError(t, f.db.Model(promo).Update("mergeable", false).Error)
	pair := testutil.SeedInstances(t, f.db, f.alice.ID, promo, 0, "", 2)
	_, err := f.merge(pair, "Thrust")
	assert.True(t, errors.Is(err, gameerr.ErrNotMergeable))

	rp := testutil.SeedInstances(t, f.db, f.alice.ID, f.rocket, 0, "", 2)
	require.NoError(t, f.ledger.Retire(context.Background(), f.alice.ID, []string{rp[1].InstanceID}, decimal.Zero))
	_, err = f.merge(rp, "Thrust")
	assert.True(t, errors.Is(err, gameerr.ErrInstanceRetired))
}

func TestInsufficientCredits(t *testing.T) {
	f := setup(t, true)
	poor := testutil.SeedPlayer(t, f.db, "poor", 100)
	pair := testutil.SeedInstances(t, f.db, poor.ID, f.rocket, 0, "", 2)

	_, err := f.merge(pair, "Thrust")
	assert.True(t, errors.Is(err, gameerr.ErrInsufficientCredits))
	assert.Equal(t, int64(2), f.live(t, poor.ID))
}

func TestDeckWithoutPerks(t *testing.T) {
	f := setup(t, false)
	plain := testutil.SeedDeck(t, f.db, "Plain", []string{"Power"})
	card := testutil.SeedCard(t, f.db, plain, "Brick", "Common", 5, map[string]string{"Power": "10"})
	pair := testutil.SeedInstances(t, f.db, f.alice.ID, card, 0, "", 2)

	res, err := f.merge(pair, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Level)
	assert.Nil(t, res.Instance.LockedPerk)
	assert.Empty(t, res.Boosts)

	more := testutil.SeedInstances(t, f.db, f.alice.ID, card, 0, "", 2)
	_, err = f.merge(more, "Power")
	assert.True(t, errors.Is(err, gameerr.ErrUnknownPerk))
}
