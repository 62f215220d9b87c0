package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/Excalium-OG/DeckForge/game/gameerr"
	"github.com/Excalium-OG/DeckForge/model"
	"github.com/Excalium-OG/DeckForge/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func nop() *zap.Logger { return zap.NewNop() }

type fixture struct {
	db     *gorm.DB
	ledger *Ledger
	alice  *model.Player
	bob    *model.Player
	card   *model.Card
	other  *model.Card
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	deck := testutil.SeedDeck(t, db, "Rockets", nil)
	return &fixture{
		db:     db,
		ledger: New(db, nop()),
		alice:  testutil.SeedPlayer(t, db, "alice", 100),
		bob:    testutil.SeedPlayer(t, db, "bob", 0),
		card:   testutil.SeedCard(t, db, deck, "Falcon 9", "Epic", 10, nil),
		other:  testutil.SeedCard(t, db, deck, "Saturn V", "Rare", 10, nil),
	}
}

func collect(t *testing.T, l *Ledger, owner int64, f Filter) []model.UserCard {
	t.Helper()
	var out []model.UserCard
	for uc, err := range l.InstancesOf(context.Background(), owner, f) {
		require.NoError(t, err)
		out = append(out, uc)
	}
	return out
}

func ids(ucs []model.UserCard) []string {
	out := make([]string, len(ucs))
	for i, uc := range ucs {
		out[i] = uc.InstanceID
	}
	return out
}

func TestInstancesOf_FilterOrderAndPaging(t *testing.T) {
	f := setup(t)
	f.ledger.pageSize = 2
	seeded := testutil.SeedInstances(t, f.db, f.alice.ID, f.card, 0, "", 5)
	testutil.SeedInstances(t, f.db, f.alice.ID, f.card, 1, "Thrust", 1)
	testutil.SeedInstances(t, f.db, f.alice.ID, f.other, 0, "", 2)
	testutil.SeedInstances(t, f.db, f.bob.ID, f.card, 0, "", 3)

	all := collect(t, f.ledger, f.alice.ID, Filter{})
	assert.Len(t, all, 8)

	level := 0
	got := collect(t, f.ledger, f.alice.ID, Filter{CardID: &f.card.ID, Level: &level})
	assert.Equal(t, ids(seeded), ids(got), "oldest acquired first across pages")

	// restartable
	again := collect(t, f.ledger, f.alice.ID, Filter{CardID: &f.card.ID, Level: &level})
	assert.Equal(t, ids(got), ids(again))

	n, err := f.ledger.Count(context.Background(), f.alice.ID, Filter{CardID: &f.card.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
}

func TestInstancesOf_EarlyBreakAndRetired(t *testing.T) {
	f := setup(t)
	seeded := testutil.SeedInstances(t, f.db, f.alice.ID, f.card, 0, "", 3)
	require.NoError(t, f.ledger.Retire(context.Background(), f.alice.ID, []string{seeded[0].InstanceID}, decimal.Zero))

	var first string
	for uc, err := range f.ledger.InstancesOf(context.Background(), f.alice.ID, Filter{}) {
		require.NoError(t, err)
		first = uc.InstanceID
		break
	}
	assert.Equal(t, seeded[1].InstanceID, first)
}

func TestInstancesOf_SurfacesInvariantViolation(t *testing.T) {
	f := setup(t)
	testutil.SeedInstances(t, f.db, f.alice.ID, f.card, 0, "Broken", 1)

	var gotErr error
	for _, err := range f.ledger.InstancesOf(context.Background(), f.alice.ID, Filter{}) {
		gotErr = err
	}
	assert.True(t, errors.Is(gotErr, gameerr.ErrInvariantViolation))
}

func TestPick(t *testing.T) {
	f := setup(t)
	seeded := testutil.SeedInstances(t, f.db, f.alice.ID, f.card, 0, "", 3)

	got, err := f.ledger.Pick(context.Background(), f.alice.ID, f.card.ID, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, ids(seeded[:2]), ids(got))

	_, err = f.ledger.Pick(context.Background(), f.alice.ID, f.card.ID, 0, 4)
	assert.True(t, errors.Is(err, gameerr.ErrInsufficientInventory))
}

func TestTransfer(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := testutil.SeedInstances(t, f.db, f.alice.ID, f.card, 0, "", 2)
	b := testutil.SeedInstances(t, f.db, f.bob.ID, f.other, 0, "", 1)

	err := f.ledger.Transfer(ctx, []Move{
		{InstanceID: a[0].InstanceID, From: f.alice.ID, To: f.bob.ID},
		{InstanceID: a[1].InstanceID, From: f.alice.ID, To: f.bob.ID},
		{InstanceID: b[0].InstanceID, From: f.bob.ID, To: f.alice.ID},
	})
	require.NoError(t, err)

	got, err := f.ledger.Get(ctx, a[0].InstanceID)
	require.NoError(t, err)
	assert.Equal(t, f.bob.ID, got.UserID)
	assert.Equal(t, SourceTrade, got.Source)
	assert.Equal(t, 2, got.Version)

	assert.Len(t, collect(t, f.ledger, f.alice.ID, Filter{}), 1)
	assert.Len(t, collect(t, f.ledger, f.bob.ID, Filter{}), 2)
}

func TestTransfer_AllOrNothing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := testutil.SeedInstances(t, f.db, f.alice.ID, f.card, 0, "", 2)

	// second move names the wrong source owner
	err := f.ledger.Transfer(ctx, []Move{
		{InstanceID: a[0].InstanceID, From: f.alice.ID, To: f.bob.ID},
		{InstanceID: a[1].InstanceID, From: f.bob.ID, To: f.alice.ID},
	})
	assert.True(t, errors.Is(err, gameerr.ErrLedgerConflict))

	got, err := f.ledger.Get(ctx, a[0].InstanceID)
	require.NoError(t, err)
	assert.Equal(t, f.alice.ID, got.UserID, "first move must be rolled back")

	err = f.ledger.Transfer(ctx, []Move{
		{InstanceID: a[0].InstanceID, From: f.alice.ID, To: f.bob.ID},
		{InstanceID: a[0].InstanceID, From: f.alice.ID, To: f.bob.ID},
	})
	assert.True(t, errors.Is(err, gameerr.ErrLedgerConflict))

	err = f.ledger.Transfer(ctx, []Move{{InstanceID: "missing", From: f.alice.ID, To: f.bob.ID}})
	assert.True(t, errors.Is(err, gameerr.ErrLedgerConflict))
}

func TestConsumeAndCreate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	src := testutil.SeedInstances(t, f.db, f.alice.ID, f.card, 0, "", 2)
	perk := "Payload"

	created, err := f.ledger.ConsumeAndCreate(ctx, f.alice.ID, ids(src), NewInstance{
		CardID: f.card.ID, MergeLevel: 1, LockedPerk: &perk, Source: SourceMerge,
		Cost: decimal.RequireFromString("12.5"),
		Boosts: []model.CardBoost{{
			FieldName: "Payload", BaseValue: decimal.NewFromInt(7020),
			BoostPercent: decimal.RequireFromString("18.5"), EffectiveValue: decimal.RequireFromString("8318.70"),
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, created.MergeLevel)
	assert.Equal(t, "Payload", created.Perk())

	for _, id := range ids(src) {
		uc, err := f.ledger.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, uc.Retired())
	}
	live := collect(t, f.ledger, f.alice.ID, Filter{})
	require.Len(t, live, 1)
	assert.Equal(t, created.InstanceID, live[0].InstanceID)

	bal, err := f.ledger.Balance(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.RequireFromString("87.5")), bal.String())

	boosts, err := f.ledger.Boosts(ctx, created.InstanceID)
	require.NoError(t, err)
	require.Len(t, boosts, 1)
	assert.Equal(t, 1, boosts[0].Level)
	assert.True(t, boosts[0].EffectiveValue.Equal(decimal.RequireFromString("8318.7")))
}

func TestConsumeAndCreate_ReplacesLineageBoosts(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	src := testutil.SeedInstances(t, f.db, f.alice.ID, f.card, 1, "Payload", 2)
	for _, uc := range src {
		require.NoError(t, f.db.Create(&model.CardBoost{
			InstanceID: uc.InstanceID, FieldName: "Payload", Level: 1,
			BaseValue: decimal.NewFromInt(100), BoostPercent: decimal.NewFromInt(10), EffectiveValue: decimal.NewFromInt(110),
		}).Error)
	}
	perk := "Payload"
	created, err := f.ledger.ConsumeAndCreate(ctx, f.alice.ID, ids(src), NewInstance{
		CardID: f.card.ID, MergeLevel: 2, LockedPerk: &perk, Source: SourceMerge,
	})
	require.NoError(t, err)

	var n int64
	require.NoError(t, f.db.Model(&model.CardBoost{}).Where("instance_id IN ?", ids(src)).Count(&n).Error)
	assert.Zero(t, n)
	boosts, err := f.ledger.Boosts(ctx, created.InstanceID)
	require.NoError(t, err)
	assert.Empty(t, boosts)
}

func TestConsumeAndCreate_FailsAsAWhole(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	mine := testutil.SeedInstances(t, f.db, f.alice.ID, f.card, 0, "", 1)
	theirs := testutil.SeedInstances(t, f.db, f.bob.ID, f.card, 0, "", 1)
	spec := NewInstance{CardID: f.card.ID, MergeLevel: 1, Source: SourceMerge}

	_, err := f.ledger.ConsumeAndCreate(ctx, f.alice.ID, []string{mine[0].InstanceID, theirs[0].InstanceID}, spec)
	assert.True(t, errors.Is(err, gameerr.ErrNotOwner))

	_, err = f.ledger.ConsumeAndCreate(ctx, f.alice.ID, []string{mine[0].InstanceID, "nope"}, spec)
	assert.True(t, errors.Is(err, gameerr.ErrInstanceNotFound))

	more := testutil.SeedInstances(t, f.db, f.alice.ID, f.card, 0, "", 1)
	spec.Cost = decimal.NewFromInt(1000)
	_, err = f.ledger.ConsumeAndCreate(ctx, f.alice.ID, []string{mine[0].InstanceID, more[0].InstanceID}, spec)
	assert.True(t, errors.Is(err, gameerr.ErrInsufficientCredits))

	assert.Len(t, collect(t, f.ledger, f.alice.ID, Filter{}), 2, "nothing consumed")

	perk := "x"
	_, err = f.ledger.ConsumeAndCreate(ctx, f.alice.ID, ids(mine), NewInstance{CardID: f.card.ID, LockedPerk: &perk})
	assert.True(t, errors.Is(err, gameerr.ErrInvariantViolation))
}

func TestConsumeAndCreate_RetiredInstance(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	src := testutil.SeedInstances(t, f.db, f.alice.ID, f.card, 0, "", 2)
	require.NoError(t, f.ledger.Retire(ctx, f.alice.ID, []string{src[1].InstanceID}, decimal.Zero))

	_, err := f.ledger.ConsumeAndCreate(ctx, f.alice.ID, ids(src), NewInstance{CardID: f.card.ID, MergeLevel: 1})
	assert.True(t, errors.Is(err, gameerr.ErrInstanceRetired))
}

func TestMintAndRetire(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	minted, err := f.ledger.Mint(ctx, f.bob.ID, f.card.ID, 3, SourceGrant)
	require.NoError(t, err)
	assert.Len(t, minted, 3)

	_, err = f.ledger.Mint(ctx, 9999, f.card.ID, 1, SourceGrant)
	assert.True(t, errors.Is(err, gameerr.ErrUnknownPlayer))
	_, err = f.ledger.Mint(ctx, f.bob.ID, f.card.ID, 0, SourceGrant)
	assert.True(t, errors.Is(err, gameerr.ErrInvalidQuantity))

	require.NoError(t, f.ledger.Retire(ctx, f.bob.ID, ids(minted[:2]), decimal.NewFromInt(500)))
	bal, err := f.ledger.Balance(ctx, f.bob.ID)
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(500)))
	assert.Len(t, collect(t, f.ledger, f.bob.ID, Filter{}), 1)

	err = f.ledger.Retire(ctx, f.bob.ID, ids(minted[:1]), decimal.NewFromInt(1))
	assert.True(t, errors.Is(err, gameerr.ErrInstanceRetired))
}

func TestWithTx_RollsBackWithOuterTransaction(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a := testutil.SeedInstances(t, f.db, f.alice.ID, f.card, 0, "", 1)

	boom := errors.New("boom")
	err := f.db.Transaction(func(tx *gorm.DB) error {
		if err := f.ledger.WithTx(tx).Transfer(ctx, []Move{{InstanceID: a[0].InstanceID, From: f.alice.ID, To: f.bob.ID}}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := f.ledger.Get(ctx, a[0].InstanceID)
	require.NoError(t, err)
	assert.Equal(t, f.alice.ID, got.UserID)
}
