package rest_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/Excalium-OG/DeckForge/model"
	"github.com/Excalium-OG/DeckForge/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cardsFixture struct {
	*testEnv
	alice  *model.Player
	token  string
	rocket *model.Card
	plain  *model.Card
}

func newCardsFixture(t *testing.T, credits float64) *cardsFixture {
	e := newTestEnv(t)
	rockets := testutil.SeedDeck(t, e.db, "Rockets", []string{"Payload Boost"},
		testutil.PerkSeed{Name: "Payload Boost", Base: 18.5, Diminishing: 0.85})
	misc := testutil.SeedDeck(t, e.db, "Misc", nil)
	alice := testutil.SeedPlayer(t, e.db, "alice", credits)
	return &cardsFixture{
		testEnv: e,
		alice:   alice,
		token:   e.token(t, alice),
		rocket:  testutil.SeedCard(t, e.db, rockets, "Falcon 9", "Epic", 2, map[string]string{"Payload Boost": "7,020"}),
		plain:   testutil.SeedCard(t, e.db, misc, "Pebble", "Common", 10, nil),
	}
}

func dec(t *testing.T, v interface{}) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(fmt.Sprint(v))
	require.NoError(t, err)
	return d
}

func TestMergeHTTP_FirstMergeWithPerk(t *testing.T) {
	f := newCardsFixture(t, 1000)
	pair := testutil.SeedInstances(t, f.db, f.alice.ID, f.rocket, 0, "", 2)

	w := f.do(http.MethodPost, "/api/merge", f.token, map[string]string{
		"instance_a": pair[0].InstanceID, "instance_b": pair[1].InstanceID, "perk": "Payload Boost",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res struct {
		Level    int `json:"level"`
		Instance struct {
			InstanceID string `json:"instance_id"`
			LockedPerk string `json:"locked_perk"`
		} `json:"instance"`
		Cost   string `json:"cost"`
		Boosts []struct {
			FieldName      string `json:"field_name"`
			EffectiveValue string `json:"effective_value"`
		} `json:"boosts"`
		NextCost *string `json:"next_cost"`
	}
	decode(t, w, &res)
	assert.Equal(t, 1, res.Level)
	assert.Equal(t, "Payload Boost", res.Instance.LockedPerk)
	require.Len(t, res.Boosts, 1)
	assert.True(t, dec(t, res.Boosts[0].EffectiveValue).Equal(decimal.RequireFromString("8318.70")))
	assert.True(t, dec(t, res.Cost).Equal(decimal.NewFromInt(250)))
	require.NotNil(t, res.NextCost)

	w = f.do(http.MethodGet, "/api/players/me/balance", f.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var bal struct {
		Credits string `json:"credits"`
	}
	decode(t, w, &bal)
	assert.True(t, dec(t, bal.Credits).Equal(decimal.NewFromInt(750)))

	w = f.do(http.MethodGet, "/api/players/me/cards/"+res.Instance.InstanceID, f.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail struct {
		Boosts []model.CardBoost `json:"boosts"`
	}
	decode(t, w, &detail)
	assert.Len(t, detail.Boosts, 1)

	// Consumed instances are gone for their owner.
	w = f.do(http.MethodGet, "/api/players/me/cards/"+pair[0].InstanceID, f.token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMergeHTTP_Rejections(t *testing.T) {
	f := newCardsFixture(t, 1000)
	pair := testutil.SeedInstances(t, f.db, f.alice.ID, f.rocket, 0, "", 2)
	mixed := testutil.SeedInstances(t, f.db, f.alice.ID, f.rocket, 1, "Payload Boost", 1)

	w := f.do(http.MethodPost, "/api/merge", f.token, map[string]string{
		"instance_a": pair[0].InstanceID, "instance_b": pair[1].InstanceID,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "PerkRequired", errorOf(t, w).Error)

	w = f.do(http.MethodPost, "/api/merge", f.token, map[string]string{
		"instance_a": pair[0].InstanceID, "instance_b": mixed[0].InstanceID,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "MergeLevelMismatch", errorOf(t, w).Error)

	w = f.do(http.MethodPost, "/api/merge", f.token, map[string]string{"instance_a": pair[0].InstanceID})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "BadRequest", errorOf(t, w).Error)

	w = f.do(http.MethodPost, "/api/merge", f.token, map[string]string{
		"instance_a": pair[0].InstanceID, "instance_b": "missing",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "InstanceNotFound", errorOf(t, w).Error)
}

func TestRecycleHTTP(t *testing.T) {
	f := newCardsFixture(t, 0)
	testutil.SeedInstances(t, f.db, f.alice.ID, f.plain, 1, "", 3)

	w := f.do(http.MethodPost, "/api/recycle", f.token, map[string]interface{}{
		"card_id": f.plain.ID, "merge_level": 1, "amount": 2,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res struct {
		UnitValue string   `json:"unit_value"`
		Credited  string   `json:"credited"`
		Balance   string   `json:"balance"`
		Retired   []string `json:"retired"`
	}
	decode(t, w, &res)
	// Common base 10, one level at 1.25.
	assert.True(t, dec(t, res.UnitValue).Equal(decimal.RequireFromString("12.5")))
	assert.True(t, dec(t, res.Credited).Equal(decimal.NewFromInt(25)))
	assert.True(t, dec(t, res.Balance).Equal(decimal.NewFromInt(25)))
	assert.Len(t, res.Retired, 2)

	w = f.do(http.MethodGet, "/api/players/me/cards", f.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var inv struct {
		Count int `json:"count"`
	}
	decode(t, w, &inv)
	assert.Equal(t, 1, inv.Count)

	w = f.do(http.MethodPost, "/api/recycle", f.token, map[string]interface{}{
		"card_id": f.plain.ID, "merge_level": 1, "amount": 5,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "InsufficientInventory", errorOf(t, w).Error)

	w = f.do(http.MethodPost, "/api/recycle", f.token, map[string]interface{}{
		"card_id": f.plain.ID, "amount": 1000,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "InvalidQuantity", errorOf(t, w).Error)
}

func TestInventoryHTTP_Filters(t *testing.T) {
	f := newCardsFixture(t, 0)
	testutil.SeedInstances(t, f.db, f.alice.ID, f.plain, 0, "", 2)
	testutil.SeedInstances(t, f.db, f.alice.ID, f.rocket, 0, "", 1)
	testutil.SeedInstances(t, f.db, f.alice.ID, f.rocket, 1, "Payload Boost", 1)

	count := func(query string) int {
		w := f.do(http.MethodGet, "/api/players/me/cards"+query, f.token, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var inv struct {
			Count int `json:"count"`
		}
		decode(t, w, &inv)
		return inv.Count
	}
	assert.Equal(t, 4, count(""))
	assert.Equal(t, 2, count(fmt.Sprintf("?card_id=%d", f.rocket.ID)))
	assert.Equal(t, 1, count(fmt.Sprintf("?card_id=%d&level=1", f.rocket.ID)))
	assert.Equal(t, 3, count("?level=0"))

	w := f.do(http.MethodGet, "/api/players/me/cards?level=-1", f.token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInventoryHTTP_Paging(t *testing.T) {
	f := newCardsFixture(t, 0)
	testutil.SeedInstances(t, f.db, f.alice.ID, f.plain, 0, "", 5)

	page := func(query string) ([]string, int64) {
		w := f.do(http.MethodGet, "/api/players/me/cards"+query, f.token, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var inv struct {
			Cards []struct {
				InstanceID string `json:"instance_id"`
			} `json:"cards"`
			Total int64 `json:"total"`
		}
		decode(t, w, &inv)
		ids := make([]string, 0, len(inv.Cards))
		for _, c := range inv.Cards {
			ids = append(ids, c.InstanceID)
		}
		return ids, inv.Total
	}

	all, total := page("")
	require.Len(t, all, 5)
	assert.EqualValues(t, 5, total)

	first, total := page("?limit=2")
	assert.Equal(t, all[:2], first)
	assert.EqualValues(t, 5, total)
	second, _ := page("?limit=2&offset=2")
	assert.Equal(t, all[2:4], second)
	last, _ := page("?limit=2&offset=4")
	assert.Equal(t, all[4:], last)
	none, _ := page("?offset=10")
	assert.Empty(t, none)

	for _, q := range []string{"?limit=0", "?limit=501", "?limit=x", "?offset=-1"} {
		w := f.do(http.MethodGet, "/api/players/me/cards"+q, f.token, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestInventoryHTTP_ForeignInstanceHidden(t *testing.T) {
	f := newCardsFixture(t, 0)
	bob := testutil.SeedPlayer(t, f.db, "bob", 0)
	theirs := testutil.SeedInstances(t, f.db, bob.ID, f.plain, 0, "", 1)

	w := f.do(http.MethodGet, "/api/players/me/cards/"+theirs[0].InstanceID, f.token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestValuationHTTP(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(http.MethodGet, "/api/valuation?rarity=Epic&level=2", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Quotes []struct {
			RecycleValue      string `json:"recycle_value"`
			MergeCost         string `json:"merge_cost"`
			RequiredBaseCards int64  `json:"required_base_cards"`
		} `json:"quotes"`
	}
	decode(t, w, &body)
	require.Len(t, body.Quotes, 1)
	// 250 · 1.25² = 390.625 → 390.63
	assert.True(t, dec(t, body.Quotes[0].RecycleValue).Equal(decimal.RequireFromString("390.63")))
	assert.True(t, dec(t, body.Quotes[0].MergeCost).Equal(decimal.RequireFromString("390.63")))
	assert.Equal(t, int64(4), body.Quotes[0].RequiredBaseCards)

	w = e.do(http.MethodGet, "/api/valuation", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &body)
	assert.Len(t, body.Quotes, 7)

	w = e.do(http.MethodGet, "/api/valuation?rarity=Shiny", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "UnknownRarity", errorOf(t, w).Error)
}
