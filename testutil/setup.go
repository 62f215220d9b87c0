package testutil

import (
	"testing"
	"time"

	"github.com/Excalium-OG/DeckForge/cache"
	"github.com/Excalium-OG/DeckForge/config"
	dbsqlite "github.com/Excalium-OG/DeckForge/db/sqlite"
	"github.com/Excalium-OG/DeckForge/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// SetupTestDB creates a private in-memory SQLite DB and runs AutoMigrate.
// It requires no external services and is safe to use in parallel tests.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := dbsqlite.OpenMemory("test_" + uuid.NewString())
	require.NoError(t, err, "SetupTestDB: Open")
	require.NoError(t, model.AutoMigrate(db), "SetupTestDB: AutoMigrate")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// SetupTestCache creates LocalCache and LocalPubSub (no Redis required).
func SetupTestCache(t *testing.T) (cache.Cache, cache.PubSub) {
	t.Helper()
	cfg := config.CacheConfig{} // empty RedisAddr → LocalCache
	c, err := cache.NewCache(cfg)
	require.NoError(t, err, "SetupTestCache: NewCache")
	ps, err := cache.NewPubSub(cfg)
	require.NoError(t, err, "SetupTestCache: NewPubSub")
	return c, ps
}

// SeedPlayer inserts a tradeable player holding the given credits.
func SeedPlayer(t *testing.T, db *gorm.DB, username string, credits float64) *model.Player {
	t.Helper()
	p := &model.Player{
		Username:     username,
		PasswordHash: "x",
		Credits:      decimal.NewFromFloat(credits),
		AllowTrades:  true,
		Status:       model.PlayerStatusNormal,
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

// PerkSeed describes a merge perk to attach to a seeded deck.
type PerkSeed struct {
	Name        string
	Base        float64
	Diminishing float64
}

// SeedDeck inserts a deck with the given numeric template fields and perks.
func SeedDeck(t *testing.T, db *gorm.DB, name string, numericFields []string, perks ...PerkSeed) *model.Deck {
	t.Helper()
	d := &model.Deck{Name: name}
	require.NoError(t, db.Create(d).Error)
	for i, f := range numericFields {
		require.NoError(t, db.Create(&model.CardTemplate{
			DeckID: d.ID, FieldName: f, FieldType: model.FieldTypeNumber, FieldOrder: i,
		}).Error)
	}
	for _, p := range perks {
		require.NoError(t, db.Create(&model.DeckMergePerk{
			DeckID:            d.ID,
			PerkName:          p.Name,
			BaseBoost:         decimal.NewFromFloat(p.Base),
			DiminishingFactor: decimal.NewFromFloat(p.Diminishing),
		}).Error)
	}
	return d
}

// SeedCard inserts a mergeable card definition. fields maps template field
// names to values; the templates must already exist on the deck.
func SeedCard(t *testing.T, db *gorm.DB, deck *model.Deck, name, rarity string, maxLevel int, fields map[string]string) *model.Card {
	t.Helper()
	c := &model.Card{DeckID: deck.ID, Name: name, Rarity: rarity, Mergeable: true, MaxMergeLevel: maxLevel}
	require.NoError(t, db.Create(c).Error)
	for field, value := range fields {
		var tpl model.CardTemplate
		require.NoError(t, db.Where("deck_id = ? AND field_name = ?", deck.ID, field).First(&tpl).Error)
		require.NoError(t, db.Create(&model.CardFieldValue{CardID: c.ID, TemplateID: tpl.ID, FieldValue: value}).Error)
	}
	return c
}

// SeedInstances inserts n owned instances of card at level with acquisition
// times one second apart, oldest first. perk may be empty.
func SeedInstances(t *testing.T, db *gorm.DB, owner int64, card *model.Card, level int, perk string, n int) []model.UserCard {
	t.Helper()
	base := time.Now().UTC().Add(-time.Hour)
	var lp *string
	if perk != "" {
		lp = &perk
	}
	out := make([]model.UserCard, 0, n)
	for i := 0; i < n; i++ {
		uc := model.UserCard{
			InstanceID: uuid.NewString(),
			UserID:     owner,
			CardID:     card.ID,
			MergeLevel: level,
			LockedPerk: lp,
			Source:     "grant",
			Version:    1,
			AcquiredAt: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, db.Create(&uc).Error)
		out = append(out, uc)
	}
	return out
}
