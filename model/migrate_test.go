package model_test

import (
	"testing"
	"time"

	"github.com/Excalium-OG/DeckForge/model"
	"github.com/Excalium-OG/DeckForge/testutil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutoMigrate_InsertAndQuery(t *testing.T) {
	db := testutil.SetupTestDB(t)

	// Player
	p := &model.Player{Username: "test_user", PasswordHash: "hash", Credits: decimal.RequireFromString("12.50"), AllowTrades: true, Status: 1}
	require.NoError(t, db.Create(p).Error)
	assert.Greater(t, p.ID, int64(0))

	var found model.Player
	require.NoError(t, db.First(&found, p.ID).Error)
	assert.Equal(t, "test_user", found.Username)
	assert.True(t, found.Credits.Equal(decimal.RequireFromString("12.5")))

	// Deck, template, perk
	deck := &model.Deck{Name: "Rockets"}
	require.NoError(t, db.Create(deck).Error)
	tpl := &model.CardTemplate{DeckID: deck.ID, FieldName: "Payload", FieldType: model.FieldTypeNumber}
	require.NoError(t, db.Create(tpl).Error)
	require.NoError(t, db.Create(&model.DeckMergePerk{
		DeckID: deck.ID, PerkName: "Payload Boost",
		BaseBoost: decimal.RequireFromString("18.5"), DiminishingFactor: decimal.RequireFromString("0.85"),
	}).Error)

	// Card
	card := &model.Card{DeckID: deck.ID, Name: "Falcon 9", Rarity: "Epic", Mergeable: true, MaxMergeLevel: 10}
	require.NoError(t, db.Create(card).Error)
	require.NoError(t, db.Create(&model.CardFieldValue{CardID: card.ID, TemplateID: tpl.ID, FieldValue: "7020"}).Error)

	// Instance and boost
	perk := "Payload Boost"
	uc := &model.UserCard{InstanceID: uuid.NewString(), UserID: p.ID, CardID: card.ID, MergeLevel: 1, LockedPerk: &perk, AcquiredAt: time.Now()}
	require.NoError(t, db.Create(uc).Error)
	require.NoError(t, db.Create(&model.CardBoost{
		InstanceID: uc.InstanceID, FieldName: "Payload",
		BaseValue: decimal.NewFromInt(7020), BoostPercent: decimal.RequireFromString("18.5"),
		EffectiveValue: decimal.RequireFromString("8318.70"), Level: 1,
	}).Error)

	var gotUC model.UserCard
	require.NoError(t, db.First(&gotUC, "instance_id = ?", uc.InstanceID).Error)
	assert.Equal(t, "Payload Boost", gotUC.Perk())
	assert.False(t, gotUC.Retired())

	// Trade and pool
	tr := &model.Trade{TradeID: uuid.NewString(), InitiatorID: p.ID, ResponderID: p.ID + 1, Status: model.TradeStatusPending, StartedAt: time.Now(), ExpiresAt: time.Now().Add(time.Minute)}
	require.NoError(t, db.Create(tr).Error)
	require.NoError(t, db.Create(&model.TradeItem{TradeID: tr.TradeID, UserID: p.ID, CardID: card.ID, Quantity: 2}).Error)

	// AuditLog
	al := &model.AuditLog{TraceID: "trace-001", Action: "trade.completed", Subject: tr.TradeID, CreatedAt: time.Now()}
	require.NoError(t, db.Create(al).Error)
}

func TestTradeHelpers(t *testing.T) {
	tr := &model.Trade{InitiatorID: 1, ResponderID: 2, Status: model.TradeStatusAccepted,
		InitiatorAccepted: true, ResponderAccepted: true, InitiatorFinalized: true}
	assert.True(t, tr.IsParticipant(2))
	assert.False(t, tr.IsParticipant(3))
	assert.Equal(t, int64(1), tr.Counterpart(2))
	assert.False(t, tr.Terminal())

	tr.ClearFlags()
	assert.False(t, tr.InitiatorAccepted || tr.ResponderAccepted || tr.InitiatorFinalized || tr.ResponderFinalized)

	tr.Status = model.TradeStatusExpired
	assert.True(t, tr.Terminal())
}
