// Package gameerr defines the recoverable error kinds reported by the trade,
// merge, drop and ledger services.
package gameerr

import "errors"

var (
	ErrNotParticipant           = errors.New("not a participant of this trade")
	ErrInvalidStateForOperation = errors.New("operation not allowed in current trade state")
	ErrInsufficientInventory    = errors.New("insufficient matching instances")
	ErrSelfTradeNotAllowed      = errors.New("cannot trade with yourself")
	ErrAlreadyInActiveTrade     = errors.New("player already in an active trade")
	ErrSessionExpired           = errors.New("trade session expired")
	ErrMergeLevelMismatch       = errors.New("instances are at different merge levels")
	ErrPerkMismatch             = errors.New("instances have different locked perks")
	ErrPerkRequired             = errors.New("a perk must be chosen for the first merge")
	ErrMaxLevelReached          = errors.New("card is already at max merge level")
	ErrNotMergeable             = errors.New("card is not mergeable")
	ErrInstanceRetired          = errors.New("instance has been recycled")
	ErrLedgerConflict           = errors.New("inventory changed concurrently, refresh and retry")

	ErrTradeNotFound       = errors.New("trade not found")
	ErrUnknownPlayer       = errors.New("unknown player")
	ErrTradingDisabled     = errors.New("player does not accept trades")
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrInstanceNotFound    = errors.New("instance not found")
	ErrNotOwner            = errors.New("instance not owned by player")
	ErrCardMismatch        = errors.New("instances are different cards")
	ErrUnknownPerk         = errors.New("unknown perk for this deck")
	ErrUnknownCard         = errors.New("unknown card")
	ErrUnknownRarity       = errors.New("unknown rarity")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrTradeBusy           = errors.New("trade request in progress, retry")
	ErrInvariantViolation  = errors.New("inventory invariant violated")

	ErrUnknownDeck       = errors.New("unknown deck")
	ErrEmptyDeck         = errors.New("deck has no cards")
	ErrInvalidDropRates  = errors.New("invalid drop rates")
	ErrInvalidPackType   = errors.New("invalid pack type")
	ErrInsufficientPacks = errors.New("not enough packs")
	ErrPackLimit         = errors.New("pack limit reached")
	ErrPackCooldown      = errors.New("free pack already claimed")
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrNotParticipant, "NotParticipant"},
	{ErrInvalidStateForOperation, "InvalidStateForOperation"},
	{ErrInsufficientInventory, "InsufficientInventory"},
	{ErrSelfTradeNotAllowed, "SelfTradeNotAllowed"},
	{ErrAlreadyInActiveTrade, "AlreadyInActiveTrade"},
	{ErrSessionExpired, "SessionExpired"},
	{ErrMergeLevelMismatch, "MergeLevelMismatch"},
	{ErrPerkMismatch, "PerkMismatch"},
	{ErrPerkRequired, "PerkRequired"},
	{ErrMaxLevelReached, "MaxLevelReached"},
	{ErrNotMergeable, "NotMergeable"},
	{ErrInstanceRetired, "InstanceRetired"},
	{ErrLedgerConflict, "LedgerConflict"},
	{ErrTradeNotFound, "TradeNotFound"},
	{ErrUnknownPlayer, "UnknownPlayer"},
	{ErrTradingDisabled, "TradingDisabled"},
	{ErrInvalidQuantity, "InvalidQuantity"},
	{ErrInstanceNotFound, "InstanceNotFound"},
	{ErrNotOwner, "NotOwner"},
	{ErrCardMismatch, "CardMismatch"},
	{ErrUnknownPerk, "UnknownPerk"},
	{ErrUnknownCard, "UnknownCard"},
	{ErrUnknownRarity, "UnknownRarity"},
	{ErrInsufficientCredits, "InsufficientCredits"},
	{ErrTradeBusy, "TradeBusy"},
	{ErrInvariantViolation, "InvariantViolation"},
	{ErrUnknownDeck, "UnknownDeck"},
	{ErrEmptyDeck, "EmptyDeck"},
	{ErrInvalidDropRates, "InvalidDropRates"},
	{ErrInvalidPackType, "InvalidPackType"},
	{ErrInsufficientPacks, "InsufficientPacks"},
	{ErrPackLimit, "PackLimit"},
	{ErrPackCooldown, "PackCooldown"},
}

// Kind returns the stable code of the first known kind err wraps, or ""
// when err is nil or not a game error.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return ""
}

// Retryable reports whether the caller may re-fetch state and retry.
func Retryable(err error) bool {
	return errors.Is(err, ErrLedgerConflict) || errors.Is(err, ErrTradeBusy)
}
