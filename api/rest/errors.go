package rest

import (
	"errors"
	"net/http"

	"github.com/Excalium-OG/DeckForge/game/gameerr"
	"github.com/gin-gonic/gin"
)

// statusOf maps a domain error to its HTTP status. Errors of no known kind
// are internal.
func statusOf(err error) int {
	switch {
	case errors.Is(err, gameerr.ErrInvariantViolation):
		return http.StatusInternalServerError
	case errors.Is(err, gameerr.ErrTradeNotFound),
		errors.Is(err, gameerr.ErrInstanceNotFound),
		errors.Is(err, gameerr.ErrUnknownCard),
		errors.Is(err, gameerr.ErrUnknownPlayer),
		errors.Is(err, gameerr.ErrUnknownDeck):
		return http.StatusNotFound
	case errors.Is(err, gameerr.ErrNotParticipant),
		errors.Is(err, gameerr.ErrNotOwner),
		errors.Is(err, gameerr.ErrTradingDisabled):
		return http.StatusForbidden
	case errors.Is(err, gameerr.ErrLedgerConflict),
		errors.Is(err, gameerr.ErrTradeBusy),
		errors.Is(err, gameerr.ErrAlreadyInActiveTrade),
		errors.Is(err, gameerr.ErrInvalidStateForOperation),
		errors.Is(err, gameerr.ErrSessionExpired),
		errors.Is(err, gameerr.ErrPackCooldown):
		return http.StatusConflict
	case gameerr.Kind(err) != "":
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// abortWithError writes the standard error body. Internal errors keep their
// detail out of the response and are attached to the context for the
// request logger.
func abortWithError(c *gin.Context, err error) {
	status := statusOf(err)
	kind := gameerr.Kind(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		if kind == "" {
			kind = "Internal"
		}
		c.AbortWithStatusJSON(status, gin.H{"error": kind, "message": "internal error"})
		return
	}
	body := gin.H{"error": kind, "message": err.Error()}
	if gameerr.Retryable(err) {
		body["retryable"] = true
	}
	c.AbortWithStatusJSON(status, body)
}

// badRequest reports a malformed request body or parameter.
func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "BadRequest", "message": msg})
}
