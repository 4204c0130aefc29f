package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mantonx/streamforge/internal/session"
)

// statusFor maps the session error taxonomy onto HTTP codes. Anything
// unrecognized is a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrBadMode),
		errors.Is(err, session.ErrMissingContentID),
		errors.Is(err, session.ErrEmptyPlaylist),
		errors.Is(err, session.ErrBadScheduledTime),
		errors.Is(err, session.ErrPastScheduledTime),
		errors.Is(err, session.ErrBadRecurrence),
		errors.Is(err, session.ErrInactiveKey),
		errors.Is(err, session.ErrNotPending):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrUnknownKey),
		errors.Is(err, session.ErrUnknownAsset),
		errors.Is(err, session.ErrUnknownPlaylist),
		errors.Is(err, session.ErrMissingSession),
		errors.Is(err, session.ErrMissingTrigger):
		return http.StatusNotFound
	case errors.Is(err, session.ErrKeyBusy):
		return http.StatusConflict
	case errors.Is(err, session.ErrCapacityExhausted):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
