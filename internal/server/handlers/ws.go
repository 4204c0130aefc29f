package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mantonx/streamforge/internal/telemetry"
)

// WSHandler routes the two streaming channels.
type WSHandler struct {
	hub  *telemetry.Hub
	logs *telemetry.LogStreamer
}

func NewWSHandler(hub *telemetry.Hub, logs *telemetry.LogStreamer) *WSHandler {
	return &WSHandler{hub: hub, logs: logs}
}

// Monitoring streams periodic status snapshots.
func (h *WSHandler) Monitoring(c *gin.Context) {
	h.hub.HandleMonitoring(c)
}

// Logs tails one session's encoder log.
func (h *WSHandler) Logs(c *gin.Context) {
	raw := c.Param("session_id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session_id"})
		return
	}
	h.logs.Stream(c, uint(id))
}
