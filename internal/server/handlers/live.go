package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/streamforge/internal/session"
)

// LiveHandler exposes session start/stop/query endpoints.
type LiveHandler struct {
	manager *session.Manager
	logger  hclog.Logger
}

func NewLiveHandler(manager *session.Manager, logger hclog.Logger) *LiveHandler {
	return &LiveHandler{manager: manager, logger: logger.Named("live-handler")}
}

type startManualRequest struct {
	StreamKeyID      uint    `json:"stream_key_id" binding:"required"`
	Mode             string  `json:"mode" binding:"required"`
	VideoID          *uint   `json:"video_id"`
	PlaylistID       *uint   `json:"playlist_id"`
	MusicPlaylistID  *uint   `json:"music_playlist_id"`
	Loop             bool    `json:"loop"`
	MaxDurationHours float64 `json:"max_duration_hours"`
}

// StartManual launches a session immediately.
func (h *LiveHandler) StartManual(c *gin.Context) {
	var req startManualRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	content, err := session.ParseContent(req.Mode, req.VideoID, req.PlaylistID, req.MusicPlaylistID)
	if err != nil {
		respondError(c, err)
		return
	}

	sess, err := h.manager.StartManual(session.StartInput{
		StreamKeyID:      req.StreamKeyID,
		Content:          content,
		Loop:             req.Loop,
		MaxDurationHours: req.MaxDurationHours,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":  sess.ID,
		"encoder_pid": sess.EncoderPID,
		"status":      sess.Status,
	})
}

// Stop terminates one session.
func (h *LiveHandler) Stop(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	sess, err := h.manager.Stop(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"duration": sess.DurationSeconds(),
	})
}

// StopByKey terminates every active session on a stream key.
func (h *LiveHandler) StopByKey(c *gin.Context) {
	keyID, ok := parseID(c, "key_id")
	if !ok {
		return
	}
	stopped, err := h.manager.StopByKey(keyID)
	if err != nil {
		respondError(c, err)
		return
	}
	ids := make([]uint, 0, len(stopped))
	for _, s := range stopped {
		ids = append(ids, s.ID)
	}
	c.JSON(http.StatusOK, gin.H{
		"stopped_count":    len(stopped),
		"stopped_sessions": ids,
	})
}

// StopAll terminates every active session.
func (h *LiveHandler) StopAll(c *gin.Context) {
	stopped, failed := h.manager.StopAll()
	c.JSON(http.StatusOK, gin.H{
		"stopped_count": stopped,
		"failed_count":  failed,
	})
}

// Status returns one session with the supervisor's process view
// attached.
func (h *LiveHandler) Status(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	sess, err := h.manager.Store().GetByID(id)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{
		"session":  sess,
		"duration": sess.DurationSeconds(),
	}
	if st, tracked := h.manager.Supervisor().SessionStatus(id); tracked {
		resp["encoder_status"] = st
	} else {
		resp["encoder_status"] = nil
	}
	c.JSON(http.StatusOK, resp)
}

// FleetStatus is the operator overview: every active session with its
// supervisor process view attached.
func (h *LiveHandler) FleetStatus(c *gin.Context) {
	sessions, err := h.manager.Store().ActiveSessions()
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]gin.H, 0, len(sessions))
	for i := range sessions {
		sess := &sessions[i]
		entry := gin.H{
			"session":  sess,
			"duration": sess.DurationSeconds(),
		}
		if st, tracked := h.manager.Supervisor().SessionStatus(sess.ID); tracked {
			entry["encoder_status"] = st
		} else {
			entry["encoder_status"] = nil
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{
		"active_count": len(out),
		"sessions":     out,
	})
}

// Active lists every session currently holding a stream key.
func (h *LiveHandler) Active(c *gin.Context) {
	sessions, err := h.manager.Store().ActiveSessions()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// History lists finished sessions, newest first.
func (h *LiveHandler) History(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	sessions, err := h.manager.Store().History(limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// CleanupOrphans kills encoder processes no session row accounts for.
func (h *LiveHandler) CleanupOrphans(c *gin.Context) {
	killed, err := h.manager.ForceReapOrphans()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"killed_count": killed})
}

// parseID reads a positive integer path parameter or writes a 400.
func parseID(c *gin.Context, name string) (uint, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}
