package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/streamforge/internal/scheduler"
	"github.com/mantonx/streamforge/internal/session"
)

// ScheduleHandler exposes the deferred-start endpoints.
type ScheduleHandler struct {
	scheduler *scheduler.Scheduler
	logger    hclog.Logger
}

func NewScheduleHandler(s *scheduler.Scheduler, logger hclog.Logger) *ScheduleHandler {
	return &ScheduleHandler{scheduler: s, logger: logger.Named("schedule-handler")}
}

type scheduleRequest struct {
	StreamKeyID      uint    `json:"stream_key_id" binding:"required"`
	Mode             string  `json:"mode" binding:"required"`
	VideoID          *uint   `json:"video_id"`
	PlaylistID       *uint   `json:"playlist_id"`
	MusicPlaylistID  *uint   `json:"music_playlist_id"`
	ScheduledTime    string  `json:"scheduled_time" binding:"required"`
	Recurrence       string  `json:"recurrence"`
	Loop             bool    `json:"loop"`
	MaxDurationHours float64 `json:"max_duration_hours"`
}

func (r *scheduleRequest) toInput() (scheduler.ScheduleInput, error) {
	content, err := session.ParseContent(r.Mode, r.VideoID, r.PlaylistID, r.MusicPlaylistID)
	if err != nil {
		return scheduler.ScheduleInput{}, err
	}
	at, err := time.Parse(time.RFC3339, r.ScheduledTime)
	if err != nil {
		return scheduler.ScheduleInput{}, fmt.Errorf("%w: %q", session.ErrBadScheduledTime, r.ScheduledTime)
	}
	recurrence := r.Recurrence
	if recurrence == "" {
		recurrence = "none"
	}
	return scheduler.ScheduleInput{
		StreamKeyID:      r.StreamKeyID,
		Content:          content,
		ScheduledAt:      at.UTC(),
		Recurrence:       recurrence,
		Loop:             r.Loop,
		MaxDurationHours: r.MaxDurationHours,
	}, nil
}

// Create registers a new scheduled stream.
func (h *ScheduleHandler) Create(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	in, err := req.toInput()
	if err != nil {
		respondError(c, err)
		return
	}
	row, err := h.scheduler.Schedule(in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"schedule_id": row.ID,
		"job_id":      row.JobID,
	})
}

// List returns schedules filtered by status and stream key.
func (h *ScheduleHandler) List(c *gin.Context) {
	var keyID uint
	if raw := c.Query("stream_key_id"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stream_key_id"})
			return
		}
		keyID = uint(n)
	}
	rows, err := h.scheduler.List(c.Query("status"), keyID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// Update replaces a pending schedule.
func (h *ScheduleHandler) Update(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	in, err := req.toInput()
	if err != nil {
		respondError(c, err)
		return
	}
	row, err := h.scheduler.Update(id, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schedule_id": row.ID})
}

// Cancel deregisters a pending schedule.
func (h *ScheduleHandler) Cancel(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.scheduler.Cancel(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
