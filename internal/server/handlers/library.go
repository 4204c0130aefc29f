package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/streamforge/internal/database"
	"github.com/mantonx/streamforge/internal/library"
)

// LibraryHandler exposes the content library CRUD surface.
type LibraryHandler struct {
	library *library.Service
	logger  hclog.Logger
}

func NewLibraryHandler(svc *library.Service, logger hclog.Logger) *LibraryHandler {
	return &LibraryHandler{library: svc, logger: logger.Named("library-handler")}
}

// streamKeyView is the wire form of a stream key; the secret is
// always masked.
type streamKeyView struct {
	ID          uint   `json:"id"`
	Name        string `json:"name"`
	Key         string `json:"key"`
	Description string `json:"description"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

func maskedView(k *database.StreamKey) streamKeyView {
	return streamKeyView{
		ID:          k.ID,
		Name:        k.Name,
		Key:         k.MaskedKey(),
		Description: k.Description,
		Status:      k.Status,
		CreatedAt:   k.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

func (h *LibraryHandler) ListStreamKeys(c *gin.Context) {
	keys, err := h.library.ListStreamKeys()
	if err != nil {
		respondError(c, err)
		return
	}
	views := make([]streamKeyView, 0, len(keys))
	for i := range keys {
		views = append(views, maskedView(&keys[i]))
	}
	c.JSON(http.StatusOK, views)
}

type createStreamKeyRequest struct {
	Name        string `json:"name" binding:"required"`
	Key         string `json:"key" binding:"required"`
	Description string `json:"description"`
}

func (h *LibraryHandler) CreateStreamKey(c *gin.Context) {
	var req createStreamKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	key, err := h.library.CreateStreamKey(req.Name, req.Key, req.Description)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, maskedView(key))
}

// RevealStreamKey returns the raw secret. This is the only endpoint
// that does.
func (h *LibraryHandler) RevealStreamKey(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	key, err := h.library.GetStreamKey(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": key.ID, "key": key.Key})
}

type setStreamKeyStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *LibraryHandler) SetStreamKeyStatus(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req setStreamKeyStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	key, err := h.library.SetStreamKeyStatus(id, req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, maskedView(key))
}

func (h *LibraryHandler) DeleteStreamKey(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.library.DeleteStreamKey(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// --- Videos ---

func (h *LibraryHandler) ListVideos(c *gin.Context) {
	videos, err := h.library.ListVideos()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, videos)
}

type createVideoRequest struct {
	Title       string `json:"title" binding:"required"`
	FilePath    string `json:"file_path" binding:"required"`
	DurationSec int    `json:"duration_sec"`
}

func (h *LibraryHandler) CreateVideo(c *gin.Context) {
	var req createVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	video, err := h.library.CreateVideo(req.Title, req.FilePath, req.DurationSec)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, video)
}

func (h *LibraryHandler) DeleteVideo(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.library.DeleteVideo(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// --- Playlists ---

func (h *LibraryHandler) ListPlaylists(c *gin.Context) {
	playlists, err := h.library.ListPlaylists()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, playlists)
}

type playlistRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	PlaybackMode string `json:"playback_mode"`
	VideoIDs     []uint `json:"video_ids"`
}

func (h *LibraryHandler) CreatePlaylist(c *gin.Context) {
	var req playlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	playlist, err := h.library.CreatePlaylist(req.Name, req.Description, req.PlaybackMode, req.VideoIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, playlist)
}

func (h *LibraryHandler) GetPlaylist(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	playlist, err := h.library.GetPlaylist(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, playlist)
}

func (h *LibraryHandler) UpdatePlaylist(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req playlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	playlist, err := h.library.UpdatePlaylist(id, req.Name, req.Description, req.PlaybackMode, req.VideoIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, playlist)
}

func (h *LibraryHandler) DeletePlaylist(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.library.DeletePlaylist(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// --- Music playlists ---

func (h *LibraryHandler) ListMusicPlaylists(c *gin.Context) {
	lists, err := h.library.ListMusicPlaylists()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, lists)
}

type musicPlaylistRequest struct {
	Name            string   `json:"name" binding:"required"`
	Description     string   `json:"description"`
	BackgroundVideo string   `json:"background_video" binding:"required"`
	TrackPaths      []string `json:"track_paths" binding:"required"`
	SfxPath         string   `json:"sfx_path"`
	SfxVolume       float64  `json:"sfx_volume"`
}

func (h *LibraryHandler) CreateMusicPlaylist(c *gin.Context) {
	var req musicPlaylistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.SfxVolume == 0 {
		req.SfxVolume = 0.3
	}
	mp, err := h.library.CreateMusicPlaylist(req.Name, req.Description, req.BackgroundVideo, req.TrackPaths, req.SfxPath, req.SfxVolume)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, mp)
}

func (h *LibraryHandler) GetMusicPlaylist(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	mp, err := h.library.GetMusicPlaylist(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, mp)
}

func (h *LibraryHandler) DeleteMusicPlaylist(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.library.DeleteMusicPlaylist(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
