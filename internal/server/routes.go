package server

import (
	"github.com/gin-gonic/gin"

	"github.com/mantonx/streamforge/internal/server/handlers"
)

// registerRoutes wires every endpoint. The /live group is the control
// surface for sessions and schedules, /api holds the content library,
// and /ws carries the streaming channels.
func registerRoutes(r *gin.Engine, deps Dependencies) {
	liveHandler := handlers.NewLiveHandler(deps.Manager, deps.Logger)
	scheduleHandler := handlers.NewScheduleHandler(deps.Scheduler, deps.Logger)
	libraryHandler := handlers.NewLibraryHandler(deps.Library, deps.Logger)
	wsHandler := handlers.NewWSHandler(deps.Hub, deps.Logs)

	r.GET("/health", handlers.Health)

	live := r.Group("/live")
	{
		live.POST("/manual", liveHandler.StartManual)
		live.POST("/stop/:id", liveHandler.Stop)
		live.POST("/stop-by-key/:key_id", liveHandler.StopByKey)
		live.POST("/stop-all", liveHandler.StopAll)
		live.GET("/status", liveHandler.FleetStatus)
		live.GET("/status/:id", liveHandler.Status)
		live.GET("/active", liveHandler.Active)
		live.GET("/history", liveHandler.History)
		live.POST("/cleanup-orphans", liveHandler.CleanupOrphans)

		live.POST("/schedule", scheduleHandler.Create)
		live.GET("/schedule/list", scheduleHandler.List)
		live.PUT("/schedule/:id", scheduleHandler.Update)
		live.DELETE("/schedule/:id", scheduleHandler.Cancel)
	}

	api := r.Group("/api")
	{
		api.GET("/stream-keys", libraryHandler.ListStreamKeys)
		api.POST("/stream-keys", libraryHandler.CreateStreamKey)
		api.GET("/stream-keys/:id/reveal", libraryHandler.RevealStreamKey)
		api.PUT("/stream-keys/:id/status", libraryHandler.SetStreamKeyStatus)
		api.DELETE("/stream-keys/:id", libraryHandler.DeleteStreamKey)

		api.GET("/videos", libraryHandler.ListVideos)
		api.POST("/videos", libraryHandler.CreateVideo)
		api.DELETE("/videos/:id", libraryHandler.DeleteVideo)

		api.GET("/playlists", libraryHandler.ListPlaylists)
		api.POST("/playlists", libraryHandler.CreatePlaylist)
		api.GET("/playlists/:id", libraryHandler.GetPlaylist)
		api.PUT("/playlists/:id", libraryHandler.UpdatePlaylist)
		api.DELETE("/playlists/:id", libraryHandler.DeletePlaylist)

		api.GET("/music-playlists", libraryHandler.ListMusicPlaylists)
		api.POST("/music-playlists", libraryHandler.CreateMusicPlaylist)
		api.GET("/music-playlists/:id", libraryHandler.GetMusicPlaylist)
		api.DELETE("/music-playlists/:id", libraryHandler.DeleteMusicPlaylist)
	}

	ws := r.Group("/ws")
	{
		ws.GET("/monitoring", wsHandler.Monitoring)
		ws.GET("/logs/:session_id", wsHandler.Logs)
	}
}
