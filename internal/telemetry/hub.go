package telemetry

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/streamforge/internal/encoder"
	"github.com/mantonx/streamforge/internal/session"
)

// SessionSnapshot is one session's entry in a monitoring push.
type SessionSnapshot struct {
	ID             uint          `json:"id"`
	StreamKeyID    uint          `json:"stream_key_id"`
	Mode           string        `json:"mode"`
	Status         string        `json:"status"`
	EncoderPID     int           `json:"encoder_pid"`
	StartTime      time.Time     `json:"start_time"`
	RuntimeSeconds float64       `json:"runtime_seconds"`
	RestartCount   int           `json:"restart_count"`
	Stats          encoder.Stats `json:"stats"`
}

type statusUpdate struct {
	Type     string            `json:"type"`
	Sessions []SessionSnapshot `json:"sessions"`
}

// subscriber send buffers are bounded; a slow consumer drops frames
// instead of stalling the broadcast.
const subscriberBuffer = 8

type subscriber struct {
	send chan []byte
}

// Hub pushes periodic status snapshots to every connected monitoring
// client.
type Hub struct {
	store    *session.Store
	sup      *encoder.Supervisor
	interval time.Duration
	logger   hclog.Logger
	upgrader websocket.Upgrader

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}

	quit chan struct{}
	once sync.Once
}

func NewHub(store *session.Store, sup *encoder.Supervisor, interval time.Duration, logger hclog.Logger) *Hub {
	return &Hub{
		store:    store,
		sup:      sup,
		interval: interval,
		logger:   logger.Named("telemetry"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		subscribers: make(map[*subscriber]struct{}),
		quit:        make(chan struct{}),
	}
}

// Start launches the snapshot broadcaster.
func (h *Hub) Start() {
	go h.run()
}

// Close stops the broadcaster and disconnects subscribers.
func (h *Hub) Close() {
	h.once.Do(func() { close(h.quit) })
}

func (h *Hub) run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.broadcast()
		case <-h.quit:
			return
		}
	}
}

func (h *Hub) broadcast() {
	h.mu.Lock()
	n := len(h.subscribers)
	h.mu.Unlock()
	if n == 0 {
		return
	}

	payload, err := h.snapshotJSON()
	if err != nil {
		h.logger.Error("failed to build snapshot", "error", err)
		return
	}

	h.mu.Lock()
	for sub := range h.subscribers {
		select {
		case sub.send <- payload:
		default:
			// Slow consumer; skip this frame for it.
		}
	}
	h.mu.Unlock()
}

// Snapshot builds the current per-session telemetry view.
func (h *Hub) Snapshot() ([]SessionSnapshot, error) {
	sessions, err := h.store.ActiveSessions()
	if err != nil {
		return nil, err
	}
	out := make([]SessionSnapshot, 0, len(sessions))
	for i := range sessions {
		sess := &sessions[i]
		stats := encoder.Stats{Bitrate: "N/A", FPS: "N/A", Speed: "N/A"}
		if path, err := h.sup.ResolveLogPath(sess.ID); err == nil {
			if lines, err := encoder.TailLines(path, 20); err == nil {
				stats = encoder.ParseStats(lines)
			}
		}
		out = append(out, SessionSnapshot{
			ID:             sess.ID,
			StreamKeyID:    sess.StreamKeyID,
			Mode:           sess.ContentKind,
			Status:         sess.Status,
			EncoderPID:     sess.EncoderPID,
			StartTime:      sess.StartedAt,
			RuntimeSeconds: sess.DurationSeconds(),
			RestartCount:   sess.RestartCount,
			Stats:          stats,
		})
	}
	return out, nil
}

func (h *Hub) snapshotJSON() ([]byte, error) {
	sessions, err := h.Snapshot()
	if err != nil {
		return nil, err
	}
	return json.Marshal(statusUpdate{Type: "status_update", Sessions: sessions})
}

// HandleMonitoring upgrades the request and streams snapshots until
// the client disconnects.
func (h *Hub) HandleMonitoring(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := &subscriber{send: make(chan []byte, subscriberBuffer)}
	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.subscribers, sub)
		h.mu.Unlock()
	}()

	// First frame immediately so the client does not wait a full tick.
	if payload, err := h.snapshotJSON(); err == nil {
		conn.WriteMessage(websocket.TextMessage, payload)
	}

	// Reader exists only to observe the disconnect.
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case payload := <-sub.send:
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-disconnected:
			return
		case <-h.quit:
			return
		}
	}
}
