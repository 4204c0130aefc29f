package telemetry

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/streamforge/internal/encoder"
)

const (
	// tailBacklog is how many historical lines a new log subscriber
	// receives before live follow begins.
	tailBacklog = 50
	// followInterval is the poll rate while following appends.
	followInterval = 100 * time.Millisecond
)

// LogStreamer tails one session's encoder log over a websocket.
type LogStreamer struct {
	sup      *encoder.Supervisor
	logger   hclog.Logger
	upgrader websocket.Upgrader
}

func NewLogStreamer(sup *encoder.Supervisor, logger hclog.Logger) *LogStreamer {
	return &LogStreamer{
		sup:    sup,
		logger: logger.Named("log-streamer"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Stream sends the last lines of the session's log, then follows
// appends until the client disconnects.
func (ls *LogStreamer) Stream(c *gin.Context, sessionID uint) {
	conn, err := ls.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		ls.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	path, err := ls.sup.ResolveLogPath(sessionID)
	if err != nil {
		conn.WriteMessage(websocket.TextMessage, []byte("no log available for this session"))
		return
	}

	lines, err := encoder.TailLines(path, tailBacklog)
	if err != nil {
		conn.WriteMessage(websocket.TextMessage, []byte("failed to read log"))
		return
	}
	if len(lines) > 0 {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(strings.Join(lines, "\n"))); err != nil {
			return
		}
	}

	offset := int64(0)
	if info, err := os.Stat(path); err == nil {
		offset = info.Size()
	}

	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(followInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil || info.Size() <= offset {
				continue
			}
			chunk, err := readFrom(path, offset)
			if err != nil {
				continue
			}
			offset += int64(len(chunk))
			if len(chunk) > 0 {
				if err := conn.WriteMessage(websocket.TextMessage, chunk); err != nil {
					return
				}
			}
		case <-disconnected:
			return
		}
	}
}

func readFrom(path string, offset int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size() - offset
	if size <= 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}
