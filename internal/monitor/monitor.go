package monitor

import (
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/streamforge/internal/database"
	"github.com/mantonx/streamforge/internal/encoder"
	"github.com/mantonx/streamforge/internal/session"
)

// recoveryDelays is the fallback restart ladder, indexed by the
// session's restart count. Past the end, the session is failed.
var recoveryDelays = []time.Duration{
	5 * time.Second,
	30 * time.Second,
	120 * time.Second,
	300 * time.Second,
	600 * time.Second,
}

// stableAfter is how long a session must run since its last restart
// before the restart counter resets.
const stableAfter = time.Hour

// staleStartingAfter is how long a session may sit in starting with no
// supervisor entry before it is written off as a crashed start.
const staleStartingAfter = time.Minute

// Monitor is the periodic health loop. Each tick it reaps finished
// encoders, enforces duration caps, restarts sessions whose encoder
// the supervisor no longer tracks, and resets restart counters on
// proven stability. The supervisor's own restart path always wins: if
// it tracks a session, the monitor only enforces the duration cap.
type Monitor struct {
	manager  *session.Manager
	interval time.Duration
	logger   hclog.Logger

	mu       sync.Mutex
	inFlight map[uint]bool

	quit chan struct{}
	once sync.Once
}

func New(manager *session.Manager, interval time.Duration, logger hclog.Logger) *Monitor {
	return &Monitor{
		manager:  manager,
		interval: interval,
		logger:   logger.Named("health-monitor"),
		inFlight: make(map[uint]bool),
		quit:     make(chan struct{}),
	}
}

// Start launches the loop.
func (m *Monitor) Start() {
	go m.run()
}

// Close stops the loop. In-flight delayed restarts still complete.
func (m *Monitor) Close() {
	m.once.Do(func() { close(m.quit) })
}

func (m *Monitor) run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Tick()
		case <-m.quit:
			return
		}
	}
}

// Tick runs one inspection pass. Exported so tests can drive the loop
// without waiting on the ticker.
func (m *Monitor) Tick() {
	m.manager.ReapFinished()

	store := m.manager.Store()
	sessions, err := store.ActiveSessions()
	if err != nil {
		m.logger.Error("failed to list active sessions", "error", err)
		return
	}
	sup := m.manager.Supervisor()
	now := time.Now().UTC()

	for i := range sessions {
		sess := &sessions[i]

		if m.overDurationCap(sess, now) {
			m.logger.Info("duration cap reached, stopping session",
				"session_id", sess.ID, "max_hours", sess.MaxDurationHours)
			if _, err := m.manager.Stop(sess.ID); err != nil {
				m.logger.Error("failed to stop capped session", "session_id", sess.ID, "error", err)
			}
			continue
		}

		if sess.Status == database.SessionStarting {
			// A start is in flight; leave it to its caller. A row this
			// old with no supervisor entry means the host died mid-start
			// and nobody will ever mark it running.
			if !sup.Tracks(sess.ID) && now.Sub(sess.StartedAt) >= staleStartingAfter {
				m.logger.Warn("stale starting session, marking interrupted",
					"session_id", sess.ID, "age", now.Sub(sess.StartedAt))
				if err := store.MarkInterrupted(sess.ID); err != nil {
					m.logger.Error("failed to finalize stale start", "session_id", sess.ID, "error", err)
				}
			}
			continue
		}

		if sup.Tracks(sess.ID) {
			m.maybeResetStability(sess, now)
			continue
		}

		switch sess.Status {
		case database.SessionRunning:
			if m.manager.EncoderAlive(sess.EncoderPID) {
				m.maybeResetStability(sess, now)
				continue
			}
			m.beginRecovery(sess)
		case database.SessionRecovering:
			// Re-arm restarts lost to a host restart.
			m.scheduleRecovery(sess)
		}
	}
}

func (m *Monitor) overDurationCap(sess *database.LiveSession, now time.Time) bool {
	if sess.MaxDurationHours <= 0 {
		return false
	}
	limit := time.Duration(sess.MaxDurationHours * float64(time.Hour))
	return now.Sub(sess.StartedAt) >= limit
}

func (m *Monitor) maybeResetStability(sess *database.LiveSession, now time.Time) {
	if sess.Status != database.SessionRunning || sess.RestartCount == 0 {
		return
	}
	since := sess.StartedAt
	if sess.LastRestartAt != nil {
		since = *sess.LastRestartAt
	}
	if now.Sub(since) < stableAfter {
		return
	}
	if err := m.manager.Store().ResetRestartCount(sess.ID); err != nil {
		m.logger.Error("failed to reset restart count", "session_id", sess.ID, "error", err)
		return
	}
	m.logger.Info("session stable, restart counter reset", "session_id", sess.ID)
}

// beginRecovery moves a dead running session to recovering with the
// last diagnostic line from its log, then arms the delayed restart.
func (m *Monitor) beginRecovery(sess *database.LiveSession) {
	reason := "encoder process disappeared"
	if path, err := m.manager.Supervisor().ResolveLogPath(sess.ID); err == nil {
		if line := encoder.LastErrorLine(path); line != "" {
			reason = line
		}
	}

	if sess.RestartCount >= len(recoveryDelays) {
		m.logger.Error("restart ladder exhausted", "session_id", sess.ID, "restarts", sess.RestartCount)
		if err := m.manager.Store().MarkFailed(sess.ID, reason); err != nil {
			m.logger.Error("failed to finalize session", "session_id", sess.ID, "error", err)
		}
		return
	}

	if err := m.manager.Store().MarkRecovering(sess.ID, reason); err != nil {
		// Lost the race with a stop or another writer.
		return
	}
	m.logger.Warn("encoder dead, session recovering",
		"session_id", sess.ID, "pid", sess.EncoderPID, "reason", reason)
	sess.Status = database.SessionRecovering
	m.scheduleRecovery(sess)
}

// scheduleRecovery arms one delayed restart per session. The delay is
// indexed by the restart count so repeated failures back off.
func (m *Monitor) scheduleRecovery(sess *database.LiveSession) {
	if sess.RestartCount >= len(recoveryDelays) {
		if err := m.manager.Store().MarkFailed(sess.ID, sess.LastError); err != nil {
			m.logger.Error("failed to finalize session", "session_id", sess.ID, "error", err)
		}
		return
	}

	m.mu.Lock()
	if m.inFlight[sess.ID] {
		m.mu.Unlock()
		return
	}
	m.inFlight[sess.ID] = true
	m.mu.Unlock()

	delay := recoveryDelays[sess.RestartCount]
	m.logger.Info("restart scheduled", "session_id", sess.ID, "delay", delay, "attempt", sess.RestartCount+1)

	go func(id uint, d time.Duration) {
		defer func() {
			m.mu.Lock()
			delete(m.inFlight, id)
			m.mu.Unlock()
		}()
		select {
		case <-time.After(d):
		case <-m.quit:
			return
		}
		if err := m.manager.Recover(id); err != nil {
			m.logger.Error("delayed restart failed", "session_id", id, "error", err)
		}
	}(sess.ID, delay)
}
