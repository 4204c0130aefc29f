package session

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/shirou/gopsutil/v4/process"
	"gorm.io/gorm"

	"github.com/mantonx/streamforge/internal/config"
	"github.com/mantonx/streamforge/internal/database"
	"github.com/mantonx/streamforge/internal/encoder"
)

// Manager is the top-level session API. It composes admission, the
// store, content resolution, and the encoder supervisor into the
// start/stop/recover flows, and it is the only component that touches
// more than one of them in a single operation.
type Manager struct {
	store     *Store
	admission *Admission
	resolver  ContentResolver
	sup       *encoder.Supervisor

	encoderName string
	ingestBase  string
	logger      hclog.Logger
}

// StartInput is one start request, manual or scheduled.
type StartInput struct {
	StreamKeyID      uint
	Content          Content
	Loop             bool
	MaxDurationHours float64
}

func NewManager(store *Store, admission *Admission, resolver ContentResolver, sup *encoder.Supervisor, cfg config.EncoderConfig, logger hclog.Logger) *Manager {
	m := &Manager{
		store:       store,
		admission:   admission,
		resolver:    resolver,
		sup:         sup,
		encoderName: filepath.Base(cfg.FFmpegPath),
		ingestBase:  cfg.IngestBaseURL,
		logger:      logger.Named("session-manager"),
	}
	sup.OnRestarted(m.handleRestarted)
	sup.OnExhausted(m.handleExhausted)
	return m
}

// handleRestarted records a supervisor-driven crash restart.
func (m *Manager) handleRestarted(sessionID uint, pid int) {
	if err := m.store.RecordRestart(sessionID, pid); err != nil {
		m.logger.Error("failed to record restart", "session_id", sessionID, "error", err)
	}
}

// handleExhausted finalizes a session whose retry budget is spent.
func (m *Manager) handleExhausted(sessionID uint, lastError string) {
	if lastError == "" {
		lastError = "encoder crashed repeatedly"
	}
	if err := m.store.MarkFailed(sessionID, lastError); err != nil {
		m.logger.Error("failed to mark session failed", "session_id", sessionID, "error", err)
	}
}

// StartManual validates, admits, and launches a new session. Admission
// and the starting-row insert share one transaction, so two racing
// starts on the same key cannot both pass.
func (m *Manager) StartManual(in StartInput) (*database.LiveSession, error) {
	resolved, err := m.resolver.Resolve(in.Content)
	if err != nil {
		return nil, err
	}

	var sess database.LiveSession
	var key *database.StreamKey
	err = m.store.WithTx(func(tx *gorm.DB) error {
		k, err := m.admission.Admit(tx, in.StreamKeyID)
		if err != nil {
			return err
		}
		key = k
		sess = database.LiveSession{
			StreamKeyID:      in.StreamKeyID,
			ContentKind:      in.Content.Kind,
			ContentID:        in.Content.ID,
			ContentName:      resolved.Name,
			Loop:             in.Loop,
			MaxDurationHours: in.MaxDurationHours,
		}
		return m.store.CreateStarting(tx, &sess)
	})
	if err != nil {
		return nil, err
	}

	pid, logPath, err := m.sup.Start(encoder.StartSpec{
		SessionID:  sess.ID,
		StreamKey:  key.Key,
		Loop:       in.Loop,
		MediaPaths: resolved.MediaPaths,
		Music:      resolved.Music,
	})
	if err != nil {
		if markErr := m.store.MarkFailed(sess.ID, err.Error()); markErr != nil {
			m.logger.Error("failed to finalize unstartable session", "session_id", sess.ID, "error", markErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	if err := m.store.MarkRunning(sess.ID, pid); err != nil {
		// The session was stopped between spawn and the running mark.
		// The stop path already tore the encoder down.
		m.logger.Warn("session finalized before running mark", "session_id", sess.ID, "error", err)
		return m.store.GetByID(sess.ID)
	}

	m.logger.Info("session started",
		"session_id", sess.ID,
		"stream_key", key.MaskedKey(),
		"content", resolved.Name,
		"pid", pid,
		"log", logPath)
	return m.store.GetByID(sess.ID)
}

// Stop terminates one session and finalizes its row. Stopping an
// already-finished session is a no-op that returns the row as-is.
func (m *Manager) Stop(sessionID uint) (*database.LiveSession, error) {
	sess, err := m.store.GetByID(sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsActive() {
		return sess, nil
	}

	if err := m.sup.Stop(sessionID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStopFailed, err)
	}
	if err := m.store.MarkStopped(sessionID); err != nil && !errors.Is(err, ErrIllegalTransition) {
		return nil, err
	}
	return m.store.GetByID(sessionID)
}

// StopByKey stops every active session bound to a stream key and
// returns the stopped rows.
func (m *Manager) StopByKey(streamKeyID uint) ([]database.LiveSession, error) {
	if _, err := m.store.GetStreamKey(streamKeyID); err != nil {
		return nil, err
	}
	active, err := m.store.ActiveByStreamKey(streamKeyID)
	if err != nil {
		return nil, err
	}
	var stopped []database.LiveSession
	for _, sess := range active {
		s, err := m.Stop(sess.ID)
		if err != nil {
			m.logger.Error("failed to stop session", "session_id", sess.ID, "error", err)
			continue
		}
		stopped = append(stopped, *s)
	}
	return stopped, nil
}

// StopAll stops every active session. It keeps going past individual
// failures and reports both counts.
func (m *Manager) StopAll() (stopped, failed int) {
	active, err := m.store.ActiveSessions()
	if err != nil {
		m.logger.Error("failed to list active sessions", "error", err)
		return 0, 0
	}
	for _, sess := range active {
		if _, err := m.Stop(sess.ID); err != nil {
			m.logger.Error("failed to stop session", "session_id", sess.ID, "error", err)
			failed++
			continue
		}
		stopped++
	}
	return stopped, failed
}

// Recover completes a monitor-scheduled delayed restart. It re-checks
// that the session still wants to run; a stop or failure that landed
// during the delay wins.
func (m *Manager) Recover(sessionID uint) error {
	sess, err := m.store.GetByID(sessionID)
	if err != nil {
		return err
	}
	if sess.Status != database.SessionRecovering {
		return nil
	}
	if m.sup.Tracks(sessionID) {
		return nil
	}

	resolved, err := m.resolver.Resolve(Content{Kind: sess.ContentKind, ID: sess.ContentID})
	if err != nil {
		m.store.MarkFailed(sessionID, fmt.Sprintf("restart aborted: %v", err))
		return err
	}
	key, err := m.store.GetStreamKey(sess.StreamKeyID)
	if err != nil {
		m.store.MarkFailed(sessionID, fmt.Sprintf("restart aborted: %v", err))
		return err
	}

	pid, _, err := m.sup.Start(encoder.StartSpec{
		SessionID:  sessionID,
		StreamKey:  key.Key,
		Loop:       sess.Loop,
		MediaPaths: resolved.MediaPaths,
		Music:      resolved.Music,
	})
	if err != nil {
		m.store.MarkFailed(sessionID, err.Error())
		return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	m.logger.Info("session recovered", "session_id", sessionID, "pid", pid)
	return m.store.RecordRestart(sessionID, pid)
}

// ReapFinished collects encoders that played out a finite playlist and
// finalizes their sessions as stopped.
func (m *Manager) ReapFinished() {
	for _, id := range m.sup.Reap() {
		if err := m.store.MarkStopped(id); err != nil && !errors.Is(err, ErrIllegalTransition) {
			m.logger.Error("failed to finalize finished session", "session_id", id, "error", err)
		} else {
			m.logger.Info("session played out", "session_id", id)
		}
	}
}

// EncoderAlive reports whether pid is a live process running the
// encoder binary. The name check guards against pid reuse.
func (m *Manager) EncoderAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	name, err := p.Name()
	if err != nil {
		return false
	}
	return strings.Contains(name, m.encoderName)
}

// ForceReapOrphans kills encoder processes that no active session row
// accounts for, and finalizes rows whose pid no longer exists. Run at
// boot before traffic is accepted, and on operator request.
func (m *Manager) ForceReapOrphans() (int, error) {
	active, err := m.store.ActiveSessions()
	if err != nil {
		return 0, err
	}
	owned := make(map[int32]bool)
	for _, sess := range active {
		if sess.EncoderPID > 0 {
			owned[int32(sess.EncoderPID)] = true
		}
	}
	for _, id := range m.sup.ActiveSessions() {
		if pid, ok := m.sup.PID(id); ok && pid > 0 {
			owned[int32(pid)] = true
		}
	}

	procs, err := process.Processes()
	if err != nil {
		return 0, fmt.Errorf("failed to enumerate processes: %w", err)
	}
	killed := 0
	for _, p := range procs {
		name, err := p.Name()
		if err != nil || !strings.Contains(name, m.encoderName) {
			continue
		}
		cmdline, err := p.Cmdline()
		if err != nil || !strings.Contains(cmdline, m.ingestBase) {
			continue
		}
		if owned[p.Pid] {
			continue
		}
		m.logger.Warn("killing orphan encoder", "pid", p.Pid)
		if err := p.Terminate(); err == nil {
			time.Sleep(500 * time.Millisecond)
		}
		if alive, _ := p.IsRunning(); alive {
			if err := p.Kill(); err != nil {
				m.logger.Error("failed to kill orphan encoder", "pid", p.Pid, "error", err)
				continue
			}
		}
		killed++
	}

	// Rows that claim a pid nothing in the OS backs are leftovers from
	// a prior host process.
	for _, sess := range active {
		if m.sup.Tracks(sess.ID) {
			continue
		}
		if sess.Status == database.SessionRunning && !m.EncoderAlive(sess.EncoderPID) {
			if err := m.store.MarkInterrupted(sess.ID); err != nil && !errors.Is(err, ErrIllegalTransition) {
				m.logger.Error("failed to mark session interrupted", "session_id", sess.ID, "error", err)
			} else {
				m.logger.Warn("session interrupted by host restart", "session_id", sess.ID)
			}
		}
	}

	return killed, nil
}

// Supervisor exposes the encoder supervisor for status and log reads.
func (m *Manager) Supervisor() *encoder.Supervisor {
	return m.sup
}

// Store exposes the session store for read-side callers.
func (m *Manager) Store() *Store {
	return m.store
}
