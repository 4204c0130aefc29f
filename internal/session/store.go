package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/mantonx/streamforge/internal/database"
)

// Store is the transactional layer over live session rows. Every
// status change goes through a dedicated transition method that
// asserts the from-state with a compare-and-set update, so concurrent
// writers (stop requests, the supervisor, the health monitor) cannot
// clobber each other.
type Store struct {
	db     *gorm.DB
	logger hclog.Logger
}

func NewStore(db *gorm.DB, logger hclog.Logger) *Store {
	return &Store{db: db, logger: logger.Named("session-store")}
}

// WithTx runs fn inside a database transaction.
func (s *Store) WithTx(fn func(tx *gorm.DB) error) error {
	return s.db.Transaction(fn)
}

// CreateStarting inserts a new session row in the starting state. It
// runs on the caller's transaction so admission and the insert commit
// atomically.
func (s *Store) CreateStarting(tx *gorm.DB, sess *database.LiveSession) error {
	sess.Status = database.SessionStarting
	sess.StartedAt = time.Now().UTC()
	if err := tx.Create(sess).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// transition applies updates to the row only if its current status is
// one of from. Zero rows affected means either the row is gone or
// another writer got there first.
func (s *Store) transition(id uint, from []string, updates map[string]any) error {
	res := s.db.Model(&database.LiveSession{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update session %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		s.db.Model(&database.LiveSession{}).Where("id = ?", id).Count(&count)
		if count == 0 {
			return ErrMissingSession
		}
		return fmt.Errorf("%w: session %d not in %v", ErrIllegalTransition, id, from)
	}
	return nil
}

// MarkRunning moves a starting session to running and records the
// encoder pid.
func (s *Store) MarkRunning(id uint, pid int) error {
	return s.transition(id, []string{database.SessionStarting}, map[string]any{
		"status":      database.SessionRunning,
		"encoder_pid": pid,
	})
}

// RecordRestart moves a session back to running after a crash
// restart, with the replacement pid and an incremented restart count.
func (s *Store) RecordRestart(id uint, pid int) error {
	return s.transition(id,
		[]string{database.SessionRunning, database.SessionRecovering},
		map[string]any{
			"status":          database.SessionRunning,
			"encoder_pid":     pid,
			"restart_count":   gorm.Expr("restart_count + 1"),
			"last_restart_at": time.Now().UTC(),
		})
}

// MarkRecovering flags a running session whose encoder died. The stale
// pid is kept on the row until a replacement is spawned or the session
// is finalized.
func (s *Store) MarkRecovering(id uint, reason string) error {
	return s.transition(id, []string{database.SessionRunning}, map[string]any{
		"status":     database.SessionRecovering,
		"last_error": reason,
	})
}

// MarkStopped finalizes a session as operator-stopped.
func (s *Store) MarkStopped(id uint) error {
	return s.transition(id, database.ActiveSessionStatuses, map[string]any{
		"status":      database.SessionStopped,
		"encoder_pid": 0,
		"ended_at":    time.Now().UTC(),
	})
}

// MarkFailed finalizes a session after an unrecoverable error.
func (s *Store) MarkFailed(id uint, errMsg string) error {
	return s.transition(id, database.ActiveSessionStatuses, map[string]any{
		"status":      database.SessionFailed,
		"encoder_pid": 0,
		"ended_at":    time.Now().UTC(),
		"last_error":  errMsg,
	})
}

// MarkInterrupted finalizes a session whose encoder vanished while the
// host process was down. Starting is included for rows stranded by a
// crash between the insert and the running mark.
func (s *Store) MarkInterrupted(id uint) error {
	return s.transition(id,
		[]string{database.SessionStarting, database.SessionRunning, database.SessionRecovering},
		map[string]any{
			"status":      database.SessionInterrupted,
			"encoder_pid": 0,
			"ended_at":    time.Now().UTC(),
		})
}

// ResetRestartCount zeroes the restart counter of a session that has
// proven stable, so a later crash starts a fresh backoff ladder.
func (s *Store) ResetRestartCount(id uint) error {
	res := s.db.Model(&database.LiveSession{}).
		Where("id = ? AND status = ? AND restart_count > 0", id, database.SessionRunning).
		Updates(map[string]any{"restart_count": 0, "last_restart_at": nil})
	if res.Error != nil {
		return fmt.Errorf("failed to reset restart count for session %d: %w", id, res.Error)
	}
	return nil
}

// GetByID loads one session.
func (s *Store) GetByID(id uint) (*database.LiveSession, error) {
	var sess database.LiveSession
	if err := s.db.First(&sess, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMissingSession
		}
		return nil, err
	}
	return &sess, nil
}

// GetStreamKey loads one stream key.
func (s *Store) GetStreamKey(id uint) (*database.StreamKey, error) {
	var key database.StreamKey
	if err := s.db.First(&key, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownKey
		}
		return nil, err
	}
	return &key, nil
}

// ActiveSessions lists every session in a key-holding state.
func (s *Store) ActiveSessions() ([]database.LiveSession, error) {
	var sessions []database.LiveSession
	err := s.db.Where("status IN ?", database.ActiveSessionStatuses).
		Order("started_at").
		Find(&sessions).Error
	return sessions, err
}

// ActiveByStreamKey lists the active sessions bound to one stream key.
func (s *Store) ActiveByStreamKey(keyID uint) ([]database.LiveSession, error) {
	var sessions []database.LiveSession
	err := s.db.
		Where("stream_key_id = ? AND status IN ?", keyID, database.ActiveSessionStatuses).
		Find(&sessions).Error
	return sessions, err
}

// CountActive counts sessions holding capacity.
func (s *Store) CountActive() (int64, error) {
	var count int64
	err := s.db.Model(&database.LiveSession{}).
		Where("status IN ?", database.ActiveSessionStatuses).
		Count(&count).Error
	return count, err
}

// History lists finished sessions, newest first. Terminal rows double
// as the streaming history; nothing is ever deleted.
func (s *Store) History(limit int) ([]database.LiveSession, error) {
	var sessions []database.LiveSession
	q := s.db.Where("status IN ?", []string{
		database.SessionStopped, database.SessionFailed, database.SessionInterrupted,
	}).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&sessions).Error
	return sessions, err
}
