package session

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mantonx/streamforge/internal/database"
)

// Admission enforces the start-time policy checks: the key must exist
// and be active, no other session may hold it, and the global
// concurrency cap must have room. Every start path (manual, scheduled,
// crash recovery re-spawn excepted) routes through here.
type Admission struct {
	maxConcurrent int
}

func NewAdmission(maxConcurrent int) *Admission {
	return &Admission{maxConcurrent: maxConcurrent}
}

// Admit checks whether a new session may start on the key. It runs on
// the caller's transaction; the caller reserves the slot by inserting
// the starting row before committing, which makes the reservation
// visible to every later Admit call.
//
// The key row is locked for the span of the transaction so two
// concurrent admissions on the same key serialize. SQLite has a single
// writer and its driver drops the locking clause; on Postgres this is
// SELECT ... FOR UPDATE. The partial unique index on live_sessions
// backs the same rule at the schema level.
func (a *Admission) Admit(tx *gorm.DB, streamKeyID uint) (*database.StreamKey, error) {
	var key database.StreamKey
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&key, streamKeyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownKey
		}
		return nil, fmt.Errorf("failed to load stream key %d: %w", streamKeyID, err)
	}
	if key.Status != database.StreamKeyActive {
		return nil, ErrInactiveKey
	}

	var busy int64
	err := tx.Model(&database.LiveSession{}).
		Where("stream_key_id = ? AND status IN ?", streamKeyID, database.ActiveSessionStatuses).
		Count(&busy).Error
	if err != nil {
		return nil, err
	}
	if busy > 0 {
		return nil, ErrKeyBusy
	}

	var total int64
	err = tx.Model(&database.LiveSession{}).
		Where("status IN ?", database.ActiveSessionStatuses).
		Count(&total).Error
	if err != nil {
		return nil, err
	}
	if total >= int64(a.maxConcurrent) {
		return nil, ErrCapacityExhausted
	}

	return &key, nil
}
