package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantonx/streamforge/internal/database"
)

func TestAdmitUnknownKey(t *testing.T) {
	db := setupTestDB(t)
	adm := NewAdmission(10)

	_, err := adm.Admit(db, 42)
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestAdmitInactiveKey(t *testing.T) {
	db := setupTestDB(t)
	key := createTestKey(t, db, database.StreamKeyInactive)
	adm := NewAdmission(10)

	_, err := adm.Admit(db, key.ID)
	assert.ErrorIs(t, err, ErrInactiveKey)
}

func TestAdmitKeyBusy(t *testing.T) {
	db := setupTestDB(t)
	key := createTestKey(t, db, database.StreamKeyActive)
	createSession(t, db, key.ID, database.SessionRunning, 100)
	adm := NewAdmission(10)

	_, err := adm.Admit(db, key.ID)
	assert.ErrorIs(t, err, ErrKeyBusy)
}

func TestAdmitRecoveringStillHoldsKey(t *testing.T) {
	db := setupTestDB(t)
	key := createTestKey(t, db, database.StreamKeyActive)
	createSession(t, db, key.ID, database.SessionRecovering, 100)
	adm := NewAdmission(10)

	_, err := adm.Admit(db, key.ID)
	assert.ErrorIs(t, err, ErrKeyBusy)
}

func TestAdmitCapacityExhausted(t *testing.T) {
	db := setupTestDB(t)
	busyKey := createTestKey(t, db, database.StreamKeyActive)
	createSession(t, db, busyKey.ID, database.SessionRunning, 100)

	freeKey := &database.StreamKey{Name: "free", Key: "free-key", Status: database.StreamKeyActive}
	require.NoError(t, db.Create(freeKey).Error)

	adm := NewAdmission(1)
	_, err := adm.Admit(db, freeKey.ID)
	assert.ErrorIs(t, err, ErrCapacityExhausted)
}

// Two admissions racing past the policy checks must not both insert an
// active row; the partial unique index on live_sessions is the
// last-line guard and SQLite enforces it.
func TestActiveSessionUniquePerKey(t *testing.T) {
	db := setupTestDB(t)
	key := createTestKey(t, db, database.StreamKeyActive)
	createSession(t, db, key.ID, database.SessionRunning, 100)

	dup := &database.LiveSession{
		StreamKeyID: key.ID,
		ContentKind: database.ContentVideo,
		ContentID:   1,
		Status:      database.SessionStarting,
	}
	assert.Error(t, db.Create(dup).Error)

	// Terminal rows are history and stack up freely on the same key.
	createSession(t, db, key.ID, database.SessionStopped, 0)
	createSession(t, db, key.ID, database.SessionFailed, 0)
}

func TestAdmitOK(t *testing.T) {
	db := setupTestDB(t)
	key := createTestKey(t, db, database.StreamKeyActive)

	// Finished sessions release the key and the capacity slot.
	createSession(t, db, key.ID, database.SessionStopped, 0)

	adm := NewAdmission(1)
	got, err := adm.Admit(db, key.ID)
	require.NoError(t, err)
	assert.Equal(t, key.ID, got.ID)
	assert.Equal(t, key.Key, got.Key)
}
