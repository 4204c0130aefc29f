package session

import (
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mantonx/streamforge/internal/database"
)

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func newTestStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	db := setupTestDB(t)
	return NewStore(db, hclog.NewNullLogger()), db
}

func createTestKey(t *testing.T, db *gorm.DB, status string) *database.StreamKey {
	t.Helper()
	key := &database.StreamKey{
		Name:   "main",
		Key:    "abcd-efgh-ijkl-wxyz",
		Status: status,
	}
	require.NoError(t, db.Create(key).Error)
	return key
}

func createSession(t *testing.T, db *gorm.DB, keyID uint, status string, pid int) *database.LiveSession {
	t.Helper()
	sess := &database.LiveSession{
		StreamKeyID: keyID,
		ContentKind: database.ContentVideo,
		ContentID:   1,
		Status:      status,
		EncoderPID:  pid,
		StartedAt:   time.Now().UTC().Add(-time.Minute),
	}
	require.NoError(t, db.Create(sess).Error)
	return sess
}

func TestCreateStartingAndMarkRunning(t *testing.T) {
	store, db := newTestStore(t)
	key := createTestKey(t, db, database.StreamKeyActive)

	sess := &database.LiveSession{
		StreamKeyID: key.ID,
		ContentKind: database.ContentVideo,
		ContentID:   1,
	}
	err := store.WithTx(func(tx *gorm.DB) error {
		return store.CreateStarting(tx, sess)
	})
	require.NoError(t, err)
	assert.Equal(t, database.SessionStarting, sess.Status)
	assert.False(t, sess.StartedAt.IsZero())

	require.NoError(t, store.MarkRunning(sess.ID, 4242))

	got, err := store.GetByID(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, database.SessionRunning, got.Status)
	assert.Equal(t, 4242, got.EncoderPID)
}

func TestMarkRunningRequiresStarting(t *testing.T) {
	store, db := newTestStore(t)
	key := createTestKey(t, db, database.StreamKeyActive)
	sess := createSession(t, db, key.ID, database.SessionStopped, 0)

	err := store.MarkRunning(sess.ID, 1)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestMarkRunningMissingSession(t *testing.T) {
	store, _ := newTestStore(t)
	err := store.MarkRunning(999, 1)
	assert.ErrorIs(t, err, ErrMissingSession)
}

func TestMarkRecoveringKeepsPid(t *testing.T) {
	store, db := newTestStore(t)
	key := createTestKey(t, db, database.StreamKeyActive)
	sess := createSession(t, db, key.ID, database.SessionRunning, 777)

	require.NoError(t, store.MarkRecovering(sess.ID, "broken pipe"))

	got, err := store.GetByID(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, database.SessionRecovering, got.Status)
	assert.Equal(t, 777, got.EncoderPID)
	assert.Equal(t, "broken pipe", got.LastError)
}

func TestMarkStoppedFinalizes(t *testing.T) {
	store, db := newTestStore(t)
	key := createTestKey(t, db, database.StreamKeyActive)
	sess := createSession(t, db, key.ID, database.SessionRunning, 777)

	require.NoError(t, store.MarkStopped(sess.ID))

	got, err := store.GetByID(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, database.SessionStopped, got.Status)
	assert.Zero(t, got.EncoderPID)
	require.NotNil(t, got.EndedAt)
	assert.True(t, !got.EndedAt.Before(got.StartedAt))
	assert.False(t, got.IsActive())

	// A second stop is an illegal transition, not a silent rewrite.
	assert.ErrorIs(t, store.MarkStopped(sess.ID), ErrIllegalTransition)
}

func TestMarkFailedRecordsError(t *testing.T) {
	store, db := newTestStore(t)
	key := createTestKey(t, db, database.StreamKeyActive)
	sess := createSession(t, db, key.ID, database.SessionRecovering, 777)

	require.NoError(t, store.MarkFailed(sess.ID, "encoder crashed repeatedly"))

	got, err := store.GetByID(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, database.SessionFailed, got.Status)
	assert.Equal(t, "encoder crashed repeatedly", got.LastError)
	assert.NotNil(t, got.EndedAt)
}

func TestMarkInterruptedFromStarting(t *testing.T) {
	store, db := newTestStore(t)
	key := createTestKey(t, db, database.StreamKeyActive)
	sess := createSession(t, db, key.ID, database.SessionStarting, 0)

	require.NoError(t, store.MarkInterrupted(sess.ID))

	got, err := store.GetByID(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, database.SessionInterrupted, got.Status)
	assert.NotNil(t, got.EndedAt)
}

func TestRecordRestartIncrements(t *testing.T) {
	store, db := newTestStore(t)
	key := createTestKey(t, db, database.StreamKeyActive)
	sess := createSession(t, db, key.ID, database.SessionRecovering, 777)

	require.NoError(t, store.RecordRestart(sess.ID, 888))

	got, err := store.GetByID(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, database.SessionRunning, got.Status)
	assert.Equal(t, 888, got.EncoderPID)
	assert.Equal(t, 1, got.RestartCount)
	assert.NotNil(t, got.LastRestartAt)
}

func TestResetRestartCount(t *testing.T) {
	store, db := newTestStore(t)
	key := createTestKey(t, db, database.StreamKeyActive)
	sess := createSession(t, db, key.ID, database.SessionRunning, 777)
	require.NoError(t, db.Model(sess).Updates(map[string]any{
		"restart_count":   3,
		"last_restart_at": time.Now().UTC().Add(-2 * time.Hour),
	}).Error)

	require.NoError(t, store.ResetRestartCount(sess.ID))

	got, err := store.GetByID(sess.ID)
	require.NoError(t, err)
	assert.Zero(t, got.RestartCount)
	assert.Nil(t, got.LastRestartAt)
}

func TestActiveQueriesAndHistory(t *testing.T) {
	store, db := newTestStore(t)
	keyA := createTestKey(t, db, database.StreamKeyActive)
	keyB := &database.StreamKey{Name: "backup", Key: "mnop-qrst", Status: database.StreamKeyActive}
	require.NoError(t, db.Create(keyB).Error)

	createSession(t, db, keyA.ID, database.SessionRunning, 100)
	createSession(t, db, keyB.ID, database.SessionRecovering, 200)
	createSession(t, db, keyB.ID, database.SessionStopped, 0)
	createSession(t, db, keyA.ID, database.SessionFailed, 0)

	active, err := store.ActiveSessions()
	require.NoError(t, err)
	assert.Len(t, active, 2)

	byKey, err := store.ActiveByStreamKey(keyB.ID)
	require.NoError(t, err)
	assert.Len(t, byKey, 1)

	count, err := store.CountActive()
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	history, err := store.History(10)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}
