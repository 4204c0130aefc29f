package monitor

import (
	"os"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mantonx/streamforge/internal/config"
	"github.com/mantonx/streamforge/internal/database"
	"github.com/mantonx/streamforge/internal/encoder"
	"github.com/mantonx/streamforge/internal/session"
)

type fakeResolver struct{}

func (fakeResolver) Resolve(c session.Content) (*session.ResolvedContent, error) {
	return &session.ResolvedContent{Name: "clip", MediaPaths: []string{"/media/clip.mp4"}}, nil
}

type fixture struct {
	db      *gorm.DB
	manager *session.Manager
	mon     *Monitor
	key     *database.StreamKey
}

// setup builds a monitor whose "encoder binary" is the test binary
// itself, so the test process pid counts as a live encoder.
func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	logger := hclog.NewNullLogger()
	cfg := config.EncoderConfig{
		FFmpegPath:    os.Args[0],
		IngestBaseURL: "rtmp://localhost/live2",
		LogDir:        t.TempDir(),
		ManifestDir:   t.TempDir(),
	}
	store := session.NewStore(db, logger)
	sup := encoder.NewSupervisor(cfg, logger)
	manager := session.NewManager(store, session.NewAdmission(10), fakeResolver{}, sup, cfg, logger)

	mon := New(manager, 10*time.Second, logger)
	t.Cleanup(mon.Close)

	key := &database.StreamKey{Name: "main", Key: "abcd-wxyz", Status: database.StreamKeyActive}
	require.NoError(t, db.Create(key).Error)

	return &fixture{db: db, manager: manager, mon: mon, key: key}
}

func (f *fixture) createSession(t *testing.T, status string, pid int, started time.Time) *database.LiveSession {
	t.Helper()
	sess := &database.LiveSession{
		StreamKeyID: f.key.ID,
		ContentKind: database.ContentVideo,
		ContentID:   1,
		Status:      status,
		EncoderPID:  pid,
		StartedAt:   started,
	}
	require.NoError(t, f.db.Create(sess).Error)
	return sess
}

func TestTickStopsSessionPastDurationCap(t *testing.T) {
	f := setup(t)
	sess := f.createSession(t, database.SessionRunning, os.Getpid(), time.Now().UTC().Add(-2*time.Hour))
	require.NoError(t, f.db.Model(sess).Update("max_duration_hours", 1.0).Error)

	f.mon.Tick()

	got, err := f.manager.Store().GetByID(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, database.SessionStopped, got.Status)
	assert.NotNil(t, got.EndedAt)
}

func TestTickLeavesHealthySessionAlone(t *testing.T) {
	f := setup(t)
	// The test process stands in for a live encoder.
	sess := f.createSession(t, database.SessionRunning, os.Getpid(), time.Now().UTC().Add(-time.Minute))

	f.mon.Tick()

	got, err := f.manager.Store().GetByID(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, database.SessionRunning, got.Status)
}

func TestTickMarksDeadSessionRecovering(t *testing.T) {
	f := setup(t)
	sess := f.createSession(t, database.SessionRunning, 1<<30, time.Now().UTC().Add(-time.Minute))

	f.mon.Tick()

	got, err := f.manager.Store().GetByID(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, database.SessionRecovering, got.Status)
	// Stale pid stays on the row until a replacement spawns.
	assert.Equal(t, 1<<30, got.EncoderPID)
	assert.NotEmpty(t, got.LastError)
}

func TestTickFailsSessionPastRestartLadder(t *testing.T) {
	f := setup(t)
	sess := f.createSession(t, database.SessionRunning, 1<<30, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, f.db.Model(sess).Update("restart_count", len(recoveryDelays)).Error)

	f.mon.Tick()

	got, err := f.manager.Store().GetByID(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, database.SessionFailed, got.Status)
}

func TestTickSkipsStartingSessions(t *testing.T) {
	f := setup(t)
	sess := f.createSession(t, database.SessionStarting, 0, time.Now().UTC())

	f.mon.Tick()

	got, err := f.manager.Store().GetByID(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, database.SessionStarting, got.Status)
}

// A host crash between the starting insert and the running mark leaves
// a row no caller will ever finish. The monitor writes it off once it
// is old enough, releasing the key.
func TestTickInterruptsStaleStartingSession(t *testing.T) {
	f := setup(t)
	sess := f.createSession(t, database.SessionStarting, 0, time.Now().UTC().Add(-5*time.Minute))

	f.mon.Tick()

	got, err := f.manager.Store().GetByID(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, database.SessionInterrupted, got.Status)
	assert.NotNil(t, got.EndedAt)
	assert.False(t, got.IsActive())
}

func TestTickResetsRestartCountAfterStableHour(t *testing.T) {
	f := setup(t)
	sess := f.createSession(t, database.SessionRunning, os.Getpid(), time.Now().UTC().Add(-3*time.Hour))
	require.NoError(t, f.db.Model(sess).Updates(map[string]any{
		"restart_count":   2,
		"last_restart_at": time.Now().UTC().Add(-90 * time.Minute),
	}).Error)

	f.mon.Tick()

	got, err := f.manager.Store().GetByID(sess.ID)
	require.NoError(t, err)
	assert.Zero(t, got.RestartCount)
}

func TestTickKeepsRestartCountWithinStabilityWindow(t *testing.T) {
	f := setup(t)
	sess := f.createSession(t, database.SessionRunning, os.Getpid(), time.Now().UTC().Add(-3*time.Hour))
	require.NoError(t, f.db.Model(sess).Updates(map[string]any{
		"restart_count":   2,
		"last_restart_at": time.Now().UTC().Add(-10 * time.Minute),
	}).Error)

	f.mon.Tick()

	got, err := f.manager.Store().GetByID(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RestartCount)
}
