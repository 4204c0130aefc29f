package encoder

import (
	"os"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantonx/streamforge/internal/config"
)

func testSupervisor(t *testing.T, ffmpegPath string) *Supervisor {
	t.Helper()
	return NewSupervisor(config.EncoderConfig{
		FFmpegPath:    ffmpegPath,
		IngestBaseURL: "rtmp://localhost/live2",
		LogDir:        t.TempDir(),
		ManifestDir:   t.TempDir(),
	}, hclog.NewNullLogger())
}

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, 5*time.Second, backoffDelay(1))
	assert.Equal(t, 10*time.Second, backoffDelay(2))
	assert.Equal(t, 20*time.Second, backoffDelay(3))
	assert.Equal(t, 40*time.Second, backoffDelay(4))
	assert.Equal(t, 80*time.Second, backoffDelay(5))
	// Capped past the ladder.
	assert.Equal(t, 80*time.Second, backoffDelay(9))
}

func TestStartSpawnFailure(t *testing.T) {
	sup := testSupervisor(t, "/nonexistent/ffmpeg-binary")

	_, _, err := sup.Start(StartSpec{
		SessionID:  1,
		StreamKey:  "abcd-1234",
		Loop:       true,
		MediaPaths: []string{"/media/a.mp4"},
	})
	require.Error(t, err)
	assert.False(t, sup.Tracks(1))

	// The manifest must not survive a failed spawn.
	entries, err := os.ReadDir(sup.cfg.ManifestDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// A crashing encoder gets maxRetries respawns and then the exhaustion
// callback. /bin/false exits nonzero immediately, which is the crash
// path; the backoff is shortened so the ladder runs in milliseconds.
func TestCrashRestartLadderExhausts(t *testing.T) {
	sup := testSupervisor(t, "/bin/false")
	sup.backoff = func(int) time.Duration { return time.Millisecond }

	restarts := make(chan int, maxRetries+1)
	exhausted := make(chan string, 1)
	sup.OnRestarted(func(id uint, pid int) {
		assert.Equal(t, uint(3), id)
		restarts <- pid
	})
	sup.OnExhausted(func(id uint, lastErr string) {
		assert.Equal(t, uint(3), id)
		exhausted <- lastErr
	})

	pid, logPath, err := sup.Start(StartSpec{
		SessionID:  3,
		StreamKey:  "abcd-1234",
		MediaPaths: []string{"/media/a.mp4"},
	})
	require.NoError(t, err)
	assert.Greater(t, pid, 0)
	assert.FileExists(t, logPath)

	select {
	case <-exhausted:
	case <-time.After(10 * time.Second):
		t.Fatal("retry budget never ran out")
	}
	assert.Len(t, restarts, maxRetries)
	assert.False(t, sup.Tracks(3))

	// Exhaustion cleans up the concat file.
	entries, err := os.ReadDir(sup.cfg.ManifestDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// A duplicate Start must bounce off the registry before it touches the
// filesystem; concat file names are per-session and a rejected call
// must not clobber the live entry's file.
func TestStartDuplicateLeavesLiveManifestAlone(t *testing.T) {
	sup := testSupervisor(t, "/nonexistent/ffmpeg-binary")

	manifest, err := writeConcatFile(sup.cfg.ManifestDir, 7, "playlist", []string{"/media/live.mp4"})
	require.NoError(t, err)
	before, err := os.ReadFile(manifest)
	require.NoError(t, err)

	sup.mu.Lock()
	sup.procs[7] = &proc{manifests: []string{manifest}}
	sup.mu.Unlock()

	_, _, err = sup.Start(StartSpec{
		SessionID:  7,
		StreamKey:  "abcd-1234",
		MediaPaths: []string{"/media/other.mp4"},
	})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	after, err := os.ReadFile(manifest)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestStartEmptyPlan(t *testing.T) {
	sup := testSupervisor(t, "/nonexistent/ffmpeg-binary")

	_, _, err := sup.Start(StartSpec{SessionID: 2, StreamKey: "k"})
	assert.ErrorIs(t, err, ErrEmptyPlan)
}

func TestStopUnknownSessionIsIdempotent(t *testing.T) {
	sup := testSupervisor(t, "ffmpeg")
	assert.NoError(t, sup.Stop(42))
}

func TestSessionStatusUntracked(t *testing.T) {
	sup := testSupervisor(t, "ffmpeg")
	_, ok := sup.SessionStatus(5)
	assert.False(t, ok)
}
