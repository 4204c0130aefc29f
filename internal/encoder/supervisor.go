package encoder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/streamforge/internal/config"
)

const (
	// maxRetries bounds consecutive crash restarts before a session is
	// declared failed.
	maxRetries = 5

	// stopGrace is how long a graceful 'q' gets before escalation.
	stopGrace = 5 * time.Second
	// termGrace is how long SIGTERM gets before SIGKILL.
	termGrace = 3 * time.Second
)

// ErrAlreadyRunning rejects a second Start for a session the supervisor
// still tracks.
var ErrAlreadyRunning = errors.New("session already has an encoder")

// Supervisor owns every encoder subprocess. It spawns them, restarts
// crashed ones with exponential backoff, and tears them down on stop.
// Registry presence is the ownership signal: while a session has an
// entry here, the supervisor is the only component allowed to restart
// it.
type Supervisor struct {
	cfg    config.EncoderConfig
	logger hclog.Logger

	mu    sync.Mutex
	procs map[uint]*proc

	// backoff is swapped out in tests; production uses backoffDelay.
	backoff func(attempt int) time.Duration

	onRestarted func(sessionID uint, pid int)
	onExhausted func(sessionID uint, lastError string)
}

// proc is one tracked encoder incarnation chain. cmd and done are
// replaced together on respawn, always under the supervisor mutex.
type proc struct {
	spec      StartSpec
	args      []string
	manifests []string
	logPath   string
	logFile   *os.File

	cmd       *exec.Cmd
	stdin     io.WriteCloser
	done      chan struct{}
	startedAt time.Time
	exitCode  int

	retries    int
	stopped    bool
	waiting    bool
	terminated bool
}

// Status is a point-in-time view of one tracked encoder.
type Status struct {
	PID           int       `json:"pid"`
	Running       bool      `json:"running"`
	ExitCode      int       `json:"exit_code"`
	StartedAt     time.Time `json:"started_at"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	RestartCount  int       `json:"restart_count"`
	MaxRetries    int       `json:"max_retries"`
}

// NewSupervisor builds a supervisor. Callbacks are wired before any
// Start call.
func NewSupervisor(cfg config.EncoderConfig, logger hclog.Logger) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		logger:  logger.Named("encoder"),
		procs:   make(map[uint]*proc),
		backoff: backoffDelay,
	}
}

// OnRestarted registers the callback fired after a crashed encoder is
// respawned, with the new pid.
func (s *Supervisor) OnRestarted(fn func(sessionID uint, pid int)) {
	s.onRestarted = fn
}

// OnExhausted registers the callback fired when the retry budget is
// spent. The entry is already removed when it fires.
func (s *Supervisor) OnExhausted(fn func(sessionID uint, lastError string)) {
	s.onExhausted = fn
}

// Start spawns an encoder for the session and begins supervising it.
// It returns the pid and the log file path.
func (s *Supervisor) Start(spec StartSpec) (int, string, error) {
	// Reject duplicates before touching the filesystem; manifest names
	// are per-session, so writing first would clobber the live entry's
	// concat file.
	s.mu.Lock()
	if _, exists := s.procs[spec.SessionID]; exists {
		s.mu.Unlock()
		return 0, "", fmt.Errorf("%w: session %d", ErrAlreadyRunning, spec.SessionID)
	}
	s.mu.Unlock()

	p := &proc{spec: spec}

	var manifest string
	var err error
	if spec.Music != nil {
		manifest, err = writeConcatFile(s.cfg.ManifestDir, spec.SessionID, "music", spec.Music.TrackPaths)
	} else {
		manifest, err = writeConcatFile(s.cfg.ManifestDir, spec.SessionID, "playlist", spec.MediaPaths)
	}
	if err != nil {
		return 0, "", err
	}
	p.manifests = append(p.manifests, manifest)

	if err := os.MkdirAll(s.cfg.LogDir, 0o755); err != nil {
		s.removeFiles(p)
		return 0, "", fmt.Errorf("failed to create log directory: %w", err)
	}
	stamp := time.Now().UTC().Format("20060102_150405")
	p.logPath = filepath.Join(s.cfg.LogDir, fmt.Sprintf("session_%d_%s.log", spec.SessionID, stamp))
	p.logFile, err = os.Create(p.logPath)
	if err != nil {
		s.removeFiles(p)
		return 0, "", fmt.Errorf("failed to create encoder log: %w", err)
	}

	rtmpURL := IngestURL(s.cfg.IngestBaseURL, spec.StreamKey)
	if spec.Music != nil {
		p.args = musicArgs(s.cfg.FFmpegPath, spec.Music, manifest, rtmpURL)
	} else {
		p.args = playlistArgs(s.cfg.FFmpegPath, manifest, spec.Loop, rtmpURL)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.procs[spec.SessionID]; exists {
		// Lost a concurrent Start for the same session. The manifest
		// path now belongs to the winner's entry, so only the log file
		// is ours to close.
		s.closeFiles(p)
		return 0, "", fmt.Errorf("%w: session %d", ErrAlreadyRunning, spec.SessionID)
	}
	if err := s.spawnLocked(p); err != nil {
		s.closeFiles(p)
		s.removeFiles(p)
		return 0, "", err
	}
	s.procs[spec.SessionID] = p

	s.logger.Info("encoder started",
		"session_id", spec.SessionID,
		"pid", p.cmd.Process.Pid,
		"stream_key", MaskKey(spec.StreamKey),
		"loop", spec.Loop)
	return p.cmd.Process.Pid, p.logPath, nil
}

// spawnLocked launches one incarnation and starts its watcher. Caller
// holds the mutex.
func (s *Supervisor) spawnLocked(p *proc) error {
	cmd := exec.Command(p.args[0], p.args[1:]...)
	cmd.Stdout = p.logFile
	cmd.Stderr = p.logFile

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open encoder stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to spawn encoder: %w", err)
	}

	p.cmd = cmd
	p.stdin = stdin
	p.done = make(chan struct{})
	p.startedAt = time.Now().UTC()
	p.terminated = false
	go s.watch(p, cmd, p.done)
	return nil
}

// watch waits for one incarnation to exit and decides what happens
// next: nothing if stopped, a marked clean exit, a backoff restart, or
// retry exhaustion.
func (s *Supervisor) watch(p *proc, cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	close(done)

	s.mu.Lock()
	p.exitCode = cmd.ProcessState.ExitCode()
	if p.stopped {
		s.mu.Unlock()
		return
	}
	if err == nil {
		// Finite playlist ran out. Leave the entry for Reap so the
		// caller can record the stop.
		p.terminated = true
		s.mu.Unlock()
		s.logger.Info("encoder exited cleanly", "session_id", p.spec.SessionID)
		return
	}
	if p.retries >= maxRetries {
		lastErr := LastErrorLine(p.logPath)
		delete(s.procs, p.spec.SessionID)
		s.closeFiles(p)
		s.removeFiles(p)
		s.mu.Unlock()
		s.logger.Error("encoder retry budget exhausted",
			"session_id", p.spec.SessionID, "retries", maxRetries, "last_error", lastErr)
		if s.onExhausted != nil {
			s.onExhausted(p.spec.SessionID, lastErr)
		}
		return
	}
	p.retries++
	attempt := p.retries
	p.waiting = true
	s.mu.Unlock()

	delay := s.backoff(attempt)
	s.logger.Warn("encoder crashed, restarting after backoff",
		"session_id", p.spec.SessionID, "attempt", attempt, "delay", delay, "error", err)
	time.Sleep(delay)

	s.mu.Lock()
	cur, ok := s.procs[p.spec.SessionID]
	if !ok || cur != p || p.stopped {
		s.mu.Unlock()
		return
	}
	p.waiting = false
	spawnErr := s.spawnLocked(p)
	if spawnErr != nil {
		lastErr := LastErrorLine(p.logPath)
		delete(s.procs, p.spec.SessionID)
		s.closeFiles(p)
		s.removeFiles(p)
		s.mu.Unlock()
		s.logger.Error("encoder respawn failed",
			"session_id", p.spec.SessionID, "error", spawnErr)
		if s.onExhausted != nil {
			s.onExhausted(p.spec.SessionID, lastErr)
		}
		return
	}
	pid := p.cmd.Process.Pid
	s.mu.Unlock()

	s.logger.Info("encoder restarted", "session_id", p.spec.SessionID, "pid", pid, "attempt", attempt)
	if s.onRestarted != nil {
		s.onRestarted(p.spec.SessionID, pid)
	}
}

// backoffDelay returns 5*2^(attempt-1) seconds, capped at 80s.
func backoffDelay(attempt int) time.Duration {
	k := attempt - 1
	if k > 4 {
		k = 4
	}
	return time.Duration(5<<k) * time.Second
}

// Stop shuts down a session's encoder: 'q' on stdin, then SIGTERM,
// then SIGKILL, each after its grace period. It is a no-op for
// sessions the supervisor does not track.
func (s *Supervisor) Stop(sessionID uint) error {
	s.mu.Lock()
	p, ok := s.procs[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	p.stopped = true
	delete(s.procs, sessionID)
	cmd := p.cmd
	stdin := p.stdin
	done := p.done
	alreadyDead := p.terminated || p.waiting
	s.mu.Unlock()

	if !alreadyDead && cmd.Process != nil {
		if stdin != nil {
			io.WriteString(stdin, "q")
			stdin.Close()
		}
		select {
		case <-done:
		case <-time.After(stopGrace):
			s.logger.Warn("encoder ignored quit, sending SIGTERM", "session_id", sessionID)
			cmd.Process.Signal(syscall.SIGTERM)
			select {
			case <-done:
			case <-time.After(termGrace):
				s.logger.Warn("encoder ignored SIGTERM, killing", "session_id", sessionID)
				cmd.Process.Kill()
				<-done
			}
		}
	}

	s.mu.Lock()
	s.closeFiles(p)
	s.removeFiles(p)
	s.mu.Unlock()

	s.logger.Info("encoder stopped", "session_id", sessionID)
	return nil
}

// Tracks reports whether the supervisor currently owns an encoder (or
// a pending restart) for the session.
func (s *Supervisor) Tracks(sessionID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.procs[sessionID]
	return ok
}

// LogPath returns the log file of a tracked session.
func (s *Supervisor) LogPath(sessionID uint) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[sessionID]
	if !ok {
		return "", false
	}
	return p.logPath, true
}

// PID returns the current encoder pid of a tracked session, or zero
// while it is between incarnations.
func (s *Supervisor) PID(sessionID uint) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[sessionID]
	if !ok {
		return 0, false
	}
	if p.waiting || p.cmd == nil || p.cmd.Process == nil {
		return 0, true
	}
	return p.cmd.Process.Pid, true
}

// SessionStatus returns a snapshot of a tracked encoder.
func (s *Supervisor) SessionStatus(sessionID uint) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[sessionID]
	if !ok {
		return Status{}, false
	}
	st := Status{
		ExitCode:     p.exitCode,
		StartedAt:    p.startedAt,
		RestartCount: p.retries,
		MaxRetries:   maxRetries,
	}
	if !p.terminated && !p.waiting && p.cmd != nil && p.cmd.Process != nil {
		st.PID = p.cmd.Process.Pid
		st.Running = true
		st.UptimeSeconds = time.Since(p.startedAt).Seconds()
	}
	return st, true
}

// TailLog returns the last n lines of a session's log, falling back to
// the newest on-disk log when the session is no longer tracked.
func (s *Supervisor) TailLog(sessionID uint, n int) ([]string, error) {
	s.mu.Lock()
	p, ok := s.procs[sessionID]
	var path string
	if ok {
		path = p.logPath
	}
	s.mu.Unlock()

	if path == "" {
		var err error
		path, err = FindLogFile(s.cfg.LogDir, sessionID)
		if err != nil {
			return nil, err
		}
	}
	return TailLines(path, n)
}

// ResolveLogPath finds the log file for a session whether or not the
// supervisor still tracks it.
func (s *Supervisor) ResolveLogPath(sessionID uint) (string, error) {
	if path, ok := s.LogPath(sessionID); ok {
		return path, nil
	}
	return FindLogFile(s.cfg.LogDir, sessionID)
}

// Reap removes entries whose encoder exited cleanly and returns their
// session ids so the caller can mark them stopped. Entries waiting on
// a restart are left alone.
func (s *Supervisor) Reap() []uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	var reaped []uint
	for id, p := range s.procs {
		if p.terminated && !p.waiting {
			delete(s.procs, id)
			s.closeFiles(p)
			s.removeFiles(p)
			reaped = append(reaped, id)
		}
	}
	return reaped
}

// ActiveSessions lists every session id with a registry entry.
func (s *Supervisor) ActiveSessions() []uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint, 0, len(s.procs))
	for id := range s.procs {
		ids = append(ids, id)
	}
	return ids
}

func (s *Supervisor) closeFiles(p *proc) {
	if p.logFile != nil {
		p.logFile.Close()
		p.logFile = nil
	}
}

func (s *Supervisor) removeFiles(p *proc) {
	for _, m := range p.manifests {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove manifest", "path", m, "error", err)
		}
	}
	p.manifests = nil
}
