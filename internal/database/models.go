package database

import "time"

// Stream key status values.
const (
	StreamKeyActive   = "active"
	StreamKeyInactive = "inactive"
)

// StreamKey is a named RTMP ingest credential. The raw key never leaves
// the server unmasked except through the dedicated reveal endpoint.
type StreamKey struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"not null"`
	Key         string    `json:"-" gorm:"not null;uniqueIndex"`
	Description string    `json:"description"`
	Status      string    `json:"status" gorm:"default:active;index"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MaskedKey returns the key with everything but the last four
// characters hidden.
func (k *StreamKey) MaskedKey() string {
	if len(k.Key) <= 4 {
		return "****-****-" + k.Key
	}
	return "****-****-" + k.Key[len(k.Key)-4:]
}

// Video is a single media file on disk that can be streamed directly or
// referenced from a playlist.
type Video struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Title       string    `json:"title" gorm:"not null"`
	FilePath    string    `json:"file_path" gorm:"not null"`
	DurationSec int       `json:"duration_sec"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Playlist playback modes.
const (
	PlaybackSequential = "sequential"
	PlaybackRandom     = "random"
)

// Playlist is an ordered collection of videos.
type Playlist struct {
	ID           uint           `json:"id" gorm:"primaryKey"`
	Name         string         `json:"name" gorm:"not null"`
	Description  string         `json:"description"`
	PlaybackMode string         `json:"playback_mode" gorm:"default:sequential"`
	Items        []PlaylistItem `json:"items,omitempty" gorm:"constraint:OnDelete:CASCADE"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// PlaylistItem places a video at a position inside a playlist.
type PlaylistItem struct {
	ID         uint  `json:"id" gorm:"primaryKey"`
	PlaylistID uint  `json:"playlist_id" gorm:"not null;index"`
	VideoID    uint  `json:"video_id" gorm:"not null"`
	Position   int   `json:"position" gorm:"not null"`
	Video      Video `json:"video,omitempty" gorm:"foreignKey:VideoID"`
}

// MusicPlaylist pairs a background video with audio tracks that are
// mixed over it by the encoder.
type MusicPlaylist struct {
	ID              uint                `json:"id" gorm:"primaryKey"`
	Name            string              `json:"name" gorm:"not null"`
	Description     string              `json:"description"`
	BackgroundVideo string              `json:"background_video" gorm:"not null"`
	SfxPath         string              `json:"sfx_path"`
	SfxVolume       float64             `json:"sfx_volume" gorm:"default:0.3"`
	Items           []MusicPlaylistItem `json:"items,omitempty" gorm:"constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// MusicPlaylistItem is one audio track inside a music playlist.
type MusicPlaylistItem struct {
	ID              uint   `json:"id" gorm:"primaryKey"`
	MusicPlaylistID uint   `json:"music_playlist_id" gorm:"not null;index"`
	Title           string `json:"title"`
	FilePath        string `json:"file_path" gorm:"not null"`
	Position        int    `json:"position" gorm:"not null"`
}

// Live session status values. A session is "active" while in Starting,
// Running, or Recovering; the other states are terminal.
const (
	SessionStarting    = "starting"
	SessionRunning     = "running"
	SessionRecovering  = "recovering"
	SessionStopped     = "stopped"
	SessionFailed      = "failed"
	SessionInterrupted = "interrupted"
)

// Content kinds for a live session.
const (
	ContentVideo         = "video"
	ContentPlaylist      = "playlist"
	ContentMusicPlaylist = "music_playlist"
)

// LiveSession records one encoder run against one stream key. Rows are
// never deleted; terminal rows are the streaming history. The partial
// unique index rejects a second active session on the same key even if
// two admissions race past the policy checks.
type LiveSession struct {
	ID          uint   `json:"id" gorm:"primaryKey"`
	StreamKeyID uint   `json:"stream_key_id" gorm:"not null;index;uniqueIndex:uniq_live_sessions_active_key,where:status = 'starting' OR status = 'running' OR status = 'recovering'"`
	ContentKind string `json:"content_kind" gorm:"not null"`
	ContentID   uint   `json:"content_id" gorm:"not null"`
	ContentName string `json:"content_name"`

	Status           string     `json:"status" gorm:"not null;index"`
	EncoderPID       int        `json:"encoder_pid" gorm:"column:encoder_pid"`
	Loop             bool       `json:"loop"`
	MaxDurationHours float64    `json:"max_duration_hours"`
	RestartCount     int        `json:"restart_count"`
	LastRestartAt    *time.Time `json:"last_restart_at,omitempty"`
	LastError        string     `json:"last_error,omitempty"`

	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	StreamKey StreamKey `json:"-" gorm:"foreignKey:StreamKeyID"`
}

// IsActive reports whether the session still owns its stream key.
func (s *LiveSession) IsActive() bool {
	switch s.Status {
	case SessionStarting, SessionRunning, SessionRecovering:
		return true
	}
	return false
}

// DurationSeconds returns the elapsed run time. For active sessions it
// is measured against the current clock.
func (s *LiveSession) DurationSeconds() float64 {
	end := time.Now().UTC()
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	if s.StartedAt.IsZero() {
		return 0
	}
	d := end.Sub(s.StartedAt).Seconds()
	if d < 0 {
		return 0
	}
	return d
}

// ActiveSessionStatuses lists the states in which a session occupies a
// stream key and counts toward the concurrency cap.
var ActiveSessionStatuses = []string{SessionStarting, SessionRunning, SessionRecovering}

// Scheduled live status values.
const (
	SchedulePending   = "pending"
	ScheduleRunning   = "running"
	ScheduleCompleted = "completed"
	ScheduleFailed    = "failed"
	ScheduleCancelled = "cancelled"
)

// Recurrence values for scheduled lives.
const (
	RecurrenceNone   = "none"
	RecurrenceDaily  = "daily"
	RecurrenceWeekly = "weekly"
)

// ScheduledLive is a future stream start. JobID ties the row to the
// timer wheel entry that will fire it; it changes on every
// registration, including recurrence rollover and boot recovery.
type ScheduledLive struct {
	ID          uint   `json:"id" gorm:"primaryKey"`
	StreamKeyID uint   `json:"stream_key_id" gorm:"not null;index"`
	ContentKind string `json:"content_kind" gorm:"not null"`
	ContentID   uint   `json:"content_id" gorm:"not null"`
	ContentName string `json:"content_name"`

	ScheduledAt      time.Time `json:"scheduled_at" gorm:"not null;index"`
	Recurrence       string    `json:"recurrence" gorm:"default:none"`
	Loop             bool      `json:"loop"`
	MaxDurationHours float64   `json:"max_duration_hours"`

	Status        string `json:"status" gorm:"not null;index"`
	JobID         string `json:"job_id,omitempty"`
	LiveSessionID *uint  `json:"live_session_id,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
