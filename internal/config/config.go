package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the complete application configuration, loaded once at boot
// and passed by handle to every component.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Encoder  EncoderConfig
	Streams  StreamConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string
	Port int
}

// DatabaseConfig selects and configures the persistence backend.
type DatabaseConfig struct {
	Type       string // "sqlite" or "postgres"
	SQLitePath string
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
}

// EncoderConfig describes how encoder subprocesses are launched.
type EncoderConfig struct {
	FFmpegPath    string
	IngestBaseURL string
	LogDir        string
	// ManifestDir is where concat manifests are written. Empty means the
	// system temp directory.
	ManifestDir string
}

// StreamConfig holds streaming policy knobs.
type StreamConfig struct {
	MaxConcurrentStreams int
	MonitorInterval      time.Duration
	SnapshotInterval     time.Duration
}

// Load reads configuration from the environment, applying defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: getString("STREAMFORGE_HOST", "0.0.0.0"),
			Port: getInt("STREAMFORGE_PORT", 8080),
		},
		Database: DatabaseConfig{
			Type:       getString("DATABASE_TYPE", "sqlite"),
			SQLitePath: getString("SQLITE_PATH", "data/streamforge.db"),
			Host:       getString("POSTGRES_HOST", "localhost"),
			Port:       getInt("POSTGRES_PORT", 5432),
			User:       getString("POSTGRES_USER", "streamforge"),
			Password:   os.Getenv("POSTGRES_PASSWORD"),
			Database:   getString("POSTGRES_DB", "streamforge"),
		},
		Encoder: EncoderConfig{
			FFmpegPath:    getString("FFMPEG_PATH", "ffmpeg"),
			IngestBaseURL: getString("RTMP_INGEST_URL", "rtmp://a.rtmp.youtube.com/live2"),
			LogDir:        getString("FFMPEG_LOG_DIR", "logs/ffmpeg"),
			ManifestDir:   os.Getenv("FFMPEG_MANIFEST_DIR"),
		},
		Streams: StreamConfig{
			MaxConcurrentStreams: getInt("MAX_CONCURRENT_STREAMS", 10),
			MonitorInterval:      getDuration("HEALTH_MONITOR_INTERVAL", 10*time.Second),
			SnapshotInterval:     getDuration("TELEMETRY_SNAPSHOT_INTERVAL", 2*time.Second),
		},
	}
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
