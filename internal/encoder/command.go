package encoder

import (
	"fmt"
	"strconv"
	"strings"
)

// StartSpec describes one encoder launch. Exactly one of MediaPaths or
// Music is set: MediaPaths drives the concat playlist mode, Music
// drives the background-video-plus-audio-mix mode.
type StartSpec struct {
	SessionID uint
	StreamKey string
	Loop      bool

	MediaPaths []string
	Music      *MusicSpec
}

// MusicSpec is the input set for a music stream: a background video
// looped forever, a track list mixed over it, and an optional sound
// effect layered in at reduced volume.
type MusicSpec struct {
	BackgroundPath string
	TrackPaths     []string
	SFXPath        string
	SFXVolume      float64
}

// IngestURL joins the RTMP ingest base with a stream key.
func IngestURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}

// MaskKey hides all but the last four characters of a stream key so it
// can appear in logs.
func MaskKey(key string) string {
	if len(key) <= 4 {
		return "****-****-" + key
	}
	return "****-****-" + key[len(key)-4:]
}

// commonPrefix holds the flags shared by both encoder modes. The pts
// regeneration keeps RTMP ingest stable across concat boundaries.
func commonPrefix(ffmpeg string) []string {
	return []string{
		ffmpeg,
		"-nostdin",
		"-loglevel", "warning",
		"-re",
		"-fflags", "+genpts+igndts",
	}
}

// playlistArgs builds the stream-copy command for a concat manifest.
// Both elementary streams pass through untouched, so CPU cost is near
// zero regardless of source bitrate.
func playlistArgs(ffmpeg, manifest string, loop bool, rtmpURL string) []string {
	streamLoop := "0"
	if loop {
		streamLoop = "-1"
	}
	args := commonPrefix(ffmpeg)
	args = append(args,
		"-f", "concat",
		"-safe", "0",
		"-stream_loop", streamLoop,
		"-i", manifest,
		"-map", "0:v:0",
		"-map", "0:a:0",
		"-map_metadata", "-1",
		"-c:v", "copy",
		"-c:a", "copy",
		"-f", "flv",
		"-flvflags", "no_duration_filesize",
		rtmpURL,
	)
	return args
}

// musicArgs builds the mixed-audio command. The background video is
// input 0, the music concat manifest is input 1, and the optional
// sound effect is input 2. Video is copied; audio is re-encoded
// because the mix cannot be passed through.
func musicArgs(ffmpeg string, m *MusicSpec, musicManifest, rtmpURL string) []string {
	args := commonPrefix(ffmpeg)
	args = append(args,
		"-stream_loop", "-1",
		"-thread_queue_size", "512",
		"-i", m.BackgroundPath,
		"-stream_loop", "-1",
		"-thread_queue_size", "512",
		"-f", "concat",
		"-safe", "0",
		"-i", musicManifest,
	)
	hasSFX := m.SFXPath != ""
	if hasSFX {
		args = append(args,
			"-stream_loop", "-1",
			"-thread_queue_size", "512",
			"-i", m.SFXPath,
		)
	}
	args = append(args, "-map", "0:v:0")
	if hasSFX {
		vol := strconv.FormatFloat(m.SFXVolume, 'f', 2, 64)
		filter := fmt.Sprintf(
			"[1:a]volume=1.0[music];[2:a]volume=%s[sfx];[music][sfx]amix=inputs=2:duration=longest[outa]",
			vol,
		)
		args = append(args,
			"-filter_complex", filter,
			"-map", "[outa]",
		)
	} else {
		args = append(args, "-map", "1:a:0")
	}
	args = append(args,
		"-map_metadata", "-1",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "128k",
		"-ar", "44100",
		"-ac", "2",
		"-f", "flv",
		"-flvflags", "no_duration_filesize",
		rtmpURL,
	)
	return args
}
