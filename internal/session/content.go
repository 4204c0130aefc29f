package session

import (
	"github.com/mantonx/streamforge/internal/database"
	"github.com/mantonx/streamforge/internal/encoder"
)

// Content identifies what a session streams: a single video, a
// playlist, or a music playlist. The kind tag replaces the pair of
// nullable id columns at the API boundary, so exactly one id is ever
// in play.
type Content struct {
	Kind string
	ID   uint
}

// SingleVideo content plays one video.
func SingleVideo(id uint) Content {
	return Content{Kind: database.ContentVideo, ID: id}
}

// PlaylistContent plays a playlist in its configured order.
func PlaylistContent(id uint) Content {
	return Content{Kind: database.ContentPlaylist, ID: id}
}

// MusicContent plays a music playlist over its background video.
func MusicContent(id uint) Content {
	return Content{Kind: database.ContentMusicPlaylist, ID: id}
}

// ParseContent maps the wire-level mode plus optional ids onto a
// Content value. Exactly the id matching the mode must be present.
func ParseContent(mode string, videoID, playlistID, musicPlaylistID *uint) (Content, error) {
	switch mode {
	case "single", database.ContentVideo:
		if videoID == nil {
			return Content{}, ErrMissingContentID
		}
		return SingleVideo(*videoID), nil
	case database.ContentPlaylist:
		if playlistID == nil {
			return Content{}, ErrMissingContentID
		}
		return PlaylistContent(*playlistID), nil
	case database.ContentMusicPlaylist:
		if musicPlaylistID == nil {
			return Content{}, ErrMissingContentID
		}
		return MusicContent(*musicPlaylistID), nil
	default:
		return Content{}, ErrBadMode
	}
}

// ResolvedContent is a Content value expanded to the concrete encoder
// inputs. Exactly one of MediaPaths or Music is set.
type ResolvedContent struct {
	Name       string
	MediaPaths []string
	Music      *encoder.MusicSpec
}

// ContentResolver expands Content to file paths at start time. The
// library service implements it; tests substitute fakes.
type ContentResolver interface {
	Resolve(c Content) (*ResolvedContent, error)
}
