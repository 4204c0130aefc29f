package library

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/mantonx/streamforge/internal/database"
	"github.com/mantonx/streamforge/internal/encoder"
	"github.com/mantonx/streamforge/internal/session"
)

// Service owns the content library: stream keys, videos, playlists,
// and music playlists. It also resolves session content to concrete
// encoder inputs at start time.
type Service struct {
	db     *gorm.DB
	logger hclog.Logger
}

func NewService(db *gorm.DB, logger hclog.Logger) *Service {
	return &Service{db: db, logger: logger.Named("library")}
}

// Resolve expands a content reference into encoder inputs. Random
// playlists are shuffled here; the manifest writer never reorders.
func (s *Service) Resolve(c session.Content) (*session.ResolvedContent, error) {
	switch c.Kind {
	case database.ContentVideo:
		video, err := s.GetVideo(c.ID)
		if err != nil {
			return nil, err
		}
		return &session.ResolvedContent{
			Name:       video.Title,
			MediaPaths: []string{video.FilePath},
		}, nil

	case database.ContentPlaylist:
		playlist, err := s.GetPlaylist(c.ID)
		if err != nil {
			return nil, err
		}
		if len(playlist.Items) == 0 {
			return nil, session.ErrEmptyPlaylist
		}
		paths := make([]string, 0, len(playlist.Items))
		for _, item := range playlist.Items {
			if item.Video.FilePath == "" {
				return nil, session.ErrUnknownAsset
			}
			paths = append(paths, item.Video.FilePath)
		}
		if playlist.PlaybackMode == database.PlaybackRandom {
			rand.Shuffle(len(paths), func(i, j int) {
				paths[i], paths[j] = paths[j], paths[i]
			})
		}
		return &session.ResolvedContent{
			Name:       playlist.Name,
			MediaPaths: paths,
		}, nil

	case database.ContentMusicPlaylist:
		mp, err := s.GetMusicPlaylist(c.ID)
		if err != nil {
			return nil, err
		}
		if len(mp.Items) == 0 {
			return nil, session.ErrEmptyPlaylist
		}
		tracks := make([]string, 0, len(mp.Items))
		for _, item := range mp.Items {
			tracks = append(tracks, item.FilePath)
		}
		return &session.ResolvedContent{
			Name: mp.Name,
			Music: &encoder.MusicSpec{
				BackgroundPath: mp.BackgroundVideo,
				TrackPaths:     tracks,
				SFXPath:        mp.SfxPath,
				SFXVolume:      mp.SfxVolume,
			},
		}, nil

	default:
		return nil, session.ErrBadMode
	}
}

// --- Stream keys ---

func (s *Service) CreateStreamKey(name, key, description string) (*database.StreamKey, error) {
	sk := &database.StreamKey{
		Name:        name,
		Key:         key,
		Description: description,
		Status:      database.StreamKeyActive,
	}
	if err := s.db.Create(sk).Error; err != nil {
		return nil, fmt.Errorf("failed to create stream key: %w", err)
	}
	s.logger.Info("stream key created", "id", sk.ID, "name", name, "key", sk.MaskedKey())
	return sk, nil
}

func (s *Service) GetStreamKey(id uint) (*database.StreamKey, error) {
	var sk database.StreamKey
	if err := s.db.First(&sk, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, session.ErrUnknownKey
		}
		return nil, err
	}
	return &sk, nil
}

func (s *Service) ListStreamKeys() ([]database.StreamKey, error) {
	var keys []database.StreamKey
	err := s.db.Order("created_at DESC").Find(&keys).Error
	return keys, err
}

// SetStreamKeyStatus retires or reactivates a key. Deactivation does
// not stop a session already holding the key; it only blocks new
// starts.
func (s *Service) SetStreamKeyStatus(id uint, status string) (*database.StreamKey, error) {
	if status != database.StreamKeyActive && status != database.StreamKeyInactive {
		return nil, fmt.Errorf("unknown stream key status %q", status)
	}
	sk, err := s.GetStreamKey(id)
	if err != nil {
		return nil, err
	}
	if err := s.db.Model(sk).Update("status", status).Error; err != nil {
		return nil, err
	}
	sk.Status = status
	return sk, nil
}

// DeleteStreamKey removes a key. Keys with an active session are
// protected.
func (s *Service) DeleteStreamKey(id uint) error {
	sk, err := s.GetStreamKey(id)
	if err != nil {
		return err
	}
	var busy int64
	err = s.db.Model(&database.LiveSession{}).
		Where("stream_key_id = ? AND status IN ?", id, database.ActiveSessionStatuses).
		Count(&busy).Error
	if err != nil {
		return err
	}
	if busy > 0 {
		return session.ErrKeyBusy
	}
	return s.db.Delete(sk).Error
}

// --- Videos ---

func (s *Service) CreateVideo(title, filePath string, durationSec int) (*database.Video, error) {
	v := &database.Video{Title: title, FilePath: filePath, DurationSec: durationSec}
	if err := s.db.Create(v).Error; err != nil {
		return nil, fmt.Errorf("failed to create video: %w", err)
	}
	return v, nil
}

func (s *Service) GetVideo(id uint) (*database.Video, error) {
	var v database.Video
	if err := s.db.First(&v, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, session.ErrUnknownAsset
		}
		return nil, err
	}
	return &v, nil
}

func (s *Service) ListVideos() ([]database.Video, error) {
	var videos []database.Video
	err := s.db.Order("created_at DESC").Find(&videos).Error
	return videos, err
}

// DeleteVideo removes a video unless an active session is streaming
// it, directly or through a playlist.
func (s *Service) DeleteVideo(id uint) error {
	v, err := s.GetVideo(id)
	if err != nil {
		return err
	}

	var direct int64
	err = s.db.Model(&database.LiveSession{}).
		Where("content_kind = ? AND content_id = ? AND status IN ?",
			database.ContentVideo, id, database.ActiveSessionStatuses).
		Count(&direct).Error
	if err != nil {
		return err
	}
	if direct > 0 {
		return fmt.Errorf("video %d is streaming", id)
	}

	var viaPlaylist int64
	err = s.db.Model(&database.LiveSession{}).
		Where("content_kind = ? AND status IN ? AND content_id IN (?)",
			database.ContentPlaylist, database.ActiveSessionStatuses,
			s.db.Model(&database.PlaylistItem{}).Select("playlist_id").Where("video_id = ?", id)).
		Count(&viaPlaylist).Error
	if err != nil {
		return err
	}
	if viaPlaylist > 0 {
		return fmt.Errorf("video %d belongs to a streaming playlist", id)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("video_id = ?", id).Delete(&database.PlaylistItem{}).Error; err != nil {
			return err
		}
		return tx.Delete(v).Error
	})
}

// --- Playlists ---

func (s *Service) CreatePlaylist(name, description, playbackMode string, videoIDs []uint) (*database.Playlist, error) {
	if playbackMode == "" {
		playbackMode = database.PlaybackSequential
	}
	if playbackMode != database.PlaybackSequential && playbackMode != database.PlaybackRandom {
		return nil, fmt.Errorf("unknown playback mode %q", playbackMode)
	}

	p := &database.Playlist{Name: name, Description: description, PlaybackMode: playbackMode}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(p).Error; err != nil {
			return err
		}
		return s.replaceItems(tx, p.ID, videoIDs)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create playlist: %w", err)
	}
	return s.GetPlaylist(p.ID)
}

func (s *Service) replaceItems(tx *gorm.DB, playlistID uint, videoIDs []uint) error {
	if err := tx.Where("playlist_id = ?", playlistID).Delete(&database.PlaylistItem{}).Error; err != nil {
		return err
	}
	for pos, vid := range videoIDs {
		var count int64
		if err := tx.Model(&database.Video{}).Where("id = ?", vid).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return session.ErrUnknownAsset
		}
		item := database.PlaylistItem{PlaylistID: playlistID, VideoID: vid, Position: pos}
		if err := tx.Create(&item).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) GetPlaylist(id uint) (*database.Playlist, error) {
	var p database.Playlist
	err := s.db.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("position")
	}).Preload("Items.Video").First(&p, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, session.ErrUnknownPlaylist
		}
		return nil, err
	}
	return &p, nil
}

func (s *Service) ListPlaylists() ([]database.Playlist, error) {
	var playlists []database.Playlist
	err := s.db.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("position")
	}).Preload("Items.Video").Order("created_at DESC").Find(&playlists).Error
	return playlists, err
}

func (s *Service) UpdatePlaylist(id uint, name, description, playbackMode string, videoIDs []uint) (*database.Playlist, error) {
	p, err := s.GetPlaylist(id)
	if err != nil {
		return nil, err
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{}
		if name != "" {
			updates["name"] = name
		}
		if description != "" {
			updates["description"] = description
		}
		if playbackMode != "" {
			if playbackMode != database.PlaybackSequential && playbackMode != database.PlaybackRandom {
				return fmt.Errorf("unknown playback mode %q", playbackMode)
			}
			updates["playback_mode"] = playbackMode
		}
		if len(updates) > 0 {
			if err := tx.Model(p).Updates(updates).Error; err != nil {
				return err
			}
		}
		if videoIDs != nil {
			return s.replaceItems(tx, id, videoIDs)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetPlaylist(id)
}

// DeletePlaylist removes a playlist unless a session is streaming it.
func (s *Service) DeletePlaylist(id uint) error {
	p, err := s.GetPlaylist(id)
	if err != nil {
		return err
	}
	var busy int64
	err = s.db.Model(&database.LiveSession{}).
		Where("content_kind = ? AND content_id = ? AND status IN ?",
			database.ContentPlaylist, id, database.ActiveSessionStatuses).
		Count(&busy).Error
	if err != nil {
		return err
	}
	if busy > 0 {
		return fmt.Errorf("playlist %d is streaming", id)
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("playlist_id = ?", id).Delete(&database.PlaylistItem{}).Error; err != nil {
			return err
		}
		return tx.Delete(p).Error
	})
}

// --- Music playlists ---

func (s *Service) CreateMusicPlaylist(name, description, backgroundVideo string, trackPaths []string, sfxPath string, sfxVolume float64) (*database.MusicPlaylist, error) {
	if backgroundVideo == "" {
		return nil, session.ErrUnknownAsset
	}
	mp := &database.MusicPlaylist{
		Name:            name,
		Description:     description,
		BackgroundVideo: backgroundVideo,
		SfxPath:         sfxPath,
		SfxVolume:       sfxVolume,
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(mp).Error; err != nil {
			return err
		}
		for pos, path := range trackPaths {
			item := database.MusicPlaylistItem{
				MusicPlaylistID: mp.ID,
				FilePath:        path,
				Position:        pos,
			}
			if err := tx.Create(&item).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create music playlist: %w", err)
	}
	return s.GetMusicPlaylist(mp.ID)
}

func (s *Service) GetMusicPlaylist(id uint) (*database.MusicPlaylist, error) {
	var mp database.MusicPlaylist
	err := s.db.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("position")
	}).First(&mp, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, session.ErrUnknownPlaylist
		}
		return nil, err
	}
	return &mp, nil
}

func (s *Service) ListMusicPlaylists() ([]database.MusicPlaylist, error) {
	var lists []database.MusicPlaylist
	err := s.db.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("position")
	}).Order("created_at DESC").Find(&lists).Error
	return lists, err
}

// DeleteMusicPlaylist removes a music playlist unless a session is
// streaming it.
func (s *Service) DeleteMusicPlaylist(id uint) error {
	mp, err := s.GetMusicPlaylist(id)
	if err != nil {
		return err
	}
	var busy int64
	err = s.db.Model(&database.LiveSession{}).
		Where("content_kind = ? AND content_id = ? AND status IN ?",
			database.ContentMusicPlaylist, id, database.ActiveSessionStatuses).
		Count(&busy).Error
	if err != nil {
		return err
	}
	if busy > 0 {
		return fmt.Errorf("music playlist %d is streaming", id)
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("music_playlist_id = ?", id).Delete(&database.MusicPlaylistItem{}).Error; err != nil {
			return err
		}
		return tx.Delete(mp).Error
	})
}
