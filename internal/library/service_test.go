package library

import (
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mantonx/streamforge/internal/database"
	"github.com/mantonx/streamforge/internal/session"
)

func setupService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return NewService(db, hclog.NewNullLogger()), db
}

func seedVideos(t *testing.T, svc *Service, titles ...string) []uint {
	t.Helper()
	ids := make([]uint, 0, len(titles))
	for _, title := range titles {
		v, err := svc.CreateVideo(title, "/media/"+title+".mp4", 60)
		require.NoError(t, err)
		ids = append(ids, v.ID)
	}
	return ids
}

func TestResolveSingleVideo(t *testing.T) {
	svc, _ := setupService(t)
	ids := seedVideos(t, svc, "clip")

	resolved, err := svc.Resolve(session.SingleVideo(ids[0]))
	require.NoError(t, err)
	assert.Equal(t, "clip", resolved.Name)
	assert.Equal(t, []string{"/media/clip.mp4"}, resolved.MediaPaths)
	assert.Nil(t, resolved.Music)
}

func TestResolveUnknownVideo(t *testing.T) {
	svc, _ := setupService(t)
	_, err := svc.Resolve(session.SingleVideo(404))
	assert.ErrorIs(t, err, session.ErrUnknownAsset)
}

func TestResolveSequentialPlaylistKeepsOrder(t *testing.T) {
	svc, _ := setupService(t)
	ids := seedVideos(t, svc, "a", "b", "c")

	p, err := svc.CreatePlaylist("morning", "", database.PlaybackSequential, []uint{ids[2], ids[0], ids[1]})
	require.NoError(t, err)

	resolved, err := svc.Resolve(session.PlaylistContent(p.ID))
	require.NoError(t, err)
	assert.Equal(t, []string{"/media/c.mp4", "/media/a.mp4", "/media/b.mp4"}, resolved.MediaPaths)
}

func TestResolveEmptyPlaylist(t *testing.T) {
	svc, _ := setupService(t)
	p, err := svc.CreatePlaylist("empty", "", database.PlaybackSequential, nil)
	require.NoError(t, err)

	_, err = svc.Resolve(session.PlaylistContent(p.ID))
	assert.ErrorIs(t, err, session.ErrEmptyPlaylist)
}

func TestResolveRandomPlaylistKeepsContents(t *testing.T) {
	svc, _ := setupService(t)
	ids := seedVideos(t, svc, "a", "b", "c", "d")

	p, err := svc.CreatePlaylist("shuffle", "", database.PlaybackRandom, ids)
	require.NoError(t, err)

	resolved, err := svc.Resolve(session.PlaylistContent(p.ID))
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{"/media/a.mp4", "/media/b.mp4", "/media/c.mp4", "/media/d.mp4"},
		resolved.MediaPaths)
}

func TestResolveMusicPlaylist(t *testing.T) {
	svc, _ := setupService(t)

	mp, err := svc.CreateMusicPlaylist("lofi", "", "/media/bg.mp4",
		[]string{"/music/one.mp3", "/music/two.mp3"}, "/sfx/rain.mp3", 0.2)
	require.NoError(t, err)

	resolved, err := svc.Resolve(session.MusicContent(mp.ID))
	require.NoError(t, err)
	require.NotNil(t, resolved.Music)
	assert.Equal(t, "/media/bg.mp4", resolved.Music.BackgroundPath)
	assert.Equal(t, []string{"/music/one.mp3", "/music/two.mp3"}, resolved.Music.TrackPaths)
	assert.Equal(t, "/sfx/rain.mp3", resolved.Music.SFXPath)
	assert.InDelta(t, 0.2, resolved.Music.SFXVolume, 0.001)
	assert.Empty(t, resolved.MediaPaths)
}

func TestCreatePlaylistUnknownVideo(t *testing.T) {
	svc, _ := setupService(t)
	_, err := svc.CreatePlaylist("broken", "", database.PlaybackSequential, []uint{404})
	assert.ErrorIs(t, err, session.ErrUnknownAsset)
}

func TestUpdatePlaylistReplacesItems(t *testing.T) {
	svc, _ := setupService(t)
	ids := seedVideos(t, svc, "a", "b", "c")

	p, err := svc.CreatePlaylist("mix", "", database.PlaybackSequential, ids[:2])
	require.NoError(t, err)

	updated, err := svc.UpdatePlaylist(p.ID, "", "", database.PlaybackRandom, []uint{ids[2]})
	require.NoError(t, err)
	assert.Equal(t, database.PlaybackRandom, updated.PlaybackMode)
	require.Len(t, updated.Items, 1)
	assert.Equal(t, ids[2], updated.Items[0].VideoID)
}

func TestDeleteVideoCascadesPlaylistItems(t *testing.T) {
	svc, db := setupService(t)
	ids := seedVideos(t, svc, "a", "b")

	p, err := svc.CreatePlaylist("mix", "", database.PlaybackSequential, ids)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteVideo(ids[0]))

	got, err := svc.GetPlaylist(p.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, ids[1], got.Items[0].VideoID)

	var count int64
	require.NoError(t, db.Model(&database.Video{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestDeleteVideoStreamingGuard(t *testing.T) {
	svc, db := setupService(t)
	ids := seedVideos(t, svc, "live")

	key := &database.StreamKey{Name: "main", Key: "abcd-wxyz", Status: database.StreamKeyActive}
	require.NoError(t, db.Create(key).Error)
	sess := &database.LiveSession{
		StreamKeyID: key.ID,
		ContentKind: database.ContentVideo,
		ContentID:   ids[0],
		Status:      database.SessionRunning,
		StartedAt:   time.Now().UTC(),
	}
	require.NoError(t, db.Create(sess).Error)

	assert.Error(t, svc.DeleteVideo(ids[0]))
}

func TestDeleteVideoStreamingViaPlaylistGuard(t *testing.T) {
	svc, db := setupService(t)
	ids := seedVideos(t, svc, "inlist")

	p, err := svc.CreatePlaylist("mix", "", database.PlaybackSequential, ids)
	require.NoError(t, err)

	key := &database.StreamKey{Name: "main", Key: "abcd-wxyz", Status: database.StreamKeyActive}
	require.NoError(t, db.Create(key).Error)
	sess := &database.LiveSession{
		StreamKeyID: key.ID,
		ContentKind: database.ContentPlaylist,
		ContentID:   p.ID,
		Status:      database.SessionRunning,
		StartedAt:   time.Now().UTC(),
	}
	require.NoError(t, db.Create(sess).Error)

	assert.Error(t, svc.DeleteVideo(ids[0]))
}

func TestDeletePlaylistStreamingGuard(t *testing.T) {
	svc, db := setupService(t)
	ids := seedVideos(t, svc, "a")

	p, err := svc.CreatePlaylist("mix", "", database.PlaybackSequential, ids)
	require.NoError(t, err)

	key := &database.StreamKey{Name: "main", Key: "abcd-wxyz", Status: database.StreamKeyActive}
	require.NoError(t, db.Create(key).Error)
	sess := &database.LiveSession{
		StreamKeyID: key.ID,
		ContentKind: database.ContentPlaylist,
		ContentID:   p.ID,
		Status:      database.SessionRecovering,
		StartedAt:   time.Now().UTC(),
	}
	require.NoError(t, db.Create(sess).Error)

	assert.Error(t, svc.DeletePlaylist(p.ID))
}

func TestDeleteStreamKeyBusyGuard(t *testing.T) {
	svc, db := setupService(t)
	key, err := svc.CreateStreamKey("main", "abcd-wxyz", "")
	require.NoError(t, err)

	sess := &database.LiveSession{
		StreamKeyID: key.ID,
		ContentKind: database.ContentVideo,
		ContentID:   1,
		Status:      database.SessionRunning,
		StartedAt:   time.Now().UTC(),
	}
	require.NoError(t, db.Create(sess).Error)

	assert.ErrorIs(t, svc.DeleteStreamKey(key.ID), session.ErrKeyBusy)

	// Once the session is finalized the key can go.
	require.NoError(t, db.Model(sess).Update("status", database.SessionStopped).Error)
	require.NoError(t, svc.DeleteStreamKey(key.ID))
}

func TestSetStreamKeyStatus(t *testing.T) {
	svc, _ := setupService(t)
	key, err := svc.CreateStreamKey("main", "abcd-wxyz", "")
	require.NoError(t, err)

	got, err := svc.SetStreamKeyStatus(key.ID, database.StreamKeyInactive)
	require.NoError(t, err)
	assert.Equal(t, database.StreamKeyInactive, got.Status)

	_, err = svc.SetStreamKeyStatus(key.ID, "retired")
	assert.Error(t, err)
}

func TestMaskedKey(t *testing.T) {
	svc, _ := setupService(t)
	key, err := svc.CreateStreamKey("main", "abcd-efgh-ijkl-wxyz", "")
	require.NoError(t, err)
	assert.Equal(t, "****-****-wxyz", key.MaskedKey())
}

func TestCreateMusicPlaylistRequiresBackground(t *testing.T) {
	svc, _ := setupService(t)
	_, err := svc.CreateMusicPlaylist("lofi", "", "", []string{"/music/one.mp3"}, "", 0.3)
	assert.ErrorIs(t, err, session.ErrUnknownAsset)
}

func TestDeleteMusicPlaylistRemovesItems(t *testing.T) {
	svc, db := setupService(t)
	mp, err := svc.CreateMusicPlaylist("lofi", "", "/media/bg.mp4",
		[]string{"/music/one.mp3", "/music/two.mp3"}, "", 0.3)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteMusicPlaylist(mp.ID))

	var items int64
	require.NoError(t, db.Model(&database.MusicPlaylistItem{}).Count(&items).Error)
	assert.Zero(t, items)
}
