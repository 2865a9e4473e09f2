package subscribers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/voyagen/popcorngate/internal/models"
	"github.com/voyagen/popcorngate/internal/store"
)

func TestGetChannels(t *testing.T) {
	f := newFixture(t)
	public := bson.NewObjectID()
	private := bson.NewObjectID()
	proxy := bson.NewObjectID()
	missing := bson.NewObjectID()
	broken := bson.NewObjectID()
	film := bson.NewObjectID()
	rec := bson.NewObjectID()

	f.db.PutStream(liveDoc(public, models.ClassEncode, "News 24", output(1, "http://edge/3/a/1/master.m3u8", "/hls/3/a/1")))
	f.db.PutStream(liveDoc(private, models.ClassRelay, "Home cam", output(1, "http://edge/2/b/1/master.m3u8", "/hls/2/b/1")))
	f.db.PutStream(bson.D{
		{Key: "_id", Value: proxy},
		{Key: "_cls", Value: models.ClassProxy},
		{Key: "name", Value: "Upstream"},
		{Key: "group", Value: "Misc"},
		{Key: "iarc", Value: int32(0)},
		{Key: "tvg_id", Value: ""},
		{Key: "have_video", Value: true},
		{Key: "have_audio", Value: true},
	})
	f.db.PutStream(bson.D{{Key: "_id", Value: broken}, {Key: "_cls", Value: models.ClassEncode}, {Key: "name", Value: int32(5)}})
	f.db.PutStream(vodDoc(film, models.ClassVodEncode, "Film", output(1, "http://edge/9/c/1/master.m3u8", "/hls/9/c/1")))
	f.db.PutStream(catchupDoc(rec, "Match", 1000, 2000, output(1, "http://edge/6/d/1/master.m3u8", "/hls/6/d/1")))

	fav := assoc(public, false)
	fav[1].Value = true
	f.associate(t, "streams", fav, assoc(private, true), assoc(proxy, false), assoc(missing, false), assoc(broken, false))
	f.associate(t, "vods", assoc(film, false))
	f.associate(t, "catchups", assoc(rec, false))

	catalog, err := f.m.GetChannels(context.Background(), f.claim())
	require.NoError(t, err)

	require.Len(t, catalog.Channels, 2)
	assert.Equal(t, public.Hex(), catalog.Channels[0].ID)
	assert.True(t, catalog.Channels[0].Favorite)
	assert.Equal(t, models.StreamEncode, catalog.Channels[0].Type)
	assert.Equal(t, proxy.Hex(), catalog.Channels[1].ID)
	assert.Empty(t, catalog.Channels[1].EPG.URLs)

	require.Len(t, catalog.PrivateChannels, 1)
	assert.Equal(t, private.Hex(), catalog.PrivateChannels[0].ID)
	assert.True(t, catalog.PrivateChannels[0].Private)

	require.Len(t, catalog.Vods, 1)
	assert.Equal(t, film.Hex(), catalog.Vods[0].ID)
	assert.Empty(t, catalog.PrivateVods)

	require.Len(t, catalog.Catchups, 1)
	assert.Equal(t, int64(1000), catalog.Catchups[0].Start)
	assert.Equal(t, int64(2000), catalog.Catchups[0].Stop)
}

func TestGetChannelsEmptyLists(t *testing.T) {
	f := newFixture(t)

	catalog, err := f.m.GetChannels(context.Background(), f.claim())
	require.NoError(t, err)
	assert.NotNil(t, catalog.Channels)
	assert.NotNil(t, catalog.Vods)
	assert.NotNil(t, catalog.PrivateChannels)
	assert.NotNil(t, catalog.PrivateVods)
	assert.NotNil(t, catalog.Catchups)
}

func TestGetChannelsErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	c := f.claim()
	c.UserID = "zzz"
	_, err := f.m.GetChannels(ctx, c)
	require.ErrorIs(t, err, ErrInvalidUserID)

	c.UserID = bson.NewObjectID().Hex()
	_, err = f.m.GetChannels(ctx, c)
	require.ErrorIs(t, err, ErrUserNotFound)

	sid := bson.NewObjectID()
	f.db.PutStream(liveDoc(sid, models.ClassEncode, "News"))
	f.associate(t, "streams", assoc(sid, false))
	f.db.FailOn["FindStream"] = store.ErrNotConnected
	_, err = f.m.GetChannels(ctx, f.claim())
	require.ErrorIs(t, err, ErrNotConnected)
}
