//go:build integration

package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// mongoURL returns TEST_MONGODB_URL when set, otherwise it starts a
// throwaway mongo container for the test.
func mongoURL(t *testing.T, ctx context.Context) string {
	t.Helper()
	if url := os.Getenv("TEST_MONGODB_URL"); url != "" {
		return url
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017")
	require.NoError(t, err)
	return fmt.Sprintf("mongodb://%s:%s", host, port.Port())
}

func testMongo(t *testing.T) (*Mongo, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	t.Cleanup(cancel)

	db := "popcorngate_" + bson.NewObjectID().Hex()
	m, err := NewMongo(ctx, mongoURL(t, ctx), db)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = m.client.Database(db).Drop(context.Background())
		_ = m.Close(context.Background())
	})
	return m, ctx
}

func TestMongoSubscriberAssociations(t *testing.T) {
	m, ctx := testMongo(t)
	uid, device := bson.NewObjectID(), bson.NewObjectID()
	plain, favorite, added := bson.NewObjectID(), bson.NewObjectID(), bson.NewObjectID()

	_, err := m.subscribers.InsertOne(ctx, bson.D{
		{Key: "_id", Value: uid},
		{Key: "email", Value: "alice@example.com"},
		{Key: "devices", Value: bson.A{bson.D{{Key: "_id", Value: device}, {Key: "status", Value: int32(0)}}}},
		{Key: "streams", Value: bson.A{
			bson.D{{Key: "sid", Value: plain}, {Key: "favorite", Value: false}},
			bson.D{{Key: "sid", Value: favorite}, {Key: "favorite", Value: true}},
		}},
		{Key: "vods", Value: bson.A{}},
	})
	require.NoError(t, err)

	doc, err := m.FindSubscriberByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, uid, doc.Lookup("_id").ObjectID())
	_, err = m.FindSubscriberByEmail(ctx, "bob@example.com")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = m.FindSubscriberByID(ctx, bson.NewObjectID())
	require.ErrorIs(t, err, ErrNotFound)

	// The positional projection returns only the matching entry.
	entry, err := m.FindUserStream(ctx, uid, UserStreams, favorite)
	require.NoError(t, err)
	assert.Equal(t, favorite, entry.Lookup("sid").ObjectID())
	assert.True(t, entry.Lookup("favorite").Boolean())
	_, err = m.FindUserStream(ctx, uid, UserVods, favorite)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.SetUserStreamField(ctx, uid, UserStreams, plain, "favorite", true))
	entry, err = m.FindUserStream(ctx, uid, UserStreams, plain)
	require.NoError(t, err)
	assert.True(t, entry.Lookup("favorite").Boolean())
	err = m.SetUserStreamField(ctx, uid, UserStreams, added, "favorite", true)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.AddUserStream(ctx, uid, UserVods, bson.D{{Key: "sid", Value: added}}))
	_, err = m.FindUserStream(ctx, uid, UserVods, added)
	require.NoError(t, err)
	require.NoError(t, m.RemoveUserStream(ctx, uid, UserVods, added))
	_, err = m.FindUserStream(ctx, uid, UserVods, added)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, m.AddUserStream(ctx, bson.NewObjectID(), UserVods, bson.D{{Key: "sid", Value: added}}), ErrNotFound)

	require.NoError(t, m.ActivateDevice(ctx, uid, device))
	doc, err = m.FindSubscriberByID(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, int32(1), doc.Lookup("devices", "0", "status").Int32())
	require.ErrorIs(t, m.ActivateDevice(ctx, uid, bson.NewObjectID()), ErrNotFound)
}

func TestMongoStreamsAndServers(t *testing.T) {
	m, ctx := testMongo(t)
	sid, part, server := bson.NewObjectID(), bson.NewObjectID(), bson.NewObjectID()

	raw, err := bson.Marshal(bson.D{{Key: "_id", Value: sid}, {Key: "name", Value: "News"}, {Key: "parts", Value: bson.A{}}})
	require.NoError(t, err)
	require.NoError(t, m.InsertStream(ctx, raw))

	require.NoError(t, m.AddStreamPart(ctx, sid, part))
	doc, err := m.FindStream(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, part, doc.Lookup("parts", "0").ObjectID())
	require.NoError(t, m.RemoveStreamPart(ctx, sid, part))
	doc, err = m.FindStream(ctx, sid)
	require.NoError(t, err)
	_, err = doc.LookupErr("parts", "0")
	assert.Error(t, err)
	require.ErrorIs(t, m.AddStreamPart(ctx, bson.NewObjectID(), part), ErrNotFound)

	_, err = m.servers.InsertOne(ctx, bson.D{{Key: "_id", Value: server}, {Key: "streams", Value: bson.A{}}})
	require.NoError(t, err)
	_, err = m.FindServerByStream(ctx, sid)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, m.AddServerStream(ctx, server, sid))
	doc, err = m.FindServerByStream(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, server, doc.Lookup("_id").ObjectID())
	require.ErrorIs(t, m.AddServerStream(ctx, bson.NewObjectID(), sid), ErrNotFound)

	require.NoError(t, m.DeleteStream(ctx, sid))
	_, err = m.FindStream(ctx, sid)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, m.DeleteStream(ctx, sid), ErrNotFound)
}

func TestMongoClosed(t *testing.T) {
	m, ctx := testMongo(t)
	require.NoError(t, m.Close(ctx))
	require.NoError(t, m.Close(ctx))

	_, err := m.FindStream(ctx, bson.NewObjectID())
	require.ErrorIs(t, err, ErrNotConnected)
	require.ErrorIs(t, m.ActivateDevice(ctx, bson.NewObjectID(), bson.NewObjectID()), ErrNotConnected)
	require.ErrorIs(t, m.InsertStream(ctx, bson.Raw{}), ErrNotConnected)
}
