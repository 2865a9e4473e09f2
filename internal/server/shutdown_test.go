package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/voyagen/popcorngate/internal/history"
	"github.com/voyagen/popcorngate/internal/models"
	"github.com/voyagen/popcorngate/internal/subscribers"
)

type historyLog struct {
	mu     sync.Mutex
	opened int
	closed int
}

func (h *historyLog) Opened(context.Context, history.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opened++
	return nil
}

func (h *historyLog) Closed(context.Context, string, time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
	return nil
}

func (h *historyLog) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.opened, h.closed
}

func TestServeDrainsSessionsBeforeReturning(t *testing.T) {
	rec := &historyLog{}
	env := newTestEnv(t, nil, func(o *subscribers.Options) { o.History = rec })
	sid := env.addStream(t, models.ClassProxy, "http://upstream.example.com/live.m3u8", "")

	// A second device so the websocket and the player do not collide.
	tablet := addDevice(t, env)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- env.srv.Serve(ctx, ln) }()

	c := dialWS(t, base)
	reply := c.call("login", map[string]string{
		"login":     testEmail,
		"password":  testPassword,
		"device_id": tablet,
	})
	require.Empty(t, reply.Error)

	client := noRedirect()
	t.Cleanup(client.CloseIdleConnections)
	resp, err := client.Get(env.playURL(base, sid, testPassword, "master.m3u8"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusPermanentRedirect, resp.StatusCode)
	require.Equal(t, 2, env.mgr.Registry().Len())

	cancel()
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("Serve did not return")
	}

	// Everything is released by the time Serve returns.
	assert.Equal(t, 0, env.mgr.Registry().Len())
	opened, closed := rec.counts()
	assert.Equal(t, 2, opened)
	assert.Equal(t, 2, closed)
}

// addDevice appends an active device to the subscriber and returns its id.
func addDevice(t *testing.T, env *testEnv) string {
	t.Helper()
	id := bson.NewObjectID()
	doc, ok := env.db.Subscriber(env.uid)
	require.True(t, ok)
	for i := range doc {
		if doc[i].Key == "devices" {
			arr, _ := doc[i].Value.(bson.A)
			doc[i].Value = append(arr, bson.D{
				{Key: "_id", Value: id},
				{Key: "name", Value: "Tablet"},
				{Key: "status", Value: int32(models.DeviceActive)},
			})
		}
	}
	env.db.PutSubscriber(doc)
	return id.Hex()
}
