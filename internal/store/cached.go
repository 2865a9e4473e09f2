package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/voyagen/popcorngate/internal/cache"
)

const (
	ttlStream = 5 * time.Minute
	ttlServer = 1 * time.Minute
)

// CachedStore wraps a Store with a Redis cache for stream and server
// documents. Subscriber documents always go to the inner store so that
// status, password and device changes apply immediately.
type CachedStore struct {
	inner Store
	cache *cache.Redis
	log   logrus.FieldLogger
}

// NewCachedStore creates a CachedStore that wraps inner with Redis caching.
func NewCachedStore(inner Store, c *cache.Redis, log logrus.FieldLogger) *CachedStore {
	return &CachedStore{inner: inner, cache: c, log: log}
}

func streamKey(sid bson.ObjectID) string { return "stream:" + sid.Hex() }
func serverKey(sid bson.ObjectID) string { return "server-of:" + sid.Hex() }

// --- cached read operations ---

func (c *CachedStore) FindStream(ctx context.Context, sid bson.ObjectID) (bson.Raw, error) {
	return c.cached(ctx, streamKey(sid), ttlStream, func() (bson.Raw, error) {
		return c.inner.FindStream(ctx, sid)
	})
}

func (c *CachedStore) FindServerByStream(ctx context.Context, sid bson.ObjectID) (bson.Raw, error) {
	return c.cached(ctx, serverKey(sid), ttlServer, func() (bson.Raw, error) {
		return c.inner.FindServerByStream(ctx, sid)
	})
}

func (c *CachedStore) cached(ctx context.Context, key string, ttl time.Duration, load func() (bson.Raw, error)) (bson.Raw, error) {
	if v, err := cache.Get[[]byte](ctx, c.cache, key); err == nil {
		return bson.Raw(v), nil
	}
	doc, err := load()
	if err != nil {
		return nil, err
	}
	if err := cache.Set(ctx, c.cache, key, []byte(doc), ttl); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache: set failed")
	}
	return doc, nil
}

// --- write operations with cache invalidation ---

func (c *CachedStore) InsertStream(ctx context.Context, doc bson.Raw) error {
	return c.inner.InsertStream(ctx, doc)
}

func (c *CachedStore) DeleteStream(ctx context.Context, sid bson.ObjectID) error {
	if err := c.inner.DeleteStream(ctx, sid); err != nil {
		return err
	}
	c.invalidate(ctx, streamKey(sid), serverKey(sid))
	return nil
}

func (c *CachedStore) AddStreamPart(ctx context.Context, sid, part bson.ObjectID) error {
	if err := c.inner.AddStreamPart(ctx, sid, part); err != nil {
		return err
	}
	c.invalidate(ctx, streamKey(sid))
	return nil
}

func (c *CachedStore) RemoveStreamPart(ctx context.Context, sid, part bson.ObjectID) error {
	if err := c.inner.RemoveStreamPart(ctx, sid, part); err != nil {
		return err
	}
	c.invalidate(ctx, streamKey(sid))
	return nil
}

func (c *CachedStore) AddServerStream(ctx context.Context, serverID, sid bson.ObjectID) error {
	if err := c.inner.AddServerStream(ctx, serverID, sid); err != nil {
		return err
	}
	c.invalidate(ctx, serverKey(sid))
	return nil
}

// --- passthrough (no caching) ---

func (c *CachedStore) FindSubscriberByEmail(ctx context.Context, email string) (bson.Raw, error) {
	return c.inner.FindSubscriberByEmail(ctx, email)
}

func (c *CachedStore) FindSubscriberByID(ctx context.Context, uid bson.ObjectID) (bson.Raw, error) {
	return c.inner.FindSubscriberByID(ctx, uid)
}

func (c *CachedStore) FindUserStream(ctx context.Context, uid bson.ObjectID, list UserList, sid bson.ObjectID) (bson.Raw, error) {
	return c.inner.FindUserStream(ctx, uid, list, sid)
}

func (c *CachedStore) ActivateDevice(ctx context.Context, uid, deviceID bson.ObjectID) error {
	return c.inner.ActivateDevice(ctx, uid, deviceID)
}

func (c *CachedStore) SetUserStreamField(ctx context.Context, uid bson.ObjectID, list UserList, sid bson.ObjectID, field string, value any) error {
	return c.inner.SetUserStreamField(ctx, uid, list, sid, field, value)
}

func (c *CachedStore) AddUserStream(ctx context.Context, uid bson.ObjectID, list UserList, entry bson.D) error {
	return c.inner.AddUserStream(ctx, uid, list, entry)
}

func (c *CachedStore) RemoveUserStream(ctx context.Context, uid bson.ObjectID, list UserList, sid bson.ObjectID) error {
	return c.inner.RemoveUserStream(ctx, uid, list, sid)
}

// --- helpers ---

// invalidate deletes exact cache keys, logging any errors.
func (c *CachedStore) invalidate(ctx context.Context, keys ...string) {
	if err := cache.Del(ctx, c.cache, keys...); err != nil && err != redis.Nil {
		c.log.WithError(err).WithField("keys", keys).Warn("cache: del failed")
	}
}
