package subscribers

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/voyagen/popcorngate/internal/cache"
	"github.com/voyagen/popcorngate/internal/logging"
	"github.com/voyagen/popcorngate/internal/models"
	"github.com/voyagen/popcorngate/internal/store/storetest"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	testEmail    = "alice@example.com"
	testPassword = "5f4dcc3b5aa765d61d8327deb882cf99"
)

type fixture struct {
	m      *Manager
	db     *storetest.Memory
	uid    bson.ObjectID
	device bson.ObjectID
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	db := storetest.NewMemory()
	opts := Options{
		Store:            db,
		Log:              logging.Discard(),
		CatchupsHost:     "catchups.example.com:8000",
		CatchupsHTTPRoot: "/var/catchups",
		EpgURL:           "http://epg.example.com/epg.xml",
		Now:              func() time.Time { return testNow },
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	f := &fixture{
		m:      New(opts),
		db:     db,
		uid:    bson.NewObjectID(),
		device: bson.NewObjectID(),
	}
	f.db.PutSubscriber(f.subscriber())
	return f
}

func withRedis(t *testing.T) (func(*Options), *cache.Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	r := cache.NewFromClient(client)
	return func(o *Options) { o.Redis = r }, r
}

func (f *fixture) subscriber() bson.D {
	return bson.D{
		{Key: "_id", Value: f.uid},
		{Key: "email", Value: testEmail},
		{Key: "password", Value: testPassword},
		{Key: "status", Value: int32(models.SubscriberActive)},
		{Key: "exp_date", Value: bson.NewDateTimeFromTime(testNow.Add(30 * 24 * time.Hour))},
		{Key: "devices", Value: bson.A{
			bson.D{{Key: "_id", Value: f.device}, {Key: "name", Value: "Living room"}, {Key: "status", Value: int32(models.DeviceActive)}},
		}},
		{Key: "streams", Value: bson.A{}},
		{Key: "vods", Value: bson.A{}},
		{Key: "catchups", Value: bson.A{}},
	}
}

// update rewrites one top-level field of the stored subscriber.
func (f *fixture) update(t *testing.T, key string, value any) {
	t.Helper()
	doc, ok := f.db.Subscriber(f.uid)
	if !ok {
		t.Fatal("subscriber missing")
	}
	for i := range doc {
		if doc[i].Key == key {
			doc[i].Value = value
			f.db.PutSubscriber(doc)
			return
		}
	}
	f.db.PutSubscriber(append(doc, bson.E{Key: key, Value: value}))
}

func (f *fixture) claim() models.Claim {
	return models.Claim{
		AuthInfo: models.AuthInfo{
			LoginInfo: models.LoginInfo{Login: testEmail, Password: testPassword},
			DeviceID:  f.device.Hex(),
		},
		UserID:    f.uid.Hex(),
		ExpiresAt: testNow.Add(30 * 24 * time.Hour).UnixMilli(),
	}
}

// associate stores association entries in list.
func (f *fixture) associate(t *testing.T, list string, entries ...bson.D) {
	t.Helper()
	arr := bson.A{}
	for _, e := range entries {
		arr = append(arr, e)
	}
	f.update(t, list, arr)
}

func assoc(sid bson.ObjectID, private bool) bson.D {
	return bson.D{
		{Key: "sid", Value: sid},
		{Key: "favorite", Value: false},
		{Key: "private", Value: private},
		{Key: "recent", Value: bson.DateTime(0)},
		{Key: "interruption_time", Value: int32(0)},
	}
}

func output(id int32, uri, root string) bson.D {
	return bson.D{
		{Key: "_cls", Value: models.ClassOutputURL},
		{Key: "id", Value: id},
		{Key: "uri", Value: uri},
		{Key: "http_root", Value: root},
		{Key: "hls_type", Value: int32(0)},
	}
}

func liveDoc(id bson.ObjectID, cls, name string, outputs ...bson.D) bson.D {
	arr := bson.A{}
	for _, o := range outputs {
		arr = append(arr, o)
	}
	return bson.D{
		{Key: "_id", Value: id},
		{Key: "_cls", Value: cls},
		{Key: "name", Value: name},
		{Key: "group", Value: "News"},
		{Key: "iarc", Value: int32(12)},
		{Key: "tvg_id", Value: "news.uk"},
		{Key: "tvg_logo", Value: "http://logo.example.com/news.png"},
		{Key: "have_video", Value: true},
		{Key: "have_audio", Value: true},
		{Key: "parts", Value: bson.A{}},
		{Key: "output", Value: arr},
	}
}

func vodDoc(id bson.ObjectID, cls, name string, outputs ...bson.D) bson.D {
	doc := liveDoc(id, cls, name, outputs...)
	return append(doc,
		bson.E{Key: "description", Value: "A film"},
		bson.E{Key: "trailer_url", Value: "http://trailers.example.com/1.mp4"},
		bson.E{Key: "user_score", Value: 7.5},
		bson.E{Key: "prime_date", Value: bson.NewDateTimeFromTime(testNow.AddDate(-1, 0, 0))},
		bson.E{Key: "country", Value: "UK"},
		bson.E{Key: "duration", Value: int32(5400000)},
		bson.E{Key: "vod_type", Value: int32(0)},
	)
}

func catchupDoc(id bson.ObjectID, name string, start, stop int64, outputs ...bson.D) bson.D {
	doc := liveDoc(id, models.ClassCatchup, name, outputs...)
	return append(doc,
		bson.E{Key: "start", Value: bson.DateTime(start)},
		bson.E{Key: "stop", Value: bson.DateTime(stop)},
	)
}

// server stores a media server document hosting the given streams.
func (f *fixture) server(streams ...bson.ObjectID) bson.ObjectID {
	id := bson.NewObjectID()
	arr := bson.A{}
	for _, s := range streams {
		arr = append(arr, s)
	}
	f.db.PutServer(bson.D{{Key: "_id", Value: id}, {Key: "name", Value: "edge-1"}, {Key: "streams", Value: arr}})
	return id
}

func lookupD(doc bson.D, key string) any {
	for _, e := range doc {
		if e.Key == key {
			return e.Value
		}
	}
	return nil
}
