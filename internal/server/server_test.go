package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/voyagen/popcorngate/internal/config"
	"github.com/voyagen/popcorngate/internal/history"
	"github.com/voyagen/popcorngate/internal/logging"
	"github.com/voyagen/popcorngate/internal/metrics"
	"github.com/voyagen/popcorngate/internal/models"
	"github.com/voyagen/popcorngate/internal/store/storetest"
	"github.com/voyagen/popcorngate/internal/subscribers"
)

const (
	testEmail         = "alice@example.com"
	testPassword      = "5f4dcc3b5aa765d61d8327deb882cf99"
	testOperatorToken = "operator-secret"
)

type testEnv struct {
	srv     *Server
	mgr     *subscribers.Manager
	db      *storetest.Memory
	metrics *metrics.Collector
	uid     bson.ObjectID
	device  bson.ObjectID
}

func newTestEnv(t *testing.T, sessions SessionLister, mutate ...func(*subscribers.Options)) *testEnv {
	t.Helper()
	db := storetest.NewMemory()
	m := metrics.New()
	opts := subscribers.Options{
		Store:        db,
		Log:          logging.Discard(),
		EpgURL:       "http://epg.example.com/epg.xml",
		CatchupsHost: "rec.example.com",
		Metrics:      m,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	mgr := subscribers.New(opts)
	env := &testEnv{
		mgr:     mgr,
		db:      db,
		metrics: m,
		uid:     bson.NewObjectID(),
		device:  bson.NewObjectID(),
	}
	env.srv = New(mgr, &config.Config{PingInterval: time.Second, OperatorToken: testOperatorToken}, logging.Discard(), m, sessions)
	db.PutSubscriber(bson.D{
		{Key: "_id", Value: env.uid},
		{Key: "email", Value: testEmail},
		{Key: "password", Value: testPassword},
		{Key: "status", Value: int32(models.SubscriberActive)},
		{Key: "exp_date", Value: bson.NewDateTimeFromTime(time.Now().Add(24 * time.Hour))},
		{Key: "devices", Value: bson.A{
			bson.D{{Key: "_id", Value: env.device}, {Key: "name", Value: "TV"}, {Key: "status", Value: int32(models.DeviceActive)}},
		}},
		{Key: "streams", Value: bson.A{}},
		{Key: "vods", Value: bson.A{}},
		{Key: "catchups", Value: bson.A{}},
	})
	return env
}

// start serves the environment over a real listener with connection tracking.
func (e *testEnv) start(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewUnstartedServer(nil)
	ts.Config = e.srv.HTTPServer("")
	ts.Start()
	t.Cleanup(ts.Close)
	return ts
}

// addStream stores a stream with one output and associates it under streams.
func (e *testEnv) addStream(t *testing.T, cls, uri, root string) bson.ObjectID {
	t.Helper()
	sid := bson.NewObjectID()
	e.db.PutStream(bson.D{
		{Key: "_id", Value: sid},
		{Key: "_cls", Value: cls},
		{Key: "name", Value: "News"},
		{Key: "group", Value: "News"},
		{Key: "iarc", Value: int32(0)},
		{Key: "tvg_id", Value: "news"},
		{Key: "tvg_logo", Value: ""},
		{Key: "have_video", Value: true},
		{Key: "have_audio", Value: true},
		{Key: "parts", Value: bson.A{}},
		{Key: "output", Value: bson.A{bson.D{
			{Key: "_cls", Value: models.ClassOutputURL},
			{Key: "id", Value: int32(1)},
			{Key: "uri", Value: uri},
			{Key: "http_root", Value: root},
			{Key: "hls_type", Value: int32(0)},
		}}},
	})
	doc, _ := e.db.Subscriber(e.uid)
	for i := range doc {
		if doc[i].Key == "streams" {
			arr, _ := doc[i].Value.(bson.A)
			doc[i].Value = append(arr, bson.D{
				{Key: "sid", Value: sid},
				{Key: "favorite", Value: false},
				{Key: "private", Value: false},
				{Key: "recent", Value: bson.DateTime(0)},
				{Key: "interruption_time", Value: int32(0)},
			})
		}
	}
	e.db.PutSubscriber(doc)
	return sid
}

func (e *testEnv) playURL(base string, sid bson.ObjectID, password, file string) string {
	return strings.Join([]string{base, e.uid.Hex(), password, e.device.Hex(), sid.Hex(), "1", file}, "/")
}

func noRedirect() *http.Client {
	return &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
}

func decodeAPIError(t *testing.T, resp *http.Response) APIError {
	t.Helper()
	var apiErr APIError
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&apiErr))
	return apiErr
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["sessions"])
}

func TestMetricsAndDocs(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	rec = httptest.NewRecorder()
	env.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/docs/openapi.yaml", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "openapi: 3.0.3")
}

type fakeSessions struct {
	userID string
	limit  int
	err    error
}

func (f *fakeSessions) ListByUser(_ context.Context, userID string, limit int) ([]history.Session, error) {
	f.userID, f.limit = userID, limit
	if f.err != nil {
		return nil, f.err
	}
	return []history.Session{{SessionID: "s1", UserID: userID, Transport: "http"}}, nil
}

func operatorRequest(path string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+testOperatorToken)
	return req
}

func TestListSessions(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestEnv(t, nil).srv.ServeHTTP(rec, operatorRequest("/api/subscribers/u1/sessions"))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	fake := &fakeSessions{}
	env := newTestEnv(t, fake)
	rec = httptest.NewRecorder()
	env.srv.ServeHTTP(rec, operatorRequest("/api/subscribers/u1/sessions?limit=1000"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", fake.userID)
	assert.Equal(t, 200, fake.limit)

	rec = httptest.NewRecorder()
	env.srv.ServeHTTP(rec, operatorRequest("/api/subscribers/u1/sessions?limit=abc"))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	fake.err = errors.New("connection refused")
	rec = httptest.NewRecorder()
	env.srv.ServeHTTP(rec, operatorRequest("/api/subscribers/u1/sessions"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListSessionsRequiresOperatorToken(t *testing.T) {
	fake := &fakeSessions{}
	env := newTestEnv(t, fake)

	for _, header := range []string{"", "Bearer wrong", testOperatorToken} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/subscribers/u1/sessions", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		env.srv.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}
	assert.Empty(t, fake.userID)

	// Without a configured token the operator routes do not exist.
	srv := New(env.mgr, &config.Config{}, logging.Discard(), metrics.New(), fake)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, operatorRequest("/api/subscribers/u1/sessions"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, fake.userID)
}

func TestPlaybackServesLocalFiles(t *testing.T) {
	env := newTestEnv(t, nil)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "master.m3u8"), []byte("#EXTM3U\n"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	sid := env.addStream(t, models.ClassEncode, "http://edge/3/x/1/master.m3u8", dir)
	ts := env.start(t)
	client := ts.Client()

	resp, err := client.Get(env.playURL(ts.URL, sid, testPassword, "master.m3u8"))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "#EXTM3U\n", string(body))
	assert.Equal(t, 1, env.mgr.Registry().Len())

	// Same connection, same session.
	resp, err = client.Get(env.playURL(ts.URL, sid, testPassword, "missing.ts"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, 1, env.mgr.Registry().Len())

	resp, err = client.Get(env.playURL(ts.URL, sid, testPassword, "sub"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	client.CloseIdleConnections()
	require.Eventually(t, func() bool { return env.mgr.Registry().Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestPlaybackRedirects(t *testing.T) {
	env := newTestEnv(t, nil)
	sid := env.addStream(t, models.ClassProxy, "http://upstream.example.com/live.m3u8", t.TempDir())
	ts := env.start(t)
	client := noRedirect()
	t.Cleanup(client.CloseIdleConnections)

	resp, err := client.Get(env.playURL(ts.URL, sid, testPassword, "master.m3u8"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusPermanentRedirect, resp.StatusCode)
	assert.Equal(t, "http://upstream.example.com/live.m3u8", resp.Header.Get("Location"))
	assert.Equal(t, 1, env.mgr.CountViewers(sid.Hex()))
}

func TestPlaybackErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	sid := env.addStream(t, models.ClassEncode, "http://edge/3/x/1/master.m3u8", t.TempDir())
	ts := env.start(t)

	tests := []struct {
		name   string
		url    string
		status int
		detail string
	}{
		{"wrong password", env.playURL(ts.URL, sid, "nope", "a.ts"), http.StatusForbidden, subscribers.ErrInvalidPassword.Error()},
		{"unknown stream", env.playURL(ts.URL, bson.NewObjectID(), testPassword, "a.ts"), http.StatusNotFound, subscribers.ErrStreamNotFound.Error()},
		{"bad channel id", strings.Replace(env.playURL(ts.URL, sid, testPassword, "a.ts"), "/1/a.ts", "/x/a.ts", 1), http.StatusBadRequest, ""},
		{"bad user id", ts.URL + "/zzz/p/d/" + sid.Hex() + "/1/a.ts", http.StatusBadRequest, subscribers.ErrInvalidUserID.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &http.Client{}
			t.Cleanup(client.CloseIdleConnections)
			resp, err := client.Get(tt.url)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, tt.status, resp.StatusCode)
			if tt.detail != "" {
				assert.Equal(t, tt.detail, decodeAPIError(t, resp).Detail)
			}
		})
	}
}

func TestPlaybackStoreUnavailable(t *testing.T) {
	env := newTestEnv(t, nil)
	sid := env.addStream(t, models.ClassEncode, "http://edge/3/x/1/master.m3u8", t.TempDir())
	env.db.Close()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/"+env.uid.Hex()+"/"+testPassword+"/"+env.device.Hex()+"/"+sid.Hex()+"/1/a.ts", nil)
	env.srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestClassify(t *testing.T) {
	status, public := classify(errors.Join(errors.New("ctx"), subscribers.ErrDeviceBanned))
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, subscribers.ErrDeviceBanned, public)

	status, public = classify(errors.New("mongo: socket closed"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, errInternal, public)
}

func TestClassifyInvalidStreamIsNamed(t *testing.T) {
	status, public := classify(subscribers.ErrInvalidStreamRecord)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, subscribers.ErrInvalidStreamRecord, public)
}
