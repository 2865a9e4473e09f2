package subscribers

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/voyagen/popcorngate/internal/cache"
	"github.com/voyagen/popcorngate/internal/history"
	"github.com/voyagen/popcorngate/internal/metrics"
	"github.com/voyagen/popcorngate/internal/models"
	"github.com/voyagen/popcorngate/internal/store"
	"github.com/voyagen/popcorngate/internal/streams"
)

// Options configures a Manager. Only Store and Log are required.
type Options struct {
	Store store.Store
	Log   logrus.FieldLogger

	CatchupsHost     string
	CatchupsHTTPRoot string
	EpgURL           string

	// Redis enables the cross-process catchup lock and catchup events.
	Redis   *cache.Redis
	History history.Recorder
	Metrics *metrics.Collector

	Now       func() time.Time
	DirExists func(path string) bool
}

// Manager authenticates subscribers, lists and resolves their streams and
// manages catchups. It is safe for concurrent use.
type Manager struct {
	store    store.Store
	log      logrus.FieldLogger
	registry *Registry
	decoder  *streams.Decoder
	catchups *Catchups
	redis    *cache.Redis
	history  history.Recorder
	metrics  *metrics.Collector
	epgURL   string

	now       func() time.Time
	dirExists func(string) bool
}

// New builds a Manager from opts.
func New(opts Options) *Manager {
	m := &Manager{
		store:     opts.Store,
		log:       opts.Log,
		registry:  NewRegistry(),
		decoder:   streams.NewDecoder(opts.Log),
		redis:     opts.Redis,
		history:   opts.History,
		metrics:   opts.Metrics,
		epgURL:    opts.EpgURL,
		now:       opts.Now,
		dirExists: opts.DirExists,
	}
	if m.history == nil {
		m.history = history.Nop{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.dirExists == nil {
		m.dirExists = isDir
	}
	m.catchups = NewCatchups(CatchupsConfig{
		Store:    opts.Store,
		Decoder:  m.decoder,
		Log:      opts.Log,
		Host:     opts.CatchupsHost,
		HTTPRoot: opts.CatchupsHTTPRoot,
		Redis:    opts.Redis,
		Now:      m.now,
	})
	return m
}

// Registry returns the session registry owned by the manager.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// ServerInfo is returned to subscriber applications on request.
type ServerInfo struct {
	EpgURL string `json:"epg_url"`
}

// ServerInfo returns static server information.
func (m *Manager) ServerInfo() ServerInfo {
	return ServerInfo{EpgURL: m.epgURL}
}

func (m *Manager) db() (store.Store, error) {
	if m.store == nil {
		return nil, ErrNotConnected
	}
	return m.store, nil
}

func isDir(path string) bool {
	if path == "" {
		return false
	}
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

func parseUserID(id string) (bson.ObjectID, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return bson.ObjectID{}, ErrInvalidUserID
	}
	return oid, nil
}

func parseStreamID(id string) (bson.ObjectID, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return bson.ObjectID{}, ErrInvalidStreamID
	}
	return oid, nil
}

// --- session lifecycle ---

// Register binds claim to the session and adds it to the registry.
// Callers register each session at most once.
func (m *Manager) Register(ctx context.Context, s *Session, c models.Claim) error {
	if err := m.registry.Register(s, c); err != nil {
		return err
	}
	m.metrics.SessionRegistered(string(s.Transport()))
	ev := history.Event{
		SessionID: s.ID(),
		UserID:    c.UserID,
		Login:     c.Login,
		DeviceID:  c.DeviceID,
		Transport: string(s.Transport()),
		OpenedAt:  m.now(),
	}
	if err := m.history.Opened(ctx, ev); err != nil {
		m.log.WithError(err).WithField("session_id", s.ID()).Warn("history: record open failed")
	}
	return nil
}

// Unregister removes the session from the registry. It is a no-op for
// sessions that never logged in or were already removed.
func (m *Manager) Unregister(ctx context.Context, s *Session) {
	if !m.registry.Unregister(s) {
		return
	}
	m.metrics.SessionUnregistered(string(s.Transport()))
	if err := m.history.Closed(ctx, s.ID(), m.now()); err != nil {
		m.log.WithError(err).WithField("session_id", s.ID()).Warn("history: record close failed")
	}
}

// IsLoggedIn returns the session claim or ErrNotLoggedIn.
func (m *Manager) IsLoggedIn(s *Session) (models.Claim, error) {
	return m.registry.IsLoggedIn(s)
}

// CountViewers returns how many registered sessions are watching sid.
// It does not modify any session; pair it with SetWatching.
func (m *Manager) CountViewers(sid string) int {
	return m.registry.CountViewers(sid)
}

// SetWatching marks s as watching sid.
func (m *Manager) SetWatching(s *Session, sid string) {
	m.registry.SetWatching(s, sid)
}
