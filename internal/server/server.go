package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/voyagen/popcorngate/internal/config"
	"github.com/voyagen/popcorngate/internal/history"
	"github.com/voyagen/popcorngate/internal/metrics"
	"github.com/voyagen/popcorngate/internal/subscribers"
)

// SessionLister reads recorded subscriber sessions. history.Postgres implements it.
type SessionLister interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]history.Session, error)
}

// Server serves HLS playback, the subscriber websocket and the operator API.
type Server struct {
	mgr      *subscribers.Manager
	cfg      *config.Config
	log      logrus.FieldLogger
	metrics  *metrics.Collector
	sessions SessionLister // nil when DATABASE_URL is not set
	mux      *http.ServeMux
	upgrader websocket.Upgrader

	connMu  sync.Mutex
	conns   map[net.Conn]*subscribers.Session
	wsConns map[*websocket.Conn]struct{}
	wsWG    sync.WaitGroup
	closing bool
}

// New creates a Server and registers routes.
// m and sessions may be nil.
func New(mgr *subscribers.Manager, cfg *config.Config, log logrus.FieldLogger, m *metrics.Collector, sessions SessionLister) *Server {
	srv := &Server{
		mgr:      mgr,
		cfg:      cfg,
		log:      log,
		metrics:  m,
		sessions: sessions,
		mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns:   make(map[net.Conn]*subscribers.Session),
		wsConns: make(map[*websocket.Conn]struct{}),
	}
	srv.routes()
	return srv
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	// Subscriber applications
	s.mux.HandleFunc("GET /ws", s.handleWS)
	s.mux.HandleFunc("GET /{uid}/{password}/{device}/{sid}/{cid}/{file}", s.handleHLS)

	// Operators
	if s.cfg != nil && s.cfg.OperatorToken != "" {
		s.mux.HandleFunc("GET /api/subscribers/{uid}/sessions", s.requireOperator(s.handleListSessions))
	}

	// Docs
	s.mux.HandleFunc("GET /api/docs", handleSwaggerUI)
	s.mux.HandleFunc("GET /api/docs/openapi.yaml", handleOpenAPISpec)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// HTTPServer returns an http.Server bound to addr that tracks one
// subscriber session per client connection.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      withCORS(withLogging(s.log, s.metrics, s)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
		ConnContext:  s.connContext,
		ConnState:    s.connState,
	}
}

// ListenAndServe starts the HTTP server on the configured port.
// It blocks until the server is shut down or ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+s.cfg.HTTPPort)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. It returns only
// after in-flight requests have finished, websocket connections have been
// closed and every session has been unregistered, so the caller may tear
// down the stores afterwards.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := s.HTTPServer(ln.Addr().String())
	httpServer.RegisterOnShutdown(s.closeWebsockets)

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.WithError(err).Warn("server shutdown")
		}
		// OnShutdown hooks run asynchronously; make sure they have.
		s.closeWebsockets()
		s.waitWebsockets(shutdownCtx)
		s.releaseConns()
	}()

	s.log.WithField("addr", ln.Addr().String()).Info("listening")
	if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	<-done
	return nil
}

// trackWebsocket registers conn for shutdown. It reports false when the
// server is already closing; the caller must then drop the connection.
func (s *Server) trackWebsocket(conn *websocket.Conn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.closing {
		return false
	}
	s.wsConns[conn] = struct{}{}
	s.wsWG.Add(1)
	return true
}

func (s *Server) untrackWebsocket(conn *websocket.Conn) {
	s.connMu.Lock()
	delete(s.wsConns, conn)
	s.connMu.Unlock()
	s.wsWG.Done()
}

// closeWebsockets closes every hijacked websocket connection. Their
// handlers notice the read error and unregister their sessions.
func (s *Server) closeWebsockets() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.closing = true
	for conn := range s.wsConns {
		_ = conn.Close()
	}
}

func (s *Server) waitWebsockets(ctx context.Context) {
	finished := make(chan struct{})
	go func() {
		s.wsWG.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		s.log.Warn("websocket handlers still running after shutdown timeout")
	}
}

// releaseConns unregisters the sessions of HTTP connections whose close
// has not been reported by the server yet.
func (s *Server) releaseConns() {
	s.connMu.Lock()
	sessions := make([]*subscribers.Session, 0, len(s.conns))
	for c, sess := range s.conns {
		sessions = append(sessions, sess)
		delete(s.conns, c)
	}
	s.connMu.Unlock()
	for _, sess := range sessions {
		s.mgr.Unregister(context.Background(), sess)
	}
}

// --- per-connection sessions ---

type sessionKey struct{}

func (s *Server) connContext(ctx context.Context, c net.Conn) context.Context {
	sess := subscribers.NewSession(subscribers.TransportHTTP)
	s.connMu.Lock()
	s.conns[c] = sess
	s.connMu.Unlock()
	return context.WithValue(ctx, sessionKey{}, sess)
}

func (s *Server) connState(c net.Conn, state http.ConnState) {
	if state != http.StateClosed && state != http.StateHijacked {
		return
	}
	s.connMu.Lock()
	sess, ok := s.conns[c]
	delete(s.conns, c)
	s.connMu.Unlock()
	if ok {
		s.mgr.Unregister(context.Background(), sess)
	}
}

// connSession returns the session bound to the request's connection. When
// the handler runs without connection tracking a request-scoped session is
// returned together with a release func.
func (s *Server) connSession(r *http.Request) (*subscribers.Session, func()) {
	if sess, ok := r.Context().Value(sessionKey{}).(*subscribers.Session); ok {
		return sess, func() {}
	}
	sess := subscribers.NewSession(subscribers.TransportHTTP)
	return sess, func() { s.mgr.Unregister(context.WithoutCancel(r.Context()), sess) }
}

// --- handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.mgr.Registry().Len(),
	})
}

// requireOperator rejects requests without the configured operator bearer token.
func (s *Server) requireOperator(next http.HandlerFunc) http.HandlerFunc {
	want := []byte("Bearer " + s.cfg.OperatorToken)
	return func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			s.writeErr(w, http.StatusUnauthorized, errors.New("operator token required"))
			return
		}
		next(w, r)
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		s.writeErr(w, http.StatusServiceUnavailable, fmt.Errorf("session history is not configured (DATABASE_URL not set)"))
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid limit: %s", v))
			return
		}
		limit = n
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	uid := r.PathValue("uid")
	sessions, err := s.sessions.ListByUser(r.Context(), uid, limit)
	if err != nil {
		s.writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if sessions == nil {
		sessions = []history.Session{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  uid,
		"sessions": sessions,
		"limit":    limit,
	})
}
