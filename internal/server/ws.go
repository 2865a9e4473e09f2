package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/voyagen/popcorngate/internal/models"
	"github.com/voyagen/popcorngate/internal/subscribers"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	defaultPingInterval = 60 * time.Second
)

type wsRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type wsResponse struct {
	ID     json.RawMessage `json:"id"`
	Result any             `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// wsClient is one subscriber application connection.
type wsClient struct {
	srv     *Server
	conn    *websocket.Conn
	session *subscribers.Session
	send    chan []byte
	done    chan struct{}
	log     logrus.FieldLogger
}

func (s *Server) pingInterval() time.Duration {
	if s.cfg == nil || s.cfg.PingInterval <= 0 {
		return defaultPingInterval
	}
	return s.cfg.PingInterval
}

// handleWS upgrades the connection and serves requests until the peer
// goes away. The session is unregistered when the connection ends.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	if !s.trackWebsocket(conn) {
		_ = conn.Close()
		return
	}
	defer s.untrackWebsocket(conn)

	sess := subscribers.NewSession(subscribers.TransportWebsocket)
	c := &wsClient{
		srv:     s,
		conn:    conn,
		session: sess,
		send:    make(chan []byte, 16),
		done:    make(chan struct{}),
		log:     s.log.WithField("session_id", sess.ID()),
	}

	go c.writePump(s.pingInterval())
	c.readPump(r.Context(), 2*s.pingInterval())
	close(c.send)
	<-c.done

	s.mgr.Unregister(context.WithoutCancel(r.Context()), sess)
}

// readPump handles requests in arrival order and queues the responses.
func (c *wsClient) readPump(ctx context.Context, pongWait time.Duration) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Debug("websocket closed")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		data, err := json.Marshal(c.handle(ctx, message))
		if err != nil {
			c.log.WithError(err).Error("websocket marshal response")
			continue
		}
		select {
		case c.send <- data:
		case <-c.done:
			return
		}
	}
}

// writePump writes queued responses and pings the peer every interval.
func (c *wsClient) writePump(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		close(c.done)
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) handle(ctx context.Context, message []byte) wsResponse {
	var req wsRequest
	if err := json.Unmarshal(message, &req); err != nil {
		return wsResponse{Error: subscribers.ErrInvalidInput.Error()}
	}
	resp := wsResponse{ID: req.ID}

	m, ok := wsMethods[req.Method]
	if !ok {
		resp.Error = errUnknownMethod.Error()
		return resp
	}
	var claim models.Claim
	if m.auth {
		var err error
		if claim, err = c.srv.mgr.IsLoggedIn(c.session); err != nil {
			resp.Error = err.Error()
			return resp
		}
	}

	result, err := m.fn(c, ctx, claim, req.Params)
	if err != nil {
		status, public := classify(err)
		if status >= http.StatusInternalServerError {
			c.log.WithError(err).WithField("method", req.Method).Error("websocket request failed")
		}
		resp.Error = public.Error()
		return resp
	}
	resp.Result = result
	return resp
}

type wsMethod struct {
	auth bool
	fn   func(c *wsClient, ctx context.Context, claim models.Claim, params json.RawMessage) (any, error)
}

var wsMethods = map[string]wsMethod{
	"activate_device":          {fn: (*wsClient).activateDevice},
	"login":                    {fn: (*wsClient).login},
	"ping":                     {fn: (*wsClient).ping},
	"get_server_info":          {auth: true, fn: (*wsClient).serverInfo},
	"get_channels":             {auth: true, fn: (*wsClient).channels},
	"get_runtime_channel_info": {auth: true, fn: (*wsClient).runtimeChannelInfo},
	"set_favorite":             {auth: true, fn: (*wsClient).setFavorite},
	"set_recent":               {auth: true, fn: (*wsClient).setRecent},
	"set_interrupt_time":       {auth: true, fn: (*wsClient).setInterruptTime},
	"add_stream":               {auth: true, fn: (*wsClient).addStream},
	"remove_stream":            {auth: true, fn: (*wsClient).removeStream},
	"add_vod":                  {auth: true, fn: (*wsClient).addVod},
	"remove_vod":               {auth: true, fn: (*wsClient).removeVod},
	"request_catchup":          {auth: true, fn: (*wsClient).requestCatchup},
	"undo_catchup":             {auth: true, fn: (*wsClient).undoCatchup},
}

func decodeParams[T any](params json.RawMessage) (T, error) {
	var v T
	if len(params) == 0 {
		return v, subscribers.ErrInvalidInput
	}
	if err := json.Unmarshal(params, &v); err != nil {
		return v, subscribers.ErrInvalidInput
	}
	return v, nil
}

type streamParams struct {
	ID string `json:"id"`
}

type favoriteParams struct {
	ID       string `json:"id"`
	Favorite bool   `json:"favorite"`
}

type recentParams struct {
	ID     string `json:"id"`
	Recent int64  `json:"recent"`
}

type interruptParams struct {
	ID               string `json:"id"`
	InterruptionTime int32  `json:"interruption_time"`
}

type catchupParams struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Start int64  `json:"start"`
	Stop  int64  `json:"stop"`
}

type ack struct {
	OK bool `json:"ok"`
}

func (c *wsClient) activateDevice(ctx context.Context, _ models.Claim, params json.RawMessage) (any, error) {
	login, err := decodeParams[models.LoginInfo](params)
	if err != nil {
		return nil, err
	}
	devices, err := c.srv.mgr.Activate(ctx, login)
	if err != nil {
		return nil, err
	}
	return map[string]any{"devices": devices}, nil
}

func (c *wsClient) login(ctx context.Context, _ models.Claim, params json.RawMessage) (any, error) {
	if _, err := c.srv.mgr.IsLoggedIn(c.session); err == nil {
		return nil, errAlreadyLoggedIn
	}
	auth, err := decodeParams[models.AuthInfo](params)
	if err != nil {
		return nil, err
	}
	claim, err := c.srv.mgr.Login(ctx, auth)
	if err != nil {
		return nil, err
	}
	if err := c.srv.mgr.Register(ctx, c.session, claim); err != nil {
		return nil, err
	}
	c.log.WithField("user_id", claim.UserID).Info("subscriber logged in")
	return map[string]any{"user_id": claim.UserID, "exp_date": claim.ExpiresAt}, nil
}

func (c *wsClient) ping(context.Context, models.Claim, json.RawMessage) (any, error) {
	return map[string]any{"timestamp": time.Now().UnixMilli()}, nil
}

func (c *wsClient) serverInfo(context.Context, models.Claim, json.RawMessage) (any, error) {
	return c.srv.mgr.ServerInfo(), nil
}

func (c *wsClient) channels(ctx context.Context, claim models.Claim, _ json.RawMessage) (any, error) {
	return c.srv.mgr.GetChannels(ctx, claim)
}

func (c *wsClient) runtimeChannelInfo(_ context.Context, _ models.Claim, params json.RawMessage) (any, error) {
	p, err := decodeParams[streamParams](params)
	if err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, subscribers.ErrInvalidInput
	}
	watchers := c.srv.mgr.CountViewers(p.ID)
	c.srv.mgr.SetWatching(c.session, p.ID)
	return map[string]any{"id": p.ID, "watchers": watchers}, nil
}

func (c *wsClient) setFavorite(ctx context.Context, claim models.Claim, params json.RawMessage) (any, error) {
	p, err := decodeParams[favoriteParams](params)
	if err != nil {
		return nil, err
	}
	return ack{true}, c.srv.mgr.SetFavorite(ctx, claim, p.ID, p.Favorite)
}

func (c *wsClient) setRecent(ctx context.Context, claim models.Claim, params json.RawMessage) (any, error) {
	p, err := decodeParams[recentParams](params)
	if err != nil {
		return nil, err
	}
	return ack{true}, c.srv.mgr.SetRecent(ctx, claim, p.ID, p.Recent)
}

func (c *wsClient) setInterruptTime(ctx context.Context, claim models.Claim, params json.RawMessage) (any, error) {
	p, err := decodeParams[interruptParams](params)
	if err != nil {
		return nil, err
	}
	return ack{true}, c.srv.mgr.SetInterruptTime(ctx, claim, p.ID, p.InterruptionTime)
}

func (c *wsClient) addStream(ctx context.Context, claim models.Claim, params json.RawMessage) (any, error) {
	p, err := decodeParams[streamParams](params)
	if err != nil {
		return nil, err
	}
	return ack{true}, c.srv.mgr.AddUserStream(ctx, claim, p.ID)
}

func (c *wsClient) removeStream(ctx context.Context, claim models.Claim, params json.RawMessage) (any, error) {
	p, err := decodeParams[streamParams](params)
	if err != nil {
		return nil, err
	}
	return ack{true}, c.srv.mgr.RemoveUserStream(ctx, claim, p.ID)
}

func (c *wsClient) addVod(ctx context.Context, claim models.Claim, params json.RawMessage) (any, error) {
	p, err := decodeParams[streamParams](params)
	if err != nil {
		return nil, err
	}
	return ack{true}, c.srv.mgr.AddUserVod(ctx, claim, p.ID)
}

func (c *wsClient) removeVod(ctx context.Context, claim models.Claim, params json.RawMessage) (any, error) {
	p, err := decodeParams[streamParams](params)
	if err != nil {
		return nil, err
	}
	return ack{true}, c.srv.mgr.RemoveUserVod(ctx, claim, p.ID)
}

// requestCatchup records (or reuses) a catchup of a live channel and adds
// it to the subscriber's catchups.
func (c *wsClient) requestCatchup(ctx context.Context, claim models.Claim, params json.RawMessage) (any, error) {
	p, err := decodeParams[catchupParams](params)
	if err != nil {
		return nil, err
	}
	rec, _, err := c.srv.mgr.CreateCatchup(ctx, claim, p.ID, p.Title, p.Start, p.Stop)
	if err != nil {
		return nil, err
	}
	if err := c.srv.mgr.AddUserCatchup(ctx, claim, rec.ID); err != nil {
		return nil, err
	}
	return rec, nil
}

func (c *wsClient) undoCatchup(ctx context.Context, claim models.Claim, params json.RawMessage) (any, error) {
	p, err := decodeParams[streamParams](params)
	if err != nil {
		return nil, err
	}
	return ack{true}, c.srv.mgr.RemoveUserCatchup(ctx, claim, p.ID)
}
