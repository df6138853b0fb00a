package gateway

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gutche/yappin/logger"
	"github.com/gutche/yappin/middleware/security"
	"github.com/gutche/yappin/module/chat/model"
	"github.com/gutche/yappin/service/bus"
	"github.com/gutche/yappin/service/storage"
	"github.com/gutche/yappin/tools/errs"
	"github.com/gutche/yappin/tools/ids"
)

var (
	connectionsTotal = metrics.NewCounter("yappin_connections_total")
	authRejects      = metrics.NewCounter("yappin_auth_rejects_total")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Options struct {
	GatewayID     string
	SendQueueSize int
	// StoreTimeout bounds every shared-store round-trip so a slow store
	// degrades one connection, never the worker.
	StoreTimeout time.Duration
	PageSize     int
}

func (o *Options) norm() {
	if o.GatewayID == "" {
		o.GatewayID = "gateway"
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = 64
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 2 * time.Second
	}
	if o.PageSize <= 0 {
		o.PageSize = storage.RingSize
	}
}

// Server is one worker's Connection Gateway: it owns this worker's
// sockets and drives the per-connection state machine
// (connecting -> authenticated -> active -> closed).
type Server struct {
	opts  Options
	conns *ConnManager

	presence storage.PresenceDirectory
	sessions storage.SessionStore
	cache    storage.MessageCache
	durable  DurableStore
	profiles ProfileDirectory
	auth     Authenticator
	bus      bus.Bus
}

func NewServer(opts Options, presence storage.PresenceDirectory, sessions storage.SessionStore,
	cache storage.MessageCache, durable DurableStore, profiles ProfileDirectory, auth Authenticator) *Server {
	opts.norm()
	return &Server{
		opts:     opts,
		conns:    NewConnManager(),
		presence: presence,
		sessions: sessions,
		cache:    cache,
		durable:  durable,
		profiles: profiles,
		auth:     auth,
	}
}

// AttachBus wires the event bus. Split from the constructor because the
// bus needs the server's deliver callback and local census at its own
// construction time.
func (s *Server) AttachBus(b bus.Bus) { s.bus = b }

// LocalConnCount answers this worker's share of the fleet census.
func (s *Server) LocalConnCount(userID string) int {
	return s.conns.CountForUser(userID)
}

// Deliver hands a bus envelope to the sockets this worker holds.
func (s *Server) Deliver(env bus.Envelope) {
	payload, err := EncodeFrame(env.Event, env.Data)
	if err != nil {
		logger.Warnf("[gateway] encode delivered envelope: %v", err)
		return
	}
	if env.Room != "" {
		s.conns.SendToUser(env.Room, payload)
		return
	}
	s.conns.SendToAllExcept(env.ExcludeUser, payload)
}

// Register mounts the gateway's routes.
func (s *Server) Register(r *gin.Engine) {
	r.GET("/ws", s.HandleWS)
	r.GET("/messages", security.SessionAuth(s.sessions, s.opts.StoreTimeout), s.HandleMessages)
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", func(c *gin.Context) {
		metrics.WritePrometheus(c.Writer, true)
	})
}

// Shutdown closes every local socket.
func (s *Server) Shutdown() { s.conns.CloseAll() }

func (s *Server) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.opts.StoreTimeout)
}

// HandleWS runs one connection's whole lifetime: handshake, steady-state
// read loop, teardown.
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[gateway] upgrade failed: %v", err)
		return
	}

	client, err := s.handshake(c.Request, ws)
	if err != nil {
		authRejects.Inc()
		payload, encErr := EncodeFrame(EventError, ErrorOut{Code: errs.CodeOf(err), Message: "authentication failed"})
		if encErr == nil {
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = ws.WriteMessage(websocket.TextMessage, payload)
		}
		_ = ws.Close()
		return
	}
	connectionsTotal.Inc()

	s.onConnected(client)
	s.readLoop(client)
	s.onDisconnected(client)
}

// handshake resolves identity: a valid reconnect token resumes the
// session; otherwise fresh credentials go to the external authenticator
// and a new token is minted. No valid identity closes the attempt.
func (s *Server) handshake(r *http.Request, ws *websocket.Conn) (*Client, error) {
	token := r.URL.Query().Get("token")
	credentials := security.BearerToken(r)
	if credentials == "" {
		credentials = r.URL.Query().Get("credentials")
	}

	ctx, cancel := s.storeCtx()
	defer cancel()

	var identity model.UserIdentity
	resolved := false

	if token != "" {
		rec, ok, err := s.sessions.Lookup(ctx, token)
		if err != nil {
			logger.Warnf("[gateway] session lookup: %v", err)
		}
		if ok {
			identity = model.UserIdentity{ID: rec.UserID, Username: rec.Username}
			resolved = true
		}
	}

	if !resolved {
		if credentials == "" {
			return nil, errs.ErrAuthFailure
		}
		var err error
		identity, err = s.auth.Authenticate(ctx, credentials)
		if err != nil {
			return nil, errs.ErrAuthFailure
		}
		token = uuid.NewString()
	}

	client := NewClient(ids.GenerateString(), ws, s.opts.SendQueueSize)
	client.UserID = identity.ID
	client.Username = identity.Username
	client.Token = token
	return client, nil
}

func (s *Server) readLoop(client *Client) {
	ws := client.ws
	ws.SetReadLimit(64 << 10)
	_ = ws.SetReadDeadline(time.Now().Add(2 * pingPeriod))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(2 * pingPeriod))
	})

	for {
		mt, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Debugf("[gateway] peer closed conn=%s", client.ConnID)
			} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
				logger.Infof("[gateway] read timeout conn=%s", client.ConnID)
			} else {
				logger.Debugf("[gateway] read error conn=%s: %v", client.ConnID, err)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		frame, err := ParseFrame(raw)
		if err != nil {
			logger.Debugf("[gateway] bad frame conn=%s: %v", client.ConnID, err)
			continue
		}

		switch frame.Event {
		case EventPrivateMessage:
			s.handlePrivateMessage(client, frame.Data)
		default:
			logger.Debugf("[gateway] no handler for event %q conn=%s", frame.Event, client.ConnID)
		}
	}
}

func (s *Server) sendFrame(client *Client, event string, data any) {
	payload, err := EncodeFrame(event, data)
	if err != nil {
		logger.Warnf("[gateway] encode %s frame: %v", event, err)
		return
	}
	client.Enqueue(payload)
}
