// Package wsconn serves the transaction core over HTTP: one websocket
// connection per session plus depth, health and metrics endpoints.
package wsconn

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	match "github.com/OpenGlobes/Core-sub001"
	"github.com/OpenGlobes/Core-sub001/gateway"
	"github.com/OpenGlobes/Core-sub001/metrics"
	"github.com/OpenGlobes/Core-sub001/protocol"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultDepthLimit = 20

// Option configures a Server.
type Option func(*Server)

// WithDepthLimit sets the depth returned when the request gives no limit.
func WithDepthLimit(limit uint32) Option {
	return func(s *Server) {
		if limit > 0 {
			s.depthLimit = limit
		}
	}
}

// WithSerializer replaces the JSON serializer used for frames.
func WithSerializer(serializer protocol.Serializer) Option {
	return func(s *Server) {
		if serializer != nil {
			s.serializer = serializer
		}
	}
}

// WithCheckOrigin sets the websocket origin check. The default accepts every origin.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(s *Server) {
		s.upgrader.CheckOrigin = fn
	}
}

type Server struct {
	gateway    *gateway.Gateway
	router     *gin.Engine
	upgrader   websocket.Upgrader
	serializer protocol.Serializer
	depthLimit uint32

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

func NewServer(g *gateway.Gateway, opts ...Option) *Server {
	s := &Server{
		gateway:    g,
		serializer: protocol.DefaultJSONSerializer{},
		depthLimit: defaultDepthLimit,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[*Conn]struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	r := gin.New()
	r.Use(gin.Recovery(), metrics.PrometheusMiddleware())
	s.RegisterRoutes(r)
	s.router = r

	return s
}

// RegisterRoutes sets up the Gin routes.
func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", s.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/depth/:instrument", s.GetDepth)
	r.GET("/ws", s.ServeWS)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"version":     match.EngineVersion,
		"instruments": s.gateway.Engine().Instruments(),
	})
}

// GetDepth handles GET /depth/:instrument?limit=N.
func (s *Server) GetDepth(c *gin.Context) {
	limit := s.depthLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || n == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = uint32(n)
	}

	c.JSON(http.StatusOK, s.gateway.Depth(c.Param("instrument"), limit))
}

// ServeWS upgrades the request and runs a session for the connection's lifetime.
func (s *Server) ServeWS(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "remote_addr", c.ClientIP(), "error", err)
		return
	}

	conn := newConn(ws, s.serializer)
	sess, err := s.gateway.NewSession(conn)
	if err != nil {
		logger.Warn("session refused", "remote_addr", c.ClientIP(), "error", err)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(writeWait))
		_ = ws.Close()
		return
	}
	conn.sessionID = sess.ID().String()

	s.track(conn, true)
	defer s.track(conn, false)

	go conn.writeLoop()
	logger.Info("websocket session started", "session_id", conn.sessionID, "remote_addr", c.ClientIP())

	conn.readLoop(func(req *protocol.Request) error {
		return s.gateway.Submit(sess, req)
	})

	if err := s.gateway.CloseSession(sess); err != nil && !errors.Is(err, gateway.ErrUnknownSession) {
		logger.Warn("failed to close session", "session_id", conn.sessionID, "error", err)
	}
	logger.Info("websocket session ended", "session_id", conn.sessionID)
}

func (s *Server) track(conn *Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// Close ends every open websocket connection after its queued frames are written.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.close()
	}
}
