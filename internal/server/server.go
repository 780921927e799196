package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/edgerpc/internal/auth"
	"github.com/danmuck/edgerpc/internal/config"
	"github.com/danmuck/edgerpc/internal/dispatcher"
	"github.com/danmuck/edgerpc/internal/instrumentation"
	"github.com/danmuck/edgerpc/internal/objects"
	"github.com/danmuck/edgerpc/internal/observability"
	"github.com/danmuck/edgerpc/internal/progress"
	"github.com/danmuck/edgerpc/internal/protocol/schema"
	"github.com/danmuck/edgerpc/internal/protocol/session"
	"github.com/danmuck/edgerpc/internal/resources"
	"github.com/danmuck/edgerpc/internal/transport"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var (
	ErrAtCapacity   = errors.New("server: connection limit reached")
	ErrShuttingDown = errors.New("server: shutting down")
)

const (
	transportStream    = "stream"
	transportWebSocket = "websocket"
)

type Options struct {
	// Hub is shared by every connection; nil creates one owned by the server.
	Hub     *resources.Hub
	Version string
	// Tracer overrides the otel global tracer when cfg.Tracing is set.
	Tracer trace.Tracer
	// Auth overrides the validator built from the session auth token.
	Auth auth.Validator
}

type Server struct {
	cfg      config.ServerConfig
	session  session.Config
	mode     progress.Mode
	registry *schema.Registry
	hub      *resources.Hub
	ownsHub  bool
	version  string
	hooks    instrumentation.Hooks
	auth     auth.Validator
	router   *gin.Engine
	upgrader websocket.Upgrader
	appeared time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	slots int
	conns map[string]*dispatcher.Connection
}

func New(cfg config.ServerConfig, opts Options) (*Server, error) {
	if err := config.ValidateServerConfig(cfg); err != nil {
		return nil, err
	}
	mode, err := progress.ParseMode(cfg.Progress)
	if err != nil {
		return nil, err
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	s := &Server{
		cfg:      cfg,
		session:  cfg.Session.Session(),
		mode:     mode,
		registry: objects.NewRegistry(),
		hub:      opts.Hub,
		version:  opts.Version,
		auth:     opts.Auth,
		appeared: time.Now(),
		conns:    make(map[string]*dispatcher.Connection),
	}
	if s.hub == nil {
		s.hub = resources.NewHub()
		s.ownsHub = true
	}
	if s.auth == nil {
		s.auth = auth.New(s.session.AuthToken)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	hooks := []instrumentation.Hooks{
		observability.MetricsHooks{},
		observability.LogHooks{Logger: log.Logger},
	}
	if cfg.Tracing {
		tracer := opts.Tracer
		if tracer == nil {
			tracer = otel.Tracer("github.com/danmuck/edgerpc/internal/server")
		}
		hooks = append(hooks, observability.NewTraceHooks(tracer))
	}
	s.hooks = instrumentation.Multi(hooks...)

	s.upgrader = websocket.Upgrader{HandshakeTimeout: s.session.HandshakeTimeout}
	if len(cfg.CorsOrigins) > 0 {
		s.upgrader.CheckOrigin = s.checkOrigin
	}
	s.router = s.newRouter()
	s.registerRoutes()
	return s, nil
}

func (s *Server) newRouter() *gin.Engine {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(s.cfg.Name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(s.cfg.CorsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})
	return r
}

// Handler is the HTTP surface: health, readiness, metrics and /ws.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Hub() *resources.Hub { return s.hub }

// Connections is the number of live dispatcher connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Run serves the configured listeners until ctx ends, then closes every
// connection and waits for them.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	tlsCfg, err := s.session.ServerTLS()
	if err != nil {
		return err
	}

	if strings.TrimSpace(s.cfg.StreamAddr) != "" {
		ln, err := s.ListenStream()
		if err != nil {
			return err
		}
		g.Go(func() error { return s.ServeStream(gctx, ln) })
	}

	if addr := strings.TrimSpace(s.cfg.HTTPAddr); addr != "" {
		httpSrv := &http.Server{
			Addr:              addr,
			Handler:           s.router,
			TLSConfig:         tlsCfg,
			ReadHeaderTimeout: s.session.HandshakeTimeout,
		}
		g.Go(func() error {
			log.Info().Str("addr", addr).Bool("tls", tlsCfg != nil).Msg("server.Server.Run http listening")
			var err error
			if tlsCfg != nil {
				err = httpSrv.ListenAndServeTLS("", "")
			} else {
				err = httpSrv.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	s.Close()
	return err
}

// ListenStream binds the configured stream address, wrapped in TLS when the
// session config enables it.
func (s *Server) ListenStream() (net.Listener, error) {
	tlsCfg, err := s.session.ServerTLS()
	if err != nil {
		return nil, err
	}
	addr := strings.TrimSpace(s.cfg.StreamAddr)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("server: stream listen %s: %w", addr, err)
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}
	return ln, nil
}

// ServeStream accepts framed sessions on ln until ctx ends.
func (s *Server) ServeStream(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	log.Info().Str("addr", ln.Addr().String()).Msg("server.Server.ServeStream listening")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleStream(conn)
		}()
	}
}

func (s *Server) handleStream(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	connID := uuid.NewString()
	admitted := false
	st, hello, err := transport.AcceptStream(conn, s.session, s.cfg.Name, connID, func(hello session.Hello) error {
		if err := s.auth.Validate(hello.Token); err != nil {
			observability.RecordRejectedConnection(transportStream, "unauthorized")
			return err
		}
		if err := s.reserve(transportStream); err != nil {
			return err
		}
		admitted = true
		return nil
	})
	if err != nil {
		if admitted {
			s.release()
		}
		log.Warn().Err(err).Str("remote", remote).Msg("server.Server.handleStream handshake failed")
		return
	}
	s.serveConn(transportStream, connID, hello.ClientID, st)
}

func (s *Server) handleWebSocket(c *gin.Context) {
	token := auth.FromBearer(c.GetHeader("Authorization"))
	if token == "" {
		token = c.Query("token")
	}
	if err := s.auth.Validate(token); err != nil {
		observability.RecordRejectedConnection(transportWebSocket, "unauthorized")
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	if err := s.reserve(transportWebSocket); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.release()
		log.Warn().Err(err).Str("remote", c.ClientIP()).Msg("server.Server.handleWebSocket upgrade failed")
		return
	}
	t := transport.NewWebSocket(ws, s.session.WriteTimeout, s.session.HeartbeatInterval)
	s.serveConn(transportWebSocket, uuid.NewString(), c.Query("client"), t)
}

// serveConn runs one dispatcher connection over t. The caller holds a
// reserved slot, released here.
func (s *Server) serveConn(kind, connID, clientID string, t transport.Transport) {
	defer s.release()
	observability.ConnectionOpened(kind)
	defer observability.ConnectionClosed(kind)

	conn := dispatcher.NewConnection(dispatcher.Config{
		ID:             connID,
		Registry:       s.registry,
		Encoding:       t.Encoding(),
		Mode:           s.mode,
		Debug:          s.cfg.Debug,
		Hooks:          s.hooks,
		BucketCapacity: s.cfg.DefaultBucketCapacity,
		Buckets:        s.cfg.Buckets,
		Initialize:     objects.Initializer(objects.Options{Hub: s.hub, Version: s.version}),
	})
	s.mu.Lock()
	s.conns[connID] = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, connID)
		s.mu.Unlock()
	}()

	log.Info().Str("conn", connID).Str("transport", kind).Str("client", clientID).Msg("server.Server connection opened")
	err := conn.Serve(s.ctx, newThrottled(t, kind, s.cfg.InboundRate, s.cfg.InboundBurst))
	_ = t.Close()
	event := log.Info()
	if err != nil && !errors.Is(err, transport.ErrClosed) {
		event = log.Warn().Err(err)
	}
	event.Str("conn", connID).Str("transport", kind).Msg("server.Server connection closed")
}

// reserve claims a connection slot. Slots cover handshakes in progress as
// well as served connections.
func (s *Server) reserve(kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		observability.RecordRejectedConnection(kind, "shutdown")
		return ErrShuttingDown
	}
	if s.cfg.MaxConnections > 0 && s.slots >= s.cfg.MaxConnections {
		observability.RecordRejectedConnection(kind, "capacity")
		return ErrAtCapacity
	}
	s.slots++
	s.wg.Add(1)
	return nil
}

func (s *Server) release() {
	s.mu.Lock()
	s.slots--
	s.mu.Unlock()
	s.wg.Done()
}

// Close cancels every connection, waits for them to drain and closes the
// hub when the server created it. Listeners passed to ServeStream must
// have returned first; Run takes care of that.
func (s *Server) Close() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
	if s.ownsHub {
		s.hub.Close("server shutdown")
	}
	log.Info().Str("name", s.cfg.Name).Msg("server.Server.Close")
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(s.cfg.CorsOrigins, origin)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
