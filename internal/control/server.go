package control

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/CZERTAINLY/Mutiny/internal/log"
	"github.com/CZERTAINLY/Mutiny/internal/model"
)

// Pool is the part of the worker pool exposed to minions.
type Pool interface {
	Join(name string) error
	Next(ctx context.Context, name string) (model.Command, error)
	Report(ctx context.Context, name string, action model.Action, status model.ExecutionStatus) error
}

type Server struct {
	pool    Pool
	shared  model.SharedConfig
	ln      net.Listener
	engine  *gin.Engine
	server  *http.Server
	started atomic.Bool
	served  chan struct{}
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// NewServer prepares the control surface on an already bound listener, so
// the address is known before any minion is launched.
func NewServer(ln net.Listener, pool Pool, shared model.SharedConfig) *Server {
	s := &Server{
		pool:   pool,
		shared: shared,
		ln:     ln,
		served: make(chan struct{}),
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLog)
	v1 := r.Group("/v1")
	v1.POST("/hello", s.hello)
	v1.POST("/pull", s.pull)
	v1.POST("/report", s.report)
	v1.GET("/health", s.health)
	s.engine = r
	s.server = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) BaseURL() string {
	return "http://" + s.ln.Addr().String()
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves requests in a goroutine until Shutdown.
func (s *Server) Start(ctx context.Context) {
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }
	s.started.Store(true)
	go func() {
		defer close(s.served)
		err := s.server.Serve(s.ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "control server failed", "error", err)
		}
	}()
	slog.DebugContext(ctx, "control server listening", "url", s.BaseURL())
}

// Shutdown stops accepting minions and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	if !s.started.Load() {
		return errors.Join(err, s.ln.Close())
	}
	select {
	case <-s.served:
	case <-ctx.Done():
	}
	return err
}

func (s *Server) hello(c *gin.Context) {
	var req HelloRequest
	if !bind(c, &req) {
		return
	}
	if err := s.pool.Join(req.Name); err != nil {
		abort(c, http.StatusNotFound, err)
		return
	}
	slog.InfoContext(minionCtx(c, req.Name), "minion joined")
	c.JSON(http.StatusOK, s.shared)
}

func (s *Server) pull(c *gin.Context) {
	var req PullRequest
	if !bind(c, &req) {
		return
	}
	cmd, err := s.pool.Next(minionCtx(c, req.Name), req.Name)
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, cmd)
}

func (s *Server) report(c *gin.Context) {
	var req ReportRequest
	if !bind(c, &req) {
		return
	}
	ctx := minionCtx(c, req.Name)
	err := s.pool.Report(ctx, req.Name, req.Action, req.Status)
	switch {
	case errors.Is(err, model.ErrProtocol):
		abort(c, http.StatusConflict, err)
	case err != nil:
		abort(c, http.StatusInternalServerError, err)
	default:
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return false
	}
	return true
}

func abort(c *gin.Context, code int, err error) {
	c.AbortWithStatusJSON(code, problem(code, err))
}

func minionCtx(c *gin.Context, name string) context.Context {
	return log.ContextAttrs(c.Request.Context(), slog.String("minion", name))
}

func requestLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	slog.DebugContext(c.Request.Context(), "control request",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"status", c.Writer.Status(),
		"elapsed", time.Since(start),
	)
}
