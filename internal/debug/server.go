// Package debug exposes a small HTTP surface for operators: health, the
// live session list, and thread-log access. It binds to localhost by
// default and is disabled unless configured.
package debug

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/threadrelay/threadrelay/internal/common/logger"
	"github.com/threadrelay/threadrelay/internal/session"
	"github.com/threadrelay/threadrelay/internal/threadlog"
)

// Server is the debug HTTP server.
type Server struct {
	addr     string
	managers map[string]*session.Manager
	tlog     *threadlog.Store
	logger   *logger.Logger
	engine   *gin.Engine
}

// NewServer wires the debug routes over the per-platform managers.
func NewServer(addr string, managers map[string]*session.Manager, tlog *threadlog.Store, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		addr:     addr,
		managers: managers,
		tlog:     tlog,
		logger:   log.WithFields(zap.String("component", "debug-server")),
		engine:   engine,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	api := s.engine.Group("/api")
	api.GET("/sessions", s.handleSessions)
	api.GET("/threadlog/:platform/:session", s.handleThreadLog)
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("debug server listening", zap.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler exposes the engine for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) handleHealth(c *gin.Context) {
	total := 0
	for _, m := range s.managers {
		total += m.Count()
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": total})
}

func (s *Server) handleSessions(c *gin.Context) {
	out := make(map[string][]session.Info, len(s.managers))
	for id, m := range s.managers {
		infos := m.Infos()
		sort.Slice(infos, func(i, j int) bool {
			return infos[i].SessionID < infos[j].SessionID
		})
		out[id] = infos
	}
	c.JSON(http.StatusOK, gin.H{"platforms": out})
}

func (s *Server) handleThreadLog(c *gin.Context) {
	if s.tlog == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "thread logging disabled"})
		return
	}
	platform := c.Param("platform")
	sessionID := c.Param("session")

	entries, err := threadlog.Read(s.tlog.Path(platform, sessionID))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
