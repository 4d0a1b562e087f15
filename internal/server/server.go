package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yuin/goldmark"
	"go.uber.org/zap"

	"github.com/TobiSchelling/cloudwatcher/internal/database"
	"github.com/TobiSchelling/cloudwatcher/internal/extract"
	"github.com/TobiSchelling/cloudwatcher/internal/scan"
)

const (
	newsLimit           = 100
	defaultContextLimit = 20
	maxContextLimit     = 100
	shutdownTimeout     = 5 * time.Second
)

var md = goldmark.New()

// Store is the read side of the article store.
type Store interface {
	List(ctx context.Context, limit int) ([]database.NewsRecord, error)
	Stats(ctx context.Context) (*database.Stats, error)
	ToggleSaved(ctx context.Context, id string) (bool, error)
	Ping(ctx context.Context) error
}

// Scanner exposes the scan state and the on-demand trigger.
type Scanner interface {
	Status() scan.Snapshot
	Trigger(ctx context.Context) scan.TriggerResult
}

// Advisor answers strategy questions over a news digest.
type Advisor interface {
	Advise(ctx context.Context, question, digest string) (string, error)
}

// Server is the HTTP API over the store and the scanner.
type Server struct {
	store   Store
	scanner Scanner
	advisor Advisor
	logger  *zap.Logger
	router  *gin.Engine
	// runCtx bounds scans started over HTTP; request contexts end too early.
	runCtx context.Context
}

// New creates a new Server. gatherer may be nil to disable /metrics.
func New(store Store, scanner Scanner, advisor Advisor, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:   store,
		scanner: scanner,
		advisor: advisor,
		logger:  logger,
		router:  gin.New(),
		runCtx:  context.Background(),
	}
	s.routes(gatherer)
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes(gatherer prometheus.Gatherer) {
	s.router.Use(recovery(s.logger), requestLogger(s.logger), cors())

	s.router.GET("/health", s.handleHealth)
	s.router.GET("/news", s.handleNews)
	s.router.GET("/stats", s.handleStats)
	s.router.GET("/scan-status", s.handleScanStatus)
	s.router.POST("/trigger-scan", s.handleTriggerScan)
	s.router.POST("/chat", s.handleChat)
	s.router.POST("/news/:id/toggle-save", s.handleToggleSave)

	if gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "database": "disconnected"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "database": "connected"})
}

func (s *Server) handleNews(c *gin.Context) {
	records, err := s.store.List(c.Request.Context(), newsLimit)
	if err != nil {
		s.logger.Warn("Listing news failed", zap.Error(err))
		records = []database.NewsRecord{}
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.store.Stats(c.Request.Context())
	if err != nil {
		s.logger.Warn("Computing stats failed", zap.Error(err))
		stats = database.EmptyStats()
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleScanStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.scanner.Status())
}

func (s *Server) handleTriggerScan(c *gin.Context) {
	c.JSON(http.StatusOK, s.scanner.Trigger(s.runCtx))
}

type chatRequest struct {
	Question     string `json:"question" binding:"required"`
	ContextLimit *int   `json:"context_limit"`
	Format       string `json:"format"`
}

type chatResponse struct {
	Response     string `json:"response"`
	ResponseHTML string `json:"response_html,omitempty"`
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	limit := defaultContextLimit
	if req.ContextLimit != nil && *req.ContextLimit > 0 {
		limit = min(*req.ContextLimit, maxContextLimit)
	}

	ctx := c.Request.Context()
	records, err := s.store.List(ctx, limit)
	if err != nil {
		s.logger.Warn("Loading chat context failed", zap.Error(err))
	}

	text, _ := s.advisor.Advise(ctx, req.Question, extract.BuildDigest(records))

	resp := chatResponse{Response: text}
	if req.Format == "html" {
		resp.ResponseHTML = renderMarkdown(text)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleToggleSave(c *gin.Context) {
	id := c.Param("id")
	saved, err := s.store.ToggleSaved(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			s.logger.Info("Toggle on unknown record", zap.String("id", id))
		} else {
			s.logger.Warn("Toggling saved flag failed", zap.String("id", id), zap.Error(err))
		}
		saved = false
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "is_saved": saved})
}

func renderMarkdown(text string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return ""
	}
	return buf.String()
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
// Scans triggered over HTTP are bound to ctx.
func (s *Server) Serve(ctx context.Context, addr string) error {
	s.runCtx = ctx
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server listening", zap.String("url", fmt.Sprintf("http://%s", addr)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
