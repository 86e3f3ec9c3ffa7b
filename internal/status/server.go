package status

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/Hezlepinc/lead-ingestor-v2/config"
	"github.com/Hezlepinc/lead-ingestor-v2/logger"
)

// TokenInfo is the credential view the status endpoint needs.
type TokenInfo interface {
	Expiry() time.Time
	LastRefreshedAt() time.Time
}

// Server exposes the worker's inspection endpoint for fleet monitoring.
// When the status server is disabled NewServer returns nil and every method
// is a no-op.
type Server struct {
	cfg        config.StatusConfig
	region     string
	dealerID   int64
	cookiePath string
	tokens     TokenInfo
	log        *logger.Log
	httpServer *http.Server
	now        func() time.Time
}

func NewServer(cfg *config.Config, tokens TokenInfo) *Server {
	if !cfg.Status.Enabled {
		return nil
	}

	return &Server{
		cfg:        cfg.Status,
		region:     cfg.Region.Name,
		dealerID:   cfg.Region.DealerID,
		cookiePath: cfg.Auth.CookiePath,
		tokens:     tokens,
		log:        logger.GetLogger(),
		now:        time.Now,
	}
}

// Run starts the status HTTP server and blocks until the provided context is
// cancelled or the underlying HTTP server exits with an error.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: s.buildRouter(),
	}

	s.log.WithComponent("status").WithFields(logger.Fields{"address": s.cfg.Address}).Info("status server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.payload())
	})

	return router
}

func (s *Server) payload() gin.H {
	now := s.now()

	expiresAt := s.tokens.Expiry()
	lastRefreshedAt := s.tokens.LastRefreshedAt()

	token := gin.H{
		"expiresAt":       nil,
		"msUntilExpiry":   nil,
		"lastRefreshedAt": nil,
	}
	if !expiresAt.IsZero() {
		token["expiresAt"] = expiresAt.Format(time.RFC3339)
		msUntil := expiresAt.Sub(now).Milliseconds()
		if msUntil < 0 {
			msUntil = 0
		}
		token["msUntilExpiry"] = msUntil
	}
	if !lastRefreshedAt.IsZero() {
		token["lastRefreshedAt"] = lastRefreshedAt.Format(time.RFC3339)
	}

	cookies := gin.H{"path": nil, "lastSavedAt": nil}
	if s.cookiePath != "" {
		cookies["path"] = s.cookiePath
		if stat, err := os.Stat(s.cookiePath); err == nil {
			cookies["lastSavedAt"] = stat.ModTime().Format(time.RFC3339)
		}
	}

	return gin.H{
		"region":    s.region,
		"dealerId":  s.dealerID,
		"now":       now.Format(time.RFC3339),
		"token":     token,
		"cookies":   cookies,
		"counters":  logger.StatsSnapshot(),
		"resources": resourceSample(),
	}
}

// resourceSample grabs a point-in-time host sample. Failures degrade to
// absent fields rather than failing the status request.
func resourceSample() gin.H {
	sample := gin.H{}

	if cpuPercent, err := cpu.Percent(0, false); err == nil && len(cpuPercent) > 0 {
		sample["cpuPercent"] = cpuPercent[0]
	}
	if memStats, err := mem.VirtualMemory(); err == nil {
		sample["memoryUsedMb"] = int64(memStats.Used) / 1024 / 1024
		sample["memoryPercent"] = memStats.UsedPercent
	}

	return sample
}
