package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Snapshot is the server state exposed on /ready. Readers must only see
// values that are safe to load from another goroutine.
type Snapshot struct {
	Listening   bool   `json:"listening"`
	Addr        string `json:"addr"`
	Connections int    `json:"connections"`
	Employees   int    `json:"employees"`
	Rewrites    uint64 `json:"rewrites"`
}

// Admin is the HTTP side surface: health, readiness and metrics.
type Admin struct {
	ID       string
	Addr     string
	Version  string
	Appeared time.Time

	stats  func() Snapshot
	router *gin.Engine
}

func NewAdmin(id, addr, version string, stats func() Snapshot) *Admin {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log.Logger))
	r.Use(RequestMetricsMiddleware(id))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{
		ID:       id,
		Addr:     addr,
		Version:  version,
		Appeared: time.Now(),
		stats:    stats,
		router:   r,
	}
	a.registerRoutes()
	return a
}

func (a *Admin) HTTPRouter() *gin.Engine {
	return a.router
}

func (a *Admin) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(a.Appeared).String(),
			"service": a.ID,
			"version": a.Version,
		})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router.GET("/ready", func(c *gin.Context) {
		snap := a.snapshot()
		status := http.StatusOK
		if !snap.Listening {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   snap.Listening,
			"uptime":  time.Since(a.Appeared).String(),
			"service": a.ID,
			"version": a.Version,
			"stats":   snap,
		})
	})
}

func (a *Admin) snapshot() Snapshot {
	if a.stats == nil {
		return Snapshot{}
	}
	return a.stats()
}

// Serve runs the admin listener until ctx is cancelled.
func (a *Admin) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.Addr,
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("service", a.ID).Str("addr", a.Addr).Msg("admin http listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
