package debug

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vinadenenko/earth-map/internal/elevation"
	"github.com/vinadenenko/earth-map/internal/engine"
)

// Server exposes the observability surface: health, engine stats, and
// prometheus metrics. It is not the renderer interface.
type Server struct {
	http *http.Server
	log  *zap.Logger
}

// New builds the server. terrain may be nil when elevation is
// disabled; the stats payload then omits it.
func New(port int, mode string, eng *engine.Engine, terrain *elevation.Provider, log *zap.Logger) *Server {
	if mode != "" {
		gin.SetMode(mode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/stats", func(c *gin.Context) {
		payload := gin.H{"engine": eng.Stats()}
		if terrain != nil {
			payload["elevation"] = terrain.Stats()
		}
		c.JSON(http.StatusOK, payload)
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return &Server{
		http: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: router,
		},
		log: log,
	}
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("Debug server failed", zap.Error(err))
		}
	}()
	s.log.Info("Debug server started", zap.String("addr", s.http.Addr))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
