package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cshum/vipsgen/vips"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"go.uber.org/zap"

	"github.com/vinadenenko/earth-map/internal/camera"
	"github.com/vinadenenko/earth-map/internal/config"
	"github.com/vinadenenko/earth-map/internal/debug"
	"github.com/vinadenenko/earth-map/internal/decode"
	"github.com/vinadenenko/earth-map/internal/elevation"
	"github.com/vinadenenko/earth-map/internal/engine"
	"github.com/vinadenenko/earth-map/internal/fetch"
	"github.com/vinadenenko/earth-map/internal/loader"
	"github.com/vinadenenko/earth-map/internal/logger"
	"github.com/vinadenenko/earth-map/internal/overlay"
	"github.com/vinadenenko/earth-map/internal/store"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := logger.New(cfg.Logger.Level, cfg.Logger.Encoding)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	vipsConfig := &vips.Config{
		ConcurrencyLevel: cfg.Vips.Concurrency,
		MaxCacheMem:      cfg.Vips.MaxCacheMB * 1024 * 1024,
		MaxCacheFiles:    0,
		MaxCacheSize:     0,
		ReportLeaks:      false,
		CacheTrace:       false,
		VectorEnabled:    true,
	}

	vips.SetLogging(func(domain string, level vips.LogLevel, message string) {
		if level >= vips.LogLevelError {
			log.Error("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		} else if level >= vips.LogLevelWarning {
			log.Warn("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		}
	}, vips.LogLevelError)

	vips.Startup(vipsConfig)
	defer vips.Shutdown()

	desc, err := cfg.SourceDescriptor()
	if err != nil {
		log.Fatal("Failed to resolve tile source", zap.Error(err))
	}
	source, err := fetch.NewSource(desc, cfg.Source.CacheDir, log)
	if err != nil {
		log.Fatal("Failed to initialize tile source", zap.Error(err))
	}
	decoder, err := decode.ForHint(desc.Hint)
	if err != nil {
		log.Fatal("Failed to resolve decoder", zap.Error(err))
	}

	st := store.New(cfg.Engine.BudgetBytes, store.Options{
		RetryCap:    cfg.Loader.RetryCap,
		BackoffBase: cfg.Loader.BackoffBase,
	}, log)

	ld := loader.New(source, decoder, st, loader.Options{
		Workers:   cfg.Loader.Workers,
		QueueSize: cfg.Loader.QueueSize,
	}, log)
	ld.Start()
	defer ld.Close()

	maxLevel := cfg.Engine.MaxLevel
	if desc.MaxLevel > 0 && desc.MaxLevel < maxLevel {
		maxLevel = desc.MaxLevel
	}
	eng := engine.New(st, ld, engine.Options{
		ThresholdPx: cfg.Engine.ThresholdPx,
		MaxLevel:    maxLevel,
	}, log)

	if cfg.Viewer.OverlayDir != "" {
		loadOverlays(cfg.Viewer.OverlayDir, log)
	}

	var terrain *elevation.Provider
	elevSrc, err := cfg.ElevationSource()
	if err != nil {
		log.Fatal("Failed to resolve elevation source", zap.Error(err))
	}
	if elevSrc != nil {
		terrain = elevation.NewProvider(elevSrc, cfg.Elevation.CacheBytes, log)
		log.Info("Elevation enabled", zap.Int64("cache_bytes", cfg.Elevation.CacheBytes))
	}

	if cfg.Debug.Enabled {
		srv := debug.New(cfg.Debug.Port, cfg.Debug.GinMode, eng, terrain, log)
		srv.Start()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				log.Error("Debug server forced to shutdown", zap.Error(err))
			}
		}()
	}

	log.Info("Starting frame loop",
		zap.String("source", desc.Name),
		zap.Int64("budget_bytes", cfg.Engine.BudgetBytes),
		zap.Float64("threshold_px", cfg.Engine.ThresholdPx),
		zap.Uint32("max_level", maxLevel))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	runFrameLoop(eng, terrain, cfg, quit, log)

	log.Info("Viewer stopped")
}

// runFrameLoop drives the engine with a scripted descending orbit until
// a shutdown signal arrives. A real host application would substitute
// its interactive camera here.
func runFrameLoop(eng *engine.Engine, terrain *elevation.Provider, cfg *config.Config, quit <-chan os.Signal, log *zap.Logger) {
	fps := cfg.Viewer.FPS
	if fps <= 0 {
		fps = 60
	}
	fov := cfg.Viewer.FOVDegrees * math.Pi / 180

	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	const worldHalf = 20037508.34
	start := time.Now()

	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			elapsed := time.Since(start).Seconds()

			// Spiral in: one orbit per two minutes while descending
			// from orbit altitude toward street level.
			angle := elapsed * math.Pi / 60
			altitude := 2.5e7 * math.Pow(0.5, elapsed/20)
			if altitude < 5e4 {
				altitude = 5e4
			}
			target := mgl64.Vec3{
				0.4 * worldHalf * math.Cos(angle),
				0.3 * worldHalf * math.Sin(angle),
				0,
			}
			eye := mgl64.Vec3{target[0], target[1], altitude}

			snap := camera.LookAt(eye, target, cfg.Viewer.Width, cfg.Viewer.Height, fov)
			render := eng.Frame(snap)

			if eng.FrameCount()%uint64(fps*5) == 0 {
				stats := eng.Stats()
				fields := []zap.Field{
					zap.Uint64("frame", stats.Frame),
					zap.Int("render_tiles", len(render)),
					zap.Int("store_records", stats.Store.Records),
					zap.Int64("ready_bytes", stats.Store.ReadyBytes),
					zap.Float64("altitude_m", altitude),
				}
				if terrain != nil {
					geo := project.Mercator.ToWGS84(orb.Point{target[0], target[1]})
					if h, err := terrain.ElevationAt(context.Background(), geo.Lat(), geo.Lon()); err == nil {
						fields = append(fields, zap.Float64("terrain_m", h))
					} else {
						log.Debug("Terrain query failed", zap.Error(err))
					}
				}
				log.Info("Frame", fields...)
			}
		}
	}
}

func loadOverlays(dir string, log *zap.Logger) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Warn("Overlay scan failed", zap.Error(err))
		return
	}
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".kml" && ext != ".kmz") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		batches, err := overlay.ImportFile(path)
		if err != nil {
			log.Warn("Overlay import failed", zap.String("file", path), zap.Error(err))
			continue
		}
		features := 0
		for _, b := range batches {
			features += len(b.Features)
		}
		log.Info("Overlay imported",
			zap.String("file", path),
			zap.Int("batches", len(batches)),
			zap.Int("features", features))
	}
}
