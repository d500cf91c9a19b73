package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/vinadenenko/earth-map/internal/elevation"
	"github.com/vinadenenko/earth-map/internal/fetch"
)

type (
	Config struct {
		Logger Logger `envPrefix:"LOGGER_"`
		Engine Engine `envPrefix:"ENGINE_"`
		Loader Loader `envPrefix:"LOADER_"`
		Source Source `envPrefix:"SOURCE_"`
		Vips      Vips      `envPrefix:"VIPS_"`
		Debug     Debug     `envPrefix:"DEBUG_"`
		Viewer    Viewer    `envPrefix:"VIEWER_"`
		Elevation Elevation `envPrefix:"ELEVATION_"`
	}

	Logger struct {
		Level    string `env:"LEVEL" envDefault:"info"`
		Encoding string `env:"ENCODING" envDefault:"json"`
	}

	Engine struct {
		BudgetBytes int64   `env:"BUDGET_BYTES" envDefault:"268435456"`
		ThresholdPx float64 `env:"ERROR_THRESHOLD_PX" envDefault:"2"`
		MaxLevel    uint32  `env:"MAX_LEVEL" envDefault:"19"`
	}

	Loader struct {
		Workers     int           `env:"WORKERS" envDefault:"4"`
		QueueSize   int           `env:"QUEUE_SIZE" envDefault:"256"`
		RetryCap    int           `env:"RETRY_CAP" envDefault:"3"`
		BackoffBase time.Duration `env:"BACKOFF_BASE" envDefault:"500ms"`
	}

	Source struct {
		Provider   string   `env:"PROVIDER" envDefault:"osm"`
		Kind       string   `env:"KIND"`
		URL        string   `env:"URL"`
		Path       string   `env:"PATH"`
		Format     string   `env:"FORMAT" envDefault:"png"`
		Hint       string   `env:"HINT" envDefault:"raster"`
		Subdomains []string `env:"SUBDOMAINS" envSeparator:","`
		CacheDir   string   `env:"CACHE_DIR"`
	}

	Vips struct {
		Concurrency int `env:"CONCURRENCY" envDefault:"2"`
		MaxCacheMB  int `env:"MAX_CACHE_MB" envDefault:"128"`
	}

	Debug struct {
		Enabled bool   `env:"ENABLED" envDefault:"true"`
		Port    int    `env:"PORT" envDefault:"8080"`
		GinMode string `env:"GIN_MODE" envDefault:"release"`
	}

	Viewer struct {
		Width      int     `env:"WIDTH" envDefault:"1280"`
		Height     int     `env:"HEIGHT" envDefault:"720"`
		FOVDegrees float64 `env:"FOV_DEGREES" envDefault:"60"`
		FPS        int     `env:"FPS" envDefault:"60"`
		OverlayDir string  `env:"OVERLAY_DIR"`
	}

	Elevation struct {
		Enabled     bool   `env:"ENABLED" envDefault:"false"`
		Dir         string `env:"DIR"`
		URLTemplate string `env:"URL_TEMPLATE"`
		CacheDir    string `env:"CACHE_DIR"`
		CacheBytes  int64  `env:"CACHE_BYTES" envDefault:"268435456"`
	}
)

func New() (*Config, error) {
	// A missing .env is fine; process env alone is enough.
	_ = godotenv.Load()

	cfg, err := env.ParseAsWithOptions[Config](env.Options{Prefix: "EARTHMAP_"})
	if err != nil {
		return nil, err
	}
	if cfg.Engine.BudgetBytes <= 0 {
		return nil, fmt.Errorf("memory budget must be positive")
	}
	return &cfg, nil
}

// SourceDescriptor resolves the tile source: an explicit KIND overrides
// the provider preset.
func (c *Config) SourceDescriptor() (fetch.Descriptor, error) {
	if c.Source.Kind == "" {
		return fetch.Provider(c.Source.Provider)
	}
	return fetch.Descriptor{
		Name:       "custom",
		Kind:       c.Source.Kind,
		URL:        c.Source.URL,
		Subdomains: c.Source.Subdomains,
		Path:       c.Source.Path,
		Format:     c.Source.Format,
		Hint:       fetch.DecodeHint(c.Source.Hint),
		MaxLevel:   c.Engine.MaxLevel,
	}, nil
}

// ElevationSource resolves the terrain data source: a local HGT
// directory wins, otherwise a templated HTTP endpoint with an optional
// disk write-through. Returns nil when elevation is disabled.
func (c *Config) ElevationSource() (elevation.Source, error) {
	if !c.Elevation.Enabled {
		return nil, nil
	}
	if c.Elevation.Dir != "" {
		return elevation.NewDirSource(c.Elevation.Dir)
	}
	if c.Elevation.URLTemplate == "" {
		return nil, fmt.Errorf("elevation enabled without a directory or URL template")
	}
	src := elevation.Source(elevation.NewHTTPSource(c.Elevation.URLTemplate, nil))
	if c.Elevation.CacheDir != "" {
		disk, err := elevation.NewDirSource(c.Elevation.CacheDir)
		if err != nil {
			return nil, err
		}
		src = elevation.NewCachingSource(src, disk)
	}
	return src, nil
}
