// Package app wires configuration, collaborators and HTTP routes into a
// runnable application.
package app

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/animemaker/server/internal/module/catalog"
	"github.com/animemaker/server/internal/module/generation"
	genhandler "github.com/animemaker/server/internal/module/generation/handler"
	"github.com/animemaker/server/internal/module/history"
	"github.com/animemaker/server/internal/module/prompt"
	"github.com/animemaker/server/internal/module/provider"
	"github.com/animemaker/server/internal/module/storage"
	"github.com/animemaker/server/internal/shared/config"
	"github.com/animemaker/server/internal/shared/logger"
	"github.com/animemaker/server/internal/shared/metrics"
	"github.com/animemaker/server/internal/shared/middleware"
)

// App holds the assembled application.
type App struct {
	cfg    *config.Config
	log    *logger.Logger
	router *gin.Engine
	db     *gorm.DB
}

// New assembles the application from configuration.
func New(cfg *config.Config) (*App, error) {
	log := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	m := metrics.New("animemaker", prometheus.DefaultRegisterer)

	client := provider.New(provider.Config{
		BaseURL:        cfg.Provider.BaseURL,
		Referer:        cfg.Provider.Referer,
		Title:          cfg.Provider.Title,
		RequestTimeout: cfg.Provider.RequestTimeout,
	}, log, m)

	store, err := newStore(cfg, log)
	if err != nil {
		return nil, err
	}

	descCache := prompt.NewDescriptionCache(50, cfg.Provider.ModelCacheTTL)
	orch := generation.NewOrchestrator(client, store, descCache, generation.Config{
		ImageConcurrency:  cfg.Generation.ImageConcurrency,
		VerifyItemTimeout: cfg.Generation.VerifyItemTimeout,
		VerifyTimeout:     cfg.Generation.VerifyTimeout,
		CostPerScene:      cfg.Generation.CostPerScene,
		DefaultSelection: provider.Selection{
			TextModel:         cfg.Provider.TextModel,
			ImageModel:        cfg.Provider.ImageModel,
			VerificationModel: cfg.Provider.VerificationModel,
		},
	}, log, m)

	catalogSvc := catalog.NewService(client, cfg.Provider.ModelCacheTTL, log)

	app := &App{cfg: cfg, log: log}

	var historyRepo history.Repository
	if cfg.Database.Enabled {
		db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := history.Migrate(db); err != nil {
			return nil, fmt.Errorf("migrate history: %w", err)
		}
		app.db = db
		historyRepo = history.NewRepository(db)
	}

	genHandler := genhandler.New(orch, historySaver(historyRepo), genhandler.Config{
		FallbackAPIKey: cfg.Provider.APIKey,
	}, log)

	app.router = buildRouter(cfg, log, m, genHandler, catalog.NewHandler(catalogSvc), historyRepo)
	return app, nil
}

// historySaver keeps the nil-repository case a true nil interface.
func historySaver(repo history.Repository) genhandler.HistorySaver {
	if repo == nil {
		return nil
	}
	return repo
}

func newStore(cfg *config.Config, log *logger.Logger) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "s3":
		return storage.NewS3Store(storage.S3Config{
			Endpoint:        cfg.Storage.Endpoint,
			Region:          cfg.Storage.Region,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			Bucket:          cfg.Storage.Bucket,
			PublicBaseURL:   cfg.Storage.PublicBaseURL,
		}, log)
	case "", "local":
		return storage.NewLocalStore(cfg.Storage.LocalDir, cfg.Storage.PublicPath, log)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func buildRouter(cfg *config.Config, log *logger.Logger, m *metrics.Metrics, gen *genhandler.Handler, cat *catalog.Handler, historyRepo history.Repository) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(middleware.Recovery(log))
	r.Use(middleware.CORS())
	r.Use(middleware.Metrics(m))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if cfg.Storage.Backend == "" || cfg.Storage.Backend == "local" {
		r.Static(cfg.Storage.PublicPath, cfg.Storage.LocalDir)
	}

	api := r.Group("/api")
	gen.Register(api)
	cat.Register(api)
	if historyRepo != nil {
		history.NewHandler(historyRepo).Register(api)
	}

	return r
}

// Router exposes the HTTP handler for the server.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Stop releases held resources.
func (a *App) Stop() {
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
}
