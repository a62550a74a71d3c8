package main

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	importhandler "github.com/FACorreiaa/smart-expense-tracker/internal/domain/import/handler"
	"github.com/FACorreiaa/smart-expense-tracker/internal/domain/import/normalizer"
	importrepo "github.com/FACorreiaa/smart-expense-tracker/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/smart-expense-tracker/internal/domain/import/service"

	"github.com/FACorreiaa/smart-expense-tracker/pkg/config"
	"github.com/FACorreiaa/smart-expense-tracker/pkg/cron"
	"github.com/FACorreiaa/smart-expense-tracker/pkg/db"
	"github.com/FACorreiaa/smart-expense-tracker/pkg/interceptors"
	"github.com/FACorreiaa/smart-expense-tracker/pkg/metrics"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	DB     *db.DB
	Logger *slog.Logger

	Registry *prometheus.Registry
	Metrics  *metrics.Collector

	// Repositories
	ImportRepo    importrepo.ImportRepository
	CategoryStore normalizer.CategoryLister

	// Services
	ImportService  *importservice.ImportService
	TokenValidator *interceptors.TokenValidator
	RateLimiter    *interceptors.RateLimiter
	Scheduler      *cron.Scheduler

	// Handlers
	ImportHandler *importhandler.ImportHandler
}

// InitDependencies initializes all application dependencies
func InitDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	if err := deps.initRepositories(); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	if err := deps.initServices(); err != nil {
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	if err := deps.initHandlers(); err != nil {
		return nil, fmt.Errorf("failed to init handlers: %w", err)
	}

	logger.Info("all dependencies initialized successfully")

	return deps, nil
}

// initDatabase connects and migrates unless the in-memory store is selected
func (d *Dependencies) initDatabase() error {
	if d.Config.Database.InMemory {
		d.Logger.Warn("using in-memory storage, data is lost on restart")
		return nil
	}

	database, err := db.New(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        int32(d.Config.Database.MaxConns),
		MinConns:        int32(d.Config.Database.MinConns),
		MaxConnLifetime: d.Config.Database.MaxConnLifetime,
		MaxConnIdleTime: d.Config.Database.MaxConnIdleTime,
	}, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	if err := d.DB.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

// initRepositories initializes all repository layer dependencies
func (d *Dependencies) initRepositories() error {
	if d.DB == nil {
		d.ImportRepo = importrepo.NewMemoryImportRepository()
		d.CategoryStore = normalizer.NewStaticCategoryStore(normalizer.DefaultCategories())
	} else {
		d.ImportRepo = importrepo.NewPostgresImportRepository(d.DB.Pool)
		d.CategoryStore = normalizer.NewCategoryStore(d.DB.Pool)
	}

	d.Logger.Info("repositories initialized", "inMemory", d.DB == nil)
	return nil
}

// initServices initializes all service layer dependencies
func (d *Dependencies) initServices() error {
	d.Registry = prometheus.NewRegistry()
	d.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.Metrics = metrics.New()
	d.Metrics.Register(d.Registry)

	importCfg := d.Config.Import
	d.ImportService = importservice.NewImportService(d.ImportRepo, d.Logger).
		WithConfig(importservice.Config{
			CurrencyCode:     importCfg.DefaultCurrency,
			DefaultCategory:  importCfg.DefaultCategory,
			SampleRows:       importCfg.SampleRows,
			MaxDecimalPlaces: int32(importCfg.MaxDecimalPlaces),
			MaxUploadBytes:   importCfg.MaxUploadBytes,
			CategoryAliases:  normalizer.MergeAliases(normalizer.DefaultAliases, importCfg.CategoryAliases),
		}).
		WithCategoryStore(d.CategoryStore).
		WithMetrics(d.Metrics)

	d.TokenValidator = interceptors.NewTokenValidator(d.Config.Auth.JWTSecret, d.Config.Auth.Issuer)
	d.RateLimiter = interceptors.NewRateLimiter(
		float64(d.Config.Server.RateLimitPerSecond),
		d.Config.Server.RateLimitBurst,
	)

	d.Scheduler = cron.NewScheduler(d.ImportService, cron.Config{
		Schedule:        importCfg.StaleSweepSchedule,
		StaleSessionTTL: importCfg.StaleSessionTTL,
		LimiterIdleTime: importCfg.RateLimiterIdleTime,
	}, d.Logger).WithRateLimiter(d.RateLimiter)

	d.Logger.Info("services initialized")
	return nil
}

// initHandlers initializes all handler dependencies
func (d *Dependencies) initHandlers() error {
	d.ImportHandler = importhandler.NewImportHandler(d.ImportService, d.Logger).
		WithMaxUploadBytes(d.Config.Import.MaxUploadBytes)

	d.Logger.Info("handlers initialized")
	return nil
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.Scheduler != nil {
		<-d.Scheduler.Stop().Done()
	}
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}
