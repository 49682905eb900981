package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/Chezo25/Krate-it/internal/activity"
	"github.com/Chezo25/Krate-it/internal/auth"
	"github.com/Chezo25/Krate-it/internal/config"
	"github.com/Chezo25/Krate-it/internal/handlers"
	"github.com/Chezo25/Krate-it/internal/hierarchy"
	"github.com/Chezo25/Krate-it/internal/logger"
	"github.com/Chezo25/Krate-it/internal/metrics"
	"github.com/Chezo25/Krate-it/internal/models"
	"github.com/Chezo25/Krate-it/internal/share"
	"github.com/Chezo25/Krate-it/internal/storage"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "krate",
		Short: "Krate personal file storage server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete activity records older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return pruneActivity()
		},
	}
	root.AddCommand(prune)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.SetLevel(cfg.Logging.Level)

	ctx := context.Background()

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}

	blobs, err := newBlobStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	verifier, err := newVerifier(ctx, cfg.Auth)
	if err != nil {
		return err
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	activityLog := activity.NewLog(db, m)
	hierarchySvc := hierarchy.NewService(db, blobs, activityLog, m)
	shareMgr := share.NewManager(db, activityLog, m, cfg.Server.PublicURL)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	h := handlers.NewHandler(hierarchySvc, shareMgr, activityLog)
	h.Register(e, verifier)

	// Background retention pruning.
	pruneCtx, cancelPrune := context.WithCancel(ctx)
	defer cancelPrune()
	if cfg.Activity.PruneInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.Activity.PruneInterval)
			defer ticker.Stop()
			for {
				select {
				case <-pruneCtx.Done():
					return
				case <-ticker.C:
					if _, err := activityLog.Prune(pruneCtx, cfg.Activity.RetentionDays); err != nil {
						logger.Error("activity prune failed: %v", err)
					}
				}
			}
		}()
	}

	go func() {
		if err := e.Start(cfg.Server.Addr); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped: %v", err)
		}
	}()
	logger.Info("krate listening on %s", cfg.Server.Addr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func pruneActivity() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.SetLevel(cfg.Logging.Level)

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}

	activityLog := activity.NewLog(db, nil)
	deleted, err := activityLog.Prune(context.Background(), cfg.Activity.RetentionDays)
	if err != nil {
		return err
	}

	fmt.Printf("pruned %d activity records\n", deleted)
	return nil
}

func openDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		dialector = sqlite.Open(cfg.DSN)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	if err := db.AutoMigrate(
		&models.Folder{},
		&models.File{},
		&models.Share{},
		&models.Activity{},
	); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return db, nil
}

func newBlobStore(ctx context.Context, cfg config.StorageConfig) (storage.BlobStore, error) {
	switch cfg.Type {
	case "memory":
		return storage.NewMemoryStorage(), nil
	case "s3":
		return storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			KeyPrefix:       cfg.S3.KeyPrefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
	default:
		return storage.NewLocalStorage(cfg.Local.BaseDir)
	}
}

func newVerifier(ctx context.Context, cfg config.AuthConfig) (auth.TokenVerifier, error) {
	switch cfg.Mode {
	case "static":
		return &auth.StaticVerifier{Tokens: cfg.StaticTokens}, nil
	default:
		return auth.NewOIDCVerifier(ctx, auth.OIDCConfig{
			Issuer:   cfg.Issuer,
			ClientID: cfg.ClientID,
		})
	}
}
