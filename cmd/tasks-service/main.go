package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/chepyr/todo-tracker/internal/config"
	"github.com/chepyr/todo-tracker/internal/db"
	"github.com/chepyr/todo-tracker/internal/handlers"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	dbConn := initDB(cfg, logger)
	handler := initHandlers(dbConn, cfg, logger)
	server := initServer(cfg, handler, logger)
	os.Exit(startServer(server, dbConn, handler, cfg, logger))
}

func initDB(cfg *config.Config, logger *slog.Logger) *sql.DB {
	dbConn, err := db.Connect(cfg.DBDriver, cfg.DSN)
	if err != nil {
		logger.Error("failed to connect to database", "driver", cfg.DBDriver, "error", err)
		os.Exit(1)
	}
	if cfg.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := db.Migrate(ctx, dbConn, cfg.DBDriver); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		logger.Info("database schema ready", "driver", cfg.DBDriver)
	}
	return dbConn
}

func initHandlers(dbConn *sql.DB, cfg *config.Config, logger *slog.Logger) *handlers.Handler {
	return &handlers.Handler{
		TaskRepo:       db.NewTaskRepository(dbConn),
		DB:             dbConn,
		RateLimiter:    handlers.NewRateLimiter(cfg.RateLimit, time.Second),
		Logger:         logger,
		TrustedProxies: cfg.TrustedProxies,
	}
}

func initServer(cfg *config.Config, handler *handlers.Handler, logger *slog.Logger) *http.Server {
	routes := handlers.WithCORS(handlers.RequestLogger(logger, handler.Routes()), cfg.AllowedOrigins)
	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           routes,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// startServer serves until SIGINT or SIGTERM and returns the exit code.
func startServer(server *http.Server, dbConn *sql.DB, handler *handlers.Handler, cfg *config.Config, logger *slog.Logger) int {
	logger.Info("starting tasks server", "addr", server.Addr)

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"tasks-server": func(ctx context.Context) error {
				logger.Info("shutting down server")
				defer handler.RateLimiter.Stop()
				if err := server.Shutdown(ctx); err != nil {
					dbConn.Close()
					return err
				}
				return dbConn.Close()
			},
		},
	)

	exitCode := <-wait
	logger.Info("server stopped", "exit_code", exitCode)
	return exitCode
}
