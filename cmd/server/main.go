package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hidrovia/customs/internal/archive"
	"github.com/hidrovia/customs/internal/audit"
	"github.com/hidrovia/customs/internal/auth"
	"github.com/hidrovia/customs/internal/config"
	"github.com/hidrovia/customs/internal/customs/cert"
	"github.com/hidrovia/customs/internal/customs/model"
	"github.com/hidrovia/customs/internal/customs/orchestrator"
	"github.com/hidrovia/customs/internal/customs/router"
	"github.com/hidrovia/customs/internal/customs/soap"
	"github.com/hidrovia/customs/internal/customs/store"
	"github.com/hidrovia/customs/internal/database"
	"github.com/hidrovia/customs/internal/middleware"
)

func main() {
	// Load .env if present; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	slog.Info("configuration loaded successfully",
		"db_host", cfg.Database.Host,
		"db_port", cfg.Database.Port,
		"db_name", cfg.Database.Name,
		"environment", cfg.Engine.Environment,
		"archive_type", cfg.Archive.Type,
	)

	db, err := database.New(&cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer func() {
		if err := database.Close(db); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}()

	if err := database.HealthCheck(db); err != nil {
		log.Fatalf("database health check failed: %v", err)
	}

	if err := store.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database schema: %v", err)
	}
	if err := auth.Migrate(db); err != nil {
		log.Fatalf("failed to migrate auth schema: %v", err)
	}

	payloads, err := archive.NewFromConfig(context.Background(), cfg.Archive)
	if err != nil {
		log.Fatalf("failed to initialize payload archive: %v", err)
	}

	transactions := store.NewTransactionStore(db)
	responses := store.NewResponseStore(db)
	audits := store.NewAuditStore(db)

	recorder := audit.MultiRecorder{
		audit.NewSlogRecorder(),
		audit.NewStoreRecorder(audits),
	}

	transports := func(endpoint string, opts soap.Options) (orchestrator.Transport, error) {
		return soap.NewClient(endpoint, opts)
	}

	engine := orchestrator.New(db, transactions, responses, cert.NewStore(), transports, payloads, recorder, orchestrator.Config{
		MaxRetries:         cfg.Engine.MaxRetries,
		Backoff:            model.BackoffSchedule(cfg.Engine.BackoffSeconds),
		SendTimeout:        time.Duration(cfg.Engine.SendTimeoutSeconds) * time.Second,
		InsecureSkipVerify: cfg.Engine.InsecureSkipVerify,
	})

	tr := router.NewTransactionRouter(engine, transactions, responses, audits, payloads, model.Environment(cfg.Engine.Environment))
	authService := auth.NewAuthService(db)
	requireAuth := auth.RequireAuth(authService)

	mux := http.NewServeMux()
	mux.Handle("POST /api/transactions", requireAuth(http.HandlerFunc(tr.HandleExecute)))
	mux.HandleFunc("GET /api/transactions", tr.HandleList)
	mux.HandleFunc("GET /api/transactions/{businessID}", tr.HandleGet)
	mux.Handle("POST /api/transactions/{businessID}/retry", requireAuth(http.HandlerFunc(tr.HandleRetry)))
	mux.HandleFunc("GET /api/transactions/{businessID}/documents/{name}", tr.HandleGetDocument)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := database.HealthCheck(db); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	handler := middleware.CORS(&cfg.CORS)(mux)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: handler,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
			quit <- syscall.SIGTERM
		}
	}()

	<-quit
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	} else {
		slog.Info("server gracefully stopped")
	}

	slog.Info("server stopped")
}
