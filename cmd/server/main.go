/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the consignment marketplace engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse flags
  2. Build the structured logger
  3. Open the store (SQLite by default, PostgreSQL via -db-driver)
  4. Connect the stock-event publisher (AMQP, optional)
  5. Wire handler and router
  6. Start server with graceful shutdown

CONFIGURATION:
  Flags take their defaults from the environment, so both styles work:

  -port        PORT          HTTP server port (default: 8080)
  -db-driver   DB_DRIVER     "sqlite" or "postgres" (default: sqlite)
  -db          DB_PATH       SQLite database path (default: consign.db)
  -db-url      DATABASE_URL  PostgreSQL connection string
  -amqp        AMQP_URL      RabbitMQ URL; empty disables publishing
  -env         ENV           "dev" or "prod" (default: dev)
  -log-level   LOG_LEVEL     debug|info|warn|error (default: info)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close publisher and store
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/consign.db"

  # Run against PostgreSQL with events
  ./server -db-driver=postgres -db-url="postgres://..." -amqp="amqp://..."

SEE ALSO:
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Default store
  - store/postgres/postgres.go: Production store
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/warp/consign-engine/api"
	"github.com/warp/consign-engine/logger"
	"github.com/warp/consign-engine/market"
	"github.com/warp/consign-engine/notify"
	"github.com/warp/consign-engine/store/postgres"
	"github.com/warp/consign-engine/store/sqlite"
)

const serviceName = "consign-engine"

func main() {
	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbDriver := flag.String("db-driver", envStr("DB_DRIVER", "sqlite"), "store backend: sqlite or postgres")
	dbPath := flag.String("db", envStr("DB_PATH", "consign.db"), "SQLite database path")
	dbURL := flag.String("db-url", envStr("DATABASE_URL", ""), "PostgreSQL connection string")
	amqpURL := flag.String("amqp", envStr("AMQP_URL", ""), "RabbitMQ URL (empty disables stock events)")
	env := flag.String("env", envStr("ENV", "dev"), "environment: dev or prod")
	logLevel := flag.String("log-level", envStr("LOG_LEVEL", "info"), "log level")
	flag.Parse()

	log := logger.New(serviceName, *env, *logLevel)
	defer log.Sync()

	store, closeStore, err := openStore(*dbDriver, *dbPath, *dbURL)
	if err != nil {
		log.Fatal("failed to initialize store", zap.Error(err))
	}
	defer closeStore()

	var notifier market.Notifier = market.NopNotifier{}
	if *amqpURL != "" {
		pub, err := notify.NewPublisher(*amqpURL, serviceName, log)
		if err != nil {
			log.Fatal("failed to connect publisher", zap.Error(err))
		}
		defer pub.Close()
		notifier = pub
	}

	handler := api.NewHandler(store, notifier, log)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting",
			zap.Int("port", *port),
			zap.String("driver", *dbDriver))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

func openStore(driver, path, url string) (market.TxStore, func(), error) {
	switch driver {
	case "sqlite":
		s, err := sqlite.New(path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "postgres":
		if url == "" {
			return nil, nil, fmt.Errorf("postgres driver requires -db-url or DATABASE_URL")
		}
		s, err := postgres.New(url)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown db driver %q", driver)
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return def
}
