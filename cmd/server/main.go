// Command server runs the ticketed notes HTTP API and its MCP endpoint.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/kuitang/ticketnotes/internal/api"
	"github.com/kuitang/ticketnotes/internal/auth"
	"github.com/kuitang/ticketnotes/internal/config"
	"github.com/kuitang/ticketnotes/internal/crypto"
	"github.com/kuitang/ticketnotes/internal/db"
	"github.com/kuitang/ticketnotes/internal/mcp"
	"github.com/kuitang/ticketnotes/internal/notes"
	"github.com/kuitang/ticketnotes/internal/obs"
	"github.com/kuitang/ticketnotes/internal/ratelimit"
	"github.com/kuitang/ticketnotes/internal/users"
)

const (
	shutdownTimeout    = 15 * time.Second
	databaseKeyVersion = 1
)

func main() {
	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	cfg := config.MustLoadConfig(flags)

	obs.Init()
	obs.SetLevel(obs.ParseLevel(cfg.LogLevel))
	cfg.PrintStartupSummary(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		obs.Pkg("main").Error("server_exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := obs.Pkg("main")

	key, err := crypto.DeriveDatabaseKey(cfg.DatabaseKeyBytes(), crypto.NotesDatabasePurpose, databaseKeyVersion)
	if err != nil {
		return errors.Wrap(err, "could not derive database key")
	}
	store, err := db.Open(ctx, cfg.DatabasePath, key)
	if err != nil {
		return errors.Wrap(err, "could not open database")
	}
	defer store.Close()
	store.SetSequenceStart(cfg.TicketStart)

	limiter := ratelimit.NewRateLimiter(cfg.RateLimitConfig)
	defer limiter.Stop()

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newRootHandler(cfg, store, limiter),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server_listening", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.WithStack(err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("server_shutting_down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newRootHandler assembles every route behind the shared middleware chain.
func newRootHandler(cfg *config.Config, store *db.Store, limiter *ratelimit.RateLimiter) http.Handler {
	notesSvc := notes.NewService(store, store, store)
	usersSvc := users.NewService(store, auth.NewBcryptHasher(cfg.BcryptCost))

	mux := http.NewServeMux()
	apiHandler := api.NewHandler(notesSvc, usersSvc, store, cfg.StorageTimeout)
	limited := ratelimit.Middleware(limiter, ratelimit.KeyFunc(cfg.RateLimitConfig))
	apiHandler.RegisterRoutes(mux, limited)

	mcpServer := mcp.NewServer(notesSvc, usersSvc, cfg.StorageTimeout)
	mountMCPRoute(mux, "/mcp", limited(mcpServer))
	mux.Handle("GET /metrics", promhttp.Handler())

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Accept", "X-Request-Id", "Mcp-Session-Id", "Last-Event-ID"},
		ExposedHeaders: []string{"X-Request-Id", "Retry-After"},
		MaxAge:         86400,
	})

	var h http.Handler = api.SecurityHeaders(mux)
	h = corsHandler.Handler(h)
	h = obs.AccessLogMiddleware("http", h)
	h = obs.RequestContextMiddleware(h)
	return h
}

// mountMCPRoute registers the streamable HTTP methods for the MCP endpoint.
func mountMCPRoute(mux *http.ServeMux, path string, handler http.Handler) {
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions} {
		mux.Handle(fmt.Sprintf("%s %s", method, path), handler)
	}
}
