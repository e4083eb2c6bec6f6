// Chat relay server: stores chat turns and answers them with a generated reply.
package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/chat-relay/internal/api"
	"github.com/ashureev/chat-relay/internal/chat"
	"github.com/ashureev/chat-relay/internal/config"
	"github.com/ashureev/chat-relay/internal/conversationlog"
	"github.com/ashureev/chat-relay/internal/events"
	"github.com/ashureev/chat-relay/internal/feed"
	"github.com/ashureev/chat-relay/internal/health"
	"github.com/ashureev/chat-relay/internal/middleware"
	"github.com/ashureev/chat-relay/internal/responder"
	"github.com/ashureev/chat-relay/internal/store"
	"github.com/ashureev/chat-relay/web"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting server", "port", cfg.Port, "store", cfg.Store.Driver, "responder", cfg.Responder.Kind)

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("Failed to close store", "error", closeErr)
		}
	}()

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Health.ProbeTimeout)
	err = st.Ping(pingCtx)
	cancel()
	if err != nil {
		return err
	}
	slog.Info("Store connected", "driver", cfg.Store.Driver)

	gen, err := responder.New(ctx, cfg.Responder)
	if err != nil {
		return err
	}
	if c, ok := gen.(io.Closer); ok {
		defer func() {
			if closeErr := c.Close(); closeErr != nil {
				slog.Error("Failed to close responder", "error", closeErr)
			}
		}()
	}

	transcript, err := conversationlog.New(cfg.ConversationLog, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := transcript.Close(); closeErr != nil {
			slog.Error("Failed to close conversation log", "error", closeErr)
		}
	}()

	bus := events.NewBus(logger, 64)
	defer func() {
		if closeErr := bus.Close(); closeErr != nil {
			slog.Error("Failed to close event bus", "error", closeErr)
		}
	}()

	svc := chat.NewService(st, gen, chat.WithPublisher(bus), chat.WithTranscript(transcript))
	hub := feed.NewHub()

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health/live"))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	api.NewHealthHandler(st, cfg.Health.ProbeTimeout).RegisterHealth(r)

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Requests > 0 {
		limiter = middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
		defer limiter.Stop()
		slog.Info("Rate limiting enabled", "requests", cfg.RateLimit.Requests, "window", cfg.RateLimit.Window)
	}
	r.Group(func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.Handler)
		}
		api.NewChatHandler(svc, cfg.MaxRequestBody).RegisterRoutes(r)
	})

	r.Get("/chat/stream", feed.NewHandler(svc, bus, hub, originPatterns(cfg.CORSOrigins)).ServeHTTP)
	r.Handle("/app", http.RedirectHandler("/app/", http.StatusMovedPermanently))
	r.Handle("/app/*", web.Handler("/app"))

	// WriteTimeout stays 0 so feed websockets are not cut off.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	srv.RegisterOnShutdown(hub.CloseAll)

	var grpcLis net.Listener
	if cfg.GRPCPort != "" {
		grpcLis, err = net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if grpcLis != nil {
		grpcSrv, hs := health.NewGRPCServer()
		health.StartProbe(gctx, st, hs, cfg.Health.ProbeInterval, cfg.Health.ProbeTimeout)

		g.Go(func() error {
			slog.Info("gRPC health server listening", "addr", grpcLis.Addr().String())
			return grpcSrv.Serve(grpcLis)
		})
		g.Go(func() error {
			<-gctx.Done()
			hs.Shutdown()
			grpcSrv.GracefulStop()
			return nil
		})
	}

	return g.Wait()
}

// originPatterns converts CORS origins to websocket origin patterns, which
// match on host rather than full origin.
func originPatterns(origins []string) []string {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		host, ok := strings.CutPrefix(o, "https://")
		if !ok {
			host, _ = strings.CutPrefix(o, "http://")
		}
		patterns = append(patterns, host)
	}
	return patterns
}
