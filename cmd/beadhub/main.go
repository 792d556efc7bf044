package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jordanhubbard/beadhub/internal/api"
	"github.com/jordanhubbard/beadhub/internal/database"
	"github.com/jordanhubbard/beadhub/internal/events"
	"github.com/jordanhubbard/beadhub/internal/telemetry"
	"github.com/jordanhubbard/beadhub/pkg/config"
)

const version = "1.0.0"

var configPath string

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	rootCmd := &cobra.Command{
		Use:     "beadhub",
		Short:   "BeadHub - coordination hub for agent fleets",
		Version: version,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the BeadHub server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("beadhub %s\n", version)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "secret",
		Short: "Generate a random secret for internal_auth_secret or jwt_secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			buf := make([]byte, 32)
			if _, err := rand.Read(buf); err != nil {
				return fmt.Errorf("failed to generate secret: %w", err)
			}
			fmt.Println(hex.EncodeToString(buf))
			return nil
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if path := os.Getenv("BEADHUB_CONFIG"); path != "" {
		return path
	}
	return "beadhub.yaml"
}

func serve() error {
	cfg, err := config.LoadConfigFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing is best-effort: a missing collector must not block startup.
	if cfg.Otel.Endpoint != "" {
		shutdown, err := telemetry.InitTelemetry(ctx, "beadhub", cfg.Otel.Endpoint)
		if err != nil {
			log.Printf("[Telemetry] init failed, continuing without tracing: %v", err)
		} else {
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(sctx); err != nil {
					log.Printf("[Telemetry] shutdown error: %v", err)
				}
			}()
		}
	}

	db, err := database.NewPostgres(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer db.Close()

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	// The JetStream mirror is optional; no NATS URL means no mirror.
	var mirror *events.Mirror
	if cfg.Nats.URL != "" {
		mirror, err = events.NewMirror(events.MirrorConfig{
			URL:        cfg.Nats.URL,
			StreamName: cfg.Nats.StreamName,
		})
		if err != nil {
			log.Printf("[Events] NATS mirror unavailable, continuing without it: %v", err)
		} else {
			defer mirror.Close()
		}
	}
	bus := events.NewBus(rdb, mirror)

	server := api.NewServer(cfg, db, rdb, bus)

	// Hot-reload log_level and the presence TTL on config file changes.
	watcher, err := config.NewWatcher(configPath, cfg, func(fresh *config.Config) {
		server.Presence().SetTTL(fresh.PresenceTTL())
	})
	if err != nil {
		log.Printf("[Config] file watch disabled: %v", err)
	} else {
		defer watcher.Close()
	}

	handler := otelhttp.NewHandler(server.SetupRoutes(), "beadhub-http-server")

	httpSrv := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     handler,
		ReadTimeout: cfg.Server.ReadTimeout,
		// WriteTimeout stays at the configured value, zero by default:
		// SSE and WebSocket streams are long-lived.
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("BeadHub API listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	case <-ctx.Done():
	}

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	log.Println("Shutdown complete")
	return nil
}
