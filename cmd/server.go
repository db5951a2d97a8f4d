// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/LeeDigitalWorks/vospace/pkg/api"
	"github.com/LeeDigitalWorks/vospace/pkg/auth"
	"github.com/LeeDigitalWorks/vospace/pkg/bulk"
	"github.com/LeeDigitalWorks/vospace/pkg/debug"
	"github.com/LeeDigitalWorks/vospace/pkg/env"
	"github.com/LeeDigitalWorks/vospace/pkg/events"
	"github.com/LeeDigitalWorks/vospace/pkg/logger"
	"github.com/LeeDigitalWorks/vospace/pkg/metadata/db"
	"github.com/LeeDigitalWorks/vospace/pkg/metadata/distributed"
	"github.com/LeeDigitalWorks/vospace/pkg/metadata/regions"
	"github.com/LeeDigitalWorks/vospace/pkg/nodes"
	"github.com/LeeDigitalWorks/vospace/pkg/storage/backend"
	"github.com/LeeDigitalWorks/vospace/pkg/taskqueue"
	"github.com/LeeDigitalWorks/vospace/pkg/transfer"
	"github.com/LeeDigitalWorks/vospace/pkg/utils"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the VOSpace service",
	Long: `Start the VOSpace service:
- the HTTP API and data channel
- the bulk transport listener (when bulk_addr is set)
- the transfer job workers
- the debug server with metrics and health checks`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	f := serverCmd.Flags()
	f.String("http_addr", ":8080", "HTTP listen address")
	f.String("debug_addr", ":8085", "Debug listen address (metrics, pprof, health); empty disables it")
	f.String("app_url", "http://localhost:8080", "Public base URL of the service")
	f.String("authority", "localhost!vospace", "Identifier authority for bare paths")
	f.String("bulk_addr", "", "Bulk transport listen address; empty disables bulk")
	f.String("bulk_endpoint", "", "Bulk endpoint advertised to clients (default: bulk_addr)")
	f.Int("bulk_workers", bulk.DefaultWorkers, "Concurrent bulk connections")
	f.String("bulk_rate_limit", "0", "Bulk throughput limit per connection, e.g. 50MiB (0 = unlimited)")
	f.Duration("bulk_idle_timeout", bulk.DefaultIdleTimeout, "Bulk connection idle timeout")
	f.Int("task_workers", taskqueue.DefaultConcurrency, "Concurrent server-side transfer jobs")
	f.String("redis_addr", "", "Redis address for the region registry")
	f.String("db.driver", string(db.DriverMemory), "Metadata database driver (memory, postgres, mysql)")
	f.String("db.dsn", "", "Metadata database connection string")
	f.String("storage.type", "memory", "Byte storage backend (memory, local, s3)")
	f.String("storage.path", "", "Root directory of the local backend")
	f.String("region.name", "", "Region of this server; empty disables regions")
	f.Bool("auth.trust_headers", false, "Trust X-Vospace-User / X-Vospace-Write request headers")

	_ = viper.BindPFlags(f)
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := LoadServerConfig(viper.GetViper())
	if err != nil {
		return err
	}
	if env.IsProduction() && cfg.DB.Driver == db.DriverMemory {
		return fmt.Errorf("the memory metadata store cannot be used in production")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	debug.SetNotReady()
	var debugServer *http.Server
	if cfg.DebugAddr != "" {
		debugServer = startDebugServer(cfg.DebugAddr)
	}

	rawDB, pool, err := openDatabase(cfg.DB)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer rawDB.Close()
	metadataDB := db.NewMetricsDB(rawDB)
	if err := metadataDB.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	if pool != nil {
		go collectPoolMetrics(ctx, pool, 15*time.Second)
	}

	var store db.DB = metadataDB
	var registry regions.Registry
	if cfg.Region.Name != "" {
		var stopRegistry func()
		registry, stopRegistry = startRegistry(ctx, cfg)
		defer stopRegistry()
		store = distributed.New(metadataDB, registry)
		logger.Info().Str("region", cfg.Region.Name).Str("registry", cfg.Region.Registry).Msg("regions enabled")
	}
	debug.AddReadyCheck("database", store.Ping)

	bytes, err := backend.New(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer bytes.Close()

	queue := taskqueue.NewMemoryQueue()
	defer queue.Close()

	var emitter *events.Emitter
	var publishers []events.Publisher
	if cfg.Events.Enabled && cfg.Events.HasPublishers() {
		if publishers, err = events.NewPublishers(cfg.Events); err != nil {
			return fmt.Errorf("event publishers: %w", err)
		}
		defer func() {
			for _, p := range publishers {
				_ = p.Close()
			}
		}()
		emitter = events.NewEmitter(events.EmitterConfig{Queue: queue, Enabled: true, Region: cfg.Region.Name})
	}

	manager := nodes.NewManager(store, bytes, cfg.Authority)
	proc := transfer.NewProcessor(store, queue, emitter, transfer.Config{AppURL: cfg.AppURL, Authority: cfg.Authority})

	hostname, _ := os.Hostname()
	worker := taskqueue.NewWorker(taskqueue.WorkerConfig{
		ID:          hostname,
		Queue:       queue,
		Concurrency: cfg.TaskWorkers,
	})
	worker.RegisterHandler(transfer.NewExecutor(proc, manager, nil))
	if emitter != nil {
		worker.RegisterHandler(events.NewDeliveryHandler(publishers, ""))
	}
	worker.Start(ctx)
	defer worker.Stop()

	if n, err := proc.Recover(ctx); err != nil {
		logger.Warn().Err(err).Msg("could not recover queued jobs")
	} else if n > 0 {
		logger.Info().Int("jobs", n).Msg("re-queued jobs from a previous run")
	}

	if cfg.BulkAddr != "" {
		bulkServer := bulk.NewServer(bulk.Config{
			Addr:        cfg.BulkAddr,
			Workers:     cfg.BulkWorkers,
			RateLimit:   cfg.BulkRate(),
			IdleTimeout: cfg.BulkIdle,
		}, proc, manager)
		if err := bulkServer.Start(); err != nil {
			return fmt.Errorf("start bulk server: %w", err)
		}
		defer bulkServer.Stop()
	}

	authenticator, err := auth.New(cfg.Auth)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	router := api.NewRouter(api.Deps{
		Processor: proc,
		Nodes:     manager,
		Auth:      authenticator,
		Regions:   registry,
	})
	apiServer := api.NewServer(api.Config{Addr: cfg.HTTPAddr}, router)

	logger.Info().
		Str("http_addr", cfg.HTTPAddr).
		Str("bulk_addr", cfg.BulkAddr).
		Str("app_url", cfg.AppURL).
		Str("db_driver", string(cfg.DB.Driver)).
		Str("storage", string(cfg.Storage.Type)).
		Msg("vospace server starting")
	debug.SetReady()

	err = apiServer.ListenAndServe(ctx)
	debug.SetNotReady()
	if debugServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = debugServer.Shutdown(shutdownCtx)
		cancel()
	}
	return err
}

// startRegistry builds the configured region registry. The returned func
// stops background heartbeats.
func startRegistry(ctx context.Context, cfg *ServerConfig) (regions.Registry, func()) {
	if cfg.Region.Registry != "redis" {
		return regions.NewStatic(cfg.Region), func() {}
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	r := regions.NewRedis(client, cfg.Region)
	r.Start(ctx)
	return r, func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		r.Stop(stopCtx)
		_ = client.Close()
	}
}

func startDebugServer(addr string) *http.Server {
	listener, err := utils.NewListener(addr, 0)
	if err != nil {
		logger.Fatal().Err(err).Str("debug_addr", addr).Msg("failed to create debug listener")
	}
	srv := &http.Server{Handler: debug.GetMux(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info().Str("debug_addr", addr).Msg("starting debug server")
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("debug server failed")
		}
	}()
	return srv
}
