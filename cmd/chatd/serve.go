package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alfredjeanlab/chatd/internal/archive"
	"github.com/alfredjeanlab/chatd/internal/broker"
	"github.com/alfredjeanlab/chatd/internal/config"
	"github.com/alfredjeanlab/chatd/internal/counter"
	"github.com/alfredjeanlab/chatd/internal/eventlog"
	"github.com/alfredjeanlab/chatd/internal/fanout"
	"github.com/alfredjeanlab/chatd/internal/presence"
	"github.com/alfredjeanlab/chatd/internal/server"
	"github.com/alfredjeanlab/chatd/internal/store/postgres"
	"github.com/alfredjeanlab/chatd/internal/telemetry"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the chatd HTTP and gRPC servers",
	GroupID: "system",
	// Override PersistentPreRunE so we don't create an API client.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		slog.SetDefault(logger)

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		shutdownTracing, err := telemetry.Setup(context.Background(), "chatd", cfg.OTelEndpoint)
		if err != nil {
			logger.Error("tracing disabled", "err", err)
		} else if cfg.OTelEndpoint != "" {
			logger.Info("tracing enabled", "endpoint", cfg.OTelEndpoint)
		}

		store, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			return err
		}

		// The broker client stays disabled when unreachable; the service
		// keeps accepting events and persisting updates.
		var (
			upstream broker.Publisher = &broker.NoopPublisher{}
			control  server.BrokerControl
		)
		if cfg.NATSURL != "" {
			bc := broker.NewClient(broker.Config{
				URL:             cfg.NATSURL,
				EventsExchange:  cfg.EventsExchange,
				UpdatesExchange: cfg.UpdatesExchange,
				UpdatesTTL:      cfg.UpdatesTTL,
				Logger:          logger,
			})
			_ = bc.Connect(context.Background())
			upstream, control = bc, bc
		} else {
			logger.Info("broker disabled (CHATD_NATS_URL not set), updates stay unpublished")
		}

		hub := server.NewHub()
		publisher := hub.Tee(upstream)
		bg := &broker.Background{}

		events := eventlog.New(store, publisher, bg, logger)
		fanoutSvc := fanout.NewService(fanout.NewBuilder(store, logger), store, events, publisher, bg, logger)

		batches := counter.NewRegistry(counter.RegistryConfig{
			TTL:       cfg.BatchTTL,
			Finalizer: fanoutSvc.HandleStatsBatch,
			Logger:    logger,
		})
		batches.Start()
		engine := counter.NewEngine(store, store, batches, logger)

		typing := presence.New()
		typing.StartReaper(&presence.ReaperConfig{
			OnExpire: func(tenantID, dialogID, userID string) {
				logger.Debug("typing expired", "tenant_id", tenantID, "dialog_id", dialogID, "user_id", userID)
			},
		})

		srv := server.New(server.Deps{
			Store:    store,
			Events:   events,
			Counters: engine,
			Policy:   counter.NewPolicy(engine),
			Fanout:   fanoutSvc,
			Broker:   control,
			Stream:   hub,
			Presence: typing,
			Logger:   logger,
		})

		grpcServer, healthServer := server.NewGRPCServer(cfg.AuthToken)
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			typing.StopReaper()
			batches.Stop()
			publisher.Close()
			store.Close()
			return err
		}
		go func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "err", err)
			}
		}()

		watchCtx, stopWatch := context.WithCancel(context.Background())
		if control != nil {
			go server.WatchBroker(watchCtx, healthServer, control, 5*time.Second)
		}

		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           server.CORSMiddleware(cfg.CORSOrigins, srv.NewHTTPHandler(cfg.AuthToken)),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		scheduler := startArchive(cfg, events, logger)

		logger.Info("chatd server started",
			"grpc_addr", cfg.GRPCAddr,
			"http_addr", cfg.HTTPAddr,
		)

		// Wait for SIGINT or SIGTERM.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		// Graceful shutdown.
		if scheduler != nil {
			scheduler.Stop()
			logger.Info("archive scheduler stopped")
		}

		stopWatch()
		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		typing.StopReaper()

		// Stop the sweeper before draining the publishes it may start.
		batches.Stop()
		bg.Wait()

		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
		if err := store.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error("error flushing traces", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}

// startArchive starts the event archive when a bucket is configured. It
// resumes after the highest event id already in the bucket.
func startArchive(cfg *config.Config, src archive.Source, logger *slog.Logger) *archive.Scheduler {
	if cfg.ArchiveInterval <= 0 || cfg.ArchiveS3Bucket == "" {
		return nil
	}

	ctx := context.Background()
	dest, err := archive.NewS3Destination(ctx, cfg.ArchiveS3Bucket, cfg.ArchiveS3Region, cfg.ArchiveS3Endpoint)
	if err != nil {
		logger.Error("failed to create S3 archive destination", "err", err)
		return nil
	}
	after, err := dest.LastArchived(ctx, cfg.ArchiveS3Prefix)
	if err != nil {
		logger.Error("failed to read archive position", "bucket", cfg.ArchiveS3Bucket, "err", err)
		return nil
	}

	s := archive.NewScheduler(src, []archive.Destination{dest}, archive.Config{
		Interval: cfg.ArchiveInterval,
		Prefix:   cfg.ArchiveS3Prefix,
		After:    after,
		Logger:   logger,
	})
	s.Start()
	logger.Info("archive scheduler started",
		"bucket", cfg.ArchiveS3Bucket,
		"prefix", cfg.ArchiveS3Prefix,
		"interval", cfg.ArchiveInterval,
		"after", after,
	)
	return s
}
