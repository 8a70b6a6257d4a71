package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/alfredjeanlab/crates/internal/activity"
	"github.com/alfredjeanlab/crates/internal/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var (
	serveNoProcessor bool
	serveNoConsumer  bool
	serveNoBridge    bool
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Run the HTTP API, gRPC health, outbox processor, consumer and activity bridge",
	GroupID: "pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		publisher, subscriber, err := openBroker(cfg)
		if err != nil {
			return err
		}
		defer publisher.Close()
		defer subscriber.Close()

		rdb, err := openRedis(ctx, cfg)
		if err != nil {
			return err
		}
		if rdb != nil {
			defer rdb.Close()
		}

		processor, err := newProcessor(ctx, cfg, store, publisher)
		if err != nil {
			return err
		}

		hub := activity.NewHub(cfg.Activity.RingSize)
		srv := server.New(server.Options{
			Store:          store,
			Hub:            hub,
			Processor:      processor,
			ActivitySecret: cfg.Activity.Secret,
			Logger:         logger,
		})
		grpcServer, health := server.NewGRPCServer(logger, cfg.AuthToken)
		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           srv.NewHTTPHandler(cfg.AuthToken),
			ReadHeaderTimeout: 10 * time.Second,
		}

		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			return grpcServer.Serve(lis)
		})
		g.Go(func() error {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})

		if !serveNoProcessor {
			g.Go(func() error {
				health.SetServingStatus(server.HealthOutbox, healthpb.HealthCheckResponse_SERVING)
				defer health.SetServingStatus(server.HealthOutbox, healthpb.HealthCheckResponse_NOT_SERVING)
				return processor.Run(gctx)
			})
		}
		if !serveNoConsumer {
			dispatcher := newDispatcher(cfg, newImporter(cfg, store, newLimiter(cfg)), rdb)
			g.Go(func() error {
				health.SetServingStatus(server.HealthConsumer, healthpb.HealthCheckResponse_SERVING)
				defer health.SetServingStatus(server.HealthConsumer, healthpb.HealthCheckResponse_NOT_SERVING)
				return dispatcher.Run(gctx, subscriber)
			})
		}
		if !serveNoBridge {
			bridge := newBridge(cfg)
			g.Go(func() error { return bridge.Run(gctx, subscriber) })
		}
		health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

		logger.Info("crates server started",
			"grpc_addr", cfg.GRPCAddr,
			"http_addr", cfg.HTTPAddr,
			"broker", cfg.Broker.Kind,
			"processor", !serveNoProcessor,
			"consumer", !serveNoConsumer,
			"bridge", !serveNoBridge,
		)

		g.Go(func() error {
			<-gctx.Done()
			logger.Info("shutting down")
			health.Shutdown()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			grpcServer.GracefulStop()
			return httpServer.Shutdown(shutdownCtx)
		})

		err = g.Wait()
		logger.Info("server stopped")
		return err
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoProcessor, "no-processor", false, "do not run the outbox processor")
	serveCmd.Flags().BoolVar(&serveNoConsumer, "no-consumer", false, "do not run the consumer")
	serveCmd.Flags().BoolVar(&serveNoBridge, "no-bridge", false, "do not run the activity bridge")
}
