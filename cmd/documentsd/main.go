package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/invoice-ingest/internal/async"
	"github.com/joseph-ayodele/invoice-ingest/internal/blob"
	"github.com/joseph-ayodele/invoice-ingest/internal/common"
	"github.com/joseph-ayodele/invoice-ingest/internal/duplicates"
	"github.com/joseph-ayodele/invoice-ingest/internal/events"
	"github.com/joseph-ayodele/invoice-ingest/internal/export"
	"github.com/joseph-ayodele/invoice-ingest/internal/extract/vendor"
	"github.com/joseph-ayodele/invoice-ingest/internal/normalize"
	"github.com/joseph-ayodele/invoice-ingest/internal/pipeline"
	repo "github.com/joseph-ayodele/invoice-ingest/internal/repository"
	svc "github.com/joseph-ayodele/invoice-ingest/internal/server"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("documentsd exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := common.LoadConfig()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := svc.ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer svc.CloseDB(db)

	if err := svc.PingDB(ctx, db, logger, 5*time.Second); err != nil {
		return err
	}

	docs := repo.NewDocumentRepository(db, logger)
	extractions := repo.NewExtractionRepository(db, logger)

	analyzer, err := vendor.New(cfg.Extraction, logger)
	if err != nil {
		logger.Error("failed to build extraction vendor", "vendor", cfg.Extraction.Vendor, "error", err)
		return err
	}
	blobs, err := blob.New(ctx, cfg.Blob, logger)
	if err != nil {
		logger.Error("failed to open blob store", "backend", cfg.Blob.Backend, "error", err)
		return err
	}
	defer closeIfCloser(blobs)
	checker, err := duplicates.New(cfg.Invoices, logger)
	if err != nil {
		logger.Error("failed to connect invoice service", "addr", cfg.Invoices.Addr, "error", err)
		return err
	}
	defer closeIfCloser(checker)
	publisher, err := events.New(cfg.Events, logger)
	if err != nil {
		logger.Error("failed to build event publisher", "sink", cfg.Events.SinkURL, "error", err)
		return err
	}

	processor := pipeline.NewProcessor(logger, docs, extractions, blobs, analyzer,
		normalize.New(cfg.DefaultCurrency, logger), checker, publisher)

	queue := async.New(processor, logger,
		async.WithConcurrency(cfg.Queue.Concurrency),
		async.WithJobTimeout(cfg.Queue.JobTimeout),
	)
	if _, err := queue.Recover(ctx, docs); err != nil {
		logger.Error("startup recovery scan failed", "error", err)
		return err
	}

	service := svc.NewDocumentsService(docs, extractions, queue, export.NewService(extractions, logger), logger)
	grpcServer, healthServer := svc.NewGRPCServer(service, logger)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("documentsd listening", "addr", cfg.Server.GRPCAddr, "vendor", analyzer.Name())
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return events.NewReceiver(docs, logger).Run(gctx, cfg.Server.EventsPort)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		grpcServer.GracefulStop()

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := queue.Shutdown(sctx); err != nil {
			logger.Warn("queue did not drain before timeout", "error", err)
		}
		return nil
	})

	return g.Wait()
}

func closeIfCloser(v any) {
	if c, ok := v.(io.Closer); ok {
		_ = c.Close()
	}
}
