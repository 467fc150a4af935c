package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/docwriter-backend/internal/agents"
	"github.com/yungbote/docwriter-backend/internal/config"
	"github.com/yungbote/docwriter-backend/internal/cycles"
	"github.com/yungbote/docwriter-backend/internal/diagram"
	"github.com/yungbote/docwriter-backend/internal/export"
	"github.com/yungbote/docwriter-backend/internal/httpapi"
	"github.com/yungbote/docwriter-backend/internal/messaging"
	"github.com/yungbote/docwriter-backend/internal/observability"
	"github.com/yungbote/docwriter-backend/internal/platform/logger"
	"github.com/yungbote/docwriter-backend/internal/queue"
	"github.com/yungbote/docwriter-backend/internal/stages"
	"github.com/yungbote/docwriter-backend/internal/status"
	"github.com/yungbote/docwriter-backend/internal/storage"
	"github.com/yungbote/docwriter-backend/internal/worker"
)

func main() {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Loading environment variables...")
	cfg := config.FromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "docwriter",
		Environment: cfg.Env,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := shutdownOTel(shutdownCtx); err != nil {
			log.Warn("otel shutdown failed", "error", err)
		}
	}()

	store, err := storage.NewGCSStore(ctx, log, cfg.BlobBucket)
	if err != nil {
		log.Fatal("GCS init failed", "bucket", cfg.BlobBucket, "error", err)
	}

	broker, err := queue.NewRedisBroker(log, queue.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Fatal("Redis broker init failed", "addr", cfg.RedisAddr, "error", err)
	}
	topic, err := queue.NewRedisTopicFromAddr(log, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.StatusTopics())
	if err != nil {
		log.Fatal("Status topic init failed", "error", err)
	}

	var (
		table status.Table
		index status.DocumentIndex
	)
	if cfg.DatabaseURL != "" {
		pg, err := status.NewPostgresStore(log, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("Postgres init failed", "error", err)
		}
		table, index = pg, pg
	} else {
		log.Warn("DATABASE_URL unset, using in-memory status table")
		mem := status.NewMemoryTable()
		table, index = mem, mem
	}

	pub := messaging.NewPublisher(log, broker, topic, table, index)

	chat, err := agents.NewChatClient(log, cfg)
	if err != nil {
		log.Fatal("Chat client init failed", "error", err)
	}
	set := agents.NewSet(log, chat, cfg)

	renderer, err := diagram.NewRenderer(log, cfg.PlantUMLServerURL)
	if err != nil {
		log.Fatal("PlantUML renderer init failed", "error", err)
	}
	exporter := export.New(log, cfg.PDFExporterURL, cfg.DocxExporterURL)

	pipe := stages.NewPipeline(log, cfg, store, pub, set, cycles.Hydrator{Table: table}, renderer, exporter)
	pipe.Reformat = agents.NewDiagramReformatter(log, chat, cfg)

	bindings := []struct {
		queue   string
		stage   string
		handler worker.Handler
	}{
		{cfg.QueuePlanIntake, "PLAN_INTAKE", pipe.PlanIntake},
		{cfg.QueueIntakeResume, "INTAKE_RESUME", pipe.IntakeResume},
		{cfg.QueuePlan, "PLAN", pipe.Plan},
		{cfg.QueueWrite, "WRITE", pipe.Write},
		{cfg.QueueReviewGeneral, "REVIEW", pipe.ReviewGeneral},
		{cfg.QueueReviewStyle, "REVIEW", pipe.ReviewStyle},
		{cfg.QueueReviewCohesion, "REVIEW", pipe.ReviewCohesion},
		{cfg.QueueReviewSummary, "REVIEW", pipe.ReviewSummary},
		{cfg.QueueVerify, "VERIFY", pipe.Verify},
		{cfg.QueueRewrite, "REWRITE", pipe.Rewrite},
		{cfg.QueueDiagramPrep, "DIAGRAM", pipe.DiagramPrep},
		{cfg.QueueDiagramRender, "DIAGRAM", pipe.DiagramRender},
		{cfg.QueueFinalizeReady, "FINALIZE", pipe.Finalize},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, b := range bindings {
		b := b
		w := worker.New(log, broker, pub, b.queue, b.handler, worker.Options{
			Stage:        b.stage,
			RenewCeiling: cfg.LockRenew,
		})
		g.Go(func() error {
			w.Run(gctx)
			return nil
		})
	}

	server := httpapi.NewServer(httpapi.RouterConfig{
		AuthMiddleware:  httpapi.NewAuthMiddleware(log, cfg.JWTSecret),
		JobHandler:      httpapi.NewJobHandler(log, pipe, table, store),
		DocumentHandler: httpapi.NewDocumentHandler(index),
		IntakeHandler:   httpapi.NewIntakeHandler(set.Interviewer),
		HealthHandler:   httpapi.NewHealthHandler(),
	})
	httpSrv := &http.Server{Addr: ":" + cfg.Port, Handler: server.Engine}

	g.Go(func() error {
		log.Info("HTTP server listening", "port", cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("shutdown with error", "error", err)
	}
	log.Info("docwriter stopped")
}
