package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tenderwatch/internal/migrate"
	"tenderwatch/internal/pipeline"
	"tenderwatch/internal/queue"
	"tenderwatch/internal/storage"
	"tenderwatch/internal/util"
	"tenderwatch/pkg/analytics"
	"tenderwatch/pkg/common"
	"tenderwatch/pkg/leaselock"
	"tenderwatch/pkg/logger"
	"tenderwatch/pkg/logger/console"
	pgxstore "tenderwatch/pkg/store/pgx"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	leaseKey   = "recompute"
	maxRetries = 10
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	dbURL := util.GetEnv("DATABASE_URL")
	migrationsDir := util.GetEnvString("MIGRATIONS_DIR", "migrations")
	if err := migrate.Up(migrationsDir, dbURL); err != nil {
		logger.Fatal("Failed to apply migrations", "err", err)
	}

	pgConn, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pgConn.Close()

	s3Client := storage.NewS3Client(ctx)

	conn := queue.Init()
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	// One job at a time; runs are serialized by the lease anyway.
	if err := consumerCh.Qos(1, 0, true); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	msgs, err := consumerCh.Consume(
		queue.RecomputeQueue,
		"recompute_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "err", err)
	}

	logger.Info("Listening for recompute jobs")

	runStore := pgxstore.NewRunDBStoreWithConnection(pgConn)
	locks := leaselock.New(pgConn)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, exiting...")
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("Message channel closed")
				return
			}

			start := time.Now()
			if err := processJob(ctx, msg, runStore, locks, s3Client); err != nil {
				logger.Error("Error processing job", "err", err)
				handleProcessingError(consumerCh, msg)
				continue
			}

			if err := msg.Ack(false); err != nil {
				logger.Error("Failed to ack message", "err", err)
			}
			logger.Info("Job processed successfully", "duration_ms", time.Since(start).Milliseconds())
		}
	}
}

func processJob(
	ctx context.Context,
	msg amqp.Delivery,
	runStore *pgxstore.RunDBStore,
	locks *leaselock.Client,
	s3Client *s3.Client,
) error {
	var job queue.Job
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		return err
	}

	logger.Info("Received recompute job",
		"snapshot_key", job.SnapshotKey,
		"centrality_only", job.CentralityOnly,
	)

	// Wait here instead of failing: jobs arriving while a run is active
	// should queue up behind it, not bounce to the retry queue.
	opts := leaselock.Options{Wait: true}
	return locks.WithLease(ctx, leaseKey, opts, func(ctx context.Context) error {
		var edges []common.Edge
		var err error
		if job.SnapshotKey != "" {
			edges, err = storage.GetSnapshot(ctx, s3Client, job.SnapshotKey)
		} else {
			edges, err = runStore.LoadEdges(ctx)
		}
		if err != nil {
			return err
		}

		params := pipeline.DefaultParams()
		params.CentralityOnly = job.CentralityOnly
		if job.Resolution != nil {
			params.Community.Resolution = *job.Resolution
		}
		params.Betweenness.SampleThreshold = int(util.GetEnvNumeric("BETWEENNESS_SAMPLE_THRESHOLD", params.Betweenness.SampleThreshold))
		params.Betweenness.SampleSize = int(util.GetEnvNumeric("BETWEENNESS_SAMPLE_SIZE", params.Betweenness.SampleSize))

		if _, err := pipeline.Run(ctx, edges, params, runStore, analytics.Native{}); err != nil {
			return err
		}

		if job.SnapshotKey != "" {
			if err := storage.DeleteSnapshot(ctx, s3Client, job.SnapshotKey); err != nil {
				logger.Warn("Failed to delete consumed snapshot", "key", job.SnapshotKey, "err", err)
			}
		}
		return nil
	})
}

func handleProcessingError(ch *amqp.Channel, msg amqp.Delivery) {
	retries := queue.Retries(msg)

	if retries >= maxRetries {
		logger.Info("Job exhausted retries, sending to DLQ", "retries", retries)
		if err := queue.DeadLetter(ch, msg); err != nil {
			logger.Error("Failed to publish to DLQ", "err", err)
			msg.Nack(false, true)
			return
		}
		msg.Ack(false)
		return
	}

	if err := queue.Requeue(ch, msg, retries); err != nil {
		logger.Error("Failed to publish to retry queue", "err", err)
		msg.Nack(false, true)
		return
	}
	msg.Ack(false)
}
