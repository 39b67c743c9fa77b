package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

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

	"github.com/jackc/pgx/v5/pgxpool"
)

const leaseKey = "recompute"

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	var (
		input          = flag.String("input", "", "path to a local edge snapshot (JSON array)")
		snapshotKey    = flag.String("snapshot-key", "", "object storage key of the edge snapshot")
		skipExtraction = flag.Bool("skip-extraction", false, "reuse the persisted edge set instead of a new snapshot")
		centralityOnly = flag.Bool("centrality-only", false, "skip the edge upsert and only refresh centrality")
		dryRun         = flag.Bool("dry-run", false, "compute everything but write nothing")
		resolution     = flag.Float64("resolution", 1.0, "community detection resolution")
		enqueue        = flag.Bool("enqueue", false, "publish the run as a worker job instead of running inline")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *enqueue {
		enqueueJob(*snapshotKey, *centralityOnly, *resolution)
		return
	}

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

	runStore := pgxstore.NewRunDBStoreWithConnection(pgConn)

	locks := leaselock.New(pgConn)
	err = locks.WithLease(ctx, leaseKey, leaselock.Options{}, func(ctx context.Context) error {
		edges, err := resolveEdges(ctx, runStore, *input, *snapshotKey, *skipExtraction)
		if err != nil {
			return err
		}

		params := pipeline.DefaultParams()
		params.DryRun = *dryRun
		params.CentralityOnly = *centralityOnly
		params.Community.Resolution = *resolution
		params.Betweenness.SampleThreshold = int(util.GetEnvNumeric("BETWEENNESS_SAMPLE_THRESHOLD", params.Betweenness.SampleThreshold))
		params.Betweenness.SampleSize = int(util.GetEnvNumeric("BETWEENNESS_SAMPLE_SIZE", params.Betweenness.SampleSize))

		_, err = pipeline.Run(ctx, edges, params, runStore, analytics.Native{})
		return err
	})
	if err != nil {
		logger.Fatal("Run failed", "err", err)
	}
}

func enqueueJob(snapshotKey string, centralityOnly bool, resolution float64) {
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

	job := queue.Job{
		SnapshotKey:    snapshotKey,
		CentralityOnly: centralityOnly,
	}
	if resolution != 1.0 {
		job.Resolution = &resolution
	}

	if err := queue.PublishJob(ch, job); err != nil {
		logger.Fatal("Failed to publish job", "err", err)
	}
	logger.Info("Recompute job enqueued", "snapshot_key", snapshotKey)
}

// resolveEdges picks the edge source for this run: the persisted edge set,
// a local snapshot file, or an object-storage snapshot, in that precedence.
func resolveEdges(
	ctx context.Context,
	runStore *pgxstore.RunDBStore,
	input, snapshotKey string,
	skipExtraction bool,
) ([]common.Edge, error) {
	switch {
	case skipExtraction:
		logger.Info("Reusing persisted edge set")
		return runStore.LoadEdges(ctx)
	case input != "":
		logger.Info("Loading edge snapshot from file", "path", input)
		body, err := os.ReadFile(input)
		if err != nil {
			return nil, err
		}
		var edges []common.Edge
		if err := json.Unmarshal(body, &edges); err != nil {
			return nil, err
		}
		return edges, nil
	case snapshotKey != "":
		logger.Info("Loading edge snapshot from object storage", "key", snapshotKey)
		client := storage.NewS3Client(ctx)
		return storage.GetSnapshot(ctx, client, snapshotKey)
	default:
		logger.Warn("No snapshot given, falling back to the persisted edge set")
		return runStore.LoadEdges(ctx)
	}
}
