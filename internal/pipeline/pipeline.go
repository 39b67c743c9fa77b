// Package pipeline orchestrates one batch run: build the graph model, run
// the analytic engines, aggregate per-entity records and persist the result.
package pipeline

import (
	"context"
	"time"

	"tenderwatch/pkg/analytics"
	"tenderwatch/pkg/common"
	"tenderwatch/pkg/graph"
	"tenderwatch/pkg/logger"
	"tenderwatch/pkg/store"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"
)

// Params configures one run.
type Params struct {
	// RunID labels the run in logs. Generated when empty.
	RunID string

	// DryRun computes everything but writes nothing.
	DryRun bool

	// CentralityOnly skips the edge upsert and only refreshes centrality,
	// for reruns over relationships that are already persisted.
	CentralityOnly bool

	PageRank    analytics.PageRankOptions
	Betweenness analytics.BetweennessOptions
	Community   analytics.CommunityOptions
}

// DefaultParams returns a Params with all engine options at their defaults.
func DefaultParams() Params {
	return Params{
		PageRank:    analytics.DefaultPageRankOptions(),
		Betweenness: analytics.DefaultBetweennessOptions(),
		Community:   analytics.DefaultCommunityOptions(),
	}
}

// Run executes a full batch run over the given edge snapshot.
//
// The three engines run concurrently over the same read-only model. Edges
// are persisted before centrality records, so a failure between the two
// leaves relationships queryable and centrality stale rather than the other
// way around. An empty snapshot is not an error: the run ends with a zeroed
// summary and no writes.
func Run(
	ctx context.Context,
	edges []common.Edge,
	params Params,
	runStore store.RunStore,
	provider analytics.CentralityProvider,
) (*common.RunSummary, error) {
	if params.RunID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return nil, err
		}
		params.RunID = id
	}

	summary := &common.RunSummary{
		RunID:          params.RunID,
		DryRun:         params.DryRun,
		CentralityOnly: params.CentralityOnly,
	}

	logger.Info("[Pipeline] Starting run",
		"run_id", params.RunID,
		"input_edges", len(edges),
		"dry_run", params.DryRun,
		"centrality_only", params.CentralityOnly,
	)

	buildStart := time.Now()
	model, stats := graph.NewBuilder().Build(edges)
	summary.BuildDuration = time.Since(buildStart)
	summary.Nodes = stats.Nodes
	summary.Edges = stats.Edges
	summary.SkippedEdges = stats.Skipped
	summary.MergedEdges = stats.Merged

	if model.NodeCount() == 0 {
		logger.Warn("[Pipeline] No valid edges in snapshot, nothing to do", "run_id", params.RunID)
		logSummary(summary)
		return summary, nil
	}

	var (
		pageranks   map[string]float64
		betweenness analytics.BetweennessResult
		communities map[string]int
	)

	eg, ectx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		start := time.Now()
		var err error
		pageranks, err = provider.PageRank(ectx, model, params.PageRank)
		summary.PageRankDuration = time.Since(start)
		return err
	})
	eg.Go(func() error {
		start := time.Now()
		var err error
		betweenness, err = provider.Betweenness(ectx, model, params.Betweenness)
		summary.BetweennessDuration = time.Since(start)
		return err
	})
	eg.Go(func() error {
		start := time.Now()
		var err error
		communities, err = provider.Communities(ectx, model, params.Community)
		summary.CommunityDuration = time.Since(start)
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	summary.BetweennessSampled = betweenness.Sampled
	summary.Communities = countCommunities(communities)

	records := analytics.Aggregate(model, pageranks, betweenness.Scores, communities)

	persistStart := time.Now()
	if params.DryRun {
		logger.Info("[Pipeline] Dry run, skipping persistence",
			"run_id", params.RunID, "records", len(records))
	} else {
		if !params.CentralityOnly {
			if err := runStore.UpsertEdges(ctx, model.Edges()); err != nil {
				return nil, err
			}
		}
		if err := runStore.UpsertCentrality(ctx, records); err != nil {
			return nil, err
		}
	}
	summary.PersistDuration = time.Since(persistStart)

	logSummary(summary)
	return summary, nil
}

func countCommunities(partition map[string]int) int {
	seen := make(map[int]struct{}, len(partition))
	for _, c := range partition {
		if c >= 0 {
			seen[c] = struct{}{}
		}
	}
	return len(seen)
}

func logSummary(s *common.RunSummary) {
	logger.Info("[Pipeline] Run complete",
		"run_id", s.RunID,
		"nodes", s.Nodes,
		"edges", s.Edges,
		"skipped_edges", s.SkippedEdges,
		"merged_edges", s.MergedEdges,
		"communities", s.Communities,
		"betweenness_sampled", s.BetweennessSampled,
		"build_ms", s.BuildDuration.Milliseconds(),
		"pagerank_ms", s.PageRankDuration.Milliseconds(),
		"betweenness_ms", s.BetweennessDuration.Milliseconds(),
		"community_ms", s.CommunityDuration.Milliseconds(),
		"persist_ms", s.PersistDuration.Milliseconds(),
		"dry_run", s.DryRun,
		"centrality_only", s.CentralityOnly,
	)
}
