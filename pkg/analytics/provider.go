// Package analytics derives the per-entity risk signals from a built graph
// model: influence ranking (PageRank), brokerage detection (betweenness
// centrality) and market-cluster assignment (Louvain communities).
//
// The three engines are independent and read the same immutable Model; the
// pipeline may run them concurrently.
package analytics

import (
	"context"
	"sort"

	"tenderwatch/pkg/common"
	"tenderwatch/pkg/graph"
)

// CentralityProvider is the seam between the pipeline and the concrete
// algorithm implementations, so the backend can be swapped without touching
// graph construction or aggregation.
type CentralityProvider interface {
	PageRank(ctx context.Context, g *graph.Model, opts PageRankOptions) (map[string]float64, error)
	Betweenness(ctx context.Context, g *graph.Model, opts BetweennessOptions) (BetweennessResult, error)
	Communities(ctx context.Context, g *graph.Model, opts CommunityOptions) (map[string]int, error)
}

// Native is the built-in CentralityProvider.
type Native struct{}

func (Native) PageRank(ctx context.Context, g *graph.Model, opts PageRankOptions) (map[string]float64, error) {
	return PageRank(g, opts), nil
}

func (Native) Betweenness(ctx context.Context, g *graph.Model, opts BetweennessOptions) (BetweennessResult, error) {
	return Betweenness(ctx, g, opts)
}

func (Native) Communities(ctx context.Context, g *graph.Model, opts CommunityOptions) (map[string]int, error) {
	return Communities(g, opts), nil
}

// Aggregate merges the three analytic outputs and the model's degree
// statistics into one record per entity. The union of all inputs is kept: an
// entity missing from one map still gets a record, with zero defaults. An
// entity absent from the community partition gets CommunityID -1.
func Aggregate(
	g *graph.Model,
	pageranks map[string]float64,
	betweenness map[string]float64,
	communities map[string]int,
) []common.CentralityRecord {
	ids := g.Nodes()

	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	extra := make([]string, 0)
	for id := range pageranks {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			extra = append(extra, id)
		}
	}
	for id := range betweenness {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			extra = append(extra, id)
		}
	}
	for id := range communities {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			extra = append(extra, id)
		}
	}
	if len(extra) > 0 {
		ids = append(ids, extra...)
		sort.Strings(ids)
	}

	records := make([]common.CentralityRecord, 0, len(ids))
	for _, id := range ids {
		community, ok := communities[id]
		if !ok {
			community = -1
		}

		records = append(records, common.CentralityRecord{
			EntityID:    id,
			EntityType:  g.EntityType(id),
			PageRank:    pageranks[id],
			Betweenness: betweenness[id],
			Degree:      g.Degree(id),
			InDegree:    g.InDegree(id),
			OutDegree:   g.OutDegree(id),
			CommunityID: community,
		})
	}

	return records
}
