package analytics

import (
	"tenderwatch/pkg/graph"
	"tenderwatch/pkg/logger"
)

// PageRankOptions controls the power-iteration PageRank engine.
type PageRankOptions struct {
	Damping       float64 // teleport damping factor, 0 < d < 1
	Tolerance     float64 // L1 convergence threshold between iterations
	MaxIterations int
}

// DefaultPageRankOptions returns the production defaults.
func DefaultPageRankOptions() PageRankOptions {
	return PageRankOptions{
		Damping:       0.85,
		Tolerance:     1e-6,
		MaxIterations: 100,
	}
}

// PageRank computes weighted PageRank over the model's symmetric transition
// view via power iteration. Edge direction carries no influence signal: a
// relationship observed in either direction moves rank both ways, so a
// triangle of equally weighted ties scores uniformly no matter how the
// directed edges are oriented.
//
// Rank flowing out of a node is split proportionally to positive transition
// weights. Dangling nodes (no positive incident weight) redistribute their
// rank uniformly over all nodes, so total mass stays 1 and the scores form a
// probability distribution. An empty graph yields an empty map; a single
// isolated node scores 1.
func PageRank(g *graph.Model, opts PageRankOptions) map[string]float64 {
	nodes := g.Nodes()
	n := len(nodes)
	if n == 0 {
		return map[string]float64{}
	}

	if opts.Damping <= 0 || opts.Damping >= 1 {
		opts.Damping = 0.85
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = 1e-6
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 100
	}

	ranks := make(map[string]float64, n)
	initial := 1.0 / float64(n)
	for _, id := range nodes {
		ranks[id] = initial
	}

	base := (1.0 - opts.Damping) / float64(n)

	for iter := 0; iter < opts.MaxIterations; iter++ {
		next := make(map[string]float64, n)
		for _, id := range nodes {
			next[id] = base
		}

		dangling := 0.0
		for _, id := range nodes {
			total := g.TransitionTotal(id)
			if total <= 0 {
				dangling += ranks[id]
				continue
			}
			share := opts.Damping * ranks[id] / total
			for target, weight := range g.Transitions(id) {
				next[target] += share * weight
			}
		}

		if dangling > 0 {
			spread := opts.Damping * dangling / float64(n)
			for _, id := range nodes {
				next[id] += spread
			}
		}

		diff := 0.0
		for _, id := range nodes {
			delta := next[id] - ranks[id]
			if delta < 0 {
				delta = -delta
			}
			diff += delta
		}
		ranks = next

		if diff < opts.Tolerance {
			logger.Debug("[PageRank] Converged", "iterations", iter+1, "nodes", n)
			return ranks
		}
	}

	logger.Warn("[PageRank] Did not converge, returning last iteration",
		"max_iterations", opts.MaxIterations, "nodes", n)
	return ranks
}
