package analytics

import (
	"container/heap"
	"context"
	"math"
	"math/rand"

	"tenderwatch/pkg/graph"
	"tenderwatch/pkg/logger"
)

// BetweennessOptions controls the Brandes betweenness engine.
type BetweennessOptions struct {
	// Weighted switches shortest paths from hop count to distance 1/weight,
	// so heavier relationships count as shorter paths.
	Weighted bool

	// SampleThreshold is the node count above which the engine switches to
	// sampled mode. Zero or negative disables sampling.
	SampleThreshold int

	// SampleSize is the number of source nodes used in sampled mode.
	SampleSize int

	// Seed fixes the source sample so repeated runs on the same graph give
	// the same scores.
	Seed int64
}

// DefaultBetweennessOptions returns the production defaults.
func DefaultBetweennessOptions() BetweennessOptions {
	return BetweennessOptions{
		Weighted:        true,
		SampleThreshold: 5000,
		SampleSize:      500,
		Seed:            42,
	}
}

// BetweennessResult carries the scores and how they were obtained.
type BetweennessResult struct {
	Scores map[string]float64

	// Sampled is true when scores are extrapolated from a source sample
	// rather than computed exactly.
	Sampled bool

	// Sources is the number of single-source traversals performed.
	Sources int
}

// Betweenness computes betweenness centrality on the undirected projection
// using Brandes' accumulation. For graphs larger than SampleThreshold it runs
// a seeded sample of sources and scales the accumulated scores by n/k, which
// keeps scores comparable with exact runs on smaller graphs.
//
// The traversal checks ctx between sources, so a long run can be cancelled.
func Betweenness(ctx context.Context, g *graph.Model, opts BetweennessOptions) (BetweennessResult, error) {
	nodes := g.Nodes()
	n := len(nodes)

	scores := make(map[string]float64, n)
	for _, id := range nodes {
		scores[id] = 0
	}
	result := BetweennessResult{Scores: scores}
	if n < 3 {
		// No node can sit between two others.
		return result, nil
	}

	index := make(map[string]int, n)
	for i, id := range nodes {
		index[id] = i
	}

	// Dense adjacency for the traversal inner loop.
	adj := make([][]arc, n)
	for i, id := range nodes {
		neighbors := g.UndirectedNeighbors(id)
		arcs := make([]arc, 0, len(neighbors))
		for other, weight := range neighbors {
			arcs = append(arcs, arc{to: index[other], weight: weight})
		}
		adj[i] = arcs
	}

	sources := make([]int, n)
	for i := range sources {
		sources[i] = i
	}
	if opts.SampleThreshold > 0 && opts.SampleSize > 0 && n > opts.SampleThreshold && opts.SampleSize < n {
		rng := rand.New(rand.NewSource(opts.Seed))
		rng.Shuffle(n, func(i, j int) {
			sources[i], sources[j] = sources[j], sources[i]
		})
		sources = sources[:opts.SampleSize]
		result.Sampled = true
		logger.Info("[Betweenness] Graph above sampling threshold, using sampled sources",
			"nodes", n, "sources", len(sources))
	}

	acc := make([]float64, n)
	state := newBrandesState(n)

	for _, s := range sources {
		if err := ctx.Err(); err != nil {
			return BetweennessResult{}, err
		}
		if opts.Weighted {
			state.dijkstra(adj, s)
		} else {
			state.bfs(adj, s)
		}
		state.accumulate(acc, s)
	}
	result.Sources = len(sources)

	scale := 1.0
	if result.Sampled {
		scale = float64(n) / float64(len(sources))
	}
	// Undirected paths are discovered from both endpoints, halve the total.
	scale /= 2

	for i, id := range nodes {
		scores[id] = acc[i] * scale
	}
	return result, nil
}

type arc struct {
	to     int
	weight float64
}

// brandesState holds the per-source scratch buffers so a run over many
// sources does not reallocate them each time.
type brandesState struct {
	sigma   []float64
	dist    []float64
	delta   []float64
	preds   [][]int
	order   []int
	queue   []int
	settled []bool
}

func newBrandesState(n int) *brandesState {
	return &brandesState{
		sigma:   make([]float64, n),
		dist:    make([]float64, n),
		delta:   make([]float64, n),
		preds:   make([][]int, n),
		order:   make([]int, 0, n),
		queue:   make([]int, 0, n),
		settled: make([]bool, n),
	}
}

func (st *brandesState) reset() {
	for i := range st.sigma {
		st.sigma[i] = 0
		st.dist[i] = math.Inf(1)
		st.delta[i] = 0
		st.preds[i] = st.preds[i][:0]
		st.settled[i] = false
	}
	st.order = st.order[:0]
}

// bfs counts shortest paths by hop count from source s.
func (st *brandesState) bfs(adj [][]arc, s int) {
	st.reset()
	st.sigma[s] = 1
	st.dist[s] = 0

	st.queue = st.queue[:0]
	st.queue = append(st.queue, s)
	for len(st.queue) > 0 {
		v := st.queue[0]
		st.queue = st.queue[1:]
		st.order = append(st.order, v)

		for _, a := range adj[v] {
			w := a.to
			if math.IsInf(st.dist[w], 1) {
				st.dist[w] = st.dist[v] + 1
				st.queue = append(st.queue, w)
			}
			if st.dist[w] == st.dist[v]+1 {
				st.sigma[w] += st.sigma[v]
				st.preds[w] = append(st.preds[w], v)
			}
		}
	}
}

// distEps absorbs float drift when comparing path lengths in weighted mode,
// so genuinely equal-length paths share credit.
const distEps = 1e-12

// dijkstra counts shortest paths with edge cost 1/weight from source s.
// Non-positive weights contribute no path.
func (st *brandesState) dijkstra(adj [][]arc, s int) {
	st.reset()
	st.sigma[s] = 1
	st.dist[s] = 0

	pq := &distHeap{items: []distItem{{node: s, dist: 0}}}
	for pq.Len() > 0 {
		item := heap.Pop(pq).(distItem)
		v := item.node
		if st.settled[v] {
			continue // stale entry
		}
		st.settled[v] = true
		st.order = append(st.order, v)

		for _, a := range adj[v] {
			if a.weight <= 0 {
				continue
			}
			w := a.to
			cand := st.dist[v] + 1/a.weight
			switch {
			case cand < st.dist[w]-distEps:
				st.dist[w] = cand
				st.sigma[w] = st.sigma[v]
				st.preds[w] = st.preds[w][:0]
				st.preds[w] = append(st.preds[w], v)
				heap.Push(pq, distItem{node: w, dist: cand})
			case math.Abs(cand-st.dist[w]) <= distEps:
				st.sigma[w] += st.sigma[v]
				st.preds[w] = append(st.preds[w], v)
			}
		}
	}
}

// accumulate walks the settled order backwards and folds pair dependencies
// into acc, skipping the source itself.
func (st *brandesState) accumulate(acc []float64, s int) {
	for i := len(st.order) - 1; i >= 0; i-- {
		w := st.order[i]
		for _, v := range st.preds[w] {
			st.delta[v] += st.sigma[v] / st.sigma[w] * (1 + st.delta[w])
		}
		if w != s {
			acc[w] += st.delta[w]
		}
	}
}

type distItem struct {
	node int
	dist float64
}

type distHeap struct {
	items []distItem
}

func (h *distHeap) Len() int           { return len(h.items) }
func (h *distHeap) Less(i, j int) bool { return h.items[i].dist < h.items[j].dist }
func (h *distHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *distHeap) Push(x any)         { h.items = append(h.items, x.(distItem)) }
func (h *distHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}
