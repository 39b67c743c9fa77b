package analytics

import (
	"math/rand"
	"sort"

	"tenderwatch/pkg/graph"
	"tenderwatch/pkg/logger"
)

// CommunityOptions controls Louvain community detection.
type CommunityOptions struct {
	// Resolution tunes community granularity in the modularity gain. Values
	// above 1 favor many small communities, below 1 fewer large ones.
	Resolution float64

	// MaxPasses bounds the local-moving sweeps per contraction level.
	MaxPasses int

	// MinGain is the modularity gain below which a move is not worth making.
	MinGain float64

	// Seed fixes the node visit order so the partition is reproducible.
	Seed int64
}

// DefaultCommunityOptions returns the production defaults.
func DefaultCommunityOptions() CommunityOptions {
	return CommunityOptions{
		Resolution: 1.0,
		MaxPasses:  10,
		MinGain:    1e-7,
		Seed:       42,
	}
}

// Communities partitions the undirected projection with the Louvain method:
// greedy local moving of nodes between communities, then contraction of each
// community into a super-node, repeated until no level improves modularity.
//
// Community IDs are renumbered densely from 0 in order of first appearance
// over lexicographically sorted entity IDs, so equal inputs produce equal
// labelings. A graph with no positive edge weight yields one singleton
// community per node.
func Communities(g *graph.Model, opts CommunityOptions) map[string]int {
	nodes := g.Nodes()
	n := len(nodes)
	if n == 0 {
		return map[string]int{}
	}

	if opts.Resolution <= 0 {
		opts.Resolution = 1.0
	}
	if opts.MaxPasses <= 0 {
		opts.MaxPasses = 10
	}
	if opts.MinGain <= 0 {
		opts.MinGain = 1e-7
	}

	// membership[i] is the community of original node i across all levels.
	membership := make([]int, n)
	for i := range membership {
		membership[i] = i
	}

	if g.TotalUndirectedWeight() <= 0 {
		return labelPartition(nodes, membership)
	}

	index := make(map[string]int, n)
	for i, id := range nodes {
		index[id] = i
	}

	wg := newWorkGraph(n)
	for i, id := range nodes {
		for other, weight := range g.UndirectedNeighbors(id) {
			j := index[other]
			if weight > 0 && i < j {
				wg.addEdge(i, j, weight)
			}
		}
	}

	rng := rand.New(rand.NewSource(opts.Seed))

	level := 0
	for {
		comm, moved := localMoving(wg, opts, rng)
		if !moved && level > 0 {
			break
		}

		comm, communities := renumber(comm)
		for i := range membership {
			membership[i] = comm[membership[i]]
		}
		level++
		logger.Debug("[Louvain] Level complete", "level", level, "communities", communities)

		if !moved || communities == wg.size() {
			break
		}
		wg = wg.contract(comm, communities)
	}

	return labelPartition(nodes, membership)
}

// labelPartition maps the index-based membership back onto entity IDs with
// dense labels assigned by first appearance over the sorted node order.
func labelPartition(nodes []string, membership []int) map[string]int {
	relabel := make(map[int]int)
	out := make(map[string]int, len(nodes))
	for i, id := range nodes {
		c := membership[i]
		label, ok := relabel[c]
		if !ok {
			label = len(relabel)
			relabel[c] = label
		}
		out[id] = label
	}
	return out
}

// workGraph is the contracted weighted graph Louvain operates on. Edge
// weights between distinct nodes live in adj; weight internal to a contracted
// super-node lives in self and counts double toward node strength.
type workGraph struct {
	adj      []map[int]float64
	self     []float64
	strength []float64
	total    float64 // 2m, the sum of all strengths
}

func newWorkGraph(n int) *workGraph {
	wg := &workGraph{
		adj:      make([]map[int]float64, n),
		self:     make([]float64, n),
		strength: make([]float64, n),
	}
	for i := range wg.adj {
		wg.adj[i] = make(map[int]float64)
	}
	return wg
}

func (wg *workGraph) size() int {
	return len(wg.adj)
}

func (wg *workGraph) addEdge(i, j int, weight float64) {
	wg.adj[i][j] += weight
	wg.adj[j][i] += weight
	wg.strength[i] += weight
	wg.strength[j] += weight
	wg.total += 2 * weight
}

func (wg *workGraph) addSelf(i int, weight float64) {
	wg.self[i] += weight
	wg.strength[i] += 2 * weight
	wg.total += 2 * weight
}

// contract folds each community into a single super-node.
func (wg *workGraph) contract(comm []int, communities int) *workGraph {
	next := newWorkGraph(communities)
	for i := range wg.adj {
		ci := comm[i]
		if wg.self[i] > 0 {
			next.addSelf(ci, wg.self[i])
		}
		for j, weight := range wg.adj[i] {
			if i >= j {
				continue
			}
			cj := comm[j]
			if ci == cj {
				next.addSelf(ci, weight)
			} else {
				next.addEdge(ci, cj, weight)
			}
		}
	}
	return next
}

// localMoving runs greedy sweeps moving nodes to the neighboring community
// with the highest modularity gain, until a sweep moves nothing or MaxPasses
// is reached. Returns the resulting community of each node and whether any
// node moved at all.
func localMoving(wg *workGraph, opts CommunityOptions, rng *rand.Rand) ([]int, bool) {
	n := wg.size()
	comm := make([]int, n)
	sigmaTot := make([]float64, n)
	for i := 0; i < n; i++ {
		comm[i] = i
		sigmaTot[i] = wg.strength[i]
	}

	visit := make([]int, n)
	for i := range visit {
		visit[i] = i
	}

	movedAny := false
	for pass := 0; pass < opts.MaxPasses; pass++ {
		rng.Shuffle(n, func(i, j int) {
			visit[i], visit[j] = visit[j], visit[i]
		})

		movedThisPass := false
		for _, node := range visit {
			old := comm[node]
			ki := wg.strength[node]

			// Weight from node into each adjacent community.
			kiIn := map[int]float64{old: 0}
			for neighbor, weight := range wg.adj[node] {
				kiIn[comm[neighbor]] += weight
			}

			sigmaTot[old] -= ki

			candidates := make([]int, 0, len(kiIn))
			for c := range kiIn {
				candidates = append(candidates, c)
			}
			sort.Ints(candidates)

			best := old
			bestGain := gain(kiIn[old], sigmaTot[old], ki, wg.total, opts.Resolution)
			for _, c := range candidates {
				if c == old {
					continue
				}
				g := gain(kiIn[c], sigmaTot[c], ki, wg.total, opts.Resolution)
				if g > bestGain+opts.MinGain {
					best = c
					bestGain = g
				}
			}

			comm[node] = best
			sigmaTot[best] += ki
			if best != old {
				movedThisPass = true
				movedAny = true
			}
		}

		if !movedThisPass {
			break
		}
	}

	return comm, movedAny
}

// gain is the modularity change of placing a node with strength ki into a
// community, given the node's edge weight into it (kiIn) and the community's
// total strength excluding the node (sigmaTot). Constant factors shared by
// all candidates are dropped.
func gain(kiIn, sigmaTot, ki, total, resolution float64) float64 {
	return kiIn - resolution*sigmaTot*ki/total
}

// renumber compacts community labels to 0..k-1 in order of first appearance
// and returns the new labeling with k.
func renumber(comm []int) ([]int, int) {
	relabel := make(map[int]int)
	out := make([]int, len(comm))
	for i, c := range comm {
		label, ok := relabel[c]
		if !ok {
			label = len(relabel)
			relabel[c] = label
		}
		out[i] = label
	}
	return out, len(relabel)
}
