// Package graph holds the in-memory relationship graph built from tender
// edge snapshots. A Model keeps two views of the same data: the directed
// multirelational view (edges keyed by type, used for in/out degree) and an
// undirected simple-weight projection (used by the analytic engines, which
// are direction-agnostic: a co-bidding or ownership tie carries influence
// both ways).
package graph

import (
	"sort"

	"tenderwatch/pkg/common"
)

// EdgeKey uniquely identifies a directed edge in the multirelational view.
type EdgeKey struct {
	SourceID string
	TargetID string
	EdgeType string
}

// Model is the read-only graph representation shared by all analytic
// engines in a run. It must not be mutated after Build returns; the engines
// may read it concurrently.
type Model struct {
	nodeTypes map[string]string
	edges     map[EdgeKey]*common.Edge

	// Symmetric transition weights, positive weights only. A directed edge
	// contributes mass in both directions; zero-weight edges are
	// structurally absent here but still count toward degree.
	transitions     map[string]map[string]float64
	transitionTotal map[string]float64

	outNeighbors map[string]map[string]struct{}
	inNeighbors  map[string]map[string]struct{}

	// Undirected projection: weight(A,B) is the sum of all directed weights
	// between A and B in either direction, across all edge types. Self-loops
	// are excluded; they carry no brokerage or clustering signal.
	undirected      map[string]map[string]float64
	totalUndirected float64
}

func newModel() *Model {
	return &Model{
		nodeTypes:       make(map[string]string),
		edges:           make(map[EdgeKey]*common.Edge),
		transitions:     make(map[string]map[string]float64),
		transitionTotal: make(map[string]float64),
		outNeighbors:    make(map[string]map[string]struct{}),
		inNeighbors:     make(map[string]map[string]struct{}),
		undirected:      make(map[string]map[string]float64),
	}
}

// NodeCount returns the number of distinct entities in the graph.
func (m *Model) NodeCount() int {
	return len(m.nodeTypes)
}

// EdgeCount returns the number of distinct directed edges after merging.
func (m *Model) EdgeCount() int {
	return len(m.edges)
}

// HasNode reports whether the entity appears in this batch's edge set.
func (m *Model) HasNode(id string) bool {
	_, ok := m.nodeTypes[id]
	return ok
}

// EntityType returns the recorded type of an entity, or "" if unknown.
func (m *Model) EntityType(id string) string {
	return m.nodeTypes[id]
}

// Nodes returns all entity IDs sorted lexicographically. Sorting keeps
// iteration order, and therefore every derived statistic, reproducible
// across runs on the same input.
func (m *Model) Nodes() []string {
	ids := make([]string, 0, len(m.nodeTypes))
	for id := range m.nodeTypes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Edges returns the merged directed edges sorted by key.
func (m *Model) Edges() []common.Edge {
	keys := make([]EdgeKey, 0, len(m.edges))
	for k := range m.edges {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		if a.TargetID != b.TargetID {
			return a.TargetID < b.TargetID
		}
		return a.EdgeType < b.EdgeType
	})

	edges := make([]common.Edge, 0, len(keys))
	for _, k := range keys {
		edges = append(edges, *m.edges[k])
	}
	return edges
}

// Degree returns the number of distinct neighbor entities in the undirected
// projection. Parallel edges of different types and self-loops do not
// inflate the count.
func (m *Model) Degree(id string) int {
	return len(m.undirected[id])
}

// InDegree returns the number of distinct entities with an edge pointing at id.
func (m *Model) InDegree(id string) int {
	return len(m.inNeighbors[id])
}

// OutDegree returns the number of distinct entities id points at.
func (m *Model) OutDegree(id string) int {
	return len(m.outNeighbors[id])
}

// Transitions returns the positive-weight transition map for a node, with a
// directed edge counted in both directions. The returned map is owned by the
// Model and must not be modified.
func (m *Model) Transitions(id string) map[string]float64 {
	return m.transitions[id]
}

// TransitionTotal returns the total transition weight incident to a node.
// Nodes with a zero total are dangling for PageRank purposes.
func (m *Model) TransitionTotal(id string) float64 {
	return m.transitionTotal[id]
}

// UndirectedNeighbors returns the projection adjacency of a node. The
// returned map is owned by the Model and must not be modified.
func (m *Model) UndirectedNeighbors(id string) map[string]float64 {
	return m.undirected[id]
}

// UndirectedWeight returns the projection weight between two entities.
func (m *Model) UndirectedWeight(a, b string) float64 {
	return m.undirected[a][b]
}

// TotalUndirectedWeight returns the sum of all projection edge weights,
// each pair counted once.
func (m *Model) TotalUndirectedWeight() float64 {
	return m.totalUndirected
}

func (m *Model) addTransition(from, to string, weight float64) {
	if m.transitions[from] == nil {
		m.transitions[from] = make(map[string]float64)
	}
	m.transitions[from][to] += weight
	m.transitionTotal[from] += weight
}

func (m *Model) addNode(id, entityType string) {
	existing, ok := m.nodeTypes[id]
	if !ok || (existing == "" && entityType != "") {
		m.nodeTypes[id] = entityType
	}
}

// finalize derives the projections from the merged directed edges. The
// undirected view is always computed here, never from a separate source.
func (m *Model) finalize() {
	for key, edge := range m.edges {
		if key.SourceID != key.TargetID {
			if m.outNeighbors[key.SourceID] == nil {
				m.outNeighbors[key.SourceID] = make(map[string]struct{})
			}
			m.outNeighbors[key.SourceID][key.TargetID] = struct{}{}

			if m.inNeighbors[key.TargetID] == nil {
				m.inNeighbors[key.TargetID] = make(map[string]struct{})
			}
			m.inNeighbors[key.TargetID][key.SourceID] = struct{}{}

			if m.undirected[key.SourceID] == nil {
				m.undirected[key.SourceID] = make(map[string]float64)
			}
			if m.undirected[key.TargetID] == nil {
				m.undirected[key.TargetID] = make(map[string]float64)
			}
			m.undirected[key.SourceID][key.TargetID] += edge.Weight
			m.undirected[key.TargetID][key.SourceID] += edge.Weight
			m.totalUndirected += edge.Weight
		}

		if edge.Weight > 0 {
			m.addTransition(key.SourceID, key.TargetID, edge.Weight)
			if key.SourceID != key.TargetID {
				m.addTransition(key.TargetID, key.SourceID, edge.Weight)
			}
		}
	}
}
