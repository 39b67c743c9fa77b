package common

import "time"

// Edge represents a directed relationship between two procurement-market
// entities, derived from tender observations. An edge is uniquely identified
// by (SourceID, TargetID, EdgeType); a second edge with the same key is a
// duplicate to be merged, not a new relationship.
//
// Semantically distinct relations (co-bidder, repeat-winner, shared-director)
// are never merged with each other.
type Edge struct {
	SourceID    string            `json:"source_id" validate:"required"`
	SourceType  string            `json:"source_type"`
	TargetID    string            `json:"target_id" validate:"required"`
	TargetType  string            `json:"target_type"`
	EdgeType    string            `json:"edge_type" validate:"required"`
	Weight      float64           `json:"weight" validate:"gte=0"`
	TenderCount int               `json:"tender_count"`
	TotalValue  float64           `json:"total_value"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// CentralityRecord holds the analytic signals computed for one entity in a
// single batch run. Records fully supersede the previous run's values on
// persistence; they are never merged incrementally.
type CentralityRecord struct {
	EntityID    string  `json:"entity_id"`
	EntityType  string  `json:"entity_type"`
	PageRank    float64 `json:"pagerank"`
	Betweenness float64 `json:"betweenness"`
	Degree      int     `json:"degree"`
	InDegree    int     `json:"in_degree"`
	OutDegree   int     `json:"out_degree"`
	// CommunityID is only meaningful within a single run. A value below zero
	// means the entity was not assigned to any community.
	CommunityID int `json:"community_id"`
}

// RunSummary is the operator-facing result of one batch run. It is logged at
// the end of every run so silent degradation (for example a sudden drop to
// zero communities) is visible without reading logs line by line.
type RunSummary struct {
	RunID        string
	Nodes        int
	Edges        int
	SkippedEdges int
	MergedEdges  int
	Communities  int

	BetweennessSampled bool

	BuildDuration       time.Duration
	PageRankDuration    time.Duration
	BetweennessDuration time.Duration
	CommunityDuration   time.Duration
	PersistDuration     time.Duration

	DryRun         bool
	CentralityOnly bool
}
