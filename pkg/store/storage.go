package store

import (
	"context"

	"tenderwatch/pkg/common"
)

// RunStore defines the persistence boundary of a batch run. Implementations
// must be idempotent: replaying the same run against the same data leaves the
// tables in the same state.
type RunStore interface {
	// UpsertEdges writes the merged edge set. Existing (source, target, type)
	// rows are replaced with the batch values; rows absent from the batch are
	// left untouched.
	UpsertEdges(ctx context.Context, edges []common.Edge) error

	// UpsertCentrality writes one row per entity, replacing any previous
	// values. A CommunityID below zero is stored as NULL.
	UpsertCentrality(ctx context.Context, records []common.CentralityRecord) error

	// LoadEdges returns the previously persisted edge set, used when a run
	// skips extraction and recomputes from stored relationships.
	LoadEdges(ctx context.Context) ([]common.Edge, error)
}
