package graph

import (
	"tenderwatch/pkg/common"
	"tenderwatch/pkg/logger"

	"github.com/go-playground/validator"
)

// BuildStats summarizes what happened while building a Model from a raw
// edge snapshot.
type BuildStats struct {
	Input   int // edges received from the extraction collaborator
	Merged  int // duplicates folded into an existing (source, target, type) key
	Skipped int // malformed edges rejected by validation
	Edges   int // distinct directed edges in the resulting model
	Nodes   int // distinct entities in the resulting model
}

// Builder turns a flat edge list into a Model. It is stateless across
// builds and safe to reuse.
type Builder struct {
	validate *validator.Validate
}

// NewBuilder creates a Builder with the standard edge validation rules.
func NewBuilder() *Builder {
	return &Builder{
		validate: validator.New(),
	}
}

// Build constructs a Model from the given edge snapshot.
//
// Edges failing validation (missing identifiers, negative weight) are
// logged and skipped; a single malformed edge never aborts the batch.
// Duplicate edges sharing (source_id, target_id, edge_type) are merged:
// weight and tender_count are summed, total_value keeps the maximum
// observed, and metadata is merged with later values winning on key
// conflicts. An empty edge list is valid and yields an empty Model.
func (b *Builder) Build(edges []common.Edge) (*Model, BuildStats) {
	model := newModel()
	stats := BuildStats{Input: len(edges)}

	for i := range edges {
		edge := edges[i]

		if err := b.validate.Struct(edge); err != nil {
			stats.Skipped++
			logger.Warn(
				"[Graph] Skipping malformed edge",
				"source_id", edge.SourceID,
				"target_id", edge.TargetID,
				"edge_type", edge.EdgeType,
				"err", err,
			)
			continue
		}

		key := EdgeKey{
			SourceID: edge.SourceID,
			TargetID: edge.TargetID,
			EdgeType: edge.EdgeType,
		}

		existing, ok := model.edges[key]
		if !ok {
			merged := edge
			merged.Metadata = cloneMetadata(edge.Metadata)
			model.edges[key] = &merged
		} else {
			stats.Merged++
			existing.Weight += edge.Weight
			existing.TenderCount += edge.TenderCount
			if edge.TotalValue > existing.TotalValue {
				existing.TotalValue = edge.TotalValue
			}
			existing.Metadata = mergeMetadata(existing.Metadata, edge.Metadata)
		}

		model.addNode(edge.SourceID, edge.SourceType)
		model.addNode(edge.TargetID, edge.TargetType)
	}

	model.finalize()

	stats.Edges = model.EdgeCount()
	stats.Nodes = model.NodeCount()

	if stats.Skipped > 0 {
		logger.Warn("[Graph] Build completed with skipped edges", "skipped", stats.Skipped, "kept", stats.Edges)
	}

	return model, stats
}

func cloneMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// mergeMetadata folds later-seen metadata into the existing map; later
// values win on key conflict.
func mergeMetadata(existing, incoming map[string]string) map[string]string {
	if len(incoming) == 0 {
		return existing
	}
	if existing == nil {
		existing = make(map[string]string, len(incoming))
	}
	for k, v := range incoming {
		existing[k] = v
	}
	return existing
}
