package graph

import (
	"reflect"
	"testing"

	"tenderwatch/pkg/common"
)

func TestBuildMergesDuplicateEdges(t *testing.T) {
	builder := NewBuilder()

	model, stats := builder.Build([]common.Edge{
		{
			SourceID: "a", TargetID: "b", EdgeType: "co_bidder",
			Weight: 2, TenderCount: 3, TotalValue: 100,
			Metadata: map[string]string{"region": "north", "first": "yes"},
		},
		{
			SourceID: "a", TargetID: "b", EdgeType: "co_bidder",
			Weight: 1, TenderCount: 2, TotalValue: 50,
			Metadata: map[string]string{"region": "south"},
		},
	})

	if stats.Merged != 1 || stats.Edges != 1 || stats.Nodes != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	edges := model.Edges()
	if len(edges) != 1 {
		t.Fatalf("expected 1 merged edge, got %d", len(edges))
	}
	merged := edges[0]
	if merged.Weight != 3 {
		t.Errorf("weight should sum: got %v", merged.Weight)
	}
	if merged.TenderCount != 5 {
		t.Errorf("tender count should sum: got %d", merged.TenderCount)
	}
	if merged.TotalValue != 100 {
		t.Errorf("total value should keep the maximum: got %v", merged.TotalValue)
	}
	wantMeta := map[string]string{"region": "south", "first": "yes"}
	if !reflect.DeepEqual(merged.Metadata, wantMeta) {
		t.Errorf("metadata merge: got %v, want %v", merged.Metadata, wantMeta)
	}
}

func TestBuildKeepsEdgeTypesSeparate(t *testing.T) {
	builder := NewBuilder()

	model, stats := builder.Build([]common.Edge{
		{SourceID: "a", TargetID: "b", EdgeType: "co_bidder", Weight: 1},
		{SourceID: "a", TargetID: "b", EdgeType: "shared_director", Weight: 1},
	})

	if stats.Merged != 0 {
		t.Errorf("different edge types must not merge: %+v", stats)
	}
	if model.EdgeCount() != 2 {
		t.Errorf("expected 2 edges, got %d", model.EdgeCount())
	}
	// Parallel types still connect the same pair once for degree purposes.
	if model.Degree("a") != 1 {
		t.Errorf("degree of a: expected 1, got %d", model.Degree("a"))
	}
}

func TestBuildSkipsMalformedEdges(t *testing.T) {
	tests := []struct {
		name string
		edge common.Edge
	}{
		{name: "missing source", edge: common.Edge{TargetID: "b", EdgeType: "co_bidder", Weight: 1}},
		{name: "missing target", edge: common.Edge{SourceID: "a", EdgeType: "co_bidder", Weight: 1}},
		{name: "missing type", edge: common.Edge{SourceID: "a", TargetID: "b", Weight: 1}},
		{name: "negative weight", edge: common.Edge{SourceID: "a", TargetID: "b", EdgeType: "co_bidder", Weight: -1}},
	}

	builder := NewBuilder()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model, stats := builder.Build([]common.Edge{
				tt.edge,
				{SourceID: "x", TargetID: "y", EdgeType: "co_bidder", Weight: 1},
			})

			if stats.Skipped != 1 {
				t.Errorf("expected 1 skipped, got %+v", stats)
			}
			if model.EdgeCount() != 1 {
				t.Errorf("valid edge should survive, got %d edges", model.EdgeCount())
			}
			if model.HasNode(tt.edge.SourceID) && tt.edge.SourceID != "x" {
				t.Errorf("skipped edge must not introduce nodes")
			}
		})
	}
}

func TestBuildEmptyInput(t *testing.T) {
	model, stats := NewBuilder().Build(nil)

	if stats.Nodes != 0 || stats.Edges != 0 || stats.Skipped != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if model.NodeCount() != 0 || model.EdgeCount() != 0 {
		t.Errorf("expected empty model")
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	edges := []common.Edge{
		{SourceID: "c", TargetID: "a", EdgeType: "co_bidder", Weight: 1},
		{SourceID: "a", TargetID: "b", EdgeType: "repeat_winner", Weight: 2},
		{SourceID: "b", TargetID: "c", EdgeType: "co_bidder", Weight: 3},
	}
	builder := NewBuilder()

	first, _ := builder.Build(edges)
	second, _ := builder.Build(edges)

	if !reflect.DeepEqual(first.Nodes(), second.Nodes()) {
		t.Errorf("node order changed between builds")
	}
	if !reflect.DeepEqual(first.Edges(), second.Edges()) {
		t.Errorf("edge order changed between builds")
	}
}

func TestBuildDoesNotAliasInputMetadata(t *testing.T) {
	input := []common.Edge{
		{
			SourceID: "a", TargetID: "b", EdgeType: "co_bidder", Weight: 1,
			Metadata: map[string]string{"k": "v"},
		},
	}

	model, _ := NewBuilder().Build(input)
	input[0].Metadata["k"] = "mutated"

	if got := model.Edges()[0].Metadata["k"]; got != "v" {
		t.Errorf("model metadata aliases caller's map: got %q", got)
	}
}
