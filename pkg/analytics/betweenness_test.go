package analytics

import (
	"context"
	"math"
	"reflect"
	"testing"

	"tenderwatch/pkg/common"
)

func TestBetweennessPathBroker(t *testing.T) {
	// a - b - c: every a<->c path crosses b.
	model := buildModel(t, []common.Edge{
		edge("a", "b", "co_bidder", 1),
		edge("b", "c", "co_bidder", 1),
	})

	result, err := Betweenness(context.Background(), model, DefaultBetweennessOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Sampled {
		t.Error("tiny graph should not be sampled")
	}

	if math.Abs(result.Scores["b"]-1.0) > 1e-9 {
		t.Errorf("broker b: expected 1, got %v", result.Scores["b"])
	}
	if result.Scores["a"] != 0 || result.Scores["c"] != 0 {
		t.Errorf("endpoints should score 0, got a=%v c=%v", result.Scores["a"], result.Scores["c"])
	}
}

func TestBetweennessTriangleIsZero(t *testing.T) {
	model := buildModel(t, []common.Edge{
		edge("a", "b", "co_bidder", 1),
		edge("b", "c", "co_bidder", 1),
		edge("c", "a", "co_bidder", 1),
	})

	result, err := Betweenness(context.Background(), model, DefaultBetweennessOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for id, score := range result.Scores {
		if score != 0 {
			t.Errorf("node %s: every pair is directly connected, expected 0, got %v", id, score)
		}
	}
}

func TestBetweennessTinyGraphs(t *testing.T) {
	tests := []struct {
		name  string
		edges []common.Edge
	}{
		{name: "empty", edges: nil},
		{name: "two nodes", edges: []common.Edge{edge("a", "b", "co_bidder", 1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := buildModel(t, tt.edges)

			result, err := Betweenness(context.Background(), model, DefaultBetweennessOptions())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for id, score := range result.Scores {
				if score != 0 {
					t.Errorf("node %s: expected 0, got %v", id, score)
				}
			}
		})
	}
}

func TestBetweennessWeightedPrefersHeavyRoute(t *testing.T) {
	// Direct a-c edge exists but is weak; the a-b-c route is much heavier,
	// so in weighted mode it is the shorter path and b brokers it.
	edges := []common.Edge{
		edge("a", "b", "co_bidder", 10),
		edge("b", "c", "co_bidder", 10),
		edge("a", "c", "co_bidder", 0.1),
	}
	model := buildModel(t, edges)

	hopOpts := DefaultBetweennessOptions()
	hopOpts.Weighted = false
	unweighted, err := Betweenness(context.Background(), model, hopOpts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if unweighted.Scores["b"] != 0 {
		t.Errorf("hop-count mode: direct edge wins, expected b=0, got %v", unweighted.Scores["b"])
	}

	weighted, err := Betweenness(context.Background(), model, DefaultBetweennessOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(weighted.Scores["b"]-1.0) > 1e-9 {
		t.Errorf("weighted mode: expected b=1, got %v", weighted.Scores["b"])
	}
}

func TestBetweennessSampledModeIsDeterministic(t *testing.T) {
	edges := []common.Edge{
		edge("a", "b", "co_bidder", 1),
		edge("b", "c", "co_bidder", 1),
		edge("c", "d", "co_bidder", 1),
		edge("d", "e", "co_bidder", 1),
		edge("e", "f", "co_bidder", 1),
	}
	model := buildModel(t, edges)

	opts := DefaultBetweennessOptions()
	opts.SampleThreshold = 4
	opts.SampleSize = 3

	first, err := Betweenness(context.Background(), model, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first.Sampled {
		t.Fatal("expected sampled mode above threshold")
	}
	if first.Sources != 3 {
		t.Errorf("expected 3 sources, got %d", first.Sources)
	}

	second, err := Betweenness(context.Background(), model, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(first.Scores, second.Scores) {
		t.Errorf("same seed should reproduce scores:\n%v\n%v", first.Scores, second.Scores)
	}
}

func TestBetweennessCancellation(t *testing.T) {
	model := buildModel(t, []common.Edge{
		edge("a", "b", "co_bidder", 1),
		edge("b", "c", "co_bidder", 1),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Betweenness(ctx, model, DefaultBetweennessOptions())
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
