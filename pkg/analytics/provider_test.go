package analytics

import (
	"context"
	"testing"

	"tenderwatch/pkg/common"
)

func TestAggregateUnionWithDefaults(t *testing.T) {
	model := buildModel(t, []common.Edge{
		edge("a", "b", "co_bidder", 2),
		edge("b", "c", "repeat_winner", 1),
	})

	pageranks := map[string]float64{"a": 0.2, "b": 0.5} // c missing
	betweenness := map[string]float64{"b": 1.0}
	communities := map[string]int{"a": 0, "b": 0} // c missing

	records := Aggregate(model, pageranks, betweenness, communities)

	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}

	// Sorted by entity ID.
	for i, want := range []string{"a", "b", "c"} {
		if records[i].EntityID != want {
			t.Fatalf("record %d: expected %s, got %s", i, want, records[i].EntityID)
		}
	}

	c := records[2]
	if c.PageRank != 0 || c.Betweenness != 0 {
		t.Errorf("missing scores should default to 0: %+v", c)
	}
	if c.CommunityID != -1 {
		t.Errorf("missing community should be -1, got %d", c.CommunityID)
	}
	if c.EntityType != "company" {
		t.Errorf("entity type should come from the model, got %q", c.EntityType)
	}

	b := records[1]
	if b.Degree != 2 || b.InDegree != 1 || b.OutDegree != 1 {
		t.Errorf("degrees for b: %+v", b)
	}
	if b.PageRank != 0.5 || b.Betweenness != 1.0 || b.CommunityID != 0 {
		t.Errorf("scores for b: %+v", b)
	}
}

func TestAggregateKeepsEntitiesOnlySeenByEngines(t *testing.T) {
	model := buildModel(t, []common.Edge{
		edge("a", "b", "co_bidder", 1),
	})

	// An engine reporting an entity the model lost should still surface it
	// instead of silently dropping the score.
	records := Aggregate(model,
		map[string]float64{"ghost": 0.1},
		nil,
		nil,
	)

	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[1].EntityID != "b" || records[2].EntityID != "ghost" {
		t.Errorf("unexpected order: %+v", records)
	}
	if records[2].CommunityID != -1 {
		t.Errorf("ghost community should be -1, got %d", records[2].CommunityID)
	}
}

func TestTriangleScenario(t *testing.T) {
	// Three companies tied pairwise in one direction each: equal rank, no
	// brokers, degree 2 everywhere, a single community.
	model := buildModel(t, []common.Edge{
		edge("a", "b", "co_bidder", 1),
		edge("b", "c", "co_bidder", 1),
		edge("a", "c", "co_bidder", 1),
	})

	pageranks := PageRank(model, DefaultPageRankOptions())
	betweenness, err := Betweenness(context.Background(), model, DefaultBetweennessOptions())
	if err != nil {
		t.Fatalf("betweenness: %v", err)
	}
	communities := Communities(model, DefaultCommunityOptions())

	records := Aggregate(model, pageranks, betweenness.Scores, communities)
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}

	for _, r := range records {
		if diff := r.PageRank - 1.0/3.0; diff > 1e-6 || diff < -1e-6 {
			t.Errorf("node %s: expected pagerank 1/3, got %v", r.EntityID, r.PageRank)
		}
		if r.Betweenness != 0 {
			t.Errorf("node %s: no node brokers a triangle, got %v", r.EntityID, r.Betweenness)
		}
		if r.Degree != 2 {
			t.Errorf("node %s: expected degree 2, got %d", r.EntityID, r.Degree)
		}
		if r.CommunityID != records[0].CommunityID {
			t.Errorf("triangle split across communities: %+v", records)
		}
	}
}

func TestNativeProviderWiresEngines(t *testing.T) {
	model := buildModel(t, []common.Edge{
		edge("a", "b", "co_bidder", 1),
		edge("b", "c", "co_bidder", 1),
	})

	provider := Native{}

	ranks, err := provider.PageRank(context.Background(), model, DefaultPageRankOptions())
	if err != nil {
		t.Fatalf("pagerank: %v", err)
	}
	if len(ranks) != 3 {
		t.Errorf("expected 3 ranks, got %v", ranks)
	}

	betweenness, err := provider.Betweenness(context.Background(), model, DefaultBetweennessOptions())
	if err != nil {
		t.Fatalf("betweenness: %v", err)
	}
	if betweenness.Scores["b"] == 0 {
		t.Error("b should broker the a-c path")
	}

	partition, err := provider.Communities(context.Background(), model, DefaultCommunityOptions())
	if err != nil {
		t.Fatalf("communities: %v", err)
	}
	if len(partition) != 3 {
		t.Errorf("expected 3 assignments, got %v", partition)
	}
}
