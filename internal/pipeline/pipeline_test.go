package pipeline

import (
	"context"
	"errors"
	"testing"

	"tenderwatch/pkg/analytics"
	"tenderwatch/pkg/common"
)

type fakeStore struct {
	edgeCalls       [][]common.Edge
	centralityCalls [][]common.CentralityRecord
	order           []string

	edgeErr       error
	centralityErr error
}

func (f *fakeStore) UpsertEdges(ctx context.Context, edges []common.Edge) error {
	if f.edgeErr != nil {
		return f.edgeErr
	}
	f.edgeCalls = append(f.edgeCalls, edges)
	f.order = append(f.order, "edges")
	return nil
}

func (f *fakeStore) UpsertCentrality(ctx context.Context, records []common.CentralityRecord) error {
	if f.centralityErr != nil {
		return f.centralityErr
	}
	f.centralityCalls = append(f.centralityCalls, records)
	f.order = append(f.order, "centrality")
	return nil
}

func (f *fakeStore) LoadEdges(ctx context.Context) ([]common.Edge, error) {
	return nil, nil
}

func testEdges() []common.Edge {
	return []common.Edge{
		{SourceID: "a", SourceType: "company", TargetID: "b", TargetType: "company", EdgeType: "co_bidder", Weight: 2},
		{SourceID: "b", SourceType: "company", TargetID: "c", TargetType: "company", EdgeType: "co_bidder", Weight: 1},
		{SourceID: "a", SourceType: "company", TargetID: "b", TargetType: "company", EdgeType: "co_bidder", Weight: 1},
	}
}

func TestRunPersistsEdgesBeforeCentrality(t *testing.T) {
	fake := &fakeStore{}

	summary, err := Run(context.Background(), testEdges(), DefaultParams(), fake, analytics.Native{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fake.order) != 2 || fake.order[0] != "edges" || fake.order[1] != "centrality" {
		t.Fatalf("expected edges then centrality, got %v", fake.order)
	}

	if summary.Nodes != 3 || summary.Edges != 2 || summary.MergedEdges != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if summary.RunID == "" {
		t.Error("run ID should be generated when empty")
	}

	records := fake.centralityCalls[0]
	if len(records) != 3 {
		t.Fatalf("expected 3 centrality records, got %d", len(records))
	}
	for _, r := range records {
		if r.CommunityID < 0 {
			t.Errorf("connected entity %s left without community", r.EntityID)
		}
	}
}

func TestRunIsRepeatable(t *testing.T) {
	fake := &fakeStore{}
	params := DefaultParams()
	params.RunID = "fixed"

	first, err := Run(context.Background(), testEdges(), params, fake, analytics.Native{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Run(context.Background(), testEdges(), params, fake, analytics.Native{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.Nodes != second.Nodes || first.Edges != second.Edges || first.Communities != second.Communities {
		t.Errorf("summaries diverged:\n%+v\n%+v", first, second)
	}

	a, b := fake.centralityCalls[0], fake.centralityCalls[1]
	if len(a) != len(b) {
		t.Fatalf("record counts diverged: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("record %d diverged:\n%+v\n%+v", i, a[i], b[i])
		}
	}
}

func TestRunDryRunWritesNothing(t *testing.T) {
	fake := &fakeStore{}
	params := DefaultParams()
	params.DryRun = true

	summary, err := Run(context.Background(), testEdges(), params, fake, analytics.Native{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fake.order) != 0 {
		t.Errorf("dry run must not touch the store, got calls %v", fake.order)
	}
	if !summary.DryRun {
		t.Error("summary should flag the dry run")
	}
	if summary.Communities == 0 {
		t.Error("dry run should still compute communities")
	}
}

func TestRunCentralityOnlySkipsEdgeUpsert(t *testing.T) {
	fake := &fakeStore{}
	params := DefaultParams()
	params.CentralityOnly = true

	_, err := Run(context.Background(), testEdges(), params, fake, analytics.Native{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fake.edgeCalls) != 0 {
		t.Errorf("centrality-only run must not rewrite edges")
	}
	if len(fake.centralityCalls) != 1 {
		t.Errorf("centrality should still be written, got %d calls", len(fake.centralityCalls))
	}
}

func TestRunEmptyInput(t *testing.T) {
	fake := &fakeStore{}

	summary, err := Run(context.Background(), nil, DefaultParams(), fake, analytics.Native{})
	if err != nil {
		t.Fatalf("empty input is not an error: %v", err)
	}

	if len(fake.order) != 0 {
		t.Errorf("nothing should be written for an empty snapshot, got %v", fake.order)
	}
	if summary.Nodes != 0 || summary.Edges != 0 {
		t.Errorf("unexpected summary: %+v", summary)
	}
}

func TestRunPropagatesStoreErrors(t *testing.T) {
	boom := errors.New("connection refused")

	fake := &fakeStore{edgeErr: boom}
	if _, err := Run(context.Background(), testEdges(), DefaultParams(), fake, analytics.Native{}); !errors.Is(err, boom) {
		t.Errorf("edge upsert error should surface, got %v", err)
	}

	fake = &fakeStore{centralityErr: boom}
	if _, err := Run(context.Background(), testEdges(), DefaultParams(), fake, analytics.Native{}); !errors.Is(err, boom) {
		t.Errorf("centrality upsert error should surface, got %v", err)
	}
}
