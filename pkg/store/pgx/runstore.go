// Package pgx implements store.RunStore on PostgreSQL.
package pgx

import (
	"context"
	"encoding/json"
	"fmt"

	"tenderwatch/internal/util"
	"tenderwatch/pkg/common"
	"tenderwatch/pkg/logger"
	"tenderwatch/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	// Rows written per transaction. Keeps any single transaction small
	// enough that a failure loses at most one chunk of work.
	upsertChunk = 500

	// Attempts per chunk or read before a transient database error is
	// surfaced to the run.
	dbTries = 3
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// RunDBStore implements store.RunStore on a pgx connection or pool.
type RunDBStore struct {
	conn pgxIConn
}

var _ store.RunStore = (*RunDBStore)(nil)

// NewRunDBStoreWithConnection creates a RunDBStore on an existing connection.
// The connection's lifetime is owned by the caller.
func NewRunDBStoreWithConnection(conn pgxIConn) *RunDBStore {
	return &RunDBStore{conn: conn}
}

const upsertEdgeSQL = `
INSERT INTO graph_edges (
	source_id, source_type, target_id, target_type, edge_type,
	weight, tender_count, total_value, metadata, first_seen, last_seen
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
ON CONFLICT (source_id, target_id, edge_type) DO UPDATE SET
	source_type = EXCLUDED.source_type,
	target_type = EXCLUDED.target_type,
	weight = EXCLUDED.weight,
	tender_count = EXCLUDED.tender_count,
	total_value = EXCLUDED.total_value,
	metadata = EXCLUDED.metadata,
	last_seen = now()`

// UpsertEdges writes the merged edge set in chunks of upsertChunk rows, one
// transaction per chunk. Conflicting rows are fully replaced with the batch
// values except first_seen, which keeps the original sighting.
func (s *RunDBStore) UpsertEdges(ctx context.Context, edges []common.Edge) error {
	if len(edges) == 0 {
		return nil
	}

	return store.ChunkRange(len(edges), upsertChunk, func(start, end int) error {
		chunk := edges[start:end]
		logger.Debug("[Store][UpsertEdges] Writing chunk", "edges", len(chunk))

		batch := &pgxv5.Batch{}
		for i := range chunk {
			edge := chunk[i]

			var metadata []byte
			if len(edge.Metadata) > 0 {
				var err error
				metadata, err = json.Marshal(edge.Metadata)
				if err != nil {
					return fmt.Errorf("marshal edge metadata %s->%s: %w", edge.SourceID, edge.TargetID, err)
				}
			}

			batch.Queue(upsertEdgeSQL,
				edge.SourceID, edge.SourceType,
				edge.TargetID, edge.TargetType,
				edge.EdgeType,
				edge.Weight, edge.TenderCount, edge.TotalValue,
				metadata,
			)
		}

		return util.RetryErrWithContext(ctx, dbTries, func(ctx context.Context) error {
			return s.sendBatch(ctx, batch)
		})
	})
}

const upsertCentralitySQL = `
INSERT INTO entity_centrality (
	entity_id, entity_type, pagerank, betweenness,
	degree, in_degree, out_degree, community_id, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
ON CONFLICT (entity_id) DO UPDATE SET
	entity_type = EXCLUDED.entity_type,
	pagerank = EXCLUDED.pagerank,
	betweenness = EXCLUDED.betweenness,
	degree = EXCLUDED.degree,
	in_degree = EXCLUDED.in_degree,
	out_degree = EXCLUDED.out_degree,
	community_id = EXCLUDED.community_id,
	updated_at = now()`

// UpsertCentrality writes one row per entity in chunks of upsertChunk rows,
// one transaction per chunk. Unassigned communities are stored as NULL so
// downstream consumers never join on a sentinel value.
func (s *RunDBStore) UpsertCentrality(ctx context.Context, records []common.CentralityRecord) error {
	if len(records) == 0 {
		return nil
	}

	return store.ChunkRange(len(records), upsertChunk, func(start, end int) error {
		chunk := records[start:end]
		logger.Debug("[Store][UpsertCentrality] Writing chunk", "records", len(chunk))

		batch := &pgxv5.Batch{}
		for i := range chunk {
			record := chunk[i]

			var community *int
			if record.CommunityID >= 0 {
				community = &record.CommunityID
			}

			batch.Queue(upsertCentralitySQL,
				record.EntityID, record.EntityType,
				record.PageRank, record.Betweenness,
				record.Degree, record.InDegree, record.OutDegree,
				community,
			)
		}

		return util.RetryErrWithContext(ctx, dbTries, func(ctx context.Context) error {
			return s.sendBatch(ctx, batch)
		})
	})
}

func (s *RunDBStore) sendBatch(ctx context.Context, batch *pgxv5.Batch) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return err
		}
	}
	if err := results.Close(); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

const loadEdgesSQL = `
SELECT source_id, source_type, target_id, target_type, edge_type,
	weight, tender_count, total_value, metadata
FROM graph_edges
ORDER BY source_id, target_id, edge_type`

// LoadEdges returns all persisted edges in deterministic key order.
func (s *RunDBStore) LoadEdges(ctx context.Context) ([]common.Edge, error) {
	return util.RetryWithContext(ctx, dbTries, s.loadEdgesOnce)
}

func (s *RunDBStore) loadEdgesOnce(ctx context.Context) ([]common.Edge, error) {
	rows, err := s.conn.Query(ctx, loadEdgesSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []common.Edge
	for rows.Next() {
		var edge common.Edge
		var metadata []byte
		if err := rows.Scan(
			&edge.SourceID, &edge.SourceType,
			&edge.TargetID, &edge.TargetType,
			&edge.EdgeType,
			&edge.Weight, &edge.TenderCount, &edge.TotalValue,
			&metadata,
		); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &edge.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal edge metadata %s->%s: %w", edge.SourceID, edge.TargetID, err)
			}
		}
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	logger.Debug("[Store][LoadEdges] Loaded persisted edges", "edges", len(edges))
	return edges, nil
}
