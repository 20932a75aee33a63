package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fupingyezi/mini-DeepResearch/internal/graph"
)

// Store doubles as the durable graph checkpointer.
var _ graph.Checkpointer = (*Store)(nil)

func (s *Store) Put(ctx context.Context, cp graph.Checkpoint) error {
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO graph_checkpoints (thread_id, run_id, step, node, next_node, state, created_at) VALUES ($1,$2,$3,$4,$5,$6::jsonb,$7)`,
		cp.ThreadID, cp.RunID, cp.Step, cp.Node, cp.Next, string(cp.State), cp.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

func (s *Store) Latest(ctx context.Context, threadID string) (graph.Checkpoint, bool, error) {
	var cp graph.Checkpoint
	err := s.DB.GetContext(ctx, &cp, `SELECT thread_id, run_id, step, node, next_node, state, created_at FROM graph_checkpoints WHERE thread_id=$1 ORDER BY id DESC LIMIT 1`, threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return graph.Checkpoint{}, false, nil
	}
	if err != nil {
		return graph.Checkpoint{}, false, err
	}
	return cp, true, nil
}

func (s *Store) List(ctx context.Context, threadID string) ([]graph.Checkpoint, error) {
	out := []graph.Checkpoint{}
	if err := s.DB.SelectContext(ctx, &out, `SELECT thread_id, run_id, step, node, next_node, state, created_at FROM graph_checkpoints WHERE thread_id=$1 ORDER BY id ASC`, threadID); err != nil {
		return nil, err
	}
	return out, nil
}

// Prune deletes checkpoints written before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		return 0, errors.New("cutoff must be provided")
	}
	res, err := s.DB.ExecContext(ctx, `DELETE FROM graph_checkpoints WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
