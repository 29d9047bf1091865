package sqlite

import (
	"context"

	"github.com/p2panda-go/bamboo-node/internal/types"
)

// InsertTask persists a pending unit of materializer work, deduplicated on
// (worker, input) so re-enqueueing an already-pending task is a no-op
// (spec.md §4.3). A process crash after this commits but before the worker
// finishes leaves the task row in place, so it is picked up again on
// restart (spec.md §4.3 crash recovery).
func (s *Store) InsertTask(ctx context.Context, t types.Task) error {
	key := t.Input.DedupKey(t.Worker)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (dedup_key, worker, document_id, view_id, is_view_input) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(dedup_key) DO NOTHING`,
		key, string(t.Worker), t.Input.DocumentID.String(), encodeViewID(t.Input.ViewID), boolToInt(t.Input.IsViewInput),
	)
	if err != nil {
		return wrapDBError("insert task", err)
	}
	return nil
}

// RemoveTask deletes a task row; removing an already-absent task is not an
// error, matching InsertTask's dedup-is-a-no-op symmetry.
func (s *Store) RemoveTask(ctx context.Context, t types.Task) error {
	key := t.Input.DedupKey(t.Worker)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE dedup_key = ?`, key); err != nil {
		return wrapDBError("remove task", err)
	}
	return nil
}

// GetTasks returns every pending task, used once at startup to recover the
// work queue after a crash (spec.md §4.3).
func (s *Store) GetTasks(ctx context.Context) ([]types.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT worker, document_id, view_id, is_view_input FROM tasks`)
	if err != nil {
		return nil, wrapDBError("get tasks", err)
	}
	defer rows.Close()

	var out []types.Task
	for rows.Next() {
		var worker, docID, viewID string
		var isViewInput int
		if err := rows.Scan(&worker, &docID, &viewID, &isViewInput); err != nil {
			return nil, wrapDBError("get tasks: scan", err)
		}
		t := types.Task{
			Worker: types.WorkerName(worker),
			Input: types.TaskInput{
				IsViewInput: isViewInput != 0,
			},
		}
		if docID != "" {
			doc, err := types.ParseHash(docID)
			if err != nil {
				return nil, err
			}
			t.Input.DocumentID = doc
		}
		if viewID != "" {
			t.Input.ViewID = decodeViewID(viewID)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
