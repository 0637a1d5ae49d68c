package pg

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/WGwuzhi/midjourney-proxy/internal/store"
	"github.com/WGwuzhi/midjourney-proxy/internal/task"
)

// TaskStore implements store.TaskStore backed by Postgres.
type TaskStore struct {
	db *sql.DB
}

func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db}
}

func (s *TaskStore) Get(id string) (*task.Task, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM tasks WHERE id = $1`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	var t task.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	return &t, nil
}

func (s *TaskStore) Save(t *task.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", t.ID, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO tasks (id, parent_id, action, status, instance_id, submit_time, data)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   parent_id = EXCLUDED.parent_id,
		   action = EXCLUDED.action,
		   status = EXCLUDED.status,
		   instance_id = EXCLUDED.instance_id,
		   submit_time = EXCLUDED.submit_time,
		   data = EXCLUDED.data`,
		t.ID, t.ParentID, string(t.Action), string(t.Status), t.InstanceID, t.SubmitTime, data,
	)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

func (s *TaskStore) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM tasks WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

func (s *TaskStore) List(q store.TaskQuery) ([]*task.Task, error) {
	where, args := buildTaskWhere(q, placeholderDollar)

	order := "id"
	if q.OrderBy == "submit_time" {
		order = "submit_time"
	}
	dir := "DESC"
	if q.Asc {
		dir = "ASC"
	}
	query := fmt.Sprintf(`SELECT data FROM tasks %s ORDER BY %s %s`, where, order, dir)
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*task.Task
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var t task.Task
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("decode task row: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *TaskStore) Count(q store.TaskQuery) (int, error) {
	where, args := buildTaskWhere(q, placeholderDollar)
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM tasks `+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

// placeholder styles shared with the sqlite backend.
func placeholderDollar(i int) string { return fmt.Sprintf("$%d", i) }

// buildTaskWhere translates a TaskQuery into a WHERE clause.
func buildTaskWhere(q store.TaskQuery, ph func(int) string) (string, []any) {
	var conds []string
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return ph(len(args))
	}

	if len(q.IDs) > 0 {
		marks := make([]string, len(q.IDs))
		for i, id := range q.IDs {
			marks[i] = next(id)
		}
		conds = append(conds, "id IN ("+strings.Join(marks, ", ")+")")
	}
	if q.ParentID != "" {
		conds = append(conds, "parent_id = "+next(q.ParentID))
	}
	if q.InstanceID != "" {
		conds = append(conds, "instance_id = "+next(q.InstanceID))
	}
	if len(q.Statuses) > 0 {
		marks := make([]string, len(q.Statuses))
		for i, st := range q.Statuses {
			marks[i] = next(string(st))
		}
		conds = append(conds, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if len(q.Actions) > 0 {
		marks := make([]string, len(q.Actions))
		for i, a := range q.Actions {
			marks[i] = next(string(a))
		}
		conds = append(conds, "action IN ("+strings.Join(marks, ", ")+")")
	}

	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}
