// Package store defines the persistence interfaces the core depends on.
// Concrete backends live in store/sqlite (standalone), store/pg (managed),
// and store/memory (tests and ephemeral runs).
package store

import (
	"errors"

	"github.com/WGwuzhi/midjourney-proxy/internal/task"
)

// ErrNotFound is returned by Get when no row matches the id.
var ErrNotFound = errors.New("store: not found")

// TaskQuery is a predicate filter for listing tasks. Zero values are wildcards.
type TaskQuery struct {
	IDs        []string
	ParentID   string
	Statuses   []task.Status
	Actions    []task.Action
	InstanceID string
	// OrderBy column name ("id", "submit_time"); Asc default false (newest first).
	OrderBy string
	Asc     bool
	Limit   int
}

// TaskStore is the durable task repository. Save is last-writer-wins;
// callers serialize per-task updates with the task lock.
type TaskStore interface {
	Get(id string) (*task.Task, error)
	Save(t *task.Task) error
	Delete(id string) error
	List(q TaskQuery) ([]*task.Task, error)
	Count(q TaskQuery) (int, error)
}

// Matches reports whether t satisfies the query predicate. Shared by the
// memory store and the in-process caches in front of SQL backends.
func (q TaskQuery) Matches(t *task.Task) bool {
	if len(q.IDs) > 0 && !containsString(q.IDs, t.ID) {
		return false
	}
	if q.ParentID != "" && t.ParentID != q.ParentID {
		return false
	}
	if q.InstanceID != "" && t.InstanceID != q.InstanceID {
		return false
	}
	if len(q.Statuses) > 0 {
		found := false
		for _, s := range q.Statuses {
			if t.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(q.Actions) > 0 {
		found := false
		for _, a := range q.Actions {
			if t.Action == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsString(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}
