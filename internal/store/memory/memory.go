// Package memory provides in-memory store implementations. Used by tests and
// as a fallback when no database is configured.
package memory

import (
	"sort"
	"sync"

	"github.com/WGwuzhi/midjourney-proxy/internal/account"
	"github.com/WGwuzhi/midjourney-proxy/internal/store"
	"github.com/WGwuzhi/midjourney-proxy/internal/task"
)

// NewStores returns a full in-memory store set.
func NewStores() *store.Stores {
	return &store.Stores{
		Tasks:    NewTaskStore(),
		Accounts: NewAccountStore(),
		Dicts:    NewDictStore(),
	}
}

// TaskStore is a map-backed store.TaskStore.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*task.Task
}

func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[string]*task.Task)}
}

func (s *TaskStore) Get(id string) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t, nil
}

func (s *TaskStore) Save(t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
	return nil
}

func (s *TaskStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

func (s *TaskStore) List(q store.TaskQuery) ([]*task.Task, error) {
	s.mu.RLock()
	out := make([]*task.Task, 0)
	for _, t := range s.tasks {
		if q.Matches(t) {
			out = append(out, t)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		var less bool
		switch q.OrderBy {
		case "submit_time":
			less = out[i].SubmitTime < out[j].SubmitTime
		default:
			less = out[i].ID < out[j].ID
		}
		if q.Asc {
			return less
		}
		return !less
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *TaskStore) Count(q store.TaskQuery) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, t := range s.tasks {
		if q.Matches(t) {
			n++
		}
	}
	return n, nil
}

// AccountStore is a map-backed store.AccountStore.
type AccountStore struct {
	mu       sync.RWMutex
	accounts map[string]*account.Account
}

func NewAccountStore() *AccountStore {
	return &AccountStore{accounts: make(map[string]*account.Account)}
}

func (s *AccountStore) GetAccount(channelID string) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[channelID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return a, nil
}

func (s *AccountStore) SaveAccount(a *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ChannelID] = a
	return nil
}

func (s *AccountStore) DeleteAccount(channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, channelID)
	return nil
}

func (s *AccountStore) ListAccounts() ([]*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*account.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out, nil
}

// DictStore is a map-backed store.DictStore.
type DictStore struct {
	mu      sync.RWMutex
	domains map[string]*store.DomainKeywords
	banned  map[string]*store.BannedKeywords
}

func NewDictStore() *DictStore {
	return &DictStore{
		domains: make(map[string]*store.DomainKeywords),
		banned:  make(map[string]*store.BannedKeywords),
	}
}

func (s *DictStore) ListDomains() ([]*store.DomainKeywords, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*store.DomainKeywords, 0, len(s.domains))
	for _, d := range s.domains {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sort < out[j].Sort })
	return out, nil
}

func (s *DictStore) SaveDomain(d *store.DomainKeywords) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.Keywords = store.NormalizeKeywords(d.Keywords)
	s.domains[d.ID] = d
	return nil
}

func (s *DictStore) DeleteDomain(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.domains, id)
	return nil
}

func (s *DictStore) ListBanned() ([]*store.BannedKeywords, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*store.BannedKeywords, 0, len(s.banned))
	for _, b := range s.banned {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *DictStore) SaveBanned(b *store.BannedKeywords) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.Keywords = store.NormalizeKeywords(b.Keywords)
	s.banned[b.ID] = b
	return nil
}

func (s *DictStore) DeleteBanned(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.banned, id)
	return nil
}
