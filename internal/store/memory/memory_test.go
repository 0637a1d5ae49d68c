package memory

import (
	"errors"
	"testing"

	"github.com/WGwuzhi/midjourney-proxy/internal/account"
	"github.com/WGwuzhi/midjourney-proxy/internal/store"
	"github.com/WGwuzhi/midjourney-proxy/internal/task"
)

func seedTasks(t *testing.T, s *TaskStore) {
	t.Helper()
	rows := []*task.Task{
		{ID: "a1", Action: task.ActionImagine, Status: task.StatusSuccess, InstanceID: "c1", SubmitTime: 100},
		{ID: "a2", Action: task.ActionUpscale, Status: task.StatusInProgress, InstanceID: "c1", SubmitTime: 300, ParentID: "a1"},
		{ID: "a3", Action: task.ActionImagine, Status: task.StatusFailure, InstanceID: "c2", SubmitTime: 200},
	}
	for _, r := range rows {
		if err := s.Save(r); err != nil {
			t.Fatal(err)
		}
	}
}

func TestTaskStoreGet(t *testing.T) {
	s := NewTaskStore()
	seedTasks(t, s)

	got, err := s.Get("a2")
	if err != nil || got.ID != "a2" {
		t.Fatalf("Get(a2) = (%v, %v)", got, err)
	}
	if _, err := s.Get("missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get(missing) err = %v, want ErrNotFound", err)
	}
}

func TestTaskStoreListFilters(t *testing.T) {
	s := NewTaskStore()
	seedTasks(t, s)

	got, err := s.List(store.TaskQuery{Statuses: []task.Status{task.StatusSuccess, task.StatusFailure}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("status filter: %d rows", len(got))
	}

	got, _ = s.List(store.TaskQuery{InstanceID: "c1", Actions: []task.Action{task.ActionUpscale}})
	if len(got) != 1 || got[0].ID != "a2" {
		t.Fatalf("instance+action filter: %v", ids(got))
	}

	got, _ = s.List(store.TaskQuery{ParentID: "a1"})
	if len(got) != 1 || got[0].ID != "a2" {
		t.Fatalf("parent filter: %v", ids(got))
	}

	got, _ = s.List(store.TaskQuery{IDs: []string{"a1", "a3"}})
	if len(got) != 2 {
		t.Fatalf("ids filter: %v", ids(got))
	}
}

func TestTaskStoreListOrderAndLimit(t *testing.T) {
	s := NewTaskStore()
	seedTasks(t, s)

	got, _ := s.List(store.TaskQuery{OrderBy: "submit_time", Asc: true})
	if want := []string{"a1", "a3", "a2"}; !equal(ids(got), want) {
		t.Fatalf("asc by submit_time: %v, want %v", ids(got), want)
	}

	got, _ = s.List(store.TaskQuery{OrderBy: "submit_time", Limit: 1})
	if want := []string{"a2"}; !equal(ids(got), want) {
		t.Fatalf("desc limit 1: %v, want %v", ids(got), want)
	}

	n, _ := s.Count(store.TaskQuery{InstanceID: "c1"})
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
}

func TestTaskStoreDelete(t *testing.T) {
	s := NewTaskStore()
	seedTasks(t, s)
	if err := s.Delete("a1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get("a1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("row survived delete")
	}
}

func TestAccountStoreRoundTrip(t *testing.T) {
	s := NewAccountStore()
	if err := s.SaveAccount(&account.Account{ChannelID: "c2", Enable: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveAccount(&account.Account{ChannelID: "c1", Enable: true}); err != nil {
		t.Fatal(err)
	}
	got, err := s.ListAccounts()
	if err != nil || len(got) != 2 {
		t.Fatalf("list = (%d, %v)", len(got), err)
	}
	if got[0].ChannelID != "c1" {
		t.Errorf("list not sorted: %s first", got[0].ChannelID)
	}
	if err := s.DeleteAccount("c1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetAccount("c1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("account survived delete")
	}
}

func TestNormalizeKeywords(t *testing.T) {
	got := store.NormalizeKeywords([]string{" Car ", "car", "", "ENGINE"})
	if want := []string{"car", "engine"}; !equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func ids(ts []*task.Task) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.ID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
