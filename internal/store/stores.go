package store

// Stores is the top-level container for all storage backends.
type Stores struct {
	Tasks    TaskStore
	Accounts AccountStore
	Dicts    DictStore
}
