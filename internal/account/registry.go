package account

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// subChannelTTL bounds how long the derived subChannel→channel view lives
// before it is rebuilt from the registry.
const subChannelTTL = 30 * time.Minute

// Registry is the in-memory view of all accounts. The serve loop feeds
// it from the account store and mutates it on admin changes; workers, the
// selector and the correlator only read.
type Registry struct {
	mu       sync.RWMutex
	accounts map[string]*Account // channelId → account

	// Derived reverse view, rebuilt lazily with a TTL and on any mutation.
	subView *gocache.Cache

	// Polling policy counter; round-robin state lives registry-side.
	pollCounter uint64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		accounts: make(map[string]*Account),
		subView:  gocache.New(subChannelTTL, subChannelTTL),
	}
}

// Put inserts or replaces an account and invalidates derived views.
func (r *Registry) Put(a *Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[a.ChannelID] = a
	r.subView.Flush()
}

// Remove drops an account by channel id.
func (r *Registry) Remove(channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.accounts, channelID)
	r.subView.Flush()
}

// All returns every registered account.
func (r *Registry) All() []*Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		out = append(out, a)
	}
	return out
}

// Alive returns accounts that can take new work right now.
func (r *Registry) Alive() []*Account {
	now := time.Now()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		if a.Alive(now) {
			out = append(out, a)
		}
	}
	return out
}

// ByChannel returns the account owning a channel id, or nil.
func (r *Registry) ByChannel(channelID string) *Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.accounts[channelID]
}

// BySubChannel resolves a shared sub-channel id to its owning account via
// the TTL reverse view.
func (r *Registry) BySubChannel(subChannelID string) *Account {
	if ch, ok := r.subView.Get(subChannelID); ok {
		return r.ByChannel(ch.(string))
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.accounts {
		for _, sub := range a.SubChannels {
			r.subView.SetDefault(sub, a.ChannelID)
		}
		// Private channels route /show and seed traffic back to the account.
		if a.PrivateChannelID != "" {
			r.subView.SetDefault(a.PrivateChannelID, a.ChannelID)
		}
		if a.NijiPrivateChannelID != "" {
			r.subView.SetDefault(a.NijiPrivateChannelID, a.ChannelID)
		}
	}
	if ch, ok := r.subView.Get(subChannelID); ok {
		return r.accounts[ch.(string)]
	}
	return nil
}

// NextPoll advances the round-robin counter and returns its new value.
func (r *Registry) NextPoll() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pollCounter++
	return r.pollCounter
}
