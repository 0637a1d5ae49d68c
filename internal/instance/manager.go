package instance

import "sync"

// Manager tracks the live instance per account channel. One process owns all
// instances; horizontal scaling shards accounts across processes.
type Manager struct {
	mu        sync.RWMutex
	instances map[string]*Instance // channelId → instance
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{instances: make(map[string]*Instance)}
}

// Put registers an instance, stopping any previous one for the channel.
func (m *Manager) Put(inst *Instance) {
	m.mu.Lock()
	prev := m.instances[inst.ChannelID()]
	m.instances[inst.ChannelID()] = inst
	m.mu.Unlock()
	if prev != nil && prev != inst {
		prev.Stop()
	}
}

// Remove stops and drops the instance for a channel.
func (m *Manager) Remove(channelID string) {
	m.mu.Lock()
	inst := m.instances[channelID]
	delete(m.instances, channelID)
	m.mu.Unlock()
	if inst != nil {
		inst.Stop()
	}
}

// Get returns the instance for a channel id, or nil.
func (m *Manager) Get(channelID string) *Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.instances[channelID]
}

// All returns every live instance.
func (m *Manager) All() []*Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst)
	}
	return out
}

// StopAll shuts down every instance.
func (m *Manager) StopAll() {
	for _, inst := range m.All() {
		inst.Stop()
	}
}
