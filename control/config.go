// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Thread-safe configuration store with dynamic update and hot-reload propagation.

package control

import (
	"sync"
)

// HubConfig is the server hub's live policy. BufferFragments,
// AllowClientsMissingConnectionHeaders and SelectedProtocol can be updated
// without restarting the listener and apply to connections accepted after
// the update. ShardCount and AcceptCPU are read only when the hub is built
// and started; changing them here does not affect a running hub.
// AcceptCPU mirrors hub.Config.AcceptCPU (nil means unpinned).
type HubConfig struct {
	ShardCount                            int
	BufferFragments                       bool
	AllowClientsMissingConnectionHeaders  bool
	SelectedProtocol                      string
	AcceptCPU                             *int
}

// ConfigStore holds a hub's current HubConfig with atomic read/update and
// hot-reload listener support.
type ConfigStore struct {
	mu        sync.RWMutex
	config    HubConfig
	listeners []func()
}

// NewConfigStore initializes an empty config store.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{}
}

// Get returns the current HubConfig.
func (cs *ConfigStore) Get() HubConfig {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.config
}

// Set replaces the stored HubConfig wholesale and dispatches reload.
func (cs *ConfigStore) Set(cfg HubConfig) {
	cs.mu.Lock()
	cs.config = cfg
	cs.mu.Unlock()
	cs.dispatchReload()
}

// OnReload registers a listener hook called on config changes.
func (cs *ConfigStore) OnReload(fn func()) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}

// dispatchReload invokes all listeners.
func (cs *ConfigStore) dispatchReload() {
	for _, fn := range cs.listeners {
		go fn()
	}
}
