package angel

import (
	"sync"
	"time"
)

// PoolConfig configures a Pool. Base is copied for every device; its Tokens
// and Notifier are replaced by the per-device values.
type PoolConfig struct {
	Base        Config
	TokensFor   func(deviceID string) TokenStore
	NotifierFor func(deviceID string) Notifier
	// IdleTTL keeps a client that was used more recently than this.
	IdleTTL time.Duration
	Now     func() time.Time
}

// Pool keeps one Client, and therefore one refresh coordinator, per device.
type Pool struct {
	cfg PoolConfig

	mu      sync.Mutex
	clients map[string]*Client
}

// NewPool creates an empty pool.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pool{cfg: cfg, clients: make(map[string]*Client)}
}

// Get returns the client for deviceID, creating it on first use.
func (p *Pool) Get(deviceID string) *Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[deviceID]; ok {
		c.touch()
		return c
	}
	cfg := p.cfg.Base
	cfg.Tokens = p.cfg.TokensFor(deviceID)
	if p.cfg.NotifierFor != nil {
		cfg.Notifier = p.cfg.NotifierFor(deviceID)
	}
	if cfg.Logger != nil {
		cfg.Logger = cfg.Logger.With("device_id", deviceID)
	}
	c := NewClient(cfg)
	c.now = p.cfg.Now
	c.touch()
	p.clients[deviceID] = c
	return c
}

// Forget drops the client for deviceID.
func (p *Pool) Forget(deviceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.clients, deviceID)
}

// Prune drops every idle client whose device is not kept. A client with a
// call in flight, a refresh running, or use within IdleTTL stays, so a device
// never has two coordinators at once.
func (p *Pool) Prune(keep func(deviceID string) bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := p.cfg.Now().Add(-p.cfg.IdleTTL)
	removed := 0
	for id, c := range p.clients {
		if keep(id) || !c.idle(cutoff) || c.coordinator.State() == StateRefreshing {
			continue
		}
		delete(p.clients, id)
		removed++
	}
	return removed
}

// Len returns the number of pooled clients.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}
