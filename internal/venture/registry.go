package venture

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const sweepInterval = 5 * time.Minute

type machineKey struct {
	deviceID  string
	sessionID string
}

// Registry holds the live machines, one per device and venture session.
// Idle machines are evicted and closed; a later request starts a fresh
// machine that hydrates from the backend.
type Registry struct {
	opts    Options
	idleTTL time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	machines map[machineKey]*Machine
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options, idleTTL time.Duration) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		opts:     opts,
		idleTTL:  idleTTL,
		logger:   opts.Logger,
		machines: make(map[machineKey]*Machine),
	}
}

// Get returns the machine for the device's session, creating it with
// backend on first use.
func (r *Registry) Get(deviceID, sessionID string, backend Backend) *Machine {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := machineKey{deviceID: deviceID, sessionID: sessionID}
	if m, ok := r.machines[key]; ok {
		return m
	}
	opts := r.opts
	opts.Logger = r.logger.With("device_id", deviceID, "session_id", sessionID)
	m := NewMachine(sessionID, backend, opts)
	r.machines[key] = m
	return m
}

// CloseDevice closes and removes every machine of deviceID, e.g. on logout.
func (r *Registry) CloseDevice(deviceID string) int {
	r.mu.Lock()
	var closing []*Machine
	for key, m := range r.machines {
		if key.deviceID == deviceID {
			closing = append(closing, m)
			delete(r.machines, key)
		}
	}
	r.mu.Unlock()

	for _, m := range closing {
		m.Close()
	}
	return len(closing)
}

// HasDevice reports whether deviceID has any live machine.
func (r *Registry) HasDevice(deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.machines {
		if key.deviceID == deviceID {
			return true
		}
	}
	return false
}

// Len returns the number of live machines.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.machines)
}

// Sweep closes machines idle for longer than the TTL. Busy machines are kept.
func (r *Registry) Sweep() int {
	cutoff := r.opts.Now().Add(-r.idleTTL)

	r.mu.Lock()
	var evicted []*Machine
	for key, m := range r.machines {
		last, busy := m.idleSince()
		if busy || last.After(cutoff) {
			continue
		}
		evicted = append(evicted, m)
		delete(r.machines, key)
	}
	r.mu.Unlock()

	for _, m := range evicted {
		m.Close()
	}
	return len(evicted)
}

// CloseAll closes every machine. Used at shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	machines := r.machines
	r.machines = make(map[machineKey]*Machine)
	r.mu.Unlock()

	for _, m := range machines {
		m.Close()
	}
}

// StartSweeper runs Sweep periodically until ctx is done. onEvict is called
// after each sweep that evicted machines.
func (r *Registry) StartSweeper(ctx context.Context, onEvict func(count int)) {
	ticker := time.NewTicker(sweepInterval)
	go func() {
		defer ticker.Stop()
		r.logger.Info("Venture sweeper started", "interval", sweepInterval, "idle_ttl", r.idleTTL)

		for {
			select {
			case <-ticker.C:
				if n := r.Sweep(); n > 0 {
					r.logger.Info("Evicted idle venture conversations", "count", n)
					if onEvict != nil {
						onEvict(n)
					}
				}
			case <-ctx.Done():
				r.logger.Info("Venture sweeper shutting down", "reason", ctx.Err())
				r.CloseAll()
				return
			}
		}
	}()
}
