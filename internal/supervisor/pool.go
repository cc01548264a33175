package supervisor

import (
	"sync"

	"github.com/google/uuid"
)

// InstanceStatus is a single function instance's readiness to accept
// another invocation.
type InstanceStatus int

const (
	InstanceStarting InstanceStatus = iota
	InstanceIdle
	InstanceBusy
)

// Instance is one running copy of a function's binary, tracked so the
// pool can decide whether demand justifies spawning another.
type Instance struct {
	ID                uuid.UUID
	Status            InstanceStatus
	RequestsProcessed uint64
}

// InstancePool decides when a function under concurrent load needs
// another process spawned alongside the ones already running, and
// tracks each instance's busy/idle state. The supervisor allocates one
// for a function whose configured MaxConcurrency is greater than one,
// but its spawn path does not consult the pool: every function runs a
// single process either way.
type InstancePool struct {
	mu             sync.RWMutex
	instances      map[uuid.UUID]*Instance
	maxConcurrency int
}

// NewInstancePool creates a pool that never holds more than
// maxConcurrency simultaneous instances.
func NewInstancePool(maxConcurrency int) *InstancePool {
	return &InstancePool{
		instances:      make(map[uuid.UUID]*Instance),
		maxConcurrency: maxConcurrency,
	}
}

// ShouldSpawnInstance reports whether a new instance is warranted given
// the function's current queue depth: there must be pending work, no
// already-idle instance able to take it, and room under the
// concurrency cap.
func (p *InstancePool) ShouldSpawnInstance(queueDepth int) bool {
	if queueDepth == 0 {
		return false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.instances) >= p.maxConcurrency {
		return false
	}

	for _, inst := range p.instances {
		if inst.Status == InstanceIdle {
			return false
		}
	}
	return true
}

// MarkBusy records that an instance has picked up a request.
func (p *InstancePool) MarkBusy(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if inst, ok := p.instances[id]; ok {
		inst.Status = InstanceBusy
		inst.RequestsProcessed++
	}
}

// MarkIdle records that an instance has finished its request and is
// ready for another.
func (p *InstancePool) MarkIdle(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if inst, ok := p.instances[id]; ok {
		inst.Status = InstanceIdle
	}
}

// AddInstance registers a newly spawned instance, starting in the
// Starting state until its first runtime API poll marks it idle.
func (p *InstancePool) AddInstance(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instances[id] = &Instance{ID: id, Status: InstanceStarting}
}

// RemoveInstance drops an instance that crashed or was torn down.
func (p *InstancePool) RemoveInstance(id uuid.UUID) (*Instance, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	inst, ok := p.instances[id]
	if ok {
		delete(p.instances, id)
	}
	return inst, ok
}

// InstanceCount reports how many instances are currently tracked.
func (p *InstancePool) InstanceCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.instances)
}
