package scanning

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"sync"
	"time"
)

// DefaultStaleAfter is how long a host scan may hold a slot before the
// engine logs it as stale.
const DefaultStaleAfter = 2 * time.Minute

// ResourceManager bounds how many host scans run at once.
type ResourceManager interface {
	// Acquire blocks until a slot is free for addr or ctx is done.
	Acquire(ctx context.Context, addr netip.Addr) error
	// Release frees the slot held by addr.
	Release(addr netip.Addr)
	// InFlight is the number of slots currently held.
	InFlight() int
	// Close rejects further Acquire calls.
	Close() error
}

// FixedResourceManager is a ResourceManager with a fixed number of slots.
// It remembers when each slot was taken so stuck hosts can be reported.
type FixedResourceManager struct {
	capacity  int
	semaphore chan struct{}
	active    map[netip.Addr]time.Time
	peak      int
	mutex     sync.RWMutex
	closed    bool
}

var _ ResourceManager = (*FixedResourceManager)(nil)

// NewFixedResourceManager creates a manager with capacity slots (at least one).
func NewFixedResourceManager(capacity int) *FixedResourceManager {
	if capacity <= 0 {
		capacity = 1
	}

	return &FixedResourceManager{
		capacity:  capacity,
		semaphore: make(chan struct{}, capacity),
		active:    make(map[netip.Addr]time.Time),
	}
}

// Acquire takes a slot for addr. Acquiring the same address twice without a
// Release is an error since results must be unique per address.
func (rm *FixedResourceManager) Acquire(ctx context.Context, addr netip.Addr) error {
	rm.mutex.RLock()
	closed := rm.closed
	_, dup := rm.active[addr]
	rm.mutex.RUnlock()
	if closed {
		return fmt.Errorf("resource manager is closed")
	}
	if dup {
		return fmt.Errorf("host %s already holds a slot", addr)
	}

	select {
	case rm.semaphore <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	rm.mutex.Lock()
	defer rm.mutex.Unlock()
	if rm.closed {
		<-rm.semaphore
		return fmt.Errorf("resource manager is closed")
	}
	if _, dup := rm.active[addr]; dup {
		<-rm.semaphore
		return fmt.Errorf("host %s already holds a slot", addr)
	}
	rm.active[addr] = time.Now()
	if n := len(rm.active); n > rm.peak {
		rm.peak = n
	}
	return nil
}

// Release frees addr's slot. Releasing an address without a slot is a no-op.
func (rm *FixedResourceManager) Release(addr netip.Addr) {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	if _, ok := rm.active[addr]; !ok {
		return
	}
	delete(rm.active, addr)
	select {
	case <-rm.semaphore:
	default:
	}
}

// InFlight returns the number of held slots.
func (rm *FixedResourceManager) InFlight() int {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()
	return len(rm.active)
}

// Peak is the highest number of slots ever held at once.
func (rm *FixedResourceManager) Peak() int {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()
	return rm.peak
}

// Stale lists addresses holding a slot for longer than threshold, oldest first.
func (rm *FixedResourceManager) Stale(threshold time.Duration) []netip.Addr {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	now := time.Now()
	var stale []netip.Addr
	for addr, since := range rm.active {
		if now.Sub(since) > threshold {
			stale = append(stale, addr)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return rm.active[stale[i]].Before(rm.active[stale[j]])
	})
	return stale
}

// Close stops the manager. Held slots stay accounted until released.
func (rm *FixedResourceManager) Close() error {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()
	rm.closed = true
	return nil
}

// Stats summarises the manager for logging.
func (rm *FixedResourceManager) Stats() map[string]interface{} {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	return map[string]interface{}{
		"capacity":  rm.capacity,
		"in_flight": len(rm.active),
		"available": rm.capacity - len(rm.active),
		"peak":      rm.peak,
		"closed":    rm.closed,
	}
}
