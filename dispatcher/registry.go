package dispatcher

import (
	"fmt"
	"sort"
	"sync"

	"github.com/patrickmn/go-cache"
)

// Registry maps queue names to queues so that two parties can rendezvous on
// a queue by name. Unlinking a name closes its queue.
type Registry struct {
	queues *cache.Cache
	unlink sync.Mutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	queues := cache.New(cache.NoExpiration, 0)
	queues.OnEvicted(func(_ string, v interface{}) {
		v.(*Queue).Close()
	})
	return &Registry{queues: queues}
}

// Create makes a new queue under name. It fails with ErrQueueExists if the
// name is taken.
func (r *Registry) Create(name string, capacity, msgSize int) (*Queue, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("create queue %s: capacity must be positive, got %d", name, capacity)
	}
	q := NewQueue(name, capacity, msgSize)
	if err := r.queues.Add(name, q, cache.NoExpiration); err != nil {
		return nil, fmt.Errorf("create queue %s: %w", name, ErrQueueExists)
	}
	return q, nil
}

// Open returns the queue registered under name
func (r *Registry) Open(name string) (*Queue, error) {
	v, ok := r.queues.Get(name)
	if !ok {
		return nil, fmt.Errorf("open queue %s: %w", name, ErrQueueNotFound)
	}
	return v.(*Queue), nil
}

// Unlink removes name from the registry and closes its queue
func (r *Registry) Unlink(name string) error {
	r.unlink.Lock()
	defer r.unlink.Unlock()
	if _, ok := r.queues.Get(name); !ok {
		return fmt.Errorf("unlink queue %s: %w", name, ErrQueueNotFound)
	}
	r.queues.Delete(name)
	return nil
}

// Names lists the registered queue names in sorted order
func (r *Registry) Names() []string {
	items := r.queues.Items()
	names := make([]string, 0, len(items))
	for name := range items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
