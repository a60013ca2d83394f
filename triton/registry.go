package triton

import "sync"

// Registry holds one StreamConsumer per stream name so that processes
// consuming several streams share consumers instead of rebuilding them.
type Registry struct {
	mu        sync.Mutex
	consumers map[string]*StreamConsumer
}

// NewRegistry creates an empty Registry
func NewRegistry() *Registry {
	return &Registry{consumers: make(map[string]*StreamConsumer)}
}

// Get returns the consumer registered for streamName.
func (r *Registry) Get(streamName string) (*StreamConsumer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.consumers[streamName]
	return c, ok
}

// GetOrCreate returns the consumer registered for streamName, building and
// registering one with create if there is none. create runs with the
// registry locked and a failed create registers nothing.
func (r *Registry) GetOrCreate(streamName string, create func() (*StreamConsumer, error)) (*StreamConsumer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.consumers[streamName]; ok {
		return c, nil
	}
	c, err := create()
	if err != nil {
		return nil, err
	}
	r.consumers[streamName] = c
	return c, nil
}

// Remove forgets the consumer registered for streamName.
func (r *Registry) Remove(streamName string) {
	r.mu.Lock()
	delete(r.consumers, streamName)
	r.mu.Unlock()
}

// Len returns the number of registered consumers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.consumers)
}
