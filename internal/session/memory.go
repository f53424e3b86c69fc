package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryCache keeps sessions in process. One mutex guards the whole map;
// operations are map lookups so finer locking would buy nothing.
type MemoryCache struct {
	mu    sync.Mutex
	data  map[string]map[string][]byte
	order []string
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{data: make(map[string]map[string][]byte)}
}

func (c *MemoryCache) GenerateID() string {
	return uuid.NewString()
}

func (c *MemoryCache) Set(_ context.Context, id, field string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	c.mu.Lock()
	defer c.mu.Unlock()

	fields, ok := c.data[id]
	if !ok {
		fields = make(map[string][]byte)
		c.data[id] = fields
		c.order = append(c.order, id)
	}
	fields[field] = stored
	return nil
}

func (c *MemoryCache) Get(_ context.Context, id, field string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.data[id][field]
	return v, ok, nil
}

func (c *MemoryCache) Fields(_ context.Context, id string) (map[string][]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fields, ok := c.data[id]
	if !ok {
		return nil, false, nil
	}
	out := make(map[string][]byte, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out, true, nil
}

func (c *MemoryCache) GetAll(_ context.Context, fields []string) ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]Entry, 0, len(c.order))
	for _, id := range c.order {
		stored := c.data[id]
		e := Entry{ID: id, Fields: make(map[string][]byte, len(fields))}
		for _, f := range fields {
			if v, ok := stored[f]; ok {
				e.Fields[f] = v
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (c *MemoryCache) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.data[id]; !ok {
		return nil
	}
	delete(c.data, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}
