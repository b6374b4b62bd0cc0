package connector

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Catalog is an in-memory, concurrency-safe set of connectors kept in
// registration order.
type Catalog struct {
	mu    sync.RWMutex
	order []string
	byKey map[string]*Connector
}

func NewCatalog(connectors ...*Connector) (*Catalog, error) {
	c := &Catalog{byKey: make(map[string]*Connector)}
	for _, conn := range connectors {
		if err := c.Add(conn); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// LoadCatalog reads a JSON array of connectors from path.
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read connectors: %w", err)
	}
	var connectors []*Connector
	if err := json.Unmarshal(raw, &connectors); err != nil {
		return nil, fmt.Errorf("parse connectors %s: %w", path, err)
	}
	return NewCatalog(connectors...)
}

// Add registers conn, replacing any connector with the same key.
func (c *Catalog) Add(conn *Connector) error {
	if err := conn.Validate(); err != nil {
		return err
	}
	key := conn.Key()

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byKey[key]; !exists {
		c.order = append(c.order, key)
	}
	c.byKey[key] = conn
	return nil
}

// Find resolves a function id in either accepted form.
func (c *Catalog) Find(id string) (*Connector, bool) {
	key, ok := NormalizeID(id)
	if !ok {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	conn, ok := c.byKey[key]
	return conn, ok
}

func (c *Catalog) Summaries() []Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Summary, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.byKey[key].Summary())
	}
	return out
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}
