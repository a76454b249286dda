package fixture

// Cache holds the fixture values resolved by one task executor together with the
// scoped handles still waiting for their release step. It is not safe for
// concurrent use and must not be shared between executors.
type Cache struct {
	values   map[string]any
	visiting map[string]bool
	path     []string
	pending  []handle
}

type handle struct {
	name    string
	release ReleaseFunc
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		values:   make(map[string]any),
		visiting: make(map[string]bool),
	}
}

// Value returns the cached value for name.
func (c *Cache) Value(name string) (any, bool) {
	v, ok := c.values[name]
	return v, ok
}

// Len returns the number of resolved fixtures.
func (c *Cache) Len() int {
	return len(c.values)
}

// Pending returns the names of scoped fixtures awaiting release, in acquisition order.
func (c *Cache) Pending() []string {
	names := make([]string, len(c.pending))
	for i, h := range c.pending {
		names[i] = h.name
	}
	return names
}
