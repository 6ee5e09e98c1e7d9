package expressions

import "sync"

// maxCachedPrograms bounds each engine's compiled-program cache.
const maxCachedPrograms = 512

// programCache maps formula text to a compiled program. Variable values are
// substituted into the text before it reaches an engine, so a sampled value
// yields a new key on every poll; once full, the oldest entry is evicted.
type programCache[P any] struct {
	mu    sync.Mutex
	max   int
	items map[string]P
	order []string
}

func newProgramCache[P any](max int) *programCache[P] {
	return &programCache[P]{max: max, items: make(map[string]P, max)}
}

func (c *programCache[P]) get(key string) (P, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.items[key]
	return p, ok
}

func (c *programCache[P]) put(key string, p P) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[key]; ok {
		return
	}
	for len(c.items) >= c.max && len(c.order) > 0 {
		delete(c.items, c.order[0])
		c.order = c.order[1:]
	}
	c.items[key] = p
	c.order = append(c.order, key)
}

func (c *programCache[P]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
