package ft

import (
	"github.com/dbzero-io/corestore/compare"
)

// CartesianProduct advances N component iterators like an odometer: the
// lowest-order component cycles fastest, carrying into higher-order
// components on overflow (wrap-around), grounded on CartesianProduct.cpp.
// Unlike Iterator[K], its key is a tuple -- one per component -- so it does
// not implement the single-key Iterator contract.
type CartesianProduct[K compare.Ordered] struct {
	components []Iterator[K]
	dir        Direction
	current    []K
	overflow   bool
}

// NewCartesianProduct builds the product of components, each restarted via
// BeginTyped(dir).
func NewCartesianProduct[K compare.Ordered](components []Iterator[K], dir Direction) *CartesianProduct[K] {
	c := &CartesianProduct[K]{dir: dir, current: make([]K, len(components))}
	for i, it := range components {
		fresh := it.BeginTyped(dir)
		c.components = append(c.components, fresh)
		if !fresh.IsEnd() {
			c.current[i] = fresh.GetKey()
		}
		c.overflow = c.overflow || fresh.IsEnd()
	}
	return c
}

func (c *CartesianProduct[K]) IsEnd() bool { return c.overflow }

// GetKey returns the current tuple, one key per component, ordered lowest
// to highest. Valid only until the next Advance or JoinAt call.
func (c *CartesianProduct[K]) GetKey() []K { return c.current }

// Advance increments the lowest-order component, carrying into
// higher-order components whenever a component wraps back to its start.
func (c *CartesianProduct[K]) Advance() bool {
	c.overflow = true
	for i, it := range c.components {
		if !c.overflow {
			break
		}
		it.Advance(c.dir)
		c.overflow = it.IsEnd()
		if c.overflow {
			it = it.BeginTyped(c.dir)
			c.components[i] = it
		}
		if !it.IsEnd() {
			c.current[i] = it.GetKey()
		}
	}
	return !c.overflow
}

// JoinAt seeks component at to key, carrying the wrap into higher-order
// components exactly like Advance does when at overflows.
func (c *CartesianProduct[K]) JoinAt(at int, key K, dir Direction) {
	item := c.components[at]
	if item.Join(key, dir) {
		c.current[at] = item.GetKey()
		return
	}
	item = item.BeginTyped(dir)
	c.components[at] = item
	if !item.IsEnd() {
		c.current[at] = item.GetKey()
	}
	at++
	c.overflow = true
	for c.overflow && at < len(c.components) {
		c.overflow = false
		c.components[at].Advance(dir)
		if c.components[at].IsEnd() {
			c.components[at] = c.components[at].BeginTyped(dir)
			c.overflow = true
		}
		if !c.components[at].IsEnd() {
			c.current[at] = c.components[at].GetKey()
		}
		at++
	}
}

// Join seeks every component to joinKey (highest-order component first),
// returning false the moment any component carries past its end.
func (c *CartesianProduct[K]) Join(joinKey []K, dir Direction) bool {
	for i := len(c.components) - 1; i >= 0; i-- {
		c.JoinAt(i, joinKey[i], dir)
		if c.overflow {
			return false
		}
	}
	return true
}

func (c *CartesianProduct[K]) Depth() int {
	max := 0
	for _, it := range c.components {
		if d := it.Depth(); d > max {
			max = d
		}
	}
	return max + 1
}
