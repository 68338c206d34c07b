// Package recycler implements the byte-bounded, two-priority LRU cache
// recycler of spec.md §5/§9: a pool of cached lock.ResourceLocks bounded by
// total byte size rather than entry count, with two priority buffers (a
// hot pool that is only evicted once the cold pool is exhausted, and a cold
// pool that absorbs ordinary traffic), modeled directly on
// original_source's CacheRecycler.
package recycler

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/dbzero-io/corestore/list"
	"github.com/dbzero-io/corestore/lock"
)

// DefaultFlushSize is the recommended number of bytes released per
// eviction pass, per CacheRecycler::DEFAULT_FLUSH_SIZE (256 MiB).
const DefaultFlushSize = 256 << 20

// Priority selects which of the recycler's two LRU buffers a lock is
// tracked in. Hot-priority locks (e.g. recently committed pages likely to
// be read again immediately) are only evicted once the cold buffer alone
// cannot release enough space.
type Priority int

const (
	// Hot is the priority (#0) buffer, evicted last.
	Hot Priority = 0
	// Cold is the secondary (#1) buffer, evicted first.
	Cold Priority = 1
)

// ErrOverflow is returned by Update when throwOnOverflow is set and even
// evicting every clean lock across both buffers cannot make room for the
// incoming one, spec.md's "dist memory overflow" condition.
var ErrOverflow = errors.New("recycler: distributed memory overflow: cache capacity exceeded with no clean locks left to evict")

// Recycler tracks cached locks across two byte-bounded LRU priority
// buffers and evicts clean (non-dirty) locks from the back of the cold
// buffer, then the hot buffer, to make room for new ones.
type Recycler struct {
	mu sync.Mutex

	capacity  int64
	flushSize int64

	bufs        [2]list.List
	currentSize [2]int64
	membership  map[*lock.ResourceLock]Priority

	// flushDirty requests that the owner flush at least limit bytes worth
	// of dirty locks (converting them to clean, evictable ones), mirroring
	// CacheRecycler's flush_dirty callback.
	flushDirty func(limit int64)

	// flushCallback is notified after every eviction pass with whether the
	// capacity threshold was actually satisfied.
	flushCallback func(thresholdReached bool) bool

	throwOnOverflow bool

	metrics *metrics
	log     zerolog.Logger
}

// Options configures a new Recycler.
type Options struct {
	Capacity        int64
	FlushSize       int64
	FlushDirty      func(limit int64)
	FlushCallback   func(thresholdReached bool) bool
	ThrowOnOverflow bool
	// Registry, if non-nil, receives this Recycler's Prometheus collectors
	// (resident bytes, evicted bytes, overflow count, adjustSize latency).
	// A nil Registry disables metrics entirely.
	Registry prometheus.Registerer
	// Logger receives Debug-level eviction-pass diagnostics and a Warn line
	// when overflow is about to be reported. The zero Logger discards.
	Logger zerolog.Logger
}

// New constructs a Recycler with the given byte capacity.
func New(opts Options) *Recycler {
	if opts.FlushSize <= 0 {
		opts.FlushSize = DefaultFlushSize
	}
	return &Recycler{
		capacity:        opts.Capacity,
		flushSize:       opts.FlushSize,
		membership:      make(map[*lock.ResourceLock]Priority),
		flushDirty:      opts.FlushDirty,
		flushCallback:   opts.FlushCallback,
		throwOnOverflow: opts.ThrowOnOverflow,
		metrics:         newMetrics(opts.Registry),
		log:             opts.Logger,
	}
}

// Size returns total bytes currently cached across both priority buffers.
func (r *Recycler) Size() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentSize[Hot] + r.currentSize[Cold]
}

// DetailedSize returns the current byte size of the hot and cold buffers.
func (r *Recycler) DetailedSize() (hot, cold int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentSize[Hot], r.currentSize[Cold]
}

// Capacity returns the recycler's configured byte capacity.
func (r *Recycler) Capacity() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capacity
}

// Resize changes the recycler's capacity at runtime, evicting immediately
// if the new capacity is smaller than the current size.
func (r *Recycler) Resize(newCapacity int64) {
	r.mu.Lock()
	r.capacity = newCapacity
	r.mu.Unlock()
	r.adjustSize(nil)
}

// SetFlushSize changes how many bytes are targeted per eviction pass.
func (r *Recycler) SetFlushSize(n int64) {
	r.mu.Lock()
	r.flushSize = n
	r.mu.Unlock()
}

// Update records that res is now the most-recently-used entry in the given
// priority buffer, moving it there from wherever it was tracked before (if
// anywhere), then evicts clean entries as needed to respect capacity.
func (r *Recycler) Update(res *lock.ResourceLock, priority Priority) error {
	r.mu.Lock()
	if prev, ok := r.membership[res]; ok {
		r.bufs[prev].Remove(res)
		r.currentSize[prev] -= res.Size()
	}
	r.bufs[priority].PushFront(res)
	r.membership[res] = priority
	r.currentSize[priority] += res.Size()
	r.metrics.setResident(r.currentSize[Hot], r.currentSize[Cold])
	r.mu.Unlock()

	return r.adjustSize(res)
}

// Release removes res from the recycler entirely, e.g. because its owner
// dropped the last reference to it. Only a clean lock should ever be
// released this way; the caller is responsible for flushing first.
func (r *Recycler) Release(res *lock.ResourceLock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	priority, ok := r.membership[res]
	if !ok {
		return
	}
	r.bufs[priority].Remove(res)
	r.currentSize[priority] -= res.Size()
	delete(r.membership, res)
	r.metrics.setResident(r.currentSize[Hot], r.currentSize[Cold])
}

// Clear releases every managed lock. As in CacheRecycler, a caller should
// ensure referenced (in-use) locks are not cleared out from under it; this
// implementation clears unconditionally, matching the "only locks with no
// active references are released" contract at the level of this package
// (callers hold their own references elsewhere and re-fetch on next use).
func (r *Recycler) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for p := range r.bufs {
		r.bufs[p] = list.List{}
		r.currentSize[p] = 0
	}
	r.membership = make(map[*lock.ResourceLock]Priority)
	r.metrics.setResident(0, 0)
}

// ForEach calls f for every lock currently tracked by the recycler, cold
// buffer first (eviction order) then hot.
func (r *Recycler) ForEach(f func(*lock.ResourceLock)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range []Priority{Cold, Hot} {
		for e := r.bufs[p].Back(); e != nil; e = r.bufs[p].Prev(e) {
			f(e.(*lock.ResourceLock))
		}
	}
}

// adjustSize evicts clean locks, cold buffer first then hot, until total
// size is back within capacity, as CacheRecycler::adjustSize does after an
// update. incoming is the lock Update just recorded (nil from Resize); it
// is never evicted by its own pass. If eviction alone cannot make room,
// flushDirty is invoked to ask the owner to clean up dirty locks, and if
// that still isn't enough, ErrOverflow is returned for an Update when
// throwOnOverflow is set.
func (r *Recycler) adjustSize(incoming *lock.ResourceLock) error {
	start := time.Now()
	defer func() { r.metrics.observeAdjustSize(time.Since(start)) }()

	r.mu.Lock()
	over := r.currentSize[Hot] + r.currentSize[Cold] - r.capacity
	r.mu.Unlock()
	if over <= 0 {
		return nil
	}

	released := r.evictFrom(Cold, over, incoming)
	if released < over {
		released += r.evictFrom(Hot, over-released, incoming)
	}
	r.log.Debug().Int64("over", over).Int64("released", released).Msg("recycler: eviction pass")

	if released < over {
		if r.flushDirty != nil {
			r.flushDirty(over - released)
		}
		r.mu.Lock()
		stillOver := r.currentSize[Hot]+r.currentSize[Cold] > r.capacity
		r.mu.Unlock()
		if stillOver {
			if r.flushCallback != nil {
				r.flushCallback(false)
			}
			if r.throwOnOverflow && incoming != nil {
				r.log.Warn().Int64("over", over).Int64("released", released).
					Msg("recycler: overflow: capacity exceeded with no clean locks left to evict")
				r.metrics.observeOverflow()
				return ErrOverflow
			}
			return nil
		}
	}

	if r.flushCallback != nil {
		r.flushCallback(true)
	}
	return nil
}

// evictFrom removes clean (non-dirty) locks from buffer p, scanning from
// the back (least recently used) toward the front, until at least target
// bytes have been released or no clean candidate remains, returning how
// many bytes were actually released. Dirty locks are left in place; they
// are skipped over rather than evicted, since dropping their buffer would
// lose unflushed writes; keep is skipped over as well.
func (r *Recycler) evictFrom(p Priority, target int64, keep *lock.ResourceLock) int64 {
	var released int64
	for released < target {
		r.mu.Lock()
		var res *lock.ResourceLock
		for e := r.bufs[p].Back(); e != nil; e = r.bufs[p].Prev(e) {
			cand := e.(*lock.ResourceLock)
			if !cand.IsDirty() && cand != keep {
				res = cand
				break
			}
		}
		if res == nil {
			r.mu.Unlock()
			break
		}
		r.bufs[p].Remove(res)
		r.currentSize[p] -= res.Size()
		delete(r.membership, res)
		res.SetRecycled()
		released += res.Size()
		r.metrics.setResident(r.currentSize[Hot], r.currentSize[Cold])
		r.mu.Unlock()
	}
	r.metrics.observeEviction(p, released)
	return released
}
