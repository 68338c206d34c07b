// Package fixture implements spec.md §4.5/§4.6's external-collaborator
// layer: a Fixture wraps one prefix.Prefix plus the dram.Space the FT layer
// indexes into, forwards BeginAtomic/EndAtomic/CancelAtomic, and tracks
// whether it has unflushed writes so a Workspace's auto-commit poller only
// commits fixtures that actually changed. Grounded on
// original_source/src/dbzero/workspace/Fixture.hpp; the object-model
// members that header also carries (object catalogue, string pool, GC0,
// lang-cache, v-object cache) are out of scope per spec.md §1 and are not
// reproduced here.
package fixture

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dbzero-io/corestore/addr"
	"github.com/dbzero-io/corestore/dram"
	"github.com/dbzero-io/corestore/prefix"
)

// Fixture pairs one versioned page store with the in-memory page space the
// full-text layer persists posting lists into, per Fixture.hpp's
// "Memspace extension". The object catalogue, string pool, GC0, lang-cache,
// and v-object cache members of the original are out of scope (spec.md §1)
// and have no Go counterpart here.
type Fixture struct {
	name     string
	uuid     uint64
	prefix   *prefix.Prefix
	memspace *dram.Space
	log      zerolog.Logger

	// updated mirrors o_fixture::m_updated: for a read/write fixture it is
	// set whenever a mutation happens and cleared on a successful commit;
	// for a read-only fixture it is set only by OnUpdated and cleared once
	// Refresh runs. Workspace's refresh poller calls Refresh directly and
	// does not use it.
	updated atomic.Bool

	// atomicOpen is true between BeginAtomic and its matching EndAtomic/
	// CancelAtomic. The original's m_pre_commit flag instead lets a
	// background thread request a deferred commit that the embedding
	// language's main thread executes later -- a cross-thread handoff this
	// module has no use for, since Commit here is just a synchronized
	// method any goroutine may call directly. atomicOpen keeps the one
	// part of that contract this module still needs: auto-commit must not
	// fire while an atomic block is open.
	atomicOpen atomic.Bool

	closeMu       sync.Mutex
	closeHandlers []func(committed bool)
}

// New wraps p and memspace as a named fixture, generating a UUID the way
// o_fixture::m_UUID is auto-generated, per Fixture::getUUID.
func New(name string, p *prefix.Prefix, memspace *dram.Space, log zerolog.Logger) *Fixture {
	id := uuid.New()
	return &Fixture{
		name:     name,
		uuid:     binary.BigEndian.Uint64(id[:8]),
		prefix:   p,
		memspace: memspace,
		log:      log,
	}
}

// Name returns the fixture's prefix name.
func (f *Fixture) Name() string { return f.name }

// UUID returns the fixture's generated identity, per Fixture::getUUID.
func (f *Fixture) UUID() uint64 { return f.uuid }

// Prefix returns the underlying prefix.Prefix.
func (f *Fixture) Prefix() *prefix.Prefix { return f.prefix }

// Memspace returns the dram.Space the full-text layer indexes posting
// lists into, per spec.md §4.5: "Fixture gives the FT layer a Memspace".
func (f *Fixture) Memspace() *dram.Space { return f.memspace }

// OnUpdated marks the fixture dirty, per Fixture::onUpdated. Callers that
// mutate the prefix or the memspace outside of BeginAtomic/EndAtomic (which
// mark the fixture dirty on their own) must call this themselves.
func (f *Fixture) OnUpdated() { f.updated.Store(true) }

// BeginAtomic opens an atomic operation on the underlying prefix and marks
// the fixture as not eligible for auto-commit until it ends, per
// spec.md §4.6 and Fixture's pre-commit gating.
func (f *Fixture) BeginAtomic() error {
	if err := f.prefix.BeginAtomic(); err != nil {
		return err
	}
	f.atomicOpen.Store(true)
	return nil
}

// EndAtomic folds the atomic operation's writes into the fixture's
// transaction and marks it dirty.
func (f *Fixture) EndAtomic() error {
	err := f.prefix.EndAtomic()
	f.atomicOpen.Store(false)
	if err == nil {
		f.updated.Store(true)
	}
	return err
}

// CancelAtomic discards the atomic operation's writes.
func (f *Fixture) CancelAtomic() {
	f.prefix.CancelAtomic()
	f.atomicOpen.Store(false)
}

// Commit flushes the fixture if it has unflushed writes, per
// Fixture::commit/tryCommit. It is a no-op (returning the current state)
// when nothing changed since the last commit.
func (f *Fixture) Commit() (addr.StateNum, error) {
	return f.tryCommit()
}

// tryCommit is exported-method internals shared with Workspace's
// auto-commit poller, per Fixture::tryCommit.
func (f *Fixture) tryCommit() (addr.StateNum, error) {
	if f.atomicOpen.Load() {
		return f.prefix.GetStateNum(), fmt.Errorf("fixture: %s: cannot commit while an atomic operation is in progress", f.name)
	}
	if !f.updated.Swap(false) {
		return f.prefix.GetStateNum(), nil
	}
	state, err := f.prefix.Commit()
	if err != nil {
		// leave it dirty so the next attempt retries.
		f.updated.Store(true)
		return state, err
	}
	f.runCloseHandlers(true)
	return state, nil
}

// Refresh pulls in commits made by other processes, per Fixture::refresh.
// Only meaningful for a read-only fixture; a read/write fixture's own
// writes are already visible to it.
func (f *Fixture) Refresh() (addr.StateNum, error) {
	state, err := f.prefix.Refresh()
	if err == nil {
		f.updated.Store(false)
	}
	return state, err
}

// RefreshIfUpdated calls Refresh only if the fixture's updated flag is
// set, per Fixture::refreshIfUpdated. For a read-only fixture the flag is
// raised only by OnUpdated; Workspace's refresh poller does not set it.
func (f *Fixture) RefreshIfUpdated() (addr.StateNum, error) {
	if !f.updated.Load() {
		return f.prefix.GetStateNum(), nil
	}
	return f.Refresh()
}

// AddCloseHandler registers fn to run when the fixture next commits
// (committed=true) or closes without having committed (committed=false),
// per Fixture::addCloseHandler.
func (f *Fixture) AddCloseHandler(fn func(committed bool)) {
	f.closeMu.Lock()
	defer f.closeMu.Unlock()
	f.closeHandlers = append(f.closeHandlers, fn)
}

func (f *Fixture) runCloseHandlers(committed bool) {
	f.closeMu.Lock()
	handlers := f.closeHandlers
	f.closeMu.Unlock()
	for _, h := range handlers {
		h(committed)
	}
}

// Close flushes a final commit attempt, runs close handlers, and releases
// the underlying prefix, per Fixture::close.
func (f *Fixture) Close() error {
	committed := f.updated.Load()
	if _, err := f.tryCommit(); err != nil {
		f.log.Warn().Err(err).Str("fixture", f.name).Msg("fixture: final commit before close failed")
		committed = false
	}
	if !committed {
		f.runCloseHandlers(false)
	}
	return f.prefix.Close()
}
