package main

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/dbzero-io/corestore/dram"
	"github.com/dbzero-io/corestore/fixture"
	"github.com/dbzero-io/corestore/invertedindex"
	"github.com/dbzero-io/corestore/prefix"
	"github.com/dbzero-io/corestore/recycler"
	"github.com/dbzero-io/corestore/storage"
)

// defaultCacheSize mirrors BaseWorkspace::DEFAULT_CACHE_SIZE (2GB).
const defaultCacheSize = 2 << 30

// session holds everything one dbzctl invocation or REPL needs across
// commands: the workspace every opened prefix is registered with for
// auto-commit/refresh coverage, and a per-name inverted index built over
// each fixture's memspace so the "tag"/"query" commands have somewhere
// to persist posting lists.
type session struct {
	log      zerolog.Logger
	ws       *fixture.Workspace
	rec      *recycler.Recycler
	registry *prometheus.Registry

	indexes map[string]*invertedindex.Index[string]
}

// newSession wires every opened prefix's storage and the shared recycler
// into registry's Prometheus collectors; registry may be nil to disable
// metrics entirely (see run's --metrics-addr handling in main.go).
func newSession(cfg fixture.Config, log zerolog.Logger, registry *prometheus.Registry) *session {
	return &session{
		log:      log,
		ws:       fixture.NewWorkspace(cfg, log),
		rec:      recycler.New(recycler.Options{Capacity: defaultCacheSize, Registry: registry, Logger: log}),
		registry: registry,
		indexes:  make(map[string]*invertedindex.Index[string]),
	}
}

// openPrefix opens (or creates) the storage file at path under name,
// registering the resulting fixture with the workspace.
func (s *session) openPrefix(name, path string, readOnly, create bool, pageSize, blockSize int64) (*fixture.Fixture, error) {
	if _, exists := s.ws.Get(name); exists {
		return nil, fmt.Errorf("dbzctl: %q is already open", name)
	}

	// Each prefix gets its own "prefix" label on the shared registry so two
	// prefixes open in the same session don't register identically-named
	// collectors against each other.
	var registerer prometheus.Registerer
	if s.registry != nil {
		registerer = prometheus.WrapRegistererWith(prometheus.Labels{"prefix": name}, s.registry)
	}
	opts := storage.Options{PageSize: pageSize, BlockSize: blockSize, Logger: s.log, Registry: registerer}

	var st *storage.Storage
	var err error
	if create {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("dbzctl: %s already exists", path)
		}
		st, err = storage.Create(path, opts)
	} else {
		access := storage.ReadWrite
		if readOnly {
			access = storage.ReadOnly
		}
		st, err = storage.Open(path, access, opts)
	}
	if err != nil {
		return nil, err
	}

	p := prefix.Open(name, st, s.rec, s.log)
	f := s.ws.Open(name, p, dram.NewSpace(int(st.GetPageSize())))
	s.indexes[name] = invertedindex.New[string](f.Memspace())
	return f, nil
}

func (s *session) fixture(name string) (*fixture.Fixture, error) {
	f, ok := s.ws.Get(name)
	if !ok {
		return nil, fmt.Errorf("dbzctl: no open prefix named %q", name)
	}
	return f, nil
}

func (s *session) index(name string) (*invertedindex.Index[string], error) {
	if _, err := s.fixture(name); err != nil {
		return nil, err
	}
	ix, ok := s.indexes[name]
	if !ok {
		return nil, fmt.Errorf("dbzctl: no inverted index for %q", name)
	}
	return ix, nil
}

func (s *session) names() []string {
	var out []string
	for name := range s.indexes {
		out = append(out, name)
	}
	return out
}

func (s *session) closeAll() error {
	return s.ws.Close()
}
