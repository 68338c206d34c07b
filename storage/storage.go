// Package storage implements spec.md §4.1 in full: a single prefix file
// composing a block I/O stream, a page I/O region, a DRAM page space, a
// change-log stream, and a sparse/diff index pair into one MVCC
// read/write/refresh engine.
package storage

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/exp/mmap"
	"golang.org/x/sys/unix"

	"github.com/dbzero-io/corestore/addr"
	"github.com/dbzero-io/corestore/blockio"
	"github.com/dbzero-io/corestore/changelog"
	"github.com/dbzero-io/corestore/pagecache"
	"github.com/dbzero-io/corestore/pageio"
	"github.com/dbzero-io/corestore/sparseindex"
)

// Access describes how a Storage was opened.
type Access int

const (
	// ReadWrite storages may Write, WriteDiffs, and Flush.
	ReadWrite Access = iota
	// ReadOnly storages may only Read and Refresh.
	ReadOnly
)

// Flags refine a Read call.
type Flags int

const (
	// FlagNone requests ordinary read semantics: a miss is ErrPageNotFound.
	FlagNone Flags = 0
	// FlagCreate requests write/create semantics: a miss is filled with
	// zeros instead of erroring.
	FlagCreate Flags = 1 << iota
)

// Storage is one prefix file: its four sub-streams, data page region, and
// sparse/diff indexes, exposed as the MVCC read/write/refresh API of
// spec.md §6.
type Storage struct {
	mu sync.Mutex // serializes Flush against concurrent Write/commit, §5

	file     *os.File
	access   Access
	cfg      configRecord
	pageSize int64
	log      zerolog.Logger
	metrics  *metrics

	tail int64 // shared file-tail cursor for all chained streams + pages

	dramIO        *chainedStream
	dpChangelog   *chainedStream
	dramChangelog *chainedStream

	pages      *pageio.Pages
	pageCache  *pagecache.Cache
	cachedFile interface {
		ReadAt([]byte, int64) (int, error)
	}

	// mmapReader backs cachedFile instead of file for a ReadOnly storage:
	// a reader never writes, so the whole data-page region can be mapped
	// once at Open instead of read()/pread() a page at a time.
	mmapReader *mmap.ReaderAt

	sparse *sparseindex.Index
	diffs  *sparseindex.DiffIndex

	dpLogWriter *changelog.Writer

	headState addr.StateNum
	mvMu      sync.RWMutex // guards headState and lastUpdated

	lastUpdated time.Time

	onPageUpdated func(page addr.LogicalPage, state addr.StateNum)

	// pendingDiffPages accumulates pages touched by WriteDiffs since the
	// last Flush, mirroring what sparse.TakePending() does for plain Write.
	pendingDiffPages []addr.LogicalPage

	// replay cursor into the DP change-log, used by Open and Refresh. See
	// replayAll's doc comment for the scope limitation this implies on a
	// cross-process reopen of a prefix with existing data pages.
	dpReadBlock    int64
	dpReadOffset   int64
	dramReadBlock  int64
	dramReadOffset int64
}

// Options configure Create/Open.
type Options struct {
	PageSize     int64
	BlockSize    int64
	DRAMPageSize int64
	Logger       zerolog.Logger
	// PageCachePages sets how many physical pages the OS-level read cache
	// (pagecache.Cache) should hold. 0 disables it.
	PageCachePages int64
	// Registry, if non-nil, receives this Storage's Prometheus collectors
	// (flush latency, and page cache hit rate/residency when
	// PageCachePages > 0). A nil Registry disables metrics entirely. Callers
	// opening more than one Storage against the same *prometheus.Registry
	// must pass a distinctly-labeled prometheus.WrapRegistererWith so the
	// two prefixes' identically-named collectors don't collide.
	Registry prometheus.Registerer
}

func (o *Options) setDefaults() {
	if o.PageSize <= 0 {
		o.PageSize = 4096
	}
	if o.BlockSize <= 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.DRAMPageSize <= 0 {
		o.DRAMPageSize = DefaultDRAMPageSize
	}
}

// Create initializes a new prefix file at path and returns it opened for
// read-write access.
func Create(path string, opts Options) (*Storage, error) {
	opts.setDefaults()
	if opts.PageSize < 4096 || opts.PageSize&(opts.PageSize-1) != 0 {
		return nil, fmt.Errorf("storage: page size must be a power of two >= 4096, got %d", opts.PageSize)
	}

	// The four sub-stream offsets are fixed once their first block is
	// carved out, right after the CONFIG_BLOCK.
	cfg := configRecord{
		Magic:        Magic,
		Version:      Version,
		BlockSize:    uint32(opts.BlockSize),
		PageSize:     uint32(opts.PageSize),
		DRAMPageSize: uint32(opts.DRAMPageSize),
	}

	if err := writeConfigAtomically(path, cfg); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := flockExclusive(file); err != nil {
		file.Close()
		return nil, err
	}

	tail := int64(ConfigBlockSize)
	s := &Storage{
		file:     file,
		access:   ReadWrite,
		pageSize: opts.PageSize,
		log:      opts.Logger,
		tail:     tail,
	}

	s.dramIO = newChainedStream(file, opts.BlockSize, &s.tail)
	s.dpChangelog = newChainedStream(file, opts.BlockSize, &s.tail)
	s.dramChangelog = newChainedStream(file, opts.BlockSize, &s.tail)

	for _, st := range []*chainedStream{s.dramIO, s.dpChangelog, s.dramChangelog} {
		if err := st.allocateFirst(); err != nil {
			file.Close()
			return nil, err
		}
	}
	cfg.DRAMIOOffset = uint64(s.dramIO.firstOffset)
	cfg.DPChangelogOffset = uint64(s.dpChangelog.firstOffset)
	cfg.DRAMChangelogOffset = uint64(s.dramChangelog.firstOffset)
	cfg.WALOffset = 0 // reserved, unused: see spec.md §1 Non-goals (no WAL-level durability beyond fsync)
	cfg.DataPagesOffset = uint64(s.tail)
	s.cfg = cfg

	if _, err := file.WriteAt(cfg.encode(), 0); err != nil {
		file.Close()
		return nil, fmt.Errorf("storage: finalizing config record: %w", err)
	}

	s.sparse = sparseindex.New()
	s.diffs = sparseindex.NewDiffIndex()

	dpWriter, err := blockio.NewWriter(s.dpChangelog, 0, 0)
	if err != nil {
		file.Close()
		return nil, err
	}
	s.dpLogWriter = changelog.NewWriter(dpWriter)

	pages, err := pageio.New(file, s.tail, opts.PageSize, opts.BlockSize, 0, s.growFile, s.fileEnd)
	if err != nil {
		file.Close()
		return nil, err
	}
	s.pages = pages

	s.initPageCache(opts.PageCachePages)
	s.metrics = newMetrics(opts.Registry, s.pageCache, s.pageSize)
	s.lastUpdated = time.Now()
	s.log.Debug().Str("path", path).Int64("page_size", opts.PageSize).Msg("storage: created prefix")
	return s, nil
}

// Open opens an existing prefix file for the given access mode.
func Open(path string, access Access, opts Options) (*Storage, error) {
	flags := os.O_RDWR
	if access == ReadOnly {
		flags = os.O_RDONLY
	}
	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, err
	}

	header := make([]byte, ConfigBlockSize)
	if _, err := file.ReadAt(header, 0); err != nil {
		file.Close()
		return nil, fmt.Errorf("storage: reading config record: %w", err)
	}
	cfg, err := decodeConfig(header)
	if err != nil {
		file.Close()
		return nil, err
	}

	if access == ReadWrite {
		if err := flockExclusive(file); err != nil {
			file.Close()
			return nil, err
		}
	} else {
		if err := flockShared(file); err != nil {
			file.Close()
			return nil, err
		}
	}

	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	s := &Storage{
		file:     file,
		access:   access,
		cfg:      cfg,
		pageSize: int64(cfg.PageSize),
		log:      opts.Logger,
		tail:     fi.Size(),
	}

	if access == ReadOnly {
		mr, err := mmap.Open(path)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("storage: mmap-opening read-only prefix: %w", err)
		}
		s.mmapReader = mr
	}

	s.dramIO = newChainedStream(file, int64(cfg.BlockSize), &s.tail)
	s.dpChangelog = newChainedStream(file, int64(cfg.BlockSize), &s.tail)
	s.dramChangelog = newChainedStream(file, int64(cfg.BlockSize), &s.tail)

	if err := s.dramIO.open(int64(cfg.DRAMIOOffset)); err != nil {
		file.Close()
		return nil, err
	}
	if err := s.dpChangelog.open(int64(cfg.DPChangelogOffset)); err != nil {
		file.Close()
		return nil, err
	}
	if err := s.dramChangelog.open(int64(cfg.DRAMChangelogOffset)); err != nil {
		file.Close()
		return nil, err
	}

	s.sparse = sparseindex.New()
	s.diffs = sparseindex.NewDiffIndex()

	// Replay the entire DP change-log to rebuild the sparse index and head
	// state. A from-scratch rebuild like this is the same recovery path
	// Refresh uses incrementally; at Open we simply have not drained
	// anything yet.
	s.replayAll()

	dpWriter, err := blockio.NewWriter(s.dpChangelog, s.dpTailBlock(), s.dpTailOffset())
	if err != nil {
		file.Close()
		return nil, err
	}
	s.dpLogWriter = changelog.NewWriter(dpWriter)

	pagesAlreadyWritten := dataPageCount(fi.Size(), int64(cfg.DataPagesOffset), int64(cfg.BlockSize), int64(cfg.PageSize))
	pages, err := pageio.New(file, int64(cfg.DataPagesOffset), int64(cfg.PageSize), int64(cfg.BlockSize), pagesAlreadyWritten, s.growFile, s.fileEnd)
	if err != nil {
		file.Close()
		return nil, err
	}
	s.pages = pages

	s.initPageCache(opts.PageCachePages)
	s.metrics = newMetrics(opts.Registry, s.pageCache, s.pageSize)
	s.lastUpdated = fi.ModTime()
	s.log.Debug().Str("path", path).Bool("read_only", access == ReadOnly).
		Uint64("state", uint64(s.headState)).Msg("storage: opened prefix")
	return s, nil
}

func (s *Storage) initPageCache(pages int64) {
	// A ReadOnly storage never writes, so its data-page reads go through
	// the mmap'd view of the file opened alongside it in Open, rather
	// than through read()/pread() against s.file.
	var base interface {
		ReadAt([]byte, int64) (int, error)
	} = s.file
	if s.mmapReader != nil {
		base = s.mmapReader
	}

	if pages <= 0 {
		s.cachedFile = base
		return
	}
	c := pagecache.New(
		pagecache.PageSize(s.pageSize),
		pagecache.PageCount(pages),
	)
	s.pageCache = c
	s.cachedFile = c.NewFile(0, base, 1<<62)
}

func (s *Storage) growFile(newEnd int64) error {
	if newEnd > s.tail {
		s.tail = newEnd
	}
	return nil
}

func (s *Storage) fileEnd() int64 { return s.tail }

// dataPageCount infers how many physical pages have already been appended
// to the data-page region purely from the file's current size: Append fills
// each block's page slots in order before allocating the next block, so the
// region's byte length decomposes into whole filled blocks plus a
// whole-pages-only partial remainder, with no need to consult the sparse
// index (which this implementation does not reconstruct at Open, see
// replayAll's doc comment).
func dataPageCount(fileSize, dataPagesOffset, blockSize, pageSize int64) int64 {
	regionBytes := fileSize - dataPagesOffset
	if regionBytes <= 0 {
		return 0
	}
	capacity := blockSize / pageSize
	fullBlocks := regionBytes / blockSize
	partialBytes := regionBytes % blockSize
	return fullBlocks*capacity + partialBytes/pageSize
}

// dpTailBlock/dpTailOffset are bootstrap helpers used only by Open, to
// resume the DP change-log writer exactly where replayAll's replay left
// off.
func (s *Storage) dpTailBlock() int64  { return s.dpReadBlock }
func (s *Storage) dpTailOffset() int64 { return s.dpReadOffset }

// flockExclusive/flockShared take an advisory OS-level lock enforcing
// spec.md §3 invariant 1 ("at most one writable lock... per prefix") at the
// process level, not just within one Storage instance.
func flockExclusive(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return fmt.Errorf("storage: another writer already holds this prefix: %w", err)
	}
	return nil
}

func flockShared(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_SH|unix.LOCK_NB)
}

// GetMaxStateNum returns the prefix's current head state.
func (s *Storage) GetMaxStateNum() addr.StateNum {
	s.mvMu.RLock()
	defer s.mvMu.RUnlock()
	return s.headState
}

// GetLastUpdated returns the wall-clock time of the last observed commit
// (by this writer, or by the most recent Refresh for a reader).
func (s *Storage) GetLastUpdated() time.Time {
	s.mvMu.RLock()
	defer s.mvMu.RUnlock()
	return s.lastUpdated
}

// GetPageSize returns the prefix's fixed page size in bytes.
func (s *Storage) GetPageSize() int64 {
	return s.pageSize
}

// GetAccessType reports whether the prefix was opened ReadWrite or ReadOnly.
func (s *Storage) GetAccessType() Access {
	return s.access
}

// Close releases the prefix file, including its advisory lock, and unmaps
// the read-only mmap view if one was opened.
func (s *Storage) Close() error {
	if s.mmapReader != nil {
		if err := s.mmapReader.Close(); err != nil {
			s.file.Close()
			return err
		}
	}
	return s.file.Close()
}
