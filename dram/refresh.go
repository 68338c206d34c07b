package dram

import (
	"encoding/binary"

	"github.com/dbzero-io/corestore/blockio"
	"github.com/dbzero-io/corestore/changelog"
)

// Load replays every DRAM-changelog record from logReader, fetching the
// referenced chunks from ioReader and overlaying them into the space. It is
// used both by a fresh Open (drain everything) and by Refresh (drain only
// what is new, since the last call left the readers positioned after the
// chunks already applied).
func (s *Space) Load(ioAlloc blockio.BlockAllocator, logReader *changelog.Reader) error {
	logReader.Drain(func(rec changelog.Record) {
		for _, p := range rec.Pages {
			chunkAddr := int64(p)
			payload, ok := readChunkAt(ioAlloc, chunkAddr)
			if !ok {
				continue
			}
			pageNum := PageNum(binary.LittleEndian.Uint64(payload[8:]))
			data := payload[16:]

			buf := make([]byte, s.pageSize)
			copy(buf, data)
			s.pages[pageNum] = buf
			delete(s.dirty, pageNum)

			if old, ok := s.chunkOf[pageNum]; ok {
				s.free[old] = struct{}{}
			}
			delete(s.free, chunkAddr)
			s.chunkOf[pageNum] = chunkAddr

			if pageNum >= s.next {
				s.next = pageNum + 1
			}
		}
	})
	return nil
}

// readChunkAt fetches the single chunk whose header begins at addr within
// the DRAM-IO stream, by seeking a fresh blockio.Reader to its block and
// offset and reading just that one chunk.
func readChunkAt(alloc blockio.BlockAllocator, chunkAddr int64) ([]byte, bool) {
	blockSize := alloc.BlockSize()
	block := chunkAddr / blockSize
	offset := chunkAddr % blockSize

	r := blockio.NewReader(alloc)
	r.Seek(block, offset)
	return r.Next()
}
