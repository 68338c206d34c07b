package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
)

// Magic is the prefix file's magic number, per spec.md §6.
const Magic uint64 = 0x0DB0DB0DB0DB0DB0

// Version is the on-disk format version written by this implementation.
const Version uint32 = 1

// ConfigBlockSize is the fixed size of the leading configuration record,
// per spec.md §6.
const ConfigBlockSize = 4096

// DefaultBlockSize is the default sub-stream/data block size.
const DefaultBlockSize = 64 * 1024

// DefaultDRAMPageSize is the default DRAM page-space page size.
const DefaultDRAMPageSize = 4096

// configRecord is the fixed-layout header written at byte 0 of a prefix
// file, exactly as spec.md §6 describes it.
type configRecord struct {
	Magic        uint64
	Version      uint32
	BlockSize    uint32
	PageSize     uint32
	DRAMPageSize uint32
	_            uint32 // padding so the offsets below are 8-byte aligned

	DRAMIOOffset        uint64
	WALOffset           uint64
	DRAMChangelogOffset uint64
	DPChangelogOffset   uint64
	DataPagesOffset     uint64 // fixed start of the data-page region, set once at Create
}

const configRecordSize = 8 + 4 + 4 + 4 + 4 + 4 + 8 + 8 + 8 + 8 + 8 // = 64

func (c configRecord) encode() []byte {
	buf := make([]byte, ConfigBlockSize)
	binary.LittleEndian.PutUint64(buf[0:], c.Magic)
	binary.LittleEndian.PutUint32(buf[8:], c.Version)
	binary.LittleEndian.PutUint32(buf[12:], c.BlockSize)
	binary.LittleEndian.PutUint32(buf[16:], c.PageSize)
	binary.LittleEndian.PutUint32(buf[20:], c.DRAMPageSize)
	binary.LittleEndian.PutUint64(buf[24:], c.DRAMIOOffset)
	binary.LittleEndian.PutUint64(buf[32:], c.WALOffset)
	binary.LittleEndian.PutUint64(buf[40:], c.DRAMChangelogOffset)
	binary.LittleEndian.PutUint64(buf[48:], c.DPChangelogOffset)
	binary.LittleEndian.PutUint64(buf[56:], c.DataPagesOffset)
	return buf
}

func decodeConfig(buf []byte) (configRecord, error) {
	if len(buf) < configRecordSize {
		return configRecord{}, fmt.Errorf("storage: config record too short (%d bytes)", len(buf))
	}
	var c configRecord
	c.Magic = binary.LittleEndian.Uint64(buf[0:])
	if c.Magic != Magic {
		return configRecord{}, fmt.Errorf("storage: bad magic %#x, expected %#x", c.Magic, Magic)
	}
	c.Version = binary.LittleEndian.Uint32(buf[8:])
	c.BlockSize = binary.LittleEndian.Uint32(buf[12:])
	c.PageSize = binary.LittleEndian.Uint32(buf[16:])
	c.DRAMPageSize = binary.LittleEndian.Uint32(buf[20:])
	c.DRAMIOOffset = binary.LittleEndian.Uint64(buf[24:])
	c.WALOffset = binary.LittleEndian.Uint64(buf[32:])
	c.DRAMChangelogOffset = binary.LittleEndian.Uint64(buf[40:])
	c.DPChangelogOffset = binary.LittleEndian.Uint64(buf[48:])
	c.DataPagesOffset = binary.LittleEndian.Uint64(buf[56:])
	return c, nil
}

// writeConfigAtomically creates path (it must not already exist) and writes
// the CONFIG_BLOCK as its first bytes using an atomic rename, so a crash
// between open() and the header write never leaves behind a file with a
// torn, half-written header for a concurrent opener to trip over.
func writeConfigAtomically(path string, c configRecord) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("storage: %s already exists", path)
	}
	return atomic.WriteFile(path, bytes.NewReader(c.encode()))
}
