// Package zblock implements the per-block compression scheme shared by
// the archive reader and writer. Entry content is split into fixed-size
// chunks; each chunk is stored either zlib-deflated or verbatim,
// whichever is smaller, and the stored size of every block is recorded
// in a table appended to the TOC. A stored size of zero is the sentinel
// for a full uncompressed block, since a block of exactly blockSize
// bytes cannot be represented in the table's narrow slots.
package zblock

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"time"

	"github.com/rifftools/psarc/pkg/common"
	"github.com/rifftools/psarc/pkg/metrics"
)

// Deflate compresses one chunk. The compressed form is kept only when
// it is strictly smaller than the input; otherwise the chunk itself is
// returned and compressed is false.
func Deflate(chunk []byte) (stored []byte, compressed bool) {
	var buf bytes.Buffer

	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(chunk); err != nil {
		zw.Close()
		return chunk, false
	}
	if err := zw.Close(); err != nil {
		return chunk, false
	}

	if buf.Len() >= len(chunk) {
		return chunk, false
	}
	return buf.Bytes(), true
}

// Inflate decompresses one stored block, refusing to produce more than
// limit bytes.
func Inflate(stored []byte, limit int) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(stored))
	if err != nil {
		return nil, fmt.Errorf("inflate block: %w", common.ErrCorruptArchive)
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, int64(limit)+1))
	if err != nil {
		return nil, fmt.Errorf("inflate block: %w", common.ErrCorruptArchive)
	}
	if len(out) > limit {
		return nil, fmt.Errorf("inflated block exceeds %d bytes: %w", limit, common.ErrCorruptArchive)
	}
	return out, nil
}

// DecodeBlock resolves one stored block to its chunk content. Blocks
// recorded with the zero sentinel are full raw chunks and pass through
// untouched. Other blocks are inflated when they carry the zlib marker
// and copy through verbatim when they do not; a marker-carrying block
// that fails to inflate is treated as verbatim data, matching how
// archives in the wild are read. want caps the inflated size at the
// chunk the block is expected to produce.
func DecodeBlock(stored []byte, raw bool, want int) []byte {
	if raw || len(stored) == 0 || stored[0] != common.ZlibDeflateMarker {
		metrics.RecordRawCopy(int64(len(stored)))
		return stored
	}

	start := time.Now()
	chunk, err := Inflate(stored, want)
	if err != nil {
		metrics.RecordRawCopy(int64(len(stored)))
		return stored
	}
	metrics.RecordInflation(int64(len(chunk)), time.Since(start))
	return chunk
}

// SlotWidth returns the number of bytes needed to index any stored
// size below blockSize, which is the per-slot width of the block size
// table.
func SlotWidth(blockSize uint32) int {
	width := 1
	for size := uint64(256); size < uint64(blockSize); size *= 256 {
		width++
	}
	return width
}

// SizeTable records the stored byte count of every block in the
// archive, in block index order across all entries.
type SizeTable struct {
	blockSize uint32
	sizes     []uint32
}

func NewSizeTable(blockSize uint32) *SizeTable {
	return &SizeTable{blockSize: blockSize}
}

func (t *SizeTable) Len() int {
	return len(t.sizes)
}

func (t *SizeTable) BlockSize() uint32 {
	return t.blockSize
}

// Append records the stored size of the next block. A block stored as
// a full raw chunk is recorded with the zero sentinel.
func (t *SizeTable) Append(storedLen int) {
	if storedLen == int(t.blockSize) {
		t.sizes = append(t.sizes, 0)
		return
	}
	t.sizes = append(t.sizes, uint32(storedLen))
}

// StoredSize returns the on-disk byte count of block i with the zero
// sentinel resolved.
func (t *SizeTable) StoredSize(i int) (int, error) {
	if i < 0 || i >= len(t.sizes) {
		return 0, fmt.Errorf("block index %d out of range (%d blocks): %w", i, len(t.sizes), common.ErrCorruptArchive)
	}
	if t.sizes[i] == 0 {
		return int(t.blockSize), nil
	}
	return int(t.sizes[i]), nil
}

// Raw reports whether block i is stored as a full uncompressed chunk.
func (t *SizeTable) Raw(i int) bool {
	return i >= 0 && i < len(t.sizes) && t.sizes[i] == 0
}

// Encode serializes the table as back-to-back big-endian slots.
func (t *SizeTable) Encode() []byte {
	width := SlotWidth(t.blockSize)
	out := make([]byte, 0, len(t.sizes)*width)

	for _, size := range t.sizes {
		for shift := (width - 1) * 8; shift >= 0; shift -= 8 {
			out = append(out, byte(size>>shift))
		}
	}
	return out
}

// DecodeSizeTable parses the slot region that follows the entry records
// inside the TOC.
func DecodeSizeTable(data []byte, blockSize uint32) (*SizeTable, error) {
	width := SlotWidth(blockSize)
	if len(data)%width != 0 {
		return nil, fmt.Errorf("block size table length %d is not a multiple of %d: %w", len(data), width, common.ErrCorruptArchive)
	}

	table := NewSizeTable(blockSize)
	table.sizes = make([]uint32, 0, len(data)/width)

	for pos := 0; pos < len(data); pos += width {
		var size uint32
		for _, b := range data[pos : pos+width] {
			size = size<<8 | uint32(b)
		}
		table.sizes = append(table.sizes, size)
	}
	return table, nil
}
