package reader

import (
	"fmt"
	"io"

	"github.com/rifftools/psarc/pkg/common"
)

// EntryReader reads one entry's decoded content at arbitrary offsets.
// It implements io.ReaderAt and shares the parent reader's block cache,
// so interleaved reads across entries stay cheap.
type EntryReader struct {
	r     *Reader
	entry *common.Entry
}

func (er *EntryReader) Entry() *common.Entry {
	return er.entry
}

func (er *EntryReader) Size() int64 {
	return er.entry.Length
}

// Section returns a sequential io.Reader over the whole entry.
func (er *EntryReader) Section() *io.SectionReader {
	return io.NewSectionReader(er, 0, er.entry.Length)
}

func (er *EntryReader) ReadAt(dest []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("invalid read offset %d", off)
	}
	if off >= er.entry.Length {
		return 0, io.EOF
	}

	blockSize := int64(er.r.dir.Blocks.BlockSize())

	total := 0
	for total < len(dest) && off < er.entry.Length {
		k := int(off / blockSize)

		want := blockSize
		if rem := er.entry.Length - int64(k)*blockSize; rem < want {
			want = rem
		}

		chunk, err := er.r.block(er.entry, k, int(want))
		if err != nil {
			return total, err
		}
		if int64(len(chunk)) != want {
			return total, fmt.Errorf("block %d of record %d decoded to %d bytes, want %d: %w",
				k, er.entry.Index, len(chunk), want, common.ErrCorruptArchive)
		}

		n := copy(dest[total:], chunk[off-int64(k)*blockSize:])
		total += n
		off += int64(n)
	}

	if total < len(dest) {
		return total, io.EOF
	}
	return total, nil
}
