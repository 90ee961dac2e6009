// Package reader provides random access to the contents of a song
// archive through its table of contents. Archives are opened read-only;
// entry bodies are decoded block by block and optionally held in an
// in-memory cache so repeated reads of hot entries skip inflation.
package reader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rifftools/psarc/pkg/common"
	"github.com/rifftools/psarc/pkg/crypt"
	"github.com/rifftools/psarc/pkg/metrics"
	"github.com/rifftools/psarc/pkg/toc"
	"github.com/rifftools/psarc/pkg/zblock"
)

const defaultCacheBudget = 1 * 1e9

type Options struct {
	// CacheSize is the decoded block cache budget in bytes. Zero picks
	// the default budget, a negative value disables the cache.
	CacheSize int64
}

// Reader is a handle on an open archive. It is safe for concurrent use.
type Reader struct {
	src    io.ReaderAt
	size   int64
	closer io.Closer

	dir  *toc.Directory
	meta *common.ArchiveMeta

	nameErr error

	// storedPrefix[i] is the sum of stored sizes of blocks [0, i),
	// used to locate a block within its entry's stored region.
	storedPrefix []int64

	cache      *ristretto.Cache[string, []byte]
	cacheScope string
}

// Open opens the archive at path.
func Open(path string, opts Options) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	r, err := NewReader(file, info.Size(), opts)
	if err != nil {
		file.Close()
		return nil, err
	}

	r.closer = file
	return r, nil
}

// NewReader opens an archive from any positioned byte source. Sealed
// archives, whose bytes are encrypted end to end, are decrypted into
// memory transparently.
func NewReader(src io.ReaderAt, size int64, opts Options) (*Reader, error) {
	if size < common.HeaderLength {
		return nil, fmt.Errorf("%d byte source is too small for an archive header: %w", size, common.ErrInvalidFormat)
	}

	headerBytes := make([]byte, common.HeaderLength)
	if _, err := io.ReadFull(io.NewSectionReader(src, 0, common.HeaderLength), headerBytes); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	header, err := toc.ParseHeader(headerBytes)
	if errors.Is(err, common.ErrInvalidFormat) {
		src, header, err = unseal(src, size)
	}
	if err != nil {
		return nil, err
	}

	blob := make([]byte, header.TocBlobLength())
	if _, err := io.ReadFull(io.NewSectionReader(src, common.HeaderLength, int64(len(blob))), blob); err != nil {
		return nil, fmt.Errorf("read toc: %w", err)
	}
	if header.TocEncrypted() {
		blob = crypt.DecryptTOC(blob)
	}

	dir, err := toc.Parse(header, blob, size)
	if err != nil {
		return nil, err
	}

	r := &Reader{
		src:  src,
		size: size,
		dir:  dir,
		meta: &common.ArchiveMeta{Header: header, Index: common.NewEntryIndex()},
	}

	r.storedPrefix = make([]int64, dir.Blocks.Len()+1)
	for i := 0; i < dir.Blocks.Len(); i++ {
		stored, err := dir.Blocks.StoredSize(i)
		if err != nil {
			return nil, err
		}
		r.storedPrefix[i+1] = r.storedPrefix[i] + int64(stored)
	}

	if opts.CacheSize >= 0 {
		budget := opts.CacheSize
		if budget == 0 {
			budget = defaultCacheBudget
		}

		cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
			NumCounters: 1e7,
			MaxCost:     budget,
			BufferItems: 64,
		})
		if err != nil {
			return nil, err
		}

		r.cache = cache
		r.cacheScope = uuid.New().String()
	}

	if err := r.bindNames(); err != nil {
		// A damaged manifest leaves names unavailable but positional
		// access still works, so keep the archive open.
		log.Warn().Err(err).Msg("could not decode archive manifest, entry names unavailable")
		r.nameErr = err
	}

	log.Debug().
		Int("entries", len(r.dir.Visible())).
		Uint32("block_size", header.BlockSize).
		Bool("encrypted_toc", header.TocEncrypted()).
		Msg("opened archive")

	return r, nil
}

// bindNames reads the unnamed manifest record and pairs its paths with
// the remaining TOC entries.
func (r *Reader) bindNames() error {
	if r.dir.Header.TocEntryCount == 0 {
		return nil
	}

	manifest, err := r.readEntry(r.dir.Entries[0])
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	names := toc.DecodeManifest(manifest)
	if err := r.dir.BindNames(names); err != nil {
		return err
	}

	mismatched := 0
	for _, entry := range r.dir.Visible() {
		if common.PathDigest(entry.Name) != entry.NameDigest {
			mismatched++
		}
		r.meta.Insert(entry)
		r.meta.Entries = append(r.meta.Entries, entry)
	}
	if mismatched > 0 {
		log.Warn().Int("count", mismatched).Msg("entry name digests do not match manifest paths")
	}

	return nil
}

func (r *Reader) Header() common.ArchiveHeader {
	return r.dir.Header
}

func (r *Reader) ArchiveSize() int64 {
	return r.size
}

// EntryCount returns the number of content entries, excluding the
// manifest record.
func (r *Reader) EntryCount() int {
	return len(r.dir.Visible())
}

// NamesAvailable reports whether the manifest decoded cleanly and
// name-based lookups will work.
func (r *Reader) NamesAvailable() bool {
	return r.nameErr == nil
}

// Names returns entry paths in manifest order.
func (r *Reader) Names() []string {
	return r.meta.Names()
}

// ListEntries returns the content entries in TOC order.
func (r *Reader) ListEntries() []*common.Entry {
	return r.dir.Visible()
}

// StoredSpan returns the on-disk byte count of an entry's blocks.
func (r *Reader) StoredSpan(entry *common.Entry) (int64, error) {
	return r.dir.StoredSpan(entry)
}

// BlockSpan returns the number of blocks an entry occupies.
func (r *Reader) BlockSpan(entry *common.Entry) int {
	return entry.BlockSpan(r.dir.Blocks.BlockSize())
}

func (r *Reader) Lookup(name string) (*common.Entry, bool) {
	if r.nameErr != nil {
		return nil, false
	}
	entry := r.meta.Get(name)
	return entry, entry != nil
}

// ReadEntry returns the full decoded content of the named entry.
func (r *Reader) ReadEntry(name string) ([]byte, error) {
	entry, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, common.ErrEntryNotFound)
	}

	start := time.Now()
	data, err := r.readEntry(entry)
	if err != nil {
		return nil, err
	}

	metrics.RecordEntryRead(strings.ToLower(filepath.Ext(name)), int64(len(data)), time.Since(start))
	return data, nil
}

// ReadEntryByIndex returns the decoded content of TOC record index.
// Record 0 is the manifest.
func (r *Reader) ReadEntryByIndex(index int) ([]byte, error) {
	if index < 0 || index >= len(r.dir.Entries) {
		return nil, fmt.Errorf("record %d out of range (%d records): %w", index, len(r.dir.Entries), common.ErrEntryNotFound)
	}
	return r.readEntry(r.dir.Entries[index])
}

// EntryReader returns a positioned reader over the named entry.
func (r *Reader) EntryReader(name string) (*EntryReader, error) {
	entry, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, common.ErrEntryNotFound)
	}
	return &EntryReader{r: r, entry: entry}, nil
}

func (r *Reader) readEntry(entry *common.Entry) ([]byte, error) {
	if entry.Length == 0 {
		return []byte{}, nil
	}

	blockSize := r.dir.Blocks.BlockSize()
	span := entry.BlockSpan(blockSize)

	out := make([]byte, 0, entry.Length)
	remaining := entry.Length
	for k := 0; k < span; k++ {
		want := int64(blockSize)
		if remaining < want {
			want = remaining
		}

		chunk, err := r.block(entry, k, int(want))
		if err != nil {
			return nil, err
		}
		if int64(len(chunk)) != want {
			return nil, fmt.Errorf("block %d of record %d decoded to %d bytes, want %d: %w",
				k, entry.Index, len(chunk), want, common.ErrCorruptArchive)
		}

		out = append(out, chunk...)
		remaining -= want
	}

	return out, nil
}

// block loads and decodes block k of an entry's span, consulting the
// cache first. Callers must not mutate the returned slice.
func (r *Reader) block(entry *common.Entry, k int, want int) ([]byte, error) {
	index := int(entry.FirstBlock) + k

	var key string
	if r.cache != nil {
		key = fmt.Sprintf("%s:%d", r.cacheScope, index)
		if chunk, ok := r.cache.Get(key); ok {
			metrics.RecordCacheOperation(true, 0)
			return chunk, nil
		}
	}

	stored, err := r.dir.Blocks.StoredSize(index)
	if err != nil {
		return nil, err
	}
	offset := entry.Offset + r.storedPrefix[index] - r.storedPrefix[entry.FirstBlock]

	buf := make([]byte, stored)
	if _, err := io.ReadFull(io.NewSectionReader(r.src, offset, int64(stored)), buf); err != nil {
		return nil, fmt.Errorf("read block %d at offset %d: %w", index, offset, err)
	}

	chunk := zblock.DecodeBlock(buf, r.dir.Blocks.Raw(index), want)

	if r.cache != nil {
		r.cache.Set(key, chunk, int64(len(chunk)))
		metrics.RecordCacheOperation(false, int64(len(chunk)))
	}

	return chunk, nil
}

func (r *Reader) Close() error {
	if r.cache != nil {
		r.cache.Close()
	}
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// unseal buffers and decrypts an archive whose bytes are encrypted end
// to end, then re-reads the header from the plaintext.
func unseal(src io.ReaderAt, size int64) (io.ReaderAt, common.ArchiveHeader, error) {
	sealed := make([]byte, size)
	if _, err := io.ReadFull(io.NewSectionReader(src, 0, size), sealed); err != nil {
		return nil, common.ArchiveHeader{}, fmt.Errorf("read archive: %w", err)
	}

	plain := crypt.DecryptArchive(sealed)
	header, err := toc.ParseHeader(plain[:common.HeaderLength])
	if err != nil {
		return nil, common.ArchiveHeader{}, err
	}

	log.Debug().Msg("sealed archive decrypted in memory")
	return bytes.NewReader(plain), header, nil
}
