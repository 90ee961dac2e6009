// Package writer assembles song archives. Entries are queued on a
// Builder and streamed out block by block on Finalize, which writes the
// archive atomically next to its destination path.
package writer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rifftools/psarc/pkg/common"
	"github.com/rifftools/psarc/pkg/crypt"
	"github.com/rifftools/psarc/pkg/toc"
	"github.com/rifftools/psarc/pkg/zblock"
)

type Options struct {
	// BlockSize is the chunking granularity. Zero picks the default
	// 64 KiB used by archives in the wild.
	BlockSize uint32

	// EncryptTOC seals the table of contents region.
	EncryptTOC bool

	// SealArchive encrypts the finished archive end to end, on top of
	// any TOC encryption.
	SealArchive bool
}

type pendingEntry struct {
	name       string
	data       []byte
	sourcePath string
}

// Builder accumulates entries for a new archive. It is not safe for
// concurrent use. A Builder can be finalized once.
type Builder struct {
	opts      Options
	pending   []*pendingEntry
	seen      map[string]struct{}
	finalized bool

	compressedBlocks int
	rawBlocks        int
}

func New(opts Options) *Builder {
	if opts.BlockSize == 0 {
		opts.BlockSize = common.DefaultBlockSize
	}

	return &Builder{
		opts: opts,
		seen: make(map[string]struct{}),
	}
}

// normalizeName converts archive paths to forward slashes without a
// leading separator, the layout song archives use.
func normalizeName(name string) string {
	return strings.TrimLeft(strings.ReplaceAll(name, "\\", "/"), "/")
}

func (b *Builder) checkName(name string) (string, error) {
	if b.finalized {
		return "", common.ErrWriterFinalized
	}

	name = normalizeName(name)
	if name == "" {
		return "", fmt.Errorf("entry name is empty")
	}
	if strings.ContainsAny(name, "\n\r") {
		return "", fmt.Errorf("entry name %q contains a line break", name)
	}
	if _, exists := b.seen[name]; exists {
		return "", fmt.Errorf("%s: %w", name, common.ErrDuplicateEntry)
	}

	return name, nil
}

// Add queues an in-memory entry. The data slice is not copied and must
// stay unchanged until Finalize returns.
func (b *Builder) Add(name string, data []byte) error {
	name, err := b.checkName(name)
	if err != nil {
		return err
	}
	if int64(len(data)) > common.MaxUint40 {
		return fmt.Errorf("%s is %d bytes: %w", name, len(data), common.ErrCapacityExceeded)
	}

	b.seen[name] = struct{}{}
	b.pending = append(b.pending, &pendingEntry{name: name, data: data})
	return nil
}

// AddFile queues an entry whose content is read from sourcePath during
// Finalize.
func (b *Builder) AddFile(name string, sourcePath string) error {
	name, err := b.checkName(name)
	if err != nil {
		return err
	}

	info, err := os.Stat(sourcePath)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", sourcePath)
	}
	if info.Size() > common.MaxUint40 {
		return fmt.Errorf("%s is %d bytes: %w", name, info.Size(), common.ErrCapacityExceeded)
	}

	b.seen[name] = struct{}{}
	b.pending = append(b.pending, &pendingEntry{name: name, sourcePath: sourcePath})
	return nil
}

// Count returns the number of queued entries.
func (b *Builder) Count() int {
	return len(b.pending)
}

// Discard drops all queued entries and retires the builder.
func (b *Builder) Discard() {
	b.pending = nil
	b.finalized = true
}

// Finalize writes the archive to outputPath. The archive is assembled
// under a temporary name and moved into place only when complete, with
// a lock file warding off concurrent writers of the same path.
func (b *Builder) Finalize(outputPath string) error {
	if b.finalized {
		return common.ErrWriterFinalized
	}

	tmpPath := fmt.Sprintf("%s.%s", outputPath, uuid.New().String()[:6])
	lockPath := fmt.Sprintf("%s.lock", outputPath)

	fileLock := flock.New(lockPath)

	locked, err := fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock for %s: %w", outputPath, err)
	}
	if !locked {
		return fmt.Errorf("%s: %w", outputPath, common.ErrArchiveLocked)
	}

	defer fileLock.Unlock()
	defer os.Remove(lockPath)

	err = b.writeArchive(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, outputPath); err != nil {
		os.Remove(tmpPath)
		return err
	}

	b.finalized = true

	log.Info().Msgf("Wrote archive <%s> (%d entries, %d compressed / %d raw blocks)",
		outputPath, len(b.pending), b.compressedBlocks, b.rawBlocks)
	return nil
}

func (b *Builder) writeArchive(path string) error {
	outFile, err := os.Create(path)
	if err != nil {
		return err
	}
	defer outFile.Close()

	blockSize := b.opts.BlockSize
	width := zblock.SlotWidth(blockSize)

	names := make([]string, 0, len(b.pending))
	for _, p := range b.pending {
		names = append(names, p.name)
	}
	manifest := toc.EncodeManifest(names)

	// Entry lengths are pinned before streaming so the TOC region size,
	// and with it every data offset, is known upfront.
	lengths := make([]int64, 0, len(b.pending))
	for _, p := range b.pending {
		if p.sourcePath == "" {
			lengths = append(lengths, int64(len(p.data)))
			continue
		}
		info, err := os.Stat(p.sourcePath)
		if err != nil {
			return err
		}
		lengths = append(lengths, info.Size())
	}

	recordCount := 0
	totalBlocks := 0
	if len(b.pending) > 0 {
		recordCount = len(b.pending) + 1
		totalBlocks = blocksOf(int64(len(manifest)), blockSize)
		for _, length := range lengths {
			totalBlocks += blocksOf(length, blockSize)
		}
	}

	tocLength := common.HeaderLength + recordCount*common.TocEntrySize + totalBlocks*width
	if int64(tocLength) > math.MaxUint32 {
		return fmt.Errorf("toc region is %d bytes: %w", tocLength, common.ErrCapacityExceeded)
	}

	// Write placeholder bytes for the header and TOC region
	if _, err := outFile.Write(make([]byte, tocLength)); err != nil {
		return err
	}

	table := zblock.NewSizeTable(blockSize)
	entries := make([]*common.Entry, 0, recordCount)
	cursor := int64(tocLength)

	if len(b.pending) > 0 {
		written, entry, err := b.writeEntry(outFile, bytes.NewReader(manifest), table, cursor)
		if err != nil {
			return fmt.Errorf("write manifest: %w", err)
		}
		if written != int64(len(manifest)) {
			return fmt.Errorf("manifest wrote %d of %d bytes", written, len(manifest))
		}
		entry.Index = 0
		entries = append(entries, entry)
		cursor += storedSpan(table, entry.FirstBlock)
	}

	for i, p := range b.pending {
		var src io.Reader
		if p.sourcePath == "" {
			src = bytes.NewReader(p.data)
		} else {
			f, err := os.Open(p.sourcePath)
			if err != nil {
				return err
			}
			src = f
		}

		written, entry, err := b.writeEntry(outFile, src, table, cursor)
		if closer, ok := src.(io.Closer); ok {
			closer.Close()
		}
		if err != nil {
			return fmt.Errorf("write entry %s: %w", p.name, err)
		}
		if written != lengths[i] {
			return fmt.Errorf("%s changed size while archiving (%d of %d bytes)", p.name, written, lengths[i])
		}

		entry.Index = i + 1
		entry.Name = p.name
		entry.NameDigest = common.PathDigest(p.name)
		entries = append(entries, entry)
		cursor += storedSpan(table, entry.FirstBlock)
	}

	if table.Len() != totalBlocks {
		return fmt.Errorf("streamed %d blocks, expected %d", table.Len(), totalBlocks)
	}

	records, err := toc.EncodeEntries(entries)
	if err != nil {
		return err
	}

	blob := append(records, table.Encode()...)
	if len(blob) != tocLength-common.HeaderLength {
		return fmt.Errorf("toc region is %d bytes, expected %d", len(blob), tocLength-common.HeaderLength)
	}

	header := common.NewArchiveHeader(blockSize)
	header.TocLength = uint32(tocLength)
	header.TocEntryCount = uint32(recordCount)
	header.ArchiveFlags = common.ArchiveFlagPlainTOC
	if b.opts.EncryptTOC {
		header.ArchiveFlags = common.ArchiveFlagCryptTOC
		blob = crypt.EncryptTOC(blob)
	}

	headerBytes, err := header.Encode()
	if err != nil {
		return err
	}

	// Go back and fill in the real header and TOC
	if _, err := outFile.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := outFile.Write(headerBytes); err != nil {
		return err
	}
	if _, err := outFile.Write(blob); err != nil {
		return err
	}

	if err := outFile.Close(); err != nil {
		return err
	}

	if b.opts.SealArchive {
		return sealFile(path)
	}
	return nil
}

// writeEntry streams one entry's chunks through the block codec,
// appending stored sizes to the table. The returned entry carries the
// block span and offsets; name fields are left for the caller.
func (b *Builder) writeEntry(w io.Writer, src io.Reader, table *zblock.SizeTable, offset int64) (int64, *common.Entry, error) {
	firstBlock := table.Len()

	buf := make([]byte, table.BlockSize())
	var written int64
	for {
		n, err := io.ReadFull(src, buf)
		if n > 0 {
			stored, compressed := zblock.Deflate(buf[:n])
			if _, werr := w.Write(stored); werr != nil {
				return written, nil, werr
			}
			table.Append(len(stored))
			written += int64(n)

			if compressed {
				b.compressedBlocks++
			} else {
				b.rawBlocks++
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return written, nil, err
		}
	}

	entry := &common.Entry{
		FirstBlock: uint32(firstBlock),
		Length:     written,
		Offset:     offset,
	}
	return written, entry, nil
}

// storedSpan sums the stored sizes of the blocks appended from
// firstBlock onward.
func storedSpan(table *zblock.SizeTable, firstBlock uint32) int64 {
	var span int64
	for i := int(firstBlock); i < table.Len(); i++ {
		stored, err := table.StoredSize(i)
		if err != nil {
			return span
		}
		span += int64(stored)
	}
	return span
}

// sealFile rewrites a finished archive with end to end encryption.
func sealFile(path string) error {
	plain, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return os.WriteFile(path, crypt.EncryptArchive(plain), 0644)
}

func blocksOf(length int64, blockSize uint32) int {
	if length == 0 {
		return 0
	}
	return int((length + int64(blockSize) - 1) / int64(blockSize))
}
