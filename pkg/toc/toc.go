// Package toc parses and builds the table of contents of an archive:
// the 32-byte header, the 30-byte entry records, the block size table
// and the manifest that names every entry.
package toc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/rifftools/psarc/pkg/common"
	"github.com/rifftools/psarc/pkg/zblock"
)

// Directory is the decoded table of contents: the parsed header, every
// entry record in TOC order, and the block size table covering all of
// their blocks. Entry names are bound separately once the manifest
// record has been decoded.
type Directory struct {
	Header  common.ArchiveHeader
	Entries []*common.Entry
	Blocks  *zblock.SizeTable
}

// ParseHeader validates and decodes the fixed 32-byte header.
func ParseHeader(data []byte) (common.ArchiveHeader, error) {
	header, err := common.DecodeHeader(data)
	if err != nil {
		return common.ArchiveHeader{}, err
	}

	if !bytes.Equal(header.Magic[:], common.PsarcMagic) {
		return common.ArchiveHeader{}, common.ErrInvalidFormat
	}
	if header.VersionMajor != common.FormatVersionMajor || header.VersionMinor != common.FormatVersionMinor {
		return common.ArchiveHeader{}, fmt.Errorf("version %d.%d: %w", header.VersionMajor, header.VersionMinor, common.ErrUnsupportedVersion)
	}
	if string(header.CompressionTag[:]) != common.CompressionTagZlib {
		return common.ArchiveHeader{}, fmt.Errorf("compression %q: %w", header.CompressionTag[:], common.ErrUnsupportedVersion)
	}
	if header.TocEntrySize != common.TocEntrySize {
		return common.ArchiveHeader{}, fmt.Errorf("entry size %d: %w", header.TocEntrySize, common.ErrCorruptArchive)
	}
	if header.BlockSize == 0 {
		return common.ArchiveHeader{}, fmt.Errorf("zero block size: %w", common.ErrCorruptArchive)
	}

	need := int64(common.HeaderLength) + int64(header.TocEntryCount)*common.TocEntrySize
	if int64(header.TocLength) < need {
		return common.ArchiveHeader{}, fmt.Errorf("toc length %d cannot hold %d records: %w", header.TocLength, header.TocEntryCount, common.ErrCorruptArchive)
	}

	return *header, nil
}

// Parse decodes the decrypted TOC region into a Directory and validates
// every record against the archive's size. The error for a bad record
// names how far parsing got.
func Parse(header common.ArchiveHeader, plaintext []byte, archiveSize int64) (*Directory, error) {
	if len(plaintext) != header.TocBlobLength() {
		return nil, fmt.Errorf("toc region has %d bytes, header says %d: %w", len(plaintext), header.TocBlobLength(), common.ErrCorruptArchive)
	}

	count := int(header.TocEntryCount)
	recordsLen := count * common.TocEntrySize

	entries := make([]*common.Entry, 0, count)
	for i := 0; i < count; i++ {
		record := plaintext[i*common.TocEntrySize : (i+1)*common.TocEntrySize]

		entry := &common.Entry{
			FirstBlock: binary.BigEndian.Uint32(record[16:20]),
			Length:     Uint40(record[20:25]),
			Offset:     Uint40(record[25:30]),
			Index:      i,
		}
		copy(entry.NameDigest[:], record[0:16])
		entries = append(entries, entry)
	}

	blocks, err := zblock.DecodeSizeTable(plaintext[recordsLen:], header.BlockSize)
	if err != nil {
		return nil, err
	}

	dir := &Directory{
		Header:  header,
		Entries: entries,
		Blocks:  blocks,
	}

	for i, entry := range entries {
		if err := dir.validateEntry(entry, archiveSize); err != nil {
			return nil, fmt.Errorf("entry %d of %d: %w", i, count, err)
		}
	}

	return dir, nil
}

func (d *Directory) validateEntry(entry *common.Entry, archiveSize int64) error {
	if entry.Length == 0 {
		return nil
	}

	if entry.Offset < int64(d.Header.TocLength) {
		return fmt.Errorf("data offset %d inside toc: %w", entry.Offset, common.ErrCorruptArchive)
	}

	span := entry.BlockSpan(d.Header.BlockSize)
	if int(entry.FirstBlock)+span > d.Blocks.Len() {
		return fmt.Errorf("blocks %d..%d past table end %d: %w", entry.FirstBlock, int(entry.FirstBlock)+span, d.Blocks.Len(), common.ErrCorruptArchive)
	}

	stored, err := d.StoredSpan(entry)
	if err != nil {
		return err
	}
	if entry.Offset+stored > archiveSize {
		return fmt.Errorf("data ends at %d past archive end %d: %w", entry.Offset+stored, archiveSize, common.ErrCorruptArchive)
	}

	return nil
}

// StoredSpan returns the total on-disk byte count of an entry's blocks.
func (d *Directory) StoredSpan(entry *common.Entry) (int64, error) {
	span := entry.BlockSpan(d.Header.BlockSize)

	var total int64
	for i := 0; i < span; i++ {
		size, err := d.Blocks.StoredSize(int(entry.FirstBlock) + i)
		if err != nil {
			return 0, err
		}
		total += int64(size)
	}
	return total, nil
}

// BindNames attaches manifest paths to the records that follow the
// manifest entry, pairing them positionally.
func (d *Directory) BindNames(names []string) error {
	if len(d.Entries) == 0 {
		if len(names) != 0 {
			return fmt.Errorf("%d names for empty archive: %w", len(names), common.ErrCorruptArchive)
		}
		return nil
	}
	if len(names) != len(d.Entries)-1 {
		return fmt.Errorf("%d names for %d records: %w", len(names), len(d.Entries), common.ErrCorruptArchive)
	}

	for i, name := range names {
		d.Entries[i+1].Name = name
	}
	return nil
}

// Visible returns the entries a caller can address by name, excluding
// the manifest record.
func (d *Directory) Visible() []*common.Entry {
	if len(d.Entries) == 0 {
		return nil
	}
	return d.Entries[1:]
}

// EncodeEntries serializes entry records back-to-back in TOC order.
func EncodeEntries(entries []*common.Entry) ([]byte, error) {
	out := make([]byte, 0, len(entries)*common.TocEntrySize)

	for _, entry := range entries {
		if entry.Length > common.MaxUint40 || entry.Offset > common.MaxUint40 {
			return nil, fmt.Errorf("entry %q length %d offset %d: %w", entry.Name, entry.Length, entry.Offset, common.ErrCapacityExceeded)
		}

		var record [common.TocEntrySize]byte
		copy(record[0:16], entry.NameDigest[:])
		binary.BigEndian.PutUint32(record[16:20], entry.FirstBlock)
		PutUint40(record[20:25], entry.Length)
		PutUint40(record[25:30], entry.Offset)
		out = append(out, record[:]...)
	}
	return out, nil
}

// EncodeManifest builds the content of the manifest record: the
// newline-joined path list for every named entry.
func EncodeManifest(names []string) []byte {
	return []byte(strings.Join(names, "\n"))
}

// DecodeManifest splits the manifest record's content into entry paths,
// dropping blank lines. Content that is not valid UTF-8 is run through
// the legacy encodings seen in third-party archives before giving up
// and taking the bytes as-is.
func DecodeManifest(data []byte) []string {
	text := decodeManifestText(data)

	var names []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			names = append(names, line)
		}
	}
	return names
}

func decodeManifestText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}

	decoders := []*encoding.Decoder{
		unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder(),
		charmap.Windows1252.NewDecoder(),
		charmap.ISO8859_1.NewDecoder(),
	}
	for _, decoder := range decoders {
		if out, err := decoder.Bytes(data); err == nil && utf8.Valid(out) {
			return string(out)
		}
	}
	return string(data)
}
