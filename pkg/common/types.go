package common

import (
	"crypto/md5"

	"github.com/tidwall/btree"
)

// Entry is one record in the archive's table of contents. Record 0 is
// the unnamed manifest whose content lists the paths of every other
// record; it never appears in name lookups.
type Entry struct {
	NameDigest [16]byte // md5 of the archive-relative path, zero for the manifest
	FirstBlock uint32   // index of the entry's first slot in the block size table
	Length     int64    // uncompressed byte length
	Offset     int64    // absolute file offset of the entry's first stored block
	Name       string   // manifest path, empty for the manifest record itself
	Index      int      // record index within the TOC
}

// IsManifest returns true if the Entry is the archive's manifest record.
func (e *Entry) IsManifest() bool {
	return e.Index == 0 && e.Name == ""
}

// BlockSpan returns the number of block slots the entry occupies in the
// block size table.
func (e *Entry) BlockSpan(blockSize uint32) int {
	if e.Length == 0 {
		return 0
	}
	return int((e.Length + int64(blockSize) - 1) / int64(blockSize))
}

// PathDigest computes the digest stored alongside each named record.
func PathDigest(name string) [16]byte {
	return md5.Sum([]byte(name))
}

// ArchiveMeta pairs a parsed header with its named records: Entries
// holds the visible records in manifest order, Index keys them by path.
type ArchiveMeta struct {
	Header  ArchiveHeader
	Entries []*Entry
	Index   *btree.BTree
}

func NewEntryIndex() *btree.BTree {
	compare := func(a, b interface{}) bool {
		return a.(*Entry).Name < b.(*Entry).Name
	}
	return btree.New(compare)
}

func (m *ArchiveMeta) Insert(entry *Entry) {
	m.Index.Set(entry)
}

func (m *ArchiveMeta) Get(name string) *Entry {
	item := m.Index.Get(&Entry{Name: name})
	if item == nil {
		return nil
	}
	return item.(*Entry)
}

// Names returns the visible entry paths in TOC order.
func (m *ArchiveMeta) Names() []string {
	names := make([]string, 0, len(m.Entries))
	for _, entry := range m.Entries {
		if entry.IsManifest() || entry.Name == "" {
			continue
		}
		names = append(names, entry.Name)
	}
	return names
}
