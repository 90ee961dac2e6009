package reader

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rifftools/psarc/pkg/common"
	"github.com/rifftools/psarc/pkg/writer"
)

type archiveEntry struct {
	name string
	data []byte
}

func generateRandomContent(size int) []byte {
	content := make([]byte, size)
	rand.Read(content)
	return content
}

func calculateChecksum(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}

func buildArchive(t *testing.T, dir string, opts writer.Options, entries []archiveEntry) string {
	t.Helper()

	b := writer.New(opts)
	for _, e := range entries {
		require.NoError(t, b.Add(e.name, e.data))
	}

	path := filepath.Join(dir, "test.psarc")
	require.NoError(t, b.Finalize(path))
	return path
}

func TestOpenRoundTrip(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "psarc-reader-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	entries := []archiveEntry{
		{"songs/noise.wem", generateRandomContent(200000)},
		{"songs/arrangement.xml", bytes.Repeat([]byte("<note time=\"1.0\"/>\n"), 3000)},
		{"manifests/empty.bin", nil},
		{"flat.bin", []byte{0x01}},
	}

	path := buildArchive(t, tempDir, writer.Options{}, entries)

	r, err := Open(path, Options{})
	require.NoError(t, err)
	defer r.Close()

	assert.True(t, r.NamesAvailable())
	assert.Equal(t, 4, r.EntryCount())
	assert.Equal(t, uint16(1), r.Header().VersionMajor)
	assert.Equal(t, uint16(4), r.Header().VersionMinor)

	// Names come back in the order entries were added.
	assert.Equal(t, []string{"songs/noise.wem", "songs/arrangement.xml", "manifests/empty.bin", "flat.bin"}, r.Names())

	for _, e := range entries {
		data, err := r.ReadEntry(e.name)
		require.NoError(t, err, "read %s", e.name)
		require.Len(t, data, len(e.data))
		assert.Equal(t, calculateChecksum(e.data), calculateChecksum(data), "content mismatch for %s", e.name)
	}
}

func TestNamesResolveThroughLookup(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "psarc-reader-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	path := buildArchive(t, tempDir, writer.Options{}, []archiveEntry{
		{"songs/a.wem", []byte("aaa")},
		{"songs/b.xml", []byte("<b/>")},
		{"c.bin", []byte("ccc")},
	})

	r, err := Open(path, Options{})
	require.NoError(t, err)
	defer r.Close()

	// Every listed name resolves to the entry at its manifest position.
	names := r.Names()
	require.Len(t, names, r.EntryCount())
	for i, name := range names {
		entry, ok := r.Lookup(name)
		require.True(t, ok, "lookup %s", name)
		assert.Equal(t, name, entry.Name)
		assert.Equal(t, i+1, entry.Index, "manifest order must match record order for %s", name)
	}
}

func TestReadManifestByIndex(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "psarc-reader-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	path := buildArchive(t, tempDir, writer.Options{}, []archiveEntry{
		{"a.bin", []byte("aaa")},
		{"b.bin", []byte("bbb")},
	})

	r, err := Open(path, Options{})
	require.NoError(t, err)
	defer r.Close()

	manifest, err := r.ReadEntryByIndex(0)
	require.NoError(t, err)
	assert.Equal(t, "a.bin\nb.bin", string(manifest))

	second, err := r.ReadEntryByIndex(2)
	require.NoError(t, err)
	assert.Equal(t, []byte("bbb"), second)

	_, err = r.ReadEntryByIndex(3)
	assert.ErrorIs(t, err, common.ErrEntryNotFound)
	_, err = r.ReadEntryByIndex(-1)
	assert.ErrorIs(t, err, common.ErrEntryNotFound)
}

func TestReadEntryNotFound(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "psarc-reader-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	path := buildArchive(t, tempDir, writer.Options{}, []archiveEntry{{"a.bin", []byte("aaa")}})

	r, err := Open(path, Options{})
	require.NoError(t, err)
	defer r.Close()

	_, err = r.ReadEntry("missing.bin")
	assert.ErrorIs(t, err, common.ErrEntryNotFound)

	_, ok := r.Lookup("missing.bin")
	assert.False(t, ok)
}

func TestOpenEncryptedTOC(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "psarc-reader-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	content := generateRandomContent(80000)
	path := buildArchive(t, tempDir, writer.Options{EncryptTOC: true}, []archiveEntry{
		{"songs/track.wem", content},
	})

	r, err := Open(path, Options{})
	require.NoError(t, err)
	defer r.Close()

	require.True(t, r.Header().TocEncrypted())

	data, err := r.ReadEntry("songs/track.wem")
	require.NoError(t, err)
	assert.Equal(t, calculateChecksum(content), calculateChecksum(data))
}

func TestOpenSealedArchive(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "psarc-reader-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	content := generateRandomContent(70000)
	path := buildArchive(t, tempDir, writer.Options{SealArchive: true, EncryptTOC: true}, []archiveEntry{
		{"songs/track.wem", content},
	})

	// On disk the magic is hidden behind the outer encryption layer.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotEqual(t, common.PsarcMagic, raw[0:4])

	r, err := Open(path, Options{})
	require.NoError(t, err)
	defer r.Close()

	data, err := r.ReadEntry("songs/track.wem")
	require.NoError(t, err)
	assert.Equal(t, calculateChecksum(content), calculateChecksum(data))
}

func TestEntryReaderAt(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "psarc-reader-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	content := generateRandomContent(200000)
	path := buildArchive(t, tempDir, writer.Options{}, []archiveEntry{{"big.wem", content}})

	r, err := Open(path, Options{})
	require.NoError(t, err)
	defer r.Close()

	er, err := r.EntryReader("big.wem")
	require.NoError(t, err)
	assert.Equal(t, int64(200000), er.Size())

	// A read spanning a block boundary.
	buf := make([]byte, 2000)
	n, err := er.ReadAt(buf, 65000)
	require.NoError(t, err)
	require.Equal(t, 2000, n)
	assert.Equal(t, content[65000:67000], buf)

	// A read overlapping the end returns what is there plus EOF.
	n, err = er.ReadAt(buf, 199000)
	assert.Equal(t, 1000, n)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, content[199000:], buf[:n])

	_, err = er.ReadAt(buf, 500000)
	assert.ErrorIs(t, err, io.EOF)

	// Sequential access through a section reader sees the same bytes.
	all, err := io.ReadAll(er.Section())
	require.NoError(t, err)
	assert.Equal(t, calculateChecksum(content), calculateChecksum(all))
}

func TestConcurrentReads(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "psarc-reader-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	entries := []archiveEntry{
		{"songs/a.wem", generateRandomContent(150000)},
		{"songs/b.wem", generateRandomContent(90000)},
		{"songs/c.xml", bytes.Repeat([]byte("<chord/>"), 10000)},
	}
	path := buildArchive(t, tempDir, writer.Options{}, entries)

	r, err := Open(path, Options{})
	require.NoError(t, err)
	defer r.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 24)

	for i := 0; i < 8; i++ {
		for _, e := range entries {
			wg.Add(1)
			go func(name string, want string) {
				defer wg.Done()
				data, err := r.ReadEntry(name)
				if err != nil {
					errs <- err
					return
				}
				if calculateChecksum(data) != want {
					errs <- fmt.Errorf("content mismatch for %s", name)
				}
			}(e.name, calculateChecksum(e.data))
		}
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestOpenNotAnArchive(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "psarc-reader-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	path := filepath.Join(tempDir, "garbage.bin")
	require.NoError(t, os.WriteFile(path, generateRandomContent(4096), 0644))

	_, err = Open(path, Options{})
	assert.ErrorIs(t, err, common.ErrInvalidFormat)
}

func TestOpenTruncatedArchive(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "psarc-reader-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	path := buildArchive(t, tempDir, writer.Options{}, []archiveEntry{
		{"songs/track.wem", generateRandomContent(100000)},
	})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-10], 0644))

	_, err = Open(path, Options{})
	assert.ErrorIs(t, err, common.ErrCorruptArchive)
}

func TestDamagedManifestKeepsIndexAccess(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "psarc-reader-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	// Repetitive names make sure the manifest block is stored
	// compressed, so damaging it breaks inflation.
	entries := make([]archiveEntry, 0, 20)
	for i := 0; i < 20; i++ {
		entries = append(entries, archiveEntry{
			name: fmt.Sprintf("songs/album/track_%02d.xml", i),
			data: []byte(fmt.Sprintf("<song index=\"%d\"/>", i)),
		})
	}
	path := buildArchive(t, tempDir, writer.Options{}, entries)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	tocLength := int(binary.BigEndian.Uint32(data[12:16]))

	// Scramble the middle of the manifest's compressed stream.
	data[tocLength+2] ^= 0xFF
	data[tocLength+3] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0644))

	r, err := Open(path, Options{})
	require.NoError(t, err)
	defer r.Close()

	assert.False(t, r.NamesAvailable())
	assert.Empty(t, r.Names())

	_, err = r.ReadEntry("songs/album/track_00.xml")
	assert.ErrorIs(t, err, common.ErrEntryNotFound)

	// Positional access still decodes entry bodies.
	body, err := r.ReadEntryByIndex(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("<song index=\"0\"/>"), body)
}

func TestCacheDisabled(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "psarc-reader-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	content := generateRandomContent(100000)
	path := buildArchive(t, tempDir, writer.Options{}, []archiveEntry{{"a.wem", content}})

	r, err := Open(path, Options{CacheSize: -1})
	require.NoError(t, err)
	defer r.Close()

	for i := 0; i < 3; i++ {
		data, err := r.ReadEntry("a.wem")
		require.NoError(t, err)
		assert.Equal(t, calculateChecksum(content), calculateChecksum(data))
	}
}

func TestOpenEmptyArchive(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "psarc-reader-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	path := buildArchive(t, tempDir, writer.Options{}, nil)

	r, err := Open(path, Options{})
	require.NoError(t, err)
	defer r.Close()

	assert.True(t, r.NamesAvailable())
	assert.Equal(t, 0, r.EntryCount())
	assert.Empty(t, r.Names())
	assert.Empty(t, r.ListEntries())
}
