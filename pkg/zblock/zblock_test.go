package zblock

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/rifftools/psarc/pkg/common"
)

func TestDeflateCompressible(t *testing.T) {
	chunk := make([]byte, 65536)

	stored, compressed := Deflate(chunk)
	if !compressed {
		t.Fatal("expected a zero-filled chunk to compress")
	}
	if len(stored) >= len(chunk) {
		t.Fatalf("compressed form not smaller: %d >= %d", len(stored), len(chunk))
	}
	if stored[0] != common.ZlibDeflateMarker {
		t.Fatalf("compressed block missing zlib marker: 0x%02x", stored[0])
	}

	chunk2, err := Inflate(stored, len(chunk))
	if err != nil {
		t.Fatalf("Inflate failed: %v", err)
	}
	if !bytes.Equal(chunk2, chunk) {
		t.Fatal("inflate did not restore the chunk")
	}
}

func TestDeflateIncompressible(t *testing.T) {
	chunk := make([]byte, 65536)
	rand.New(rand.NewSource(42)).Read(chunk)

	stored, compressed := Deflate(chunk)
	if compressed {
		t.Fatal("expected random bytes to stay uncompressed")
	}
	if !bytes.Equal(stored, chunk) {
		t.Fatal("uncompressed block must be the chunk itself")
	}
}

func TestInflateLimit(t *testing.T) {
	chunk := make([]byte, 4096)
	stored, compressed := Deflate(chunk)
	if !compressed {
		t.Fatal("setup: chunk did not compress")
	}

	if _, err := Inflate(stored, 100); !errors.Is(err, common.ErrCorruptArchive) {
		t.Fatalf("expected ErrCorruptArchive for oversized block, got %v", err)
	}
}

func TestInflateGarbage(t *testing.T) {
	if _, err := Inflate([]byte{0x01, 0x02, 0x03}, 100); !errors.Is(err, common.ErrCorruptArchive) {
		t.Fatalf("expected ErrCorruptArchive for garbage input, got %v", err)
	}
}

func TestSlotWidth(t *testing.T) {
	cases := []struct {
		blockSize uint32
		width     int
	}{
		{256, 1},
		{65536, 2},
		{65537, 3},
		{1 << 24, 3},
	}

	for _, tc := range cases {
		if got := SlotWidth(tc.blockSize); got != tc.width {
			t.Errorf("SlotWidth(%d) = %d, want %d", tc.blockSize, got, tc.width)
		}
	}
}

func TestSizeTableRoundTrip(t *testing.T) {
	table := NewSizeTable(65536)
	table.Append(65536) // full raw chunk, stored as the zero sentinel
	table.Append(300)
	table.Append(1)
	table.Append(65535)

	if !table.Raw(0) {
		t.Fatal("full chunk not recorded as sentinel")
	}
	if table.Raw(1) {
		t.Fatal("short block misrecorded as sentinel")
	}

	encoded := table.Encode()
	if len(encoded) != 4*SlotWidth(65536) {
		t.Fatalf("encoded table has %d bytes, want %d", len(encoded), 4*SlotWidth(65536))
	}

	decoded, err := DecodeSizeTable(encoded, 65536)
	if err != nil {
		t.Fatalf("DecodeSizeTable failed: %v", err)
	}
	if decoded.Len() != table.Len() {
		t.Fatalf("decoded %d slots, want %d", decoded.Len(), table.Len())
	}

	for i := 0; i < table.Len(); i++ {
		want, _ := table.StoredSize(i)
		got, err := decoded.StoredSize(i)
		if err != nil {
			t.Fatalf("StoredSize(%d) failed: %v", i, err)
		}
		if got != want {
			t.Errorf("slot %d: got %d, want %d", i, got, want)
		}
	}
}

func TestSizeTableRaggedInput(t *testing.T) {
	if _, err := DecodeSizeTable([]byte{0x00, 0x01, 0x02}, 65536); !errors.Is(err, common.ErrCorruptArchive) {
		t.Fatalf("expected ErrCorruptArchive for ragged table, got %v", err)
	}
}

func TestStoredSizeOutOfRange(t *testing.T) {
	table := NewSizeTable(65536)
	table.Append(10)

	if _, err := table.StoredSize(5); !errors.Is(err, common.ErrCorruptArchive) {
		t.Fatalf("expected ErrCorruptArchive for bad index, got %v", err)
	}
}

func TestDecodeBlockRawPassthrough(t *testing.T) {
	chunk := make([]byte, 65536)
	rand.New(rand.NewSource(9)).Read(chunk)

	out := DecodeBlock(chunk, true, len(chunk))
	if !bytes.Equal(out, chunk) {
		t.Fatal("raw block must pass through untouched")
	}
}

func TestDecodeBlockMarkerFallback(t *testing.T) {
	// Starts with the zlib marker but is not a valid stream; the block
	// must come back verbatim rather than fail.
	stored := []byte{common.ZlibDeflateMarker, 0xFF, 0x00, 0x11}

	out := DecodeBlock(stored, false, 65536)
	if !bytes.Equal(out, stored) {
		t.Fatal("broken marker block should fall back to verbatim bytes")
	}
}

func TestDecodeBlockInflates(t *testing.T) {
	chunk := bytes.Repeat([]byte("psarc"), 2000)
	stored, compressed := Deflate(chunk)
	if !compressed {
		t.Fatal("setup: repetitive chunk did not compress")
	}

	out := DecodeBlock(stored, false, len(chunk))
	if !bytes.Equal(out, chunk) {
		t.Fatal("DecodeBlock did not inflate a valid block")
	}
}
