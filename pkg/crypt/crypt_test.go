package crypt

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestTOCRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 15, 16, 17, 30, 4096, 65537}

	for _, size := range sizes {
		plain := make([]byte, size)
		rand.New(rand.NewSource(int64(size))).Read(plain)

		enc := EncryptTOC(plain)
		if len(enc) != len(plain) {
			t.Fatalf("EncryptTOC changed length: got %d, want %d", len(enc), len(plain))
		}

		dec := DecryptTOC(enc)
		if !bytes.Equal(dec, plain) {
			t.Fatalf("TOC round trip mismatch at size %d", size)
		}
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	plain := make([]byte, 200000)
	rand.New(rand.NewSource(7)).Read(plain)

	enc := EncryptArchive(plain)
	if bytes.Equal(enc, plain) {
		t.Fatal("EncryptArchive left data unchanged")
	}

	dec := DecryptArchive(enc)
	if !bytes.Equal(dec, plain) {
		t.Fatal("archive round trip mismatch")
	}
}

func TestDeterministic(t *testing.T) {
	plain := []byte("manifest/songs/song_a.wem\nmanifest/songs/song_b.xml")

	first := EncryptTOC(plain)
	second := EncryptTOC(plain)
	if !bytes.Equal(first, second) {
		t.Fatal("EncryptTOC is not deterministic")
	}
}

func TestInputNotMutated(t *testing.T) {
	plain := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	saved := append([]byte(nil), plain...)

	EncryptTOC(plain)
	DecryptTOC(plain)

	if !bytes.Equal(plain, saved) {
		t.Fatal("cipher mutated its input")
	}
}
