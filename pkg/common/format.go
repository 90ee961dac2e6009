package common

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

var PsarcMagic []byte = []byte{0x50, 0x53, 0x41, 0x52}

const (
	HeaderLength        = 32
	TocEntrySize        = 30
	DefaultBlockSize    = 65536
	FormatVersionMajor  = 1
	FormatVersionMinor  = 4
	CompressionTagZlib  = "zlib"
	ZlibDeflateMarker   = 0x78
	MaxUint40           = 1<<40 - 1
	ArchiveFlagPlainTOC = 0x00
	ArchiveFlagCryptTOC = 0x04
)

// ArchiveHeader is the fixed 32-byte structure at the start of every
// archive. All multi-byte fields are big-endian on the wire.
type ArchiveHeader struct {
	Magic          [4]byte
	VersionMajor   uint16
	VersionMinor   uint16
	CompressionTag [4]byte
	TocLength      uint32
	TocEntrySize   uint32
	TocEntryCount  uint32
	BlockSize      uint32
	ArchiveFlags   uint32
}

func NewArchiveHeader(blockSize uint32) ArchiveHeader {
	header := ArchiveHeader{
		VersionMajor: FormatVersionMajor,
		VersionMinor: FormatVersionMinor,
		TocEntrySize: TocEntrySize,
		BlockSize:    blockSize,
		ArchiveFlags: ArchiveFlagCryptTOC,
	}
	copy(header.Magic[:], PsarcMagic)
	copy(header.CompressionTag[:], []byte(CompressionTagZlib))
	return header
}

// TocEncrypted reports whether the table of contents region is stored
// encrypted.
func (h ArchiveHeader) TocEncrypted() bool {
	return h.ArchiveFlags&ArchiveFlagCryptTOC != 0
}

// TocBlobLength is the byte length of the (possibly encrypted) TOC
// region that follows the header. TocLength counts from file offset 0,
// so the header itself is included in it.
func (h *ArchiveHeader) TocBlobLength() int {
	return int(h.TocLength) - HeaderLength
}

func (h *ArchiveHeader) Encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.BigEndian, h); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeHeader(headerBytes []byte) (*ArchiveHeader, error) {
	if len(headerBytes) < HeaderLength {
		return nil, fmt.Errorf("%w: short header (%d bytes)", ErrInvalidFormat, len(headerBytes))
	}

	header := new(ArchiveHeader)
	buf := bytes.NewBuffer(headerBytes[:HeaderLength])
	if err := binary.Read(buf, binary.BigEndian, header); err != nil {
		return nil, err
	}
	return header, nil
}
