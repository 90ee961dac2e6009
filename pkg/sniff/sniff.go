// Package sniff guesses entry kinds from leading bytes. It is used to
// give recovered entries usable filenames when an archive's manifest is
// missing or unreadable.
package sniff

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/rifftools/psarc/pkg/common"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindOggAudio
	KindRiffAudio
	KindXML
	KindArchive
)

var (
	oggMagic  = []byte("OggS")
	riffMagic = []byte("RIFF")
)

// Detect classifies content by its magic bytes.
func Detect(data []byte) Kind {
	switch {
	case bytes.HasPrefix(data, oggMagic):
		return KindOggAudio
	case bytes.HasPrefix(data, riffMagic):
		return KindRiffAudio
	case bytes.HasPrefix(data, common.PsarcMagic):
		return KindArchive
	case len(data) > 0 && data[0] == '<':
		return KindXML
	default:
		return KindUnknown
	}
}

func (k Kind) Ext() string {
	switch k {
	case KindOggAudio:
		return ".ogg"
	case KindRiffAudio:
		return ".wav"
	case KindXML:
		return ".xml"
	case KindArchive:
		return ".psarc"
	default:
		return ".bin"
	}
}

// EntryName builds a stand-in filename for the entry at a TOC position.
func EntryName(index int, data []byte) string {
	return fmt.Sprintf("entry_%04d%s", index, Detect(data).Ext())
}

// IsAudioExt reports whether a path extension names song audio.
func IsAudioExt(ext string) bool {
	switch strings.ToLower(ext) {
	case ".ogg", ".wav", ".wem":
		return true
	}
	return false
}
