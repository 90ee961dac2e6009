package sniff

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	assert.Equal(t, KindOggAudio, Detect([]byte("OggS\x00rest")))
	assert.Equal(t, KindRiffAudio, Detect([]byte("RIFF\x24\x00\x00\x00WAVE")))
	assert.Equal(t, KindArchive, Detect([]byte("PSAR\x00\x01\x00\x04")))
	assert.Equal(t, KindXML, Detect([]byte("<?xml version=\"1.0\"?>")))
	assert.Equal(t, KindXML, Detect([]byte("<vocals/>")))
	assert.Equal(t, KindUnknown, Detect([]byte{0xDE, 0xAD}))
	assert.Equal(t, KindUnknown, Detect(nil))
}

func TestEntryName(t *testing.T) {
	assert.Equal(t, "entry_0001.ogg", EntryName(1, []byte("OggS")))
	assert.Equal(t, "entry_0042.bin", EntryName(42, []byte{0x00}))
	assert.Equal(t, "entry_0007.xml", EntryName(7, []byte("<song/>")))
}

func TestIsAudioExt(t *testing.T) {
	assert.True(t, IsAudioExt(".ogg"))
	assert.True(t, IsAudioExt(".WAV"))
	assert.True(t, IsAudioExt(".wem"))
	assert.False(t, IsAudioExt(".xml"))
	assert.False(t, IsAudioExt(""))
}
