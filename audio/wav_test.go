package audio

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/mrsingh-rishi/rtms-scribe/types"
)

func TestEncodeWAV(t *testing.T) {
	pcm := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	wav, err := EncodeWAV(pcm, types.L16Mono16k)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	if len(wav) != WAVHeaderSize+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), WAVHeaderSize+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Error("missing RIFF/WAVE/data markers")
	}

	checks := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"chunk size", binary.LittleEndian.Uint32(wav[4:8]), uint32(36 + len(pcm))},
		{"audio format", uint32(binary.LittleEndian.Uint16(wav[20:22])), 1},
		{"channels", uint32(binary.LittleEndian.Uint16(wav[22:24])), 1},
		{"sample rate", binary.LittleEndian.Uint32(wav[24:28]), 16000},
		{"byte rate", binary.LittleEndian.Uint32(wav[28:32]), 32000},
		{"block align", uint32(binary.LittleEndian.Uint16(wav[32:34])), 2},
		{"bits per sample", uint32(binary.LittleEndian.Uint16(wav[34:36])), 16},
		{"data size", binary.LittleEndian.Uint32(wav[40:44]), uint32(len(pcm))},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
	if !bytes.Equal(wav[WAVHeaderSize:], pcm) {
		t.Error("payload not copied after header")
	}
}

func TestEncodeWAVErrors(t *testing.T) {
	if _, err := EncodeWAV(nil, types.L16Mono16k); err == nil {
		t.Error("empty audio should fail")
	}
	if _, err := EncodeWAV([]byte{1}, types.AudioFormat{}); err == nil {
		t.Error("zero format should fail")
	}
}
