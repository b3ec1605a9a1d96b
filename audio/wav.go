package audio

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/mrsingh-rishi/rtms-scribe/types"
)

// WAVHeaderSize is the size of the canonical PCM RIFF header.
const WAVHeaderSize = 44

// wavHeader represents the header structure of a WAV file
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// EncodeWAV wraps little-endian PCM bytes in a WAV container.
func EncodeWAV(pcm []byte, format types.AudioFormat) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, errors.New("cannot encode empty audio")
	}
	if format.SampleRate <= 0 || format.Channels <= 0 || format.BytesPerSample <= 0 {
		return nil, errors.Errorf("invalid audio format %+v", format)
	}

	dataSize := uint32(len(pcm))
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(format.Channels),
		SampleRate:    uint32(format.SampleRate),
		ByteRate:      uint32(format.BytesPerSecond()),
		BlockAlign:    uint16(format.Channels * format.BytesPerSample),
		BitsPerSample: uint16(format.BytesPerSample * 8),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, WAVHeaderSize+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, errors.Wrap(err, "write WAV header")
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}
