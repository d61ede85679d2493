// ABOUTME: MP3 audio decoder
// ABOUTME: Decodes complete MP3 files to stereo float32 buffers
package decode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
	"github.com/warpsong/warpsong-go/pkg/audio"
)

// MP3Decoder decodes MP3 audio
type MP3Decoder struct{}

// NewMP3 creates a new MP3 decoder
func NewMP3() *MP3Decoder {
	return &MP3Decoder{}
}

// Decode converts MP3 bytes to a stereo buffer. go-mp3 always yields 16-bit stereo.
func (d *MP3Decoder) Decode(data []byte) (*audio.Buffer, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create mp3 decoder: %w", err)
	}

	pcm, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("mp3 decode error: %w", err)
	}

	numSamples := len(pcm) / 2
	samples := make([]float32, numSamples)
	for i := 0; i < numSamples; i++ {
		samples[i] = audio.SampleFromInt16(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	return audio.NewBuffer(decoder.SampleRate(), 2, samples)
}
