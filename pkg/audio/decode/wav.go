// ABOUTME: WAV audio decoder
// ABOUTME: Decodes RIFF/WAVE files to stereo float32 buffers
package decode

import (
	"bytes"
	"fmt"

	"github.com/cwbudde/wav"
	"github.com/warpsong/warpsong-go/pkg/audio"
)

// WAVDecoder decodes WAV audio
type WAVDecoder struct{}

// NewWAV creates a new WAV decoder
func NewWAV() *WAVDecoder {
	return &WAVDecoder{}
}

// Decode converts WAV bytes to a stereo buffer
func (d *WAVDecoder) Decode(data []byte) (*audio.Buffer, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("invalid wav file")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wav decode error: %w", err)
	}
	if buf == nil || buf.Format == nil {
		return nil, fmt.Errorf("invalid wav buffer")
	}

	return audio.NewBuffer(buf.Format.SampleRate, buf.Format.NumChannels, buf.Data)
}
