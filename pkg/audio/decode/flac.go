// ABOUTME: FLAC audio decoder
// ABOUTME: Decodes complete FLAC files frame by frame to stereo float32 buffers
package decode

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/mewkiz/flac"
	"github.com/warpsong/warpsong-go/pkg/audio"
)

// FLACDecoder decodes FLAC audio
type FLACDecoder struct{}

// NewFLAC creates a new FLAC decoder
func NewFLAC() *FLACDecoder {
	return &FLACDecoder{}
}

// Decode converts FLAC bytes to a stereo buffer
func (d *FLACDecoder) Decode(data []byte) (*audio.Buffer, error) {
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create flac decoder: %w", err)
	}
	defer stream.Close()

	channels := int(stream.Info.NChannels)
	bitDepth := int(stream.Info.BitsPerSample)
	if channels < 1 {
		return nil, fmt.Errorf("flac stream has no channels")
	}

	var samples []float32
	if stream.Info.NSamples > 0 {
		samples = make([]float32, 0, int(stream.Info.NSamples)*channels)
	}

	for {
		frame, err := stream.ParseNext()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("flac frame decode error: %w", err)
		}

		for i := 0; i < int(frame.BlockSize); i++ {
			for ch := 0; ch < channels; ch++ {
				samples = append(samples, audio.SampleFromInt(frame.Subframes[ch].Samples[i], bitDepth))
			}
		}
	}

	return audio.NewBuffer(int(stream.Info.SampleRate), channels, samples)
}
