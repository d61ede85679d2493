// ABOUTME: Decoder interface definition
// ABOUTME: Common interface for all stem decoders plus format sniffing
package decode

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/warpsong/warpsong-go/pkg/audio"
)

// ErrUnknownFormat is returned when encoded bytes match no supported container
var ErrUnknownFormat = errors.New("unknown audio format")

// Format identifies an encoded container
type Format string

const (
	FormatMP3  Format = "mp3"
	FormatFLAC Format = "flac"
	FormatWAV  Format = "wav"
)

// Decoder decodes a complete encoded file into a stereo buffer
type Decoder interface {
	Decode(data []byte) (*audio.Buffer, error)
}

// DecoderFunc adapts a function to the Decoder interface
type DecoderFunc func(data []byte) (*audio.Buffer, error)

// Decode calls f(data)
func (f DecoderFunc) Decode(data []byte) (*audio.Buffer, error) {
	return f(data)
}

// Sniff inspects the leading bytes of data and reports the container format
func Sniff(data []byte) (Format, error) {
	switch {
	case len(data) >= 4 && bytes.Equal(data[:4], []byte("fLaC")):
		return FormatFLAC, nil
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return FormatWAV, nil
	case len(data) >= 3 && bytes.Equal(data[:3], []byte("ID3")):
		return FormatMP3, nil
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMP3, nil
	}
	return "", ErrUnknownFormat
}

// New returns the decoder for a format
func New(format Format) (Decoder, error) {
	switch format {
	case FormatMP3:
		return NewMP3(), nil
	case FormatFLAC:
		return NewFLAC(), nil
	case FormatWAV:
		return NewWAV(), nil
	}
	return nil, fmt.Errorf("unsupported format: %q", format)
}

// Auto returns a decoder that sniffs each input and dispatches to the matching codec
func Auto() Decoder {
	return DecoderFunc(func(data []byte) (*audio.Buffer, error) {
		format, err := Sniff(data)
		if err != nil {
			return nil, err
		}
		dec, err := New(format)
		if err != nil {
			return nil, err
		}
		return dec.Decode(data)
	})
}
