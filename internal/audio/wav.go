package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// WAVHeaderSize is the length of the canonical RIFF/WAVE/fmt/data header.
const WAVHeaderSize = 44

var ErrInvalidWAV = errors.New("invalid wav header")

// Format describes a linear PCM layout.
type Format struct {
	SampleRate  int
	Channels    int
	SampleWidth int // bytes per sample
}

func (f Format) withDefaults() Format {
	if f.SampleRate <= 0 {
		f.SampleRate = ReceiveSampleRate
	}
	if f.Channels <= 0 {
		f.Channels = Channels
	}
	if f.SampleWidth <= 0 {
		f.SampleWidth = SampleWidth
	}
	return f
}

// ByteRate is sample_rate * channels * sample_width.
func (f Format) ByteRate() int { return f.SampleRate * f.Channels * f.SampleWidth }

// BlockAlign is channels * sample_width.
func (f Format) BlockAlign() int { return f.Channels * f.SampleWidth }

// Header describes the fields carried by a parsed WAV header.
type Header struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	DataLength    uint32
}

// EncodeWAV wraps raw PCM bytes in a WAV container. The payload is copied.
func EncodeWAV(pcm []byte, format Format) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(WAVHeaderSize + len(pcm))
	if err := WriteWAVTo(&buf, pcm, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVTo writes pcm to out as a WAV stream.
func WriteWAVTo(out io.Writer, pcm []byte, format Format) error {
	const audioFormat = 1 // PCM
	format = format.withDefaults()

	dataSize := uint32(len(pcm))
	w := bufio.NewWriter(out)

	// RIFF header.
	if _, err := w.WriteString("RIFF"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(36)+dataSize); err != nil {
		return err
	}
	if _, err := w.WriteString("WAVE"); err != nil {
		return err
	}

	// fmt chunk.
	if _, err := w.WriteString("fmt "); err != nil {
		return err
	}
	fields := []any{
		uint32(16),
		uint16(audioFormat),
		uint16(format.Channels),
		uint32(format.SampleRate),
		uint32(format.ByteRate()),
		uint16(format.BlockAlign()),
		uint16(format.SampleWidth * 8),
	}
	for _, v := range fields {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	// data chunk.
	if _, err := w.WriteString("data"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, dataSize); err != nil {
		return err
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}

// ParseWAVHeader decodes the canonical 44-byte header at the start of b.
func ParseWAVHeader(b []byte) (Header, error) {
	if len(b) < WAVHeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrInvalidWAV, len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" || string(b[12:16]) != "fmt " || string(b[36:40]) != "data" {
		return Header{}, fmt.Errorf("%w: bad chunk ids", ErrInvalidWAV)
	}
	le := binary.LittleEndian
	if riff := le.Uint32(b[4:8]); riff != le.Uint32(b[40:44])+36 {
		return Header{}, fmt.Errorf("%w: riff size %d", ErrInvalidWAV, riff)
	}
	return Header{
		AudioFormat:   le.Uint16(b[20:22]),
		Channels:      le.Uint16(b[22:24]),
		SampleRate:    le.Uint32(b[24:28]),
		ByteRate:      le.Uint32(b[28:32]),
		BlockAlign:    le.Uint16(b[32:34]),
		BitsPerSample: le.Uint16(b[34:36]),
		DataLength:    le.Uint32(b[40:44]),
	}, nil
}
