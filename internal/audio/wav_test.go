package audio

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeWAVRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 480, 4800} {
		pcm := bytes.Repeat([]byte{0x12}, n)
		out, err := EncodeWAV(pcm, Format{SampleRate: ReceiveSampleRate, Channels: Channels, SampleWidth: SampleWidth})
		if err != nil {
			t.Fatalf("EncodeWAV(%d) error = %v", n, err)
		}
		if len(out) != n+WAVHeaderSize {
			t.Fatalf("len = %d, want %d", len(out), n+WAVHeaderSize)
		}
		h, err := ParseWAVHeader(out)
		if err != nil {
			t.Fatalf("ParseWAVHeader() error = %v", err)
		}
		if int(h.DataLength) != n {
			t.Fatalf("DataLength = %d, want %d", h.DataLength, n)
		}
		if h.SampleRate != 24000 || h.Channels != 1 || h.BitsPerSample != 16 {
			t.Fatalf("unexpected header: %+v", h)
		}
		if h.ByteRate != 48000 || h.BlockAlign != 2 || h.AudioFormat != 1 {
			t.Fatalf("unexpected derived fields: %+v", h)
		}
		if !bytes.Equal(out[WAVHeaderSize:], pcm) {
			t.Fatalf("payload mismatch")
		}
	}
}

func TestEncodeWAVDoesNotAliasPayload(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	out, err := EncodeWAV(pcm, Format{SampleRate: SendSampleRate})
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	out[WAVHeaderSize] = 9
	if pcm[0] != 1 {
		t.Fatalf("source payload mutated")
	}
	h, _ := ParseWAVHeader(out)
	if h.SampleRate != SendSampleRate {
		t.Fatalf("SampleRate = %d, want %d", h.SampleRate, SendSampleRate)
	}
}

func TestParseWAVHeaderRejectsGarbage(t *testing.T) {
	if _, err := ParseWAVHeader([]byte("RIFF")); !errors.Is(err, ErrInvalidWAV) {
		t.Fatalf("short header error = %v, want ErrInvalidWAV", err)
	}
	if _, err := ParseWAVHeader(bytes.Repeat([]byte{'x'}, WAVHeaderSize)); !errors.Is(err, ErrInvalidWAV) {
		t.Fatalf("garbage header error = %v, want ErrInvalidWAV", err)
	}
}

func TestNewFrameDefaultsMIME(t *testing.T) {
	if f := NewFrame([]byte{1}, ""); f.MIMEType != MIMEPCM {
		t.Fatalf("MIMEType = %q, want %q", f.MIMEType, MIMEPCM)
	}
	if f := NewFrame(nil, "audio/pcm;rate=16000"); f.MIMEType != "audio/pcm;rate=16000" {
		t.Fatalf("MIMEType = %q", f.MIMEType)
	}
}
