package audio

// Wire-level audio constants shared by clients and the upstream service.
const (
	SendSampleRate    = 16000
	ReceiveSampleRate = 24000
	Channels          = 1
	SampleWidth       = 2

	MIMEPCM = "audio/pcm"
	MIMEWAV = "audio/wav"
)

// Frame is one unit of audio moving through a relay queue.
// Data must not be modified once the frame has been enqueued.
type Frame struct {
	Data     []byte
	MIMEType string
}

// NewFrame builds a frame, defaulting the MIME hint to raw PCM.
func NewFrame(data []byte, mimeType string) Frame {
	if mimeType == "" {
		mimeType = MIMEPCM
	}
	return Frame{Data: data, MIMEType: mimeType}
}
