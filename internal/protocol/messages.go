package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/antoniostano/diavoice/internal/audio"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeAudio   MessageType = "audio"
	TypeControl MessageType = "control"
	TypeError   MessageType = "error"
)

// CommandStop asks the server to stop the active session.
const CommandStop = "stop"

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrInvalidAudio    = errors.New("invalid audio payload")
)

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientAudio carries base64 PCM captured by the client.
type ClientAudio struct {
	Type   MessageType `json:"type"`
	Format string      `json:"format"`
	Data   string      `json:"data"`
}

type ClientControl struct {
	Type    MessageType `json:"type"`
	Command string      `json:"command"`
}

// ServerAudio carries one base64 WAV chunk of synthesized speech.
type ServerAudio struct {
	Type   MessageType `json:"type"`
	Format string      `json:"format"`
	Data   string      `json:"data"`
}

type ErrorEvent struct {
	Type    MessageType `json:"type"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}

// ParseClientMessage decodes one inbound websocket payload. It returns either
// an audio.Frame or a ClientControl. Payloads that are not JSON at all are
// treated as raw PCM.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return RawFrame(raw), nil
		}
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeAudio:
		var msg ClientAudio
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg.Frame()
	case TypeControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Command == "" {
			return nil, errors.New("invalid control: missing command")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// Frame decodes the base64 payload.
func (m ClientAudio) Frame() (audio.Frame, error) {
	if m.Data == "" {
		return audio.Frame{}, fmt.Errorf("%w: empty data", ErrInvalidAudio)
	}
	data, err := base64.StdEncoding.DecodeString(m.Data)
	if err != nil {
		return audio.Frame{}, fmt.Errorf("%w: %v", ErrInvalidAudio, err)
	}
	return audio.NewFrame(data, m.Format), nil
}

// RawFrame wraps a non-JSON payload as PCM. The bytes are copied since
// websocket read buffers may be reused.
func RawFrame(raw []byte) audio.Frame {
	data := make([]byte, len(raw))
	copy(data, raw)
	return audio.NewFrame(data, audio.MIMEPCM)
}

func NewServerAudio(wav []byte) ServerAudio {
	return ServerAudio{
		Type:   TypeAudio,
		Format: audio.MIMEWAV,
		Data:   base64.StdEncoding.EncodeToString(wav),
	}
}

func NewErrorEvent(code, message string) ErrorEvent {
	return ErrorEvent{Type: TypeError, Code: code, Message: message}
}
