package upstream

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/antoniostano/diavoice/internal/audio"
	"github.com/antoniostano/diavoice/internal/config"
)

type GeminiConfig struct {
	APIKey     string
	APIVersion string
	Live       config.Live
}

// GeminiConnector opens Gemini Live API sessions.
type GeminiConnector struct {
	cfg GeminiConfig

	mu     sync.Mutex
	client *genai.Client
}

func NewGeminiConnector(cfg GeminiConfig) (*GeminiConnector, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if strings.TrimSpace(cfg.APIVersion) == "" {
		cfg.APIVersion = "v1beta"
	}
	return &GeminiConnector{cfg: cfg}, nil
}

func (c *GeminiConnector) Name() string { return "gemini:" + c.cfg.Live.Model }

func (c *GeminiConnector) Connect(ctx context.Context) (Stream, error) {
	client, err := c.genaiClient(ctx)
	if err != nil {
		return nil, err
	}
	session, err := client.Live.Connect(ctx, c.cfg.Live.Model, LiveConnectConfig(c.cfg.Live))
	if err != nil {
		return nil, fmt.Errorf("gemini live connect: %w", err)
	}
	return &geminiStream{session: session, inputMIME: c.cfg.Live.Audio.InputMIMEType()}, nil
}

func (c *GeminiConnector) genaiClient(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      c.cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{APIVersion: c.cfg.APIVersion},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	c.client = client
	return client, nil
}

// LiveConnectConfig maps the service configuration onto the Live API setup.
func LiveConnectConfig(live config.Live) *genai.LiveConnectConfig {
	gen := live.Generation
	return &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		Temperature:        genai.Ptr(gen.Temperature),
		TopP:               genai.Ptr(gen.TopP),
		TopK:               genai.Ptr(gen.TopK),
		MaxOutputTokens:    gen.MaxOutputTokens,
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: live.VoiceName},
			},
		},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: live.SystemInstruction}},
			Role:  "user",
		},
	}
}

type geminiStream struct {
	session   *genai.Session
	inputMIME string
}

func (s *geminiStream) SendAudio(_ context.Context, frame audio.Frame) error {
	mime := frame.MIMEType
	if mime == "" || mime == audio.MIMEPCM {
		mime = s.inputMIME
	}
	return s.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: frame.Data, MIMEType: mime},
	})
}

func (s *geminiStream) Recv(_ context.Context) (Event, error) {
	msg, err := s.session.Receive()
	if err != nil {
		return Event{}, err
	}
	var ev Event
	if msg == nil || msg.ServerContent == nil {
		return ev, nil
	}
	content := msg.ServerContent
	if content.ModelTurn != nil {
		for _, part := range content.ModelTurn.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			ev.Audio = append(ev.Audio, part.InlineData.Data...)
		}
	}
	ev.TurnComplete = content.TurnComplete
	return ev, nil
}

func (s *geminiStream) Close() error {
	return s.session.Close()
}
