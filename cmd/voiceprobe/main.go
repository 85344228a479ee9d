package main

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/diavoice/internal/audio"
	"github.com/antoniostano/diavoice/internal/protocol"
)

type options struct {
	baseURL     string
	turns       int
	chunkMS     int
	turnMS      int
	toneHz      float64
	realtime    float64
	startDelay  time.Duration
	turnTimeout time.Duration
	wavPath     string
	verbose     bool
}

type startResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	Websocket struct {
		URL string `json:"url"`
	} `json:"websocket"`
}

type wsEnvelope struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Data    string `json:"data,omitempty"`
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voiceprobe: %v\n", err)
		os.Exit(2)
	}
	if err := run(context.Background(), cfg, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "voiceprobe: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var startDelayMS, turnTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:5000", "voice relay base URL")
	flag.IntVar(&cfg.turns, "turns", 5, "number of utterances to send")
	flag.IntVar(&cfg.chunkMS, "chunk-ms", 40, "audio chunk size in milliseconds")
	flag.IntVar(&cfg.turnMS, "turn-ms", 1200, "length of each synthetic utterance in milliseconds")
	flag.Float64Var(&cfg.toneHz, "tone-hz", 220, "frequency of the synthetic tone")
	flag.Float64Var(&cfg.realtime, "realtime", 1.0, "chunk pacing multiplier (1.0=realtime, 2.0=2x)")
	flag.StringVar(&cfg.wavPath, "wav", "", "optional 16 kHz mono 16-bit WAV file to send instead of a tone")
	flag.IntVar(&startDelayMS, "start-delay-ms", 500, "delay after connecting before the first utterance")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 15000, "timeout waiting for the first reply chunk per turn")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.chunkMS < 10 || cfg.chunkMS > 2000 {
		return options{}, fmt.Errorf("chunk-ms must be in [10,2000]")
	}
	if cfg.realtime <= 0 {
		return options{}, fmt.Errorf("realtime must be > 0")
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.startDelay = time.Duration(max(startDelayMS, 0)) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond
	return cfg, nil
}

func run(ctx context.Context, cfg options, out io.Writer) error {
	client := &http.Client{Timeout: 30 * time.Second}

	pcm, err := loadUtterance(cfg)
	if err != nil {
		return err
	}

	started, err := startSession(ctx, client, cfg.baseURL)
	if err != nil {
		return err
	}
	defer func() {
		if err := terminateSession(context.Background(), client, cfg.baseURL); err != nil {
			fmt.Fprintf(out, "terminate failed: %v\n", err)
		}
	}()
	logf(cfg, out, "session %s started, dialing %s", started.SessionID, started.Websocket.URL)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, started.Websocket.URL, nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	defer conn.Close()

	replies := make(chan wsEnvelope, 64)
	readErr := make(chan error, 1)
	go readLoop(conn, replies, readErr)

	time.Sleep(cfg.startDelay)

	latencies := make([]float64, 0, cfg.turns)
	for turn := 1; turn <= cfg.turns; turn++ {
		drain(replies)
		if err := sendUtterance(conn, pcm, cfg); err != nil {
			return fmt.Errorf("turn %d: %w", turn, err)
		}
		sentAt := time.Now()
		if err := awaitAudio(replies, readErr, cfg.turnTimeout); err != nil {
			return fmt.Errorf("turn %d: %w", turn, err)
		}
		ms := float64(time.Since(sentAt).Microseconds()) / 1000
		latencies = append(latencies, ms)
		logf(cfg, out, "turn %d: first reply after %.1f ms", turn, ms)
	}

	_ = conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeControl, Command: protocol.CommandStop})
	fmt.Fprintln(out, summarize(latencies))
	return nil
}

func loadUtterance(cfg options) ([]byte, error) {
	if cfg.wavPath == "" {
		return tonePCM(cfg.toneHz, cfg.turnMS, audio.SendSampleRate), nil
	}
	data, err := os.ReadFile(cfg.wavPath)
	if err != nil {
		return nil, fmt.Errorf("read wav: %w", err)
	}
	h, err := audio.ParseWAVHeader(data)
	if err != nil {
		return nil, err
	}
	if h.Channels != audio.Channels || h.BitsPerSample != 16 || int(h.SampleRate) != audio.SendSampleRate {
		return nil, fmt.Errorf("wav must be %d Hz mono 16-bit, got %d Hz %d ch %d-bit",
			audio.SendSampleRate, h.SampleRate, h.Channels, h.BitsPerSample)
	}
	return data[audio.WAVHeaderSize:], nil
}

// tonePCM renders a sine tone as 16-bit little-endian mono PCM.
func tonePCM(hz float64, ms, sampleRate int) []byte {
	n := sampleRate * ms / 1000
	pcm := make([]byte, n*audio.SampleWidth)
	for i := 0; i < n; i++ {
		v := 0.3 * math.Sin(2*math.Pi*hz*float64(i)/float64(sampleRate))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v*math.MaxInt16)))
	}
	return pcm
}

// chunkPCM splits pcm into chunkMS slices on sample boundaries.
func chunkPCM(pcm []byte, chunkMS, sampleRate int) [][]byte {
	size := sampleRate * chunkMS / 1000 * audio.SampleWidth
	if size <= 0 {
		size = audio.SampleWidth
	}
	chunks := make([][]byte, 0, len(pcm)/size+1)
	for off := 0; off < len(pcm); off += size {
		end := min(off+size, len(pcm))
		chunks = append(chunks, pcm[off:end])
	}
	return chunks
}

func sendUtterance(conn *websocket.Conn, pcm []byte, cfg options) error {
	pause := time.Duration(float64(cfg.chunkMS)/cfg.realtime) * time.Millisecond
	for _, chunk := range chunkPCM(pcm, cfg.chunkMS, audio.SendSampleRate) {
		msg := protocol.ClientAudio{
			Type:   protocol.TypeAudio,
			Format: audio.MIMEPCM,
			Data:   base64.StdEncoding.EncodeToString(chunk),
		}
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("send audio: %w", err)
		}
		time.Sleep(pause)
	}
	return nil
}

func readLoop(conn *websocket.Conn, replies chan<- wsEnvelope, readErr chan<- error) {
	for {
		var env wsEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			readErr <- err
			return
		}
		replies <- env
	}
}

func awaitAudio(replies <-chan wsEnvelope, readErr <-chan error, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case env := <-replies:
			switch env.Type {
			case string(protocol.TypeAudio):
				return nil
			case string(protocol.TypeError):
				return fmt.Errorf("server error %s: %s", env.Code, env.Message)
			}
		case err := <-readErr:
			return fmt.Errorf("read websocket: %w", err)
		case <-timer.C:
			return fmt.Errorf("no reply within %s", timeout)
		}
	}
}

func drain(replies <-chan wsEnvelope) {
	for {
		select {
		case <-replies:
		default:
			return
		}
	}
}

func startSession(ctx context.Context, client *http.Client, baseURL string) (startResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/start_voice", nil)
	if err != nil {
		return startResponse{}, err
	}
	res, err := client.Do(req)
	if err != nil {
		return startResponse{}, fmt.Errorf("start_voice: %w", err)
	}
	defer res.Body.Close()

	var out startResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return startResponse{}, fmt.Errorf("decode start_voice: %w", err)
	}
	if out.Status != "started" {
		return startResponse{}, fmt.Errorf("start_voice: status=%q message=%q", out.Status, out.Message)
	}
	if out.Websocket.URL == "" {
		return startResponse{}, fmt.Errorf("start_voice: no websocket url (serverless deployment?)")
	}
	return out, nil
}

func terminateSession(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/terminate_voice", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("terminate_voice status %d", res.StatusCode)
	}
	return nil
}

func summarize(ms []float64) string {
	if len(ms) == 0 {
		return "no samples"
	}
	sorted := append([]float64(nil), ms...)
	sort.Float64s(sorted)
	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	pick := func(q float64) float64 {
		idx := int(math.Ceil(q*float64(len(sorted)))) - 1
		return sorted[max(idx, 0)]
	}
	return fmt.Sprintf("turns=%d avg=%.1fms p50=%.1fms p95=%.1fms max=%.1fms",
		len(sorted), sum/float64(len(sorted)), pick(0.50), pick(0.95), sorted[len(sorted)-1])
}

func logf(cfg options, out io.Writer, format string, args ...any) {
	if cfg.verbose {
		fmt.Fprintf(out, format+"\n", args...)
	}
}
