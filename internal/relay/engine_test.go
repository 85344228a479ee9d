package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/antoniostano/diavoice/internal/audio"
	"github.com/antoniostano/diavoice/internal/protocol"
	"github.com/antoniostano/diavoice/internal/upstream"
)

func TestEngineSendsFramesInOrder(t *testing.T) {
	stream := newFakeStream()
	e := NewEngine("s1", testClient(&fakeConnector{stream: stream}), newRecordingBroadcaster(), Config{QueueSize: 64, StopGrace: 20 * time.Millisecond}, nil)
	runErr := startEngine(t, e)
	waitFor(t, "running", e.Running)

	const n = 50
	for i := 0; i < n; i++ {
		if err := e.Enqueue(audio.NewFrame([]byte{byte(i)}, "")); err != nil {
			t.Fatalf("Enqueue(%d) error = %v", i, err)
		}
	}
	waitFor(t, "all frames sent", func() bool { return len(stream.sentFrames()) == n })
	for i, f := range stream.sentFrames() {
		if f.Data[0] != byte(i) {
			t.Fatalf("frame %d carries %d, want in-order delivery", i, f.Data[0])
		}
	}

	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := <-runErr; err != nil {
		t.Fatalf("Run() error = %v, want nil after Stop", err)
	}
	if !stream.isClosed() {
		t.Fatalf("upstream stream not closed after Stop")
	}
	if e.Running() || e.State() != StateIdle {
		t.Fatalf("after Stop running=%v state=%q, want false/idle", e.Running(), e.State())
	}
}

func TestEngineBroadcastsWAVFramedAudio(t *testing.T) {
	stream := newFakeStream()
	out := newRecordingBroadcaster()
	e := NewEngine("s1", testClient(&fakeConnector{stream: stream}), out, testConfig(), nil)
	runErr := startEngine(t, e)
	waitFor(t, "running", e.Running)

	pcm := make([]byte, 960)
	stream.recv <- recvResult{ev: upstream.Event{Audio: pcm}}
	stream.recv <- recvResult{ev: upstream.Event{TurnComplete: true}}

	var msg []byte
	select {
	case msg = <-out.msgs:
	case <-time.After(2 * time.Second):
		t.Fatalf("no broadcast received")
	}
	var env protocol.ServerAudio
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if env.Type != protocol.TypeAudio || env.Format != audio.MIMEWAV {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	wav, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		t.Fatalf("DecodeString() error = %v", err)
	}
	if len(wav) != len(pcm)+audio.WAVHeaderSize {
		t.Fatalf("len(wav) = %d, want %d", len(wav), len(pcm)+audio.WAVHeaderSize)
	}
	h, err := audio.ParseWAVHeader(wav)
	if err != nil {
		t.Fatalf("ParseWAVHeader() error = %v", err)
	}
	if h.SampleRate != 24000 || h.Channels != 1 || h.BitsPerSample != 16 || int(h.DataLength) != len(pcm) {
		t.Fatalf("unexpected header: %+v", h)
	}

	_ = e.Stop(context.Background())
	<-runErr
}

func TestEngineConnectRetriesThenRuns(t *testing.T) {
	conn := &fakeConnector{failFirst: 2, stream: newFakeStream()}
	e := NewEngine("s1", testClient(conn), newRecordingBroadcaster(), testConfig(), nil)
	runErr := startEngine(t, e)
	waitFor(t, "running", e.Running)

	if got := conn.attempts.Load(); got != 3 {
		t.Fatalf("connect attempts = %d, want 3", got)
	}
	if e.State() != StateRunning {
		t.Fatalf("State() = %q, want running", e.State())
	}
	_ = e.Stop(context.Background())
	<-runErr
}

func TestEngineConnectionExhaustedStaysIdle(t *testing.T) {
	conn := &fakeConnector{always: true}
	e := NewEngine("s1", testClient(conn), newRecordingBroadcaster(), testConfig(), nil)

	err := e.Run(context.Background())
	if !errors.Is(err, upstream.ErrConnectionExhausted) {
		t.Fatalf("Run() error = %v, want ErrConnectionExhausted", err)
	}
	if got := conn.attempts.Load(); got != 3 {
		t.Fatalf("connect attempts = %d, want 3", got)
	}
	if e.State() != StateIdle || e.Running() {
		t.Fatalf("state=%q running=%v, want idle/false", e.State(), e.Running())
	}
	if err := e.Enqueue(audio.NewFrame([]byte{1}, "")); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Enqueue() error = %v, want ErrNotRunning", err)
	}
}

func TestEngineSendFailureEndsSession(t *testing.T) {
	stream := newFakeStream()
	stream.sendErr = errors.New("broken pipe")
	e := NewEngine("s1", testClient(&fakeConnector{stream: stream}), newRecordingBroadcaster(), testConfig(), nil)
	runErr := startEngine(t, e)
	waitFor(t, "running", e.Running)

	if err := e.Enqueue(audio.NewFrame([]byte{1}, "")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	select {
	case err := <-runErr:
		if !errors.Is(err, upstream.ErrSendFailed) {
			t.Fatalf("Run() error = %v, want ErrSendFailed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run() did not return after send failure")
	}
	if e.Running() || !stream.isClosed() || e.State() != StateIdle {
		t.Fatalf("running=%v closed=%v state=%q after failure", e.Running(), stream.isClosed(), e.State())
	}
}

func TestEngineReceiveFailureEndsSession(t *testing.T) {
	stream := newFakeStream()
	e := NewEngine("s1", testClient(&fakeConnector{stream: stream}), newRecordingBroadcaster(), testConfig(), nil)
	runErr := startEngine(t, e)
	waitFor(t, "running", e.Running)

	stream.recv <- recvResult{err: errors.New("protocol violation")}
	select {
	case err := <-runErr:
		if !errors.Is(err, upstream.ErrReceiveFailed) {
			t.Fatalf("Run() error = %v, want ErrReceiveFailed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run() did not return after receive failure")
	}
	if !stream.isClosed() {
		t.Fatalf("upstream stream left open after receive failure")
	}
}

func TestEngineRecoverableTimeoutKeepsRunning(t *testing.T) {
	stream := newFakeStream()
	out := newRecordingBroadcaster()
	e := NewEngine("s1", testClient(&fakeConnector{stream: stream}), out, testConfig(), nil)
	runErr := startEngine(t, e)
	waitFor(t, "running", e.Running)

	stream.recv <- recvResult{err: fmt.Errorf("read: %w", context.DeadlineExceeded)}
	stream.recv <- recvResult{ev: upstream.Event{Audio: []byte{1, 2}, TurnComplete: true}}

	select {
	case <-out.msgs:
	case <-time.After(2 * time.Second):
		t.Fatalf("no broadcast after recoverable timeout")
	}
	if !e.Running() {
		t.Fatalf("engine stopped after a recoverable timeout")
	}
	_ = e.Stop(context.Background())
	<-runErr
}

func TestEngineStopBeforeRun(t *testing.T) {
	conn := &fakeConnector{stream: newFakeStream()}
	e := NewEngine("s1", testClient(conn), newRecordingBroadcaster(), testConfig(), nil)
	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := e.Run(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("Run() error = %v, want ErrStopped", err)
	}
	if got := conn.attempts.Load(); got != 0 {
		t.Fatalf("connect attempts = %d, want 0", got)
	}
	if err := e.Run(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Run() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestEngineEnqueueReportsFullQueue(t *testing.T) {
	stream := newFakeStream()
	stream.gate = make(chan struct{})
	cfg := testConfig()
	cfg.QueueSize = 1
	e := NewEngine("s1", testClient(&fakeConnector{stream: stream}), newRecordingBroadcaster(), cfg, nil)
	runErr := startEngine(t, e)
	waitFor(t, "running", e.Running)

	if err := e.Enqueue(audio.NewFrame([]byte{1}, "")); err != nil {
		t.Fatalf("Enqueue(1) error = %v", err)
	}
	select {
	case <-stream.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("send loop never picked up the first frame")
	}
	if err := e.Enqueue(audio.NewFrame([]byte{2}, "")); err != nil {
		t.Fatalf("Enqueue(2) error = %v", err)
	}
	if err := e.Enqueue(audio.NewFrame([]byte{3}, "")); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Enqueue(3) error = %v, want ErrQueueFull", err)
	}

	_ = e.Stop(context.Background())
	<-runErr
}

func TestEngineStopWaitsForBlockedReceiver(t *testing.T) {
	stream := newFakeStream()
	e := NewEngine("s1", testClient(&fakeConnector{stream: stream}), newRecordingBroadcaster(), testConfig(), nil)
	runErr := startEngine(t, e)
	waitFor(t, "running", e.Running)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	select {
	case <-e.Done():
	default:
		t.Fatalf("Stop() returned before Run finished")
	}
	if err := <-runErr; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// Stopping twice is harmless.
	if err := e.Stop(ctx); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}
