package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/diavoice/internal/audio"
	"github.com/antoniostano/diavoice/internal/observability"
	"github.com/antoniostano/diavoice/internal/protocol"
	"github.com/antoniostano/diavoice/internal/relay"
	"github.com/antoniostano/diavoice/internal/session"
)

const writeTimeout = 10 * time.Second

// wsClient is one /audio-stream connection. Writes from the broadcast loop
// and from the connection's own handler are serialized by writeMu.
type wsClient struct {
	id      string
	conn    *websocket.Conn
	metrics *observability.Metrics

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newWSClient(conn *websocket.Conn, metrics *observability.Metrics) *wsClient {
	return &wsClient{id: uuid.NewString(), conn: conn, metrics: metrics}
}

func (c *wsClient) ID() string { return c.id }

// Send delivers one pre-encoded broadcast message.
func (c *wsClient) Send(msg []byte) error {
	if err := c.write(msg); err != nil {
		return err
	}
	c.metrics.ObserveWSMessage("outbound", string(protocol.TypeAudio))
	return nil
}

func (c *wsClient) sendEvent(ev protocol.ErrorEvent) {
	msg, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := c.write(msg); err != nil {
		log.Printf("httpapi: client %s: write error event: %v", c.id, err)
		return
	}
	c.metrics.ObserveWSMessage("outbound", string(ev.Type))
}

func (c *wsClient) write(msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Close sends a close frame best effort and tears the connection down.
// WriteControl may run alongside a data write, so Close never waits on writeMu.
func (c *wsClient) Close() error {
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session terminated"),
			time.Now().Add(time.Second))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (s *Server) handleAudioStream(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Serverless {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "realtime audio is not available in serverless environment")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := newWSClient(conn, s.metrics)
	registry := s.sessions.Registry()
	registry.Add(client)
	s.metrics.ObserveSessionEvent("ws_connected")
	log.Printf("httpapi: websocket client %s connected", client.id)

	defer func() {
		registry.Remove(client)
		_ = client.Close()
		s.metrics.ObserveSessionEvent("ws_disconnected")
		log.Printf("httpapi: websocket client %s disconnected", client.id)
	}()

	if info, launched, err := s.sessions.Ensure(r.Context()); err != nil {
		client.sendEvent(protocol.NewErrorEvent("session_unavailable", err.Error()))
	} else if launched {
		log.Printf("httpapi: client %s started session %s", client.id, info.SessionID)
	}

	conn.SetReadLimit(2 << 20)
	var lastDrop string
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("httpapi: websocket client %s read error: %v", client.id, err)
			}
			return
		}

		var parsed any
		switch msgType {
		case websocket.BinaryMessage:
			parsed = protocol.RawFrame(data)
		case websocket.TextMessage:
			parsed, err = protocol.ParseClientMessage(data)
			if err != nil {
				s.metrics.ObserveWSMessage("inbound", "invalid")
				client.sendEvent(protocol.NewErrorEvent("invalid_client_message", err.Error()))
				continue
			}
		default:
			continue
		}

		switch msg := parsed.(type) {
		case audio.Frame:
			s.metrics.ObserveWSMessage("inbound", string(protocol.TypeAudio))
			code := dropCode(s.sessions.Enqueue(msg))
			// Report each kind of drop once until frames flow again.
			if code != "" && code != lastDrop {
				client.sendEvent(protocol.NewErrorEvent(code, "audio frame dropped: "+dropMessage(code)))
			}
			lastDrop = code
		case protocol.ClientControl:
			s.metrics.ObserveWSMessage("inbound", string(protocol.TypeControl))
			if msg.Command != protocol.CommandStop {
				client.sendEvent(protocol.NewErrorEvent("unsupported_command", "unknown control command "+msg.Command))
				continue
			}
			log.Printf("httpapi: client %s requested session stop", client.id)
			s.sessions.Stop(r.Context())
		}
	}
}

func dropCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, session.ErrNoSession):
		return "no_session"
	case errors.Is(err, relay.ErrNotRunning):
		return "session_not_running"
	case errors.Is(err, relay.ErrQueueFull):
		return "queue_full"
	default:
		return "enqueue_failed"
	}
}

func dropMessage(code string) string {
	switch code {
	case "no_session":
		return "no active session"
	case "session_not_running":
		return "session is not running yet"
	case "queue_full":
		return "upstream queue is full"
	default:
		return "enqueue failed"
	}
}
