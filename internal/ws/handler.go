// Package ws serves the voice WebSocket: one connection per session, JSON
// events out, JSON or raw binary audio in.
package ws

import (
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/nkotha/voicebridge/internal/app"
	"github.com/nkotha/voicebridge/internal/audio"
	"github.com/nkotha/voicebridge/internal/protocol"
	"github.com/nkotha/voicebridge/internal/session"
)

// interval between watchdog sweeps; short enough that stuck playback
// recovery is not delayed noticeably past its deadline.
const watchdogInterval = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	// Browser demos connect from any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connEmitter serializes writes to the peer. The websocket connection allows
// only one concurrent writer, and events come from both the read loop and the
// pipeline goroutine.
type connEmitter struct {
	id   string
	mu   sync.Mutex
	conn *websocket.Conn
}

func (e *connEmitter) Emit(v any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.conn.WriteJSON(v); err != nil {
		log.Printf("[%s] event write failed: %v", e.id, err)
	}
}

// Handler upgrades voice connections and runs their session loops.
type Handler struct {
	App *app.App
}

func NewHandler(a *app.App) *Handler {
	return &Handler{App: a}
}

// HandleWS is the echo route for GET /ws.
func (h *Handler) HandleWS(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	h.serve(conn)
	return nil
}

func (h *Handler) serve(conn *websocket.Conn) {
	defer conn.Close()

	id := uuid.NewString()
	emit := &connEmitter{id: id, conn: conn}
	sess := session.New(id, h.App.Config, h.App.NewRunner(id), emit)
	h.App.Add(sess)
	defer func() {
		h.App.Remove(id)
		sess.Close()
		log.Printf("[%s] disconnected", id)
	}()
	log.Printf("[%s] connected", id)

	stop := make(chan struct{})
	defer close(stop)
	go h.keepalive(sess, emit, stop)

	sess.StartGreeting()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[%s] read failed: %v", id, err)
			}
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			sess.HandleAudioChunk(data)
		case websocket.TextMessage:
			if h.dispatch(sess, data) {
				return
			}
		}
	}
}

// keepalive pings the peer and sweeps the session watchdog until the
// connection closes.
func (h *Handler) keepalive(sess *session.Session, emit *connEmitter, stop <-chan struct{}) {
	watchdog := time.NewTicker(watchdogInterval)
	defer watchdog.Stop()
	ping := time.NewTicker(h.App.Config.IdleTimeout)
	defer ping.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-watchdog.C:
			sess.CheckWatchdog(now)
		case <-ping.C:
			emit.Emit(protocol.Ping())
		}
	}
}

// dispatch handles one JSON message. It reports true when the peer asked to
// end the call.
func (h *Handler) dispatch(sess *session.Session, data []byte) bool {
	var msg protocol.Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("[%s] bad message: %v", sess.ID, err)
		return false
	}
	switch msg.Type {
	case protocol.MsgAudio:
		pcm, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			log.Printf("[%s] bad audio payload: %v", sess.ID, err)
			return false
		}
		sess.HandleAudioChunk(pcm)
	case protocol.MsgConfig:
		if msg.SampleRate != 0 && msg.SampleRate != audio.SampleRate {
			log.Printf("[%s] peer sample rate %d, expected %d", sess.ID, msg.SampleRate, audio.SampleRate)
		}
	case protocol.MsgPlaybackDone:
		sess.HandlePlaybackDone()
	case protocol.MsgUserInterrupt:
		sess.HandleUserInterrupt()
	case protocol.MsgPong:
	case protocol.MsgEnd:
		return true
	default:
		log.Printf("[%s] unknown message type %q", sess.ID, msg.Type)
	}
	return false
}
