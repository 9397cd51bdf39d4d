package stt

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultStreamURL = "wss://api.sarvam.ai/speech-to-text-translate/streaming"

// StreamSession is a live transcription session over WebSocket. Audio chunks
// go in; partial and final transcripts come out. The session ends when the
// backend delivers a final transcript or the caller closes it.
type StreamSession struct {
	conn     *websocket.Conn
	partials chan string
	finals   chan string
	audio    chan []byte
	stopCh   chan struct{}

	mu        sync.Mutex
	connected bool
}

type streamConfig struct {
	LanguageCode string `json:"language_code"`
	Model        string `json:"model"`
	AudioFormat  string `json:"audio_format"`
	SampleRate   int    `json:"sample_rate"`
	Mode         string `json:"mode"`
}

type streamMessage struct {
	Type       string `json:"type,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	IsFinal    bool   `json:"is_final,omitempty"`
}

// OpenStream dials the streaming endpoint and starts the send/receive loops.
func (c *Client) OpenStream() (*StreamSession, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("stt: api key missing")
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	headers := map[string][]string{"api-subscription-key": {c.apiKey}}

	wsURL := defaultStreamURL
	if strings.HasPrefix(c.BaseURL, "ws") {
		// test hook: BaseURL may point at a local ws server
		wsURL = c.BaseURL
	}
	conn, resp, err := dialer.Dial(wsURL, headers)
	if err != nil {
		if resp != nil {
			log.Printf("stt stream: connect failed with status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("stt stream: connect: %w", err)
	}

	cfg := streamConfig{
		LanguageCode: c.language,
		Model:        "saaras:v3",
		AudioFormat:  "pcm_s16le",
		SampleRate:   16000,
		Mode:         "transcribe",
	}
	if err := conn.WriteJSON(map[string]any{"config": cfg}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("stt stream: send config: %w", err)
	}

	s := &StreamSession{
		conn:      conn,
		partials:  make(chan string, 100),
		finals:    make(chan string, 1),
		audio:     make(chan []byte, 1000),
		stopCh:    make(chan struct{}),
		connected: true,
	}
	go s.readLoop()
	go s.sendLoop()
	return s, nil
}

// Partials delivers running transcripts as the backend refines them.
func (s *StreamSession) Partials() <-chan string { return s.partials }

// Final delivers the final transcript; the channel is closed afterwards.
func (s *StreamSession) Final() <-chan string { return s.finals }

// SendChunk queues a PCM chunk to the backend. Drops the chunk if the
// outbound queue is full rather than blocking the audio path.
func (s *StreamSession) SendChunk(pcm []byte) error {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if !connected {
		return fmt.Errorf("stt stream: not connected")
	}
	select {
	case s.audio <- pcm:
	default:
		log.Println("stt stream: audio queue full, dropping chunk")
	}
	return nil
}

// EndOfStream signals that no more audio follows; the backend finalizes the
// transcript in response. The marker is queued behind any pending audio so
// the send loop remains the only writer.
func (s *StreamSession) EndOfStream() error {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if !connected {
		return fmt.Errorf("stt stream: not connected")
	}
	select {
	case s.audio <- nil:
		return nil
	case <-s.stopCh:
		return fmt.Errorf("stt stream: closed")
	}
}

// Close tears the session down. Safe to call after the final transcript.
func (s *StreamSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	s.connected = false
	close(s.stopCh)
	return s.conn.Close()
}

func (s *StreamSession) readLoop() {
	defer close(s.finals)
	defer close(s.partials)
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopCh:
			default:
				log.Printf("stt stream: read: %v", err)
			}
			return
		}
		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Transcript == "" {
			continue
		}
		if msg.IsFinal || msg.Type == "final" {
			select {
			case s.finals <- msg.Transcript:
			case <-s.stopCh:
			}
			return
		}
		select {
		case s.partials <- msg.Transcript:
		default:
		}
	}
}

func (s *StreamSession) sendLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		case pcm := <-s.audio:
			s.mu.Lock()
			conn, connected := s.conn, s.connected
			s.mu.Unlock()
			if !connected {
				return
			}
			if pcm == nil {
				// end-of-stream marker
				if err := conn.WriteJSON(map[string]bool{"eof": true}); err != nil {
					log.Printf("stt stream: send eof: %v", err)
				}
				continue
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
				log.Printf("stt stream: send audio: %v", err)
				return
			}
		}
	}
}
