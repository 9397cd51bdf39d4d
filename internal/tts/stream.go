package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
)

// chunk boundaries for incremental synthesis; sending whole clauses keeps the
// voice prosody natural.
var chunkSeparators = []rune{'.', '।', '!', '?', ','}

type streamMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type streamTextData struct {
	Text string `json:"text"`
}

type streamConfigData struct {
	TargetLanguageCode string  `json:"target_language_code"`
	Speaker            string  `json:"speaker"`
	Pace               float64 `json:"pace"`
	Loudness           float64 `json:"loudness"`
	OutputAudioCodec   string  `json:"output_audio_codec"`
}

type streamAudioData struct {
	Audio string `json:"audio"`
}

// StreamSynthesize feeds text fragments to the websocket synthesis endpoint
// and returns audio chunks as they arrive. Fragments are regrouped at clause
// boundaries before sending. Both channels close when synthesis finishes; a
// failure is reported once on the error channel.
func (c *Client) StreamSynthesize(ctx context.Context, text <-chan string) (<-chan []byte, <-chan error) {
	audioCh := make(chan []byte, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(audioCh)
		defer close(errCh)

		if c.apiKey == "" {
			errCh <- fmt.Errorf("tts: api key not configured")
			return
		}

		url := c.streamURL()
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			errCh <- fmt.Errorf("tts: dial stream: %w", err)
			return
		}
		defer conn.Close()

		cfg, _ := json.Marshal(streamConfigData{
			TargetLanguageCode: c.language,
			Speaker:            c.speaker,
			Pace:               1.15,
			Loudness:           1.5,
			OutputAudioCodec:   "wav",
		})
		if err := conn.WriteJSON(streamMessage{Type: "config", Data: cfg}); err != nil {
			errCh <- fmt.Errorf("tts: send config: %w", err)
			return
		}

		readDone := make(chan error, 1)
		go func() {
			for {
				var msg streamMessage
				if err := conn.ReadJSON(&msg); err != nil {
					readDone <- err
					return
				}
				switch msg.Type {
				case "audio":
					var data streamAudioData
					if err := json.Unmarshal(msg.Data, &data); err != nil {
						continue
					}
					raw, err := base64.StdEncoding.DecodeString(data.Audio)
					if err != nil || len(raw) == 0 {
						continue
					}
					select {
					case audioCh <- raw:
					case <-ctx.Done():
						readDone <- ctx.Err()
						return
					}
				case "flush_complete", "done":
					readDone <- nil
					return
				}
			}
		}()

		sendErr := c.sendChunks(ctx, conn, text)
		if sendErr == nil {
			sendErr = conn.WriteJSON(streamMessage{Type: "flush"})
		}
		if sendErr != nil {
			conn.Close()
			<-readDone
			errCh <- fmt.Errorf("tts: stream send: %w", sendErr)
			return
		}
		if err := <-readDone; err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("tts: stream read: %w", err)
		}
	}()

	return audioCh, errCh
}

// sendChunks buffers incoming fragments and forwards them whenever a clause
// boundary appears, flushing the remainder when the input closes.
func (c *Client) sendChunks(ctx context.Context, conn *websocket.Conn, text <-chan string) error {
	var pending strings.Builder
	writeText := func(s string) error {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		data, _ := json.Marshal(streamTextData{Text: s})
		return conn.WriteJSON(streamMessage{Type: "text", Data: data})
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frag, ok := <-text:
			if !ok {
				return writeText(pending.String())
			}
			pending.WriteString(frag)
			buffered := pending.String()
			if cut := lastSeparator(buffered); cut >= 0 {
				runes := []rune(buffered)
				if err := writeText(string(runes[:cut+1])); err != nil {
					return err
				}
				pending.Reset()
				pending.WriteString(string(runes[cut+1:]))
			}
		}
	}
}

// lastSeparator returns the rune index of the last clause separator in s, or
// -1 when there is none.
func lastSeparator(s string) int {
	last := -1
	for i, r := range []rune(s) {
		for _, sep := range chunkSeparators {
			if r == sep {
				last = i
			}
		}
	}
	return last
}

func (c *Client) streamURL() string {
	base := c.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	if strings.HasPrefix(base, "http") {
		base = "ws" + strings.TrimPrefix(base, "http")
	}
	return base + "/text-to-speech/ws?model=" + c.model + "&api-subscription-key=" + c.apiKey
}
