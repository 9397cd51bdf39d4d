package ws_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/nkotha/voicebridge/internal/app"
	"github.com/nkotha/voicebridge/internal/config"
	"github.com/nkotha/voicebridge/internal/llm"
	"github.com/nkotha/voicebridge/internal/ws"
)

func testApp() *app.App {
	return app.New(config.Config{
		SpeechThreshold:   200,
		FrameDuration:     256 * time.Millisecond,
		SilenceDuration:   time.Second,
		MinSpeechDuration: 300 * time.Millisecond,
		MinUtteranceBytes: 8192,
		BargeInThreshold:  500,
		BargeInFrames:     3,
		PlaybackCooldown:  500 * time.Millisecond,
		SpeakingDeadline:  30 * time.Second,
		GreetingDeadline:  120 * time.Second,
		IdleTimeout:       30 * time.Second,
		HistoryCap:        10,
		HistoryWindow:     4,
		STTTimeout:        time.Second,
		RAGTimeout:        time.Second,
		TTSTimeout:        time.Second,
		GreetingTimeout:   time.Second,
	})
}

// Without an API key the greeting falls back to the generic line and
// synthesis fails immediately, so the whole opening sequence runs offline.
func TestServe_GreetingSequence(t *testing.T) {
	a := testApp()
	defer a.Shutdown()

	e := echo.New()
	e.GET("/ws", ws.NewHandler(a).HandleWS)
	srv := httptest.NewServer(e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var sawGreeting bool
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var ev map[string]any
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read event: %v", err)
		}
		switch ev["type"] {
		case "transcript":
			if ev["text"] == llm.GenericGreeting {
				sawGreeting = true
			}
		case "status":
			if ev["stage"] == "listening" {
				// Greeting turn finished without audio.
				if !sawGreeting {
					t.Fatal("reached listening without a greeting transcript")
				}
				if n := a.SessionCount(); n != 1 {
					t.Fatalf("session count = %d", n)
				}
				if err := conn.WriteJSON(map[string]string{"type": "end"}); err != nil {
					t.Fatalf("send end: %v", err)
				}
				waitGone(t, a)
				return
			}
		}
	}
}

func waitGone(t *testing.T, a *app.App) {
	t.Helper()
	stop := time.Now().Add(2 * time.Second)
	for time.Now().Before(stop) {
		if a.SessionCount() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("session was not removed after end")
}

func TestDispatch_IgnoresUnknownMessages(t *testing.T) {
	a := testApp()
	defer a.Shutdown()

	e := echo.New()
	e.GET("/ws", ws.NewHandler(a).HandleWS)
	srv := httptest.NewServer(e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	msgs := []string{
		`{"type":"mystery"}`,
		`{"type":"config","sampleRate":48000}`,
		`{"type":"pong"}`,
		`not json at all`,
	}
	for _, m := range msgs {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	// The connection must survive all of the above.
	if err := conn.WriteJSON(map[string]string{"type": "end"}); err != nil {
		t.Fatalf("send end: %v", err)
	}
	waitGone(t, a)
}
