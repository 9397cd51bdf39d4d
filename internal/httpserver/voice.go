package httpserver

import (
	"encoding/base64"
	"io"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/nkotha/voicebridge/internal/app"
	"github.com/nkotha/voicebridge/internal/pipeline"
	"github.com/nkotha/voicebridge/internal/protocol"
)

// voiceChatStore keeps conversation history for the one-shot REST endpoint,
// keyed by caller-provided session id. These sessions are separate from live
// websocket sessions.
type voiceChatStore struct {
	mu   sync.Mutex
	byID map[string][]protocol.ConversationTurn
}

func newVoiceChatStore() *voiceChatStore {
	return &voiceChatStore{byID: make(map[string][]protocol.ConversationTurn)}
}

func (s *voiceChatStore) history(id string) []protocol.ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := s.byID[id]
	out := make([]protocol.ConversationTurn, len(turns))
	copy(out, turns)
	return out
}

// record appends one exchange and trims the oldest pairs beyond capPairs.
func (s *voiceChatStore) record(id, userText, assistantText string, capPairs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := append(s.byID[id],
		protocol.ConversationTurn{Role: protocol.RoleUser, Content: userText},
		protocol.ConversationTurn{Role: protocol.RoleAssistant, Content: assistantText},
	)
	if max := capPairs * 2; max > 0 && len(turns) > max {
		turns = turns[len(turns)-max:]
	}
	s.byID[id] = turns
}

type voiceChatResponse struct {
	SessionID      string `json:"session_id"`
	UserTranscript string `json:"user_transcript"`
	AgentResponse  string `json:"agent_response"`
	AgentAudio     string `json:"agent_audio_base64"`
}

// handleVoiceChat runs one full voice turn over an uploaded audio file:
// transcription, retrieval, generation, synthesis, and the JSON result.
func handleVoiceChat(a *app.App, store *voiceChatStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		file, err := c.FormFile("audio")
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "audio file required"})
		}
		f, err := file.Open()
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "unreadable audio file"})
		}
		defer f.Close()
		wavData, err := io.ReadAll(f)
		if err != nil || len(wavData) == 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "empty audio file"})
		}

		sessionID := c.FormValue("session_id")
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		log.Printf("[%s] voice chat request, file=%s (%d bytes)", sessionID, file.Filename, len(wavData))

		runner := a.NewRunner(sessionID)
		out := runner.RunRequest(c.Request().Context(), wavData, store.history(sessionID))
		switch out.Code {
		case pipeline.Completed:
			store.record(sessionID, out.Transcript, out.Reply, a.Config.HistoryCap)
			return c.JSON(http.StatusOK, voiceChatResponse{
				SessionID:      sessionID,
				UserTranscript: out.Transcript,
				AgentResponse:  out.Reply,
				AgentAudio:     base64.StdEncoding.EncodeToString(out.Audio),
			})
		case pipeline.Discarded:
			return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "no speech recognized"})
		default:
			log.Printf("[%s] voice chat failed (%s): %v", sessionID, out.Code, out.Err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "voice chat failed"})
		}
	}
}
