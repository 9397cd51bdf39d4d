// Package app constructs the backend clients once at startup and tracks the
// live sessions.
package app

import (
	"sync"

	"github.com/nkotha/voicebridge/internal/config"
	"github.com/nkotha/voicebridge/internal/llm"
	"github.com/nkotha/voicebridge/internal/pipeline"
	"github.com/nkotha/voicebridge/internal/rag"
	"github.com/nkotha/voicebridge/internal/session"
	"github.com/nkotha/voicebridge/internal/stt"
	"github.com/nkotha/voicebridge/internal/transport"
	"github.com/nkotha/voicebridge/internal/tts"
)

// App holds the shared backends. Sessions are added and removed as peers
// connect and disconnect.
type App struct {
	Config    config.Config
	Transport *transport.Client
	STT       *stt.Client
	LLM       *llm.Client
	TTS       *tts.Client
	KB        rag.Retriever

	mu       sync.Mutex
	sessions map[string]*session.Session
}

func New(cfg config.Config) *App {
	tr := transport.New()
	httpc := tr.HTTP()

	var kb rag.Retriever = rag.Noop{}
	if cfg.KnowledgeBaseURL != "" {
		kb = rag.NewClient(httpc, cfg.KnowledgeBaseURL)
	}

	return &App{
		Config:    cfg,
		Transport: tr,
		STT:       stt.NewClient(httpc, cfg.SarvamAPIKey, cfg.STTModelID, cfg.LanguageCode),
		LLM:       llm.NewClient(httpc, cfg.SarvamAPIKey, "", cfg.LLMModelID),
		TTS:       tts.NewClient(httpc, cfg.SarvamAPIKey, cfg.TTSModelID, cfg.TTSSpeaker, cfg.LanguageCode, cfg.MaxTTSChars),
		KB:        kb,
		sessions:  make(map[string]*session.Session),
	}
}

// NewRunner builds the turn pipeline for one session.
func (a *App) NewRunner(sessionID string) *pipeline.Runner {
	return &pipeline.Runner{
		SessionID: sessionID,
		STT:       a.STT,
		LLM:       a.LLM,
		TTS:       a.TTS,
		KB:        a.KB,
		Timeouts: pipeline.Timeouts{
			STT:      a.Config.STTTimeout,
			RAG:      a.Config.RAGTimeout,
			TTS:      a.Config.TTSTimeout,
			Greeting: a.Config.GreetingTimeout,
		},
		HistoryWindow: a.Config.HistoryWindow,
	}
}

func (a *App) Add(s *session.Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions[s.ID] = s
}

func (a *App) Remove(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, id)
}

// Session returns the live session with the given id, or nil.
func (a *App) Session(id string) *session.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessions[id]
}

// SessionCount reports how many peers are connected.
func (a *App) SessionCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

// Shutdown closes remaining sessions and releases pooled connections.
func (a *App) Shutdown() {
	a.mu.Lock()
	open := make([]*session.Session, 0, len(a.sessions))
	for _, s := range a.sessions {
		open = append(open, s)
	}
	a.sessions = make(map[string]*session.Session)
	a.mu.Unlock()

	for _, s := range open {
		s.Close()
	}
	a.Transport.Shutdown()
}
