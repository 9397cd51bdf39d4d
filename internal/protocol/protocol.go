// Package protocol defines the JSON messages exchanged with the browser peer
// over the voice WebSocket, plus the conversation turn record shared by the
// session history and the generation backend.
package protocol

// Inbound message types.
const (
	MsgAudio         = "audio"
	MsgConfig        = "config"
	MsgPlaybackDone  = "playback_done"
	MsgUserInterrupt = "user_interrupt"
	MsgPong          = "pong"
	MsgEnd           = "end"
)

// Pipeline stages reported via status events.
const (
	StageListening    = "listening"
	StageTranscribing = "transcribing"
	StageSearching    = "searching"
	StageThinking     = "thinking"
	StageSpeaking     = "speaking"
)

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Inbound is the envelope for JSON messages from the peer. Raw binary frames
// are also accepted and treated as audio chunks.
type Inbound struct {
	Type string `json:"type"`
	// base64 PCM payload for "audio" messages
	Data string `json:"data,omitempty"`
	// advisory fields for "config" messages; no contract change
	SampleRate int `json:"sampleRate,omitempty"`
}

// ConversationTurn is one entry of the bounded conversation history.
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type VADEvent struct {
	Type     string `json:"type"`
	Speaking bool   `json:"speaking"`
}

type TranscriptEvent struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Role string `json:"role"`
}

type TokenEvent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type AudioEvent struct {
	Type   string `json:"type"`
	Data   string `json:"data"`
	Format string `json:"format"`
}

type StatusEvent struct {
	Type  string `json:"type"`
	Stage string `json:"stage"`
}

type InterruptEvent struct {
	Type string `json:"type"`
}

type PerfEvent struct {
	Type    string  `json:"type"`
	STTMs   float64 `json:"stt_ms"`
	RAGMs   float64 `json:"rag_ms"`
	LLMMs   float64 `json:"llm_ms"`
	TTSMs   float64 `json:"tts_ms"`
	TotalMs float64 `json:"total_ms"`
}

type PingEvent struct {
	Type string `json:"type"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func VAD(speaking bool) VADEvent { return VADEvent{Type: "vad", Speaking: speaking} }

func Transcript(text, role string) TranscriptEvent {
	return TranscriptEvent{Type: "transcript", Text: text, Role: role}
}

func Token(text string) TokenEvent { return TokenEvent{Type: "token", Text: text} }

// Audio wraps base64-encoded WAV bytes.
func Audio(data string) AudioEvent { return AudioEvent{Type: "audio", Data: data, Format: "wav"} }

func Status(stage string) StatusEvent { return StatusEvent{Type: "status", Stage: stage} }

func Interrupt() InterruptEvent { return InterruptEvent{Type: "interrupt"} }

func Perf(sttMs, ragMs, llmMs, ttsMs, totalMs float64) PerfEvent {
	return PerfEvent{Type: "perf", STTMs: sttMs, RAGMs: ragMs, LLMMs: llmMs, TTSMs: ttsMs, TotalMs: totalMs}
}

func Ping() PingEvent { return PingEvent{Type: "ping"} }

func Error(message string) ErrorEvent { return ErrorEvent{Type: "error", Message: message} }
