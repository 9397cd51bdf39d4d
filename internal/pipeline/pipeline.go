// Package pipeline runs one conversation turn end to end: transcription,
// context retrieval, answer generation, then synthesis. Each stage has its own
// deadline and the whole run can be canceled between stages.
package pipeline

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/nkotha/voicebridge/internal/audio"
	"github.com/nkotha/voicebridge/internal/llm"
	"github.com/nkotha/voicebridge/internal/protocol"
	"github.com/nkotha/voicebridge/internal/rag"
)

// Code classifies how a turn ended.
type Code int

const (
	// Completed means audio is ready to play.
	Completed Code = iota
	// NoAudio means a reply exists but synthesis failed on both attempts.
	NoAudio
	// Discarded means transcription produced nothing usable.
	Discarded
	// Cancelled means the caller canceled the run, typically on barge-in.
	Cancelled
	// Failed means an unexpected error stopped the turn.
	Failed
)

func (c Code) String() string {
	switch c {
	case Completed:
		return "completed"
	case NoAudio:
		return "no_audio"
	case Discarded:
		return "discarded"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Perf holds per-stage latencies in milliseconds.
type Perf struct {
	STTMs   int64
	RAGMs   int64
	LLMMs   int64
	TTSMs   int64
	TotalMs int64
}

// Outcome is the result of a turn. The session decides state transitions and
// history updates from it.
type Outcome struct {
	Code       Code
	Transcript string
	Reply      string
	Audio      []byte
	Perf       Perf
	Err        error
	Greeting   bool
}

// Emitter delivers protocol events to the peer while the turn is in flight.
type Emitter interface {
	Emit(v any)
}

// Transcriber converts a WAV utterance to text.
type Transcriber interface {
	Transcribe(ctx context.Context, wavData []byte) (string, error)
}

// Generator produces the assistant reply as a token stream, plus the opening
// line for a new call.
type Generator interface {
	Stream(ctx context.Context, transcript, ragContext string, history []protocol.ConversationTurn) (<-chan string, <-chan error)
	Greeting(ctx context.Context, businessContext string) (string, error)
}

// Synthesizer converts reply text to a WAV blob.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Timeouts bounds each stage of a turn.
type Timeouts struct {
	STT      time.Duration
	RAG      time.Duration
	TTS      time.Duration
	Greeting time.Duration
}

// Runner wires the backends for one session's turns.
type Runner struct {
	SessionID     string
	STT           Transcriber
	LLM           Generator
	TTS           Synthesizer
	KB            rag.Retriever
	Timeouts      Timeouts
	HistoryWindow int
}

// nopEmitter discards events; used when no peer is listening mid-turn.
type nopEmitter struct{}

func (nopEmitter) Emit(any) {}

// Run executes one turn over a complete PCM utterance. It emits stage events
// as it goes; the caller emits the final audio and perf events once it has
// decided the resulting state.
func (r *Runner) Run(ctx context.Context, pcm []byte, history []protocol.ConversationTurn, emit Emitter) Outcome {
	wavData := audio.WrapWAV(pcm, audio.SampleRate, audio.Channels, audio.BitDepth)
	return r.run(ctx, wavData, history, emit)
}

// RunRequest executes one turn over an already-containerized audio blob, with
// no intermediate events. Serves the one-shot REST voice endpoint.
func (r *Runner) RunRequest(ctx context.Context, wavData []byte, history []protocol.ConversationTurn) Outcome {
	return r.run(ctx, wavData, history, nopEmitter{})
}

func (r *Runner) run(ctx context.Context, wavData []byte, history []protocol.ConversationTurn, emit Emitter) Outcome {
	start := time.Now()
	var perf Perf

	emit.Emit(protocol.Status(protocol.StageTranscribing))

	sttStart := time.Now()
	sttCtx, cancel := context.WithTimeout(ctx, r.Timeouts.STT)
	transcript, err := r.STT.Transcribe(sttCtx, wavData)
	cancel()
	perf.STTMs = time.Since(sttStart).Milliseconds()
	if ctx.Err() != nil {
		return Outcome{Code: Cancelled, Perf: perf}
	}
	if err != nil || strings.TrimSpace(transcript) == "" {
		if err != nil {
			log.Printf("[%s] transcription failed: %v", r.SessionID, err)
		}
		return Outcome{Code: Discarded, Perf: perf, Err: err}
	}
	transcript = strings.TrimSpace(transcript)
	emit.Emit(protocol.Transcript(transcript, protocol.RoleUser))

	emit.Emit(protocol.Status(protocol.StageSearching))
	ragStart := time.Now()
	ragCtx, cancel := context.WithTimeout(ctx, r.Timeouts.RAG)
	ragContext, err := r.KB.Search(ragCtx, transcript)
	cancel()
	perf.RAGMs = time.Since(ragStart).Milliseconds()
	if ctx.Err() != nil {
		return Outcome{Code: Cancelled, Transcript: transcript, Perf: perf}
	}
	if err != nil {
		log.Printf("[%s] retrieval failed, continuing without context: %v", r.SessionID, err)
		ragContext = ""
	}

	emit.Emit(protocol.Status(protocol.StageThinking))
	llmStart := time.Now()
	reply, err := r.generate(ctx, transcript, ragContext, history, emit)
	perf.LLMMs = time.Since(llmStart).Milliseconds()
	if ctx.Err() != nil {
		return Outcome{Code: Cancelled, Transcript: transcript, Perf: perf}
	}
	if err != nil || strings.TrimSpace(reply) == "" {
		if err != nil {
			log.Printf("[%s] generation failed, using apology: %v", r.SessionID, err)
		}
		reply = llm.Apology
		emit.Emit(protocol.Token(reply))
	}
	reply = strings.TrimSpace(reply)
	emit.Emit(protocol.Transcript(reply, protocol.RoleAssistant))

	emit.Emit(protocol.Status(protocol.StageSpeaking))
	ttsStart := time.Now()
	wav, err := r.synthesize(ctx, reply)
	perf.TTSMs = time.Since(ttsStart).Milliseconds()
	perf.TotalMs = time.Since(start).Milliseconds()
	if ctx.Err() != nil {
		return Outcome{Code: Cancelled, Transcript: transcript, Reply: reply, Perf: perf}
	}
	if err != nil {
		log.Printf("[%s] synthesis failed twice: %v", r.SessionID, err)
		return Outcome{Code: NoAudio, Transcript: transcript, Reply: reply, Perf: perf, Err: err}
	}
	return Outcome{Code: Completed, Transcript: transcript, Reply: reply, Audio: wav, Perf: perf}
}

// RunGreeting produces the opening line of a call. It never discards: a
// generation failure falls back to the generic phrase, and only synthesis can
// leave the turn without audio.
func (r *Runner) RunGreeting(ctx context.Context, emit Emitter) Outcome {
	emit.Emit(protocol.Status(protocol.StageThinking))

	summaryCtx, cancel := context.WithTimeout(ctx, r.Timeouts.RAG)
	summary, err := r.KB.BusinessSummary(summaryCtx)
	cancel()
	if err != nil {
		log.Printf("[%s] business summary unavailable: %v", r.SessionID, err)
		summary = ""
	}
	if ctx.Err() != nil {
		return Outcome{Code: Cancelled, Greeting: true}
	}

	greetCtx, cancel := context.WithTimeout(ctx, r.Timeouts.Greeting)
	text, err := r.LLM.Greeting(greetCtx, summary)
	cancel()
	if err != nil || strings.TrimSpace(text) == "" {
		if err != nil {
			log.Printf("[%s] greeting generation failed, using generic: %v", r.SessionID, err)
		}
		text = llm.GenericGreeting
	}
	text = strings.TrimSpace(text)
	if ctx.Err() != nil {
		return Outcome{Code: Cancelled, Greeting: true}
	}
	emit.Emit(protocol.Transcript(text, protocol.RoleAssistant))

	emit.Emit(protocol.Status(protocol.StageSpeaking))
	ttsCtx, cancel := context.WithTimeout(ctx, r.Timeouts.TTS)
	wav, err := r.TTS.Synthesize(ttsCtx, text)
	cancel()
	if ctx.Err() != nil {
		return Outcome{Code: Cancelled, Greeting: true}
	}
	if err != nil {
		log.Printf("[%s] greeting synthesis failed: %v", r.SessionID, err)
		return Outcome{Code: NoAudio, Transcript: "(call started)", Reply: text, Greeting: true, Err: err}
	}
	return Outcome{Code: Completed, Transcript: "(call started)", Reply: text, Audio: wav, Greeting: true}
}

// generate drains the token stream into the full reply, forwarding each delta
// to the peer. Stream errors after the first token still return the partial
// text.
func (r *Runner) generate(ctx context.Context, transcript, ragContext string, history []protocol.ConversationTurn, emit Emitter) (string, error) {
	window := history
	if r.HistoryWindow > 0 && len(window) > r.HistoryWindow {
		window = window[len(window)-r.HistoryWindow:]
	}

	tokens, errCh := r.LLM.Stream(ctx, transcript, ragContext, window)
	var reply strings.Builder
	var streamErr error
	for tokens != nil || errCh != nil {
		select {
		case tok, ok := <-tokens:
			if !ok {
				tokens = nil
				continue
			}
			reply.WriteString(tok)
			emit.Emit(protocol.Token(tok))
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			streamErr = err
		case <-ctx.Done():
			return reply.String(), ctx.Err()
		}
	}
	if streamErr != nil && reply.Len() == 0 {
		return "", streamErr
	}
	if streamErr != nil {
		log.Printf("[%s] token stream ended early: %v", r.SessionID, streamErr)
	}
	return reply.String(), nil
}

// synthesize tries the synthesizer twice, each attempt under its own deadline.
func (r *Runner) synthesize(ctx context.Context, text string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		ttsCtx, cancel := context.WithTimeout(ctx, r.Timeouts.TTS)
		wav, err := r.TTS.Synthesize(ttsCtx, text)
		cancel()
		if err == nil {
			return wav, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("[%s] synthesis attempt %d failed: %v", r.SessionID, attempt+1, err)
	}
	return nil, lastErr
}
