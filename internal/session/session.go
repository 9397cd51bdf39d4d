// Package session owns the conversation state machine for one connected
// peer: speech detection, barge-in, turn dispatch, and conversation history.
package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/nkotha/voicebridge/internal/audio"
	"github.com/nkotha/voicebridge/internal/config"
	"github.com/nkotha/voicebridge/internal/pipeline"
	"github.com/nkotha/voicebridge/internal/protocol"
	"github.com/nkotha/voicebridge/internal/vad"
)

// Runner executes turns. Satisfied by *pipeline.Runner.
type Runner interface {
	Run(ctx context.Context, pcm []byte, history []protocol.ConversationTurn, emit pipeline.Emitter) pipeline.Outcome
	RunGreeting(ctx context.Context, emit pipeline.Emitter) pipeline.Outcome
}

// turnHandle tracks one in-flight pipeline run. done closes after the run's
// outcome has been applied.
type turnHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Session is the per-connection conversation manager. All methods are safe
// for concurrent use; at most one pipeline run is in flight at a time.
type Session struct {
	ID string

	cfg    config.Config
	emit   pipeline.Emitter
	runner Runner

	mu             sync.Mutex
	state          State
	stateEnteredAt time.Time
	buffer         []byte
	det            *vad.Detector
	bargeFrames    int
	playbackEnded  time.Time
	history        []protocol.ConversationTurn
	turn           *turnHandle
	closed         bool
}

func New(id string, cfg config.Config, runner Runner, emit pipeline.Emitter) *Session {
	return &Session{
		ID:             id,
		cfg:            cfg,
		emit:           emit,
		runner:         runner,
		state:          Greeting,
		stateEnteredAt: time.Now(),
		det: vad.New(vad.Config{
			SpeechThreshold:   cfg.SpeechThreshold,
			FrameDuration:     cfg.FrameDuration,
			SilenceDuration:   cfg.SilenceDuration,
			MinSpeechDuration: cfg.MinSpeechDuration,
		}),
	}
}

// State returns the current conversation state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns a copy of the conversation so far.
func (s *Session) History() []protocol.ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.ConversationTurn, len(s.history))
	copy(out, s.history)
	return out
}

// setStateLocked applies a transition. Re-entering the current state is a
// no-op that reports success; an illegal transition is logged and refused.
func (s *Session) setStateLocked(to State) bool {
	if s.state == to {
		return true
	}
	if !legalTransition(s.state, to) {
		log.Printf("[%s] refusing transition %s -> %s", s.ID, s.state, to)
		return false
	}
	if s.state == UserSpeaking {
		s.buffer = nil
	}
	log.Printf("[%s] state %s -> %s", s.ID, s.state, to)
	s.state = to
	s.stateEnteredAt = time.Now()
	return true
}

// StartGreeting kicks off the opening-line turn. Called once right after the
// connection is established.
func (s *Session) StartGreeting() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.turn != nil || s.state != Greeting {
		return
	}
	s.startTurnLocked(func(ctx context.Context) pipeline.Outcome {
		return s.runner.RunGreeting(ctx, s.emit)
	})
}

// HandleAudioChunk processes one PCM frame from the peer. Behavior depends on
// state: during playback it only watches for barge-in, during processing it
// drops audio, otherwise it feeds the speech detector.
func (s *Session) HandleAudioChunk(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(frame) == 0 {
		return
	}

	switch s.state {
	case Processing:
		return
	case AISpeaking, Greeting:
		s.checkBargeInLocked(frame)
		return
	}

	if !s.playbackEnded.IsZero() && time.Since(s.playbackEnded) < s.cfg.PlaybackCooldown {
		return
	}

	switch s.det.Feed(frame) {
	case vad.SpeechStart:
		if s.setStateLocked(UserSpeaking) {
			s.buffer = append([]byte(nil), frame...)
			s.emit.Emit(protocol.VAD(true))
		}
	case vad.SpeechContinue:
		if s.state == UserSpeaking {
			s.buffer = append(s.buffer, frame...)
		}
	case vad.SpeechEnd:
		if s.state != UserSpeaking {
			return
		}
		s.emit.Emit(protocol.VAD(false))
		if len(s.buffer) < s.cfg.MinUtteranceBytes {
			log.Printf("[%s] utterance too short (%d bytes), dropping", s.ID, len(s.buffer))
			s.setStateLocked(Listening)
			return
		}
		pcm := append([]byte(nil), s.buffer...)
		history := append([]protocol.ConversationTurn(nil), s.history...)
		if s.setStateLocked(Processing) {
			s.startTurnLocked(func(ctx context.Context) pipeline.Outcome {
				return s.runner.Run(ctx, pcm, history, s.emit)
			})
		}
	case vad.Silence:
		if s.state == UserSpeaking {
			s.emit.Emit(protocol.VAD(false))
			s.setStateLocked(Listening)
		}
	}
}

// checkBargeInLocked counts consecutive loud frames during playback and
// interrupts once the debounce threshold is met. The triggering frame seeds
// the new utterance so its onset is not lost.
func (s *Session) checkBargeInLocked(frame []byte) {
	if audio.RMS(frame) <= s.cfg.BargeInThreshold {
		s.bargeFrames = 0
		return
	}
	s.bargeFrames++
	if s.bargeFrames < s.cfg.BargeInFrames {
		return
	}
	s.bargeFrames = 0

	log.Printf("[%s] barge-in during %s", s.ID, s.state)
	s.interruptTurnLocked()
	if s.closed {
		return
	}
	s.emit.Emit(protocol.Interrupt())
	s.det.Reset()
	s.det.ForceSpeaking()
	s.buffer = append([]byte(nil), frame...)
	if s.setStateLocked(UserSpeaking) {
		s.emit.Emit(protocol.VAD(true))
	}
}

// HandleUserInterrupt handles an explicit stop request from the peer, such as
// a tap on an on-screen stop button.
func (s *Session) HandleUserInterrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.state != AISpeaking && s.state != Greeting && s.state != Processing {
		return
	}
	log.Printf("[%s] peer interrupt during %s", s.ID, s.state)
	s.interruptTurnLocked()
	if s.closed {
		return
	}
	s.emit.Emit(protocol.Interrupt())
	s.det.Reset()
	s.bargeFrames = 0
	s.setStateLocked(Listening)
	s.emit.Emit(protocol.Status(protocol.StageListening))
}

// HandlePlaybackDone marks the end of reply playback on the peer. A short
// cooldown follows so speaker echo does not restart detection.
func (s *Session) HandlePlaybackDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state != AISpeaking {
		return
	}
	s.playbackEnded = time.Now()
	s.bargeFrames = 0
	s.det.Reset()
	s.setStateLocked(Listening)
	s.emit.Emit(protocol.Status(protocol.StageListening))
}

// CheckWatchdog recovers sessions stuck waiting on the peer: playback that
// never finishes, or a greeting that never leaves the opening phase.
func (s *Session) CheckWatchdog(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	switch s.state {
	case AISpeaking:
		if now.Sub(s.stateEnteredAt) <= s.cfg.SpeakingDeadline {
			return
		}
		log.Printf("[%s] playback confirmation overdue, forcing listen", s.ID)
		s.playbackEnded = now
		s.bargeFrames = 0
		s.det.Reset()
		s.setStateLocked(Listening)
		s.emit.Emit(protocol.Status(protocol.StageListening))
	case Greeting:
		if now.Sub(s.stateEnteredAt) <= s.cfg.GreetingDeadline {
			return
		}
		log.Printf("[%s] greeting overdue, forcing listen", s.ID)
		s.interruptTurnLocked()
		if s.closed {
			return
		}
		s.setStateLocked(Listening)
		s.emit.Emit(protocol.Status(protocol.StageListening))
	}
}

// Close cancels any in-flight turn and stops the session for good.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	t := s.turn
	s.turn = nil
	s.mu.Unlock()
	if t != nil {
		t.cancel()
		<-t.done
	}
}

// startTurnLocked launches a pipeline run. The outcome is applied on the
// run's own goroutine via finishTurn.
func (s *Session) startTurnLocked(run func(context.Context) pipeline.Outcome) {
	ctx, cancel := context.WithCancel(context.Background())
	t := &turnHandle{cancel: cancel, done: make(chan struct{})}
	s.turn = t
	go func() {
		defer close(t.done)
		s.finishTurn(t, s.runTurn(ctx, run))
	}()
}

// runTurn shields the session from a panicking stage adapter: the panic is
// contained on the turn goroutine and surfaces as a failed outcome instead of
// taking the process down.
func (s *Session) runTurn(ctx context.Context, run func(context.Context) pipeline.Outcome) (out pipeline.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[%s] turn panicked: %v\n%s", s.ID, r, debug.Stack())
			out = pipeline.Outcome{Code: pipeline.Failed, Err: fmt.Errorf("turn panicked: %v", r)}
		}
	}()
	return run(ctx)
}

// interruptTurnLocked cancels the in-flight turn and waits for it to unwind.
// The lock is released while waiting so finishTurn can complete.
func (s *Session) interruptTurnLocked() {
	t := s.turn
	if t == nil {
		return
	}
	s.turn = nil
	t.cancel()
	s.mu.Unlock()
	<-t.done
	s.mu.Lock()
}

// finishTurn applies a turn outcome. A cancelled turn changes nothing here;
// whoever cancelled it owns the next state.
func (s *Session) finishTurn(t *turnHandle, out pipeline.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.turn == t {
		s.turn = nil
	}
	if s.closed {
		return
	}

	switch out.Code {
	case pipeline.Completed:
		if s.setStateLocked(AISpeaking) {
			s.emit.Emit(protocol.Audio(base64.StdEncoding.EncodeToString(out.Audio)))
		} else {
			s.emit.Emit(protocol.Status(protocol.StageListening))
		}
		s.appendHistoryLocked(out)
		s.emitPerf(out)
	case pipeline.NoAudio:
		s.setStateLocked(Listening)
		s.emit.Emit(protocol.Status(protocol.StageListening))
		s.appendHistoryLocked(out)
		s.emitPerf(out)
	case pipeline.Discarded:
		s.setStateLocked(Listening)
		s.emit.Emit(protocol.Status(protocol.StageListening))
	case pipeline.Cancelled:
	case pipeline.Failed:
		log.Printf("[%s] turn failed: %v", s.ID, out.Err)
		s.setStateLocked(Listening)
		s.emit.Emit(protocol.Error("something went wrong, please try again"))
		s.emit.Emit(protocol.Status(protocol.StageListening))
	}
}

// appendHistoryLocked records the exchange and trims the oldest pairs beyond
// the cap. Turns are always appended together so the history stays in
// user/assistant pairs.
func (s *Session) appendHistoryLocked(out pipeline.Outcome) {
	s.history = append(s.history,
		protocol.ConversationTurn{Role: protocol.RoleUser, Content: out.Transcript},
		protocol.ConversationTurn{Role: protocol.RoleAssistant, Content: out.Reply},
	)
	max := s.cfg.HistoryCap * 2
	if max > 0 && len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
}

func (s *Session) emitPerf(out pipeline.Outcome) {
	if out.Greeting {
		return
	}
	p := out.Perf
	s.emit.Emit(protocol.Perf(
		float64(p.STTMs), float64(p.RAGMs), float64(p.LLMMs), float64(p.TTSMs), float64(p.TotalMs),
	))
}
