package vad

import (
	"time"

	"github.com/nkotha/voicebridge/internal/audio"
)

// Event classifies a single audio frame in the context of the utterance so far.
type Event int

const (
	// Silence: no speech in progress, or a too-short speech episode just ended
	// (the caller must discard buffered audio in that case).
	Silence Event = iota
	// SpeechStart: first frame of a new utterance.
	SpeechStart
	// SpeechContinue: utterance in progress (including brief energy dips that
	// have not yet accumulated to the silence window).
	SpeechContinue
	// SpeechEnd: utterance complete and long enough to process.
	SpeechEnd
)

func (e Event) String() string {
	switch e {
	case SpeechStart:
		return "speech_start"
	case SpeechContinue:
		return "speech_continue"
	case SpeechEnd:
		return "speech_end"
	default:
		return "silence"
	}
}

// Config holds the energy and duration thresholds for speech detection.
type Config struct {
	SpeechThreshold   float64       // RMS above this is definite speech
	FrameDuration     time.Duration // nominal duration of one frame
	SilenceDuration   time.Duration // accumulated sub-threshold time that ends an utterance
	MinSpeechDuration time.Duration // utterances shorter than this are rejected
}

// Detector is a stateful RMS-energy voice activity detector. It is not safe
// for concurrent use; each session owns exactly one.
type Detector struct {
	cfg Config

	silenceFrames int
	speechFrames  int
	speaking      bool
}

func New(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Speaking reports whether an utterance is currently in progress.
func (d *Detector) Speaking() bool { return d.speaking }

// Feed classifies one PCM frame and advances the detector state.
func (d *Detector) Feed(frame []byte) Event {
	rms := audio.RMS(frame)

	if rms > d.cfg.SpeechThreshold {
		d.silenceFrames = 0
		d.speechFrames++
		if !d.speaking {
			d.speaking = true
			return SpeechStart
		}
		return SpeechContinue
	}

	// Below the speech threshold: the ambiguous band and true silence both
	// accumulate toward the silence window. Speech never starts from here.
	d.silenceFrames++
	silence := time.Duration(d.silenceFrames) * d.cfg.FrameDuration

	if d.speaking && silence >= d.cfg.SilenceDuration {
		speech := time.Duration(d.speechFrames) * d.cfg.FrameDuration
		d.speaking = false
		d.speechFrames = 0
		d.silenceFrames = 0
		if speech >= d.cfg.MinSpeechDuration {
			return SpeechEnd
		}
		return Silence
	}

	if !d.speaking {
		return Silence
	}
	return SpeechContinue
}

// ForceSpeaking puts the detector into the speaking state as if one speech
// frame had just been observed. Used when barge-in opens a new utterance.
func (d *Detector) ForceSpeaking() {
	d.speaking = true
	d.speechFrames = 1
	d.silenceFrames = 0
}

// Reset returns the detector to a clean non-speaking state.
func (d *Detector) Reset() {
	d.speaking = false
	d.speechFrames = 0
	d.silenceFrames = 0
}
