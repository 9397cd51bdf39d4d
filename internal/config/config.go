package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration. All tunables are externally
// supplied via environment variables with sane defaults.
type Config struct {
	HTTPAddress string

	// Backend credential and models
	SarvamAPIKey string
	LLMModelID   string
	STTModelID   string
	TTSModelID   string
	TTSSpeaker   string
	LanguageCode string

	// Retrieval collaborator; empty disables context search
	KnowledgeBaseURL string

	// VAD thresholds
	SpeechThreshold   float64
	FrameDuration     time.Duration
	SilenceDuration   time.Duration
	MinSpeechDuration time.Duration
	MinUtteranceBytes int

	// Barge-in and echo rejection
	BargeInThreshold float64
	BargeInFrames    int
	PlaybackCooldown time.Duration

	// Watchdog deadlines
	SpeakingDeadline time.Duration
	GreetingDeadline time.Duration

	// Peer heartbeat
	IdleTimeout time.Duration

	// Conversation history
	HistoryCap    int
	HistoryWindow int

	// Per-stage pipeline timeouts
	STTTimeout      time.Duration
	RAGTimeout      time.Duration
	TTSTimeout      time.Duration
	GreetingTimeout time.Duration

	// Synthesis input bound (characters)
	MaxTTSChars int
}

// Load reads environment variables and returns Config with defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file loaded")
	}

	key := os.Getenv("SARVAM_API_KEY")
	if key == "" {
		log.Println("Warning: SARVAM_API_KEY not set - backend calls will not work")
	}

	cfg := Config{
		HTTPAddress:      envStr("HTTP_ADDRESS", ":8080"),
		SarvamAPIKey:     key,
		LLMModelID:       envStr("LLM_MODEL_ID", "sarvam-m"),
		STTModelID:       envStr("STT_MODEL_ID", "saarika:v2.5"),
		TTSModelID:       envStr("TTS_MODEL_ID", "bulbul:v2"),
		TTSSpeaker:       envStr("TTS_SPEAKER", "vidya"),
		LanguageCode:     envStr("LANGUAGE_CODE", "en-IN"),
		KnowledgeBaseURL: os.Getenv("KNOWLEDGE_BASE_URL"),

		SpeechThreshold:   envFloat("SPEECH_THRESHOLD", 200),
		FrameDuration:     envDur("FRAME_DURATION_MS", 256*time.Millisecond),
		SilenceDuration:   envDur("SILENCE_DURATION_MS", 1000*time.Millisecond),
		MinSpeechDuration: envDur("MIN_SPEECH_DURATION_MS", 300*time.Millisecond),
		MinUtteranceBytes: envInt("MIN_AUDIO_BYTES", 8192),

		BargeInThreshold: envFloat("BARGE_IN_THRESHOLD", 500),
		BargeInFrames:    envInt("MIN_BARGE_IN_FRAMES", 3),
		PlaybackCooldown: envDur("PLAYBACK_COOLDOWN_MS", 500*time.Millisecond),

		SpeakingDeadline: envDur("SPEAKING_WATCHDOG_MS", 30000*time.Millisecond),
		GreetingDeadline: envDur("GREETING_WATCHDOG_MS", 120000*time.Millisecond),

		IdleTimeout: envDur("IDLE_TIMEOUT_MS", 30000*time.Millisecond),

		HistoryCap:    envInt("MAX_HISTORY_ENTRIES", 10),
		HistoryWindow: envInt("HISTORY_WINDOW", 4),

		STTTimeout:      envDur("STT_TIMEOUT_MS", 10000*time.Millisecond),
		RAGTimeout:      envDur("RAG_TIMEOUT_MS", 5000*time.Millisecond),
		TTSTimeout:      envDur("TTS_TIMEOUT_MS", 15000*time.Millisecond),
		GreetingTimeout: envDur("GREETING_TIMEOUT_MS", 8000*time.Millisecond),

		MaxTTSChars: envInt("MAX_TTS_CHARS", 490),
	}

	log.Printf("config: HTTP_ADDRESS=%s", cfg.HTTPAddress)
	return cfg
}

func envStr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: invalid %s=%q, using %d", name, v, def)
		return def
	}
	return n
}

func envFloat(name string, def float64) float64 {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("config: invalid %s=%q, using %g", name, v, def)
		return def
	}
	return f
}

// envDur reads a millisecond count.
func envDur(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms < 0 {
		log.Printf("config: invalid %s=%q, using %s", name, v, def)
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
