package session

// State is the conversation phase of a session. Exactly one state is active
// at a time and every change goes through the transition table below.
type State int

const (
	// Greeting covers the opening line, from connect until its audio has
	// played or the peer speaks over it.
	Greeting State = iota
	// Listening waits for speech.
	Listening
	// UserSpeaking accumulates the current utterance.
	UserSpeaking
	// Processing runs the turn pipeline. Incoming audio is dropped.
	Processing
	// AISpeaking waits for the peer to finish playing reply audio.
	AISpeaking
)

func (s State) String() string {
	switch s {
	case Greeting:
		return "GREETING"
	case Listening:
		return "LISTENING"
	case UserSpeaking:
		return "USER_SPEAKING"
	case Processing:
		return "PROCESSING"
	case AISpeaking:
		return "AI_SPEAKING"
	}
	return "UNKNOWN"
}

// legalTransition says whether from may change to to. Same-state entries are
// handled by the caller as no-ops before this check.
func legalTransition(from, to State) bool {
	switch from {
	case Greeting:
		return to == AISpeaking || to == Listening || to == UserSpeaking
	case Listening:
		return to == UserSpeaking
	case UserSpeaking:
		return to == Processing || to == Listening
	case Processing:
		return to == AISpeaking || to == Listening || to == UserSpeaking
	case AISpeaking:
		return to == UserSpeaking || to == Listening
	}
	return false
}
