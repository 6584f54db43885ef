package session

// Phase is the lifecycle position of a live session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseActive
	PhaseClosing
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseActive:
		return "active"
	case PhaseClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// LiveState is a read-only snapshot of a session. Transcripts accumulate
// fragments for the current turn and reset when the turn completes.
type LiveState struct {
	Phase          Phase
	UserTranscript string
	AITranscript   string
	// InputLevel is the RMS level of the last captured frame.
	InputLevel float64
}

// IsActive reports whether the live overlay should be shown.
func (s LiveState) IsActive() bool {
	return s.Phase == PhaseConnecting || s.Phase == PhaseActive
}

// IsConnecting reports whether the session is still waiting to open.
func (s LiveState) IsConnecting() bool {
	return s.Phase == PhaseConnecting
}
