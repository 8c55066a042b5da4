package game

// Phase represents the current state of a quiz game
type Phase string

const (
	PhaseWaiting        Phase = "WAITING"
	PhaseQuestionActive Phase = "QUESTION_ACTIVE"
	PhaseResults        Phase = "RESULTS"
	PhaseFinished       Phase = "FINISHED"
)

// Status returns the lowercase form used in the Store and on the wire.
func (p Phase) Status() string {
	switch p {
	case PhaseWaiting:
		return "waiting"
	case PhaseQuestionActive:
		return "question_active"
	case PhaseResults:
		return "results"
	case PhaseFinished:
		return "finished"
	}
	return "waiting"
}

// PhaseFromStatus maps a stored status string back to a Phase. The
// legacy "ended" status is a synonym for finished.
func PhaseFromStatus(status string) Phase {
	switch status {
	case "question_active":
		return PhaseQuestionActive
	case "results":
		return PhaseResults
	case "finished", "ended":
		return PhaseFinished
	default:
		return PhaseWaiting
	}
}

// Terminal reports whether the phase admits no further questions.
func (p Phase) Terminal() bool {
	return p == PhaseFinished
}
