package calls

import "strings"

// Status is the authoritative lifecycle state of a call.
// Values match the carrier's status vocabulary so events map without translation.
type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusQueued     Status = "queued"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in-progress"
	StatusVoicemail  Status = "voicemail"
	StatusCompleted  Status = "completed"
	StatusBusy       Status = "busy"
	StatusFailed     Status = "failed"
	StatusNoAnswer   Status = "no-answer"
	StatusCanceled   Status = "canceled"
)

// ParseStatus maps a raw carrier value to a Status. Unknown values report false.
// Underscore spellings are accepted.
func ParseStatus(raw string) (Status, bool) {
	s := Status(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "_", "-"))
	switch s {
	case StatusInitiated, StatusQueued, StatusRinging, StatusInProgress, StatusVoicemail,
		StatusCompleted, StatusBusy, StatusFailed, StatusNoAnswer, StatusCanceled:
		return s, true
	case "answered":
		return StatusInProgress, true
	case "cancelled":
		return StatusCanceled, true
	default:
		return "", false
	}
}

func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusBusy, StatusFailed, StatusNoAnswer, StatusCanceled:
		return true
	default:
		return false
	}
}

// HoldsAgent reports whether an agent may stay linked to a call in this status.
func (s Status) HoldsAgent() bool {
	return s == StatusInitiated || s == StatusRinging || s == StatusInProgress
}

var terminalStatuses = []Status{StatusCompleted, StatusBusy, StatusFailed, StatusNoAnswer, StatusCanceled}

// transitions is the whitelist of allowed moves. Terminal statuses have no exits.
var transitions = map[Status]map[Status]bool{
	StatusInitiated:  withTerminals(StatusQueued, StatusRinging, StatusInProgress, StatusVoicemail),
	StatusQueued:     withTerminals(StatusRinging, StatusInProgress, StatusVoicemail),
	StatusRinging:    withTerminals(StatusQueued, StatusInProgress, StatusVoicemail),
	StatusVoicemail:  withTerminals(),
	StatusInProgress: {StatusCompleted: true, StatusFailed: true},
}

func withTerminals(next ...Status) map[Status]bool {
	m := make(map[Status]bool, len(next)+len(terminalStatuses))
	for _, s := range next {
		m[s] = true
	}
	for _, s := range terminalStatuses {
		m[s] = true
	}
	return m
}

// CanTransition reports whether from -> to is on the whitelist.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// IsAnswered reports whether the call reached a live conversation.
func (s Status) IsAnswered() bool {
	return s == StatusInProgress || s == StatusCompleted
}
