package bridge

import "time"

// FinalState reports why a call session ended.
type FinalState string

const (
	FinalCompleted     FinalState = "completed"
	FinalBackendFailed FinalState = "backend_failed"
	FinalMaxDuration   FinalState = "max_duration"
	FinalCanceled      FinalState = "canceled"
)

// Hooks are the only points where the bridge talks to the outside world:
// persistence, calendars, and notifications all hang off these callbacks. Every
// field is optional; the bridge never blocks on a nil hook.
type Hooks struct {
	OnCallStarted func(callSid string)

	// OnTranscriptTurn receives committed transcript turns; role is
	// "user" or "agent".
	OnTranscriptTurn func(callSid, role, text string)

	// OnAppointmentCandidateText forwards raw user speech for external
	// appointment-time parsing. The bridge does no time parsing itself.
	OnAppointmentCandidateText func(callSid, text string)

	// OnBackendUnavailable fires once when the reconnect budget is exhausted,
	// before the session drains.
	OnBackendUnavailable func(callSid string)

	OnCallEnded func(callSid string, duration time.Duration, final FinalState)
}

func (h Hooks) callStarted(callSid string) {
	if h.OnCallStarted != nil {
		h.OnCallStarted(callSid)
	}
}

func (h Hooks) transcriptTurn(callSid, role, text string) {
	if h.OnTranscriptTurn != nil {
		h.OnTranscriptTurn(callSid, role, text)
	}
}

func (h Hooks) appointmentCandidate(callSid, text string) {
	if h.OnAppointmentCandidateText != nil {
		h.OnAppointmentCandidateText(callSid, text)
	}
}

func (h Hooks) backendUnavailable(callSid string) {
	if h.OnBackendUnavailable != nil {
		h.OnBackendUnavailable(callSid)
	}
}

func (h Hooks) callEnded(callSid string, duration time.Duration, final FinalState) {
	if h.OnCallEnded != nil {
		h.OnCallEnded(callSid, duration, final)
	}
}
