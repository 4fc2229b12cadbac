// Package calllog persists call records, transcript turns, and detected
// appointments. The bridge itself never touches storage; it reaches this
// package only through session hooks.
package calllog

import (
	"context"
	"errors"
	"time"
)

var ErrCallNotFound = errors.New("call not found")

// CallRecord is the durable summary of one phone call.
type CallRecord struct {
	ID           string    `json:"id"`
	CallSid      string    `json:"call_sid"`
	FromNumber   string    `json:"from_number,omitempty"`
	ToNumber     string    `json:"to_number,omitempty"`
	Status       string    `json:"status"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at,omitempty"`
	DurationSecs int       `json:"duration_secs"`
}

// TranscriptTurn stores a single user or agent conversational turn.
type TranscriptTurn struct {
	ID        string    `json:"id"`
	CallSid   string    `json:"call_sid"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Appointment is a booking time detected during a call.
type Appointment struct {
	ID        string    `json:"id"`
	CallSid   string    `json:"call_sid"`
	RawText   string    `json:"raw_text"`
	StartsAt  time.Time `json:"starts_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists and retrieves call history.
type Store interface {
	StartCall(ctx context.Context, record CallRecord) error
	FinishCall(ctx context.Context, callSid, status string, endedAt time.Time, duration time.Duration) error
	SaveTurn(ctx context.Context, turn TranscriptTurn) error
	SaveAppointment(ctx context.Context, appt Appointment) error
	Call(ctx context.Context, callSid string) (CallRecord, error)
	Turns(ctx context.Context, callSid string) ([]TranscriptTurn, error)
	Appointments(ctx context.Context, callSid string) ([]Appointment, error)
	RecentCalls(ctx context.Context, limit int) ([]CallRecord, error)
	Close() error
}
