package calllog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process call log for local/dev use.
type InMemoryStore struct {
	mu           sync.RWMutex
	calls        map[string]CallRecord
	order        []string
	turns        map[string][]TranscriptTurn
	appointments map[string][]Appointment
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		calls:        make(map[string]CallRecord),
		turns:        make(map[string][]TranscriptTurn),
		appointments: make(map[string][]Appointment),
	}
}

func (s *InMemoryStore) StartCall(_ context.Context, record CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.StartedAt.IsZero() {
		record.StartedAt = time.Now().UTC()
	}
	if record.Status == "" {
		record.Status = "in_progress"
	}
	if _, ok := s.calls[record.CallSid]; !ok {
		s.order = append(s.order, record.CallSid)
	}
	s.calls[record.CallSid] = record
	return nil
}

func (s *InMemoryStore) FinishCall(_ context.Context, callSid, status string, endedAt time.Time, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.calls[callSid]
	if !ok {
		return ErrCallNotFound
	}
	record.Status = status
	record.EndedAt = endedAt
	record.DurationSecs = int(duration / time.Second)
	s.calls[callSid] = record
	return nil
}

func (s *InMemoryStore) SaveTurn(_ context.Context, turn TranscriptTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	s.turns[turn.CallSid] = append(s.turns[turn.CallSid], turn)
	return nil
}

func (s *InMemoryStore) SaveAppointment(_ context.Context, appt Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = time.Now().UTC()
	}
	s.appointments[appt.CallSid] = append(s.appointments[appt.CallSid], appt)
	return nil
}

func (s *InMemoryStore) Call(_ context.Context, callSid string) (CallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.calls[callSid]
	if !ok {
		return CallRecord{}, ErrCallNotFound
	}
	return record, nil
}

func (s *InMemoryStore) Turns(_ context.Context, callSid string) ([]TranscriptTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.turns[callSid]
	out := make([]TranscriptTurn, len(arr))
	copy(out, arr)
	return out, nil
}

func (s *InMemoryStore) Appointments(_ context.Context, callSid string) ([]Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.appointments[callSid]
	out := make([]Appointment, len(arr))
	copy(out, arr)
	return out, nil
}

func (s *InMemoryStore) RecentCalls(_ context.Context, limit int) ([]CallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.order) {
		limit = len(s.order)
	}
	out := make([]CallRecord, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.calls[s.order[i]])
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
