package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/7777tbone7777/aiagents/internal/calllog"
)

func testClient(baseURL string) *Client {
	c := NewClient("re_test_key", "Bolt <bolt@example.com>")
	c.baseURL = baseURL
	c.baseDelay = time.Millisecond
	return c
}

func TestClientSendsEmail(t *testing.T) {
	var got emailRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer re_test_key" {
			t.Errorf("Authorization = %q", auth)
		}
		if r.URL.Path != "/emails" {
			t.Errorf("path = %q, want /emails", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	if err := c.Send(context.Background(), "owner@example.com", "recap", "hello"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(got.To) != 1 || got.To[0] != "owner@example.com" || got.Subject != "recap" {
		t.Fatalf("request = %+v", got)
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	if err := c.Send(context.Background(), "owner@example.com", "recap", "hello"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("server saw %d requests, want 3", n)
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	if err := c.Send(context.Background(), "owner@example.com", "recap", "hello"); err == nil {
		t.Fatalf("Send() succeeded, want error")
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("server saw %d requests, want 1 (4xx is terminal)", n)
	}
}

func TestClientUnconfiguredIsNoop(t *testing.T) {
	c := NewClient("", "")
	if c.Enabled() {
		t.Fatalf("Enabled() = true without credentials")
	}
	if err := c.Send(context.Background(), "owner@example.com", "recap", "hello"); err != nil {
		t.Fatalf("Send() on unconfigured client error = %v, want nil", err)
	}
}

func TestNotifierComposesRecap(t *testing.T) {
	n := NewNotifier(nil, "owner@example.com", "Bolt AI Group", "Bolt")

	record := calllog.CallRecord{CallSid: "CA1", Status: "completed", DurationSecs: 95}
	turns := []calllog.TranscriptTurn{
		{Role: "agent", Content: "Hi, this is Bolt."},
		{Role: "user", Content: "I'd like to book for tomorrow at 3pm."},
	}
	appts := []calllog.Appointment{
		{RawText: "tomorrow at 3pm", StartsAt: time.Date(2025, time.March, 13, 15, 0, 0, 0, time.UTC)},
	}

	body := n.composeBody(record, turns, appts)
	for _, want := range []string{
		"Call CA1 finished",
		"USER: I'd like to book for tomorrow at 3pm.",
		"APPOINTMENT CONFIRMED",
		"Thursday, March 13, 2025 at 3:00 PM",
		"Bolt, Bolt AI Group",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("recap body missing %q:\n%s", want, body)
		}
	}
}

func TestNotifierFinalizeCallEmailsStoredAppointments(t *testing.T) {
	var got emailRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := calllog.NewInMemoryStore()
	ctx := context.Background()
	if err := store.StartCall(ctx, calllog.CallRecord{CallSid: "CA9", Status: "completed"}); err != nil {
		t.Fatalf("StartCall() error = %v", err)
	}
	if err := store.SaveTurn(ctx, calllog.TranscriptTurn{CallSid: "CA9", Role: "user", Content: "book me for tomorrow at 3pm"}); err != nil {
		t.Fatalf("SaveTurn() error = %v", err)
	}
	if err := store.SaveAppointment(ctx, calllog.Appointment{
		CallSid:  "CA9",
		RawText:  "tomorrow at 3pm",
		StartsAt: time.Date(2025, time.March, 13, 15, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("SaveAppointment() error = %v", err)
	}

	n := NewNotifier(testClient(srv.URL), "owner@example.com", "Bolt AI Group", "Bolt")
	n.FinalizeCall(ctx, store, "CA9")

	for _, want := range []string{
		"Call CA9 finished",
		"USER: book me for tomorrow at 3pm",
		"APPOINTMENT CONFIRMED",
		"Thursday, March 13, 2025 at 3:00 PM",
	} {
		if !strings.Contains(got.Text, want) {
			t.Errorf("recap body missing %q:\n%s", want, got.Text)
		}
	}
}

func TestNotifierTruncatesLongTranscripts(t *testing.T) {
	n := NewNotifier(nil, "owner@example.com", "", "")

	turns := make([]calllog.TranscriptTurn, 12)
	for i := range turns {
		turns[i] = calllog.TranscriptTurn{Role: "user", Content: "turn"}
	}
	body := n.composeBody(calllog.CallRecord{CallSid: "CA1"}, turns, nil)
	if got := strings.Count(body, "USER: turn"); got != maxSummaryTurns {
		t.Fatalf("recap contains %d turns, want %d", got, maxSummaryTurns)
	}
}
