package appointment

import (
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	// A Wednesday morning.
	now := time.Date(2025, time.March, 12, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		text string
		want time.Time
	}{
		{
			name: "tomorrow afternoon",
			text: "tomorrow at 3pm works for me",
			want: time.Date(2025, time.March, 13, 15, 0, 0, 0, time.UTC),
		},
		{
			name: "tomorrow with minutes",
			text: "let's do tomorrow at 2:30pm",
			want: time.Date(2025, time.March, 13, 14, 30, 0, 0, time.UTC),
		},
		{
			name: "dotted meridiem",
			text: "how about tomorrow at 3 p.m.",
			want: time.Date(2025, time.March, 13, 15, 0, 0, 0, time.UTC),
		},
		{
			name: "noon",
			text: "tomorrow at 12pm",
			want: time.Date(2025, time.March, 13, 12, 0, 0, 0, time.UTC),
		},
		{
			name: "midnight",
			text: "tomorrow at 12am",
			want: time.Date(2025, time.March, 13, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "weekday later this week",
			text: "friday at 4 p.m. is good",
			want: time.Date(2025, time.March, 14, 16, 0, 0, 0, time.UTC),
		},
		{
			name: "same weekday rolls to next week",
			text: "wednesday at 10am",
			want: time.Date(2025, time.March, 19, 10, 0, 0, 0, time.UTC),
		},
		{
			name: "next weekday",
			text: "next tuesday at 10am",
			want: time.Date(2025, time.March, 18, 10, 0, 0, 0, time.UTC),
		},
		{
			name: "earlier weekday rolls forward",
			text: "monday at 9am",
			want: time.Date(2025, time.March, 17, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "mixed case",
			text: "Tomorrow At 3PM",
			want: time.Date(2025, time.March, 13, 15, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.text, now)
			if !ok {
				t.Fatalf("Parse(%q) found no match", tt.text)
			}
			if !got.Time.Equal(tt.want) {
				t.Fatalf("Parse(%q) = %v, want %v", tt.text, got.Time, tt.want)
			}
			if got.RawText == "" {
				t.Fatalf("Parse(%q) returned empty RawText", tt.text)
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	now := time.Date(2025, time.March, 12, 9, 0, 0, 0, time.UTC)

	for _, text := range []string{
		"sometime soon",
		"give me a call back",
		"at 3pm",              // no day reference
		"tomorrow at 19pm",    // nonsense hour
		"tomorrow at 3:75pm",  // nonsense minutes
		"next weekend at 3pm", // unsupported day word
	} {
		if m, ok := Parse(text, now); ok {
			t.Errorf("Parse(%q) = %v, want no match", text, m)
		}
	}
}

func TestParseKeepsRawPhrase(t *testing.T) {
	now := time.Date(2025, time.March, 12, 9, 0, 0, 0, time.UTC)
	m, ok := Parse("sure, tomorrow at 2:30pm at the office", now)
	if !ok {
		t.Fatalf("expected a match")
	}
	if m.RawText != "tomorrow at 2:30pm" {
		t.Fatalf("RawText = %q, want %q", m.RawText, "tomorrow at 2:30pm")
	}
}
