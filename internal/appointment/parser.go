// Package appointment extracts appointment times from conversational speech.
// It understands the handful of phrasings callers actually use ("tomorrow at
// 3pm", "Friday at 2:30 p.m.", "next tuesday at 10am") rather than attempting
// full natural-language date parsing.
package appointment

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	tomorrowPattern = regexp.MustCompile(`tomorrow\s+at\s+(\d{1,2})(?::(\d{2}))?\s*([ap]\.?\s*m\.?)`)
	weekdayPattern  = regexp.MustCompile(`(monday|tuesday|wednesday|thursday|friday|saturday|sunday|next\s+\w+)\s+at\s+(\d{1,2})(?::(\d{2}))?\s*([ap]\.?\s*m\.?)`)
)

var weekdays = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

// Match is one detected appointment time. RawText is the phrase that matched,
// kept for transcripts and confirmation emails.
type Match struct {
	Time    time.Time
	RawText string
}

// Parse scans text for an appointment phrase relative to now. Matching is
// case-insensitive. It reports false when no supported phrasing is present.
func Parse(text string, now time.Time) (Match, bool) {
	lower := strings.ToLower(text)

	if m := tomorrowPattern.FindStringSubmatch(lower); m != nil {
		hour, minute, ok := clockFrom(m[1], m[2], m[3])
		if !ok {
			return Match{}, false
		}
		day := now.AddDate(0, 0, 1)
		return Match{
			Time:    time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location()),
			RawText: m[0],
		}, true
	}

	if m := weekdayPattern.FindStringSubmatch(lower); m != nil {
		dayStr := m[1]
		hour, minute, ok := clockFrom(m[2], m[3], m[4])
		if !ok {
			return Match{}, false
		}

		if rest, isNext := strings.CutPrefix(dayStr, "next"); isNext {
			dayStr = strings.TrimSpace(rest)
		}
		target, ok := weekdays[dayStr]
		if !ok {
			return Match{}, false
		}

		// "Friday" on a Friday means next week's Friday, never today.
		daysAhead := (int(target) - int(now.Weekday()) + 7) % 7
		if daysAhead == 0 {
			daysAhead = 7
		}
		day := now.AddDate(0, 0, daysAhead)
		return Match{
			Time:    time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location()),
			RawText: m[0],
		}, true
	}

	return Match{}, false
}

// clockFrom converts captured hour/minute/meridiem strings to 24-hour clock
// values. Hours outside 1..12 are rejected rather than wrapped.
func clockFrom(hourStr, minuteStr, meridiem string) (int, int, bool) {
	hour, err := strconv.Atoi(hourStr)
	if err != nil || hour < 1 || hour > 12 {
		return 0, 0, false
	}
	minute := 0
	if minuteStr != "" {
		minute, err = strconv.Atoi(minuteStr)
		if err != nil || minute > 59 {
			return 0, 0, false
		}
	}

	norm := strings.NewReplacer(".", "", " ", "").Replace(meridiem)
	if strings.HasPrefix(norm, "p") && hour != 12 {
		hour += 12
	} else if strings.HasPrefix(norm, "a") && hour == 12 {
		hour = 0
	}
	return hour, minute, true
}
