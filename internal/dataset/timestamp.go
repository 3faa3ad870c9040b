package dataset

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var months = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may": time.May, "june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

// ParseTimestamp parses dataset timestamps such as "1:56 pm on 8 May, 2023".
// Values without " on " are tried as RFC 3339 and then as a bare ISO date-time.
// Missing date parts default to day 1, January and the current year.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.Join(strings.Fields(value), " ")
	clock, date, ok := strings.Cut(value, " on ")
	if !ok {
		return parseISO(value)
	}

	clock = strings.ToLower(strings.TrimSpace(clock))
	pm := strings.Contains(clock, "pm")
	clock = strings.TrimSpace(strings.NewReplacer("pm", "", "am", "").Replace(clock))

	hourStr, minuteStr, hasMinute := strings.Cut(clock, ":")
	hour, err := strconv.Atoi(strings.TrimSpace(hourStr))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid hour in timestamp %q: %w", value, err)
	}
	minute := 0
	if hasMinute {
		if minute, err = strconv.Atoi(strings.TrimSpace(minuteStr)); err != nil {
			return time.Time{}, fmt.Errorf("invalid minute in timestamp %q: %w", value, err)
		}
	}
	switch {
	case pm && hour != 12:
		hour += 12
	case !pm && hour == 12:
		hour = 0
	}

	day, month, year := 1, time.January, time.Now().Year()
	for _, part := range strings.Fields(strings.ReplaceAll(date, ",", "")) {
		if m, ok := months[strings.ToLower(part)]; ok {
			month = m
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			continue
		}
		if n > 31 {
			year = n
		} else {
			day = n
		}
	}

	t := time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
	if t.Hour() != hour || t.Day() != day {
		return time.Time{}, fmt.Errorf("timestamp %q is out of range", value)
	}
	return t, nil
}

func parseISO(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", value)
}
