package conversation

import (
	"regexp"
	"strings"
	"time"
	"unicode"
)

var isoDateRe = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)

var weekdayNames = [...]string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

// firstWeekday returns the first day named in text, read left to right. A word counts when it is
// the full name or an abbreviation of at least three letters ("fri", "thurs").
func firstWeekday(text string) (time.Weekday, bool) {
	words := strings.FieldsFunc(text, func(r rune) bool { return !unicode.IsLetter(r) })
	for _, w := range words {
		if len(w) < 3 {
			continue
		}
		for i, name := range weekdayNames {
			if strings.HasPrefix(name, w) {
				return time.Weekday(i), true
			}
		}
	}
	return 0, false
}

// dayParts map vague times of day onto hour ranges.
var dayParts = []struct {
	word     string
	from, to int
}{
	{"morning", 6, 12},
	{"afternoon", 12, 17},
	{"evening", 17, 23},
	{"tonight", 17, 23},
	{"lunch", 11, 14},
}

const defaultSearchDays = 7

// searchWindow turns a vague date/time description into the range availability is searched in.
// Anything it cannot read falls back to the next week.
func searchWindow(date, timeText string, now time.Time, loc *time.Location) (time.Time, time.Time) {
	text := strings.ToLower(date + " " + timeText)
	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	day, found := time.Time{}, false
	switch {
	case isoDateRe.MatchString(text):
		if d, err := time.ParseInLocation("2006-01-02", isoDateRe.FindStringSubmatch(text)[1], loc); err == nil {
			day, found = d, true
		}
	case strings.Contains(text, "today"), strings.Contains(text, "tonight"):
		day, found = today, true
	case strings.Contains(text, "tomorrow"):
		day, found = today.AddDate(0, 0, 1), true
	default:
		if wd, ok := firstWeekday(text); ok {
			ahead := (int(wd) - int(today.Weekday()) + 7) % 7
			day, found = today.AddDate(0, 0, ahead), true
		}
	}
	if !found {
		return now, today.AddDate(0, 0, defaultSearchDays+1)
	}

	from, to := day, day.AddDate(0, 0, 1)
	for _, p := range dayParts {
		if strings.Contains(text, p.word) {
			from = day.Add(time.Duration(p.from) * time.Hour)
			to = day.Add(time.Duration(p.to) * time.Hour)
			break
		}
	}
	if from.Before(now) {
		from = now
	}
	return from, to
}
