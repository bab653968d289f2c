package intent

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// clockRe matches an explicit hour:minute, optionally followed by am/pm.
var clockRe = regexp.MustCompile(`(?i)\b([01]?\d|2[0-3]):([0-5]\d)\s*(a\.?m\.?|p\.?m\.?)?`)

type clock struct {
	Hour, Minute int
}

// statedClocks returns every explicit H:MM the customer wrote, converted to 24h.
func statedClocks(msg string) []clock {
	var out []clock
	for _, m := range clockRe.FindAllStringSubmatch(msg, -1) {
		h, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		suffix := strings.ToLower(strings.ReplaceAll(m[3], ".", ""))
		switch {
		case suffix == "pm" && h < 12:
			h += 12
		case suffix == "am" && h == 12:
			h = 0
		}
		if h > 23 {
			continue
		}
		out = append(out, clock{Hour: h, Minute: mm})
	}
	return out
}

var startLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// parseStart reads the oracle's timestamp. Zone-less values are taken in loc.
func parseStart(v string, loc *time.Location) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range startLayouts {
		var (
			t   time.Time
			err error
		)
		if layout == time.RFC3339 {
			t, err = time.Parse(layout, v)
		} else {
			t, err = time.ParseInLocation(layout, v, loc)
		}
		if err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// concreteStart decides whether a slot pick may be accepted as an exact selection. The customer
// must have written an explicit H:MM and the oracle's timestamp must agree with one of them.
// Anything else ("afternoon", "3pm", "around ten") is a request to look at availability.
func concreteStart(msg, start string, loc *time.Location) (time.Time, bool) {
	clocks := statedClocks(msg)
	if len(clocks) == 0 {
		return time.Time{}, false
	}
	t, ok := parseStart(start, loc)
	if !ok {
		return time.Time{}, false
	}
	local := t.In(loc)
	for _, c := range clocks {
		if local.Hour() == c.Hour && local.Minute() == c.Minute {
			return t, true
		}
	}
	return time.Time{}, false
}
