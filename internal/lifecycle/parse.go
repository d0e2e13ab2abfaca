package lifecycle

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Layout is the absolute form dates are stored in once parsed.
const Layout = "02/01/2006 15:04:05"

var (
	reDMYClock = regexp.MustCompile(`(\d{1,2})/(\d{1,2})/(\d{4})\s*(?:-|–|às|as|,|a partir das)?\s*(\d{1,2})(?::|h)(\d{2})(?::(\d{2}))?`)
	reDMYHour  = regexp.MustCompile(`(\d{1,2})/(\d{1,2})/(\d{4})\s*(?:-|–|às|as|,)?\s*(\d{1,2})\s*[hH]\b`)
	reDMY      = regexp.MustCompile(`(\d{1,2})/(\d{1,2})/(\d{4})`)
	reYMD      = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})(?:[T\s]+(\d{1,2}):(\d{2})(?::(\d{2}))?)?`)
	reDashDMY  = regexp.MustCompile(`(\d{1,2})-(\d{1,2})-(\d{4})(?:\s+(\d{1,2}):(\d{2})(?::(\d{2}))?)?`)

	reCountdown  = regexp.MustCompile(`(?i)(\d+)\s*D\s+(\d+)\s*H\s+(\d+)\s*M(?:\s+(\d+)\s*S)?\b`)
	reCountdownK = regexp.MustCompile(`(?i)countdown|faltam|começa em|comeca em|termina em|encerra em`)
	reUnit       = regexp.MustCompile(`(?i)(\d+)\s*(dias?|d|horas?|hrs?|h|minutos?|min|m|segundos?|seg|s)\b`)

	reSessionDay = regexp.MustCompile(`(?i)(\d+)\s*[º°o]?\s*DIA\s*[-–:]\s*(\d{1,2}/\d{1,2}/\d{4})(?:\s*[-–]\s*(\d{1,2}[:h]\d{2}))?`)
)

// Parse finds a date or a countdown inside text. Absolute dates are read in
// loc; countdowns are added to ref.
func Parse(text string, ref time.Time, loc *time.Location) (time.Time, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}

	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t.In(loc), true
	}
	if m := reDMYClock.FindStringSubmatch(text); m != nil {
		return build(m[3], m[2], m[1], m[4], m[5], m[6], loc)
	}
	if m := reDMYHour.FindStringSubmatch(text); m != nil {
		return build(m[3], m[2], m[1], m[4], "0", "0", loc)
	}
	if m := reYMD.FindStringSubmatch(text); m != nil {
		return build(m[1], m[2], m[3], m[4], m[5], m[6], loc)
	}
	if m := reDashDMY.FindStringSubmatch(text); m != nil {
		return build(m[3], m[2], m[1], m[4], m[5], m[6], loc)
	}
	if m := reDMY.FindStringSubmatch(text); m != nil {
		return build(m[3], m[2], m[1], "0", "0", "0", loc)
	}
	if d, ok := Countdown(text); ok {
		return ref.Add(d).In(loc).Truncate(time.Second), true
	}
	return time.Time{}, false
}

// Normalize rewrites text into Layout, resolving countdowns against ref.
func Normalize(text string, ref time.Time, loc *time.Location) (string, bool) {
	t, ok := Parse(text, ref, loc)
	if !ok {
		return "", false
	}
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(Layout), true
}

// Countdown reads "23D 22H 43M 36S" style remaining time, or unit counts
// following a countdown keyword ("Faltam 2 dias 3 horas").
func Countdown(text string) (time.Duration, bool) {
	if m := reCountdown.FindStringSubmatch(text); m != nil {
		d := dur(m[1])*24*time.Hour + dur(m[2])*time.Hour + dur(m[3])*time.Minute + dur(m[4])*time.Second
		return d, true
	}

	loc := reCountdownK.FindStringIndex(text)
	if loc == nil {
		return 0, false
	}
	var total time.Duration
	found := false
	for _, m := range reUnit.FindAllStringSubmatch(text[loc[1]:], -1) {
		n := dur(m[1])
		switch unit := strings.ToLower(m[2]); {
		case strings.HasPrefix(unit, "d"):
			total += n * 24 * time.Hour
		case strings.HasPrefix(unit, "h"):
			total += n * time.Hour
		case strings.HasPrefix(unit, "m"):
			total += n * time.Minute
		default:
			total += n * time.Second
		}
		found = true
	}
	return total, found
}

// LastSessionDay picks the date of the highest numbered session in texts like
// "1º DIA - 2/12/2025 - 20:00 ... 3º DIA - 4/12/2025 - 20:00".
func LastSessionDay(text string) (string, bool) {
	best, bestDay := "", -1
	for _, m := range reSessionDay.FindAllStringSubmatch(text, -1) {
		day := atoi(m[1])
		if day <= bestDay {
			continue
		}
		bestDay = day
		best = m[2]
		if m[3] != "" {
			best += " " + strings.Replace(m[3], "h", ":", 1)
		}
	}
	return best, bestDay >= 0
}

func build(y, mo, d, h, mi, s string, loc *time.Location) (time.Time, bool) {
	year, month, day := atoi(y), atoi(mo), atoi(d)
	hour, minute, sec := atoi(h), atoi(mi), atoi(s)
	if month < 1 || month > 12 || day < 1 || hour > 23 || minute > 59 || sec > 59 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, hour, minute, sec, 0, loc)
	if t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func dur(s string) time.Duration { return time.Duration(atoi(s)) }
