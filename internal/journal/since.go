package journal

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mistakeknot/hydra/internal/core"
)

var (
	digitsPattern   = regexp.MustCompile(`^\d+$`)
	durationPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([a-z]+)`)
)

var durationUnits = map[string]time.Duration{
	"s": time.Second, "sec": time.Second, "secs": time.Second, "second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"d": 24 * time.Hour, "day": 24 * time.Hour, "days": 24 * time.Hour,
	"w": 7 * 24 * time.Hour, "week": 7 * 24 * time.Hour, "weeks": 7 * 24 * time.Hour,
}

var localLayouts = []string{"2006-01-02 15:04:05", "2006-01-02 15:04", "2006-01-02"}

// ParseSince turns a --since value into an instant. Accepted forms are
// unix seconds, a local "YYYY-MM-DD[ HH:MM[:SS]]" time, and durations
// relative to now such as "10 minutes", "1h30m" or "2 days ago".
func ParseSince(value string, now time.Time) (time.Time, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return time.Time{}, core.Invalid("since", value, "empty value")
	}
	if digitsPattern.MatchString(s) {
		sec, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, core.Invalid("since", value, err.Error())
		}
		return time.Unix(sec, 0), nil
	}
	if d, ok := parseDuration(s); ok {
		return now.Add(-d).Truncate(time.Second), nil
	}
	dt := strings.ReplaceAll(s, "T", " ")
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, dt, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, core.Invalid("since", value,
		"expected unix seconds, 'YYYY-MM-DD[ HH:MM[:SS]]', or duration like '10 minutes'")
}

// parseDuration accepts a run of <number><unit> terms with an optional
// trailing "ago". Any text between terms rejects the whole value.
func parseDuration(text string) (time.Duration, bool) {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.TrimSpace(strings.TrimSuffix(s, "ago"))
	if s == "" {
		return 0, false
	}
	var total float64
	pos := 0
	for _, m := range durationPattern.FindAllStringSubmatchIndex(s, -1) {
		if strings.TrimSpace(s[pos:m[0]]) != "" {
			return 0, false
		}
		pos = m[1]
		num, err := strconv.ParseFloat(s[m[2]:m[3]], 64)
		if err != nil {
			return 0, false
		}
		unit, ok := durationUnits[s[m[4]:m[5]]]
		if !ok {
			return 0, false
		}
		total += num * float64(unit)
	}
	if pos == 0 || strings.TrimSpace(s[pos:]) != "" {
		return 0, false
	}
	return time.Duration(total), true
}

// FormatFiles renders a stored change summary such as
// "M\tsrc/a.go;R100\told\tnew" as "M src/a.go; R100 old -> new".
func FormatFiles(files string) string {
	var parts []string
	for _, raw := range strings.Split(files, ";") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		var cols []string
		for _, c := range strings.Split(raw, "\t") {
			if c = strings.TrimSpace(c); c != "" {
				cols = append(cols, c)
			}
		}
		if len(cols) == 0 {
			continue
		}
		status, paths := cols[0], cols[1:]
		switch {
		case (strings.HasPrefix(status, "R") || strings.HasPrefix(status, "C")) && len(paths) >= 2:
			parts = append(parts, fmt.Sprintf("%s %s -> %s", status, paths[0], paths[1]))
		case len(paths) > 0:
			parts = append(parts, status+" "+strings.Join(paths, " "))
		default:
			parts = append(parts, status)
		}
	}
	return strings.Join(parts, "; ")
}
