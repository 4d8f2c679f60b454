package source

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const tvdrLayout = "20060102150405"

var (
	tvdrPattern        = regexp.MustCompile(`^(\d{14})GMT-(\d{14})GMT$`)
	placeholderPattern = regexp.MustCompile(`\{(utc|utcend)(?::([^}]*))?\}`)
)

// TimeRange is a catchup window in UTC.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// ParseTimeRange parses a tvdr value of the form
// 20250926120000GMT-20250926123000GMT. End must be after start.
func ParseTimeRange(s string) (TimeRange, error) {
	m := tvdrPattern.FindStringSubmatch(s)
	if m == nil {
		return TimeRange{}, fmt.Errorf("%w: %q", ErrInvalidTimeRange, s)
	}
	start, err := time.ParseInLocation(tvdrLayout, m[1], time.UTC)
	if err != nil {
		return TimeRange{}, fmt.Errorf("%w: start: %v", ErrInvalidTimeRange, err)
	}
	end, err := time.ParseInLocation(tvdrLayout, m[2], time.UTC)
	if err != nil {
		return TimeRange{}, fmt.Errorf("%w: end: %v", ErrInvalidTimeRange, err)
	}
	if !end.After(start) {
		return TimeRange{}, fmt.Errorf("%w: end %s not after start %s", ErrInvalidTimeRange, m[2], m[1])
	}
	return TimeRange{Start: start, End: end}, nil
}

// ExpandTemplate substitutes {utc}, {utcend}, {utc:FORMAT} and
// {utcend:FORMAT} in tmpl with the range bounds. Bare placeholders become
// Unix seconds; FORMAT is rendered by formatTimestamp.
func ExpandTemplate(tmpl string, tr TimeRange) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		sub := placeholderPattern.FindStringSubmatch(match)
		t := tr.Start
		if sub[1] == "utcend" {
			t = tr.End
		}
		if sub[2] == "" {
			return strconv.FormatInt(t.Unix(), 10)
		}
		return formatTimestamp(t.UTC(), sub[2])
	})
}

// formatTimestamp renders t using single-letter tokens: Y (four-digit year),
// m, d, H, M, S (two-digit fields). Any other character is copied as is.
func formatTimestamp(t time.Time, format string) string {
	var b strings.Builder
	for _, r := range format {
		switch r {
		case 'Y':
			fmt.Fprintf(&b, "%04d", t.Year())
		case 'm':
			fmt.Fprintf(&b, "%02d", int(t.Month()))
		case 'd':
			fmt.Fprintf(&b, "%02d", t.Day())
		case 'H':
			fmt.Fprintf(&b, "%02d", t.Hour())
		case 'M':
			fmt.Fprintf(&b, "%02d", t.Minute())
		case 'S':
			fmt.Fprintf(&b, "%02d", t.Second())
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
