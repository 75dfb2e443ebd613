package quota

import (
	"fmt"
	"strings"
	"time"
)

// Period is the reset cadence of a quota.
type Period string

const (
	Daily   Period = "daily"
	Weekly  Period = "weekly"
	Monthly Period = "monthly"
)

// ParsePeriod validates a period name.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case Daily, Weekly, Monthly:
		return p, nil
	default:
		return "", fmt.Errorf("unknown reset period %q", s)
	}
}

// Title returns the capitalised period name used in user-facing messages.
func (p Period) Title() string {
	if p == "" {
		return ""
	}
	return strings.ToUpper(string(p[:1])) + string(p[1:])
}

// Window is the half-open range [Start, End) over which usage is counted.
type Window struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Period Period    `json:"period"`
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// ComputeWindow returns the UTC window of the given period that contains now.
// Unknown periods are treated as daily.
func ComputeWindow(now time.Time, period Period) Window {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	w := Window{Period: period}
	switch period {
	case Weekly:
		// time.Weekday starts at Sunday=0; shift so Monday=0.
		sinceMonday := (int(now.Weekday()) + 6) % 7
		w.Start = midnight.AddDate(0, 0, -sinceMonday)
		w.End = w.Start.AddDate(0, 0, 7)
	case Monthly:
		w.Start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		// time.Date normalises month 13 into January of the following year.
		w.End = time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	default:
		w.Period = Daily
		w.Start = midnight
		w.End = midnight.AddDate(0, 0, 1)
	}
	return w
}
