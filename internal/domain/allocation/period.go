package allocation

import "time"

// Window is a half-open calendar month [Start, End)
type Window struct {
	Start time.Time
	End   time.Time
}

// Label formats the window as YYYY-MM
func (w Window) Label() string {
	return w.Start.Format("2006-01")
}

// Contains reports whether t falls inside the window
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// IsZero reports whether the window was never set
func (w Window) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// MonthOf returns the calendar month window containing t, in t's location
func MonthOf(t time.Time) Window {
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return Window{Start: start, End: start.AddDate(0, 1, 0)}
}

// Months splits the inclusive range [start, end] into calendar month windows.
// Every month touching the range is returned, including the month of end.
// An inverted range yields nil.
func Months(start, end time.Time) []Window {
	if end.Before(start) {
		return nil
	}
	last := MonthOf(end).Start
	var windows []Window
	for w := MonthOf(start); !w.Start.After(last); w = MonthOf(w.End) {
		windows = append(windows, w)
	}
	return windows
}
