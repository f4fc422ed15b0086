package evaluator

import (
	"strings"
	"time"
)

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"02.01.2006",
	"2 Jan 2006",
	"02 Jan 2006",
	"2 January 2006",
	"Mon 2 Jan 2006",
	"Monday 2 January 2006",
	"Mon, 02 Jan 2006",
}

var timeLayouts = []string{
	"15:04",
	"15:04:05",
	"3:04 PM",
	"3:04PM",
	"3:04 pm",
	"3:04pm",
	"3PM",
	"3 PM",
}

// ParseAppointment combines the board's date and time columns. A time range
// such as "10:00 - 11:00" uses its start.
func ParseAppointment(date, clock string, loc *time.Location) (time.Time, bool) {
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)
	if date == "" {
		return time.Time{}, false
	}
	if i := strings.IndexAny(clock, "-–"); i > 0 {
		clock = strings.TrimSpace(clock[:i])
	}
	if loc == nil {
		loc = time.Local
	}

	for _, dl := range dateLayouts {
		day, err := time.ParseInLocation(dl, date, loc)
		if err != nil {
			continue
		}
		if clock == "" {
			// Without a time the appointment is only past once the whole day is
			return day.Add(24*time.Hour - time.Second), true
		}
		for _, tl := range timeLayouts {
			t, err := time.ParseInLocation(tl, clock, loc)
			if err != nil {
				continue
			}
			return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc), true
		}
		return time.Time{}, false
	}
	return time.Time{}, false
}
