package evaluator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	clockDuration = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	unitDuration  = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(hours?|hrs?|h|minutes?|mins?|m)`)
	bareNumber    = regexp.MustCompile(`^\d+(?:\.\d+)?$`)
)

// ParseDuration reads the portal's duration column. Accepted forms:
// "1 hour", "1.5 hours", "90 minutes", "1h 30m", "1 hr 15 mins", "01:30",
// and a bare number, which is read as hours.
func ParseDuration(raw string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	if m := clockDuration.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		if min >= 60 {
			return 0, fmt.Errorf("invalid minutes in %q", raw)
		}
		return time.Duration(h)*time.Hour + time.Duration(min)*time.Minute, nil
	}

	if bareNumber.MatchString(s) {
		hours, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		return time.Duration(hours * float64(time.Hour)), nil
	}

	matches := unitDuration.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("unrecognised duration %q", raw)
	}

	var total time.Duration
	for _, m := range matches {
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		if strings.HasPrefix(m[2], "h") {
			total += time.Duration(value * float64(time.Hour))
		} else {
			total += time.Duration(value * float64(time.Minute))
		}
	}
	return total, nil
}
