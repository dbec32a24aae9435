package prospecting

import (
	"fmt"
	"strings"
	"time"
)

// BusinessHours is the daily window (local time) in which workers may claim
// and contact leads. The rest weekday is fully closed.
type BusinessHours struct {
	StartHour int
	EndHour   int
	RestDay   time.Weekday
	location  *time.Location
}

// NewBusinessHours builds a window from inclusive start/end hours, a rest
// weekday and an IANA timezone name.
func NewBusinessHours(startHour, endHour int, restDay time.Weekday, tz string) (BusinessHours, error) {
	if startHour < 0 || startHour > 23 || endHour < 0 || endHour > 23 || startHour > endHour {
		return BusinessHours{}, fmt.Errorf("prospecting: invalid business hours window %d-%d", startHour, endHour)
	}
	loc := time.UTC
	if tz != "" {
		var err error
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return BusinessHours{}, fmt.Errorf("prospecting: load business hours tz: %w", err)
		}
	}
	return BusinessHours{
		StartHour: startHour,
		EndHour:   endHour,
		RestDay:   restDay,
		location:  loc,
	}, nil
}

// Open reports whether prospecting is allowed at the given moment.
func (b BusinessHours) Open(now time.Time) bool {
	local := now.In(b.loc())
	if local.Weekday() == b.RestDay {
		return false
	}
	return local.Hour() >= b.StartHour && local.Hour() <= b.EndHour
}

// StartOfDay returns local midnight of the day containing now. The daily
// quota counts completions at or after this instant.
func (b BusinessHours) StartOfDay(now time.Time) time.Time {
	local := now.In(b.loc())
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, b.loc())
}

// UntilNextDay returns how long to sleep from now until the next local
// midnight, when the daily quota resets.
func (b BusinessHours) UntilNextDay(now time.Time) time.Duration {
	return b.StartOfDay(now).AddDate(0, 0, 1).Sub(now)
}

// Location returns the window's timezone.
func (b BusinessHours) Location() *time.Location {
	return b.loc()
}

func (b BusinessHours) loc() *time.Location {
	if b.location == nil {
		return time.UTC
	}
	return b.location
}

// NormalizePhone strips every non-digit rune from a raw phone string.
func NormalizePhone(raw string) string {
	var sb strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
