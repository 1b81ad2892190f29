package tariff

import (
	"fmt"
	"slices"
	"time"
)

// Period is a recurring daily window of peak pricing. Both bounds are
// inclusive and expressed in minutes since midnight.
type Period struct {
	StartMinute   int            `json:"startMinute"`
	EndMinute     int            `json:"endMinute"`
	DaysOfTheWeek []time.Weekday `json:"daysOfTheWeek,omitempty"`
}

// Clock builds a Period from two "15:04" clock strings.
func Clock(start, end string) (Period, error) {
	s, err := parseClock(start)
	if err != nil {
		return Period{}, err
	}
	e, err := parseClock(end)
	if err != nil {
		return Period{}, err
	}
	if e < s {
		return Period{}, fmt.Errorf("period end %s is before start %s", end, start)
	}
	return Period{StartMinute: s, EndMinute: e}, nil
}

func mustClock(start, end string) Period {
	p, err := Clock(start, end)
	if err != nil {
		panic(err)
	}
	return p
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func (p Period) containsMinute(minute int, dow time.Weekday, checkDay bool) bool {
	if minute < p.StartMinute || minute > p.EndMinute {
		return false
	}
	if checkDay && len(p.DaysOfTheWeek) > 0 && !slices.Contains(p.DaysOfTheWeek, dow) {
		return false
	}
	return true
}

// Contains checks if t falls within the period.
func (p Period) Contains(t time.Time) bool {
	return p.containsMinute(t.Hour()*60+t.Minute(), t.Weekday(), true)
}

// Schedule is the set of peak periods of a time-of-use contract. Everything
// outside of the periods is off-peak.
type Schedule struct {
	Periods  []Period
	Location *time.Location
}

// DefaultSchedule has peak hours from 08:00 to 12:00 and 18:00 to 19:00.
var DefaultSchedule = Schedule{
	Periods: []Period{
		mustClock("08:00", "12:00"),
		mustClock("18:00", "19:00"),
	},
}

// IsPeak reports whether t is in a peak period.
func (s Schedule) IsPeak(t time.Time) bool {
	if s.Location != nil {
		t = t.In(s.Location)
	}
	for _, p := range s.Periods {
		if p.Contains(t) {
			return true
		}
	}
	return false
}

// IsPeakLabel reports whether a "15:04" bucket label is in a peak period.
// Day-of-week restrictions are ignored since a label carries no date.
func (s Schedule) IsPeakLabel(label string) (bool, error) {
	minute, err := parseClock(label)
	if err != nil {
		return false, err
	}
	for _, p := range s.Periods {
		if p.containsMinute(minute, time.Sunday, false) {
			return true, nil
		}
	}
	return false, nil
}
