package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// Schedule types
const (
	Interval = "interval"
	Daily    = "daily"
	Weekly   = "weekly"
)

// Schedule says when a job runs. Times of day are UTC.
type Schedule struct {
	Type    string `json:"type"`
	Every   int    `json:"every,omitempty"`
	Unit    string `json:"unit,omitempty"`
	At      string `json:"at,omitempty"`
	Weekday string `json:"weekday,omitempty"`
}

// Every builds an interval schedule; unit is seconds, minutes or hours
func Every(n int, unit string) Schedule {
	return Schedule{Type: Interval, Every: n, Unit: unit}
}

// DailyAt builds a daily schedule at HH:MM
func DailyAt(at string) Schedule {
	return Schedule{Type: Daily, At: at}
}

// WeeklyOn builds a weekly schedule on a weekday at HH:MM
func WeeklyOn(weekday, at string) Schedule {
	return Schedule{Type: Weekly, Weekday: weekday, At: at}
}

func (s Schedule) interval() (time.Duration, error) {
	if s.Every <= 0 {
		return 0, fmt.Errorf("interval must be positive, got %d", s.Every)
	}
	var unit time.Duration
	switch strings.ToLower(s.Unit) {
	case "second", "seconds":
		unit = time.Second
	case "minute", "minutes":
		unit = time.Minute
	case "hour", "hours":
		unit = time.Hour
	default:
		return 0, fmt.Errorf("unknown interval unit %q", s.Unit)
	}
	return time.Duration(s.Every) * unit, nil
}

func (s Schedule) clock() (int, int, error) {
	t, err := time.Parse("15:04", s.At)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q: want HH:MM", s.At)
	}
	return t.Hour(), t.Minute(), nil
}

func parseWeekday(s string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(s, d.String()) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

// Validate checks the schedule can produce run times
func (s Schedule) Validate() error {
	_, err := s.Next(time.Now())
	return err
}

// Next is the first run time strictly after t
func (s Schedule) Next(t time.Time) (time.Time, error) {
	t = t.UTC()
	switch s.Type {
	case Interval:
		d, err := s.interval()
		if err != nil {
			return time.Time{}, err
		}
		return t.Add(d), nil
	case Daily:
		h, m, err := s.clock()
		if err != nil {
			return time.Time{}, err
		}
		next := time.Date(t.Year(), t.Month(), t.Day(), h, m, 0, 0, time.UTC)
		if !next.After(t) {
			next = next.AddDate(0, 0, 1)
		}
		return next, nil
	case Weekly:
		h, m, err := s.clock()
		if err != nil {
			return time.Time{}, err
		}
		day, err := parseWeekday(s.Weekday)
		if err != nil {
			return time.Time{}, err
		}
		next := time.Date(t.Year(), t.Month(), t.Day(), h, m, 0, 0, time.UTC)
		next = next.AddDate(0, 0, (int(day)-int(next.Weekday())+7)%7)
		if !next.After(t) {
			next = next.AddDate(0, 0, 7)
		}
		return next, nil
	}
	return time.Time{}, fmt.Errorf("unknown schedule type %q", s.Type)
}

func (s Schedule) String() string {
	switch s.Type {
	case Interval:
		return fmt.Sprintf("every %d %s", s.Every, s.Unit)
	case Daily:
		return "daily at " + s.At + " UTC"
	case Weekly:
		return fmt.Sprintf("every %s at %s UTC", s.Weekday, s.At)
	}
	return s.Type
}
