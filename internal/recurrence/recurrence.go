// Package recurrence translates between the persisted frequency triple
// (frequency, frequency_type, frequency_config JSON) and a structured
// schedule, and computes due-date advancement when payments roll a bill
// into its next cycle.
package recurrence

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mbecker/billminder/internal/dates"
)

// Frequencies.
const (
	Weekly    = "weekly"
	BiWeekly  = "bi-weekly"
	Monthly   = "monthly"
	Quarterly = "quarterly"
	Yearly    = "yearly"
	Custom    = "custom"
)

// Frequency types. Simple schedules carry no config; the other two are
// keyed by the config payload they require.
const (
	TypeSimple         = "simple"
	TypeSpecificDates  = "specific_dates"
	TypeMultipleWeekly = "multiple_weekly"
)

// Schedule is the decoded form of the frequency triple. Exactly one of
// Dates/Days is populated, matching Type; simple schedules carry neither.
type Schedule struct {
	Frequency string
	Type      string

	// Dates are days of the month (1–31), ascending. Set when
	// Type == TypeSpecificDates.
	Dates []int

	// Days are weekdays (0=Monday … 6=Sunday), ascending. Set when
	// Type == TypeMultipleWeekly.
	Days []int
}

type specificDatesConfig struct {
	Dates []int `json:"dates"`
}

type multipleWeeklyConfig struct {
	Days []int `json:"days"`
}

// ValidFrequency reports whether f is a recognized frequency value.
func ValidFrequency(f string) bool {
	switch f {
	case Weekly, BiWeekly, Monthly, Quarterly, Yearly, Custom:
		return true
	}
	return false
}

// Decode parses and validates the persisted triple. Invalid combinations
// (e.g. specific_dates on a weekly bill) are rejected rather than carried
// around as loose JSON.
func Decode(frequency, frequencyType, config string) (Schedule, error) {
	s := Schedule{Frequency: frequency, Type: frequencyType}

	if !ValidFrequency(frequency) {
		return Schedule{}, fmt.Errorf("unknown frequency %q", frequency)
	}

	switch frequencyType {
	case TypeSimple, "":
		// Custom only means anything with a weekday list attached.
		if frequency == Custom {
			return Schedule{}, fmt.Errorf("custom frequency requires multiple_weekly")
		}
		s.Type = TypeSimple
		return s, nil

	case TypeSpecificDates:
		if frequency != Monthly {
			return Schedule{}, fmt.Errorf("specific_dates requires monthly frequency, got %q", frequency)
		}
		var cfg specificDatesConfig
		if err := json.Unmarshal([]byte(config), &cfg); err != nil {
			return Schedule{}, fmt.Errorf("decode frequency_config: %w", err)
		}
		if len(cfg.Dates) == 0 {
			return Schedule{}, fmt.Errorf("specific_dates requires at least one date")
		}
		for _, d := range cfg.Dates {
			if d < 1 || d > 31 {
				return Schedule{}, fmt.Errorf("day of month %d out of range", d)
			}
		}
		sort.Ints(cfg.Dates)
		s.Dates = cfg.Dates
		return s, nil

	case TypeMultipleWeekly:
		if frequency != Custom {
			return Schedule{}, fmt.Errorf("multiple_weekly requires custom frequency, got %q", frequency)
		}
		var cfg multipleWeeklyConfig
		if err := json.Unmarshal([]byte(config), &cfg); err != nil {
			return Schedule{}, fmt.Errorf("decode frequency_config: %w", err)
		}
		if len(cfg.Days) == 0 {
			return Schedule{}, fmt.Errorf("multiple_weekly requires at least one day")
		}
		for _, d := range cfg.Days {
			if d < 0 || d > 6 {
				return Schedule{}, fmt.Errorf("weekday %d out of range", d)
			}
		}
		sort.Ints(cfg.Days)
		s.Days = cfg.Days
		return s, nil

	default:
		return Schedule{}, fmt.Errorf("unknown frequency_type %q", frequencyType)
	}
}

// Encode renders the schedule's config payload for persistence.
func (s Schedule) Encode() (string, error) {
	switch s.Type {
	case TypeSpecificDates:
		b, err := json.Marshal(specificDatesConfig{Dates: s.Dates})
		if err != nil {
			return "", fmt.Errorf("encode frequency_config: %w", err)
		}
		return string(b), nil
	case TypeMultipleWeekly:
		b, err := json.Marshal(multipleWeeklyConfig{Days: s.Days})
		if err != nil {
			return "", fmt.Errorf("encode frequency_config: %w", err)
		}
		return string(b), nil
	default:
		return "{}", nil
	}
}

// NextDue computes the first due date strictly after today.
//
// For specific_dates: the smallest listed day greater than today's
// day-of-month within the current month, else the smallest listed day in
// the next month (December wraps the year). For multiple_weekly: the next
// selected weekday. Simple schedules advance from the current due date
// instead; see Advance.
func (s Schedule) NextDue(today time.Time) time.Time {
	today = dates.StartOfDay(today)

	switch s.Type {
	case TypeSpecificDates:
		for _, d := range s.Dates {
			if d > today.Day() {
				return clampedDate(today.Year(), today.Month(), d)
			}
		}
		year, month := today.Year(), today.Month()+1
		if month > time.December {
			month = time.January
			year++
		}
		return clampedDate(year, month, s.Dates[0])

	case TypeMultipleWeekly:
		for offset := 1; offset <= 7; offset++ {
			candidate := today.AddDate(0, 0, offset)
			if s.dueOnWeekday(candidate.Weekday()) {
				return candidate
			}
		}
		return today.AddDate(0, 0, 7)

	default:
		return Advance(s.Frequency, today)
	}
}

// Advance rolls a simple schedule's due date forward one cycle.
// Monthly advancement clamps the day to 28 so the schedule lands in every
// month; quarterly and yearly clamp to the target month's length.
func Advance(frequency string, due time.Time) time.Time {
	due = dates.StartOfDay(due)
	switch frequency {
	case Weekly:
		return due.AddDate(0, 0, 7)
	case BiWeekly:
		return due.AddDate(0, 0, 14)
	case Quarterly:
		return addMonthsClamped(due, 3)
	case Yearly:
		return addMonthsClamped(due, 12)
	default: // monthly
		year, month := due.Year(), due.Month()+1
		if month > time.December {
			month = time.January
			year++
		}
		day := due.Day()
		if day > 28 {
			day = 28
		}
		return time.Date(year, month, day, 0, 0, 0, 0, due.Location())
	}
}

// Next computes the due date that follows the given one: simple
// schedules advance from the current due date, configured schedules
// compute from today.
func (s Schedule) Next(currentDue, today time.Time) time.Time {
	if s.Type == TypeSimple {
		return Advance(s.Frequency, currentDue)
	}
	return s.NextDue(today)
}

var weekdayLabels = [7]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// Label renders the schedule for display, e.g. "Monthly (1, 15)" or
// "Weekly (Mon, Thu)".
func (s Schedule) Label() string {
	switch s.Type {
	case TypeSpecificDates:
		parts := make([]string, len(s.Dates))
		for i, d := range s.Dates {
			parts[i] = strconv.Itoa(d)
		}
		return "Monthly (" + strings.Join(parts, ", ") + ")"
	case TypeMultipleWeekly:
		parts := make([]string, len(s.Days))
		for i, d := range s.Days {
			parts[i] = weekdayLabels[d]
		}
		return "Weekly (" + strings.Join(parts, ", ") + ")"
	default:
		switch s.Frequency {
		case Weekly:
			return "Weekly"
		case BiWeekly:
			return "Bi-weekly"
		case Quarterly:
			return "Quarterly"
		case Yearly:
			return "Yearly"
		case Custom:
			return "Custom"
		default:
			return "Monthly"
		}
	}
}

// dueOnWeekday maps Go weekdays onto the 0=Monday…6=Sunday convention.
func (s Schedule) dueOnWeekday(wd time.Weekday) bool {
	idx := (int(wd) + 6) % 7
	for _, d := range s.Days {
		if d == idx {
			return true
		}
	}
	return false
}

func clampedDate(year int, month time.Month, day int) time.Time {
	if max := dates.DaysIn(year, month); day > max {
		day = max
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.Local)
}

func addMonthsClamped(t time.Time, months int) time.Time {
	year, month := t.Year(), int(t.Month())+months
	for month > 12 {
		month -= 12
		year++
	}
	return clampedDate(year, time.Month(month), t.Day())
}
