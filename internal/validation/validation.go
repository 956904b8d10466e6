package validation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kjstillabower/climate-analytics-service/internal/models"
)

// ErrInvalidDateRange is returned for unparseable dates or start after end.
var ErrInvalidDateRange = errors.New("invalid date range")

// ErrUnknownRange is returned for a time-range preset that is not recognized.
var ErrUnknownRange = errors.New("unknown time range")

// Range is a named time-range preset.
type Range string

const (
	RangeLast3Months  Range = "last-3-months"
	RangeLast6Months  Range = "last-6-months"
	RangeLast12Months Range = "last-12-months"
	RangeYTD          Range = "ytd"
	RangeCustom       Range = "custom"
)

// DefaultRange applies when a request names neither a preset nor explicit dates.
const DefaultRange = RangeLast12Months

// ParseDate parses a YYYY-MM-DD date as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(models.DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not a YYYY-MM-DD date", ErrInvalidDateRange, s)
	}
	return t, nil
}

// ParseDateRange parses both bounds and requires start <= end. A single-day range is valid.
func ParseDateRange(start, end string) (time.Time, time.Time, error) {
	s, err := ParseDate(start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	e, err := ParseDate(end)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if s.After(e) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start %s is after end %s", ErrInvalidDateRange, start, end)
	}
	return s, e, nil
}

// ResolveRange turns a preset into concrete YYYY-MM-DD bounds ending today (per now).
// RangeCustom passes customStart and customEnd through and requires both.
// An empty preset resolves to custom when both dates are given, else DefaultRange.
// Month arithmetic follows time.AddDate, so 2024-05-31 minus 3 months is 2024-03-02.
func ResolveRange(preset Range, customStart, customEnd string, now time.Time) (string, string, error) {
	if preset == "" {
		if customStart != "" && customEnd != "" {
			preset = RangeCustom
		} else {
			preset = DefaultRange
		}
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	var start time.Time
	switch preset {
	case RangeLast3Months:
		start = today.AddDate(0, -3, 0)
	case RangeLast6Months:
		start = today.AddDate(0, -6, 0)
	case RangeLast12Months:
		start = today.AddDate(-1, 0, 0)
	case RangeYTD:
		start = time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	case RangeCustom:
		if customStart == "" || customEnd == "" {
			return "", "", fmt.Errorf("%w: custom range requires both startDate and endDate", ErrInvalidDateRange)
		}
		return customStart, customEnd, nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnknownRange, preset)
	}
	return start.Format(models.DateLayout), today.Format(models.DateLayout), nil
}
