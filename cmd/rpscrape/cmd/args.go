package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	dateLayout = "2006/01/02"
	// maxDays bounds a date range to keep accidental decade-long runs out.
	maxDays = 366 * 5
)

// parseDates expands "YYYY/MM/DD" or "YYYY/MM/DD-YYYY/MM/DD" into the
// inclusive list of days.
func parseDates(arg string) ([]time.Time, error) {
	arg = strings.TrimSpace(arg)
	startRaw, endRaw, isRange := strings.Cut(arg, "-")
	start, err := time.Parse(dateLayout, strings.TrimSpace(startRaw))
	if err != nil {
		return nil, fmt.Errorf("invalid date %q (want YYYY/MM/DD)", startRaw)
	}
	if !isRange {
		return []time.Time{start}, nil
	}
	end, err := time.Parse(dateLayout, strings.TrimSpace(endRaw))
	if err != nil {
		return nil, fmt.Errorf("invalid date %q (want YYYY/MM/DD)", endRaw)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("date range %q ends before it starts", arg)
	}
	var dates []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if len(dates) == maxDays {
			return nil, fmt.Errorf("date range %q exceeds %d days", arg, maxDays)
		}
		dates = append(dates, d)
	}
	return dates, nil
}

// parseYears expands "YYYY" or "YYYY-YYYY" into the inclusive list of years.
func parseYears(arg string, now time.Time) ([]string, error) {
	arg = strings.TrimSpace(arg)
	startRaw, endRaw, isRange := strings.Cut(arg, "-")
	if !isRange {
		endRaw = startRaw
	}
	start, err := parseYear(startRaw, now)
	if err != nil {
		return nil, err
	}
	end, err := parseYear(endRaw, now)
	if err != nil {
		return nil, err
	}
	if end < start {
		return nil, fmt.Errorf("year range %q ends before it starts", arg)
	}
	years := make([]string, 0, end-start+1)
	for y := start; y <= end; y++ {
		years = append(years, strconv.Itoa(y))
	}
	return years, nil
}

func parseYear(raw string, now time.Time) (int, error) {
	raw = strings.TrimSpace(raw)
	y, err := strconv.Atoi(raw)
	if err != nil || len(raw) != 4 {
		return 0, fmt.Errorf("invalid year %q (want YYYY)", raw)
	}
	if y < 1988 || y > now.Year() {
		return 0, fmt.Errorf("year %d out of range 1988-%d", y, now.Year())
	}
	return y, nil
}
