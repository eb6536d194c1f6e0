package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseMuteWindow parses a "HH:MM-HH:MM" half-open local-time interval
// as accepted on the subscriber policy configuration surface (§3).
func ParseMuteWindow(spec string) (MuteWindow, error) {
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return MuteWindow{}, fmt.Errorf("invalid mute window %q: expected HH:MM-HH:MM", spec)
	}
	start, err := parseClockTime(parts[0])
	if err != nil {
		return MuteWindow{}, fmt.Errorf("invalid mute window start %q: %w", spec, err)
	}
	end, err := parseClockTime(parts[1])
	if err != nil {
		return MuteWindow{}, fmt.Errorf("invalid mute window end %q: %w", spec, err)
	}
	return MuteWindow{Start: start, End: end}, nil
}

func parseClockTime(s string) (time.Duration, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 || hours > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute, nil
}

// LocalTimeOfDay returns how far into its local day `at` falls, resolving
// timezone via the IANA name. Used by the Delivery Planner's mute-window
// filter (§4.9 step 5).
func LocalTimeOfDay(at time.Time, timezone string) (time.Duration, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return 0, fmt.Errorf("loading timezone %q: %w", timezone, err)
	}
	local := at.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return local.Sub(midnight), nil
}

// LocalMidnight returns the UTC instant of the most recent local midnight
// for `at` in the given timezone — the reference point for the §4.9
// step 7 daily cap window.
func LocalMidnight(at time.Time, timezone string) (time.Time, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("loading timezone %q: %w", timezone, err)
	}
	local := at.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).UTC(), nil
}
