package push

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dukerupert/nudge/internal/model"
)

const (
	// CapsuleWindowMinutes is the tolerance on either side of a capsule time.
	CapsuleWindowMinutes = 2
	minutesPerDay        = 24 * 60
	dayMillis            = int64(24 * time.Hour / time.Millisecond)

	// First water reminder of the day is only sent inside [waterFirstHour, waterLastHour].
	waterFirstHour = 7
	waterLastHour  = 22

	imcStaleDays = 7

	defaultUserLabel = "Usuário"
)

// ParseClock converts "HH:MM" or "HH:MM:SS" into minutes since midnight.
// Seconds are ignored.
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	fields := make([]int, len(parts))
	for i, part := range parts {
		n, ok := clockField(part)
		if !ok {
			return 0, fmt.Errorf("invalid clock %q", s)
		}
		fields[i] = n
	}
	h, m := fields[0], fields[1]
	if h > 23 || m > 59 || (len(fields) == 3 && fields[2] > 59) {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return h*60 + m, nil
}

// clockField accepts one or two ASCII digits.
func clockField(s string) (int, bool) {
	if len(s) == 0 || len(s) > 2 {
		return 0, false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}

// CapsuleDue reports whether now (already in the service zone) falls within
// CapsuleWindowMinutes of capsuleTime. Times either side of midnight are adjacent.
func CapsuleDue(capsuleTime string, now time.Time) (bool, error) {
	target, err := ParseClock(capsuleTime)
	if err != nil {
		return false, err
	}
	current := now.Hour()*60 + now.Minute()
	diff := target - current
	if diff < 0 {
		diff = -diff
	}
	return diff <= CapsuleWindowMinutes || diff >= minutesPerDay-CapsuleWindowMinutes, nil
}

// JourneyDay is the 1-indexed day count since account creation:
// ceil(elapsed / 24h). It is 0 when no time has elapsed.
func JourneyDay(createdAt, now time.Time) int {
	elapsed := now.Sub(createdAt).Milliseconds()
	if elapsed <= 0 {
		return 0
	}
	return int((elapsed + dayMillis - 1) / dayMillis)
}

// WaterDue applies the water throttle: interval elapsed since the last
// reminder, or, with no reminder yet, a local hour inside the daytime window.
func WaterDue(ns model.NotificationSettings, now time.Time) bool {
	if ns.LastWaterNotification != nil {
		interval := time.Duration(ns.WaterInterval) * time.Minute
		return now.Sub(*ns.LastWaterNotification) >= interval
	}
	h := now.Hour()
	return h >= waterFirstHour && h <= waterLastHour
}

// WaterPercent is progress/goal as a whole percentage, rounded half up.
func WaterPercent(progressML, goalML int) int {
	if goalML <= 0 {
		return 0
	}
	return int(math.Round(float64(progressML) * 100 / float64(goalML)))
}

// TreatmentDay is whole days since the treatment start date plus one, or 0
// when the date is unset, unparseable or in the future.
func TreatmentDay(start *string, today time.Time) int {
	if start == nil || *start == "" {
		return 0
	}
	startDate, err := time.ParseInLocation(model.DateLayout, *start, today.Location())
	if err != nil {
		return 0
	}
	days := int(startOfDay(today).Sub(startDate).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days + 1
}

// IMCDue reports whether the last progress entry is at least imcStaleDays old.
func IMCDue(lastEntry string, today time.Time) (bool, error) {
	last, err := time.ParseInLocation(model.DateLayout, lastEntry, today.Location())
	if err != nil {
		return false, fmt.Errorf("parse progress date %q: %w", lastEntry, err)
	}
	cutoff := startOfDay(today).AddDate(0, 0, -imcStaleDays)
	return !last.After(cutoff), nil
}

// FirstName picks the first word of the profile name, or the generic label.
func FirstName(p *model.Profile) string {
	if p == nil {
		return defaultUserLabel
	}
	fields := strings.Fields(p.FullName)
	if len(fields) == 0 {
		return defaultUserLabel
	}
	return fields[0]
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
