package push

import (
	"fmt"
	"testing"
	"time"

	"github.com/dukerupert/nudge/internal/model"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var testZone = time.FixedZone("UTC-3", -3*60*60)

func at(hour, minute int) time.Time {
	return time.Date(2026, time.March, 15, hour, minute, 0, 0, testZone)
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"08:00", 480, false},
		{"08:00:59", 480, false},
		{"23:59", 1439, false},
		{"00:00", 0, false},
		{" 7:05 ", 425, false},
		{"24:00", 0, true},
		{"12:60", 0, true},
		{"noon", 0, true},
		{"", 0, true},
		{"1:2:3:4", 0, true},
		{"08:00xyz", 0, true},
		{"08:00:zz", 0, true},
		{"08:00:60", 0, true},
		{"-1:30", 0, true},
		{"+8:00", 0, true},
		{"008:00", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseClock(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseClock(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseClock(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestCapsuleDue(t *testing.T) {
	tests := []struct {
		name  string
		clock string
		now   time.Time
		want  bool
	}{
		{"exact", "08:00", at(8, 0), true},
		{"one after", "08:00", at(8, 1), true},
		{"edge after", "08:00", at(8, 2), true},
		{"edge before", "08:00", at(7, 58), true},
		{"outside after", "12:00", at(12, 3), false},
		{"outside before", "12:00", at(11, 57), false},
		{"with seconds", "08:00:00", at(8, 0), true},
		{"wraps past midnight", "00:00", at(23, 59), true},
		{"wraps before midnight", "23:59", at(0, 0), true},
		{"wrap edge", "00:01", at(23, 59), true},
		{"wrap outside", "00:02", at(23, 59), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CapsuleDue(tt.clock, tt.now)
			if err != nil {
				t.Fatalf("capsule due: %v", err)
			}
			if got != tt.want {
				t.Errorf("CapsuleDue(%q, %s) = %v, want %v", tt.clock, tt.now.Format("15:04"), got, tt.want)
			}
		})
	}

	if _, err := CapsuleDue("bogus", at(8, 0)); err == nil {
		t.Error("expected error for unparseable capsule time")
	}
}

func TestCapsuleDueSymmetric(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("window is symmetric around midnight", prop.ForAll(
		func(a, b int) bool {
			clockA := fmt.Sprintf("%02d:%02d", a/60, a%60)
			clockB := fmt.Sprintf("%02d:%02d", b/60, b%60)
			ab, errA := CapsuleDue(clockA, at(b/60, b%60))
			ba, errB := CapsuleDue(clockB, at(a/60, a%60))
			return errA == nil && errB == nil && ab == ba
		},
		gen.IntRange(0, 1439),
		gen.IntRange(0, 1439),
	))

	properties.TestingRun(t)
}

func TestJourneyDay(t *testing.T) {
	created := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"same instant", created, 0},
		{"before creation", created.Add(-time.Hour), 0},
		{"first millisecond", created.Add(time.Millisecond), 1},
		{"exactly one day", created.Add(24 * time.Hour), 1},
		{"just over six days", created.Add(6*24*time.Hour + time.Millisecond), 7},
		{"exactly seven days", created.Add(7 * 24 * time.Hour), 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := JourneyDay(created, tt.now); got != tt.want {
				t.Errorf("JourneyDay = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWaterDue(t *testing.T) {
	last := at(10, 0)
	tests := []struct {
		name string
		last *time.Time
		now  time.Time
		want bool
	}{
		{"first of day too early", nil, at(6, 59), false},
		{"first of day at seven", nil, at(7, 0), true},
		{"first of day late evening", nil, at(22, 59), true},
		{"first of day too late", nil, at(23, 0), false},
		{"interval not elapsed", &last, at(10, 59), false},
		{"interval elapsed", &last, at(11, 0), true},
		{"cursor ignores daytime window", &last, at(23, 30), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ns := model.NotificationSettings{WaterReminder: true, WaterInterval: 60, LastWaterNotification: tt.last}
			if got := WaterDue(ns, tt.now); got != tt.want {
				t.Errorf("WaterDue = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWaterPercent(t *testing.T) {
	tests := []struct {
		progress, goal, want int
	}{
		{1490, 2000, 75},
		{1499, 2000, 75},
		{1489, 2000, 74},
		{0, 2000, 0},
		{2000, 2000, 100},
		{3000, 2000, 150},
		{500, 0, 0},
		{500, -10, 0},
	}
	for _, tt := range tests {
		if got := WaterPercent(tt.progress, tt.goal); got != tt.want {
			t.Errorf("WaterPercent(%d, %d) = %d, want %d", tt.progress, tt.goal, got, tt.want)
		}
	}
}

func TestTreatmentDay(t *testing.T) {
	str := func(s string) *string { return &s }
	today := at(21, 0)
	tests := []struct {
		name  string
		start *string
		want  int
	}{
		{"unset", nil, 0},
		{"empty", str(""), 0},
		{"unparseable", str("15/03/2026"), 0},
		{"starts today", str("2026-03-15"), 1},
		{"started ten days ago", str("2026-03-05"), 11},
		{"in the future", str("2026-03-16"), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TreatmentDay(tt.start, today); got != tt.want {
				t.Errorf("TreatmentDay = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIMCDue(t *testing.T) {
	today := at(10, 0)
	tests := []struct {
		last string
		want bool
	}{
		{"2026-03-08", true},
		{"2026-03-01", true},
		{"2026-03-09", false},
		{"2026-03-15", false},
	}
	for _, tt := range tests {
		got, err := IMCDue(tt.last, today)
		if err != nil {
			t.Fatalf("IMCDue(%q): %v", tt.last, err)
		}
		if got != tt.want {
			t.Errorf("IMCDue(%q) = %v, want %v", tt.last, got, tt.want)
		}
	}

	if _, err := IMCDue("yesterday", today); err == nil {
		t.Error("expected error for unparseable date")
	}
}

func TestFirstName(t *testing.T) {
	tests := []struct {
		profile *model.Profile
		want    string
	}{
		{nil, "Usuário"},
		{&model.Profile{FullName: ""}, "Usuário"},
		{&model.Profile{FullName: "   "}, "Usuário"},
		{&model.Profile{FullName: "Maria"}, "Maria"},
		{&model.Profile{FullName: "Ana Paula Souza"}, "Ana"},
	}
	for _, tt := range tests {
		if got := FirstName(tt.profile); got != tt.want {
			t.Errorf("FirstName(%+v) = %q, want %q", tt.profile, got, tt.want)
		}
	}
}
