package store

import (
	"testing"
	"time"

	"github.com/dukerupert/nudge/internal/model"
)

func strPtr(s string) *string { return &s }

func TestEnsureDefaults(t *testing.T) {
	ss := NewSettingsStore(setupTestDB(t))

	ns, err := ss.EnsureDefaults(7)
	if err != nil {
		t.Fatalf("ensure defaults: %v", err)
	}
	if !ns.CapsuleReminder {
		t.Error("capsule reminder should default on")
	}
	if ns.CapsuleTime == nil || *ns.CapsuleTime != model.DefaultCapsuleTime {
		t.Errorf("capsule_time = %v, want %q", ns.CapsuleTime, model.DefaultCapsuleTime)
	}
	if ns.WaterReminder {
		t.Error("water reminder should default off")
	}
	if ns.WaterInterval != model.DefaultWaterInterval {
		t.Errorf("water_interval = %d, want %d", ns.WaterInterval, model.DefaultWaterInterval)
	}
	if ns.LastWaterNotification != nil {
		t.Error("water cursor should start unset")
	}

	// Second call does not reset user changes
	ss.Update(7, false, strPtr("21:30"), true, 45)
	ns, _ = ss.EnsureDefaults(7)
	if ns.CapsuleReminder || *ns.CapsuleTime != "21:30" || ns.WaterInterval != 45 {
		t.Errorf("defaults overwrote user settings: %+v", ns)
	}
}

func TestListCapsuleEnabled(t *testing.T) {
	ss := NewSettingsStore(setupTestDB(t))

	ss.Update(1, true, strPtr("08:00"), false, 60)
	ss.Update(2, false, strPtr("09:00"), false, 60)
	ss.Update(3, true, nil, false, 60)

	list, err := ss.ListCapsuleEnabled()
	if err != nil {
		t.Fatalf("list capsule enabled: %v", err)
	}
	if len(list) != 1 || list[0].UserID != 1 {
		t.Fatalf("got %+v, want only user 1", list)
	}
}

func TestTouchWaterNotification(t *testing.T) {
	ss := NewSettingsStore(setupTestDB(t))

	ss.Update(1, false, nil, true, 30)
	at := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	if err := ss.TouchWaterNotification(1, at); err != nil {
		t.Fatalf("touch: %v", err)
	}

	list, err := ss.ListWaterEnabled()
	if err != nil {
		t.Fatalf("list water enabled: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("len = %d, want 1", len(list))
	}
	got := list[0].LastWaterNotification
	if got == nil || !got.Equal(at) {
		t.Errorf("last_water_notification = %v, want %v", got, at)
	}
}
