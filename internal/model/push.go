package model

import "time"

// Notification type constants
const (
	NotifTypeCapsule      = "capsule"
	NotifTypeJourneyDaily = "journey_daily"
	NotifTypeWater        = "water"
	NotifTypeDailySummary = "daily_summary"
	NotifTypeIMCReminder  = "imc_reminder"
)

// NotificationTypes lists every type the dispatcher accepts, in trigger order.
var NotificationTypes = []string{
	NotifTypeCapsule,
	NotifTypeJourneyDaily,
	NotifTypeWater,
	NotifTypeDailySummary,
	NotifTypeIMCReminder,
}

// ValidNotificationType reports whether t is one of NotificationTypes.
func ValidNotificationType(t string) bool {
	for _, v := range NotificationTypes {
		if v == t {
			return true
		}
	}
	return false
}

// PushSubscription is the single active push channel of a user. A new
// subscription for the same user replaces the previous row.
type PushSubscription struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Endpoint  string    `json:"endpoint"`
	P256dhKey string    `json:"p256dh"`
	AuthKey   string    `json:"auth"`
	VAPIDKey  string    `json:"vapid_key"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NotificationSettings holds the per-user reminder preferences.
// CapsuleTime is wall-clock "HH:MM[:SS]" in the service's fixed zone.
type NotificationSettings struct {
	UserID                int64      `json:"user_id"`
	CapsuleReminder       bool       `json:"capsule_reminder"`
	CapsuleTime           *string    `json:"capsule_time"`
	WaterReminder         bool       `json:"water_reminder"`
	WaterInterval         int        `json:"water_interval"`
	LastWaterNotification *time.Time `json:"last_water_notification"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// Default settings applied when a user has no row yet.
const (
	DefaultCapsuleTime   = "08:00"
	DefaultWaterInterval = 60
)
