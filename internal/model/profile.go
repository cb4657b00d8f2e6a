package model

import "time"

// Profile carries the account fields the notification engine reads.
// It is written by the account system, not by this service.
type Profile struct {
	UserID             int64      `json:"user_id"`
	FullName           string     `json:"full_name"`
	CreatedAt          *time.Time `json:"created_at"`
	TreatmentStartDate *string    `json:"treatment_start_date"`
	WaterGoalML        int        `json:"water_goal_ml"`
}

// DefaultWaterGoalML is used when a profile has no goal set.
const DefaultWaterGoalML = 2000

// DailyStats are the counters embedded in the daily summary.
type DailyStats struct {
	CapsuleDays  int `json:"capsule_days"`
	WaterML      int `json:"water_ml"`
	WaterGoalML  int `json:"water_goal_ml"`
	TreatmentDay int `json:"treatment_day"`
}

// UserProgress is a user's most recent progress-history entry date ("2006-01-02").
type UserProgress struct {
	UserID     int64  `json:"user_id"`
	LastEntry  string `json:"last_entry"`
	EntryCount int    `json:"entry_count"`
}

// DateLayout is the storage format of calendar dates.
const DateLayout = "2006-01-02"
