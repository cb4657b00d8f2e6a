package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/nudge/internal/model"
)

type SettingsStore struct {
	db *sql.DB
}

func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

const settingsCols = `user_id, capsule_reminder, capsule_time, water_reminder, water_interval, last_water_notification, created_at, updated_at`

func scanSettings(scanner interface{ Scan(...any) error }) (*model.NotificationSettings, error) {
	var (
		ns          model.NotificationSettings
		capsuleOn   int
		waterOn     int
		capsuleTime sql.NullString
		lastWaterAt sql.NullTime
	)
	err := scanner.Scan(&ns.UserID, &capsuleOn, &capsuleTime, &waterOn, &ns.WaterInterval, &lastWaterAt, &ns.CreatedAt, &ns.UpdatedAt)
	if err != nil {
		return nil, err
	}
	ns.CapsuleReminder = capsuleOn != 0
	ns.WaterReminder = waterOn != 0
	if capsuleTime.Valid {
		ns.CapsuleTime = &capsuleTime.String
	}
	if lastWaterAt.Valid {
		t := lastWaterAt.Time.UTC()
		ns.LastWaterNotification = &t
	}
	return &ns, nil
}

// Get returns the user's settings, or nil when no row exists.
func (s *SettingsStore) Get(userID int64) (*model.NotificationSettings, error) {
	row := s.db.QueryRow(`SELECT `+settingsCols+` FROM notification_settings WHERE user_id = ?`, userID)
	ns, err := scanSettings(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get notification settings: %w", err)
	}
	return ns, nil
}

// EnsureDefaults creates the default row for a user if it is missing.
func (s *SettingsStore) EnsureDefaults(userID int64) (*model.NotificationSettings, error) {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO notification_settings (user_id, capsule_time, water_interval) VALUES (?, ?, ?)`,
		userID, model.DefaultCapsuleTime, model.DefaultWaterInterval,
	)
	if err != nil {
		return nil, fmt.Errorf("ensure notification settings: %w", err)
	}
	return s.Get(userID)
}

// Update upserts the user-editable preferences. The water cursor is untouched.
func (s *SettingsStore) Update(userID int64, capsuleReminder bool, capsuleTime *string, waterReminder bool, waterInterval int) (*model.NotificationSettings, error) {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO notification_settings (user_id, capsule_reminder, capsule_time, water_reminder, water_interval, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   capsule_reminder = excluded.capsule_reminder,
		   capsule_time = excluded.capsule_time,
		   water_reminder = excluded.water_reminder,
		   water_interval = excluded.water_interval,
		   updated_at = excluded.updated_at`,
		userID, boolInt(capsuleReminder), capsuleTime, boolInt(waterReminder), waterInterval, now,
	)
	if err != nil {
		return nil, fmt.Errorf("update notification settings: %w", err)
	}
	return s.Get(userID)
}

// ListCapsuleEnabled returns users with the capsule reminder on and a time set.
func (s *SettingsStore) ListCapsuleEnabled() ([]model.NotificationSettings, error) {
	return s.list(`SELECT ` + settingsCols + ` FROM notification_settings
		WHERE capsule_reminder = 1 AND capsule_time IS NOT NULL AND capsule_time != '' ORDER BY user_id`)
}

// ListWaterEnabled returns users with the water reminder on.
func (s *SettingsStore) ListWaterEnabled() ([]model.NotificationSettings, error) {
	return s.list(`SELECT ` + settingsCols + ` FROM notification_settings WHERE water_reminder = 1 ORDER BY user_id`)
}

// TouchWaterNotification moves the water throttle cursor.
func (s *SettingsStore) TouchWaterNotification(userID int64, at time.Time) error {
	_, err := s.db.Exec(
		`UPDATE notification_settings SET last_water_notification = ? WHERE user_id = ?`,
		at.UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("touch water notification: %w", err)
	}
	return nil
}

func (s *SettingsStore) list(query string) ([]model.NotificationSettings, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list notification settings: %w", err)
	}
	defer rows.Close()

	var out []model.NotificationSettings
	for rows.Next() {
		ns, err := scanSettings(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification settings: %w", err)
		}
		out = append(out, *ns)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
