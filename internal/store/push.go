package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/nudge/internal/model"
)

type PushStore struct {
	db *sql.DB
}

func NewPushStore(db *sql.DB) *PushStore {
	return &PushStore{db: db}
}

const subscriptionCols = `id, user_id, endpoint, p256dh, auth, vapid_key, created_at, updated_at`

func scanSubscription(scanner interface{ Scan(...any) error }) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	err := scanner.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey, &sub.VAPIDKey, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// ReplaceSubscription removes any subscription the user holds and inserts the
// new one. There is no device identifier, so a user has at most one row.
func (s *PushStore) ReplaceSubscription(userID int64, endpoint, p256dh, auth, vapidKey string) (*model.PushSubscription, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin replace subscription: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM push_subscriptions WHERE user_id = ?`, userID); err != nil {
		return nil, fmt.Errorf("delete previous subscription: %w", err)
	}

	now := time.Now().UTC()
	result, err := tx.Exec(
		`INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth, vapid_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		userID, endpoint, p256dh, auth, vapidKey, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert push subscription: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit replace subscription: %w", err)
	}
	return s.GetByID(id)
}

func (s *PushStore) GetByID(id int64) (*model.PushSubscription, error) {
	row := s.db.QueryRow(`SELECT `+subscriptionCols+` FROM push_subscriptions WHERE id = ?`, id)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get push subscription: %w", err)
	}
	return sub, nil
}

// GetByUser returns the user's subscription, or nil when there is none.
func (s *PushStore) GetByUser(userID int64) (*model.PushSubscription, error) {
	row := s.db.QueryRow(
		`SELECT `+subscriptionCols+` FROM push_subscriptions WHERE user_id = ? ORDER BY updated_at DESC LIMIT 1`,
		userID,
	)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get push subscription by user: %w", err)
	}
	return sub, nil
}

func (s *PushStore) ListByUser(userID int64) ([]model.PushSubscription, error) {
	rows, err := s.db.Query(
		`SELECT `+subscriptionCols+` FROM push_subscriptions WHERE user_id = ? ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions by user: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// ListAll returns every stored subscription ordered by user.
func (s *PushStore) ListAll() ([]model.PushSubscription, error) {
	rows, err := s.db.Query(`SELECT ` + subscriptionCols + ` FROM push_subscriptions ORDER BY user_id, id`)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// ListByUserIndex groups every stored subscription by owner.
func (s *PushStore) ListByUserIndex() (map[int64][]model.PushSubscription, error) {
	subs, err := s.ListAll()
	if err != nil {
		return nil, err
	}
	index := make(map[int64][]model.PushSubscription)
	for _, sub := range subs {
		index[sub.UserID] = append(index[sub.UserID], sub)
	}
	return index, nil
}

// DeleteByUser removes the user's subscription. It reports whether a row existed.
func (s *PushStore) DeleteByUser(userID int64) (bool, error) {
	result, err := s.db.Exec(`DELETE FROM push_subscriptions WHERE user_id = ?`, userID)
	if err != nil {
		return false, fmt.Errorf("delete push subscription by user: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (s *PushStore) DeleteByEndpoint(endpoint string) error {
	_, err := s.db.Exec(`DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	if err != nil {
		return fmt.Errorf("delete push subscription by endpoint: %w", err)
	}
	return nil
}

// CountByVAPIDKey counts subscriptions created against the given public key.
func (s *PushStore) CountByVAPIDKey(vapidKey string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM push_subscriptions WHERE vapid_key = ?`, vapidKey).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count push subscriptions by key: %w", err)
	}
	return count, nil
}

// RecordSent records that a campaign message reached a user.
func (s *PushStore) RecordSent(userID int64, notifType, refID string) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO sent_notifications (user_id, notification_type, reference_id, sent_at)
		 VALUES (?, ?, ?, ?)`,
		userID, notifType, refID, time.Now().UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("record sent notification: %w", err)
	}
	return nil
}

// WasSent checks if a campaign message was already recorded for a user.
func (s *PushStore) WasSent(userID int64, notifType, refID string) (bool, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM sent_notifications
		 WHERE user_id = ? AND notification_type = ? AND reference_id = ?`,
		userID, notifType, refID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check sent notification: %w", err)
	}
	return count > 0, nil
}

// CleanupSent deletes sent_notifications older than the given time.
func (s *PushStore) CleanupSent(before time.Time) error {
	_, err := s.db.Exec(`DELETE FROM sent_notifications WHERE sent_at < ?`, before.UTC().Format(sqliteTimeLayout))
	if err != nil {
		return fmt.Errorf("cleanup sent notifications: %w", err)
	}
	return nil
}

// ClaimTriggerRun marks (type, key) as started. It returns false when another
// caller already claimed it.
func (s *PushStore) ClaimTriggerRun(notifType, runKey string) (bool, error) {
	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO trigger_runs (notification_type, run_key) VALUES (?, ?)`,
		notifType, runKey,
	)
	if err != nil {
		return false, fmt.Errorf("claim trigger run: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim trigger run rows: %w", err)
	}
	return n == 1, nil
}

// CleanupTriggerRuns deletes trigger_runs claims started before the given time.
func (s *PushStore) CleanupTriggerRuns(before time.Time) error {
	_, err := s.db.Exec(`DELETE FROM trigger_runs WHERE started_at < ?`, before.UTC().Format(sqliteTimeLayout))
	if err != nil {
		return fmt.Errorf("cleanup trigger runs: %w", err)
	}
	return nil
}

// sqliteTimeLayout matches CURRENT_TIMESTAMP so text comparisons order correctly.
const sqliteTimeLayout = "2006-01-02 15:04:05"

func scanSubscriptions(rows *sql.Rows) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan push subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}
