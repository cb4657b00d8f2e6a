package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/nudge/internal/model"
)

// ProfileStore reads the account and activity signals that feed message
// content and audience selection. The write methods exist for the account
// system and for fixtures.
type ProfileStore struct {
	db *sql.DB
}

func NewProfileStore(db *sql.DB) *ProfileStore {
	return &ProfileStore{db: db}
}

const profileCols = `user_id, full_name, created_at, treatment_start_date, water_goal_ml`

func scanProfile(scanner interface{ Scan(...any) error }) (*model.Profile, error) {
	var (
		p         model.Profile
		createdAt sql.NullTime
		treatment sql.NullString
	)
	if err := scanner.Scan(&p.UserID, &p.FullName, &createdAt, &treatment, &p.WaterGoalML); err != nil {
		return nil, err
	}
	if createdAt.Valid {
		t := createdAt.Time.UTC()
		p.CreatedAt = &t
	}
	if treatment.Valid && treatment.String != "" {
		p.TreatmentStartDate = &treatment.String
	}
	return &p, nil
}

func (s *ProfileStore) Upsert(p model.Profile) error {
	var createdAt any
	if p.CreatedAt != nil {
		createdAt = p.CreatedAt.UTC()
	}
	goal := p.WaterGoalML
	if goal == 0 {
		goal = model.DefaultWaterGoalML
	}
	_, err := s.db.Exec(
		`INSERT INTO profiles (user_id, full_name, created_at, treatment_start_date, water_goal_ml)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   full_name = excluded.full_name,
		   created_at = excluded.created_at,
		   treatment_start_date = excluded.treatment_start_date,
		   water_goal_ml = excluded.water_goal_ml`,
		p.UserID, p.FullName, createdAt, p.TreatmentStartDate, goal,
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// Get returns the profile, or nil when the user has none.
func (s *ProfileStore) Get(userID int64) (*model.Profile, error) {
	row := s.db.QueryRow(`SELECT `+profileCols+` FROM profiles WHERE user_id = ?`, userID)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

// ListCreated returns every profile with a known account creation time.
func (s *ProfileStore) ListCreated() ([]model.Profile, error) {
	rows, err := s.db.Query(`SELECT ` + profileCols + ` FROM profiles WHERE created_at IS NOT NULL ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var out []model.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *ProfileStore) AddWaterIntake(userID int64, amountML int, day string) error {
	_, err := s.db.Exec(
		`INSERT INTO water_intake (user_id, amount_ml, recorded_on, recorded_at) VALUES (?, ?, ?, ?)`,
		userID, amountML, day, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("add water intake: %w", err)
	}
	return nil
}

// WaterOnDay sums the intake recorded on a calendar day ("2006-01-02").
func (s *ProfileStore) WaterOnDay(userID int64, day string) (int, error) {
	var total int
	err := s.db.QueryRow(
		`SELECT COALESCE(SUM(amount_ml), 0) FROM water_intake WHERE user_id = ? AND recorded_on = ?`,
		userID, day,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum water intake: %w", err)
	}
	return total, nil
}

func (s *ProfileStore) MarkCapsuleTaken(userID int64, day string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO capsule_log (user_id, taken_on) VALUES (?, ?)`, userID, day)
	if err != nil {
		return fmt.Errorf("mark capsule taken: %w", err)
	}
	return nil
}

// CapsuleDays counts the distinct days the user logged a capsule.
func (s *ProfileStore) CapsuleDays(userID int64) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM capsule_log WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count capsule days: %w", err)
	}
	return n, nil
}

func (s *ProfileStore) AddProgress(userID int64, day string, weightKG, imc float64) error {
	_, err := s.db.Exec(
		`INSERT INTO progress_history (user_id, recorded_on, weight_kg, imc) VALUES (?, ?, ?, ?)`,
		userID, day, weightKG, imc,
	)
	if err != nil {
		return fmt.Errorf("add progress: %w", err)
	}
	return nil
}

// ListLatestProgress returns each user's most recent progress entry date.
func (s *ProfileStore) ListLatestProgress() ([]model.UserProgress, error) {
	rows, err := s.db.Query(
		`SELECT user_id, MAX(recorded_on), COUNT(*) FROM progress_history GROUP BY user_id ORDER BY user_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list latest progress: %w", err)
	}
	defer rows.Close()

	var out []model.UserProgress
	for rows.Next() {
		var up model.UserProgress
		if err := rows.Scan(&up.UserID, &up.LastEntry, &up.EntryCount); err != nil {
			return nil, fmt.Errorf("scan latest progress: %w", err)
		}
		out = append(out, up)
	}
	return out, rows.Err()
}
