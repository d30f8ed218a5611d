package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lysyi3m/news-comb/app/prefs"
)

const preferencesRow = "feed_preferences"

var _ prefs.Repository = (*SQLPreferenceRepository)(nil)

// SQLPreferenceRepository persists the preference snapshot as a single
// JSON document.
type SQLPreferenceRepository struct {
	db *DB
}

func NewPreferenceRepository(db *DB) *SQLPreferenceRepository {
	return &SQLPreferenceRepository{db: db}
}

func (r *SQLPreferenceRepository) SavePreferences(snapshot prefs.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO preferences (name, data, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at
	`, preferencesRow, string(data), time.Now().UTC())

	if err != nil {
		return fmt.Errorf("failed to save preferences: %w", err)
	}

	return nil
}

func (r *SQLPreferenceRepository) LoadPreferences() (*prefs.Snapshot, error) {
	var data string
	err := r.db.QueryRow(`SELECT data FROM preferences WHERE name = ?`, preferencesRow).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}

	var snapshot prefs.Snapshot
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal preferences: %w", err)
	}

	return &snapshot, nil
}
