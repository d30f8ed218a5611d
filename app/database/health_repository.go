package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lysyi3m/news-comb/app/health"
)

var _ health.Repository = (*SQLHealthRepository)(nil)

// SQLHealthRepository persists circuit-breaker state so feed cooldowns
// survive process restarts.
type SQLHealthRepository struct {
	db *DB
}

func NewHealthRepository(db *DB) *SQLHealthRepository {
	return &SQLHealthRepository{db: db}
}

func (r *SQLHealthRepository) UpsertRecord(record health.Record) error {
	_, err := r.db.Exec(`
		INSERT INTO feed_health (
			url, consecutive_failures, last_success_at, last_failure_at,
			disabled_until, last_error
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (url) DO UPDATE SET
			consecutive_failures = excluded.consecutive_failures,
			last_success_at = excluded.last_success_at,
			last_failure_at = excluded.last_failure_at,
			disabled_until = excluded.disabled_until,
			last_error = excluded.last_error
	`, record.URL, record.ConsecutiveFailures, utcOrNil(record.LastSuccessAt),
		utcOrNil(record.LastFailureAt), utcOrNil(record.DisabledUntil), record.LastError)

	if err != nil {
		return fmt.Errorf("failed to upsert health record: %w", err)
	}

	return nil
}

func (r *SQLHealthRepository) LoadRecords() ([]health.Record, error) {
	rows, err := r.db.Query(`
		SELECT url, consecutive_failures, last_success_at, last_failure_at,
		       disabled_until, last_error
		FROM feed_health
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load health records: %w", err)
	}
	defer rows.Close()

	var records []health.Record
	for rows.Next() {
		var record health.Record
		var lastSuccess, lastFailure, disabledUntil sql.NullTime

		err := rows.Scan(&record.URL, &record.ConsecutiveFailures,
			&lastSuccess, &lastFailure, &disabledUntil, &record.LastError)
		if err != nil {
			return nil, fmt.Errorf("failed to scan health record: %w", err)
		}

		record.LastSuccessAt = timeOrNil(lastSuccess)
		record.LastFailureAt = timeOrNil(lastFailure)
		record.DisabledUntil = timeOrNil(disabledUntil)

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating health records: %w", err)
	}

	return records, nil
}

func (r *SQLHealthRepository) DeleteRecordsOlderThan(cutoff time.Time) (int, error) {
	result, err := r.db.Exec(`
		DELETE FROM feed_health
		WHERE COALESCE(MAX(last_success_at, last_failure_at),
		               last_success_at, last_failure_at) < ?
	`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale health records: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted health records: %w", err)
	}

	return int(count), nil
}

func utcOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timeOrNil(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	value := t.Time
	return &value
}
