package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var _ ItemRepository = (*SQLItemRepository)(nil)

// SQLItemRepository stores news items with upsert-by-URL semantics.
type SQLItemRepository struct {
	db *DB
}

func NewItemRepository(db *DB) *SQLItemRepository {
	return &SQLItemRepository{db: db}
}

func (r *SQLItemRepository) UpsertItem(item Item) error {
	now := time.Now().UTC()

	_, err := r.db.Exec(`
		INSERT INTO news_items (
			url, slug, title, description, content, author,
			published_at, source, category, language, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (url) DO UPDATE SET
			slug = excluded.slug,
			title = excluded.title,
			description = excluded.description,
			content = excluded.content,
			author = excluded.author,
			published_at = excluded.published_at,
			source = excluded.source,
			category = excluded.category,
			language = excluded.language,
			updated_at = excluded.updated_at
	`, item.URL, item.Slug, item.Title, item.Description, item.Content, item.Author,
		item.PublishedAt.UTC(), item.Source, item.Category, item.Language, now, now)

	if err != nil {
		return fmt.Errorf("failed to upsert item: %w", err)
	}

	return nil
}

const itemColumns = `id, url, slug, title, description, content, author,
		published_at, source, category, language, created_at, updated_at`

func (r *SQLItemRepository) GetRecentItems(filter RecentFilter, limit int) ([]Item, error) {
	query := `SELECT ` + itemColumns + ` FROM news_items WHERE 1=1`
	args := make([]interface{}, 0, 3)

	if filter.Language != "" {
		query += ` AND language = ?`
		args = append(args, filter.Language)
	}
	if filter.Category != "" {
		query += ` AND category = ?`
		args = append(args, filter.Category)
	}

	query += ` ORDER BY published_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent items: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

func (r *SQLItemRepository) GetItemBySlug(slug string) (*Item, error) {
	row := r.db.QueryRow(`SELECT `+itemColumns+` FROM news_items WHERE slug = ? LIMIT 1`, slug)

	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item by slug: %w", err)
	}
	return item, nil
}

// GetItemBySlugPrefix is the starts-with recovery lookup used when slug
// hashing mismatches. It returns the most recent match.
func (r *SQLItemRepository) GetItemBySlugPrefix(prefix string) (*Item, error) {
	row := r.db.QueryRow(`
		SELECT `+itemColumns+` FROM news_items
		WHERE slug LIKE ? ESCAPE '\'
		ORDER BY published_at DESC
		LIMIT 1
	`, escapeLike(prefix)+"%")

	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item by slug prefix: %w", err)
	}
	return item, nil
}

// GetItemsMissingContent returns the newest items that still have no full
// article content, for background extraction.
func (r *SQLItemRepository) GetItemsMissingContent(limit int) ([]Item, error) {
	rows, err := r.db.Query(`
		SELECT `+itemColumns+` FROM news_items
		WHERE content = ''
		ORDER BY published_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get items missing content: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

func (r *SQLItemRepository) UpdateItemContent(id int64, content string) error {
	_, err := r.db.Exec(`
		UPDATE news_items SET content = ?, updated_at = ? WHERE id = ?
	`, content, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update item content: %w", err)
	}
	return nil
}

func (r *SQLItemRepository) DeleteItemsOlderThan(cutoff time.Time) (int, error) {
	result, err := r.db.Exec(`DELETE FROM news_items WHERE published_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old items: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted items: %w", err)
	}

	return int(count), nil
}

func (r *SQLItemRepository) GetItemCount() (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM news_items`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*Item, error) {
	var item Item
	err := row.Scan(
		&item.ID, &item.URL, &item.Slug, &item.Title, &item.Description,
		&item.Content, &item.Author, &item.PublishedAt, &item.Source,
		&item.Category, &item.Language, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func scanItems(rows *sql.Rows) ([]Item, error) {
	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item row: %w", err)
		}
		items = append(items, *item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating item rows: %w", err)
	}

	return items, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
