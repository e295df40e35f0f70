package search

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// DBFallback implements Searcher with a plain LIKE scan over the tasks
// table. It is the degraded path used when Meilisearch is not configured
// or unreachable, and works against both supported databases.
type DBFallback struct {
	db       *sql.DB
	postgres bool
}

// NewDBFallback creates a database-backed searcher.
func NewDBFallback(db *sql.DB, postgres bool) *DBFallback {
	return &DBFallback{db: db, postgres: postgres}
}

// Healthy always returns true — if the database is down, the whole app is down.
func (f *DBFallback) Healthy() bool {
	return true
}

// Search scans task titles and descriptions for the query text,
// case-insensitively, scoped to the query's organization.
func (f *DBFallback) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || q.OrgID == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	pattern := "%" + strings.ToLower(q.Text) + "%"
	where := "organization_id = ? AND (LOWER(title) LIKE ? OR LOWER(COALESCE(description, '')) LIKE ?)"
	args := []any{q.OrgID, pattern, pattern}
	if q.ProjectID != "" {
		where += " AND project_id = ?"
		args = append(args, q.ProjectID)
	}
	if q.StatusID != "" {
		where += " AND status_id = ?"
		args = append(args, q.StatusID)
	}

	ctx := context.Background()

	var total int
	countSQL := "SELECT count(*) FROM tasks WHERE " + where
	if err := f.db.QueryRowContext(ctx, f.bind(countSQL), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("search fallback count: %w", err)
	}

	dataSQL := fmt.Sprintf(`SELECT id, title, COALESCE(description, ''), project_id, status_id, priority
		FROM tasks
		WHERE %s
		ORDER BY updated_at DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

	rows, err := f.db.QueryContext(ctx, f.bind(dataSQL), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search fallback query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.ProjectID, &r.StatusID, &r.Priority); err != nil {
			return nil, 0, fmt.Errorf("search fallback scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns every task for full reindexing into Meilisearch.
func (f *DBFallback) LoadAllRecords(ctx context.Context) ([]TaskRecord, error) {
	rows, err := f.db.QueryContext(ctx, `
		SELECT id, title, COALESCE(description, ''), organization_id, project_id, status_id, priority
		FROM tasks
	`)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]TaskRecord, 0)
	for rows.Next() {
		var t TaskRecord
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.OrgID, &t.ProjectID, &t.StatusID, &t.Priority); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

// bind rewrites ? placeholders to $N for postgres.
func (f *DBFallback) bind(query string) string {
	if !f.postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
