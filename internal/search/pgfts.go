package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS searches discussions.search_vector when Meilisearch is unavailable.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy is always true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return []Result{}, 0, nil
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	args := []any{q.Text}
	where := []string{
		"d.search_vector @@ plainto_tsquery('simple', $1)",
		"d.discarded_at IS NULL",
	}
	if len(q.GroupIDs) > 0 {
		placeholders := make([]string, len(q.GroupIDs))
		for i, id := range q.GroupIDs {
			args = append(args, id)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		where = append(where, "d.group_id IN ("+strings.Join(placeholders, ", ")+")")
	}
	whereSQL := strings.Join(where, " AND ")

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM discussions d WHERE `+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT d.id, d.group_id, d.title,
			ts_headline('simple', COALESCE(d.description, ''), plainto_tsquery('simple', $1), 'MaxFragments=1,MaxWords=30')
		FROM discussions d
		WHERE %s
		ORDER BY ts_rank(d.search_vector, plainto_tsquery('simple', $1)) DESC, d.last_activity_at DESC
		LIMIT %d OFFSET %d`, whereSQL, limitOrDefault(q.Limit), offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.GroupID, &r.Title, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}
