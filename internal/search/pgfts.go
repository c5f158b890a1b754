package search

import (
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS is the Postgres full-text search fallback. It queries the generated
// tsvector columns on articles and comments directly.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy reports whether the database is reachable.
func (p *PgFTS) Healthy() bool {
	return p.db.Ping() == nil
}

// Search runs full-text queries over articles and comments and merges the
// results by rank.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return []Result{}, 0, nil
	}

	limit := q.Limit
	if limit == 0 {
		limit = 20
	}

	var parts []string
	var args []any
	args = append(args, text)

	projectArg := 0
	if q.FilterProjectID != "" {
		args = append(args, q.FilterProjectID)
		projectArg = len(args)
	}

	if q.FilterType == "" || q.FilterType == ResultArticle {
		clause := `
			SELECT 'article' AS type, id, title,
			       ts_headline('english', content, plainto_tsquery('english', $1),
			                   'StartSel=<mark>, StopSel=</mark>, MaxWords=30') AS snippet,
			       id AS article_id, COALESCE(project_id, '') AS project_id,
			       ts_rank(fts, plainto_tsquery('english', $1)) AS rank
			FROM articles
			WHERE fts @@ plainto_tsquery('english', $1)`
		if projectArg > 0 {
			clause += fmt.Sprintf(" AND project_id = $%d", projectArg)
		}
		parts = append(parts, clause)
	}

	if q.FilterType == "" || q.FilterType == ResultComment {
		clause := `
			SELECT 'comment' AS type, c.id, c.author AS title,
			       ts_headline('english', c.content, plainto_tsquery('english', $1),
			                   'StartSel=<mark>, StopSel=</mark>, MaxWords=30') AS snippet,
			       c.article_id, COALESCE(a.project_id, '') AS project_id,
			       ts_rank(c.fts, plainto_tsquery('english', $1)) AS rank
			FROM comments c
			JOIN articles a ON a.id = c.article_id
			WHERE c.fts @@ plainto_tsquery('english', $1)`
		if projectArg > 0 {
			clause += fmt.Sprintf(" AND a.project_id = $%d", projectArg)
		}
		parts = append(parts, clause)
	}

	if len(parts) == 0 {
		return []Result{}, 0, nil
	}

	args = append(args, limit, q.Offset)
	query := fmt.Sprintf(
		"SELECT type, id, title, snippet, article_id, project_id, COUNT(*) OVER () AS total FROM (%s) hits ORDER BY rank DESC LIMIT $%d OFFSET $%d",
		strings.Join(parts, " UNION ALL "), len(args)-1, len(args),
	)

	rows, err := p.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	total := 0
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ArticleID, &r.ProjectID, &total); err != nil {
			return nil, 0, fmt.Errorf("scan fts row: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate fts rows: %w", err)
	}
	return results, total, nil
}
