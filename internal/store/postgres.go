package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"quill/api/internal/util"
)

// ErrNotFound is returned when an article, version, or comment does not
// exist, or when a share token is unknown or revoked.
var ErrNotFound = errors.New("store: not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ListArticles returns article summaries, newest first. An empty projectID
// lists every article; otherwise only the project's articles are returned.
func (s *PostgresStore) ListArticles(ctx context.Context, projectID string) ([]Article, error) {
	query := `SELECT id, project_id, title, updated_at FROM articles ORDER BY updated_at DESC`
	args := []any{}
	if projectID != "" {
		query = `SELECT id, project_id, title, updated_at FROM articles WHERE project_id = $1 ORDER BY updated_at DESC`
		args = append(args, projectID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()

	var items []Article
	for rows.Next() {
		var item Article
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.Title, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetArticle(ctx context.Context, id string) (ArticleFull, error) {
	const query = `SELECT id, project_id, title, content, refs, share_token, updated_at FROM articles WHERE id = $1`
	return s.scanFull(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) GetArticleByShareToken(ctx context.Context, token string) (ArticleFull, error) {
	const query = `SELECT id, project_id, title, content, refs, share_token, updated_at FROM articles WHERE share_token = $1`
	return s.scanFull(s.db.QueryRowContext(ctx, query, token))
}

func (s *PostgresStore) scanFull(row *sql.Row) (ArticleFull, error) {
	var item ArticleFull
	var refs []byte
	err := row.Scan(&item.ID, &item.ProjectID, &item.Title, &item.Content, &refs, &item.ShareToken, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ArticleFull{}, ErrNotFound
	}
	if err != nil {
		return ArticleFull{}, fmt.Errorf("scan article: %w", err)
	}
	if err := json.Unmarshal(refs, &item.References); err != nil {
		return ArticleFull{}, fmt.Errorf("decode references: %w", err)
	}
	return item, nil
}

// CreateArticle inserts a new article and its initial version in one
// transaction. Creation counts as an accepted save, so the version log
// starts at one entry.
func (s *PostgresStore) CreateArticle(ctx context.Context, title, content string, references []Reference, projectID *string) (ArticleFull, error) {
	refs, err := encodeRefs(references)
	if err != nil {
		return ArticleFull{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ArticleFull{}, fmt.Errorf("begin create article: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	id := util.NewID("art")
	var item ArticleFull
	var rawRefs []byte
	err = tx.QueryRowContext(ctx, `
		INSERT INTO articles (id, project_id, title, content, refs)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, project_id, title, content, refs, share_token, updated_at
	`, id, projectID, title, content, refs).Scan(&item.ID, &item.ProjectID, &item.Title, &item.Content, &rawRefs, &item.ShareToken, &item.UpdatedAt)
	if err != nil {
		return ArticleFull{}, fmt.Errorf("insert article: %w", err)
	}
	if err := json.Unmarshal(rawRefs, &item.References); err != nil {
		return ArticleFull{}, fmt.Errorf("decode references: %w", err)
	}

	if err := appendVersion(ctx, tx, id); err != nil {
		return ArticleFull{}, err
	}
	if err := tx.Commit(); err != nil {
		return ArticleFull{}, fmt.Errorf("commit create article: %w", err)
	}
	return item, nil
}

// UpdateArticle applies a partial update and appends a version snapshot of
// the resulting row. Every accepted write lands in the version log, whether
// it came from an explicit save or a periodic auto-sync tick.
func (s *PostgresStore) UpdateArticle(ctx context.Context, id string, patch ArticlePatch) error {
	return s.updateWhere(ctx, `id = $4`, id, patch)
}

// UpdateArticleByShareToken is the capability path: possession of the token
// is the only check.
func (s *PostgresStore) UpdateArticleByShareToken(ctx context.Context, token string, patch ArticlePatch) error {
	return s.updateWhere(ctx, `share_token = $4`, token, patch)
}

func (s *PostgresStore) updateWhere(ctx context.Context, where, key string, patch ArticlePatch) error {
	var refs []byte
	if patch.References != nil {
		encoded, err := encodeRefs(patch.References)
		if err != nil {
			return err
		}
		refs = encoded
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update article: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id string
	err = tx.QueryRowContext(ctx, `
		UPDATE articles SET
			title = COALESCE($1, title),
			content = COALESCE($2, content),
			refs = COALESCE($3, refs),
			updated_at = NOW()
		WHERE `+where+`
		RETURNING id
	`, patch.Title, patch.Content, refs, key).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update article: %w", err)
	}

	if err := appendVersion(ctx, tx, id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update article: %w", err)
	}
	return nil
}

func appendVersion(ctx context.Context, tx *sql.Tx, articleID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO article_versions (id, article_id, title, content, refs)
		SELECT $1, id, title, content, refs FROM articles WHERE id = $2
	`, util.NewID("ver"), articleID)
	if err != nil {
		return fmt.Errorf("append version: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteArticle(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM articles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete article: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) ListVersions(ctx context.Context, articleID string) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, article_id, title, content, refs, created_at
		FROM article_versions
		WHERE article_id = $1
		ORDER BY created_at DESC, id DESC
	`, articleID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var items []Version
	for rows.Next() {
		var item Version
		var refs []byte
		if err := rows.Scan(&item.ID, &item.ArticleID, &item.Title, &item.Content, &refs, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		if err := json.Unmarshal(refs, &item.References); err != nil {
			return nil, fmt.Errorf("decode version references: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// RestoreVersion copies a version's fields back onto the article and
// returns the restored full article, so callers need no follow-up fetch.
// No version row is appended; the next save snapshots the restored state.
func (s *PostgresStore) RestoreVersion(ctx context.Context, articleID, versionID string) (ArticleFull, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE articles a SET
			title = v.title,
			content = v.content,
			refs = v.refs,
			updated_at = NOW()
		FROM article_versions v
		WHERE a.id = $1 AND v.id = $2 AND v.article_id = a.id
		RETURNING a.id, a.project_id, a.title, a.content, a.refs, a.share_token, a.updated_at
	`, articleID, versionID)
	return s.scanFull(row)
}

func (s *PostgresStore) DeleteVersion(ctx context.Context, articleID, versionID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM article_versions WHERE id = $1 AND article_id = $2`, versionID, articleID)
	if err != nil {
		return fmt.Errorf("delete version: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) ClearVersionsExceptLatest(ctx context.Context, articleID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM article_versions
		WHERE article_id = $1 AND id <> (
			SELECT id FROM article_versions
			WHERE article_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		)
	`, articleID)
	if err != nil {
		return fmt.Errorf("clear versions: %w", err)
	}
	return nil
}

// CreateComment inserts a comment. The caller may supply the id so that the
// anchor marker written into the article content and the comment row share
// an identifier; an empty id gets one assigned.
func (s *PostgresStore) CreateComment(ctx context.Context, articleID string, comment Comment) (Comment, error) {
	if comment.ID == "" {
		comment.ID = util.NewID("cmt")
	}
	comment.ArticleID = articleID

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO comments (id, article_id, parent_id, author, content)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, comment.ID, comment.ArticleID, comment.ParentID, comment.Author, comment.Content).Scan(&comment.CreatedAt)
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return comment, nil
}

func (s *PostgresStore) GetComment(ctx context.Context, articleID, commentID string) (Comment, error) {
	var comment Comment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, article_id, parent_id, author, content, created_at
		FROM comments WHERE id = $1 AND article_id = $2
	`, commentID, articleID).Scan(&comment.ID, &comment.ArticleID, &comment.ParentID, &comment.Author, &comment.Content, &comment.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Comment{}, ErrNotFound
	}
	if err != nil {
		return Comment{}, fmt.Errorf("get comment: %w", err)
	}
	return comment, nil
}

func (s *PostgresStore) ListComments(ctx context.Context, articleID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, article_id, parent_id, author, content, created_at
		FROM comments WHERE article_id = $1
		ORDER BY created_at ASC
	`, articleID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var items []Comment
	for rows.Next() {
		var item Comment
		if err := rows.Scan(&item.ID, &item.ArticleID, &item.ParentID, &item.Author, &item.Content, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// DeleteComment removes a comment; replies cascade via the parent_id
// foreign key.
func (s *PostgresStore) DeleteComment(ctx context.Context, articleID, commentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id = $1 AND article_id = $2`, commentID, articleID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return requireAffected(result)
}

// CreateShareToken assigns a fresh capability token, replacing any previous
// one. Old links stop working the moment a new one is minted.
func (s *PostgresStore) CreateShareToken(ctx context.Context, articleID string) (string, error) {
	token := util.NewID("")
	result, err := s.db.ExecContext(ctx, `UPDATE articles SET share_token = $1 WHERE id = $2`, token, articleID)
	if err != nil {
		return "", fmt.Errorf("create share token: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return "", err
	}
	return token, nil
}

func (s *PostgresStore) RevokeShareToken(ctx context.Context, articleID string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE articles SET share_token = NULL WHERE id = $1`, articleID)
	if err != nil {
		return fmt.Errorf("revoke share token: %w", err)
	}
	return requireAffected(result)
}

func encodeRefs(references []Reference) ([]byte, error) {
	if references == nil {
		references = []Reference{}
	}
	encoded, err := json.Marshal(references)
	if err != nil {
		return nil, fmt.Errorf("encode references: %w", err)
	}
	return encoded, nil
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
