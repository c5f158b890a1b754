package store

import "time"

// Reference is one citation record attached to an article. The list is
// ordered and persisted as a single JSON column; the engine never updates
// individual entries in place.
type Reference struct {
	ID      string   `json:"id"`
	Kind    string   `json:"kind"`
	Title   string   `json:"title"`
	Authors []string `json:"authors,omitempty"`
	Year    int      `json:"year,omitempty"`
	Source  string   `json:"source,omitempty"`
	URL     string   `json:"url,omitempty"`
}

// Article is the list/summary shape. Content is omitted.
type Article struct {
	ID        string
	ProjectID *string
	Title     string
	UpdatedAt time.Time
}

// ArticleFull carries the canonical document body. Every save writes the
// whole body, never a diff.
type ArticleFull struct {
	ID         string
	ProjectID  *string
	Title      string
	Content    string
	References []Reference
	ShareToken *string
	UpdatedAt  time.Time
}

// Version is an immutable snapshot appended on every accepted save.
type Version struct {
	ID         string
	ArticleID  string
	Title      string
	Content    string
	References []Reference
	CreatedAt  time.Time
}

// Comment threads via ParentID; a root comment (ParentID nil) owns an
// anchor marker inside the article content.
type Comment struct {
	ID        string
	ArticleID string
	ParentID  *string
	Author    string
	Content   string
	CreatedAt time.Time
}

// ShareLink is the capability granting edit access without identity.
type ShareLink struct {
	Token string
	URL   string
}

// ArticlePatch is a partial update; nil fields are left untouched.
type ArticlePatch struct {
	Title      *string
	Content    *string
	References []Reference
}
