package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"quill/api/internal/ai"
	"quill/api/internal/archive"
	"quill/api/internal/collab"
	"quill/api/internal/config"
	"quill/api/internal/draft"
	"quill/api/internal/markup"
	"quill/api/internal/search"
	"quill/api/internal/store"
	"quill/api/internal/surface"
	"quill/api/internal/syncengine"
	"quill/api/internal/track"
	"quill/api/internal/util"
)

// ArticleInput is the write shape accepted by create and update.
type ArticleInput struct {
	Title      *string           `json:"title"`
	Content    *string           `json:"content"`
	References []store.Reference `json:"references"`
	ProjectID  *string           `json:"projectId"`
}

// CommentInput creates a comment. Ranges anchor a root comment inside the
// article body; replies carry no ranges.
type CommentInput struct {
	ParentID *string      `json:"parentId"`
	Author   string       `json:"author"`
	Text     string       `json:"text"`
	Ranges   []RangeInput `json:"ranges"`
}

// RangeInput is the wire shape of one selected span.
type RangeInput struct {
	Start PositionInput `json:"start"`
	End   PositionInput `json:"end"`
}

type PositionInput struct {
	Path   []int `json:"path"`
	Offset int   `json:"offset"`
}

// InlineEditInput runs one capture-request-apply cycle over a submitted
// document body.
type InlineEditInput struct {
	Content     string       `json:"content"`
	Ranges      []RangeInput `json:"ranges"`
	Instruction string       `json:"instruction"`
}

// InlineEditResult is the rewritten body plus how many regions were edited.
type InlineEditResult struct {
	Content  string `json:"content"`
	Segments int    `json:"segments"`
}

type dataStore interface {
	Ping(context.Context) error
	ListArticles(context.Context, string) ([]store.Article, error)
	GetArticle(context.Context, string) (store.ArticleFull, error)
	GetArticleByShareToken(context.Context, string) (store.ArticleFull, error)
	CreateArticle(context.Context, string, string, []store.Reference, *string) (store.ArticleFull, error)
	UpdateArticle(context.Context, string, store.ArticlePatch) error
	UpdateArticleByShareToken(context.Context, string, store.ArticlePatch) error
	DeleteArticle(context.Context, string) error
	ListVersions(context.Context, string) ([]store.Version, error)
	RestoreVersion(context.Context, string, string) (store.ArticleFull, error)
	DeleteVersion(context.Context, string, string) error
	ClearVersionsExceptLatest(context.Context, string) error
	CreateComment(context.Context, string, store.Comment) (store.Comment, error)
	GetComment(context.Context, string, string) (store.Comment, error)
	ListComments(context.Context, string) ([]store.Comment, error)
	DeleteComment(context.Context, string, string) error
	CreateShareToken(context.Context, string) (string, error)
	RevokeShareToken(context.Context, string) error
}

type Service struct {
	cfg     config.Config
	store   dataStore
	search  *search.Service
	archive *archive.Service
	hub     *collab.Hub
	gen     ai.Generator
	drafts  *draft.Cache

	sessionsMu sync.Mutex
	sessions   map[string]*syncengine.Session
}

// New wires the service. archive, hub, gen, and drafts may be nil; the
// matching features degrade to no-ops or 503s.
func New(cfg config.Config, dataStore *store.PostgresStore, searchSvc *search.Service, archiveSvc *archive.Service, hub *collab.Hub, gen ai.Generator, drafts *draft.Cache) *Service {
	return &Service{
		cfg:     cfg,
		store:   dataStore,
		search:  searchSvc,
		archive: archiveSvc,
		hub:     hub,
		gen:     gen,
		drafts:  drafts,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) ListArticles(ctx context.Context, projectID string) ([]store.Article, error) {
	return s.store.ListArticles(ctx, projectID)
}

func (s *Service) GetArticle(ctx context.Context, id string) (store.ArticleFull, error) {
	return s.store.GetArticle(ctx, id)
}

// GetShared resolves a share token to its article. A revoked or unknown
// token is a 404, not a 500; the link is simply gone.
func (s *Service) GetShared(ctx context.Context, token string) (store.ArticleFull, error) {
	article, err := s.store.GetArticleByShareToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.ArticleFull{}, domainError(http.StatusNotFound, "SHARE_LINK_INVALID", "Share link is invalid or has been revoked", nil)
		}
		return store.ArticleFull{}, err
	}
	return article, nil
}

func (s *Service) CreateArticle(ctx context.Context, in ArticleInput, author string) (store.ArticleFull, error) {
	title := ""
	if in.Title != nil {
		title = *in.Title
	}
	content := ""
	if in.Content != nil {
		normalized, err := normalizeContent(*in.Content)
		if err != nil {
			return store.ArticleFull{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is not parseable", nil)
		}
		content = normalized
	}

	article, err := s.store.CreateArticle(ctx, title, content, in.References, in.ProjectID)
	if err != nil {
		return store.ArticleFull{}, fmt.Errorf("create article: %w", err)
	}
	s.afterSave(ctx, article, author)
	return article, nil
}

func (s *Service) UpdateArticle(ctx context.Context, id string, in ArticleInput, author string) (store.ArticleFull, error) {
	patch, err := patchFromInput(in)
	if err != nil {
		return store.ArticleFull{}, err
	}
	if err := s.store.UpdateArticle(ctx, id, patch); err != nil {
		return store.ArticleFull{}, err
	}
	article, err := s.store.GetArticle(ctx, id)
	if err != nil {
		return store.ArticleFull{}, err
	}
	s.afterSave(ctx, article, author)
	return article, nil
}

// UpdateShared is the write path for share-token holders. It carries the
// same semantics as UpdateArticle, including the version append.
func (s *Service) UpdateShared(ctx context.Context, token string, in ArticleInput, author string) (store.ArticleFull, error) {
	patch, err := patchFromInput(in)
	if err != nil {
		return store.ArticleFull{}, err
	}
	if err := s.store.UpdateArticleByShareToken(ctx, token, patch); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.ArticleFull{}, domainError(http.StatusNotFound, "SHARE_LINK_INVALID", "Share link is invalid or has been revoked", nil)
		}
		return store.ArticleFull{}, err
	}
	article, err := s.store.GetArticleByShareToken(ctx, token)
	if err != nil {
		return store.ArticleFull{}, err
	}
	s.afterSave(ctx, article, author)
	return article, nil
}

func (s *Service) DeleteArticle(ctx context.Context, id string) error {
	comments, err := s.store.ListComments(ctx, id)
	if err == nil {
		for _, c := range comments {
			s.search.DeleteComment(c.ID)
		}
	}
	if err := s.store.DeleteArticle(ctx, id); err != nil {
		return err
	}
	s.search.DeleteArticle(id)
	return nil
}

func (s *Service) ListVersions(ctx context.Context, articleID string) ([]store.Version, error) {
	return s.store.ListVersions(ctx, articleID)
}

// RestoreVersion copies a snapshot back into the article. No new version is
// appended; the restored snapshot already exists in the log.
func (s *Service) RestoreVersion(ctx context.Context, articleID, versionID string, author string) (store.ArticleFull, error) {
	article, err := s.store.RestoreVersion(ctx, articleID, versionID)
	if err != nil {
		return store.ArticleFull{}, err
	}
	s.broadcast(article, author)
	return article, nil
}

func (s *Service) DeleteVersion(ctx context.Context, articleID, versionID string) error {
	return s.store.DeleteVersion(ctx, articleID, versionID)
}

func (s *Service) ClearVersions(ctx context.Context, articleID string) error {
	return s.store.ClearVersionsExceptLatest(ctx, articleID)
}

func (s *Service) ListComments(ctx context.Context, articleID string) ([]store.Comment, error) {
	return s.store.ListComments(ctx, articleID)
}

// CreateComment adds a comment. A root comment wraps its selected ranges in
// an anchor marker whose group id is the comment id; the rewritten body is
// saved through the normal update path. A reply never touches the body.
func (s *Service) CreateComment(ctx context.Context, articleID string, in CommentInput, author string) (store.Comment, error) {
	if strings.TrimSpace(in.Text) == "" {
		return store.Comment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "text is required", nil)
	}
	if in.Author != "" {
		author = in.Author
	}

	comment := store.Comment{
		ID:       util.NewID("cmt"),
		ParentID: in.ParentID,
		Author:   author,
		Content:  in.Text,
	}

	if in.ParentID == nil && len(in.Ranges) > 0 {
		article, err := s.store.GetArticle(ctx, articleID)
		if err != nil {
			return store.Comment{}, err
		}
		surf, err := surface.FromContent(article.Content)
		if err != nil {
			return store.Comment{}, fmt.Errorf("parse article body: %w", err)
		}
		created := surf.WrapRangesInMarker(toRanges(in.Ranges), comment.ID, markup.RoleCommentAnchor)
		if created == 0 {
			return store.Comment{}, domainError(http.StatusUnprocessableEntity, "NOTHING_SELECTED", "No anchorable text in the selection", nil)
		}
		body := surf.GetSerializedContent()
		if err := s.store.UpdateArticle(ctx, articleID, store.ArticlePatch{Content: &body}); err != nil {
			return store.Comment{}, fmt.Errorf("anchor comment: %w", err)
		}
	}

	saved, err := s.store.CreateComment(ctx, articleID, comment)
	if err != nil {
		return store.Comment{}, err
	}

	article, err := s.store.GetArticle(ctx, articleID)
	if err == nil {
		projectID := ""
		if article.ProjectID != nil {
			projectID = *article.ProjectID
		}
		s.search.IndexComment(search.CommentRecord{
			ID:        saved.ID,
			Body:      saved.Content,
			Author:    saved.Author,
			ArticleID: articleID,
			ProjectID: projectID,
		})
		if in.ParentID == nil && len(in.Ranges) > 0 {
			s.broadcast(article, author)
		}
	}
	return saved, nil
}

// DeleteComment removes a comment. Deleting a root comment unwraps its
// anchor marker from the stored body and cascades to every reply.
func (s *Service) DeleteComment(ctx context.Context, articleID, commentID string, author string) error {
	comment, err := s.store.GetComment(ctx, articleID, commentID)
	if err != nil {
		return err
	}

	var replyIDs []string
	if comment.ParentID == nil {
		all, err := s.store.ListComments(ctx, articleID)
		if err == nil {
			for _, c := range all {
				if c.ParentID != nil && *c.ParentID == commentID {
					replyIDs = append(replyIDs, c.ID)
				}
			}
		}

		article, err := s.store.GetArticle(ctx, articleID)
		if err != nil {
			return err
		}
		surf, err := surface.FromContent(article.Content)
		if err != nil {
			return fmt.Errorf("parse article body: %w", err)
		}
		if surf.UnwrapGroup(commentID) > 0 {
			body := surf.GetSerializedContent()
			if err := s.store.UpdateArticle(ctx, articleID, store.ArticlePatch{Content: &body}); err != nil {
				return fmt.Errorf("unanchor comment: %w", err)
			}
			if updated, err := s.store.GetArticle(ctx, articleID); err == nil {
				s.broadcast(updated, author)
			}
		}
	}

	if err := s.store.DeleteComment(ctx, articleID, commentID); err != nil {
		return err
	}
	s.search.DeleteComment(commentID)
	for _, id := range replyIDs {
		s.search.DeleteComment(id)
	}
	return nil
}

// CreateShareLink mints a fresh token, replacing any previous one.
func (s *Service) CreateShareLink(ctx context.Context, articleID string) (store.ShareLink, error) {
	token, err := s.store.CreateShareToken(ctx, articleID)
	if err != nil {
		return store.ShareLink{}, err
	}
	return store.ShareLink{Token: token, URL: "/share/" + token}, nil
}

func (s *Service) RevokeShareLink(ctx context.Context, articleID string) error {
	return s.store.RevokeShareToken(ctx, articleID)
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	return s.search.Search(q)
}

// InlineEdit runs one capture-request-apply cycle over a submitted body:
// wrap the ranges, resolve their texts, ask the generator, splice the
// replacements back positionally. The document never leaves the request.
func (s *Service) InlineEdit(ctx context.Context, in InlineEditInput) (InlineEditResult, error) {
	if s.gen == nil {
		return InlineEditResult{}, domainError(http.StatusServiceUnavailable, "AI_UNAVAILABLE", "AI editing is not configured", nil)
	}
	if strings.TrimSpace(in.Instruction) == "" {
		return InlineEditResult{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "instruction is required", nil)
	}

	surf, err := surface.FromContent(in.Content)
	if err != nil {
		return InlineEditResult{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is not parseable", nil)
	}
	tracker := track.New(surf)
	orch := ai.NewOrchestrator(s.gen, tracker)

	if !orch.Capture(toRanges(in.Ranges)) {
		return InlineEditResult{}, domainError(http.StatusUnprocessableEntity, "NOTHING_SELECTED", "No editable text in the selection", nil)
	}
	segments := orch.Group().MarkerCount

	if err := orch.Run(ctx, in.Instruction); err != nil {
		orch.Cancel()
		return InlineEditResult{}, domainError(http.StatusBadGateway, "AI_GENERATION_FAILED", err.Error(), nil)
	}

	return InlineEditResult{
		Content:  surf.GetSerializedContent(),
		Segments: segments,
	}, nil
}

// ArticleHistory lists archived snapshots for an article, newest first.
func (s *Service) ArticleHistory(articleID string, limit int) ([]archive.CommitInfo, error) {
	if s.archive == nil {
		return []archive.CommitInfo{}, nil
	}
	return s.archive.History(articleID, limit)
}

func (s *Service) ArchivedSnapshot(articleID, hash string) (archive.Content, error) {
	if s.archive == nil {
		return archive.Content{}, domainError(http.StatusNotFound, "NOT_FOUND", "Archive is not enabled", nil)
	}
	return s.archive.SnapshotAt(articleID, hash)
}

// afterSave runs the post-save side effects: archive commit, search index,
// room broadcast. All best-effort; a failed side effect never fails the save.
func (s *Service) afterSave(ctx context.Context, article store.ArticleFull, author string) {
	if s.archive != nil {
		_, err := s.archive.Record(article.ID, archive.Content{
			Title:      article.Title,
			Content:    article.Content,
			References: article.References,
		}, author, "save "+article.ID)
		if err != nil {
			log.Printf("archive %s: %v", article.ID, err)
		}
	}

	projectID := ""
	if article.ProjectID != nil {
		projectID = *article.ProjectID
	}
	s.search.IndexArticle(search.ArticleRecord{
		ID:        article.ID,
		Title:     article.Title,
		Body:      bodyText(article.Content),
		ProjectID: projectID,
	})

	s.broadcast(article, author)
}

// broadcast fans the saved snapshot out to whichever rooms watch this
// article: the id room always, the share room when a token exists.
func (s *Service) broadcast(article store.ArticleFull, from string) {
	if s.hub == nil {
		return
	}
	refs, err := json.Marshal(article.References)
	if err != nil {
		refs = nil
	}
	snap := collab.Snapshot{
		Title:      article.Title,
		Content:    article.Content,
		References: refs,
	}
	s.hub.BroadcastContent(collab.RoomKey(article.ID, ""), snap, from)
	if article.ShareToken != nil && *article.ShareToken != "" {
		s.hub.BroadcastContent(collab.RoomKey("", *article.ShareToken), snap, from)
	}
}

func patchFromInput(in ArticleInput) (store.ArticlePatch, error) {
	patch := store.ArticlePatch{Title: in.Title, References: in.References}
	if in.Content != nil {
		normalized, err := normalizeContent(*in.Content)
		if err != nil {
			return store.ArticlePatch{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is not parseable", nil)
		}
		patch.Content = &normalized
	}
	return patch, nil
}

// normalizeContent round-trips the body through the surface so load-time
// normalization (image wrapping) is applied before persistence.
func normalizeContent(content string) (string, error) {
	surf, err := surface.FromContent(content)
	if err != nil {
		return "", err
	}
	return surf.GetSerializedContent(), nil
}

func bodyText(content string) string {
	surf, err := surface.FromContent(content)
	if err != nil {
		return content
	}
	return markup.PlainText(surf.Document())
}

func toRanges(inputs []RangeInput) []surface.Range {
	ranges := make([]surface.Range, len(inputs))
	for i, in := range inputs {
		ranges[i] = surface.Range{
			Start: surface.Position{Path: in.Start.Path, Offset: in.Start.Offset},
			End:   surface.Position{Path: in.End.Path, Offset: in.End.Offset},
		}
	}
	return ranges
}
