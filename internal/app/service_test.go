package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"quill/api/internal/config"
	"quill/api/internal/search"
	"quill/api/internal/store"
)

type fakeStore struct {
	pingFn                      func(context.Context) error
	listArticlesFn              func(context.Context, string) ([]store.Article, error)
	getArticleFn                func(context.Context, string) (store.ArticleFull, error)
	getArticleByShareTokenFn    func(context.Context, string) (store.ArticleFull, error)
	createArticleFn             func(context.Context, string, string, []store.Reference, *string) (store.ArticleFull, error)
	updateArticleFn             func(context.Context, string, store.ArticlePatch) error
	updateArticleByShareTokenFn func(context.Context, string, store.ArticlePatch) error
	deleteArticleFn             func(context.Context, string) error
	listVersionsFn              func(context.Context, string) ([]store.Version, error)
	restoreVersionFn            func(context.Context, string, string) (store.ArticleFull, error)
	deleteVersionFn             func(context.Context, string, string) error
	clearVersionsFn             func(context.Context, string) error
	createCommentFn             func(context.Context, string, store.Comment) (store.Comment, error)
	getCommentFn                func(context.Context, string, string) (store.Comment, error)
	listCommentsFn              func(context.Context, string) ([]store.Comment, error)
	deleteCommentFn             func(context.Context, string, string) error
	createShareTokenFn          func(context.Context, string) (string, error)
	revokeShareTokenFn          func(context.Context, string) error
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}
func (f *fakeStore) ListArticles(ctx context.Context, projectID string) ([]store.Article, error) {
	if f.listArticlesFn != nil {
		return f.listArticlesFn(ctx, projectID)
	}
	return nil, nil
}
func (f *fakeStore) GetArticle(ctx context.Context, id string) (store.ArticleFull, error) {
	if f.getArticleFn != nil {
		return f.getArticleFn(ctx, id)
	}
	return store.ArticleFull{}, store.ErrNotFound
}
func (f *fakeStore) GetArticleByShareToken(ctx context.Context, token string) (store.ArticleFull, error) {
	if f.getArticleByShareTokenFn != nil {
		return f.getArticleByShareTokenFn(ctx, token)
	}
	return store.ArticleFull{}, store.ErrNotFound
}
func (f *fakeStore) CreateArticle(ctx context.Context, title, content string, references []store.Reference, projectID *string) (store.ArticleFull, error) {
	if f.createArticleFn != nil {
		return f.createArticleFn(ctx, title, content, references, projectID)
	}
	return store.ArticleFull{ID: "art1", Title: title, Content: content, References: references, ProjectID: projectID}, nil
}
func (f *fakeStore) UpdateArticle(ctx context.Context, id string, patch store.ArticlePatch) error {
	if f.updateArticleFn != nil {
		return f.updateArticleFn(ctx, id, patch)
	}
	return nil
}
func (f *fakeStore) UpdateArticleByShareToken(ctx context.Context, token string, patch store.ArticlePatch) error {
	if f.updateArticleByShareTokenFn != nil {
		return f.updateArticleByShareTokenFn(ctx, token, patch)
	}
	return nil
}
func (f *fakeStore) DeleteArticle(ctx context.Context, id string) error {
	if f.deleteArticleFn != nil {
		return f.deleteArticleFn(ctx, id)
	}
	return nil
}
func (f *fakeStore) ListVersions(ctx context.Context, articleID string) ([]store.Version, error) {
	if f.listVersionsFn != nil {
		return f.listVersionsFn(ctx, articleID)
	}
	return nil, nil
}
func (f *fakeStore) RestoreVersion(ctx context.Context, articleID, versionID string) (store.ArticleFull, error) {
	if f.restoreVersionFn != nil {
		return f.restoreVersionFn(ctx, articleID, versionID)
	}
	return store.ArticleFull{}, store.ErrNotFound
}
func (f *fakeStore) DeleteVersion(ctx context.Context, articleID, versionID string) error {
	if f.deleteVersionFn != nil {
		return f.deleteVersionFn(ctx, articleID, versionID)
	}
	return nil
}
func (f *fakeStore) ClearVersionsExceptLatest(ctx context.Context, articleID string) error {
	if f.clearVersionsFn != nil {
		return f.clearVersionsFn(ctx, articleID)
	}
	return nil
}
func (f *fakeStore) CreateComment(ctx context.Context, articleID string, comment store.Comment) (store.Comment, error) {
	if f.createCommentFn != nil {
		return f.createCommentFn(ctx, articleID, comment)
	}
	comment.ArticleID = articleID
	return comment, nil
}
func (f *fakeStore) GetComment(ctx context.Context, articleID, commentID string) (store.Comment, error) {
	if f.getCommentFn != nil {
		return f.getCommentFn(ctx, articleID, commentID)
	}
	return store.Comment{}, store.ErrNotFound
}
func (f *fakeStore) ListComments(ctx context.Context, articleID string) ([]store.Comment, error) {
	if f.listCommentsFn != nil {
		return f.listCommentsFn(ctx, articleID)
	}
	return nil, nil
}
func (f *fakeStore) DeleteComment(ctx context.Context, articleID, commentID string) error {
	if f.deleteCommentFn != nil {
		return f.deleteCommentFn(ctx, articleID, commentID)
	}
	return nil
}
func (f *fakeStore) CreateShareToken(ctx context.Context, articleID string) (string, error) {
	if f.createShareTokenFn != nil {
		return f.createShareTokenFn(ctx, articleID)
	}
	return "tok1", nil
}
func (f *fakeStore) RevokeShareToken(ctx context.Context, articleID string) error {
	if f.revokeShareTokenFn != nil {
		return f.revokeShareTokenFn(ctx, articleID)
	}
	return nil
}

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg:    config.Config{},
		store:  fs,
		search: search.NewService(nil, nil),
	}
}

func domainStatus(t *testing.T, err error) int {
	t.Helper()
	var de *DomainError
	if !errors.As(err, &de) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	return de.Status
}

func TestGetSharedUnknownTokenIs404(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, err := svc.GetShared(context.Background(), "gone")
	if got := domainStatus(t, err); got != http.StatusNotFound {
		t.Errorf("status = %d, want 404", got)
	}
}

func TestCreateArticleNormalizesContent(t *testing.T) {
	var storedContent string
	fs := &fakeStore{
		createArticleFn: func(_ context.Context, title, content string, refs []store.Reference, projectID *string) (store.ArticleFull, error) {
			storedContent = content
			return store.ArticleFull{ID: "art1", Title: title, Content: content}, nil
		},
	}
	svc := newTestService(fs)

	content := `<p>text</p><img src="a.png">`
	_, err := svc.CreateArticle(context.Background(), ArticleInput{Content: &content}, "an")
	if err != nil {
		t.Fatalf("CreateArticle failed: %v", err)
	}
	if !strings.Contains(storedContent, `class="image-resizer"`) {
		t.Errorf("bare image not wrapped before persistence: %s", storedContent)
	}
}

func TestCreateCommentAnchorsRootInBody(t *testing.T) {
	var patched *string
	fs := &fakeStore{
		getArticleFn: func(_ context.Context, id string) (store.ArticleFull, error) {
			content := "<p>hello world</p>"
			if patched != nil {
				content = *patched
			}
			return store.ArticleFull{ID: id, Content: content}, nil
		},
		updateArticleFn: func(_ context.Context, id string, patch store.ArticlePatch) error {
			patched = patch.Content
			return nil
		},
	}
	svc := newTestService(fs)

	comment, err := svc.CreateComment(context.Background(), "art1", CommentInput{
		Text: "needs a citation",
		Ranges: []RangeInput{{
			Start: PositionInput{Path: []int{0, 0}, Offset: 0},
			End:   PositionInput{Path: []int{0, 0}, Offset: 5},
		}},
	}, "an")
	if err != nil {
		t.Fatalf("CreateComment failed: %v", err)
	}

	if patched == nil {
		t.Fatal("article body was not updated with the anchor")
	}
	if !strings.Contains(*patched, `data-region-group="`+comment.ID+`"`) {
		t.Errorf("anchor marker missing from body: %s", *patched)
	}
	if !strings.Contains(*patched, `data-region-role="comment-anchor"`) {
		t.Errorf("anchor role missing from body: %s", *patched)
	}
}

func TestCreateCommentReplyLeavesBodyAlone(t *testing.T) {
	parent := "cmt_root"
	fs := &fakeStore{
		getArticleFn: func(_ context.Context, id string) (store.ArticleFull, error) {
			return store.ArticleFull{ID: id, Content: "<p>hello</p>"}, nil
		},
		updateArticleFn: func(context.Context, string, store.ArticlePatch) error {
			t.Error("a reply must not touch the article body")
			return nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.CreateComment(context.Background(), "art1", CommentInput{
		ParentID: &parent,
		Text:     "agreed",
	}, "binh")
	if err != nil {
		t.Fatalf("CreateComment failed: %v", err)
	}
}

func TestCreateCommentEmptyTextRejected(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, err := svc.CreateComment(context.Background(), "art1", CommentInput{Text: "   "}, "an")
	if got := domainStatus(t, err); got != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", got)
	}
}

func TestCreateCommentNothingAnchorable(t *testing.T) {
	fs := &fakeStore{
		getArticleFn: func(_ context.Context, id string) (store.ArticleFull, error) {
			return store.ArticleFull{ID: id, Content: "<p>a</p><p>b</p>"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.CreateComment(context.Background(), "art1", CommentInput{
		Text: "anchored to nothing",
		Ranges: []RangeInput{{
			Start: PositionInput{Path: []int{0, 0}, Offset: 0},
			End:   PositionInput{Path: []int{1, 0}, Offset: 1},
		}},
	}, "an")
	if got := domainStatus(t, err); got != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", got)
	}
}

func TestDeleteRootCommentUnwrapsAnchorAndCascades(t *testing.T) {
	anchored := `<p><span data-region-group="cmt_root" data-region-ordinal="0" data-region-role="comment-anchor">hello</span> world</p>`
	var patched *string
	var deleted []string
	fs := &fakeStore{
		getCommentFn: func(_ context.Context, articleID, commentID string) (store.Comment, error) {
			return store.Comment{ID: commentID, ArticleID: articleID, Author: "an", Content: "root"}, nil
		},
		listCommentsFn: func(_ context.Context, articleID string) ([]store.Comment, error) {
			root := "cmt_root"
			return []store.Comment{
				{ID: "cmt_root", ArticleID: articleID},
				{ID: "cmt_reply", ArticleID: articleID, ParentID: &root},
			}, nil
		},
		getArticleFn: func(_ context.Context, id string) (store.ArticleFull, error) {
			content := anchored
			if patched != nil {
				content = *patched
			}
			return store.ArticleFull{ID: id, Content: content}, nil
		},
		updateArticleFn: func(_ context.Context, id string, patch store.ArticlePatch) error {
			patched = patch.Content
			return nil
		},
		deleteCommentFn: func(_ context.Context, articleID, commentID string) error {
			deleted = append(deleted, commentID)
			return nil
		},
	}
	svc := newTestService(fs)

	if err := svc.DeleteComment(context.Background(), "art1", "cmt_root", "an"); err != nil {
		t.Fatalf("DeleteComment failed: %v", err)
	}
	if patched == nil {
		t.Fatal("body was not rewritten")
	}
	if strings.Contains(*patched, "data-region-group") {
		t.Errorf("anchor marker still present: %s", *patched)
	}
	if !strings.Contains(*patched, "hello") {
		t.Errorf("anchored text lost on unwrap: %s", *patched)
	}
	if len(deleted) != 1 || deleted[0] != "cmt_root" {
		t.Errorf("deleted = %v, want the root (replies cascade in the store)", deleted)
	}
}

func TestDeleteReplyLeavesBodyAlone(t *testing.T) {
	root := "cmt_root"
	fs := &fakeStore{
		getCommentFn: func(_ context.Context, articleID, commentID string) (store.Comment, error) {
			return store.Comment{ID: commentID, ArticleID: articleID, ParentID: &root}, nil
		},
		updateArticleFn: func(context.Context, string, store.ArticlePatch) error {
			t.Error("deleting a reply must not touch the body")
			return nil
		},
	}
	svc := newTestService(fs)
	if err := svc.DeleteComment(context.Background(), "art1", "cmt_reply", "an"); err != nil {
		t.Fatalf("DeleteComment failed: %v", err)
	}
}

func TestCreateShareLink(t *testing.T) {
	svc := newTestService(&fakeStore{})
	link, err := svc.CreateShareLink(context.Background(), "art1")
	if err != nil {
		t.Fatalf("CreateShareLink failed: %v", err)
	}
	if link.Token != "tok1" || link.URL != "/share/tok1" {
		t.Errorf("link = %+v", link)
	}
}
