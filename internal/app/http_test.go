package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"quill/api/internal/store"
)

func newTestServer(t *testing.T, fs *fakeStore) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(NewHTTPServer(newTestService(fs), "*").Handler())
	t.Cleanup(server.Close)
	return server
}

func decodeResponse(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return payload
}

func TestHealth(t *testing.T) {
	server := newTestServer(t, &fakeStore{})
	resp, err := http.Get(server.URL + "/api/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	payload := decodeResponse(t, resp)
	if payload["ok"] != true {
		t.Errorf("payload = %v", payload)
	}
}

func TestReadyReportsDatabaseFailure(t *testing.T) {
	fs := &fakeStore{
		pingFn: func(context.Context) error { return errors.New("connection refused") },
	}
	server := newTestServer(t, fs)
	resp, err := http.Get(server.URL + "/api/ready")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	payload := decodeResponse(t, resp)
	if payload["status"] != "not_ready" {
		t.Errorf("payload = %v", payload)
	}
}

func TestUnknownRouteIs404Envelope(t *testing.T) {
	server := newTestServer(t, &fakeStore{})
	resp, err := http.Get(server.URL + "/api/nope")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", resp.StatusCode)
	}
	payload := decodeResponse(t, resp)
	if payload["code"] != "NOT_FOUND" {
		t.Errorf("payload = %v", payload)
	}
}

func TestListArticles(t *testing.T) {
	fs := &fakeStore{
		listArticlesFn: func(_ context.Context, projectID string) ([]store.Article, error) {
			if projectID != "proj1" {
				t.Errorf("projectID = %q, want proj1", projectID)
			}
			return []store.Article{
				{ID: "art1", Title: "First", UpdatedAt: time.Now()},
				{ID: "art2", Title: "Second", UpdatedAt: time.Now()},
			}, nil
		},
	}
	server := newTestServer(t, fs)
	resp, err := http.Get(server.URL + "/api/articles?projectId=proj1")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	payload := decodeResponse(t, resp)
	articles, ok := payload["articles"].([]any)
	if !ok || len(articles) != 2 {
		t.Fatalf("articles = %v", payload["articles"])
	}
	first := articles[0].(map[string]any)
	if first["id"] != "art1" || first["title"] != "First" {
		t.Errorf("first = %v", first)
	}
}

func TestGetMissingArticleIs404(t *testing.T) {
	server := newTestServer(t, &fakeStore{})
	resp, err := http.Get(server.URL + "/api/articles/gone")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestGetSharedInvalidToken(t *testing.T) {
	server := newTestServer(t, &fakeStore{})
	resp, err := http.Get(server.URL + "/api/share/revoked")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	payload := decodeResponse(t, resp)
	if payload["code"] != "SHARE_LINK_INVALID" {
		t.Errorf("payload = %v", payload)
	}
}

func TestUpdateArticleReturnsFreshState(t *testing.T) {
	updated := false
	fs := &fakeStore{
		updateArticleFn: func(_ context.Context, id string, patch store.ArticlePatch) error {
			updated = true
			if patch.Title == nil || *patch.Title != "Renamed" {
				t.Errorf("patch.Title = %v", patch.Title)
			}
			return nil
		},
		getArticleFn: func(_ context.Context, id string) (store.ArticleFull, error) {
			return store.ArticleFull{ID: id, Title: "Renamed", Content: "<p>kept</p>"}, nil
		},
	}
	server := newTestServer(t, fs)

	req, _ := http.NewRequest(http.MethodPut, server.URL+"/api/articles/art1",
		strings.NewReader(`{"title":"Renamed"}`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !updated {
		t.Error("store was never updated")
	}
	payload := decodeResponse(t, resp)
	article := payload["article"].(map[string]any)
	if article["title"] != "Renamed" || article["content"] != "<p>kept</p>" {
		t.Errorf("article = %v", article)
	}
}

func TestAIEditUnconfiguredIs503(t *testing.T) {
	server := newTestServer(t, &fakeStore{})
	resp, err := http.Post(server.URL+"/api/ai/edit", "application/json",
		strings.NewReader(`{"content":"<p>x</p>","instruction":"shorten","ranges":[]}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	payload := decodeResponse(t, resp)
	if payload["code"] != "AI_UNAVAILABLE" {
		t.Errorf("payload = %v", payload)
	}
}

func TestCollabUnconfiguredIs503(t *testing.T) {
	server := newTestServer(t, &fakeStore{})
	resp, err := http.Get(server.URL + "/api/collab")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestMethodNotAllowedOnCollection(t *testing.T) {
	server := newTestServer(t, &fakeStore{})
	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/api/articles", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestCreateShareLinkPayload(t *testing.T) {
	server := newTestServer(t, &fakeStore{})
	resp, err := http.Post(server.URL+"/api/articles/art1/share", "application/json", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	payload := decodeResponse(t, resp)
	if payload["token"] != "tok1" || payload["url"] != "/share/tok1" {
		t.Errorf("payload = %v", payload)
	}
}

func TestSearchRejectsBadLimit(t *testing.T) {
	server := newTestServer(t, &fakeStore{})
	resp, err := http.Get(server.URL + "/api/search?q=x&limit=many")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}
}

func TestSessionRoutes(t *testing.T) {
	fs := &fakeStore{
		createArticleFn: func(_ context.Context, title, content string, refs []store.Reference, projectID *string) (store.ArticleFull, error) {
			return store.ArticleFull{ID: "art_new", Title: title, Content: content}, nil
		},
	}
	server := newTestServer(t, fs)

	resp, err := http.Post(server.URL+"/api/sessions", "application/json",
		strings.NewReader(`{"projectId":"proj1"}`))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	payload := decodeResponse(t, resp)
	session := payload["session"].(map[string]any)
	id, _ := session["id"].(string)
	if id == "" {
		t.Fatalf("session payload = %v", session)
	}

	req, _ := http.NewRequest(http.MethodPut, server.URL+"/api/sessions/"+id,
		strings.NewReader(`{"title":"Typed","content":"<p>typed</p>"}`))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	payload = decodeResponse(t, resp)
	session = payload["session"].(map[string]any)
	if session["dirty"] != true {
		t.Errorf("session after edit = %v", session)
	}

	resp, err = http.Post(server.URL+"/api/sessions/"+id+"/save", "application/json",
		strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	payload = decodeResponse(t, resp)
	session = payload["session"].(map[string]any)
	if session["state"] != "saved" || session["articleId"] != "art_new" {
		t.Errorf("session after save = %v", session)
	}

	req, _ = http.NewRequest(http.MethodDelete, server.URL+"/api/sessions/"+id, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("close status = %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/api/sessions/" + id)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status after close = %d, want 404", resp.StatusCode)
	}
}

func TestRequestIDEchoedBack(t *testing.T) {
	server := newTestServer(t, &fakeStore{})
	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "req-42" {
		t.Errorf("X-Request-ID = %q", got)
	}
}
