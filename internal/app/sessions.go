package app

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"quill/api/internal/store"
	"quill/api/internal/syncengine"
	"quill/api/internal/util"
)

// OpenSessionInput opens a server-held editing session: by project (the
// project's first document, or its recovered draft), by share token, or
// empty for a fresh scratch document that has no home yet.
type OpenSessionInput struct {
	ProjectID  string `json:"projectId"`
	ShareToken string `json:"shareToken"`
}

// SessionEditInput carries one editor mutation batch. Nil fields are left
// untouched; an explicit empty reference list clears the references.
type SessionEditInput struct {
	Title      *string           `json:"title"`
	Content    *string           `json:"content"`
	References []store.Reference `json:"references"`
}

// SessionView is the wire shape of a session's current state.
type SessionView struct {
	ID         string            `json:"id"`
	ArticleID  string            `json:"articleId"`
	State      string            `json:"state"`
	Dirty      bool              `json:"dirty"`
	Title      string            `json:"title"`
	Content    string            `json:"content"`
	References []store.Reference `json:"references"`
	LastError  string            `json:"lastError,omitempty"`
	Notice     string            `json:"notice,omitempty"`
}

// OpenSession creates the session, loads the document, and starts the
// autosync ticker. Callers own the session id and must close it when the
// document is left.
func (s *Service) OpenSession(ctx context.Context, in OpenSessionInput, user string) (SessionView, error) {
	opts := syncengine.Options{
		Store:            s.store,
		Drafts:           s.drafts,
		User:             user,
		AutosyncInterval: s.cfg.AutosyncInterval,
	}
	if s.hub != nil {
		opts.Broadcaster = s.hub
	}
	sess := syncengine.NewSession(opts)

	var err error
	switch {
	case strings.TrimSpace(in.ShareToken) != "":
		err = sess.OpenShared(ctx, in.ShareToken)
	case strings.TrimSpace(in.ProjectID) != "":
		err = sess.LoadForProject(ctx, in.ProjectID)
	}
	if err != nil {
		sess.Close()
		if errors.Is(err, syncengine.ErrLinkInvalid) {
			return SessionView{}, domainError(http.StatusNotFound, "SHARE_LINK_INVALID", "Share link is invalid or has been revoked", nil)
		}
		return SessionView{}, err
	}

	id := util.NewID("ses")
	s.sessionsMu.Lock()
	if s.sessions == nil {
		s.sessions = make(map[string]*syncengine.Session)
	}
	s.sessions[id] = sess
	s.sessionsMu.Unlock()

	sess.StartAutosync()
	return sessionView(id, sess), nil
}

func (s *Service) SessionState(id string) (SessionView, error) {
	sess, err := s.sessionByID(id)
	if err != nil {
		return SessionView{}, err
	}
	return sessionView(id, sess), nil
}

func (s *Service) EditSession(ctx context.Context, id string, in SessionEditInput) (SessionView, error) {
	sess, err := s.sessionByID(id)
	if err != nil {
		return SessionView{}, err
	}
	if in.Title != nil {
		sess.SetTitle(*in.Title)
	}
	if in.Content != nil {
		if err := sess.SetContent(*in.Content); err != nil {
			return SessionView{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is not parseable", nil)
		}
	}
	if in.References != nil {
		sess.SetReferences(in.References)
	}
	return sessionView(id, sess), nil
}

// SaveSession pushes the full current state through the engine's save path.
// A save deferred for lack of a project is a conflict, not a failure; the
// engine retries it once SetSessionProject lands.
func (s *Service) SaveSession(ctx context.Context, id string, requireProject bool) (SessionView, error) {
	sess, err := s.sessionByID(id)
	if err != nil {
		return SessionView{}, err
	}
	if err := sess.Save(ctx, syncengine.SaveOptions{RequireProject: requireProject}); err != nil {
		if errors.Is(err, syncengine.ErrProjectRequired) {
			return SessionView{}, domainError(http.StatusConflict, "PROJECT_REQUIRED", "Select a project before saving", nil)
		}
		return SessionView{}, err
	}
	return sessionView(id, sess), nil
}

func (s *Service) SetSessionProject(ctx context.Context, id, projectID string) (SessionView, error) {
	sess, err := s.sessionByID(id)
	if err != nil {
		return SessionView{}, err
	}
	if err := sess.SetProject(ctx, projectID); err != nil {
		return SessionView{}, err
	}
	return sessionView(id, sess), nil
}

func (s *Service) CloseSession(id string) error {
	s.sessionsMu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.sessionsMu.Unlock()
	if !ok {
		return domainError(http.StatusNotFound, "SESSION_NOT_FOUND", "No such editing session", nil)
	}
	sess.Close()
	return nil
}

// CloseAllSessions stops every session's timers. Called on shutdown.
func (s *Service) CloseAllSessions() {
	s.sessionsMu.Lock()
	sessions := s.sessions
	s.sessions = nil
	s.sessionsMu.Unlock()
	for _, sess := range sessions {
		sess.Close()
	}
}

func (s *Service) sessionByID(id string) (*syncengine.Session, error) {
	s.sessionsMu.Lock()
	sess, ok := s.sessions[id]
	s.sessionsMu.Unlock()
	if !ok {
		return nil, domainError(http.StatusNotFound, "SESSION_NOT_FOUND", "No such editing session", nil)
	}
	return sess, nil
}

func sessionView(id string, sess *syncengine.Session) SessionView {
	refs := sess.References()
	if refs == nil {
		refs = []store.Reference{}
	}
	return SessionView{
		ID:         id,
		ArticleID:  sess.ArticleID(),
		State:      sess.State().String(),
		Dirty:      sess.Dirty(),
		Title:      sess.Title(),
		Content:    sess.Surface().GetSerializedContent(),
		References: refs,
		LastError:  sess.LastError(),
		Notice:     sess.Notice(),
	}
}
