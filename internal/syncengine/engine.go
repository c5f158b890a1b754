// Package syncengine reconciles one open document across the editable
// surface, the local draft cache, the document store, and the realtime
// channel. It owns the sync baseline used for dirty-checking and the two
// scheduled tasks (debounced draft write, periodic auto-sync).
package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"quill/api/internal/collab"
	"quill/api/internal/draft"
	"quill/api/internal/store"
	"quill/api/internal/surface"
)

// DefaultTitle replaces an empty title on save.
const DefaultTitle = "Untitled document"

// ErrProjectRequired signals a deferred save: the save is retried
// automatically once a project becomes available.
var ErrProjectRequired = errors.New("syncengine: project required before saving")

// ErrLinkInvalid blocks opening a document through an unknown or revoked
// share token.
var ErrLinkInvalid = errors.New("link invalid or expired")

type State int

const (
	StateUnsaved State = iota
	StateSaved
	StateDirty
	StateSaving
)

func (s State) String() string {
	switch s {
	case StateUnsaved:
		return "unsaved"
	case StateSaved:
		return "saved"
	case StateDirty:
		return "dirty"
	case StateSaving:
		return "saving"
	}
	return "unknown"
}

// Store is the document-store contract the engine depends on. Any failure
// is surfaced as a retained message and leaves local state untouched.
type Store interface {
	ListArticles(ctx context.Context, projectID string) ([]store.Article, error)
	GetArticle(ctx context.Context, id string) (store.ArticleFull, error)
	GetArticleByShareToken(ctx context.Context, token string) (store.ArticleFull, error)
	CreateArticle(ctx context.Context, title, content string, references []store.Reference, projectID *string) (store.ArticleFull, error)
	UpdateArticle(ctx context.Context, id string, patch store.ArticlePatch) error
	UpdateArticleByShareToken(ctx context.Context, token string, patch store.ArticlePatch) error
	RestoreVersion(ctx context.Context, articleID, versionID string) (store.ArticleFull, error)
}

// Broadcaster pushes a snapshot to the document's realtime channel.
type Broadcaster interface {
	BroadcastContent(room string, snap collab.Snapshot, from string)
}

// baseline is the last state known to match the store, compared by value.
type baseline struct {
	title   string
	content string
	refs    string
}

type Options struct {
	Store            Store
	Drafts           *draft.Cache // optional
	Broadcaster      Broadcaster  // optional
	User             string
	AutosyncInterval time.Duration
}

type SaveOptions struct {
	RequireProject bool
}

// Session is the per-open-document engine instance. Callers must Close it
// on every transition away from the document so its timers do not leak.
type Session struct {
	store  Store
	drafts *draft.Cache
	caster Broadcaster
	user   string

	mu          sync.Mutex
	surf        *surface.Surface
	projectID   string
	articleID   string
	shareToken  string
	title       string
	references  []store.Reference
	base        baseline
	state       State
	lastError   string
	notice      string
	pendingSave bool

	autosyncInterval time.Duration
	stopAutosync     chan struct{}
	closed           bool
}

func NewSession(opts Options) *Session {
	interval := opts.AutosyncInterval
	if interval <= 0 {
		interval = 8 * time.Second
	}
	s := &Session{
		store:            opts.Store,
		drafts:           opts.Drafts,
		caster:           opts.Broadcaster,
		user:             opts.User,
		surf:             surface.New(),
		state:            StateUnsaved,
		autosyncInterval: interval,
	}
	// A fresh empty document starts clean against its own empty baseline.
	s.rebaselineLocked()
	return s
}

func (s *Session) Surface() *surface.Surface {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surf
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) ArticleID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.articleID
}

func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// Notice holds the transient message naming the sender of the last applied
// remote snapshot.
func (s *Session) Notice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notice
}

func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

func (s *Session) SetTitle(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.title = title
	s.noteEditLocked()
}

func (s *Session) References() []store.Reference {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.Reference(nil), s.references...)
}

func (s *Session) SetReferences(references []store.Reference) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.references = append([]store.Reference(nil), references...)
	s.noteEditLocked()
}

// SetContent replaces the surface content, as the editor does on every
// keystroke batch.
func (s *Session) SetContent(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.surf.SetSerializedContent(content); err != nil {
		return err
	}
	s.noteEditLocked()
	return nil
}

// noteEditLocked runs after every local mutation: flips Saved to Dirty and
// feeds the draft cache, which stays a write-through safety net even once a
// server copy exists.
func (s *Session) noteEditLocked() {
	if s.state == StateSaved {
		s.state = StateDirty
	}
	s.writeDraftLocked()
}

func (s *Session) writeDraftLocked() {
	if s.drafts == nil {
		return
	}
	refs, err := json.Marshal(s.references)
	if err != nil {
		refs = []byte("[]")
	}
	s.drafts.Save(draft.Key(s.projectID, s.articleID), draft.Draft{
		DocTitle:   s.title,
		Content:    s.surf.GetSerializedContent(),
		References: refs,
	})
}

// LoadForProject fetches the project's documents and opens the first one.
// With no server copy the draft cache is consulted instead: first the
// project's own slot, then the no-project slot a brand-new document was
// typed into before the project existed.
func (s *Session) LoadForProject(ctx context.Context, projectID string) error {
	s.mu.Lock()
	s.projectID = projectID
	s.mu.Unlock()

	list, err := s.store.ListArticles(ctx, projectID)
	if err != nil {
		return s.fail("load documents", err)
	}

	if len(list) > 0 {
		full, err := s.store.GetArticle(ctx, list[0].ID)
		if err != nil {
			return s.fail("load document", err)
		}
		return s.adopt(full)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drafts != nil {
		for _, key := range []string{draft.Key(projectID, ""), draft.Key("", "")} {
			d, err := s.drafts.Load(key)
			if err != nil || d == nil {
				continue
			}
			// Parse before committing anything, so a bad draft in one slot
			// leaves no trace when the next slot is tried.
			recovered, err := surface.FromContent(d.Content)
			if err != nil {
				continue
			}
			s.surf = recovered
			s.title = d.DocTitle
			var refs []store.Reference
			_ = json.Unmarshal(d.References, &refs)
			s.references = refs
			s.state = StateDirty
			return nil
		}
	}
	s.state = StateUnsaved
	return nil
}

// OpenShared loads a document through its share token. An unknown or
// revoked token is a blocking error; no partial document is shown.
func (s *Session) OpenShared(ctx context.Context, token string) error {
	full, err := s.store.GetArticleByShareToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return s.fail("open shared document", ErrLinkInvalid)
	}
	if err != nil {
		return s.fail("open shared document", err)
	}
	s.mu.Lock()
	s.shareToken = token
	s.mu.Unlock()
	return s.adopt(full)
}

func (s *Session) adopt(full store.ArticleFull) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.articleID = full.ID
	if full.ProjectID != nil {
		s.projectID = *full.ProjectID
	}
	s.title = full.Title
	s.references = full.References
	if err := s.surf.SetSerializedContent(full.Content); err != nil {
		return err
	}
	s.rebaselineLocked()
	s.state = StateSaved
	s.lastError = ""
	return nil
}

// Dirty compares live content, trimmed title, and serialized references
// against the baseline, by value.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirtyLocked()
}

func (s *Session) dirtyLocked() bool {
	return s.surf.GetSerializedContent() != s.base.content ||
		strings.TrimSpace(s.title) != s.base.title ||
		s.refsJSONLocked() != s.base.refs
}

// refsCopyLocked never returns nil: the store reads a nil reference list as
// "leave the column unchanged", so clearing the last reference must still
// transmit an empty list.
func (s *Session) refsCopyLocked() []store.Reference {
	references := make([]store.Reference, 0, len(s.references))
	return append(references, s.references...)
}

func (s *Session) refsJSONLocked() string {
	refs, err := json.Marshal(s.references)
	if err != nil {
		return "[]"
	}
	return string(refs)
}

func (s *Session) rebaselineLocked() {
	s.base = baseline{
		title:   strings.TrimSpace(s.title),
		content: s.surf.GetSerializedContent(),
		refs:    s.refsJSONLocked(),
	}
}

// Save persists the full current state: the token path when a share token
// is active, update when a server id exists, create otherwise. Saves are
// not serialized against each other; the store's last write wins.
func (s *Session) Save(ctx context.Context, opts SaveOptions) error {
	s.mu.Lock()
	if opts.RequireProject && s.projectID == "" && s.shareToken == "" {
		s.pendingSave = true
		s.lastError = "select a project before saving"
		s.mu.Unlock()
		return ErrProjectRequired
	}

	title := strings.TrimSpace(s.title)
	if title == "" {
		title = DefaultTitle
	}
	content := s.surf.GetSerializedContent()
	references := s.refsCopyLocked()
	articleID := s.articleID
	shareToken := s.shareToken
	projectID := s.projectID
	s.state = StateSaving
	s.mu.Unlock()

	patch := store.ArticlePatch{Title: &title, Content: &content, References: references}

	var createdID string
	var err error
	switch {
	case shareToken != "":
		err = s.store.UpdateArticleByShareToken(ctx, shareToken, patch)
	case articleID != "":
		err = s.store.UpdateArticle(ctx, articleID, patch)
	default:
		var pid *string
		if projectID != "" {
			pid = &projectID
		}
		var full store.ArticleFull
		full, err = s.store.CreateArticle(ctx, title, content, references, pid)
		if err == nil {
			createdID = full.ID
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastError = fmt.Sprintf("save failed: %v", err)
		s.state = StateDirty
		return fmt.Errorf("save: %w", err)
	}

	if createdID != "" {
		s.articleID = createdID
	}
	s.rebaselineLocked()
	s.state = StateSaved
	s.lastError = ""
	s.pendingSave = false
	s.writeDraftLocked()
	s.broadcastLocked(title, content, references)
	return nil
}

// SaveAsNew forks the document into a fresh server record regardless of the
// current id.
func (s *Session) SaveAsNew(ctx context.Context) error {
	s.mu.Lock()
	title := strings.TrimSpace(s.title)
	if title == "" {
		title = DefaultTitle
	}
	content := s.surf.GetSerializedContent()
	references := s.refsCopyLocked()
	projectID := s.projectID
	s.state = StateSaving
	s.mu.Unlock()

	var pid *string
	if projectID != "" {
		pid = &projectID
	}
	full, err := s.store.CreateArticle(ctx, title, content, references, pid)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastError = fmt.Sprintf("save as new failed: %v", err)
		s.state = StateDirty
		return fmt.Errorf("save as new: %w", err)
	}
	s.articleID = full.ID
	s.shareToken = ""
	s.rebaselineLocked()
	s.state = StateSaved
	s.lastError = ""
	return nil
}

// SetProject attaches the session to a project and retries a save that was
// deferred for lack of one.
func (s *Session) SetProject(ctx context.Context, projectID string) error {
	s.mu.Lock()
	s.projectID = projectID
	retry := s.pendingSave && projectID != ""
	s.mu.Unlock()

	if retry {
		return s.Save(ctx, SaveOptions{RequireProject: true})
	}
	return nil
}

// RestoreVersion overwrites local state with the restored snapshot and
// re-baselines. The restore itself appends no version; the next save
// snapshots the restored state.
func (s *Session) RestoreVersion(ctx context.Context, versionID string) error {
	s.mu.Lock()
	articleID := s.articleID
	s.mu.Unlock()
	if articleID == "" {
		return fmt.Errorf("restore version: document has no server copy")
	}

	full, err := s.store.RestoreVersion(ctx, articleID, versionID)
	if err != nil {
		return s.fail("restore version", err)
	}
	return s.adopt(full)
}

// ApplyRemoteSnapshot is the receiving half of the channel: the remote
// snapshot unconditionally replaces local state and re-baselines, even over
// unsaved local edits. Last writer wins; the version log is the safety net.
func (s *Session) ApplyRemoteSnapshot(msg collab.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.title = msg.Title
	if err := s.surf.SetSerializedContent(msg.Content); err != nil {
		return err
	}
	var refs []store.Reference
	if len(msg.References) > 0 {
		_ = json.Unmarshal(msg.References, &refs)
	}
	s.references = refs
	s.rebaselineLocked()
	s.state = StateSaved
	if msg.From != "" {
		s.notice = fmt.Sprintf("%s updated the document", msg.From)
	}
	return nil
}

// StartAutosync runs the periodic push: on each tick, a dirty non-empty
// document goes through the same save path as an explicit save, so the tick
// also appends a version.
func (s *Session) StartAutosync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopAutosync != nil || s.closed {
		return
	}
	stop := make(chan struct{})
	s.stopAutosync = stop

	go func() {
		ticker := time.NewTicker(s.autosyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.mu.Lock()
				// A document with no server copy and no project has nowhere
				// to sync to; it lives in the draft cache until then.
				hasHome := s.articleID != "" || s.shareToken != "" || s.projectID != ""
				shouldSave := hasHome && s.dirtyLocked() && s.surf.GetSerializedContent() != "" &&
					s.state != StateSaving
				s.mu.Unlock()
				if shouldSave {
					_ = s.Save(context.Background(), SaveOptions{})
				}
			}
		}
	}()
}

// Close stops the session's scheduled tasks. Required on every transition
// away from the document.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.stopAutosync != nil {
		close(s.stopAutosync)
		s.stopAutosync = nil
	}
}

func (s *Session) fail(op string, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = fmt.Sprintf("%s: %v", op, err)
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Session) broadcastLocked(title, content string, references []store.Reference) {
	if s.caster == nil {
		return
	}
	refs, err := json.Marshal(references)
	if err != nil {
		refs = []byte("[]")
	}
	room := collab.RoomKey(s.articleID, s.shareToken)
	s.caster.BroadcastContent(room, collab.Snapshot{Title: title, Content: content, References: refs}, s.user)
}
