// Package draft is the same-browser-style recovery cache: a local slot per
// (project, document) pair, written on a debounce so rapid keystrokes
// coalesce, and read only while no server copy exists yet.
package draft

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const keyPrefix = "draft:"

// Key derives the cache slot. Sentinels keep a brand-new document in a
// distinct slot from every saved one.
func Key(projectID, articleID string) string {
	if projectID == "" {
		projectID = "none"
	}
	if articleID == "" {
		articleID = "new"
	}
	return keyPrefix + projectID + "-" + articleID
}

type Draft struct {
	DocTitle   string          `json:"docTitle"`
	Content    string          `json:"content"`
	References json.RawMessage `json:"references"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

type pendingWrite struct {
	timer *time.Timer
	draft Draft
}

// Cache is an embedded BadgerDB store with debounced writes.
type Cache struct {
	db       *badger.DB
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]*pendingWrite
	closed  bool
}

func Open(dir string, debounce time.Duration) (*Cache, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open draft cache: %w", err)
	}
	return newCache(db, debounce), nil
}

// OpenInMemory backs the cache with no disk state. Used in tests.
func OpenInMemory(debounce time.Duration) (*Cache, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open draft cache: %w", err)
	}
	return newCache(db, debounce), nil
}

func newCache(db *badger.DB, debounce time.Duration) *Cache {
	return &Cache{
		db:       db,
		debounce: debounce,
		pending:  make(map[string]*pendingWrite),
	}
}

// Save schedules a debounced write. A save arriving before the previous one
// flushed replaces its payload and restarts the clock.
func (c *Cache) Save(key string, d Draft) {
	d.UpdatedAt = time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if pw, ok := c.pending[key]; ok {
		pw.draft = d
		pw.timer.Reset(c.debounce)
		return
	}
	pw := &pendingWrite{draft: d}
	pw.timer = time.AfterFunc(c.debounce, func() { c.flushKey(key) })
	c.pending[key] = pw
}

// Load returns the draft for a slot, or nil when none exists. A pending
// unflushed write wins over the persisted value.
func (c *Cache) Load(key string) (*Draft, error) {
	c.mu.Lock()
	if pw, ok := c.pending[key]; ok {
		d := pw.draft
		c.mu.Unlock()
		return &d, nil
	}
	c.mu.Unlock()

	var d Draft
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &d)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load draft: %w", err)
	}
	return &d, nil
}

func (c *Cache) flushKey(key string) {
	c.mu.Lock()
	pw, ok := c.pending[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pending, key)
	d := pw.draft
	c.mu.Unlock()

	_ = c.write(key, d)
}

func (c *Cache) write(key string, d Draft) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), payload)
	})
	if err != nil {
		return fmt.Errorf("write draft: %w", err)
	}
	return nil
}

// Flush writes every pending draft immediately.
func (c *Cache) Flush() error {
	c.mu.Lock()
	drafts := make(map[string]Draft, len(c.pending))
	for key, pw := range c.pending {
		pw.timer.Stop()
		drafts[key] = pw.draft
		delete(c.pending, key)
	}
	c.mu.Unlock()

	for key, d := range drafts {
		if err := c.write(key, d); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	if err := c.Flush(); err != nil {
		return err
	}
	return c.db.Close()
}
