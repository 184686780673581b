// Package cart holds per-session carts in memory.
//
// A session's cart is an ordered list of items. Items appended through the
// store never share a matching key with an item already in the same cart;
// seeded carts are stored verbatim and may contain collisions.
package cart

import (
	"fmt"
	"sync"
	"time"

	"basket-sync/internal/model"
	"basket-sync/internal/normalize"
)

// Store is a concurrency-safe in-memory cart store keyed by session ID.
// The zero value is not usable; construct with New.
type Store struct {
	keys normalize.Keyer
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	mu    sync.RWMutex
	items []model.CartItem
	index map[string]int // matching key → position of first item with it
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to stamp AddedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates an empty Store that indexes items with keys.
func New(keys normalize.Keyer, opts ...Option) *Store {
	s := &Store{
		keys:     keys,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Keyer returns the key function the store indexes with.
func (s *Store) Keyer() normalize.Keyer {
	return s.keys
}

// lookup returns the session, creating it when create is set.
// Returns nil for an unknown session when create is false.
func (s *Store) lookup(id string, create bool) *session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok && create {
		sess = &session{index: make(map[string]int)}
		s.sessions[id] = sess
	}
	return sess
}

// GetCart returns a copy of the session's items in insertion order.
// An unknown session has an empty cart.
func (s *Store) GetCart(sessionID string) []model.CartItem {
	sess := s.lookup(sessionID, false)
	if sess == nil {
		return []model.CartItem{}
	}

	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return cloneItems(sess.items)
}

// Len returns the number of items in the session's cart.
func (s *Store) Len(sessionID string) int {
	sess := s.lookup(sessionID, false)
	if sess == nil {
		return 0
	}

	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return len(sess.items)
}

// AppendItem adds item to the end of the session's cart, stamping AddedAt.
// It does not check for duplicates; use Update for a check-and-append.
func (s *Store) AppendItem(sessionID string, item model.CartItem) model.CartItem {
	sess := s.lookup(sessionID, true)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return s.appendLocked(sess, item)
}

// FindByKey returns the first item in the session's cart whose matching key
// equals key.
func (s *Store) FindByKey(sessionID, key string) (model.CartItem, bool) {
	sess := s.lookup(sessionID, false)
	if sess == nil {
		return model.CartItem{}, false
	}

	sess.mu.RLock()
	defer sess.mu.RUnlock()
	i, ok := sess.index[key]
	if !ok {
		return model.CartItem{}, false
	}
	return sess.items[i], true
}

// Keys returns the set of matching keys present in the session's cart.
func (s *Store) Keys(sessionID string) map[string]struct{} {
	sess := s.lookup(sessionID, false)
	if sess == nil {
		return map[string]struct{}{}
	}

	sess.mu.RLock()
	defer sess.mu.RUnlock()
	keys := make(map[string]struct{}, len(sess.index))
	for k := range sess.index {
		keys[k] = struct{}{}
	}
	return keys
}

// Seed replaces the session's cart with items, preserving their order and
// text. Every item gets the same AddedAt. Seeding with no items empties the
// cart.
func (s *Store) Seed(sessionID string, items []model.SeedItem) []model.CartItem {
	sess := s.lookup(sessionID, true)
	stamp := s.now()

	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.items = make([]model.CartItem, 0, len(items))
	sess.index = make(map[string]int, len(items))
	for _, it := range items {
		key := s.keys.Key(it.Name)
		if _, ok := sess.index[key]; !ok {
			sess.index[key] = len(sess.items)
		}
		sess.items = append(sess.items, model.CartItem{
			Name:     it.Name,
			Quantity: it.Quantity,
			Checked:  it.Checked,
			AddedAt:  stamp,
		})
	}
	return cloneItems(sess.items)
}

// SetChecked marks the item at index (zero-based, insertion order) as
// checked or unchecked and returns the updated item. Checking does not move
// the item or change its matching key.
func (s *Store) SetChecked(sessionID string, index int, checked bool) (model.CartItem, error) {
	sess := s.lookup(sessionID, false)
	if sess == nil {
		return model.CartItem{}, model.NewNotFoundError("session " + sessionID)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if index < 0 || index >= len(sess.items) {
		return model.CartItem{}, model.NewNotFoundError(fmt.Sprintf("item %d in session %s", index, sessionID))
	}
	sess.items[index].Checked = checked
	return sess.items[index], nil
}

// Update runs fn with exclusive access to the session's cart. Other writers
// to the same session wait until fn returns; other sessions are unaffected.
// The session is created if needed. Changes made through tx before fn
// returns an error are kept.
func (s *Store) Update(sessionID string, fn func(tx *Tx) error) error {
	sess := s.lookup(sessionID, true)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return fn(&Tx{store: s, sess: sess})
}

// Discard drops the session and its cart. It reports whether the session
// existed.
func (s *Store) Discard(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return false
	}
	delete(s.sessions, sessionID)
	return true
}

// Sessions returns the number of live sessions.
func (s *Store) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) appendLocked(sess *session, item model.CartItem) model.CartItem {
	item.AddedAt = s.now()
	key := s.keys.Key(item.Name)
	if _, ok := sess.index[key]; !ok {
		sess.index[key] = len(sess.items)
	}
	sess.items = append(sess.items, item)
	return item
}

// Tx is a view of one session's cart held under its write lock.
// It is only valid inside the Update callback that received it.
type Tx struct {
	store *Store
	sess  *session
}

// Has reports whether an item with the given matching key is in the cart.
func (tx *Tx) Has(key string) bool {
	_, ok := tx.sess.index[key]
	return ok
}

// Append adds item to the end of the cart and returns it with AddedAt set.
func (tx *Tx) Append(item model.CartItem) model.CartItem {
	return tx.store.appendLocked(tx.sess, item)
}

// Len returns the number of items in the cart.
func (tx *Tx) Len() int {
	return len(tx.sess.items)
}

func cloneItems(items []model.CartItem) []model.CartItem {
	out := make([]model.CartItem, len(items))
	copy(out, items)
	return out
}
