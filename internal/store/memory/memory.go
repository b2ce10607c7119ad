package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"tablestore/internal/model"
	"tablestore/internal/store"
)

type Store struct {
	mu sync.RWMutex

	tables      model.TableSet
	collections map[model.Table]*collection
	accounts    map[string]model.Account
}

type collection struct {
	order []string
	docs  map[string]model.Document
}

func newCollection() *collection {
	return &collection{docs: make(map[string]model.Document)}
}

func (c *collection) put(d model.Document) {
	if _, ok := c.docs[d.ID]; !ok {
		c.order = append(c.order, d.ID)
	}
	c.docs[d.ID] = d
}

func NewStore(tables model.TableSet) *Store {
	s := &Store{
		tables:      tables,
		collections: make(map[model.Table]*collection),
		accounts:    make(map[string]model.Account),
	}
	for _, t := range tables.Tables() {
		s.collections[t] = newCollection()
	}
	return s
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() {}

func (s *Store) collection(t model.Table) (*collection, error) {
	c, ok := s.collections[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", store.ErrInvalidTable, t)
	}
	return c, nil
}

func (s *Store) ListDocuments(_ context.Context, t model.Table) ([]model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := s.collection(t)
	if err != nil {
		return nil, err
	}

	out := make([]model.Document, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, cloneDocument(c.docs[id]))
	}
	return out, nil
}

func (s *Store) ReplaceDocuments(_ context.Context, t model.Table, docs []model.Document) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.collection(t); err != nil {
		return 0, err
	}

	// Build the replacement fully before swapping it in so a bad item leaves
	// the old table untouched.
	next := newCollection()
	for _, d := range store.CollapseDuplicates(docs) {
		if d.ID == "" {
			return 0, fmt.Errorf("%w: document is missing id", store.ErrInvalidPayload)
		}
		next.put(cloneDocument(d))
	}
	s.collections[t] = next
	return len(next.order), nil
}

func (s *Store) UpsertDocument(_ context.Context, t model.Table, doc model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.collection(t)
	if err != nil {
		return err
	}
	if doc.ID == "" {
		return fmt.Errorf("%w: document is missing id", store.ErrInvalidPayload)
	}
	c.put(cloneDocument(doc))
	return nil
}

func (s *Store) DeleteDocument(_ context.Context, t model.Table, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.collection(t)
	if err != nil {
		return err
	}
	if _, ok := c.docs[id]; !ok {
		return nil
	}
	delete(c.docs, id)
	c.order = slices.DeleteFunc(c.order, func(v string) bool { return v == id })
	return nil
}

func cloneDocument(d model.Document) model.Document {
	return model.Document{ID: d.ID, Data: slices.Clone(d.Data)}
}
