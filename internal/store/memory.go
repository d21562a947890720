package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/natours/api/internal/query"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/google/uuid"
)

// NewMemory returns a store backed by in-process collections.
func NewMemory() *Store {
	return &Store{
		Tours:    NewMemoryCollection(Tours),
		Users:    NewMemoryCollection(Users),
		Reviews:  NewMemoryCollection(Reviews),
		Bookings: NewMemoryCollection(Bookings),
		Driver:   "memory",
	}
}

type memoryEntry struct {
	item  item
	plain map[string]interface{}
}

// MemoryCollection keeps encoded documents in insertion order.
type MemoryCollection struct {
	def Definition

	mu      sync.RWMutex
	entries map[string]*memoryEntry
	order   []string
	// unique[i] maps the key of def.Unique[i] to the owning id
	unique []map[string]string
}

var _ Collection = (*MemoryCollection)(nil)

func NewMemoryCollection(def Definition) *MemoryCollection {
	unique := make([]map[string]string, len(def.Unique))
	for i := range unique {
		unique[i] = make(map[string]string)
	}
	return &MemoryCollection{
		def:     def,
		entries: make(map[string]*memoryEntry),
		unique:  unique,
	}
}

func (m *MemoryCollection) Name() string { return m.def.Name }

func (m *MemoryCollection) Insert(ctx context.Context, doc Document) (err error) {
	defer observe(ctx, m.def.Name, "insert")(&err)

	if doc.DocumentID() == "" {
		doc.SetDocumentID(uuid.NewString())
	}
	doc.SetDocumentVersion(0)

	entry, err := newEntry(doc)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := doc.DocumentID()
	if _, exists := m.entries[id]; exists {
		return &DuplicateKeyError{Collection: m.def.Name, Fields: []string{"id"}, Value: id}
	}
	if err := m.checkUnique(entry.plain, id); err != nil {
		return err
	}

	m.entries[id] = entry
	m.order = append(m.order, id)
	m.index(entry.plain, id)
	return nil
}

func (m *MemoryCollection) FindOne(ctx context.Context, f query.Filter, out Document) (err error) {
	defer observe(ctx, m.def.Name, "find_one")(&err)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if id, ok := idFromFilter(f); ok {
		entry, exists := m.entries[id]
		if !exists || !query.Match(entry.plain, f) {
			return ErrNotFound
		}
		return attributevalue.UnmarshalMap(entry.item, out)
	}

	for _, id := range m.order {
		entry := m.entries[id]
		if query.Match(entry.plain, f) {
			return attributevalue.UnmarshalMap(entry.item, out)
		}
	}
	return ErrNotFound
}

func (m *MemoryCollection) Find(ctx context.Context, q query.Query, out interface{}) (err error) {
	defer observe(ctx, m.def.Name, "find")(&err)

	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := make([]map[string]interface{}, len(m.order))
	for i, id := range m.order {
		docs[i] = m.entries[id].plain
	}

	idx := query.Select(docs, q)
	items := make([]item, 0, len(idx))
	for _, i := range idx {
		items = append(items, m.entries[m.order[i]].item)
	}
	return attributevalue.UnmarshalListOfMaps(items, out)
}

func (m *MemoryCollection) Count(ctx context.Context, f query.Filter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, id := range m.order {
		if query.Match(m.entries[id].plain, f) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryCollection) Save(ctx context.Context, doc Document) (err error) {
	defer observe(ctx, m.def.Name, "save")(&err)

	expected := doc.DocumentVersion()
	doc.SetDocumentVersion(expected + 1)
	entry, err := newEntry(doc)
	if err != nil {
		doc.SetDocumentVersion(expected)
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := doc.DocumentID()
	old, exists := m.entries[id]
	if !exists {
		doc.SetDocumentVersion(expected)
		return ErrNotFound
	}
	if v, _ := old.plain["__v"].(float64); int(v) != expected {
		doc.SetDocumentVersion(expected)
		return ErrVersionConflict
	}
	if err := m.checkUnique(entry.plain, id); err != nil {
		doc.SetDocumentVersion(expected)
		return err
	}

	m.unindex(old.plain)
	m.entries[id] = entry
	m.index(entry.plain, id)
	return nil
}

func (m *MemoryCollection) Delete(ctx context.Context, id string) (err error) {
	defer observe(ctx, m.def.Name, "delete")(&err)

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.entries[id]
	if !exists {
		return ErrNotFound
	}
	m.unindex(entry.plain)
	delete(m.entries, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryCollection) DeleteAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]*memoryEntry)
	m.order = nil
	for i := range m.unique {
		m.unique[i] = make(map[string]string)
	}
	return nil
}

func (m *MemoryCollection) checkUnique(doc map[string]interface{}, id string) error {
	for i, idx := range m.def.Unique {
		key, ok := indexKey(doc, idx)
		if !ok {
			continue
		}
		if owner, taken := m.unique[i][key]; taken && owner != id {
			return &DuplicateKeyError{Collection: m.def.Name, Fields: idx, Value: key}
		}
	}
	return nil
}

func (m *MemoryCollection) index(doc map[string]interface{}, id string) {
	for i, idx := range m.def.Unique {
		if key, ok := indexKey(doc, idx); ok {
			m.unique[i][key] = id
		}
	}
}

func (m *MemoryCollection) unindex(doc map[string]interface{}) {
	for i, idx := range m.def.Unique {
		if key, ok := indexKey(doc, idx); ok {
			delete(m.unique[i], key)
		}
	}
}

func newEntry(doc Document) (*memoryEntry, error) {
	it, err := encode(doc)
	if err != nil {
		return nil, err
	}
	p, err := plain(it)
	if err != nil {
		return nil, fmt.Errorf("failed to index document: %w", err)
	}
	return &memoryEntry{item: it, plain: p}, nil
}
