package docstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory 是进程内文档存储，用于测试与本地演示。
type Memory struct {
	mu    sync.RWMutex
	colls map[string]map[string]Doc
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{colls: make(map[string]map[string]Doc), now: time.Now}
}

func (m *Memory) Get(_ context.Context, coll, id string) (Doc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.colls[coll][id]
	if !ok {
		return Doc{}, ErrNotFound
	}
	return d, nil
}

func (m *Memory) Query(_ context.Context, coll string, q Query) ([]Doc, error) {
	m.mu.RLock()
	docs := make([]Doc, 0, len(m.colls[coll]))
	for _, d := range m.colls[coll] {
		docs = append(docs, d)
	}
	m.mu.RUnlock()
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return Apply(docs, q), nil
}

func (m *Memory) Create(_ context.Context, coll, id string, v any) error {
	data, err := Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collLocked(coll)
	if _, ok := c[id]; ok {
		return ErrConflict
	}
	now := m.now()
	c[id] = Doc{ID: id, Data: data, CreatedAt: now, UpdatedAt: now}
	return nil
}

func (m *Memory) Set(_ context.Context, coll, id string, v any) error {
	data, err := Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collLocked(coll)
	now := m.now()
	created := now
	if old, ok := c[id]; ok {
		created = old.CreatedAt
	}
	c[id] = Doc{ID: id, Data: data, CreatedAt: created, UpdatedAt: now}
	return nil
}

func (m *Memory) Update(_ context.Context, coll, id string, patch map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collLocked(coll)
	old, ok := c[id]
	if !ok {
		return ErrNotFound
	}
	data, err := MergePatch(old.Data, patch)
	if err != nil {
		return err
	}
	old.Data = data
	old.UpdatedAt = m.now()
	c[id] = old
	return nil
}

func (m *Memory) Delete(_ context.Context, coll, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.colls[coll], id)
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) collLocked(coll string) map[string]Doc {
	c, ok := m.colls[coll]
	if !ok {
		c = make(map[string]Doc)
		m.colls[coll] = c
	}
	return c
}
