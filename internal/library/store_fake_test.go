package library

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/mikey-austin/summarist/internal/ports"
)

var errStoreDown = errors.New("store down")

type memStore struct {
	mu       sync.Mutex
	docs     map[string]map[ports.Collection]map[string]json.RawMessage
	profiles map[string]map[string]any
	calls    []string
	// fail, when set, decides per operation whether to fail.
	fail func(op string, id string) bool
	// gate, when set, blocks writes until a value is received.
	gate chan struct{}
}

func newMemStore() *memStore {
	return &memStore{
		docs:     make(map[string]map[ports.Collection]map[string]json.RawMessage),
		profiles: make(map[string]map[string]any),
	}
}

func (m *memStore) record(op string, id string) error {
	m.mu.Lock()
	m.calls = append(m.calls, op+":"+id)
	fail := m.fail
	m.mu.Unlock()
	if fail != nil && fail(op, id) {
		return errStoreDown
	}
	return nil
}

func (m *memStore) wait(ctx context.Context) error {
	if m.gate == nil {
		return nil
	}
	select {
	case <-m.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *memStore) coll(userID string, coll ports.Collection) map[string]json.RawMessage {
	user, ok := m.docs[userID]
	if !ok {
		user = make(map[ports.Collection]map[string]json.RawMessage)
		m.docs[userID] = user
	}
	c, ok := user[coll]
	if !ok {
		c = make(map[string]json.RawMessage)
		user[coll] = c
	}
	return c
}

func (m *memStore) Upsert(ctx context.Context, userID string, coll ports.Collection, id string, data json.RawMessage) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	if err := m.record("upsert/"+string(coll), id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coll(userID, coll)[id] = append(json.RawMessage(nil), data...)
	return nil
}

func (m *memStore) Delete(ctx context.Context, userID string, coll ports.Collection, id string) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	if err := m.record("delete/"+string(coll), id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.coll(userID, coll), id)
	return nil
}

func (m *memStore) List(ctx context.Context, userID string, coll ports.Collection) ([]ports.Document, error) {
	if err := m.record("list/"+string(coll), userID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.coll(userID, coll)
	out := make([]ports.Document, 0, len(c))
	for id, data := range c {
		out = append(out, ports.Document{ID: id, Data: data})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) Profile(ctx context.Context, userID string) (json.RawMessage, bool, error) {
	if err := m.record("profile", userID); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, false, nil
	}
	data, err := json.Marshal(p)
	return data, true, err
}

func (m *memStore) MergeProfile(ctx context.Context, userID string, fields map[string]any) error {
	if err := m.record("merge", userID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		p = make(map[string]any)
		m.profiles[userID] = p
	}
	for k, v := range fields {
		p[k] = v
	}
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) has(userID string, coll ports.Collection, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.coll(userID, coll)[id]
	return ok
}

func (m *memStore) callCount(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}
