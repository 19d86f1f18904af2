package store

import (
	"bytes"
	"sort"
	"sync"
)

// Memory is a process-local Store. Writers are serialized and a transaction's
// writes are applied only when its callback succeeds.
type Memory struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) View(fn func(tx Tx) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return fn(&memoryTx{m: m, readOnly: true})
}

func (m *Memory) Update(fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	tx := &memoryTx{m: m, writes: make(map[string][]byte)}
	if err := fn(tx); err != nil {
		return err
	}
	for k, v := range tx.writes {
		if v == nil {
			delete(m.data, k)
			continue
		}
		m.data[k] = v
	}
	return nil
}

func (m *Memory) Sync() error { return nil }

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type memoryTx struct {
	m        *Memory
	readOnly bool
	// pending writes, nil value marks a delete
	writes map[string][]byte
}

func (t *memoryTx) Get(key []byte) ([]byte, error) {
	if v, ok := t.writes[string(key)]; ok {
		if v == nil {
			return nil, ErrNotFound
		}
		return bytes.Clone(v), nil
	}
	v, ok := t.m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (t *memoryTx) Set(key, value []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if value == nil {
		value = []byte{}
	}
	t.writes[string(key)] = bytes.Clone(value)
	return nil
}

func (t *memoryTx) Delete(key []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	t.writes[string(key)] = nil
	return nil
}

func (t *memoryTx) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	merged := make(map[string][]byte)
	for k, v := range t.m.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			merged[k] = v
		}
	}
	for k, v := range t.writes {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn([]byte(k), bytes.Clone(merged[k])); err != nil {
			return err
		}
	}
	return nil
}
