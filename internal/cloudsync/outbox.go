package cloudsync

import (
	"encoding/json"
	"sync"
	"time"
)

type Kind string

const (
	KindAlert    Kind = "alert"
	KindEvidence Kind = "evidence"
	KindMetric   Kind = "metric"
)

// Item é uma entrada da fila. Key identifica o conteúdo (ex.:
// "evidence:<detection_id>") e torna o Enqueue idempotente.
type Item struct {
	ID         int64           `json:"id"`
	Key        string          `json:"key"`
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Attempts   int             `json:"attempt_count"`
	LastError  string          `json:"last_error,omitempty"`
}

// Outbox guarda os itens ainda não entregues. Item só sai por Remove.
type Outbox interface {
	// Enqueue devolve o item existente (added=false) se Key já está na fila.
	Enqueue(kind Kind, key string, payload json.RawMessage, at time.Time) (item Item, added bool, err error)
	// Peek lista até limit itens em ordem de chegada.
	Peek(limit int) ([]Item, error)
	Get(id int64) (Item, bool, error)
	Remove(id int64) error
	// MarkFailed devolve o item à fila com attempt_count+1.
	MarkFailed(id int64, reason string) error
	Len() (int, error)
	Close() error
}

// MemoryOutbox é a fila sem persistência (SYNC_QUEUE_PATH vazio e testes).
type MemoryOutbox struct {
	mu     sync.Mutex
	nextID int64
	items  []Item
	byKey  map[string]int64
}

func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{byKey: make(map[string]int64)}
}

func (m *MemoryOutbox) Enqueue(kind Kind, key string, payload json.RawMessage, at time.Time) (Item, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if key != "" {
		if id, ok := m.byKey[key]; ok {
			if i := m.index(id); i >= 0 {
				return m.items[i], false, nil
			}
		}
	}
	m.nextID++
	it := Item{
		ID:         m.nextID,
		Key:        key,
		Kind:       kind,
		Payload:    append(json.RawMessage(nil), payload...),
		EnqueuedAt: at.UTC(),
	}
	m.items = append(m.items, it)
	if key != "" {
		m.byKey[key] = it.ID
	}
	return it, true, nil
}

func (m *MemoryOutbox) Peek(limit int) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.items)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Item, n)
	copy(out, m.items[:n])
	return out, nil
}

func (m *MemoryOutbox) Get(id int64) (Item, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.index(id); i >= 0 {
		return m.items[i], true, nil
	}
	return Item{}, false, nil
}

func (m *MemoryOutbox) Remove(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(id)
	if i < 0 {
		return nil
	}
	if k := m.items[i].Key; k != "" {
		delete(m.byKey, k)
	}
	m.items = append(m.items[:i], m.items[i+1:]...)
	return nil
}

func (m *MemoryOutbox) MarkFailed(id int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.index(id); i >= 0 {
		m.items[i].Attempts++
		m.items[i].LastError = reason
	}
	return nil
}

func (m *MemoryOutbox) Len() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items), nil
}

func (m *MemoryOutbox) Close() error { return nil }

func (m *MemoryOutbox) index(id int64) int {
	for i := range m.items {
		if m.items[i].ID == id {
			return i
		}
	}
	return -1
}
