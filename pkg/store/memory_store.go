package store

import (
	"sort"
	"sync"
	"time"

	"saleschat/pkg/domain"
)

// MemoryStore keeps records in-process. It backs tests and the dev
// mode where no database is configured. It implements both Store and
// HistoryStore.
type MemoryStore struct {
	mu       sync.RWMutex
	files    map[string]domain.FileRecord
	chats    map[string][]domain.Message
	visitors map[string]domain.Visitor
	orders   []string
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files:    make(map[string]domain.FileRecord),
		chats:    make(map[string][]domain.Message),
		visitors: make(map[string]domain.Visitor),
	}
}

// SaveFile stores a file record and tracks insertion order.
func (m *MemoryStore) SaveFile(rec domain.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.files[rec.ID]; !exists {
		m.orders = append(m.orders, rec.ID)
	}
	m.files[rec.ID] = rec
	return nil
}

// DeactivateAllThenSave flips every active record off, then stores rec
// marked active. The store mutex makes the two steps one unit.
func (m *MemoryStore) DeactivateAllThenSave(rec domain.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, f := range m.files {
		if f.IsActive {
			f.IsActive = false
			m.files[id] = f
		}
	}
	rec.IsActive = true
	if _, exists := m.files[rec.ID]; !exists {
		m.orders = append(m.orders, rec.ID)
	}
	m.files[rec.ID] = rec
	return nil
}

// FindFile returns the first record matching all supplied filters.
func (m *MemoryStore) FindFile(q FileQuery) (domain.FileRecord, bool, error) {
	if q.Empty() {
		return domain.FileRecord{}, false, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.orders {
		f, ok := m.files[id]
		if !ok {
			continue
		}
		if q.ID != "" && f.ID != q.ID {
			continue
		}
		if q.FileName != "" && f.FileName != q.FileName {
			continue
		}
		if q.FileURL != "" && f.FileURL != q.FileURL {
			continue
		}
		return f, true, nil
	}
	return domain.FileRecord{}, false, nil
}

// GetFile retrieves a file record by ID.
func (m *MemoryStore) GetFile(id string) (domain.FileRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[id]
	return f, ok, nil
}

// ListFiles returns scoped records, newest first.
func (m *MemoryStore) ListFiles(l Listing) ([]domain.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.FileRecord, 0, len(m.orders))
	for _, id := range m.orders {
		f, ok := m.files[id]
		if !ok {
			continue
		}
		if l.ActiveOnly && !f.IsActive {
			continue
		}
		if l.MatchOwnerExactly {
			if f.OwnerToken != l.OwnerToken {
				continue
			}
		} else if l.OwnerToken != "" && f.OwnerToken != l.OwnerToken {
			continue
		}
		res = append(res, f)
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].UploadedAt.After(res[j].UploadedAt)
	})
	return res, nil
}

// DeleteFile removes a record and its chat history.
func (m *MemoryStore) DeleteFile(id string) (domain.FileRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return domain.FileRecord{}, false, nil
	}
	delete(m.files, id)
	delete(m.chats, id)
	filtered := m.orders[:0]
	for _, item := range m.orders {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.orders = filtered
	return f, true, nil
}

// History returns a copy of the chat history for a file.
func (m *MemoryStore) History(fileID string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.chats[fileID]
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// AppendMessage records a message linked to a file.
func (m *MemoryStore) AppendMessage(fileID string, msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats[fileID] = append(m.chats[fileID], msg)
	return nil
}

// ClearHistory removes all messages for one file only.
func (m *MemoryStore) ClearHistory(fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chats, fileID)
	return nil
}

// SaveVisitor inserts or replaces a visitor row.
func (m *MemoryStore) SaveVisitor(v domain.Visitor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visitors[v.OwnerToken] = v
	return nil
}

// GetVisitor looks up a visitor by owner token.
func (m *MemoryStore) GetVisitor(ownerToken string) (domain.Visitor, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.visitors[ownerToken]
	return v, ok, nil
}

// CountVisitors returns the number of unique visitors.
func (m *MemoryStore) CountVisitors() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.visitors)), nil
}

// CountVisitorsActiveSince counts visitors active at or after t.
func (m *MemoryStore) CountVisitorsActiveSince(t time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var count int64
	for _, v := range m.visitors {
		if !v.LastVisit.Before(t) {
			count++
		}
	}
	return count, nil
}
