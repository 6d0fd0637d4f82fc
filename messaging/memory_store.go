package messaging

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string]*Message
	order    []*Message
}

// NewMemoryStore creates an empty in-memory history.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{messages: make(map[string]*Message)}
}

func storeKey(from, id string) string {
	return from + "\x00" + id
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storeKey(msg.From, msg.ID)
	if _, ok := s.messages[key]; ok {
		return ErrDuplicateMessage
	}
	stored := msg
	s.messages[key] = &stored
	s.order = append(s.order, &stored)
	return nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.messages[storeKey(msg.From, msg.ID)]
	if !ok {
		return ErrMessageNotFound
	}
	stored.State = msg.State
	stored.Method = msg.Method
	stored.Delivered = msg.Delivered
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, from, id string) (Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.messages[storeKey(from, id)]
	if !ok {
		return Message{}, ErrMessageNotFound
	}
	return *stored, nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context, peer string, limit, offset int) ([]Message, error) {
	s.mu.RLock()
	var conv []Message
	for _, m := range s.order {
		if m.From == peer || m.To == peer {
			conv = append(conv, *m)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(conv, func(i, j int) bool { return conv[i].Timestamp.Before(conv[j].Timestamp) })
	return page(conv, limit, offset), nil
}

// page selects limit messages ending offset messages before the newest.
func page(conv []Message, limit, offset int) []Message {
	if offset < 0 {
		offset = 0
	}
	end := len(conv) - offset
	if end <= 0 {
		return []Message{}
	}
	start := end - pageSize(limit)
	if start < 0 {
		start = 0
	}
	return conv[start:end]
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
