package game

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-process [Store].
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	byID    map[int64]*Profile
	byLogin map[string]int64
}

// NewMemoryStore returns an empty MemoryStore. User ids start at 1.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[int64]*Profile),
		byLogin: make(map[string]int64),
	}
}

func (m *MemoryStore) FindOrCreate(_ context.Context, username string) (*Profile, error) {
	key := strings.ToLower(strings.TrimSpace(username))

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byLogin[key]; ok {
		return clone(m.byID[id]), nil
	}
	m.nextID++
	p := newProfile(m.nextID, strings.TrimSpace(username))
	m.byID[p.UserID] = p
	m.byLogin[key] = p.UserID
	return clone(p), nil
}

func (m *MemoryStore) Profile(_ context.Context, userID int64) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.byID[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(p), nil
}

func (m *MemoryStore) AdjustGold(_ context.Context, userID, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.byID[userID]
	if !ok {
		return 0, ErrNotFound
	}
	next, err := applyGold(p.Gold, delta)
	if err != nil {
		return p.Gold, err
	}
	p.Gold = next
	return next, nil
}

func (m *MemoryStore) AdjustVitals(_ context.Context, userID int64, hpDelta, mpDelta int) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.byID[userID]
	if !ok {
		return Stats{}, ErrNotFound
	}
	next, err := applyVitals(p.Stats, hpDelta, mpDelta)
	if err != nil {
		return p.Stats, err
	}
	p.Stats = next
	return next, nil
}

func (m *MemoryStore) EquipSkin(_ context.Context, userID int64, skin string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.byID[userID]
	if !ok {
		return ErrNotFound
	}
	if !owns(p.Skins, skin) {
		return ErrSkinNotOwned
	}
	p.EquippedSkin = skin
	return nil
}

func (m *MemoryStore) GrantSkin(_ context.Context, userID int64, skin string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.byID[userID]
	if !ok {
		return ErrNotFound
	}
	if !owns(p.Skins, skin) {
		p.Skins = append(p.Skins, skin)
	}
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func clone(p *Profile) *Profile {
	out := *p
	out.Skins = append([]string(nil), p.Skins...)
	return &out
}
