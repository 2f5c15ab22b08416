package storage

import (
	"sync"
	"time"
)

type MemoryStorage struct {
	states   map[int64]*UserState
	commands map[int64][]CommandRecord
	mutex    sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		states:   make(map[int64]*UserState),
		commands: make(map[int64][]CommandRecord),
	}
}

func (m *MemoryStorage) GetUserState(userId int64) (*UserState, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if state, ok := m.states[userId]; ok {
		// copy to prevent external mutation
		cc := *state
		return cc.normalize(), nil
	}
	return nil, nil
}

func (m *MemoryStorage) CreateUserState(state *UserState) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.states[state.UserId]; ok {
		return false, nil
	}
	cc := *state
	m.states[state.UserId] = &cc
	return true, nil
}

func (m *MemoryStorage) SaveUserState(state *UserState) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := time.Now()
	state.UpdatedAt = now
	if existing, ok := m.states[state.UserId]; ok {
		state.CreatedAt = existing.CreatedAt
	} else if state.CreatedAt.IsZero() {
		state.CreatedAt = now
	}
	cc := *state
	m.states[state.UserId] = &cc
	return nil
}

func (m *MemoryStorage) AppendCommand(record CommandRecord) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.commands[record.UserId] = append(m.commands[record.UserId], record)
	return nil
}

func (m *MemoryStorage) GetCommandLog(userId int64) ([]CommandRecord, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	log := m.commands[userId]
	out := make([]CommandRecord, len(log))
	copy(out, log)
	return out, nil
}

func (m *MemoryStorage) Close() error {
	return nil
}
