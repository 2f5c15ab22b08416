package holder

import (
	"log/slog"
	"sync"
	"time"

	"Painter/core"
	"Painter/lib/sl"
	"Painter/storage"
)

const defaultLogQueue = 256

// StateManager serializes read-modify-write cycles on a user's state and
// keeps the append-only command log off the reply path.
type StateManager struct {
	storage storage.StateStorage
	log     *slog.Logger
	locksMu sync.Mutex
	locks   map[int64]*userLock
	records chan storage.CommandRecord
	done    chan struct{}
	closing sync.Once
	mu      sync.RWMutex
	closed  bool
}

func NewStateManager(store storage.StateStorage, log *slog.Logger) *StateManager {
	sm := &StateManager{
		storage: store,
		log:     log.With(sl.Module("state")),
		locks:   make(map[int64]*userLock),
		records: make(chan storage.CommandRecord, defaultLogQueue),
		done:    make(chan struct{}),
	}
	go sm.drainCommands()
	return sm
}

// userLock is dropped from the map when the last holder or waiter leaves.
type userLock struct {
	mu   sync.Mutex
	refs int
}

func (sm *StateManager) lock(userId int64) func() {
	sm.locksMu.Lock()
	l, ok := sm.locks[userId]
	if !ok {
		l = &userLock{}
		sm.locks[userId] = l
	}
	l.refs++
	sm.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		sm.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(sm.locks, userId)
		}
		sm.locksMu.Unlock()
	}
}

// EnsureInitialized creates the default state on first contact. It reports
// whether this call created it.
func (sm *StateManager) EnsureInitialized(userId int64) (bool, error) {
	unlock := sm.lock(userId)
	defer unlock()

	existing, err := sm.storage.GetUserState(userId)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}
	created, err := sm.storage.CreateUserState(storage.NewUserState(userId))
	if err != nil {
		return false, err
	}
	if created {
		sm.log.With(sl.User(userId)).Info("user started the bot")
	}
	return created, nil
}

// Update runs fn on the current state and saves the result as a whole.
// Nothing is written when fn returns an error.
func (sm *StateManager) Update(userId int64, fn func(state *storage.UserState) error) error {
	unlock := sm.lock(userId)
	defer unlock()

	state, err := sm.storage.GetUserState(userId)
	if err != nil {
		return err
	}
	if state == nil {
		state = storage.NewUserState(userId)
	}
	if err := fn(state); err != nil {
		return err
	}
	return sm.storage.SaveUserState(state)
}

func (sm *StateManager) State(userId int64) (*storage.UserState, error) {
	unlock := sm.lock(userId)
	defer unlock()

	state, err := sm.storage.GetUserState(userId)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = storage.NewUserState(userId)
	}
	return state, nil
}

// Load returns the stored preferences, or defaults for unknown users.
func (sm *StateManager) Load(userId int64) (core.Preferences, error) {
	state, err := sm.State(userId)
	if err != nil {
		return core.Preferences{}, err
	}
	return state.Preferences, nil
}

func (sm *StateManager) Save(userId int64, prefs core.Preferences) error {
	return sm.Update(userId, func(state *storage.UserState) error {
		state.Preferences = prefs
		return nil
	})
}

func (sm *StateManager) LastCommand(userId int64) (core.Command, error) {
	state, err := sm.State(userId)
	if err != nil {
		return core.None, err
	}
	return state.Awaiting, nil
}

func (sm *StateManager) SetLastCommand(userId int64, cmd core.Command) error {
	return sm.Update(userId, func(state *storage.UserState) error {
		state.Awaiting = cmd
		return nil
	})
}

// LogCommand queues text for the command log. It never blocks; when the
// queue is full the record is dropped.
func (sm *StateManager) LogCommand(userId int64, text string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if sm.closed {
		return
	}
	record := storage.CommandRecord{UserId: userId, Text: text, Timestamp: time.Now()}
	select {
	case sm.records <- record:
	default:
		sm.log.With(sl.User(userId)).Warn("command log queue full, record dropped")
	}
}

func (sm *StateManager) CommandLog(userId int64) ([]storage.CommandRecord, error) {
	return sm.storage.GetCommandLog(userId)
}

func (sm *StateManager) drainCommands() {
	defer close(sm.done)
	for record := range sm.records {
		if err := sm.storage.AppendCommand(record); err != nil {
			sm.log.With(sl.User(record.UserId)).Warn("appending command log", sl.Err(err))
		}
	}
}

// Flush waits until every queued record has been written. Used on shutdown.
func (sm *StateManager) Flush() {
	sm.closing.Do(func() {
		sm.mu.Lock()
		sm.closed = true
		close(sm.records)
		sm.mu.Unlock()
	})
	<-sm.done
}

// Close flushes the command log and closes the storage.
func (sm *StateManager) Close() error {
	sm.Flush()
	return sm.storage.Close()
}
