package storage

import (
	"errors"
	"fmt"
	"time"

	"Painter/core"
)

type UserState struct {
	UserId      int64            `bson:"user_id"`
	Awaiting    core.Command     `bson:"awaiting"`
	Preferences core.Preferences `bson:"preferences"`
	CreatedAt   time.Time        `bson:"created_at"`
	UpdatedAt   time.Time        `bson:"updated_at"`
}

// NewUserState returns the state a user gets on first contact.
func NewUserState(userId int64) *UserState {
	now := time.Now()
	return &UserState{
		UserId:      userId,
		Preferences: core.DefaultPreferences(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// normalize drops an armed command that is not a recognized kind, so a
// stale or hand-edited record reads as nothing armed.
func (s *UserState) normalize() *UserState {
	s.Awaiting = core.CommandFromString(string(s.Awaiting))
	return s
}

type CommandRecord struct {
	UserId    int64     `bson:"user_id"`
	Text      string    `bson:"text"`
	Timestamp time.Time `bson:"timestamp"`
}

type StateStorage interface {
	// GetUserState returns nil without error when the user is unknown.
	GetUserState(userId int64) (*UserState, error)
	// CreateUserState inserts the state only if none exists and reports whether it did.
	CreateUserState(state *UserState) (bool, error)
	// SaveUserState replaces the whole state, creating it if needed.
	SaveUserState(state *UserState) error
	AppendCommand(record CommandRecord) error
	GetCommandLog(userId int64) ([]CommandRecord, error)
	Close() error
}

// Error is returned by every backend when persisted state cannot be read or written.
type Error struct {
	Op     string
	UserId int64
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage: %s user %d: %v", e.Op, e.UserId, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(op string, userId int64, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, UserId: userId, Err: err}
}

func IsStorageError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}
