package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"Painter/core"

	_ "modernc.org/sqlite"
)

// SQLiteStorage keeps one row per user plus an append-only command table.
type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStorage{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStorage) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS user_states (
		user_id INTEGER PRIMARY KEY,
		awaiting TEXT NOT NULL DEFAULT '',
		aspect_ratio TEXT NOT NULL,
		negative_prompt TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS command_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		text TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_command_log_user ON command_log(user_id, id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) GetUserState(userId int64) (*UserState, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT awaiting, aspect_ratio, negative_prompt, created_at, updated_at
		FROM user_states WHERE user_id = ?`, userId)

	state := UserState{UserId: userId}
	var awaiting string
	var createdAt, updatedAt int64
	err := row.Scan(&awaiting, &state.Preferences.AspectRatio, &state.Preferences.NegativePrompt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("scan state", userId, err)
	}
	state.Awaiting = core.Command(awaiting)
	state.CreatedAt = time.UnixMilli(createdAt)
	state.UpdatedAt = time.UnixMilli(updatedAt)
	return state.normalize(), nil
}

func (s *SQLiteStorage) CreateUserState(state *UserState) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
	INSERT INTO user_states (user_id, awaiting, aspect_ratio, negative_prompt, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO NOTHING`,
		state.UserId, string(state.Awaiting),
		state.Preferences.AspectRatio, state.Preferences.NegativePrompt,
		state.CreatedAt.UnixMilli(), state.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return false, wrap("insert state", state.UserId, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, wrap("rows affected", state.UserId, err)
	}
	return rows > 0, nil
}

func (s *SQLiteStorage) SaveUserState(state *UserState) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	state.UpdatedAt = time.Now()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = state.UpdatedAt
	}

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO user_states (user_id, awaiting, aspect_ratio, negative_prompt, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		awaiting = excluded.awaiting,
		aspect_ratio = excluded.aspect_ratio,
		negative_prompt = excluded.negative_prompt,
		updated_at = excluded.updated_at`,
		state.UserId, string(state.Awaiting),
		state.Preferences.AspectRatio, state.Preferences.NegativePrompt,
		state.CreatedAt.UnixMilli(), state.UpdatedAt.UnixMilli(),
	)
	return wrap("upsert state", state.UserId, err)
}

func (s *SQLiteStorage) AppendCommand(record CommandRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO command_log (user_id, text, timestamp) VALUES (?, ?, ?)`,
		record.UserId, record.Text, record.Timestamp.UnixMilli())
	return wrap("insert command", record.UserId, err)
}

func (s *SQLiteStorage) GetCommandLog(userId int64) ([]CommandRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT text, timestamp FROM command_log WHERE user_id = ? ORDER BY id`, userId)
	if err != nil {
		return nil, wrap("query command log", userId, err)
	}
	defer rows.Close()

	var records []CommandRecord
	for rows.Next() {
		rec := CommandRecord{UserId: userId}
		var ts int64
		if err := rows.Scan(&rec.Text, &ts); err != nil {
			return nil, wrap("scan command", userId, err)
		}
		rec.Timestamp = time.UnixMilli(ts)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate command log", userId, err)
	}
	return records, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
