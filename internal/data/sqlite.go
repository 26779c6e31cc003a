package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/devricklin/feishu-messenger/internal/biz/domain"
	"github.com/devricklin/feishu-messenger/internal/biz/repo"

	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS chats (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		chat_type_id TEXT NOT NULL,
		raw_data TEXT NOT NULL,
		raw_data_hash TEXT NOT NULL,
		insert_date INTEGER NOT NULL,
		update_date INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chats_native_id ON chats(json_extract(raw_data, '$.chat_id'))`,
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL DEFAULT '',
		full_name TEXT NOT NULL DEFAULT '',
		user_role_id TEXT NOT NULL,
		is_bot INTEGER NOT NULL DEFAULT 0,
		raw_data TEXT NOT NULL,
		raw_data_hash TEXT NOT NULL,
		insert_date INTEGER NOT NULL,
		update_date INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_native_id ON users(json_extract(raw_data, '$.open_id'))`,
	`CREATE INDEX IF NOT EXISTS idx_users_role ON users(user_role_id)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		messenger_id TEXT NOT NULL,
		chat_id INTEGER NOT NULL DEFAULT 0,
		user_id INTEGER NOT NULL DEFAULT 0,
		reply_to_message_id INTEGER,
		message_type_id TEXT NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		raw_data TEXT NOT NULL,
		raw_data_hash TEXT NOT NULL,
		is_succeed INTEGER NOT NULL DEFAULT 1,
		fails_count INTEGER NOT NULL DEFAULT 0,
		fail_description TEXT NOT NULL DEFAULT '',
		is_deleted INTEGER NOT NULL DEFAULT 0,
		insert_date INTEGER NOT NULL,
		update_date INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_native_id ON messages(json_extract(raw_data, '$.message_id'))`,
}

// SQLiteStore is the embedded database holding chats, users and messages
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at dbPath
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Writers serialize on one connection instead of failing with SQLITE_BUSY
	db.SetMaxOpenConns(1)

	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Chats returns the chat repository
func (s *SQLiteStore) Chats() repo.ChatRepo { return &sqliteChatRepo{db: s.db} }

// Users returns the user repository
func (s *SQLiteStore) Users() repo.UserRepo { return &sqliteUserRepo{db: s.db} }

// Messages returns the message repository
func (s *SQLiteStore) Messages() repo.MessageRepo { return &sqliteMessageRepo{db: s.db} }

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// withTx runs fn in a transaction, rolling back on error
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// sqliteChatRepo implements the Chat repository
type sqliteChatRepo struct {
	db *sql.DB
}

const sqliteChatColumns = `id, name, description, chat_type_id, raw_data, raw_data_hash, insert_date, update_date`

func scanSQLiteChat(row interface{ Scan(...any) error }) (*domain.Chat, error) {
	var c domain.Chat
	var chatType string
	var insertDate, updateDate int64
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &chatType, &c.RawData, &c.RawDataHash, &insertDate, &updateDate); err != nil {
		return nil, err
	}
	c.ChatTypeID = domain.ChatType(chatType)
	c.InsertDate = fromMillis(insertDate)
	c.UpdateDate = fromMillis(updateDate)
	return &c, nil
}

func (r *sqliteChatRepo) findOne(ctx context.Context, where string, args ...any) (*domain.Chat, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sqliteChatColumns+` FROM chats WHERE `+where+` LIMIT 1`, args...)
	c, err := scanSQLiteChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	return c, nil
}

// FindByID gets a chat by its internal ID
func (r *sqliteChatRepo) FindByID(ctx context.Context, id int64) (*domain.Chat, error) {
	return r.findOne(ctx, `id = ?`, id)
}

// FindByRawDataID gets a chat by its Feishu chat_id
func (r *sqliteChatRepo) FindByRawDataID(ctx context.Context, nativeChatID string) (*domain.Chat, error) {
	return r.findOne(ctx, `json_extract(raw_data, '$.chat_id') = ?`, nativeChatID)
}

// FindAll lists all chats
func (r *sqliteChatRepo) FindAll(ctx context.Context) ([]*domain.Chat, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sqliteChatColumns+` FROM chats ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	var chats []*domain.Chat
	for rows.Next() {
		c, err := scanSQLiteChat(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// SaveRange inserts new chats and updates stored ones
func (r *sqliteChatRepo) SaveRange(ctx context.Context, chats []*domain.Chat) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, c := range chats {
			if c.ID == 0 {
				res, err := tx.ExecContext(ctx, `
					INSERT INTO chats (name, description, chat_type_id, raw_data, raw_data_hash, insert_date, update_date)
					VALUES (?, ?, ?, ?, ?, ?, ?)
				`, c.Name, c.Description, string(c.ChatTypeID), c.RawData, c.RawDataHash, toMillis(c.InsertDate), toMillis(c.UpdateDate))
				if err != nil {
					return fmt.Errorf("failed to insert chat: %w", err)
				}
				if c.ID, err = res.LastInsertId(); err != nil {
					return fmt.Errorf("failed to get chat id: %w", err)
				}
				continue
			}

			_, err := tx.ExecContext(ctx, `
				UPDATE chats
				SET name = ?, description = ?, chat_type_id = ?, raw_data = ?, raw_data_hash = ?, update_date = ?
				WHERE id = ?
			`, c.Name, c.Description, string(c.ChatTypeID), c.RawData, c.RawDataHash, toMillis(c.UpdateDate), c.ID)
			if err != nil {
				return fmt.Errorf("failed to update chat %d: %w", c.ID, err)
			}
		}
		return nil
	})
}

// sqliteUserRepo implements the User repository
type sqliteUserRepo struct {
	db *sql.DB
}

const sqliteUserColumns = `id, name, full_name, user_role_id, is_bot, raw_data, raw_data_hash, insert_date, update_date`

func scanSQLiteUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var u domain.User
	var role string
	var insertDate, updateDate int64
	if err := row.Scan(&u.ID, &u.Name, &u.FullName, &role, &u.IsBot, &u.RawData, &u.RawDataHash, &insertDate, &updateDate); err != nil {
		return nil, err
	}
	u.UserRoleID = domain.Role(role)
	u.InsertDate = fromMillis(insertDate)
	u.UpdateDate = fromMillis(updateDate)
	return &u, nil
}

func (r *sqliteUserRepo) findOne(ctx context.Context, where string, args ...any) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sqliteUserColumns+` FROM users WHERE `+where+` LIMIT 1`, args...)
	u, err := scanSQLiteUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (r *sqliteUserRepo) findMany(ctx context.Context, where string, args ...any) ([]*domain.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sqliteUserColumns+` FROM users WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u, err := scanSQLiteUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// FindByID gets a user by its internal ID
func (r *sqliteUserRepo) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.findOne(ctx, `id = ?`, id)
}

// FindByRawDataID gets a user by its Feishu open_id
func (r *sqliteUserRepo) FindByRawDataID(ctx context.Context, nativeUserID string) (*domain.User, error) {
	return r.findOne(ctx, `json_extract(raw_data, '$.open_id') = ?`, nativeUserID)
}

// FindByRoleIDs lists users having any of the roles
func (r *sqliteUserRepo) FindByRoleIDs(ctx context.Context, roles []domain.Role) ([]*domain.User, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(roles)), ",")
	args := make([]any, len(roles))
	for i, role := range roles {
		args[i] = string(role)
	}
	return r.findMany(ctx, `user_role_id IN (`+placeholders+`)`, args...)
}

// FindAll lists all users
func (r *sqliteUserRepo) FindAll(ctx context.Context) ([]*domain.User, error) {
	return r.findMany(ctx, `1 = 1`)
}

// SaveRange inserts new users and updates stored ones
func (r *sqliteUserRepo) SaveRange(ctx context.Context, users []*domain.User) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, u := range users {
			if u.ID == 0 {
				res, err := tx.ExecContext(ctx, `
					INSERT INTO users (name, full_name, user_role_id, is_bot, raw_data, raw_data_hash, insert_date, update_date)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				`, u.Name, u.FullName, string(u.UserRoleID), u.IsBot, u.RawData, u.RawDataHash, toMillis(u.InsertDate), toMillis(u.UpdateDate))
				if err != nil {
					return fmt.Errorf("failed to insert user: %w", err)
				}
				if u.ID, err = res.LastInsertId(); err != nil {
					return fmt.Errorf("failed to get user id: %w", err)
				}
				continue
			}

			_, err := tx.ExecContext(ctx, `
				UPDATE users
				SET name = ?, full_name = ?, user_role_id = ?, is_bot = ?, raw_data = ?, raw_data_hash = ?, update_date = ?
				WHERE id = ?
			`, u.Name, u.FullName, string(u.UserRoleID), u.IsBot, u.RawData, u.RawDataHash, toMillis(u.UpdateDate), u.ID)
			if err != nil {
				return fmt.Errorf("failed to update user %d: %w", u.ID, err)
			}
		}
		return nil
	})
}

// sqliteMessageRepo implements the Message repository
type sqliteMessageRepo struct {
	db *sql.DB
}

const sqliteMessageColumns = `id, messenger_id, chat_id, user_id, reply_to_message_id, message_type_id, text,
	raw_data, raw_data_hash, is_succeed, fails_count, fail_description, is_deleted, insert_date, update_date`

func scanSQLiteMessage(row interface{ Scan(...any) error }) (*domain.Message, error) {
	var m domain.Message
	var msgType string
	var replyTo sql.NullInt64
	var insertDate, updateDate int64
	err := row.Scan(&m.ID, &m.MessengerID, &m.ChatID, &m.UserID, &replyTo, &msgType, &m.Text,
		&m.RawData, &m.RawDataHash, &m.IsSucceed, &m.FailsCount, &m.FailDescription, &m.IsDeleted, &insertDate, &updateDate)
	if err != nil {
		return nil, err
	}
	if replyTo.Valid {
		m.ReplyToMessageID = &replyTo.Int64
	}
	m.MessageTypeID = domain.MessageType(msgType)
	m.InsertDate = fromMillis(insertDate)
	m.UpdateDate = fromMillis(updateDate)
	return &m, nil
}

func (r *sqliteMessageRepo) findOne(ctx context.Context, where string, args ...any) (*domain.Message, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sqliteMessageColumns+` FROM messages WHERE `+where+` ORDER BY id LIMIT 1`, args...)
	m, err := scanSQLiteMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return m, nil
}

// FindByID gets a message by its internal ID
func (r *sqliteMessageRepo) FindByID(ctx context.Context, id int64) (*domain.Message, error) {
	return r.findOne(ctx, `id = ?`, id)
}

// FindByRawDataIDs gets a message by its Feishu message_id and chat_id
func (r *sqliteMessageRepo) FindByRawDataIDs(ctx context.Context, nativeMessageID, nativeChatID string) (*domain.Message, error) {
	return r.findOne(ctx,
		`json_extract(raw_data, '$.message_id') = ? AND json_extract(raw_data, '$.chat.chat_id') = ?`,
		nativeMessageID, nativeChatID)
}

// SaveRange inserts new messages and updates stored ones
func (r *sqliteMessageRepo) SaveRange(ctx context.Context, messages []*domain.Message) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, m := range messages {
			var replyTo sql.NullInt64
			if m.ReplyToMessageID != nil {
				replyTo = sql.NullInt64{Int64: *m.ReplyToMessageID, Valid: true}
			}

			if m.ID == 0 {
				res, err := tx.ExecContext(ctx, `
					INSERT INTO messages (messenger_id, chat_id, user_id, reply_to_message_id, message_type_id, text,
						raw_data, raw_data_hash, is_succeed, fails_count, fail_description, is_deleted, insert_date, update_date)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				`, m.MessengerID, m.ChatID, m.UserID, replyTo, string(m.MessageTypeID), m.Text,
					m.RawData, m.RawDataHash, m.IsSucceed, m.FailsCount, m.FailDescription, m.IsDeleted,
					toMillis(m.InsertDate), toMillis(m.UpdateDate))
				if err != nil {
					return fmt.Errorf("failed to insert message: %w", err)
				}
				if m.ID, err = res.LastInsertId(); err != nil {
					return fmt.Errorf("failed to get message id: %w", err)
				}
				continue
			}

			_, err := tx.ExecContext(ctx, `
				UPDATE messages
				SET messenger_id = ?, chat_id = ?, user_id = ?, reply_to_message_id = ?, message_type_id = ?, text = ?,
					raw_data = ?, raw_data_hash = ?, is_succeed = ?, fails_count = ?, fail_description = ?, is_deleted = ?,
					update_date = ?
				WHERE id = ?
			`, m.MessengerID, m.ChatID, m.UserID, replyTo, string(m.MessageTypeID), m.Text,
				m.RawData, m.RawDataHash, m.IsSucceed, m.FailsCount, m.FailDescription, m.IsDeleted,
				toMillis(m.UpdateDate), m.ID)
			if err != nil {
				return fmt.Errorf("failed to update message %d: %w", m.ID, err)
			}
		}
		return nil
	})
}
