package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/devricklin/feishu-messenger/internal/biz/domain"
	"github.com/devricklin/feishu-messenger/internal/biz/repo"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS chats (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		chat_type_id TEXT NOT NULL,
		raw_data TEXT NOT NULL,
		raw_data_hash TEXT NOT NULL,
		insert_date TIMESTAMPTZ NOT NULL,
		update_date TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chats_native_id ON chats ((raw_data::jsonb ->> 'chat_id'))`,
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		full_name TEXT NOT NULL DEFAULT '',
		user_role_id TEXT NOT NULL,
		is_bot BOOLEAN NOT NULL DEFAULT FALSE,
		raw_data TEXT NOT NULL,
		raw_data_hash TEXT NOT NULL,
		insert_date TIMESTAMPTZ NOT NULL,
		update_date TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_native_id ON users ((raw_data::jsonb ->> 'open_id'))`,
	`CREATE INDEX IF NOT EXISTS idx_users_role ON users (user_role_id)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id BIGSERIAL PRIMARY KEY,
		messenger_id TEXT NOT NULL,
		chat_id BIGINT NOT NULL DEFAULT 0,
		user_id BIGINT NOT NULL DEFAULT 0,
		reply_to_message_id BIGINT,
		message_type_id TEXT NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		raw_data TEXT NOT NULL,
		raw_data_hash TEXT NOT NULL,
		is_succeed BOOLEAN NOT NULL DEFAULT TRUE,
		fails_count INTEGER NOT NULL DEFAULT 0,
		fail_description TEXT NOT NULL DEFAULT '',
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		insert_date TIMESTAMPTZ NOT NULL,
		update_date TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_native_id ON messages ((raw_data::jsonb ->> 'message_id'))`,
}

// PostgresStore is the server database holding chats, users and messages
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and creates the schema
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &PostgresStore{pool: pool}, nil
}

// Chats returns the chat repository
func (s *PostgresStore) Chats() repo.ChatRepo { return &pgChatRepo{pool: s.pool} }

// Users returns the user repository
func (s *PostgresStore) Users() repo.UserRepo { return &pgUserRepo{pool: s.pool} }

// Messages returns the message repository
func (s *PostgresStore) Messages() repo.MessageRepo { return &pgMessageRepo{pool: s.pool} }

// Close closes the pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// pgTime maps the zero time to now so NOT NULL columns stay meaningful
func pgTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

func withPgTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// pgChatRepo implements the Chat repository
type pgChatRepo struct {
	pool *pgxpool.Pool
}

const pgChatColumns = `id, name, description, chat_type_id, raw_data, raw_data_hash, insert_date, update_date`

func scanPgChat(row pgx.Row) (*domain.Chat, error) {
	var c domain.Chat
	var chatType string
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &chatType, &c.RawData, &c.RawDataHash, &c.InsertDate, &c.UpdateDate); err != nil {
		return nil, err
	}
	c.ChatTypeID = domain.ChatType(chatType)
	return &c, nil
}

func (r *pgChatRepo) findOne(ctx context.Context, where string, args ...any) (*domain.Chat, error) {
	c, err := scanPgChat(r.pool.QueryRow(ctx, `SELECT `+pgChatColumns+` FROM chats WHERE `+where+` LIMIT 1`, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	return c, nil
}

// FindByID gets a chat by its internal ID
func (r *pgChatRepo) FindByID(ctx context.Context, id int64) (*domain.Chat, error) {
	return r.findOne(ctx, `id = $1`, id)
}

// FindByRawDataID gets a chat by its Feishu chat_id
func (r *pgChatRepo) FindByRawDataID(ctx context.Context, nativeChatID string) (*domain.Chat, error) {
	return r.findOne(ctx, `raw_data::jsonb ->> 'chat_id' = $1`, nativeChatID)
}

// FindAll lists all chats
func (r *pgChatRepo) FindAll(ctx context.Context) ([]*domain.Chat, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+pgChatColumns+` FROM chats ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	var chats []*domain.Chat
	for rows.Next() {
		c, err := scanPgChat(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// SaveRange inserts new chats and updates stored ones
func (r *pgChatRepo) SaveRange(ctx context.Context, chats []*domain.Chat) error {
	return withPgTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, c := range chats {
			if c.ID == 0 {
				err := tx.QueryRow(ctx, `
					INSERT INTO chats (name, description, chat_type_id, raw_data, raw_data_hash, insert_date, update_date)
					VALUES ($1, $2, $3, $4, $5, $6, $7)
					RETURNING id
				`, c.Name, c.Description, string(c.ChatTypeID), c.RawData, c.RawDataHash, pgTime(c.InsertDate), pgTime(c.UpdateDate)).Scan(&c.ID)
				if err != nil {
					return fmt.Errorf("failed to insert chat: %w", err)
				}
				continue
			}

			_, err := tx.Exec(ctx, `
				UPDATE chats
				SET name = $1, description = $2, chat_type_id = $3, raw_data = $4, raw_data_hash = $5, update_date = $6
				WHERE id = $7
			`, c.Name, c.Description, string(c.ChatTypeID), c.RawData, c.RawDataHash, pgTime(c.UpdateDate), c.ID)
			if err != nil {
				return fmt.Errorf("failed to update chat %d: %w", c.ID, err)
			}
		}
		return nil
	})
}

// pgUserRepo implements the User repository
type pgUserRepo struct {
	pool *pgxpool.Pool
}

const pgUserColumns = `id, name, full_name, user_role_id, is_bot, raw_data, raw_data_hash, insert_date, update_date`

func scanPgUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	var role string
	if err := row.Scan(&u.ID, &u.Name, &u.FullName, &role, &u.IsBot, &u.RawData, &u.RawDataHash, &u.InsertDate, &u.UpdateDate); err != nil {
		return nil, err
	}
	u.UserRoleID = domain.Role(role)
	return &u, nil
}

func (r *pgUserRepo) findOne(ctx context.Context, where string, args ...any) (*domain.User, error) {
	u, err := scanPgUser(r.pool.QueryRow(ctx, `SELECT `+pgUserColumns+` FROM users WHERE `+where+` LIMIT 1`, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (r *pgUserRepo) findMany(ctx context.Context, where string, args ...any) ([]*domain.User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+pgUserColumns+` FROM users WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u, err := scanPgUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// FindByID gets a user by its internal ID
func (r *pgUserRepo) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.findOne(ctx, `id = $1`, id)
}

// FindByRawDataID gets a user by its Feishu open_id
func (r *pgUserRepo) FindByRawDataID(ctx context.Context, nativeUserID string) (*domain.User, error) {
	return r.findOne(ctx, `raw_data::jsonb ->> 'open_id' = $1`, nativeUserID)
}

// FindByRoleIDs lists users having any of the roles
func (r *pgUserRepo) FindByRoleIDs(ctx context.Context, roles []domain.Role) ([]*domain.User, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	ids := make([]string, len(roles))
	for i, role := range roles {
		ids[i] = string(role)
	}
	return r.findMany(ctx, `user_role_id = ANY($1)`, ids)
}

// FindAll lists all users
func (r *pgUserRepo) FindAll(ctx context.Context) ([]*domain.User, error) {
	return r.findMany(ctx, `TRUE`)
}

// SaveRange inserts new users and updates stored ones
func (r *pgUserRepo) SaveRange(ctx context.Context, users []*domain.User) error {
	return withPgTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, u := range users {
			if u.ID == 0 {
				err := tx.QueryRow(ctx, `
					INSERT INTO users (name, full_name, user_role_id, is_bot, raw_data, raw_data_hash, insert_date, update_date)
					VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
					RETURNING id
				`, u.Name, u.FullName, string(u.UserRoleID), u.IsBot, u.RawData, u.RawDataHash, pgTime(u.InsertDate), pgTime(u.UpdateDate)).Scan(&u.ID)
				if err != nil {
					return fmt.Errorf("failed to insert user: %w", err)
				}
				continue
			}

			_, err := tx.Exec(ctx, `
				UPDATE users
				SET name = $1, full_name = $2, user_role_id = $3, is_bot = $4, raw_data = $5, raw_data_hash = $6, update_date = $7
				WHERE id = $8
			`, u.Name, u.FullName, string(u.UserRoleID), u.IsBot, u.RawData, u.RawDataHash, pgTime(u.UpdateDate), u.ID)
			if err != nil {
				return fmt.Errorf("failed to update user %d: %w", u.ID, err)
			}
		}
		return nil
	})
}

// pgMessageRepo implements the Message repository
type pgMessageRepo struct {
	pool *pgxpool.Pool
}

const pgMessageColumns = `id, messenger_id, chat_id, user_id, reply_to_message_id, message_type_id, text,
	raw_data, raw_data_hash, is_succeed, fails_count, fail_description, is_deleted, insert_date, update_date`

func scanPgMessage(row pgx.Row) (*domain.Message, error) {
	var m domain.Message
	var msgType string
	err := row.Scan(&m.ID, &m.MessengerID, &m.ChatID, &m.UserID, &m.ReplyToMessageID, &msgType, &m.Text,
		&m.RawData, &m.RawDataHash, &m.IsSucceed, &m.FailsCount, &m.FailDescription, &m.IsDeleted, &m.InsertDate, &m.UpdateDate)
	if err != nil {
		return nil, err
	}
	m.MessageTypeID = domain.MessageType(msgType)
	return &m, nil
}

func (r *pgMessageRepo) findOne(ctx context.Context, where string, args ...any) (*domain.Message, error) {
	m, err := scanPgMessage(r.pool.QueryRow(ctx, `SELECT `+pgMessageColumns+` FROM messages WHERE `+where+` ORDER BY id LIMIT 1`, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return m, nil
}

// FindByID gets a message by its internal ID
func (r *pgMessageRepo) FindByID(ctx context.Context, id int64) (*domain.Message, error) {
	return r.findOne(ctx, `id = $1`, id)
}

// FindByRawDataIDs gets a message by its Feishu message_id and chat_id
func (r *pgMessageRepo) FindByRawDataIDs(ctx context.Context, nativeMessageID, nativeChatID string) (*domain.Message, error) {
	return r.findOne(ctx,
		`raw_data::jsonb ->> 'message_id' = $1 AND raw_data::jsonb -> 'chat' ->> 'chat_id' = $2`,
		nativeMessageID, nativeChatID)
}

// SaveRange inserts new messages and updates stored ones
func (r *pgMessageRepo) SaveRange(ctx context.Context, messages []*domain.Message) error {
	return withPgTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, m := range messages {
			if m.ID == 0 {
				err := tx.QueryRow(ctx, `
					INSERT INTO messages (messenger_id, chat_id, user_id, reply_to_message_id, message_type_id, text,
						raw_data, raw_data_hash, is_succeed, fails_count, fail_description, is_deleted, insert_date, update_date)
					VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
					RETURNING id
				`, m.MessengerID, m.ChatID, m.UserID, m.ReplyToMessageID, string(m.MessageTypeID), m.Text,
					m.RawData, m.RawDataHash, m.IsSucceed, m.FailsCount, m.FailDescription, m.IsDeleted,
					pgTime(m.InsertDate), pgTime(m.UpdateDate)).Scan(&m.ID)
				if err != nil {
					return fmt.Errorf("failed to insert message: %w", err)
				}
				continue
			}

			_, err := tx.Exec(ctx, `
				UPDATE messages
				SET messenger_id = $1, chat_id = $2, user_id = $3, reply_to_message_id = $4, message_type_id = $5, text = $6,
					raw_data = $7, raw_data_hash = $8, is_succeed = $9, fails_count = $10, fail_description = $11,
					is_deleted = $12, update_date = $13
				WHERE id = $14
			`, m.MessengerID, m.ChatID, m.UserID, m.ReplyToMessageID, string(m.MessageTypeID), m.Text,
				m.RawData, m.RawDataHash, m.IsSucceed, m.FailsCount, m.FailDescription, m.IsDeleted,
				pgTime(m.UpdateDate), m.ID)
			if err != nil {
				return fmt.Errorf("failed to update message %d: %w", m.ID, err)
			}
		}
		return nil
	})
}
