package database

import (
	"context"
	"fmt"
	"log/slog"

	"portal-backend/internal/config"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NotifyChannel is the LISTEN/NOTIFY channel the chat triggers publish on.
const NotifyChannel = "chat_changes"

type Database struct {
	Pool *pgxpool.Pool
	url  string
}

func NewConnection(cfg *config.Config) (*Database, error) {
	return Connect(context.Background(), cfg.GetDatabaseURL())
}

// Connect opens a pool for url and pings it.
func Connect(ctx context.Context, url string) (*Database, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	slog.Info("Successfully connected to database")
	return &Database{Pool: pool, url: url}, nil
}

func (db *Database) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

func (db *Database) GetDB() *pgxpool.Pool {
	return db.Pool
}

// URL returns the DSN the pool was opened with. The listener dials its own
// connection from it because LISTEN needs a session outside the pool.
func (db *Database) URL() string {
	return db.url
}

func RunMigrations(db *Database) error {
	ctx := context.Background()

	// Profiles are maintained next to Supabase auth.users.
	createProfilesTable := `
	CREATE TABLE IF NOT EXISTS profiles (
		id UUID PRIMARY KEY,
		email VARCHAR(255) NOT NULL DEFAULT '',
		full_name VARCHAR(255) NOT NULL DEFAULT '',
		role VARCHAR(50) NOT NULL DEFAULT 'client' CHECK (role IN ('client', 'admin')),
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);`

	createConversationsTable := `
	CREATE TABLE IF NOT EXISTS conversations (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		client_id UUID NOT NULL UNIQUE,
		unread_client_count INTEGER NOT NULL DEFAULT 0 CHECK (unread_client_count >= 0),
		unread_admin_count INTEGER NOT NULL DEFAULT 0 CHECK (unread_admin_count >= 0),
		last_message_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT clock_timestamp(),
		status VARCHAR(20) NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'archived')),
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT clock_timestamp()
	);`

	createMessagesTable := `
	CREATE TABLE IF NOT EXISTS messages (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		content TEXT NOT NULL CHECK (length(btrim(content)) > 0),
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		sender_id UUID NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT clock_timestamp()
	);`

	createIndexes := `
	CREATE INDEX IF NOT EXISTS idx_messages_conversation_created_at ON messages(conversation_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_conversations_last_message_at ON conversations(last_message_at DESC);
	CREATE INDEX IF NOT EXISTS idx_conversations_status ON conversations(status);`

	// Notifications are queued inside the writing transaction and delivered
	// at commit, so listeners see changes in commit order.
	createNotifyFunction := `
	CREATE OR REPLACE FUNCTION notify_chat_change() RETURNS trigger AS $$
	BEGIN
		PERFORM pg_notify('` + NotifyChannel + `', json_build_object(
			'table', TG_TABLE_NAME,
			'type', TG_OP,
			'record', row_to_json(NEW)
		)::text);
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql;`

	createMessagesTrigger := `
	DROP TRIGGER IF EXISTS messages_notify ON messages;
	CREATE TRIGGER messages_notify AFTER INSERT ON messages
		FOR EACH ROW EXECUTE FUNCTION notify_chat_change();`

	createConversationsTrigger := `
	DROP TRIGGER IF EXISTS conversations_notify ON conversations;
	CREATE TRIGGER conversations_notify AFTER INSERT OR UPDATE ON conversations
		FOR EACH ROW EXECUTE FUNCTION notify_chat_change();`

	migrations := []string{
		createProfilesTable,
		createConversationsTable,
		createMessagesTable,
		createIndexes,
		createNotifyFunction,
		createMessagesTrigger,
		createConversationsTrigger,
	}

	for _, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}

	slog.Info("Database migrations completed successfully")
	return nil
}

func (db *Database) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return db.Pool.Begin(ctx)
}

func (db *Database) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return db.Pool.QueryRow(ctx, sql, args...)
}

func (db *Database) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return db.Pool.Query(ctx, sql, args...)
}

func (db *Database) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	return db.Pool.Exec(ctx, sql, args...)
}
