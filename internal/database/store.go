package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"portal-backend/internal/chat"
	"portal-backend/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const conversationColumns = `c.id, c.client_id, c.unread_client_count, c.unread_admin_count, c.last_message_at, c.status, c.created_at`

// Store is the Postgres implementation of the chat store ports.
type Store struct {
	db *Database
}

var _ chat.Store = (*Store)(nil)
var _ chat.Directory = (*Store)(nil)

func NewStore(db *Database) *Store {
	return &Store{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// validID rejects ids Postgres would refuse to cast; callers report those
// as not found.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, chat.ErrNotFound)
}

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	var c models.Conversation
	var status string
	if err := row.Scan(&c.ID, &c.ClientID, &c.UnreadClientCount, &c.UnreadAdminCount, &c.LastMessageAt, &status, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Status = models.ConversationStatus(status)
	return &c, nil
}

func scanAdminConversation(row pgx.Row) (*models.AdminConversation, error) {
	var a models.AdminConversation
	var status string
	if err := row.Scan(&a.ID, &a.ClientID, &a.UnreadClientCount, &a.UnreadAdminCount, &a.LastMessageAt, &status, &a.CreatedAt,
		&a.ClientName, &a.ClientEmail); err != nil {
		return nil, err
	}
	a.Status = models.ConversationStatus(status)
	return &a, nil
}

// Append inserts a message and updates the conversation counters in one
// transaction. The conversation row is locked first, so created_at is
// assigned in commit order and is strictly increasing per conversation.
func (s *Store) Append(ctx context.Context, in chat.AppendInput) (*models.Message, error) {
	in, err := chat.ValidateAppend(in)
	if err != nil {
		return nil, err
	}
	if !validID(in.ConversationID) {
		return nil, notFound("conversation", in.ConversationID)
	}
	if !validID(in.SenderID) {
		return nil, fmt.Errorf("%w: sender id %q is not a uuid", chat.ErrValidation, in.SenderID)
	}

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	var lastMessageAt time.Time
	err = tx.QueryRow(ctx,
		`SELECT last_message_at FROM conversations WHERE id = $1 FOR UPDATE`,
		in.ConversationID,
	).Scan(&lastMessageAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("conversation", in.ConversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("lock conversation: %w", err)
	}

	msg := models.Message{
		ConversationID: in.ConversationID,
		Content:        in.Content,
		IsAdmin:        in.AuthorIsAdmin,
		SenderID:       in.SenderID,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, content, is_admin, sender_id, created_at)
		VALUES ($1, $2, $3, $4, GREATEST(clock_timestamp(), $5::timestamptz + interval '1 microsecond'))
		RETURNING id, created_at`,
		in.ConversationID, in.Content, in.AuthorIsAdmin, in.SenderID, lastMessageAt,
	).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	counter := "unread_admin_count"
	if in.AuthorIsAdmin {
		counter = "unread_client_count"
	}
	_, err = tx.Exec(ctx, `
		UPDATE conversations
		SET `+counter+` = `+counter+` + 1,
			last_message_at = $2,
			status = CASE WHEN $3 THEN status ELSE 'active' END
		WHERE id = $1`,
		in.ConversationID, msg.CreatedAt, in.AuthorIsAdmin,
	)
	if err != nil {
		return nil, fmt.Errorf("update conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return &msg, nil
}

func (s *Store) ListByConversation(ctx context.Context, conversationID string, limit int, order chat.Order) ([]models.Message, error) {
	if _, err := s.GetByID(ctx, conversationID); err != nil {
		return nil, err
	}

	direction := "ASC"
	if order == chat.Descending {
		direction = "DESC"
	}
	query := `
		SELECT id, conversation_id, content, is_admin, sender_id, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ` + direction
	args := []interface{}{conversationID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Content, &m.IsAdmin, &m.SenderID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// GetOrCreateForClient returns the client's conversation, creating it on
// first contact. Concurrent creators race on the client_id unique index;
// the loser re-reads the winner's row.
func (s *Store) GetOrCreateForClient(ctx context.Context, clientID string) (*models.Conversation, error) {
	if !validID(clientID) {
		return nil, fmt.Errorf("%w: client id %q is not a uuid", chat.ErrValidation, clientID)
	}

	conv, err := s.FindForClient(ctx, clientID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, chat.ErrNotFound) {
		return nil, err
	}

	conv, err = scanConversation(s.db.QueryRow(ctx, `
		INSERT INTO conversations AS c (client_id) VALUES ($1)
		RETURNING `+conversationColumns,
		clientID,
	))
	if isUniqueViolation(err) {
		return s.FindForClient(ctx, clientID)
	}
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

func (s *Store) GetByID(ctx context.Context, conversationID string) (*models.Conversation, error) {
	if !validID(conversationID) {
		return nil, notFound("conversation", conversationID)
	}
	conv, err := scanConversation(s.db.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations c WHERE c.id = $1`, conversationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("conversation", conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

func (s *Store) FindForClient(ctx context.Context, clientID string) (*models.Conversation, error) {
	if !validID(clientID) {
		return nil, notFound("client", clientID)
	}
	conv, err := scanConversation(s.db.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations c WHERE c.client_id = $1`, clientID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("client", clientID)
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	return conv, nil
}

func (s *Store) ListForAdmin(ctx context.Context, search string) ([]models.AdminConversation, error) {
	query := `
		SELECT ` + conversationColumns + `, COALESCE(p.full_name, ''), COALESCE(p.email, '')
		FROM conversations c
		LEFT JOIN profiles p ON p.id = c.client_id
		WHERE c.status = 'active'`
	var args []interface{}
	if search = strings.TrimSpace(search); search != "" {
		query += ` AND (p.full_name ILIKE $1 OR p.email ILIKE $1)`
		args = append(args, "%"+escapeLike(search)+"%")
	}
	query += ` ORDER BY c.last_message_at DESC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	conversations := []models.AdminConversation{}
	for rows.Next() {
		a, err := scanAdminConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, *a)
	}
	return conversations, rows.Err()
}

func (s *Store) GetForAdmin(ctx context.Context, conversationID string) (*models.AdminConversation, error) {
	if !validID(conversationID) {
		return nil, notFound("conversation", conversationID)
	}
	a, err := scanAdminConversation(s.db.QueryRow(ctx, `
		SELECT `+conversationColumns+`, COALESCE(p.full_name, ''), COALESCE(p.email, '')
		FROM conversations c
		LEFT JOIN profiles p ON p.id = c.client_id
		WHERE c.id = $1`, conversationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("conversation", conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return a, nil
}

// AcknowledgeRead zeroes one counter. A counter that is already zero is left
// untouched so no change event is emitted.
func (s *Store) AcknowledgeRead(ctx context.Context, conversationID string, asAdmin bool) error {
	if !validID(conversationID) {
		return notFound("conversation", conversationID)
	}
	counter := "unread_client_count"
	if asAdmin {
		counter = "unread_admin_count"
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE conversations SET `+counter+` = 0 WHERE id = $1 AND `+counter+` > 0`, conversationID)
	if err != nil {
		return fmt.Errorf("acknowledge read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		_, err := s.GetByID(ctx, conversationID)
		return err
	}
	return nil
}

func (s *Store) SetStatus(ctx context.Context, conversationID string, status models.ConversationStatus) (*models.Conversation, error) {
	if status != models.ConversationActive && status != models.ConversationArchived {
		return nil, fmt.Errorf("%w: unknown status %q", chat.ErrValidation, status)
	}
	if !validID(conversationID) {
		return nil, notFound("conversation", conversationID)
	}
	conv, err := scanConversation(s.db.QueryRow(ctx, `
		UPDATE conversations AS c SET status = $2
		WHERE c.id = $1 AND c.status <> $2
		RETURNING `+conversationColumns,
		conversationID, string(status)))
	if errors.Is(err, pgx.ErrNoRows) {
		return s.GetByID(ctx, conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("set status: %w", err)
	}
	return conv, nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	if !validID(userID) {
		return nil, notFound("profile", userID)
	}
	var p models.Profile
	err := s.db.QueryRow(ctx,
		`SELECT id, email, full_name, role, created_at FROM profiles WHERE id = $1`, userID,
	).Scan(&p.ID, &p.Email, &p.FullName, &p.Role, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("profile", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

// UpsertProfile writes a profile row; used by seeding and tests.
func (s *Store) UpsertProfile(ctx context.Context, p models.Profile) error {
	role := p.Role
	if role == "" {
		role = models.RoleClient
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO profiles (id, email, full_name, role) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, full_name = EXCLUDED.full_name, role = EXCLUDED.role`,
		p.ID, p.Email, p.FullName, role)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
