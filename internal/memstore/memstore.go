// Package memstore is an in-process implementation of the chat store ports.
// It publishes the same change events the Postgres triggers emit, so the
// rest of the system cannot tell the two apart.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"portal-backend/internal/chat"
	"portal-backend/internal/feed"
	"portal-backend/internal/models"

	"github.com/google/uuid"
)

type Store struct {
	mu            sync.Mutex
	conversations map[string]*models.Conversation
	byClient      map[string]string
	messages      map[string][]models.Message
	profiles      map[string]models.Profile
	publisher     feed.Publisher
	now           func() time.Time
}

var _ chat.Store = (*Store)(nil)
var _ chat.Directory = (*Store)(nil)

// New returns an empty store. publisher may be nil.
func New(publisher feed.Publisher) *Store {
	return &Store{
		conversations: make(map[string]*models.Conversation),
		byClient:      make(map[string]string),
		messages:      make(map[string][]models.Message),
		profiles:      make(map[string]models.Profile),
		publisher:     publisher,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source (tests).
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// PutProfile inserts or replaces a profile.
func (s *Store) PutProfile(p models.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
}

func (s *Store) UpsertProfile(ctx context.Context, p models.Profile) error {
	if p.Role == "" {
		p.Role = models.RoleClient
	}
	s.PutProfile(p)
	return nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", userID, chat.ErrNotFound)
	}
	return &p, nil
}

func (s *Store) Append(ctx context.Context, in chat.AppendInput) (*models.Message, error) {
	in, err := chat.ValidateAppend(in)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[in.ConversationID]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", in.ConversationID, chat.ErrNotFound)
	}

	createdAt := s.now()
	if !createdAt.After(conv.LastMessageAt) {
		createdAt = conv.LastMessageAt.Add(time.Microsecond)
	}

	msg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: in.ConversationID,
		Content:        in.Content,
		IsAdmin:        in.AuthorIsAdmin,
		SenderID:       in.SenderID,
		CreatedAt:      createdAt,
	}
	s.messages[conv.ID] = append(s.messages[conv.ID], msg)

	if in.AuthorIsAdmin {
		conv.UnreadClientCount++
	} else {
		conv.UnreadAdminCount++
		conv.Status = models.ConversationActive
	}
	conv.LastMessageAt = createdAt

	s.publish(feed.MessageInserted(msg))
	s.publish(feed.ConversationChanged(feed.Update, *conv))
	return &msg, nil
}

func (s *Store) ListByConversation(ctx context.Context, conversationID string, limit int, order chat.Order) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, chat.ErrNotFound)
	}

	all := s.messages[conversationID]
	out := make([]models.Message, 0, len(all))
	if order == chat.Descending {
		for i := len(all) - 1; i >= 0; i-- {
			out = append(out, all[i])
		}
	} else {
		out = append(out, all...)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetOrCreateForClient(ctx context.Context, clientID string) (*models.Conversation, error) {
	if clientID == "" {
		return nil, fmt.Errorf("%w: client id is required", chat.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byClient[clientID]; ok {
		c := *s.conversations[id]
		return &c, nil
	}

	now := s.now()
	conv := &models.Conversation{
		ID:            uuid.NewString(),
		ClientID:      clientID,
		LastMessageAt: now,
		Status:        models.ConversationActive,
		CreatedAt:     now,
	}
	s.conversations[conv.ID] = conv
	s.byClient[clientID] = conv.ID

	s.publish(feed.ConversationChanged(feed.Insert, *conv))
	c := *conv
	return &c, nil
}

func (s *Store) GetByID(ctx context.Context, conversationID string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, chat.ErrNotFound)
	}
	c := *conv
	return &c, nil
}

func (s *Store) FindForClient(ctx context.Context, clientID string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byClient[clientID]
	if !ok {
		return nil, fmt.Errorf("client %s: %w", clientID, chat.ErrNotFound)
	}
	c := *s.conversations[id]
	return &c, nil
}

func (s *Store) ListForAdmin(ctx context.Context, search string) ([]models.AdminConversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	needle := strings.ToLower(strings.TrimSpace(search))
	out := []models.AdminConversation{}
	for _, conv := range s.conversations {
		if conv.IsArchived() {
			continue
		}
		row := s.adminRowLocked(conv)
		if needle != "" &&
			!strings.Contains(strings.ToLower(row.ClientName), needle) &&
			!strings.Contains(strings.ToLower(row.ClientEmail), needle) {
			continue
		}
		out = append(out, row)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out, nil
}

func (s *Store) GetForAdmin(ctx context.Context, conversationID string) (*models.AdminConversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, chat.ErrNotFound)
	}
	row := s.adminRowLocked(conv)
	return &row, nil
}

func (s *Store) AcknowledgeRead(ctx context.Context, conversationID string, asAdmin bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", conversationID, chat.ErrNotFound)
	}
	if conv.UnreadFor(asAdmin) == 0 {
		return nil
	}
	if asAdmin {
		conv.UnreadAdminCount = 0
	} else {
		conv.UnreadClientCount = 0
	}
	s.publish(feed.ConversationChanged(feed.Update, *conv))
	return nil
}

func (s *Store) SetStatus(ctx context.Context, conversationID string, status models.ConversationStatus) (*models.Conversation, error) {
	if status != models.ConversationActive && status != models.ConversationArchived {
		return nil, fmt.Errorf("%w: unknown status %q", chat.ErrValidation, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, chat.ErrNotFound)
	}
	if conv.Status != status {
		conv.Status = status
		s.publish(feed.ConversationChanged(feed.Update, *conv))
	}
	c := *conv
	return &c, nil
}

func (s *Store) adminRowLocked(conv *models.Conversation) models.AdminConversation {
	p := s.profiles[conv.ClientID]
	return models.AdminConversation{
		Conversation: *conv,
		ClientName:   p.FullName,
		ClientEmail:  p.Email,
	}
}

// publish runs under s.mu so events leave in the order mutations applied.
func (s *Store) publish(e feed.Event) {
	if s.publisher != nil {
		s.publisher.Publish(e)
	}
}
