// Package session holds the client-side chat state machine shared by every
// chat surface: optimistic sends, reconciliation with the change feed,
// de-duplication and unread handling.
package session

import (
	"sort"
	"strings"

	"portal-backend/internal/chat"
	"portal-backend/internal/models"

	"github.com/google/uuid"
)

// TempIDPrefix marks ids of optimistic entries.
const TempIDPrefix = "temp-"

// Entry is one rendered message. Optimistic entries carry a temporary id
// until the authoritative row arrives.
type Entry struct {
	models.Message
	Optimistic bool `json:"isOptimistic"`
}

// Outcome reports what Apply did with an authoritative message.
type Outcome int

const (
	Duplicate Outcome = iota
	Reconciled
	Appended
)

func (o Outcome) String() string {
	switch o {
	case Duplicate:
		return "duplicate"
	case Reconciled:
		return "reconciled"
	default:
		return "appended"
	}
}

// Thread is the local timeline of one conversation. It is not safe for
// concurrent use; a Controller drives it from a single goroutine.
//
// Confirmed entries form a prefix ordered by created_at, which the store
// assigns in commit order. Optimistic entries form a suffix in submit order.
type Thread struct {
	asAdmin   bool
	selfID    string
	entries   []Entry
	confirmed int
	ids       map[string]struct{}
	draft     string
	newTempID func() string
}

// NewThread returns an empty timeline for the party identified by asAdmin.
// selfID, when set, narrows reconciliation to the caller's own rows so that
// two staff members sending the same text cannot steal each other's
// confirmations.
func NewThread(asAdmin bool, selfID string) *Thread {
	return &Thread{
		asAdmin:   asAdmin,
		selfID:    selfID,
		ids:       make(map[string]struct{}),
		newTempID: func() string { return TempIDPrefix + uuid.NewString() },
	}
}

// Submit validates content, appends an optimistic entry and clears the
// draft. On ErrValidation the state is unchanged.
func (t *Thread) Submit(content string) (Entry, error) {
	content, err := chat.NormalizeContent(content)
	if err != nil {
		return Entry{}, err
	}
	e := Entry{
		Message: models.Message{
			ID:       t.newTempID(),
			Content:  content,
			IsAdmin:  t.asAdmin,
			SenderID: t.selfID,
		},
		Optimistic: true,
	}
	t.entries = append(t.entries, e)
	t.draft = ""
	return e, nil
}

// SendFailed removes the optimistic entry with tempID and restores its
// content into the draft, ahead of anything typed since. It reports false
// if the entry is gone, which happens when the row was already confirmed.
func (t *Thread) SendFailed(tempID string) (string, bool) {
	for i := t.confirmed; i < len(t.entries); i++ {
		if t.entries[i].ID != tempID {
			continue
		}
		content := t.entries[i].Content
		t.entries = append(t.entries[:i], t.entries[i+1:]...)
		if strings.TrimSpace(t.draft) == "" {
			t.draft = content
		} else {
			t.draft = content + "\n" + t.draft
		}
		return t.draft, true
	}
	return t.draft, false
}

// Apply merges one authoritative message.
func (t *Thread) Apply(m models.Message) Outcome {
	if _, ok := t.ids[m.ID]; ok {
		return Duplicate
	}
	t.ids[m.ID] = struct{}{}

	if t.selfAuthored(m) {
		for i := t.confirmed; i < len(t.entries); i++ {
			if t.entries[i].Content == m.Content {
				t.entries = append(t.entries[:i], t.entries[i+1:]...)
				t.insertConfirmed(m)
				return Reconciled
			}
		}
	}
	t.insertConfirmed(m)
	return Appended
}

// Load applies a page of history in order and returns how many entries
// were new.
func (t *Thread) Load(msgs []models.Message) int {
	n := 0
	for _, m := range msgs {
		if t.Apply(m) != Duplicate {
			n++
		}
	}
	return n
}

// IsOtherParty reports whether m was written by the opposite role.
func (t *Thread) IsOtherParty(m models.Message) bool {
	return m.IsAdmin != t.asAdmin
}

func (t *Thread) selfAuthored(m models.Message) bool {
	if m.IsAdmin != t.asAdmin {
		return false
	}
	return t.selfID == "" || m.SenderID == "" || m.SenderID == t.selfID
}

func (t *Thread) insertConfirmed(m models.Message) {
	prefix := t.entries[:t.confirmed]
	i := sort.Search(len(prefix), func(i int) bool {
		return prefix[i].CreatedAt.After(m.CreatedAt)
	})
	t.entries = append(t.entries, Entry{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = Entry{Message: m}
	t.confirmed++
}

// Messages returns a copy of the rendered timeline.
func (t *Thread) Messages() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Pending returns the number of unconfirmed entries.
func (t *Thread) Pending() int {
	return len(t.entries) - t.confirmed
}

func (t *Thread) Draft() string {
	return t.draft
}

func (t *Thread) SetDraft(s string) {
	t.draft = s
}
