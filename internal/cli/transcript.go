package cli

import (
	"fmt"
	"io"
	"sync"

	"portal-backend/internal/models"
	"portal-backend/internal/session"
)

// transcript prints each confirmed message once, in the order snapshots
// reveal them, plus send errors and connection changes.
type transcript struct {
	mu        sync.Mutex
	out       io.Writer
	seen      map[string]struct{}
	lastErr   error
	connected bool
	started   bool
}

func newTranscript(out io.Writer) *transcript {
	return &transcript{out: out, seen: make(map[string]struct{})}
}

// reset forgets everything printed so a newly opened thread prints in full.
func (t *transcript) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen = make(map[string]struct{})
	t.lastErr = nil
	t.started = false
}

func (t *transcript) update(s session.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started && s.Connected != t.connected {
		if s.Connected {
			fmt.Fprintln(t.out, "* reconnected")
		} else {
			fmt.Fprintln(t.out, "* connection lost, retrying")
		}
	}
	t.connected = s.Connected
	t.started = true

	for _, e := range s.Messages {
		if e.Optimistic {
			continue
		}
		if _, ok := t.seen[e.ID]; ok {
			continue
		}
		t.seen[e.ID] = struct{}{}
		fmt.Fprintf(t.out, "[%s] %s: %s\n", e.CreatedAt.Local().Format("15:04"), speaker(e.Message), e.Content)
	}

	if s.LastError != nil && s.LastError != t.lastErr {
		fmt.Fprintf(t.out, "! %v (draft restored: %q)\n", s.LastError, s.Draft)
	}
	t.lastErr = s.LastError
}

func speaker(m models.Message) string {
	if m.IsAdmin {
		return "staff"
	}
	return "client"
}

func printRows(out io.Writer, rows []models.AdminConversation) {
	if len(rows) == 0 {
		fmt.Fprintln(out, "No conversations.")
		return
	}
	for _, r := range rows {
		name := r.ClientName
		if name == "" {
			name = r.ClientEmail
		}
		fmt.Fprintf(out, "  %s  %-24s unread=%d  last=%s\n", r.ID, name, r.UnreadAdminCount, r.LastMessageAt.Local().Format("Jan 2 15:04"))
	}
}
