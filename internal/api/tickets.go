package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/purelink-bridge/internal/auth"
)

// ticketTTL is how long a WebSocket ticket is valid.
const ticketTTL = 60 * time.Second

// ticketBytes is the number of random bytes used for WebSocket tickets.
const ticketBytes = 32

// ticketStore holds pending WebSocket authentication tickets.
// Tickets are single-use and expire after ticketTTL.
type ticketStore struct {
	tickets map[string]ticketEntry
	mu      sync.Mutex
	now     func() time.Time
}

type ticketEntry struct {
	subject   string
	role      auth.Role
	expiresAt time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{
		tickets: make(map[string]ticketEntry),
		now:     time.Now,
	}
}

// issue stores a fresh ticket for the caller and returns it.
func (ts *ticketStore) issue(subject string, role auth.Role) string {
	ticket := generateTicket()
	ts.mu.Lock()
	ts.tickets[ticket] = ticketEntry{
		subject:   subject,
		role:      role,
		expiresAt: ts.now().Add(ticketTTL),
	}
	ts.mu.Unlock()
	return ticket
}

// redeem consumes a ticket. An unknown or expired ticket reports false.
func (ts *ticketStore) redeem(ticket string) (ticketEntry, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	entry, ok := ts.tickets[ticket]
	if !ok {
		return ticketEntry{}, false
	}
	delete(ts.tickets, ticket)

	if !ts.now().Before(entry.expiresAt) {
		return ticketEntry{}, false
	}
	return entry, true
}

// sweep removes expired tickets.
func (ts *ticketStore) sweep() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := ts.now()
	for ticket, entry := range ts.tickets {
		if !now.Before(entry.expiresAt) {
			delete(ts.tickets, ticket)
		}
	}
}

func (ts *ticketStore) len() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.tickets)
}

// generateTicket creates a cryptographically random ticket string.
func generateTicket() string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}

// handleWSTicket issues a single-use WebSocket ticket for the caller, so the
// bearer token never appears in a URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeUnauthorized(w, "bearer token required")
		return
	}

	ticket := s.tickets.issue(claims.Subject, claims.Role)
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// cleanTicketsLoop sweeps expired tickets until the context is cancelled.
func (s *Server) cleanTicketsLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickets.sweep()
		}
	}
}
