package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Auth constants.
const (
	// ticketTTL is how long a WebSocket ticket is valid.
	ticketTTL = 60 * time.Second

	// ticketCleanupInterval is how often expired tickets are swept.
	ticketCleanupInterval = time.Minute

	// ticketBytes is the number of random bytes used for WebSocket tickets.
	ticketBytes = 32
)

// IssueToken signs an HS256 bearer token for the API.
//
// Parameters:
//   - secret: security.jwt.secret from config.yaml
//   - issuer: security.jwt.issuer; empty omits the iss claim
//   - subject: Who the token is for (e.g. "home-assistant")
//   - ttl: Token lifetime; zero issues a token without expiry
//
// Returns:
//   - string: The signed token
//   - error: If the secret is empty or signing fails
func IssueToken(secret, issuer, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("jwt secret is not configured")
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:  subject,
		Issuer:   issuer,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// authEnabled reports whether bearer tokens are required.
func (s *Server) authEnabled() bool {
	return s.secCfg.JWT.Secret != ""
}

// validateToken parses an HS256 token signed with the configured secret
// and returns its subject.
func (s *Server) validateToken(raw string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
	}
	if s.secCfg.JWT.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.secCfg.JWT.Issuer))
	}

	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte(s.secCfg.JWT.Secret), nil
	}, opts...)
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("token is not valid")
	}
	return claims.Subject, nil
}

// ticketStore holds pending WebSocket authentication tickets.
// Tickets are single-use and expire after ticketTTL.
type ticketStore struct {
	tickets map[string]ticketEntry
	mu      sync.Mutex
}

type ticketEntry struct {
	subject   string
	expiresAt time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]ticketEntry)}
}

// issue stores a new ticket for subject and returns it.
func (t *ticketStore) issue(subject string) string {
	ticket := generateTicket()
	t.mu.Lock()
	t.tickets[ticket] = ticketEntry{
		subject:   subject,
		expiresAt: time.Now().Add(ticketTTL),
	}
	t.mu.Unlock()
	return ticket
}

// consume checks a ticket and removes it (single-use).
func (t *ticketStore) consume(ticket string) (ticketEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.tickets[ticket]
	if !ok {
		return ticketEntry{}, false
	}
	delete(t.tickets, ticket)

	if time.Now().After(entry.expiresAt) {
		return ticketEntry{}, false
	}
	return entry, true
}

// sweep removes expired tickets.
func (t *ticketStore) sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for ticket, entry := range t.tickets {
		if now.After(entry.expiresAt) {
			delete(t.tickets, ticket)
			removed++
		}
	}
	return removed
}

// handleWSTicket generates a single-use WebSocket authentication ticket.
// The client uses this ticket to authenticate the WebSocket connection
// without exposing the bearer token in the URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	subject, _ := r.Context().Value(ctxKeySubject).(string) //nolint:errcheck // empty when auth is disabled

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     s.tickets.issue(subject),
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// cleanTicketsLoop sweeps expired tickets until ctx is cancelled.
func (s *Server) cleanTicketsLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.tickets.sweep(now); n > 0 {
				s.logger.Debug("expired websocket tickets removed", "count", n)
			}
		}
	}
}

// generateTicket creates a cryptographically random ticket string.
func generateTicket() string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}
