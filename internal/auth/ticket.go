// ABOUTME: Random ticket generation for login
// ABOUTME: Tickets carry 256 bits of entropy, URL-safe base64 without padding

package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// TicketBytes is the number of random bytes in a ticket.
const TicketBytes = 32

// GenerateTicket returns a new unguessable ticket.
func GenerateTicket() (string, error) {
	return generateSecureToken(TicketBytes)
}

// generateSecureToken generates a cryptographically secure random token.
func generateSecureToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
