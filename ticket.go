package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTicketTTL = 2 * time.Minute
	ticketRateWindow = 60 * time.Second
	maxTicketsPerIP  = 30
	ticketSecretKey  = "ticket_secret"
)

var ErrInvalidTicket = errors.New("ticket: invalid")

// TicketIssuer signs short-lived tickets that admit a connection to one lobby
type TicketIssuer struct {
	secret []byte
	ttl    time.Duration

	// Rate limiting for ticket requests (IP -> attempts)
	rateMu  sync.Mutex
	rateMap map[string]*rateEntry
}

type rateEntry struct {
	Count   int
	ResetAt time.Time
}

// NewTicketIssuer creates an issuer. An empty secret is loaded from the
// store, or generated and persisted there.
func NewTicketIssuer(secret string, ttl time.Duration, store *Store, logger *log.Logger) *TicketIssuer {
	if ttl <= 0 {
		ttl = defaultTicketTTL
	}
	key := []byte(secret)
	if len(key) == 0 {
		key = loadOrCreateSecret(store, logger)
	}
	return &TicketIssuer{
		secret:  key,
		ttl:     ttl,
		rateMap: make(map[string]*rateEntry),
	}
}

// loadOrCreateSecret loads the signing secret from the database, or generates
// and persists a new one if none exists.
func loadOrCreateSecret(store *Store, logger *log.Logger) []byte {
	if h := store.GetSetting(ticketSecretKey); h != "" {
		if b, err := hex.DecodeString(h); err == nil && len(b) == 32 {
			return b
		}
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic("failed to generate ticket secret: " + err.Error())
	}
	if err := store.SetSetting(ticketSecretKey, hex.EncodeToString(secret)); err != nil {
		logger.Warn("could not persist ticket secret", "err", err)
	}
	return secret
}

// Issue returns a signed ticket for the lobby code
func (t *TicketIssuer) Issue(code string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"lob": code,
		"jti": GenerateUUID(),
		"exp": now.Add(t.ttl).Unix(),
		"iat": now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("ticket: sign: %w", err)
	}
	return signed, nil
}

// Verify checks a ticket's signature, expiry and lobby code
func (t *TicketIssuer) Verify(tokenStr, code string) error {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return ErrInvalidTicket
	}
	lob, _ := claims["lob"].(string)
	if lob != code {
		return fmt.Errorf("%w: issued for another lobby", ErrInvalidTicket)
	}
	return nil
}

// Allow applies the per-IP ticket request limit
func (t *TicketIssuer) Allow(ip string) bool {
	t.rateMu.Lock()
	defer t.rateMu.Unlock()

	now := time.Now()
	entry, ok := t.rateMap[ip]
	if !ok || now.After(entry.ResetAt) {
		t.rateMap[ip] = &rateEntry{Count: 1, ResetAt: now.Add(ticketRateWindow)}
		return true
	}
	entry.Count++
	return entry.Count <= maxTicketsPerIP
}
