package store

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/hyperengineering/triage/internal/types"
	"github.com/oklog/ulid/v2"
)

// CreateClient inserts a client contact.
func (s *SQLStore) CreateClient(ctx context.Context, c *types.Client) error {
	if c.ID == "" {
		c.ID = ulid.Make().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err := s.exec(ctx, s.db, `
		INSERT INTO clients (id, first_name, last_name, phone, phone_digits, email, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.FirstName, c.LastName, c.Phone, Digits(c.Phone), c.Email, formatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}

// FindClientsByPhoneSuffix returns clients whose phone number ends with digits.
func (s *SQLStore) FindClientsByPhoneSuffix(ctx context.Context, digits string) ([]types.Client, error) {
	if digits == "" {
		return nil, nil
	}
	return s.listClients(ctx, `WHERE phone_digits <> '' AND phone_digits LIKE ?`, "%"+digits)
}

// FindClientsByName returns clients whose first and last names contain the
// given fragments, case-insensitively. An empty fragment matches any value.
func (s *SQLStore) FindClientsByName(ctx context.Context, first, last string) ([]types.Client, error) {
	if first == "" && last == "" {
		return nil, nil
	}
	return s.listClients(ctx, `WHERE LOWER(first_name) LIKE ? AND LOWER(last_name) LIKE ?`,
		"%"+strings.ToLower(first)+"%", "%"+strings.ToLower(last)+"%")
}

func (s *SQLStore) listClients(ctx context.Context, where string, args ...any) ([]types.Client, error) {
	rows, err := s.query(ctx, s.db, `
		SELECT id, first_name, last_name, phone, email, created_at
		FROM clients `+where+`
		ORDER BY created_at ASC, id ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query clients: %w", err)
	}
	defer rows.Close()

	var clients []types.Client
	for rows.Next() {
		var c types.Client
		var createdAt string
		if err := rows.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Phone, &c.Email, &createdAt); err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		c.CreatedAt = parseTime("created_at", createdAt)
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// Digits strips everything but decimal digits from a phone number.
func Digits(phone string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, phone)
}
