package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// UserRepo owns the minimal users table that calls.initiated_by references.
// Operator management itself lives outside this service.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

// EnsureUser returns the id for email, creating the row on first use.
func (r *UserRepo) EnsureUser(ctx context.Context, email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", errors.New("email is required")
	}
	const q = `
INSERT INTO users (id, email)
VALUES ($1, $2)
ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
RETURNING id`
	var id string
	if err := r.db.GetContext(ctx, &id, q, uuid.NewString(), email); err != nil {
		return "", fmt.Errorf("ensure user: %w", err)
	}
	return id, nil
}
