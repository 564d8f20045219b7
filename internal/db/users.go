package db

import (
	"context"
	"errors"

	"smartgarden/auth"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// CreateUser inserts an operator account and returns its id
func (d *DB) CreateUser(ctx context.Context, username, passwordHash, email string) (string, error) {
	id := uuid.NewString()
	_, err := d.pool.Exec(ctx, "INSERT INTO users (id, username, password, email) VALUES ($1, $2, $3, $4)",
		id, username, passwordHash, email)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return "", auth.ErrUserExists
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// UserCredentials returns the id and password hash of a user
func (d *DB) UserCredentials(ctx context.Context, username string) (string, string, error) {
	var id, hash string
	err := d.pool.QueryRow(ctx, "SELECT id, password FROM users WHERE username = $1", username).Scan(&id, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", auth.ErrInvalidCredentials
	}
	return id, hash, err
}

// UserEmail returns the email address of a user
func (d *DB) UserEmail(ctx context.Context, userID string) (string, error) {
	var email string
	err := d.pool.QueryRow(ctx, "SELECT email FROM users WHERE id = $1", userID).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return email, err
}
