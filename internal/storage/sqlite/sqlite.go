package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/darunbjork/InsightAPI/internal/domain/models"
	"github.com/darunbjork/InsightAPI/internal/storage"
)

type Storage struct {
	db *sql.DB
}

// New returns a new instance of the Storage.
func New(storagePath string) (*Storage, error) {
	const op = "storage.sqlite.New"

	db, err := sql.Open("sqlite3", storagePath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) SavePrincipal(ctx context.Context, username, email string, passHash []byte) (*models.Principal, error) {
	const op = "storage.sqlite.SavePrincipal"

	stmt, err := s.db.Prepare("INSERT INTO principals (id, username, email, pass_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer stmt.Close()

	id := uuid.NewString()
	now := time.Now().UTC()

	_, err = stmt.ExecContext(ctx, id, username, email, passHash, now, now)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrPrincipalExists)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.Principal{
		ID:        id,
		Username:  username,
		Email:     email,
		PassHash:  passHash,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *Storage) PrincipalByEmail(ctx context.Context, email string) (*models.Principal, error) {
	const op = "storage.sqlite.PrincipalByEmail"

	row := s.db.QueryRowContext(ctx,
		"SELECT id, username, email, pass_hash, created_at, updated_at FROM principals WHERE email = ?", email)

	return scanPrincipal(row, op)
}

func (s *Storage) PrincipalByID(ctx context.Context, principalID string) (*models.Principal, error) {
	const op = "storage.sqlite.PrincipalByID"

	row := s.db.QueryRowContext(ctx,
		"SELECT id, username, email, pass_hash, created_at, updated_at FROM principals WHERE id = ?", principalID)

	return scanPrincipal(row, op)
}

func (s *Storage) PrincipalByUsernameOrEmail(ctx context.Context, username, email string) (*models.Principal, error) {
	const op = "storage.sqlite.PrincipalByUsernameOrEmail"

	row := s.db.QueryRowContext(ctx,
		"SELECT id, username, email, pass_hash, created_at, updated_at FROM principals WHERE username = ? OR email = ? LIMIT 1",
		username, email)

	return scanPrincipal(row, op)
}

func (s *Storage) AppendRevokedToken(ctx context.Context, principalID, tokenID string) error {
	const op = "storage.sqlite.AppendRevokedToken"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM principals WHERE id = ?)", principalID).Scan(&exists); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return fmt.Errorf("%s: %w", op, storage.ErrPrincipalNotFound)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO revoked_tokens (principal_id, token_id, revoked_at) VALUES (?, ?, ?)",
		principalID, tokenID, time.Now().UTC()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE principals SET updated_at = ? WHERE id = ?", time.Now().UTC(), principalID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) IsTokenRevoked(ctx context.Context, principalID, tokenID string) (bool, error) {
	const op = "storage.sqlite.IsTokenRevoked"

	var revoked bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE principal_id = ? AND token_id = ?)",
		principalID, tokenID).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return revoked, nil
}

func (s *Storage) ClearRevokedTokens(ctx context.Context, principalID string) error {
	const op = "storage.sqlite.ClearRevokedTokens"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM revoked_tokens WHERE principal_id = ?", principalID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE principals SET updated_at = ? WHERE id = ?", time.Now().UTC(), principalID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(row rowScanner, op string) (*models.Principal, error) {
	var p models.Principal
	err := row.Scan(&p.ID, &p.Username, &p.Email, &p.PassHash, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrPrincipalNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &p, nil
}
