package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"account-auth/internal/domain"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrDuplicateEmail  = errors.New("email address already registered")
)

// uniqueViolationCode es el SQLSTATE de postgres para unique_violation.
const uniqueViolationCode = "23505"

// AccountRepository define el contrato de persistencia para cuentas.
type AccountRepository interface {
	Create(ctx context.Context, account domain.UserAccount) (domain.UserAccount, error)
	FindByEmail(ctx context.Context, email string) (domain.UserAccount, error)
	FindByVerificationToken(ctx context.Context, token string) (domain.UserAccount, error)
	Activate(ctx context.Context, id int64, activatedAt time.Time) error
}

// dbtx es el subconjunto de pgxpool.Pool (o pgx.Tx) que usa el repositorio.
type dbtx interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgAccountRepository implementa AccountRepository usando pgx.
type PgAccountRepository struct {
	db dbtx
}

func NewPgAccountRepository(db dbtx) *PgAccountRepository {
	return &PgAccountRepository{db: db}
}

const accountColumns = `id, email_address, password_hash, account_status, role,
		verification_token, verification_token_expires_at, created_at, updated_at`

func (r *PgAccountRepository) Create(ctx context.Context, account domain.UserAccount) (domain.UserAccount, error) {
	const query = `
		INSERT INTO user_accounts (email_address, password_hash, account_status, role,
			verification_token, verification_token_expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		account.EmailAddress,
		account.PasswordHash,
		string(account.AccountStatus),
		string(account.Role),
		nullableString(account.VerificationToken),
		account.VerificationTokenExpiresAt,
		account.CreatedAt,
	).Scan(&account.ID)
	if err != nil {
		if isEmailUniqueViolation(err) {
			return domain.UserAccount{}, ErrDuplicateEmail
		}
		return domain.UserAccount{}, fmt.Errorf("insert account: %w", err)
	}
	account.UpdatedAt = account.CreatedAt
	return account, nil
}

func (r *PgAccountRepository) FindByEmail(ctx context.Context, email string) (domain.UserAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM user_accounts WHERE lower(email_address) = lower($1)`
	return r.scanOne(ctx, query, email)
}

func (r *PgAccountRepository) FindByVerificationToken(ctx context.Context, token string) (domain.UserAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM user_accounts WHERE verification_token = $1`
	return r.scanOne(ctx, query, token)
}

// Activate mueve una cuenta pendiente a ACTIVE y consume su token.
// Devuelve ErrAccountNotFound si la cuenta ya no esta pendiente.
func (r *PgAccountRepository) Activate(ctx context.Context, id int64, activatedAt time.Time) error {
	const query = `
		UPDATE user_accounts
		SET account_status = $2,
			verification_token = NULL,
			verification_token_expires_at = NULL,
			updated_at = $3
		WHERE id = $1 AND account_status = $4
	`
	tag, err := r.db.Exec(ctx, query, id, string(domain.StatusActive), activatedAt, string(domain.StatusPendingVerification))
	if err != nil {
		return fmt.Errorf("activate account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *PgAccountRepository) scanOne(ctx context.Context, query string, arg string) (domain.UserAccount, error) {
	var (
		a         domain.UserAccount
		status    string
		role      string
		token     *string
		expiresAt *time.Time
	)
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&a.ID,
		&a.EmailAddress,
		&a.PasswordHash,
		&status,
		&role,
		&token,
		&expiresAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserAccount{}, ErrAccountNotFound
	}
	if err != nil {
		return domain.UserAccount{}, fmt.Errorf("select account: %w", err)
	}
	a.AccountStatus = domain.AccountStatus(status)
	a.Role = domain.Role(role)
	if token != nil {
		a.VerificationToken = *token
	}
	a.VerificationTokenExpiresAt = expiresAt
	return a, nil
}

func isEmailUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolationCode {
		return false
	}
	// Una colision de verification_token no es un email duplicado.
	return !strings.Contains(pgErr.ConstraintName, "verification_token")
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
