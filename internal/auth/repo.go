package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arcadia-sis/arcadia-sis/internal/authz"
	"github.com/arcadia-sis/arcadia-sis/internal/shared"
)

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	CreateStudentAccount(ctx context.Context, email, fullName, passwordHash string) (*User, error)
	CreateSession(ctx context.Context, id string, userID uuid.UUID, expiresAt time.Time, ip, ua string) error
	DeleteSession(ctx context.Context, id string) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, email, full_name, password_hash, is_active, created_at, updated_at`

// FindByEmail fetches a user by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	return user, err
}

// CreateStudentAccount creates the user, the student record and the STUDENT
// profile in one transaction, so sign-up can never leave an account without a
// resolvable role.
func (r *PGRepository) CreateStudentAccount(ctx context.Context, email, fullName, passwordHash string) (*User, error) {
	var user *User
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead}, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO users (email, full_name, password_hash, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, TRUE, NOW(), NOW())
			RETURNING `+userColumns,
			email, fullName, passwordHash,
		)
		created, err := scanUser(row)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return shared.ErrDuplicateEmail
			}
			return err
		}

		var studentID uuid.UUID
		if err := tx.QueryRow(ctx, `
			INSERT INTO students (user_id, full_name, created_at, updated_at)
			VALUES ($1, $2, NOW(), NOW())
			RETURNING id`, created.ID, fullName,
		).Scan(&studentID); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO profiles (user_id, role, student_id, created_at, updated_at)
			VALUES ($1, $2, $3, NOW(), NOW())`,
			created.ID, string(authz.RoleStudent), studentID,
		); err != nil {
			return err
		}

		user = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// CreateSession persists a login session record for auditing.
func (r *PGRepository) CreateSession(ctx context.Context, id string, userID uuid.UUID, expiresAt time.Time, ip, ua string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sessions (id, user_id, created_at, expires_at, ip, ua)
		VALUES ($1, $2, NOW(), $3, NULLIF($4, ''), NULLIF($5, ''))`,
		id, userID, expiresAt.UTC(), ip, ua,
	)
	return err
}

// DeleteSession removes a session record.
func (r *PGRepository) DeleteSession(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

var _ Repository = (*PGRepository)(nil)
