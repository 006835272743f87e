package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrProfileNotFound indicates the user has no profile row.
var ErrProfileNotFound = errors.New("authz: profile not found")

// Service loads actor profiles from the profiles table.
type Service struct {
	pool *pgxpool.Pool
}

// NewService constructs a Service.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// ResolveActor fetches the role and student link for a user. Callers resolve
// the actor once per request and pass it down explicitly.
func (s *Service) ResolveActor(ctx context.Context, userID uuid.UUID) (Actor, error) {
	const query = `SELECT role, student_id FROM profiles WHERE user_id = $1`

	var role string
	var studentID pgtype.UUID
	err := s.pool.QueryRow(ctx, query, userID).Scan(&role, &studentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Actor{}, ErrProfileNotFound
	}
	if err != nil {
		return Actor{}, fmt.Errorf("authz: resolve actor: %w", err)
	}

	actor := Actor{UserID: userID, Role: Role(role)}
	if studentID.Valid {
		actor.StudentID = uuid.UUID(studentID.Bytes)
	}
	return actor, nil
}
