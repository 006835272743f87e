package admissions

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for admissions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const applicationColumns = `id, student_id, program, degree_level, field,
	program_duration, status, created_at, updated_at`

const offerColumns = `id, application_id, tuition_fee, currency,
	payment_deadline, status, created_at, updated_at`

// CreateApplication inserts a SUBMITTED application.
func (r *Repository) CreateApplication(ctx context.Context, input CreateApplicationInput) (*Application, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO applications (
			student_id, program, degree_level, field, program_duration,
			status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, 'SUBMITTED', NOW(), NOW())
		RETURNING `+applicationColumns,
		input.StudentID, input.Program, string(input.DegreeLevel),
		string(input.Field), input.ProgramDuration,
	)
	return scanApplication(row)
}

// GetApplication retrieves an application by ID.
func (r *Repository) GetApplication(ctx context.Context, id uuid.UUID) (*Application, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id)
	app, err := scanApplication(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrApplicationNotFound
	}
	return app, err
}

// ListApplications returns applications with optional filtering plus the
// total match count before limit/offset, for pagination.
func (r *Repository) ListApplications(ctx context.Context, req ListApplicationsRequest) ([]Application, int, error) {
	filter := ""
	args := []any{}
	argNum := 1

	if req.StudentID != uuid.Nil {
		filter += fmt.Sprintf(" AND student_id = $%d", argNum)
		args = append(args, req.StudentID)
		argNum++
	}
	if req.Status != "" {
		filter += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, string(req.Status))
		argNum++
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM applications WHERE 1=1`+filter, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + applicationColumns + ` FROM applications WHERE 1=1` + filter
	query += " ORDER BY created_at DESC"

	if req.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, req.Limit)
		argNum++
	}
	if req.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, req.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var apps []Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, 0, err
		}
		apps = append(apps, *app)
	}
	return apps, total, rows.Err()
}

// UpdateApplicationStatus moves an application to a new status, guarded by the
// set of allowed current statuses. A concurrent move off the expected status
// makes the update a no-op, surfaced as an invalid transition.
func (r *Repository) UpdateApplicationStatus(ctx context.Context, id uuid.UUID, from []ApplicationStatus, to ApplicationStatus) error {
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE applications
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)`,
		id, string(to), fromStrs,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: application %s no longer in expected status", ErrInvalidTransition, id)
	}
	return nil
}

// CreateOffer inserts a PENDING admission offer.
func (r *Repository) CreateOffer(ctx context.Context, input CreateOfferInput) (*AdmissionOffer, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO admission_offers (
			application_id, tuition_fee, currency, payment_deadline,
			status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, 'PENDING', NOW(), NOW())
		RETURNING `+offerColumns,
		input.ApplicationID, input.TuitionFee, input.Currency, input.PaymentDeadline,
	)
	return scanOffer(row)
}

// GetOffer retrieves an offer by ID.
func (r *Repository) GetOffer(ctx context.Context, id uuid.UUID) (*AdmissionOffer, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+offerColumns+` FROM admission_offers WHERE id = $1`, id)
	offer, err := scanOffer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOfferNotFound
	}
	return offer, err
}

// GetPendingOfferForApplication returns the application's PENDING offer, if any.
func (r *Repository) GetPendingOfferForApplication(ctx context.Context, applicationID uuid.UUID) (*AdmissionOffer, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+offerColumns+` FROM admission_offers
		WHERE application_id = $1 AND status = 'PENDING'
		ORDER BY created_at DESC
		LIMIT 1`, applicationID)
	offer, err := scanOffer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOfferNotFound
	}
	return offer, err
}

// RespondToOffer records the student's decision on a PENDING offer and mirrors
// it onto the application, in one transaction. The guarded offer update is the
// at-most-once gate: a second response on the same offer fails cleanly.
func (r *Repository) RespondToOffer(ctx context.Context, offerID uuid.UUID, offerStatus OfferStatus, applicationStatus ApplicationStatus) (*AdmissionOffer, error) {
	var offer *AdmissionOffer
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead}, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE admission_offers
			SET status = $2, updated_at = NOW()
			WHERE id = $1 AND status = 'PENDING'
			RETURNING `+offerColumns,
			offerID, string(offerStatus),
		)
		updated, err := scanOffer(row)
		if errors.Is(err, pgx.ErrNoRows) {
			if _, lookupErr := getOfferTx(ctx, tx, offerID); lookupErr != nil {
				return lookupErr
			}
			return ErrOfferNotPending
		}
		if err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE applications
			SET status = $2, updated_at = NOW()
			WHERE id = $1 AND status = 'ADMITTED'`,
			updated.ApplicationID, string(applicationStatus),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: application %s not in ADMITTED", ErrInvalidTransition, updated.ApplicationID)
		}

		offer = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return offer, nil
}

func getOfferTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*AdmissionOffer, error) {
	row := tx.QueryRow(ctx, `SELECT `+offerColumns+` FROM admission_offers WHERE id = $1`, id)
	offer, err := scanOffer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOfferNotFound
	}
	return offer, err
}

func scanApplication(row pgx.Row) (*Application, error) {
	var app Application
	err := row.Scan(
		&app.ID, &app.StudentID, &app.Program, &app.DegreeLevel, &app.Field,
		&app.ProgramDuration, &app.Status, &app.CreatedAt, &app.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &app, nil
}

func scanOffer(row pgx.Row) (*AdmissionOffer, error) {
	var offer AdmissionOffer
	err := row.Scan(
		&offer.ID, &offer.ApplicationID, &offer.TuitionFee, &offer.Currency,
		&offer.PaymentDeadline, &offer.Status, &offer.CreatedAt, &offer.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &offer, nil
}
