package housing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arcadia-sis/arcadia-sis/internal/billing"
)

// Repository provides PostgreSQL backed persistence for housing. It also
// feeds billing's monthly rent run through ListRentCandidates.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const buildingColumns = `id, name, address, created_at, updated_at`

const roomColumns = `id, building_id, label, capacity, monthly_rate, status, created_at, updated_at`

const applicationColumns = `id, student_id, semester, status, created_at, updated_at`

const assignmentColumns = `id, application_id, room_id, status, started_at, ended_at, created_at, updated_at`

// CreateBuilding inserts a building.
func (r *Repository) CreateBuilding(ctx context.Context, input CreateBuildingInput) (*Building, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO buildings (name, address, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		RETURNING `+buildingColumns,
		input.Name, input.Address,
	)
	return scanBuilding(row)
}

// ListBuildings returns all buildings ordered by name.
func (r *Repository) ListBuildings(ctx context.Context) ([]Building, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+buildingColumns+` FROM buildings ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buildings []Building
	for rows.Next() {
		b, err := scanBuilding(rows)
		if err != nil {
			return nil, err
		}
		buildings = append(buildings, *b)
	}
	return buildings, rows.Err()
}

// CreateRoom inserts an AVAILABLE room.
func (r *Repository) CreateRoom(ctx context.Context, input CreateRoomInput) (*Room, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO rooms (building_id, label, capacity, monthly_rate, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'AVAILABLE', NOW(), NOW())
		RETURNING `+roomColumns,
		input.BuildingID, input.Label, input.Capacity, input.MonthlyRate,
	)
	return scanRoom(row)
}

// GetRoom retrieves a room by ID.
func (r *Repository) GetRoom(ctx context.Context, id uuid.UUID) (*Room, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id)
	room, err := scanRoom(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	return room, err
}

// ListRooms returns rooms with optional filtering.
func (r *Repository) ListRooms(ctx context.Context, req ListRoomsRequest) ([]Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE 1=1`
	args := []any{}
	argNum := 1

	if req.BuildingID != uuid.Nil {
		query += fmt.Sprintf(" AND building_id = $%d", argNum)
		args = append(args, req.BuildingID)
		argNum++
	}
	if req.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, string(req.Status))
	}
	query += " ORDER BY label"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, *room)
	}
	return rooms, rows.Err()
}

// SetRoomStatus updates a room's status.
func (r *Repository) SetRoomStatus(ctx context.Context, id uuid.UUID, status RoomStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE rooms SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// CreateApplication inserts a PENDING housing application.
func (r *Repository) CreateApplication(ctx context.Context, input SubmitApplicationInput) (*Application, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO housing_applications (student_id, semester, status, created_at, updated_at)
		VALUES ($1, $2, 'PENDING', NOW(), NOW())
		RETURNING `+applicationColumns,
		input.StudentID, input.Semester,
	)
	return scanApplication(row)
}

// GetApplication retrieves a housing application by ID.
func (r *Repository) GetApplication(ctx context.Context, id uuid.UUID) (*Application, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+applicationColumns+` FROM housing_applications WHERE id = $1`, id)
	app, err := scanApplication(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrApplicationNotFound
	}
	return app, err
}

// ListApplications returns housing applications with optional filtering plus
// the total match count before limit/offset, for pagination.
func (r *Repository) ListApplications(ctx context.Context, req ListApplicationsRequest) ([]Application, int, error) {
	filter := ""
	args := []any{}
	argNum := 1

	if req.StudentID != uuid.Nil {
		filter += fmt.Sprintf(" AND student_id = $%d", argNum)
		args = append(args, req.StudentID)
		argNum++
	}
	if req.Semester != "" {
		filter += fmt.Sprintf(" AND semester = $%d", argNum)
		args = append(args, req.Semester)
		argNum++
	}
	if req.Status != "" {
		filter += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, string(req.Status))
		argNum++
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM housing_applications WHERE 1=1`+filter, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + applicationColumns + ` FROM housing_applications WHERE 1=1` + filter
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

// HasOpenApplication reports whether the student already has a non-rejected
// application for the semester. A partial unique index backs the same rule in
// the schema; this pre-check turns the constraint violation into a clean error.
func (r *Repository) HasOpenApplication(ctx context.Context, studentID uuid.UUID, semester string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM housing_applications
			WHERE student_id = $1 AND semester = $2 AND status <> 'REJECTED'
		)`, studentID, semester,
	).Scan(&exists)
	return exists, err
}

// UpdateApplicationStatus moves an application between statuses, guarded on
// the expected current status.
func (r *Repository) UpdateApplicationStatus(ctx context.Context, id uuid.UUID, from, to ApplicationStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE housing_applications
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, lookupErr := r.GetApplication(ctx, id); lookupErr != nil {
			return lookupErr
		}
		return ErrNotPending
	}
	return nil
}

// AllocateRoom creates an ASSIGNED assignment and flips the room to OCCUPIED in
// one transaction. The guarded room update is the gate: two staff racing for
// the same room allocate it exactly once.
func (r *Repository) AllocateRoom(ctx context.Context, applicationID, roomID uuid.UUID, startedAt time.Time) (*Assignment, error) {
	var assignment *Assignment
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE rooms SET status = 'OCCUPIED', updated_at = NOW()
			WHERE id = $1 AND status = 'AVAILABLE'`, roomID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM rooms WHERE id = $1)`, roomID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return ErrRoomNotFound
			}
			return ErrRoomUnavailable
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO room_assignments (application_id, room_id, status, started_at, created_at, updated_at)
			VALUES ($1, $2, 'ASSIGNED', $3, NOW(), NOW())
			RETURNING `+assignmentColumns,
			applicationID, roomID, startedAt,
		)
		created, err := scanAssignment(row)
		if err != nil {
			return err
		}
		assignment = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assignment, nil
}

// GetActiveAssignment returns the application's ASSIGNED assignment, if any.
func (r *Repository) GetActiveAssignment(ctx context.Context, applicationID uuid.UUID) (*Assignment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+assignmentColumns+` FROM room_assignments
		WHERE application_id = $1 AND status = 'ASSIGNED'
		ORDER BY started_at DESC
		LIMIT 1`, applicationID)
	assignment, err := scanAssignment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAssignmentNotFound
	}
	return assignment, err
}

// EndAssignment closes an ASSIGNED assignment and frees its room in one
// transaction.
func (r *Repository) EndAssignment(ctx context.Context, assignmentID uuid.UUID, endedAt time.Time) (*Assignment, error) {
	var assignment *Assignment
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead}, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE room_assignments
			SET status = 'ENDED', ended_at = $2, updated_at = NOW()
			WHERE id = $1 AND status = 'ASSIGNED'
			RETURNING `+assignmentColumns,
			assignmentID, endedAt,
		)
		updated, err := scanAssignment(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAssignmentNotFound
		}
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE rooms SET status = 'AVAILABLE', updated_at = NOW()
			WHERE id = $1 AND status = 'OCCUPIED'`, updated.RoomID)
		if err != nil {
			return err
		}
		assignment = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assignment, nil
}

// ListRentCandidates returns one row per ASSIGNED assignment with the data the
// monthly rent run needs. Satisfies billing's assignment source.
func (r *Repository) ListRentCandidates(ctx context.Context) ([]billing.RentCandidate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ha.student_id, ha.id, ra.id, rm.label, rm.monthly_rate
		FROM room_assignments ra
		JOIN housing_applications ha ON ha.id = ra.application_id
		JOIN rooms rm ON rm.id = ra.room_id
		WHERE ra.status = 'ASSIGNED'
		ORDER BY ra.started_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []billing.RentCandidate
	for rows.Next() {
		var c billing.RentCandidate
		if err := rows.Scan(&c.StudentID, &c.HousingApplicationID, &c.AssignmentID, &c.RoomLabel, &c.MonthlyRate); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// DeleteApplicationCascade removes an application and every dependent row in
// one transaction: payments, invoice items, invoices, assignments, audit rows,
// the application itself. Occupied rooms are freed first so no room leaks into
// a permanently OCCUPIED state.
func (r *Repository) DeleteApplicationCascade(ctx context.Context, applicationID uuid.UUID) (*CascadeResult, error) {
	var result CascadeResult
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead}, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM housing_applications WHERE id = $1)`, applicationID,
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrApplicationNotFound
		}

		tag, err := tx.Exec(ctx, `
			UPDATE rooms SET status = 'AVAILABLE', updated_at = NOW()
			WHERE id IN (
				SELECT room_id FROM room_assignments
				WHERE application_id = $1 AND status = 'ASSIGNED'
			) AND status = 'OCCUPIED'`, applicationID)
		if err != nil {
			return err
		}
		result.RoomsFreed = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `
			DELETE FROM payments WHERE invoice_id IN (
				SELECT id FROM invoices WHERE housing_application_id = $1
			)`, applicationID)
		if err != nil {
			return err
		}
		result.Payments = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `
			DELETE FROM invoice_items WHERE invoice_id IN (
				SELECT id FROM invoices WHERE housing_application_id = $1
			)`, applicationID)
		if err != nil {
			return err
		}
		result.Items = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `DELETE FROM invoices WHERE housing_application_id = $1`, applicationID)
		if err != nil {
			return err
		}
		result.Invoices = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `DELETE FROM room_assignments WHERE application_id = $1`, applicationID)
		if err != nil {
			return err
		}
		result.Assignments = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `DELETE FROM audit_logs WHERE entity = 'housing' AND entity_id = $1`, applicationID.String())
		if err != nil {
			return err
		}
		result.AuditRows = tag.RowsAffected()

		_, err = tx.Exec(ctx, `DELETE FROM housing_applications WHERE id = $1`, applicationID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func scanBuilding(row pgx.Row) (*Building, error) {
	var b Building
	if err := row.Scan(&b.ID, &b.Name, &b.Address, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func scanRoom(row pgx.Row) (*Room, error) {
	var room Room
	err := row.Scan(
		&room.ID, &room.BuildingID, &room.Label, &room.Capacity,
		&room.MonthlyRate, &room.Status, &room.CreatedAt, &room.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func scanApplication(row pgx.Row) (*Application, error) {
	var app Application
	err := row.Scan(
		&app.ID, &app.StudentID, &app.Semester, &app.Status,
		&app.CreatedAt, &app.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &app, nil
}

func scanAssignment(row pgx.Row) (*Assignment, error) {
	var a Assignment
	var endedAt pgtype.Timestamptz
	err := row.Scan(
		&a.ID, &a.ApplicationID, &a.RoomID, &a.Status,
		&a.StartedAt, &endedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		t := endedAt.Time
		a.EndedAt = &t
	}
	return &a, nil
}
