package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odontoagenda/agenda/internal/platform/apperr"
	"github.com/odontoagenda/agenda/internal/platform/db"
)

// -- Actor Repository --

type actorRepoPG struct {
	pool db.Pool
}

func NewActorRepo(pool db.Pool) ActorRepository {
	return &actorRepoPG{pool: pool}
}

func (r *actorRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const actorCols = `id, name, role, active, created_at, updated_at`

func scanActor(row pgx.Row) (*Actor, error) {
	var a Actor
	err := row.Scan(&a.ID, &a.Name, &a.Role, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func (r *actorRepoPG) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.RunInTx(ctx, r.pool, fn)
}

func (r *actorRepoPG) LockActors(ctx context.Context) error {
	if db.TxFromContext(ctx) == nil {
		return errors.New("lock actors: no transaction in context")
	}
	if _, err := r.conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended('actors', 0))`); err != nil {
		return classify(err, "lock actors")
	}
	return nil
}

func (r *actorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Actor, error) {
	a, err := scanActor(r.conn(ctx).QueryRow(ctx, `SELECT `+actorCols+` FROM actors WHERE id = $1`, id))
	if err != nil {
		return nil, classify(err, "get actor")
	}
	return a, nil
}

func (r *actorRepoPG) List(ctx context.Context) ([]*Actor, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+actorCols+` FROM actors ORDER BY name, id`)
	if err != nil {
		return nil, classify(err, "list actors")
	}
	defer rows.Close()
	var items []*Actor
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return nil, classify(err, "scan actor")
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "list actors")
	}
	return items, nil
}

func (r *actorRepoPG) Create(ctx context.Context, a *Actor) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO actors (id, name, role, active)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		a.ID, a.Name, string(a.Role), a.Active,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return classify(err, "insert actor")
	}
	return nil
}

func (r *actorRepoPG) Update(ctx context.Context, a *Actor) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE actors SET name = $2, role = $3, active = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.Name, string(a.Role), a.Active,
	).Scan(&a.UpdatedAt)
	if err != nil {
		return classify(err, "update actor")
	}
	return nil
}

// -- Patient Repository --

type patientRepoPG struct {
	pool db.Pool
}

func NewPatientRepo(pool db.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (id, first_name, last_name, phone, fully_registered)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		p.ID, p.FirstName, p.LastName, p.Phone, p.FullyRegistered,
	).Scan(&p.CreatedAt)
	if err != nil {
		return classify(err, "insert patient")
	}
	return nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, first_name, last_name, phone, fully_registered, created_at
		FROM patients WHERE id = $1`, id,
	).Scan(&p.ID, &p.FirstName, &p.LastName, &p.Phone, &p.FullyRegistered, &p.CreatedAt)
	if err != nil {
		return nil, classify(err, "get patient")
	}
	return &p, nil
}

func (r *patientRepoPG) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, classify(err, "check patient")
	}
	return exists, nil
}

func classify(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Wrap(apperr.KindNotFound, err, fmt.Sprintf("%s: not found", op))
	}
	return apperr.Wrap(apperr.KindStoreUnavailable, err, op)
}
