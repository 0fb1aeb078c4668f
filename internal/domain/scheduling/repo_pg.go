package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odontoagenda/agenda/internal/platform/apperr"
	"github.com/odontoagenda/agenda/internal/platform/db"
)

const (
	pgExclusionViolation  = "23P01"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

type slotRepoPG struct {
	pool    db.Pool
	dialect goqu.DialectWrapper
}

func NewSlotRepoPG(pool db.Pool) SlotRepository {
	return &slotRepoPG{pool: pool, dialect: goqu.Dialect("postgres")}
}

func (r *slotRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

var slotColumns = []interface{}{
	"id", "patient_id", "practitioner_id", "date", "start_minute",
	"duration_minutes", "note", "created_at", "updated_at",
}

const slotCols = `id, patient_id, practitioner_id, date, start_minute,
	duration_minutes, note, created_at, updated_at`

func scanSlot(row pgx.Row) (*Slot, error) {
	var (
		s     Slot
		date  time.Time
		start int
	)
	if err := row.Scan(&s.ID, &s.PatientID, &s.PractitionerID, &date, &start,
		&s.DurationMinutes, &s.Note, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Date = DateOf(date)
	s.StartTime = ClockTime(start)
	return &s, nil
}

func (r *slotRepoPG) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.RunInTx(ctx, r.pool, fn)
}

func (r *slotRepoPG) LockCalendars(ctx context.Context, practitionerIDs ...uuid.UUID) error {
	if db.TxFromContext(ctx) == nil {
		return errors.New("lock calendars: no transaction in context")
	}
	for _, id := range uniqueSorted(practitionerIDs) {
		if _, err := r.conn(ctx).Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "calendar:"+id.String()); err != nil {
			return storeError(err, "lock calendar")
		}
	}
	return nil
}

func (r *slotRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	s, err := scanSlot(r.conn(ctx).QueryRow(ctx, `SELECT `+slotCols+` FROM slots WHERE id = $1`, id))
	if err != nil {
		return nil, storeError(err, "get slot")
	}
	return s, nil
}

func (r *slotRepoPG) ListForDay(ctx context.Context, practitionerID uuid.UUID, date Date) ([]*Slot, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+slotCols+` FROM slots
		WHERE practitioner_id = $1 AND date = $2
		ORDER BY start_minute, created_at, id`, practitionerID, date.Time())
	if err != nil {
		return nil, storeError(err, "list day")
	}
	defer rows.Close()
	var items []*Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, storeError(err, "scan slot")
		}
		items = append(items, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError(err, "list day")
	}
	return items, nil
}

func (r *slotRepoPG) Create(ctx context.Context, s *Slot) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO slots (id, patient_id, practitioner_id, date, start_minute, duration_minutes, note)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`,
		s.ID, s.PatientID, s.PractitionerID, s.Date.Time(), int(s.StartTime), s.DurationMinutes, s.Note,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return storeError(err, "insert slot")
	}
	return nil
}

func (r *slotRepoPG) Update(ctx context.Context, s *Slot) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE slots SET patient_id=$2, practitioner_id=$3, date=$4, start_minute=$5,
			duration_minutes=$6, note=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.PatientID, s.PractitionerID, s.Date.Time(), int(s.StartTime), s.DurationMinutes, s.Note,
	).Scan(&s.UpdatedAt)
	if err != nil {
		return storeError(err, "update slot")
	}
	return nil
}

func (r *slotRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM slots WHERE id = $1`, id)
	if err != nil {
		return storeError(err, "delete slot")
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "slot %s not found", id)
	}
	return nil
}

func (r *slotRepoPG) Search(ctx context.Context, f Filter) ([]*Slot, int, error) {
	ds := r.dialect.From("slots").Prepared(true)
	if f.PractitionerID != uuid.Nil {
		ds = ds.Where(goqu.C("practitioner_id").Eq(f.PractitionerID.String()))
	}
	if f.PatientID != uuid.Nil {
		ds = ds.Where(goqu.C("patient_id").Eq(f.PatientID.String()))
	}
	if !f.From.IsZero() {
		ds = ds.Where(goqu.C("date").Gte(f.From.Time()))
	}
	if !f.To.IsZero() {
		ds = ds.Where(goqu.C("date").Lte(f.To.Time()))
	}

	countSQL, countArgs, err := ds.Select(goqu.COUNT(goqu.Star())).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, storeError(err, "count slots")
	}

	list := ds.Select(slotColumns...).Order(
		goqu.C("date").Asc(), goqu.C("start_minute").Asc(),
		goqu.C("created_at").Asc(), goqu.C("id").Asc(),
	)
	if f.Limit > 0 {
		list = list.Limit(uint(f.Limit))
	}
	if f.Offset > 0 {
		list = list.Offset(uint(f.Offset))
	}
	query, args, err := list.ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build list query: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, storeError(err, "list slots")
	}
	defer rows.Close()
	var items []*Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, 0, storeError(err, "scan slot")
		}
		items = append(items, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storeError(err, "list slots")
	}
	return items, total, nil
}

// storeError classifies a pgx failure.
func storeError(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Wrap(apperr.KindNotFound, err, "slot not found")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgExclusionViolation:
			return &ConflictError{}
		case pgForeignKeyViolation:
			if pgErr.ConstraintName == "slots_practitioner_id_fkey" {
				return apperr.Wrap(apperr.KindInvalidTarget, err, "practitioner does not exist")
			}
			return apperr.Wrap(apperr.KindInvalidTarget, err, "patient does not exist")
		case pgCheckViolation:
			return apperr.Wrap(apperr.KindInvalidInput, err, "slot violates calendar constraints")
		}
	}
	return apperr.Wrap(apperr.KindStoreUnavailable, err, op)
}
