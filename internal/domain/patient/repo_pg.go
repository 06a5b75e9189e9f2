package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iyacare/iyacare/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const patientCols = `id, name, phone, email, age, preferred_language, gestational_weeks,
	risk_level, risk_score, risk_factors, risk_source, risk_confidence, last_assessed_at, needs_alert,
	created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Phone, &p.Email, &p.Age, &p.PreferredLanguage, &p.GestationalWeeks,
		&p.Risk.Level, &p.Risk.Score, &p.Risk.Factors, &p.Risk.Source, &p.Risk.Confidence, &p.Risk.LastAssessedAt, &p.Risk.NeedsAlert,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &p, err
}

func collect(rows pgx.Rows) ([]*Patient, error) {
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	if p.Risk.Factors == nil {
		p.Risk.Factors = []string{}
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patient (id, name, phone, email, age, preferred_language, gestational_weeks,
			risk_level, risk_score, risk_factors, risk_source)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Phone, p.Email, p.Age, p.PreferredLanguage, p.GestationalWeeks,
		p.Risk.Level, p.Risk.Score, p.Risk.Factors, p.Risk.Source).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM patient`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+patientCols+` FROM patient ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := collect(rows)
	return items, total, err
}

func (r *repoPG) ListAll(ctx context.Context) ([]*Patient, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+patientCols+` FROM patient ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// SetRisk locks the row, compares the stored level and writes the new state
// in one statement so concurrent writers cannot lose a needs_alert flip.
func (r *repoPG) SetRisk(ctx context.Context, id uuid.UUID, s RiskState) (*Patient, string, error) {
	if s.Factors == nil {
		s.Factors = []string{}
	}
	var previous string
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `
		WITH prev AS (
			SELECT id, risk_level FROM patient WHERE id = $1 FOR UPDATE
		)
		UPDATE patient p SET
			risk_level = $2, risk_score = $3, risk_factors = $4, risk_source = $5,
			risk_confidence = $6, last_assessed_at = $7,
			needs_alert = p.needs_alert OR prev.risk_level <> $2,
			updated_at = NOW()
		FROM prev
		WHERE p.id = prev.id
		RETURNING prev.risk_level, p.id, p.name, p.phone, p.email, p.age, p.preferred_language, p.gestational_weeks,
			p.risk_level, p.risk_score, p.risk_factors, p.risk_source, p.risk_confidence, p.last_assessed_at, p.needs_alert,
			p.created_at, p.updated_at`,
		id, s.Level, s.Score, s.Factors, s.Source, s.Confidence, s.LastAssessedAt)

	var p Patient
	err := row.Scan(&previous, &p.ID, &p.Name, &p.Phone, &p.Email, &p.Age, &p.PreferredLanguage, &p.GestationalWeeks,
		&p.Risk.Level, &p.Risk.Score, &p.Risk.Factors, &p.Risk.Source, &p.Risk.Confidence, &p.Risk.LastAssessedAt, &p.Risk.NeedsAlert,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", err
	}
	return &p, previous, nil
}

func (r *repoPG) ClearNeedsAlert(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE patient SET needs_alert = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
