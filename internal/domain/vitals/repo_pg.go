package vitals

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

const readingCols = `id, patient_id, systolic, diastolic, heart_rate, temperature, blood_sugar,
	oxygen_saturation, respiratory_rate, recorded_at, recorded_by, source, created_at`

func scanReading(row pgx.Row) (*Reading, error) {
	var r Reading
	err := row.Scan(&r.ID, &r.PatientID, &r.Systolic, &r.Diastolic, &r.HeartRate, &r.Temperature, &r.BloodSugar,
		&r.OxygenSaturation, &r.RespiratoryRate, &r.RecordedAt, &r.RecordedBy, &r.Source, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &r, err
}

func (p *repoPG) Create(ctx context.Context, r *Reading) error {
	r.ID = uuid.New()
	return db.Conn(ctx, p.pool).QueryRow(ctx, `
		INSERT INTO vital_reading (id, patient_id, systolic, diastolic, heart_rate, temperature, blood_sugar,
			oxygen_saturation, respiratory_rate, recorded_at, recorded_by, source)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at`,
		r.ID, r.PatientID, r.Systolic, r.Diastolic, r.HeartRate, r.Temperature, r.BloodSugar,
		r.OxygenSaturation, r.RespiratoryRate, r.RecordedAt, r.RecordedBy, r.Source).Scan(&r.CreatedAt)
}

func (p *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Reading, error) {
	return scanReading(db.Conn(ctx, p.pool).QueryRow(ctx, `SELECT `+readingCols+` FROM vital_reading WHERE id = $1`, id))
}

func (p *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Reading, int, error) {
	var total int
	if err := db.Conn(ctx, p.pool).QueryRow(ctx, `SELECT COUNT(*) FROM vital_reading WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := db.Conn(ctx, p.pool).Query(ctx, `SELECT `+readingCols+` FROM vital_reading
		WHERE patient_id = $1 ORDER BY recorded_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Reading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, r)
	}
	return items, total, rows.Err()
}

func (p *repoPG) Latest(ctx context.Context, patientID uuid.UUID) (*Reading, error) {
	return scanReading(db.Conn(ctx, p.pool).QueryRow(ctx, `SELECT `+readingCols+` FROM vital_reading
		WHERE patient_id = $1 ORDER BY recorded_at DESC, created_at DESC LIMIT 1`, patientID))
}
