package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iyacare/iyacare/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const notificationCols = `id, patient_id, patient_name, category, message, priority, risk_level,
	read, read_at, created_at, created_by`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.PatientID, &n.PatientName, &n.Category, &n.Message, &n.Priority, &n.RiskLevel,
		&n.Read, &n.ReadAt, &n.CreatedAt, &n.CreatedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &n, err
}

// CreateIfNoneUnread relies on uq_notification_unread_risk; a conflicting
// insert affects no rows.
func (r *repoPG) CreateIfNoneUnread(ctx context.Context, n *Notification) (bool, error) {
	n.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO notification (id, patient_id, patient_name, category, message, priority, risk_level, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (patient_id) WHERE category = 'risk' AND read = FALSE DO NOTHING
		RETURNING created_at`,
		n.ID, n.PatientID, n.PatientName, n.Category, n.Message, n.Priority, n.RiskLevel, n.CreatedBy).Scan(&n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		n.ID = uuid.Nil
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Notification, error) {
	return scanNotification(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+notificationCols+` FROM notification WHERE id = $1`, id))
}

func (r *repoPG) MarkRead(ctx context.Context, id uuid.UUID, at time.Time) (*Notification, error) {
	return scanNotification(db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE notification SET read = TRUE, read_at = COALESCE(read_at, $2)
		WHERE id = $1
		RETURNING `+notificationCols, id, at))
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Notification, int, error) {
	where := ` WHERE TRUE`
	var args []interface{}
	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		where += fmt.Sprintf(" AND patient_id = $%d", len(args))
	}
	if f.Category != "" {
		args = append(args, f.Category)
		where += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if f.UnreadOnly {
		where += ` AND read = FALSE`
	}

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM notification`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	q := `SELECT ` + notificationCols + ` FROM notification` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := db.Conn(ctx, r.pool).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, n)
	}
	return items, total, rows.Err()
}

func (r *repoPG) UnreadRiskPatients(ctx context.Context) (map[uuid.UUID]bool, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT patient_id FROM notification WHERE category = 'risk' AND read = FALSE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[uuid.UUID]bool)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}
