package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iyacare/iyacare/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const messageCols = `id, channel, recipient, COALESCE(subject, ''), body, category, priority, automated, status,
	COALESCE(gateway, ''), COALESCE(gateway_message_id, ''), patient_id, COALESCE(template_id, ''),
	COALESCE(failure_reason, ''), created_at, sent_at, delivered_at, read_at`

func scanMessage(row pgx.Row) (*OutboundMessage, error) {
	var m OutboundMessage
	err := row.Scan(&m.ID, &m.Channel, &m.Recipient, &m.Subject, &m.Body, &m.Category, &m.Priority, &m.Automated, &m.Status,
		&m.Gateway, &m.GatewayMessageID, &m.PatientID, &m.TemplateID,
		&m.FailureReason, &m.CreatedAt, &m.SentAt, &m.DeliveredAt, &m.ReadAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	return &m, err
}

func (r *repoPG) Create(ctx context.Context, m *OutboundMessage) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO outbound_message (id, channel, recipient, subject, body, category, priority, automated, status,
			gateway, gateway_message_id, patient_id, template_id, failure_reason, sent_at, delivered_at, read_at)
		VALUES ($1,$2,$3,NULLIF($4,''),$5,$6,$7,$8,$9,NULLIF($10,''),NULLIF($11,''),$12,NULLIF($13,''),NULLIF($14,''),$15,$16,$17)
		RETURNING created_at`,
		m.ID, m.Channel, m.Recipient, m.Subject, m.Body, m.Category, m.Priority, m.Automated, m.Status,
		m.Gateway, m.GatewayMessageID, m.PatientID, m.TemplateID, m.FailureReason, m.SentAt, m.DeliveredAt, m.ReadAt,
	).Scan(&m.CreatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*OutboundMessage, error) {
	return scanMessage(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+messageCols+` FROM outbound_message WHERE id = $1`, id))
}

func (r *repoPG) GetByGatewayID(ctx context.Context, gatewayID string) (*OutboundMessage, error) {
	return scanMessage(db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+messageCols+` FROM outbound_message WHERE gateway_message_id = $1
		ORDER BY created_at DESC LIMIT 1`, gatewayID))
}

func (r *repoPG) Update(ctx context.Context, id uuid.UUID, fn func(m *OutboundMessage) error) (*OutboundMessage, error) {
	var out *OutboundMessage
	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		m, err := scanMessage(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+messageCols+` FROM outbound_message WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
		_, err = db.Conn(ctx, r.pool).Exec(ctx, `
			UPDATE outbound_message SET status = $2, gateway = NULLIF($3,''), gateway_message_id = NULLIF($4,''),
				failure_reason = NULLIF($5,''), sent_at = $6, delivered_at = $7, read_at = $8
			WHERE id = $1`,
			m.ID, m.Status, m.Gateway, m.GatewayMessageID, m.FailureReason, m.SentAt, m.DeliveredAt, m.ReadAt)
		out = m
		return err
	})
	return out, err
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*OutboundMessage, int, error) {
	where := ` WHERE TRUE`
	var args []interface{}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Channel != "" {
		args = append(args, f.Channel)
		where += fmt.Sprintf(" AND channel = $%d", len(args))
	}
	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		where += fmt.Sprintf(" AND patient_id = $%d", len(args))
	}

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM outbound_message`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+messageCols+` FROM outbound_message`+where+
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*OutboundMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}
