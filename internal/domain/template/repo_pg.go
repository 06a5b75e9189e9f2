package template

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iyacare/iyacare/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const templateCols = `id, name, category, content, variables, active, usage_count, last_used_at, created_at, updated_at`

func scanTemplate(row pgx.Row) (*Template, error) {
	var t Template
	err := row.Scan(&t.ID, &t.Name, &t.Category, &t.Content, &t.Variables, &t.Active,
		&t.UsageCount, &t.LastUsedAt, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTemplateNotFound
	}
	return &t, err
}

func (r *repoPG) GetByID(ctx context.Context, id string) (*Template, error) {
	return scanTemplate(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+templateCols+` FROM message_template WHERE id = $1`, id))
}

func (r *repoPG) List(ctx context.Context, category string, activeOnly bool) ([]*Template, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+templateCols+` FROM message_template
		WHERE ($1 = '' OR category = $1) AND (NOT $2 OR active)
		ORDER BY id`, category, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (r *repoPG) CreateIfAbsent(ctx context.Context, t *Template) (bool, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO message_template (id, name, category, content, variables, active)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO NOTHING`,
		t.ID, t.Name, t.Category, t.Content, t.Variables, t.Active)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) SetActive(ctx context.Context, id string, active bool) (*Template, error) {
	return scanTemplate(db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE message_template SET active = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+templateCols, id, active))
}

func (r *repoPG) IncrementUsage(ctx context.Context, id string, at time.Time) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE message_template SET usage_count = usage_count + 1, last_used_at = $2
		WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTemplateNotFound
	}
	return nil
}
