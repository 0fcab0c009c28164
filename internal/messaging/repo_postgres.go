package messaging

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresRepo implements Repository on database/sql (pgx stdlib driver).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const messageColumns = `id, organization_id, provider_message_id, from_number, to_number,
	direction, text, status, sent_at, delivered_at, created_at, updated_at`

func (r *PostgresRepo) Create(ctx context.Context, m Message) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		m.ID, m.OrgID, m.ProviderMessageID, m.FromNumber, m.ToNumber,
		m.Direction, m.Text, m.Status, nullTime(m.SentAt), nullTime(m.DeliveredAt),
		m.CreatedAt, m.UpdatedAt)
	return err
}

func (r *PostgresRepo) GetByProviderID(ctx context.Context, providerMessageID string) (Message, bool, error) {
	var m Message
	var sentAt, deliveredAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE provider_message_id = $1`, providerMessageID).
		Scan(&m.ID, &m.OrgID, &m.ProviderMessageID, &m.FromNumber, &m.ToNumber,
			&m.Direction, &m.Text, &m.Status, &sentAt, &deliveredAt,
			&m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, err
	}
	if sentAt.Valid {
		m.SentAt = &sentAt.Time
	}
	if deliveredAt.Valid {
		m.DeliveredAt = &deliveredAt.Time
	}
	return m, true, nil
}

func (r *PostgresRepo) Update(ctx context.Context, m Message) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET status = $2, sent_at = $3, delivered_at = $4, updated_at = $5
		WHERE id = $1`,
		m.ID, m.Status, nullTime(m.SentAt), nullTime(m.DeliveredAt), m.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
