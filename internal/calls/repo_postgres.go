package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresRepo implements Repository on database/sql (pgx stdlib driver).
//
// Schema precondition (established by migrations, never by this package):
// tables calls and call_legs with the columns referenced below.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const callColumns = `id, organization_id, provider_call_id, from_number, to_number,
	direction, status, answered_by, lead_id, started_at, ended_at, duration,
	created_at, updated_at`

func (r *PostgresRepo) CreateCall(ctx context.Context, c Call) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO calls (`+callColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		c.ID, c.OrgID, c.ProviderCallID, c.FromNumber, c.ToNumber,
		c.Direction, c.Status, nullStr(c.AnsweredBy), nullStr(c.LeadID),
		nullTime(c.StartedAt), nullTime(c.EndedAt), c.DurationSeconds,
		c.CreatedAt, c.UpdatedAt)
	return err
}

func (r *PostgresRepo) GetCall(ctx context.Context, id string) (Call, error) {
	return r.scanCall(r.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM calls WHERE id = $1`, id))
}

func (r *PostgresRepo) GetCallByProviderID(ctx context.Context, providerCallID string) (Call, bool, error) {
	c, err := r.scanCall(r.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM calls WHERE provider_call_id = $1`, providerCallID))
	if errors.Is(err, ErrNotFound) {
		return Call{}, false, nil
	}
	if err != nil {
		return Call{}, false, err
	}
	return c, true, nil
}

func (r *PostgresRepo) FindActiveCallByDID(ctx context.Context, did string) (Call, bool, error) {
	c, err := r.scanCall(r.db.QueryRowContext(ctx, `
		SELECT `+callColumns+` FROM calls
		WHERE (to_number = $1 OR from_number = $1) AND status <> $2
		ORDER BY created_at DESC
		LIMIT 1`, did, CallStatusCompleted))
	if errors.Is(err, ErrNotFound) {
		return Call{}, false, nil
	}
	if err != nil {
		return Call{}, false, err
	}
	return c, true, nil
}

func (r *PostgresRepo) UpdateCall(ctx context.Context, c Call) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE calls SET
			status = $2, answered_by = $3, started_at = $4, ended_at = $5,
			duration = $6, updated_at = $7
		WHERE id = $1`,
		c.ID, c.Status, nullStr(c.AnsweredBy), nullTime(c.StartedAt),
		nullTime(c.EndedAt), c.DurationSeconds, c.UpdatedAt)
	if err != nil {
		return err
	}
	return requireRow(res)
}

const legColumns = `id, call_id, leg_type, sip_endpoint_id, destination, status,
	priority, dialed_at, answered_at, ended_at, duration, created_at, updated_at`

func (r *PostgresRepo) CreateLeg(ctx context.Context, l CallLeg) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO call_legs (`+legColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		l.ID, l.CallID, l.LegType, nullStr(l.SipEndpointID), l.Destination, l.Status,
		l.Priority, nullTime(l.DialedAt), nullTime(l.AnsweredAt), nullTime(l.EndedAt),
		l.DurationSeconds, l.CreatedAt, l.UpdatedAt)
	return err
}

func (r *PostgresRepo) GetLeg(ctx context.Context, id string) (CallLeg, error) {
	return r.scanLeg(r.db.QueryRowContext(ctx,
		`SELECT `+legColumns+` FROM call_legs WHERE id = $1`, id))
}

func (r *PostgresRepo) GetLegByDestination(ctx context.Context, callID, destination string) (CallLeg, bool, error) {
	l, err := r.scanLeg(r.db.QueryRowContext(ctx, `
		SELECT `+legColumns+` FROM call_legs
		WHERE call_id = $1 AND destination = $2`, callID, destination))
	if errors.Is(err, ErrNotFound) {
		return CallLeg{}, false, nil
	}
	if err != nil {
		return CallLeg{}, false, err
	}
	return l, true, nil
}

func (r *PostgresRepo) ListLegs(ctx context.Context, callID string) ([]CallLeg, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+legColumns+` FROM call_legs
		WHERE call_id = $1
		ORDER BY priority ASC`, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]CallLeg, 0)
	for rows.Next() {
		l, err := r.scanLeg(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) NextPendingLeg(ctx context.Context, callID string) (CallLeg, bool, error) {
	l, err := r.scanLeg(r.db.QueryRowContext(ctx, `
		SELECT `+legColumns+` FROM call_legs
		WHERE call_id = $1 AND status = $2
		ORDER BY priority ASC
		LIMIT 1`, callID, LegStatusPending))
	if errors.Is(err, ErrNotFound) {
		return CallLeg{}, false, nil
	}
	if err != nil {
		return CallLeg{}, false, err
	}
	return l, true, nil
}

func (r *PostgresRepo) UpdateLeg(ctx context.Context, l CallLeg) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE call_legs SET
			status = $2, sip_endpoint_id = $3, dialed_at = $4, answered_at = $5,
			ended_at = $6, duration = $7, updated_at = $8
		WHERE id = $1`,
		l.ID, l.Status, nullStr(l.SipEndpointID), nullTime(l.DialedAt),
		nullTime(l.AnsweredAt), nullTime(l.EndedAt), l.DurationSeconds, l.UpdatedAt)
	if err != nil {
		return err
	}
	return requireRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresRepo) scanCall(row rowScanner) (Call, error) {
	var c Call
	var answeredBy, leadID sql.NullString
	var startedAt, endedAt sql.NullTime
	err := row.Scan(&c.ID, &c.OrgID, &c.ProviderCallID, &c.FromNumber, &c.ToNumber,
		&c.Direction, &c.Status, &answeredBy, &leadID, &startedAt, &endedAt,
		&c.DurationSeconds, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	if err != nil {
		return Call{}, err
	}
	c.AnsweredBy = answeredBy.String
	c.LeadID = leadID.String
	c.StartedAt = timePtr(startedAt)
	c.EndedAt = timePtr(endedAt)
	return c, nil
}

func (r *PostgresRepo) scanLeg(row rowScanner) (CallLeg, error) {
	var l CallLeg
	var endpointID sql.NullString
	var dialedAt, answeredAt, endedAt sql.NullTime
	err := row.Scan(&l.ID, &l.CallID, &l.LegType, &endpointID, &l.Destination,
		&l.Status, &l.Priority, &dialedAt, &answeredAt, &endedAt,
		&l.DurationSeconds, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CallLeg{}, ErrNotFound
	}
	if err != nil {
		return CallLeg{}, err
	}
	l.SipEndpointID = endpointID.String
	l.DialedAt = timePtr(dialedAt)
	l.AnsweredAt = timePtr(answeredAt)
	l.EndedAt = timePtr(endedAt)
	return l, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
