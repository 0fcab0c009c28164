package tenant

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresRepo implements Repository on database/sql (pgx stdlib driver).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const endpointColumns = `id, organization_id, username, encrypted_password, domain,
	priority, timeout_secs, active, created_at, updated_at`

func (r *PostgresRepo) ListActiveSipEndpoints(ctx context.Context, orgID string) ([]SipEndpoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+endpointColumns+` FROM sip_endpoints
		WHERE organization_id = $1 AND active
		ORDER BY priority ASC, created_at ASC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]SipEndpoint, 0)
	for rows.Next() {
		var e SipEndpoint
		if err := rows.Scan(&e.ID, &e.OrgID, &e.Username, &e.EncryptedPassword,
			&e.Domain, &e.Priority, &e.TimeoutSecs, &e.Active, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) GetSipEndpoint(ctx context.Context, id string) (SipEndpoint, error) {
	var e SipEndpoint
	err := r.db.QueryRowContext(ctx,
		`SELECT `+endpointColumns+` FROM sip_endpoints WHERE id = $1`, id).
		Scan(&e.ID, &e.OrgID, &e.Username, &e.EncryptedPassword, &e.Domain,
			&e.Priority, &e.TimeoutSecs, &e.Active, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SipEndpoint{}, ErrNotFound
	}
	return e, err
}

func (r *PostgresRepo) FindSipEndpointByUsername(ctx context.Context, orgID, username string) (SipEndpoint, bool, error) {
	var e SipEndpoint
	err := r.db.QueryRowContext(ctx, `
		SELECT `+endpointColumns+` FROM sip_endpoints
		WHERE organization_id = $1 AND username = $2`, orgID, username).
		Scan(&e.ID, &e.OrgID, &e.Username, &e.EncryptedPassword, &e.Domain,
			&e.Priority, &e.TimeoutSecs, &e.Active, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SipEndpoint{}, false, nil
	}
	if err != nil {
		return SipEndpoint{}, false, err
	}
	return e, true, nil
}

func (r *PostgresRepo) UpsertSipEndpoint(ctx context.Context, e SipEndpoint) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sip_endpoints (`+endpointColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			encrypted_password = EXCLUDED.encrypted_password,
			domain = EXCLUDED.domain,
			priority = EXCLUDED.priority,
			timeout_secs = EXCLUDED.timeout_secs,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at`,
		e.ID, e.OrgID, e.Username, e.EncryptedPassword, e.Domain,
		e.Priority, e.TimeoutSecs, e.Active, e.CreatedAt, e.UpdatedAt)
	return err
}

func (r *PostgresRepo) GetTelephonyConfig(ctx context.Context, orgID string) (TelephonyConfig, bool, error) {
	var cfg TelephonyConfig
	var apiKeyRef sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT organization_id, webhook_url, fallback_number, connection_id, api_key_ref, updated_at
		FROM telephony_configs WHERE organization_id = $1`, orgID).
		Scan(&cfg.OrgID, &cfg.WebhookURL, &cfg.FallbackNumber, &cfg.ConnectionID,
			&apiKeyRef, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return TelephonyConfig{}, false, nil
	}
	if err != nil {
		return TelephonyConfig{}, false, err
	}
	cfg.APIKeyRef = apiKeyRef.String
	return cfg, true, nil
}

func (r *PostgresRepo) SaveTelephonyConfig(ctx context.Context, cfg TelephonyConfig) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO telephony_configs (organization_id, webhook_url, fallback_number, connection_id, api_key_ref, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (organization_id) DO UPDATE SET
			webhook_url = EXCLUDED.webhook_url,
			fallback_number = EXCLUDED.fallback_number,
			connection_id = EXCLUDED.connection_id,
			api_key_ref = EXCLUDED.api_key_ref,
			updated_at = EXCLUDED.updated_at`,
		cfg.OrgID, cfg.WebhookURL, cfg.FallbackNumber, cfg.ConnectionID,
		sql.NullString{String: cfg.APIKeyRef, Valid: cfg.APIKeyRef != ""}, cfg.UpdatedAt)
	return err
}

func (r *PostgresRepo) OrgByConnectionID(ctx context.Context, connectionID string) (string, bool, error) {
	var orgID string
	err := r.db.QueryRowContext(ctx,
		`SELECT organization_id FROM telnyx_connections WHERE id = $1`, connectionID).
		Scan(&orgID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return orgID, true, nil
}

func (r *PostgresRepo) OrgByPhoneNumber(ctx context.Context, number string) (string, bool, error) {
	var orgID string
	err := r.db.QueryRowContext(ctx,
		`SELECT organization_id FROM telnyx_phone_numbers WHERE number = $1`, number).
		Scan(&orgID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return orgID, true, nil
}
