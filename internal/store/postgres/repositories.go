package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/feen-dev/feen-gateway/internal/apperr"
	"github.com/feen-dev/feen-gateway/internal/model"
)

// ErrNotFound is returned by single-row lookups that miss.
var ErrNotFound = apperr.New(apperr.CodeNotFound, "record not found")

// UserRepository exposes typed CRUD for User.
type UserRepository interface {
	Create(ctx context.Context, u *model.User) error
	Get(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	SetDisabled(ctx context.Context, id string, disabled bool) error
	// SetTOTP persists the 2FA enrollment state: secret is nil once disabled.
	SetTOTP(ctx context.Context, id string, secret *string, enabled bool, backupHashes []string) error
}

// APIKeyRepository exposes typed CRUD for the vault record.
type APIKeyRepository interface {
	Create(ctx context.Context, k *model.APIKey) error
	Get(ctx context.Context, id string) (*model.APIKey, error)
	ListByOwner(ctx context.Context, ownerUserID string) ([]*model.APIKey, error)
	ListActiveByOwnerAndProviders(ctx context.Context, ownerUserID string, providers []model.Provider) ([]*model.APIKey, error)
	Update(ctx context.Context, k *model.APIKey) error
	Delete(ctx context.Context, id string) error
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
	// MostRecentlyUsedByProvider returns the active key for provider with
	// the latest LastUsedAt, used by the latency probe loop to pick a
	// representative credential per provider.
	MostRecentlyUsedByProvider(ctx context.Context, provider model.Provider) (*model.APIKey, error)
	// ActiveProviders lists the distinct providers with at least one
	// active key, used to scope the latency probe's per-tick work.
	ActiveProviders(ctx context.Context) ([]model.Provider, error)
}

// SharedTokenRepository exposes typed CRUD for shared tokens.
type SharedTokenRepository interface {
	Create(ctx context.Context, t *model.SharedToken) error
	Get(ctx context.Context, id string) (*model.SharedToken, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*model.SharedToken, error)
	ListByOwner(ctx context.Context, ownerUserID string) ([]*model.SharedToken, error)
	ListExpiredActive(ctx context.Context, now time.Time) ([]*model.SharedToken, error)
	Update(ctx context.Context, t *model.SharedToken) error
	Delete(ctx context.Context, id string) error
	// Rotate atomically replaces AccessToken/TokenHash.
	Rotate(ctx context.Context, id string, newAccessToken *string, newTokenHash string, persistPlaintext bool) error
	IncrementUsage(ctx context.Context, id string, at time.Time) error
	SetActive(ctx context.Context, id string, active bool) error
}

// UsageLogRepository exposes append/prune for immutable usage records.
type UsageLogRepository interface {
	Insert(ctx context.Context, l *model.UsageLog) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	SumTotalTokensForDay(ctx context.Context, sharedTokenID string, day time.Time) (int64, error)
}

// AuditLogRepository exposes append/prune for audit records.
type AuditLogRepository interface {
	Insert(ctx context.Context, a *model.AuditLog) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*model.AuditLog, error)
}

// WebhookRepository exposes typed CRUD for registered webhooks.
type WebhookRepository interface {
	Create(ctx context.Context, w *model.Webhook) error
	Get(ctx context.Context, id string) (*model.Webhook, error)
	ListActiveForEvent(ctx context.Context, event string) ([]*model.Webhook, error)
	ListByOwner(ctx context.Context, ownerUserID string) ([]*model.Webhook, error)
	Delete(ctx context.Context, id string) error
}

// CreateSharedTokenWithAudit is the one transactional batch primitive named
// in spec.md §4.2: it writes the shared-token row and its audit entry
// atomically via pgx.Tx.
func CreateSharedTokenWithAudit(ctx context.Context, pool *pgxpool.Pool, t *model.SharedToken, a *model.AuditLog) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.CodeDatabaseError, "begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := insertSharedTokenTx(ctx, tx, t); err != nil {
		return err
	}
	if err := insertAuditLogTx(ctx, tx, a); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.CodeDatabaseError, "commit transaction", err)
	}
	return nil
}

func insertSharedTokenTx(ctx context.Context, tx pgx.Tx, t *model.SharedToken) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO shared_tokens (
			id, api_key_id, owner_user_id, access_token, token_hash, name,
			rate_per_minute, daily_cap, usage_count, max_total_use, expires_at,
			allowed_ips, allowed_models, scopes, require_signature, signing_secret,
			active, last_used_at, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		t.ID, t.APIKeyID, t.OwnerUserID, t.AccessToken, t.TokenHash, t.Name,
		t.RatePerMinute, t.DailyCap, t.UsageCount, t.MaxTotalUse, t.ExpiresAt,
		t.AllowedIPs, t.AllowedModels, t.Scopes, t.RequireSignature, t.SigningSecret,
		t.Active, t.LastUsedAt, t.CreatedAt,
	)
	if err != nil {
		return apperr.Wrap(apperr.CodeDatabaseError, "insert shared token", err)
	}
	return nil
}

func insertAuditLogTx(ctx context.Context, tx pgx.Tx, a *model.AuditLog) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO audit_logs (id, user_id, action, details, request_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		a.ID, a.UserID, a.Action, a.Details, a.RequestID, a.CreatedAt,
	)
	if err != nil {
		return apperr.Wrap(apperr.CodeDatabaseError, "insert audit log", err)
	}
	return nil
}

func wrapRowErr(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return apperr.Wrap(apperr.CodeDatabaseError, op, err)
}

// --- users ---

type userRepo struct{ pool *pgxpool.Pool }

func (r *userRepo) Create(ctx context.Context, u *model.User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, email, disabled, totp_secret, totp_enabled, backup_code_hashes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		u.ID, u.Email, u.Disabled, u.TOTPSecret, u.TOTPEnabled, u.BackupCodeHashes, u.CreatedAt)
	if err != nil {
		return apperr.Wrap(apperr.CodeDatabaseError, "insert user", err)
	}
	return nil
}

const userColumns = `id, email, disabled, totp_secret, totp_enabled, backup_code_hashes, created_at`

func (r *userRepo) Get(ctx context.Context, id string) (*model.User, error) {
	return r.scanOne(ctx, fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns), id)
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.scanOne(ctx, fmt.Sprintf(`SELECT %s FROM users WHERE email = $1`, userColumns), email)
}

func (r *userRepo) scanOne(ctx context.Context, query string, arg any) (*model.User, error) {
	row := r.pool.QueryRow(ctx, query, arg)
	u := &model.User{}
	if err := row.Scan(&u.ID, &u.Email, &u.Disabled, &u.TOTPSecret, &u.TOTPEnabled, &u.BackupCodeHashes, &u.CreatedAt); err != nil {
		return nil, wrapRowErr(err, "select user")
	}
	return u, nil
}

func (r *userRepo) SetDisabled(ctx context.Context, id string, disabled bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET disabled = $2 WHERE id = $1`, id, disabled)
	if err != nil {
		return apperr.Wrap(apperr.CodeDatabaseError, "update user", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepo) SetTOTP(ctx context.Context, id string, secret *string, enabled bool, backupHashes []string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users SET totp_secret=$2, totp_enabled=$3, backup_code_hashes=$4 WHERE id=$1`,
		id, secret, enabled, backupHashes)
	if err != nil {
		return apperr.Wrap(apperr.CodeDatabaseError, "update user totp state", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- API keys ---

type apiKeyRepo struct{ pool *pgxpool.Pool }

func (r *apiKeyRepo) Create(ctx context.Context, k *model.APIKey) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO api_keys (
			id, owner_user_id, team_id, provider, encrypted_material, material_hash,
			display_prefix, rate_per_minute, daily_cap, active, last_used_at, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		k.ID, k.OwnerUserID, k.TeamID, k.Provider, k.EncryptedMaterial, k.MaterialHash,
		k.DisplayPrefix, k.RatePerMinute, k.DailyCap, k.Active, k.LastUsedAt, k.CreatedAt,
	)
	if err != nil {
		return apperr.Wrap(apperr.CodeDatabaseError, "insert api key", err)
	}
	return nil
}

func (r *apiKeyRepo) Get(ctx context.Context, id string) (*model.APIKey, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, owner_user_id, team_id, provider, encrypted_material, material_hash,
			display_prefix, rate_per_minute, daily_cap, active, last_used_at, created_at
		FROM api_keys WHERE id = $1`, id)
	return scanAPIKey(row)
}

func (r *apiKeyRepo) ListByOwner(ctx context.Context, ownerUserID string) ([]*model.APIKey, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, owner_user_id, team_id, provider, encrypted_material, material_hash,
			display_prefix, rate_per_minute, daily_cap, active, last_used_at, created_at
		FROM api_keys WHERE owner_user_id = $1 ORDER BY created_at ASC`, ownerUserID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDatabaseError, "list api keys", err)
	}
	defer rows.Close()
	var out []*model.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (r *apiKeyRepo) ListActiveByOwnerAndProviders(
	ctx context.Context, ownerUserID string, providers []model.Provider,
) ([]*model.APIKey, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, owner_user_id, team_id, provider, encrypted_material, material_hash,
			display_prefix, rate_per_minute, daily_cap, active, last_used_at, created_at
		FROM api_keys
		WHERE owner_user_id = $1 AND active = true AND ($2::text[] IS NULL OR provider = ANY($2))
		ORDER BY created_at ASC`, ownerUserID, providersToStrings(providers))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDatabaseError, "list active api keys", err)
	}
	defer rows.Close()
	var out []*model.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func providersToStrings(providers []model.Provider) []string {
	if len(providers) == 0 {
		return nil
	}
	out := make([]string, len(providers))
	for i, p := range providers {
		out[i] = string(p)
	}
	return out
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAPIKey(row rowScanner) (*model.APIKey, error) {
	k := &model.APIKey{}
	err := row.Scan(
		&k.ID, &k.OwnerUserID, &k.TeamID, &k.Provider, &k.EncryptedMaterial, &k.MaterialHash,
		&k.DisplayPrefix, &k.RatePerMinute, &k.DailyCap, &k.Active, &k.LastUsedAt, &k.CreatedAt,
	)
	if err != nil {
		return nil, wrapRowErr(err, "select api key")
	}
	return k, nil
}

func (r *apiKeyRepo) Update(ctx context.Context, k *model.APIKey) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE api_keys SET rate_per_minute=$2, daily_cap=$3, active=$4 WHERE id=$1`,
		k.ID, k.RatePerMinute, k.DailyCap, k.Active)
	if err != nil {
		return apperr.Wrap(apperr.CodeDatabaseError, "update api key", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *apiKeyRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return apperr.Wrap(apperr.CodeDatabaseError, "delete api key", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *apiKeyRepo) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return apperr.Wrap(apperr.CodeDatabaseError, "touch api key", err)
	}
	return nil
}

func (r *apiKeyRepo) MostRecentlyUsedByProvider(ctx context.Context, provider model.Provider) (*model.APIKey, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, owner_user_id, team_id, provider, encrypted_material, material_hash,
			display_prefix, rate_per_minute, daily_cap, active, last_used_at, created_at
		FROM api_keys
		WHERE provider = $1 AND active = true
		ORDER BY last_used_at DESC NULLS LAST, created_at DESC
		LIMIT 1`, provider)
	return scanAPIKey(row)
}

func (r *apiKeyRepo) ActiveProviders(ctx context.Context) ([]model.Provider, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT provider FROM api_keys WHERE active = true`)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDatabaseError, "list active providers", err)
	}
	defer rows.Close()
	var out []model.Provider
	for rows.Next() {
		var p model.Provider
		if err := rows.Scan(&p); err != nil {
			return nil, apperr.Wrap(apperr.CodeDatabaseError, "scan provider", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- shared tokens ---

type sharedTokenRepo struct{ pool *pgxpool.Pool }

func (r *sharedTokenRepo) Create(ctx context.Context, t *model.SharedToken) error {
	return insertSharedTokenViaPool(ctx, r.pool, t)
}

func insertSharedTokenViaPool(ctx context.Context, pool *pgxpool.Pool, t *model.SharedToken) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO shared_tokens (
			id, api_key_id, owner_user_id, access_token, token_hash, name,
			rate_per_minute, daily_cap, usage_count, max_total_use, expires_at,
			allowed_ips, allowed_models, scopes, require_signature, signing_secret,
			active, last_used_at, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		t.ID, t.APIKeyID, t.OwnerUserID, t.AccessToken, t.TokenHash, t.Name,
		t.RatePerMinute, t.DailyCap, t.UsageCount, t.MaxTotalUse, t.ExpiresAt,
		t.AllowedIPs, t.AllowedModels, t.Scopes, t.RequireSignature, t.SigningSecret,
		t.Active, t.LastUsedAt, t.CreatedAt,
	)
	if err != nil {
		return apperr.Wrap(apperr.CodeDatabaseError, "insert shared token", err)
	}
	return nil
}

const sharedTokenColumns = `id, api_key_id, owner_user_id, access_token, token_hash, name,
	rate_per_minute, daily_cap, usage_count, max_total_use, expires_at,
	allowed_ips, allowed_models, scopes, require_signature, signing_secret,
	active, last_used_at, created_at`

func scanSharedToken(row rowScanner) (*model.SharedToken, error) {
	t := &model.SharedToken{}
	err := row.Scan(
		&t.ID, &t.APIKeyID, &t.OwnerUserID, &t.AccessToken, &t.TokenHash, &t.Name,
		&t.RatePerMinute, &t.DailyCap, &t.UsageCount, &t.MaxTotalUse, &t.ExpiresAt,
		&t.AllowedIPs, &t.AllowedModels, &t.Scopes, &t.RequireSignature, &t.SigningSecret,
		&t.Active, &t.LastUsedAt, &t.CreatedAt,
	)
	if err != nil {
		return nil, wrapRowErr(err, "select shared token")
	}
	return t, nil
}

func (r *sharedTokenRepo) Get(ctx context.Context, id string) (*model.SharedToken, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM shared_tokens WHERE id = $1`, sharedTokenColumns), id)
	return scanSharedToken(row)
}

func (r *sharedTokenRepo) GetByTokenHash(ctx context.Context, tokenHash string) (*model.SharedToken, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM shared_tokens WHERE token_hash = $1`, sharedTokenColumns), tokenHash)
	return scanSharedToken(row)
}

func (r *sharedTokenRepo) ListByOwner(ctx context.Context, ownerUserID string) ([]*model.SharedToken, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM shared_tokens WHERE owner_user_id = $1 ORDER BY created_at ASC`, sharedTokenColumns), ownerUserID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDatabaseError, "list shared tokens", err)
	}
	defer rows.Close()
	var out []*model.SharedToken
	for rows.Next() {
		t, err := scanSharedToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *sharedTokenRepo) ListExpiredActive(ctx context.Context, now time.Time) ([]*model.SharedToken, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM shared_tokens WHERE active = true AND expires_at IS NOT NULL AND expires_at < $1`,
		sharedTokenColumns), now)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDatabaseError, "list expired tokens", err)
	}
	defer rows.Close()
	var out []*model.SharedToken
	for rows.Next() {
		t, err := scanSharedToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *sharedTokenRepo) Update(ctx context.Context, t *model.SharedToken) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE shared_tokens SET name=$2, rate_per_minute=$3, daily_cap=$4, max_total_use=$5,
			expires_at=$6, allowed_ips=$7, allowed_models=$8, scopes=$9, require_signature=$10,
			signing_secret=$11, active=$12
		WHERE id=$1`,
		t.ID, t.Name, t.RatePerMinute, t.DailyCap, t.MaxTotalUse,
		t.ExpiresAt, t.AllowedIPs, t.AllowedModels, t.Scopes, t.RequireSignature,
		t.SigningSecret, t.Active,
	)
	if err != nil {
		return apperr.Wrap(apperr.CodeDatabaseError, "update shared token", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sharedTokenRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM shared_tokens WHERE id = $1`, id)
	if err != nil {
		return apperr.Wrap(apperr.CodeDatabaseError, "delete shared token", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Rotate is the single-writer mutation backing the rotation controller
// (C9): it atomically replaces AccessToken/TokenHash. Concurrent rotations
// are idempotent by nature of the final write winning; the loser simply
// rotates to a different new token, per spec.md §5.
func (r *sharedTokenRepo) Rotate(
	ctx context.Context, id string, newAccessToken *string, newTokenHash string, persistPlaintext bool,
) error {
	var accessToken any
	if persistPlaintext {
		accessToken = newAccessToken
	} else {
		accessToken = nil
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE shared_tokens SET access_token=$2, token_hash=$3 WHERE id=$1`,
		id, accessToken, newTokenHash)
	if err != nil {
		return apperr.Wrap(apperr.CodeDatabaseError, "rotate shared token", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sharedTokenRepo) IncrementUsage(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE shared_tokens SET usage_count = usage_count + 1, last_used_at = $2 WHERE id = $1`,
		id, at)
	if err != nil {
		return apperr.Wrap(apperr.CodeDatabaseError, "increment shared token usage", err)
	}
	return nil
}

func (r *sharedTokenRepo) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE shared_tokens SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return apperr.Wrap(apperr.CodeDatabaseError, "set shared token active", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- usage logs ---

type usageLogRepo struct{ pool *pgxpool.Pool }

func (r *usageLogRepo) Insert(ctx context.Context, l *model.UsageLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO usage_logs (
			id, api_key_id, shared_token_id, user_id, provider, model, endpoint, method,
			status_code, request_tokens, response_tokens, total_tokens, latency_ms,
			client_ip, user_agent, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		l.ID, l.APIKeyID, l.SharedTokenID, l.UserID, l.Provider, l.Model, l.Endpoint, l.Method,
		l.StatusCode, l.RequestTokens, l.ResponseTokens, l.TotalTokens, l.LatencyMS,
		l.ClientIP, l.UserAgent, l.CreatedAt,
	)
	if err != nil {
		return apperr.Wrap(apperr.CodeDatabaseError, "insert usage log", err)
	}
	return nil
}

func (r *usageLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM usage_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeDatabaseError, "prune usage logs", err)
	}
	return tag.RowsAffected(), nil
}

func (r *usageLogRepo) SumTotalTokensForDay(ctx context.Context, sharedTokenID string, day time.Time) (int64, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	dayEnd := dayStart.Add(24 * time.Hour)
	var sum int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(total_tokens), 0) FROM usage_logs
		WHERE shared_token_id = $1 AND created_at >= $2 AND created_at < $3`,
		sharedTokenID, dayStart, dayEnd,
	).Scan(&sum)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeDatabaseError, "sum daily usage", err)
	}
	return sum, nil
}

// --- audit logs ---

type auditLogRepo struct{ pool *pgxpool.Pool }

func (r *auditLogRepo) Insert(ctx context.Context, a *model.AuditLog) error {
	return insertAuditLogViaPool(ctx, r.pool, a)
}

func insertAuditLogViaPool(ctx context.Context, pool *pgxpool.Pool, a *model.AuditLog) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO audit_logs (id, user_id, action, details, request_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		a.ID, a.UserID, a.Action, a.Details, a.RequestID, a.CreatedAt,
	)
	if err != nil {
		return apperr.Wrap(apperr.CodeDatabaseError, "insert audit log", err)
	}
	return nil
}

func (r *auditLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeDatabaseError, "prune audit logs", err)
	}
	return tag.RowsAffected(), nil
}

func (r *auditLogRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*model.AuditLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, action, details, request_id, created_at FROM audit_logs
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDatabaseError, "list audit logs", err)
	}
	defer rows.Close()
	var out []*model.AuditLog
	for rows.Next() {
		a := &model.AuditLog{}
		if err := rows.Scan(&a.ID, &a.UserID, &a.Action, &a.Details, &a.RequestID, &a.CreatedAt); err != nil {
			return nil, apperr.Wrap(apperr.CodeDatabaseError, "scan audit log", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- webhooks ---

type webhookRepo struct{ pool *pgxpool.Pool }

func (r *webhookRepo) Create(ctx context.Context, w *model.Webhook) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO webhooks (id, owner_user_id, url, secret, events, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		w.ID, w.OwnerUserID, w.URL, w.Secret, w.Events, w.Active, w.CreatedAt,
	)
	if err != nil {
		return apperr.Wrap(apperr.CodeDatabaseError, "insert webhook", err)
	}
	return nil
}

func scanWebhook(row rowScanner) (*model.Webhook, error) {
	w := &model.Webhook{}
	err := row.Scan(&w.ID, &w.OwnerUserID, &w.URL, &w.Secret, &w.Events, &w.Active, &w.CreatedAt)
	if err != nil {
		return nil, wrapRowErr(err, "select webhook")
	}
	return w, nil
}

func (r *webhookRepo) Get(ctx context.Context, id string) (*model.Webhook, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, owner_user_id, url, secret, events, active, created_at FROM webhooks WHERE id = $1`, id)
	return scanWebhook(row)
}

func (r *webhookRepo) ListActiveForEvent(ctx context.Context, event string) ([]*model.Webhook, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, owner_user_id, url, secret, events, active, created_at FROM webhooks
		WHERE active = true AND $1 = ANY(events)`, event)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDatabaseError, "list webhooks for event", err)
	}
	defer rows.Close()
	var out []*model.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *webhookRepo) ListByOwner(ctx context.Context, ownerUserID string) ([]*model.Webhook, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, owner_user_id, url, secret, events, active, created_at FROM webhooks
		WHERE owner_user_id = $1 ORDER BY created_at ASC`, ownerUserID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDatabaseError, "list webhooks", err)
	}
	defer rows.Close()
	var out []*model.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *webhookRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return apperr.Wrap(apperr.CodeDatabaseError, "delete webhook", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
