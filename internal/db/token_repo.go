package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"crewbook/internal/external"
	"crewbook/internal/types"
)

// TokenRepository persists the CRM OAuth token pair in the oauth_tokens
// table, keyed by provider name. It implements external.TokenStore so the
// CRM client survives process restarts without re-authorization.
type TokenRepository struct {
	db       DBTX
	provider string
}

// NewTokenRepository creates a new TokenRepository backed by the given
// database connection (pool or transaction).
func NewTokenRepository(db DBTX, provider string) *TokenRepository {
	return &TokenRepository{db: db, provider: provider}
}

var _ external.TokenStore = (*TokenRepository)(nil)

// Load returns the stored token pair for the provider.
func (r *TokenRepository) Load(ctx context.Context) (external.TokenPair, error) {
	var (
		access  string
		refresh string
		pair    external.TokenPair
	)
	err := r.db.QueryRow(ctx,
		`SELECT access_token, refresh_token, expires_at
		 FROM oauth_tokens
		 WHERE provider = $1`,
		r.provider,
	).Scan(&access, &refresh, &pair.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return external.TokenPair{}, types.NewAppError(types.ErrCodeAuthTokenExpired, "no stored token for provider", err)
		}
		return external.TokenPair{}, types.NewAppError(types.ErrCodeInternalDB, "failed to load token pair", err)
	}
	pair.AccessToken = types.SecretString(access)
	pair.RefreshToken = types.SecretString(refresh)
	return pair, nil
}

// Save upserts the token pair for the provider.
func (r *TokenRepository) Save(ctx context.Context, pair external.TokenPair) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO oauth_tokens (provider, access_token, refresh_token, expires_at, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (provider) DO UPDATE SET
		   access_token = EXCLUDED.access_token,
		   refresh_token = EXCLUDED.refresh_token,
		   expires_at = EXCLUDED.expires_at,
		   updated_at = EXCLUDED.updated_at`,
		r.provider,
		pair.AccessToken.Unmask(),
		pair.RefreshToken.Unmask(),
		pair.ExpiresAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save token pair", err)
	}
	return nil
}
