package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"investorkonnect-signing/internal/domain"
)

// PostgresProviderTokensRepo docusign_connections 表
type PostgresProviderTokensRepo struct {
	db *sql.DB
}

func NewPostgresProviderTokensRepo(db *sql.DB) *PostgresProviderTokensRepo {
	return &PostgresProviderTokensRepo{db: db}
}

var _ ProviderTokensRepo = (*PostgresProviderTokensRepo)(nil)

func (r *PostgresProviderTokensRepo) GetConnection(ctx context.Context, id string) (*domain.ProviderConnection, error) {
	var c domain.ProviderConnection
	err := r.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(access_token, ''), refresh_token, expires_at, updated_at
		FROM docusign_connections
		WHERE id = $1`, id,
	).Scan(&c.ID, &c.AccessToken, &c.RefreshToken, &c.ExpiresAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get docusign connection: %w", err)
	}
	return &c, nil
}

func (r *PostgresProviderTokensRepo) SaveConnection(ctx context.Context, conn *domain.ProviderConnection) error {
	conn.UpdatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO docusign_connections (id, access_token, refresh_token, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at`,
		conn.ID, conn.AccessToken, conn.RefreshToken, conn.ExpiresAt, conn.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save docusign connection: %w", err)
	}
	return nil
}
