package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"investorkonnect-signing/internal/domain"

	"github.com/google/uuid"
)

// PostgresDealInvitesRepo deal_invites 表，(deal_id, agent_profile_id) 唯一
type PostgresDealInvitesRepo struct {
	db *sql.DB
}

func NewPostgresDealInvitesRepo(db *sql.DB) *PostgresDealInvitesRepo {
	return &PostgresDealInvitesRepo{db: db}
}

var _ DealInvitesRepo = (*PostgresDealInvitesRepo)(nil)

func (r *PostgresDealInvitesRepo) CountInvitesByDeal(ctx context.Context, dealID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deal_invites WHERE deal_id = $1`, dealID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count deal invites: %w", err)
	}
	return n, nil
}

func (r *PostgresDealInvitesRepo) FindInvite(ctx context.Context, dealID, agentProfileID string) (*domain.DealInvite, error) {
	var inv domain.DealInvite
	err := r.db.QueryRowContext(ctx, `
		SELECT id::text, deal_id, agent_profile_id, COALESCE(room_id, ''), status, created_at
		FROM deal_invites
		WHERE deal_id = $1 AND agent_profile_id = $2`, dealID, agentProfileID,
	).Scan(&inv.ID, &inv.DealID, &inv.AgentProfileID, &inv.RoomID, &inv.Status, &inv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find deal invite: %w", err)
	}
	return &inv, nil
}

func (r *PostgresDealInvitesRepo) CreateInvite(ctx context.Context, invite *domain.DealInvite) error {
	if invite.ID == "" {
		invite.ID = uuid.NewString()
	}
	if invite.CreatedAt.IsZero() {
		invite.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO deal_invites (id, deal_id, agent_profile_id, room_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		invite.ID, invite.DealID, invite.AgentProfileID, nullString(invite.RoomID), invite.Status, invite.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create deal invite: %w", err)
	}
	return nil
}

func (r *PostgresDealInvitesRepo) UpdateInviteStatus(ctx context.Context, inviteID, status string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE deal_invites SET status = $2 WHERE id::text = $1`, inviteID, status); err != nil {
		return fmt.Errorf("failed to update deal invite status: %w", err)
	}
	return nil
}
