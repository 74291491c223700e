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

// PostgresRoomsRepo rooms 表（deal_id 唯一，一个 Deal 一个房间）
type PostgresRoomsRepo struct {
	db *sql.DB
}

func NewPostgresRoomsRepo(db *sql.DB) *PostgresRoomsRepo {
	return &PostgresRoomsRepo{db: db}
}

var _ RoomsRepo = (*PostgresRoomsRepo)(nil)

func (r *PostgresRoomsRepo) FindRoomByDealID(ctx context.Context, dealID string) (*domain.Room, error) {
	var room domain.Room
	err := r.db.QueryRowContext(ctx, `
		SELECT id::text, deal_id, COALESCE(investor_id, ''), COALESCE(agreement_status, ''), COALESCE(request_status, ''), created_at
		FROM rooms
		WHERE deal_id = $1
		ORDER BY created_at ASC
		LIMIT 1`, dealID,
	).Scan(&room.ID, &room.DealID, &room.InvestorID, &room.AgreementStatus, &room.RequestStatus, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find room by deal: %w", err)
	}
	return &room, nil
}

func (r *PostgresRoomsRepo) CreateRoom(ctx context.Context, room *domain.Room) error {
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO rooms (id, deal_id, investor_id, agreement_status, request_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		room.ID, room.DealID, nullString(room.InvestorID), room.AgreementStatus, room.RequestStatus, room.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create room: %w", err)
	}
	return nil
}

func (r *PostgresRoomsRepo) UpdateRoomStatus(ctx context.Context, roomID, agreementStatus, requestStatus string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE rooms SET agreement_status = $2, request_status = $3 WHERE id::text = $1`,
		roomID, agreementStatus, requestStatus,
	)
	if err != nil {
		return fmt.Errorf("failed to update room status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("room %s not found", roomID)
	}
	return nil
}
