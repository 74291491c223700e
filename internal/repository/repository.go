package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"investorkonnect-signing/internal/domain"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// ErrDuplicate 唯一约束冲突（并发写入方已先行创建）
var ErrDuplicate = errors.New("duplicate key")

// Lookups return (nil, nil) when the row does not exist.

// AgreementsRepo LegalAgreement 存取
type AgreementsRepo interface {
	GetAgreement(ctx context.Context, id string) (*domain.LegalAgreement, error)
	GetAgreementByEnvelopeID(ctx context.Context, envelopeID string) (*domain.LegalAgreement, error)

	// ApplySignatures writes the patch with monotonic semantics and returns the stored result.
	ApplySignatures(ctx context.Context, id string, patch domain.SignaturePatch) (*domain.LegalAgreement, error)
	// RepointDeal moves deal_id from the draft to the materialized deal.
	RepointDeal(ctx context.Context, id, dealID string) (*domain.LegalAgreement, error)
	// AttachRoom sets room_id on agreements of the deal that have none yet.
	AttachRoom(ctx context.Context, dealID, roomID string) error
}

// DealsRepo Deal 存取
type DealsRepo interface {
	GetDeal(ctx context.Context, id string) (*domain.Deal, error)
	FindDealByAgreementID(ctx context.Context, agreementID string) (*domain.Deal, error)
	// CreateDeal returns ErrDuplicate when a deal already references the same agreement.
	CreateDeal(ctx context.Context, deal *domain.Deal) error
	// LockDeal locks the deal unless already locked; reports whether this call locked it.
	LockDeal(ctx context.Context, dealID string, lock domain.DealLock) (bool, error)
}

// DealDraftsRepo DealDraft 存取
type DealDraftsRepo interface {
	GetDraft(ctx context.Context, id string) (*domain.DealDraft, error)
	LatestDraftForInvestor(ctx context.Context, investorProfileID string) (*domain.DealDraft, error)
	DeleteDraft(ctx context.Context, id string) error
}

// RoomsRepo Room 存取
type RoomsRepo interface {
	FindRoomByDealID(ctx context.Context, dealID string) (*domain.Room, error)
	CreateRoom(ctx context.Context, room *domain.Room) error
	UpdateRoomStatus(ctx context.Context, roomID, agreementStatus, requestStatus string) error
}

// DealInvitesRepo DealInvite 存取
type DealInvitesRepo interface {
	CountInvitesByDeal(ctx context.Context, dealID string) (int, error)
	FindInvite(ctx context.Context, dealID, agentProfileID string) (*domain.DealInvite, error)
	CreateInvite(ctx context.Context, invite *domain.DealInvite) error
	UpdateInviteStatus(ctx context.Context, inviteID, status string) error
}

// ProviderTokensRepo 持久化 DocuSign OAuth 连接
type ProviderTokensRepo interface {
	GetConnection(ctx context.Context, id string) (*domain.ProviderConnection, error)
	SaveConnection(ctx context.Context, conn *domain.ProviderConnection) error
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTimeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func decimalArg(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func decimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

type rowScanner interface {
	Scan(dest ...any) error
}
