package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"investorkonnect-signing/internal/domain"
)

// PostgresAgreementsRepo legal_agreements 表
type PostgresAgreementsRepo struct {
	db *sql.DB
}

func NewPostgresAgreementsRepo(db *sql.DB) *PostgresAgreementsRepo {
	return &PostgresAgreementsRepo{db: db}
}

var _ AgreementsRepo = (*PostgresAgreementsRepo)(nil)

const agreementColumns = `
	id::text,
	COALESCE(docusign_envelope_id, ''),
	COALESCE(investor_recipient_id, ''),
	COALESCE(agent_recipient_id, ''),
	COALESCE(signer_mode, 'dual'),
	investor_signed_at,
	agent_signed_at,
	status,
	COALESCE(docusign_status, 'sent'),
	COALESCE(deal_id, ''),
	COALESCE(investor_profile_id, ''),
	COALESCE(agent_profile_id, ''),
	COALESCE(room_id, ''),
	COALESCE(exhibit_a_terms, '{}'::jsonb)::text,
	created_at,
	updated_at`

func scanAgreement(row rowScanner) (*domain.LegalAgreement, error) {
	var (
		a                       domain.LegalAgreement
		signerMode, status, dss string
		investorAt, agentAt     sql.NullTime
		exhibit                 string
	)
	err := row.Scan(
		&a.ID,
		&a.DocusignEnvelopeID,
		&a.InvestorRecipientID,
		&a.AgentRecipientID,
		&signerMode,
		&investorAt,
		&agentAt,
		&status,
		&dss,
		&a.DealID,
		&a.InvestorProfileID,
		&a.AgentProfileID,
		&a.RoomID,
		&exhibit,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.SignerMode = domain.SignerMode(signerMode)
	a.Status = domain.AgreementStatus(status)
	a.DocusignStatus = domain.EnvelopeStatus(dss)
	a.InvestorSignedAt = timePtr(investorAt)
	a.AgentSignedAt = timePtr(agentAt)
	if exhibit != "" {
		if err := json.Unmarshal([]byte(exhibit), &a.ExhibitATerms); err != nil {
			return nil, fmt.Errorf("failed to decode exhibit_a_terms: %w", err)
		}
	}
	return &a, nil
}

func (r *PostgresAgreementsRepo) queryOne(ctx context.Context, query string, args ...any) (*domain.LegalAgreement, error) {
	a, err := scanAgreement(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

// GetAgreement 根据 id 查询协议
func (r *PostgresAgreementsRepo) GetAgreement(ctx context.Context, id string) (*domain.LegalAgreement, error) {
	if id == "" {
		return nil, fmt.Errorf("agreement id is required")
	}
	a, err := r.queryOne(ctx, `SELECT `+agreementColumns+` FROM legal_agreements WHERE id::text = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get legal agreement: %w", err)
	}
	return a, nil
}

// GetAgreementByEnvelopeID 根据 DocuSign 信封 id 查询协议
func (r *PostgresAgreementsRepo) GetAgreementByEnvelopeID(ctx context.Context, envelopeID string) (*domain.LegalAgreement, error) {
	if envelopeID == "" {
		return nil, fmt.Errorf("envelope id is required")
	}
	a, err := r.queryOne(ctx,
		`SELECT `+agreementColumns+` FROM legal_agreements WHERE docusign_envelope_id = $1
		 ORDER BY created_at DESC LIMIT 1`, envelopeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get legal agreement by envelope: %w", err)
	}
	return a, nil
}

// ApplySignatures 单条 UPDATE 完成签署写入：
// - 已有时间戳用 COALESCE 保留，不会被覆盖或清空
// - status / docusign_status 由写入后的时间戳推导，并发写入也不会破坏 fully_signed 不变量
func (r *PostgresAgreementsRepo) ApplySignatures(ctx context.Context, id string, patch domain.SignaturePatch) (*domain.LegalAgreement, error) {
	query := `
		UPDATE legal_agreements SET
			investor_signed_at = COALESCE(investor_signed_at, $2),
			agent_signed_at    = COALESCE(agent_signed_at, $3),
			status = CASE
				WHEN COALESCE(investor_signed_at, $2) IS NOT NULL AND COALESCE(agent_signed_at, $3) IS NOT NULL THEN 'fully_signed'
				WHEN COALESCE(investor_signed_at, $2) IS NOT NULL THEN 'investor_signed'
				WHEN COALESCE(agent_signed_at, $3) IS NOT NULL THEN 'agent_signed'
				ELSE status
			END,
			docusign_status = CASE
				WHEN COALESCE(investor_signed_at, $2) IS NOT NULL AND COALESCE(agent_signed_at, $3) IS NOT NULL THEN 'completed'
				WHEN $4 <> '' THEN $4
				ELSE docusign_status
			END,
			updated_at = NOW()
		WHERE id::text = $1
		RETURNING ` + agreementColumns

	a, err := r.queryOne(ctx, query, id, nullTimeArg(patch.InvestorSignedAt), nullTimeArg(patch.AgentSignedAt), string(patch.DocusignStatus))
	if err != nil {
		return nil, fmt.Errorf("failed to apply signatures: %w", err)
	}
	if a == nil {
		return nil, fmt.Errorf("legal agreement %s not found", id)
	}
	return a, nil
}

// RepointDeal 将 deal_id 指向新建的 Deal；status 只前进不后退
func (r *PostgresAgreementsRepo) RepointDeal(ctx context.Context, id, dealID string) (*domain.LegalAgreement, error) {
	query := `
		UPDATE legal_agreements SET
			deal_id = $2,
			status = CASE WHEN status IN ('sent', 'investor_signed') THEN 'investor_signed' ELSE status END,
			updated_at = NOW()
		WHERE id::text = $1
		RETURNING ` + agreementColumns

	a, err := r.queryOne(ctx, query, id, dealID)
	if err != nil {
		return nil, fmt.Errorf("failed to repoint agreement deal: %w", err)
	}
	if a == nil {
		return nil, fmt.Errorf("legal agreement %s not found", id)
	}
	return a, nil
}

// AttachRoom 为尚未绑定房间的协议写入 room_id
func (r *PostgresAgreementsRepo) AttachRoom(ctx context.Context, dealID, roomID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE legal_agreements SET room_id = $2, updated_at = NOW()
		 WHERE deal_id = $1 AND (room_id IS NULL OR room_id = '')`,
		dealID, roomID,
	)
	if err != nil {
		return fmt.Errorf("failed to attach room to agreements: %w", err)
	}
	return nil
}
