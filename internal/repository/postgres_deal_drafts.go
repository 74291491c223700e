package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"investorkonnect-signing/internal/domain"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// PostgresDealDraftsRepo deal_drafts 表（由 onboarding 流程写入）
type PostgresDealDraftsRepo struct {
	db *sql.DB
}

func NewPostgresDealDraftsRepo(db *sql.DB) *PostgresDealDraftsRepo {
	return &PostgresDealDraftsRepo{db: db}
}

var _ DealDraftsRepo = (*PostgresDealDraftsRepo)(nil)

const draftColumns = `
	id::text,
	COALESCE(investor_profile_id, ''),
	COALESCE(property_address, ''),
	COALESCE(city, ''),
	COALESCE(state, ''),
	COALESCE(zip, ''),
	COALESCE(county, ''),
	COALESCE(property_type, ''),
	purchase_price,
	COALESCE(closing_date, ''),
	COALESCE(buyer_commission_type, ''),
	buyer_commission_percentage,
	buyer_flat_fee,
	agreement_length,
	COALESCE(walkthrough_scheduled, false),
	COALESCE(walkthrough_date, ''),
	COALESCE(walkthrough_time, ''),
	selected_agent_ids,
	created_at`

func scanDraft(row rowScanner) (*domain.DealDraft, error) {
	var (
		d                domain.DealDraft
		price, pct, flat decimal.NullDecimal
		length           sql.NullInt64
		agents           pq.StringArray
	)
	err := row.Scan(
		&d.ID,
		&d.InvestorProfileID,
		&d.PropertyAddress,
		&d.City,
		&d.State,
		&d.Zip,
		&d.County,
		&d.PropertyType,
		&price,
		&d.ClosingDate,
		&d.BuyerCommissionType,
		&pct,
		&flat,
		&length,
		&d.WalkthroughScheduled,
		&d.WalkthroughDate,
		&d.WalkthroughTime,
		&agents,
		&d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.PurchasePrice = decimalPtr(price)
	d.BuyerCommissionPercentage = decimalPtr(pct)
	d.BuyerFlatFee = decimalPtr(flat)
	if length.Valid {
		n := int(length.Int64)
		d.AgreementLength = &n
	}
	d.SelectedAgentIDs = []string(agents)
	return &d, nil
}

func (r *PostgresDealDraftsRepo) queryOne(ctx context.Context, query string, args ...any) (*domain.DealDraft, error) {
	d, err := scanDraft(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return d, nil
}

func (r *PostgresDealDraftsRepo) GetDraft(ctx context.Context, id string) (*domain.DealDraft, error) {
	if id == "" {
		return nil, nil
	}
	d, err := r.queryOne(ctx, `SELECT `+draftColumns+` FROM deal_drafts WHERE id::text = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get deal draft: %w", err)
	}
	return d, nil
}

// LatestDraftForInvestor 投资人最近一次的草稿
func (r *PostgresDealDraftsRepo) LatestDraftForInvestor(ctx context.Context, investorProfileID string) (*domain.DealDraft, error) {
	if investorProfileID == "" {
		return nil, nil
	}
	d, err := r.queryOne(ctx,
		`SELECT `+draftColumns+` FROM deal_drafts WHERE investor_profile_id = $1
		 ORDER BY created_at DESC LIMIT 1`, investorProfileID)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest deal draft: %w", err)
	}
	return d, nil
}

func (r *PostgresDealDraftsRepo) DeleteDraft(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM deal_drafts WHERE id::text = $1`, id); err != nil {
		return fmt.Errorf("failed to delete deal draft: %w", err)
	}
	return nil
}
