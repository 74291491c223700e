package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"investorkonnect-signing/internal/domain"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// PostgresDealsRepo deals 表
// current_legal_agreement_id 上有唯一约束，作为物化的幂等键
type PostgresDealsRepo struct {
	db *sql.DB
}

func NewPostgresDealsRepo(db *sql.DB) *PostgresDealsRepo {
	return &PostgresDealsRepo{db: db}
}

var _ DealsRepo = (*PostgresDealsRepo)(nil)

const dealColumns = `
	id::text,
	COALESCE(title, ''),
	COALESCE(investor_id, ''),
	COALESCE(property_address, ''),
	COALESCE(city, ''),
	COALESCE(state, ''),
	COALESCE(zip, ''),
	COALESCE(county, ''),
	COALESCE(property_type, ''),
	purchase_price,
	COALESCE(closing_date, ''),
	COALESCE(proposed_terms, '{}'::jsonb)::text,
	walkthrough_scheduled,
	walkthrough_date,
	walkthrough_time,
	selected_agent_ids,
	COALESCE(status, ''),
	COALESCE(pipeline_stage, ''),
	COALESCE(current_legal_agreement_id, ''),
	COALESCE(locked_agent_id, ''),
	COALESCE(locked_room_id, ''),
	COALESCE(agent_id, ''),
	connected_at,
	created_at,
	updated_at`

func scanDeal(row rowScanner) (*domain.Deal, error) {
	var (
		d            domain.Deal
		price        decimal.NullDecimal
		terms        string
		wDate, wTime sql.NullString
		agents       pq.StringArray
		stage        string
		connectedAt  sql.NullTime
	)
	err := row.Scan(
		&d.ID,
		&d.Title,
		&d.InvestorID,
		&d.PropertyAddress,
		&d.City,
		&d.State,
		&d.Zip,
		&d.County,
		&d.PropertyType,
		&price,
		&d.ClosingDate,
		&terms,
		&d.WalkthroughScheduled,
		&wDate,
		&wTime,
		&agents,
		&d.Status,
		&stage,
		&d.CurrentLegalAgreementID,
		&d.LockedAgentID,
		&d.LockedRoomID,
		&d.AgentID,
		&connectedAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.PurchasePrice = decimalPtr(price)
	d.WalkthroughDate = stringPtr(wDate)
	d.WalkthroughTime = stringPtr(wTime)
	d.SelectedAgentIDs = []string(agents)
	d.PipelineStage = domain.PipelineStage(stage)
	d.ConnectedAt = timePtr(connectedAt)
	if terms != "" {
		if err := json.Unmarshal([]byte(terms), &d.ProposedTerms); err != nil {
			return nil, fmt.Errorf("failed to decode proposed_terms: %w", err)
		}
	}
	return &d, nil
}

func (r *PostgresDealsRepo) queryOne(ctx context.Context, query string, args ...any) (*domain.Deal, error) {
	d, err := scanDeal(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return d, nil
}

func (r *PostgresDealsRepo) GetDeal(ctx context.Context, id string) (*domain.Deal, error) {
	if id == "" {
		return nil, nil
	}
	d, err := r.queryOne(ctx, `SELECT `+dealColumns+` FROM deals WHERE id::text = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get deal: %w", err)
	}
	return d, nil
}

func (r *PostgresDealsRepo) FindDealByAgreementID(ctx context.Context, agreementID string) (*domain.Deal, error) {
	d, err := r.queryOne(ctx, `SELECT `+dealColumns+` FROM deals WHERE current_legal_agreement_id = $1`, agreementID)
	if err != nil {
		return nil, fmt.Errorf("failed to find deal by agreement: %w", err)
	}
	return d, nil
}

// CreateDeal 插入 Deal；唯一约束冲突返回 ErrDuplicate，由调用方回读已存在的记录
func (r *PostgresDealsRepo) CreateDeal(ctx context.Context, deal *domain.Deal) error {
	if deal.ID == "" {
		deal.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if deal.CreatedAt.IsZero() {
		deal.CreatedAt = now
	}
	deal.UpdatedAt = now

	terms, err := json.Marshal(deal.ProposedTerms)
	if err != nil {
		return fmt.Errorf("failed to encode proposed_terms: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO deals (
			id, title, investor_id, property_address, city, state, zip, county, property_type,
			purchase_price, closing_date, proposed_terms,
			walkthrough_scheduled, walkthrough_date, walkthrough_time,
			selected_agent_ids, status, pipeline_stage, current_legal_agreement_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		deal.ID, deal.Title, deal.InvestorID, deal.PropertyAddress, deal.City, deal.State, deal.Zip, deal.County, deal.PropertyType,
		decimalArg(deal.PurchasePrice), nullString(deal.ClosingDate), string(terms),
		deal.WalkthroughScheduled, deal.WalkthroughDate, deal.WalkthroughTime,
		pq.Array(deal.SelectedAgentIDs), deal.Status, string(deal.PipelineStage), deal.CurrentLegalAgreementID,
		deal.CreatedAt, deal.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create deal: %w", err)
	}
	return nil
}

// LockDeal 条件更新（locked_agent_id 为空时才写入），先锁定者生效
func (r *PostgresDealsRepo) LockDeal(ctx context.Context, dealID string, lock domain.DealLock) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE deals SET
			locked_room_id = $2,
			locked_agent_id = $3,
			agent_id = $3,
			connected_at = $4,
			pipeline_stage = $5,
			selected_agent_ids = $6,
			updated_at = NOW()
		WHERE id::text = $1
		  AND (locked_agent_id IS NULL OR locked_agent_id = '')`,
		dealID, lock.RoomID, lock.AgentID, lock.ConnectedAt, string(domain.PipelineConnectedDeals), pq.Array([]string{lock.AgentID}),
	)
	if err != nil {
		return false, fmt.Errorf("failed to lock deal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to lock deal: %w", err)
	}
	return n == 1, nil
}
