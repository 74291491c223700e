package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"investorkonnect-signing/internal/domain"
	"investorkonnect-signing/internal/observability"
	"investorkonnect-signing/internal/repository"
	"investorkonnect-signing/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	materializeLockPrefix = "lock:materialize:"
	dealStatusActive      = "active"
)

// DealMaterializer 幂等阶梯：按协议查 Deal -> 按 deal_id 查 Deal -> 从草稿创建
type DealMaterializer struct {
	agreements repository.AgreementsRepo
	deals      repository.DealsRepo
	drafts     repository.DealDraftsRepo
	rooms      repository.RoomsRepo
	invites    repository.DealInvitesRepo
	functions  FunctionInvoker
	kv         store.KV // optional，nil 时不加锁
	lockTTL    time.Duration
	logger     *zap.Logger
}

func NewDealMaterializer(
	agreements repository.AgreementsRepo,
	deals repository.DealsRepo,
	drafts repository.DealDraftsRepo,
	rooms repository.RoomsRepo,
	invites repository.DealInvitesRepo,
	functions FunctionInvoker,
	kv store.KV,
	lockTTL time.Duration,
	logger *zap.Logger,
) *DealMaterializer {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &DealMaterializer{
		agreements: agreements,
		deals:      deals,
		drafts:     drafts,
		rooms:      rooms,
		invites:    invites,
		functions:  functions,
		kv:         kv,
		lockTTL:    lockTTL,
		logger:     logger,
	}
}

var _ DealEnsurer = (*DealMaterializer)(nil)

func (m *DealMaterializer) EnsureDealCreated(ctx context.Context, a *domain.LegalAgreement) (ReconcileResult, error) {
	if res, ok, err := m.findExisting(ctx, a); err != nil || ok {
		return res, err
	}

	release, err := m.acquire(ctx, a.ID)
	if err != nil {
		observability.RecordMaterialization("busy")
		return ReconcileResult{}, err
	}
	defer release()

	// 拿到锁后再查一次：另一写入方可能刚完成
	if res, ok, err := m.findExisting(ctx, a); err != nil || ok {
		return res, err
	}

	draft, err := m.resolveDraft(ctx, a)
	if err != nil {
		return ReconcileResult{}, err
	}
	if draft == nil {
		// 无锁运行时，并发写入方可能已建 Deal 并删除草稿
		if res, ok, err := m.findExisting(ctx, a); err != nil || ok {
			return res, err
		}
		observability.RecordMaterialization("draft_not_found")
		return ReconcileResult{}, ErrDraftNotFound
	}
	if len(draft.SelectedAgentIDs) == 0 {
		observability.RecordMaterialization("no_agents")
		return ReconcileResult{}, ErrNoAgentsSelected
	}

	deal := buildDeal(a, draft)
	if err := m.deals.CreateDeal(ctx, deal); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// 唯一约束兜底：并发写入方已创建，回读
			existing, ferr := m.deals.FindDealByAgreementID(ctx, a.ID)
			if ferr != nil {
				return ReconcileResult{}, ferr
			}
			if existing != nil {
				observability.RecordMaterialization("duplicate")
				return m.existingResult(ctx, a, existing), nil
			}
		}
		observability.RecordMaterialization("error")
		return ReconcileResult{}, err
	}

	if _, err := m.agreements.RepointDeal(ctx, a.ID, deal.ID); err != nil {
		// current_legal_agreement_id 仍能在下次调用时命中阶梯第一步
		m.logger.Error("Failed to repoint agreement to deal",
			zap.String("agreement_id", a.ID),
			zap.String("deal_id", deal.ID),
			zap.Error(err),
		)
	}

	if err := m.drafts.DeleteDraft(ctx, draft.ID); err != nil {
		m.logger.Warn("Failed to delete consumed deal draft",
			zap.String("draft_id", draft.ID),
			zap.Error(err),
		)
	}

	m.triggerInvites(ctx, deal.ID)

	roomID := ""
	if room, err := m.rooms.FindRoomByDealID(ctx, deal.ID); err == nil && room != nil {
		roomID = room.ID
	}

	m.logger.Info("Deal created from draft",
		zap.String("agreement_id", a.ID),
		zap.String("deal_id", deal.ID),
		zap.String("draft_id", draft.ID),
	)
	observability.RecordMaterialization("created")
	return ReconcileResult{Status: StatusDealCreated, AgreementID: a.ID, DealID: deal.ID, RoomID: roomID}, nil
}

// findExisting 阶梯前两步
func (m *DealMaterializer) findExisting(ctx context.Context, a *domain.LegalAgreement) (ReconcileResult, bool, error) {
	deal, err := m.deals.FindDealByAgreementID(ctx, a.ID)
	if err != nil {
		return ReconcileResult{}, false, err
	}
	if deal == nil && a.DealID != "" {
		deal, err = m.deals.GetDeal(ctx, a.DealID)
		if err != nil {
			return ReconcileResult{}, false, err
		}
	}
	if deal == nil {
		return ReconcileResult{}, false, nil
	}
	observability.RecordMaterialization("exists")
	return m.existingResult(ctx, a, deal), true, nil
}

func (m *DealMaterializer) existingResult(ctx context.Context, a *domain.LegalAgreement, deal *domain.Deal) ReconcileResult {
	n, err := m.invites.CountInvitesByDeal(ctx, deal.ID)
	if err != nil {
		m.logger.Warn("Failed to count deal invites", zap.String("deal_id", deal.ID), zap.Error(err))
	} else if n == 0 {
		m.triggerInvites(ctx, deal.ID)
	}

	roomID := deal.LockedRoomID
	if room, err := m.rooms.FindRoomByDealID(ctx, deal.ID); err == nil && room != nil {
		roomID = room.ID
	}
	return ReconcileResult{Status: StatusDealExists, AgreementID: a.ID, DealID: deal.ID, RoomID: roomID}
}

func (m *DealMaterializer) resolveDraft(ctx context.Context, a *domain.LegalAgreement) (*domain.DealDraft, error) {
	if a.DealID != "" {
		d, err := m.drafts.GetDraft(ctx, a.DealID)
		if err != nil {
			return nil, fmt.Errorf("failed to load deal draft: %w", err)
		}
		if d != nil {
			return d, nil
		}
	}
	if a.InvestorProfileID == "" {
		return nil, nil
	}
	d, err := m.drafts.LatestDraftForInvestor(ctx, a.InvestorProfileID)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest deal draft: %w", err)
	}
	return d, nil
}

func (m *DealMaterializer) triggerInvites(ctx context.Context, dealID string) {
	if m.functions == nil {
		return
	}
	err := m.functions.Invoke(ctx, FunctionCreateInvitesAfterInvestorSign, map[string]string{"deal_id": dealID})
	if err != nil {
		m.logger.Warn("Invite creation trigger failed",
			zap.String("deal_id", dealID),
			zap.Error(err),
		)
	}
}

// acquire 短期 advisory lock；Redis 不可用时不加锁继续
func (m *DealMaterializer) acquire(ctx context.Context, agreementID string) (func(), error) {
	noop := func() {}
	if m.kv == nil {
		return noop, nil
	}
	key := materializeLockPrefix + agreementID
	token := uuid.NewString()
	ok, err := m.kv.SetNX(ctx, key, token, m.lockTTL)
	if err != nil {
		m.logger.Warn("Materialization lock unavailable, proceeding without it",
			zap.String("agreement_id", agreementID),
			zap.Error(err),
		)
		return noop, nil
	}
	if !ok {
		return nil, ErrMaterializationBusy
	}
	return func() {
		if err := m.kv.DelIfValue(context.Background(), key, token); err != nil {
			m.logger.Warn("Failed to release materialization lock", zap.String("agreement_id", agreementID), zap.Error(err))
		}
	}, nil
}

// buildDeal 字段合并：exhibit_a_terms > 草稿 > 默认值
func buildDeal(a *domain.LegalAgreement, d *domain.DealDraft) *domain.Deal {
	ex := a.ExhibitATerms

	commissionType := d.BuyerCommissionType
	if ex.BuyerCommissionType != "" {
		commissionType = ex.BuyerCommissionType
	}
	commissionType = normalizeCommissionType(commissionType)

	terms := domain.ProposedTerms{
		BuyerCommissionType:       commissionType,
		BuyerCommissionPercentage: d.BuyerCommissionPercentage,
		BuyerFlatFee:              d.BuyerFlatFee,
		AgreementLength:           domain.DefaultAgreementLengthDays,
	}
	if ex.BuyerCommissionPercentage != nil {
		terms.BuyerCommissionPercentage = ex.BuyerCommissionPercentage
	}
	if ex.BuyerFlatFee != nil {
		terms.BuyerFlatFee = ex.BuyerFlatFee
	}
	switch {
	case ex.AgreementLength != nil && *ex.AgreementLength > 0:
		terms.AgreementLength = *ex.AgreementLength
	case d.AgreementLength != nil && *d.AgreementLength > 0:
		terms.AgreementLength = *d.AgreementLength
	}

	investorID := d.InvestorProfileID
	if investorID == "" {
		investorID = a.InvestorProfileID
	}

	// 走访时间：必须已预约且长度合理，否则置空
	var wDate, wTime *string
	if d.WalkthroughScheduled && len(d.WalkthroughDate) >= 8 {
		v := d.WalkthroughDate
		wDate = &v
	}
	if d.WalkthroughScheduled && len(d.WalkthroughTime) >= 3 {
		v := d.WalkthroughTime
		wTime = &v
	}

	return &domain.Deal{
		Title:                   d.PropertyAddress,
		InvestorID:              investorID,
		PropertyAddress:         d.PropertyAddress,
		City:                    d.City,
		State:                   d.State,
		Zip:                     d.Zip,
		County:                  d.County,
		PropertyType:            d.PropertyType,
		PurchasePrice:           d.PurchasePrice,
		ClosingDate:             d.ClosingDate,
		ProposedTerms:           terms,
		WalkthroughScheduled:    wDate != nil,
		WalkthroughDate:         wDate,
		WalkthroughTime:         wTime,
		SelectedAgentIDs:        append([]string(nil), d.SelectedAgentIDs...),
		Status:                  dealStatusActive,
		PipelineStage:           domain.PipelineNewDeals,
		CurrentLegalAgreementID: a.ID,
	}
}

func normalizeCommissionType(t string) string {
	switch t {
	case "flat", domain.CommissionFlatFee:
		return domain.CommissionFlatFee
	case "":
		return domain.CommissionPercentage
	}
	return t
}
