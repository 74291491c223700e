package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"investorkonnect-signing/internal/domain"
	"investorkonnect-signing/internal/observability"
	"investorkonnect-signing/internal/repository"

	"go.uber.org/zap"
)

// Reconcile 结果状态
const (
	StatusPending     = "pending"
	StatusSigned      = "signed"
	StatusDealExists  = "deal_exists"
	StatusDealCreated = "deal_created"
	StatusIgnored     = "ignored"
)

// ReconcileResult 对外返回的结果
type ReconcileResult struct {
	Status      string `json:"status"`
	AgreementID string `json:"agreement_id,omitempty"`
	DealID      string `json:"deal_id,omitempty"`
	RoomID      string `json:"room_id,omitempty"`
}

// DealEnsurer 保证每个协议恰好一个 Deal
type DealEnsurer interface {
	EnsureDealCreated(ctx context.Context, agreement *domain.LegalAgreement) (ReconcileResult, error)
}

// AgentLocker 完全签署后的一次性锁定
type AgentLocker interface {
	OnFullySigned(ctx context.Context, agreement *domain.LegalAgreement) error
}

// ReconcileService 签署确认引擎：有界轮询 -> 单调状态写入 -> 物化/锁定分发
type ReconcileService interface {
	Reconcile(ctx context.Context, agreementID string, role domain.Role) (ReconcileResult, error)
	// ApplySnapshot applies a pushed recipient snapshot (webhook) with the same transition rules.
	ApplySnapshot(ctx context.Context, agreement *domain.LegalAgreement, recipients []domain.RecipientStatus) (ReconcileResult, error)
}

// ReconcileConfig 轮询预算
type ReconcileConfig struct {
	MaxAttempts  int
	PollInterval time.Duration
}

type reconcileService struct {
	agreements   repository.AgreementsRepo
	recipients   RecipientLister
	sessions     SessionSource
	materializer DealEnsurer
	locker       AgentLocker
	cfg          ReconcileConfig
	logger       *zap.Logger
	now          func() time.Time
}

func NewReconcileService(
	agreements repository.AgreementsRepo,
	recipients RecipientLister,
	sessions SessionSource,
	materializer DealEnsurer,
	locker AgentLocker,
	cfg ReconcileConfig,
	logger *zap.Logger,
) ReconcileService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &reconcileService{
		agreements:   agreements,
		recipients:   recipients,
		sessions:     sessions,
		materializer: materializer,
		locker:       locker,
		cfg:          cfg,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *reconcileService) Reconcile(ctx context.Context, agreementID string, role domain.Role) (res ReconcileResult, err error) {
	defer func() {
		status := res.Status
		if err != nil {
			status = "error"
		}
		observability.RecordReconcile(string(role), status)
	}()

	if agreementID == "" {
		return ReconcileResult{}, &BadRequestError{Msg: "agreement_id is required"}
	}
	if _, perr := domain.ParseRole(string(role)); perr != nil {
		return ReconcileResult{}, &BadRequestError{Msg: perr.Error()}
	}

	a, err := s.agreements.GetAgreement(ctx, agreementID)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("failed to load agreement: %w", err)
	}
	if a == nil {
		return ReconcileResult{}, &NotFoundError{Entity: "legal agreement", ID: agreementID}
	}

	// 快速路径：该角色已记录签署（webhook 可能已先处理），不轮询，只确认一次对方角色
	if a.SignedAt(role) != nil {
		if a, err = s.probeCounterpart(ctx, a, role); err != nil {
			return ReconcileResult{}, err
		}
	} else {
		if a.DocusignEnvelopeID == "" {
			s.logger.Warn("Agreement has no envelope to poll", zap.String("agreement_id", a.ID))
			return ReconcileResult{Status: StatusPending}, nil
		}

		session, err := s.sessions.Session(ctx)
		if err != nil {
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				err = &ConfigError{Op: "obtain docusign session", Err: err}
			}
			return ReconcileResult{}, err
		}

		snapshot, ok := s.poll(ctx, session, a, role)
		if !ok {
			return ReconcileResult{Status: StatusPending}, nil
		}

		actingAt, otherAt := s.signedTimes(a, role, snapshot)
		if a, err = s.applyTransition(ctx, a, role, actingAt, otherAt); err != nil {
			return ReconcileResult{}, err
		}
	}

	return s.dispatch(ctx, a, role == domain.RoleInvestor, role == domain.RoleAgent)
}

func (s *reconcileService) ApplySnapshot(ctx context.Context, a *domain.LegalAgreement, recipients []domain.RecipientStatus) (ReconcileResult, error) {
	acting, ok := completedRole(a, recipients)
	if !ok {
		return ReconcileResult{Status: StatusPending, AgreementID: a.ID}, nil
	}

	actingAt, otherAt := s.signedTimes(a, acting, recipients)
	a, err := s.applyTransition(ctx, a, acting, actingAt, otherAt)
	if err != nil {
		return ReconcileResult{}, err
	}

	return s.dispatch(ctx, a, a.InvestorSignedAt != nil, true)
}

// probeCounterpart 单次获取签署人快照，记录对方角色的完成情况。
// provider 不可用时视为对方未完成，不影响本次分发。
func (s *reconcileService) probeCounterpart(ctx context.Context, a *domain.LegalAgreement, role domain.Role) (*domain.LegalAgreement, error) {
	other := role.Other()
	if a.SignedAt(other) != nil || a.DocusignEnvelopeID == "" {
		return a, nil
	}
	if other == domain.RoleAgent && !a.RequiresCounterSignature() {
		return a, nil
	}

	session, err := s.sessions.Session(ctx)
	if err != nil {
		s.logger.Warn("Skipping counterpart probe, provider session unavailable",
			zap.String("agreement_id", a.ID),
			zap.Error(err),
		)
		return a, nil
	}
	list, err := s.recipients.ListRecipients(ctx, session, a.DocusignEnvelopeID)
	if err != nil {
		observability.RecordProviderPoll("error")
		s.logger.Debug("Counterpart probe failed",
			zap.String("agreement_id", a.ID),
			zap.Error(err),
		)
		return a, nil
	}

	_, otherAt := s.signedTimes(a, role, list)
	if otherAt == nil {
		observability.RecordProviderPoll("incomplete")
		return a, nil
	}
	observability.RecordProviderPoll("complete")
	return s.applyTransition(ctx, a, role, a.SignedAt(role), otherAt)
}

// applyTransition 仅在状态确有变化时写入
func (s *reconcileService) applyTransition(ctx context.Context, a *domain.LegalAgreement, role domain.Role, actingAt, otherAt *time.Time) (*domain.LegalAgreement, error) {
	patch, changed := domain.ComputeTransition(a, role, actingAt, otherAt)
	if !changed {
		return a, nil
	}
	updated, err := s.agreements.ApplySignatures(ctx, a.ID, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to update agreement signatures: %w", err)
	}
	s.logger.Info("Agreement signatures updated",
		zap.String("agreement_id", updated.ID),
		zap.String("role", string(role)),
		zap.String("status", string(updated.Status)),
	)
	return updated, nil
}

// dispatch 写入完成后触发物化/锁定
func (s *reconcileService) dispatch(ctx context.Context, a *domain.LegalAgreement, materialize, lock bool) (ReconcileResult, error) {
	result := ReconcileResult{Status: StatusSigned, AgreementID: a.ID}

	if materialize {
		res, err := s.materializer.EnsureDealCreated(ctx, a)
		switch {
		case errors.Is(err, ErrMaterializationBusy):
			return ReconcileResult{Status: StatusPending, AgreementID: a.ID}, nil
		case errors.Is(err, ErrDraftNotFound):
			return ReconcileResult{}, &NotFoundError{Entity: "deal draft", ID: a.DealID}
		case errors.Is(err, ErrNoAgentsSelected):
			return ReconcileResult{}, &BadRequestError{Msg: err.Error()}
		case err != nil:
			return ReconcileResult{}, fmt.Errorf("failed to materialize deal: %w", err)
		}
		result = res

		if lock && a.Status == domain.AgreementFullySigned {
			// 物化可能刚写入 deal_id / room_id
			if fresh, err := s.agreements.GetAgreement(ctx, a.ID); err == nil && fresh != nil {
				a = fresh
			}
		}
	}

	if lock && a.Status == domain.AgreementFullySigned {
		if err := s.locker.OnFullySigned(ctx, a); err != nil {
			// 下次调用走快速路径会重新分发
			s.logger.Error("Agent lock failed",
				zap.String("agreement_id", a.ID),
				zap.Error(err),
			)
		}
	}
	return result, nil
}

// poll 有界轮询，返回 acting 角色完成时的签署人快照
func (s *reconcileService) poll(ctx context.Context, session domain.ProviderSession, a *domain.LegalAgreement, role domain.Role) ([]domain.RecipientStatus, bool) {
	recipientID := a.RecipientID(role)
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if attempt > 1 && !sleepCtx(ctx, s.cfg.PollInterval) {
			return nil, false
		}

		list, err := s.recipients.ListRecipients(ctx, session, a.DocusignEnvelopeID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, false
			}
			observability.RecordProviderPoll("error")
			s.logger.Debug("Recipient status fetch failed",
				zap.String("agreement_id", a.ID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}

		if r, found := domain.FindRecipient(list, recipientID); found && r.Completed() {
			observability.RecordProviderPoll("complete")
			return list, true
		}
		observability.RecordProviderPoll("incomplete")
	}

	s.logger.Info("Signature not confirmed within poll budget",
		zap.String("agreement_id", a.ID),
		zap.String("role", string(role)),
		zap.Int("attempts", s.cfg.MaxAttempts),
	)
	return nil, false
}

// signedTimes 取 acting / other 角色在快照中的签署时间；other 未完成时为 nil
func (s *reconcileService) signedTimes(a *domain.LegalAgreement, acting domain.Role, snapshot []domain.RecipientStatus) (*time.Time, *time.Time) {
	completedAt := func(role domain.Role) *time.Time {
		r, ok := domain.FindRecipient(snapshot, a.RecipientID(role))
		if !ok || !r.Completed() {
			return nil
		}
		if r.SignedDateTime != nil {
			return r.SignedDateTime
		}
		now := s.now()
		return &now
	}

	actingAt := completedAt(acting)
	var otherAt *time.Time
	other := acting.Other()
	if other == domain.RoleInvestor || a.RequiresCounterSignature() {
		otherAt = completedAt(other)
	}
	return actingAt, otherAt
}

// completedRole 快照中已完成的角色，投资人优先（投资人路径负责物化）
func completedRole(a *domain.LegalAgreement, snapshot []domain.RecipientStatus) (domain.Role, bool) {
	for _, role := range []domain.Role{domain.RoleInvestor, domain.RoleAgent} {
		if role == domain.RoleAgent && !a.RequiresCounterSignature() {
			continue
		}
		if r, ok := domain.FindRecipient(snapshot, a.RecipientID(role)); ok && r.Completed() {
			return role, true
		}
	}
	return "", false
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
