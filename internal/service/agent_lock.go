package service

import (
	"context"
	"fmt"
	"time"

	"investorkonnect-signing/internal/domain"
	"investorkonnect-signing/internal/observability"
	"investorkonnect-signing/internal/repository"

	"go.uber.org/zap"
)

// AgentLockCoordinator 完全签署后将 Deal 锁定给签署的经纪人（先到先得，只锁一次）
type AgentLockCoordinator struct {
	deals   repository.DealsRepo
	rooms   repository.RoomsRepo
	invites repository.DealInvitesRepo
	logger  *zap.Logger
	now     func() time.Time
}

func NewAgentLockCoordinator(deals repository.DealsRepo, rooms repository.RoomsRepo, invites repository.DealInvitesRepo, logger *zap.Logger) *AgentLockCoordinator {
	return &AgentLockCoordinator{
		deals:   deals,
		rooms:   rooms,
		invites: invites,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

var _ AgentLocker = (*AgentLockCoordinator)(nil)

func (c *AgentLockCoordinator) OnFullySigned(ctx context.Context, a *domain.LegalAgreement) error {
	if a.RoomID == "" {
		observability.RecordAgentLock("no_room")
		return nil
	}

	if err := c.rooms.UpdateRoomStatus(ctx, a.RoomID, string(domain.AgreementFullySigned), domain.RoomRequestSigned); err != nil {
		c.logger.Warn("Failed to update room status",
			zap.String("room_id", a.RoomID),
			zap.Error(err),
		)
	}

	deal, err := c.resolveDeal(ctx, a)
	if err != nil {
		observability.RecordAgentLock("error")
		return err
	}
	dealID := a.DealID
	if deal != nil {
		dealID = deal.ID
	}

	if a.AgentProfileID != "" {
		c.lockInvite(ctx, dealID, a.AgentProfileID)
	}

	if deal == nil {
		c.logger.Warn("No deal to lock for fully signed agreement", zap.String("agreement_id", a.ID))
		observability.RecordAgentLock("no_deal")
		return nil
	}
	if deal.Locked() {
		observability.RecordAgentLock("already_locked")
		return nil
	}
	if a.AgentProfileID == "" {
		c.logger.Warn("Fully signed agreement has no agent profile", zap.String("agreement_id", a.ID))
		observability.RecordAgentLock("no_agent")
		return nil
	}

	locked, err := c.deals.LockDeal(ctx, deal.ID, domain.DealLock{
		RoomID:      a.RoomID,
		AgentID:     a.AgentProfileID,
		ConnectedAt: c.now(),
	})
	if err != nil {
		observability.RecordAgentLock("error")
		return fmt.Errorf("failed to lock deal %s: %w", deal.ID, err)
	}
	if !locked {
		observability.RecordAgentLock("already_locked")
		return nil
	}

	c.logger.Info("Deal locked to agent",
		zap.String("deal_id", deal.ID),
		zap.String("agent_id", a.AgentProfileID),
		zap.String("room_id", a.RoomID),
	)
	observability.RecordAgentLock("locked")
	return nil
}

// resolveDeal deal_id 可能仍指向草稿，回退到按协议查找
func (c *AgentLockCoordinator) resolveDeal(ctx context.Context, a *domain.LegalAgreement) (*domain.Deal, error) {
	if a.DealID != "" {
		deal, err := c.deals.GetDeal(ctx, a.DealID)
		if err != nil {
			return nil, fmt.Errorf("failed to load deal: %w", err)
		}
		if deal != nil {
			return deal, nil
		}
	}
	deal, err := c.deals.FindDealByAgreementID(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find deal by agreement: %w", err)
	}
	return deal, nil
}

func (c *AgentLockCoordinator) lockInvite(ctx context.Context, dealID, agentID string) {
	inv, err := c.invites.FindInvite(ctx, dealID, agentID)
	if err != nil {
		c.logger.Warn("Failed to find deal invite", zap.String("deal_id", dealID), zap.Error(err))
		return
	}
	if inv == nil || inv.Status == domain.InviteLocked {
		return
	}
	if err := c.invites.UpdateInviteStatus(ctx, inv.ID, domain.InviteLocked); err != nil {
		c.logger.Warn("Failed to lock deal invite", zap.String("invite_id", inv.ID), zap.Error(err))
	}
}
