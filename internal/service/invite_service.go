package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"investorkonnect-signing/internal/domain"
	"investorkonnect-signing/internal/repository"

	"go.uber.org/zap"
)

// InviteService createInvitesAfterInvestorSign：每个 Deal 一个房间，每个候选经纪人一条 PENDING 邀请
type InviteService struct {
	agreements repository.AgreementsRepo
	deals      repository.DealsRepo
	rooms      repository.RoomsRepo
	invites    repository.DealInvitesRepo
	logger     *zap.Logger
}

func NewInviteService(agreements repository.AgreementsRepo, deals repository.DealsRepo, rooms repository.RoomsRepo, invites repository.DealInvitesRepo, logger *zap.Logger) *InviteService {
	return &InviteService{agreements: agreements, deals: deals, rooms: rooms, invites: invites, logger: logger}
}

type createInvitesPayload struct {
	DealID string `json:"deal_id"`
}

// Handler adapts the service to the function registry.
func (s *InviteService) Handler() FunctionHandler {
	return func(ctx context.Context, payload json.RawMessage) error {
		var p createInvitesPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("invalid %s payload: %w", FunctionCreateInvitesAfterInvestorSign, err)
		}
		if p.DealID == "" {
			return &BadRequestError{Msg: "deal_id is required"}
		}
		return s.CreateInvitesAfterInvestorSign(ctx, p.DealID)
	}
}

// CreateInvitesAfterInvestorSign 幂等：重复调用不会产生重复房间或邀请
func (s *InviteService) CreateInvitesAfterInvestorSign(ctx context.Context, dealID string) error {
	deal, err := s.deals.GetDeal(ctx, dealID)
	if err != nil {
		return fmt.Errorf("failed to load deal: %w", err)
	}
	if deal == nil {
		return &NotFoundError{Entity: "deal", ID: dealID}
	}

	room, err := s.ensureRoom(ctx, deal)
	if err != nil {
		return err
	}

	created := 0
	for _, agentID := range deal.SelectedAgentIDs {
		existing, err := s.invites.FindInvite(ctx, deal.ID, agentID)
		if err != nil {
			return fmt.Errorf("failed to find invite: %w", err)
		}
		if existing != nil {
			continue
		}
		err = s.invites.CreateInvite(ctx, &domain.DealInvite{
			DealID:         deal.ID,
			AgentProfileID: agentID,
			RoomID:         room.ID,
			Status:         domain.InvitePending,
		})
		if err != nil && !errors.Is(err, repository.ErrDuplicate) {
			return fmt.Errorf("failed to create invite: %w", err)
		}
		if err == nil {
			created++
		}
	}

	if err := s.agreements.AttachRoom(ctx, deal.ID, room.ID); err != nil {
		s.logger.Warn("Failed to attach room to agreements", zap.String("deal_id", deal.ID), zap.Error(err))
	}

	s.logger.Info("Deal invites ensured",
		zap.String("deal_id", deal.ID),
		zap.String("room_id", room.ID),
		zap.Int("created", created),
	)
	return nil
}

func (s *InviteService) ensureRoom(ctx context.Context, deal *domain.Deal) (*domain.Room, error) {
	room, err := s.rooms.FindRoomByDealID(ctx, deal.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find room: %w", err)
	}
	if room != nil {
		return room, nil
	}

	room = &domain.Room{
		DealID:          deal.ID,
		InvestorID:      deal.InvestorID,
		AgreementStatus: string(domain.AgreementInvestorSigned),
		RequestStatus:   domain.RoomRequestPending,
	}
	if err := s.rooms.CreateRoom(ctx, room); err != nil {
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("failed to create room: %w", err)
		}
		room, err = s.rooms.FindRoomByDealID(ctx, deal.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to read back room: %w", err)
		}
		if room == nil {
			return nil, fmt.Errorf("room for deal %s vanished after duplicate insert", deal.ID)
		}
	}
	return room, nil
}
