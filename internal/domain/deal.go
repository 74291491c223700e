package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Commission types as stored on deals.
const (
	CommissionPercentage = "percentage"
	CommissionFlatFee    = "flat_fee"
)

// DefaultAgreementLengthDays applies when neither the exhibit nor the draft carries a length.
const DefaultAgreementLengthDays = 180

// PipelineStage 交易看板阶段
type PipelineStage string

const (
	PipelineNewDeals       PipelineStage = "new_deals"
	PipelineConnectedDeals PipelineStage = "connected_deals"
)

// DealDraft 投资人在协议签署前录入的交易草稿（只读消费，转换后删除）
type DealDraft struct {
	ID                string
	InvestorProfileID string

	PropertyAddress string
	City            string
	State           string
	Zip             string
	County          string
	PropertyType    string
	PurchasePrice   *decimal.Decimal
	ClosingDate     string

	BuyerCommissionType       string
	BuyerCommissionPercentage *decimal.Decimal
	BuyerFlatFee              *decimal.Decimal
	AgreementLength           *int

	WalkthroughScheduled bool
	WalkthroughDate      string
	WalkthroughTime      string

	SelectedAgentIDs []string
	CreatedAt        time.Time
}

// ProposedTerms 交易佣金条款（JSON 存储）
type ProposedTerms struct {
	BuyerCommissionType       string           `json:"buyer_commission_type"`
	BuyerCommissionPercentage *decimal.Decimal `json:"buyer_commission_percentage,omitempty"`
	BuyerFlatFee              *decimal.Decimal `json:"buyer_flat_fee,omitempty"`
	AgreementLength           int              `json:"agreement_length"`
}

// Deal 交易聚合
type Deal struct {
	ID         string
	Title      string
	InvestorID string

	PropertyAddress string
	City            string
	State           string
	Zip             string
	County          string
	PropertyType    string
	PurchasePrice   *decimal.Decimal
	ClosingDate     string
	ProposedTerms   ProposedTerms

	WalkthroughScheduled bool
	WalkthroughDate      *string
	WalkthroughTime      *string

	SelectedAgentIDs []string
	Status           string
	PipelineStage    PipelineStage

	// CurrentLegalAgreementID is unique across deals and serves as the idempotency key.
	CurrentLegalAgreementID string

	LockedAgentID string
	LockedRoomID  string
	AgentID       string
	ConnectedAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (d *Deal) Locked() bool { return d.LockedAgentID != "" }

// DealLock 一次性锁定字段
type DealLock struct {
	RoomID      string
	AgentID     string
	ConnectedAt time.Time
}

// Room 投资人与经纪人的沟通房间
type Room struct {
	ID              string
	DealID          string
	InvestorID      string
	AgreementStatus string
	RequestStatus   string
	CreatedAt       time.Time
}

const (
	RoomRequestPending = "pending"
	RoomRequestSigned  = "signed"
)

// DealInvite 发给候选经纪人的邀请
type DealInvite struct {
	ID             string
	DealID         string
	AgentProfileID string
	RoomID         string
	Status         string
	CreatedAt      time.Time
}

const (
	InvitePending = "PENDING"
	InviteLocked  = "LOCKED"
)
