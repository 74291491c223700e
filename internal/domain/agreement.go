package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Role 签署方角色
type Role string

const (
	RoleInvestor Role = "investor"
	RoleAgent    Role = "agent"
)

// ParseRole validates a caller-supplied role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleInvestor, RoleAgent:
		return Role(s), nil
	}
	return "", fmt.Errorf("invalid role %q", s)
}

// Other returns the counterpart signer role.
func (r Role) Other() Role {
	switch r {
	case RoleInvestor:
		return RoleAgent
	case RoleAgent:
		return RoleInvestor
	}
	panic(fmt.Sprintf("domain: unknown role %q", string(r)))
}

// AgreementStatus 协议聚合状态：sent -> {investor_signed | agent_signed} -> fully_signed
type AgreementStatus string

const (
	AgreementSent           AgreementStatus = "sent"
	AgreementInvestorSigned AgreementStatus = "investor_signed"
	AgreementAgentSigned    AgreementStatus = "agent_signed"
	AgreementFullySigned    AgreementStatus = "fully_signed"
)

// Rank orders statuses by how much of the agreement is signed.
func (s AgreementStatus) Rank() int {
	switch s {
	case AgreementSent:
		return 0
	case AgreementInvestorSigned, AgreementAgentSigned:
		return 1
	case AgreementFullySigned:
		return 2
	}
	return -1
}

func (s AgreementStatus) Valid() bool { return s.Rank() >= 0 }

// EnvelopeStatus 镜像 DocuSign 信封状态
type EnvelopeStatus string

const (
	EnvelopeSent      EnvelopeStatus = "sent"
	EnvelopeDelivered EnvelopeStatus = "delivered"
	EnvelopeCompleted EnvelopeStatus = "completed"
)

func (s EnvelopeStatus) Valid() bool {
	switch s {
	case EnvelopeSent, EnvelopeDelivered, EnvelopeCompleted:
		return true
	}
	return false
}

// SignerMode distinguishes investor-only agreements from two-party ones.
type SignerMode string

const (
	SignerModeDual         SignerMode = "dual"
	SignerModeInvestorOnly SignerMode = "investor_only"
)

const (
	DefaultInvestorRecipientID = "1"
	DefaultAgentRecipientID    = "2"
)

// ExhibitATerms 协议附件 A 中的佣金条款，优先级高于草稿
type ExhibitATerms struct {
	BuyerCommissionType       string           `json:"buyer_commission_type,omitempty"`
	BuyerCommissionPercentage *decimal.Decimal `json:"buyer_commission_percentage,omitempty"`
	BuyerFlatFee              *decimal.Decimal `json:"buyer_flat_fee,omitempty"`
	AgreementLength           *int             `json:"agreement_length,omitempty"` // days
}

// LegalAgreement 法律协议聚合
type LegalAgreement struct {
	ID                  string
	DocusignEnvelopeID  string
	InvestorRecipientID string
	AgentRecipientID    string
	SignerMode          SignerMode

	InvestorSignedAt *time.Time
	AgentSignedAt    *time.Time
	Status           AgreementStatus
	DocusignStatus   EnvelopeStatus

	// DealID points at a DealDraft until the Deal is materialized, then at the Deal.
	DealID            string
	InvestorProfileID string
	AgentProfileID    string
	RoomID            string
	ExhibitATerms     ExhibitATerms

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RecipientID returns the envelope recipient id for the role, falling back to the defaults.
func (a *LegalAgreement) RecipientID(r Role) string {
	switch r {
	case RoleInvestor:
		if a.InvestorRecipientID != "" {
			return a.InvestorRecipientID
		}
		return DefaultInvestorRecipientID
	case RoleAgent:
		if a.AgentRecipientID != "" {
			return a.AgentRecipientID
		}
		return DefaultAgentRecipientID
	}
	return ""
}

// SignedAt returns the role's completion timestamp, nil if not signed.
func (a *LegalAgreement) SignedAt(r Role) *time.Time {
	switch r {
	case RoleInvestor:
		return a.InvestorSignedAt
	case RoleAgent:
		return a.AgentSignedAt
	}
	return nil
}

func (a *LegalAgreement) FullySigned() bool {
	return a.InvestorSignedAt != nil && a.AgentSignedAt != nil
}

// RequiresCounterSignature reports whether the agent role takes part in this agreement.
func (a *LegalAgreement) RequiresCounterSignature() bool {
	return a.SignerMode != SignerModeInvestorOnly
}
