package domain

import "time"

// SignaturePatch 一次签署状态写入。时间戳为 nil 表示不修改。
type SignaturePatch struct {
	InvestorSignedAt *time.Time
	AgentSignedAt    *time.Time
	// DocusignStatus is used only while the agreement is not fully signed.
	DocusignStatus EnvelopeStatus
}

// DeriveStatus maps the per-role flags onto the aggregate status.
func DeriveStatus(investorSigned, agentSigned bool) AgreementStatus {
	switch {
	case investorSigned && agentSigned:
		return AgreementFullySigned
	case investorSigned:
		return AgreementInvestorSigned
	case agentSigned:
		return AgreementAgentSigned
	default:
		return AgreementSent
	}
}

// ApplySignatures returns a copy of a with p applied. Timestamps already set are kept,
// status is derived from the resulting timestamps and never moves backward.
func ApplySignatures(a LegalAgreement, p SignaturePatch) LegalAgreement {
	out := a
	if out.InvestorSignedAt == nil && p.InvestorSignedAt != nil {
		t := *p.InvestorSignedAt
		out.InvestorSignedAt = &t
	}
	if out.AgentSignedAt == nil && p.AgentSignedAt != nil {
		t := *p.AgentSignedAt
		out.AgentSignedAt = &t
	}

	derived := DeriveStatus(out.InvestorSignedAt != nil, out.AgentSignedAt != nil)
	if derived.Rank() >= a.Status.Rank() || a.Status == AgreementFullySigned {
		out.Status = derived
	}

	switch {
	case out.Status == AgreementFullySigned:
		out.DocusignStatus = EnvelopeCompleted
	case p.DocusignStatus != "" && p.DocusignStatus != EnvelopeCompleted:
		out.DocusignStatus = p.DocusignStatus
	}
	return out
}

// ComputeTransition builds the patch implied by a provider snapshot in which the acting role is
// complete (actingAt) and the other role is complete iff otherAt != nil. changed is false when the
// patch would leave every field as it is.
func ComputeTransition(a *LegalAgreement, acting Role, actingAt, otherAt *time.Time) (SignaturePatch, bool) {
	var p SignaturePatch
	switch acting {
	case RoleInvestor:
		p.InvestorSignedAt = actingAt
		p.AgentSignedAt = otherAt
		p.DocusignStatus = EnvelopeSent
	case RoleAgent:
		p.AgentSignedAt = actingAt
		p.InvestorSignedAt = otherAt
		p.DocusignStatus = EnvelopeDelivered
	}

	next := ApplySignatures(*a, p)
	changed := !sameTime(a.InvestorSignedAt, next.InvestorSignedAt) ||
		!sameTime(a.AgentSignedAt, next.AgentSignedAt) ||
		a.Status != next.Status ||
		a.DocusignStatus != next.DocusignStatus
	return p, changed
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
