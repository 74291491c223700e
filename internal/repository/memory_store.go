package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"investorkonnect-signing/internal/domain"

	"github.com/google/uuid"
)

// MemoryStore: DB 未启用时的内存实现，同时作为 service 层单元测试的 fake
// - 与 Postgres 实现保持相同的幂等语义（唯一约束、COALESCE 写入、条件锁定）
// - 返回值均为拷贝，调用方修改不会影响存储
type MemoryStore struct {
	mu sync.RWMutex

	agreements  map[string]domain.LegalAgreement
	deals       map[string]domain.Deal
	drafts      map[string]domain.DealDraft
	rooms       map[string]domain.Room
	invites     map[string]domain.DealInvite
	connections map[string]domain.ProviderConnection

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agreements:  map[string]domain.LegalAgreement{},
		deals:       map[string]domain.Deal{},
		drafts:      map[string]domain.DealDraft{},
		rooms:       map[string]domain.Room{},
		invites:     map[string]domain.DealInvite{},
		connections: map[string]domain.ProviderConnection{},
		now:         func() time.Time { return time.Now().UTC() },
	}
}

var (
	_ AgreementsRepo     = (*MemoryStore)(nil)
	_ DealsRepo          = (*MemoryStore)(nil)
	_ DealDraftsRepo     = (*MemoryStore)(nil)
	_ RoomsRepo          = (*MemoryStore)(nil)
	_ DealInvitesRepo    = (*MemoryStore)(nil)
	_ ProviderTokensRepo = (*MemoryStore)(nil)
)

// ---- seeding (dev bootstrap / tests) ----

func (m *MemoryStore) PutAgreement(a domain.LegalAgreement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = domain.AgreementSent
	}
	if a.DocusignStatus == "" {
		a.DocusignStatus = domain.EnvelopeSent
	}
	m.agreements[a.ID] = a
}

func (m *MemoryStore) PutDraft(d domain.DealDraft) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = m.now()
	}
	m.drafts[d.ID] = d
}

func (m *MemoryStore) PutDeal(d domain.Deal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deals[d.ID] = d
}

func (m *MemoryStore) PutRoom(r domain.Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[r.ID] = r
}

func (m *MemoryStore) PutInvite(i domain.DealInvite) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invites[i.ID] = i
}

// Deals returns every stored deal, ordered by creation time.
func (m *MemoryStore) Deals() []domain.Deal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Deal, 0, len(m.deals))
	for _, d := range m.deals {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// InvitesForDeal returns the deal's invites ordered by agent.
func (m *MemoryStore) InvitesForDeal(dealID string) []domain.DealInvite {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.DealInvite
	for _, inv := range m.invites {
		if inv.DealID == dealID {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentProfileID < out[j].AgentProfileID })
	return out
}

// ---- AgreementsRepo ----

func (m *MemoryStore) GetAgreement(_ context.Context, id string) (*domain.LegalAgreement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agreements[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *MemoryStore) GetAgreementByEnvelopeID(_ context.Context, envelopeID string) (*domain.LegalAgreement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *domain.LegalAgreement
	for _, a := range m.agreements {
		if a.DocusignEnvelopeID != envelopeID {
			continue
		}
		if found == nil || a.CreatedAt.After(found.CreatedAt) {
			a := a
			found = &a
		}
	}
	return found, nil
}

func (m *MemoryStore) ApplySignatures(_ context.Context, id string, patch domain.SignaturePatch) (*domain.LegalAgreement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agreements[id]
	if !ok {
		return nil, fmt.Errorf("legal agreement %s not found", id)
	}
	next := domain.ApplySignatures(a, patch)
	next.UpdatedAt = m.now()
	m.agreements[id] = next
	return &next, nil
}

func (m *MemoryStore) RepointDeal(_ context.Context, id, dealID string) (*domain.LegalAgreement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agreements[id]
	if !ok {
		return nil, fmt.Errorf("legal agreement %s not found", id)
	}
	a.DealID = dealID
	if a.Status == domain.AgreementSent || a.Status == domain.AgreementInvestorSigned {
		a.Status = domain.AgreementInvestorSigned
	}
	a.UpdatedAt = m.now()
	m.agreements[id] = a
	return &a, nil
}

func (m *MemoryStore) AttachRoom(_ context.Context, dealID, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, a := range m.agreements {
		if a.DealID == dealID && a.RoomID == "" {
			a.RoomID = roomID
			a.UpdatedAt = m.now()
			m.agreements[id] = a
		}
	}
	return nil
}

// ---- DealsRepo ----

func (m *MemoryStore) GetDeal(_ context.Context, id string) (*domain.Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deals[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (m *MemoryStore) FindDealByAgreementID(_ context.Context, agreementID string) (*domain.Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.deals {
		if d.CurrentLegalAgreementID == agreementID {
			return &d, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) CreateDeal(_ context.Context, deal *domain.Deal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if deal.CurrentLegalAgreementID != "" {
		for _, d := range m.deals {
			if d.CurrentLegalAgreementID == deal.CurrentLegalAgreementID {
				return ErrDuplicate
			}
		}
	}
	if deal.ID == "" {
		deal.ID = uuid.NewString()
	}
	now := m.now()
	if deal.CreatedAt.IsZero() {
		deal.CreatedAt = now
	}
	deal.UpdatedAt = now
	m.deals[deal.ID] = *deal
	return nil
}

func (m *MemoryStore) LockDeal(_ context.Context, dealID string, lock domain.DealLock) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deals[dealID]
	if !ok || d.Locked() {
		return false, nil
	}
	connectedAt := lock.ConnectedAt
	d.LockedRoomID = lock.RoomID
	d.LockedAgentID = lock.AgentID
	d.AgentID = lock.AgentID
	d.ConnectedAt = &connectedAt
	d.PipelineStage = domain.PipelineConnectedDeals
	d.SelectedAgentIDs = []string{lock.AgentID}
	d.UpdatedAt = m.now()
	m.deals[dealID] = d
	return true, nil
}

// ---- DealDraftsRepo ----

func (m *MemoryStore) GetDraft(_ context.Context, id string) (*domain.DealDraft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drafts[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (m *MemoryStore) LatestDraftForInvestor(_ context.Context, investorProfileID string) (*domain.DealDraft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *domain.DealDraft
	for _, d := range m.drafts {
		if investorProfileID == "" || d.InvestorProfileID != investorProfileID {
			continue
		}
		if latest == nil || d.CreatedAt.After(latest.CreatedAt) {
			d := d
			latest = &d
		}
	}
	return latest, nil
}

func (m *MemoryStore) DeleteDraft(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drafts, id)
	return nil
}

// ---- RoomsRepo ----

func (m *MemoryStore) FindRoomByDealID(_ context.Context, dealID string) (*domain.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rooms {
		if r.DealID == dealID {
			return &r, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) CreateRoom(_ context.Context, room *domain.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rooms {
		if r.DealID == room.DealID {
			return ErrDuplicate
		}
	}
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = m.now()
	}
	m.rooms[room.ID] = *room
	return nil
}

func (m *MemoryStore) UpdateRoomStatus(_ context.Context, roomID, agreementStatus, requestStatus string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return fmt.Errorf("room %s not found", roomID)
	}
	r.AgreementStatus = agreementStatus
	r.RequestStatus = requestStatus
	m.rooms[roomID] = r
	return nil
}

// ---- DealInvitesRepo ----

func (m *MemoryStore) CountInvitesByDeal(_ context.Context, dealID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, inv := range m.invites {
		if inv.DealID == dealID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) FindInvite(_ context.Context, dealID, agentProfileID string) (*domain.DealInvite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, inv := range m.invites {
		if inv.DealID == dealID && inv.AgentProfileID == agentProfileID {
			return &inv, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) CreateInvite(_ context.Context, invite *domain.DealInvite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invites {
		if inv.DealID == invite.DealID && inv.AgentProfileID == invite.AgentProfileID {
			return ErrDuplicate
		}
	}
	if invite.ID == "" {
		invite.ID = uuid.NewString()
	}
	if invite.CreatedAt.IsZero() {
		invite.CreatedAt = m.now()
	}
	m.invites[invite.ID] = *invite
	return nil
}

func (m *MemoryStore) UpdateInviteStatus(_ context.Context, inviteID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invites[inviteID]
	if !ok {
		return fmt.Errorf("deal invite %s not found", inviteID)
	}
	inv.Status = status
	m.invites[inviteID] = inv
	return nil
}

// ---- ProviderTokensRepo ----

func (m *MemoryStore) GetConnection(_ context.Context, id string) (*domain.ProviderConnection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.connections[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *MemoryStore) SaveConnection(_ context.Context, conn *domain.ProviderConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn.UpdatedAt = m.now()
	m.connections[conn.ID] = *conn
	return nil
}
