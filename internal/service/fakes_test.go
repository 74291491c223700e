package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"investorkonnect-signing/internal/domain"
	"investorkonnect-signing/internal/repository"
	"investorkonnect-signing/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var errProviderDown = errors.New("provider unavailable")

// scriptedRecipients returns respond(n) for the n-th call (1-based).
type scriptedRecipients struct {
	mu      sync.Mutex
	calls   int
	respond func(call int) ([]domain.RecipientStatus, error)
}

func (s *scriptedRecipients) ListRecipients(ctx context.Context, _ domain.ProviderSession, _ string) ([]domain.RecipientStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()
	return s.respond(n)
}

func (s *scriptedRecipients) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type staticSessions struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (s *staticSessions) Session(context.Context) (domain.ProviderSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return domain.ProviderSession{}, s.err
	}
	return domain.ProviderSession{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (s *staticSessions) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func recipient(id, status string, at *time.Time) domain.RecipientStatus {
	return domain.RecipientStatus{RecipientID: id, Status: status, SignedDateTime: at}
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func intPtr(v int) *int { return &v }

type testEnv struct {
	store        *repository.MemoryStore
	recipients   *scriptedRecipients
	sessions     *staticSessions
	invoker      *LocalFunctionInvoker
	materializer *DealMaterializer
	locker       *AgentLockCoordinator
	svc          ReconcileService
}

func newTestEnv(t *testing.T, kv store.KV, respond func(call int) ([]domain.RecipientStatus, error)) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	s := repository.NewMemoryStore()

	invoker := NewLocalFunctionInvoker()
	invites := NewInviteService(s, s, s, s, logger)
	invoker.Register(FunctionCreateInvitesAfterInvestorSign, invites.Handler())

	if respond == nil {
		respond = func(int) ([]domain.RecipientStatus, error) { return nil, errProviderDown }
	}
	env := &testEnv{
		store:      s,
		recipients: &scriptedRecipients{respond: respond},
		sessions:   &staticSessions{},
		invoker:    invoker,
	}
	env.materializer = NewDealMaterializer(s, s, s, s, s, invoker, kv, time.Minute, logger)
	env.locker = NewAgentLockCoordinator(s, s, s, logger)
	env.svc = NewReconcileService(s, env.recipients, env.sessions, env.materializer, env.locker,
		ReconcileConfig{MaxAttempts: 10, PollInterval: time.Millisecond}, logger)
	return env
}

// seedSentAgreement stores an agreement pointing at a draft with one selected agent.
func (e *testEnv) seedSentAgreement() {
	e.store.PutAgreement(domain.LegalAgreement{
		ID:                 "agr-1",
		DocusignEnvelopeID: "env-1",
		SignerMode:         domain.SignerModeDual,
		Status:             domain.AgreementSent,
		DocusignStatus:     domain.EnvelopeSent,
		DealID:             "draft-1",
		InvestorProfileID:  "inv-1",
		AgentProfileID:     "agent-1",
		ExhibitATerms: domain.ExhibitATerms{
			BuyerCommissionType:       domain.CommissionPercentage,
			BuyerCommissionPercentage: dec("3"),
		},
	})
	e.store.PutDraft(domain.DealDraft{
		ID:                        "draft-1",
		InvestorProfileID:         "inv-1",
		PropertyAddress:           "12 Oak St",
		City:                      "Austin",
		State:                     "TX",
		PurchasePrice:             dec("250000"),
		BuyerCommissionType:       domain.CommissionPercentage,
		BuyerCommissionPercentage: dec("2.5"),
		SelectedAgentIDs:          []string{"agent-1"},
	})
}
