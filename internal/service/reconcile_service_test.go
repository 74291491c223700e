package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"investorkonnect-signing/internal/domain"
	"investorkonnect-signing/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestReconcile_PollExhaustionLeavesAgreementUntouched(t *testing.T) {
	env := newTestEnv(t, nil, func(int) ([]domain.RecipientStatus, error) {
		return []domain.RecipientStatus{recipient("1", "sent", nil), recipient("2", "sent", nil)}, nil
	})
	env.seedSentAgreement()
	ctx := context.Background()
	before, _ := env.store.GetAgreement(ctx, "agr-1")

	res, err := env.svc.Reconcile(ctx, "agr-1", domain.RoleInvestor)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, res.Status)
	assert.Equal(t, 10, env.recipients.Calls())

	after, _ := env.store.GetAgreement(ctx, "agr-1")
	assert.Equal(t, before, after)
	assert.Empty(t, env.store.Deals())
}

func TestReconcile_ProviderErrorsDegradeToPending(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.seedSentAgreement()

	res, err := env.svc.Reconcile(context.Background(), "agr-1", domain.RoleAgent)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, res.Status)
	assert.Equal(t, 10, env.recipients.Calls())
}

func TestReconcile_InvestorSignsWithAgentAlreadySigned(t *testing.T) {
	agentAt := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	investorAt := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	env := newTestEnv(t, nil, func(call int) ([]domain.RecipientStatus, error) {
		if call < 3 {
			return []domain.RecipientStatus{recipient("1", "delivered", nil), recipient("2", "completed", &agentAt)}, nil
		}
		return []domain.RecipientStatus{recipient("1", "completed", &investorAt), recipient("2", "completed", &agentAt)}, nil
	})
	env.seedSentAgreement()
	ctx := context.Background()
	_, err := env.store.ApplySignatures(ctx, "agr-1", domain.SignaturePatch{AgentSignedAt: &agentAt, DocusignStatus: domain.EnvelopeDelivered})
	require.NoError(t, err)

	res, err := env.svc.Reconcile(ctx, "agr-1", domain.RoleInvestor)
	require.NoError(t, err)
	assert.Equal(t, 3, env.recipients.Calls())
	assert.Equal(t, StatusDealCreated, res.Status)

	a, _ := env.store.GetAgreement(ctx, "agr-1")
	assert.Equal(t, domain.AgreementFullySigned, a.Status)
	assert.Equal(t, domain.EnvelopeCompleted, a.DocusignStatus)
	require.NotNil(t, a.InvestorSignedAt)
	require.NotNil(t, a.AgentSignedAt)
	assert.True(t, investorAt.Equal(*a.InvestorSignedAt))
	assert.True(t, agentAt.Equal(*a.AgentSignedAt))
}

func TestReconcile_FreshInvestorSignatureMaterializesDeal(t *testing.T) {
	signedAt := time.Date(2026, 5, 2, 15, 0, 0, 0, time.UTC)
	env := newTestEnv(t, nil, func(int) ([]domain.RecipientStatus, error) {
		return []domain.RecipientStatus{recipient("1", "completed", &signedAt), recipient("2", "sent", nil)}, nil
	})
	env.seedSentAgreement()
	ctx := context.Background()

	res, err := env.svc.Reconcile(ctx, "agr-1", domain.RoleInvestor)
	require.NoError(t, err)
	require.Equal(t, StatusDealCreated, res.Status)
	require.NotEmpty(t, res.DealID)
	assert.NotEmpty(t, res.RoomID)
	assert.Equal(t, 1, env.recipients.Calls())

	deal, err := env.store.GetDeal(ctx, res.DealID)
	require.NoError(t, err)
	require.NotNil(t, deal)
	assert.Equal(t, "inv-1", deal.InvestorID)
	assert.Equal(t, "agr-1", deal.CurrentLegalAgreementID)
	require.NotNil(t, deal.ProposedTerms.BuyerCommissionPercentage)
	assert.Equal(t, "3", deal.ProposedTerms.BuyerCommissionPercentage.String(), "exhibit terms win over the draft")
	assert.Equal(t, "250000", deal.PurchasePrice.String())
	assert.Equal(t, domain.DefaultAgreementLengthDays, deal.ProposedTerms.AgreementLength)

	draft, err := env.store.GetDraft(ctx, "draft-1")
	require.NoError(t, err)
	assert.Nil(t, draft, "consumed draft is deleted")

	a, _ := env.store.GetAgreement(ctx, "agr-1")
	assert.Equal(t, res.DealID, a.DealID)
	assert.Equal(t, domain.AgreementInvestorSigned, a.Status)
	assert.Equal(t, domain.EnvelopeSent, a.DocusignStatus)
	assert.Equal(t, res.RoomID, a.RoomID)

	invites := env.store.InvitesForDeal(res.DealID)
	require.Len(t, invites, 1)
	assert.Equal(t, "agent-1", invites[0].AgentProfileID)
	assert.Equal(t, domain.InvitePending, invites[0].Status)

	// 再次调用走快速路径：只确认一次经纪人状态，不再轮询，返回 deal_exists
	res2, err := env.svc.Reconcile(ctx, "agr-1", domain.RoleInvestor)
	require.NoError(t, err)
	assert.Equal(t, StatusDealExists, res2.Status)
	assert.Equal(t, res.DealID, res2.DealID)
	assert.Equal(t, 2, env.recipients.Calls())
	assert.Len(t, env.store.Deals(), 1)
}

func TestReconcile_FastPathProbeErrorStillDispatches(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.seedSentAgreement()
	ctx := context.Background()
	at := time.Now().UTC()
	_, err := env.store.ApplySignatures(ctx, "agr-1", domain.SignaturePatch{InvestorSignedAt: &at, DocusignStatus: domain.EnvelopeSent})
	require.NoError(t, err)

	res, err := env.svc.Reconcile(ctx, "agr-1", domain.RoleInvestor)
	require.NoError(t, err)
	assert.Equal(t, StatusDealCreated, res.Status)
	assert.Equal(t, 1, env.recipients.Calls(), "single fetch, no poll loop")
	assert.Equal(t, 1, env.sessions.Calls())

	a, _ := env.store.GetAgreement(ctx, "agr-1")
	assert.Equal(t, domain.AgreementInvestorSigned, a.Status)
	assert.Nil(t, a.AgentSignedAt)
}

func TestReconcile_FastPathRecordsCounterpartSignature(t *testing.T) {
	investorAt := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	agentAt := investorAt.Add(2 * time.Hour)
	env := newTestEnv(t, nil, func(int) ([]domain.RecipientStatus, error) {
		return []domain.RecipientStatus{recipient("1", "completed", &investorAt), recipient("2", "completed", &agentAt)}, nil
	})
	env.seedSentAgreement()
	ctx := context.Background()
	_, err := env.store.ApplySignatures(ctx, "agr-1", domain.SignaturePatch{InvestorSignedAt: &investorAt, DocusignStatus: domain.EnvelopeSent})
	require.NoError(t, err)

	res, err := env.svc.Reconcile(ctx, "agr-1", domain.RoleInvestor)
	require.NoError(t, err)
	assert.Equal(t, StatusDealCreated, res.Status)
	assert.Equal(t, 1, env.recipients.Calls())

	a, _ := env.store.GetAgreement(ctx, "agr-1")
	assert.Equal(t, domain.AgreementFullySigned, a.Status)
	assert.Equal(t, domain.EnvelopeCompleted, a.DocusignStatus)
	require.NotNil(t, a.AgentSignedAt)
	assert.True(t, agentAt.Equal(*a.AgentSignedAt))
	assert.True(t, investorAt.Equal(*a.InvestorSignedAt), "stored timestamp is never rewritten")
}

func TestReconcile_FastPathSkipsProbeWhenNothingToLearn(t *testing.T) {
	at := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()
	env.seedSentAgreement()
	env.store.PutAgreement(domain.LegalAgreement{
		ID:                 "agr-solo",
		DocusignEnvelopeID: "env-solo",
		SignerMode:         domain.SignerModeInvestorOnly,
		DealID:             "draft-1",
		InvestorProfileID:  "inv-1",
	})
	_, err := env.store.ApplySignatures(ctx, "agr-solo", domain.SignaturePatch{InvestorSignedAt: &at, DocusignStatus: domain.EnvelopeSent})
	require.NoError(t, err)
	_, err = env.store.ApplySignatures(ctx, "agr-1", domain.SignaturePatch{InvestorSignedAt: &at, AgentSignedAt: &at})
	require.NoError(t, err)

	// 投资人单签协议：没有需要确认的对方
	_, err = env.svc.Reconcile(ctx, "agr-solo", domain.RoleInvestor)
	require.NoError(t, err)
	// 双方均已签署
	_, err = env.svc.Reconcile(ctx, "agr-1", domain.RoleAgent)
	require.NoError(t, err)

	assert.Equal(t, 0, env.recipients.Calls())
	assert.Equal(t, 0, env.sessions.Calls())
}

func TestReconcile_AgentSignsFirstReturnsSigned(t *testing.T) {
	agentAt := time.Date(2026, 5, 3, 8, 0, 0, 0, time.UTC)
	env := newTestEnv(t, nil, func(int) ([]domain.RecipientStatus, error) {
		return []domain.RecipientStatus{recipient("1", "sent", nil), recipient("2", "completed", &agentAt)}, nil
	})
	env.seedSentAgreement()
	ctx := context.Background()

	res, err := env.svc.Reconcile(ctx, "agr-1", domain.RoleAgent)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Status: StatusSigned, AgreementID: "agr-1"}, res)

	a, _ := env.store.GetAgreement(ctx, "agr-1")
	assert.Equal(t, domain.AgreementAgentSigned, a.Status)
	assert.Equal(t, domain.EnvelopeDelivered, a.DocusignStatus)
	assert.Nil(t, a.InvestorSignedAt)
	assert.Empty(t, env.store.Deals(), "agent path never materializes")
}

func TestReconcile_AgentCompletesAndLocksDeal(t *testing.T) {
	investorAt := time.Date(2026, 5, 2, 15, 0, 0, 0, time.UTC)
	agentAt := time.Date(2026, 5, 4, 11, 0, 0, 0, time.UTC)
	agentDone := false
	env := newTestEnv(t, nil, func(int) ([]domain.RecipientStatus, error) {
		agent := recipient("2", "sent", nil)
		if agentDone {
			agent = recipient("2", "completed", &agentAt)
		}
		return []domain.RecipientStatus{recipient("1", "completed", &investorAt), agent}, nil
	})
	env.seedSentAgreement()
	ctx := context.Background()

	created, err := env.svc.Reconcile(ctx, "agr-1", domain.RoleInvestor)
	require.NoError(t, err)
	require.Equal(t, StatusDealCreated, created.Status)

	agentDone = true
	res, err := env.svc.Reconcile(ctx, "agr-1", domain.RoleAgent)
	require.NoError(t, err)
	assert.Equal(t, StatusSigned, res.Status)

	a, _ := env.store.GetAgreement(ctx, "agr-1")
	assert.Equal(t, domain.AgreementFullySigned, a.Status)
	assert.Equal(t, domain.EnvelopeCompleted, a.DocusignStatus)
	assert.True(t, investorAt.Equal(*a.InvestorSignedAt), "investor timestamp is never rewritten")

	deal, _ := env.store.GetDeal(ctx, created.DealID)
	assert.Equal(t, "agent-1", deal.LockedAgentID)
	assert.Equal(t, "agent-1", deal.AgentID)
	assert.Equal(t, created.RoomID, deal.LockedRoomID)
	assert.Equal(t, domain.PipelineConnectedDeals, deal.PipelineStage)
	assert.NotNil(t, deal.ConnectedAt)

	room, _ := env.store.FindRoomByDealID(ctx, created.DealID)
	assert.Equal(t, string(domain.AgreementFullySigned), room.AgreementStatus)
	assert.Equal(t, domain.RoomRequestSigned, room.RequestStatus)
	assert.Equal(t, domain.InviteLocked, env.store.InvitesForDeal(created.DealID)[0].Status)
}

func TestReconcile_NotFoundAndBadInput(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()

	_, err := env.svc.Reconcile(ctx, "missing", domain.RoleInvestor)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "legal agreement", nf.Entity)

	_, err = env.svc.Reconcile(ctx, "", domain.RoleInvestor)
	var br *BadRequestError
	assert.ErrorAs(t, err, &br)

	_, err = env.svc.Reconcile(ctx, "agr-1", domain.Role("broker"))
	assert.ErrorAs(t, err, &br)
}

func TestReconcile_SessionFailureIsConfigError(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.seedSentAgreement()
	env.sessions.err = &ConfigError{Op: "refresh docusign token"}

	_, err := env.svc.Reconcile(context.Background(), "agr-1", domain.RoleInvestor)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, 0, env.recipients.Calls())
}

func TestReconcile_CancelledContextReturnsPending(t *testing.T) {
	env := newTestEnv(t, nil, func(int) ([]domain.RecipientStatus, error) {
		return []domain.RecipientStatus{recipient("1", "sent", nil)}, nil
	})
	env.seedSentAgreement()
	env.svc = NewReconcileService(env.store, env.recipients, env.sessions, env.materializer, env.locker,
		ReconcileConfig{MaxAttempts: 10, PollInterval: time.Hour}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	res, err := env.svc.Reconcile(ctx, "agr-1", domain.RoleInvestor)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, res.Status)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, env.recipients.Calls())
}

func TestReconcile_DraftMissingIsNotFound(t *testing.T) {
	at := time.Now().UTC()
	env := newTestEnv(t, nil, func(int) ([]domain.RecipientStatus, error) {
		return []domain.RecipientStatus{recipient("1", "completed", &at)}, nil
	})
	env.store.PutAgreement(domain.LegalAgreement{ID: "agr-2", DocusignEnvelopeID: "env-2", DealID: "draft-x", InvestorProfileID: "inv-9"})

	_, err := env.svc.Reconcile(context.Background(), "agr-2", domain.RoleInvestor)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "deal draft", nf.Entity)

	// 签署状态已写入，草稿补齐后可重试
	a, _ := env.store.GetAgreement(context.Background(), "agr-2")
	assert.Equal(t, domain.AgreementInvestorSigned, a.Status)
}

func TestReconcile_MaterializationBusyIsPending(t *testing.T) {
	kv := newTestRedisKV(t)
	at := time.Now().UTC()
	env := newTestEnv(t, kv, func(int) ([]domain.RecipientStatus, error) {
		return []domain.RecipientStatus{recipient("1", "completed", &at)}, nil
	})
	env.seedSentAgreement()
	ctx := context.Background()

	ok, err := kv.SetNX(ctx, materializeLockPrefix+"agr-1", "webhook", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := env.svc.Reconcile(ctx, "agr-1", domain.RoleInvestor)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, res.Status)
	assert.Empty(t, env.store.Deals())

	require.NoError(t, kv.DelIfValue(ctx, materializeLockPrefix+"agr-1", "webhook"))
	res, err = env.svc.Reconcile(ctx, "agr-1", domain.RoleInvestor)
	require.NoError(t, err)
	assert.Equal(t, StatusDealCreated, res.Status)
}

func TestApplySnapshot_BothCompleteCreatesAndLocks(t *testing.T) {
	investorAt := time.Date(2026, 5, 2, 15, 0, 0, 0, time.UTC)
	agentAt := investorAt.Add(time.Minute)
	env := newTestEnv(t, nil, nil)
	env.seedSentAgreement()
	ctx := context.Background()
	a, _ := env.store.GetAgreement(ctx, "agr-1")

	res, err := env.svc.ApplySnapshot(ctx, a, []domain.RecipientStatus{
		recipient("1", "completed", &investorAt),
		recipient("2", "completed", &agentAt),
	})
	require.NoError(t, err)
	require.Equal(t, StatusDealCreated, res.Status)

	a, _ = env.store.GetAgreement(ctx, "agr-1")
	assert.Equal(t, domain.AgreementFullySigned, a.Status)
	deal, _ := env.store.GetDeal(ctx, res.DealID)
	assert.Equal(t, "agent-1", deal.LockedAgentID)

	// 重放同一快照：无新 Deal，锁不变
	res, err = env.svc.ApplySnapshot(ctx, a, []domain.RecipientStatus{
		recipient("1", "completed", &investorAt),
		recipient("2", "completed", &agentAt),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusDealExists, res.Status)
	assert.Len(t, env.store.Deals(), 1)
}

func TestApplySnapshot_NothingCompleted(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.seedSentAgreement()
	a, _ := env.store.GetAgreement(context.Background(), "agr-1")

	res, err := env.svc.ApplySnapshot(context.Background(), a, []domain.RecipientStatus{recipient("1", "delivered", nil)})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, res.Status)
}

// 轮询与 webhook 两个写入方并发作用于同一协议，只能产生一个 Deal 和一组邀请
func TestReconcile_ConcurrentWritersCreateOneDeal(t *testing.T) {
	tests := []struct {
		name      string
		withRedis bool
	}{
		{name: "unique constraint only"},
		{name: "redis advisory lock", withRedis: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			investorAt := time.Date(2026, 5, 5, 9, 0, 0, 0, time.UTC)
			snapshot := []domain.RecipientStatus{recipient("1", "completed", &investorAt), recipient("2", "sent", nil)}

			var kv store.KV
			if tt.withRedis {
				kv = newTestRedisKV(t)
			}
			env := newTestEnv(t, kv, func(int) ([]domain.RecipientStatus, error) {
				return snapshot, nil
			})
			env.seedSentAgreement()
			ctx := context.Background()

			const writers = 16
			results := make([]ReconcileResult, writers)
			errs := make([]error, writers)

			var wg sync.WaitGroup
			start := make(chan struct{})
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					if i%2 == 0 {
						results[i], errs[i] = env.svc.Reconcile(ctx, "agr-1", domain.RoleInvestor)
						return
					}
					a, err := env.store.GetAgreement(ctx, "agr-1")
					if err != nil {
						errs[i] = err
						return
					}
					results[i], errs[i] = env.svc.ApplySnapshot(ctx, a, snapshot)
				}(i)
			}
			close(start)
			wg.Wait()

			for i, err := range errs {
				require.NoError(t, err, "writer %d", i)
			}

			deals := env.store.Deals()
			require.Len(t, deals, 1)
			dealID := deals[0].ID

			counts := map[string]int{}
			for _, res := range results {
				counts[res.Status]++
				switch res.Status {
				case StatusDealCreated, StatusDealExists:
					assert.Equal(t, dealID, res.DealID)
				case StatusPending:
					assert.True(t, tt.withRedis, "pending only when the advisory lock is held")
				default:
					t.Fatalf("unexpected status %q", res.Status)
				}
			}
			assert.Equal(t, 1, counts[StatusDealCreated])
			assert.Equal(t, writers, counts[StatusDealCreated]+counts[StatusDealExists]+counts[StatusPending])
			if !tt.withRedis {
				assert.Equal(t, writers-1, counts[StatusDealExists])
			}

			invites := env.store.InvitesForDeal(dealID)
			require.Len(t, invites, 1)
			assert.Equal(t, "agent-1", invites[0].AgentProfileID)

			a, _ := env.store.GetAgreement(ctx, "agr-1")
			assert.Equal(t, dealID, a.DealID)
			assert.Equal(t, domain.AgreementInvestorSigned, a.Status)
			assert.True(t, investorAt.Equal(*a.InvestorSignedAt))

			// 锁释放后，被挡回 pending 的调用方重试得到同一个 Deal
			if counts[StatusPending] > 0 {
				res, err := env.svc.Reconcile(ctx, "agr-1", domain.RoleInvestor)
				require.NoError(t, err)
				assert.Equal(t, StatusDealExists, res.Status)
				assert.Equal(t, dealID, res.DealID)
			}
		})
	}
}
