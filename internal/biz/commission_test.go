package biz

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"credit-service/internal/constants"
	creditErrors "credit-service/internal/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedChain(env *testEnv, buyer string, agents ...string) {
	chain := make([]AgentAncestor, 0, len(agents))
	for i, agent := range agents {
		chain = append(chain, AgentAncestor{AgentUserID: agent, Level: i + 1})
	}
	env.hierarchy.chains[buyer] = chain
}

func distribute(t *testing.T, env *testEnv, buyer, trigger, amount string) *DistributeResult {
	t.Helper()
	res, err := env.commission.Distribute(context.Background(), &DistributeRequest{
		BuyerUserID:      buyer,
		TriggerBillingID: trigger,
		TriggerAmount:    dec(amount),
		BusinessType:     constants.BusinessTypeRecharge,
	})
	require.NoError(t, err)
	return res
}

func TestDistribute_ExactPerLevel(t *testing.T) {
	env := newTestEnv(t)
	seedChain(env, "buyer", "a1", "a2", "a3")

	res := distribute(t, env, "buyer", "bill-1", "1234.56")

	require.Len(t, res.Records, 3)
	assertDecimal(t, "61.73", env.commissionAccount(t, "a1").Total) // 61.728
	assertDecimal(t, "37.04", env.commissionAccount(t, "a2").Total) // 37.0368
	assertDecimal(t, "12.35", env.commissionAccount(t, "a3").Total) // 12.3456
	assert.Equal(t, 1, res.Records[0].HierarchyLevel)
	assert.Equal(t, constants.CommissionDirectionCredit, res.Records[0].Direction)
	assertDecimal(t, "0.05", res.Records[0].CommissionRate)
}

func TestDistribute_ShortChainAndMissingRate(t *testing.T) {
	env := newTestEnv(t)
	delete(env.conf.CommissionRates, 2)
	seedChain(env, "buyer", "a1", "a2")

	res := distribute(t, env, "buyer", "bill-1", "100")

	require.Len(t, res.Records, 1)
	assertDecimal(t, "5", env.commissionAccount(t, "a1").Available)
	assertDecimal(t, "0", env.commissionAccount(t, "a2").Available)
}

func TestDistribute_ReplayIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	seedChain(env, "buyer", "a1")

	distribute(t, env, "buyer", "bill-1", "100")
	res := distribute(t, env, "buyer", "bill-1", "100")

	assert.Empty(t, res.Records)
	assert.Empty(t, res.Failures)
	assertDecimal(t, "5", env.commissionAccount(t, "a1").Available)
}

func TestDistribute_LevelFailureIsolated(t *testing.T) {
	env := newTestEnv(t)
	seedChain(env, "buyer", "a1", "a2", "a3")
	env.commRepo.failSave["a2"] = errors.New("db down")

	res := distribute(t, env, "buyer", "bill-1", "1000")

	require.Len(t, res.Failures, 1)
	assert.Equal(t, 2, res.Failures[0].Level)
	assert.Len(t, res.Records, 2)
	assertDecimal(t, "50", env.commissionAccount(t, "a1").Available)
	assertDecimal(t, "10", env.commissionAccount(t, "a3").Available)
}

func TestSettlement_ApplyThenApprove(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedChain(env, "buyer", "agent")
	distribute(t, env, "buyer", "bill-1", "800") // 5% = 40

	s, err := env.commission.ApplySettlement(ctx, "agent", dec("40"), "monthly")
	require.NoError(t, err)
	assert.Equal(t, constants.SettlementStatusPending, s.Status)
	acc := env.commissionAccount(t, "agent")
	assertDecimal(t, "0", acc.Available)
	assertDecimal(t, "40", acc.Pending)

	done, err := env.commission.ApproveSettlement(ctx, s.SettlementID, dec("40"), "admin", "ok")
	require.NoError(t, err)
	assert.Equal(t, constants.SettlementStatusApproved, done.Status)
	acc = env.commissionAccount(t, "agent")
	assertDecimal(t, "0", acc.Pending)
	assertDecimal(t, "40", acc.Settled)
	assert.True(t, acc.Conserved())
}

func TestSettlement_PartialApprovalReturnsRemainder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedChain(env, "buyer", "agent")
	distribute(t, env, "buyer", "bill-1", "1000") // 50

	s, err := env.commission.ApplySettlement(ctx, "agent", dec("50"), "")
	require.NoError(t, err)
	_, err = env.commission.ApproveSettlement(ctx, s.SettlementID, dec("60"), "admin", "")
	assert.True(t, errors.Is(err, creditErrors.ErrInvalidAmount))

	_, err = env.commission.ApproveSettlement(ctx, s.SettlementID, dec("35"), "admin", "partial")
	require.NoError(t, err)

	acc := env.commissionAccount(t, "agent")
	assertDecimal(t, "15", acc.Available)
	assertDecimal(t, "35", acc.Settled)
	assertDecimal(t, "0", acc.Pending)
	assert.True(t, acc.Conserved())
}

func TestSettlement_RejectReturnsFullAmount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedChain(env, "buyer", "agent")
	distribute(t, env, "buyer", "bill-1", "1000")

	s, err := env.commission.ApplySettlement(ctx, "agent", dec("20"), "")
	require.NoError(t, err)
	done, err := env.commission.RejectSettlement(ctx, s.SettlementID, "admin", "missing invoice")
	require.NoError(t, err)

	assert.Equal(t, constants.SettlementStatusRejected, done.Status)
	acc := env.commissionAccount(t, "agent")
	assertDecimal(t, "50", acc.Available)
	assertDecimal(t, "0", acc.Pending)
}

func TestSettlement_CancelOnlyByOwner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedChain(env, "buyer", "agent")
	distribute(t, env, "buyer", "bill-1", "1000")
	s, err := env.commission.ApplySettlement(ctx, "agent", dec("20"), "")
	require.NoError(t, err)

	_, err = env.commission.CancelSettlement(ctx, s.SettlementID, "someone-else", "")
	assert.True(t, errors.Is(err, creditErrors.ErrTaskMismatch))

	done, err := env.commission.CancelSettlement(ctx, s.SettlementID, "agent", "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, constants.SettlementStatusCancelled, done.Status)
	assertDecimal(t, "50", env.commissionAccount(t, "agent").Available)
}

func TestSettlement_TerminalStatesNeverReturnToPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedChain(env, "buyer", "agent")
	distribute(t, env, "buyer", "bill-1", "10000") // 500

	finishers := map[string]func(id string) (*CommissionSettlement, error){
		constants.SettlementStatusApproved: func(id string) (*CommissionSettlement, error) {
			return env.commission.ApproveSettlement(ctx, id, dec("10"), "admin", "")
		},
		constants.SettlementStatusRejected: func(id string) (*CommissionSettlement, error) {
			return env.commission.RejectSettlement(ctx, id, "admin", "")
		},
		constants.SettlementStatusCancelled: func(id string) (*CommissionSettlement, error) {
			return env.commission.CancelSettlement(ctx, id, "agent", "")
		},
	}
	for status, finish := range finishers {
		s, err := env.commission.ApplySettlement(ctx, "agent", dec("10"), "")
		require.NoError(t, err)
		_, err = finish(s.SettlementID)
		require.NoError(t, err)

		for _, again := range finishers {
			_, err := again(s.SettlementID)
			assert.True(t, errors.Is(err, creditErrors.ErrTaskMismatch), status)
		}
		stored, err := env.commRepo.GetSettlement(ctx, s.SettlementID)
		require.NoError(t, err)
		assert.Equal(t, status, stored.Status)
	}
	assert.True(t, env.commissionAccount(t, "agent").Conserved())
}

func TestSettlement_ConcurrentTransitionLosesToConditionalUpdate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedChain(env, "buyer", "agent")
	distribute(t, env, "buyer", "bill-1", "1000")
	s, err := env.commission.ApplySettlement(ctx, "agent", dec("20"), "")
	require.NoError(t, err)
	_, err = env.commission.ApplySettlement(ctx, "agent", dec("20"), "")
	require.NoError(t, err)

	// another approver finished it between our read and our write
	stale := *s
	_, err = env.commission.RejectSettlement(ctx, s.SettlementID, "admin-2", "")
	require.NoError(t, err)
	_, err = env.commission.finish(ctx, &stale, constants.SettlementStatusApproved, dec("20"), "admin-1", "")

	assert.True(t, errors.Is(err, creditErrors.ErrTaskMismatch))
	acc := env.commissionAccount(t, "agent")
	assertDecimal(t, "0", acc.Settled)
	assertDecimal(t, "20", acc.Pending)
	assertDecimal(t, "30", acc.Available)
}

func TestApplySettlement_Insufficient(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.commission.ApplySettlement(ctx, "nobody", dec("1"), "")
	assert.True(t, errors.Is(err, creditErrors.ErrInsufficientCommission))

	seedChain(env, "buyer", "agent")
	distribute(t, env, "buyer", "bill-1", "100")
	_, err = env.commission.ApplySettlement(ctx, "agent", dec("5.01"), "")
	assert.True(t, errors.Is(err, creditErrors.ErrInsufficientCommission))
}

func TestClawbackCommission(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedChain(env, "buyer", "a1", "a2")
	distribute(t, env, "buyer", "bill-1", "1000")
	_, err := env.commission.ApplySettlement(ctx, "a2", dec("25"), "")
	require.NoError(t, err)

	res, err := env.commission.ClawbackCommission(ctx, "bill-1", "admin")
	require.NoError(t, err)

	assert.Len(t, res.Records, 1)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "a2", res.Failures[0].AgentUserID)
	assert.True(t, errors.Is(res.Failures[0].Err, creditErrors.ErrInsufficientCommission))
	a1 := env.commissionAccount(t, "a1")
	assertDecimal(t, "0", a1.Total)
	assert.True(t, a1.Conserved())

	res, err = env.commission.ClawbackCommission(ctx, "bill-1", "admin")
	require.NoError(t, err)
	assert.Empty(t, res.Records)
}

func TestFreezeCommission(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedChain(env, "buyer", "agent")
	distribute(t, env, "buyer", "bill-1", "1000")

	acc, err := env.commission.FreezeCommission(ctx, "agent", dec("30"), "admin", "audit")
	require.NoError(t, err)
	assertDecimal(t, "20", acc.Available)
	assertDecimal(t, "30", acc.Frozen)
	assert.True(t, acc.Conserved())

	_, err = env.commission.ApplySettlement(ctx, "agent", dec("21"), "")
	assert.True(t, errors.Is(err, creditErrors.ErrInsufficientCommission))

	acc, err = env.commission.UnfreezeCommission(ctx, "agent", dec("30"), "admin", "cleared")
	require.NoError(t, err)
	assertDecimal(t, "50", acc.Available)
}

func TestCommission_ConservationUnderRandomOperations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedChain(env, "buyer", "agent")
	rng := rand.New(rand.NewSource(42))
	var pending []string

	for i := 0; i < 200; i++ {
		switch rng.Intn(5) {
		case 0:
			amount := decimal.NewFromInt(int64(rng.Intn(1000) + 1))
			_, err := env.commission.Distribute(ctx, &DistributeRequest{
				BuyerUserID: "buyer", TriggerBillingID: decimal.NewFromInt(int64(i)).String(), TriggerAmount: amount,
			})
			require.NoError(t, err)
		case 1:
			s, err := env.commission.ApplySettlement(ctx, "agent", decimal.NewFromInt(int64(rng.Intn(30)+1)), "")
			if err == nil {
				pending = append(pending, s.SettlementID)
			}
		case 2, 3, 4:
			if len(pending) == 0 {
				continue
			}
			id := pending[0]
			pending = pending[1:]
			s, err := env.commRepo.GetSettlement(ctx, id)
			require.NoError(t, err)
			switch rng.Intn(3) {
			case 0:
				_, err = env.commission.ApproveSettlement(ctx, id, s.RequestAmount.Div(decimal.NewFromInt(2)).Round(2), "admin", "")
			case 1:
				_, err = env.commission.RejectSettlement(ctx, id, "admin", "")
			default:
				_, err = env.commission.CancelSettlement(ctx, id, "agent", "")
			}
			require.NoError(t, err)
		}
		acc := env.commissionAccount(t, "agent")
		require.True(t, acc.Conserved(), "step %d: %+v", i, acc)
		require.False(t, acc.Available.IsNegative(), "step %d", i)
	}
}
