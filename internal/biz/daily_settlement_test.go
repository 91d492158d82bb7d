package biz

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"credit-service/internal/constants"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dailyDeduct(t *testing.T, env *testEnv, userID string, amount decimal.Decimal) {
	t.Helper()
	_, err := env.ledger.DeductWithDailyAggregation(context.Background(), &DeductRequest{
		Amount:       amount,
		BusinessType: constants.BusinessTypeTranslation,
	}, userID)
	require.NoError(t, err)
}

func TestRunDailySettlement_SumsMatchOverManyDays(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, "u1", "100000")
	env.fund(t, "u2", "100000")
	rng := rand.New(rand.NewSource(7))
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.Local)

	deducted := map[string]decimal.Decimal{"u1": decimal.Zero, "u2": decimal.Zero}
	for day := 0; day < 30; day++ {
		for _, user := range []string{"u1", "u2"} {
			for n := rng.Intn(4); n > 0; n-- {
				amount := decimal.New(int64(rng.Intn(100000)+1), -4)
				dailyDeduct(t, env, user, amount)
				deducted[user] = deducted[user].Add(amount)
			}
		}
		date := start.AddDate(0, 0, day).Format(constants.TimeFormatDate)
		report, err := env.settlement.RunDailySettlement(ctx, date)
		require.NoError(t, err)
		assert.Empty(t, report.Failures)
	}

	for user, want := range deducted {
		settled := decimal.Zero
		recs, _, err := env.ledger.ListRecords(ctx, user, constants.BusinessTypeDailyConsumeSettlement, 1, 100)
		require.NoError(t, err)
		for _, rec := range recs {
			assert.Equal(t, constants.BillingTypeDaily, rec.BillingType)
			settled = settled.Add(rec.Amount)
		}
		assertDecimal(t, want.String(), settled, user)
		assertDecimal(t, "0", env.account(t, user).DailyConsume, user)
	}
}

func TestRunDailySettlement_DefaultsToYesterday(t *testing.T) {
	env := newTestEnv(t)
	env.settlement.now = func() time.Time { return time.Date(2026, 5, 10, 0, 5, 0, 0, time.Local) }

	report, err := env.settlement.RunDailySettlement(context.Background(), "")

	require.NoError(t, err)
	assert.Equal(t, "2026-05-09", report.Period)
	assert.Equal(t, []string{"lock:job:" + constants.JobDailyConsumeSettlement + ":2026-05-09"}, env.locker.keys)
}

func TestRunDailySettlement_SkipsWhenLockHeld(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "u1", "10")
	dailyDeduct(t, env, "u1", dec("1"))
	env.locker.held[lockKey(constants.JobDailyConsumeSettlement, "2026-05-09")] = true

	report, err := env.settlement.RunDailySettlement(context.Background(), "2026-05-09")

	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assertDecimal(t, "1", env.account(t, "u1").DailyConsume)
}

func TestRunDailySettlement_AccountFailureIsolated(t *testing.T) {
	env := newTestEnv(t)
	for _, user := range []string{"a", "b", "c"} {
		env.fund(t, user, "10")
		dailyDeduct(t, env, user, dec("2"))
	}
	env.ledgerRepo.failSave["b"] = errors.New("db down")

	report, err := env.settlement.RunDailySettlement(context.Background(), "2026-05-09")

	require.NoError(t, err)
	assert.Equal(t, 3, report.Accounts)
	assert.Equal(t, 2, report.Processed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "b", report.Failures[0].UserID)
	assertDecimal(t, "4", report.Amount)
	assertDecimal(t, "0", env.account(t, "a").DailyConsume)
	assertDecimal(t, "2", env.account(t, "b").DailyConsume)
	// lock released even with failures
	assert.Empty(t, env.locker.held)
}

func TestRunDailySettlement_RerunSameDateIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, "u1", "10")
	dailyDeduct(t, env, "u1", dec("1.5"))

	first, err := env.settlement.RunDailySettlement(ctx, "2026-05-09")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Processed)

	// accrued after the run, settled under the next date
	dailyDeduct(t, env, "u1", dec("0.5"))
	second, err := env.settlement.RunDailySettlement(ctx, "2026-05-09")
	require.NoError(t, err)
	assert.Equal(t, 0, second.Processed)
	assert.Equal(t, 1, second.AlreadyHandled)
	assertDecimal(t, "0.5", env.account(t, "u1").DailyConsume)

	third, err := env.settlement.RunDailySettlement(ctx, "2026-05-10")
	require.NoError(t, err)
	assert.Equal(t, 1, third.Processed)

	recs := env.ledgerRepo.recordsOf("u1")
	var settled []string
	for _, rec := range recs {
		if rec.BusinessType == constants.BusinessTypeDailyConsumeSettlement {
			settled = append(settled, rec.Amount.String())
		}
	}
	assert.Equal(t, []string{"1.5", "0.5"}, settled)
}

func TestResetFreeAllowances(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, "u1", "10")
	env.fund(t, "gone", "0.01")
	_, err := env.ledger.DeductWithDailyAggregation(ctx, &DeductRequest{Units: 80, BusinessType: constants.BusinessTypeTranslation}, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), env.account(t, "u1").FreeAllowance)
	_, err = env.ledger.CancelAccount(ctx, "gone", "admin")
	require.NoError(t, err)

	report, err := env.settlement.ResetFreeAllowances(ctx, "2026-06")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Accounts)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, int64(100), env.account(t, "u1").FreeAllowance)

	_, err = env.ledger.DeductWithDailyAggregation(ctx, &DeductRequest{Units: 30, BusinessType: constants.BusinessTypeTranslation}, "u1")
	require.NoError(t, err)
	again, err := env.settlement.ResetFreeAllowances(ctx, "2026-06")
	require.NoError(t, err)
	assert.Equal(t, 1, again.AlreadyHandled)
	assert.Equal(t, int64(70), env.account(t, "u1").FreeAllowance)
}
