package data

import (
	"context"
	"testing"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/constants"
	"credit-service/internal/data/model"
	creditErrors "credit-service/internal/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAccount(userID string) *biz.BalanceAccount {
	return &biz.BalanceAccount{
		UserID:             userID,
		Balance:            decimal.Zero,
		PreDeductedBalance: decimal.Zero,
		FrozenAmount:       decimal.Zero,
		TotalRecharge:      decimal.Zero,
		TotalConsume:       decimal.Zero,
		TotalRefund:        decimal.Zero,
		DailyConsume:       decimal.Zero,
		FreeAllowance:      100,
		Status:             constants.AccountStatusNormal,
	}
}

func rechargeRecord(userID, billNo, amount string) *biz.BillingRecord {
	return &biz.BillingRecord{
		BillID:       "bill-" + billNo,
		BillNo:       billNo,
		UserID:       userID,
		BillType:     constants.BillTypeRecharge,
		BillingType:  constants.BillingTypeInstant,
		BusinessType: constants.BusinessTypeRecharge,
		Amount:       decimal.RequireFromString(amount),
		Status:       constants.BillStatusSuccess,
		CreateTime:   time.Now(),
	}
}

func TestLedgerRepo_CreateAndGet(t *testing.T) {
	repo := NewLedgerRepo(newTestData(t), testLogger())
	ctx := context.Background()

	_, err := repo.GetAccount(ctx, "u1")
	assert.True(t, creditErrors.IsAccountNotFound(err))

	require.NoError(t, repo.CreateAccount(ctx, newAccount("u1")))
	// 重复创建不报错也不覆盖
	again := newAccount("u1")
	again.FreeAllowance = 5
	require.NoError(t, repo.CreateAccount(ctx, again))

	acc, err := repo.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), acc.FreeAllowance)
	assert.Equal(t, int64(0), acc.Version)
	assert.True(t, acc.Balance.IsZero())
}

func TestLedgerRepo_SaveWithVersion(t *testing.T) {
	repo := NewLedgerRepo(newTestData(t), testLogger())
	ctx := context.Background()
	require.NoError(t, repo.CreateAccount(ctx, newAccount("u1")))

	acc, err := repo.GetAccount(ctx, "u1")
	require.NoError(t, err)
	stale := acc.Clone()

	acc.Balance = decimal.RequireFromString("12.345678")
	acc.TotalRecharge = acc.Balance
	require.NoError(t, repo.SaveWithVersion(ctx, acc, &biz.LedgerChange{
		EventID: "evt-1",
		Record:  rechargeRecord("u1", "B1", "12.345678"),
	}))
	assert.Equal(t, int64(1), acc.Version)

	stale.Balance = decimal.RequireFromString("1")
	err = repo.SaveWithVersion(ctx, stale, &biz.LedgerChange{Record: rechargeRecord("u1", "B2", "1")})
	assert.True(t, creditErrors.IsOptimisticLockConflict(err))

	got, err := repo.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("12.345678").Equal(got.Balance), got.Balance.String())
	assert.Equal(t, int64(1), got.Version)

	recs, total, err := repo.ListRecords(ctx, "u1", "", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, recs, 1)
	assert.Equal(t, "evt-1", recs[0].EventID)
}

func TestLedgerRepo_DuplicateEventRollsBack(t *testing.T) {
	repo := NewLedgerRepo(newTestData(t), testLogger())
	ctx := context.Background()
	require.NoError(t, repo.CreateAccount(ctx, newAccount("u1")))

	acc, _ := repo.GetAccount(ctx, "u1")
	acc.Balance = decimal.NewFromInt(10)
	require.NoError(t, repo.SaveWithVersion(ctx, acc, &biz.LedgerChange{EventID: "evt-1", Record: rechargeRecord("u1", "B1", "10")}))

	processed, err := repo.IsEventProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, processed)

	acc.Balance = decimal.NewFromInt(20)
	err = repo.SaveWithVersion(ctx, acc, &biz.LedgerChange{EventID: "evt-1", Record: rechargeRecord("u1", "B2", "10")})
	assert.True(t, creditErrors.IsDuplicateEvent(err))
	assert.Equal(t, int64(1), acc.Version)

	got, _ := repo.GetAccount(ctx, "u1")
	assert.True(t, decimal.NewFromInt(10).Equal(got.Balance))
	assert.Equal(t, int64(1), got.Version)
	_, total, _ := repo.ListRecords(ctx, "u1", "", 1, 10)
	assert.Equal(t, int64(1), total)
}

func TestLedgerRepo_Listings(t *testing.T) {
	repo := NewLedgerRepo(newTestData(t), testLogger())
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, repo.CreateAccount(ctx, newAccount(id)))
	}

	a, _ := repo.GetAccount(ctx, "a")
	a.DailyConsume = decimal.RequireFromString("0.5")
	require.NoError(t, repo.SaveWithVersion(ctx, a, nil))
	c, _ := repo.GetAccount(ctx, "c")
	c.Status = constants.AccountStatusCancelled
	require.NoError(t, repo.SaveWithVersion(ctx, c, nil))

	daily, err := repo.ListAccountsWithDailyConsume(ctx)
	require.NoError(t, err)
	require.Len(t, daily, 1)
	assert.Equal(t, "a", daily[0].UserID)

	normal, err := repo.ListAccountIDs(ctx, constants.AccountStatusNormal)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, normal)
	all, err := repo.ListAccountIDs(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, all)
}

func TestLedgerRepo_ListRecordsPaging(t *testing.T) {
	repo := NewLedgerRepo(newTestData(t), testLogger())
	ctx := context.Background()
	require.NoError(t, repo.CreateAccount(ctx, newAccount("u1")))
	acc, _ := repo.GetAccount(ctx, "u1")

	base := time.Now().Add(-time.Hour)
	for i, no := range []string{"B1", "B2", "B3"} {
		rec := rechargeRecord("u1", no, "1")
		rec.CreateTime = base.Add(time.Duration(i) * time.Minute)
		if i == 2 {
			rec.BusinessType = constants.BusinessTypeDailyConsumeSettlement
		}
		require.NoError(t, repo.SaveWithVersion(ctx, acc, &biz.LedgerChange{Record: rec}))
	}

	page1, total, err := repo.ListRecords(ctx, "u1", "", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, page1, 2)
	assert.Equal(t, "B3", page1[0].BillNo)
	page2, _, err := repo.ListRecords(ctx, "u1", "", 2, 2)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, "B1", page2[0].BillNo)

	settled, settledTotal, err := repo.ListRecords(ctx, "u1", constants.BusinessTypeDailyConsumeSettlement, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), settledTotal)
	require.Len(t, settled, 1)
	assert.Equal(t, "B3", settled[0].BillNo)
}

func TestLedgerRepo_WithLedgerUseCase(t *testing.T) {
	d := newTestData(t)
	ctx := context.Background()
	conf := biz.NewBillingConfig(nil, testLogger())
	conf.Prices[constants.BusinessTypeSMS] = decimal.RequireFromString("0.05")
	billNo, err := NewBillNoGenerator(nil)
	require.NoError(t, err)
	repo := NewLedgerRepo(d, testLogger())
	resolver := biz.NewChargeAccountResolver(NewSubAccountDirectory(d), testLogger())
	commission := biz.NewCommissionUseCase(NewCommissionRepo(d, testLogger()), NewAgentHierarchy(d, conf, testLogger()), conf, conf, testLogger())
	ledger := biz.NewLedgerUseCase(repo, resolver, commission, conf, billNo, NewBalanceCache(d, testLogger()), conf, testLogger())

	require.NoError(t, d.db.Create(&model.SubAccount{UserID: "member", ParentUserID: "owner"}).Error)

	_, err = ledger.Recharge(ctx, &biz.RechargeRequest{UserID: "owner", Amount: decimal.NewFromInt(10)}, "admin")
	require.NoError(t, err)
	res, err := ledger.DeductWithDetails(ctx, &biz.DeductRequest{Units: 20, BusinessType: constants.BusinessTypeSMS, EventID: "evt-1"}, "member")
	require.NoError(t, err)
	assert.Equal(t, "owner", res.ChargeAccount.ChargeUserID)
	assert.True(t, decimal.NewFromInt(9).Equal(res.BalanceAfter), res.BalanceAfter.String())

	_, err = ledger.DeductWithDetails(ctx, &biz.DeductRequest{Units: 20, BusinessType: constants.BusinessTypeSMS, EventID: "evt-1"}, "member")
	assert.True(t, creditErrors.IsDuplicateEvent(err))

	acc, err := ledger.GetByUserID(ctx, "owner")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(9).Equal(acc.Balance))
	assert.Equal(t, int64(2), acc.Version)
}
