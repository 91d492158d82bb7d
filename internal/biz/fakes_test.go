package biz

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"credit-service/internal/constants"
	creditErrors "credit-service/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got.String(), msgAndArgs)
}

// ---------- ledger ----------

type fakeLedgerRepo struct {
	mu       sync.Mutex
	accounts map[string]*BalanceAccount
	records  []*BillingRecord
	events   map[string]bool
	// conflicts 注入的版本冲突次数，模拟并发写者
	conflicts int
	failSave  map[string]error
	saves     int
}

func newFakeLedgerRepo() *fakeLedgerRepo {
	return &fakeLedgerRepo{
		accounts: make(map[string]*BalanceAccount),
		events:   make(map[string]bool),
		failSave: make(map[string]error),
	}
}

func (r *fakeLedgerRepo) GetAccount(_ context.Context, userID string) (*BalanceAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[userID]
	if !ok {
		return nil, creditErrors.ErrAccountNotFound
	}
	return acc.Clone(), nil
}

func (r *fakeLedgerRepo) CreateAccount(_ context.Context, acc *BalanceAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[acc.UserID]; ok {
		return nil
	}
	r.accounts[acc.UserID] = acc.Clone()
	return nil
}

func (r *fakeLedgerRepo) SaveWithVersion(_ context.Context, acc *BalanceAccount, change *LedgerChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	if err := r.failSave[acc.UserID]; err != nil {
		return err
	}
	stored, ok := r.accounts[acc.UserID]
	if !ok {
		return creditErrors.ErrAccountNotFound
	}
	if r.conflicts > 0 {
		r.conflicts--
		stored.Version++
		return creditErrors.ErrOptimisticLockConflict
	}
	if stored.Version != acc.Version {
		return creditErrors.ErrOptimisticLockConflict
	}
	if change != nil && change.EventID != "" {
		if r.events[change.EventID] {
			return creditErrors.ErrDuplicateEvent
		}
		r.events[change.EventID] = true
	}
	if change != nil && change.Record != nil {
		rec := *change.Record
		r.records = append(r.records, &rec)
	}
	acc.Version++
	r.accounts[acc.UserID] = acc.Clone()
	return nil
}

func (r *fakeLedgerRepo) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[eventID], nil
}

func (r *fakeLedgerRepo) ListAccountsWithDailyConsume(_ context.Context) ([]*BalanceAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*BalanceAccount
	for _, acc := range r.accounts {
		if acc.DailyConsume.IsPositive() {
			out = append(out, acc.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (r *fakeLedgerRepo) ListAccountIDs(_ context.Context, status string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for id, acc := range r.accounts {
		if status == "" || acc.Status == status {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *fakeLedgerRepo) ListRecords(_ context.Context, userID, businessType string, page, pageSize int) ([]*BillingRecord, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*BillingRecord
	for _, rec := range r.records {
		if rec.UserID == userID && (businessType == "" || rec.BusinessType == businessType) {
			all = append(all, rec)
		}
	}
	start := (page - 1) * pageSize
	if start >= len(all) {
		return nil, int64(len(all)), nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], int64(len(all)), nil
}

func (r *fakeLedgerRepo) put(acc *BalanceAccount) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[acc.UserID] = acc.Clone()
}

func (r *fakeLedgerRepo) recordsOf(userID string) []*BillingRecord {
	recs, _, _ := r.ListRecords(context.Background(), userID, "", 1, 100000)
	return recs
}

type fakeDirectory struct {
	parents map[string]string
}

func (d *fakeDirectory) ParentOf(_ context.Context, userID string) (string, bool, error) {
	p, ok := d.parents[userID]
	return p, ok, nil
}

type fakeCache struct {
	mu       sync.Mutex
	values   map[string]decimal.Decimal
	versions map[string]int64
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: make(map[string]decimal.Decimal), versions: make(map[string]int64)}
}

func (c *fakeCache) GetAvailable(_ context.Context, userID string) (decimal.Decimal, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[userID]
	return v, ok, nil
}

func (c *fakeCache) SetAvailable(_ context.Context, userID string, available decimal.Decimal, version int64, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.versions[userID]; ok && cur > version {
		return nil
	}
	c.values[userID] = available
	c.versions[userID] = version
	return nil
}

func (c *fakeCache) Evict(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, userID)
	return nil
}

type fakeBillNo struct {
	mu sync.Mutex
	n  int
}

func (g *fakeBillNo) NextBillNo() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("B%08d", g.n)
}

// ---------- commission ----------

type fakeCommissionRepo struct {
	mu          sync.Mutex
	accounts    map[string]*CommissionAccount
	records     []*CommissionRecord
	recordKeys  map[string]bool
	settlements map[string]*CommissionSettlement
	failSave    map[string]error
}

func newFakeCommissionRepo() *fakeCommissionRepo {
	return &fakeCommissionRepo{
		accounts:    make(map[string]*CommissionAccount),
		recordKeys:  make(map[string]bool),
		settlements: make(map[string]*CommissionSettlement),
		failSave:    make(map[string]error),
	}
}

func (r *fakeCommissionRepo) GetAccount(_ context.Context, agentUserID string) (*CommissionAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[agentUserID]
	if !ok {
		return nil, creditErrors.ErrAccountNotFound
	}
	return acc.Clone(), nil
}

func (r *fakeCommissionRepo) CreateAccount(_ context.Context, acc *CommissionAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[acc.AgentUserID]; !ok {
		r.accounts[acc.AgentUserID] = acc.Clone()
	}
	return nil
}

func (r *fakeCommissionRepo) SaveWithVersion(_ context.Context, acc *CommissionAccount, change *CommissionChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failSave[acc.AgentUserID]; err != nil {
		return err
	}
	stored, ok := r.accounts[acc.AgentUserID]
	if !ok {
		return creditErrors.ErrAccountNotFound
	}
	if stored.Version != acc.Version {
		return creditErrors.ErrOptimisticLockConflict
	}
	if change != nil {
		if rec := change.Record; rec != nil {
			key := fmt.Sprintf("%s/%s/%d/%s", rec.TriggerBillingID, rec.AgentUserID, rec.HierarchyLevel, rec.Direction)
			if r.recordKeys[key] {
				return creditErrors.ErrDuplicateEvent
			}
			r.recordKeys[key] = true
			copied := *rec
			r.records = append(r.records, &copied)
		}
		if s := change.NewSettlement; s != nil {
			copied := *s
			r.settlements[s.SettlementID] = &copied
		}
		if tr := change.Transition; tr != nil {
			s, ok := r.settlements[tr.SettlementID]
			if !ok || s.Status != constants.SettlementStatusPending {
				return creditErrors.ErrTaskMismatch
			}
			s.Status = tr.To
			s.ApprovedAmount = tr.ApprovedAmount
			s.ApprovalUserID = tr.ApprovalUserID
			s.ApprovalRemark = tr.ApprovalRemark
			at := tr.ApprovalTime
			s.ApprovalTime = &at
		}
	}
	acc.Version++
	r.accounts[acc.AgentUserID] = acc.Clone()
	return nil
}

func (r *fakeCommissionRepo) GetSettlement(_ context.Context, settlementID string) (*CommissionSettlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.settlements[settlementID]
	if !ok {
		return nil, creditErrors.ErrSettlementNotFound
	}
	copied := *s
	return &copied, nil
}

func (r *fakeCommissionRepo) ListSettlements(_ context.Context, agentUserID, status string) ([]*CommissionSettlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*CommissionSettlement
	for _, s := range r.settlements {
		if s.AgentUserID == agentUserID && (status == "" || s.Status == status) {
			copied := *s
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeCommissionRepo) ListRecords(_ context.Context, agentUserID string, _, _ int) ([]*CommissionRecord, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*CommissionRecord
	for _, rec := range r.records {
		if rec.AgentUserID == agentUserID {
			out = append(out, rec)
		}
	}
	return out, int64(len(out)), nil
}

func (r *fakeCommissionRepo) ListRecordsByTrigger(_ context.Context, triggerBillingID, direction string) ([]*CommissionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*CommissionRecord
	for _, rec := range r.records {
		if rec.TriggerBillingID == triggerBillingID && rec.Direction == direction {
			out = append(out, rec)
		}
	}
	return out, nil
}

type fakeHierarchy struct {
	chains map[string][]AgentAncestor
	err    error
}

func (h *fakeHierarchy) AncestorChain(_ context.Context, userID string) ([]AgentAncestor, error) {
	if h.err != nil {
		return nil, h.err
	}
	return h.chains[userID], nil
}

// ---------- jobs & pipeline ----------

type fakeLock struct {
	locker *fakeLocker
	key    string
}

func (l *fakeLock) Release(_ context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	delete(l.locker.held, l.key)
	return nil
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
	keys []string
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (l *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (JobLock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	if l.held[key] {
		return nil, creditErrors.ErrLockNotAcquired
	}
	l.held[key] = true
	return &fakeLock{locker: l, key: key}, nil
}

type fakePublisher struct {
	mu          sync.Mutex
	enabled     bool
	failPrimary error
	failDlq     error
	primary     []*ChargeEvent
	deadLetters []*ChargeEvent
	delays      []time.Duration
}

func (p *fakePublisher) Enabled() bool { return p.enabled }

func (p *fakePublisher) PublishPrimary(_ context.Context, evt *ChargeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failPrimary != nil {
		return p.failPrimary
	}
	copied := *evt
	p.primary = append(p.primary, &copied)
	return nil
}

func (p *fakePublisher) PublishDeadLetter(_ context.Context, evt *ChargeEvent, delay time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failDlq != nil {
		return p.failDlq
	}
	copied := *evt
	p.deadLetters = append(p.deadLetters, &copied)
	p.delays = append(p.delays, delay)
	return nil
}

type fakeFailureRepo struct {
	mu       sync.Mutex
	failures map[string]*ChargeEventFailure
}

func newFakeFailureRepo() *fakeFailureRepo {
	return &fakeFailureRepo{failures: make(map[string]*ChargeEventFailure)}
}

func (r *fakeFailureRepo) Save(_ context.Context, f *ChargeEventFailure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *f
	r.failures[f.EventID] = &copied
	return nil
}

func (r *fakeFailureRepo) Get(_ context.Context, eventID string) (*ChargeEventFailure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.failures[eventID]
	if !ok {
		return nil, creditErrors.ErrFailureNotFound
	}
	copied := *f
	return &copied, nil
}

func (r *fakeFailureRepo) ListUnresolved(_ context.Context, limit int) ([]*ChargeEventFailure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*ChargeEventFailure
	for _, f := range r.failures {
		if !f.Resolved && len(out) < limit {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *fakeFailureRepo) MarkResolved(_ context.Context, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.failures[eventID]
	if !ok {
		return creditErrors.ErrFailureNotFound
	}
	f.Resolved = true
	now := time.Now()
	f.ResolvedAt = &now
	return nil
}

// ---------- env ----------

type testEnv struct {
	conf        *BillingConfig
	ledgerRepo  *fakeLedgerRepo
	commRepo    *fakeCommissionRepo
	directory   *fakeDirectory
	hierarchy   *fakeHierarchy
	cache       *fakeCache
	locker      *fakeLocker
	publisher   *fakePublisher
	failures    *fakeFailureRepo
	resolver    *ChargeAccountResolver
	ledger      *LedgerUseCase
	commission  *CommissionUseCase
	guard       *BalanceGuard
	settlement  *DailySettlementUseCase
	chargeEvent *ChargeEventUseCase
}

func newTestConfig() *BillingConfig {
	c := NewBillingConfig(nil, log.DefaultLogger)
	c.Prices[constants.BusinessTypeSMS] = dec("0.05")
	c.Prices[constants.BusinessTypeTranslation] = dec("0.0002")
	c.CommissionRates[1] = dec("0.05")
	c.CommissionRates[2] = dec("0.03")
	c.CommissionRates[3] = dec("0.01")
	c.FreeAllowance = 100
	c.EventTimeout = time.Second
	return c
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := log.DefaultLogger
	env := &testEnv{
		conf:       newTestConfig(),
		ledgerRepo: newFakeLedgerRepo(),
		commRepo:   newFakeCommissionRepo(),
		directory:  &fakeDirectory{parents: map[string]string{}},
		hierarchy:  &fakeHierarchy{chains: map[string][]AgentAncestor{}},
		cache:      newFakeCache(),
		locker:     newFakeLocker(),
		publisher:  &fakePublisher{enabled: true},
		failures:   newFakeFailureRepo(),
	}
	env.resolver = NewChargeAccountResolver(env.directory, logger)
	env.commission = NewCommissionUseCase(env.commRepo, env.hierarchy, env.conf, env.conf, logger)
	env.ledger = NewLedgerUseCase(env.ledgerRepo, env.resolver, env.commission, env.conf, &fakeBillNo{}, env.cache, env.conf, logger)
	env.guard = NewBalanceGuard(env.ledgerRepo, env.resolver, env.conf, env.cache, env.conf, logger)
	env.settlement = NewDailySettlementUseCase(env.ledger, env.locker, env.conf, logger)
	env.chargeEvent = NewChargeEventUseCase(env.ledger, env.guard, env.resolver, env.conf, env.publisher, env.failures, env.conf, logger)
	return env
}

// fund 开户并充值
func (e *testEnv) fund(t *testing.T, userID, amount string) *BalanceAccount {
	t.Helper()
	res, err := e.ledger.Recharge(context.Background(), &RechargeRequest{UserID: userID, Amount: dec(amount)}, "admin")
	require.NoError(t, err)
	return res.Account
}

func (e *testEnv) account(t *testing.T, userID string) *BalanceAccount {
	t.Helper()
	acc, err := e.ledgerRepo.GetAccount(context.Background(), userID)
	require.NoError(t, err)
	return acc
}

func (e *testEnv) commissionAccount(t *testing.T, agentUserID string) *CommissionAccount {
	t.Helper()
	acc, err := e.commission.GetAccount(context.Background(), agentUserID)
	require.NoError(t, err)
	return acc
}
