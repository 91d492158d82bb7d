package biz

import "github.com/google/wire"

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewBillingConfig,
	NewPriceConfig,
	NewChargeAccountResolver,
	NewCommissionUseCase,
	NewLedgerUseCase,
	NewBalanceGuard,
	NewDailySettlementUseCase,
	NewChargeEventUseCase,
)
