package database

import (
	"aiscript/pkg/interfaces"
	"aiscript/pkg/types"
)

// Deduction is how many credits a charge takes from each bucket.
type Deduction struct {
	Free         int
	Subscription int
	TopUp        int
}

// Total is the sum of the bucket deductions.
func (d Deduction) Total() int {
	return d.Free + d.Subscription + d.TopUp
}

// PlanDeduction takes the whole cost from the first bucket that covers it:
// free, then subscription, then top-up. When no single bucket covers the cost
// the charge is refused, whatever the total balance. The wallet is not modified.
func PlanDeduction(wallet *types.Wallet, cost int) (Deduction, error) {
	switch {
	case cost < 0:
		return Deduction{}, ErrInvalidCost
	case wallet.FreeCredits >= cost:
		return Deduction{Free: cost}, nil
	case wallet.SubscriptionCredits >= cost:
		return Deduction{Subscription: cost}, nil
	case wallet.TopUpCredits >= cost:
		return Deduction{TopUp: cost}, nil
	default:
		return Deduction{}, interfaces.ErrInsufficientFunds
	}
}
