// Package gaspolicy computes the fee configuration for a transaction from a
// chain's raw fee-market snapshot plus an operator-configured policy, per
// spec.md §6.4.
package gaspolicy

import (
	"github.com/holiman/uint256"

	"swapgateway/internal/chain"
)

// Compute-unit budgets per pool program / router, for signature-hash family
// chains where fees are priced per compute unit rather than per gas unit.
const (
	ComputeUnitAMM             = 300_000
	ComputeUnitCLMM            = 600_000
	ComputeUnitUniversalRouter = 500_000
)

// Policy is the operator-configurable knobs layered on top of a chain's
// live fee estimate.
type Policy struct {
	// GasMax caps the max fee per unit the gateway will ever offer,
	// regardless of what the chain reports. Nil means no cap.
	GasMax *uint256.Int
	// MultiplierPct scales the chain's suggested priority fee, expressed
	// as a percentage (150 == 1.5x). Zero means no scaling (100%).
	MultiplierPct uint32
	// GasLimit is the account-nonce family gas limit to request. Zero lets
	// the caller fall back to a family default.
	GasLimit uint64
}

const defaultGasLimit = 300_000

// Compute resolves a chain's live GasEstimate plus a Policy into the
// GasParams a RouteBuilder needs to build a transaction. program selects
// the compute-unit budget for signature-hash family chains; it is ignored
// for account-nonce chains.
func Compute(estimate chain.GasEstimate, policy Policy, family chain.Family, program chain.PoolProgram) chain.GasParams {
	priority := scale(estimate.PriorityFeePerUnit, policy.MultiplierPct)
	maxFee := new(uint256.Int).Add(zeroIfNil(estimate.BaseFeePerUnit), priority)
	if policy.GasMax != nil && maxFee.Gt(policy.GasMax) {
		maxFee = policy.GasMax
	}

	params := chain.GasParams{
		MaxFeePerUnit:      maxFee,
		PriorityFeePerUnit: priority,
	}

	switch family {
	case chain.FamilyAccountNonce:
		params.GasLimit = policy.GasLimit
		if params.GasLimit == 0 {
			params.GasLimit = defaultGasLimit
		}
	case chain.FamilySignatureHash:
		params.ComputeUnitLimit = computeUnitBudget(program)
		// Convert the total priority fee into a per-compute-unit rate,
		// expressed in micro-units, matching the chain's own fee-market
		// convention of pricing priority by compute unit rather than by
		// whole transaction.
		if params.ComputeUnitLimit > 0 {
			micro := new(uint256.Int).Mul(priority, uint256.NewInt(1_000_000))
			params.PriorityFeePerUnit = micro.Div(micro, uint256.NewInt(uint64(params.ComputeUnitLimit)))
		}
	}
	return params
}

func computeUnitBudget(program chain.PoolProgram) uint64 {
	switch program {
	case chain.PoolProgramCLMM:
		return ComputeUnitCLMM
	case chain.PoolProgramAMM:
		return ComputeUnitAMM
	default:
		return ComputeUnitUniversalRouter
	}
}

func scale(base *uint256.Int, multiplierPct uint32) *uint256.Int {
	base = zeroIfNil(base)
	if multiplierPct == 0 {
		return new(uint256.Int).Set(base)
	}
	scaled := new(uint256.Int).Mul(base, uint256.NewInt(uint64(multiplierPct)))
	return scaled.Div(scaled, uint256.NewInt(100))
}

func zeroIfNil(v *uint256.Int) *uint256.Int {
	if v == nil {
		return uint256.NewInt(0)
	}
	return v
}
