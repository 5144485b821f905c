package orchestrator

import (
	"github.com/holiman/uint256"

	"swapgateway/internal/chain"
)

const bpsDenominator = 10_000

// DefaultSlippageBps is used when a request does not specify a slippage
// tolerance.
const DefaultSlippageBps = 50 // 0.5%

func slippageBpsFromPct(pct *float64) uint32 {
	if pct == nil {
		return DefaultSlippageBps
	}
	bps := *pct * 100
	if bps < 0 {
		bps = 0
	}
	if bps > bpsDenominator {
		bps = bpsDenominator
	}
	return uint32(bps)
}

// applySlippage computes the slippage-adjusted bound for a route's raw
// integer amounts, per spec.md §4.4.3: the math runs on raw integers, never
// on floats, to avoid rounding drift accumulating across many trades.
//
// For an exact-in trade the bound is a minimum acceptable output; for an
// exact-out trade it is a maximum acceptable input.
func applySlippage(route chain.RoutePayload, side chain.Side, slippageBps uint32) (minAmountOut, maxAmountIn *uint256.Int) {
	switch side {
	case chain.SideExactOut:
		maxAmountIn = scaleUp(route.AmountIn, slippageBps)
		return nil, maxAmountIn
	default:
		minAmountOut = scaleDown(route.AmountOut, slippageBps)
		return minAmountOut, nil
	}
}

func scaleDown(amount *uint256.Int, bps uint32) *uint256.Int {
	if amount == nil {
		return uint256.NewInt(0)
	}
	factor := uint256.NewInt(bpsDenominator - uint64(bps))
	result := new(uint256.Int).Mul(amount, factor)
	return result.Div(result, uint256.NewInt(bpsDenominator))
}

func scaleUp(amount *uint256.Int, bps uint32) *uint256.Int {
	if amount == nil {
		return uint256.NewInt(0)
	}
	factor := uint256.NewInt(bpsDenominator + uint64(bps))
	result := new(uint256.Int).Mul(amount, factor)
	return result.Div(result, uint256.NewInt(bpsDenominator))
}
