package orchestrator

import (
	"math/big"

	"github.com/holiman/uint256"

	"swapgateway/internal/chain"
	"swapgateway/internal/gaspolicy"
)

// SwapRequest is the input to ExecuteSwap: a fresh, uncached swap.
type SwapRequest struct {
	Network       string
	Scope         string
	WalletAddress string
	TokenIn       string
	TokenOut      string
	Amount        *uint256.Int
	Side          chain.Side
	PoolAddress   string
	SlippagePct   *float64
	GasPolicy     gaspolicy.Policy
	// PoolProgram selects which pool shape to route against, from the
	// {poolType} path segment on the dex-shaped connector routes (spec.md
	// §4.4.3). The router-shaped routes leave it empty, which lets the
	// RouteBuilder detect the shape from the pool's on-chain data.
	PoolProgram chain.PoolProgram
}

// ExecuteQuoteRequest is the input to ExecuteQuote: execution against a
// previously cached router-style quote.
type ExecuteQuoteRequest struct {
	Network       string
	Scope         string
	WalletAddress string
	QuoteID       string
}

// ApproveRequest is the input to Approve, exposing the 4.4.2 sub-machine
// directly for clients that want to pre-approve without swapping.
type ApproveRequest struct {
	Network       string
	Scope         string
	WalletAddress string
	Token         string
	Spender       string
	Amount        *uint256.Int
	GasPolicy     gaspolicy.Policy
}

// WrapRequest is the input to Wrap: the degenerate single-token route used
// for native<->wrapped conversions.
type WrapRequest struct {
	Network       string
	Scope         string
	WalletAddress string
	Token         string
	Amount        *uint256.Int
	Unwrap        bool
	GasPolicy     gaspolicy.Policy
}

// Quote is the result of computing (and, for router-style quotes, caching)
// a route, before any execution has happened.
type Quote struct {
	QuoteID        string // empty for uncached, dex-shaped quotes
	Pool           chain.PoolInfo
	TokenIn        string
	TokenOut       string
	AmountIn       *uint256.Int
	AmountOut      *uint256.Int
	Price          float64
	SlippageBps    uint32
	MinAmountOut   *uint256.Int
	MaxAmountIn    *uint256.Int
	PriceImpactPct *float64
}

// Result is the outcome of a completed (or still-pending) execution.
type Result struct {
	TxID                    string
	Status                  chain.PollStatus
	TokenIn                 string
	TokenOut                string
	AmountIn                *uint256.Int
	AmountOut               *uint256.Int
	Fee                     *uint256.Int
	Reason                  string
	BaseTokenBalanceChange  *big.Int
	QuoteTokenBalanceChange *big.Int
}

type cachedSwap struct {
	network       string
	scope         string
	walletAddress string
	quote         Quote
	side          chain.Side
}
