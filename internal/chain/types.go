// Package chain defines the external-collaborator contracts of spec.md
// §6.3 — RPCAdapter, Signer and RouteBuilder — plus the value types they
// exchange. Concrete chain families (internal/chain/evm, internal/chain/svm)
// and signer backends (internal/chain/hardware) implement these interfaces;
// the orchestrator depends only on this package, never on a family package
// directly.
package chain

import (
	"context"

	"github.com/holiman/uint256"
)

// Family distinguishes the two transaction shapes spec.md §4.4 describes.
type Family string

const (
	// FamilyAccountNonce covers EVM-like chains: transactions carry an
	// explicit account nonce and are ordered by it.
	FamilyAccountNonce Family = "account-nonce"
	// FamilySignatureHash covers Solana-like chains: transactions are
	// identified by their own signature and ordered by a recent blockhash
	// instead of an account nonce.
	FamilySignatureHash Family = "signature-hash"
)

// Side is the direction of a swap request.
type Side string

const (
	SideExactIn  Side = "EXACT_IN"
	SideExactOut Side = "EXACT_OUT"
)

// PoolProgram distinguishes the two pool shapes a DEX family may expose.
type PoolProgram string

const (
	PoolProgramAMM  PoolProgram = "amm"
	PoolProgramCLMM PoolProgram = "clmm"
)

// GasParams is the fully-resolved fee configuration for one transaction,
// computed by internal/gaspolicy and consumed by RouteBuilder.BuildSwap /
// BuildApprove.
type GasParams struct {
	MaxFeePerUnit      *uint256.Int
	PriorityFeePerUnit *uint256.Int
	GasLimit           uint64
	ComputeUnitLimit   uint64
}

// UnsignedTx is a family-neutral transaction ready for signing. Fields that
// don't apply to a given family are left at their zero value.
type UnsignedTx struct {
	Family           Family
	Nonce            *uint64 // account-nonce family only
	RecentBlockhash  string  // signature-hash family only
	To               string
	Data             []byte
	Value            *uint256.Int
	Gas              GasParams
}

// SignedTx is the wire-ready, signed transaction.
type SignedTx struct {
	Family Family
	Raw    []byte
}

// TxHandle identifies a submitted transaction for later polling: a
// transaction hash for account-nonce chains, a signature for
// signature-hash chains.
type TxHandle struct {
	ID string
}

// PollStatus normalizes chain-specific confirmation states.
type PollStatus int

const (
	PollPending PollStatus = iota
	PollConfirmed
	PollFailed
)

func (s PollStatus) String() string {
	switch s {
	case PollConfirmed:
		return "CONFIRMED"
	case PollFailed:
		return "FAILED"
	default:
		return "PENDING"
	}
}

// PollResult is one observation from RPCAdapter.Poll.
type PollResult struct {
	Status        PollStatus
	FailureReason string
	Fee           *uint256.Int
	BlockHeight   uint64
}

// GasEstimate is the chain's current fee-market snapshot, before any
// gateway-side policy (max cap, multiplier) is applied.
type GasEstimate struct {
	BaseFeePerUnit     *uint256.Int
	PriorityFeePerUnit *uint256.Int
}

// PoolInfo describes a liquidity pool as reported by the chain.
type PoolInfo struct {
	Address   string
	Program   PoolProgram
	TokenIn   string
	TokenOut  string
}

// RouteRequest is the input to RouteBuilder.ComputeRoute.
type RouteRequest struct {
	PoolAddress string
	TokenIn     string
	TokenOut    string
	Amount      *uint256.Int
	Side        Side
	// Program selects which pool shape to price and encode against
	// (spec.md §4.4.3). Empty lets the RouteBuilder detect the shape from
	// the pool's on-chain data.
	Program PoolProgram
}

// RoutePayload is the output of RouteBuilder.ComputeRoute: the raw,
// unadjusted amounts a pool quotes for a trade. Slippage-adjusted bounds
// (MinAmountOut / MaxAmountIn) are computed by the orchestrator itself, not
// by the RouteBuilder, per spec.md §4.4.3.
type RoutePayload struct {
	Pool           PoolInfo
	TokenIn        string
	TokenOut       string
	AmountIn       *uint256.Int
	AmountOut      *uint256.Int
	Price          float64
	PriceImpactPct *float64
}

// RPCAdapter is the read/submit/poll surface a chain family exposes. All
// methods are safe for concurrent use.
type RPCAdapter interface {
	Family() Family
	GetPendingNonce(ctx context.Context, address string) (uint64, error)
	// RecentBlockhash returns the reference value signature-hash family
	// transactions expire against. Account-nonce family adapters return an
	// error; the orchestrator never calls it for that family.
	RecentBlockhash(ctx context.Context) (string, error)
	GetAllowance(ctx context.Context, owner, spender, token string) (*uint256.Int, error)
	GetBalance(ctx context.Context, owner, token string) (*uint256.Int, error)
	EstimateGas(ctx context.Context) (GasEstimate, error)
	// Simulate dry-runs a signed transaction. Adapters that cannot simulate
	// return ok=true with no error, treating the step as skipped.
	Simulate(ctx context.Context, tx SignedTx) (ok bool, failureReason string, err error)
	SubmitRaw(ctx context.Context, tx SignedTx) (TxHandle, error)
	Poll(ctx context.Context, handle TxHandle) (PollResult, error)
}

// Signer produces a signed transaction for a wallet address. Software and
// hardware backends both implement this; the orchestrator treats them
// identically except for the AllowanceRequired short-circuit on hardware
// signers (spec.md §9 open question).
type Signer interface {
	Family() Family
	IsHardware() bool
	Sign(ctx context.Context, tx UnsignedTx, address string) (SignedTx, error)
}

// RouteBuilder computes swap routes and builds the unsigned transactions
// that execute them, including the approve sub-state-machine's transaction.
type RouteBuilder interface {
	ComputeRoute(ctx context.Context, req RouteRequest) (RoutePayload, error)
	// BuildSwap builds the unsigned swap transaction. minAmountOut and
	// maxAmountIn are the slippage-adjusted bounds computed by the
	// orchestrator (spec.md §4.4.3); exactly one is non-nil depending on
	// the request's Side.
	BuildSwap(ctx context.Context, route RoutePayload, minAmountOut, maxAmountIn *uint256.Int, wallet string, gas GasParams, nonce *uint64, blockhash string) (UnsignedTx, error)
	BuildApprove(ctx context.Context, owner, spender, token string, amount *uint256.Int, gas GasParams, nonce *uint64, blockhash string) (UnsignedTx, error)
	// BuildWrap constructs the degenerate single-token route used by the
	// wrap/unwrap connector endpoint: no pool, no slippage.
	BuildWrap(ctx context.Context, wallet, token string, amount *uint256.Int, unwrap bool, gas GasParams, nonce *uint64, blockhash string) (UnsignedTx, error)
}
