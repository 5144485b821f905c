// Package confirmation implements the C5 confirmation engine: a bounded
// polling loop that normalizes a chain's own confirmation semantics into
// PENDING/CONFIRMED/FAILED, per spec.md §4.5.
package confirmation

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/holiman/uint256"

	"swapgateway/internal/chain"
)

// DefaultPollInterval and DefaultTimeout are the tunables spec.md names.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultTimeout      = 60 * time.Second
)

// Input describes the transaction being awaited, plus the expected trade
// legs spec.md §4.5 requires for balance-delta reporting.
type Input struct {
	Handle            chain.TxHandle
	Wallet            string
	ExpectedInputTok  string
	ExpectedOutputTok string
	ExpectedAmountIn  *uint256.Int
	ExpectedAmountOut *uint256.Int
	Side              chain.Side
}

// Outcome is the normalized result of an Await call.
type Outcome struct {
	Status                  chain.PollStatus
	TxID                    string
	Fee                     *uint256.Int
	BlockHeight             uint64
	FailureReason           string
	BaseTokenBalanceChange  *big.Int // negative: spent on ExpectedInputTok
	QuoteTokenBalanceChange *big.Int // positive: received on ExpectedOutputTok
}

// Engine polls an RPCAdapter for a submitted transaction's status until it
// reaches a terminal state or the configured timeout elapses.
type Engine struct {
	pollInterval time.Duration
	timeout      time.Duration
	logger       *slog.Logger
}

// New builds an Engine. Zero values fall back to the package defaults.
func New(pollInterval, timeout time.Duration, logger *slog.Logger) *Engine {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{pollInterval: pollInterval, timeout: timeout, logger: logger}
}

// balanceDeltas reports the confirmed trade's effect on the wallet's input
// and output token balances, signed by direction of flow: negative on the
// spent leg, positive on the received leg.
func balanceDeltas(in Input) (base, quote *big.Int) {
	base = new(big.Int)
	quote = new(big.Int)
	if in.ExpectedAmountIn != nil {
		base.Neg(in.ExpectedAmountIn.ToBig())
	}
	if in.ExpectedAmountOut != nil {
		quote.Set(in.ExpectedAmountOut.ToBig())
	}
	return base, quote
}

// Await polls rpc for handle's outcome. A timeout is not an error: it
// yields Outcome{Status: PollPending}, matching spec.md's contract that
// PENDING is a valid terminal response to the caller even though it is not
// terminal on-chain. Transient poll errors are tolerated and retried until
// the timeout; only ctx cancellation is returned as an error.
func (e *Engine) Await(ctx context.Context, rpc chain.RPCAdapter, in Input) (Outcome, error) {
	deadline := time.Now().Add(e.timeout)
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		result, err := rpc.Poll(ctx, in.Handle)
		if err != nil {
			e.logger.Warn("confirmation poll error, will retry", "tx_id", in.Handle.ID, "error", err)
		} else {
			switch result.Status {
			case chain.PollConfirmed, chain.PollFailed:
				outcome := Outcome{
					Status:        result.Status,
					TxID:          in.Handle.ID,
					Fee:           result.Fee,
					BlockHeight:   result.BlockHeight,
					FailureReason: result.FailureReason,
				}
				if result.Status == chain.PollConfirmed {
					outcome.BaseTokenBalanceChange, outcome.QuoteTokenBalanceChange = balanceDeltas(in)
				}
				return outcome, nil
			}
		}

		if !time.Now().Before(deadline) {
			return Outcome{Status: chain.PollPending, TxID: in.Handle.ID}, nil
		}

		select {
		case <-ctx.Done():
			return Outcome{Status: chain.PollPending, TxID: in.Handle.ID}, ctx.Err()
		case <-ticker.C:
		}
	}
}
