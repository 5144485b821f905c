package confirmation

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"swapgateway/internal/chain"
)

// scriptedAdapter answers a fixed sequence of Poll results, repeating the
// last one once the script is exhausted. Every other RPCAdapter method is
// unused by the confirmation engine and panics if called.
type scriptedAdapter struct {
	script []chain.PollResult
	errs   []error
	calls  atomic.Int32
}

func (a *scriptedAdapter) Poll(ctx context.Context, handle chain.TxHandle) (chain.PollResult, error) {
	i := int(a.calls.Add(1)) - 1
	if i < len(a.errs) && a.errs[i] != nil {
		return chain.PollResult{}, a.errs[i]
	}
	if i >= len(a.script) {
		i = len(a.script) - 1
	}
	return a.script[i], nil
}

func (a *scriptedAdapter) Family() chain.Family { panic("unused") }
func (a *scriptedAdapter) GetPendingNonce(ctx context.Context, address string) (uint64, error) {
	panic("unused")
}
func (a *scriptedAdapter) RecentBlockhash(ctx context.Context) (string, error) { panic("unused") }
func (a *scriptedAdapter) GetAllowance(ctx context.Context, owner, spender, token string) (*uint256.Int, error) {
	panic("unused")
}
func (a *scriptedAdapter) GetBalance(ctx context.Context, owner, token string) (*uint256.Int, error) {
	panic("unused")
}
func (a *scriptedAdapter) EstimateGas(ctx context.Context) (chain.GasEstimate, error) {
	panic("unused")
}
func (a *scriptedAdapter) Simulate(ctx context.Context, tx chain.SignedTx) (bool, string, error) {
	panic("unused")
}
func (a *scriptedAdapter) SubmitRaw(ctx context.Context, tx chain.SignedTx) (chain.TxHandle, error) {
	panic("unused")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestEngineAwaitConfirmedComputesBalanceDeltas(t *testing.T) {
	adapter := &scriptedAdapter{script: []chain.PollResult{{Status: chain.PollConfirmed, BlockHeight: 10}}}
	e := New(time.Millisecond, time.Second, discardLogger())

	outcome, err := e.Await(context.Background(), adapter, Input{
		Handle:            chain.TxHandle{ID: "tx1"},
		ExpectedAmountIn:  uint256.NewInt(100),
		ExpectedAmountOut: uint256.NewInt(90),
	})
	require.NoError(t, err)
	require.Equal(t, chain.PollConfirmed, outcome.Status)
	require.EqualValues(t, -100, outcome.BaseTokenBalanceChange.Int64())
	require.EqualValues(t, 90, outcome.QuoteTokenBalanceChange.Int64())
}

func TestEngineAwaitFailedLeavesBalanceDeltasNil(t *testing.T) {
	adapter := &scriptedAdapter{script: []chain.PollResult{{Status: chain.PollFailed, FailureReason: "reverted"}}}
	e := New(time.Millisecond, time.Second, discardLogger())

	outcome, err := e.Await(context.Background(), adapter, Input{Handle: chain.TxHandle{ID: "tx1"}})
	require.NoError(t, err)
	require.Equal(t, chain.PollFailed, outcome.Status)
	require.Equal(t, "reverted", outcome.FailureReason)
	require.Nil(t, outcome.BaseTokenBalanceChange)
}

func TestEngineAwaitRetriesTransientPollErrors(t *testing.T) {
	adapter := &scriptedAdapter{
		errs:   []error{errors.New("temporary rpc blip"), nil},
		script: []chain.PollResult{{}, {Status: chain.PollConfirmed}},
	}
	e := New(time.Millisecond, time.Second, discardLogger())

	outcome, err := e.Await(context.Background(), adapter, Input{Handle: chain.TxHandle{ID: "tx1"}})
	require.NoError(t, err)
	require.Equal(t, chain.PollConfirmed, outcome.Status)
	require.GreaterOrEqual(t, adapter.calls.Load(), int32(2))
}

// A timeout is not an error: Await returns a PENDING outcome with a nil
// error, per the engine's documented contract.
func TestEngineAwaitTimeoutYieldsPendingNotError(t *testing.T) {
	adapter := &scriptedAdapter{script: []chain.PollResult{{Status: chain.PollPending}}}
	e := New(2*time.Millisecond, 20*time.Millisecond, discardLogger())

	outcome, err := e.Await(context.Background(), adapter, Input{Handle: chain.TxHandle{ID: "tx1"}})
	require.NoError(t, err)
	require.Equal(t, chain.PollPending, outcome.Status)
}

func TestEngineAwaitContextCancellationReturnsError(t *testing.T) {
	adapter := &scriptedAdapter{script: []chain.PollResult{{Status: chain.PollPending}}}
	e := New(5*time.Millisecond, time.Minute, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	outcome, err := e.Await(ctx, adapter, Input{Handle: chain.TxHandle{ID: "tx1"}})
	require.Error(t, err)
	require.Equal(t, chain.PollPending, outcome.Status)
}

func TestNewFallsBackToDefaults(t *testing.T) {
	e := New(0, 0, nil)
	require.Equal(t, DefaultPollInterval, e.pollInterval)
	require.Equal(t, DefaultTimeout, e.timeout)
	require.NotNil(t, e.logger)
}
