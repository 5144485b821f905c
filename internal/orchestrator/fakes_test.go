package orchestrator

import (
	"context"
	"log/slog"

	"github.com/holiman/uint256"

	"swapgateway/internal/chain"
)

// fakeRPC is a scripted chain.RPCAdapter: every return value is configured
// up front by the test, and Poll walks a fixed script (repeating its last
// entry once exhausted), mirroring confirmation's own scriptedAdapter.
type fakeRPC struct {
	family Family

	pendingNonce    uint64
	pendingNonceErr error

	recentBlockhash    string
	recentBlockhashErr error

	allowance    *uint256.Int
	allowanceErr error

	balance    *uint256.Int
	balanceErr error

	gasEstimate    chain.GasEstimate
	gasEstimateErr error

	simulateOK     bool
	simulateReason string
	simulateErr    error

	submitHandle chain.TxHandle
	submitErr    error

	pollScript []chain.PollResult
	pollErr    error
	pollCalls  int
}

func (f *fakeRPC) Family() chain.Family { return f.family }

func (f *fakeRPC) GetPendingNonce(ctx context.Context, address string) (uint64, error) {
	return f.pendingNonce, f.pendingNonceErr
}

func (f *fakeRPC) RecentBlockhash(ctx context.Context) (string, error) {
	return f.recentBlockhash, f.recentBlockhashErr
}

func (f *fakeRPC) GetAllowance(ctx context.Context, owner, spender, token string) (*uint256.Int, error) {
	return f.allowance, f.allowanceErr
}

func (f *fakeRPC) GetBalance(ctx context.Context, owner, token string) (*uint256.Int, error) {
	return f.balance, f.balanceErr
}

func (f *fakeRPC) EstimateGas(ctx context.Context) (chain.GasEstimate, error) {
	return f.gasEstimate, f.gasEstimateErr
}

func (f *fakeRPC) Simulate(ctx context.Context, tx chain.SignedTx) (bool, string, error) {
	return f.simulateOK, f.simulateReason, f.simulateErr
}

func (f *fakeRPC) SubmitRaw(ctx context.Context, tx chain.SignedTx) (chain.TxHandle, error) {
	return f.submitHandle, f.submitErr
}

func (f *fakeRPC) Poll(ctx context.Context, handle chain.TxHandle) (chain.PollResult, error) {
	if f.pollErr != nil {
		return chain.PollResult{}, f.pollErr
	}
	i := f.pollCalls
	f.pollCalls++
	if i >= len(f.pollScript) {
		i = len(f.pollScript) - 1
	}
	if i < 0 {
		return chain.PollResult{Status: chain.PollPending}, nil
	}
	return f.pollScript[i], nil
}

// confirmedRPC returns a fakeRPC preconfigured for a happy-path swap: enough
// balance and allowance, a positive gas estimate, a clean simulate, and a
// single poll that reports confirmed immediately.
func confirmedRPC(family Family) *fakeRPC {
	return &fakeRPC{
		family:          family,
		pendingNonce:    5,
		recentBlockhash: "blockhash1",
		allowance:       uint256.NewInt(1_000_000),
		balance:         uint256.NewInt(1_000_000),
		gasEstimate:     chain.GasEstimate{BaseFeePerUnit: uint256.NewInt(1), PriorityFeePerUnit: uint256.NewInt(1)},
		simulateOK:      true,
		submitHandle:    chain.TxHandle{ID: "tx1"},
		pollScript:      []chain.PollResult{{Status: chain.PollConfirmed}},
	}
}

// failedRPC mirrors confirmedRPC but reports the submitted transaction as
// failed on the first poll, for exercising the terminal-outcome eviction
// path on its FAILED branch.
func failedRPC(family Family) *fakeRPC {
	rpc := confirmedRPC(family)
	rpc.pollScript = []chain.PollResult{{Status: chain.PollFailed, FailureReason: "reverted"}}
	return rpc
}

type fakeSigner struct {
	family     chain.Family
	isHardware bool
	signErr    error
}

func (s *fakeSigner) Family() chain.Family { return s.family }
func (s *fakeSigner) IsHardware() bool     { return s.isHardware }
func (s *fakeSigner) Sign(ctx context.Context, tx chain.UnsignedTx, address string) (chain.SignedTx, error) {
	if s.signErr != nil {
		return chain.SignedTx{}, s.signErr
	}
	return chain.SignedTx{Family: s.family, Raw: []byte{0x01}}, nil
}

type fakeRouteBuilder struct {
	route    chain.RoutePayload
	routeErr error

	swapErr    error
	approveErr error
	wrapErr    error
}

func (b *fakeRouteBuilder) ComputeRoute(ctx context.Context, req chain.RouteRequest) (chain.RoutePayload, error) {
	return b.route, b.routeErr
}

func (b *fakeRouteBuilder) BuildSwap(ctx context.Context, route chain.RoutePayload, minAmountOut, maxAmountIn *uint256.Int, wallet string, gas chain.GasParams, nonce *uint64, blockhash string) (chain.UnsignedTx, error) {
	if b.swapErr != nil {
		return chain.UnsignedTx{}, b.swapErr
	}
	return chain.UnsignedTx{Nonce: nonce, RecentBlockhash: blockhash, Data: []byte{0x02}}, nil
}

func (b *fakeRouteBuilder) BuildApprove(ctx context.Context, owner, spender, token string, amount *uint256.Int, gas chain.GasParams, nonce *uint64, blockhash string) (chain.UnsignedTx, error) {
	if b.approveErr != nil {
		return chain.UnsignedTx{}, b.approveErr
	}
	return chain.UnsignedTx{Nonce: nonce, RecentBlockhash: blockhash, Data: []byte{0x03}}, nil
}

func (b *fakeRouteBuilder) BuildWrap(ctx context.Context, wallet, token string, amount *uint256.Int, unwrap bool, gas chain.GasParams, nonce *uint64, blockhash string) (chain.UnsignedTx, error) {
	if b.wrapErr != nil {
		return chain.UnsignedTx{}, b.wrapErr
	}
	return chain.UnsignedTx{Nonce: nonce, RecentBlockhash: blockhash, Data: []byte{0x04}}, nil
}

func defaultRoute() chain.RoutePayload {
	return chain.RoutePayload{
		Pool:      chain.PoolInfo{Address: "pool1", Program: chain.PoolProgramAMM},
		TokenIn:   "tokenA",
		TokenOut:  "tokenB",
		AmountIn:  uint256.NewInt(100),
		AmountOut: uint256.NewInt(90),
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
