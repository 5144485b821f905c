package routes

import (
	"context"
	"log/slog"

	"github.com/holiman/uint256"

	"swapgateway/internal/chain"
)

// fakeRPC is a minimal chain.RPCAdapter stub sufficient to drive a full
// swap through the orchestrator from an HTTP handler test.
type fakeRPC struct {
	family chain.Family

	allowance *uint256.Int
	balance   *uint256.Int

	pollScript []chain.PollResult
	pollCalls  int
}

func (f *fakeRPC) Family() chain.Family { return f.family }
func (f *fakeRPC) GetPendingNonce(ctx context.Context, address string) (uint64, error) {
	return 1, nil
}
func (f *fakeRPC) RecentBlockhash(ctx context.Context) (string, error) { return "blockhash1", nil }
func (f *fakeRPC) GetAllowance(ctx context.Context, owner, spender, token string) (*uint256.Int, error) {
	return f.allowance, nil
}
func (f *fakeRPC) GetBalance(ctx context.Context, owner, token string) (*uint256.Int, error) {
	return f.balance, nil
}
func (f *fakeRPC) EstimateGas(ctx context.Context) (chain.GasEstimate, error) {
	return chain.GasEstimate{BaseFeePerUnit: uint256.NewInt(1), PriorityFeePerUnit: uint256.NewInt(1)}, nil
}
func (f *fakeRPC) Simulate(ctx context.Context, tx chain.SignedTx) (bool, string, error) {
	return true, "", nil
}
func (f *fakeRPC) SubmitRaw(ctx context.Context, tx chain.SignedTx) (chain.TxHandle, error) {
	return chain.TxHandle{ID: "tx1"}, nil
}
func (f *fakeRPC) Poll(ctx context.Context, handle chain.TxHandle) (chain.PollResult, error) {
	i := f.pollCalls
	f.pollCalls++
	if i >= len(f.pollScript) {
		i = len(f.pollScript) - 1
	}
	return f.pollScript[i], nil
}

func confirmedRPC(family chain.Family) *fakeRPC {
	return &fakeRPC{
		family:     family,
		allowance:  uint256.NewInt(1_000_000),
		balance:    uint256.NewInt(1_000_000),
		pollScript: []chain.PollResult{{Status: chain.PollConfirmed}},
	}
}

type fakeSigner struct{ family chain.Family }

func (s *fakeSigner) Family() chain.Family { return s.family }
func (s *fakeSigner) IsHardware() bool     { return false }
func (s *fakeSigner) Sign(ctx context.Context, tx chain.UnsignedTx, address string) (chain.SignedTx, error) {
	return chain.SignedTx{Family: s.family, Raw: []byte{0x01}}, nil
}

type fakeRouteBuilder struct{}

func (b *fakeRouteBuilder) ComputeRoute(ctx context.Context, req chain.RouteRequest) (chain.RoutePayload, error) {
	return chain.RoutePayload{
		Pool:      chain.PoolInfo{Address: "pool1", Program: req.Program},
		TokenIn:   req.TokenIn,
		TokenOut:  req.TokenOut,
		AmountIn:  req.Amount,
		AmountOut: req.Amount,
	}, nil
}
func (b *fakeRouteBuilder) BuildSwap(ctx context.Context, route chain.RoutePayload, minAmountOut, maxAmountIn *uint256.Int, wallet string, gas chain.GasParams, nonce *uint64, blockhash string) (chain.UnsignedTx, error) {
	return chain.UnsignedTx{Nonce: nonce, RecentBlockhash: blockhash}, nil
}
func (b *fakeRouteBuilder) BuildApprove(ctx context.Context, owner, spender, token string, amount *uint256.Int, gas chain.GasParams, nonce *uint64, blockhash string) (chain.UnsignedTx, error) {
	return chain.UnsignedTx{Nonce: nonce, RecentBlockhash: blockhash}, nil
}
func (b *fakeRouteBuilder) BuildWrap(ctx context.Context, wallet, token string, amount *uint256.Int, unwrap bool, gas chain.GasParams, nonce *uint64, blockhash string) (chain.UnsignedTx, error) {
	return chain.UnsignedTx{Nonce: nonce, RecentBlockhash: blockhash}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
