package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"swapgateway/internal/chain"
	"swapgateway/internal/confirmation"
	"swapgateway/internal/coordination"
	"swapgateway/internal/gwerrors"
)

func newTestOrchestrator(t *testing.T, rpc chain.RPCAdapter, signer chain.Signer, router chain.RouteBuilder, family chain.Family) (*Orchestrator, *coordination.State) {
	t.Helper()
	state := coordination.New(coordination.DefaultConfig(), discardLogger())
	registry := NewNetworkRegistry(func(network string) (NetworkAdapters, error) {
		return NetworkAdapters{Family: family, RPC: rpc, Signer: signer, Router: router}, nil
	})
	return New(state, registry, confirmation.New(time.Millisecond, time.Second, discardLogger()), discardLogger()), state
}

func baseSwapRequest() SwapRequest {
	return SwapRequest{
		Network:       "eth-mainnet",
		WalletAddress: "0xwallet",
		TokenIn:       "tokenA",
		TokenOut:      "tokenB",
		Amount:        uint256.NewInt(100),
		Side:          chain.SideExactIn,
	}
}

func TestExecuteSwapValidation(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*SwapRequest)
	}{
		{"missing network", func(r *SwapRequest) { r.Network = "" }},
		{"missing wallet", func(r *SwapRequest) { r.WalletAddress = "" }},
		{"missing tokenIn", func(r *SwapRequest) { r.TokenIn = "" }},
		{"missing tokenOut", func(r *SwapRequest) { r.TokenOut = "" }},
		{"nil amount", func(r *SwapRequest) { r.Amount = nil }},
		{"zero amount", func(r *SwapRequest) { r.Amount = uint256.NewInt(0) }},
		{"invalid side", func(r *SwapRequest) { r.Side = "SIDEWAYS" }},
		{"slippage too high", func(r *SwapRequest) { v := 101.0; r.SlippagePct = &v }},
		{"slippage negative", func(r *SwapRequest) { v := -1.0; r.SlippagePct = &v }},
	}
	o, _ := newTestOrchestrator(t, confirmedRPC(chain.FamilyAccountNonce), &fakeSigner{family: chain.FamilyAccountNonce}, &fakeRouteBuilder{route: defaultRoute()}, chain.FamilyAccountNonce)

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := baseSwapRequest()
			tc.mut(&req)
			_, err := o.ExecuteSwap(context.Background(), req)
			require.Error(t, err)
		})
	}
}

func TestExecuteSwapUnknownNetwork(t *testing.T) {
	state := coordination.New(coordination.DefaultConfig(), discardLogger())
	registry := NewNetworkRegistry(func(network string) (NetworkAdapters, error) {
		return NetworkAdapters{}, errors.New("no config for network")
	})
	o := New(state, registry, confirmation.New(time.Millisecond, time.Second, discardLogger()), discardLogger())

	_, err := o.ExecuteSwap(context.Background(), baseSwapRequest())
	require.Error(t, err)
}

func TestExecuteSwapSuccessAccountNonce(t *testing.T) {
	rpc := confirmedRPC(chain.FamilyAccountNonce)
	o, _ := newTestOrchestrator(t, rpc, &fakeSigner{family: chain.FamilyAccountNonce}, &fakeRouteBuilder{route: defaultRoute()}, chain.FamilyAccountNonce)

	result, err := o.ExecuteSwap(context.Background(), baseSwapRequest())
	require.NoError(t, err)
	require.Equal(t, chain.PollConfirmed, result.Status)
	require.Equal(t, "tx1", result.TxID)
}

func TestExecuteSwapSuccessSignatureHashSkipsAllowanceAndNonce(t *testing.T) {
	rpc := confirmedRPC(chain.FamilySignatureHash)
	// Any GetPendingNonce or GetAllowance call would fail the swap.
	rpc.pendingNonceErr = errors.New("GetPendingNonce called for signature-hash family")
	rpc.allowanceErr = errors.New("GetAllowance called for signature-hash family")
	o, _ := newTestOrchestrator(t, rpc, &fakeSigner{family: chain.FamilySignatureHash}, &fakeRouteBuilder{route: defaultRoute()}, chain.FamilySignatureHash)

	result, err := o.ExecuteSwap(context.Background(), baseSwapRequest())
	require.NoError(t, err)
	require.Equal(t, chain.PollConfirmed, result.Status)
	require.Equal(t, "tx1", result.TxID)
}

// P9: the wallet lock is released on every exit path, not just the happy one.
func TestExecuteSwapReleasesLockOnComputeRouteFailure(t *testing.T) {
	rpc := confirmedRPC(chain.FamilyAccountNonce)
	o, state := newTestOrchestrator(t, rpc, &fakeSigner{family: chain.FamilyAccountNonce}, &fakeRouteBuilder{routeErr: errors.New("no route")}, chain.FamilyAccountNonce)

	_, err := o.ExecuteSwap(context.Background(), baseSwapRequest())
	require.Error(t, err)

	key := coordination.NewScopedWalletKey("eth-mainnet", "", "0xwallet")
	released := make(chan struct{})
	go func() { state.Locks.Acquire(key)(); close(released) }()
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("lock was not released after a failed ComputeRoute")
	}
}

func TestExecuteSwapReleasesLockOnInsufficientFunds(t *testing.T) {
	rpc := confirmedRPC(chain.FamilyAccountNonce)
	rpc.balance = uint256.NewInt(1)
	o, state := newTestOrchestrator(t, rpc, &fakeSigner{family: chain.FamilyAccountNonce}, &fakeRouteBuilder{route: defaultRoute()}, chain.FamilyAccountNonce)

	_, err := o.ExecuteSwap(context.Background(), baseSwapRequest())
	require.Error(t, err)

	key := coordination.NewScopedWalletKey("eth-mainnet", "", "0xwallet")
	released := make(chan struct{})
	go func() { state.Locks.Acquire(key)(); close(released) }()
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("lock was not released after insufficient funds")
	}
}

func TestExecuteSwapReleasesLockOnSignFailure(t *testing.T) {
	rpc := confirmedRPC(chain.FamilyAccountNonce)
	o, state := newTestOrchestrator(t, rpc, &fakeSigner{family: chain.FamilyAccountNonce, signErr: errors.New("signing failed")}, &fakeRouteBuilder{route: defaultRoute()}, chain.FamilyAccountNonce)

	_, err := o.ExecuteSwap(context.Background(), baseSwapRequest())
	require.Error(t, err)

	key := coordination.NewScopedWalletKey("eth-mainnet", "", "0xwallet")
	released := make(chan struct{})
	go func() { state.Locks.Acquire(key)(); close(released) }()
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("lock was not released after a sign failure")
	}
}

func TestExecuteSwapAllowanceInsufficientTriggersApprove(t *testing.T) {
	rpc := confirmedRPC(chain.FamilyAccountNonce)
	rpc.allowance = uint256.NewInt(1)
	o, _ := newTestOrchestrator(t, rpc, &fakeSigner{family: chain.FamilyAccountNonce}, &fakeRouteBuilder{route: defaultRoute()}, chain.FamilyAccountNonce)

	result, err := o.ExecuteSwap(context.Background(), baseSwapRequest())
	require.NoError(t, err)
	require.Equal(t, chain.PollConfirmed, result.Status)
}

func TestExecuteSwapAllowanceInsufficientOnHardwareSignerSurfacesError(t *testing.T) {
	rpc := confirmedRPC(chain.FamilyAccountNonce)
	rpc.allowance = uint256.NewInt(1)
	o, _ := newTestOrchestrator(t, rpc, &fakeSigner{family: chain.FamilyAccountNonce, isHardware: true}, &fakeRouteBuilder{route: defaultRoute()}, chain.FamilyAccountNonce)

	_, err := o.ExecuteSwap(context.Background(), baseSwapRequest())
	gerr, ok := gwerrors.As(err)
	require.True(t, ok)
	require.Equal(t, gwerrors.KindAllowanceRequired, gerr.Kind)
}

func TestExecuteSwapInvalidatesNonceOnNonceStale(t *testing.T) {
	rpc := confirmedRPC(chain.FamilyAccountNonce)
	rpc.submitErr = errors.New("nonce too low")
	o, state := newTestOrchestrator(t, rpc, &fakeSigner{family: chain.FamilyAccountNonce}, &fakeRouteBuilder{route: defaultRoute()}, chain.FamilyAccountNonce)

	key := coordination.NewScopedWalletKey("eth-mainnet", "", "0xwallet")
	_, err := state.Nonces.NextNonce(context.Background(), rpc, key) // seed a cached nonce so Invalidate has something to clear
	require.NoError(t, err)

	_, err = o.ExecuteSwap(context.Background(), baseSwapRequest())
	require.Error(t, err)

	// The swap took nonce 6 from the cache; with the entry invalidated the
	// next call rebuilds from the chain's pending value instead.
	n, err := state.Nonces.NextNonce(context.Background(), rpc, key)
	require.NoError(t, err)
	require.EqualValues(t, 5, n)
}

func TestExecuteQuoteRejectsMissingFields(t *testing.T) {
	o, _ := newTestOrchestrator(t, confirmedRPC(chain.FamilyAccountNonce), &fakeSigner{family: chain.FamilyAccountNonce}, &fakeRouteBuilder{route: defaultRoute()}, chain.FamilyAccountNonce)
	_, err := o.ExecuteQuote(context.Background(), ExecuteQuoteRequest{})
	require.Error(t, err)
}

func TestExecuteQuoteRejectsUnknownQuoteID(t *testing.T) {
	o, _ := newTestOrchestrator(t, confirmedRPC(chain.FamilyAccountNonce), &fakeSigner{family: chain.FamilyAccountNonce}, &fakeRouteBuilder{route: defaultRoute()}, chain.FamilyAccountNonce)
	_, err := o.ExecuteQuote(context.Background(), ExecuteQuoteRequest{Network: "eth-mainnet", WalletAddress: "0xwallet", QuoteID: "nonexistent"})
	require.Error(t, err)
}

// P8: a quote can only be consumed by ExecuteQuote once.
func TestQuoteRouterThenExecuteQuoteDeletesQuoteOnTerminalOutcome(t *testing.T) {
	rpc := confirmedRPC(chain.FamilyAccountNonce)
	o, state := newTestOrchestrator(t, rpc, &fakeSigner{family: chain.FamilyAccountNonce}, &fakeRouteBuilder{route: defaultRoute()}, chain.FamilyAccountNonce)

	quote, err := o.QuoteRouter(context.Background(), baseSwapRequest())
	require.NoError(t, err)
	require.NotEmpty(t, quote.QuoteID)

	result, err := o.ExecuteQuote(context.Background(), ExecuteQuoteRequest{Network: "eth-mainnet", WalletAddress: "0xwallet", QuoteID: quote.QuoteID})
	require.NoError(t, err)
	require.Equal(t, chain.PollConfirmed, result.Status)

	_, ok := state.Quotes.Get(quote.QuoteID)
	require.False(t, ok, "confirmed execute-quote must consume the cached quote")
}

func TestQuoteRouterThenExecuteQuoteDeletesQuoteOnFailedOutcome(t *testing.T) {
	rpc := failedRPC(chain.FamilyAccountNonce)
	o, state := newTestOrchestrator(t, rpc, &fakeSigner{family: chain.FamilyAccountNonce}, &fakeRouteBuilder{route: defaultRoute()}, chain.FamilyAccountNonce)

	quote, err := o.QuoteRouter(context.Background(), baseSwapRequest())
	require.NoError(t, err)
	require.NotEmpty(t, quote.QuoteID)

	result, err := o.ExecuteQuote(context.Background(), ExecuteQuoteRequest{Network: "eth-mainnet", WalletAddress: "0xwallet", QuoteID: quote.QuoteID})
	require.NoError(t, err)
	require.Equal(t, chain.PollFailed, result.Status)

	_, ok := state.Quotes.Get(quote.QuoteID)
	require.False(t, ok, "failed execute-quote must also consume the cached quote")
}

func TestQuoteDexDoesNotCache(t *testing.T) {
	o, state := newTestOrchestrator(t, confirmedRPC(chain.FamilyAccountNonce), &fakeSigner{family: chain.FamilyAccountNonce}, &fakeRouteBuilder{route: defaultRoute()}, chain.FamilyAccountNonce)

	quote, err := o.QuoteDex(context.Background(), baseSwapRequest())
	require.NoError(t, err)
	require.Empty(t, quote.QuoteID)
	_ = state
}

