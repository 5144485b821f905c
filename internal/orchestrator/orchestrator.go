// Package orchestrator implements the C4 transaction orchestrator: the
// state machine spec.md §4.4 describes for building, signing, submitting
// and confirming a swap, plus the approve sub-state-machine and the wrap
// connector's degenerate single-token route.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/holiman/uint256"

	"swapgateway/internal/chain"
	"swapgateway/internal/confirmation"
	"swapgateway/internal/coordination"
	"swapgateway/internal/gaspolicy"
	"swapgateway/internal/gwerrors"
)

// approveConfirmTimeout bounds how long the approve sub-machine (§4.4.2 step
// 4) waits for its own transaction to confirm before giving up. It is
// shorter than the outer swap's confirmation timeout because a caller
// waiting inline on an approve-then-swap flow should not absorb the full
// swap timeout twice.
const approveConfirmTimeout = 30 * time.Second

// Orchestrator implements C4 over a coordination.State (C1/C2/C3), a
// per-network adapter registry, and a confirmation engine (C5).
type Orchestrator struct {
	state          *coordination.State
	networks       *NetworkRegistry
	confirm        *confirmation.Engine
	approveConfirm *confirmation.Engine
	classifier     gwerrors.Classifier
	logger         *slog.Logger
}

// New builds an Orchestrator.
func New(state *coordination.State, networks *NetworkRegistry, confirm *confirmation.Engine, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		state:          state,
		networks:       networks,
		confirm:        confirm,
		approveConfirm: confirmation.New(confirmation.DefaultPollInterval, approveConfirmTimeout, logger),
		classifier:     gwerrors.DefaultClassifier(),
		logger:         logger,
	}
}

// ExecuteSwap runs the full state machine against a freshly-computed quote:
// Start -> Quote -> Acquire -> Allowance -> Balance -> Build -> Sign ->
// Simulate -> Submit -> Confirm -> Release. The route is computed before
// the wallet lock is acquired, so quoting runs without holding the lock.
func (o *Orchestrator) ExecuteSwap(ctx context.Context, req SwapRequest) (*Result, error) {
	if err := validateSwapRequest(req); err != nil {
		return nil, err
	}
	adapters, err := o.networks.Get(req.Network)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindInternal, err)
	}
	quote, err := o.computeQuote(ctx, adapters, req)
	if err != nil {
		return nil, err
	}
	key := coordination.NewScopedWalletKey(req.Network, req.Scope, req.WalletAddress)
	return o.execute(ctx, adapters, key, req.WalletAddress, quote, req.Side, "", req.GasPolicy)
}

// ExecuteQuote runs the state machine against a previously cached
// router-style quote, per spec.md §4.4's execute-quote entrypoint.
func (o *Orchestrator) ExecuteQuote(ctx context.Context, req ExecuteQuoteRequest) (*Result, error) {
	if req.WalletAddress == "" || req.Network == "" || req.QuoteID == "" {
		return nil, gwerrors.New(gwerrors.KindValidation, "network, walletAddress and quoteId are required")
	}
	cached, ok := o.state.Quotes.Get(req.QuoteID)
	if !ok {
		return nil, gwerrors.New(gwerrors.KindNotFound, "quote not found or expired")
	}
	swap, ok := cached.Original.(cachedSwap)
	if !ok {
		return nil, gwerrors.Wrap(gwerrors.KindInternal, fmt.Errorf("cached quote %s has unexpected payload type", req.QuoteID))
	}
	if swap.network != req.Network || swap.walletAddress != req.WalletAddress {
		return nil, gwerrors.New(gwerrors.KindNotFound, "quote not found or expired")
	}
	adapters, err := o.networks.Get(req.Network)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindInternal, err)
	}
	key := coordination.NewScopedWalletKey(swap.network, swap.scope, swap.walletAddress)
	return o.execute(ctx, adapters, key, swap.walletAddress, swap.quote, swap.side, req.QuoteID, gaspolicy.Policy{})
}

func (o *Orchestrator) execute(ctx context.Context, adapters NetworkAdapters, key coordination.WalletKey, wallet string, quote Quote, side chain.Side, quoteID string, policy gaspolicy.Policy) (result *Result, err error) {
	release := o.state.Locks.Acquire(key)
	ledger := newNonceLedger(key, o.state.Nonces)
	defer func() {
		ledger.rollbackUnsubmitted()
		release()
	}()

	isAccountNonce := adapters.Family == chain.FamilyAccountNonce

	if isAccountNonce && quote.TokenIn != "" {
		if aerr := o.ensureAllowance(ctx, adapters, key, ledger, wallet, quote, side, policy); aerr != nil {
			return nil, aerr
		}
	}

	balance, err := adapters.RPC.GetBalance(ctx, wallet, quote.TokenIn)
	if err != nil {
		return nil, o.classifier.Classify(err)
	}
	if balance.Lt(quote.AmountIn) {
		return nil, gwerrors.New(gwerrors.KindInsufficientFunds, "wallet balance is below the quoted input amount")
	}

	nonce, blockhash, err := o.resolveOrdering(ctx, adapters, key, ledger)
	if err != nil {
		return nil, err
	}

	// quote.Pool.Program was already resolved by computeQuote's
	// RouteBuilder.ComputeRoute call; re-deriving it here would only risk
	// overwriting a correctly-detected CLMM pool with a stale default.
	estimate, err := adapters.RPC.EstimateGas(ctx)
	if err != nil {
		return nil, o.classifier.Classify(err)
	}
	gas := gaspolicy.Compute(estimate, policy, adapters.Family, quote.Pool.Program)

	route := chain.RoutePayload{
		Pool:           quote.Pool,
		TokenIn:        quote.TokenIn,
		TokenOut:       quote.TokenOut,
		AmountIn:       quote.AmountIn,
		AmountOut:      quote.AmountOut,
		Price:          quote.Price,
		PriceImpactPct: quote.PriceImpactPct,
	}
	unsigned, err := adapters.Router.BuildSwap(ctx, route, quote.MinAmountOut, quote.MaxAmountIn, wallet, gas, nonce, blockhash)
	if err != nil {
		return nil, o.classifier.Classify(err)
	}

	outcome, handle, err := o.signSubmitConfirm(ctx, o.confirm, adapters, wallet, unsigned, tradeLegs{
		TokenIn:   quote.TokenIn,
		TokenOut:  quote.TokenOut,
		AmountIn:  quote.AmountIn,
		AmountOut: quote.AmountOut,
		Side:      side,
	})
	if err != nil {
		if gerr, ok := gwerrors.As(err); ok && gerr.Kind == gwerrors.KindNonceStale && isAccountNonce {
			o.state.Nonces.Invalidate(key)
		}
		return nil, err
	}
	if nonce != nil {
		ledger.markSubmitted(*nonce)
	}

	if quoteID != "" && (outcome.Status == chain.PollConfirmed || outcome.Status == chain.PollFailed) {
		o.state.Quotes.Delete(quoteID)
	}

	return &Result{
		TxID:                    handle.ID,
		Status:                  outcome.Status,
		TokenIn:                 quote.TokenIn,
		TokenOut:                quote.TokenOut,
		AmountIn:                quote.AmountIn,
		AmountOut:               quote.AmountOut,
		Fee:                     outcome.Fee,
		Reason:                  outcome.FailureReason,
		BaseTokenBalanceChange:  outcome.BaseTokenBalanceChange,
		QuoteTokenBalanceChange: outcome.QuoteTokenBalanceChange,
	}, nil
}

// resolveOrdering assigns the account-nonce family's next nonce (recording
// it on ledger for rollback) or fetches the signature-hash family's recent
// blockhash, depending on which family the network belongs to.
func (o *Orchestrator) resolveOrdering(ctx context.Context, adapters NetworkAdapters, key coordination.WalletKey, ledger *nonceLedger) (*uint64, string, error) {
	if adapters.Family == chain.FamilyAccountNonce {
		n, err := o.state.Nonces.NextNonce(ctx, adapters.RPC, key)
		if err != nil {
			return nil, "", o.classifier.Classify(err)
		}
		ledger.assign(n)
		return &n, "", nil
	}
	bh, err := adapters.RPC.RecentBlockhash(ctx)
	if err != nil {
		return nil, "", o.classifier.Classify(err)
	}
	return nil, bh, nil
}

// tradeLegs describes the expected input/output legs of a transaction for
// confirmation-time balance-delta reporting (spec.md §4.5).
type tradeLegs struct {
	TokenIn   string
	TokenOut  string
	AmountIn  *uint256.Int
	AmountOut *uint256.Int
	Side      chain.Side
}

// signSubmitConfirm performs Sign -> pre-submit Simulate -> Submit ->
// Confirm against the given confirmation engine, shared by swap, approve
// and wrap execution (each supplies the engine whose timeout applies to it).
func (o *Orchestrator) signSubmitConfirm(ctx context.Context, confirm *confirmation.Engine, adapters NetworkAdapters, wallet string, unsigned chain.UnsignedTx, legs tradeLegs) (confirmation.Outcome, chain.TxHandle, error) {
	signed, err := adapters.Signer.Sign(ctx, unsigned, wallet)
	if err != nil {
		return confirmation.Outcome{}, chain.TxHandle{}, o.classifier.Classify(err)
	}
	ok, failureReason, err := adapters.RPC.Simulate(ctx, signed)
	if err != nil {
		return confirmation.Outcome{}, chain.TxHandle{}, o.classifier.Classify(err)
	}
	if !ok {
		return confirmation.Outcome{}, chain.TxHandle{}, o.classifier.Classify(errors.New(failureReason))
	}
	handle, err := adapters.RPC.SubmitRaw(ctx, signed)
	if err != nil {
		return confirmation.Outcome{}, chain.TxHandle{}, o.classifier.Classify(err)
	}
	outcome, err := confirm.Await(ctx, adapters.RPC, confirmation.Input{
		Handle:            handle,
		Wallet:            wallet,
		ExpectedInputTok:  legs.TokenIn,
		ExpectedOutputTok: legs.TokenOut,
		ExpectedAmountIn:  legs.AmountIn,
		ExpectedAmountOut: legs.AmountOut,
		Side:              legs.Side,
	})
	if err != nil {
		return outcome, handle, err
	}
	return outcome, handle, nil
}

func validateSwapRequest(req SwapRequest) error {
	if req.Network == "" || req.WalletAddress == "" {
		return gwerrors.New(gwerrors.KindValidation, "network and walletAddress are required")
	}
	if req.TokenIn == "" || req.TokenOut == "" {
		return gwerrors.New(gwerrors.KindValidation, "baseToken and quoteToken are required")
	}
	if req.Amount == nil || req.Amount.IsZero() {
		return gwerrors.New(gwerrors.KindValidation, "amount must be a positive integer")
	}
	if req.Side != chain.SideExactIn && req.Side != chain.SideExactOut {
		return gwerrors.New(gwerrors.KindValidation, "side must be EXACT_IN or EXACT_OUT")
	}
	if req.SlippagePct != nil && (*req.SlippagePct < 0 || *req.SlippagePct > 100) {
		return gwerrors.New(gwerrors.KindValidation, "slippagePct must be between 0 and 100")
	}
	return nil
}

func (o *Orchestrator) computeQuote(ctx context.Context, adapters NetworkAdapters, req SwapRequest) (Quote, error) {
	route, err := adapters.Router.ComputeRoute(ctx, chain.RouteRequest{
		PoolAddress: req.PoolAddress,
		TokenIn:     req.TokenIn,
		TokenOut:    req.TokenOut,
		Amount:      req.Amount,
		Side:        req.Side,
		Program:     req.PoolProgram,
	})
	if err != nil {
		return Quote{}, o.classifier.Classify(err)
	}
	bps := slippageBpsFromPct(req.SlippagePct)
	minOut, maxIn := applySlippage(route, req.Side, bps)
	return Quote{
		Pool:           route.Pool,
		TokenIn:        route.TokenIn,
		TokenOut:       route.TokenOut,
		AmountIn:       route.AmountIn,
		AmountOut:      route.AmountOut,
		Price:          route.Price,
		SlippageBps:    bps,
		MinAmountOut:   minOut,
		MaxAmountIn:    maxIn,
		PriceImpactPct: route.PriceImpactPct,
	}, nil
}

// QuoteDex computes an uncached, dex-shaped quote (GET
// /connectors/{dex}/{poolType}/quote-swap).
func (o *Orchestrator) QuoteDex(ctx context.Context, req SwapRequest) (Quote, error) {
	if err := validateSwapRequest(req); err != nil {
		return Quote{}, err
	}
	adapters, err := o.networks.Get(req.Network)
	if err != nil {
		return Quote{}, gwerrors.Wrap(gwerrors.KindInternal, err)
	}
	return o.computeQuote(ctx, adapters, req)
}

// QuoteRouter computes a router-shaped quote and stores it in the quote
// cache (C3), returning a QuoteID for later execute-quote consumption.
func (o *Orchestrator) QuoteRouter(ctx context.Context, req SwapRequest) (Quote, error) {
	quote, err := o.QuoteDex(ctx, req)
	if err != nil {
		return Quote{}, err
	}
	id := o.state.Quotes.Put(req.Network, req.WalletAddress, quote, cachedSwap{
		network:       req.Network,
		scope:         req.Scope,
		walletAddress: req.WalletAddress,
		quote:         quote,
		side:          req.Side,
	})
	quote.QuoteID = id
	return quote, nil
}

func amountRequiringAllowance(quote Quote, side chain.Side) *uint256.Int {
	if side == chain.SideExactOut && quote.MaxAmountIn != nil {
		return quote.MaxAmountIn
	}
	return quote.AmountIn
}
