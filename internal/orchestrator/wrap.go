package orchestrator

import (
	"context"

	"swapgateway/internal/chain"
	"swapgateway/internal/coordination"
	"swapgateway/internal/gaspolicy"
	"swapgateway/internal/gwerrors"
)

// Wrap executes the degenerate single-token route used to convert a
// network's native asset to and from its wrapped representation: no pool,
// no slippage, but the same build -> sign -> simulate -> submit -> confirm
// pipeline as a swap.
func (o *Orchestrator) Wrap(ctx context.Context, req WrapRequest) (result *Result, err error) {
	if req.Network == "" || req.WalletAddress == "" || req.Token == "" {
		return nil, gwerrors.New(gwerrors.KindValidation, "network, walletAddress and token are required")
	}
	if req.Amount == nil || req.Amount.IsZero() {
		return nil, gwerrors.New(gwerrors.KindValidation, "amount must be a positive integer")
	}
	adapters, err := o.networks.Get(req.Network)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindInternal, err)
	}

	key := coordination.NewScopedWalletKey(req.Network, req.Scope, req.WalletAddress)
	release := o.state.Locks.Acquire(key)
	ledger := newNonceLedger(key, o.state.Nonces)
	defer func() {
		ledger.rollbackUnsubmitted()
		release()
	}()

	nonce, blockhash, err := o.resolveOrdering(ctx, adapters, key, ledger)
	if err != nil {
		return nil, err
	}

	balance, err := adapters.RPC.GetBalance(ctx, req.WalletAddress, tokenForBalanceCheck(req))
	if err != nil {
		return nil, o.classifier.Classify(err)
	}
	if balance.Lt(req.Amount) {
		return nil, gwerrors.New(gwerrors.KindInsufficientFunds, "wallet balance is below the requested wrap amount")
	}

	estimate, err := adapters.RPC.EstimateGas(ctx)
	if err != nil {
		return nil, o.classifier.Classify(err)
	}
	gas := gaspolicy.Compute(estimate, req.GasPolicy, adapters.Family, chain.PoolProgramAMM)

	unsigned, err := adapters.Router.BuildWrap(ctx, req.WalletAddress, req.Token, req.Amount, req.Unwrap, gas, nonce, blockhash)
	if err != nil {
		return nil, o.classifier.Classify(err)
	}
	outcome, handle, err := o.signSubmitConfirm(ctx, o.confirm, adapters, req.WalletAddress, unsigned, tradeLegs{TokenIn: req.Token, AmountIn: req.Amount, Side: chain.SideExactIn})
	if err != nil {
		if gerr, ok := gwerrors.As(err); ok && gerr.Kind == gwerrors.KindNonceStale && nonce != nil {
			o.state.Nonces.Invalidate(key)
		}
		return nil, err
	}
	if nonce != nil {
		ledger.markSubmitted(*nonce)
	}

	return &Result{
		TxID:     handle.ID,
		Status:   outcome.Status,
		TokenIn:  req.Token,
		AmountIn: req.Amount,
		Fee:      outcome.Fee,
		Reason:   outcome.FailureReason,
	}, nil
}

func tokenForBalanceCheck(req WrapRequest) string {
	if req.Unwrap {
		return req.Token
	}
	return "" // native balance, since wrapping spends the native asset
}
