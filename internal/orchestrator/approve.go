package orchestrator

import (
	"context"

	"github.com/holiman/uint256"

	"swapgateway/internal/chain"
	"swapgateway/internal/coordination"
	"swapgateway/internal/gaspolicy"
	"swapgateway/internal/gwerrors"
)

// ensureAllowance implements the 4.4.2 approve sub-state-machine inline,
// as step 4 of the swap machine: if the spender's allowance is already
// sufficient this is a no-op; otherwise it builds, signs, submits and
// confirms an approve transaction for exactly the required amount before
// returning control to the swap.
//
// A hardware signer never triggers an automatic approve: per the open
// question decision recorded in SPEC_FULL.md, AllowanceRequired is always
// surfaced to the caller instead.
func (o *Orchestrator) ensureAllowance(ctx context.Context, adapters NetworkAdapters, key coordination.WalletKey, ledger *nonceLedger, wallet string, quote Quote, side chain.Side, policy gaspolicy.Policy) error {
	spender := quote.Pool.Address
	allowance, err := adapters.RPC.GetAllowance(ctx, wallet, spender, quote.TokenIn)
	if err != nil {
		return o.classifier.Classify(err)
	}
	required := amountRequiringAllowance(quote, side)
	if !allowance.Lt(required) {
		return nil
	}
	if adapters.Signer.IsHardware() {
		return gwerrors.New(gwerrors.KindAllowanceRequired, "insufficient allowance; approve from the hardware wallet before retrying")
	}
	_, err = o.submitApprove(ctx, adapters, key, ledger, wallet, quote.TokenIn, spender, required, policy)
	return err
}

// Approve exposes the approve sub-state-machine directly, for clients that
// want to pre-approve without swapping (POST /connectors/{family}/approve).
func (o *Orchestrator) Approve(ctx context.Context, req ApproveRequest) (result *Result, err error) {
	if req.Network == "" || req.WalletAddress == "" || req.Token == "" || req.Spender == "" {
		return nil, gwerrors.New(gwerrors.KindValidation, "network, walletAddress, token and spender are required")
	}
	if req.Amount == nil || req.Amount.IsZero() {
		return nil, gwerrors.New(gwerrors.KindValidation, "amount must be a positive integer")
	}
	adapters, err := o.networks.Get(req.Network)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindInternal, err)
	}
	if adapters.Family != chain.FamilyAccountNonce {
		return nil, gwerrors.New(gwerrors.KindValidation, "approve is only meaningful for account-nonce family networks")
	}
	if adapters.Signer.IsHardware() {
		return nil, gwerrors.New(gwerrors.KindAllowanceRequired, "approve must be signed directly from the hardware wallet")
	}

	key := coordination.NewScopedWalletKey(req.Network, req.Scope, req.WalletAddress)
	release := o.state.Locks.Acquire(key)
	ledger := newNonceLedger(key, o.state.Nonces)
	defer func() {
		ledger.rollbackUnsubmitted()
		release()
	}()

	return o.submitApprove(ctx, adapters, key, ledger, req.WalletAddress, req.Token, req.Spender, req.Amount, req.GasPolicy)
}

func (o *Orchestrator) submitApprove(ctx context.Context, adapters NetworkAdapters, key coordination.WalletKey, ledger *nonceLedger, wallet, token, spender string, amount *uint256.Int, policy gaspolicy.Policy) (*Result, error) {
	nonce, err := o.state.Nonces.NextNonce(ctx, adapters.RPC, key)
	if err != nil {
		return nil, o.classifier.Classify(err)
	}
	ledger.assign(nonce)

	estimate, err := adapters.RPC.EstimateGas(ctx)
	if err != nil {
		return nil, o.classifier.Classify(err)
	}
	gas := gaspolicy.Compute(estimate, policy, adapters.Family, chain.PoolProgramAMM)

	unsigned, err := adapters.Router.BuildApprove(ctx, wallet, spender, token, amount, gas, &nonce, "")
	if err != nil {
		return nil, o.classifier.Classify(err)
	}
	// Per §4.4.2 step 4, the approve sub-machine never hands an unconfirmed
	// approval back to the swap: a non-terminal outcome here surfaces as
	// internal_error and the deferred rollback/release in Approve/
	// ensureAllowance's caller runs instead of proceeding.
	outcome, handle, err := o.signSubmitConfirm(ctx, o.approveConfirm, adapters, wallet, unsigned, tradeLegs{TokenIn: token, AmountIn: amount, Side: chain.SideExactIn})
	if err != nil {
		if gerr, ok := gwerrors.As(err); ok && gerr.Kind == gwerrors.KindNonceStale {
			o.state.Nonces.Invalidate(key)
		}
		return nil, err
	}
	if outcome.Status != chain.PollConfirmed && outcome.Status != chain.PollFailed {
		return nil, gwerrors.New(gwerrors.KindInternal, "approve did not confirm before timeout")
	}
	ledger.markSubmitted(nonce)

	return &Result{
		TxID:     handle.ID,
		Status:   outcome.Status,
		TokenIn:  token,
		AmountIn: amount,
		Fee:      outcome.Fee,
		Reason:   outcome.FailureReason,
	}, nil
}
