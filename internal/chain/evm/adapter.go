// Package evm implements the account-nonce family chain.RPCAdapter and
// chain.Signer using go-ethereum, the same client and crypto libraries
// services/swap-gateway/voucher.go signs vouchers with.
package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"

	"swapgateway/internal/chain"
)

// Adapter is the reference account-nonce family RPCAdapter, backed by a
// single JSON-RPC endpoint.
type Adapter struct {
	client  *ethclient.Client
	chainID *big.Int
}

// Dial connects to an EVM JSON-RPC endpoint.
func Dial(ctx context.Context, rpcURL string, chainID int64) (*Adapter, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial evm rpc: %w", err)
	}
	return &Adapter{client: client, chainID: big.NewInt(chainID)}, nil
}

// ChainID returns the configured chain ID, used by the software signer.
func (a *Adapter) ChainID() *big.Int { return a.chainID }

func (a *Adapter) Family() chain.Family { return chain.FamilyAccountNonce }

func (a *Adapter) GetPendingNonce(ctx context.Context, address string) (uint64, error) {
	n, err := a.client.PendingNonceAt(ctx, common.HexToAddress(address))
	if err != nil {
		return 0, fmt.Errorf("get pending nonce: %w", err)
	}
	return n, nil
}

// RecentBlockhash is not applicable to the account-nonce family: this
// family orders transactions by nonce, not by a recent-blockhash window.
func (a *Adapter) RecentBlockhash(ctx context.Context) (string, error) {
	return "", fmt.Errorf("account-nonce family does not use a recent blockhash")
}

var (
	selectorAllowance = common.FromHex("0xdd62ed3e") // allowance(address,address)
	selectorBalanceOf = common.FromHex("0x70a08231") // balanceOf(address)
)

func (a *Adapter) GetAllowance(ctx context.Context, owner, spender, token string) (*uint256.Int, error) {
	data := append(append([]byte{}, selectorAllowance...), leftPad32(common.HexToAddress(owner).Bytes())...)
	data = append(data, leftPad32(common.HexToAddress(spender).Bytes())...)
	out, err := a.call(ctx, token, data)
	if err != nil {
		return nil, fmt.Errorf("eth_call allowance: %w", err)
	}
	return bytesToUint256(out)
}

func (a *Adapter) GetBalance(ctx context.Context, owner, token string) (*uint256.Int, error) {
	if token == "" || !common.IsHexAddress(token) {
		wei, err := a.client.BalanceAt(ctx, common.HexToAddress(owner), nil)
		if err != nil {
			return nil, fmt.Errorf("get native balance: %w", err)
		}
		v, overflow := uint256.FromBig(wei)
		if overflow {
			return nil, fmt.Errorf("native balance overflows uint256")
		}
		return v, nil
	}
	data := append(append([]byte{}, selectorBalanceOf...), leftPad32(common.HexToAddress(owner).Bytes())...)
	out, err := a.call(ctx, token, data)
	if err != nil {
		return nil, fmt.Errorf("eth_call balanceOf: %w", err)
	}
	return bytesToUint256(out)
}

func (a *Adapter) call(ctx context.Context, to string, data []byte) ([]byte, error) {
	addr := common.HexToAddress(to)
	return a.client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
}

func (a *Adapter) EstimateGas(ctx context.Context) (chain.GasEstimate, error) {
	tipCap, err := a.client.SuggestGasTipCap(ctx)
	if err != nil {
		return chain.GasEstimate{}, fmt.Errorf("suggest gas tip cap: %w", err)
	}
	head, err := a.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return chain.GasEstimate{}, fmt.Errorf("get head header: %w", err)
	}
	base := big.NewInt(0)
	if head.BaseFee != nil {
		base = head.BaseFee
	}
	baseU, _ := uint256.FromBig(base)
	tipU, _ := uint256.FromBig(tipCap)
	return chain.GasEstimate{BaseFeePerUnit: baseU, PriorityFeePerUnit: tipU}, nil
}

func (a *Adapter) Simulate(ctx context.Context, tx chain.SignedTx) (bool, string, error) {
	var decoded types.Transaction
	if err := decoded.UnmarshalBinary(tx.Raw); err != nil {
		return false, "", fmt.Errorf("decode signed tx: %w", err)
	}
	msg := ethereum.CallMsg{
		To:   decoded.To(),
		Data: decoded.Data(),
		Gas:  decoded.Gas(),
	}
	if from, err := types.Sender(types.LatestSignerForChainID(a.chainID), &decoded); err == nil {
		msg.From = from
	}
	if _, err := a.client.CallContract(ctx, msg, nil); err != nil {
		return false, err.Error(), nil
	}
	return true, "", nil
}

func (a *Adapter) SubmitRaw(ctx context.Context, tx chain.SignedTx) (chain.TxHandle, error) {
	var decoded types.Transaction
	if err := decoded.UnmarshalBinary(tx.Raw); err != nil {
		return chain.TxHandle{}, fmt.Errorf("decode signed tx: %w", err)
	}
	if err := a.client.SendTransaction(ctx, &decoded); err != nil {
		return chain.TxHandle{}, fmt.Errorf("send transaction: %w", err)
	}
	return chain.TxHandle{ID: decoded.Hash().Hex()}, nil
}

func (a *Adapter) Poll(ctx context.Context, handle chain.TxHandle) (chain.PollResult, error) {
	receipt, err := a.client.TransactionReceipt(ctx, common.HexToHash(handle.ID))
	if err != nil {
		if err == ethereum.NotFound {
			return chain.PollResult{Status: chain.PollPending}, nil
		}
		return chain.PollResult{}, fmt.Errorf("get transaction receipt: %w", err)
	}
	result := chain.PollResult{BlockHeight: receipt.BlockNumber.Uint64()}
	if fee, overflow := uint256.FromBig(new(big.Int).Mul(receipt.EffectiveGasPrice, new(big.Int).SetUint64(receipt.GasUsed))); !overflow {
		result.Fee = fee
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		result.Status = chain.PollConfirmed
	} else {
		result.Status = chain.PollFailed
		result.FailureReason = "transaction reverted"
	}
	return result, nil
}

func leftPad32(b []byte) []byte {
	return common.LeftPadBytes(b, 32)
}

func bytesToUint256(b []byte) (*uint256.Int, error) {
	if len(b) == 0 {
		return uint256.NewInt(0), nil
	}
	v := new(uint256.Int)
	if len(b) > 32 {
		b = b[len(b)-32:]
	}
	v.SetBytes(b)
	return v, nil
}
