// Package svm implements the signature-hash family chain.RPCAdapter by
// speaking a Solana-style JSON-RPC wire protocol directly over net/http,
// without a client SDK. No SDK for this chain family exists
// anywhere in the example pack.
package svm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/holiman/uint256"

	"swapgateway/internal/chain"
)

// Adapter is the reference signature-hash family RPCAdapter.
type Adapter struct {
	endpoint   string
	httpClient *http.Client
	nextID     atomic.Int64
}

// New builds an adapter against a JSON-RPC endpoint.
func New(endpoint string) *Adapter {
	return &Adapter{endpoint: endpoint, httpClient: http.DefaultClient}
}

func (a *Adapter) Family() chain.Family { return chain.FamilySignatureHash }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (a *Adapter) call(ctx context.Context, method string, params any, out any) error {
	req := rpcRequest{JSONRPC: "2.0", ID: a.nextID.Add(1), Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode rpc request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build rpc request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("rpc call %s: %w", method, err)
	}
	defer resp.Body.Close()
	var parsed rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decode rpc response: %w", err)
	}
	if parsed.Error != nil {
		return fmt.Errorf("rpc error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	if out != nil && len(parsed.Result) > 0 {
		if err := json.Unmarshal(parsed.Result, out); err != nil {
			return fmt.Errorf("decode rpc result: %w", err)
		}
	}
	return nil
}

// GetPendingNonce is not meaningful for the signature-hash family: this
// chain family orders transactions by recent blockhash, not by an account
// nonce. The orchestrator never calls it for this family; it exists only to
// satisfy the shared interface.
func (a *Adapter) GetPendingNonce(ctx context.Context, address string) (uint64, error) {
	return 0, fmt.Errorf("signature-hash family does not use account nonces")
}

// GetAllowance is likewise not meaningful: this chain family has no ERC20-
// style allowance model. The orchestrator's allowance check is gated on
// FamilyAccountNonce and never reaches this call.
func (a *Adapter) GetAllowance(ctx context.Context, owner, spender, token string) (*uint256.Int, error) {
	return nil, fmt.Errorf("signature-hash family has no allowance model")
}

func (a *Adapter) GetBalance(ctx context.Context, owner, token string) (*uint256.Int, error) {
	if token == "" {
		var result struct {
			Value uint64 `json:"value"`
		}
		if err := a.call(ctx, "getBalance", []any{owner}, &result); err != nil {
			return nil, fmt.Errorf("getBalance: %w", err)
		}
		return uint256.NewInt(result.Value), nil
	}
	var result struct {
		Value struct {
			Amount string `json:"amount"`
		} `json:"value"`
	}
	if err := a.call(ctx, "getTokenAccountBalance", []any{owner}, &result); err != nil {
		return nil, fmt.Errorf("getTokenAccountBalance: %w", err)
	}
	v, err := uint256.FromDecimal(result.Value.Amount)
	if err != nil {
		return nil, fmt.Errorf("parse token balance: %w", err)
	}
	return v, nil
}

func (a *Adapter) EstimateGas(ctx context.Context) (chain.GasEstimate, error) {
	var result struct {
		Value []struct {
			PrioritizationFee uint64 `json:"prioritizationFee"`
		} `json:"value"`
	}
	if err := a.call(ctx, "getRecentPrioritizationFees", nil, &result); err != nil {
		return chain.GasEstimate{}, fmt.Errorf("getRecentPrioritizationFees: %w", err)
	}
	var max uint64
	for _, entry := range result.Value {
		if entry.PrioritizationFee > max {
			max = entry.PrioritizationFee
		}
	}
	return chain.GasEstimate{
		BaseFeePerUnit:     uint256.NewInt(0),
		PriorityFeePerUnit: uint256.NewInt(max),
	}, nil
}

func (a *Adapter) RecentBlockhash(ctx context.Context) (string, error) {
	var result struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	if err := a.call(ctx, "getLatestBlockhash", nil, &result); err != nil {
		return "", fmt.Errorf("getLatestBlockhash: %w", err)
	}
	return result.Value.Blockhash, nil
}

func (a *Adapter) Simulate(ctx context.Context, tx chain.SignedTx) (bool, string, error) {
	encoded := base64.StdEncoding.EncodeToString(tx.Raw)
	var result struct {
		Value struct {
			Err interface{} `json:"err"`
			Logs []string   `json:"logs"`
		} `json:"value"`
	}
	if err := a.call(ctx, "simulateTransaction", []any{encoded, map[string]any{"encoding": "base64"}}, &result); err != nil {
		return false, "", fmt.Errorf("simulateTransaction: %w", err)
	}
	if result.Value.Err != nil {
		return false, fmt.Sprintf("%v", result.Value.Err), nil
	}
	return true, "", nil
}

func (a *Adapter) SubmitRaw(ctx context.Context, tx chain.SignedTx) (chain.TxHandle, error) {
	encoded := base64.StdEncoding.EncodeToString(tx.Raw)
	var signature string
	if err := a.call(ctx, "sendTransaction", []any{encoded, map[string]any{"encoding": "base64"}}, &signature); err != nil {
		return chain.TxHandle{}, fmt.Errorf("sendTransaction: %w", err)
	}
	return chain.TxHandle{ID: signature}, nil
}

func (a *Adapter) Poll(ctx context.Context, handle chain.TxHandle) (chain.PollResult, error) {
	var result struct {
		Value []*struct {
			ConfirmationStatus string      `json:"confirmationStatus"`
			Err                interface{} `json:"err"`
			Slot               uint64      `json:"slot"`
		} `json:"value"`
	}
	if err := a.call(ctx, "getSignatureStatuses", []any{[]string{handle.ID}}, &result); err != nil {
		return chain.PollResult{}, fmt.Errorf("getSignatureStatuses: %w", err)
	}
	if len(result.Value) == 0 || result.Value[0] == nil {
		return chain.PollResult{Status: chain.PollPending}, nil
	}
	status := result.Value[0]
	if status.Err != nil {
		return chain.PollResult{Status: chain.PollFailed, FailureReason: fmt.Sprintf("%v", status.Err), BlockHeight: status.Slot}, nil
	}
	switch status.ConfirmationStatus {
	case "confirmed", "finalized":
		return chain.PollResult{Status: chain.PollConfirmed, BlockHeight: status.Slot}, nil
	default:
		return chain.PollResult{Status: chain.PollPending, BlockHeight: status.Slot}, nil
	}
}
