package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"swapgateway/internal/chain"
	"swapgateway/internal/confirmation"
	"swapgateway/internal/coordination"
	"swapgateway/internal/orchestrator"
)

func newTestSwapRouter(t *testing.T, rpc chain.RPCAdapter) chi.Router {
	t.Helper()
	state := coordination.New(coordination.DefaultConfig(), discardLogger())
	registry := orchestrator.NewNetworkRegistry(func(network string) (orchestrator.NetworkAdapters, error) {
		return orchestrator.NetworkAdapters{Family: rpc.Family(), RPC: rpc, Signer: &fakeSigner{family: rpc.Family()}, Router: &fakeRouteBuilder{}}, nil
	})
	orch := orchestrator.New(state, registry, confirmation.New(time.Millisecond, time.Second, discardLogger()), discardLogger())

	r := chi.NewRouter()
	newSwapRoutes(orch).mount(r)
	return r
}

func TestPoolProgramFromPathDefaultsToAMM(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/uniswap//quote-swap", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("poolType", "")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	program, err := poolProgramFromPath(req)
	require.NoError(t, err)
	require.Equal(t, chain.PoolProgramAMM, program)
}

func TestQuoteDexAcceptsAMMPoolType(t *testing.T) {
	r := newTestSwapRouter(t, confirmedRPC(chain.FamilyAccountNonce))
	req := httptest.NewRequest(http.MethodGet, "/uniswap/amm/quote-swap?network=eth&walletAddress=0xabc&baseToken=A&quoteToken=B&amount=100&side=SELL", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got quoteResultDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Equal(t, "100", got.AmountIn)
}

func TestQuoteDexAcceptsCLMMPoolType(t *testing.T) {
	r := newTestSwapRouter(t, confirmedRPC(chain.FamilyAccountNonce))
	req := httptest.NewRequest(http.MethodGet, "/uniswap/clmm/quote-swap?network=eth&walletAddress=0xabc&baseToken=A&quoteToken=B&amount=100&side=SELL", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestQuoteDexRejectsUnknownPoolType(t *testing.T) {
	r := newTestSwapRouter(t, confirmedRPC(chain.FamilyAccountNonce))
	req := httptest.NewRequest(http.MethodGet, "/uniswap/vffa/quote-swap?network=eth&walletAddress=0xabc&baseToken=A&quoteToken=B&amount=100&side=SELL", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQuoteDexRejectsInvalidSide(t *testing.T) {
	r := newTestSwapRouter(t, confirmedRPC(chain.FamilyAccountNonce))
	req := httptest.NewRequest(http.MethodGet, "/uniswap/amm/quote-swap?network=eth&walletAddress=0xabc&baseToken=A&quoteToken=B&amount=100&side=SIDEWAYS", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExecuteSwapAcceptsPoolTypeAndReturnsResult(t *testing.T) {
	r := newTestSwapRouter(t, confirmedRPC(chain.FamilyAccountNonce))
	body, err := json.Marshal(map[string]any{
		"network": "eth", "walletAddress": "0xabc", "baseToken": "A", "quoteToken": "B",
		"amount": "100", "side": "SELL",
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/uniswap/clmm/execute-swap", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got swapExecuteResponseDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Equal(t, "tx1", got.Signature)
	require.Equal(t, 1, got.Status)
}

func TestExecuteSwapRejectsUnknownPoolType(t *testing.T) {
	r := newTestSwapRouter(t, confirmedRPC(chain.FamilyAccountNonce))
	body, _ := json.Marshal(map[string]any{
		"network": "eth", "walletAddress": "0xabc", "baseToken": "A", "quoteToken": "B",
		"amount": "100", "side": "SELL",
	})
	req := httptest.NewRequest(http.MethodPost, "/uniswap/notaprogram/execute-swap", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExecuteSwapPropagatesGatewayErrorStatus(t *testing.T) {
	rpc := confirmedRPC(chain.FamilyAccountNonce)
	rpc.balance = uint256.NewInt(0)
	r := newTestSwapRouter(t, rpc)
	body, _ := json.Marshal(map[string]any{
		"network": "eth", "walletAddress": "0xabc", "baseToken": "A", "quoteToken": "B",
		"amount": "100", "side": "SELL",
	})
	req := httptest.NewRequest(http.MethodPost, "/uniswap/amm/execute-swap", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code) // insufficient_funds maps to 400 per §7
}

func TestQuoteRouterCachesQuoteForExecuteQuote(t *testing.T) {
	r := newTestSwapRouter(t, confirmedRPC(chain.FamilyAccountNonce))
	req := httptest.NewRequest(http.MethodGet, "/universal-router/quote-swap?network=eth&walletAddress=0xabc&baseToken=A&quoteToken=B&amount=100&side=SELL", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var quote quoteResultDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &quote))
	require.NotNil(t, quote.QuoteID)

	execBody, _ := json.Marshal(map[string]any{"network": "eth", "walletAddress": "0xabc", "quoteId": *quote.QuoteID})
	execReq := httptest.NewRequest(http.MethodPost, "/universal-router/execute-quote", bytes.NewReader(execBody))
	execW := httptest.NewRecorder()
	r.ServeHTTP(execW, execReq)
	require.Equal(t, http.StatusOK, execW.Code)
}

func TestExecuteQuoteRejectsAlreadyConsumedQuote(t *testing.T) {
	r := newTestSwapRouter(t, confirmedRPC(chain.FamilyAccountNonce))
	quoteReq := httptest.NewRequest(http.MethodGet, "/universal-router/quote-swap?network=eth&walletAddress=0xabc&baseToken=A&quoteToken=B&amount=100&side=SELL", nil)
	quoteW := httptest.NewRecorder()
	r.ServeHTTP(quoteW, quoteReq)
	var quote quoteResultDTO
	require.NoError(t, json.Unmarshal(quoteW.Body.Bytes(), &quote))

	execBody, _ := json.Marshal(map[string]any{"network": "eth", "walletAddress": "0xabc", "quoteId": *quote.QuoteID})
	first := httptest.NewRecorder()
	r.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/universal-router/execute-quote", bytes.NewReader(execBody)))
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	r.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/universal-router/execute-quote", bytes.NewReader(execBody)))
	require.Equal(t, http.StatusNotFound, second.Code)
}

func TestApproveAndWrapEndpoints(t *testing.T) {
	r := newTestSwapRouter(t, confirmedRPC(chain.FamilyAccountNonce))

	approveBody, _ := json.Marshal(map[string]any{"network": "eth", "walletAddress": "0xabc", "token": "A", "spender": "0xspender", "amount": "50"})
	approveW := httptest.NewRecorder()
	r.ServeHTTP(approveW, httptest.NewRequest(http.MethodPost, "/account-nonce/approve", bytes.NewReader(approveBody)))
	require.Equal(t, http.StatusOK, approveW.Code)

	wrapBody, _ := json.Marshal(map[string]any{"network": "eth", "walletAddress": "0xabc", "token": "A", "amount": "50"})
	wrapW := httptest.NewRecorder()
	r.ServeHTTP(wrapW, httptest.NewRequest(http.MethodPost, "/account-nonce/wrap", bytes.NewReader(wrapBody)))
	require.Equal(t, http.StatusOK, wrapW.Code)
}

func TestDecodeJSONBodyRejectsEmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x", bytes.NewReader(nil))
	var out approveRequestDTO
	require.Error(t, decodeJSONBody(req, &out))
}

func TestDecodeJSONBodyRejectsMalformedJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x", bytes.NewReader([]byte("{not json")))
	var out approveRequestDTO
	require.Error(t, decodeJSONBody(req, &out))
}
