package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"swapgateway/internal/chain"
	"swapgateway/internal/gaspolicy"
	"swapgateway/internal/orchestrator"
)

const swapRequestLimit = 1 << 16 // 64 KiB

// swapRoutes implements spec.md §6.2's connector-facing swap surface plus
// the extended approve/wrap operations, all backed by a single in-process
// orchestrator.Orchestrator rather than a proxy to an upstream service.
type swapRoutes struct {
	orch *orchestrator.Orchestrator
}

func newSwapRoutes(orch *orchestrator.Orchestrator) *swapRoutes {
	return &swapRoutes{orch: orch}
}

func (sr *swapRoutes) mount(r chi.Router) {
	r.Get("/{dex}/{poolType}/quote-swap", sr.quoteDex)
	r.Post("/{dex}/{poolType}/execute-swap", sr.executeSwap)
	r.Get("/{router}/quote-swap", sr.quoteRouter)
	r.Post("/{router}/execute-quote", sr.executeQuote)
	r.Post("/{family}/approve", sr.approve)
	r.Post("/{family}/wrap", sr.wrap)
}

func (sr *swapRoutes) quoteDex(w http.ResponseWriter, r *http.Request) {
	req, slippagePct, err := parseSwapRequestQuery(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	program, err := poolProgramFromPath(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	req.PoolProgram = program
	quote, err := sr.orch.QuoteDex(r.Context(), req)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newQuoteResultDTO(quote, slippagePct))
}

func (sr *swapRoutes) quoteRouter(w http.ResponseWriter, r *http.Request) {
	req, slippagePct, err := parseSwapRequestQuery(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	quote, err := sr.orch.QuoteRouter(r.Context(), req)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newQuoteResultDTO(quote, slippagePct))
}

func parseSwapRequestQuery(r *http.Request) (orchestrator.SwapRequest, float64, error) {
	q := r.URL.Query()
	amount, err := parseAmount(q.Get("amount"))
	if err != nil {
		return orchestrator.SwapRequest{}, 0, err
	}
	side, err := wireSide(q.Get("side"))
	if err != nil {
		return orchestrator.SwapRequest{}, 0, err
	}
	var slippagePct float64
	var slippagePtr *float64
	if raw := q.Get("slippagePct"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%g", &slippagePct); err != nil {
			return orchestrator.SwapRequest{}, 0, fmt.Errorf("invalid slippagePct: %w", err)
		}
		slippagePtr = &slippagePct
	}
	return orchestrator.SwapRequest{
		Network:       q.Get("network"),
		WalletAddress: q.Get("walletAddress"),
		Scope:         q.Get("scope"),
		TokenIn:       q.Get("baseToken"),
		TokenOut:      q.Get("quoteToken"),
		Amount:        amount,
		Side:          side,
		PoolAddress:   q.Get("poolAddress"),
		SlippagePct:   slippagePtr,
	}, slippagePct, nil
}

// poolProgramFromPath reads the {poolType} segment of a dex-shaped
// connector route (spec.md §4.4.3) and maps it to the pool shape a
// RouteBuilder should price against. An absent segment defaults to AMM,
// the common case; anything other than amm/clmm is a validation error
// rather than a silent fallback.
func poolProgramFromPath(r *http.Request) (chain.PoolProgram, error) {
	switch raw := chi.URLParam(r, "poolType"); strings.ToLower(raw) {
	case "", "amm":
		return chain.PoolProgramAMM, nil
	case "clmm":
		return chain.PoolProgramCLMM, nil
	default:
		return "", fmt.Errorf("unsupported poolType %q", raw)
	}
}

func (sr *swapRoutes) executeSwap(w http.ResponseWriter, r *http.Request) {
	var body executeSwapRequestDTO
	if err := decodeJSONBody(r, &body); err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount(body.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	side, err := wireSide(body.Side)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	program, err := poolProgramFromPath(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	req := orchestrator.SwapRequest{
		Network:       body.Network,
		WalletAddress: body.WalletAddress,
		Scope:         body.Scope,
		TokenIn:       body.BaseToken,
		TokenOut:      body.QuoteToken,
		Amount:        amount,
		Side:          side,
		PoolAddress:   body.PoolAddress,
		SlippagePct:   body.SlippagePct,
		GasPolicy:     gasPolicyFromDTO(body.GasMaxGwei, body.GasMultiplierPct),
		PoolProgram:   program,
	}
	result, err := sr.orch.ExecuteSwap(r.Context(), req)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSwapExecuteResponseDTO(result))
}

func (sr *swapRoutes) executeQuote(w http.ResponseWriter, r *http.Request) {
	var body executeQuoteRequestDTO
	if err := decodeJSONBody(r, &body); err != nil {
		writeBadRequest(w, err)
		return
	}
	result, err := sr.orch.ExecuteQuote(r.Context(), orchestrator.ExecuteQuoteRequest{
		Network:       body.Network,
		Scope:         body.Scope,
		WalletAddress: body.WalletAddress,
		QuoteID:       body.QuoteID,
	})
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSwapExecuteResponseDTO(result))
}

func (sr *swapRoutes) approve(w http.ResponseWriter, r *http.Request) {
	var body approveRequestDTO
	if err := decodeJSONBody(r, &body); err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount(body.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	result, err := sr.orch.Approve(r.Context(), orchestrator.ApproveRequest{
		Network:       body.Network,
		Scope:         body.Scope,
		WalletAddress: body.WalletAddress,
		Token:         body.Token,
		Spender:       body.Spender,
		Amount:        amount,
	})
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSwapExecuteResponseDTO(result))
}

func (sr *swapRoutes) wrap(w http.ResponseWriter, r *http.Request) {
	var body wrapRequestDTO
	if err := decodeJSONBody(r, &body); err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount(body.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	result, err := sr.orch.Wrap(r.Context(), orchestrator.WrapRequest{
		Network:       body.Network,
		Scope:         body.Scope,
		WalletAddress: body.WalletAddress,
		Token:         body.Token,
		Amount:        amount,
		Unwrap:        body.Unwrap,
	})
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSwapExecuteResponseDTO(result))
}

func gasPolicyFromDTO(gasMax *string, multiplierPct *uint32) gaspolicy.Policy {
	var policy gaspolicy.Policy
	if gasMax != nil {
		if v, err := parseAmount(*gasMax); err == nil {
			policy.GasMax = v
		}
	}
	if multiplierPct != nil {
		policy.MultiplierPct = *multiplierPct
	}
	return policy
}

func decodeJSONBody(r *http.Request, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, swapRequestLimit))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(body) == 0 {
		return errors.New("request body is empty")
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		writeInternalError(w, fmt.Errorf("marshal response: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
