package routes

import (
	"fmt"

	"github.com/holiman/uint256"

	"swapgateway/internal/chain"
	"swapgateway/internal/orchestrator"
)

// amountJSON renders a *uint256.Int as the decimal string every wire amount
// uses. A nil amount renders as "0".
func amountJSON(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.ToBig().String()
}

func parseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return v, nil
}

// wireSide maps the wire-level BUY/SELL vocabulary of spec.md §6.2 onto the
// orchestrator's EXACT_IN/EXACT_OUT vocabulary: SELL supplies an exact input
// amount, BUY names an exact output amount.
func wireSide(s string) (chain.Side, error) {
	switch s {
	case "SELL":
		return chain.SideExactIn, nil
	case "BUY":
		return chain.SideExactOut, nil
	default:
		return "", fmt.Errorf("side must be BUY or SELL")
	}
}

// wireStatus maps chain.PollStatus onto the -1/0/1 vocabulary of
// spec.md §4.5/§6.2.
func wireStatus(s chain.PollStatus) int {
	switch s {
	case chain.PollConfirmed:
		return 1
	case chain.PollFailed:
		return -1
	default:
		return 0
	}
}

// quoteResultDTO is the QuoteResult shape of spec.md §6.2.
type quoteResultDTO struct {
	PoolAddress    string   `json:"poolAddress"`
	TokenIn        string   `json:"tokenIn"`
	TokenOut       string   `json:"tokenOut"`
	AmountIn       string   `json:"amountIn"`
	AmountOut      string   `json:"amountOut"`
	Price          float64  `json:"price"`
	SlippagePct    float64  `json:"slippagePct"`
	MinAmountOut   *string  `json:"minAmountOut,omitempty"`
	MaxAmountIn    *string  `json:"maxAmountIn,omitempty"`
	PriceImpactPct *float64 `json:"priceImpactPct,omitempty"`
	QuoteID        *string  `json:"quoteId,omitempty"`
}

func newQuoteResultDTO(q orchestrator.Quote, slippagePct float64) quoteResultDTO {
	dto := quoteResultDTO{
		PoolAddress:    q.Pool.Address,
		TokenIn:        q.TokenIn,
		TokenOut:       q.TokenOut,
		AmountIn:       amountJSON(q.AmountIn),
		AmountOut:      amountJSON(q.AmountOut),
		Price:          q.Price,
		SlippagePct:    slippagePct,
		PriceImpactPct: q.PriceImpactPct,
	}
	if q.MinAmountOut != nil {
		v := amountJSON(q.MinAmountOut)
		dto.MinAmountOut = &v
	}
	if q.MaxAmountIn != nil {
		v := amountJSON(q.MaxAmountIn)
		dto.MaxAmountIn = &v
	}
	if q.QuoteID != "" {
		dto.QuoteID = &q.QuoteID
	}
	return dto
}

// executeSwapRequestDTO is the request body of §6.2's execute-swap endpoint.
type executeSwapRequestDTO struct {
	Network          string   `json:"network"`
	WalletAddress    string   `json:"walletAddress"`
	Scope            string   `json:"scope,omitempty"`
	BaseToken        string   `json:"baseToken"`
	QuoteToken       string   `json:"quoteToken"`
	Amount           string   `json:"amount"`
	Side             string   `json:"side"`
	PoolAddress      string   `json:"poolAddress,omitempty"`
	SlippagePct      *float64 `json:"slippagePct,omitempty"`
	UseNativeBalance bool     `json:"useNativeBalance,omitempty"`
	GasMaxGwei       *string  `json:"gasMax,omitempty"`
	GasMultiplierPct *uint32  `json:"gasMultiplierPct,omitempty"`
}

// executeQuoteRequestDTO is the request body of §6.2's execute-quote
// endpoint.
type executeQuoteRequestDTO struct {
	Network       string `json:"network"`
	WalletAddress string `json:"walletAddress"`
	Scope         string `json:"scope,omitempty"`
	QuoteID       string `json:"quoteId"`
}

// swapExecuteResponseDTO is SwapExecuteResponse from spec.md §6.2.
type swapExecuteResponseDTO struct {
	Signature string              `json:"signature"`
	Status    int                 `json:"status"`
	Data      *swapExecuteDataDTO `json:"data,omitempty"`
}

type swapExecuteDataDTO struct {
	TokenIn                 string  `json:"tokenIn"`
	TokenOut                string  `json:"tokenOut"`
	AmountIn                string  `json:"amountIn"`
	AmountOut               string  `json:"amountOut"`
	Fee                     string  `json:"fee"`
	BaseTokenBalanceChange  string  `json:"baseTokenBalanceChange"`
	QuoteTokenBalanceChange string  `json:"quoteTokenBalanceChange"`
	Reason                  *string `json:"reason,omitempty"`
}

func newSwapExecuteResponseDTO(res *orchestrator.Result) swapExecuteResponseDTO {
	dto := swapExecuteResponseDTO{
		Signature: res.TxID,
		Status:    wireStatus(res.Status),
	}
	data := &swapExecuteDataDTO{
		TokenIn:   res.TokenIn,
		TokenOut:  res.TokenOut,
		AmountIn:  amountJSON(res.AmountIn),
		AmountOut: amountJSON(res.AmountOut),
		Fee:       amountJSON(res.Fee),
	}
	if res.BaseTokenBalanceChange != nil {
		data.BaseTokenBalanceChange = res.BaseTokenBalanceChange.String()
	} else {
		data.BaseTokenBalanceChange = "0"
	}
	if res.QuoteTokenBalanceChange != nil {
		data.QuoteTokenBalanceChange = res.QuoteTokenBalanceChange.String()
	} else {
		data.QuoteTokenBalanceChange = "0"
	}
	if res.Reason != "" {
		data.Reason = &res.Reason
	}
	dto.Data = data
	return dto
}

// approveRequestDTO is the request body of the extended approve endpoint.
type approveRequestDTO struct {
	Network       string `json:"network"`
	WalletAddress string `json:"walletAddress"`
	Scope         string `json:"scope,omitempty"`
	Token         string `json:"token"`
	Spender       string `json:"spender"`
	Amount        string `json:"amount"`
}

// wrapRequestDTO is the request body of the extended wrap endpoint.
type wrapRequestDTO struct {
	Network       string `json:"network"`
	WalletAddress string `json:"walletAddress"`
	Scope         string `json:"scope,omitempty"`
	Token         string `json:"token"`
	Amount        string `json:"amount"`
	Unwrap        bool   `json:"unwrap,omitempty"`
}

// nonceAcquireRequestDTO/ResponseDTO implement §6.1's exact acquire contract.
type nonceAcquireRequestDTO struct {
	Network       string `json:"network"`
	WalletAddress string `json:"walletAddress"`
	TTLMs         *int64 `json:"ttlMs,omitempty"`
}

type nonceAcquireResponseDTO struct {
	LockID    string `json:"lockId"`
	Nonce     uint64 `json:"nonce"`
	ExpiresAt int64  `json:"expiresAt"`
}

type nonceReleaseRequestDTO struct {
	Network         string `json:"network"`
	WalletAddress   string `json:"walletAddress"`
	LockID          string `json:"lockId"`
	TransactionSent bool   `json:"transactionSent"`
}

type nonceReleaseResponseDTO struct {
	Success bool    `json:"success"`
	Message *string `json:"message,omitempty"`
}

type nonceInvalidateRequestDTO struct {
	Network       string `json:"network"`
	WalletAddress string `json:"walletAddress"`
}

type nonceInvalidateResponseDTO struct {
	Success bool `json:"success"`
}

type nonceStatusResponseDTO struct {
	ActiveLocks int                `json:"activeLocks"`
	Locks       []nonceLockViewDTO `json:"locks"`
}

type nonceLockViewDTO struct {
	LockID    string `json:"lockId"`
	Address   string `json:"address"`
	Scope     string `json:"scope,omitempty"`
	Nonce     uint64 `json:"nonce"`
	ExpiresAt int64  `json:"expiresAt"`
	IsExpired bool   `json:"isExpired"`
}
