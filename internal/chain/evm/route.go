package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"swapgateway/internal/chain"
)

// RouteBuilder is the reference account-nonce family chain.RouteBuilder. It
// prices AMM trades against a Uniswap V2 style constant-product pair and
// CLMM trades against a Uniswap V3 style pool's current tick price
// (req.Program selects which), and builds calldata for a matching router
// contract shared by both pool shapes.
type RouteBuilder struct {
	client         contractCaller
	routerAddress  string
	feeNumerator   *uint256.Int // 997 for the standard 0.3% pool fee
	feeDenominator *uint256.Int // 1000
}

// contractCaller is the narrow eth_call surface RouteBuilder needs,
// satisfied by *ethclient.Client. Kept as an interface so tests can supply a
// fake without dialing a real node.
type contractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// NewRouteBuilder builds a RouteBuilder against a live adapter's client and
// a deployed router contract address (e.g. a Uniswap V2 or universal
// router).
func NewRouteBuilder(adapter *Adapter, routerAddress string) *RouteBuilder {
	return &RouteBuilder{
		client:         adapter.client,
		routerAddress:  routerAddress,
		feeNumerator:   uint256.NewInt(997),
		feeDenominator: uint256.NewInt(1000),
	}
}

var (
	selectorGetReserves = common.FromHex("0x0902f1ac") // getReserves()
	selectorToken0      = common.FromHex("0x0dfe1681") // token0()
)

func (b *RouteBuilder) call(ctx context.Context, to string, data []byte) ([]byte, error) {
	addr := common.HexToAddress(to)
	return b.client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
}

// ComputeRoute prices the trade against the pool's current reserves using
// the standard constant-product formula with the pool's swap fee applied,
// or, for a CLMM pool, against the pool's current tick price (§4.4.3). When
// req.Program is unset (the router-shaped connector routes never set it;
// only the dex-shaped routes do, from an explicit {poolType} path segment)
// the pool's program is detected on chain rather than assumed to be AMM.
func (b *RouteBuilder) ComputeRoute(ctx context.Context, req chain.RouteRequest) (chain.RoutePayload, error) {
	program := req.Program
	if program == "" {
		program = b.detectProgram(ctx, req.PoolAddress)
	}
	if program == chain.PoolProgramCLMM {
		return b.computeRouteCLMM(ctx, req)
	}
	return b.computeRouteAMM(ctx, req)
}

// detectProgram probes for slot0(), the view function a Uniswap V3 style
// CLMM pool exposes and a V2 style AMM pair does not. A pair without it
// reverts the eth_call, which is treated as "this is an AMM pool" rather
// than a hard error; a genuinely bad pool address still fails later, inside
// computeRouteAMM/computeRouteCLMM, once reserves or slot0 are read for
// real.
func (b *RouteBuilder) detectProgram(ctx context.Context, pool string) chain.PoolProgram {
	raw, err := b.call(ctx, pool, selectorSlot0)
	if err != nil || len(raw) < 32 {
		return chain.PoolProgramAMM
	}
	return chain.PoolProgramCLMM
}

func (b *RouteBuilder) computeRouteAMM(ctx context.Context, req chain.RouteRequest) (chain.RoutePayload, error) {
	reserveIn, reserveOut, err := b.orderedReserves(ctx, req.PoolAddress, req.TokenIn)
	if err != nil {
		return chain.RoutePayload{}, err
	}
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return chain.RoutePayload{}, fmt.Errorf("pool %s has no liquidity", req.PoolAddress)
	}

	var amountIn, amountOut *uint256.Int
	switch req.Side {
	case chain.SideExactIn:
		amountIn = req.Amount
		amountOut = b.amountOut(amountIn, reserveIn, reserveOut)
	case chain.SideExactOut:
		amountOut = req.Amount
		amountIn, err = b.amountIn(amountOut, reserveIn, reserveOut)
		if err != nil {
			return chain.RoutePayload{}, err
		}
	default:
		return chain.RoutePayload{}, fmt.Errorf("unsupported side %q", req.Side)
	}

	price := 0.0
	if !amountIn.IsZero() {
		price, _ = new(big.Float).Quo(
			new(big.Float).SetInt(amountOut.ToBig()),
			new(big.Float).SetInt(amountIn.ToBig()),
		).Float64()
	}
	impact := b.priceImpactPct(amountIn, reserveIn, reserveOut)

	return chain.RoutePayload{
		Pool:           chain.PoolInfo{Address: req.PoolAddress, Program: chain.PoolProgramAMM, TokenIn: req.TokenIn, TokenOut: req.TokenOut},
		TokenIn:        req.TokenIn,
		TokenOut:       req.TokenOut,
		AmountIn:       amountIn,
		AmountOut:      amountOut,
		Price:          price,
		PriceImpactPct: &impact,
	}, nil
}

var selectorSlot0 = common.FromHex("0x3850c7bd") // slot0() on a Uniswap V3 style pool

// computeRouteCLMM prices the trade against the pool's current sqrtPriceX96
// tick price instead of reserves. It is a spot-price approximation: unlike
// computeRouteAMM it does not walk the pool's liquidity across ticks, so
// PriceImpactPct is left unset rather than reporting a number the builder
// can't actually back.
func (b *RouteBuilder) computeRouteCLMM(ctx context.Context, req chain.RouteRequest) (chain.RoutePayload, error) {
	raw, err := b.call(ctx, req.PoolAddress, selectorSlot0)
	if err != nil {
		return chain.RoutePayload{}, fmt.Errorf("eth_call slot0: %w", err)
	}
	if len(raw) < 32 {
		return chain.RoutePayload{}, fmt.Errorf("malformed slot0 response for pool %s", req.PoolAddress)
	}
	sqrtPriceX96 := new(uint256.Int).SetBytes(raw[:32])
	if sqrtPriceX96.IsZero() {
		return chain.RoutePayload{}, fmt.Errorf("pool %s has no liquidity", req.PoolAddress)
	}

	token0Raw, err := b.call(ctx, req.PoolAddress, selectorToken0)
	if err != nil {
		return chain.RoutePayload{}, fmt.Errorf("eth_call token0: %w", err)
	}
	token0 := common.BytesToAddress(token0Raw)

	price1Per0 := sqrtPriceX96ToPrice(sqrtPriceX96)
	forwardPrice := price1Per0
	if common.HexToAddress(req.TokenIn) != token0 {
		forwardPrice = new(big.Float).Quo(big.NewFloat(1), price1Per0)
	}
	feeAdj := new(big.Float).Quo(new(big.Float).SetInt(b.feeNumerator.ToBig()), new(big.Float).SetInt(b.feeDenominator.ToBig()))

	var amountIn, amountOut *uint256.Int
	switch req.Side {
	case chain.SideExactIn:
		amountIn = req.Amount
		out := new(big.Float).Mul(new(big.Float).SetInt(amountIn.ToBig()), forwardPrice)
		out.Mul(out, feeAdj)
		outInt, _ := out.Int(nil)
		var overflow bool
		amountOut, overflow = uint256.FromBig(outInt)
		if overflow {
			return chain.RoutePayload{}, fmt.Errorf("computed output overflows uint256")
		}
	case chain.SideExactOut:
		amountOut = req.Amount
		in := new(big.Float).Quo(new(big.Float).SetInt(amountOut.ToBig()), forwardPrice)
		in.Quo(in, feeAdj)
		inInt, _ := in.Int(nil)
		var overflow bool
		amountIn, overflow = uint256.FromBig(inInt)
		if overflow {
			return chain.RoutePayload{}, fmt.Errorf("computed input overflows uint256")
		}
	default:
		return chain.RoutePayload{}, fmt.Errorf("unsupported side %q", req.Side)
	}

	price, _ := forwardPrice.Float64()
	return chain.RoutePayload{
		Pool:      chain.PoolInfo{Address: req.PoolAddress, Program: chain.PoolProgramCLMM, TokenIn: req.TokenIn, TokenOut: req.TokenOut},
		TokenIn:   req.TokenIn,
		TokenOut:  req.TokenOut,
		AmountIn:  amountIn,
		AmountOut: amountOut,
		Price:     price,
	}, nil
}

// sqrtPriceX96ToPrice converts a Uniswap V3 style slot0 sqrtPriceX96 into
// the token1-per-token0 spot price: (sqrtPriceX96 / 2^96)^2.
func sqrtPriceX96ToPrice(sqrtPriceX96 *uint256.Int) *big.Float {
	ratio := new(big.Float).Quo(new(big.Float).SetInt(sqrtPriceX96.ToBig()), q96Float)
	return new(big.Float).Mul(ratio, ratio)
}

var q96Float = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))

// orderedReserves fetches the pair's reserves and returns them in
// (tokenIn, tokenOut) order regardless of the pair's internal token0/token1
// ordering.
func (b *RouteBuilder) orderedReserves(ctx context.Context, pool, tokenIn string) (in, out *uint256.Int, err error) {
	raw, err := b.call(ctx, pool, selectorGetReserves)
	if err != nil {
		return nil, nil, fmt.Errorf("eth_call getReserves: %w", err)
	}
	if len(raw) < 64 {
		return nil, nil, fmt.Errorf("malformed getReserves response for pool %s", pool)
	}
	reserve0 := new(uint256.Int).SetBytes(raw[:32])
	reserve1 := new(uint256.Int).SetBytes(raw[32:64])

	token0Raw, err := b.call(ctx, pool, selectorToken0)
	if err != nil {
		return nil, nil, fmt.Errorf("eth_call token0: %w", err)
	}
	token0 := common.BytesToAddress(token0Raw)
	if common.HexToAddress(tokenIn) == token0 {
		return reserve0, reserve1, nil
	}
	return reserve1, reserve0, nil
}

// amountOut applies the constant-product formula with the pool fee already
// deducted from the input leg: dy = (dx * fee * y) / (x * feeDenom + dx * fee).
func (b *RouteBuilder) amountOut(amountIn, reserveIn, reserveOut *uint256.Int) *uint256.Int {
	amountInWithFee := new(uint256.Int).Mul(amountIn, b.feeNumerator)
	numerator := new(uint256.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(uint256.Int).Mul(reserveIn, b.feeDenominator)
	denominator.Add(denominator, amountInWithFee)
	if denominator.IsZero() {
		return uint256.NewInt(0)
	}
	return numerator.Div(numerator, denominator)
}

// amountIn inverts the constant-product formula for an exact-output trade:
// dx = (x * dy * feeDenom) / ((y - dy) * fee) + 1, rounding up so the pool
// is never short-changed.
func (b *RouteBuilder) amountIn(amountOut, reserveIn, reserveOut *uint256.Int) (*uint256.Int, error) {
	if amountOut.Cmp(reserveOut) >= 0 {
		return nil, fmt.Errorf("requested output exceeds pool reserves")
	}
	numerator := new(uint256.Int).Mul(reserveIn, amountOut)
	numerator.Mul(numerator, b.feeDenominator)
	denominator := new(uint256.Int).Sub(reserveOut, amountOut)
	denominator.Mul(denominator, b.feeNumerator)
	if denominator.IsZero() {
		return nil, fmt.Errorf("degenerate pool reserves")
	}
	quotient := new(uint256.Int).Div(numerator, denominator)
	remainder := new(uint256.Int).Mod(numerator, denominator)
	if !remainder.IsZero() {
		quotient.AddUint64(quotient, 1)
	}
	return quotient, nil
}

func (b *RouteBuilder) priceImpactPct(amountIn, reserveIn, reserveOut *uint256.Int) float64 {
	if reserveIn.IsZero() {
		return 0
	}
	spot, _ := new(big.Float).Quo(new(big.Float).SetInt(reserveOut.ToBig()), new(big.Float).SetInt(reserveIn.ToBig())).Float64()
	effective, _ := new(big.Float).Quo(
		new(big.Float).SetInt(b.amountOut(amountIn, reserveIn, reserveOut).ToBig()),
		new(big.Float).SetInt(amountIn.ToBig()),
	).Float64()
	if spot == 0 {
		return 0
	}
	impact := (spot - effective) / spot * 100
	if impact < 0 {
		impact = 0
	}
	return impact
}

var (
	selectorSwapExactTokensForTokens = common.FromHex("0x38ed1739")
	selectorSwapTokensForExactTokens = common.FromHex("0x8803dbee")
	selectorApprove                  = common.FromHex("0x095ea7b3")
	selectorWETHDeposit              = common.FromHex("0xd0e30db0")
	selectorWETHWithdraw             = common.FromHex("0x2e1a7d4d")
)

// BuildSwap encodes a call into the configured router contract. Exactly one
// of minAmountOut/maxAmountIn is non-nil, selecting the exact-in or
// exact-out router entrypoint.
func (b *RouteBuilder) BuildSwap(ctx context.Context, route chain.RoutePayload, minAmountOut, maxAmountIn *uint256.Int, wallet string, gas chain.GasParams, nonce *uint64, blockhash string) (chain.UnsignedTx, error) {
	path := encodeAddressArray([]string{route.TokenIn, route.TokenOut})
	deadline := leftPad32(uint256.NewInt(9_999_999_999).Bytes())

	var data []byte
	switch {
	case minAmountOut != nil:
		data = append(append([]byte{}, selectorSwapExactTokensForTokens...), leftPad32(route.AmountIn.Bytes())...)
		data = append(data, leftPad32(minAmountOut.Bytes())...)
		data = append(data, encodeDynamicOffset(4)...)
		data = append(data, leftPad32(common.HexToAddress(wallet).Bytes())...)
		data = append(data, deadline...)
		data = append(data, path...)
	case maxAmountIn != nil:
		data = append(append([]byte{}, selectorSwapTokensForExactTokens...), leftPad32(route.AmountOut.Bytes())...)
		data = append(data, leftPad32(maxAmountIn.Bytes())...)
		data = append(data, encodeDynamicOffset(4)...)
		data = append(data, leftPad32(common.HexToAddress(wallet).Bytes())...)
		data = append(data, deadline...)
		data = append(data, path...)
	default:
		return chain.UnsignedTx{}, fmt.Errorf("neither minAmountOut nor maxAmountIn was supplied")
	}

	return chain.UnsignedTx{
		Family: chain.FamilyAccountNonce,
		Nonce:  nonce,
		To:     b.routerAddress,
		Data:   data,
		Value:  uint256.NewInt(0),
		Gas:    gas,
	}, nil
}

// BuildApprove encodes an ERC20 approve(spender, amount) call against the
// input token contract.
func (b *RouteBuilder) BuildApprove(ctx context.Context, owner, spender, token string, amount *uint256.Int, gas chain.GasParams, nonce *uint64, blockhash string) (chain.UnsignedTx, error) {
	data := append(append([]byte{}, selectorApprove...), leftPad32(common.HexToAddress(spender).Bytes())...)
	data = append(data, leftPad32(amount.Bytes())...)
	return chain.UnsignedTx{
		Family: chain.FamilyAccountNonce,
		Nonce:  nonce,
		To:     token,
		Data:   data,
		Value:  uint256.NewInt(0),
		Gas:    gas,
	}, nil
}

// BuildWrap encodes a WETH-style deposit() (native -> wrapped) or
// withdraw(uint256) (wrapped -> native) call.
func (b *RouteBuilder) BuildWrap(ctx context.Context, wallet, token string, amount *uint256.Int, unwrap bool, gas chain.GasParams, nonce *uint64, blockhash string) (chain.UnsignedTx, error) {
	if unwrap {
		data := append(append([]byte{}, selectorWETHWithdraw...), leftPad32(amount.Bytes())...)
		return chain.UnsignedTx{Family: chain.FamilyAccountNonce, Nonce: nonce, To: token, Data: data, Value: uint256.NewInt(0), Gas: gas}, nil
	}
	return chain.UnsignedTx{Family: chain.FamilyAccountNonce, Nonce: nonce, To: token, Data: append([]byte{}, selectorWETHDeposit...), Value: amount, Gas: gas}, nil
}

func encodeAddressArray(addrs []string) []byte {
	out := leftPad32(uint256.NewInt(uint64(len(addrs))).Bytes())
	for _, a := range addrs {
		out = append(out, leftPad32(common.HexToAddress(a).Bytes())...)
	}
	return out
}

// encodeDynamicOffset returns the ABI head-word offset (in bytes, from the
// start of the argument list) to the dynamic path array that follows the
// fixed-size arguments preceding it.
func encodeDynamicOffset(precedingWords int) []byte {
	offset := uint256.NewInt(uint64((precedingWords + 1) * 32))
	return leftPad32(offset.Bytes())
}
