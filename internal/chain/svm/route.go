package svm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"swapgateway/internal/chain"
)

// RouteBuilder is the reference signature-hash family chain.RouteBuilder. It
// prices AMM trades against a constant-product pool account and CLMM trades
// against a Whirlpool-style sqrtPriceX64 account (req.Program selects
// which), and builds raw instruction data for a matching swap program.
// Solana instruction encoding is little-endian and program-specific; since
// no client SDK for this family exists anywhere in the example pack,
// instructions are assembled by hand the same way svm.Adapter speaks
// JSON-RPC by hand.
type RouteBuilder struct {
	rpc       *Adapter
	programID string
	feeBps    uint64 // pool fee in basis points, e.g. 30 for 0.3%
}

// NewRouteBuilder builds a RouteBuilder against a live adapter and the swap
// program's address.
func NewRouteBuilder(rpc *Adapter, programID string, feeBps uint64) *RouteBuilder {
	return &RouteBuilder{rpc: rpc, programID: programID, feeBps: feeBps}
}

// poolReserves holds the two reserves fetchReserves reads from a pool
// account's data, assumed to be two little-endian u64 values following an
// 8-byte discriminator, the common shape for account-based AMM pools on
// this family.
type poolReserves struct {
	ReserveIn  uint64
	ReserveOut uint64
}

func (b *RouteBuilder) fetchReserves(ctx context.Context, pool string) (poolReserves, error) {
	var result struct {
		Value struct {
			Data []string `json:"data"`
		} `json:"value"`
	}
	if err := b.rpc.call(ctx, "getAccountInfo", []any{pool, map[string]any{"encoding": "base64"}}, &result); err != nil {
		return poolReserves{}, fmt.Errorf("getAccountInfo: %w", err)
	}
	if len(result.Value.Data) == 0 {
		return poolReserves{}, fmt.Errorf("pool account %s not found", pool)
	}
	raw, err := base64.StdEncoding.DecodeString(result.Value.Data[0])
	if err != nil {
		return poolReserves{}, fmt.Errorf("decode pool account data: %w", err)
	}
	if len(raw) < 24 {
		return poolReserves{}, fmt.Errorf("pool account %s data too short", pool)
	}
	return poolReserves{
		ReserveIn:  binary.LittleEndian.Uint64(raw[8:16]),
		ReserveOut: binary.LittleEndian.Uint64(raw[16:24]),
	}, nil
}

// poolDiscriminatorLen is the length of the 8-byte account discriminator
// every pool account (AMM or CLMM) is tagged with, Anchor-style.
const poolDiscriminatorLen = 8

// clmmPoolDiscriminator identifies a Whirlpool-style concentrated-liquidity
// pool account; any other account with enough data to be a pool is treated
// as the plain AMM layout fetchReserves reads.
var clmmPoolDiscriminator = [poolDiscriminatorLen]byte{0x3f, 0xa0, 0xe1, 0x6f, 0xa5, 0x8e, 0xb0, 0x22}

// detectProgram fetches the pool account once and reads its discriminator,
// used when req.Program is unset (the router-shaped connector routes never
// set it) so a router-shaped quote against a CLMM pool isn't silently
// priced as AMM.
func (b *RouteBuilder) detectProgram(ctx context.Context, pool string) (chain.PoolProgram, error) {
	var result struct {
		Value struct {
			Data []string `json:"data"`
		} `json:"value"`
	}
	if err := b.rpc.call(ctx, "getAccountInfo", []any{pool, map[string]any{"encoding": "base64"}}, &result); err != nil {
		return "", fmt.Errorf("getAccountInfo: %w", err)
	}
	if len(result.Value.Data) == 0 {
		return "", fmt.Errorf("pool account %s not found", pool)
	}
	raw, err := base64.StdEncoding.DecodeString(result.Value.Data[0])
	if err != nil {
		return "", fmt.Errorf("decode pool account data: %w", err)
	}
	if len(raw) >= poolDiscriminatorLen && bytes.Equal(raw[:poolDiscriminatorLen], clmmPoolDiscriminator[:]) {
		return chain.PoolProgramCLMM, nil
	}
	return chain.PoolProgramAMM, nil
}

func (b *RouteBuilder) ComputeRoute(ctx context.Context, req chain.RouteRequest) (chain.RoutePayload, error) {
	program := req.Program
	if program == "" {
		detected, err := b.detectProgram(ctx, req.PoolAddress)
		if err != nil {
			return chain.RoutePayload{}, err
		}
		program = detected
	}
	if program == chain.PoolProgramCLMM {
		return b.computeRouteCLMM(ctx, req)
	}
	reserves, err := b.fetchReserves(ctx, req.PoolAddress)
	if err != nil {
		return chain.RoutePayload{}, err
	}
	reserveIn := uint256.NewInt(reserves.ReserveIn)
	reserveOut := uint256.NewInt(reserves.ReserveOut)
	if reserveIn.IsZero() || reserveOut.IsZero() {
		return chain.RoutePayload{}, fmt.Errorf("pool %s has no liquidity", req.PoolAddress)
	}

	feeNumerator := uint256.NewInt(10_000 - b.feeBps)
	feeDenominator := uint256.NewInt(10_000)

	var amountIn, amountOut *uint256.Int
	switch req.Side {
	case chain.SideExactIn:
		amountIn = req.Amount
		amountOut = ammOut(amountIn, reserveIn, reserveOut, feeNumerator, feeDenominator)
	case chain.SideExactOut:
		amountOut = req.Amount
		if amountOut.Cmp(reserveOut) >= 0 {
			return chain.RoutePayload{}, fmt.Errorf("requested output exceeds pool reserves")
		}
		numerator := new(uint256.Int).Mul(reserveIn, amountOut)
		numerator.Mul(numerator, feeDenominator)
		denominator := new(uint256.Int).Sub(reserveOut, amountOut)
		denominator.Mul(denominator, feeNumerator)
		if denominator.IsZero() {
			return chain.RoutePayload{}, fmt.Errorf("degenerate pool reserves")
		}
		amountIn = new(uint256.Int).Div(numerator, denominator)
		if rem := new(uint256.Int).Mod(numerator, denominator); !rem.IsZero() {
			amountIn.AddUint64(amountIn, 1)
		}
	default:
		return chain.RoutePayload{}, fmt.Errorf("unsupported side %q", req.Side)
	}

	price := 0.0
	if !amountIn.IsZero() {
		price = float64(amountOut.Uint64()) / float64(amountIn.Uint64())
	}

	return chain.RoutePayload{
		Pool:      chain.PoolInfo{Address: req.PoolAddress, Program: chain.PoolProgramAMM, TokenIn: req.TokenIn, TokenOut: req.TokenOut},
		TokenIn:   req.TokenIn,
		TokenOut:  req.TokenOut,
		AmountIn:  amountIn,
		AmountOut: amountOut,
		Price:     price,
	}, nil
}

// fetchSqrtPrice reads a Whirlpool-style concentrated-liquidity pool
// account's current price: a 16-byte little-endian sqrtPriceX64 field
// following the 8-byte discriminator, the CLMM counterpart of
// fetchReserves' two-u64 AMM layout.
func (b *RouteBuilder) fetchSqrtPrice(ctx context.Context, pool string) (*big.Int, error) {
	var result struct {
		Value struct {
			Data []string `json:"data"`
		} `json:"value"`
	}
	if err := b.rpc.call(ctx, "getAccountInfo", []any{pool, map[string]any{"encoding": "base64"}}, &result); err != nil {
		return nil, fmt.Errorf("getAccountInfo: %w", err)
	}
	if len(result.Value.Data) == 0 {
		return nil, fmt.Errorf("pool account %s not found", pool)
	}
	raw, err := base64.StdEncoding.DecodeString(result.Value.Data[0])
	if err != nil {
		return nil, fmt.Errorf("decode pool account data: %w", err)
	}
	if len(raw) < 24 {
		return nil, fmt.Errorf("pool account %s data too short", pool)
	}
	lo := binary.LittleEndian.Uint64(raw[8:16])
	hi := binary.LittleEndian.Uint64(raw[16:24])
	sqrtPriceX64 := new(big.Int).Lsh(new(big.Int).SetUint64(hi), 64)
	sqrtPriceX64.Or(sqrtPriceX64, new(big.Int).SetUint64(lo))
	return sqrtPriceX64, nil
}

var q64Float = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 64))

// computeRouteCLMM prices the trade against the pool's current sqrtPriceX64
// tick price instead of pooled reserves. Like its EVM counterpart, this is
// a spot-price approximation that doesn't walk the pool across tick
// boundaries, so PriceImpactPct is left unset.
func (b *RouteBuilder) computeRouteCLMM(ctx context.Context, req chain.RouteRequest) (chain.RoutePayload, error) {
	sqrtPriceX64, err := b.fetchSqrtPrice(ctx, req.PoolAddress)
	if err != nil {
		return chain.RoutePayload{}, err
	}
	if sqrtPriceX64.Sign() == 0 {
		return chain.RoutePayload{}, fmt.Errorf("pool %s has no liquidity", req.PoolAddress)
	}
	ratio := new(big.Float).Quo(new(big.Float).SetInt(sqrtPriceX64), q64Float)
	forwardPrice := new(big.Float).Mul(ratio, ratio)
	feeAdj := new(big.Float).Quo(big.NewFloat(float64(10_000-b.feeBps)), big.NewFloat(10_000))

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

func ammOut(amountIn, reserveIn, reserveOut, feeNumerator, feeDenominator *uint256.Int) *uint256.Int {
	amountInWithFee := new(uint256.Int).Mul(amountIn, feeNumerator)
	numerator := new(uint256.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(uint256.Int).Mul(reserveIn, feeDenominator)
	denominator.Add(denominator, amountInWithFee)
	if denominator.IsZero() {
		return uint256.NewInt(0)
	}
	return numerator.Div(numerator, denominator)
}

const (
	instructionSwap    byte = 1
	instructionApprove byte = 2
	instructionWrap    byte = 3
	instructionUnwrap  byte = 4
)

// BuildSwap encodes a swap instruction: 1-byte discriminator, 8-byte
// little-endian amountIn, 8-byte little-endian minAmountOut/maxAmountIn.
func (b *RouteBuilder) BuildSwap(ctx context.Context, route chain.RoutePayload, minAmountOut, maxAmountIn *uint256.Int, wallet string, gas chain.GasParams, nonce *uint64, blockhash string) (chain.UnsignedTx, error) {
	bound := minAmountOut
	if bound == nil {
		bound = maxAmountIn
	}
	if bound == nil {
		return chain.UnsignedTx{}, fmt.Errorf("neither minAmountOut nor maxAmountIn was supplied")
	}
	data := make([]byte, 17)
	data[0] = instructionSwap
	binary.LittleEndian.PutUint64(data[1:9], route.AmountIn.Uint64())
	binary.LittleEndian.PutUint64(data[9:17], bound.Uint64())
	return chain.UnsignedTx{
		Family:          chain.FamilySignatureHash,
		RecentBlockhash: blockhash,
		To:              b.programID,
		Data:            data,
		Value:           uint256.NewInt(0),
		Gas:             gas,
	}, nil
}

func (b *RouteBuilder) BuildApprove(ctx context.Context, owner, spender, token string, amount *uint256.Int, gas chain.GasParams, nonce *uint64, blockhash string) (chain.UnsignedTx, error) {
	data := make([]byte, 9)
	data[0] = instructionApprove
	binary.LittleEndian.PutUint64(data[1:9], amount.Uint64())
	return chain.UnsignedTx{
		Family:          chain.FamilySignatureHash,
		RecentBlockhash: blockhash,
		To:              token,
		Data:            data,
		Value:           uint256.NewInt(0),
		Gas:             gas,
	}, nil
}

func (b *RouteBuilder) BuildWrap(ctx context.Context, wallet, token string, amount *uint256.Int, unwrap bool, gas chain.GasParams, nonce *uint64, blockhash string) (chain.UnsignedTx, error) {
	discriminator := instructionWrap
	if unwrap {
		discriminator = instructionUnwrap
	}
	data := make([]byte, 9)
	data[0] = discriminator
	binary.LittleEndian.PutUint64(data[1:9], amount.Uint64())
	return chain.UnsignedTx{
		Family:          chain.FamilySignatureHash,
		RecentBlockhash: blockhash,
		To:              token,
		Data:            data,
		Value:           uint256.NewInt(0),
		Gas:             gas,
	}, nil
}
