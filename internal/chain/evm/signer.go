package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"swapgateway/internal/chain"
)

// SoftwareSigner signs account-nonce family transactions with an in-memory
// private key, the same primitives services/swap-gateway/voucher.go uses
// for voucher signing (ethcrypto.Sign / SigToPub).
type SoftwareSigner struct {
	key     *ecdsa.PrivateKey
	chainID *big.Int
}

// NewSoftwareSigner loads a hex-encoded ECDSA private key.
func NewSoftwareSigner(hexKey string, chainID *big.Int) (*SoftwareSigner, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	return &SoftwareSigner{key: key, chainID: chainID}, nil
}

// NewSoftwareSignerFromKeystore loads an Ethereum v3 keystore file, the
// same on-disk format crypto/keystore.go loads via
// go-ethereum/accounts/keystore, instead of taking a raw hex key from the
// environment.
func NewSoftwareSignerFromKeystore(path, passphrase string, chainID *big.Int) (*SoftwareSigner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keystore file: %w", err)
	}
	key, err := keystore.DecryptKey(data, passphrase)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore file: %w", err)
	}
	return &SoftwareSigner{key: key.PrivateKey, chainID: chainID}, nil
}

func (s *SoftwareSigner) Family() chain.Family { return chain.FamilyAccountNonce }

func (s *SoftwareSigner) IsHardware() bool { return false }

func (s *SoftwareSigner) Sign(ctx context.Context, tx chain.UnsignedTx, address string) (chain.SignedTx, error) {
	if tx.Nonce == nil {
		return chain.SignedTx{}, fmt.Errorf("account-nonce family transaction missing nonce")
	}
	var to *common.Address
	if tx.To != "" {
		addr := common.HexToAddress(tx.To)
		to = &addr
	}
	legacy := &types.LegacyTx{
		Nonce:    *tx.Nonce,
		To:       to,
		Value:    uint256ToBig(tx.Value),
		Gas:      tx.Gas.GasLimit,
		GasPrice: uint256ToBig(tx.Gas.MaxFeePerUnit),
		Data:     tx.Data,
	}
	signer := types.NewEIP155Signer(s.chainID)
	signed, err := types.SignTx(types.NewTx(legacy), signer, s.key)
	if err != nil {
		return chain.SignedTx{}, fmt.Errorf("sign transaction: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return chain.SignedTx{}, fmt.Errorf("encode signed transaction: %w", err)
	}
	return chain.SignedTx{Family: chain.FamilyAccountNonce, Raw: raw}, nil
}

func uint256ToBig(v *uint256.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v.ToBig()
}
