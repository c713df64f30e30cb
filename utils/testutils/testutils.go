package testutils

import (
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

var ChainID = big.NewInt(1)

// NewKey generates a throwaway private key.
func NewKey(t *testing.T) *ecdsa.PrivateKey {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

// SignedTx builds and signs a dynamic-fee transaction.
func SignedTx(t *testing.T, key *ecdsa.PrivateKey, nonce uint64, to common.Address, value *big.Int, data []byte) *types.Transaction {
	if value == nil {
		value = big.NewInt(0)
	}
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   ChainID,
		Nonce:     nonce,
		GasTipCap: big.NewInt(1e9),
		GasFeeCap: big.NewInt(50e9),
		Gas:       200000,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(ChainID), key)
	require.NoError(t, err)
	return signed
}

// Header returns a head with the given number and base fee in wei.
func Header(number uint64, baseFee int64) *types.Header {
	return &types.Header{
		Number:  new(big.Int).SetUint64(number),
		BaseFee: big.NewInt(baseFee),
		Time:    1700000000 + number*12,
	}
}

// Ether converts whole units to wei.
func Ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}
