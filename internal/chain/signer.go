package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultGasLimitCap bounds the gas of any purchase transaction.
const DefaultGasLimitCap uint64 = 500000

var ErrBroadcast = errors.New("transaction broadcast failed")

type Signer struct {
	privKey *ecdsa.PrivateKey
	address common.Address
}

func NewSigner(hexKey string) (*Signer, error) {
	clean := strings.TrimSpace(hexKey)
	if clean == "" {
		return nil, errors.New("private key is required")
	}
	clean = strings.TrimPrefix(clean, "0x")
	key, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, err
	}
	return &Signer{privKey: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (s *Signer) Address() common.Address {
	return s.address
}

// AddressFromKey derives the checksummed address for a hex private key.
func AddressFromKey(hexKey string) (string, error) {
	s, err := NewSigner(hexKey)
	if err != nil {
		return "", err
	}
	return s.address.Hex(), nil
}

type GasLimits struct {
	MaxFeeGwei   float64
	PriorityGwei float64
	GasLimitCap  uint64
}

// TxRequest is an unsigned call produced by a marketplace.
type TxRequest struct {
	To    common.Address
	Data  []byte
	Value *big.Int
	Gas   uint64
}

// BuildDynamicFeeTx assembles an EIP-1559 transaction. Gas is the
// request's gas or the cap, whichever is lower.
func BuildDynamicFeeTx(chainID *big.Int, nonce uint64, req TxRequest, limits GasLimits) *types.Transaction {
	gasCap := limits.GasLimitCap
	if gasCap == 0 {
		gasCap = DefaultGasLimitCap
	}
	gas := req.Gas
	if gas == 0 || gas > gasCap {
		gas = gasCap
	}
	value := req.Value
	if value == nil {
		value = big.NewInt(0)
	}
	to := req.To
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: GweiToWei(limits.PriorityGwei),
		GasFeeCap: GweiToWei(limits.MaxFeeGwei),
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      req.Data,
	})
}

func (s *Signer) Sign(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.privKey)
}

// SendTx signs req with the signer's pending nonce and broadcasts it.
func (c *Client) SendTx(ctx context.Context, signer *Signer, req TxRequest, limits GasLimits) (string, error) {
	chainID, err := c.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("chain id: %w", err)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	nonce, err := c.eth.PendingNonceAt(callCtx, signer.Address())
	if err != nil {
		return "", fmt.Errorf("pending nonce: %w", err)
	}
	signed, err := signer.Sign(BuildDynamicFeeTx(chainID, nonce, req, limits), chainID)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}
	if err := c.eth.SendTransaction(callCtx, signed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBroadcast, err)
	}
	return signed.Hash().Hex(), nil
}
