package opensea

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"nft-sniper-bot/internal/chain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
)

// TxSender signs and broadcasts a transaction request.
type TxSender interface {
	SendTx(ctx context.Context, signer *chain.Signer, req chain.TxRequest, limits chain.GasLimits) (string, error)
}

// Buyer fills the cheapest listing for a token in one transaction.
type Buyer struct {
	client *Client
	sender TxSender
	signer *chain.Signer
	limits chain.GasLimits
	chain  string
	log    *zap.Logger
}

func NewBuyer(client *Client, sender TxSender, signer *chain.Signer, limits chain.GasLimits, chainName string, log *zap.Logger) *Buyer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Buyer{client: client, sender: sender, signer: signer, limits: limits, chain: chainName, log: log}
}

func (b *Buyer) Buy(ctx context.Context, contract, tokenID string) (string, error) {
	listing, err := b.client.BestListing(ctx, contract, tokenID)
	if err != nil {
		return "", err
	}
	taker := b.signer.Address().Hex()
	fd, err := b.client.FulfillmentData(ctx, listing, b.chain, taker)
	if err != nil {
		return "", err
	}
	req, err := ParseFulfillmentTx(fd)
	if err != nil {
		return "", err
	}
	hash, err := b.sender.SendTx(ctx, b.signer, req, b.limits)
	if err != nil {
		return "", err
	}
	b.log.Info("purchase broadcast", zap.String("contract", contract), zap.String("token_id", tokenID), zap.String("tx", hash))
	return hash, nil
}

// ParseFulfillmentTx extracts the call from a fulfillment response. The
// transaction may sit at the top level or under fulfillment_data.
func ParseFulfillmentTx(fd map[string]any) (chain.TxRequest, error) {
	tx, ok := fd["transaction"].(map[string]any)
	if !ok {
		if nested, ok := fd["fulfillment_data"].(map[string]any); ok {
			tx, _ = nested["transaction"].(map[string]any)
		}
	}
	if tx == nil {
		return chain.TxRequest{}, fmt.Errorf("%w: missing transaction", ErrMalformedFulfillment)
	}
	to, _ := tx["to"].(string)
	if !common.IsHexAddress(to) {
		return chain.TxRequest{}, fmt.Errorf("%w: missing to", ErrMalformedFulfillment)
	}
	rawData, _ := tx["data"].(string)
	if rawData == "" {
		rawData, _ = tx["input"].(string)
	}
	if rawData == "" {
		return chain.TxRequest{}, fmt.Errorf("%w: missing data", ErrMalformedFulfillment)
	}
	data, err := hexutil.Decode(rawData)
	if err != nil {
		return chain.TxRequest{}, fmt.Errorf("%w: data: %v", ErrMalformedFulfillment, err)
	}
	value, err := bigFromAny(tx["value"])
	if err != nil {
		return chain.TxRequest{}, fmt.Errorf("%w: value: %v", ErrMalformedFulfillment, err)
	}
	gas, err := bigFromAny(tx["gas"])
	if err != nil || !gas.IsUint64() {
		gas = big.NewInt(0)
	}
	return chain.TxRequest{
		To:    common.HexToAddress(to),
		Data:  data,
		Value: value,
		Gas:   gas.Uint64(),
	}, nil
}

func bigFromAny(v any) (*big.Int, error) {
	switch val := v.(type) {
	case nil:
		return big.NewInt(0), nil
	case float64:
		if val < 0 {
			return nil, fmt.Errorf("negative amount %v", val)
		}
		out, _ := new(big.Float).SetFloat64(val).Int(nil)
		return out, nil
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return big.NewInt(0), nil
		}
		out, ok := new(big.Int).SetString(s, 0)
		if !ok || out.Sign() < 0 {
			return nil, fmt.Errorf("invalid amount %q", val)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported amount type %T", v)
	}
}
