package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

var (
	ErrNoEndpoint     = errors.New("no healthy rpc endpoint")
	ErrInvalidAddress = errors.New("invalid address")
)

// Client is a checked connection to one RPC endpoint.
type Client struct {
	url     string
	eth     *ethclient.Client
	timeout time.Duration
	chainID *big.Int
}

// Dial connects to url and confirms it answers eth_chainId.
func Dial(ctx context.Context, url string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	eth, err := ethclient.DialContext(dialCtx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Client{url: url, eth: eth, timeout: timeout}
	id, err := eth.ChainID(dialCtx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("check %s: %w", url, err)
	}
	c.chainID = id
	return c, nil
}

// Connect tries each url in order and returns the first healthy client.
func Connect(ctx context.Context, urls []string, timeout time.Duration, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: none configured", ErrNoEndpoint)
	}
	var lastErr error
	for _, url := range urls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := Dial(ctx, url, timeout)
		if err != nil {
			log.Warn("rpc endpoint unhealthy", zap.String("url", url), zap.Error(err))
			lastErr = err
			continue
		}
		log.Info("rpc connected", zap.String("url", url), zap.String("chain_id", c.chainID.String()))
		return c, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrNoEndpoint, lastErr)
}

func (c *Client) URL() string {
	return c.url
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	if c.chainID != nil {
		return new(big.Int).Set(c.chainID), nil
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	id, err := c.eth.ChainID(callCtx)
	if err != nil {
		return nil, err
	}
	c.chainID = id
	return new(big.Int).Set(id), nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.eth.BlockNumber(callCtx)
}

// Balance returns the latest balance of address in wei.
func (c *Client) Balance(ctx context.Context, address string) (*big.Int, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.eth.BalanceAt(callCtx, addr, nil)
}

func (c *Client) Close() {
	c.eth.Close()
}

func ParseAddress(address string) (common.Address, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return common.HexToAddress(address), nil
}

// WeiToNative converts wei to whole coins.
func WeiToNative(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f := new(big.Float).SetInt(wei)
	f.Quo(f, big.NewFloat(1e18))
	out, _ := f.Float64()
	return out
}

// GweiToWei converts a gwei amount to wei.
func GweiToWei(gwei float64) *big.Int {
	if gwei <= 0 {
		return big.NewInt(0)
	}
	f := new(big.Float).Mul(big.NewFloat(gwei), big.NewFloat(1e9))
	wei, _ := f.Int(nil)
	return wei
}
