package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client is a thin, rate-limited wrapper over the node's JSON-RPC endpoint.
// Subscriptions live with their consumer (the mempool stage owns its
// WebSocket); this client covers the request/response side.
type Client struct {
	ethClient   *ethclient.Client
	rpcURL      string
	rateLimiter *time.Ticker
}

// FeeData carries the node's current gas-price hints.
type FeeData struct {
	GasPrice  *big.Int
	GasTipCap *big.Int
}

func NewClient(rpcURL string) (*Client, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}

	return &Client{
		ethClient:   client,
		rpcURL:      rpcURL,
		rateLimiter: time.NewTicker(100 * time.Millisecond), // 10 requests per second
	}, nil
}

func (c *Client) Close() {
	c.ethClient.Close()
	c.rateLimiter.Stop()
}

func (c *Client) rateLimit() {
	<-c.rateLimiter.C
}

// CallContract executes a read-only contract call.
func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	c.rateLimit()

	msg := ethereum.CallMsg{
		To:   &to,
		Data: data,
	}

	result, err := c.ethClient.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("contract call failed: %w", err)
	}

	return result, nil
}

// BlockNumber returns the current head block.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.ethClient.BlockNumber(ctx)
}

// ChainID returns the node's chain id.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.ethClient.ChainID(ctx)
}

// TransactionByHash fetches a transaction by hash. Missing transactions
// (propagation races) surface as an error from the underlying client.
func (c *Client) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	return c.ethClient.TransactionByHash(ctx, hash)
}

// SuggestFeeData returns the node's current gas-price hints. A failed gas-price
// query returns an error; GasTipCap is nil when the node declines to answer.
func (c *Client) SuggestFeeData(ctx context.Context) (*FeeData, error) {
	gasPrice, err := c.ethClient.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	tip, err := c.ethClient.SuggestGasTipCap(ctx)
	if err != nil {
		// Legacy-only nodes answer gas price but not tip cap.
		tip = nil
	}
	return &FeeData{GasPrice: gasPrice, GasTipCap: tip}, nil
}

// Sender recovers a transaction's from address using the signer matching its
// type.
func Sender(tx *types.Transaction) (common.Address, error) {
	chainID := tx.ChainId()
	signer := types.LatestSignerForChainID(chainID)
	return types.Sender(signer, tx)
}
