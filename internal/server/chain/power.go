package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

const erc20BalanceABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"stateMutability":"view","type":"function"}]`

var ErrUnavailable = errors.New("chain unavailable")

// Backend is the subset of an EVM JSON-RPC client the oracle needs
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Client reads ERC-20 balances pinned to a block and the chain head
type Client struct {
	backend Backend
	erc20   abi.ABI
	closer  func()
}

// Dial connects to an archive node; historical balances need archive state
func Dial(ctx context.Context, rpcURL string) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc: %w", err)
	}
	c, err := NewClient(ec)
	if err != nil {
		ec.Close()
		return nil, err
	}
	c.closer = ec.Close
	return c, nil
}

func NewClient(backend Backend) (*Client, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20BalanceABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse erc20 abi: %w", err)
	}
	return &Client{backend: backend, erc20: parsed}, nil
}

// BalanceAt returns the token balance of address at block, scaled down by decimals
func (c *Client) BalanceAt(ctx context.Context, address, token string, decimals int, block uint64) (decimal.Decimal, error) {
	data, err := c.erc20.Pack("balanceOf", common.HexToAddress(address))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to encode balanceOf: %w", err)
	}

	tokenAddr := common.HexToAddress(token)
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: data}, new(big.Int).SetUint64(block))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: balanceOf call: %v", ErrUnavailable, err)
	}

	out, err := c.erc20.Unpack("balanceOf", raw)
	if err != nil || len(out) != 1 {
		return decimal.Zero, fmt.Errorf("%w: malformed balanceOf result from %s", ErrUnavailable, token)
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: unexpected balanceOf type %T", ErrUnavailable, out[0])
	}

	return decimal.NewFromBigInt(balance, -int32(decimals)), nil
}

// BlockNumber returns the current chain head
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: block number: %v", ErrUnavailable, err)
	}
	return n, nil
}

func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}
