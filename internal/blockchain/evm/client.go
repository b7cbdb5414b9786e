package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"tasknode/internal/config"
)

// Client wraps Ethereum client functionality for one target network
type Client struct {
	ethClient   *ethclient.Client
	network     config.NetworkConfig
	privateKey  *ecdsa.PrivateKey
	fromAddress common.Address
	logger      *zap.Logger
}

// NewClient dials the network RPC endpoint. Without a private key the
// client is read-only.
func NewClient(netCfg config.NetworkConfig, logger *zap.Logger) (*Client, error) {
	ethClient, err := ethclient.Dial(netCfg.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint %s: %w", netCfg.RPCEndpoint, err)
	}

	c := &Client{
		ethClient: ethClient,
		network:   netCfg,
		logger:    logger,
	}

	if netCfg.PrivateKey != "" {
		privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(netCfg.PrivateKey, "0x"))
		if err != nil {
			ethClient.Close()
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		c.privateKey = privateKey
		c.fromAddress = crypto.PubkeyToAddress(privateKey.PublicKey)
	}

	logger.Info("EVM client initialized",
		zap.Uint16("network", uint16(netCfg.ID)),
		zap.String("name", netCfg.Name),
		zap.String("operator_address", c.fromAddress.Hex()))

	return c, nil
}

// Close closes the underlying RPC connection
func (c *Client) Close() {
	c.ethClient.Close()
}

// BlockNumber returns the latest block height
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.ethClient.BlockNumber(ctx)
}

// CallContract executes a view call at the given height
func (c *Client) CallContract(ctx context.Context, to common.Address, input []byte, height uint64) ([]byte, error) {
	out, err := c.ethClient.CallContract(ctx, ethereum.CallMsg{
		To:   &to,
		Data: input,
	}, new(big.Int).SetUint64(height))
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", to.Hex(), err)
	}
	return out, nil
}

// Simulate dry-runs a transaction from the operator address against the
// latest state
func (c *Client) Simulate(ctx context.Context, to common.Address, data []byte) error {
	_, err := c.ethClient.CallContract(ctx, ethereum.CallMsg{
		From: c.fromAddress,
		To:   &to,
		Data: data,
	}, nil)
	return err
}

// GetTransactionReceipt gets the receipt for a transaction
func (c *Client) GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return c.ethClient.TransactionReceipt(ctx, txHash)
}

// FilterLogs returns the logs of address matching topic0 within [from, to]
func (c *Client) FilterLogs(ctx context.Context, address common.Address, topic0 common.Hash, from, to uint64) ([]types.Log, error) {
	logs, err := c.ethClient.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{address},
		Topics:    [][]common.Hash{{topic0}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to filter logs %d..%d: %w", from, to, err)
	}
	return logs, nil
}

// SignAndSendTransaction creates, signs, and sends a transaction. A nil
// destination creates a contract.
func (c *Client) SignAndSendTransaction(
	ctx context.Context,
	to common.Address,
	data []byte,
	value *big.Int,
) (common.Hash, error) {
	if c.privateKey == nil {
		return common.Hash{}, fmt.Errorf("no private key configured for network %d", c.network.ID)
	}

	chainID, err := c.ethClient.ChainID(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get chain ID: %w", err)
	}

	nonce, err := c.ethClient.PendingNonceAt(ctx, c.fromAddress)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := c.ethClient.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to suggest gas price: %w", err)
	}

	gasLimit, err := c.ethClient.EstimateGas(ctx, ethereum.CallMsg{
		From:  c.fromAddress,
		To:    &to,
		Data:  data,
		Value: value,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to estimate gas: %w", err)
	}

	// Add 20% buffer
	gasLimit = gasLimit * 120 / 100

	tx := types.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(chainID), c.privateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.ethClient.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	c.logger.Info("Transaction sent",
		zap.String("tx_hash", signedTx.Hash().Hex()),
		zap.String("to", to.Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas_limit", gasLimit))

	return signedTx.Hash(), nil
}
