package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"tasknode/internal/models"
)

var (
	ErrMissingWriteHash = errors.New("task has no write hash")
	ErrMissingGateway   = errors.New("network has no gateway")
	ErrMissingShardKey  = errors.New("shard key required for key update")
	ErrNotWriteFunction = errors.New("function has no write phase")
)

// Chain is the RPC surface the connector needs. *Client implements it.
type Chain interface {
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, to common.Address, input []byte, height uint64) ([]byte, error)
	GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	FilterLogs(ctx context.Context, address common.Address, topic0 common.Hash, from, to uint64) ([]types.Log, error)
	SignAndSendTransaction(ctx context.Context, to common.Address, data []byte, value *big.Int) (common.Hash, error)
	Simulate(ctx context.Context, to common.Address, data []byte) error
}

// Connector executes task functions against one EVM network
type Connector struct {
	network models.Network
	chain   Chain
	gateway *Gateway
	logger  *zap.Logger
}

func NewConnector(network models.Network, chain Chain, logger *zap.Logger) (*Connector, error) {
	gateway, err := NewGateway()
	if err != nil {
		return nil, err
	}
	return &Connector{
		network: network,
		chain:   chain,
		gateway: gateway,
		logger:  logger.Named("connector").With(zap.Uint16("network", uint16(network))),
	}, nil
}

func (c *Connector) Network() models.Network {
	return c.network
}

// BlockHeight returns the latest height of the target chain
func (c *Connector) BlockHeight(ctx context.Context) (uint64, error) {
	return c.chain.BlockNumber(ctx)
}

// Read produces the Read phase payload of a task. RPC failures are returned
// as errors; reverted transactions yield an error payload.
func (c *Connector) Read(ctx context.Context, req models.ReadRequest) (models.ReadOutput, error) {
	switch fn := req.Task.Function.(type) {
	case models.EvmViewCall:
		out, err := c.chain.CallContract(ctx, fn.Address, fn.Input, req.Task.Start)
		if err != nil {
			return models.ReadOutput{}, err
		}
		return models.ReadOutput{Payload: models.HashedPayload(crypto.Keccak256Hash(out)), Raw: out}, nil

	case models.EvmTxReceipt:
		return c.readReceipt(ctx, fn.Tx)

	case models.ReadMessages:
		if req.Gateway == nil {
			return models.ReadOutput{}, ErrMissingGateway
		}
		msgs, err := c.readMessages(ctx, *req.Gateway, req.Task.Start, fn.BatchSize)
		if err != nil {
			return models.ReadOutput{}, err
		}
		return models.ReadOutput{Payload: models.GmpPayload(msgs)}, nil

	default:
		if req.WriteHash == nil {
			return models.ReadOutput{}, fmt.Errorf("%w: task %d", ErrMissingWriteHash, req.Task.ID)
		}
		return c.readReceipt(ctx, *req.WriteHash)
	}
}

func (c *Connector) readReceipt(ctx context.Context, txHash common.Hash) (models.ReadOutput, error) {
	receipt, err := c.chain.GetTransactionReceipt(ctx, txHash)
	if err != nil {
		return models.ReadOutput{}, fmt.Errorf("failed to get receipt %s: %w", txHash.Hex(), err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return models.ReadOutput{Payload: models.ErrorPayload(fmt.Sprintf("transaction %s reverted", txHash.Hex()))}, nil
	}
	enc, err := receipt.MarshalBinary()
	if err != nil {
		return models.ReadOutput{}, fmt.Errorf("failed to encode receipt: %w", err)
	}
	return models.ReadOutput{Payload: models.HashedPayload(crypto.Keccak256Hash(enc)), Raw: enc}, nil
}

func (c *Connector) readMessages(ctx context.Context, gateway common.Address, start, size uint64) ([]models.GmpMessage, error) {
	if size == 0 {
		return nil, nil
	}
	logs, err := c.chain.FilterLogs(ctx, gateway, c.gateway.GmpCreatedTopic(), start, start+size-1)
	if err != nil {
		return nil, err
	}

	msgs := make([]models.GmpMessage, 0, len(logs))
	for _, log := range logs {
		if log.Removed {
			continue
		}
		msg, err := c.gateway.DecodeGmpCreated(c.network, log)
		if err != nil {
			c.logger.Warn("Skipping malformed gateway log",
				zap.String("tx_hash", log.TxHash.Hex()),
				zap.Error(err))
			continue
		}
		msgs = append(msgs, msg)
	}

	c.logger.Debug("Read gateway messages",
		zap.Uint64("from", start),
		zap.Uint64("to", start+size-1),
		zap.Int("messages", len(msgs)))
	return msgs, nil
}

// writeCall builds the transaction a Write phase broadcasts
func (c *Connector) writeCall(req models.WriteRequest) (common.Address, []byte, *big.Int, error) {
	zero := big.NewInt(0)

	switch fn := req.Task.Function.(type) {
	case models.EvmCall:
		if fn.Amount.IsNil() {
			return fn.Address, fn.Input, zero, nil
		}
		return fn.Address, fn.Input, fn.Amount.BigInt(), nil

	case models.EvmDeploy:
		salt := DeploySalt(req.Task.Network, req.Task.ID)
		return ArachnidFactoryAddress, DeployCalldata(salt, fn.Bytecode), zero, nil

	case models.SendMessage:
		if req.Gateway == nil {
			return common.Address{}, nil, nil, ErrMissingGateway
		}
		data, err := c.gateway.PackExecute(req.Signature, fn.Msg)
		return *req.Gateway, data, zero, err

	case models.RegisterShard, models.UnregisterShard:
		if req.Gateway == nil {
			return common.Address{}, nil, nil, ErrMissingGateway
		}
		if len(req.ShardKey) == 0 {
			return common.Address{}, nil, nil, ErrMissingShardKey
		}
		register, revoke := [][]byte{req.ShardKey}, [][]byte(nil)
		if _, ok := fn.(models.UnregisterShard); ok {
			register, revoke = nil, register
		}
		data, err := c.gateway.PackUpdateKeys(req.Signature, register, revoke)
		return *req.Gateway, data, zero, err

	default:
		return common.Address{}, nil, nil, fmt.Errorf("%w: %s", ErrNotWriteFunction, req.Task.Function.Kind())
	}
}

// Write broadcasts the transaction of a task and returns its hash
func (c *Connector) Write(ctx context.Context, req models.WriteRequest) (common.Hash, error) {
	to, data, value, err := c.writeCall(req)
	if err != nil {
		return common.Hash{}, err
	}

	txHash, err := c.chain.SignAndSendTransaction(ctx, to, data, value)
	if err != nil {
		return common.Hash{}, err
	}

	c.logger.Info("Task transaction sent",
		zap.Uint64("task_id", uint64(req.Task.ID)),
		zap.String("kind", string(req.Task.Function.Kind())),
		zap.String("tx_hash", txHash.Hex()))
	return txHash, nil
}

// Simulate dry-runs the transaction of a task without broadcasting it
func (c *Connector) Simulate(ctx context.Context, req models.WriteRequest) error {
	to, data, _, err := c.writeCall(req)
	if err != nil {
		return err
	}
	return c.chain.Simulate(ctx, to, data)
}
