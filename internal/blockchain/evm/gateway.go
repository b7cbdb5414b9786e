package evm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"tasknode/internal/models"
)

// GatewayABI is the ABI of the gateway contract shards sign for
const GatewayABI = `[
	{
		"inputs": [
			{"internalType": "bytes", "name": "signature", "type": "bytes"},
			{"internalType": "bytes32", "name": "source", "type": "bytes32"},
			{"internalType": "uint16", "name": "srcNetwork", "type": "uint16"},
			{"internalType": "address", "name": "dest", "type": "address"},
			{"internalType": "uint16", "name": "destNetwork", "type": "uint16"},
			{"internalType": "uint256", "name": "gasLimit", "type": "uint256"},
			{"internalType": "uint256", "name": "nonce", "type": "uint256"},
			{"internalType": "bytes", "name": "data", "type": "bytes"}
		],
		"name": "execute",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "bytes", "name": "signature", "type": "bytes"},
			{"internalType": "bytes[]", "name": "register", "type": "bytes[]"},
			{"internalType": "bytes[]", "name": "revoke", "type": "bytes[]"}
		],
		"name": "updateKeys",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "bytes32", "name": "id", "type": "bytes32"},
			{"indexed": true, "internalType": "bytes32", "name": "source", "type": "bytes32"},
			{"indexed": true, "internalType": "address", "name": "dest", "type": "address"},
			{"indexed": false, "internalType": "uint16", "name": "destNetwork", "type": "uint16"},
			{"indexed": false, "internalType": "uint256", "name": "gasLimit", "type": "uint256"},
			{"indexed": false, "internalType": "uint256", "name": "nonce", "type": "uint256"},
			{"indexed": false, "internalType": "bytes", "name": "data", "type": "bytes"}
		],
		"name": "GmpCreated",
		"type": "event"
	}
]`

// Gateway encodes gateway calls and decodes gateway events
type Gateway struct {
	abi abi.ABI
}

func NewGateway() (*Gateway, error) {
	parsedABI, err := abi.JSON(strings.NewReader(GatewayABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse gateway ABI: %w", err)
	}
	return &Gateway{abi: parsedABI}, nil
}

// GmpCreatedTopic is the topic0 of the GmpCreated event
func (g *Gateway) GmpCreatedTopic() common.Hash {
	return g.abi.Events["GmpCreated"].ID
}

// PackExecute encodes execute() for a signed message
func (g *Gateway) PackExecute(sig []byte, msg models.GmpMessage) ([]byte, error) {
	data, err := g.abi.Pack("execute",
		sig,
		[32]byte(msg.Src),
		uint16(msg.SrcNetwork),
		msg.Dest,
		uint16(msg.DestNetwork),
		new(big.Int).SetUint64(msg.GasLimit),
		new(big.Int).SetUint64(msg.Nonce),
		[]byte(msg.Data),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to pack execute call: %w", err)
	}
	return data, nil
}

// PackUpdateKeys encodes updateKeys() for a signed key rotation
func (g *Gateway) PackUpdateKeys(sig []byte, register, revoke [][]byte) ([]byte, error) {
	if register == nil {
		register = [][]byte{}
	}
	if revoke == nil {
		revoke = [][]byte{}
	}
	data, err := g.abi.Pack("updateKeys", sig, register, revoke)
	if err != nil {
		return nil, fmt.Errorf("failed to pack updateKeys call: %w", err)
	}
	return data, nil
}

// DecodeGmpCreated turns a GmpCreated log emitted on network into a message
func (g *Gateway) DecodeGmpCreated(network models.Network, log types.Log) (models.GmpMessage, error) {
	if len(log.Topics) != 4 || log.Topics[0] != g.GmpCreatedTopic() {
		return models.GmpMessage{}, fmt.Errorf("log %s:%d is not a GmpCreated event", log.TxHash.Hex(), log.Index)
	}

	values, err := g.abi.Unpack("GmpCreated", log.Data)
	if err != nil {
		return models.GmpMessage{}, fmt.Errorf("failed to unpack GmpCreated: %w", err)
	}
	if len(values) != 4 {
		return models.GmpMessage{}, fmt.Errorf("unexpected GmpCreated field count %d", len(values))
	}

	destNetwork, ok1 := values[0].(uint16)
	gasLimit, ok2 := values[1].(*big.Int)
	nonce, ok3 := values[2].(*big.Int)
	data, ok4 := values[3].([]byte)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return models.GmpMessage{}, fmt.Errorf("unexpected GmpCreated field types")
	}
	if !gasLimit.IsUint64() || !nonce.IsUint64() {
		return models.GmpMessage{}, fmt.Errorf("GmpCreated gas limit or nonce overflows uint64")
	}

	return models.GmpMessage{
		SrcNetwork:  network,
		DestNetwork: models.Network(destNetwork),
		Src:         log.Topics[2],
		Dest:        common.BytesToAddress(log.Topics[3].Bytes()),
		Nonce:       nonce.Uint64(),
		GasLimit:    gasLimit.Uint64(),
		Data:        data,
	}, nil
}
