package models

import (
	"encoding/json"
	"fmt"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// FunctionKind names a Function variant
type FunctionKind string

const (
	KindEvmViewCall     FunctionKind = "evm_view_call"
	KindEvmCall         FunctionKind = "evm_call"
	KindEvmDeploy       FunctionKind = "evm_deploy"
	KindEvmTxReceipt    FunctionKind = "evm_tx_receipt"
	KindSendMessage     FunctionKind = "send_message"
	KindRegisterShard   FunctionKind = "register_shard"
	KindUnregisterShard FunctionKind = "unregister_shard"
	KindReadMessages    FunctionKind = "read_messages"
)

// Function is the operation a task performs. The set of implementations
// is closed: EvmViewCall, EvmCall, EvmDeploy, EvmTxReceipt, SendMessage,
// RegisterShard, UnregisterShard and ReadMessages.
type Function interface {
	Kind() FunctionKind
	isFunction()
}

type EvmViewCall struct {
	Address common.Address `json:"address"`
	Input   hexutil.Bytes  `json:"input"`
}

type EvmCall struct {
	Address common.Address `json:"address"`
	Input   hexutil.Bytes  `json:"input"`
	Amount  math.Int       `json:"amount"`
}

type EvmDeploy struct {
	Bytecode hexutil.Bytes `json:"bytecode"`
}

type EvmTxReceipt struct {
	Tx common.Hash `json:"tx"`
}

type SendMessage struct {
	Msg GmpMessage `json:"msg"`
}

type RegisterShard struct {
	ShardID ShardID `json:"shard_id"`
}

type UnregisterShard struct {
	ShardID ShardID `json:"shard_id"`
}

type ReadMessages struct {
	BatchSize uint64 `json:"batch_size"`
}

func (EvmViewCall) Kind() FunctionKind     { return KindEvmViewCall }
func (EvmCall) Kind() FunctionKind         { return KindEvmCall }
func (EvmDeploy) Kind() FunctionKind       { return KindEvmDeploy }
func (EvmTxReceipt) Kind() FunctionKind    { return KindEvmTxReceipt }
func (SendMessage) Kind() FunctionKind     { return KindSendMessage }
func (RegisterShard) Kind() FunctionKind   { return KindRegisterShard }
func (UnregisterShard) Kind() FunctionKind { return KindUnregisterShard }
func (ReadMessages) Kind() FunctionKind    { return KindReadMessages }

func (EvmViewCall) isFunction()     {}
func (EvmCall) isFunction()         {}
func (EvmDeploy) isFunction()       {}
func (EvmTxReceipt) isFunction()    {}
func (SendMessage) isFunction()     {}
func (RegisterShard) isFunction()   {}
func (UnregisterShard) isFunction() {}
func (ReadMessages) isFunction()    {}

// InitialPhase returns the phase a task running fn starts in.
// Payable calls start at Write, gateway-signed calls at Sign and
// everything else at Read.
func InitialPhase(fn Function) Phase {
	switch fn.(type) {
	case EvmDeploy, EvmCall:
		return PhaseWrite
	case SendMessage, RegisterShard, UnregisterShard:
		return PhaseSign
	default:
		return PhaseRead
	}
}

// functionEnvelope is the tagged JSON form of a Function
type functionEnvelope struct {
	Kind   FunctionKind    `json:"kind"`
	Params json.RawMessage `json:"params"`
}

// MarshalFunction encodes fn as {"kind": ..., "params": {...}}
func MarshalFunction(fn Function) ([]byte, error) {
	if fn == nil {
		return nil, fmt.Errorf("function is nil")
	}
	params, err := json.Marshal(fn)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s params: %w", fn.Kind(), err)
	}
	return json.Marshal(functionEnvelope{Kind: fn.Kind(), Params: params})
}

// UnmarshalFunction decodes the tagged JSON form produced by MarshalFunction
func UnmarshalFunction(data []byte) (Function, error) {
	var env functionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode function: %w", err)
	}
	if len(env.Params) == 0 {
		env.Params = json.RawMessage("{}")
	}

	var (
		fn  Function
		err error
	)
	switch env.Kind {
	case KindEvmViewCall:
		var f EvmViewCall
		err = json.Unmarshal(env.Params, &f)
		fn = f
	case KindEvmCall:
		f := EvmCall{Amount: math.ZeroInt()}
		err = json.Unmarshal(env.Params, &f)
		if err == nil && (f.Amount.IsNil() || f.Amount.IsNegative()) {
			err = fmt.Errorf("amount must be non-negative")
		}
		fn = f
	case KindEvmDeploy:
		var f EvmDeploy
		err = json.Unmarshal(env.Params, &f)
		fn = f
	case KindEvmTxReceipt:
		var f EvmTxReceipt
		err = json.Unmarshal(env.Params, &f)
		fn = f
	case KindSendMessage:
		var f SendMessage
		err = json.Unmarshal(env.Params, &f)
		fn = f
	case KindRegisterShard:
		var f RegisterShard
		err = json.Unmarshal(env.Params, &f)
		fn = f
	case KindUnregisterShard:
		var f UnregisterShard
		err = json.Unmarshal(env.Params, &f)
		fn = f
	case KindReadMessages:
		var f ReadMessages
		err = json.Unmarshal(env.Params, &f)
		fn = f
	default:
		return nil, fmt.Errorf("unknown function kind %q", env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s params: %w", env.Kind, err)
	}
	return fn, nil
}
