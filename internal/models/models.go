package models

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"cosmossdk.io/math"
	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// AccountPrefix is the bech32 prefix for operator accounts
const AccountPrefix = "acct"

// Network identifies a target chain
type Network uint16

// TaskID identifies a task. IDs are allocated sequentially from zero.
type TaskID uint64

// ShardID identifies a shard
type ShardID uint64

// AccountID identifies an operator or funding account
type AccountID [32]byte

// AccountFromPublicKey derives the account controlled by a secp256k1 key:
// the keccak256 hash of the uncompressed public key without its prefix.
func AccountFromPublicKey(pub *ecdsa.PublicKey) AccountID {
	return AccountID(crypto.Keccak256Hash(crypto.FromECDSAPub(pub)[1:]))
}

// String renders the account as a bech32 address
func (a AccountID) String() string {
	conv, err := bech32.ConvertBits(a[:], 8, 5, true)
	if err != nil {
		return hex.EncodeToString(a[:])
	}
	encoded, err := bech32.Encode(AccountPrefix, conv)
	if err != nil {
		return hex.EncodeToString(a[:])
	}
	return encoded
}

// MarshalText implements encoding.TextMarshaler
func (a AccountID) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (a *AccountID) UnmarshalText(text []byte) error {
	parsed, err := ParseAccountID(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAccountID decodes a bech32 account address. A 0x-prefixed
// 32-byte hex string is accepted as well.
func ParseAccountID(s string) (AccountID, error) {
	var id AccountID

	if strings.HasPrefix(s, "0x") {
		raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
		if err != nil {
			return id, fmt.Errorf("failed to decode hex account: %w", err)
		}
		if len(raw) != len(id) {
			return id, fmt.Errorf("invalid account length: %d", len(raw))
		}
		copy(id[:], raw)
		return id, nil
	}

	hrp, data5bit, err := bech32.Decode(s)
	if err != nil {
		return id, fmt.Errorf("failed to decode bech32 account: %w", err)
	}
	if hrp != AccountPrefix {
		return id, fmt.Errorf("invalid account prefix %q", hrp)
	}

	data8bit, err := bech32.ConvertBits(data5bit, 5, 8, false)
	if err != nil {
		return id, fmt.Errorf("failed to convert account bits: %w", err)
	}
	if len(data8bit) != len(id) {
		return id, fmt.Errorf("invalid account length: %d", len(data8bit))
	}

	copy(id[:], data8bit)
	return id, nil
}

// Phase is the step a task is currently in
type Phase uint8

const (
	PhaseSign Phase = iota + 1
	PhaseWrite
	PhaseRead
)

func (p Phase) String() string {
	switch p {
	case PhaseSign:
		return "sign"
	case PhaseWrite:
		return "write"
	case PhaseRead:
		return "read"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// MarshalText implements encoding.TextMarshaler
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (p *Phase) UnmarshalText(text []byte) error {
	switch string(text) {
	case "sign":
		*p = PhaseSign
	case "write":
		*p = PhaseWrite
	case "read":
		*p = PhaseRead
	default:
		return fmt.Errorf("unknown phase %q", string(text))
	}
	return nil
}

// Task is one cross-chain operation
type Task struct {
	ID        TaskID
	Owner     *AccountID
	Network   Network
	Function  Function
	ShardSize uint16
	Start     uint64
}

// TaskExecution is an assignment entry as seen by a shard
type TaskExecution struct {
	TaskID TaskID `json:"task_id"`
	Phase  Phase  `json:"phase"`
}

// DepreciationRate reduces a reward by Percent for every Blocks elapsed
type DepreciationRate struct {
	Blocks  uint64         `json:"blocks" yaml:"blocks"`
	Percent math.LegacyDec `json:"percent" yaml:"-"`
}

// RewardConfig holds the reward terms frozen at task creation
type RewardConfig struct {
	ReadReward        math.Int         `json:"read_reward"`
	WriteReward       math.Int         `json:"write_reward"`
	SendMessageReward math.Int         `json:"send_message_reward"`
	Depreciation      DepreciationRate `json:"depreciation"`
}

// BatchConfig controls inbound message batching for a network
type BatchConfig struct {
	Size   uint64 `json:"size"`
	Offset uint64 `json:"offset"`
}

// GmpMessage is a cross-chain message relayed through a gateway
type GmpMessage struct {
	SrcNetwork  Network        `json:"src_network"`
	DestNetwork Network        `json:"dest_network"`
	Src         common.Hash    `json:"src"`
	Dest        common.Address `json:"dest"`
	Nonce       uint64         `json:"nonce"`
	GasLimit    uint64         `json:"gas_limit"`
	Data        hexutil.Bytes  `json:"data"`
}

// TaskResult is the signed output of a task
type TaskResult struct {
	ShardID   ShardID       `json:"shard_id"`
	Payload   Payload       `json:"payload"`
	Signature hexutil.Bytes `json:"signature,omitempty"`
}

// WriteResult is the outcome of a Write phase broadcast
type WriteResult struct {
	Hash  common.Hash `json:"hash"`
	Error string      `json:"error,omitempty"`
}

// Failed reports whether the broadcast failed
func (r WriteResult) Failed() bool {
	return r.Error != ""
}
