package models

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// PayloadKind tags the body of a Payload
type PayloadKind uint8

const (
	PayloadHashed PayloadKind = iota + 1
	PayloadError
	PayloadGmp
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadHashed:
		return "hashed"
	case PayloadError:
		return "error"
	case PayloadGmp:
		return "gmp"
	default:
		return fmt.Sprintf("payload(%d)", uint8(k))
	}
}

// MarshalText implements encoding.TextMarshaler
func (k PayloadKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *PayloadKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "hashed":
		*k = PayloadHashed
	case "error":
		*k = PayloadError
	case "gmp":
		*k = PayloadGmp
	default:
		return fmt.Errorf("unknown payload kind %q", string(text))
	}
	return nil
}

// Payload is the data a shard signs when reporting a task result.
// Only the field matching Kind is meaningful.
type Payload struct {
	Kind     PayloadKind  `json:"kind"`
	Hash     common.Hash  `json:"hash,omitempty"`
	Error    string       `json:"error,omitempty"`
	Messages []GmpMessage `json:"messages,omitempty"`
}

func HashedPayload(hash common.Hash) Payload {
	return Payload{Kind: PayloadHashed, Hash: hash}
}

func ErrorPayload(msg string) Payload {
	return Payload{Kind: PayloadError, Error: msg}
}

func GmpPayload(msgs []GmpMessage) Payload {
	return Payload{Kind: PayloadGmp, Messages: msgs}
}

// IsError reports whether the payload carries a failure
func (p Payload) IsError() bool {
	return p.Kind == PayloadError
}

type rlpGmpMessage struct {
	SrcNetwork  uint16
	DestNetwork uint16
	Src         common.Hash
	Dest        common.Address
	Nonce       uint64
	GasLimit    uint64
	Data        []byte
}

type rlpPayload struct {
	TaskID   uint64
	Kind     uint8
	Hash     common.Hash
	Error    string
	Messages []rlpGmpMessage
}

// Bytes returns the canonical encoding of the payload bound to task id.
// This is the message a shard signs.
func (p Payload) Bytes(id TaskID) []byte {
	enc := rlpPayload{
		TaskID: uint64(id),
		Kind:   uint8(p.Kind),
		Hash:   p.Hash,
		Error:  p.Error,
	}
	enc.Messages = make([]rlpGmpMessage, 0, len(p.Messages))
	for _, m := range p.Messages {
		enc.Messages = append(enc.Messages, rlpGmpMessage{
			SrcNetwork:  uint16(m.SrcNetwork),
			DestNetwork: uint16(m.DestNetwork),
			Src:         m.Src,
			Dest:        m.Dest,
			Nonce:       m.Nonce,
			GasLimit:    m.GasLimit,
			Data:        m.Data,
		})
	}

	// only fixed-size and slice fields, encoding cannot fail
	out, err := rlp.EncodeToBytes(&enc)
	if err != nil {
		panic(fmt.Sprintf("payload encoding: %v", err))
	}
	return out
}

// Digest is the Keccak-256 of Bytes(id)
func (p Payload) Digest(id TaskID) common.Hash {
	return crypto.Keccak256Hash(p.Bytes(id))
}

// String renders the payload for logs
func (p Payload) String() string {
	b, _ := json.Marshal(p)
	return string(b)
}
