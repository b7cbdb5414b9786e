// Package gmp derives the digests a shard signs before a gateway contract
// will accept a message or a key update, and verifies shard signatures.
package gmp

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"tasknode/internal/models"
)

var (
	ErrMalformedSignature = errors.New("malformed signature")
	ErrMalformedPublicKey = errors.New("malformed public key")
	ErrNotGatewayFunction = errors.New("function is not signed by the gateway")
)

var (
	domainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	messageTypeHash = crypto.Keccak256Hash([]byte(
		"GmpMessage(bytes32 source,uint16 srcNetwork,address dest,uint16 destNetwork,uint256 gasLimit,uint256 nonce,bytes data)"))
	updateKeysTypeHash = crypto.Keccak256Hash([]byte(
		"UpdateKeys(bytes32 register,bytes32 revoke)"))

	gatewayName    = crypto.Keccak256Hash([]byte("Gateway"))
	gatewayVersion = crypto.Keccak256Hash([]byte("1"))
)

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(fmt.Sprintf("abi type %s: %v", name, err))
	}
	return t
}

var (
	bytes32Type = mustType("bytes32")
	uint16Type  = mustType("uint16")
	uint256Type = mustType("uint256")
	addressType = mustType("address")

	domainArgs = abi.Arguments{
		{Type: bytes32Type}, {Type: bytes32Type}, {Type: bytes32Type},
		{Type: uint256Type}, {Type: addressType},
	}
	messageArgs = abi.Arguments{
		{Type: bytes32Type}, {Type: bytes32Type}, {Type: uint16Type},
		{Type: addressType}, {Type: uint16Type}, {Type: uint256Type},
		{Type: uint256Type}, {Type: bytes32Type},
	}
	updateKeysArgs = abi.Arguments{
		{Type: bytes32Type}, {Type: bytes32Type}, {Type: bytes32Type},
	}
)

// DomainSeparator binds digests to one gateway deployment on one network
func DomainSeparator(network models.Network, gateway common.Address) (common.Hash, error) {
	enc, err := domainArgs.Pack(
		[32]byte(domainTypeHash),
		[32]byte(gatewayName),
		[32]byte(gatewayVersion),
		new(big.Int).SetUint64(uint64(network)),
		gateway,
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode domain: %w", err)
	}
	return crypto.Keccak256Hash(enc), nil
}

// MessageHash is the struct hash of a relayed message
func MessageHash(msg models.GmpMessage) (common.Hash, error) {
	enc, err := messageArgs.Pack(
		[32]byte(messageTypeHash),
		[32]byte(msg.Src),
		uint16(msg.SrcNetwork),
		msg.Dest,
		uint16(msg.DestNetwork),
		new(big.Int).SetUint64(msg.GasLimit),
		new(big.Int).SetUint64(msg.Nonce),
		[32]byte(crypto.Keccak256Hash(msg.Data)),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode message: %w", err)
	}
	return crypto.Keccak256Hash(enc), nil
}

// MessageID identifies a message on the destination gateway
func MessageID(msg models.GmpMessage) common.Hash {
	h, err := MessageHash(msg)
	if err != nil {
		return common.Hash{}
	}
	return h
}

func hashKeys(keys [][]byte) common.Hash {
	buf := make([]byte, 0, len(keys)*common.HashLength)
	for _, k := range keys {
		buf = append(buf, crypto.Keccak256(k)...)
	}
	return crypto.Keccak256Hash(buf)
}

// UpdateKeysHash is the struct hash of a gateway key rotation
func UpdateKeysHash(register, revoke [][]byte) (common.Hash, error) {
	enc, err := updateKeysArgs.Pack(
		[32]byte(updateKeysTypeHash),
		[32]byte(hashKeys(register)),
		[32]byte(hashKeys(revoke)),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode key update: %w", err)
	}
	return crypto.Keccak256Hash(enc), nil
}

// KeyLookup returns the aggregate public key of a shard
type KeyLookup func(models.ShardID) ([]byte, error)

// SigningPreimage returns "\x19\x01" || domain || structHash for the
// gateway-bound function of task. RegisterShard and UnregisterShard embed
// the key of the shard they refer to.
func SigningPreimage(task models.Task, gateway common.Address, keyOf KeyLookup) ([]byte, error) {
	var (
		structHash common.Hash
		err        error
	)

	switch fn := task.Function.(type) {
	case models.SendMessage:
		structHash, err = MessageHash(fn.Msg)
	case models.RegisterShard:
		var key []byte
		if key, err = keyOf(fn.ShardID); err == nil {
			structHash, err = UpdateKeysHash([][]byte{key}, nil)
		}
	case models.UnregisterShard:
		var key []byte
		if key, err = keyOf(fn.ShardID); err == nil {
			structHash, err = UpdateKeysHash(nil, [][]byte{key})
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotGatewayFunction, task.Function.Kind())
	}
	if err != nil {
		return nil, err
	}

	domain, err := DomainSeparator(task.Network, gateway)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 2+2*common.HashLength)
	out = append(out, 0x19, 0x01)
	out = append(out, domain.Bytes()...)
	out = append(out, structHash.Bytes()...)
	return out, nil
}

// Digest is the Keccak-256 of the signing preimage
func Digest(task models.Task, gateway common.Address, keyOf KeyLookup) (common.Hash, error) {
	pre, err := SigningPreimage(task, gateway, keyOf)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(pre), nil
}

// Verify checks a 65-byte [R || S || V] signature over digest against a
// compressed or uncompressed secp256k1 public key. A false result with a
// nil error means the signature is well formed but does not match.
func Verify(pubKey []byte, digest common.Hash, sig []byte) (bool, error) {
	if len(sig) != crypto.SignatureLength {
		return false, fmt.Errorf("%w: length %d", ErrMalformedSignature, len(sig))
	}
	switch len(pubKey) {
	case 33:
		if _, err := crypto.DecompressPubkey(pubKey); err != nil {
			return false, fmt.Errorf("%w: %v", ErrMalformedPublicKey, err)
		}
	case 65:
		if _, err := crypto.UnmarshalPubkey(pubKey); err != nil {
			return false, fmt.Errorf("%w: %v", ErrMalformedPublicKey, err)
		}
	default:
		return false, fmt.Errorf("%w: length %d", ErrMalformedPublicKey, len(pubKey))
	}
	return crypto.VerifySignature(pubKey, digest.Bytes(), sig[:crypto.RecoveryIDOffset]), nil
}
