package evm

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"tasknode/internal/models"
)

// ArachnidFactoryAddress is the deterministic deployment proxy deployed on all EVM chains
// See: https://github.com/Arachnid/deterministic-deployment-proxy
var ArachnidFactoryAddress = common.HexToAddress("0x4e59b44847b379578588920cA78FbF26c0B4956C")

// DeploySalt is the CREATE2 salt of an EvmDeploy task:
// keccak256(network || task_id), both big endian.
func DeploySalt(network models.Network, id models.TaskID) [32]byte {
	var buf [10]byte
	binary.BigEndian.PutUint16(buf[:2], uint16(network))
	binary.BigEndian.PutUint64(buf[2:], uint64(id))
	return crypto.Keccak256Hash(buf[:])
}

// ComputeDeployAddress computes the CREATE2 address of a contract deployed
// through the deterministic deployment proxy
//
// CREATE2 formula: address = keccak256(0xff ++ factoryAddress ++ salt ++ keccak256(initCode))[12:]
func ComputeDeployAddress(salt [32]byte, initCode []byte) (common.Address, error) {
	if len(initCode) == 0 {
		return common.Address{}, fmt.Errorf("init code cannot be empty")
	}

	initCodeHash := crypto.Keccak256Hash(initCode)

	// 1 byte (0xff) + 20 bytes (address) + 32 bytes (salt) + 32 bytes (initCodeHash)
	data := make([]byte, 1+20+32+32)
	data[0] = 0xff
	copy(data[1:21], ArachnidFactoryAddress.Bytes())
	copy(data[21:53], salt[:])
	copy(data[53:85], initCodeHash.Bytes())

	hash := crypto.Keccak256(data)
	return common.BytesToAddress(hash[12:]), nil
}

// DeployCalldata is the proxy calldata: salt followed by the init code
func DeployCalldata(salt [32]byte, initCode []byte) []byte {
	out := make([]byte, 0, len(salt)+len(initCode))
	out = append(out, salt[:]...)
	return append(out, initCode...)
}
