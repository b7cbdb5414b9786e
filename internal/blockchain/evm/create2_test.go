package evm

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestComputeDeployAddress(t *testing.T) {
	tests := []struct {
		name     string
		salt     [32]byte
		initCode []byte
		wantErr  bool
	}{
		{
			name:     "valid inputs",
			salt:     DeploySalt(1, 0),
			initCode: []byte{0x60, 0x80, 0x60, 0x40}, // Simple bytecode
		},
		{
			name:     "zero salt",
			initCode: []byte{0x00},
		},
		{
			name:     "empty init code",
			salt:     DeploySalt(1, 0),
			initCode: []byte{},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := ComputeDeployAddress(tt.salt, tt.initCode)

			if (err != nil) != tt.wantErr {
				t.Errorf("ComputeDeployAddress() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}

			want := crypto.CreateAddress2(ArachnidFactoryAddress, tt.salt, crypto.Keccak256(tt.initCode))
			if addr != want {
				t.Errorf("ComputeDeployAddress() = %s, want %s", addr.Hex(), want.Hex())
			}
		})
	}
}

func TestDeploySaltDistinct(t *testing.T) {
	base := DeploySalt(1, 7)

	if base != DeploySalt(1, 7) {
		t.Errorf("DeploySalt() is not deterministic")
	}
	if base == DeploySalt(2, 7) {
		t.Errorf("DeploySalt() returned same salt for different networks")
	}
	if base == DeploySalt(1, 8) {
		t.Errorf("DeploySalt() returned same salt for different tasks")
	}
}

func TestDeployCalldata(t *testing.T) {
	salt := DeploySalt(3, 9)
	code := []byte{0x60, 0x80}

	data := DeployCalldata(salt, code)
	if len(data) != 34 {
		t.Fatalf("DeployCalldata() length = %d, want 34", len(data))
	}
	if !bytes.Equal(data[:32], salt[:]) || !bytes.Equal(data[32:], code) {
		t.Errorf("DeployCalldata() = %x", data)
	}
	if common.BytesToHash(data[:32]) != common.Hash(salt) {
		t.Errorf("salt prefix mismatch")
	}
}
