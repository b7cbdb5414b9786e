package service

import (
	"testing"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"tasknode/internal/config"
	"tasknode/internal/models"
	"tasknode/internal/shards"
	"tasknode/internal/tasks"
)

func newTestEngine() *tasks.Engine {
	registry := shards.NewRegistry(zap.NewNop())
	engine := tasks.NewEngine(registry, tasks.DefaultParams(), nil, zap.NewNop())
	registry.SetListener(engine)
	return engine
}

func TestFeeService_CalculateTaskFee(t *testing.T) {
	logger := zap.NewNop()
	cfg := &config.Config{
		Networks: map[models.Network]config.NetworkConfig{
			1: {ID: 1, Name: "dev", RPCEndpoint: "http://localhost:8545"},
		},
	}
	feeService := NewFeeService(cfg, newTestEngine(), logger)

	tests := []struct {
		name          string
		network       models.Network
		fn            models.Function
		shardSize     uint16
		expectedFunds int64
		expectedPhase models.Phase
		expectError   bool
	}{
		{
			name:          "view call pays read reward per member",
			network:       1,
			fn:            models.EvmViewCall{Address: common.HexToAddress("0x01")},
			shardSize:     3,
			expectedFunds: 3 * tasks.DefaultReadReward,
			expectedPhase: models.PhaseRead,
		},
		{
			name:          "payable call adds write reward",
			network:       1,
			fn:            models.EvmCall{Address: common.HexToAddress("0x01"), Amount: math.NewInt(5)},
			shardSize:     3,
			expectedFunds: 3*tasks.DefaultReadReward + tasks.DefaultWriteReward,
			expectedPhase: models.PhaseWrite,
		},
		{
			name:          "send message adds signing rewards",
			network:       1,
			fn:            models.SendMessage{},
			shardSize:     2,
			expectedFunds: 2*tasks.DefaultReadReward + tasks.DefaultWriteReward + 2*tasks.DefaultSendMessageReward,
			expectedPhase: models.PhaseSign,
		},
		{
			name:        "unknown network",
			network:     9,
			fn:          models.EvmViewCall{},
			shardSize:   3,
			expectError: true,
		},
		{
			name:        "zero shard size",
			network:     1,
			fn:          models.EvmViewCall{},
			shardSize:   0,
			expectError: true,
		},
		{
			name:        "missing function",
			network:     1,
			shardSize:   3,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := feeService.CalculateTaskFee(tt.network, tt.fn, tt.shardSize)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if !result.RequiredFunds.Equal(math.NewInt(tt.expectedFunds)) {
				t.Errorf("expected funds %d, got %s", tt.expectedFunds, result.RequiredFunds)
			}

			if result.InitialPhase != tt.expectedPhase {
				t.Errorf("expected phase %s, got %s", tt.expectedPhase, result.InitialPhase)
			}
		})
	}
}

func TestFeeService_ValidateFunds(t *testing.T) {
	cfg := &config.Config{
		Networks: map[models.Network]config.NetworkConfig{1: {ID: 1}},
	}
	feeService := NewFeeService(cfg, newTestEngine(), zap.NewNop())
	fn := models.EvmViewCall{}

	tests := []struct {
		name        string
		funds       int64
		expectError bool
	}{
		{"exact", 2 * tasks.DefaultReadReward, false},
		{"above", 10 * tasks.DefaultReadReward, false},
		{"below", 2*tasks.DefaultReadReward - 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := feeService.ValidateFunds(1, fn, 2, math.NewInt(tt.funds))
			if tt.expectError && err == nil {
				t.Errorf("expected error for funds %d", tt.funds)
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
