package tasks

import (
	"cosmossdk.io/math"

	"tasknode/internal/models"
)

// Defaults used for networks without an explicit setting
const (
	DefaultShardTaskLimit     = 10
	DefaultReadReward         = 1_000
	DefaultWriteReward        = 2_000
	DefaultSendMessageReward  = 1_000
	DefaultDepreciationBlocks = 100
	DefaultBatchSize          = 32
)

// Params are the initial engine parameters
type Params struct {
	ShardTaskLimit    uint32
	ReadReward        math.Int
	WriteReward       math.Int
	SendMessageReward math.Int
	Depreciation      models.DepreciationRate
	Batch             models.BatchConfig
}

func DefaultParams() Params {
	return Params{
		ShardTaskLimit:    DefaultShardTaskLimit,
		ReadReward:        math.NewInt(DefaultReadReward),
		WriteReward:       math.NewInt(DefaultWriteReward),
		SendMessageReward: math.NewInt(DefaultSendMessageReward),
		Depreciation: models.DepreciationRate{
			Blocks:  DefaultDepreciationBlocks,
			Percent: math.LegacyNewDecWithPrec(5, 2),
		},
		Batch: models.BatchConfig{Size: DefaultBatchSize},
	}
}
