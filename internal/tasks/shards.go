package tasks

import "tasknode/internal/models"

// Shards is the membership view the engine schedules against
type Shards interface {
	// MatchingShardOnline reports whether a shard with exactly size
	// members is online for network
	MatchingShardOnline(network models.Network, size uint16) bool
	ShardMembers(shard models.ShardID) []models.AccountID
	ShardNetwork(shard models.ShardID) (models.Network, bool)
	TSSPublicKey(shard models.ShardID) ([]byte, bool)
	IsShardOnline(shard models.ShardID) bool
}
