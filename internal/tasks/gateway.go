package tasks

import (
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"tasknode/internal/models"
	"tasknode/internal/store"
)

const (
	reasonNewGateway     = "new gateway registered"
	reasonGatewayChanged = "shard offline or gateway changed"
)

// batchBoundary returns the first batch start at or after height
func batchBoundary(height, size, offset uint64) uint64 {
	if height <= offset || size == 0 {
		return offset
	}
	return offset + (height-offset+size-1)/size*size
}

// RegisterGateway installs address as the gateway of the bootstrap shard's
// network. Every other online shard of the network has to register again
// against the new gateway. Message ingestion starts from height when the
// network has no active gateway.
func (e *Engine) RegisterGateway(bootstrap models.ShardID, address common.Address, height uint64) error {
	return e.commit(func() error {
		network, ok := e.shards.ShardNetwork(bootstrap)
		if !ok {
			return ErrUnknownShard
		}
		if !e.shards.IsShardOnline(bootstrap) {
			return ErrBootstrapShardMustBeOnline
		}

		_, hadGateway := e.gateways.Get(network)
		online, _ := e.networkShards.Get(network)

		for _, shard := range online {
			if id, ok := e.registerTask.Get(shard); ok {
				e.failTask(id, reasonNewGateway)
			}
			e.registered.Delete(shard)
			if shard == bootstrap {
				continue
			}
			if err := e.spawnRegister(network, shard); err != nil {
				return err
			}
		}
		e.registered.Set(bootstrap, struct{}{})
		e.gateways.Set(network, address)

		if !hadGateway {
			if _, running := e.readTask.Get(network); !running {
				start, ok := e.recvHorizon.Get(network)
				if !ok {
					cfg := e.batchOf(network)
					start = batchBoundary(height, cfg.Size, cfg.Offset)
					e.recvHorizon.Set(network, start)
				}
				size := uint16(len(e.shards.ShardMembers(bootstrap)))
				if err := e.startReadMessages(network, start, e.batchOf(network).Size, size); err != nil {
					return err
				}
			}
		}

		e.emit(Event{
			Kind:          EventGatewayRegistered,
			Network:       ptr(network),
			Address:       ptr(address),
			GatewayHeight: ptr(height),
		})
		e.logger.Info("Gateway registered",
			zap.Uint16("network", uint16(network)),
			zap.String("address", address.Hex()),
			zap.Uint64("bootstrap_shard", uint64(bootstrap)),
			zap.Uint64("height", height))

		e.schedule(network, nil)
		return nil
	})
}

// UnregisterGateways removes every gateway, clears up to limit shard
// registrations and fails all running ReadMessages tasks
func (e *Engine) UnregisterGateways(limit uint32) error {
	return e.commit(func() error {
		for _, network := range store.SortedKeys(e.gateways) {
			e.gateways.Delete(network)
		}

		for i, shard := range store.SortedKeys(e.registered) {
			if uint32(i) >= limit {
				break
			}
			e.registered.Delete(shard)
		}

		for _, network := range store.SortedKeys(e.readTask) {
			id, _ := e.readTask.Get(network)
			e.failTask(id, reasonGatewayChanged)
			e.schedule(network, nil)
		}

		e.logger.Info("Gateways unregistered", zap.Uint32("limit", limit))
		return nil
	})
}

func (e *Engine) startReadMessages(network models.Network, start, batchSize uint64, shardSize uint16) error {
	id, err := e.spawnTask(network, models.ReadMessages{BatchSize: batchSize}, shardSize, start)
	if err != nil {
		return fmt.Errorf("failed to start message ingestion: %w", err)
	}
	e.readTask.Set(network, id)
	return nil
}

func (e *Engine) spawnRegister(network models.Network, shard models.ShardID) error {
	size := uint16(len(e.shards.ShardMembers(shard)))
	id, err := e.spawnTask(network, models.RegisterShard{ShardID: shard}, size, e.block.Get())
	if err != nil {
		return fmt.Errorf("failed to spawn shard registration: %w", err)
	}
	e.registerTask.Set(shard, id)
	return nil
}

// ShardOnline makes shard available for scheduling on network and, if the
// network has a gateway, queues its registration
func (e *Engine) ShardOnline(shard models.ShardID, network models.Network) error {
	return e.commit(func() error {
		online, _ := e.networkShards.Get(network)
		if !slices.Contains(online, shard) {
			e.networkShards.Set(network, append(slices.Clone(online), shard))
		}

		if e.gateways.Has(network) && !e.registered.Has(shard) && !e.registerTask.Has(shard) {
			if err := e.spawnRegister(network, shard); err != nil {
				return err
			}
		}

		e.logger.Info("Shard online",
			zap.Uint64("shard_id", uint64(shard)),
			zap.Uint16("network", uint16(network)))
		e.schedule(network, nil)
		return nil
	})
}

// ShardOffline returns the tasks of shard to the queue and revokes its
// gateway registration
func (e *Engine) ShardOffline(shard models.ShardID, network models.Network) error {
	return e.commit(func() error {
		online, _ := e.networkShards.Get(network)
		e.networkShards.Set(network, slices.DeleteFunc(slices.Clone(online), func(s models.ShardID) bool {
			return s == shard
		}))

		assigned, _ := e.shardTasks.Get(shard)
		for _, id := range slices.Clone(assigned) {
			e.unassign(id)
			e.enqueue(network, id)
		}

		if id, ok := e.registerTask.Get(shard); ok {
			e.failTask(id, reasonGatewayChanged)
		}

		if e.registered.Has(shard) {
			e.registered.Delete(shard)
			if e.gateways.Has(network) {
				size := uint16(len(e.shards.ShardMembers(shard)))
				if _, err := e.spawnTask(network, models.UnregisterShard{ShardID: shard}, size, e.block.Get()); err != nil {
					return fmt.Errorf("failed to spawn shard unregistration: %w", err)
				}
			}
		}

		e.logger.Info("Shard offline",
			zap.Uint64("shard_id", uint64(shard)),
			zap.Uint16("network", uint16(network)),
			zap.Int("requeued", len(assigned)))
		e.schedule(network, nil)
		return nil
	})
}
