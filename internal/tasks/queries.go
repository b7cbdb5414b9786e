package tasks

import (
	"slices"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"tasknode/internal/models"
	"tasknode/internal/store"
)

// GetShardTasks returns the tasks bound to shard with their current phase
func (e *Engine) GetShardTasks(shard models.ShardID) []models.TaskExecution {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids, _ := e.shardTasks.Get(shard)
	out := make([]models.TaskExecution, 0, len(ids))
	for _, id := range ids {
		phase, _ := e.phases.Get(id)
		out = append(out, models.TaskExecution{TaskID: id, Phase: phase})
	}
	return out
}

func (e *Engine) GetTask(id models.TaskID) (models.Task, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tasks.Get(id)
}

func (e *Engine) GetTaskPhase(id models.TaskID) (models.Phase, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.phases.Get(id)
}

func (e *Engine) GetTaskResult(id models.TaskID) (models.TaskResult, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.outputs.Get(id)
}

func (e *Engine) GetTaskShard(id models.TaskID) (models.ShardID, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.taskShard.Get(id)
}

func (e *Engine) GetTaskSigner(id models.TaskID) (models.AccountID, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.signers.Get(id)
}

func (e *Engine) GetTaskSignature(id models.TaskID) ([]byte, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	sig, ok := e.signatures.Get(id)
	return slices.Clone(sig), ok
}

func (e *Engine) GetTaskHash(id models.TaskID) (common.Hash, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.hashes.Get(id)
}

// GetTaskPhaseStart returns the block at which id entered phase
func (e *Engine) GetTaskPhaseStart(id models.TaskID, phase models.Phase) (uint64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.phaseStart.Get(phaseKey{id, phase})
}

func (e *Engine) GetTaskRewardConfig(id models.TaskID) (models.RewardConfig, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rewards.Get(id)
}

func (e *Engine) GetGateway(network models.Network) (common.Address, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.gateways.Get(network)
}

// GetUnassignedTasks returns the queue of network in insertion order
func (e *Engine) GetUnassignedTasks(network models.Network) []models.TaskID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.queued(network)
}

func (e *Engine) GetRecvHorizon(network models.Network) (uint64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.recvHorizon.Get(network)
}

func (e *Engine) IsShardRegistered(shard models.ShardID) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registered.Has(shard)
}

func (e *Engine) GetBalance(acct models.AccountID) math.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.balanceOf(e.balances, acct)
}

func (e *Engine) GetStake(acct models.AccountID) math.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.balanceOf(e.stake, acct)
}

func (e *Engine) GetEscrow(id models.TaskID) math.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.escrowOf(id)
}

func (e *Engine) GetSignerPayout(id models.TaskID, acct models.AccountID) (math.Int, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.payouts.Get(payoutKey{id, acct})
}

func (e *Engine) GetIssuance() math.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.issuance.Get()
}

// GetNetworkParams returns the effective parameters of network
func (e *Engine) GetNetworkParams(network models.Network) (uint32, models.RewardConfig, models.BatchConfig) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.shardTaskLimitOf(network), e.rewardConfig(network), e.batchOf(network)
}

// GetUnfinishedTasks returns every task without an output, ascending
func (e *Engine) GetUnfinishedTasks() []models.TaskID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return store.SortedKeys(e.unfinished)
}
