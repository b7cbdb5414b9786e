// Package tasks implements the task lifecycle: creation and funding,
// per-network queueing and shard assignment, the Sign/Write/Read phase
// machine, reward payout and gateway message batching.
//
// All mutating calls go through Engine.commit, which serializes them and
// rolls back every write made by a call that returns an error.
package tasks

import (
	"sync"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"tasknode/internal/models"
	"tasknode/internal/store"
)

type phaseKey struct {
	task  models.TaskID
	phase models.Phase
}

type queueKey struct {
	network models.Network
	index   uint64
}

type payoutKey struct {
	task    models.TaskID
	account models.AccountID
}

// Engine is the replicated task state machine
type Engine struct {
	mu      sync.RWMutex
	journal *store.Journal
	pending []Event

	shards Shards
	sink   EventSink
	params Params
	logger *zap.Logger

	block      *store.Value[uint64]
	nextTaskID *store.Value[models.TaskID]

	// task core
	tasks      *store.Map[models.TaskID, models.Task]
	phases     *store.Map[models.TaskID, models.Phase]
	phaseStart *store.Map[phaseKey, uint64]
	signers    *store.Map[models.TaskID, models.AccountID]
	signatures *store.Map[models.TaskID, []byte]
	hashes     *store.Map[models.TaskID, common.Hash]
	outputs    *store.Map[models.TaskID, models.TaskResult]
	unfinished *store.Map[models.TaskID, struct{}]

	// round-robin position of the next Write phase signer per shard
	signerCursor *store.Map[models.ShardID, int]

	// assignment and queue
	taskShard     *store.Map[models.TaskID, models.ShardID]
	shardTasks    *store.Map[models.ShardID, []models.TaskID]
	unassigned    *store.Map[queueKey, models.TaskID]
	insertIndex   *store.Map[models.Network, uint64]
	removeIndex   *store.Map[models.Network, uint64]
	queuedAt      *store.Map[models.TaskID, uint64]
	networkShards *store.Map[models.Network, []models.ShardID]

	// gateway
	gateways     *store.Map[models.Network, common.Address]
	registered   *store.Map[models.ShardID, struct{}]
	recvHorizon  *store.Map[models.Network, uint64]
	readTask     *store.Map[models.Network, models.TaskID]
	registerTask *store.Map[models.ShardID, models.TaskID]

	// rewards and ledger
	rewards  *store.Map[models.TaskID, models.RewardConfig]
	payouts  *store.Map[payoutKey, math.Int]
	escrow   *store.Map[models.TaskID, math.Int]
	balances *store.Map[models.AccountID, math.Int]
	stake    *store.Map[models.AccountID, math.Int]
	issuance *store.Value[math.Int]

	// per-network parameters
	shardTaskLimit    *store.Map[models.Network, uint32]
	readReward        *store.Map[models.Network, math.Int]
	writeReward       *store.Map[models.Network, math.Int]
	sendMessageReward *store.Map[models.Network, math.Int]
	batch             *store.Map[models.Network, models.BatchConfig]
}

// NewEngine creates an engine at block zero. sink may be nil.
func NewEngine(shards Shards, params Params, sink EventSink, logger *zap.Logger) *Engine {
	j := &store.Journal{}
	return &Engine{
		journal: j,
		shards:  shards,
		sink:    sink,
		params:  params,
		logger:  logger.Named("tasks"),

		block:      store.NewValue[uint64](j, 0),
		nextTaskID: store.NewValue[models.TaskID](j, 0),

		tasks:      store.NewMap[models.TaskID, models.Task](j),
		phases:     store.NewMap[models.TaskID, models.Phase](j),
		phaseStart: store.NewMap[phaseKey, uint64](j),
		signers:    store.NewMap[models.TaskID, models.AccountID](j),
		signatures: store.NewMap[models.TaskID, []byte](j),
		hashes:     store.NewMap[models.TaskID, common.Hash](j),
		outputs:    store.NewMap[models.TaskID, models.TaskResult](j),
		unfinished: store.NewMap[models.TaskID, struct{}](j),

		signerCursor: store.NewMap[models.ShardID, int](j),

		taskShard:     store.NewMap[models.TaskID, models.ShardID](j),
		shardTasks:    store.NewMap[models.ShardID, []models.TaskID](j),
		unassigned:    store.NewMap[queueKey, models.TaskID](j),
		insertIndex:   store.NewMap[models.Network, uint64](j),
		removeIndex:   store.NewMap[models.Network, uint64](j),
		queuedAt:      store.NewMap[models.TaskID, uint64](j),
		networkShards: store.NewMap[models.Network, []models.ShardID](j),

		gateways:     store.NewMap[models.Network, common.Address](j),
		registered:   store.NewMap[models.ShardID, struct{}](j),
		recvHorizon:  store.NewMap[models.Network, uint64](j),
		readTask:     store.NewMap[models.Network, models.TaskID](j),
		registerTask: store.NewMap[models.ShardID, models.TaskID](j),

		rewards:  store.NewMap[models.TaskID, models.RewardConfig](j),
		payouts:  store.NewMap[payoutKey, math.Int](j),
		escrow:   store.NewMap[models.TaskID, math.Int](j),
		balances: store.NewMap[models.AccountID, math.Int](j),
		stake:    store.NewMap[models.AccountID, math.Int](j),
		issuance: store.NewValue(j, math.ZeroInt()),

		shardTaskLimit:    store.NewMap[models.Network, uint32](j),
		readReward:        store.NewMap[models.Network, math.Int](j),
		writeReward:       store.NewMap[models.Network, math.Int](j),
		sendMessageReward: store.NewMap[models.Network, math.Int](j),
		batch:             store.NewMap[models.Network, models.BatchConfig](j),
	}
}

// commit runs fn as one atomic call. If fn fails every write it made is
// reverted and its events are dropped.
func (e *Engine) commit(fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := fn(); err != nil {
		e.journal.Revert()
		e.pending = e.pending[:0]
		return err
	}

	e.journal.Commit()
	events := e.pending
	e.pending = nil
	if e.sink != nil && len(events) > 0 {
		e.sink.Publish(events...)
	}
	return nil
}

func (e *Engine) emit(ev Event) {
	ev.Height = e.block.Get()
	e.pending = append(e.pending, ev)
}

// OnInitialize advances the engine to a new block height
func (e *Engine) OnInitialize(height uint64) {
	_ = e.commit(func() error {
		if height > e.block.Get() {
			e.block.Set(height)
		}
		return nil
	})
}

// BlockNumber returns the current block height
func (e *Engine) BlockNumber() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.block.Get()
}

func (e *Engine) mustTask(id models.TaskID) (models.Task, error) {
	task, ok := e.tasks.Get(id)
	if !ok {
		return models.Task{}, ErrUnknownTask
	}
	return task, nil
}

func (e *Engine) balanceOf(m *store.Map[models.AccountID, math.Int], acct models.AccountID) math.Int {
	if v, ok := m.Get(acct); ok {
		return v
	}
	return math.ZeroInt()
}

func (e *Engine) escrowOf(id models.TaskID) math.Int {
	if v, ok := e.escrow.Get(id); ok {
		return v
	}
	return math.ZeroInt()
}

func (e *Engine) shardTaskLimitOf(network models.Network) uint32 {
	if v, ok := e.shardTaskLimit.Get(network); ok {
		return v
	}
	return e.params.ShardTaskLimit
}

func (e *Engine) rewardOf(m *store.Map[models.Network, math.Int], network models.Network, def math.Int) math.Int {
	if v, ok := m.Get(network); ok {
		return v
	}
	if def.IsNil() {
		return math.ZeroInt()
	}
	return def
}

func (e *Engine) batchOf(network models.Network) models.BatchConfig {
	if v, ok := e.batch.Get(network); ok {
		return v
	}
	return e.params.Batch
}

func (e *Engine) rewardConfig(network models.Network) models.RewardConfig {
	return models.RewardConfig{
		ReadReward:        e.rewardOf(e.readReward, network, e.params.ReadReward),
		WriteReward:       e.rewardOf(e.writeReward, network, e.params.WriteReward),
		SendMessageReward: e.rewardOf(e.sendMessageReward, network, e.params.SendMessageReward),
		Depreciation:      e.params.Depreciation,
	}
}
