package service

import (
	"context"
	"fmt"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"tasknode/internal/models"
	"tasknode/internal/tasks"
)

// EventStore reads back what the indexer recorded. It is optional.
type EventStore interface {
	GetTaskEvents(ctx context.Context, id models.TaskID) ([]models.TaskEventRecord, error)
	GetViewResult(ctx context.Context, id models.TaskID) (*models.ViewResultRecord, error)
}

// TaskService translates API requests into engine calls
type TaskService struct {
	engine *tasks.Engine
	store  EventStore
	logger *zap.Logger
}

// NewTaskService creates a new task service. store may be nil.
func NewTaskService(engine *tasks.Engine, store EventStore, logger *zap.Logger) *TaskService {
	return &TaskService{
		engine: engine,
		store:  store,
		logger: logger,
	}
}

// CreateTaskParams describes a user funded task
type CreateTaskParams struct {
	Network   models.Network
	Function  models.Function
	ShardSize uint16
	Start     uint64
	Funds     math.Int
	Funder    tasks.Funder
}

// CreateTask registers a task and returns its id
func (s *TaskService) CreateTask(p CreateTaskParams) (models.TaskID, error) {
	if p.Function == nil {
		return 0, fmt.Errorf("function is required")
	}

	id, err := s.engine.CreateTask(p.Network, p.Function, p.ShardSize, p.Start, p.Funds, p.Funder)
	if err != nil {
		s.logger.Warn("Task creation rejected",
			zap.Uint16("network", uint16(p.Network)),
			zap.String("function", string(p.Function.Kind())),
			zap.Error(err))
		return 0, err
	}

	s.logger.Info("Task created",
		zap.Uint64("task_id", uint64(id)),
		zap.Uint16("network", uint16(p.Network)),
		zap.String("function", string(p.Function.Kind())),
		zap.String("funder", p.Funder.Kind.String()))
	return id, nil
}

// TaskStatus is a snapshot of everything the engine knows about a task
type TaskStatus struct {
	Task   models.Task
	Phase  models.Phase
	Shard  *models.ShardID
	Signer *models.AccountID
	Hash   *common.Hash
	Result *models.TaskResult
	Escrow math.Int
}

// GetTask returns the status of id
func (s *TaskService) GetTask(id models.TaskID) (*TaskStatus, error) {
	task, ok := s.engine.GetTask(id)
	if !ok {
		return nil, tasks.ErrUnknownTask
	}
	phase, _ := s.engine.GetTaskPhase(id)

	status := &TaskStatus{
		Task:   task,
		Phase:  phase,
		Escrow: s.engine.GetEscrow(id),
	}
	if shard, ok := s.engine.GetTaskShard(id); ok {
		status.Shard = &shard
	}
	if signer, ok := s.engine.GetTaskSigner(id); ok {
		status.Signer = &signer
	}
	if hash, ok := s.engine.GetTaskHash(id); ok {
		status.Hash = &hash
	}
	if result, ok := s.engine.GetTaskResult(id); ok {
		status.Result = &result
	}
	return status, nil
}

// GetTaskPhase returns the current phase of id
func (s *TaskService) GetTaskPhase(id models.TaskID) (models.Phase, error) {
	phase, ok := s.engine.GetTaskPhase(id)
	if !ok {
		return 0, tasks.ErrUnknownTask
	}
	return phase, nil
}

// TaskOutput is a task result with the raw view call output when indexed
type TaskOutput struct {
	Result models.TaskResult
	Output []byte
}

// GetTaskResult returns the result of id. A nil output with a nil error
// means the task has not finished yet.
func (s *TaskService) GetTaskResult(ctx context.Context, id models.TaskID) (*TaskOutput, error) {
	if _, ok := s.engine.GetTask(id); !ok {
		return nil, tasks.ErrUnknownTask
	}
	result, ok := s.engine.GetTaskResult(id)
	if !ok {
		return nil, nil
	}

	out := &TaskOutput{Result: result}
	if s.store != nil && !result.Payload.IsError() {
		view, err := s.store.GetViewResult(ctx, id)
		if err != nil {
			s.logger.Warn("Failed to load view result", zap.Uint64("task_id", uint64(id)), zap.Error(err))
		} else if view != nil {
			out.Output = view.Output
		}
	}
	return out, nil
}

// GetTaskEvents returns the indexed history of id
func (s *TaskService) GetTaskEvents(ctx context.Context, id models.TaskID) ([]models.TaskEventRecord, error) {
	if s.store == nil {
		return nil, fmt.Errorf("event index not available")
	}
	if _, ok := s.engine.GetTask(id); !ok {
		return nil, tasks.ErrUnknownTask
	}
	return s.store.GetTaskEvents(ctx, id)
}

// ==================== Phase Submissions ====================

// SubmitSignature records the shard signature of a Sign phase task
func (s *TaskService) SubmitSignature(id models.TaskID, signature []byte) error {
	if err := s.engine.SubmitSignature(id, signature); err != nil {
		return err
	}
	s.logger.Info("Signature submitted", zap.Uint64("task_id", uint64(id)))
	return nil
}

// SubmitHash records the Write phase outcome reported by caller
func (s *TaskService) SubmitHash(caller models.AccountID, id models.TaskID, result models.WriteResult) error {
	if err := s.engine.SubmitHash(caller, id, result); err != nil {
		return err
	}
	s.logger.Info("Write result submitted",
		zap.Uint64("task_id", uint64(id)),
		zap.String("hash", result.Hash.Hex()),
		zap.Bool("failed", result.Failed()))
	return nil
}

// SubmitResult records the signed Read phase output
func (s *TaskService) SubmitResult(id models.TaskID, result models.TaskResult) error {
	if err := s.engine.SubmitResult(id, result); err != nil {
		return err
	}
	s.logger.Info("Task result submitted",
		zap.Uint64("task_id", uint64(id)),
		zap.Uint64("shard_id", uint64(result.ShardID)))
	return nil
}

// ==================== Shards and Networks ====================

// BlockNumber returns the engine's current block
func (s *TaskService) BlockNumber() uint64 {
	return s.engine.BlockNumber()
}

// ShardTasks lists the assignments of shard
func (s *TaskService) ShardTasks(shard models.ShardID) []models.TaskExecution {
	return s.engine.GetShardTasks(shard)
}

// Gateway returns the gateway of network
func (s *TaskService) Gateway(network models.Network) (common.Address, bool) {
	return s.engine.GetGateway(network)
}

// NetworkQueue summarizes the scheduling state of a network
type NetworkQueue struct {
	Unassigned     []models.TaskID
	RecvHorizon    *uint64
	ShardTaskLimit uint32
	Rewards        models.RewardConfig
	Batch          models.BatchConfig
}

// Queue returns the unassigned tasks and parameters of network
func (s *TaskService) Queue(network models.Network) NetworkQueue {
	limit, rewards, batch := s.engine.GetNetworkParams(network)
	q := NetworkQueue{
		Unassigned:     s.engine.GetUnassignedTasks(network),
		ShardTaskLimit: limit,
		Rewards:        rewards,
		Batch:          batch,
	}
	if horizon, ok := s.engine.GetRecvHorizon(network); ok {
		q.RecvHorizon = &horizon
	}
	return q
}

// ==================== Admin ====================

// RegisterGateway installs a gateway for the bootstrap shard's network
func (s *TaskService) RegisterGateway(bootstrap models.ShardID, address common.Address, height uint64) error {
	if err := s.engine.RegisterGateway(bootstrap, address, height); err != nil {
		return err
	}
	s.logger.Info("Gateway registration accepted",
		zap.Uint64("bootstrap_shard", uint64(bootstrap)),
		zap.String("address", address.Hex()))
	return nil
}

// UnregisterGateways removes every gateway
func (s *TaskService) UnregisterGateways(limit uint32) error {
	return s.engine.UnregisterGateways(limit)
}

// CancelTask fails and re-enqueues id
func (s *TaskService) CancelTask(id models.TaskID) error {
	return s.engine.SudoCancelTask(id)
}

// CancelTasks cancels up to max unfinished tasks
func (s *TaskService) CancelTasks(max uint32) error {
	return s.engine.SudoCancelTasks(max)
}

// ResetTasks restarts up to max unfinished tasks
func (s *TaskService) ResetTasks(max uint32) error {
	return s.engine.ResetTasks(max)
}

// NetworkParamsUpdate carries the parameters to change. Nil fields are
// left untouched.
type NetworkParamsUpdate struct {
	ShardTaskLimit    *uint32
	ReadReward        *math.Int
	WriteReward       *math.Int
	SendMessageReward *math.Int
	Batch             *models.BatchConfig
}

// UpdateNetworkParams applies each set field as its own engine call.
// Fields applied before a failing one stay applied.
func (s *TaskService) UpdateNetworkParams(network models.Network, u NetworkParamsUpdate) error {
	if u.ShardTaskLimit != nil {
		if err := s.engine.SetShardTaskLimit(network, *u.ShardTaskLimit); err != nil {
			return fmt.Errorf("shard task limit: %w", err)
		}
	}
	if u.ReadReward != nil {
		if err := s.engine.SetReadTaskReward(network, *u.ReadReward); err != nil {
			return fmt.Errorf("read reward: %w", err)
		}
	}
	if u.WriteReward != nil {
		if err := s.engine.SetWriteTaskReward(network, *u.WriteReward); err != nil {
			return fmt.Errorf("write reward: %w", err)
		}
	}
	if u.SendMessageReward != nil {
		if err := s.engine.SetSendMessageTaskReward(network, *u.SendMessageReward); err != nil {
			return fmt.Errorf("send message reward: %w", err)
		}
	}
	if u.Batch != nil {
		if err := s.engine.SetBatchSize(network, u.Batch.Size, u.Batch.Offset); err != nil {
			return fmt.Errorf("batch size: %w", err)
		}
	}

	s.logger.Info("Network parameters updated", zap.Uint16("network", uint16(network)))
	return nil
}
