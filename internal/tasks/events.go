package tasks

import (
	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"tasknode/internal/models"
)

// EventKind names an engine event
type EventKind string

const (
	EventTaskCreated              EventKind = "task_created"
	EventTaskResult               EventKind = "task_result"
	EventGatewayRegistered        EventKind = "gateway_registered"
	EventReadTaskRewardSet        EventKind = "read_task_reward_set"
	EventWriteTaskRewardSet       EventKind = "write_task_reward_set"
	EventSendMessageTaskRewardSet EventKind = "send_message_task_reward_set"
	EventShardTaskLimitSet        EventKind = "shard_task_limit_set"
	EventBatchSizeSet             EventKind = "batch_size_set"
)

// Event is emitted once the call that produced it commits. Only the
// fields relevant to Kind are set.
type Event struct {
	Kind   EventKind `json:"kind"`
	Height uint64    `json:"height"`

	TaskID        *models.TaskID      `json:"task_id,omitempty"`
	Network       *models.Network     `json:"network,omitempty"`
	Address       *common.Address     `json:"address,omitempty"`
	GatewayHeight *uint64             `json:"gateway_height,omitempty"`
	Result        *models.TaskResult  `json:"result,omitempty"`
	Amount        *math.Int           `json:"amount,omitempty"`
	Limit         *uint32             `json:"limit,omitempty"`
	Batch         *models.BatchConfig `json:"batch,omitempty"`
}

// EventSink receives committed events in order. Publish is called with
// the engine lock held and must not block.
type EventSink interface {
	Publish(events ...Event)
}

func ptr[T any](v T) *T {
	return &v
}
