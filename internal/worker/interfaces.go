package worker

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"tasknode/internal/models"
)

// Runtime is the task engine as seen by the executor
type Runtime interface {
	OnInitialize(height uint64)
	BlockNumber() uint64
	GetShardTasks(shard models.ShardID) []models.TaskExecution
	GetTask(id models.TaskID) (models.Task, bool)
	GetTaskSigner(id models.TaskID) (models.AccountID, bool)
	GetTaskSignature(id models.TaskID) ([]byte, bool)
	GetTaskHash(id models.TaskID) (common.Hash, bool)
	GetGateway(network models.Network) (common.Address, bool)
	SigningPreimage(id models.TaskID) ([]byte, error)
	SubmitSignature(id models.TaskID, signature []byte) error
	SubmitHash(caller models.AccountID, id models.TaskID, result models.WriteResult) error
	SubmitResult(id models.TaskID, result models.TaskResult) error
}

// Membership resolves the shards the local account serves
type Membership interface {
	ShardsOf(acct models.AccountID) []models.ShardID
	TSSPublicKey(shard models.ShardID) ([]byte, bool)
}

// Signer produces threshold signatures over payloads
type Signer interface {
	Sign(ctx context.Context, shard models.ShardID, block uint64, payload []byte) (common.Hash, []byte, error)
}

// Connector executes task functions on one target network
type Connector interface {
	Network() models.Network
	BlockHeight(ctx context.Context) (uint64, error)
	Read(ctx context.Context, req models.ReadRequest) (models.ReadOutput, error)
	Write(ctx context.Context, req models.WriteRequest) (common.Hash, error)
	Simulate(ctx context.Context, req models.WriteRequest) error
}

// Indexer receives raw outputs of successful view calls
type Indexer interface {
	RecordViewResult(ctx context.Context, task models.Task, output []byte) error
}
