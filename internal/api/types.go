package api

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"tasknode/internal/models"
)

// ==================== Tasks ====================

// FunderRequest selects who pays for a task
type FunderRequest struct {
	Kind    string `json:"kind"` // "account" (default) or "shard" (admin only)
	Account string `json:"account,omitempty"`
	Shard   uint64 `json:"shard,omitempty"`
}

// CreateTaskRequest represents a request to create a task
type CreateTaskRequest struct {
	Network   uint16          `json:"network"`
	Function  json.RawMessage `json:"function"` // {"kind": ..., "params": {...}}
	ShardSize uint16          `json:"shard_size"`
	Start     uint64          `json:"start"`
	Funds     string          `json:"funds,omitempty"` // extra escrow in base units
	Funder    FunderRequest   `json:"funder"`
}

// CreateTaskResponse represents the id of a new task
type CreateTaskResponse struct {
	TaskID uint64 `json:"task_id"`
}

// TaskResponse represents the full state of a task
type TaskResponse struct {
	TaskID    uint64             `json:"task_id"`
	Network   uint16             `json:"network"`
	Owner     *models.AccountID  `json:"owner,omitempty"`
	Function  json.RawMessage    `json:"function"`
	ShardSize uint16             `json:"shard_size"`
	Start     uint64             `json:"start"`
	Phase     models.Phase       `json:"phase"`
	Shard     *models.ShardID    `json:"shard,omitempty"`
	Signer    *models.AccountID  `json:"signer,omitempty"`
	WriteHash *common.Hash       `json:"write_hash,omitempty"`
	Result    *models.TaskResult `json:"result,omitempty"`
	Escrow    string             `json:"escrow"`
}

// PhaseResponse represents the current phase of a task
type PhaseResponse struct {
	TaskID uint64       `json:"task_id"`
	Phase  models.Phase `json:"phase"`
}

// ResultResponse represents the output of a task
type ResultResponse struct {
	TaskID   uint64             `json:"task_id"`
	Finished bool               `json:"finished"`
	Result   *models.TaskResult `json:"result,omitempty"`
	Output   hexutil.Bytes      `json:"output,omitempty"` // raw view call output
}

// TaskEventsResponse represents the indexed history of a task
type TaskEventsResponse struct {
	TaskID uint64                   `json:"task_id"`
	Events []models.TaskEventRecord `json:"events"`
}

// ==================== Submissions ====================

// SubmitSignatureRequest carries a shard signature for a Sign phase task
type SubmitSignatureRequest struct {
	Signature hexutil.Bytes `json:"signature"`
}

// SubmitHashRequest carries the outcome of a Write phase broadcast
// The reporting account is the one that signed the request.
type SubmitHashRequest struct {
	Hash  common.Hash `json:"hash"`
	Error string      `json:"error,omitempty"`
}

// SubmitResultRequest carries a signed Read phase result
type SubmitResultRequest struct {
	ShardID   uint64         `json:"shard_id"`
	Payload   models.Payload `json:"payload"`
	Signature hexutil.Bytes  `json:"signature"`
}

// ==================== Shards and Networks ====================

// ShardTasksResponse represents the assignments of a shard
type ShardTasksResponse struct {
	ShardID uint64                 `json:"shard_id"`
	Tasks   []models.TaskExecution `json:"tasks"`
}

// GatewayResponse represents the gateway of a network
type GatewayResponse struct {
	Network uint16         `json:"network"`
	Address common.Address `json:"address"`
}

// QueueResponse represents the scheduling state of a network
type QueueResponse struct {
	Network        uint16              `json:"network"`
	Unassigned     []models.TaskID     `json:"unassigned"`
	RecvHorizon    *uint64             `json:"recv_horizon,omitempty"`
	ShardTaskLimit uint32              `json:"shard_task_limit"`
	Rewards        models.RewardConfig `json:"rewards"`
	Batch          models.BatchConfig  `json:"batch"`
}

// ==================== Fee Calculation ====================

// CalculateFeeRequest represents a request for a funding quote
type CalculateFeeRequest struct {
	Network   uint16          `json:"network"`
	Function  json.RawMessage `json:"function"`
	ShardSize uint16          `json:"shard_size"`
}

// CalculateFeeResponse represents the escrow a task needs
type CalculateFeeResponse struct {
	InitialPhase      models.Phase `json:"initial_phase"`
	RequiredFunds     string       `json:"required_funds"`
	ReadReward        string       `json:"read_reward"`
	WriteReward       string       `json:"write_reward"`
	SendMessageReward string       `json:"send_message_reward"`
}

// ==================== Admin ====================

// RegisterGatewayRequest represents a gateway installation
type RegisterGatewayRequest struct {
	Bootstrap uint64         `json:"bootstrap"`
	Address   common.Address `json:"address"`
	Height    uint64         `json:"height"`
}

// LimitRequest bounds a bulk admin operation
type LimitRequest struct {
	Limit uint32 `json:"limit"`
}

// NetworkParamsRequest changes network parameters. Omitted fields are kept.
type NetworkParamsRequest struct {
	ShardTaskLimit    *uint32 `json:"shard_task_limit,omitempty"`
	ReadReward        *string `json:"read_reward,omitempty"`
	WriteReward       *string `json:"write_reward,omitempty"`
	SendMessageReward *string `json:"send_message_reward,omitempty"`
	BatchSize         *uint64 `json:"batch_size,omitempty"`
	BatchOffset       *uint64 `json:"batch_offset,omitempty"`
}

// StatusResponse acknowledges a state change
type StatusResponse struct {
	Status string `json:"status"`
}

// ==================== Error Response ====================

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==================== Health Check ====================

// HealthResponse represents health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Height  uint64 `json:"height"`
}
