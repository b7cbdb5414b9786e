package service

import (
	"context"
	"errors"
	"testing"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tasknode/internal/models"
	"tasknode/internal/shards"
	"tasknode/internal/tasks"
)

func account(b byte) models.AccountID {
	var a models.AccountID
	a[31] = b
	return a
}

func newTaskService(t *testing.T) (*TaskService, *tasks.Engine, models.AccountID) {
	t.Helper()
	registry := shards.NewRegistry(zap.NewNop())
	engine := tasks.NewEngine(registry, tasks.DefaultParams(), nil, zap.NewNop())
	registry.SetListener(engine)

	require.NoError(t, registry.Add(shards.Shard{
		ID:      1,
		Network: 1,
		Members: []models.AccountID{account(1), account(2)},
	}))
	require.NoError(t, registry.SetOnline(1))

	funder := account(0xf0)
	require.NoError(t, engine.Fund(funder, math.NewInt(100_000)))

	return NewTaskService(engine, nil, zap.NewNop()), engine, funder
}

func TestTaskServiceCreateAndGet(t *testing.T) {
	svc, _, funder := newTaskService(t)

	id, err := svc.CreateTask(CreateTaskParams{
		Network:   1,
		Function:  models.EvmViewCall{Address: common.HexToAddress("0x01")},
		ShardSize: 2,
		Funds:     math.ZeroInt(),
		Funder:    tasks.AccountFunder(funder),
	})
	require.NoError(t, err)

	status, err := svc.GetTask(id)
	require.NoError(t, err)
	require.Equal(t, models.PhaseRead, status.Phase)
	require.NotNil(t, status.Shard)
	require.Equal(t, models.ShardID(1), *status.Shard)
	require.Nil(t, status.Result)
	require.True(t, status.Escrow.Equal(math.NewInt(2*tasks.DefaultReadReward)))

	out, err := svc.GetTaskResult(context.Background(), id)
	require.NoError(t, err)
	require.Nil(t, out)

	require.Equal(t, []models.TaskExecution{{TaskID: id, Phase: models.PhaseRead}}, svc.ShardTasks(1))
}

func TestTaskServiceErrors(t *testing.T) {
	svc, _, funder := newTaskService(t)

	_, err := svc.CreateTask(CreateTaskParams{
		Network:   1,
		Function:  models.EvmViewCall{},
		ShardSize: 3,
		Funder:    tasks.AccountFunder(funder),
	})
	require.ErrorIs(t, err, tasks.ErrMatchingShardNotOnline)

	_, err = svc.CreateTask(CreateTaskParams{Network: 1, ShardSize: 2, Funder: tasks.AccountFunder(funder)})
	require.Error(t, err)

	_, err = svc.GetTask(42)
	require.True(t, tasks.IsNotFound(err))

	_, err = svc.GetTaskPhase(42)
	require.True(t, tasks.IsNotFound(err))

	_, err = svc.GetTaskEvents(context.Background(), 0)
	require.Error(t, err)
}

func TestTaskServiceUpdateNetworkParams(t *testing.T) {
	svc, _, _ := newTaskService(t)

	limit := uint32(3)
	reward := math.NewInt(7)
	require.NoError(t, svc.UpdateNetworkParams(1, NetworkParamsUpdate{
		ShardTaskLimit: &limit,
		ReadReward:     &reward,
		Batch:          &models.BatchConfig{Size: 64, Offset: 1},
	}))

	q := svc.Queue(1)
	require.Equal(t, uint32(3), q.ShardTaskLimit)
	require.True(t, q.Rewards.ReadReward.Equal(reward))
	require.Equal(t, models.BatchConfig{Size: 64, Offset: 1}, q.Batch)
	require.Nil(t, q.RecvHorizon)

	err := svc.UpdateNetworkParams(1, NetworkParamsUpdate{Batch: &models.BatchConfig{}})
	require.True(t, errors.Is(err, tasks.ErrInvalidBatchSize))

	negative := math.NewInt(-1)
	err = svc.UpdateNetworkParams(1, NetworkParamsUpdate{WriteReward: &negative})
	require.ErrorIs(t, err, tasks.ErrInvalidAmount)
}

func TestTaskServiceRegisterGateway(t *testing.T) {
	svc, _, _ := newTaskService(t)
	gateway := common.HexToAddress("0x9a7e")

	require.NoError(t, svc.RegisterGateway(1, gateway, 100))

	got, ok := svc.Gateway(1)
	require.True(t, ok)
	require.Equal(t, gateway, got)
	require.NotNil(t, svc.Queue(1).RecvHorizon)

	require.True(t, tasks.IsNotFound(svc.RegisterGateway(9, gateway, 100)))

	require.NoError(t, svc.UnregisterGateways(10))
	_, ok = svc.Gateway(1)
	require.False(t, ok)
}
