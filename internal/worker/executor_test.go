package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tasknode/internal/models"
	"tasknode/internal/shards"
	"tasknode/internal/tasks"
	"tasknode/internal/tss"
)

const (
	testNetwork models.Network = 5
	shardKey                   = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
)

type fakeConnector struct {
	mu      sync.Mutex
	height  uint64
	out     []byte
	readErr error
	hash    common.Hash
	writes  []models.WriteRequest
	reads   []models.ReadRequest
}

func (f *fakeConnector) Network() models.Network { return testNetwork }

func (f *fakeConnector) BlockHeight(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.height, nil
}

func (f *fakeConnector) Read(_ context.Context, req models.ReadRequest) (models.ReadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, req)
	if f.readErr != nil {
		return models.ReadOutput{}, f.readErr
	}
	return models.ReadOutput{Payload: models.HashedPayload(crypto.Keccak256Hash(f.out)), Raw: f.out}, nil
}

func (f *fakeConnector) Write(_ context.Context, req models.WriteRequest) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, req)
	return f.hash, nil
}

func (f *fakeConnector) Simulate(context.Context, models.WriteRequest) error { return nil }

func (f *fakeConnector) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

type fakeIndexer struct {
	mu      sync.Mutex
	outputs map[models.TaskID][]byte
}

func (f *fakeIndexer) RecordViewResult(_ context.Context, task models.Task, output []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputs[task.ID] = output
	return nil
}

func (f *fakeIndexer) get(id models.TaskID) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out, ok := f.outputs[id]
	return out, ok
}

func member(b byte) models.AccountID {
	var a models.AccountID
	a[31] = b
	return a
}

type testNode struct {
	t         *testing.T
	engine    *tasks.Engine
	registry  *shards.Registry
	connector *fakeConnector
	indexer   *fakeIndexer
	executor  *Executor
	blocks    chan uint64
	funder    models.AccountID
	height    uint64
}

// newTestNode runs a two member shard on testNetwork. The local account is
// the member at index local.
func newTestNode(t *testing.T, local int) *testNode {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	signer := tss.NewSigner(time.Second, zap.NewNop())
	require.NoError(t, signer.AddKey(1, shardKey))
	go signer.Run(ctx)
	pub, ok := signer.PublicKey(1)
	require.True(t, ok)

	members := []models.AccountID{member(1), member(2)}
	registry := shards.NewRegistry(zap.NewNop())
	require.NoError(t, registry.Add(shards.Shard{ID: 1, Network: testNetwork, Members: members, PublicKey: pub}))

	engine := tasks.NewEngine(registry, tasks.DefaultParams(), nil, zap.NewNop())
	registry.SetListener(engine)
	require.NoError(t, registry.SetOnline(1))

	funder := member(0xf0)
	require.NoError(t, engine.Fund(funder, math.NewInt(1_000_000)))

	connector := &fakeConnector{height: 1_000, out: []byte{0xca, 0xfe}, hash: common.HexToHash("0x77")}
	indexer := &fakeIndexer{outputs: make(map[models.TaskID][]byte)}
	blocks := make(chan uint64, 16)

	executor := NewExecutor(ExecutorConfig{
		Account:    members[local],
		Runtime:    engine,
		Members:    registry,
		Signer:     signer,
		Connectors: map[models.Network]Connector{testNetwork: connector},
		Indexer:    indexer,
		JobTimeout: 5 * time.Second,
		HeightPoll: 10 * time.Millisecond,
	}, blocks, zap.NewNop())

	return &testNode{
		t:         t,
		engine:    engine,
		registry:  registry,
		connector: connector,
		indexer:   indexer,
		executor:  executor,
		blocks:    blocks,
		funder:    funder,
	}
}

func (n *testNode) run() {
	ctx, cancel := context.WithCancel(context.Background())
	n.t.Cleanup(cancel)
	go n.executor.Run(ctx)
}

func (n *testNode) createTask(fn models.Function, start uint64) models.TaskID {
	n.t.Helper()
	id, err := n.engine.CreateTask(testNetwork, fn, 2, start, math.ZeroInt(), tasks.AccountFunder(n.funder))
	require.NoError(n.t, err)
	return id
}

// waitForResult keeps producing blocks until the task has an output
func (n *testNode) waitForResult(id models.TaskID) models.TaskResult {
	n.t.Helper()
	require.Eventually(n.t, func() bool {
		n.height++
		n.engine.OnInitialize(n.height)
		select {
		case n.blocks <- n.height:
		default:
		}
		_, ok := n.engine.GetTaskResult(id)
		return ok
	}, 5*time.Second, 20*time.Millisecond)

	result, _ := n.engine.GetTaskResult(id)
	return result
}

func TestExecutorViewCall(t *testing.T) {
	n := newTestNode(t, 0)
	n.run()

	id := n.createTask(models.EvmViewCall{Address: common.HexToAddress("0x01")}, 10)
	result := n.waitForResult(id)

	require.Equal(t, models.ShardID(1), result.ShardID)
	require.Equal(t, models.HashedPayload(crypto.Keccak256Hash([]byte{0xca, 0xfe})), result.Payload)

	out, ok := n.indexer.get(id)
	require.True(t, ok)
	require.Equal(t, []byte{0xca, 0xfe}, out)
}

func TestExecutorReadFailureIsSigned(t *testing.T) {
	n := newTestNode(t, 1)
	n.connector.readErr = errors.New("rpc unavailable")
	n.run()

	id := n.createTask(models.EvmViewCall{}, 0)
	result := n.waitForResult(id)

	require.True(t, result.Payload.IsError())
	require.Equal(t, "rpc unavailable", result.Payload.Error)

	_, ok := n.indexer.get(id)
	require.False(t, ok)
}

func TestExecutorWriteThenRead(t *testing.T) {
	n := newTestNode(t, 0)
	n.run()

	id := n.createTask(models.EvmCall{Address: common.HexToAddress("0x02"), Amount: math.NewInt(1)}, 0)
	result := n.waitForResult(id)

	require.False(t, result.Payload.IsError())
	require.Equal(t, 1, n.connector.writeCount())

	hash, ok := n.engine.GetTaskHash(id)
	require.True(t, ok)
	require.Equal(t, common.HexToHash("0x77"), hash)

	n.connector.mu.Lock()
	defer n.connector.mu.Unlock()
	last := n.connector.reads[len(n.connector.reads)-1]
	require.NotNil(t, last.WriteHash)
	require.Equal(t, hash, *last.WriteHash)
}

func TestExecutorSkipsWriteOfOtherSigner(t *testing.T) {
	n := newTestNode(t, 1)

	id := n.createTask(models.EvmCall{Address: common.HexToAddress("0x02"), Amount: math.NewInt(1)}, 0)
	signer, ok := n.engine.GetTaskSigner(id)
	require.True(t, ok)
	require.Equal(t, member(1), signer)

	require.Empty(t, n.executor.assignments())
}

func TestExecutorAbortsUnassignedJob(t *testing.T) {
	n := newTestNode(t, 0)
	n.connector.height = 0

	id := n.createTask(models.EvmViewCall{}, 500)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n.executor.poll(ctx, 1)
	require.Len(t, n.executor.jobs, 1)
	require.Contains(t, n.executor.jobs, jobKey{id, models.PhaseRead})

	require.NoError(t, n.registry.SetOffline(1))
	n.executor.poll(ctx, 2)
	require.Empty(t, n.executor.jobs)

	select {
	case j := <-n.executor.finished:
		require.Equal(t, jobKey{id, models.PhaseRead}, j.key)
	case <-time.After(2 * time.Second):
		t.Fatal("aborted job did not finish")
	}

	_, ok := n.engine.GetTaskResult(id)
	require.False(t, ok)
}

func TestReadHeight(t *testing.T) {
	tests := []struct {
		name string
		task models.Task
		want uint64
	}{
		{"view call", models.Task{Start: 10, Function: models.EvmViewCall{}}, 10},
		{"batch", models.Task{Start: 64, Function: models.ReadMessages{BatchSize: 32}}, 95},
		{"empty batch", models.Task{Start: 64, Function: models.ReadMessages{}}, 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ReadHeight(tt.task))
		})
	}
}

// flakyRuntime fails the first submissions of hashes and results
type flakyRuntime struct {
	*tasks.Engine
	mu           sync.Mutex
	hashFailures int
	resultErr    error
}

func (r *flakyRuntime) SubmitHash(caller models.AccountID, id models.TaskID, result models.WriteResult) error {
	r.mu.Lock()
	if r.hashFailures > 0 {
		r.hashFailures--
		r.mu.Unlock()
		return errors.New("node unavailable")
	}
	r.mu.Unlock()
	return r.Engine.SubmitHash(caller, id, result)
}

func (r *flakyRuntime) SubmitResult(id models.TaskID, result models.TaskResult) error {
	if r.resultErr != nil {
		return r.resultErr
	}
	return r.Engine.SubmitResult(id, result)
}

// step polls once and waits for the spawned job, if any, to finish
func (n *testNode) step(ctx context.Context, key jobKey) {
	n.t.Helper()
	n.height++
	n.executor.poll(ctx, n.height)

	j, ok := n.executor.jobs[key]
	if !ok || j.finished {
		return
	}
	select {
	case done := <-n.executor.finished:
		n.executor.complete(done)
	case <-time.After(2 * time.Second):
		n.t.Fatal("job did not finish")
	}
}

func (n *testNode) readCount() int {
	n.connector.mu.Lock()
	defer n.connector.mu.Unlock()
	return len(n.connector.reads)
}

func TestExecutorWriteIsNotRepeatedAfterFailedReport(t *testing.T) {
	n := newTestNode(t, 0)
	n.executor.cfg.Runtime = &flakyRuntime{Engine: n.engine, hashFailures: 1}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id := n.createTask(models.EvmCall{Address: common.HexToAddress("0x02"), Amount: math.NewInt(1)}, 0)
	key := jobKey{id, models.PhaseWrite}

	n.step(ctx, key)
	first := n.executor.jobs[key]
	require.NotNil(t, first)
	require.True(t, first.finished)
	require.Error(t, first.err)

	for i := 0; i < 5; i++ {
		n.step(ctx, key)
	}
	require.Equal(t, 1, n.connector.writeCount())
	require.Same(t, first, n.executor.jobs[key])
	require.Equal(t, 0, n.executor.running())

	phase, ok := n.engine.GetTaskPhase(id)
	require.True(t, ok)
	require.Equal(t, models.PhaseWrite, phase)
}

func TestExecutorFinishedJobIsNotRespawned(t *testing.T) {
	n := newTestNode(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id := n.createTask(models.EvmViewCall{Address: common.HexToAddress("0x01")}, 0)
	require.NoError(t, n.engine.SudoCancelTask(id))
	key := jobKey{id, models.PhaseRead}

	for i := 0; i < 10; i++ {
		n.step(ctx, key)
	}

	require.Contains(t, n.engine.GetShardTasks(1), models.TaskExecution{TaskID: id, Phase: models.PhaseRead})
	require.Equal(t, 1, n.readCount())
	require.True(t, n.executor.jobs[key].finished)
	require.NoError(t, n.executor.jobs[key].err)
}

func TestExecutorRetriesFailedReadBounded(t *testing.T) {
	n := newTestNode(t, 0)
	n.executor.cfg.Runtime = &flakyRuntime{Engine: n.engine, resultErr: errors.New("node unavailable")}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id := n.createTask(models.EvmViewCall{Address: common.HexToAddress("0x01")}, 0)
	key := jobKey{id, models.PhaseRead}

	for i := 0; i < 2*maxAttempts; i++ {
		n.step(ctx, key)
	}

	require.Equal(t, maxAttempts, n.readCount())
	require.Equal(t, maxAttempts, n.executor.jobs[key].attempts)
	_, ok := n.engine.GetTaskResult(id)
	require.False(t, ok)
}
