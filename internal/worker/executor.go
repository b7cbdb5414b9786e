package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tasknode/internal/metrics"
	"tasknode/internal/models"
)

// Constants for executor configuration
const (
	DefaultJobTimeout   = 5 * time.Minute
	DefaultHeightPoll   = 2 * time.Second
	maxErrorPayloadSize = 256
	// maxAttempts bounds retries of Sign and Read jobs. Write jobs run once.
	maxAttempts = 3
)

type jobKey struct {
	task  models.TaskID
	phase models.Phase
}

// job is an entry of the job table. A finished job stays in the table until
// its key leaves the assignment set so the same phase is not executed twice.
type job struct {
	key      jobKey
	cancel   context.CancelFunc
	attempts int
	err      error
	finished bool
}

type assignment struct {
	task  models.Task
	shard models.ShardID
	phase models.Phase
}

// ExecutorConfig wires an Executor
type ExecutorConfig struct {
	Account    models.AccountID
	Runtime    Runtime
	Members    Membership
	Signer     Signer
	Connectors map[models.Network]Connector
	// Indexer is optional
	Indexer    Indexer
	JobTimeout time.Duration
	HeightPoll time.Duration
}

// Executor runs one job per assigned (task, phase) of the local shards.
// The job table is owned by Run.
type Executor struct {
	cfg      ExecutorConfig
	blocks   <-chan uint64
	jobs     map[jobKey]*job
	finished chan *job
	done     chan struct{}
	logger   *zap.Logger
}

// NewExecutor creates an executor fed by finalized heights on blocks
func NewExecutor(cfg ExecutorConfig, blocks <-chan uint64, logger *zap.Logger) *Executor {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	if cfg.HeightPoll <= 0 {
		cfg.HeightPoll = DefaultHeightPoll
	}
	return &Executor{
		cfg:      cfg,
		blocks:   blocks,
		jobs:     make(map[jobKey]*job),
		finished: make(chan *job, 64),
		done:     make(chan struct{}),
		logger:   logger.Named("executor"),
	}
}

// Run starts the executor loop
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("Executor started",
		zap.Stringer("account", e.cfg.Account),
		zap.Int("networks", len(e.cfg.Connectors)))
	defer close(e.done)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Executor stopping", zap.Int("running_jobs", e.running()))
			for key, j := range e.jobs {
				j.cancel()
				delete(e.jobs, key)
			}
			metrics.JobsRunning.Set(0)
			return nil

		case block, ok := <-e.blocks:
			if !ok {
				e.logger.Info("Block channel closed, executor stopping")
				return nil
			}
			e.poll(ctx, block)

		case j := <-e.finished:
			e.complete(j)
		}
	}
}

// complete marks j finished. The entry is kept while the key is assigned.
func (e *Executor) complete(j *job) {
	if cur, ok := e.jobs[j.key]; ok && cur == j {
		j.finished = true
	}
	metrics.JobsRunning.Set(float64(e.running()))
}

func (e *Executor) running() int {
	n := 0
	for _, j := range e.jobs {
		if !j.finished {
			n++
		}
	}
	return n
}

// retry reports whether a finished job may run again
func (j *job) retry() bool {
	return j.finished && j.err != nil &&
		j.key.phase != models.PhaseWrite && j.attempts < maxAttempts
}

// poll reconciles the job table with the assignments of the local shards
func (e *Executor) poll(ctx context.Context, block uint64) {
	desired := e.assignments()

	for key, j := range e.jobs {
		if _, ok := desired[key]; !ok {
			e.logger.Info("Aborting job",
				zap.Uint64("task_id", uint64(key.task)),
				zap.Stringer("phase", key.phase))
			j.cancel()
			delete(e.jobs, key)
		}
	}

	for key, a := range desired {
		attempts := 0
		if j, ok := e.jobs[key]; ok {
			if !j.retry() {
				continue
			}
			attempts = j.attempts
		}
		e.spawn(ctx, key, a, block, attempts+1)
	}
	metrics.JobsRunning.Set(float64(e.running()))
}

func (e *Executor) assignments() map[jobKey]assignment {
	desired := make(map[jobKey]assignment)
	for _, shard := range e.cfg.Members.ShardsOf(e.cfg.Account) {
		for _, ex := range e.cfg.Runtime.GetShardTasks(shard) {
			task, ok := e.cfg.Runtime.GetTask(ex.TaskID)
			if !ok {
				continue
			}
			if ex.Phase == models.PhaseWrite {
				signer, ok := e.cfg.Runtime.GetTaskSigner(ex.TaskID)
				if !ok || signer != e.cfg.Account {
					continue
				}
			}
			if ex.Phase != models.PhaseSign {
				if _, ok := e.cfg.Connectors[task.Network]; !ok {
					continue
				}
			}
			desired[jobKey{ex.TaskID, ex.Phase}] = assignment{task: task, shard: shard, phase: ex.Phase}
		}
	}
	return desired
}

func (e *Executor) spawn(ctx context.Context, key jobKey, a assignment, block uint64, attempt int) {
	jobCtx, cancel := context.WithTimeout(ctx, e.cfg.JobTimeout)
	j := &job{key: key, cancel: cancel, attempts: attempt}
	e.jobs[key] = j

	phase := a.phase.String()
	metrics.JobsStarted.WithLabelValues(phase).Inc()
	e.logger.Debug("Spawning job",
		zap.Uint64("task_id", uint64(key.task)),
		zap.Stringer("phase", a.phase),
		zap.Uint64("shard_id", uint64(a.shard)),
		zap.Uint64("block", block),
		zap.Int("attempt", attempt))

	go func() {
		defer cancel()
		start := time.Now()

		var err error
		switch a.phase {
		case models.PhaseRead:
			err = e.runRead(jobCtx, a, block)
		case models.PhaseWrite:
			err = e.runWrite(jobCtx, a)
		case models.PhaseSign:
			err = e.runSign(jobCtx, a, block)
		}

		outcome := "success"
		if err != nil {
			outcome = "error"
			if errors.Is(jobCtx.Err(), context.Canceled) {
				outcome = "aborted"
			}
			e.logger.Warn("Job failed",
				zap.Uint64("task_id", uint64(key.task)),
				zap.String("phase", phase),
				zap.Error(err))
		}
		metrics.JobsFinished.WithLabelValues(phase, outcome).Inc()
		metrics.JobDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())

		j.err = err
		select {
		case e.finished <- j:
		case <-e.done:
		}
	}()
}

// ReadHeight is the target chain height a Read phase must observe
func ReadHeight(task models.Task) uint64 {
	if fn, ok := task.Function.(models.ReadMessages); ok && fn.BatchSize > 0 {
		return task.Start + fn.BatchSize - 1
	}
	return task.Start
}

func (e *Executor) waitForHeight(ctx context.Context, conn Connector, target uint64) error {
	ticker := time.NewTicker(e.cfg.HeightPoll)
	defer ticker.Stop()

	for {
		height, err := conn.BlockHeight(ctx)
		if err == nil && height >= target {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for height %d: %w", target, ctx.Err())
		case <-ticker.C:
		}
	}
}

// runRead executes the function, signs the payload or the failure and
// submits the result
func (e *Executor) runRead(ctx context.Context, a assignment, block uint64) error {
	conn := e.cfg.Connectors[a.task.Network]
	if err := e.waitForHeight(ctx, conn, ReadHeight(a.task)); err != nil {
		return err
	}

	req := models.ReadRequest{Task: a.task}
	if hash, ok := e.cfg.Runtime.GetTaskHash(a.task.ID); ok {
		req.WriteHash = &hash
	}
	if gateway, ok := e.cfg.Runtime.GetGateway(a.task.Network); ok {
		req.Gateway = &gateway
	}

	out, readErr := conn.Read(ctx, req)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	payload := out.Payload
	if readErr != nil {
		payload = models.ErrorPayload(truncate(readErr.Error()))
	}

	_, sig, err := e.cfg.Signer.Sign(ctx, a.shard, block, payload.Bytes(a.task.ID))
	if err != nil {
		return fmt.Errorf("failed to sign result: %w", err)
	}

	if readErr == nil && e.cfg.Indexer != nil {
		if _, ok := a.task.Function.(models.EvmViewCall); ok {
			if err := e.cfg.Indexer.RecordViewResult(ctx, a.task, out.Raw); err != nil {
				e.logger.Warn("Failed to index view call output",
					zap.Uint64("task_id", uint64(a.task.ID)),
					zap.Error(err))
			}
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := e.cfg.Runtime.SubmitResult(a.task.ID, models.TaskResult{
		ShardID:   a.shard,
		Payload:   payload,
		Signature: sig,
	}); err != nil {
		return fmt.Errorf("failed to submit result: %w", err)
	}

	e.logger.Info("Result submitted",
		zap.Uint64("task_id", uint64(a.task.ID)),
		zap.Stringer("payload", payload.Kind),
		zap.Bool("error", payload.IsError()))
	return nil
}

func (e *Executor) writeRequest(task models.Task, signature []byte) models.WriteRequest {
	req := models.WriteRequest{Task: task, Signature: signature}
	if gateway, ok := e.cfg.Runtime.GetGateway(task.Network); ok {
		req.Gateway = &gateway
	}
	switch fn := task.Function.(type) {
	case models.RegisterShard:
		req.ShardKey, _ = e.cfg.Members.TSSPublicKey(fn.ShardID)
	case models.UnregisterShard:
		req.ShardKey, _ = e.cfg.Members.TSSPublicKey(fn.ShardID)
	}
	return req
}

// runWrite broadcasts the transaction and reports its hash or failure
func (e *Executor) runWrite(ctx context.Context, a assignment) error {
	conn := e.cfg.Connectors[a.task.Network]
	sig, _ := e.cfg.Runtime.GetTaskSignature(a.task.ID)

	var result models.WriteResult
	hash, err := conn.Write(ctx, e.writeRequest(a.task, sig))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		result.Error = truncate(err.Error())
	} else {
		result.Hash = hash
	}

	// a broadcast transaction is reported even if the job was aborted
	if err := e.cfg.Runtime.SubmitHash(e.cfg.Account, a.task.ID, result); err != nil {
		e.logger.Error("Failed to report write outcome",
			zap.Uint64("task_id", uint64(a.task.ID)),
			zap.String("tx_hash", result.Hash.Hex()),
			zap.String("error", result.Error),
			zap.NamedError("submit_error", err))
		return fmt.Errorf("failed to submit hash: %w", err)
	}

	e.logger.Info("Write submitted",
		zap.Uint64("task_id", uint64(a.task.ID)),
		zap.String("tx_hash", result.Hash.Hex()),
		zap.String("error", result.Error))
	return nil
}

// runSign signs the gateway digest of the task and submits the signature
func (e *Executor) runSign(ctx context.Context, a assignment, block uint64) error {
	preimage, err := e.cfg.Runtime.SigningPreimage(a.task.ID)
	if err != nil {
		return fmt.Errorf("failed to build signing preimage: %w", err)
	}

	_, sig, err := e.cfg.Signer.Sign(ctx, a.shard, block, preimage)
	if err != nil {
		return fmt.Errorf("failed to sign gateway digest: %w", err)
	}

	if conn, ok := e.cfg.Connectors[a.task.Network]; ok {
		// TODO: surface the dry-run outcome once the engine accepts a
		// rejection report for Sign phase tasks.
		_ = conn.Simulate(ctx, e.writeRequest(a.task, sig))
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := e.cfg.Runtime.SubmitSignature(a.task.ID, sig); err != nil {
		return fmt.Errorf("failed to submit signature: %w", err)
	}

	e.logger.Info("Signature submitted", zap.Uint64("task_id", uint64(a.task.ID)))
	return nil
}

func truncate(s string) string {
	if len(s) > maxErrorPayloadSize {
		return s[:maxErrorPayloadSize]
	}
	return s
}
