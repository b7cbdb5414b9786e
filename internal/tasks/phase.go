package tasks

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"tasknode/internal/gmp"
	"tasknode/internal/models"
)

// startPhase records the entry height of phase. Entering Write picks the
// member that will broadcast.
func (e *Engine) startPhase(shard models.ShardID, id models.TaskID, phase models.Phase) {
	e.phaseStart.Set(phaseKey{id, phase}, e.block.Get())
	if phase == models.PhaseWrite {
		if signer, ok := e.nextSigner(shard); ok {
			e.signers.Set(id, signer)
		}
	}
	e.logger.Debug("Phase started",
		zap.Uint64("task_id", uint64(id)),
		zap.Uint64("shard_id", uint64(shard)),
		zap.Stringer("phase", phase))
}

// nextSigner rotates through the members of shard
func (e *Engine) nextSigner(shard models.ShardID) (models.AccountID, bool) {
	members := e.shards.ShardMembers(shard)
	if len(members) == 0 {
		return models.AccountID{}, false
	}
	i, _ := e.signerCursor.Get(shard)
	e.signerCursor.Set(shard, (i+1)%len(members))
	return members[i%len(members)], true
}

func (e *Engine) tssKey(shard models.ShardID) ([]byte, error) {
	key, ok := e.shards.TSSPublicKey(shard)
	if !ok {
		return nil, fmt.Errorf("%w: %d has no public key", ErrUnknownShard, shard)
	}
	return key, nil
}

func (e *Engine) verify(shard models.ShardID, digest common.Hash, sig []byte) error {
	key, err := e.tssKey(shard)
	if err != nil {
		return err
	}
	ok, err := gmp.Verify(key, digest, sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !ok {
		return ErrSignatureVerificationFailed
	}
	return nil
}

// SigningPreimage returns the bytes a shard signs in the Sign phase of id
func (e *Engine) SigningPreimage(id models.TaskID) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	task, err := e.mustTask(id)
	if err != nil {
		return nil, err
	}
	gateway, ok := e.gateways.Get(task.Network)
	if !ok {
		return nil, ErrGatewayNotRegistered
	}
	return gmp.SigningPreimage(task, gateway, e.tssKey)
}

// SubmitSignature stores the shard signature over the gateway digest of
// id and moves the task to Write
func (e *Engine) SubmitSignature(id models.TaskID, signature []byte) error {
	return e.commit(func() error {
		task, err := e.mustTask(id)
		if err != nil {
			return err
		}
		if phase, _ := e.phases.Get(id); phase != models.PhaseSign {
			return ErrNotSignPhase
		}
		if e.signatures.Has(id) {
			return ErrTaskSigned
		}
		shard, ok := e.taskShard.Get(id)
		if !ok {
			return ErrUnassignedTask
		}
		gateway, ok := e.gateways.Get(task.Network)
		if !ok {
			return ErrGatewayNotRegistered
		}

		digest, err := gmp.Digest(task, gateway, e.tssKey)
		if err != nil {
			return err
		}
		if err := e.verify(shard, digest, signature); err != nil {
			return err
		}

		e.signatures.Set(id, append([]byte(nil), signature...))
		e.phases.Set(id, models.PhaseWrite)
		e.startPhase(shard, id, models.PhaseWrite)
		return nil
	})
}

// SubmitHash records the Write phase outcome reported by the task signer.
// A failed broadcast finishes the task without a Read phase.
func (e *Engine) SubmitHash(caller models.AccountID, id models.TaskID, result models.WriteResult) error {
	return e.commit(func() error {
		task, err := e.mustTask(id)
		if err != nil {
			return err
		}
		if phase, _ := e.phases.Get(id); phase != models.PhaseWrite {
			return ErrNotWritePhase
		}
		shard, ok := e.taskShard.Get(id)
		if !ok {
			return ErrUnassignedTask
		}
		if signer, ok := e.signers.Get(id); !ok || signer != caller {
			return ErrInvalidSigner
		}

		if result.Failed() {
			e.finishTask(task, models.TaskResult{
				ShardID: shard,
				Payload: models.ErrorPayload(result.Error),
			})
			e.schedule(task.Network, &shard)
			return nil
		}

		cfg, _ := e.rewards.Get(id)
		start, _ := e.phaseStart.Get(phaseKey{id, models.PhaseWrite})
		reward := ApplyDecay(e.block.Get(), start, cfg.WriteReward, cfg.Depreciation)
		e.payouts.Set(payoutKey{id, caller}, reward)

		e.hashes.Set(id, result.Hash)
		e.phases.Set(id, models.PhaseRead)
		e.startPhase(shard, id, models.PhaseRead)
		return nil
	})
}

// SubmitResult finishes id with a signed result. Submitting for a task
// that already has an output is a no-op.
func (e *Engine) SubmitResult(id models.TaskID, result models.TaskResult) error {
	return e.commit(func() error {
		task, err := e.mustTask(id)
		if err != nil {
			return err
		}
		if e.outputs.Has(id) {
			return nil
		}
		if phase, _ := e.phases.Get(id); phase != models.PhaseRead {
			return ErrNotReadPhase
		}
		shard, ok := e.taskShard.Get(id)
		if !ok {
			return ErrUnassignedTask
		}
		if result.ShardID != shard {
			return ErrInvalidOwner
		}
		if err := e.verify(shard, result.Payload.Digest(id), result.Signature); err != nil {
			return err
		}

		e.payout(task, shard)
		e.finishTask(task, result)

		if err := e.afterResult(task, result); err != nil {
			return err
		}

		e.schedule(task.Network, &shard)
		return nil
	})
}

// afterResult applies the gateway side effects of a completed task
func (e *Engine) afterResult(task models.Task, result models.TaskResult) error {
	switch fn := task.Function.(type) {
	case models.RegisterShard:
		if !result.Payload.IsError() {
			e.registered.Set(fn.ShardID, struct{}{})
			e.schedule(task.Network, &fn.ShardID)
		}

	case models.ReadMessages:
		if result.Payload.IsError() {
			// retry the same window
			return e.startReadMessages(task.Network, task.Start, fn.BatchSize, task.ShardSize)
		}
		for _, msg := range result.Payload.Messages {
			if _, err := e.spawnTask(msg.DestNetwork, models.SendMessage{Msg: msg}, task.ShardSize, e.block.Get()); err != nil {
				return fmt.Errorf("failed to relay message: %w", err)
			}
			e.schedule(msg.DestNetwork, nil)
		}
		next := task.Start + fn.BatchSize
		e.recvHorizon.Set(task.Network, next)
		return e.startReadMessages(task.Network, next, e.batchOf(task.Network).Size, task.ShardSize)
	}
	return nil
}

// finishTask sets the output of task and releases it from the queue or
// its shard
func (e *Engine) finishTask(task models.Task, result models.TaskResult) {
	id := task.ID
	e.outputs.Set(id, result)
	e.unfinished.Delete(id)
	e.unqueue(task.Network, id)
	e.unassign(id)

	if rt, ok := e.readTask.Get(task.Network); ok && rt == id {
		e.readTask.Delete(task.Network)
	}
	switch fn := task.Function.(type) {
	case models.RegisterShard:
		if rt, ok := e.registerTask.Get(fn.ShardID); ok && rt == id {
			e.registerTask.Delete(fn.ShardID)
		}
	}

	e.emit(Event{Kind: EventTaskResult, TaskID: ptr(id), Result: ptr(result)})

	fields := []zap.Field{
		zap.Uint64("task_id", uint64(id)),
		zap.Uint64("shard_id", uint64(result.ShardID)),
		zap.Stringer("payload", result.Payload.Kind),
	}
	if result.Payload.IsError() {
		fields = append(fields, zap.String("error", result.Payload.Error))
	}
	e.logger.Info("Task finished", fields...)
}

// failTask finishes an unfinished task with an error payload
func (e *Engine) failTask(id models.TaskID, reason string) {
	task, ok := e.tasks.Get(id)
	if !ok || e.outputs.Has(id) {
		return
	}
	shard, _ := e.taskShard.Get(id)
	e.finishTask(task, models.TaskResult{ShardID: shard, Payload: models.ErrorPayload(reason)})
}
