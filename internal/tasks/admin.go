package tasks

import (
	"cosmossdk.io/math"
	"go.uber.org/zap"

	"tasknode/internal/models"
	"tasknode/internal/store"
)

const reasonCancelled = "task cancelled by sudo"

// SudoCancelTask fails id and puts it back in the unassigned queue
func (e *Engine) SudoCancelTask(id models.TaskID) error {
	return e.commit(func() error {
		task, err := e.mustTask(id)
		if err != nil {
			return err
		}
		e.cancel(task)
		e.schedule(task.Network, nil)
		return nil
	})
}

// SudoCancelTasks cancels up to max unfinished tasks, oldest first
func (e *Engine) SudoCancelTasks(max uint32) error {
	return e.commit(func() error {
		networks := make(map[models.Network]struct{})
		for i, id := range store.SortedKeys(e.unfinished) {
			if uint32(i) >= max {
				break
			}
			task, _ := e.tasks.Get(id)
			e.cancel(task)
			networks[task.Network] = struct{}{}
		}
		for network := range networks {
			e.schedule(network, nil)
		}
		return nil
	})
}

// cancel finishes an unfinished task with an error and re-enqueues it.
// The re-enqueued task can be assigned again even though it has an output.
func (e *Engine) cancel(task models.Task) {
	if e.outputs.Has(task.ID) {
		return
	}
	e.failTask(task.ID, reasonCancelled)
	e.enqueue(task.Network, task.ID)
	e.logger.Warn("Task cancelled", zap.Uint64("task_id", uint64(task.ID)))
}

// ResetTasks returns up to max unfinished tasks to their initial phase and
// to the queue
func (e *Engine) ResetTasks(max uint32) error {
	return e.commit(func() error {
		networks := make(map[models.Network]struct{})
		for i, id := range store.SortedKeys(e.unfinished) {
			if uint32(i) >= max {
				break
			}
			task, _ := e.tasks.Get(id)

			e.unqueue(task.Network, id)
			e.unassign(id)
			if signer, ok := e.signers.Get(id); ok {
				e.payouts.Delete(payoutKey{id, signer})
				e.signers.Delete(id)
			}
			e.signatures.Delete(id)
			e.hashes.Delete(id)
			e.phases.Set(id, models.InitialPhase(task.Function))
			e.enqueue(task.Network, id)

			networks[task.Network] = struct{}{}
		}
		for network := range networks {
			e.schedule(network, nil)
		}
		e.logger.Info("Tasks reset", zap.Uint32("max", max), zap.Int("networks", len(networks)))
		return nil
	})
}

func (e *Engine) SetShardTaskLimit(network models.Network, limit uint32) error {
	return e.commit(func() error {
		e.shardTaskLimit.Set(network, limit)
		e.emit(Event{Kind: EventShardTaskLimitSet, Network: ptr(network), Limit: ptr(limit)})
		e.schedule(network, nil)
		return nil
	})
}

func (e *Engine) SetReadTaskReward(network models.Network, amount math.Int) error {
	return e.setReward(e.readReward, EventReadTaskRewardSet, network, amount)
}

func (e *Engine) SetWriteTaskReward(network models.Network, amount math.Int) error {
	return e.setReward(e.writeReward, EventWriteTaskRewardSet, network, amount)
}

func (e *Engine) SetSendMessageTaskReward(network models.Network, amount math.Int) error {
	return e.setReward(e.sendMessageReward, EventSendMessageTaskRewardSet, network, amount)
}

func (e *Engine) setReward(m *store.Map[models.Network, math.Int], kind EventKind, network models.Network, amount math.Int) error {
	return e.commit(func() error {
		if amount.IsNil() || amount.IsNegative() {
			return ErrInvalidAmount
		}
		m.Set(network, amount)
		e.emit(Event{Kind: kind, Network: ptr(network), Amount: ptr(amount)})
		return nil
	})
}

// SetBatchSize changes the ingestion window of network. The running
// ReadMessages task keeps its window; the next one uses the new size.
func (e *Engine) SetBatchSize(network models.Network, size, offset uint64) error {
	return e.commit(func() error {
		if size == 0 {
			return ErrInvalidBatchSize
		}
		cfg := models.BatchConfig{Size: size, Offset: offset}
		e.batch.Set(network, cfg)
		e.emit(Event{Kind: EventBatchSizeSet, Network: ptr(network), Batch: ptr(cfg)})
		return nil
	})
}
