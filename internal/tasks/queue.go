package tasks

import (
	"slices"

	"go.uber.org/zap"

	"tasknode/internal/models"
)

// enqueue appends id to the unassigned queue of network
func (e *Engine) enqueue(network models.Network, id models.TaskID) {
	idx, _ := e.insertIndex.Get(network)
	e.unassigned.Set(queueKey{network, idx}, id)
	e.queuedAt.Set(id, idx)
	e.insertIndex.Set(network, idx+1)
}

// dequeue removes the entry at index. Removing the head advances the
// remove index past every empty slot.
func (e *Engine) dequeue(network models.Network, index uint64) {
	key := queueKey{network, index}
	id, ok := e.unassigned.Get(key)
	if !ok {
		return
	}
	e.unassigned.Delete(key)
	e.queuedAt.Delete(id)

	head, _ := e.removeIndex.Get(network)
	if index != head {
		return
	}
	tail, _ := e.insertIndex.Get(network)
	for head < tail && !e.unassigned.Has(queueKey{network, head}) {
		head++
	}
	e.removeIndex.Set(network, head)
}

// unqueue removes id from the queue if it is waiting there
func (e *Engine) unqueue(network models.Network, id models.TaskID) {
	if idx, ok := e.queuedAt.Get(id); ok {
		e.dequeue(network, idx)
	}
}

// queued returns the task ids waiting for network in insertion order
func (e *Engine) queued(network models.Network) []models.TaskID {
	head, _ := e.removeIndex.Get(network)
	tail, _ := e.insertIndex.Get(network)

	var ids []models.TaskID
	for i := head; i < tail; i++ {
		if id, ok := e.unassigned.Get(queueKey{network, i}); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func (e *Engine) assign(shard models.ShardID, id models.TaskID) {
	e.taskShard.Set(id, shard)
	current, _ := e.shardTasks.Get(shard)
	e.shardTasks.Set(shard, append(slices.Clone(current), id))

	phase, _ := e.phases.Get(id)
	e.startPhase(shard, id, phase)
}

// unassign drops the binding of id, if any
func (e *Engine) unassign(id models.TaskID) {
	shard, ok := e.taskShard.Get(id)
	if !ok {
		return
	}
	e.taskShard.Delete(id)

	current, _ := e.shardTasks.Get(shard)
	next := slices.DeleteFunc(slices.Clone(current), func(t models.TaskID) bool { return t == id })
	if len(next) == 0 {
		e.shardTasks.Delete(shard)
		return
	}
	e.shardTasks.Set(shard, next)
}

// schedule hands queued tasks of network to shards with spare capacity.
// With a shard given only that shard is considered.
func (e *Engine) schedule(network models.Network, only *models.ShardID) {
	online, _ := e.networkShards.Get(network)
	candidates := online
	if only != nil {
		if !slices.Contains(online, *only) {
			return
		}
		candidates = []models.ShardID{*only}
	}

	limit := int(e.shardTaskLimitOf(network))

	for _, shard := range candidates {
		assigned, _ := e.shardTasks.Get(shard)
		capacity := limit - len(assigned)
		if capacity <= 0 {
			continue
		}

		members := len(e.shards.ShardMembers(shard))
		registered := e.registered.Has(shard)

		type slot struct {
			index uint64
			id    models.TaskID
		}
		var picked []slot

		head, _ := e.removeIndex.Get(network)
		tail, _ := e.insertIndex.Get(network)
		for i := head; i < tail && len(picked) < capacity; i++ {
			id, ok := e.unassigned.Get(queueKey{network, i})
			if !ok {
				continue
			}
			task, _ := e.tasks.Get(id)
			if int(task.ShardSize) != members {
				continue
			}
			if phase, _ := e.phases.Get(id); phase == models.PhaseSign && !registered {
				continue
			}
			picked = append(picked, slot{i, id})
		}

		for _, s := range picked {
			e.dequeue(network, s.index)
			e.assign(shard, s.id)
			e.logger.Debug("Task assigned",
				zap.Uint64("task_id", uint64(s.id)),
				zap.Uint64("shard_id", uint64(shard)))
		}
	}
}
