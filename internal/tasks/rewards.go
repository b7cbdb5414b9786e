package tasks

import (
	"cosmossdk.io/math"
	"go.uber.org/zap"

	"tasknode/internal/models"
)

// ApplyDecay reduces amount by rate.Percent of what remains for every full
// rate.Blocks elapsed between start and now. Each step truncates, so once
// the cut rounds to zero the amount stops decaying.
func ApplyDecay(now, start uint64, amount math.Int, rate models.DepreciationRate) math.Int {
	if amount.IsNil() {
		return math.ZeroInt()
	}
	if rate.Blocks == 0 || now <= start || rate.Percent.IsNil() || !rate.Percent.IsPositive() {
		return amount
	}

	periods := (now - start) / rate.Blocks
	remaining := amount
	for i := uint64(0); i < periods && remaining.IsPositive(); i++ {
		cut := rate.Percent.MulInt(remaining).TruncateInt()
		if cut.IsZero() {
			break
		}
		remaining = remaining.Sub(math.MinInt(cut, remaining))
	}
	return remaining
}

// payout pays the read reward, and the send-message reward for tasks that
// went through Sign, to every member of shard, then drains the signer
// payout recorded in Write
func (e *Engine) payout(task models.Task, shard models.ShardID) {
	id := task.ID
	cfg, _ := e.rewards.Get(id)
	now := e.block.Get()
	start, _ := e.phaseStart.Get(phaseKey{id, models.PhaseRead})

	reward := ApplyDecay(now, start, cfg.ReadReward, cfg.Depreciation)
	if models.InitialPhase(task.Function) == models.PhaseSign {
		reward = reward.Add(ApplyDecay(now, start, cfg.SendMessageReward, cfg.Depreciation))
	}

	members := e.shards.ShardMembers(shard)
	for _, m := range members {
		e.pay(id, m, reward)
	}

	if signer, ok := e.signers.Get(id); ok {
		key := payoutKey{id, signer}
		if amount, ok := e.payouts.Get(key); ok {
			e.payouts.Delete(key)
			e.pay(id, signer, amount)
		}
	}

	e.logger.Debug("Rewards paid",
		zap.Uint64("task_id", uint64(id)),
		zap.Int("members", len(members)),
		zap.String("member_reward", reward.String()))
}
