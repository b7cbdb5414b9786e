package tasks

import (
	"fmt"

	"cosmossdk.io/math"
	"go.uber.org/zap"

	"tasknode/internal/models"
)

// FunderKind selects who pays for a task
type FunderKind uint8

const (
	FundAccount FunderKind = iota + 1
	FundShard
	FundInflation
)

func (k FunderKind) String() string {
	switch k {
	case FundAccount:
		return "account"
	case FundShard:
		return "shard"
	case FundInflation:
		return "inflation"
	default:
		return fmt.Sprintf("funder(%d)", uint8(k))
	}
}

// Funder pays the rewards of a task into its escrow
type Funder struct {
	Kind    FunderKind
	Account models.AccountID
	Shard   models.ShardID
}

func AccountFunder(acct models.AccountID) Funder {
	return Funder{Kind: FundAccount, Account: acct}
}

func ShardFunder(shard models.ShardID) Funder {
	return Funder{Kind: FundShard, Shard: shard}
}

func InflationFunder() Funder {
	return Funder{Kind: FundInflation}
}

// CreateTask registers a task for network. A shard of exactly shardSize
// members must be online. Inflation funding is reserved for tasks the
// engine spawns itself.
func (e *Engine) CreateTask(
	network models.Network,
	fn models.Function,
	shardSize uint16,
	start uint64,
	funds math.Int,
	funder Funder,
) (models.TaskID, error) {
	var id models.TaskID
	err := e.commit(func() error {
		if funder.Kind == FundInflation {
			return fmt.Errorf("%w: inflation funding is internal", ErrInvalidFunder)
		}
		if !e.shards.MatchingShardOnline(network, shardSize) {
			return ErrMatchingShardNotOnline
		}
		var err error
		id, err = e.createTask(network, fn, shardSize, start, funds, funder)
		if err != nil {
			return err
		}
		e.schedule(network, nil)
		return nil
	})
	return id, err
}

// RequiredFunds returns the minimum escrow for a task under the current
// parameters of network
func (e *Engine) RequiredFunds(network models.Network, fn models.Function, shardSize uint16) math.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.requiredFunds(network, fn, shardSize)
}

func (e *Engine) requiredFunds(network models.Network, fn models.Function, shardSize uint16) math.Int {
	cfg := e.rewardConfig(network)
	size := math.NewInt(int64(shardSize))

	required := cfg.ReadReward.Mul(size)
	switch models.InitialPhase(fn) {
	case models.PhaseSign:
		required = required.Add(cfg.WriteReward).Add(cfg.SendMessageReward.Mul(size))
	case models.PhaseWrite:
		required = required.Add(cfg.WriteReward)
	}
	return required
}

func (e *Engine) createTask(
	network models.Network,
	fn models.Function,
	shardSize uint16,
	start uint64,
	funds math.Int,
	funder Funder,
) (models.TaskID, error) {
	if fn == nil {
		return 0, fmt.Errorf("task function is required")
	}
	if rm, ok := fn.(models.ReadMessages); ok && rm.BatchSize == 0 {
		return 0, ErrInvalidBatchSize
	}
	if funds.IsNil() {
		funds = math.ZeroInt()
	}
	if funds.IsNegative() {
		return 0, ErrInvalidAmount
	}

	id := e.nextTaskID.Get()
	required := e.requiredFunds(network, fn, shardSize)

	task := models.Task{
		ID:        id,
		Network:   network,
		Function:  fn,
		ShardSize: shardSize,
		Start:     start,
	}

	switch funder.Kind {
	case FundAccount:
		amount := math.MaxInt(funds, required)
		balance := e.balanceOf(e.balances, funder.Account)
		if balance.LT(amount) {
			return 0, fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, balance, amount)
		}
		e.balances.Set(funder.Account, balance.Sub(amount))
		e.escrow.Set(id, amount)
		owner := funder.Account
		task.Owner = &owner

	case FundShard:
		if err := e.pullStake(id, funder.Shard, math.MaxInt(funds, required)); err != nil {
			return 0, err
		}

	case FundInflation:
		e.issuance.Set(e.issuance.Get().Add(required))
		e.escrow.Set(id, required)

	default:
		return 0, ErrInvalidFunder
	}

	e.nextTaskID.Set(id + 1)
	e.tasks.Set(id, task)
	e.phases.Set(id, models.InitialPhase(fn))
	e.unfinished.Set(id, struct{}{})
	e.rewards.Set(id, e.rewardConfig(network))
	e.enqueue(network, id)

	e.emit(Event{Kind: EventTaskCreated, TaskID: ptr(id)})
	e.logger.Debug("Task created",
		zap.Uint64("task_id", uint64(id)),
		zap.Uint16("network", uint16(network)),
		zap.String("function", string(fn.Kind())),
		zap.Uint16("shard_size", shardSize),
		zap.String("funder", funder.Kind.String()))

	return id, nil
}

// spawnTask creates a protocol task paid by inflation. It does not need an
// online shard and waits in the queue until one can take it.
func (e *Engine) spawnTask(network models.Network, fn models.Function, shardSize uint16, start uint64) (models.TaskID, error) {
	return e.createTask(network, fn, shardSize, start, math.ZeroInt(), InflationFunder())
}

// pullStake splits amount evenly across the shard members, rounding each
// share up, and moves it from their stake into the task escrow
func (e *Engine) pullStake(id models.TaskID, shard models.ShardID, amount math.Int) error {
	members := e.shards.ShardMembers(shard)
	if len(members) == 0 {
		return ErrUnknownShard
	}

	n := math.NewInt(int64(len(members)))
	share := amount.Add(n).Sub(math.OneInt()).Quo(n)

	for _, m := range members {
		if e.balanceOf(e.stake, m).LT(share) {
			return fmt.Errorf("%w: member %s", ErrInsufficientStake, m)
		}
	}
	for _, m := range members {
		e.stake.Set(m, e.balanceOf(e.stake, m).Sub(share))
	}
	e.escrow.Set(id, share.Mul(n))
	return nil
}

// pay moves up to amount from the task escrow to acct
func (e *Engine) pay(id models.TaskID, acct models.AccountID, amount math.Int) math.Int {
	if amount.IsNil() || !amount.IsPositive() {
		return math.ZeroInt()
	}
	amount = math.MinInt(amount, e.escrowOf(id))
	if amount.IsZero() {
		return amount
	}
	e.escrow.Set(id, e.escrowOf(id).Sub(amount))
	e.balances.Set(acct, e.balanceOf(e.balances, acct).Add(amount))
	return amount
}

// Fund credits a free balance. Used for genesis and tests.
func (e *Engine) Fund(acct models.AccountID, amount math.Int) error {
	return e.commit(func() error {
		if amount.IsNil() || amount.IsNegative() {
			return ErrInvalidAmount
		}
		e.balances.Set(acct, e.balanceOf(e.balances, acct).Add(amount))
		return nil
	})
}

// Bond credits bonded stake. Used for genesis and tests.
func (e *Engine) Bond(acct models.AccountID, amount math.Int) error {
	return e.commit(func() error {
		if amount.IsNil() || amount.IsNegative() {
			return ErrInvalidAmount
		}
		e.stake.Set(acct, e.balanceOf(e.stake, acct).Add(amount))
		return nil
	})
}
