package service

import (
	"fmt"

	"cosmossdk.io/math"
	"go.uber.org/zap"

	"tasknode/internal/config"
	"tasknode/internal/models"
)

// FundingQuoter is the engine view used for fee quotes
type FundingQuoter interface {
	RequiredFunds(network models.Network, fn models.Function, shardSize uint16) math.Int
	GetNetworkParams(network models.Network) (uint32, models.RewardConfig, models.BatchConfig)
}

// FeeService quotes the escrow a task needs
type FeeService struct {
	cfg    *config.Config
	engine FundingQuoter
	logger *zap.Logger
}

// NewFeeService creates a new fee service
func NewFeeService(cfg *config.Config, engine FundingQuoter, logger *zap.Logger) *FeeService {
	return &FeeService{
		cfg:    cfg,
		engine: engine,
		logger: logger,
	}
}

// FeeCalculation holds the funding quote for a task
type FeeCalculation struct {
	InitialPhase  models.Phase
	RequiredFunds math.Int
	Rewards       models.RewardConfig
}

// CalculateTaskFee returns the minimum escrow for running fn on network
// with a shard of shardSize members. The quote reflects the current
// network parameters; a later parameter change can move it.
func (s *FeeService) CalculateTaskFee(network models.Network, fn models.Function, shardSize uint16) (*FeeCalculation, error) {
	if _, ok := s.cfg.Networks[network]; !ok {
		return nil, fmt.Errorf("network %d not configured", network)
	}
	if fn == nil {
		return nil, fmt.Errorf("function is required")
	}
	if shardSize == 0 {
		return nil, fmt.Errorf("shard size must be positive")
	}

	required := s.engine.RequiredFunds(network, fn, shardSize)
	_, rewards, _ := s.engine.GetNetworkParams(network)

	s.logger.Debug("Calculated task fee",
		zap.Uint16("network", uint16(network)),
		zap.String("function", string(fn.Kind())),
		zap.Uint16("shard_size", shardSize),
		zap.String("required_funds", required.String()))

	return &FeeCalculation{
		InitialPhase:  models.InitialPhase(fn),
		RequiredFunds: required,
		Rewards:       rewards,
	}, nil
}

// ValidateFunds checks that funds cover the quote for a task
func (s *FeeService) ValidateFunds(network models.Network, fn models.Function, shardSize uint16, funds math.Int) error {
	quote, err := s.CalculateTaskFee(network, fn, shardSize)
	if err != nil {
		return err
	}

	if funds.LT(quote.RequiredFunds) {
		return fmt.Errorf("funds %s are below the required %s for network %d",
			funds, quote.RequiredFunds, network)
	}

	return nil
}
