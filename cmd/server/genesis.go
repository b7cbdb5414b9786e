package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"tasknode/internal/config"
	"tasknode/internal/models"
	"tasknode/internal/shards"
	"tasknode/internal/tasks"
	"tasknode/internal/tss"
)

// applyGenesis loads shards, signing keys, balances and gateways into a
// fresh node. Shards marked online are brought up after funding so their
// registration tasks can be paid for.
func applyGenesis(
	g *config.Genesis,
	registry *shards.Registry,
	engine *tasks.Engine,
	signer *tss.Signer,
	logger *zap.Logger,
) error {
	for _, s := range g.Shards {
		id := models.ShardID(s.ID)
		if err := signer.AddKey(id, s.TSSSecret); err != nil {
			return fmt.Errorf("shard %d: %w", s.ID, err)
		}
		pub, _ := signer.PublicKey(id)
		members, err := s.MemberIDs()
		if err != nil {
			return err
		}
		if err := registry.Add(shards.Shard{
			ID:        id,
			Network:   models.Network(s.Network),
			Members:   members,
			PublicKey: pub,
		}); err != nil {
			return err
		}
	}

	balances, err := config.ParseAmounts(g.Balances)
	if err != nil {
		return fmt.Errorf("balances: %w", err)
	}
	for acct, amount := range balances {
		if err := engine.Fund(acct, amount); err != nil {
			return fmt.Errorf("fund %s: %w", acct, err)
		}
	}

	stake, err := config.ParseAmounts(g.Stake)
	if err != nil {
		return fmt.Errorf("stake: %w", err)
	}
	for acct, amount := range stake {
		if err := engine.Bond(acct, amount); err != nil {
			return fmt.Errorf("bond %s: %w", acct, err)
		}
	}

	for _, s := range g.Shards {
		if !s.Online {
			continue
		}
		if err := registry.SetOnline(models.ShardID(s.ID)); err != nil {
			return err
		}
	}

	for _, gw := range g.Gateways {
		address := common.HexToAddress(gw.Address)
		if err := engine.RegisterGateway(models.ShardID(gw.Bootstrap), address, gw.Height); err != nil {
			return fmt.Errorf("gateway %s: %w", gw.Address, err)
		}
	}

	logger.Info("Genesis applied",
		zap.Int("shards", len(g.Shards)),
		zap.Int("funded_accounts", len(balances)),
		zap.Int("gateways", len(g.Gateways)))
	return nil
}
