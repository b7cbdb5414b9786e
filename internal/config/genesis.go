package config

import (
	"fmt"
	"os"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"tasknode/internal/models"
)

// Genesis describes the initial state of a development network
type Genesis struct {
	Shards   []GenesisShard    `yaml:"shards"`
	Balances map[string]string `yaml:"balances"`
	Stake    map[string]string `yaml:"stake"`
	Gateways []GenesisGateway  `yaml:"gateways"`
}

// GenesisShard is a shard with its signing secret. The group key is
// derived from TSSSecret.
type GenesisShard struct {
	ID        uint64   `yaml:"id"`
	Network   uint16   `yaml:"network"`
	Members   []string `yaml:"members"`
	TSSSecret string   `yaml:"tss_secret"`
	Online    bool     `yaml:"online"`
}

// GenesisGateway registers a gateway through a bootstrap shard
type GenesisGateway struct {
	Bootstrap uint64 `yaml:"bootstrap"`
	Address   string `yaml:"address"`
	Height    uint64 `yaml:"height"`
}

// LoadGenesis reads and validates a genesis file
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read genesis file: %w", err)
	}
	return ParseGenesis(data)
}

// ParseGenesis decodes and validates a YAML genesis document
func ParseGenesis(data []byte) (*Genesis, error) {
	var g Genesis
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to parse genesis: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis: %w", err)
	}
	return &g, nil
}

// Validate checks shard ids, member and amount encodings
func (g *Genesis) Validate() error {
	seen := make(map[uint64]bool, len(g.Shards))
	for _, s := range g.Shards {
		if seen[s.ID] {
			return fmt.Errorf("duplicate shard %d", s.ID)
		}
		seen[s.ID] = true
		if _, err := s.MemberIDs(); err != nil {
			return err
		}
		if s.TSSSecret == "" {
			return fmt.Errorf("shard %d has no tss_secret", s.ID)
		}
	}

	if _, err := ParseAmounts(g.Balances); err != nil {
		return fmt.Errorf("balances: %w", err)
	}
	if _, err := ParseAmounts(g.Stake); err != nil {
		return fmt.Errorf("stake: %w", err)
	}

	for _, gw := range g.Gateways {
		if !seen[gw.Bootstrap] {
			return fmt.Errorf("gateway %s references unknown shard %d", gw.Address, gw.Bootstrap)
		}
		if !common.IsHexAddress(gw.Address) {
			return fmt.Errorf("invalid gateway address %q", gw.Address)
		}
	}
	return nil
}

// MemberIDs decodes the member accounts of the shard
func (s GenesisShard) MemberIDs() ([]models.AccountID, error) {
	if len(s.Members) == 0 {
		return nil, fmt.Errorf("shard %d has no members", s.ID)
	}
	ids := make([]models.AccountID, 0, len(s.Members))
	for _, m := range s.Members {
		id, err := models.ParseAccountID(m)
		if err != nil {
			return nil, fmt.Errorf("shard %d member %q: %w", s.ID, m, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ParseAmounts decodes an account to amount table
func ParseAmounts(in map[string]string) (map[models.AccountID]math.Int, error) {
	out := make(map[models.AccountID]math.Int, len(in))
	for acct, raw := range in {
		id, err := models.ParseAccountID(acct)
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", acct, err)
		}
		amount, ok := math.NewIntFromString(raw)
		if !ok || amount.IsNegative() {
			return nil, fmt.Errorf("invalid amount %q for %s", raw, acct)
		}
		out[id] = amount
	}
	return out, nil
}
