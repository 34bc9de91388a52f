// Package config defines the on-disk pool-set configuration of a node and
// its versioned migration path.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilpool/veilpool-node/log"
	"github.com/veilpool/veilpool-node/types"
)

// CurrentVersion is the configuration schema version this build writes.
const CurrentVersion = 2

// Config is the pool-set configuration.
type Config struct {
	Version int            `json:"version"`
	Admin   common.Address `json:"admin"`
	Pools   []types.Pool   `json:"pools"`
}

// Load reads a configuration file and migrates it to the current version if
// it carries an older schema.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	// Probe the version before binding to a schema.
	var probe struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	var cfg *Config
	switch probe.Version {
	case 0, 1:
		old := new(configV1)
		if err := json.Unmarshal(data, old); err != nil {
			return nil, fmt.Errorf("parse v1 config %s: %w", path, err)
		}
		cfg = migrateV1(old)
		log.Infow("migrated configuration", "path", path, "from", probe.Version, "to", CurrentVersion)
	case CurrentVersion:
		cfg = new(Config)
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("config %s: unsupported version %d", path, probe.Version)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to path in the current schema.
func (c *Config) Save(path string) error {
	c.Version = CurrentVersion
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks the pool set for internal consistency.
func (c *Config) Validate() error {
	if len(c.Pools) == 0 {
		return fmt.Errorf("no pools configured")
	}
	seen := make(map[types.PoolID]bool, len(c.Pools))
	for i := range c.Pools {
		p := &c.Pools[i]
		if p.ID == "" {
			return fmt.Errorf("pool %d: empty ID", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate pool ID %s", p.ID)
		}
		seen[p.ID] = true
		if p.Denomination == nil || p.Denomination.Sign() <= 0 {
			return fmt.Errorf("pool %s: denomination must be positive", p.ID)
		}
		if p.TreeHeight <= 0 {
			return fmt.Errorf("pool %s: tree height must be positive", p.ID)
		}
		if p.RootHistory <= 0 {
			return fmt.Errorf("pool %s: root history must be positive", p.ID)
		}
		if p.FeeBps >= 10000 {
			return fmt.Errorf("pool %s: fee of %d bps would consume the whole denomination", p.ID, p.FeeBps)
		}
	}
	return nil
}

// Default returns the built-in pool set: three native-asset pools at
// increasing denominations, deposits enabled and ungated.
func Default(admin common.Address) *Config {
	denom := func(s string) *types.BigInt {
		d, _ := new(types.BigInt).SetString(s, 10)
		return d
	}
	pool := func(id types.PoolID, denomination string) types.Pool {
		return types.Pool{
			ID:           id,
			Asset:        types.AssetNative,
			Denomination: denom(denomination),
			Enabled:      true,
			TreeHeight:   20,
			RootHistory:  30,
			FeeRecipient: admin,
		}
	}
	return &Config{
		Version: CurrentVersion,
		Admin:   admin,
		Pools: []types.Pool{
			pool("native-0.1", "100000000000000000"),
			pool("native-1", "1000000000000000000"),
			pool("native-10", "10000000000000000000"),
		},
	}
}
